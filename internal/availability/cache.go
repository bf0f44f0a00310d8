package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SummaryCache keeps trip-wide availability summaries in redis under
// versioned keys. Invalidation bumps the trip's version instead of deleting
// entries, so stale readers never see a half-written value.
type SummaryCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewSummaryCache constructs SummaryCache. A nil client disables caching.
func NewSummaryCache(client *redis.Client, ttl time.Duration) *SummaryCache {
	return &SummaryCache{client: client, ttl: ttl}
}

func (c *SummaryCache) versionKey(tripID int64) string {
	return fmt.Sprintf("availability:summary:%d:version", tripID)
}

func (c *SummaryCache) version(ctx context.Context, tripID int64) (int64, error) {
	ver, err := c.client.Get(ctx, c.versionKey(tripID)).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, c.versionKey(tripID), 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
	}
	return ver, nil
}

func (c *SummaryCache) dataKey(tripID, version int64) string {
	return fmt.Sprintf("availability:summary:%d:v%d", tripID, version)
}

// Get returns the cached summary when present.
func (c *SummaryCache) Get(ctx context.Context, tripID int64) (*TripSummary, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	ver, err := c.version(ctx, tripID)
	if err != nil {
		return nil, false, err
	}
	payload, err := c.client.Get(ctx, c.dataKey(tripID, ver)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var summary TripSummary
	if err := json.Unmarshal(payload, &summary); err != nil {
		return nil, false, nil
	}
	return &summary, true, nil
}

// Set stores the summary under the current version.
func (c *SummaryCache) Set(ctx context.Context, summary *TripSummary) error {
	if c == nil || c.client == nil || summary == nil {
		return nil
	}
	ver, err := c.version(ctx, summary.TripID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.dataKey(summary.TripID, ver), payload, c.ttl).Err()
}

// Invalidate bumps the trip's cache version.
func (c *SummaryCache) Invalidate(ctx context.Context, tripID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, c.versionKey(tripID)).Err()
}
