package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/harborline/harborline/internal/availability"
	jobmetrics "github.com/harborline/harborline/internal/jobs"
	"github.com/harborline/harborline/internal/shared"
)

// warmupLockTTL bounds how long a trip stays claimed by one worker.
const warmupLockTTL = time.Minute

// SummaryWarmupJob pre-populates the trip availability summary cache for
// departures within the configured horizon, so the first dashboard hit after
// an invalidation does not pay the aggregation query. A short redis lock per
// trip keeps concurrent workers from warming the same trip twice.
type SummaryWarmupJob struct {
	Availability *availability.Service
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	Logger       *slog.Logger
	Metrics      *jobmetrics.Metrics
	clock        func() time.Time
}

// NewSummaryWarmupJob wires dependencies for the warmup handler. The redis
// client is optional; without it trips are warmed unconditionally.
func NewSummaryWarmupJob(availabilitySvc *availability.Service, pool *pgxpool.Pool, redisClient *redis.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryWarmupJob {
	return &SummaryWarmupJob{
		Availability: availabilitySvc,
		Pool:         pool,
		Redis:        redisClient,
		Logger:       logger,
		Metrics:      metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle warms the summary cache for every upcoming trip.
func (j *SummaryWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("summary warmup: handler not configured")
	}
	if j.Pool == nil || j.Availability == nil {
		return errors.New("summary warmup: dependencies not configured")
	}
	var payload SummaryWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.HorizonDays <= 0 {
		payload.HorizonDays = 14
	}

	tracker := j.metrics().Track(TaskSummaryWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	now := j.now()
	logger := j.logger().With(slog.Int("horizon_days", payload.HorizonDays))
	logger.Info("starting summary warmup")

	rows, err := j.Pool.Query(ctx, `SELECT id, company_id FROM trips
WHERE is_deleted = FALSE AND departs_at >= $1 AND departs_at < $2
ORDER BY departs_at`, now, now.AddDate(0, 0, payload.HorizonDays))
	if err != nil {
		resultErr = err
		logger.Error("load upcoming trips", slog.Any("error", err))
		return resultErr
	}
	defer rows.Close()

	type scope struct{ tripID, companyID int64 }
	scopes := []scope{}
	for rows.Next() {
		var s scope
		if err := rows.Scan(&s.tripID, &s.companyID); err != nil {
			resultErr = err
			return resultErr
		}
		scopes = append(scopes, s)
	}
	if err := rows.Err(); err != nil {
		resultErr = err
		return resultErr
	}

	warmed := 0
	for _, s := range scopes {
		if !j.claimTrip(ctx, s.tripID) {
			continue
		}
		if _, err := j.Availability.TripSummary(ctx, s.companyID, s.tripID); err != nil {
			resultErr = err
			logger.Error("warm trip summary", slog.Int64("trip", s.tripID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed summary warmup",
		slog.Int("trips", warmed),
		slog.Duration("duration", time.Since(now)),
	)
	return resultErr
}

// claimTrip takes the short-lived warmup lock. Redis errors fall back to
// warming the trip; the lock is an optimisation, not a correctness guard.
func (j *SummaryWarmupJob) claimTrip(ctx context.Context, tripID int64) bool {
	if j.Redis == nil {
		return true
	}
	ok, err := j.Redis.SetNX(ctx, shared.TripLockKey(tripID), "warmup", warmupLockTTL).Result()
	if err != nil {
		return true
	}
	return ok
}

func (j *SummaryWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *SummaryWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *SummaryWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
