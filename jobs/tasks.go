// Package jobs contains the asynchronous workloads of the capacity engine:
// the nightly integrity scan over the capacity counters and the summary
// cache warmup for upcoming departures.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCapacityIntegrityScan cross-checks every stored capacity counter
	// against its cabin-level breakdown.
	TaskCapacityIntegrityScan = "capacity:integrity-scan"
	// TaskSummaryWarmup pre-populates availability summary caches for
	// upcoming departures.
	TaskSummaryWarmup = "capacity:summary-warmup"
)

// IntegrityScanPayload carries scheduling metadata for the integrity scan.
type IntegrityScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewIntegrityScanTask constructs an Asynq task for the integrity scan.
func NewIntegrityScanTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(IntegrityScanPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCapacityIntegrityScan, body, asynq.Queue(QueueDefault)), nil
}

// SummaryWarmupPayload bounds the warmup to departures within the horizon.
type SummaryWarmupPayload struct {
	HorizonDays int `json:"horizon_days"`
}

// NewSummaryWarmupTask constructs an Asynq task for the summary warmup.
func NewSummaryWarmupTask(horizonDays int) (*asynq.Task, error) {
	body, err := json.Marshal(SummaryWarmupPayload{HorizonDays: horizonDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSummaryWarmup, body, asynq.Queue(QueueDefault)), nil
}
