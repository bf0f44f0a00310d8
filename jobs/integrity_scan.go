package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/harborline/harborline/internal/jobs"
	"github.com/harborline/harborline/internal/shared"
)

// keyRetention is how long processed idempotency keys are kept before the
// nightly scan sweeps them.
const keyRetention = 48 * time.Hour

// IntegrityScanJob cross-checks the redundant capacity counters against
// their cabin-level breakdowns. It only reports: a drifted row is logged and
// gauged, never repaired, since the fix depends on which side is wrong.
// It also sweeps expired idempotency keys while it holds the nightly slot.
type IntegrityScanJob struct {
	Pool        *pgxpool.Pool
	Idempotency *shared.IdempotencyStore
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	clock       func() time.Time
}

// NewIntegrityScanJob wires dependencies for the integrity scan handler.
func NewIntegrityScanJob(pool *pgxpool.Pool, idem *shared.IdempotencyStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *IntegrityScanJob {
	return &IntegrityScanJob{
		Pool:        pool,
		Idempotency: idem,
		Logger:      logger,
		Metrics:     metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type driftCheck struct {
	name  string
	query string
	// column labels for the WARN log, matched to the query's select list
	// after the leading identifier columns
	labels []string
}

// The four invariants of the capacity model, as SQL. Each query returns only
// the rows that violate its invariant.
var driftChecks = []driftCheck{
	{
		name: "trip_aggregate",
		query: `SELECT t.id, d.seat_type::text, 'all'::text,
CASE d.seat_type
 WHEN 'passenger' THEN t.remaining_passenger_seats
 WHEN 'cargo' THEN t.remaining_cargo_seats
 ELSE t.remaining_vehicle_seats
END AS aggregate,
SUM(d.remaining_seat) AS mirror_sum
FROM trips t
JOIN trip_capacity_details d ON d.trip_id = t.id
WHERE t.is_deleted = FALSE
GROUP BY t.id, d.seat_type
HAVING CASE d.seat_type
 WHEN 'passenger' THEN t.remaining_passenger_seats
 WHEN 'cargo' THEN t.remaining_cargo_seats
 ELSE t.remaining_vehicle_seats
END <> SUM(d.remaining_seat)`,
		labels: []string{"aggregate", "mirror_sum"},
	},
	{
		name: "conservation",
		query: `SELECT d.trip_id, d.seat_type::text, d.cabin_id::text, d.capacity,
d.remaining_seat + COALESCE(SUM(c.seats), 0) AS accounted
FROM trip_capacity_details d
LEFT JOIN trip_availabilities a ON a.trip_id = d.trip_id AND a.seat_type = d.seat_type AND a.is_deleted = FALSE
LEFT JOIN trip_availability_cabins c ON c.availability_id = a.id AND c.cabin_id = d.cabin_id
GROUP BY d.trip_id, d.seat_type, d.cabin_id, d.capacity, d.remaining_seat
HAVING d.capacity <> d.remaining_seat + COALESCE(SUM(c.seats), 0)`,
		labels: []string{"capacity", "accounted"},
	},
	{
		name: "block_bounds",
		query: `SELECT a.trip_id, a.id::text, c.cabin_id::text, c.seats, c.allocated_seats
FROM trip_availability_cabins c
JOIN trip_availabilities a ON a.id = c.availability_id
WHERE a.is_deleted = FALSE AND (c.allocated_seats < 0 OR c.allocated_seats > c.seats)`,
		labels: []string{"seats", "allocated_seats"},
	},
	{
		name: "grant_ledger",
		query: `SELECT a.trip_id, c.availability_id::text, c.cabin_id::text, c.allocated_seats,
COALESCE(SUM(g.allocated_seats), 0) AS granted
FROM trip_availability_cabins c
JOIN trip_availabilities a ON a.id = c.availability_id AND a.is_deleted = FALSE
LEFT JOIN availability_agent_allocations al ON al.availability_id = c.availability_id AND al.is_deleted = FALSE
LEFT JOIN allocation_cabins g ON g.allocation_id = al.id AND g.cabin_id = c.cabin_id
GROUP BY a.trip_id, c.availability_id, c.cabin_id, c.allocated_seats
HAVING c.allocated_seats <> COALESCE(SUM(g.allocated_seats), 0)`,
		labels: []string{"allocated_seats", "granted"},
	},
}

// Handle runs every drift check and records the results.
func (j *IntegrityScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("integrity scan: handler not configured")
	}
	if j.Pool == nil {
		return errors.New("integrity scan: pool not configured")
	}
	var payload IntegrityScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCapacityIntegrityScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	logger := j.logger()
	logger.Info("starting capacity integrity scan")

	totalDrift := 0
	for _, check := range driftChecks {
		count, err := j.runCheck(ctx, logger, check)
		if err != nil {
			resultErr = err
			logger.Error("integrity check failed", slog.String("check", check.name), slog.Any("error", err))
			return resultErr
		}
		j.metrics().SetDrift(check.name, count)
		totalDrift += count
	}

	if j.Idempotency != nil {
		if err := j.Idempotency.Cleanup(ctx, keyRetention); err != nil {
			logger.Warn("sweep idempotency keys", slog.Any("error", err))
		}
	}

	logger.Info("completed capacity integrity scan",
		slog.Int("drifted_rows", totalDrift),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *IntegrityScanJob) runCheck(ctx context.Context, logger *slog.Logger, check driftCheck) (int, error) {
	rows, err := j.Pool.Query(ctx, check.query)
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var tripID int64
		var keyA, keyB string
		var expected, actual int64
		if err := rows.Scan(&tripID, &keyA, &keyB, &expected, &actual); err != nil {
			return 0, err
		}
		count++
		logger.Warn("capacity drift detected",
			slog.String("check", check.name),
			slog.Int64("trip", tripID),
			slog.String("scope", keyA+"/"+keyB),
			slog.Int64(check.labels[0], expected),
			slog.Int64(check.labels[1], actual),
		)
	}
	return count, rows.Err()
}

func (j *IntegrityScanJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return jobmetrics.NewMetrics(nil)
}

func (j *IntegrityScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *IntegrityScanJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
