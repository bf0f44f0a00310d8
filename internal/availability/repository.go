package availability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/shared"
	"github.com/harborline/harborline/internal/trips"
)

// Repository persists availability blocks in PostgreSQL.
type Repository struct {
	pool  *pgxpool.Pool
	trips *trips.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, trips: trips.NewRepository(pool)}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs the callback inside a repeatable-read transaction. All capacity
// mutations of this module go through here.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("availability repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Get loads one non-deleted block with its cabin lines.
func (r *Repository) Get(ctx context.Context, tripID, availabilityID int64) (*Availability, error) {
	return loadAvailability(ctx, r.pool, tripID, availabilityID, false)
}

// GetTrip loads a trip with its mirror, read-only.
func (r *Repository) GetTrip(ctx context.Context, companyID, tripID int64) (*trips.Trip, error) {
	return r.trips.Get(ctx, companyID, tripID)
}

// SumByType returns, per type, [total seats, allocated seats] across all
// non-deleted blocks of a trip.
func (r *Repository) SumByType(ctx context.Context, tripID int64) (map[fleet.SeatType][2]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.seat_type, COALESCE(SUM(c.seats),0), COALESCE(SUM(c.allocated_seats),0)
FROM trip_availabilities a
JOIN trip_availability_cabins c ON c.availability_id = a.id
WHERE a.trip_id=$1 AND a.is_deleted=FALSE
GROUP BY a.seat_type`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sums := map[fleet.SeatType][2]int{}
	for rows.Next() {
		var seatType fleet.SeatType
		var total, allocated int
		if err := rows.Scan(&seatType, &total, &allocated); err != nil {
			return nil, err
		}
		sums[seatType] = [2]int{total, allocated}
	}
	return sums, rows.Err()
}

func (r *txRepository) GetTripForUpdate(ctx context.Context, companyID, tripID int64) (*trips.Trip, error) {
	return trips.LoadForUpdate(ctx, r.tx, companyID, tripID)
}

func (r *txRepository) GetForUpdate(ctx context.Context, tripID, availabilityID int64) (*Availability, error) {
	return loadAvailability(ctx, r.tx, tripID, availabilityID, true)
}

func (r *txRepository) Insert(ctx context.Context, av *Availability) (int64, error) {
	createdBy, err := json.Marshal(av.CreatedBy)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO trip_availabilities
(ref_code, trip_id, seat_type, allocated_agent_id, created_by, updated_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5,NOW(),NOW()) RETURNING id`,
		av.RefCode, av.TripID, av.Type, av.AllocatedAgentID, createdBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	for _, c := range av.Cabins {
		if _, err := r.tx.Exec(ctx, `INSERT INTO trip_availability_cabins
(availability_id, cabin_id, seats, allocated_seats) VALUES ($1,$2,$3,$4)`,
			id, c.CabinID, c.Seats, c.AllocatedSeats); err != nil {
			return 0, err
		}
	}
	return id, nil
}

func (r *txRepository) ReplaceCabins(ctx context.Context, availabilityID int64, cabins []CabinBlock, agentID *int64, actor shared.Actor) error {
	updatedBy, err := json.Marshal(actor)
	if err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `UPDATE trip_availabilities
SET allocated_agent_id=$1, updated_by=$2, updated_at=NOW() WHERE id=$3`,
		agentID, updatedBy, availabilityID); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM trip_availability_cabins WHERE availability_id=$1`, availabilityID); err != nil {
		return err
	}
	for _, c := range cabins {
		if _, err := r.tx.Exec(ctx, `INSERT INTO trip_availability_cabins
(availability_id, cabin_id, seats, allocated_seats) VALUES ($1,$2,$3,$4)`,
			availabilityID, c.CabinID, c.Seats, c.AllocatedSeats); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) MarkDeleted(ctx context.Context, availabilityID int64, actor shared.Actor) error {
	updatedBy, err := json.Marshal(actor)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE trip_availabilities
SET is_deleted=TRUE, updated_by=$1, updated_at=NOW() WHERE id=$2`, updatedBy, availabilityID)
	return err
}

func (r *txRepository) ApplyTripDelta(ctx context.Context, tripID int64, seatType fleet.SeatType, cabinDeltas map[int64]int, totalDelta int, actor shared.Actor) error {
	return trips.ApplyCapacityDelta(ctx, r.tx, tripID, seatType, cabinDeltas, totalDelta, actor)
}

// LoadForUpdate locks and loads one non-deleted block inside an existing
// transaction. Other capacity modules use it to work under the same lock
// discipline as this one: trip row first, then the block.
func LoadForUpdate(ctx context.Context, tx pgx.Tx, tripID, availabilityID int64) (*Availability, error) {
	return loadAvailability(ctx, tx, tripID, availabilityID, true)
}

// AdjustAllocated applies per-cabin allocated_seats deltas to a block's
// lines inside an existing transaction. The WHERE clause keeps every counter
// within [0, seats]; a zero row count means a delta would have breached
// those bounds.
func AdjustAllocated(ctx context.Context, tx pgx.Tx, availabilityID int64, deltas map[int64]int, actor shared.Actor) error {
	for cabinID, delta := range deltas {
		tag, err := tx.Exec(ctx, `UPDATE trip_availability_cabins
SET allocated_seats = allocated_seats + $1
WHERE availability_id=$2 AND cabin_id=$3
AND allocated_seats + $1 >= 0 AND allocated_seats + $1 <= seats`,
			delta, availabilityID, cabinID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("allocated seats adjustment of %+d rejected for availability %d cabin %d", delta, availabilityID, cabinID)
		}
	}
	updatedBy, err := json.Marshal(actor)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE trip_availabilities
SET updated_by=$1, updated_at=NOW() WHERE id=$2`, updatedBy, availabilityID)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadAvailability(ctx context.Context, q querier, tripID, availabilityID int64, forUpdate bool) (*Availability, error) {
	query := `SELECT id, ref_code, trip_id, seat_type, allocated_agent_id, is_deleted,
created_by, updated_by, created_at, updated_at
FROM trip_availabilities WHERE id=$1 AND trip_id=$2 AND is_deleted=FALSE`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var av Availability
	var createdBy, updatedBy []byte
	err := q.QueryRow(ctx, query, availabilityID, tripID).Scan(
		&av.ID, &av.RefCode, &av.TripID, &av.Type, &av.AllocatedAgentID, &av.IsDeleted,
		&createdBy, &updatedBy, &av.CreatedAt, &av.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w %d", ErrNotFound, availabilityID)
		}
		return nil, err
	}
	_ = json.Unmarshal(createdBy, &av.CreatedBy)
	_ = json.Unmarshal(updatedBy, &av.UpdatedBy)

	rows, err := q.Query(ctx, `SELECT cabin_id, seats, allocated_seats
FROM trip_availability_cabins WHERE availability_id=$1 ORDER BY cabin_id`, av.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c CabinBlock
		if err := rows.Scan(&c.CabinID, &c.Seats, &c.AllocatedSeats); err != nil {
			return nil, err
		}
		av.Cabins = append(av.Cabins, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &av, nil
}
