package allocations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborline/harborline/internal/availability"
	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/shared"
	"github.com/harborline/harborline/internal/trips"
)

// Repository persists agent allocations in PostgreSQL.
type Repository struct {
	pool         *pgxpool.Pool
	trips        *trips.Repository
	availability *availability.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:         pool,
		trips:        trips.NewRepository(pool),
		availability: availability.NewRepository(pool),
	}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("allocations repository not initialised")
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

// Get loads one non-deleted allocation with its grant lines.
func (r *Repository) Get(ctx context.Context, availabilityID, allocationID int64) (*Allocation, error) {
	return loadAllocation(ctx, r.pool, availabilityID, allocationID, false)
}

// List pages through a block's active allocations, newest first.
func (r *Repository) List(ctx context.Context, availabilityID int64, limit, offset int) ([]Allocation, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM availability_agent_allocations
WHERE availability_id=$1 AND is_deleted=FALSE`, availabilityID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx, `SELECT id, ref_code, trip_id, availability_id, agent_id, is_deleted,
created_by, updated_by, created_at, updated_at
FROM availability_agent_allocations
WHERE availability_id=$1 AND is_deleted=FALSE
ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`, availabilityID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	allocs := []Allocation{}
	ids := []int64{}
	for rows.Next() {
		alloc, err := scanAllocation(rows)
		if err != nil {
			return nil, 0, err
		}
		allocs = append(allocs, *alloc)
		ids = append(ids, alloc.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return allocs, total, nil
	}

	lines, err := loadGrantLines(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range allocs {
		allocs[i].Allocations = lines[allocs[i].ID]
	}
	return allocs, total, nil
}

// AgentTotals derives the coarse per-agent seat totals of a trip from the
// cabin-level grant records.
func (r *Repository) AgentTotals(ctx context.Context, tripID int64) ([]AgentTotal, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.agent_id, ag.name, c.seat_type, COALESCE(SUM(c.allocated_seats),0)
FROM availability_agent_allocations a
JOIN allocation_cabins c ON c.allocation_id = a.id
JOIN agents ag ON ag.id = a.agent_id
WHERE a.trip_id=$1 AND a.is_deleted=FALSE
GROUP BY a.agent_id, ag.name, c.seat_type
ORDER BY a.agent_id, c.seat_type`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := []AgentTotal{}
	for rows.Next() {
		var t AgentTotal
		if err := rows.Scan(&t.AgentID, &t.AgentName, &t.Type, &t.TotalAllocatedSeats); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// GetTrip loads a trip with its mirror, read-only.
func (r *Repository) GetTrip(ctx context.Context, companyID, tripID int64) (*trips.Trip, error) {
	return r.trips.Get(ctx, companyID, tripID)
}

// GetAvailability loads a block with its cabin lines, read-only.
func (r *Repository) GetAvailability(ctx context.Context, tripID, availabilityID int64) (*availability.Availability, error) {
	return r.availability.Get(ctx, tripID, availabilityID)
}

// GetAvailabilityForUpdate locks the trip row first, which both enforces the
// company scope and keeps the lock ordering shared with the availability
// module, then locks and loads the block.
func (r *txRepository) GetAvailabilityForUpdate(ctx context.Context, companyID, tripID, availabilityID int64) (*availability.Availability, error) {
	if _, err := trips.LoadForUpdate(ctx, r.tx, companyID, tripID); err != nil {
		return nil, err
	}
	return availability.LoadForUpdate(ctx, r.tx, tripID, availabilityID)
}

func (r *txRepository) GetForUpdate(ctx context.Context, availabilityID, allocationID int64) (*Allocation, error) {
	return loadAllocation(ctx, r.tx, availabilityID, allocationID, true)
}

func (r *txRepository) Insert(ctx context.Context, alloc *Allocation) (int64, error) {
	createdBy, err := json.Marshal(alloc.CreatedBy)
	if err != nil {
		return 0, err
	}
	var id int64
	err = r.tx.QueryRow(ctx, `INSERT INTO availability_agent_allocations
(ref_code, trip_id, availability_id, agent_id, created_by, updated_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$5,NOW(),NOW()) RETURNING id`,
		alloc.RefCode, alloc.TripID, alloc.AvailabilityID, alloc.AgentID, createdBy).Scan(&id)
	if err != nil {
		return 0, err
	}
	if err := insertGrantLines(ctx, r.tx, id, alloc.Allocations); err != nil {
		return 0, err
	}
	return id, nil
}

func (r *txRepository) ReplaceGrants(ctx context.Context, allocationID int64, allocations []TypeAllocation, actor shared.Actor) error {
	updatedBy, err := json.Marshal(actor)
	if err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `UPDATE availability_agent_allocations
SET updated_by=$1, updated_at=NOW() WHERE id=$2`, updatedBy, allocationID); err != nil {
		return err
	}
	if _, err := r.tx.Exec(ctx, `DELETE FROM allocation_cabins WHERE allocation_id=$1`, allocationID); err != nil {
		return err
	}
	return insertGrantLines(ctx, r.tx, allocationID, allocations)
}

func (r *txRepository) MarkDeleted(ctx context.Context, allocationID int64, actor shared.Actor) error {
	updatedBy, err := json.Marshal(actor)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE availability_agent_allocations
SET is_deleted=TRUE, updated_by=$1, updated_at=NOW() WHERE id=$2`, updatedBy, allocationID)
	return err
}

func (r *txRepository) AdjustBlockAllocated(ctx context.Context, availabilityID int64, deltas map[int64]int, actor shared.Actor) error {
	return availability.AdjustAllocated(ctx, r.tx, availabilityID, deltas, actor)
}

func insertGrantLines(ctx context.Context, tx pgx.Tx, allocationID int64, allocations []TypeAllocation) error {
	for _, ta := range allocations {
		for _, c := range ta.Cabins {
			if _, err := tx.Exec(ctx, `INSERT INTO allocation_cabins
(allocation_id, seat_type, cabin_id, allocated_seats) VALUES ($1,$2,$3,$4)`,
				allocationID, ta.Type, c.CabinID, c.AllocatedSeats); err != nil {
				return err
			}
		}
	}
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func loadAllocation(ctx context.Context, q querier, availabilityID, allocationID int64, forUpdate bool) (*Allocation, error) {
	query := `SELECT id, ref_code, trip_id, availability_id, agent_id, is_deleted,
created_by, updated_by, created_at, updated_at
FROM availability_agent_allocations
WHERE id=$1 AND availability_id=$2 AND is_deleted=FALSE`
	if forUpdate {
		query += " FOR UPDATE"
	}
	alloc, err := scanAllocation(q.QueryRow(ctx, query, allocationID, availabilityID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w %d", ErrNotFound, allocationID)
		}
		return nil, err
	}

	lines, err := loadGrantLines(ctx, q, []int64{alloc.ID})
	if err != nil {
		return nil, err
	}
	alloc.Allocations = lines[alloc.ID]
	return alloc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAllocation(row rowScanner) (*Allocation, error) {
	var alloc Allocation
	var createdBy, updatedBy []byte
	err := row.Scan(&alloc.ID, &alloc.RefCode, &alloc.TripID, &alloc.AvailabilityID, &alloc.AgentID,
		&alloc.IsDeleted, &createdBy, &updatedBy, &alloc.CreatedAt, &alloc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(createdBy, &alloc.CreatedBy)
	_ = json.Unmarshal(updatedBy, &alloc.UpdatedBy)
	return &alloc, nil
}

func loadGrantLines(ctx context.Context, q querier, allocationIDs []int64) (map[int64][]TypeAllocation, error) {
	rows, err := q.Query(ctx, `SELECT allocation_id, seat_type, cabin_id, allocated_seats
FROM allocation_cabins WHERE allocation_id = ANY($1) ORDER BY allocation_id, seat_type, cabin_id`, allocationIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := map[int64][]TypeAllocation{}
	for rows.Next() {
		var allocationID, cabinID int64
		var seatType fleet.SeatType
		var seats int
		if err := rows.Scan(&allocationID, &seatType, &cabinID, &seats); err != nil {
			return nil, err
		}
		grouped := lines[allocationID]
		if len(grouped) == 0 || grouped[len(grouped)-1].Type != seatType {
			grouped = append(grouped, TypeAllocation{Type: seatType})
		}
		last := &grouped[len(grouped)-1]
		last.Cabins = append(last.Cabins, CabinGrant{CabinID: cabinID, AllocatedSeats: seats})
		last.TotalAllocatedSeats += seats
		lines[allocationID] = grouped
	}
	return lines, rows.Err()
}
