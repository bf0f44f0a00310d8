package trips

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/platform/db"
	"github.com/harborline/harborline/internal/shared"
)

// Repository persists trips and their capacity mirror.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts the trip and its mirror rows in one transaction.
func (r *Repository) Create(ctx context.Context, trip *Trip) (int64, error) {
	createdBy, err := json.Marshal(trip.CreatedBy)
	if err != nil {
		return 0, err
	}
	var tripID int64
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `INSERT INTO trips
(company_id, ship_id, code, origin_port, destination_port, departs_at, arrives_at, status,
 remaining_passenger_seats, remaining_cargo_seats, remaining_vehicle_seats,
 created_by, updated_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12,NOW(),NOW()) RETURNING id`,
			trip.CompanyID, trip.ShipID, trip.Code, trip.OriginPort, trip.DestinationPort,
			trip.DepartsAt, trip.ArrivesAt, trip.Status,
			trip.RemainingPassengerSeats, trip.RemainingCargoSeats, trip.RemainingVehicleSeats,
			createdBy).Scan(&tripID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return fmt.Errorf("%w (%s)", ErrDuplicateCode, trip.Code)
			}
			return err
		}
		for _, seatType := range fleet.SeatTypes() {
			for _, detail := range trip.CapacityDetails.ForType(seatType) {
				if _, err := tx.Exec(ctx, `INSERT INTO trip_capacity_details
(trip_id, seat_type, cabin_id, capacity, remaining_seat) VALUES ($1,$2,$3,$4,$5)`,
					tripID, seatType, detail.CabinID, detail.Capacity, detail.RemainingSeat); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return tripID, nil
}

// Get loads a trip with its full capacity mirror.
func (r *Repository) Get(ctx context.Context, companyID, tripID int64) (*Trip, error) {
	trip, err := scanTrip(ctx, r.pool, companyID, tripID, false)
	if err != nil {
		return nil, err
	}
	if err := loadMirror(ctx, r.pool, trip); err != nil {
		return nil, err
	}
	return trip, nil
}

// List returns trips for a company, newest departure first.
func (r *Repository) List(ctx context.Context, req ListTripsRequest) ([]Trip, int, error) {
	where := "WHERE t.company_id = $1 AND t.is_deleted = FALSE"
	args := []any{req.CompanyID}
	if req.ShipID != nil {
		args = append(args, *req.ShipID)
		where += fmt.Sprintf(" AND t.ship_id = $%d", len(args))
	}
	if req.Status != nil {
		args = append(args, *req.Status)
		where += fmt.Sprintf(" AND t.status = $%d", len(args))
	}
	if req.DateFrom != nil {
		args = append(args, *req.DateFrom)
		where += fmt.Sprintf(" AND t.departs_at >= $%d", len(args))
	}
	if req.DateTo != nil {
		args = append(args, *req.DateTo)
		where += fmt.Sprintf(" AND t.departs_at <= $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM trips t "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := shared.NewPagination(req.Page, req.Limit, total)
	args = append(args, p.Limit, p.Offset())
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT t.id, t.company_id, t.ship_id, t.code,
t.origin_port, t.destination_port, t.departs_at, t.arrives_at, t.status,
t.remaining_passenger_seats, t.remaining_cargo_seats, t.remaining_vehicle_seats,
t.created_by, t.updated_by, t.created_at, t.updated_at
FROM trips t %s ORDER BY t.departs_at DESC, t.id DESC LIMIT $%d OFFSET $%d`,
		where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var result []Trip
	for rows.Next() {
		var trip Trip
		if err := scanTripRow(rows, &trip); err != nil {
			return nil, 0, err
		}
		result = append(result, trip)
	}
	return result, total, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTripRow(row rowScanner, trip *Trip) error {
	var createdBy, updatedBy []byte
	if err := row.Scan(&trip.ID, &trip.CompanyID, &trip.ShipID, &trip.Code,
		&trip.OriginPort, &trip.DestinationPort, &trip.DepartsAt, &trip.ArrivesAt, &trip.Status,
		&trip.RemainingPassengerSeats, &trip.RemainingCargoSeats, &trip.RemainingVehicleSeats,
		&createdBy, &updatedBy, &trip.CreatedAt, &trip.UpdatedAt); err != nil {
		return err
	}
	_ = json.Unmarshal(createdBy, &trip.CreatedBy)
	_ = json.Unmarshal(updatedBy, &trip.UpdatedBy)
	return nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// scanTrip loads one trip row, optionally locking it FOR UPDATE. It is shared
// with the availability and allocations tx repositories, which operate on the
// same tables inside their own transactions.
func scanTrip(ctx context.Context, q querier, companyID, tripID int64, forUpdate bool) (*Trip, error) {
	query := `SELECT t.id, t.company_id, t.ship_id, t.code,
t.origin_port, t.destination_port, t.departs_at, t.arrives_at, t.status,
t.remaining_passenger_seats, t.remaining_cargo_seats, t.remaining_vehicle_seats,
t.created_by, t.updated_by, t.created_at, t.updated_at
FROM trips t WHERE t.id=$1 AND t.company_id=$2 AND t.is_deleted=FALSE`
	if forUpdate {
		query += " FOR UPDATE"
	}
	var trip Trip
	if err := scanTripRow(q.QueryRow(ctx, query, tripID, companyID), &trip); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w %d", ErrNotFound, tripID)
		}
		return nil, err
	}
	return &trip, nil
}

func loadMirror(ctx context.Context, q querier, trip *Trip) error {
	rows, err := q.Query(ctx, `SELECT seat_type, cabin_id, capacity, remaining_seat
FROM trip_capacity_details WHERE trip_id=$1 ORDER BY seat_type, cabin_id`, trip.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var seatType fleet.SeatType
		var detail CabinDetail
		if err := rows.Scan(&seatType, &detail.CabinID, &detail.Capacity, &detail.RemainingSeat); err != nil {
			return err
		}
		switch seatType {
		case fleet.SeatTypePassenger:
			trip.CapacityDetails.Passenger = append(trip.CapacityDetails.Passenger, detail)
		case fleet.SeatTypeCargo:
			trip.CapacityDetails.Cargo = append(trip.CapacityDetails.Cargo, detail)
		case fleet.SeatTypeVehicle:
			trip.CapacityDetails.Vehicle = append(trip.CapacityDetails.Vehicle, detail)
		}
	}
	return rows.Err()
}

// LoadForUpdate loads and row-locks a trip with its mirror inside tx. Exposed
// for the availability and allocations transaction repositories.
func LoadForUpdate(ctx context.Context, tx pgx.Tx, companyID, tripID int64) (*Trip, error) {
	trip, err := scanTrip(ctx, tx, companyID, tripID, true)
	if err != nil {
		return nil, err
	}
	if err := loadMirror(ctx, tx, trip); err != nil {
		return nil, err
	}
	return trip, nil
}

// ApplyCapacityDelta moves seats between the trip pool and an availability
// block: negative totalDelta draws from the trip, positive returns to it. The
// aggregate counter and every touched mirror row move together so
// conservation holds within the transaction.
func ApplyCapacityDelta(ctx context.Context, tx pgx.Tx, tripID int64, seatType fleet.SeatType, cabinDeltas map[int64]int, totalDelta int, actor shared.Actor) error {
	var column string
	switch seatType {
	case fleet.SeatTypePassenger:
		column = "remaining_passenger_seats"
	case fleet.SeatTypeCargo:
		column = "remaining_cargo_seats"
	case fleet.SeatTypeVehicle:
		column = "remaining_vehicle_seats"
	default:
		return fmt.Errorf("trips: unknown seat type %q", seatType)
	}
	updatedBy, err := json.Marshal(actor)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf(`UPDATE trips SET %s = %s + $1, updated_by = $2, updated_at = NOW()
WHERE id = $3 AND %s + $1 >= 0`, column, column, column), totalDelta, updatedBy, tripID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("trips: aggregate %s on trip %d would go negative", column, tripID)
	}
	for cabinID, delta := range cabinDeltas {
		if delta == 0 {
			continue
		}
		tag, err := tx.Exec(ctx, `UPDATE trip_capacity_details SET remaining_seat = remaining_seat + $1
WHERE trip_id = $2 AND seat_type = $3 AND cabin_id = $4 AND remaining_seat + $1 >= 0`,
			delta, tripID, seatType, cabinID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("trips: mirror entry (trip %d, %s, cabin %d) missing or would go negative", tripID, seatType, cabinID)
		}
	}
	return nil
}
