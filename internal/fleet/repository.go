package fleet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads ships, cabins and declared capacities from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetShip loads a company's ship.
func (r *Repository) GetShip(ctx context.Context, companyID, shipID int64) (*Ship, error) {
	var ship Ship
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, name, COALESCE(imo_number, ''), created_at
FROM ships WHERE id=$1 AND company_id=$2 AND is_deleted=FALSE`, shipID, companyID).
		Scan(&ship.ID, &ship.CompanyID, &ship.Name, &ship.IMONumber, &ship.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w %d", ErrShipNotFound, shipID)
		}
		return nil, err
	}
	return &ship, nil
}

// GetCatalog loads the ship's declared per-cabin capacities for every type.
func (r *Repository) GetCatalog(ctx context.Context, shipID int64) (Catalog, error) {
	rows, err := r.pool.Query(ctx, `SELECT seat_type, cabin_id, seats
FROM ship_capacities WHERE ship_id=$1 ORDER BY seat_type, cabin_id`, shipID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	catalog := Catalog{}
	for rows.Next() {
		var seatType SeatType
		var entry CabinCapacity
		if err := rows.Scan(&seatType, &entry.CabinID, &entry.Seats); err != nil {
			return nil, err
		}
		catalog[seatType] = append(catalog[seatType], entry)
	}
	return catalog, rows.Err()
}

// GetCabins loads the given cabins scoped to a company, keyed by id. Cabins
// missing from the result are absent, deleted or belong to another tenant.
func (r *Repository) GetCabins(ctx context.Context, companyID int64, ids []int64) (map[int64]Cabin, error) {
	if len(ids) == 0 {
		return map[int64]Cabin{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, ship_id, name, cabin_type
FROM cabins WHERE company_id=$1 AND id = ANY($2) AND is_deleted=FALSE`, companyID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cabins := make(map[int64]Cabin, len(ids))
	for rows.Next() {
		var cabin Cabin
		if err := rows.Scan(&cabin.ID, &cabin.CompanyID, &cabin.ShipID, &cabin.Name, &cabin.Type); err != nil {
			return nil, err
		}
		cabins[cabin.ID] = cabin
	}
	return cabins, rows.Err()
}
