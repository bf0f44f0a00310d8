// Package fleet exposes the read-only capacity catalog: ships and the
// per-cabin seat/spot counts they declare. The allocation engine only reads
// this data; fleet management lives outside this service.
package fleet

import (
	"fmt"
	"time"

	"github.com/harborline/harborline/internal/platform/httpx"
)

// SeatType is the sellable capacity category.
type SeatType string

const (
	SeatTypePassenger SeatType = "passenger"
	SeatTypeCargo     SeatType = "cargo"
	SeatTypeVehicle   SeatType = "vehicle"
)

// SeatTypes lists all categories in a stable order.
func SeatTypes() []SeatType {
	return []SeatType{SeatTypePassenger, SeatTypeCargo, SeatTypeVehicle}
}

// ParseSeatType validates a wire value.
func ParseSeatType(s string) (SeatType, error) {
	switch SeatType(s) {
	case SeatTypePassenger, SeatTypeCargo, SeatTypeVehicle:
		return SeatType(s), nil
	}
	return "", fmt.Errorf("%w: unknown capacity type %q", httpx.ErrValidation, s)
}

// Ship is a vessel registered by a company.
type Ship struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Name      string    `json:"name"`
	IMONumber string    `json:"imo_number,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Cabin is a physical section of a ship, typed by the capacity it sells.
type Cabin struct {
	ID        int64    `json:"id"`
	CompanyID int64    `json:"company_id"`
	ShipID    int64    `json:"ship_id"`
	Name      string   `json:"name"`
	Type      SeatType `json:"type"`
}

// CabinCapacity is one entry of a ship's declared capacity.
type CabinCapacity struct {
	CabinID int64 `json:"cabinId"`
	Seats   int   `json:"seats"`
}

// Catalog is a ship's full declared capacity keyed by type.
type Catalog map[SeatType][]CabinCapacity

// SeatsFor returns the declared capacity a cabin contributes for a type,
// or false when the cabin is not part of the ship's declaration.
func (c Catalog) SeatsFor(t SeatType, cabinID int64) (int, bool) {
	for _, entry := range c[t] {
		if entry.CabinID == cabinID {
			return entry.Seats, true
		}
	}
	return 0, false
}

// Errors returned by the catalog.
var (
	ErrShipNotFound  = fmt.Errorf("%w: ship", httpx.ErrNotFound)
	ErrCabinNotFound = fmt.Errorf("%w: cabin", httpx.ErrNotFound)
)
