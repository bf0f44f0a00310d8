// Package trips owns the trip aggregate and its capacity mirror: at creation
// the ship's declared per-cabin capacities are snapshotted into the trip as
// mutable remaining-seat counters, one row per (type, cabin), plus one
// aggregate remaining counter per type. Availability blocks draw seats from
// this mirror and return them on shrink or delete; the engine keeps
// sum(per-cabin remaining) equal to the aggregate at all times.
package trips

import (
	"fmt"
	"time"

	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/platform/httpx"
	"github.com/harborline/harborline/internal/shared"
)

// Status enumerates trip lifecycle states.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusDeparted  Status = "DEPARTED"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Trip is a scheduled voyage with its capacity mirror.
type Trip struct {
	ID                      int64           `json:"id"`
	CompanyID               int64           `json:"company_id"`
	ShipID                  int64           `json:"ship_id"`
	Code                    string          `json:"code"`
	OriginPort              string          `json:"origin_port"`
	DestinationPort         string          `json:"destination_port"`
	DepartsAt               time.Time       `json:"departs_at"`
	ArrivesAt               time.Time       `json:"arrives_at"`
	Status                  Status          `json:"status"`
	RemainingPassengerSeats int             `json:"remainingPassengerSeats"`
	RemainingCargoSeats     int             `json:"remainingCargoSeats"`
	RemainingVehicleSeats   int             `json:"remainingVehicleSeats"`
	CapacityDetails         CapacityDetails `json:"tripCapacityDetails"`
	CreatedBy               shared.Actor    `json:"created_by"`
	UpdatedBy               shared.Actor    `json:"updated_by"`
	CreatedAt               time.Time       `json:"created_at"`
	UpdatedAt               time.Time       `json:"updated_at"`
}

// CapacityDetails is the per-cabin mirror grouped by type.
type CapacityDetails struct {
	Passenger []CabinDetail `json:"passenger"`
	Cargo     []CabinDetail `json:"cargo"`
	Vehicle   []CabinDetail `json:"vehicle"`
}

// CabinDetail is one mirror entry. Capacity snapshots the ship's declared
// value at trip creation; RemainingSeat is decremented by availability draws.
type CabinDetail struct {
	CabinID       int64 `json:"cabinId"`
	Capacity      int   `json:"capacity"`
	RemainingSeat int   `json:"remainingSeat"`
}

// ForType returns the mirror entries for a capacity type.
func (d CapacityDetails) ForType(t fleet.SeatType) []CabinDetail {
	switch t {
	case fleet.SeatTypePassenger:
		return d.Passenger
	case fleet.SeatTypeCargo:
		return d.Cargo
	case fleet.SeatTypeVehicle:
		return d.Vehicle
	}
	return nil
}

// RemainingFor returns the aggregate remaining counter for a type.
func (t *Trip) RemainingFor(seatType fleet.SeatType) int {
	switch seatType {
	case fleet.SeatTypePassenger:
		return t.RemainingPassengerSeats
	case fleet.SeatTypeCargo:
		return t.RemainingCargoSeats
	case fleet.SeatTypeVehicle:
		return t.RemainingVehicleSeats
	}
	return 0
}

// MirrorRemaining returns the remaining counter of a specific mirror entry.
func (t *Trip) MirrorRemaining(seatType fleet.SeatType, cabinID int64) (int, bool) {
	for _, detail := range t.CapacityDetails.ForType(seatType) {
		if detail.CabinID == cabinID {
			return detail.RemainingSeat, true
		}
	}
	return 0, false
}

var (
	// ErrNotFound covers absent, soft-deleted and cross-company trips.
	ErrNotFound = fmt.Errorf("%w: trip", httpx.ErrNotFound)
	// ErrDuplicateCode indicates the trip code is already taken.
	ErrDuplicateCode = fmt.Errorf("%w: trip code already exists", httpx.ErrConflict)
)
