// Package availability owns the sellable capacity blocks of a trip. A block
// groups seats drawn from one or more cabins of a single type; creating a
// block moves seats out of the trip mirror, resizing moves the difference,
// and deleting returns everything. Each cabin line also tracks how much of
// the block has already been granted to agents; those seats never leave the
// block, so the trip mirror is untouched by agent allocations.
package availability

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/platform/httpx"
	"github.com/harborline/harborline/internal/shared"
)

// Availability is one sellable block of trip capacity.
type Availability struct {
	ID               int64          `json:"id"`
	RefCode          uuid.UUID      `json:"refCode"`
	TripID           int64          `json:"trip"`
	Type             fleet.SeatType `json:"type"`
	Cabins           []CabinBlock   `json:"cabins"`
	AllocatedAgentID *int64         `json:"allocatedAgent,omitempty"`
	IsDeleted        bool           `json:"isDeleted"`
	CreatedBy        shared.Actor   `json:"created_by"`
	UpdatedBy        shared.Actor   `json:"updated_by"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// CabinBlock is one cabin's contribution to a block. AllocatedSeats counts
// how much of Seats is already granted to agents; it is kept in lock-step
// with the active allocation records by the engine, never re-derived.
type CabinBlock struct {
	CabinID        int64 `json:"cabin"`
	Seats          int   `json:"seats"`
	AllocatedSeats int   `json:"allocatedSeats"`
}

// TotalSeats sums the block size across cabins.
func (a *Availability) TotalSeats() int {
	total := 0
	for _, c := range a.Cabins {
		total += c.Seats
	}
	return total
}

// TotalAllocated sums granted seats across cabins.
func (a *Availability) TotalAllocated() int {
	total := 0
	for _, c := range a.Cabins {
		total += c.AllocatedSeats
	}
	return total
}

// CabinBlockFor returns the block line for a cabin.
func (a *Availability) CabinBlockFor(cabinID int64) (CabinBlock, bool) {
	for _, c := range a.Cabins {
		if c.CabinID == cabinID {
			return c, true
		}
	}
	return CabinBlock{}, false
}

// CabinSummary is the per-cabin view of a block.
type CabinSummary struct {
	CabinID   int64 `json:"cabinId"`
	Total     int   `json:"total"`
	Allocated int   `json:"allocated"`
	Remaining int   `json:"remaining"`
}

// Summary computes the per-cabin snapshot of a block.
func (a *Availability) Summary() []CabinSummary {
	summaries := make([]CabinSummary, 0, len(a.Cabins))
	for _, c := range a.Cabins {
		summaries = append(summaries, CabinSummary{
			CabinID:   c.CabinID,
			Total:     c.Seats,
			Allocated: c.AllocatedSeats,
			Remaining: c.Seats - c.AllocatedSeats,
		})
	}
	return summaries
}

// TypeSummary aggregates blocks of one type across a trip. Remaining is the
// trip's stored aggregate counter, read as-is rather than recomputed, so a
// caller can detect drift between the two representations.
type TypeSummary struct {
	Type      fleet.SeatType `json:"type"`
	Total     int            `json:"total"`
	Allocated int            `json:"allocated"`
	Remaining int            `json:"remaining"`
}

// TripSummary is the trip-wide availability snapshot.
type TripSummary struct {
	TripID int64         `json:"trip"`
	Types  []TypeSummary `json:"types"`
}

// Errors returned by the engine. All wrap an httpx category so handlers map
// them without further inspection.
var (
	ErrNotFound          = fmt.Errorf("%w: availability", httpx.ErrNotFound)
	ErrInvalidSeats      = fmt.Errorf("%w: seats must be a positive integer", httpx.ErrValidation)
	ErrCabinTypeMismatch = fmt.Errorf("%w: cabin type does not match block type", httpx.ErrValidation)
	ErrCabinCeiling      = fmt.Errorf("%w: requested seats exceed the cabin's declared capacity", httpx.ErrValidation)
	ErrTripCeiling       = fmt.Errorf("%w: requested seats exceed the trip's remaining capacity", httpx.ErrValidation)
	ErrSeatsBelowGranted = fmt.Errorf("%w: seats cannot shrink below seats already granted to agents", httpx.ErrValidation)
	ErrOutstandingGrants = fmt.Errorf("%w: availability still has seats granted to agents", httpx.ErrValidation)
	ErrDuplicateCabin    = fmt.Errorf("%w: cabin listed more than once", httpx.ErrValidation)
)
