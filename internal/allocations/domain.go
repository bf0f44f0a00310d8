// Package allocations owns agent grants against availability blocks. A grant
// moves seats from a block's free pool into its allocated counter, cabin by
// cabin; the block's allocated_seats and the sum of active grants are kept in
// lock-step by the engine rather than derived at read time. Grants never
// touch the trip mirror: the block already drew those seats from the trip
// when it was created, so the availability-cabin ceiling is the sole
// authority here.
package allocations

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/platform/httpx"
	"github.com/harborline/harborline/internal/shared"
)

// Allocation is one agent's grant against one availability block.
type Allocation struct {
	ID             int64            `json:"id"`
	RefCode        uuid.UUID        `json:"refCode"`
	TripID         int64            `json:"trip"`
	AvailabilityID int64            `json:"availability"`
	AgentID        int64            `json:"agent"`
	Allocations    []TypeAllocation `json:"allocations"`
	IsDeleted      bool             `json:"isDeleted"`
	CreatedBy      shared.Actor     `json:"created_by"`
	UpdatedBy      shared.Actor     `json:"updated_by"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// TypeAllocation groups a grant's cabin lines by capacity type. The type is
// carried per record even though it always matches the availability's own.
type TypeAllocation struct {
	Type                fleet.SeatType `json:"type"`
	Cabins              []CabinGrant   `json:"cabins"`
	TotalAllocatedSeats int            `json:"totalAllocatedSeats"`
}

// CabinGrant is the seats granted from one cabin of the block.
type CabinGrant struct {
	CabinID        int64 `json:"cabin"`
	AllocatedSeats int   `json:"allocatedSeats"`
}

// GrantByCabin flattens the grant into cabin -> seats.
func (a *Allocation) GrantByCabin() map[int64]int {
	grants := map[int64]int{}
	for _, ta := range a.Allocations {
		for _, c := range ta.Cabins {
			grants[c.CabinID] += c.AllocatedSeats
		}
	}
	return grants
}

// TotalSeats sums granted seats across all lines.
func (a *Allocation) TotalSeats() int {
	total := 0
	for _, ta := range a.Allocations {
		total += ta.TotalAllocatedSeats
	}
	return total
}

// AgentTotal is the coarse per-agent view of a trip's grants, derived from
// the cabin-level records at read time.
type AgentTotal struct {
	AgentID             int64          `json:"agent"`
	AgentName           string         `json:"agentName"`
	Type                fleet.SeatType `json:"type"`
	TotalAllocatedSeats int            `json:"totalAllocatedSeats"`
}

// Errors returned by the engine.
var (
	ErrNotFound        = fmt.Errorf("%w: agent allocation", httpx.ErrNotFound)
	ErrTypeMismatch    = fmt.Errorf("%w: allocation type does not match the availability", httpx.ErrValidation)
	ErrCabinNotInBlock = fmt.Errorf("%w: cabin is not part of this availability", httpx.ErrValidation)
	ErrInvalidSeats    = fmt.Errorf("%w: allocatedSeats must be a non-negative integer", httpx.ErrValidation)
	ErrBlockCeiling    = fmt.Errorf("%w: not enough seats available", httpx.ErrValidation)
	ErrDuplicateCabin  = fmt.Errorf("%w: cabin granted more than once", httpx.ErrValidation)
)
