package allocations

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harborline/harborline/internal/agents"
	"github.com/harborline/harborline/internal/availability"
	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/platform/httpx"
	"github.com/harborline/harborline/internal/shared"
	"github.com/harborline/harborline/internal/trips"
)

// TxRepository exposes the operations available inside a grant transaction.
// The availability row is locked before validation so concurrent grants
// cannot both pass the same ceiling check.
type TxRepository interface {
	GetAvailabilityForUpdate(ctx context.Context, companyID, tripID, availabilityID int64) (*availability.Availability, error)
	GetForUpdate(ctx context.Context, availabilityID, allocationID int64) (*Allocation, error)
	Insert(ctx context.Context, alloc *Allocation) (int64, error)
	ReplaceGrants(ctx context.Context, allocationID int64, allocations []TypeAllocation, actor shared.Actor) error
	MarkDeleted(ctx context.Context, allocationID int64, actor shared.Actor) error
	AdjustBlockAllocated(ctx context.Context, availabilityID int64, deltas map[int64]int, actor shared.Actor) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, availabilityID, allocationID int64) (*Allocation, error)
	List(ctx context.Context, availabilityID int64, limit, offset int) ([]Allocation, int, error)
	AgentTotals(ctx context.Context, tripID int64) ([]AgentTotal, error)
	GetTrip(ctx context.Context, companyID, tripID int64) (*trips.Trip, error)
	GetAvailability(ctx context.Context, tripID, availabilityID int64) (*availability.Availability, error)
}

// AgentPort abstracts the agent registry.
type AgentPort interface {
	GetActive(ctx context.Context, companyID, agentID int64) (*agents.Agent, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CachePort invalidates the trip-wide availability summary, whose allocated
// counters change with every grant.
type CachePort interface {
	Invalidate(ctx context.Context, tripID int64) error
}

// Service is the agent-grant side of the allocation engine.
type Service struct {
	repo   RepositoryPort
	agents AgentPort
	audit  AuditPort
	cache  CachePort
	idem   *shared.IdempotencyStore
}

// NewService builds Service. The idempotency store is optional.
func NewService(repo RepositoryPort, agentPort AgentPort, audit AuditPort, cache CachePort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, agents: agentPort, audit: audit, cache: cache, idem: idem}
}

// Result is a mutation response: the allocation itself plus the refreshed
// per-cabin block summary and the trip capacity snapshot.
type Result struct {
	Allocation          *Allocation                 `json:"allocation"`
	AvailabilitySummary []availability.CabinSummary `json:"availabilitySummary"`
	TripCapacity        *trips.Trip                 `json:"tripCapacity"`
}

// Create grants seats from an availability block to an agent. Every cabin
// line is validated against the block's free seats (seats minus seats
// already granted); the trip mirror is not consulted and not changed, since
// the block drew its seats from the trip when it was created.
func (s *Service) Create(ctx context.Context, companyID, tripID, availabilityID int64, req CreateRequest, actor shared.Actor) (*Result, error) {
	agent, err := s.agents.GetActive(ctx, companyID, req.AgentID)
	if err != nil {
		return nil, err
	}

	insertedKey, err := s.claimKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	alloc := &Allocation{
		RefCode:        uuid.New(),
		TripID:         tripID,
		AvailabilityID: availabilityID,
		AgentID:        agent.ID,
		CreatedBy:      actor,
		UpdatedBy:      actor,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		av, err := tx.GetAvailabilityForUpdate(ctx, companyID, tripID, availabilityID)
		if err != nil {
			return err
		}
		lines, deltas, err := planGrants(av, req.Allocations, nil)
		if err != nil {
			return err
		}
		alloc.Allocations = lines

		id, err := tx.Insert(ctx, alloc)
		if err != nil {
			return err
		}
		alloc.ID = id
		return tx.AdjustBlockAllocated(ctx, availabilityID, deltas, actor)
	})
	if err != nil {
		if insertedKey {
			_ = s.idem.Delete(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	s.afterMutation(ctx, actor, "allocation:create", tripID, map[string]any{
		"allocation":   alloc.ID,
		"availability": availabilityID,
		"agent":        agent.ID,
		"seats":        alloc.TotalSeats(),
	})
	return s.assembleResult(ctx, companyID, tripID, availabilityID, alloc)
}

// Update replaces the full set of grant lines of an allocation. Inside one
// transaction the current grant is reversed against the block's allocated
// counters and the new lines are validated and applied against the freed
// state, so shrinking one cabin to grow another works in a single call.
func (s *Service) Update(ctx context.Context, companyID, tripID, availabilityID, allocationID int64, req UpdateRequest, actor shared.Actor) (*Result, error) {
	var alloc *Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		av, err := tx.GetAvailabilityForUpdate(ctx, companyID, tripID, availabilityID)
		if err != nil {
			return err
		}
		current, err := tx.GetForUpdate(ctx, availabilityID, allocationID)
		if err != nil {
			return err
		}

		reversed, err := reverseGrants(av, current)
		if err != nil {
			return err
		}
		lines, applied, err := planGrants(av, req.Allocations, reversed)
		if err != nil {
			return err
		}

		deltas := map[int64]int{}
		for cabinID, seats := range applied {
			deltas[cabinID] += seats
		}
		for cabinID, seats := range current.GrantByCabin() {
			deltas[cabinID] -= seats
		}
		for cabinID, delta := range deltas {
			if delta == 0 {
				delete(deltas, cabinID)
			}
		}

		if len(deltas) > 0 {
			if err := tx.AdjustBlockAllocated(ctx, availabilityID, deltas, actor); err != nil {
				return err
			}
		}
		if err := tx.ReplaceGrants(ctx, allocationID, lines, actor); err != nil {
			return err
		}
		current.Allocations = lines
		current.UpdatedBy = actor
		alloc = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, actor, "allocation:update", tripID, map[string]any{
		"allocation":   allocationID,
		"availability": availabilityID,
		"seats":        alloc.TotalSeats(),
	})
	return s.assembleResult(ctx, companyID, tripID, availabilityID, alloc)
}

// SoftDelete reverses the grant in full and marks the allocation deleted.
// The freed seats stay in the availability block; the trip mirror is not
// touched.
func (s *Service) SoftDelete(ctx context.Context, companyID, tripID, availabilityID, allocationID int64, actor shared.Actor) (*Result, error) {
	var alloc *Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		av, err := tx.GetAvailabilityForUpdate(ctx, companyID, tripID, availabilityID)
		if err != nil {
			return err
		}
		current, err := tx.GetForUpdate(ctx, availabilityID, allocationID)
		if err != nil {
			return err
		}
		if _, err := reverseGrants(av, current); err != nil {
			return err
		}

		deltas := map[int64]int{}
		for cabinID, seats := range current.GrantByCabin() {
			if seats != 0 {
				deltas[cabinID] = -seats
			}
		}
		if len(deltas) > 0 {
			if err := tx.AdjustBlockAllocated(ctx, availabilityID, deltas, actor); err != nil {
				return err
			}
		}
		if err := tx.MarkDeleted(ctx, allocationID, actor); err != nil {
			return err
		}
		current.IsDeleted = true
		current.UpdatedBy = actor
		alloc = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, actor, "allocation:delete", tripID, map[string]any{
		"allocation":   allocationID,
		"availability": availabilityID,
		"seats":        alloc.TotalSeats(),
	})
	return s.assembleResult(ctx, companyID, tripID, availabilityID, alloc)
}

// Get returns one allocation.
func (s *Service) Get(ctx context.Context, availabilityID, allocationID int64) (*Allocation, error) {
	return s.repo.Get(ctx, availabilityID, allocationID)
}

// List pages through a block's active allocations.
func (s *Service) List(ctx context.Context, availabilityID int64, req ListRequest) ([]Allocation, *shared.Pagination, error) {
	p := shared.NewPagination(req.Page, req.Limit, 0)
	allocs, total, err := s.repo.List(ctx, availabilityID, p.Limit, p.Offset())
	if err != nil {
		return nil, nil, err
	}
	p = shared.NewPagination(req.Page, req.Limit, total)
	return allocs, &p, nil
}

// AgentTotals returns the coarse per-agent totals of a trip, derived from
// the cabin-level grants at read time.
func (s *Service) AgentTotals(ctx context.Context, companyID, tripID int64) ([]AgentTotal, error) {
	if _, err := s.repo.GetTrip(ctx, companyID, tripID); err != nil {
		return nil, err
	}
	return s.repo.AgentTotals(ctx, tripID)
}

// claimKey records an Idempotency-Key before the transaction. A replayed key
// is answered with a conflict instead of a second grant.
func (s *Service) claimKey(ctx context.Context, key string) (bool, error) {
	if s.idem == nil || key == "" {
		return false, nil
	}
	if err := s.idem.CheckAndInsert(ctx, key, "allocations"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return false, fmt.Errorf("%w: %s", httpx.ErrConflict, err)
		}
		return false, err
	}
	return true, nil
}

// planGrants validates the requested lines against the block and returns the
// normalized grant plus the per-cabin seat deltas. reversed, when non-nil,
// overrides the block's allocated counters (used by Update after reversing
// the current grant).
func planGrants(av *availability.Availability, inputs []TypeAllocationInput, reversed map[int64]int) ([]TypeAllocation, map[int64]int, error) {
	working := map[int64]int{}
	for _, c := range av.Cabins {
		working[c.CabinID] = c.AllocatedSeats
	}
	for cabinID, allocated := range reversed {
		working[cabinID] = allocated
	}

	lines := make([]TypeAllocation, 0, len(inputs))
	deltas := map[int64]int{}
	seen := map[int64]bool{}
	for _, input := range inputs {
		seatType, err := fleet.ParseSeatType(input.Type)
		if err != nil {
			return nil, nil, err
		}
		if seatType != av.Type {
			return nil, nil, fmt.Errorf("%w: block holds %s capacity", ErrTypeMismatch, av.Type)
		}

		line := TypeAllocation{Type: seatType, Cabins: make([]CabinGrant, 0, len(input.Cabins))}
		for _, grant := range input.Cabins {
			if seen[grant.CabinID] {
				return nil, nil, fmt.Errorf("%w: cabin %d", ErrDuplicateCabin, grant.CabinID)
			}
			seen[grant.CabinID] = true

			block, ok := av.CabinBlockFor(grant.CabinID)
			if !ok {
				return nil, nil, fmt.Errorf("%w: cabin %d", ErrCabinNotInBlock, grant.CabinID)
			}
			seats := *grant.AllocatedSeats
			if seats < 0 {
				return nil, nil, fmt.Errorf("%w: cabin %d", ErrInvalidSeats, grant.CabinID)
			}
			remaining := block.Seats - working[grant.CabinID]
			if seats > remaining {
				return nil, nil, fmt.Errorf("%w: only %d seats available in cabin %d", ErrBlockCeiling, remaining, grant.CabinID)
			}
			working[grant.CabinID] += seats
			if seats != 0 {
				deltas[grant.CabinID] += seats
			}
			line.Cabins = append(line.Cabins, CabinGrant{CabinID: grant.CabinID, AllocatedSeats: seats})
			line.TotalAllocatedSeats += seats
		}
		lines = append(lines, line)
	}
	return lines, deltas, nil
}

// reverseGrants subtracts an allocation's grant from the block's allocated
// counters and returns the adjusted per-cabin state. A counter going
// negative means the ledger and the block have drifted apart, which is a
// data fault rather than a caller error.
func reverseGrants(av *availability.Availability, alloc *Allocation) (map[int64]int, error) {
	working := map[int64]int{}
	for _, c := range av.Cabins {
		working[c.CabinID] = c.AllocatedSeats
	}
	for cabinID, seats := range alloc.GrantByCabin() {
		working[cabinID] -= seats
		if working[cabinID] < 0 {
			return nil, fmt.Errorf("allocation %d grants %d seats in cabin %d but the block only records %d allocated",
				alloc.ID, seats, cabinID, working[cabinID]+seats)
		}
	}
	return working, nil
}

// assembleResult fetches the refreshed block summary and trip snapshot in
// parallel once the transaction has committed.
func (s *Service) assembleResult(ctx context.Context, companyID, tripID, availabilityID int64, alloc *Allocation) (*Result, error) {
	result := &Result{Allocation: alloc}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		av, err := s.repo.GetAvailability(ctx, tripID, availabilityID)
		if err != nil {
			return err
		}
		result.AvailabilitySummary = av.Summary()
		return nil
	})
	g.Go(func() error {
		trip, err := s.repo.GetTrip(ctx, companyID, tripID)
		if err != nil {
			return err
		}
		result.TripCapacity = trip
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) afterMutation(ctx context.Context, actor shared.Actor, action string, tripID int64, meta map[string]any) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, tripID)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   action,
			Entity:   "agent_allocation",
			EntityID: fmt.Sprintf("trip:%d", tripID),
			Meta:     meta,
		})
	}
}
