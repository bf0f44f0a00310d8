package availability

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/platform/httpx"
	"github.com/harborline/harborline/internal/shared"
	"github.com/harborline/harborline/internal/trips"
)

// TxRepository exposes the operations available inside a capacity transaction.
// The trip row and the availability row are locked before any validation so a
// concurrent writer cannot pass the same ceiling check.
type TxRepository interface {
	GetTripForUpdate(ctx context.Context, companyID, tripID int64) (*trips.Trip, error)
	GetForUpdate(ctx context.Context, tripID, availabilityID int64) (*Availability, error)
	Insert(ctx context.Context, av *Availability) (int64, error)
	ReplaceCabins(ctx context.Context, availabilityID int64, cabins []CabinBlock, agentID *int64, actor shared.Actor) error
	MarkDeleted(ctx context.Context, availabilityID int64, actor shared.Actor) error
	ApplyTripDelta(ctx context.Context, tripID int64, seatType fleet.SeatType, cabinDeltas map[int64]int, totalDelta int, actor shared.Actor) error
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, tripID, availabilityID int64) (*Availability, error)
	GetTrip(ctx context.Context, companyID, tripID int64) (*trips.Trip, error)
	SumByType(ctx context.Context, tripID int64) (map[fleet.SeatType][2]int, error)
}

// CatalogPort abstracts the fleet capacity catalog.
type CatalogPort interface {
	GetCatalog(ctx context.Context, shipID int64) (fleet.Catalog, error)
	GetCabins(ctx context.Context, companyID int64, ids []int64) (map[int64]fleet.Cabin, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// SummaryCachePort invalidates and serves trip-wide summaries.
type SummaryCachePort interface {
	Get(ctx context.Context, tripID int64) (*TripSummary, bool, error)
	Set(ctx context.Context, summary *TripSummary) error
	Invalidate(ctx context.Context, tripID int64) error
}

// Service is the availability side of the allocation engine.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	audit   AuditPort
	cache   SummaryCachePort
	idem    *shared.IdempotencyStore
}

// NewService builds Service. The idempotency store is optional.
func NewService(repo RepositoryPort, catalog CatalogPort, audit AuditPort, cache SummaryCachePort, idem *shared.IdempotencyStore) *Service {
	return &Service{repo: repo, catalog: catalog, audit: audit, cache: cache, idem: idem}
}

// blockPlan is a validated block waiting to be committed.
type blockPlan struct {
	av     Availability
	deltas map[int64]int
	total  int
}

// CreateBatch validates every requested block against the cabin and trip
// ceilings and only then persists them, all within one transaction. Any
// failure anywhere aborts the whole batch with no partial effect.
func (s *Service) CreateBatch(ctx context.Context, companyID, tripID int64, req CreateBatchRequest, actor shared.Actor) ([]Availability, error) {
	insertedKey, err := s.claimKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}

	var created []Availability
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		trip, err := tx.GetTripForUpdate(ctx, companyID, tripID)
		if err != nil {
			return err
		}
		catalog, err := s.catalog.GetCatalog(ctx, trip.ShipID)
		if err != nil {
			return err
		}
		cabins, err := s.loadCabins(ctx, companyID, collectCabinIDs(req.Availabilities))
		if err != nil {
			return err
		}

		// Validate the full batch before any write.
		plans := make([]blockPlan, 0, len(req.Availabilities))
		drawByType := map[fleet.SeatType]int{}
		drawByCabin := map[int64]int{}
		cabinTypes := map[int64]fleet.SeatType{}
		for _, input := range req.Availabilities {
			plan, err := s.planBlock(tripID, input, catalog, cabins, actor)
			if err != nil {
				return err
			}
			drawByType[plan.av.Type] += plan.total
			for cabinID, seats := range plan.deltas {
				drawByCabin[cabinID] += seats
				cabinTypes[cabinID] = plan.av.Type
			}
			plans = append(plans, plan)
		}
		for seatType, draw := range drawByType {
			if remaining := trip.RemainingFor(seatType); draw > remaining {
				return fmt.Errorf("%w: only %d %s seats remaining on trip %d, requested %d",
					ErrTripCeiling, remaining, seatType, trip.ID, draw)
			}
		}
		// The mirror bounds each cabin individually; earlier blocks may have
		// emptied a cabin the aggregate still has seats for.
		for cabinID, draw := range drawByCabin {
			if err := checkMirrorDraw(trip, cabinTypes[cabinID], cabinID, draw); err != nil {
				return err
			}
		}

		// Commit.
		for i := range plans {
			id, err := tx.Insert(ctx, &plans[i].av)
			if err != nil {
				return err
			}
			plans[i].av.ID = id
			if err := tx.ApplyTripDelta(ctx, tripID, plans[i].av.Type, negate(plans[i].deltas), -plans[i].total, actor); err != nil {
				return err
			}
			created = append(created, plans[i].av)
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = s.idem.Delete(ctx, req.IdempotencyKey)
		}
		return nil, err
	}

	s.afterMutation(ctx, actor, "availability:create", tripID, map[string]any{
		"blocks": len(created),
	})
	return created, nil
}

// claimKey records an Idempotency-Key before the transaction. A replayed key
// is answered with a conflict instead of a second batch of blocks.
func (s *Service) claimKey(ctx context.Context, key string) (bool, error) {
	if s.idem == nil || key == "" {
		return false, nil
	}
	if err := s.idem.CheckAndInsert(ctx, key, "availability"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			return false, fmt.Errorf("%w: %s", httpx.ErrConflict, err)
		}
		return false, err
	}
	return true, nil
}

// planBlock validates one requested block against the catalog.
func (s *Service) planBlock(tripID int64, input BlockInput, catalog fleet.Catalog, cabins map[int64]fleet.Cabin, actor shared.Actor) (blockPlan, error) {
	seatType, err := fleet.ParseSeatType(input.Type)
	if err != nil {
		return blockPlan{}, err
	}

	plan := blockPlan{
		av: Availability{
			RefCode:   uuid.New(),
			TripID:    tripID,
			Type:      seatType,
			CreatedBy: actor,
			UpdatedBy: actor,
		},
		deltas: map[int64]int{},
	}
	for _, line := range input.Cabins {
		cabin, ok := cabins[line.CabinID]
		if !ok {
			return blockPlan{}, fmt.Errorf("%w %d", fleet.ErrCabinNotFound, line.CabinID)
		}
		if cabin.Type != seatType {
			return blockPlan{}, fmt.Errorf("%w (cabin %d is %s, block is %s)", ErrCabinTypeMismatch, cabin.ID, cabin.Type, seatType)
		}
		if line.Seats <= 0 {
			return blockPlan{}, fmt.Errorf("%w (cabin %d)", ErrInvalidSeats, cabin.ID)
		}
		if _, dup := plan.deltas[line.CabinID]; dup {
			return blockPlan{}, fmt.Errorf("%w (cabin %d)", ErrDuplicateCabin, cabin.ID)
		}
		declared, ok := catalog.SeatsFor(seatType, line.CabinID)
		if !ok {
			return blockPlan{}, fmt.Errorf("%w %d (not part of the ship's %s capacity)", fleet.ErrCabinNotFound, line.CabinID, seatType)
		}
		if line.Seats > declared {
			return blockPlan{}, fmt.Errorf("%w (cabin %d declares %d %s seats, requested %d)",
				ErrCabinCeiling, cabin.ID, declared, seatType, line.Seats)
		}
		plan.av.Cabins = append(plan.av.Cabins, CabinBlock{CabinID: line.CabinID, Seats: line.Seats})
		plan.deltas[line.CabinID] = line.Seats
		plan.total += line.Seats
	}
	return plan, nil
}

// checkMirrorDraw verifies a draw fits the cabin's remaining mirror seats. The
// guarded UPDATE on the mirror row remains the last line; rejecting here keeps
// the failure a validation error carrying the remaining count.
func checkMirrorDraw(trip *trips.Trip, seatType fleet.SeatType, cabinID int64, draw int) error {
	remaining, ok := trip.MirrorRemaining(seatType, cabinID)
	if !ok {
		return fmt.Errorf("%w %d (no %s mirror entry on trip %d)", fleet.ErrCabinNotFound, cabinID, seatType, trip.ID)
	}
	if draw > remaining {
		return fmt.Errorf("%w (cabin %d has %d %s seats remaining on trip %d, requested %d)",
			ErrCabinCeiling, cabinID, remaining, seatType, trip.ID, draw)
	}
	return nil
}

// Update resizes a block. Per-cabin mirror deltas follow each cabin's own
// difference, which may be negative even when the block total grows. Seats
// already granted to agents are preserved and form a floor for the new size.
func (s *Service) Update(ctx context.Context, companyID, tripID, availabilityID int64, req UpdateRequest, actor shared.Actor) (*Availability, error) {
	var updated *Availability
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		trip, err := tx.GetTripForUpdate(ctx, companyID, tripID)
		if err != nil {
			return err
		}
		av, err := tx.GetForUpdate(ctx, tripID, availabilityID)
		if err != nil {
			return err
		}
		catalog, err := s.catalog.GetCatalog(ctx, trip.ShipID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(req.Cabins))
		for _, line := range req.Cabins {
			ids = append(ids, line.CabinID)
		}
		cabins, err := s.loadCabins(ctx, companyID, ids)
		if err != nil {
			return err
		}

		oldTotal := av.TotalSeats()
		oldSeats := map[int64]int{}
		for _, c := range av.Cabins {
			oldSeats[c.CabinID] = c.Seats
		}

		newBlocks := make([]CabinBlock, 0, len(req.Cabins))
		newTotal := 0
		seen := map[int64]bool{}
		deltas := map[int64]int{}
		for _, line := range req.Cabins {
			cabin, ok := cabins[line.CabinID]
			if !ok {
				return fmt.Errorf("%w %d", fleet.ErrCabinNotFound, line.CabinID)
			}
			if cabin.Type != av.Type {
				return fmt.Errorf("%w (cabin %d is %s, block is %s)", ErrCabinTypeMismatch, cabin.ID, cabin.Type, av.Type)
			}
			if line.Seats <= 0 {
				return fmt.Errorf("%w (cabin %d)", ErrInvalidSeats, cabin.ID)
			}
			if seen[line.CabinID] {
				return fmt.Errorf("%w (cabin %d)", ErrDuplicateCabin, cabin.ID)
			}
			seen[line.CabinID] = true
			declared, ok := catalog.SeatsFor(av.Type, line.CabinID)
			if !ok {
				return fmt.Errorf("%w %d (not part of the ship's %s capacity)", fleet.ErrCabinNotFound, line.CabinID, av.Type)
			}
			if line.Seats > declared {
				return fmt.Errorf("%w (cabin %d declares %d %s seats, requested %d)",
					ErrCabinCeiling, cabin.ID, declared, av.Type, line.Seats)
			}

			allocated := 0
			if existing, ok := av.CabinBlockFor(line.CabinID); ok {
				allocated = existing.AllocatedSeats
			}
			if line.Seats < allocated {
				return fmt.Errorf("%w (cabin %d has %d granted, requested %d)",
					ErrSeatsBelowGranted, line.CabinID, allocated, line.Seats)
			}
			newBlocks = append(newBlocks, CabinBlock{CabinID: line.CabinID, Seats: line.Seats, AllocatedSeats: allocated})
			deltas[line.CabinID] = oldSeats[line.CabinID] - line.Seats
			newTotal += line.Seats
		}
		// Cabins dropped from the block return their seats, but only when
		// nothing is granted from them.
		for _, c := range av.Cabins {
			if seen[c.CabinID] {
				continue
			}
			if c.AllocatedSeats > 0 {
				return fmt.Errorf("%w (cabin %d has %d granted and cannot be removed)",
					ErrSeatsBelowGranted, c.CabinID, c.AllocatedSeats)
			}
			deltas[c.CabinID] = c.Seats
		}

		if grow := newTotal - oldTotal; grow > 0 {
			if remaining := trip.RemainingFor(av.Type); grow > remaining {
				return fmt.Errorf("%w: only %d %s seats remaining on trip %d, requested %d more",
					ErrTripCeiling, remaining, av.Type, trip.ID, grow)
			}
		}
		for cabinID, delta := range deltas {
			if delta >= 0 {
				continue
			}
			if err := checkMirrorDraw(trip, av.Type, cabinID, -delta); err != nil {
				return err
			}
		}

		if err := tx.ApplyTripDelta(ctx, tripID, av.Type, deltas, oldTotal-newTotal, actor); err != nil {
			return err
		}
		agentID := av.AllocatedAgentID
		if req.AllocatedAgentID != nil {
			agentID = req.AllocatedAgentID
		}
		if err := tx.ReplaceCabins(ctx, av.ID, newBlocks, agentID, actor); err != nil {
			return err
		}
		av.Cabins = newBlocks
		av.AllocatedAgentID = agentID
		av.UpdatedBy = actor
		updated = av
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, actor, "availability:update", tripID, map[string]any{
		"availability_id": availabilityID,
	})
	return updated, nil
}

// SoftDelete marks a block deleted and returns its full seats to the trip
// mirror. Deletion is refused while any cabin still has granted seats, so
// capacity promised to agents is never silently donated back.
func (s *Service) SoftDelete(ctx context.Context, companyID, tripID, availabilityID int64, actor shared.Actor) (*trips.Trip, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetTripForUpdate(ctx, companyID, tripID); err != nil {
			return err
		}
		av, err := tx.GetForUpdate(ctx, tripID, availabilityID)
		if err != nil {
			return err
		}
		if granted := av.TotalAllocated(); granted > 0 {
			return fmt.Errorf("%w (%d seats granted; remove agent allocations first)", ErrOutstandingGrants, granted)
		}
		deltas := map[int64]int{}
		for _, c := range av.Cabins {
			deltas[c.CabinID] = c.Seats
		}
		if err := tx.ApplyTripDelta(ctx, tripID, av.Type, deltas, av.TotalSeats(), actor); err != nil {
			return err
		}
		return tx.MarkDeleted(ctx, av.ID, actor)
	})
	if err != nil {
		return nil, err
	}

	s.afterMutation(ctx, actor, "availability:delete", tripID, map[string]any{
		"availability_id": availabilityID,
	})
	return s.repo.GetTrip(ctx, companyID, tripID)
}

// BlockSummary returns the per-cabin snapshot of one block.
func (s *Service) BlockSummary(ctx context.Context, companyID, tripID, availabilityID int64) ([]CabinSummary, error) {
	if _, err := s.repo.GetTrip(ctx, companyID, tripID); err != nil {
		return nil, err
	}
	av, err := s.repo.Get(ctx, tripID, availabilityID)
	if err != nil {
		return nil, err
	}
	return av.Summary(), nil
}

// TripSummary aggregates all non-deleted blocks per type. Remaining comes
// from the trip's stored counters, so drift between the ledgers is visible
// to the caller. Results are served from the versioned cache when warm.
func (s *Service) TripSummary(ctx context.Context, companyID, tripID int64) (*TripSummary, error) {
	trip, err := s.repo.GetTrip(ctx, companyID, tripID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, tripID); err == nil && ok {
			return cached, nil
		}
	}

	sums, err := s.repo.SumByType(ctx, tripID)
	if err != nil {
		return nil, err
	}
	summary := &TripSummary{TripID: tripID}
	for _, seatType := range fleet.SeatTypes() {
		pair := sums[seatType]
		summary.Types = append(summary.Types, TypeSummary{
			Type:      seatType,
			Total:     pair[0],
			Allocated: pair[1],
			Remaining: trip.RemainingFor(seatType),
		})
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, summary)
	}
	return summary, nil
}

// Get returns one block.
func (s *Service) Get(ctx context.Context, companyID, tripID, availabilityID int64) (*Availability, error) {
	if _, err := s.repo.GetTrip(ctx, companyID, tripID); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, tripID, availabilityID)
}

func (s *Service) loadCabins(ctx context.Context, companyID int64, ids []int64) (map[int64]fleet.Cabin, error) {
	cabins, err := s.catalog.GetCabins(ctx, companyID, ids)
	if err != nil {
		return nil, err
	}
	return cabins, nil
}

func (s *Service) afterMutation(ctx context.Context, actor shared.Actor, action string, tripID int64, meta map[string]any) {
	if s.cache != nil {
		_ = s.cache.Invalidate(ctx, tripID)
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   action,
			Entity:   "trip_availability",
			EntityID: fmt.Sprintf("trip:%d", tripID),
			Meta:     meta,
		})
	}
}

func collectCabinIDs(blocks []BlockInput) []int64 {
	seen := map[int64]bool{}
	var ids []int64
	for _, block := range blocks {
		for _, line := range block.Cabins {
			if !seen[line.CabinID] {
				seen[line.CabinID] = true
				ids = append(ids, line.CabinID)
			}
		}
	}
	return ids
}

func negate(deltas map[int64]int) map[int64]int {
	out := make(map[int64]int, len(deltas))
	for k, v := range deltas {
		out[k] = -v
	}
	return out
}
