package availability

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/platform/httpx"
	"github.com/harborline/harborline/internal/shared"
	"github.com/harborline/harborline/internal/trips"
)

type memoryRepo struct {
	trip   *trips.Trip
	blocks map[int64]*Availability
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo(trip *trips.Trip) *memoryRepo {
	return &memoryRepo{trip: trip, blocks: map[int64]*Availability{}}
}

func copyTrip(t *trips.Trip) *trips.Trip {
	clone := *t
	clone.CapacityDetails.Passenger = append([]trips.CabinDetail(nil), t.CapacityDetails.Passenger...)
	clone.CapacityDetails.Cargo = append([]trips.CabinDetail(nil), t.CapacityDetails.Cargo...)
	clone.CapacityDetails.Vehicle = append([]trips.CabinDetail(nil), t.CapacityDetails.Vehicle...)
	return &clone
}

func copyBlock(av *Availability) *Availability {
	clone := *av
	clone.Cabins = append([]CabinBlock(nil), av.Cabins...)
	return &clone
}

// WithTx restores the pre-transaction state when fn fails, matching the
// rollback behaviour of the real repository.
func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	trip := copyTrip(r.trip)
	blocks := make(map[int64]*Availability, len(r.blocks))
	for id, av := range r.blocks {
		blocks[id] = copyBlock(av)
	}
	nextID := r.nextID

	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.trip = trip
		r.blocks = blocks
		r.nextID = nextID
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, tripID, availabilityID int64) (*Availability, error) {
	av, ok := r.blocks[availabilityID]
	if !ok || av.TripID != tripID || av.IsDeleted {
		return nil, fmt.Errorf("%w %d", ErrNotFound, availabilityID)
	}
	return copyBlock(av), nil
}

func (r *memoryRepo) GetTrip(ctx context.Context, companyID, tripID int64) (*trips.Trip, error) {
	if r.trip.ID != tripID || r.trip.CompanyID != companyID {
		return nil, fmt.Errorf("%w %d", trips.ErrNotFound, tripID)
	}
	return copyTrip(r.trip), nil
}

func (r *memoryRepo) SumByType(ctx context.Context, tripID int64) (map[fleet.SeatType][2]int, error) {
	sums := map[fleet.SeatType][2]int{}
	for _, av := range r.blocks {
		if av.TripID != tripID || av.IsDeleted {
			continue
		}
		pair := sums[av.Type]
		pair[0] += av.TotalSeats()
		pair[1] += av.TotalAllocated()
		sums[av.Type] = pair
	}
	return sums, nil
}

func (tx *memoryTx) GetTripForUpdate(ctx context.Context, companyID, tripID int64) (*trips.Trip, error) {
	return tx.repo.GetTrip(ctx, companyID, tripID)
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, tripID, availabilityID int64) (*Availability, error) {
	return tx.repo.Get(ctx, tripID, availabilityID)
}

func (tx *memoryTx) Insert(ctx context.Context, av *Availability) (int64, error) {
	tx.repo.nextID++
	stored := copyBlock(av)
	stored.ID = tx.repo.nextID
	tx.repo.blocks[stored.ID] = stored
	return stored.ID, nil
}

func (tx *memoryTx) ReplaceCabins(ctx context.Context, availabilityID int64, cabins []CabinBlock, agentID *int64, actor shared.Actor) error {
	av, ok := tx.repo.blocks[availabilityID]
	if !ok {
		return fmt.Errorf("%w %d", ErrNotFound, availabilityID)
	}
	av.Cabins = append([]CabinBlock(nil), cabins...)
	av.AllocatedAgentID = agentID
	av.UpdatedBy = actor
	return nil
}

func (tx *memoryTx) MarkDeleted(ctx context.Context, availabilityID int64, actor shared.Actor) error {
	av, ok := tx.repo.blocks[availabilityID]
	if !ok {
		return fmt.Errorf("%w %d", ErrNotFound, availabilityID)
	}
	av.IsDeleted = true
	av.UpdatedBy = actor
	return nil
}

func (tx *memoryTx) ApplyTripDelta(ctx context.Context, tripID int64, seatType fleet.SeatType, cabinDeltas map[int64]int, totalDelta int, actor shared.Actor) error {
	t := tx.repo.trip
	switch seatType {
	case fleet.SeatTypePassenger:
		t.RemainingPassengerSeats += totalDelta
	case fleet.SeatTypeCargo:
		t.RemainingCargoSeats += totalDelta
	case fleet.SeatTypeVehicle:
		t.RemainingVehicleSeats += totalDelta
	}
	if t.RemainingFor(seatType) < 0 {
		return fmt.Errorf("aggregate %s went negative", seatType)
	}
	details := t.CapacityDetails.ForType(seatType)
	for cabinID, delta := range cabinDeltas {
		if delta == 0 {
			continue
		}
		found := false
		for i := range details {
			if details[i].CabinID == cabinID {
				details[i].RemainingSeat += delta
				if details[i].RemainingSeat < 0 {
					return fmt.Errorf("mirror entry for cabin %d went negative", cabinID)
				}
				found = true
			}
		}
		if !found {
			return fmt.Errorf("mirror entry for cabin %d missing", cabinID)
		}
	}
	return nil
}

type catalogStub struct {
	catalog fleet.Catalog
	cabins  map[int64]fleet.Cabin
}

func (c *catalogStub) GetCatalog(ctx context.Context, shipID int64) (fleet.Catalog, error) {
	return c.catalog, nil
}

func (c *catalogStub) GetCabins(ctx context.Context, companyID int64, ids []int64) (map[int64]fleet.Cabin, error) {
	result := map[int64]fleet.Cabin{}
	for _, id := range ids {
		if cabin, ok := c.cabins[id]; ok {
			result[id] = cabin
		}
	}
	return result, nil
}

const (
	testCompanyID = int64(1)
	testTripID    = int64(10)
)

func testTrip() *trips.Trip {
	return &trips.Trip{
		ID:                      testTripID,
		CompanyID:               testCompanyID,
		ShipID:                  1,
		RemainingPassengerSeats: 150,
		RemainingCargoSeats:     40,
		CapacityDetails: trips.CapacityDetails{
			Passenger: []trips.CabinDetail{
				{CabinID: 1, Capacity: 100, RemainingSeat: 100},
				{CabinID: 2, Capacity: 50, RemainingSeat: 50},
			},
			Cargo: []trips.CabinDetail{
				{CabinID: 3, Capacity: 40, RemainingSeat: 40},
			},
		},
	}
}

func testCatalog() *catalogStub {
	return &catalogStub{
		catalog: fleet.Catalog{
			fleet.SeatTypePassenger: {{CabinID: 1, Seats: 100}, {CabinID: 2, Seats: 50}},
			fleet.SeatTypeCargo:     {{CabinID: 3, Seats: 40}},
		},
		cabins: map[int64]fleet.Cabin{
			1: {ID: 1, CompanyID: testCompanyID, ShipID: 1, Name: "Economy Deck", Type: fleet.SeatTypePassenger},
			2: {ID: 2, CompanyID: testCompanyID, ShipID: 1, Name: "Business Deck", Type: fleet.SeatTypePassenger},
			3: {ID: 3, CompanyID: testCompanyID, ShipID: 1, Name: "Cargo Hold A", Type: fleet.SeatTypeCargo},
		},
	}
}

func testActor() shared.Actor {
	return shared.Actor{ID: 7, Name: "ops", Type: shared.ActorTypeUser}
}

func requireConservation(t *testing.T, trip *trips.Trip) {
	t.Helper()
	for _, seatType := range fleet.SeatTypes() {
		sum := 0
		for _, d := range trip.CapacityDetails.ForType(seatType) {
			sum += d.RemainingSeat
		}
		require.Equal(t, trip.RemainingFor(seatType), sum, "aggregate and mirror disagree for %s", seatType)
	}
}

func TestCreateBlockMovesSeatsOutOfTripMirror(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)

	created, err := svc.CreateBatch(context.Background(), testCompanyID, testTripID, CreateBatchRequest{
		Availabilities: []BlockInput{
			{Type: "passenger", Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 60}}},
		},
	}, testActor())
	require.NoError(t, err)
	require.Len(t, created, 1)
	require.Equal(t, 60, created[0].TotalSeats())
	require.Equal(t, 0, created[0].TotalAllocated())

	require.Equal(t, 90, repo.trip.RemainingPassengerSeats)
	remaining, ok := repo.trip.MirrorRemaining(fleet.SeatTypePassenger, 1)
	require.True(t, ok)
	require.Equal(t, 40, remaining)
	requireConservation(t, repo.trip)
}

func TestCreateBatchIsAtomic(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)

	_, err := svc.CreateBatch(context.Background(), testCompanyID, testTripID, CreateBatchRequest{
		Availabilities: []BlockInput{
			{Type: "passenger", Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 60}}},
			{Type: "passenger", Cabins: []CabinSeatsInput{{CabinID: 2, Seats: 80}}},
		},
	}, testActor())
	require.ErrorIs(t, err, ErrCabinCeiling)

	require.Equal(t, 150, repo.trip.RemainingPassengerSeats)
	require.Empty(t, repo.blocks)
	requireConservation(t, repo.trip)
}

func TestCreateBatchChecksTripCeilingAcrossTheBatch(t *testing.T) {
	trip := testTrip()
	// simulate earlier draws: only 90 passenger seats left on the trip
	trip.RemainingPassengerSeats = 90
	trip.CapacityDetails.Passenger[0].RemainingSeat = 40
	repo := newMemoryRepo(trip)
	svc := NewService(repo, testCatalog(), nil, nil, nil)

	_, err := svc.CreateBatch(context.Background(), testCompanyID, testTripID, CreateBatchRequest{
		Availabilities: []BlockInput{
			{Type: "passenger", Cabins: []CabinSeatsInput{{CabinID: 2, Seats: 50}}},
			{Type: "passenger", Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 41}}},
		},
	}, testActor())
	require.ErrorIs(t, err, ErrTripCeiling)
	require.Contains(t, err.Error(), "only 90 passenger seats")
	require.Empty(t, repo.blocks)
}

func TestCreateBatchRejectsDrawFromExhaustedCabin(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)
	createBlock(t, svc, []CabinSeatsInput{{CabinID: 2, Seats: 50}})

	// The trip still has 100 passenger seats in cabin 1, but cabin 2 is empty.
	_, err := svc.CreateBatch(context.Background(), testCompanyID, testTripID, CreateBatchRequest{
		Availabilities: []BlockInput{
			{Type: "passenger", Cabins: []CabinSeatsInput{{CabinID: 2, Seats: 10}}},
		},
	}, testActor())
	require.ErrorIs(t, err, ErrCabinCeiling)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Contains(t, err.Error(), "cabin 2 has 0 passenger seats remaining")
	require.Contains(t, err.Error(), "requested 10")
	require.Len(t, repo.blocks, 1)
	requireConservation(t, repo.trip)
}

func TestCreateBatchChecksCabinMirrorAcrossTheBatch(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)

	// Each block alone fits cabin 1, together they overdraw its 100 seats
	// while the trip aggregate of 150 still has room.
	_, err := svc.CreateBatch(context.Background(), testCompanyID, testTripID, CreateBatchRequest{
		Availabilities: []BlockInput{
			{Type: "passenger", Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 60}}},
			{Type: "passenger", Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 50}}},
		},
	}, testActor())
	require.ErrorIs(t, err, ErrCabinCeiling)
	require.Contains(t, err.Error(), "cabin 1 has 100 passenger seats remaining")
	require.Contains(t, err.Error(), "requested 110")
	require.Empty(t, repo.blocks)
	requireConservation(t, repo.trip)
}

func TestCreateBlockRejectsCabinTypeMismatch(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)

	_, err := svc.CreateBatch(context.Background(), testCompanyID, testTripID, CreateBatchRequest{
		Availabilities: []BlockInput{
			{Type: "passenger", Cabins: []CabinSeatsInput{{CabinID: 3, Seats: 10}}},
		},
	}, testActor())
	require.ErrorIs(t, err, ErrCabinTypeMismatch)
}

func createBlock(t *testing.T, svc *Service, cabins []CabinSeatsInput) Availability {
	t.Helper()
	created, err := svc.CreateBatch(context.Background(), testCompanyID, testTripID, CreateBatchRequest{
		Availabilities: []BlockInput{{Type: "passenger", Cabins: cabins}},
	}, testActor())
	require.NoError(t, err)
	require.Len(t, created, 1)
	return created[0]
}

func TestUpdateResizesPerCabin(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)
	block := createBlock(t, svc, []CabinSeatsInput{{CabinID: 1, Seats: 60}, {CabinID: 2, Seats: 20}})

	// same total, redistributed: cabin 1 shrinks, cabin 2 grows
	updated, err := svc.Update(context.Background(), testCompanyID, testTripID, block.ID, UpdateRequest{
		Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 40}, {CabinID: 2, Seats: 40}},
	}, testActor())
	require.NoError(t, err)
	require.Equal(t, 80, updated.TotalSeats())

	require.Equal(t, 70, repo.trip.RemainingPassengerSeats)
	c1, _ := repo.trip.MirrorRemaining(fleet.SeatTypePassenger, 1)
	c2, _ := repo.trip.MirrorRemaining(fleet.SeatTypePassenger, 2)
	require.Equal(t, 60, c1)
	require.Equal(t, 10, c2)
	requireConservation(t, repo.trip)
}

func TestUpdateGrowRespectsTripCeiling(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)
	block := createBlock(t, svc, []CabinSeatsInput{{CabinID: 1, Seats: 100}})

	_, err := svc.Update(context.Background(), testCompanyID, testTripID, block.ID, UpdateRequest{
		Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 100}, {CabinID: 2, Seats: 51}},
	}, testActor())
	require.ErrorIs(t, err, ErrCabinCeiling)

	_, err = svc.Update(context.Background(), testCompanyID, testTripID, block.ID, UpdateRequest{
		Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 100}, {CabinID: 2, Seats: 50}},
	}, testActor())
	require.NoError(t, err)
	require.Equal(t, 0, repo.trip.RemainingPassengerSeats)
	requireConservation(t, repo.trip)
}

func TestUpdateRejectsGrowBeyondCabinMirror(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)
	block := createBlock(t, svc, []CabinSeatsInput{{CabinID: 1, Seats: 60}})
	createBlock(t, svc, []CabinSeatsInput{{CabinID: 1, Seats: 40}})

	// Cabin 1's mirror is empty; the aggregate still holds cabin 2's 50 seats.
	_, err := svc.Update(context.Background(), testCompanyID, testTripID, block.ID, UpdateRequest{
		Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 70}},
	}, testActor())
	require.ErrorIs(t, err, ErrCabinCeiling)
	require.ErrorIs(t, err, httpx.ErrValidation)
	require.Contains(t, err.Error(), "cabin 1 has 0 passenger seats remaining")
	require.Contains(t, err.Error(), "requested 10")
	requireConservation(t, repo.trip)
}

func TestUpdateRejectsShrinkBelowGrantedSeats(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)
	block := createBlock(t, svc, []CabinSeatsInput{{CabinID: 1, Seats: 60}})
	repo.blocks[block.ID].Cabins[0].AllocatedSeats = 50

	_, err := svc.Update(context.Background(), testCompanyID, testTripID, block.ID, UpdateRequest{
		Cabins: []CabinSeatsInput{{CabinID: 1, Seats: 40}},
	}, testActor())
	require.ErrorIs(t, err, ErrSeatsBelowGranted)
	require.Equal(t, 90, repo.trip.RemainingPassengerSeats)
}

func TestUpdateRejectsRemovingCabinWithGrants(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)
	block := createBlock(t, svc, []CabinSeatsInput{{CabinID: 1, Seats: 60}, {CabinID: 2, Seats: 20}})
	repo.blocks[block.ID].Cabins[0].AllocatedSeats = 10

	_, err := svc.Update(context.Background(), testCompanyID, testTripID, block.ID, UpdateRequest{
		Cabins: []CabinSeatsInput{{CabinID: 2, Seats: 20}},
	}, testActor())
	require.ErrorIs(t, err, ErrSeatsBelowGranted)
}

func TestSoftDeleteReturnsSeatsToTrip(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)
	block := createBlock(t, svc, []CabinSeatsInput{{CabinID: 1, Seats: 60}})
	require.Equal(t, 90, repo.trip.RemainingPassengerSeats)

	trip, err := svc.SoftDelete(context.Background(), testCompanyID, testTripID, block.ID, testActor())
	require.NoError(t, err)
	require.Equal(t, 150, trip.RemainingPassengerSeats)
	require.True(t, repo.blocks[block.ID].IsDeleted)
	requireConservation(t, repo.trip)
}

func TestSoftDeleteRejectedWhileSeatsGranted(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)
	block := createBlock(t, svc, []CabinSeatsInput{{CabinID: 1, Seats: 60}})
	repo.blocks[block.ID].Cabins[0].AllocatedSeats = 5

	_, err := svc.SoftDelete(context.Background(), testCompanyID, testTripID, block.ID, testActor())
	require.ErrorIs(t, err, ErrOutstandingGrants)
	require.Equal(t, 90, repo.trip.RemainingPassengerSeats)
	require.False(t, repo.blocks[block.ID].IsDeleted)
}

func TestTripSummaryReportsStoredCounters(t *testing.T) {
	repo := newMemoryRepo(testTrip())
	svc := NewService(repo, testCatalog(), nil, nil, nil)
	block := createBlock(t, svc, []CabinSeatsInput{{CabinID: 1, Seats: 60}})
	repo.blocks[block.ID].Cabins[0].AllocatedSeats = 25

	summary, err := svc.TripSummary(context.Background(), testCompanyID, testTripID)
	require.NoError(t, err)
	require.Equal(t, testTripID, summary.TripID)

	var passenger TypeSummary
	for _, ts := range summary.Types {
		if ts.Type == fleet.SeatTypePassenger {
			passenger = ts
		}
	}
	require.Equal(t, 60, passenger.Total)
	require.Equal(t, 25, passenger.Allocated)
	require.Equal(t, 90, passenger.Remaining)
}
