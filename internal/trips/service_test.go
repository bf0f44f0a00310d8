package trips

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/shared"
)

type memoryRepo struct {
	trips  map[int64]*Trip
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{trips: map[int64]*Trip{}}
}

func (r *memoryRepo) Create(ctx context.Context, trip *Trip) (int64, error) {
	for _, existing := range r.trips {
		if existing.CompanyID == trip.CompanyID && existing.Code == trip.Code {
			return 0, fmt.Errorf("%w (%s)", ErrDuplicateCode, trip.Code)
		}
	}
	r.nextID++
	stored := *trip
	stored.ID = r.nextID
	r.trips[stored.ID] = &stored
	return stored.ID, nil
}

func (r *memoryRepo) Get(ctx context.Context, companyID, tripID int64) (*Trip, error) {
	trip, ok := r.trips[tripID]
	if !ok || trip.CompanyID != companyID {
		return nil, fmt.Errorf("%w %d", ErrNotFound, tripID)
	}
	clone := *trip
	return &clone, nil
}

func (r *memoryRepo) List(ctx context.Context, req ListTripsRequest) ([]Trip, int, error) {
	var out []Trip
	for _, trip := range r.trips {
		if trip.CompanyID == req.CompanyID {
			out = append(out, *trip)
		}
	}
	return out, len(out), nil
}

type catalogStub struct {
	ships    map[int64]*fleet.Ship
	catalogs map[int64]fleet.Catalog
}

func (c *catalogStub) GetShip(ctx context.Context, companyID, shipID int64) (*fleet.Ship, error) {
	ship, ok := c.ships[shipID]
	if !ok || ship.CompanyID != companyID {
		return nil, fmt.Errorf("%w %d", fleet.ErrShipNotFound, shipID)
	}
	return ship, nil
}

func (c *catalogStub) GetCatalog(ctx context.Context, shipID int64) (fleet.Catalog, error) {
	return c.catalogs[shipID], nil
}

func testCatalog() *catalogStub {
	return &catalogStub{
		ships: map[int64]*fleet.Ship{
			1: {ID: 1, CompanyID: 1, Name: "MV Selat Biru"},
		},
		catalogs: map[int64]fleet.Catalog{
			1: {
				fleet.SeatTypePassenger: {{CabinID: 1, Seats: 320}, {CabinID: 2, Seats: 96}},
				fleet.SeatTypeCargo:     {{CabinID: 3, Seats: 40}},
				fleet.SeatTypeVehicle:   {{CabinID: 4, Seats: 28}},
			},
		},
	}
}

func createRequest() CreateTripRequest {
	departs := time.Date(2026, 9, 7, 8, 0, 0, 0, time.UTC)
	return CreateTripRequest{
		ShipID:          1,
		Code:            "HL-SB-901",
		OriginPort:      "Makassar",
		DestinationPort: "Baubau",
		DepartsAt:       departs,
		ArrivesAt:       departs.Add(18 * time.Hour),
	}
}

func TestCreateSnapshotsCatalogIntoMirror(t *testing.T) {
	svc := NewService(newMemoryRepo(), testCatalog(), nil)

	trip, err := svc.Create(context.Background(), 1, createRequest(), shared.Actor{ID: 7, Name: "ops", Type: shared.ActorTypeUser})
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, trip.Status)

	require.Equal(t, 416, trip.RemainingPassengerSeats)
	require.Equal(t, 40, trip.RemainingCargoSeats)
	require.Equal(t, 28, trip.RemainingVehicleSeats)

	require.Len(t, trip.CapacityDetails.Passenger, 2)
	for _, detail := range trip.CapacityDetails.Passenger {
		require.Equal(t, detail.Capacity, detail.RemainingSeat)
	}
	remaining, ok := trip.MirrorRemaining(fleet.SeatTypePassenger, 2)
	require.True(t, ok)
	require.Equal(t, 96, remaining)
}

func TestCreateRejectsUnknownShip(t *testing.T) {
	svc := NewService(newMemoryRepo(), testCatalog(), nil)

	req := createRequest()
	req.ShipID = 99
	_, err := svc.Create(context.Background(), 1, req, shared.Actor{Name: "ops"})
	require.ErrorIs(t, err, fleet.ErrShipNotFound)
}

func TestCreateRejectsShipOfAnotherCompany(t *testing.T) {
	svc := NewService(newMemoryRepo(), testCatalog(), nil)

	_, err := svc.Create(context.Background(), 2, createRequest(), shared.Actor{Name: "ops"})
	require.ErrorIs(t, err, fleet.ErrShipNotFound)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, testCatalog(), nil)

	_, err := svc.Create(context.Background(), 1, createRequest(), shared.Actor{Name: "ops"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), 1, createRequest(), shared.Actor{Name: "ops"})
	require.ErrorIs(t, err, ErrDuplicateCode)
}
