package trips

import (
	"context"
	"fmt"

	"github.com/harborline/harborline/internal/fleet"
	"github.com/harborline/harborline/internal/shared"
)

// CatalogPort abstracts the fleet capacity catalog.
type CatalogPort interface {
	GetShip(ctx context.Context, companyID, shipID int64) (*fleet.Ship, error)
	GetCatalog(ctx context.Context, shipID int64) (fleet.Catalog, error)
}

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, trip *Trip) (int64, error)
	Get(ctx context.Context, companyID, tripID int64) (*Trip, error)
	List(ctx context.Context, req ListTripsRequest) ([]Trip, int, error)
}

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service creates trips and initialises their capacity mirror.
type Service struct {
	repo    RepositoryPort
	catalog CatalogPort
	audit   AuditPort
}

// NewService builds Service.
func NewService(repo RepositoryPort, catalog CatalogPort, audit AuditPort) *Service {
	return &Service{repo: repo, catalog: catalog, audit: audit}
}

// Create registers a voyage and snapshots the ship's declared capacities into
// the trip mirror: one entry per (type, cabin) with remaining = declared, and
// per-type aggregates equal to the sums.
func (s *Service) Create(ctx context.Context, companyID int64, req CreateTripRequest, actor shared.Actor) (*Trip, error) {
	ship, err := s.catalog.GetShip(ctx, companyID, req.ShipID)
	if err != nil {
		return nil, fmt.Errorf("verify ship: %w", err)
	}
	catalog, err := s.catalog.GetCatalog(ctx, ship.ID)
	if err != nil {
		return nil, fmt.Errorf("load capacity catalog: %w", err)
	}

	trip := Trip{
		CompanyID:       companyID,
		ShipID:          ship.ID,
		Code:            req.Code,
		OriginPort:      req.OriginPort,
		DestinationPort: req.DestinationPort,
		DepartsAt:       req.DepartsAt,
		ArrivesAt:       req.ArrivesAt,
		Status:          StatusScheduled,
		CreatedBy:       actor,
		UpdatedBy:       actor,
	}
	for _, seatType := range fleet.SeatTypes() {
		var details []CabinDetail
		total := 0
		for _, entry := range catalog[seatType] {
			details = append(details, CabinDetail{
				CabinID:       entry.CabinID,
				Capacity:      entry.Seats,
				RemainingSeat: entry.Seats,
			})
			total += entry.Seats
		}
		switch seatType {
		case fleet.SeatTypePassenger:
			trip.CapacityDetails.Passenger = details
			trip.RemainingPassengerSeats = total
		case fleet.SeatTypeCargo:
			trip.CapacityDetails.Cargo = details
			trip.RemainingCargoSeats = total
		case fleet.SeatTypeVehicle:
			trip.CapacityDetails.Vehicle = details
			trip.RemainingVehicleSeats = total
		}
	}

	tripID, err := s.repo.Create(ctx, &trip)
	if err != nil {
		return nil, fmt.Errorf("create trip: %w", err)
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			Actor:    actor,
			Action:   "trip:create",
			Entity:   "trip",
			EntityID: fmt.Sprintf("%d", tripID),
			Meta: map[string]any{
				"ship_id":         ship.ID,
				"code":            req.Code,
				"passenger_seats": trip.RemainingPassengerSeats,
				"cargo_seats":     trip.RemainingCargoSeats,
				"vehicle_seats":   trip.RemainingVehicleSeats,
			},
		})
	}

	return s.repo.Get(ctx, companyID, tripID)
}

// Get returns a trip with its capacity snapshot.
func (s *Service) Get(ctx context.Context, companyID, tripID int64) (*Trip, error) {
	return s.repo.Get(ctx, companyID, tripID)
}

// List returns a page of trips.
func (s *Service) List(ctx context.Context, req ListTripsRequest) ([]Trip, int, error) {
	return s.repo.List(ctx, req)
}
