package trips

import "time"

type CreateTripRequest struct {
	ShipID          int64     `json:"ship" validate:"required,gt=0"`
	Code            string    `json:"code" validate:"required,max=32"`
	OriginPort      string    `json:"originPort" validate:"required,max=120"`
	DestinationPort string    `json:"destinationPort" validate:"required,max=120"`
	DepartsAt       time.Time `json:"departsAt" validate:"required"`
	ArrivesAt       time.Time `json:"arrivesAt" validate:"required,gtfield=DepartsAt"`
}

type ListTripsRequest struct {
	CompanyID int64
	ShipID    *int64
	Status    *Status
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	Limit     int
}
