package availability

type CabinSeatsInput struct {
	CabinID int64 `json:"cabin" validate:"required,gt=0"`
	Seats   int   `json:"seats" validate:"required,gt=0"`
}

type BlockInput struct {
	Type   string            `json:"type" validate:"required,oneof=passenger cargo vehicle"`
	Cabins []CabinSeatsInput `json:"cabins" validate:"required,min=1,dive"`
}

// CreateBatchRequest creates one or more blocks atomically. The idempotency
// key comes from the Idempotency-Key header, not the body.
type CreateBatchRequest struct {
	Availabilities []BlockInput `json:"availabilities" validate:"required,min=1,dive"`
	IdempotencyKey string       `json:"-"`
}

type UpdateRequest struct {
	Cabins           []CabinSeatsInput `json:"cabins" validate:"required,min=1,dive"`
	AllocatedAgentID *int64            `json:"allocatedAgent,omitempty"`
}
