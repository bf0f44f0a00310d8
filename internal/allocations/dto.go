package allocations

// CabinGrantInput is one cabin line of a grant request.
type CabinGrantInput struct {
	CabinID        int64 `json:"cabin" validate:"required,min=1"`
	AllocatedSeats *int  `json:"allocatedSeats" validate:"required,gte=0"`
}

// TypeAllocationInput is one typed group of cabin lines.
type TypeAllocationInput struct {
	Type   string            `json:"type" validate:"required,oneof=passenger cargo vehicle"`
	Cabins []CabinGrantInput `json:"cabins" validate:"required,min=1,dive"`
}

// CreateRequest grants seats from an availability block to an agent. The
// idempotency key comes from the Idempotency-Key header, not the body.
type CreateRequest struct {
	AgentID        int64                 `json:"agent" validate:"required,min=1"`
	Allocations    []TypeAllocationInput `json:"allocations" validate:"required,min=1,dive"`
	IdempotencyKey string                `json:"-"`
}

// UpdateRequest replaces the full set of grant lines of an allocation.
type UpdateRequest struct {
	Allocations []TypeAllocationInput `json:"allocations" validate:"required,min=1,dive"`
}

// ListRequest pages through a block's allocations.
type ListRequest struct {
	Page  int `validate:"min=1"`
	Limit int `validate:"min=1,max=100"`
}
