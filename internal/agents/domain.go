// Package agents exposes the read-only sales agent directory. Agent CRUD is
// managed elsewhere; the allocation engine only verifies that a grant target
// is an active agent of the requesting company.
package agents

import (
	"fmt"
	"time"

	"github.com/harborline/harborline/internal/platform/httpx"
)

// Status enumerates agent lifecycle states.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Agent is a company's ticket sales agent.
type Agent struct {
	ID        int64     `json:"id"`
	CompanyID int64     `json:"company_id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

var (
	// ErrNotFound covers absent, soft-deleted and cross-company agents.
	ErrNotFound = fmt.Errorf("%w: agent", httpx.ErrNotFound)
	// ErrInactive indicates the agent exists but cannot receive allocations.
	ErrInactive = fmt.Errorf("%w: agent is not active", httpx.ErrValidation)
)
