package agents

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads the agent directory from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a company's agent regardless of status.
func (r *Repository) Get(ctx context.Context, companyID, agentID int64) (*Agent, error) {
	var agent Agent
	err := r.pool.QueryRow(ctx, `SELECT id, company_id, name, status, created_at
FROM agents WHERE id=$1 AND company_id=$2 AND is_deleted=FALSE`, agentID, companyID).
		Scan(&agent.ID, &agent.CompanyID, &agent.Name, &agent.Status, &agent.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w %d", ErrNotFound, agentID)
		}
		return nil, err
	}
	return &agent, nil
}

// GetActive loads an agent and verifies it may receive allocations.
func (r *Repository) GetActive(ctx context.Context, companyID, agentID int64) (*Agent, error) {
	agent, err := r.Get(ctx, companyID, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != StatusActive {
		return nil, fmt.Errorf("%w (agent %d is %s)", ErrInactive, agent.ID, agent.Status)
	}
	return agent, nil
}
