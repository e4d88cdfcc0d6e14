package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
)

// querier is the subset of pgx shared by pools and transactions, so the
// same statements serve both paths.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Store bundles the entity lookups the workflow compiler needs.
type Store struct {
	workflows *WorkflowRepository
	agents    *AgentRepository
}

// NewStore creates a compiler-facing view over the entity repositories.
func NewStore(workflows *WorkflowRepository, agents *AgentRepository) *Store {
	return &Store{workflows: workflows, agents: agents}
}

// GetWorkflow loads a workflow with its nodes and edges.
func (s *Store) GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	return s.workflows.GetByID(ctx, id)
}

// GetAgent loads an agent with its bound tools.
func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	return s.agents.GetByID(ctx, id)
}
