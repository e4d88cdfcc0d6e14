package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/db"
)

// AgentRepository handles database operations for agent definitions
type AgentRepository struct {
	db *db.DB
}

// NewAgentRepository creates a new agent repository
func NewAgentRepository(database *db.DB) *AgentRepository {
	return &AgentRepository{db: database}
}

const agentColumns = `id, name, description, provider, model, instructions, temperature, max_tokens, output_schema, created_at, updated_at`

// Create inserts an agent and its tool bindings in one transaction
func (r *AgentRepository) Create(ctx context.Context, agent *models.Agent, toolIDs []uuid.UUID) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO agents (` + agentColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`

		_, err := tx.Exec(
			ctx,
			query,
			agent.ID,
			agent.Name,
			agent.Description,
			agent.Provider,
			agent.Model,
			agent.Instructions,
			agent.Temperature,
			agent.MaxTokens,
			agent.OutputSchema,
			agent.CreatedAt,
			agent.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		return insertAgentTools(ctx, tx, agent.ID, toolIDs)
	})
}

// GetByID retrieves an agent with its bound tools
func (r *AgentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE id = $1`

	agent := &models.Agent{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&agent.ID,
		&agent.Name,
		&agent.Description,
		&agent.Provider,
		&agent.Model,
		&agent.Instructions,
		&agent.Temperature,
		&agent.MaxTokens,
		&agent.OutputSchema,
		&agent.CreatedAt,
		&agent.UpdatedAt,
	)

	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("agent", id)
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}

	toolsByAgent, err := r.loadTools(ctx, []uuid.UUID{id})
	if err != nil {
		return nil, err
	}
	agent.Tools = toolsByAgent[id]

	return agent, nil
}

// List retrieves a page of agents, newest first, with tools attached
func (r *AgentRepository) List(ctx context.Context, limit, offset int) ([]*models.Agent, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM agents`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count agents: %w", err)
	}

	query := `
		SELECT ` + agentColumns + `
		FROM agents
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	var ids []uuid.UUID
	for rows.Next() {
		agent := &models.Agent{}
		err := rows.Scan(
			&agent.ID,
			&agent.Name,
			&agent.Description,
			&agent.Provider,
			&agent.Model,
			&agent.Instructions,
			&agent.Temperature,
			&agent.MaxTokens,
			&agent.OutputSchema,
			&agent.CreatedAt,
			&agent.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, agent)
		ids = append(ids, agent.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating agents: %w", err)
	}

	toolsByAgent, err := r.loadTools(ctx, ids)
	if err != nil {
		return nil, 0, err
	}
	for _, agent := range agents {
		agent.Tools = toolsByAgent[agent.ID]
	}

	return agents, total, nil
}

// Update persists the agent row and, when replaceTools is set, swaps the
// tool bindings, all in one transaction
func (r *AgentRepository) Update(ctx context.Context, agent *models.Agent, toolIDs []uuid.UUID, replaceTools bool) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE agents
			SET name = $2, description = $3, provider = $4, model = $5, instructions = $6,
			    temperature = $7, max_tokens = $8, output_schema = $9, updated_at = $10
			WHERE id = $1
		`

		tag, err := tx.Exec(
			ctx,
			query,
			agent.ID,
			agent.Name,
			agent.Description,
			agent.Provider,
			agent.Model,
			agent.Instructions,
			agent.Temperature,
			agent.MaxTokens,
			agent.OutputSchema,
			agent.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update agent: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperror.NotFound("agent", agent.ID)
		}

		if !replaceTools {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM agent_tools WHERE agent_id = $1`, agent.ID); err != nil {
			return fmt.Errorf("failed to clear agent tools: %w", err)
		}
		return insertAgentTools(ctx, tx, agent.ID, toolIDs)
	})
}

// Delete removes an agent; its bindings cascade
func (r *AgentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("agent", id)
	}

	return nil
}

// BindTool attaches a tool to an agent. Re-binding an already bound
// tool is a no-op.
func (r *AgentRepository) BindTool(ctx context.Context, agentID, toolID uuid.UUID) error {
	_, err := r.db.Exec(
		ctx,
		`INSERT INTO agent_tools (agent_id, tool_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		agentID,
		toolID,
	)
	if err != nil {
		return fmt.Errorf("failed to bind tool %s: %w", toolID, err)
	}
	return nil
}

// UnbindTool detaches a tool from an agent
func (r *AgentRepository) UnbindTool(ctx context.Context, agentID, toolID uuid.UUID) error {
	tag, err := r.db.Exec(
		ctx,
		`DELETE FROM agent_tools WHERE agent_id = $1 AND tool_id = $2`,
		agentID,
		toolID,
	)
	if err != nil {
		return fmt.Errorf("failed to unbind tool %s: %w", toolID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("agent tool binding", toolID)
	}

	return nil
}

func insertAgentTools(ctx context.Context, tx pgx.Tx, agentID uuid.UUID, toolIDs []uuid.UUID) error {
	for _, toolID := range toolIDs {
		_, err := tx.Exec(
			ctx,
			`INSERT INTO agent_tools (agent_id, tool_id) VALUES ($1, $2)`,
			agentID,
			toolID,
		)
		if err != nil {
			return fmt.Errorf("failed to bind tool %s: %w", toolID, err)
		}
	}
	return nil
}

// loadTools fetches bound tools for a set of agents in one query,
// ordered by tool name for a stable provider-facing list.
func (r *AgentRepository) loadTools(ctx context.Context, agentIDs []uuid.UUID) (map[uuid.UUID][]*models.Tool, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT at.agent_id, t.id, t.name, t.description, t.parameters, t.implementation, t.config, t.created_at, t.updated_at
		FROM agent_tools at
		JOIN tools t ON t.id = at.tool_id
		WHERE at.agent_id = ANY($1)
		ORDER BY t.name, t.id
	`

	rows, err := r.db.Query(ctx, query, agentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent tools: %w", err)
	}
	defer rows.Close()

	result := make(map[uuid.UUID][]*models.Tool)
	for rows.Next() {
		var agentID uuid.UUID
		tool := &models.Tool{}
		err := rows.Scan(
			&agentID,
			&tool.ID,
			&tool.Name,
			&tool.Description,
			&tool.Parameters,
			&tool.Implementation,
			&tool.Config,
			&tool.CreatedAt,
			&tool.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent tool: %w", err)
		}
		result[agentID] = append(result[agentID], tool)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating agent tools: %w", err)
	}

	return result, nil
}
