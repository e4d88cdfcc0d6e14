package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/db"
)

// ToolRepository handles database operations for tool definitions
type ToolRepository struct {
	db *db.DB
}

// NewToolRepository creates a new tool repository
func NewToolRepository(database *db.DB) *ToolRepository {
	return &ToolRepository{db: database}
}

const toolColumns = `id, name, description, parameters, implementation, config, created_at, updated_at`

// Create inserts a new tool definition
func (r *ToolRepository) Create(ctx context.Context, tool *models.Tool) error {
	query := `
		INSERT INTO tools (` + toolColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		tool.ID,
		tool.Name,
		tool.Description,
		tool.Parameters,
		tool.Implementation,
		tool.Config,
		tool.CreatedAt,
		tool.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Newf(apperror.KindConflict, "tool name already exists: %s", tool.Name)
		}
		return fmt.Errorf("failed to create tool: %w", err)
	}

	return nil
}

// GetByID retrieves a tool by its ID
func (r *ToolRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tool, error) {
	query := `SELECT ` + toolColumns + ` FROM tools WHERE id = $1`

	tool := &models.Tool{}
	err := r.db.QueryRow(ctx, query, id).Scan(
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
		if isNoRows(err) {
			return nil, apperror.NotFound("tool", id)
		}
		return nil, fmt.Errorf("failed to get tool: %w", err)
	}

	return tool, nil
}

// GetByIDs retrieves several tools at once. Missing IDs are reported as
// a not_found error so binding requests fail loudly.
func (r *ToolRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Tool, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + toolColumns + ` FROM tools WHERE id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get tools: %w", err)
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*models.Tool, len(ids))
	for rows.Next() {
		tool := &models.Tool{}
		err := rows.Scan(
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
			return nil, fmt.Errorf("failed to scan tool: %w", err)
		}
		byID[tool.ID] = tool
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tools: %w", err)
	}

	tools := make([]*models.Tool, 0, len(ids))
	for _, id := range ids {
		tool, ok := byID[id]
		if !ok {
			return nil, apperror.NotFound("tool", id)
		}
		tools = append(tools, tool)
	}

	return tools, nil
}

// List retrieves a page of tools ordered by creation time, newest first
func (r *ToolRepository) List(ctx context.Context, limit, offset int) ([]*models.Tool, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tools`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count tools: %w", err)
	}

	query := `
		SELECT ` + toolColumns + `
		FROM tools
		ORDER BY created_at DESC, id
		LIMIT $1 OFFSET $2
	`

	rows, err := r.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tools: %w", err)
	}
	defer rows.Close()

	var tools []*models.Tool
	for rows.Next() {
		tool := &models.Tool{}
		err := rows.Scan(
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
			return nil, 0, fmt.Errorf("failed to scan tool: %w", err)
		}
		tools = append(tools, tool)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating tools: %w", err)
	}

	return tools, total, nil
}

// Update persists the full tool row
func (r *ToolRepository) Update(ctx context.Context, tool *models.Tool) error {
	query := `
		UPDATE tools
		SET name = $2, description = $3, parameters = $4, implementation = $5, config = $6, updated_at = $7
		WHERE id = $1
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		tool.ID,
		tool.Name,
		tool.Description,
		tool.Parameters,
		tool.Implementation,
		tool.Config,
		tool.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Newf(apperror.KindConflict, "tool name already exists: %s", tool.Name)
		}
		return fmt.Errorf("failed to update tool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("tool", tool.ID)
	}

	return nil
}

// Delete removes a tool; bindings in agent_tools cascade
func (r *ToolRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM tools WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tool: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("tool", id)
	}

	return nil
}
