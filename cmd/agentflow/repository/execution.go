package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/db"
)

// ExecutionRepository handles database operations for executions
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

const executionColumns = `id, workflow_id, thread_id, status, input_data, output_data, error_message, created_at, started_at, completed_at`

// Create inserts a new execution record
func (r *ExecutionRepository) Create(ctx context.Context, exec *models.Execution) error {
	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		exec.ID,
		exec.WorkflowID,
		exec.ThreadID,
		exec.Status,
		exec.InputData,
		exec.OutputData,
		exec.ErrorMessage,
		exec.CreatedAt,
		exec.StartedAt,
		exec.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// GetByID retrieves an execution without its steps
func (r *ExecutionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	exec := &models.Execution{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&exec.ID,
		&exec.WorkflowID,
		&exec.ThreadID,
		&exec.Status,
		&exec.InputData,
		&exec.OutputData,
		&exec.ErrorMessage,
		&exec.CreatedAt,
		&exec.StartedAt,
		&exec.CompletedAt,
	)

	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("execution", id)
		}
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return exec, nil
}

// List retrieves a page of executions matching the filter, newest first
func (r *ExecutionRepository) List(ctx context.Context, filter models.ExecutionFilter, limit, offset int) ([]*models.Execution, int, error) {
	where, args := buildExecutionFilter(filter)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM executions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count executions: %w", err)
	}

	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT `+executionColumns+`
		FROM executions%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var executions []*models.Execution
	for rows.Next() {
		exec := &models.Execution{}
		err := rows.Scan(
			&exec.ID,
			&exec.WorkflowID,
			&exec.ThreadID,
			&exec.Status,
			&exec.InputData,
			&exec.OutputData,
			&exec.ErrorMessage,
			&exec.CreatedAt,
			&exec.StartedAt,
			&exec.CompletedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, total, nil
}

// Update persists the mutable execution fields
func (r *ExecutionRepository) Update(ctx context.Context, exec *models.Execution) error {
	query := `
		UPDATE executions
		SET status = $2, output_data = $3, error_message = $4, started_at = $5, completed_at = $6
		WHERE id = $1
	`

	tag, err := r.db.Exec(
		ctx,
		query,
		exec.ID,
		exec.Status,
		exec.OutputData,
		exec.ErrorMessage,
		exec.StartedAt,
		exec.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("execution", exec.ID)
	}

	return nil
}

// Delete removes an execution; its steps cascade
func (r *ExecutionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM executions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("execution", id)
	}

	return nil
}

// buildExecutionFilter renders the WHERE clause for list queries.
// Returned args line up with $1..$n placeholders.
func buildExecutionFilter(filter models.ExecutionFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if filter.WorkflowID != nil {
		args = append(args, *filter.WorkflowID)
		clauses = append(clauses, fmt.Sprintf("workflow_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
