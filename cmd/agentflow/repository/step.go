package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/db"
)

// StepRepository handles database operations for execution steps
type StepRepository struct {
	db *db.DB
}

// NewStepRepository creates a new step repository
func NewStepRepository(database *db.DB) *StepRepository {
	return &StepRepository{db: database}
}

// Create inserts a step in its opening state
func (r *StepRepository) Create(ctx context.Context, step *models.ExecutionStep) error {
	query := `
		INSERT INTO execution_steps (id, execution_id, node_id, node_type, status, input_data, output_data, error_message, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.Exec(
		ctx,
		query,
		step.ID,
		step.ExecutionID,
		step.NodeID,
		step.NodeType,
		step.Status,
		step.InputData,
		step.OutputData,
		step.ErrorMessage,
		step.StartedAt,
		step.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create execution step: %w", err)
	}

	return nil
}

// Update persists the closing fields of a step
func (r *StepRepository) Update(ctx context.Context, step *models.ExecutionStep) error {
	return updateStep(ctx, r.db, step)
}

func updateStep(ctx context.Context, q querier, step *models.ExecutionStep) error {
	query := `
		UPDATE execution_steps
		SET status = $2, output_data = $3, error_message = $4, completed_at = $5
		WHERE id = $1
	`

	_, err := q.Exec(
		ctx,
		query,
		step.ID,
		step.Status,
		step.OutputData,
		step.ErrorMessage,
		step.CompletedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update execution step: %w", err)
	}

	return nil
}

// ListByExecution retrieves all steps of an execution in start order
func (r *StepRepository) ListByExecution(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionStep, error) {
	query := `
		SELECT id, execution_id, node_id, node_type, status, input_data, output_data, error_message, started_at, completed_at
		FROM execution_steps
		WHERE execution_id = $1
		ORDER BY started_at, id
	`

	rows, err := r.db.Query(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list execution steps: %w", err)
	}
	defer rows.Close()

	var steps []*models.ExecutionStep
	for rows.Next() {
		step := &models.ExecutionStep{}
		err := rows.Scan(
			&step.ID,
			&step.ExecutionID,
			&step.NodeID,
			&step.NodeType,
			&step.Status,
			&step.InputData,
			&step.OutputData,
			&step.ErrorMessage,
			&step.StartedAt,
			&step.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution step: %w", err)
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution steps: %w", err)
	}

	return steps, nil
}

// Progress returns the number of distinct completed nodes and the node
// currently running, if any
func (r *StepRepository) Progress(ctx context.Context, executionID uuid.UUID) (int, *string, error) {
	var completed int
	err := r.db.QueryRow(
		ctx,
		`SELECT COUNT(DISTINCT node_id) FROM execution_steps WHERE execution_id = $1 AND status = $2`,
		executionID,
		models.StatusCompleted,
	).Scan(&completed)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to count completed steps: %w", err)
	}

	var current *string
	err = r.db.QueryRow(
		ctx,
		`SELECT node_id FROM execution_steps WHERE execution_id = $1 AND status = $2 ORDER BY started_at DESC, id LIMIT 1`,
		executionID,
		models.StatusRunning,
	).Scan(&current)
	if err != nil && !isNoRows(err) {
		return 0, nil, fmt.Errorf("failed to find running step: %w", err)
	}

	return completed, current, nil
}
