package repository

import (
	"context"
	"fmt"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/db"
)

// CheckpointRepository handles database operations for state snapshots.
// It may point at a database other than the primary one.
type CheckpointRepository struct {
	db *db.DB
}

// NewCheckpointRepository creates a new checkpoint repository
func NewCheckpointRepository(database *db.DB) *CheckpointRepository {
	return &CheckpointRepository{db: database}
}

// Setup creates the checkpoint table on the checkpoint database
func (r *CheckpointRepository) Setup(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, checkpointSchema); err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

// Save upserts a checkpoint; a retried step overwrites its own slot
func (r *CheckpointRepository) Save(ctx context.Context, checkpoint *models.Checkpoint) error {
	return saveCheckpoint(ctx, r.db, checkpoint)
}

func saveCheckpoint(ctx context.Context, q querier, checkpoint *models.Checkpoint) error {
	query := `
		INSERT INTO workflow_checkpoints (thread_id, step_index, snapshot, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (thread_id, step_index)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, created_at = EXCLUDED.created_at
	`

	_, err := q.Exec(
		ctx,
		query,
		checkpoint.ThreadID,
		checkpoint.StepIndex,
		checkpoint.Snapshot,
		checkpoint.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	return nil
}

// LoadLatest retrieves the newest checkpoint for a thread, or nil when
// the thread has none
func (r *CheckpointRepository) LoadLatest(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	query := `
		SELECT thread_id, step_index, snapshot, created_at
		FROM workflow_checkpoints
		WHERE thread_id = $1
		ORDER BY step_index DESC
		LIMIT 1
	`

	checkpoint := &models.Checkpoint{}
	err := r.db.QueryRow(ctx, query, threadID).Scan(
		&checkpoint.ThreadID,
		&checkpoint.StepIndex,
		&checkpoint.Snapshot,
		&checkpoint.CreatedAt,
	)

	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	return checkpoint, nil
}

// DeleteThread removes every checkpoint of a thread
func (r *CheckpointRepository) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM workflow_checkpoints WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("failed to delete thread checkpoints: %w", err)
	}
	return nil
}
