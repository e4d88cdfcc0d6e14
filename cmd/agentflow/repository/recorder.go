package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/lyzr/agentflow/cmd/agentflow/engine"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/db"
)

// Recorder adapts the repositories to the engine's persistence contract.
// When the checkpoint store shares the primary database handle, closing a
// step and saving its checkpoint commit in one transaction; with a
// dedicated checkpoint database the two writes are sequential.
type Recorder struct {
	database    *db.DB
	executions  *ExecutionRepository
	steps       *StepRepository
	checkpoints *CheckpointRepository
	atomic      bool
}

var _ engine.Recorder = (*Recorder)(nil)

// NewRecorder creates the engine-facing persistence facade. Pass the
// same handle twice when no dedicated checkpoint store is configured.
func NewRecorder(database, checkpointDB *db.DB) *Recorder {
	return &Recorder{
		database:    database,
		executions:  NewExecutionRepository(database),
		steps:       NewStepRepository(database),
		checkpoints: NewCheckpointRepository(checkpointDB),
		atomic:      database == checkpointDB,
	}
}

// UpdateExecution persists execution status transitions
func (r *Recorder) UpdateExecution(ctx context.Context, exec *models.Execution) error {
	return r.executions.Update(ctx, exec)
}

// OpenStep records a step in its running state
func (r *Recorder) OpenStep(ctx context.Context, step *models.ExecutionStep) error {
	return r.steps.Create(ctx, step)
}

// CloseStep finalises a step together with its checkpoint
func (r *Recorder) CloseStep(ctx context.Context, step *models.ExecutionStep, checkpoint *models.Checkpoint) error {
	if checkpoint == nil {
		return r.steps.Update(ctx, step)
	}

	if !r.atomic {
		if err := r.steps.Update(ctx, step); err != nil {
			return err
		}
		return r.checkpoints.Save(ctx, checkpoint)
	}

	return r.database.WithTx(ctx, func(tx pgx.Tx) error {
		if err := updateStep(ctx, tx, step); err != nil {
			return err
		}
		return saveCheckpoint(ctx, tx, checkpoint)
	})
}

// SaveCheckpoint persists a snapshot outside a step close
func (r *Recorder) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	return r.checkpoints.Save(ctx, checkpoint)
}

// LatestCheckpoint loads the newest snapshot of a thread, nil when none
func (r *Recorder) LatestCheckpoint(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	return r.checkpoints.LoadLatest(ctx, threadID)
}
