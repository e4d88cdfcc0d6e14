// Package engine drives compiled plans to completion: a checkpointed
// work-queue scheduler that owns one execution's state, step history,
// and event feed.
package engine

import (
	"context"
	"sync/atomic"

	"github.com/lyzr/agentflow/cmd/agentflow/compiler"
	"github.com/lyzr/agentflow/cmd/agentflow/condition"
	"github.com/lyzr/agentflow/cmd/agentflow/events"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
	"github.com/lyzr/agentflow/common/logger"
)

// Recorder persists the audit trail of a run: execution transitions,
// per-node steps, and the checkpoints written alongside them.
type Recorder interface {
	UpdateExecution(ctx context.Context, exec *models.Execution) error
	OpenStep(ctx context.Context, step *models.ExecutionStep) error

	// CloseStep finalises a step and, when checkpoint is non-nil,
	// persists it in the same transaction.
	CloseStep(ctx context.Context, step *models.ExecutionStep, checkpoint *models.Checkpoint) error

	SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error

	// LatestCheckpoint returns the newest checkpoint for a thread, nil
	// when the thread has none.
	LatestCheckpoint(ctx context.Context, threadID string) (*models.Checkpoint, error)
}

// Engine runs compiled plans. It holds no per-execution state; every
// run gets its own Run with its own frontier and cancel flag.
type Engine struct {
	recorder Recorder
	eval     *condition.Evaluator
	log      *logger.Logger
}

// New creates an engine on top of a recorder.
func New(recorder Recorder, log *logger.Logger) *Engine {
	return &Engine{
		recorder: recorder,
		eval:     condition.NewEvaluator(),
		log:      log.Named("engine"),
	}
}

// NewRun binds a compiled plan to an execution record. The caller keeps
// the returned Run to start it and, if needed, cancel it.
func (e *Engine) NewRun(plan *compiler.Plan, exec *models.Execution, emitter events.Emitter) *Run {
	if emitter == nil {
		emitter = events.Discard
	}
	return &Run{
		engine:   e,
		plan:     plan,
		exec:     exec,
		emitter:  emitter,
		recorder: e.recorder,
		log: e.log.WithFields(map[string]any{
			"execution_id": exec.ID.String(),
			"thread_id":    exec.ThreadID,
		}),
		st:     state.New(exec.InputData),
		cancel: &atomic.Bool{},
	}
}

// checkpointOnly backs nested sub-graph runs: they checkpoint under
// their own thread but own no execution row and no step history.
type checkpointOnly struct {
	inner Recorder
}

func (c checkpointOnly) UpdateExecution(context.Context, *models.Execution) error { return nil }

func (c checkpointOnly) OpenStep(context.Context, *models.ExecutionStep) error { return nil }

func (c checkpointOnly) CloseStep(ctx context.Context, _ *models.ExecutionStep, checkpoint *models.Checkpoint) error {
	if checkpoint == nil {
		return nil
	}
	return c.inner.SaveCheckpoint(ctx, checkpoint)
}

func (c checkpointOnly) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	return c.inner.SaveCheckpoint(ctx, checkpoint)
}

func (c checkpointOnly) LatestCheckpoint(ctx context.Context, threadID string) (*models.Checkpoint, error) {
	return c.inner.LatestCheckpoint(ctx, threadID)
}
