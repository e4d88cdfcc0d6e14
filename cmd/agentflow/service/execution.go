package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/agents"
	"github.com/lyzr/agentflow/cmd/agentflow/compiler"
	"github.com/lyzr/agentflow/cmd/agentflow/engine"
	"github.com/lyzr/agentflow/cmd/agentflow/events"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/repository"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
	"github.com/lyzr/agentflow/common/ratelimit"
)

// ExecutionService drives workflow runs through their lifecycle. It
// keeps an in-process registry of live runs so cancellation reaches
// the scheduler's cooperative flag instead of only flipping a row.
type ExecutionService struct {
	executions *repository.ExecutionRepository
	steps      *repository.StepRepository
	workflows  *repository.WorkflowRepository
	compiler   *compiler.Compiler
	engine     *engine.Engine
	hub        *events.Hub
	relay      events.Emitter
	limiter    *ratelimit.Limiter
	log        *logger.Logger

	mu      sync.Mutex
	running map[uuid.UUID]*engine.Run
}

// NewExecutionService creates a new execution service. relay may be nil
// when no Redis relay is configured, limiter when limiting is off.
func NewExecutionService(
	executions *repository.ExecutionRepository,
	steps *repository.StepRepository,
	workflows *repository.WorkflowRepository,
	comp *compiler.Compiler,
	eng *engine.Engine,
	hub *events.Hub,
	relay events.Emitter,
	limiter *ratelimit.Limiter,
	log *logger.Logger,
) *ExecutionService {
	return &ExecutionService{
		executions: executions,
		steps:      steps,
		workflows:  workflows,
		compiler:   comp,
		engine:     eng,
		hub:        hub,
		relay:      relay,
		limiter:    limiter,
		log:        log,
		running:    map[uuid.UUID]*engine.Run{},
	}
}

// Execute runs a workflow to completion on the caller's context and
// returns the finished record. Failed runs return an execution error;
// cancelled runs return their record without one.
func (s *ExecutionService) Execute(ctx context.Context, req *models.ExecuteRequest) (*models.Execution, error) {
	exec, run, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	s.register(exec.ID, run)
	defer s.unregister(exec.ID)

	if err := s.finish(ctx, exec, run.Execute(ctx)); err != nil {
		return nil, err
	}
	return s.Get(ctx, exec.ID)
}

// ExecuteStream starts a workflow run in the background and returns a
// stream of its events. The run detaches from the request context so a
// dropped subscriber does not abort it; the stream closes when the run
// reaches a terminal status.
func (s *ExecutionService) ExecuteStream(ctx context.Context, req *models.ExecuteRequest) (*models.Execution, *events.Stream, error) {
	stream := events.NewStream()
	exec, run, err := s.prepare(ctx, req, stream)
	if err != nil {
		return nil, nil, err
	}
	s.register(exec.ID, run)

	go func() {
		defer s.unregister(exec.ID)
		defer stream.Close()
		if err := run.Execute(context.Background()); err != nil && !errors.Is(err, agents.ErrCancelled) {
			s.log.Error("streamed execution failed", "execution_id", exec.ID, "error", err)
		}
	}()

	return exec, stream, nil
}

// Get returns an execution with its steps
func (s *ExecutionService) Get(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	exec, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.steps.ListByExecution(ctx, id)
	if err != nil {
		return nil, err
	}
	exec.Steps = steps
	return exec, nil
}

// List returns one page of executions matching the filter
func (s *ExecutionService) List(ctx context.Context, filter models.ExecutionFilter) ([]*models.Execution, int, error) {
	limit, offset := pageToRange(filter.Page, filter.PageSize)
	return s.executions.List(ctx, filter, limit, offset)
}

// Status returns the execution record plus node-level progress
func (s *ExecutionService) Status(ctx context.Context, id uuid.UUID) (*models.ExecutionStatusResponse, error) {
	exec, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	total, err := s.workflows.CountNodes(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	completed, current, err := s.steps.Progress(ctx, id)
	if err != nil {
		return nil, err
	}

	percentage := 0
	switch {
	case exec.Status == models.StatusCompleted:
		percentage = 100
	case total > 0:
		percentage = completed * 100 / total
		if percentage > 100 {
			percentage = 100
		}
	}

	return &models.ExecutionStatusResponse{
		ID:           exec.ID,
		WorkflowID:   exec.WorkflowID,
		ThreadID:     exec.ThreadID,
		Status:       exec.Status,
		OutputData:   exec.OutputData,
		ErrorMessage: exec.ErrorMessage,
		CreatedAt:    exec.CreatedAt,
		StartedAt:    exec.StartedAt,
		CompletedAt:  exec.CompletedAt,
		Progress: &models.ExecutionProgress{
			CompletedNodes: completed,
			TotalNodes:     total,
			CurrentNode:    current,
			Percentage:     percentage,
		},
	}, nil
}

// Cancel requests cooperative cancellation. Terminal executions are
// returned unchanged; live runs get their flag raised and transition
// once the scheduler observes it; rows with no run in this process are
// marked cancelled directly.
func (s *ExecutionService) Cancel(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	exec, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if exec.Status.IsTerminal() {
		return exec, nil
	}

	if run, ok := s.lookup(id); ok {
		run.Cancel()
		s.log.Info("cancellation requested", "execution_id", id)
		return s.executions.GetByID(ctx, id)
	}

	now := time.Now().UTC()
	msg := agents.ErrCancelled.Error()
	exec.Status = models.StatusCancelled
	exec.ErrorMessage = &msg
	exec.CompletedAt = &now
	if err := s.executions.Update(ctx, exec); err != nil {
		return nil, err
	}

	s.log.Info("execution cancelled without live run", "execution_id", id)
	return exec, nil
}

// Resume continues a cancelled or failed execution from its latest
// checkpoint under a new record on the same thread. Resuming a
// completed execution is a no-op that returns the existing record;
// pending and running executions cannot be resumed.
func (s *ExecutionService) Resume(ctx context.Context, id uuid.UUID) (*models.Execution, bool, error) {
	prior, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}

	switch prior.Status {
	case models.StatusCompleted:
		exec, err := s.Get(ctx, id)
		return exec, false, err
	case models.StatusCancelled, models.StatusFailed:
	default:
		return nil, false, apperror.Newf(apperror.KindConflict, "cannot resume execution with status %s", prior.Status)
	}

	exec := &models.Execution{
		ID:         uuid.New(),
		WorkflowID: prior.WorkflowID,
		ThreadID:   prior.ThreadID,
		Status:     models.StatusPending,
		InputData:  prior.InputData,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.executions.Create(ctx, exec); err != nil {
		return nil, false, err
	}

	plan, err := s.compiler.Compile(ctx, prior.WorkflowID)
	if err != nil {
		return nil, false, s.failBeforeStart(ctx, exec, err)
	}

	run := s.engine.NewRun(plan, exec, s.emitter(nil))
	s.register(exec.ID, run)
	defer s.unregister(exec.ID)

	s.log.Info("resuming execution",
		"execution_id", exec.ID,
		"resumed_from", prior.ID,
		"thread_id", exec.ThreadID)

	if err := s.finish(ctx, exec, run.Resume(ctx)); err != nil {
		return nil, false, err
	}
	resumed, err := s.Get(ctx, exec.ID)
	return resumed, true, err
}

// Restart runs a terminal execution's workflow again from scratch: a
// fresh thread with the original input and no checkpoint history.
func (s *ExecutionService) Restart(ctx context.Context, id uuid.UUID) (*models.Execution, error) {
	prior, err := s.executions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !prior.Status.IsTerminal() {
		return nil, apperror.Newf(apperror.KindConflict, "cannot restart execution with status %s", prior.Status)
	}

	s.log.Info("restarting execution", "execution_id", id, "workflow_id", prior.WorkflowID)
	return s.Execute(ctx, &models.ExecuteRequest{
		WorkflowID: prior.WorkflowID,
		Input:      prior.InputData,
	})
}

// Delete removes an execution and its steps. Checkpoints stay: the
// thread may back other records.
func (s *ExecutionService) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := s.lookup(id); ok {
		return apperror.Newf(apperror.KindConflict, "cannot delete a running execution")
	}
	if err := s.executions.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info("execution deleted", "execution_id", id)
	return nil
}

// ListSteps returns the steps of an execution in start order
func (s *ExecutionService) ListSteps(ctx context.Context, executionID uuid.UUID) ([]*models.ExecutionStep, error) {
	if _, err := s.executions.GetByID(ctx, executionID); err != nil {
		return nil, err
	}
	return s.steps.ListByExecution(ctx, executionID)
}

// GetStep returns one step of an execution
func (s *ExecutionService) GetStep(ctx context.Context, executionID, stepID uuid.UUID) (*models.ExecutionStep, error) {
	steps, err := s.ListSteps(ctx, executionID)
	if err != nil {
		return nil, err
	}
	for _, step := range steps {
		if step.ID == stepID {
			return step, nil
		}
	}
	return nil, apperror.NotFound("execution step", stepID)
}

// prepare validates the workflow, creates the pending record, compiles
// the plan and builds the run. A compile failure marks the fresh record
// failed before returning.
func (s *ExecutionService) prepare(ctx context.Context, req *models.ExecuteRequest, extra ...events.Emitter) (*models.Execution, *engine.Run, error) {
	wf, err := s.workflows.GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.checkStartBudget(ctx, wf); err != nil {
		return nil, nil, err
	}

	threadID := newThreadID()
	if req.ThreadID != nil && *req.ThreadID != "" {
		threadID = *req.ThreadID
	}
	exec := &models.Execution{
		ID:         uuid.New(),
		WorkflowID: req.WorkflowID,
		ThreadID:   threadID,
		Status:     models.StatusPending,
		InputData:  req.Input,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.executions.Create(ctx, exec); err != nil {
		return nil, nil, err
	}

	plan, err := s.compiler.Compile(ctx, req.WorkflowID)
	if err != nil {
		return nil, nil, s.failBeforeStart(ctx, exec, err)
	}

	var slot events.Emitter
	if len(extra) > 0 {
		slot = extra[0]
	}
	run := s.engine.NewRun(plan, exec, s.emitter(slot))
	run.SeedMetadata(req.Config)

	s.log.Info("execution prepared",
		"execution_id", exec.ID,
		"workflow_id", req.WorkflowID,
		"thread_id", threadID)

	return exec, run, nil
}

// checkStartBudget enforces the tiered per-workflow start limit before
// any record is written. A broken limiter fails open; an exhausted
// budget rejects with a retry hint. Resume is deliberately unmetered
// since it continues work already admitted.
func (s *ExecutionService) checkStartBudget(ctx context.Context, wf *models.Workflow) error {
	if s.limiter == nil {
		return nil
	}

	agentNodes := 0
	for _, node := range wf.Nodes {
		if node.NodeType == models.NodeTypeAgent {
			agentNodes++
		}
	}
	tier := ratelimit.TierFor(agentNodes)

	result, err := s.limiter.CheckWorkflow(ctx, wf.ID.String(), tier)
	if err != nil {
		s.log.Warn("start budget check failed, allowing execution",
			"workflow_id", wf.ID, "error", err)
		return nil
	}
	if !result.Allowed {
		return apperror.New(apperror.KindRateLimited, "workflow start limit reached").
			WithDetails(map[string]interface{}{
				"tier":                string(tier),
				"limit":               result.Limit,
				"window_seconds":      ratelimit.WindowSeconds,
				"retry_after_seconds": result.RetryAfterSeconds,
			})
	}
	return nil
}

// finish maps the scheduler's return into the service contract:
// completed and cancelled runs are not errors at this level.
func (s *ExecutionService) finish(ctx context.Context, exec *models.Execution, runErr error) error {
	if runErr == nil || errors.Is(runErr, agents.ErrCancelled) {
		return nil
	}
	return apperror.Wrap(apperror.KindExecution, runErr, "workflow execution failed").
		WithDetails(map[string]interface{}{"execution_id": exec.ID.String()})
}

// failBeforeStart marks a record that never reached the scheduler as
// failed and hands the cause back to the caller.
func (s *ExecutionService) failBeforeStart(ctx context.Context, exec *models.Execution, cause error) error {
	now := time.Now().UTC()
	msg := apperror.MessageOf(cause)
	exec.Status = models.StatusFailed
	exec.ErrorMessage = &msg
	exec.CompletedAt = &now
	if err := s.executions.Update(ctx, exec); err != nil {
		s.log.Error("failed to record pre-start failure", "execution_id", exec.ID, "error", err)
	}
	return cause
}

// emitter assembles the fan-out for one run: the optional per-request
// stream, the WebSocket hub, and the Redis relay when configured.
func (s *ExecutionService) emitter(stream events.Emitter) events.Emitter {
	var multi events.Multi
	if stream != nil {
		multi = append(multi, stream)
	}
	if s.hub != nil {
		multi = append(multi, s.hub)
	}
	if s.relay != nil {
		multi = append(multi, s.relay)
	}
	if len(multi) == 0 {
		return events.Discard
	}
	return multi
}

func (s *ExecutionService) register(id uuid.UUID, run *engine.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[id] = run
}

func (s *ExecutionService) unregister(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

func (s *ExecutionService) lookup(id uuid.UUID) (*engine.Run, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.running[id]
	return run, ok
}

// newThreadID mints the default thread identifier for a fresh run
func newThreadID() string {
	return "exec_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
