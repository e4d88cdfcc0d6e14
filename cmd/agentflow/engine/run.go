package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/agents"
	"github.com/lyzr/agentflow/cmd/agentflow/compiler"
	"github.com/lyzr/agentflow/cmd/agentflow/events"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

// workItem is one frontier entry: the node to dispatch plus whatever
// context it needs (fan-out payload, barrier slot, join branches).
type workItem struct {
	nodeID   string
	payload  map[string]interface{}
	barrier  *barrier
	slot     int
	branches []compiler.Branch
}

// barrier tracks one outstanding parallel group.
type barrier struct {
	remaining int
	results   []compiler.Branch

	// written maps last-write state keys to the sibling that folded
	// them, so a second writer is caught at runtime.
	written map[string]string
}

// Run owns one execution from start to its terminal status.
type Run struct {
	engine   *Engine
	plan     *compiler.Plan
	exec     *models.Execution
	emitter  events.Emitter
	recorder Recorder
	log      *logger.Logger

	// mu serialises state folds; step closes and node_complete
	// emissions ride the same critical section so their order matches
	// fold order.
	mu        sync.Mutex
	st        state.State
	stepIndex int

	frontier []*workItem
	cancel   *atomic.Bool
}

// Cancel flips the cooperative cancel flag. The run stops at its next
// suspension point; in-flight provider or tool calls are not aborted.
func (r *Run) Cancel() { r.cancel.Store(true) }

// Cancelled implements compiler.Env.
func (r *Run) Cancelled() bool { return r.cancel.Load() }

// SeedMetadata merges per-request config into the initial state
// metadata. Call before Execute; later writes go through the reducers.
func (r *Run) SeedMetadata(md map[string]interface{}) {
	if len(md) == 0 {
		return
	}
	meta, _ := r.st[state.KeyMetadata].(map[string]interface{})
	if meta == nil {
		meta = map[string]interface{}{}
	}
	for k, v := range md {
		meta[k] = v
	}
	r.st[state.KeyMetadata] = meta
}

// Execute drives the plan from the top until the execution reaches a
// terminal status. It returns nil for completed runs, agents.ErrCancelled
// for cancelled ones, and the node error that failed the run otherwise.
func (r *Run) Execute(ctx context.Context) error {
	if err := r.begin(ctx); err != nil {
		return err
	}
	r.seedFrontier(models.StartNode)
	return r.drive(ctx)
}

// Resume restores the thread's latest checkpoint and continues from the
// edges leaving the last completed node. A thread with no checkpoint on
// record starts from the top.
func (r *Run) Resume(ctx context.Context) error {
	checkpoint, err := r.recorder.LatestCheckpoint(ctx, r.exec.ThreadID)
	if err != nil && !apperror.IsKind(err, apperror.KindNotFound) {
		return apperror.Wrap(apperror.KindExecution, err, "loading checkpoint for thread "+r.exec.ThreadID)
	}
	if checkpoint == nil {
		return r.Execute(ctx)
	}

	r.st = state.FromSnapshot(checkpoint.Snapshot)
	r.stepIndex = checkpoint.StepIndex

	if err := r.begin(ctx); err != nil {
		return err
	}

	last := r.st.CurrentNode()
	if _, ok := r.plan.Edges[last]; !ok {
		// Snapshot predates the first fold; nothing completed yet.
		last = models.StartNode
	}
	r.seedFrontier(last)
	r.log.Info("execution resumed", "from_node", last, "step_index", checkpoint.StepIndex)
	return r.drive(ctx)
}

// RunSubgraph implements compiler.Env. The nested plan runs under its
// own thread with its own checkpoints; it shares the parent's cancel
// flag, emits no events, and records no steps of its own.
func (r *Run) RunSubgraph(ctx context.Context, plan *compiler.Plan, snapshot map[string]interface{}, threadID string) (map[string]interface{}, error) {
	sub := &Run{
		engine: r.engine,
		plan:   plan,
		exec: &models.Execution{
			ID:         r.exec.ID,
			WorkflowID: plan.WorkflowID,
			ThreadID:   threadID,
			Status:     models.StatusRunning,
		},
		emitter:  events.Discard,
		recorder: checkpointOnly{r.recorder},
		log: r.engine.log.WithFields(map[string]any{
			"execution_id": r.exec.ID.String(),
			"thread_id":    threadID,
		}),
		st:     state.FromSnapshot(snapshot),
		cancel: r.cancel,
	}
	if err := sub.Execute(ctx); err != nil {
		return nil, err
	}
	return sub.snapshot(), nil
}

func (r *Run) begin(ctx context.Context) error {
	now := time.Now().UTC()
	r.exec.Status = models.StatusRunning
	r.exec.StartedAt = &now
	if err := r.recorder.UpdateExecution(ctx, r.exec); err != nil {
		return apperror.Wrap(apperror.KindExecution, err, "starting execution")
	}
	r.emitter.Emit(ctx, events.ExecutionStarted(r.exec.ID, r.exec.ThreadID))
	r.log.Info("execution started", "workflow", r.plan.WorkflowName)
	return nil
}

// seedFrontier resolves the edge group leaving source and queues the
// target. Resolving to __end__ leaves the frontier empty, which the
// drive loop treats as completion.
func (r *Run) seedFrontier(source string) {
	group := r.plan.Edges[source]
	if group == nil {
		return
	}
	target, evalErr := group.Resolve(r.engine.eval, r.snapshot())
	if evalErr != nil {
		r.log.Warn("entry condition failed to evaluate", "source", source, "error", evalErr)
	}
	if target != models.EndNode {
		r.frontier = append(r.frontier, &workItem{nodeID: target})
	}
}

// drive pops work until the frontier runs dry or the run aborts.
func (r *Run) drive(ctx context.Context) error {
	for {
		// Cancellation is observed before every pop.
		if r.cancel.Load() {
			return r.finishCancelled(ctx)
		}
		if len(r.frontier) == 0 {
			return r.finishCompleted(ctx)
		}

		batch := r.popBatch()
		var next *workItem
		var err error
		if len(batch) == 1 && batch[0].barrier == nil {
			next, err = r.runSingle(ctx, batch[0])
		} else {
			next, err = r.runBatch(ctx, batch)
		}
		if err != nil {
			if errors.Is(err, agents.ErrCancelled) {
				return r.finishCancelled(ctx)
			}
			return r.finishFailed(ctx, err)
		}
		if next != nil {
			r.frontier = append(r.frontier, next)
		}
	}
}

// popBatch takes the head of the frontier; sibling items sharing a
// barrier are taken together so they dispatch concurrently.
func (r *Run) popBatch() []*workItem {
	head := r.frontier[0]
	if head.barrier == nil {
		r.frontier = r.frontier[1:]
		return []*workItem{head}
	}
	n := 1
	for n < len(r.frontier) && r.frontier[n].barrier == head.barrier {
		n++
	}
	batch := r.frontier[:n:n]
	r.frontier = r.frontier[n:]
	return batch
}

// runSingle executes one plain work item: open step, invoke, fold,
// route, close. The step closes after routing so a condition that fails
// to evaluate is recorded on it.
func (r *Run) runSingle(ctx context.Context, item *workItem) (*workItem, error) {
	res, step, err := r.invoke(ctx, item)
	if err != nil {
		r.closeAborted(ctx, step, err)
		return nil, fmt.Errorf("node %q: %w", item.nodeID, err)
	}

	partial := recordedPartial(res)

	r.mu.Lock()
	r.st = r.plan.Schema.Fold(r.st, foldable(item.nodeID, partial, false))
	r.stepIndex++
	checkpoint := r.checkpointLocked()
	snap := r.st.Snapshot()
	r.mu.Unlock()

	// Fan-out: queue the sibling batch and let the next pop run it.
	if len(res.Sends) > 0 {
		if err := r.closeCompleted(ctx, step, partial, res.StepError, nil, checkpoint); err != nil {
			return nil, err
		}
		r.emitter.Emit(ctx, events.NodeComplete(r.exec.ID, item.nodeID, partial))
		r.enqueueSends(res.Sends)
		return nil, nil
	}

	target := models.EndNode
	var evalErr error
	if group := r.plan.Edges[item.nodeID]; group != nil {
		target, evalErr = group.Resolve(r.engine.eval, snap)
	}
	if evalErr != nil {
		r.log.Warn("condition failed to evaluate, using fallback route",
			"node_id", item.nodeID, "error", evalErr)
	}

	if err := r.closeCompleted(ctx, step, partial, res.StepError, evalErr, checkpoint); err != nil {
		return nil, err
	}
	r.emitter.Emit(ctx, events.NodeComplete(r.exec.ID, item.nodeID, partial))

	if target == models.EndNode {
		return nil, nil
	}
	return &workItem{nodeID: target}, nil
}

// runBatch executes one parallel group's siblings concurrently, then
// routes to the join once every sibling has folded.
func (r *Run) runBatch(ctx context.Context, batch []*workItem) (*workItem, error) {
	group := batch[0].barrier
	outcomes := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, item := range batch {
		wg.Add(1)
		go func(i int, item *workItem) {
			defer wg.Done()
			outcomes[i] = r.runSibling(ctx, item)
		}(i, item)
	}
	wg.Wait()

	var failed, cancelled error
	for i, err := range outcomes {
		switch {
		case err == nil:
		case errors.Is(err, agents.ErrCancelled):
			if cancelled == nil {
				cancelled = err
			}
		case failed == nil:
			failed = fmt.Errorf("node %q: %w", batch[i].nodeID, err)
		}
	}
	if failed != nil {
		return nil, failed
	}
	if cancelled != nil {
		return nil, cancelled
	}

	// Barrier satisfied; a sibling's edges name the join.
	target := models.EndNode
	if edges := r.plan.Edges[batch[0].nodeID]; edges != nil {
		t, evalErr := edges.Resolve(r.engine.eval, r.snapshot())
		if evalErr != nil {
			r.log.Warn("join routing condition failed to evaluate",
				"node_id", batch[0].nodeID, "error", evalErr)
		}
		target = t
	}
	if target == models.EndNode {
		return nil, nil
	}
	return &workItem{nodeID: target, branches: group.results}, nil
}

// runSibling executes one fan-out sibling and folds its result under
// the state mutex, recording its barrier slot.
func (r *Run) runSibling(ctx context.Context, item *workItem) error {
	res, step, err := r.invoke(ctx, item)
	if err != nil {
		r.closeAborted(ctx, step, err)
		return err
	}
	if len(res.Sends) > 0 {
		r.log.Warn("nested fan-out is not dispatched", "node_id", item.nodeID)
	}

	partial := recordedPartial(res)
	update := foldable(item.nodeID, partial, true)

	r.mu.Lock()
	defer r.mu.Unlock()

	if key, conflict := item.barrier.conflictKey(r.plan.Schema, item.nodeID, update); conflict {
		err := apperror.Newf(apperror.KindExecution, "parallel siblings both write state key %q", key)
		r.closeAborted(ctx, step, err)
		return err
	}

	r.st = r.plan.Schema.Fold(r.st, update)
	item.barrier.results[item.slot] = compiler.Branch{
		Node:   item.nodeID,
		Index:  item.slot,
		Output: branchOutput(item.nodeID, partial),
	}
	item.barrier.remaining--
	r.stepIndex++
	checkpoint := r.checkpointLocked()

	if err := r.closeCompleted(ctx, step, partial, res.StepError, nil, checkpoint); err != nil {
		return err
	}
	r.emitter.Emit(ctx, events.NodeComplete(r.exec.ID, item.nodeID, partial))
	return nil
}

// invoke opens the step, emits node_start, and runs the operator against
// an isolated state snapshot under the node's timeout budget.
func (r *Run) invoke(ctx context.Context, item *workItem) (*compiler.OpResult, *models.ExecutionStep, error) {
	op := r.plan.Nodes[item.nodeID]
	if op == nil {
		return nil, nil, apperror.Newf(apperror.KindExecution, "frontier references unknown node %q", item.nodeID)
	}

	step := &models.ExecutionStep{
		ID:          uuid.New(),
		ExecutionID: r.exec.ID,
		NodeID:      item.nodeID,
		NodeType:    op.Kind(),
		Status:      models.StatusRunning,
		InputData:   item.payload,
		StartedAt:   time.Now().UTC(),
	}
	if err := r.recorder.OpenStep(ctx, step); err != nil {
		return nil, nil, apperror.Wrap(apperror.KindExecution, err, fmt.Sprintf("opening step for node %q", item.nodeID))
	}
	r.emitter.Emit(ctx, events.NodeStart(r.exec.ID, item.nodeID))
	r.log.Debug("node dispatched", "node_id", item.nodeID, "node_type", string(op.Kind()))

	inv := &compiler.Invocation{State: r.invocationState(item), Branches: item.branches}

	runCtx, cancelBudget := r.nodeContext(ctx, item.nodeID)
	res, err := op.Execute(runCtx, r, inv)
	cancelBudget()
	if err != nil {
		if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || runCtx.Err() == context.DeadlineExceeded) {
			err = apperror.New(apperror.KindExecution, "node timeout")
		}
		return nil, step, err
	}
	return res, step, nil
}

// invocationState isolates what the operator sees: a sibling observes
// the payload captured at dispatch, everything else the live state.
func (r *Run) invocationState(item *workItem) state.State {
	if item.payload != nil {
		return state.FromSnapshot(item.payload)
	}
	return state.FromSnapshot(r.snapshot())
}

func (r *Run) nodeContext(ctx context.Context, nodeID string) (context.Context, context.CancelFunc) {
	if budget, ok := r.plan.Timeouts[nodeID]; ok && budget > 0 {
		return context.WithTimeout(ctx, budget)
	}
	return ctx, func() {}
}

func (r *Run) enqueueSends(sends []compiler.Send) {
	group := &barrier{
		remaining: len(sends),
		results:   make([]compiler.Branch, len(sends)),
		written:   map[string]string{},
	}
	for i, send := range sends {
		r.frontier = append(r.frontier, &workItem{
			nodeID:  send.Target,
			payload: send.Payload,
			barrier: group,
			slot:    i,
		})
	}
}

// checkpointLocked captures the post-fold snapshot; the caller holds mu.
func (r *Run) checkpointLocked() *models.Checkpoint {
	return &models.Checkpoint{
		ThreadID:  r.exec.ThreadID,
		StepIndex: r.stepIndex,
		Snapshot:  r.st.Snapshot(),
		CreatedAt: time.Now().UTC(),
	}
}

func (r *Run) closeCompleted(ctx context.Context, step *models.ExecutionStep, partial map[string]interface{}, stepErr, evalErr error, checkpoint *models.Checkpoint) error {
	now := time.Now().UTC()
	step.Status = models.StatusCompleted
	step.CompletedAt = &now
	step.OutputData = partial
	if msg := stepMessage(stepErr, evalErr); msg != "" {
		step.ErrorMessage = &msg
	}
	if err := r.recorder.CloseStep(ctx, step, checkpoint); err != nil {
		return apperror.Wrap(apperror.KindExecution, err, fmt.Sprintf("closing step for node %q", step.NodeID))
	}
	return nil
}

// closeAborted finalises the step of a node that raised or observed
// cancellation. No checkpoint is written; the fold never happened.
func (r *Run) closeAborted(ctx context.Context, step *models.ExecutionStep, cause error) {
	if step == nil {
		return
	}
	now := time.Now().UTC()
	step.CompletedAt = &now
	if errors.Is(cause, agents.ErrCancelled) {
		step.Status = models.StatusCancelled
	} else {
		step.Status = models.StatusFailed
		msg := apperror.MessageOf(cause)
		step.ErrorMessage = &msg
	}
	if err := r.recorder.CloseStep(ctx, step, nil); err != nil {
		r.log.Error("failed to close aborted step", "node_id", step.NodeID, "error", err)
	}
}

func (r *Run) finishCompleted(ctx context.Context) error {
	snap := r.snapshot()
	output := map[string]interface{}{
		"output":       snap[state.KeyOutput],
		"intermediate": snap[state.KeyIntermediate],
	}
	final := snap[state.KeyOutput]

	now := time.Now().UTC()
	r.exec.Status = models.StatusCompleted
	r.exec.OutputData = output
	r.exec.ErrorMessage = nil
	r.exec.CompletedAt = &now
	if err := r.recorder.UpdateExecution(ctx, r.exec); err != nil {
		return apperror.Wrap(apperror.KindExecution, err, "finalising execution")
	}
	r.emitter.Emit(ctx, events.ExecutionComplete(r.exec.ID, final))
	r.log.Info("execution completed", "steps", r.stepIndex)
	return nil
}

func (r *Run) finishFailed(ctx context.Context, cause error) error {
	now := time.Now().UTC()
	msg := cause.Error()
	r.exec.Status = models.StatusFailed
	r.exec.OutputData = nil
	r.exec.ErrorMessage = &msg
	r.exec.CompletedAt = &now
	if err := r.recorder.UpdateExecution(ctx, r.exec); err != nil {
		r.log.Error("failed to record failed execution", "error", err)
	}
	r.emitter.Emit(ctx, events.Error(r.exec.ID, msg))
	r.log.Error("execution failed", "error", cause)
	return cause
}

// finishCancelled transitions the run to cancelled. No final event is
// emitted; the stream simply ends.
func (r *Run) finishCancelled(ctx context.Context) error {
	now := time.Now().UTC()
	msg := agents.ErrCancelled.Error()
	r.exec.Status = models.StatusCancelled
	r.exec.OutputData = nil
	r.exec.ErrorMessage = &msg
	r.exec.CompletedAt = &now
	if err := r.recorder.UpdateExecution(ctx, r.exec); err != nil {
		r.log.Error("failed to record cancelled execution", "error", err)
	}
	r.log.Info("execution cancelled", "steps", r.stepIndex)
	return agents.ErrCancelled
}

func (r *Run) snapshot() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.Snapshot()
}

// conflictKey reports a last-write key two different siblings both
// wrote; no reducer can merge such writes deterministically.
func (b *barrier) conflictKey(schema *state.Schema, nodeID string, update map[string]interface{}) (string, bool) {
	for key := range update {
		if schema.Kind(key) != state.KindLastWrite {
			continue
		}
		switch key {
		case state.KeyParallelItem, state.KeyParallelIndex, state.KeyError:
			continue
		}
		if prev, ok := b.written[key]; ok && prev != nodeID {
			return key, true
		}
		b.written[key] = nodeID
	}
	return "", false
}

// recordedPartial is what lands in the step's output_data and the
// node_complete payload: the operator's update plus its metadata.
func recordedPartial(res *compiler.OpResult) map[string]interface{} {
	partial := make(map[string]interface{}, len(res.Update)+1)
	for k, v := range res.Update {
		partial[k] = v
	}
	if len(res.Metadata) > 0 {
		merged := map[string]interface{}{}
		if existing, ok := partial[state.KeyMetadata].(map[string]interface{}); ok {
			for k, v := range existing {
				merged[k] = v
			}
		}
		for k, v := range res.Metadata {
			merged[k] = v
		}
		partial[state.KeyMetadata] = merged
	}
	return partial
}

// foldable is the update the reducers actually see. The engine stamps
// current_node and guarantees an intermediate entry for every completed
// node; sibling folds instead drop the keys only one branch may own.
func foldable(nodeID string, partial map[string]interface{}, sibling bool) map[string]interface{} {
	update := make(map[string]interface{}, len(partial)+2)
	for k, v := range partial {
		update[k] = v
	}

	intermediate := map[string]interface{}{}
	if existing, ok := update[state.KeyIntermediate].(map[string]interface{}); ok {
		for k, v := range existing {
			intermediate[k] = v
		}
	}
	if _, ok := intermediate[nodeID]; !ok {
		intermediate[nodeID] = update[state.KeyOutput]
	}
	update[state.KeyIntermediate] = intermediate

	if sibling {
		delete(update, state.KeyOutput)
		delete(update, state.KeyCurrentNode)
	} else {
		update[state.KeyCurrentNode] = nodeID
	}
	return update
}

// branchOutput is the value a join's barrier slot records for one
// sibling: its intermediate entry, falling back to its bare output.
func branchOutput(nodeID string, partial map[string]interface{}) interface{} {
	if intermediate, ok := partial[state.KeyIntermediate].(map[string]interface{}); ok {
		if v, ok := intermediate[nodeID]; ok {
			return v
		}
	}
	return partial[state.KeyOutput]
}

func stepMessage(stepErr, evalErr error) string {
	parts := make([]string, 0, 2)
	if stepErr != nil {
		parts = append(parts, apperror.MessageOf(stepErr))
	}
	if evalErr != nil {
		parts = append(parts, apperror.MessageOf(evalErr))
	}
	return strings.Join(parts, "; ")
}

var _ compiler.Env = (*Run)(nil)
