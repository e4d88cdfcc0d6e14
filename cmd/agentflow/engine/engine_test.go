package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/cmd/agentflow/agents"
	"github.com/lyzr/agentflow/cmd/agentflow/compiler"
	"github.com/lyzr/agentflow/cmd/agentflow/events"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

func testLog() *logger.Logger { return logger.New("error", "text") }

// memRecorder keeps the audit trail in memory: execution update
// snapshots, step pointers in open order, checkpoints per thread.
type memRecorder struct {
	mu          sync.Mutex
	execUpdates []models.Execution
	steps       []*models.ExecutionStep
	closeOrder  []string
	checkpoints map[string][]*models.Checkpoint
}

func newMemRecorder() *memRecorder {
	return &memRecorder{checkpoints: map[string][]*models.Checkpoint{}}
}

func (m *memRecorder) UpdateExecution(_ context.Context, exec *models.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execUpdates = append(m.execUpdates, *exec)
	return nil
}

func (m *memRecorder) OpenStep(_ context.Context, step *models.ExecutionStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, step)
	return nil
}

func (m *memRecorder) CloseStep(_ context.Context, step *models.ExecutionStep, checkpoint *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeOrder = append(m.closeOrder, step.NodeID)
	if checkpoint != nil {
		m.checkpoints[checkpoint.ThreadID] = append(m.checkpoints[checkpoint.ThreadID], checkpoint)
	}
	return nil
}

func (m *memRecorder) SaveCheckpoint(_ context.Context, checkpoint *models.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[checkpoint.ThreadID] = append(m.checkpoints[checkpoint.ThreadID], checkpoint)
	return nil
}

func (m *memRecorder) LatestCheckpoint(_ context.Context, threadID string) (*models.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.checkpoints[threadID]
	if len(list) == 0 {
		return nil, nil
	}
	return list[len(list)-1], nil
}

func (m *memRecorder) stepsFor(execID uuid.UUID) []*models.ExecutionStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ExecutionStep
	for _, s := range m.steps {
		if s.ExecutionID == execID {
			out = append(out, s)
		}
	}
	return out
}

func (m *memRecorder) stepFor(nodeID string) *models.ExecutionStep {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.steps {
		if s.NodeID == nodeID {
			return s
		}
	}
	return nil
}

func (m *memRecorder) stepCount(nodeID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.steps {
		if s.NodeID == nodeID {
			n++
		}
	}
	return n
}

type captureEmitter struct {
	mu   sync.Mutex
	list []*events.Event
}

func (c *captureEmitter) Emit(_ context.Context, ev *events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, ev)
}

func (c *captureEmitter) kinds() []events.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Kind, len(c.list))
	for i, ev := range c.list {
		out[i] = ev.Kind
	}
	return out
}

func (c *captureEmitter) count(kind events.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.list {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

func (c *captureEmitter) last() *events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.list) == 0 {
		return nil
	}
	return c.list[len(c.list)-1]
}

// stubOp adapts a bare function to the operator contract.
type stubOp struct {
	kind models.NodeType
	fn   func(ctx context.Context, env compiler.Env, inv *compiler.Invocation) (*compiler.OpResult, error)
}

func (o *stubOp) Kind() models.NodeType { return o.kind }

func (o *stubOp) Execute(ctx context.Context, env compiler.Env, inv *compiler.Invocation) (*compiler.OpResult, error) {
	return o.fn(ctx, env, inv)
}

func agentUpdate(nodeID string, output interface{}) map[string]interface{} {
	return map[string]interface{}{
		state.KeyCurrentNode:  nodeID,
		state.KeyIntermediate: map[string]interface{}{nodeID: output},
		state.KeyOutput:       output,
	}
}

// agentOp mimics a bound agent node: output published under the node id.
func agentOp(nodeID string, fn func(st state.State) (interface{}, error)) compiler.Operator {
	return &stubOp{kind: models.NodeTypeAgent, fn: func(_ context.Context, _ compiler.Env, inv *compiler.Invocation) (*compiler.OpResult, error) {
		out, err := fn(inv.State)
		if err != nil {
			return nil, err
		}
		return &compiler.OpResult{Update: agentUpdate(nodeID, out)}, nil
	}}
}

// joinListOp collects barrier branches in slot order.
func joinListOp(nodeID, outputKey string) compiler.Operator {
	return &stubOp{kind: models.NodeTypeJoin, fn: func(_ context.Context, _ compiler.Env, inv *compiler.Invocation) (*compiler.OpResult, error) {
		values := make([]interface{}, 0, len(inv.Branches))
		for _, b := range inv.Branches {
			values = append(values, b.Output)
		}
		return &compiler.OpResult{Update: map[string]interface{}{
			outputKey:       values,
			state.KeyOutput: values,
		}}, nil
	}}
}

func direct(target string) *compiler.EdgeGroup { return &compiler.EdgeGroup{Direct: target} }

func newPlan(nodes map[string]compiler.Operator, edges map[string]*compiler.EdgeGroup) *compiler.Plan {
	return &compiler.Plan{
		WorkflowID:   uuid.New(),
		WorkflowName: "test-workflow",
		Nodes:        nodes,
		Edges:        edges,
		Schema:       state.NewSchema(nil),
		Timeouts:     map[string]time.Duration{},
	}
}

func newExec(input map[string]interface{}) *models.Execution {
	id := uuid.New()
	return &models.Execution{
		ID:         id,
		WorkflowID: uuid.New(),
		ThreadID:   "exec_" + id.String()[:8],
		Status:     models.StatusPending,
		InputData:  input,
		CreatedAt:  time.Now().UTC(),
	}
}

func executePlan(t *testing.T, plan *compiler.Plan, input map[string]interface{}) (*models.Execution, *memRecorder, *captureEmitter, error) {
	t.Helper()
	rec := newMemRecorder()
	em := &captureEmitter{}
	exec := newExec(input)
	run := New(rec, testLog()).NewRun(plan, exec, em)
	err := run.Execute(context.Background())
	return exec, rec, em, err
}

func TestLinearChainCompletes(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"A": agentOp("A", func(state.State) (interface{}, error) { return "42", nil }),
			"B": agentOp("B", func(st state.State) (interface{}, error) {
				return st.Intermediate()["A"].(string) + "!", nil
			}),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("A"),
			"A":              direct("B"),
			"B":              direct(models.EndNode),
		},
	)

	exec, rec, em, err := executePlan(t, plan, map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, exec.Status)
	require.NotNil(t, exec.OutputData)
	assert.Equal(t, "42!", exec.OutputData["output"])
	assert.Nil(t, exec.ErrorMessage)
	require.NotNil(t, exec.StartedAt)
	require.NotNil(t, exec.CompletedAt)
	assert.False(t, exec.CompletedAt.Before(*exec.StartedAt))

	intermediate, ok := exec.OutputData["intermediate"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "42", intermediate["A"])
	assert.Equal(t, "42!", intermediate["B"])

	steps := rec.stepsFor(exec.ID)
	require.Len(t, steps, 2)
	assert.Equal(t, "A", steps[0].NodeID)
	assert.Equal(t, "B", steps[1].NodeID)
	for _, s := range steps {
		assert.Equal(t, models.StatusCompleted, s.Status)
		require.NotNil(t, s.CompletedAt)
	}
	assert.Equal(t, "42", steps[0].OutputData[state.KeyOutput])

	// One checkpoint per fold, step indexes monotone.
	cps := rec.checkpoints[exec.ThreadID]
	require.Len(t, cps, 2)
	assert.Equal(t, 1, cps[0].StepIndex)
	assert.Equal(t, 2, cps[1].StepIndex)
	assert.Equal(t, "B", cps[1].Snapshot[state.KeyCurrentNode])

	assert.Equal(t, []events.Kind{
		events.KindExecutionStarted,
		events.KindNodeStart,
		events.KindNodeComplete,
		events.KindNodeStart,
		events.KindNodeComplete,
		events.KindExecutionComplete,
	}, em.kinds())
	assert.Equal(t, "42!", em.last().Data["output"])
}

func routerPlan(routes []compiler.Route, score interface{}) *compiler.Plan {
	nodes := map[string]compiler.Operator{
		"R": &stubOp{kind: models.NodeTypeRouter, fn: func(context.Context, compiler.Env, *compiler.Invocation) (*compiler.OpResult, error) {
			return &compiler.OpResult{Update: map[string]interface{}{
				state.KeyCurrentNode:  "R",
				state.KeyIntermediate: map[string]interface{}{"R": map[string]interface{}{"score": score}},
				"score":               score,
			}}, nil
		}},
		"HIGH": agentOp("HIGH", func(state.State) (interface{}, error) { return "high", nil }),
		"MED":  agentOp("MED", func(state.State) (interface{}, error) { return "med", nil }),
		"LOW":  agentOp("LOW", func(state.State) (interface{}, error) { return "low", nil }),
	}
	edges := map[string]*compiler.EdgeGroup{
		models.StartNode: direct("R"),
		"R":              {Routes: routes, Default: "LOW"},
		"HIGH":           direct(models.EndNode),
		"MED":            direct(models.EndNode),
		"LOW":            direct(models.EndNode),
	}
	return newPlan(nodes, edges)
}

func TestRouterTakesFirstTrueRoute(t *testing.T) {
	routes := []compiler.Route{
		{Condition: "state.get('score', 0) > 0.8", Target: "HIGH"},
		{Condition: "state.get('score', 0) > 0.5", Target: "MED"},
	}

	exec, rec, _, err := executePlan(t, routerPlan(routes, 0.6), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, exec.Status)
	assert.Equal(t, "med", exec.OutputData["output"])
	assert.Equal(t, 1, rec.stepCount("MED"))
	assert.Equal(t, 0, rec.stepCount("HIGH"))
	assert.Equal(t, 0, rec.stepCount("LOW"))
}

func TestRouterFallsBackToDefault(t *testing.T) {
	routes := []compiler.Route{
		{Condition: "state.get('score', 0) > 0.8", Target: "HIGH"},
		{Condition: "state.get('score', 0) > 0.5", Target: "MED"},
	}

	exec, rec, _, err := executePlan(t, routerPlan(routes, 0.3), map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, "low", exec.OutputData["output"])
	assert.Equal(t, 1, rec.stepCount("LOW"))
}

func TestMalformedConditionRecordedOnStep(t *testing.T) {
	routes := []compiler.Route{
		{Condition: "state.score >> 0.8", Target: "HIGH"},
		{Condition: "state.get('score', 0) > 0.8", Target: "MED"},
	}

	exec, rec, _, err := executePlan(t, routerPlan(routes, 0.6), map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, exec.Status)
	assert.Equal(t, "low", exec.OutputData["output"])

	stepR := rec.stepFor("R")
	require.NotNil(t, stepR)
	assert.Equal(t, models.StatusCompleted, stepR.Status)
	require.NotNil(t, stepR.ErrorMessage)
	assert.Equal(t, 1, rec.stepCount("LOW"))
	assert.Equal(t, 0, rec.stepCount("HIGH"))
	assert.Equal(t, 0, rec.stepCount("MED"))
}

func TestProviderErrorFailsExecution(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"A": agentOp("A", func(state.State) (interface{}, error) {
				return nil, apperror.New(apperror.KindProvider, "rate limited")
			}),
			"B": agentOp("B", func(state.State) (interface{}, error) { return "never", nil }),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("A"),
			"A":              direct("B"),
			"B":              direct(models.EndNode),
		},
	)

	exec, rec, em, err := executePlan(t, plan, nil)
	require.Error(t, err)

	assert.Equal(t, models.StatusFailed, exec.Status)
	assert.Nil(t, exec.OutputData)
	require.NotNil(t, exec.ErrorMessage)
	assert.Contains(t, *exec.ErrorMessage, "rate limited")
	assert.Contains(t, *exec.ErrorMessage, `node "A"`)

	stepA := rec.stepFor("A")
	require.NotNil(t, stepA)
	assert.Equal(t, models.StatusFailed, stepA.Status)
	require.NotNil(t, stepA.ErrorMessage)
	assert.Equal(t, "rate limited", *stepA.ErrorMessage)

	// Remaining frontier dropped, stream ends with the error event.
	assert.Equal(t, 0, rec.stepCount("B"))
	assert.Equal(t, events.KindError, em.last().Kind)
	assert.Equal(t, 0, em.count(events.KindExecutionComplete))

	// No checkpoint for the failed node.
	assert.Empty(t, rec.checkpoints[exec.ThreadID])
}

func TestNodeTimeoutFailsStep(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"A": &stubOp{kind: models.NodeTypeAgent, fn: func(ctx context.Context, _ compiler.Env, _ *compiler.Invocation) (*compiler.OpResult, error) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(5 * time.Second):
					return &compiler.OpResult{Update: agentUpdate("A", "late")}, nil
				}
			}},
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("A"),
			"A":              direct(models.EndNode),
		},
	)
	plan.Timeouts["A"] = 25 * time.Millisecond

	exec, rec, _, err := executePlan(t, plan, nil)
	require.Error(t, err)

	assert.Equal(t, models.StatusFailed, exec.Status)
	stepA := rec.stepFor("A")
	require.NotNil(t, stepA)
	assert.Equal(t, models.StatusFailed, stepA.Status)
	require.NotNil(t, stepA.ErrorMessage)
	assert.Equal(t, "node timeout", *stepA.ErrorMessage)
	assert.Contains(t, *exec.ErrorMessage, "node timeout")
}

func TestEmptyGraphCompletesImmediately(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{},
		map[string]*compiler.EdgeGroup{models.StartNode: direct(models.EndNode)},
	)

	exec, rec, em, err := executePlan(t, plan, map[string]interface{}{"q": "x"})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, exec.Status)
	require.NotNil(t, exec.OutputData)
	assert.Nil(t, exec.OutputData["output"])
	assert.Empty(t, rec.steps)
	assert.Equal(t, []events.Kind{events.KindExecutionStarted, events.KindExecutionComplete}, em.kinds())
}

func TestCancelObservedBetweenNodes(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"A": &stubOp{kind: models.NodeTypeAgent, fn: func(_ context.Context, env compiler.Env, _ *compiler.Invocation) (*compiler.OpResult, error) {
				// The cancel request lands while A is still in flight.
				env.(*Run).Cancel()
				return &compiler.OpResult{Update: agentUpdate("A", "a")}, nil
			}},
			"B": agentOp("B", func(state.State) (interface{}, error) { return "never", nil }),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("A"),
			"A":              direct("B"),
			"B":              direct(models.EndNode),
		},
	)

	exec, rec, em, err := executePlan(t, plan, nil)
	require.ErrorIs(t, err, agents.ErrCancelled)

	assert.Equal(t, models.StatusCancelled, exec.Status)
	require.NotNil(t, exec.ErrorMessage)
	assert.Nil(t, exec.OutputData)

	// A folded before the flag was observed, so its step completed.
	stepA := rec.stepFor("A")
	require.NotNil(t, stepA)
	assert.Equal(t, models.StatusCompleted, stepA.Status)

	assert.Equal(t, 0, rec.stepCount("B"))
	assert.Equal(t, 0, em.count(events.KindExecutionComplete))
	assert.Equal(t, 0, em.count(events.KindError))
}

func TestCancelInsideNodeLoop(t *testing.T) {
	started := make(chan struct{})
	plan := newPlan(
		map[string]compiler.Operator{
			"A": &stubOp{kind: models.NodeTypeAgent, fn: func(_ context.Context, env compiler.Env, _ *compiler.Invocation) (*compiler.OpResult, error) {
				close(started)
				for !env.Cancelled() {
					time.Sleep(time.Millisecond)
				}
				return nil, agents.ErrCancelled
			}},
			"B": agentOp("B", func(state.State) (interface{}, error) { return "never", nil }),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("A"),
			"A":              direct("B"),
			"B":              direct(models.EndNode),
		},
	)

	rec := newMemRecorder()
	em := &captureEmitter{}
	exec := newExec(nil)
	run := New(rec, testLog()).NewRun(plan, exec, em)

	done := make(chan error, 1)
	go func() { done <- run.Execute(context.Background()) }()

	<-started
	run.Cancel()
	err := <-done
	require.ErrorIs(t, err, agents.ErrCancelled)

	assert.Equal(t, models.StatusCancelled, exec.Status)
	stepA := rec.stepFor("A")
	require.NotNil(t, stepA)
	assert.Equal(t, models.StatusCancelled, stepA.Status)
	assert.Nil(t, stepA.ErrorMessage)
	assert.Equal(t, 0, rec.stepCount("B"))
	assert.Equal(t, 0, em.count(events.KindExecutionComplete))
}

func TestCancelBeforeStartRunsNothing(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"A": agentOp("A", func(state.State) (interface{}, error) { return "a", nil }),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("A"),
			"A":              direct(models.EndNode),
		},
	)

	rec := newMemRecorder()
	exec := newExec(nil)
	run := New(rec, testLog()).NewRun(plan, exec, events.Discard)
	run.Cancel()

	err := run.Execute(context.Background())
	require.ErrorIs(t, err, agents.ErrCancelled)
	assert.Equal(t, models.StatusCancelled, exec.Status)
	assert.Empty(t, rec.steps)
}
