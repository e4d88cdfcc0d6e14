package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/cmd/agentflow/agents"
	"github.com/lyzr/agentflow/cmd/agentflow/compiler"
	"github.com/lyzr/agentflow/cmd/agentflow/events"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
	"github.com/lyzr/agentflow/common/apperror"
)

// staticFanOutOp dispatches one Send per declared sibling.
func staticFanOutOp(nodeID string, targets ...string) compiler.Operator {
	return &stubOp{kind: models.NodeTypeParallel, fn: func(_ context.Context, _ compiler.Env, inv *compiler.Invocation) (*compiler.OpResult, error) {
		sends := make([]compiler.Send, 0, len(targets))
		for _, target := range targets {
			sends = append(sends, compiler.Send{Target: target, Payload: inv.State.Snapshot()})
		}
		return &compiler.OpResult{
			Update: map[string]interface{}{state.KeyCurrentNode: nodeID},
			Sends:  sends,
		}, nil
	}}
}

// dynamicFanOutOp dispatches one Send per element of the input list,
// tagging each payload with the item and its index.
func dynamicFanOutOp(nodeID, itemsKey, target string) compiler.Operator {
	return &stubOp{kind: models.NodeTypeParallel, fn: func(_ context.Context, _ compiler.Env, inv *compiler.Invocation) (*compiler.OpResult, error) {
		items, _ := inv.State.Input()[itemsKey].([]interface{})
		sends := make([]compiler.Send, 0, len(items))
		for i, item := range items {
			payload := inv.State.Snapshot()
			payload[state.KeyParallelItem] = item
			payload[state.KeyParallelIndex] = i
			sends = append(sends, compiler.Send{Target: target, Payload: payload})
		}
		return &compiler.OpResult{
			Update: map[string]interface{}{state.KeyCurrentNode: nodeID},
			Sends:  sends,
		}, nil
	}}
}

func slowAgentOp(nodeID string, delay time.Duration, out interface{}) compiler.Operator {
	return agentOp(nodeID, func(state.State) (interface{}, error) {
		time.Sleep(delay)
		return out, nil
	})
}

func TestStaticFanOutJoinsOnce(t *testing.T) {
	// Completion order is deliberately Z, Y, X; the join must still see
	// branch outputs in declaration order.
	plan := newPlan(
		map[string]compiler.Operator{
			"P": staticFanOutOp("P", "X", "Y", "Z"),
			"X": slowAgentOp("X", 40*time.Millisecond, "x"),
			"Y": slowAgentOp("Y", 20*time.Millisecond, "y"),
			"Z": slowAgentOp("Z", 0, "z"),
			"J": joinListOp("J", "results"),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("P"),
			"X":              direct("J"),
			"Y":              direct("J"),
			"Z":              direct("J"),
			"J":              direct(models.EndNode),
		},
	)

	exec, rec, em, err := executePlan(t, plan, map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, exec.Status)
	assert.Equal(t, []interface{}{"x", "y", "z"}, exec.OutputData["output"])

	// The join fires exactly once, after every sibling has folded.
	assert.Equal(t, 1, rec.stepCount("J"))
	require.NotEmpty(t, rec.closeOrder)
	assert.Equal(t, "J", rec.closeOrder[len(rec.closeOrder)-1])
	assert.ElementsMatch(t, []string{"P", "X", "Y", "Z"}, rec.closeOrder[:4])

	intermediate := exec.OutputData["intermediate"].(map[string]interface{})
	assert.Equal(t, "x", intermediate["X"])
	assert.Equal(t, "y", intermediate["Y"])
	assert.Equal(t, "z", intermediate["Z"])

	// One checkpoint per fold: P, three siblings, J.
	cps := rec.checkpoints[exec.ThreadID]
	require.Len(t, cps, 5)
	assert.Equal(t, 5, cps[4].StepIndex)

	assert.Equal(t, 5, em.count(events.KindNodeComplete))
	assert.Equal(t, 1, em.count(events.KindExecutionComplete))
}

func TestDynamicFanOutPreservesItemOrder(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"P": dynamicFanOutOp("P", "items", "W"),
			"W": agentOp("W", func(st state.State) (interface{}, error) {
				// Later items finish first; slot order must still win.
				idx := st[state.KeyParallelIndex].(int)
				time.Sleep(time.Duration((2-idx)*15) * time.Millisecond)
				return st[state.KeyParallelItem], nil
			}),
			"J": joinListOp("J", "results"),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("P"),
			"W":              direct("J"),
			"J":              direct(models.EndNode),
		},
	)

	input := map[string]interface{}{"items": []interface{}{10, 20, 30}}
	exec, rec, _, err := executePlan(t, plan, input)
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, exec.Status)
	assert.Equal(t, []interface{}{10, 20, 30}, exec.OutputData["output"])
	assert.Equal(t, 3, rec.stepCount("W"))
	assert.Equal(t, 1, rec.stepCount("J"))

	var indexes []int
	for _, s := range rec.stepsFor(exec.ID) {
		if s.NodeID != "W" {
			continue
		}
		indexes = append(indexes, s.InputData[state.KeyParallelIndex].(int))
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, indexes)
}

func TestEmptyFanOutRoutesToEnd(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"P": dynamicFanOutOp("P", "items", "W"),
			"W": agentOp("W", func(state.State) (interface{}, error) { return "never", nil }),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("P"),
			"W":              direct(models.EndNode),
		},
	)

	// No items, no sends: P routes through its edge group, which is
	// absent, so the run completes.
	exec, rec, _, err := executePlan(t, plan, map[string]interface{}{"items": []interface{}{}})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, exec.Status)
	assert.Equal(t, 0, rec.stepCount("W"))
	assert.Equal(t, 1, rec.stepCount("P"))
}

func TestSiblingFailureFailsExecution(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"P": staticFanOutOp("P", "X", "Y"),
			"X": slowAgentOp("X", 30*time.Millisecond, "x"),
			"Y": agentOp("Y", func(state.State) (interface{}, error) {
				return nil, apperror.New(apperror.KindToolExecution, "tool blew up")
			}),
			"J": joinListOp("J", "results"),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("P"),
			"X":              direct("J"),
			"Y":              direct("J"),
			"J":              direct(models.EndNode),
		},
	)

	exec, rec, em, err := executePlan(t, plan, nil)
	require.Error(t, err)

	assert.Equal(t, models.StatusFailed, exec.Status)
	require.NotNil(t, exec.ErrorMessage)
	assert.Contains(t, *exec.ErrorMessage, `node "Y"`)
	assert.Contains(t, *exec.ErrorMessage, "tool blew up")

	stepY := rec.stepFor("Y")
	require.NotNil(t, stepY)
	assert.Equal(t, models.StatusFailed, stepY.Status)
	assert.Equal(t, 0, rec.stepCount("J"))
	assert.Equal(t, events.KindError, em.last().Kind)
}

func TestSiblingConflictOnSharedKey(t *testing.T) {
	writer := func(nodeID string, delay time.Duration) compiler.Operator {
		return &stubOp{kind: models.NodeTypeAgent, fn: func(context.Context, compiler.Env, *compiler.Invocation) (*compiler.OpResult, error) {
			time.Sleep(delay)
			update := agentUpdate(nodeID, nodeID)
			update["winner"] = nodeID
			return &compiler.OpResult{Update: update}, nil
		}}
	}
	plan := newPlan(
		map[string]compiler.Operator{
			"P": staticFanOutOp("P", "X", "Y"),
			"X": writer("X", 0),
			"Y": writer("Y", 25*time.Millisecond),
			"J": joinListOp("J", "results"),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("P"),
			"X":              direct("J"),
			"Y":              direct("J"),
			"J":              direct(models.EndNode),
		},
	)

	exec, rec, _, err := executePlan(t, plan, nil)
	require.Error(t, err)

	assert.Equal(t, models.StatusFailed, exec.Status)
	require.NotNil(t, exec.ErrorMessage)
	assert.Contains(t, *exec.ErrorMessage, `"winner"`)

	// The first writer folds cleanly; the second is rejected.
	assert.Equal(t, models.StatusCompleted, rec.stepFor("X").Status)
	assert.Equal(t, models.StatusFailed, rec.stepFor("Y").Status)
	assert.Equal(t, 0, rec.stepCount("J"))
}

func subgraphOp(nodeID string, inner *compiler.Plan, threadID string) compiler.Operator {
	return &stubOp{kind: models.NodeTypeSubgraph, fn: func(ctx context.Context, env compiler.Env, inv *compiler.Invocation) (*compiler.OpResult, error) {
		final, err := env.RunSubgraph(ctx, inner, inv.State.Snapshot(), threadID)
		if err != nil {
			return nil, err
		}
		return &compiler.OpResult{Update: agentUpdate(nodeID, final[state.KeyOutput])}, nil
	}}
}

func TestSubgraphRunsOnOwnThread(t *testing.T) {
	inner := newPlan(
		map[string]compiler.Operator{
			"leaf": agentOp("leaf", func(state.State) (interface{}, error) { return "inner-ok", nil }),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("leaf"),
			"leaf":           direct(models.EndNode),
		},
	)
	plan := newPlan(
		map[string]compiler.Operator{"S": subgraphOp("S", inner, "subgraph_S")},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("S"),
			"S":              direct(models.EndNode),
		},
	)

	exec, rec, em, err := executePlan(t, plan, map[string]interface{}{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, exec.Status)
	assert.Equal(t, "inner-ok", exec.OutputData["output"])
	intermediate := exec.OutputData["intermediate"].(map[string]interface{})
	assert.Equal(t, "inner-ok", intermediate["S"])

	// The nested run checkpoints under its own thread but records no
	// steps and emits no events of its own.
	assert.NotEmpty(t, rec.checkpoints["subgraph_S"])
	require.Len(t, rec.steps, 1)
	assert.Equal(t, "S", rec.steps[0].NodeID)
	assert.Equal(t, 1, em.count(events.KindNodeStart))
}

func TestSubgraphFailurePropagates(t *testing.T) {
	inner := newPlan(
		map[string]compiler.Operator{
			"leaf": agentOp("leaf", func(state.State) (interface{}, error) {
				return nil, apperror.New(apperror.KindProvider, "inner exploded")
			}),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("leaf"),
			"leaf":           direct(models.EndNode),
		},
	)
	plan := newPlan(
		map[string]compiler.Operator{"S": subgraphOp("S", inner, "subgraph_S")},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("S"),
			"S":              direct(models.EndNode),
		},
	)

	exec, rec, _, err := executePlan(t, plan, nil)
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, exec.Status)
	require.NotNil(t, exec.ErrorMessage)
	assert.Contains(t, *exec.ErrorMessage, `node "S"`)
	assert.Contains(t, *exec.ErrorMessage, "inner exploded")
	assert.Equal(t, models.StatusFailed, rec.stepFor("S").Status)
}

func TestSubgraphObservesParentCancel(t *testing.T) {
	started := make(chan struct{})
	inner := newPlan(
		map[string]compiler.Operator{
			"leaf": &stubOp{kind: models.NodeTypeAgent, fn: func(_ context.Context, env compiler.Env, _ *compiler.Invocation) (*compiler.OpResult, error) {
				close(started)
				for !env.Cancelled() {
					time.Sleep(time.Millisecond)
				}
				return nil, agents.ErrCancelled
			}},
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("leaf"),
			"leaf":           direct(models.EndNode),
		},
	)
	plan := newPlan(
		map[string]compiler.Operator{"S": subgraphOp("S", inner, "subgraph_S")},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("S"),
			"S":              direct(models.EndNode),
		},
	)

	rec := newMemRecorder()
	exec := newExec(nil)
	run := New(rec, testLog()).NewRun(plan, exec, events.Discard)

	done := make(chan error, 1)
	go func() { done <- run.Execute(context.Background()) }()

	<-started
	run.Cancel()
	err := <-done
	require.ErrorIs(t, err, agents.ErrCancelled)
	assert.Equal(t, models.StatusCancelled, exec.Status)
	assert.Equal(t, models.StatusCancelled, rec.stepFor("S").Status)
}

func TestResumeContinuesFromCheckpoint(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"A": &stubOp{kind: models.NodeTypeAgent, fn: func(_ context.Context, env compiler.Env, _ *compiler.Invocation) (*compiler.OpResult, error) {
				env.(*Run).Cancel()
				return &compiler.OpResult{Update: agentUpdate("A", "a")}, nil
			}},
			"B": agentOp("B", func(st state.State) (interface{}, error) {
				return st.Intermediate()["A"].(string) + "b", nil
			}),
			"C": agentOp("C", func(st state.State) (interface{}, error) {
				return st.Intermediate()["B"].(string) + "c", nil
			}),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("A"),
			"A":              direct("B"),
			"B":              direct("C"),
			"C":              direct(models.EndNode),
		},
	)

	rec := newMemRecorder()
	first := newExec(map[string]interface{}{})
	run1 := New(rec, testLog()).NewRun(plan, first, events.Discard)
	require.ErrorIs(t, run1.Execute(context.Background()), agents.ErrCancelled)
	assert.Equal(t, models.StatusCancelled, first.Status)
	require.Len(t, rec.checkpoints[first.ThreadID], 1)

	// A fresh execution record on the same thread picks up after A.
	second := newExec(map[string]interface{}{})
	second.ThreadID = first.ThreadID
	run2 := New(rec, testLog()).NewRun(plan, second, events.Discard)
	require.NoError(t, run2.Resume(context.Background()))

	assert.Equal(t, models.StatusCompleted, second.Status)
	assert.Equal(t, "abc", second.OutputData["output"])

	// A is not re-run.
	steps := rec.stepsFor(second.ID)
	require.Len(t, steps, 2)
	assert.Equal(t, "B", steps[0].NodeID)
	assert.Equal(t, "C", steps[1].NodeID)

	// Step indexes continue across the resume.
	cps := rec.checkpoints[first.ThreadID]
	require.Len(t, cps, 3)
	assert.Equal(t, []int{1, 2, 3}, []int{cps[0].StepIndex, cps[1].StepIndex, cps[2].StepIndex})
}

func TestResumeWithoutCheckpointRunsFromStart(t *testing.T) {
	plan := newPlan(
		map[string]compiler.Operator{
			"A": agentOp("A", func(state.State) (interface{}, error) { return "a", nil }),
			"B": agentOp("B", func(state.State) (interface{}, error) { return "b", nil }),
		},
		map[string]*compiler.EdgeGroup{
			models.StartNode: direct("A"),
			"A":              direct("B"),
			"B":              direct(models.EndNode),
		},
	)

	rec := newMemRecorder()
	exec := newExec(nil)
	run := New(rec, testLog()).NewRun(plan, exec, events.Discard)
	require.NoError(t, run.Resume(context.Background()))

	assert.Equal(t, models.StatusCompleted, exec.Status)
	assert.Equal(t, "b", exec.OutputData["output"])
	assert.Equal(t, 2, len(rec.stepsFor(exec.ID)))
}

func TestResumeFromUnknownNodeRestarts(t *testing.T) {
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

	// Checkpoint from a node the current graph no longer has.
	snapshot := state.New(nil).Snapshot()
	snapshot[state.KeyCurrentNode] = "ghost"
	require.NoError(t, rec.SaveCheckpoint(context.Background(), &models.Checkpoint{
		ThreadID:  exec.ThreadID,
		StepIndex: 3,
		Snapshot:  snapshot,
	}))

	run := New(rec, testLog()).NewRun(plan, exec, events.Discard)
	require.NoError(t, run.Resume(context.Background()))

	assert.Equal(t, models.StatusCompleted, exec.Status)
	assert.Equal(t, "a", exec.OutputData["output"])

	// Step indexing continues from the stored checkpoint.
	cps := rec.checkpoints[exec.ThreadID]
	require.Len(t, cps, 2)
	assert.Equal(t, 4, cps[1].StepIndex)
}
