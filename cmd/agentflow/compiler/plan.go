package compiler

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/condition"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
)

// Plan is the executable form of a workflow: one operator per node, an
// edge group per source, and the reducer table the scheduler folds node
// updates through.
type Plan struct {
	WorkflowID   uuid.UUID
	WorkflowName string
	Nodes        map[string]Operator
	Edges        map[string]*EdgeGroup
	Schema       *state.Schema

	// Timeouts holds per-node wall-clock budgets taken from
	// config.timeout_seconds. Nodes without an entry run unbounded.
	Timeouts map[string]time.Duration
}

// Operator is the executable realisation of one workflow node.
type Operator interface {
	Kind() models.NodeType
	Execute(ctx context.Context, env Env, inv *Invocation) (*OpResult, error)
}

// Env is what the scheduler lends an operator for the duration of one
// dispatch.
type Env interface {
	// Cancelled reports whether the execution has been asked to stop.
	// Operators with internal loops check it between iterations.
	Cancelled() bool

	// RunSubgraph executes a nested plan seeded from the given snapshot
	// under its own thread id and returns the final state snapshot.
	RunSubgraph(ctx context.Context, plan *Plan, snapshot map[string]interface{}, threadID string) (map[string]interface{}, error)
}

// Invocation carries the per-dispatch inputs of one operator run.
type Invocation struct {
	// State is an isolated snapshot the operator may read freely.
	State state.State

	// Branches holds the ordered sibling outputs collected at a fan-out
	// barrier. Set only when a join is dispatched after a parallel group.
	Branches []Branch
}

// Branch is one completed fan-out sibling.
type Branch struct {
	Node   string
	Index  int
	Output interface{}
}

// OpResult is what an operator hands back to the scheduler.
type OpResult struct {
	// Update is the partial state folded in through the reducer table.
	Update map[string]interface{}

	// Sends fan the execution out to sibling work items. Only parallel
	// operators emit them.
	Sends []Send

	// Metadata is recorded on the execution step (token usage, loop
	// iterations).
	Metadata map[string]interface{}

	// StepError is recorded on the step without failing the node, e.g. a
	// structured output that did not match its schema.
	StepError error
}

// Send is one fan-out dispatch: a target node plus the isolated state
// payload that sibling observes.
type Send struct {
	Target  string
	Payload map[string]interface{}
}

// Route is one conditional branch of an edge group.
type Route struct {
	Condition string
	Target    string
}

// EdgeGroup is the routing decision attached to one source node. Either
// Direct is set, or the Routes/Default pair is consulted.
type EdgeGroup struct {
	Direct  string
	Routes  []Route
	Default string
}

// Resolve picks the next target after the source node completed.
// Conditions are evaluated in declaration order against the state
// snapshot; an evaluation error coerces to false and is returned so the
// caller can record it on the step without failing the run.
func (g *EdgeGroup) Resolve(eval *condition.Evaluator, snapshot map[string]interface{}) (string, error) {
	if g.Direct != "" {
		return g.Direct, nil
	}
	var evalErr error
	for _, route := range g.Routes {
		ok, err := eval.Evaluate(route.Condition, snapshot)
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			continue
		}
		if ok {
			return route.Target, evalErr
		}
	}
	if g.Default != "" {
		return g.Default, evalErr
	}
	return models.EndNode, evalErr
}
