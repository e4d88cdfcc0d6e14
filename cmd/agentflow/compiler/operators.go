package compiler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lyzr/agentflow/cmd/agentflow/agents"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
)

// Join aggregation strategies.
const (
	StrategyMerge  = "merge"
	StrategyList   = "list"
	StrategyConcat = "concat"
	StrategyFirst  = "first"
)

const defaultOutputKey = "parallel_results"

// agentOperator runs one bound agent and publishes its output under the
// node's id.
type agentOperator struct {
	nodeID string
	runner *agents.Runner
}

func (o *agentOperator) Kind() models.NodeType { return models.NodeTypeAgent }

func (o *agentOperator) Execute(ctx context.Context, env Env, inv *Invocation) (*OpResult, error) {
	res, err := o.runner.Run(ctx, inv.State, env.Cancelled)
	if err != nil {
		return nil, err
	}
	return &OpResult{
		Update: map[string]interface{}{
			state.KeyCurrentNode:  o.nodeID,
			state.KeyIntermediate: map[string]interface{}{o.nodeID: res.Output},
			state.KeyOutput:       res.Output,
		},
		Metadata: map[string]interface{}{
			"iterations": res.Iterations,
			"usage": map[string]interface{}{
				"prompt_tokens":     res.Usage.PromptTokens,
				"completion_tokens": res.Usage.CompletionTokens,
				"total_tokens":      res.Usage.TotalTokens,
			},
		},
		StepError: res.SchemaError,
	}, nil
}

// routerOperator only stamps the node; the branch decision itself lives
// in the node's edge group.
type routerOperator struct {
	nodeID string
}

func (o *routerOperator) Kind() models.NodeType { return models.NodeTypeRouter }

func (o *routerOperator) Execute(context.Context, Env, *Invocation) (*OpResult, error) {
	return &OpResult{Update: map[string]interface{}{state.KeyCurrentNode: o.nodeID}}, nil
}

// parallelOperator fans the execution out to its targets. With a
// fan_out_key it emits one send per item of the keyed list; without one
// it emits a single send per target.
type parallelOperator struct {
	nodeID    string
	targets   []string
	fanOutKey string
}

func (o *parallelOperator) Kind() models.NodeType { return models.NodeTypeParallel }

func (o *parallelOperator) Execute(_ context.Context, _ Env, inv *Invocation) (*OpResult, error) {
	update := map[string]interface{}{state.KeyCurrentNode: o.nodeID}

	if o.fanOutKey == "" {
		sends := make([]Send, 0, len(o.targets))
		for _, target := range o.targets {
			sends = append(sends, Send{Target: target, Payload: inv.State.Snapshot()})
		}
		return &OpResult{Update: update, Sends: sends}, nil
	}

	items := inv.State[o.fanOutKey]
	if items == nil {
		items = inv.State.Input()[o.fanOutKey]
	}
	// A missing or non-list fan-out value dispatches nothing.
	list, _ := items.([]interface{})
	var sends []Send
	for i, item := range list {
		for _, target := range o.targets {
			payload := inv.State.Snapshot()
			payload[state.KeyParallelItem] = item
			payload[state.KeyParallelIndex] = i
			meta, _ := payload[state.KeyMetadata].(map[string]interface{})
			if meta == nil {
				meta = map[string]interface{}{}
			}
			meta[state.KeyParallelItem] = item
			meta[state.KeyParallelIndex] = i
			payload[state.KeyMetadata] = meta
			sends = append(sends, Send{Target: target, Payload: payload})
		}
	}
	return &OpResult{Update: update, Sends: sends}, nil
}

// joinOperator folds the outputs of a fan-out back into one value. It
// prefers the barrier results the scheduler collected; dispatched without
// them it falls back to the intermediate entries of its upstream sources.
type joinOperator struct {
	nodeID    string
	strategy  string
	outputKey string
	upstream  []string
}

func (o *joinOperator) Kind() models.NodeType { return models.NodeTypeJoin }

func (o *joinOperator) Execute(_ context.Context, _ Env, inv *Invocation) (*OpResult, error) {
	aggregated := aggregate(o.strategy, o.entries(inv))
	return &OpResult{Update: map[string]interface{}{
		o.outputKey:     aggregated,
		state.KeyOutput: aggregated,
	}}, nil
}

type joinEntry struct {
	key   string
	value interface{}
}

func (o *joinOperator) entries(inv *Invocation) []joinEntry {
	if len(inv.Branches) > 0 {
		entries := make([]joinEntry, 0, len(inv.Branches))
		for _, b := range inv.Branches {
			entries = append(entries, joinEntry{key: b.Node, value: b.Output})
		}
		return entries
	}
	intermediate := inv.State.Intermediate()
	var entries []joinEntry
	for _, source := range o.upstream {
		if v, ok := intermediate[source]; ok {
			entries = append(entries, joinEntry{key: source, value: v})
		}
	}
	return entries
}

func aggregate(strategy string, entries []joinEntry) interface{} {
	switch strategy {
	case StrategyList:
		values := make([]interface{}, 0, len(entries))
		for _, e := range entries {
			values = append(values, e.value)
		}
		return values

	case StrategyConcat:
		var parts []string
		for _, e := range entries {
			if e.value == nil {
				continue
			}
			parts = append(parts, stringifyValue(e.value))
		}
		return strings.Join(parts, "\n")

	case StrategyFirst:
		for _, e := range entries {
			if e.value != nil {
				return e.value
			}
		}
		return nil

	default: // merge
		allMaps := true
		for _, e := range entries {
			if _, ok := e.value.(map[string]interface{}); !ok {
				allMaps = false
				break
			}
		}
		merged := map[string]interface{}{}
		for _, e := range entries {
			if allMaps {
				for k, v := range e.value.(map[string]interface{}) {
					merged[k] = v
				}
			} else {
				merged[e.key] = e.value
			}
		}
		return merged
	}
}

func stringifyValue(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}
	return fmt.Sprintf("%v", v)
}

// subgraphOperator runs a nested plan seeded with the parent state and
// publishes the nested output under the node's id.
type subgraphOperator struct {
	nodeID string
	plan   *Plan
}

func (o *subgraphOperator) Kind() models.NodeType { return models.NodeTypeSubgraph }

func (o *subgraphOperator) Execute(ctx context.Context, env Env, inv *Invocation) (*OpResult, error) {
	final, err := env.RunSubgraph(ctx, o.plan, inv.State.Snapshot(), "subgraph_"+o.nodeID)
	if err != nil {
		return nil, err
	}
	output := final[state.KeyOutput]
	return &OpResult{Update: map[string]interface{}{
		state.KeyCurrentNode:  o.nodeID,
		state.KeyIntermediate: map[string]interface{}{o.nodeID: output},
		state.KeyOutput:       output,
	}}, nil
}
