package compiler

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/condition"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
	"github.com/lyzr/agentflow/common/apperror"
)

// GraphReport is the outcome of structural workflow validation. Errors
// block saving the workflow; warnings do not.
type GraphReport struct {
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Valid reports whether the graph passed without hard errors.
func (r *GraphReport) Valid() bool { return len(r.Errors) == 0 }

func (r *GraphReport) errorf(format string, args ...interface{}) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *GraphReport) warnf(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// ValidateGraph checks a workflow definition before it is saved: node ids
// must be unique, edge endpoints and fan-out targets must exist, agents
// and subgraph workflows must resolve, conditions must parse, and
// subgraph inclusion must be acyclic. Nodes unreachable from the start
// sentinel only produce warnings. The returned error reports store
// failures, not validation findings.
func (c *Compiler) ValidateGraph(ctx context.Context, wf *models.Workflow) (*GraphReport, error) {
	report := &GraphReport{}
	eval := condition.NewEvaluator()

	nodes := map[string]*models.WorkflowNode{}
	for _, node := range wf.Nodes {
		if _, dup := nodes[node.NodeID]; dup {
			report.errorf("node_id %q is declared more than once", node.NodeID)
			continue
		}
		nodes[node.NodeID] = node
	}

	conditionless := map[string]int{}
	for _, edge := range wf.Edges {
		if edge.SourceNode != models.StartNode {
			if _, ok := nodes[edge.SourceNode]; !ok {
				report.errorf("edge %s -> %s references unknown source node", edge.SourceNode, edge.TargetNode)
			}
		}
		if edge.TargetNode != models.EndNode {
			if _, ok := nodes[edge.TargetNode]; !ok {
				report.errorf("edge %s -> %s references unknown target node", edge.SourceNode, edge.TargetNode)
			}
		}
		if cond := condOf(edge); cond != "" {
			if err := eval.Validate(cond); err != nil {
				report.errorf("edge %s -> %s has an invalid condition: %v", edge.SourceNode, edge.TargetNode, err)
			}
		} else {
			conditionless[edge.SourceNode]++
		}
	}
	for _, edge := range wf.Edges {
		if n := conditionless[edge.SourceNode]; n > 1 {
			report.warnf("node %q has %d condition-less edges; only the first acts as the default", edge.SourceNode, n)
			conditionless[edge.SourceNode] = 0
		}
	}

	for _, node := range wf.Nodes {
		if err := c.validateNode(ctx, wf, node, nodes, eval, report); err != nil {
			return nil, err
		}
	}

	checkSiblingConflicts(wf, nodes, report)

	for _, nodeID := range unreachableNodes(wf, nodes) {
		report.warnf("node %q is not reachable from %s and will never run", nodeID, models.StartNode)
	}
	return report, nil
}

func (c *Compiler) validateNode(ctx context.Context, wf *models.Workflow, node *models.WorkflowNode, nodes map[string]*models.WorkflowNode, eval *condition.Evaluator, report *GraphReport) error {
	switch node.NodeType {
	case models.NodeTypeAgent:
		if node.AgentID == nil {
			report.errorf("agent node %q is missing agent_id", node.NodeID)
			return nil
		}
		if _, err := c.store.GetAgent(ctx, *node.AgentID); err != nil {
			if apperror.IsKind(err, apperror.KindNotFound) {
				report.errorf("agent node %q references unknown agent %s", node.NodeID, *node.AgentID)
				return nil
			}
			return err
		}

	case models.NodeTypeRouter:
		validateRouterConfig(node, nodes, eval, report)

	case models.NodeTypeParallel:
		if len(node.ParallelNodes) == 0 {
			report.warnf("parallel node %q has no parallel_nodes and dispatches nothing", node.NodeID)
		}
		for _, target := range node.ParallelNodes {
			if _, ok := nodes[target]; !ok {
				report.errorf("parallel node %q fans out to unknown node %q", node.NodeID, target)
			}
		}

	case models.NodeTypeJoin:
		strategy := cfgString(node.Config, "strategy", StrategyMerge)
		switch strategy {
		case StrategyMerge, StrategyList, StrategyConcat, StrategyFirst:
		default:
			report.warnf("join node %q has unknown strategy %q; merge is used", node.NodeID, strategy)
		}

	case models.NodeTypeSubgraph:
		if node.SubgraphWorkflowID == nil {
			report.errorf("subgraph node %q is missing subgraph_workflow_id", node.NodeID)
			return nil
		}
		return c.checkInclusionCycle(ctx, wf.ID, node, report)

	default:
		report.errorf("node %q has unsupported type %q", node.NodeID, node.NodeType)
	}
	return nil
}

func validateRouterConfig(node *models.WorkflowNode, nodes map[string]*models.WorkflowNode, eval *condition.Evaluator, report *GraphReport) {
	if len(node.RouterConfig) == 0 {
		// The router falls back to its edge conditions.
		return
	}
	routes, _ := node.RouterConfig["routes"].([]interface{})
	for i, raw := range routes {
		route, ok := raw.(map[string]interface{})
		if !ok {
			report.errorf("router node %q route %d is not an object", node.NodeID, i)
			continue
		}
		cond, _ := route["condition"].(string)
		if cond == "" {
			report.errorf("router node %q route %d is missing a condition", node.NodeID, i)
		} else if err := eval.Validate(cond); err != nil {
			report.errorf("router node %q route %d has an invalid condition: %v", node.NodeID, i, err)
		}
		if target, _ := route["target"].(string); target != "" && target != models.EndNode {
			if _, ok := nodes[target]; !ok {
				report.errorf("router node %q routes to unknown node %q", node.NodeID, target)
			}
		}
	}
	if d, ok := node.RouterConfig["default"].(string); ok && d != "" && d != models.EndNode {
		if _, ok := nodes[d]; !ok {
			report.errorf("router node %q defaults to unknown node %q", node.NodeID, d)
		}
	}
}

// checkInclusionCycle walks subgraph references depth-first; revisiting a
// workflow already on the walk path is an inclusion cycle.
func (c *Compiler) checkInclusionCycle(ctx context.Context, rootID uuid.UUID, node *models.WorkflowNode, report *GraphReport) error {
	visiting := map[uuid.UUID]bool{rootID: true}

	var walk func(id uuid.UUID) (bool, error)
	walk = func(id uuid.UUID) (bool, error) {
		if visiting[id] {
			return true, nil
		}
		visiting[id] = true
		defer delete(visiting, id)

		sub, err := c.store.GetWorkflow(ctx, id)
		if err != nil {
			if apperror.IsKind(err, apperror.KindNotFound) {
				report.errorf("subgraph node %q references unknown workflow %s", node.NodeID, id)
				return false, nil
			}
			return false, err
		}
		for _, n := range sub.Nodes {
			if n.NodeType != models.NodeTypeSubgraph || n.SubgraphWorkflowID == nil {
				continue
			}
			cyclic, err := walk(*n.SubgraphWorkflowID)
			if err != nil || cyclic {
				return cyclic, err
			}
		}
		return false, nil
	}

	cyclic, err := walk(*node.SubgraphWorkflowID)
	if err != nil {
		return err
	}
	if cyclic {
		report.errorf("subgraph node %q creates a workflow inclusion cycle", node.NodeID)
	}
	return nil
}

// checkSiblingConflicts rejects fan-outs whose siblings would race on a
// last-write-wins state key. Join siblings are the statically decidable
// case: their output_key is known at validation time.
func checkSiblingConflicts(wf *models.Workflow, nodes map[string]*models.WorkflowNode, report *GraphReport) {
	schema := state.NewSchema(wf.StateSchema)
	for _, node := range wf.Nodes {
		if node.NodeType != models.NodeTypeParallel || len(node.ParallelNodes) < 2 {
			continue
		}
		byKey := map[string][]string{}
		for _, target := range node.ParallelNodes {
			sibling, ok := nodes[target]
			if !ok || sibling.NodeType != models.NodeTypeJoin {
				continue
			}
			key := cfgString(sibling.Config, "output_key", defaultOutputKey)
			byKey[key] = append(byKey[key], target)
		}
		for key, siblings := range byKey {
			if len(siblings) < 2 || schema.Kind(key) != state.KindLastWrite {
				continue
			}
			report.errorf("parallel node %q siblings %s all write state key %q, which keeps only the last value",
				node.NodeID, strings.Join(siblings, ", "), key)
		}
	}
}

// unreachableNodes returns the declared nodes no path from the start
// sentinel can reach, following edges, fan-out targets and router routes.
func unreachableNodes(wf *models.Workflow, nodes map[string]*models.WorkflowNode) []string {
	adjacent := map[string][]string{}
	for _, edge := range wf.Edges {
		adjacent[edge.SourceNode] = append(adjacent[edge.SourceNode], edge.TargetNode)
	}
	for _, node := range wf.Nodes {
		adjacent[node.NodeID] = append(adjacent[node.NodeID], node.ParallelNodes...)
		if node.NodeType == models.NodeTypeRouter && len(node.RouterConfig) > 0 {
			group := routerEdgeGroup(node.RouterConfig)
			for _, route := range group.Routes {
				adjacent[node.NodeID] = append(adjacent[node.NodeID], route.Target)
			}
			adjacent[node.NodeID] = append(adjacent[node.NodeID], group.Default)
		}
	}

	seen := map[string]bool{}
	stack := []string{models.StartNode}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[id] {
			continue
		}
		seen[id] = true
		stack = append(stack, adjacent[id]...)
	}

	var unreachable []string
	for _, node := range wf.Nodes {
		if !seen[node.NodeID] {
			unreachable = append(unreachable, node.NodeID)
		}
	}
	return unreachable
}
