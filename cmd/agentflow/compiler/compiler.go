// Package compiler turns workflow definitions into executable plans: one
// operator per node, a conditional edge group per source, and the state
// reducer table the scheduler folds updates through. Agents, their tools
// and their providers are resolved once at compile time; subgraph nodes
// compile their referenced workflow recursively with a cycle guard.
package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/agents"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/provider"
	"github.com/lyzr/agentflow/cmd/agentflow/state"
	"github.com/lyzr/agentflow/cmd/agentflow/tools"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

// Store loads the records a plan is built from.
type Store interface {
	// GetWorkflow loads a workflow with its nodes and edges.
	GetWorkflow(ctx context.Context, id uuid.UUID) (*models.Workflow, error)
	// GetAgent loads an agent with its bound tools.
	GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error)
}

// Compiler builds plans and validates workflow graphs.
type Compiler struct {
	store     Store
	providers *provider.Factory
	registry  *tools.Registry
	log       *logger.Logger
}

// New creates a compiler over the given entity store, provider factory
// and tool registry.
func New(store Store, providers *provider.Factory, registry *tools.Registry, log *logger.Logger) *Compiler {
	return &Compiler{
		store:     store,
		providers: providers,
		registry:  registry,
		log:       log.Named("compiler"),
	}
}

// Compile loads the workflow and builds its plan.
func (c *Compiler) Compile(ctx context.Context, workflowID uuid.UUID) (*Plan, error) {
	return c.compile(ctx, workflowID, map[uuid.UUID]bool{})
}

func (c *Compiler) compile(ctx context.Context, workflowID uuid.UUID, visiting map[uuid.UUID]bool) (*Plan, error) {
	if visiting[workflowID] {
		return nil, apperror.Newf(apperror.KindCompilation, "subgraph inclusion cycle through workflow %s", workflowID)
	}
	visiting[workflowID] = true
	defer delete(visiting, workflowID)

	wf, err := c.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Nodes:        make(map[string]Operator, len(wf.Nodes)),
		Edges:        buildEdgeGroups(wf),
		Schema:       state.NewSchema(wf.StateSchema),
		Timeouts:     map[string]time.Duration{},
	}

	for _, node := range wf.Nodes {
		if _, dup := plan.Nodes[node.NodeID]; dup {
			return nil, apperror.Newf(apperror.KindCompilation, "workflow %q declares node_id %q twice", wf.Name, node.NodeID)
		}
		op, err := c.buildOperator(ctx, wf, node, visiting)
		if err != nil {
			return nil, err
		}
		plan.Nodes[node.NodeID] = op
		if t := nodeTimeout(node.Config); t > 0 {
			plan.Timeouts[node.NodeID] = t
		}
	}

	if _, ok := plan.Edges[models.StartNode]; !ok {
		return nil, apperror.Newf(apperror.KindCompilation, "workflow %q has no edge leaving %s", wf.Name, models.StartNode)
	}

	c.log.Debug("compiled workflow plan",
		"workflow_id", wf.ID, "nodes", len(plan.Nodes), "edge_groups", len(plan.Edges))
	return plan, nil
}

func (c *Compiler) buildOperator(ctx context.Context, wf *models.Workflow, node *models.WorkflowNode, visiting map[uuid.UUID]bool) (Operator, error) {
	switch node.NodeType {
	case models.NodeTypeAgent:
		return c.buildAgentOperator(ctx, node)

	case models.NodeTypeRouter:
		return &routerOperator{nodeID: node.NodeID}, nil

	case models.NodeTypeParallel:
		return &parallelOperator{
			nodeID:    node.NodeID,
			targets:   node.ParallelNodes,
			fanOutKey: cfgString(node.Config, "fan_out_key", ""),
		}, nil

	case models.NodeTypeJoin:
		return &joinOperator{
			nodeID:    node.NodeID,
			strategy:  cfgString(node.Config, "strategy", StrategyMerge),
			outputKey: cfgString(node.Config, "output_key", defaultOutputKey),
			upstream:  upstreamSources(wf.Edges, node.NodeID),
		}, nil

	case models.NodeTypeSubgraph:
		if node.SubgraphWorkflowID == nil {
			return nil, apperror.Newf(apperror.KindCompilation, "subgraph node %q is missing subgraph_workflow_id", node.NodeID)
		}
		sub, err := c.compile(ctx, *node.SubgraphWorkflowID, visiting)
		if err != nil {
			return nil, apperror.Wrap(apperror.KindCompilation, err, fmt.Sprintf("compiling subgraph for node %q", node.NodeID))
		}
		return &subgraphOperator{nodeID: node.NodeID, plan: sub}, nil

	default:
		return nil, apperror.Newf(apperror.KindCompilation, "node %q has unsupported type %q", node.NodeID, node.NodeType)
	}
}

func (c *Compiler) buildAgentOperator(ctx context.Context, node *models.WorkflowNode) (Operator, error) {
	if node.AgentID == nil {
		return nil, apperror.Newf(apperror.KindCompilation, "agent node %q is missing agent_id", node.NodeID)
	}
	agent, err := c.store.GetAgent(ctx, *node.AgentID)
	if err != nil {
		if apperror.IsKind(err, apperror.KindNotFound) {
			return nil, apperror.Newf(apperror.KindCompilation, "agent node %q references unknown agent %s", node.NodeID, *node.AgentID)
		}
		return nil, err
	}
	prov, err := c.providers.Get(agent.Provider)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindCompilation, err, fmt.Sprintf("agent node %q needs provider %q", node.NodeID, agent.Provider))
	}

	var bound []tools.Tool
	for _, def := range agent.Tools {
		tool, err := c.registry.Resolve(def)
		if err != nil {
			// Tools that fail to resolve are skipped rather than failing
			// the whole plan; the agent runs with the remainder.
			c.log.Warn("skipping unresolvable tool",
				"node_id", node.NodeID, "tool", def.Name, "error", err)
			continue
		}
		bound = append(bound, tool)
	}

	maxTokens := 0
	if agent.MaxTokens != nil {
		maxTokens = *agent.MaxTokens
	}
	runner, err := agents.NewRunner(agents.Config{
		Name:         agent.Name,
		Instructions: agent.Instructions,
		Provider:     prov,
		Model:        agent.Model,
		Temperature:  agent.Temperature,
		MaxTokens:    maxTokens,
		OutputSchema: agent.OutputSchema,
		Tools:        bound,
	}, c.log)
	if err != nil {
		return nil, err
	}
	return &agentOperator{nodeID: node.NodeID, runner: runner}, nil
}

// buildEdgeGroups groups edges by source. Router nodes carrying a
// router_config get their group from that config; their declared edges
// only serve reachability.
func buildEdgeGroups(wf *models.Workflow) map[string]*EdgeGroup {
	routerCfg := map[string]map[string]interface{}{}
	for _, node := range wf.Nodes {
		if node.NodeType == models.NodeTypeRouter && len(node.RouterConfig) > 0 {
			routerCfg[node.NodeID] = node.RouterConfig
		}
	}

	bySource := map[string][]*models.WorkflowEdge{}
	var order []string
	for _, edge := range wf.Edges {
		if _, seen := bySource[edge.SourceNode]; !seen {
			order = append(order, edge.SourceNode)
		}
		bySource[edge.SourceNode] = append(bySource[edge.SourceNode], edge)
	}

	groups := make(map[string]*EdgeGroup, len(order))
	for _, source := range order {
		if cfg, ok := routerCfg[source]; ok {
			groups[source] = routerEdgeGroup(cfg)
			continue
		}
		groups[source] = edgeGroup(bySource[source])
	}
	for nodeID, cfg := range routerCfg {
		if _, ok := groups[nodeID]; !ok {
			groups[nodeID] = routerEdgeGroup(cfg)
		}
	}
	return groups
}

func edgeGroup(edges []*models.WorkflowEdge) *EdgeGroup {
	if len(edges) == 1 && condOf(edges[0]) == "" {
		return &EdgeGroup{Direct: edges[0].TargetNode}
	}
	group := &EdgeGroup{Default: models.EndNode}
	defaultSet := false
	for _, edge := range edges {
		if cond := condOf(edge); cond != "" {
			group.Routes = append(group.Routes, Route{Condition: cond, Target: edge.TargetNode})
			continue
		}
		if !defaultSet {
			group.Default = edge.TargetNode
			defaultSet = true
		}
	}
	return group
}

func routerEdgeGroup(cfg map[string]interface{}) *EdgeGroup {
	group := &EdgeGroup{Default: models.EndNode}
	if d, ok := cfg["default"].(string); ok && d != "" {
		group.Default = d
	}
	routes, _ := cfg["routes"].([]interface{})
	for _, raw := range routes {
		route, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		cond, _ := route["condition"].(string)
		if cond == "" {
			continue
		}
		target, _ := route["target"].(string)
		if target == "" {
			target = group.Default
		}
		group.Routes = append(group.Routes, Route{Condition: cond, Target: target})
	}
	return group
}

func condOf(edge *models.WorkflowEdge) string {
	if edge.Condition == nil {
		return ""
	}
	return *edge.Condition
}

// upstreamSources lists the distinct sources with an edge into nodeID, in
// edge declaration order.
func upstreamSources(edges []*models.WorkflowEdge, nodeID string) []string {
	var sources []string
	seen := map[string]bool{}
	for _, edge := range edges {
		if edge.TargetNode != nodeID || seen[edge.SourceNode] {
			continue
		}
		seen[edge.SourceNode] = true
		sources = append(sources, edge.SourceNode)
	}
	return sources
}

func nodeTimeout(config map[string]interface{}) time.Duration {
	switch v := config["timeout_seconds"].(type) {
	case float64:
		return time.Duration(v * float64(time.Second))
	case int:
		return time.Duration(v) * time.Second
	default:
		return 0
	}
}

func cfgString(config map[string]interface{}, key, fallback string) string {
	if v, ok := config[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
