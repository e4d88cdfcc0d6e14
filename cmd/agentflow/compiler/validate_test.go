package compiler

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
)

func linearWorkflow(store *stubStore) *models.Workflow {
	agentID := store.addAgent("writer")
	return &models.Workflow{
		ID:   uuid.New(),
		Name: "chain",
		Nodes: []*models.WorkflowNode{
			agentNode("A", agentID),
			agentNode("B", agentID),
		},
		Edges: []*models.WorkflowEdge{
			edge(models.StartNode, "A"),
			edge("A", "B"),
			edge("B", models.EndNode),
		},
	}
}

func TestValidateGraphAcceptsLinearChain(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Empty(t, report.Errors)
	assert.Empty(t, report.Warnings)
}

func TestValidateDuplicateNodeID(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Nodes = append(wf.Nodes, agentNode("A", *wf.Nodes[0].AgentID))

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "more than once")
}

func TestValidateUnknownEdgeEndpoints(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Edges = append(wf.Edges, edge("ghost", "A"), edge("B", "phantom"))

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	require.Len(t, report.Errors, 2)
	assert.Contains(t, report.Errors[0], "unknown source")
	assert.Contains(t, report.Errors[1], "unknown target")
}

func TestValidateUnknownAgent(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Nodes = append(wf.Nodes, agentNode("C", uuid.New()))
	wf.Edges = append(wf.Edges, edge("B", "C"), edge("C", models.EndNode))

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "unknown agent")
}

func TestValidateMissingAgentID(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Nodes[0].AgentID = nil

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.Contains(t, report.Errors[0], "missing agent_id")
}

func TestValidateBadEdgeCondition(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Edges[1] = condEdge("A", "B", "state.score >> 0.8")

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "invalid condition")
}

func TestValidateRouterConfig(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Nodes = append(wf.Nodes, &models.WorkflowNode{
		NodeID:   "R",
		NodeType: models.NodeTypeRouter,
		RouterConfig: map[string]interface{}{
			"routes": []interface{}{
				map[string]interface{}{"condition": "state.score >> 1", "target": "A"},
				map[string]interface{}{"target": "B"},
				map[string]interface{}{"condition": "state.get('x') == 1", "target": "nowhere"},
			},
			"default": "missing",
		},
	})
	wf.Edges = append(wf.Edges, edge("B", "R"))

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	require.Len(t, report.Errors, 4)
	assert.Contains(t, report.Errors[0], "invalid condition")
	assert.Contains(t, report.Errors[1], "missing a condition")
	assert.Contains(t, report.Errors[2], "unknown node \"nowhere\"")
	assert.Contains(t, report.Errors[3], "unknown node \"missing\"")
}

func TestValidateParallelUnknownTarget(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Nodes = append(wf.Nodes, &models.WorkflowNode{
		NodeID:        "P",
		NodeType:      models.NodeTypeParallel,
		ParallelNodes: []string{"A", "ghost"},
	})
	wf.Edges = append(wf.Edges, edge("B", "P"))

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "unknown node \"ghost\"")
}

func TestValidateSubgraphCycle(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("leaf")

	aID, bID := uuid.New(), uuid.New()
	refA, refB := aID, bID
	wfA := &models.Workflow{
		ID:    aID,
		Name:  "a",
		Nodes: []*models.WorkflowNode{{NodeID: "toB", NodeType: models.NodeTypeSubgraph, SubgraphWorkflowID: &refB}},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "toB"), edge("toB", models.EndNode)},
	}
	store.workflows[aID] = wfA
	store.workflows[bID] = &models.Workflow{
		ID:   bID,
		Name: "b",
		Nodes: []*models.WorkflowNode{
			agentNode("leaf", agentID),
			{NodeID: "toA", NodeType: models.NodeTypeSubgraph, SubgraphWorkflowID: &refA},
		},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "leaf"), edge("leaf", "toA"), edge("toA", models.EndNode)},
	}

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wfA)

	require.NoError(t, err)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "inclusion cycle")
}

func TestValidateSubgraphSelfReference(t *testing.T) {
	store := newStubStore()
	wfID := uuid.New()
	ref := wfID
	wf := &models.Workflow{
		ID:    wfID,
		Name:  "self",
		Nodes: []*models.WorkflowNode{{NodeID: "S", NodeType: models.NodeTypeSubgraph, SubgraphWorkflowID: &ref}},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "S"), edge("S", models.EndNode)},
	}
	store.workflows[wfID] = wf

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.Contains(t, report.Errors[0], "inclusion cycle")
}

func TestValidateSubgraphUnknownWorkflow(t *testing.T) {
	store := newStubStore()
	missing := uuid.New()
	wf := &models.Workflow{
		ID:    uuid.New(),
		Name:  "dangling",
		Nodes: []*models.WorkflowNode{{NodeID: "S", NodeType: models.NodeTypeSubgraph, SubgraphWorkflowID: &missing}},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "S"), edge("S", models.EndNode)},
	}

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.Contains(t, report.Errors[0], "unknown workflow")
}

func TestValidateDisconnectedNodeWarns(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Nodes = append(wf.Nodes, agentNode("orphan", *wf.Nodes[0].AgentID))

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, report.Valid())
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "orphan")
	assert.Contains(t, report.Warnings[0], "not reachable")
}

func TestValidateReachabilityFollowsRouterAndFanOut(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("worker")
	wf := &models.Workflow{
		ID:   uuid.New(),
		Name: "implicit-reach",
		Nodes: []*models.WorkflowNode{
			{NodeID: "R", NodeType: models.NodeTypeRouter, RouterConfig: map[string]interface{}{
				"routes":  []interface{}{map[string]interface{}{"condition": "state.get('big', false)", "target": "P"}},
				"default": models.EndNode,
			}},
			{NodeID: "P", NodeType: models.NodeTypeParallel, ParallelNodes: []string{"X"}},
			agentNode("X", agentID),
		},
		Edges: []*models.WorkflowEdge{
			edge(models.StartNode, "R"),
			edge("X", models.EndNode),
		},
	}

	// P is only reachable through the router config and X only through
	// the fan-out list; neither may be flagged.
	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, report.Valid())
	assert.Empty(t, report.Warnings)
}

func TestValidateMultipleDefaultEdgesWarn(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Edges = append(wf.Edges, edge("A", models.EndNode))

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, report.Valid())
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "condition-less")
}

func TestValidateJoinSiblingOutputKeyConflict(t *testing.T) {
	store := newStubStore()
	wf := &models.Workflow{
		ID:   uuid.New(),
		Name: "clash",
		Nodes: []*models.WorkflowNode{
			{NodeID: "P", NodeType: models.NodeTypeParallel, ParallelNodes: []string{"J1", "J2"}},
			{NodeID: "J1", NodeType: models.NodeTypeJoin},
			{NodeID: "J2", NodeType: models.NodeTypeJoin},
		},
		Edges: []*models.WorkflowEdge{
			edge(models.StartNode, "P"),
			edge("J1", models.EndNode),
			edge("J2", models.EndNode),
		},
	}

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.False(t, report.Valid())
	assert.Contains(t, report.Errors[0], "parallel_results")

	// Declaring the shared key as an array gives it an append reducer,
	// which makes concurrent sibling writes legal.
	wf.StateSchema = map[string]interface{}{"parallel_results": map[string]interface{}{"type": "array"}}
	report, err = newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, report.Valid())
}

func TestValidateUnknownJoinStrategyWarns(t *testing.T) {
	store := newStubStore()
	wf := linearWorkflow(store)
	wf.Nodes = append(wf.Nodes, &models.WorkflowNode{
		NodeID:   "J",
		NodeType: models.NodeTypeJoin,
		Config:   map[string]interface{}{"strategy": "zip"},
	})
	wf.Edges = append(wf.Edges, edge("B", "J"))

	report, err := newTestCompiler(store).ValidateGraph(context.Background(), wf)

	require.NoError(t, err)
	assert.True(t, report.Valid())
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "zip")
}
