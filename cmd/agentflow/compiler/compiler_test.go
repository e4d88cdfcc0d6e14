package compiler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/provider"
	"github.com/lyzr/agentflow/cmd/agentflow/tools"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/config"
)

type stubStore struct {
	workflows map[uuid.UUID]*models.Workflow
	agents    map[uuid.UUID]*models.Agent
}

func newStubStore() *stubStore {
	return &stubStore{
		workflows: map[uuid.UUID]*models.Workflow{},
		agents:    map[uuid.UUID]*models.Agent{},
	}
}

func (s *stubStore) GetWorkflow(_ context.Context, id uuid.UUID) (*models.Workflow, error) {
	if wf, ok := s.workflows[id]; ok {
		return wf, nil
	}
	return nil, apperror.NotFound("workflow", id)
}

func (s *stubStore) GetAgent(_ context.Context, id uuid.UUID) (*models.Agent, error) {
	if a, ok := s.agents[id]; ok {
		return a, nil
	}
	return nil, apperror.NotFound("agent", id)
}

func (s *stubStore) addAgent(name string) uuid.UUID {
	id := uuid.New()
	s.agents[id] = &models.Agent{
		ID:           id,
		Name:         name,
		Provider:     models.ProviderOpenAI,
		Model:        "gpt-4o",
		Instructions: "Do the work.",
	}
	return id
}

func newTestCompiler(store Store) *Compiler {
	factory := provider.NewFactory(config.ProviderConfig{OpenAIAPIKey: "sk-test"}, testLog())
	registry := tools.NewRegistry(tools.Config{}, testLog())
	return New(store, factory, registry, testLog())
}

func agentNode(nodeID string, agentID uuid.UUID) *models.WorkflowNode {
	id := agentID
	return &models.WorkflowNode{NodeID: nodeID, NodeType: models.NodeTypeAgent, AgentID: &id}
}

func edge(source, target string) *models.WorkflowEdge {
	return &models.WorkflowEdge{SourceNode: source, TargetNode: target}
}

func condEdge(source, target, cond string) *models.WorkflowEdge {
	c := cond
	return &models.WorkflowEdge{SourceNode: source, TargetNode: target, Condition: &c}
}

func TestCompileLinearWorkflow(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("writer")
	wfID := uuid.New()
	store.workflows[wfID] = &models.Workflow{
		ID:   wfID,
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

	plan, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.NoError(t, err)
	assert.Equal(t, wfID, plan.WorkflowID)
	assert.Len(t, plan.Nodes, 2)
	assert.Equal(t, models.NodeTypeAgent, plan.Nodes["A"].Kind())
	assert.Equal(t, "A", plan.Edges[models.StartNode].Direct)
	assert.Equal(t, "B", plan.Edges["A"].Direct)
	assert.Equal(t, models.EndNode, plan.Edges["B"].Direct)
	assert.Empty(t, plan.Timeouts)
}

func TestCompileRouterConfigBuildsGroup(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("worker")
	wfID := uuid.New()
	store.workflows[wfID] = &models.Workflow{
		ID:   wfID,
		Name: "routed",
		Nodes: []*models.WorkflowNode{
			{NodeID: "R", NodeType: models.NodeTypeRouter, RouterConfig: map[string]interface{}{
				"routes": []interface{}{
					map[string]interface{}{"condition": "state.get('score', 0) > 0.8", "target": "HIGH"},
					map[string]interface{}{"condition": "state.get('score', 0) > 0.5", "target": "MED"},
				},
				"default": "LOW",
			}},
			agentNode("HIGH", agentID),
			agentNode("MED", agentID),
			agentNode("LOW", agentID),
		},
		Edges: []*models.WorkflowEdge{
			edge(models.StartNode, "R"),
			edge("HIGH", models.EndNode),
			edge("MED", models.EndNode),
			edge("LOW", models.EndNode),
		},
	}

	plan, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.NoError(t, err)
	group := plan.Edges["R"]
	require.NotNil(t, group)
	assert.Empty(t, group.Direct)
	require.Len(t, group.Routes, 2)
	assert.Equal(t, "HIGH", group.Routes[0].Target)
	assert.Equal(t, "MED", group.Routes[1].Target)
	assert.Equal(t, "LOW", group.Default)
}

func TestCompileConditionalEdgesBuildGroup(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("worker")
	wfID := uuid.New()
	store.workflows[wfID] = &models.Workflow{
		ID:   wfID,
		Name: "branching",
		Nodes: []*models.WorkflowNode{
			agentNode("A", agentID),
			agentNode("HIGH", agentID),
			agentNode("LOW", agentID),
		},
		Edges: []*models.WorkflowEdge{
			edge(models.StartNode, "A"),
			condEdge("A", "HIGH", "state.get('score', 0) > 0.8"),
			edge("A", "LOW"),
			edge("HIGH", models.EndNode),
			edge("LOW", models.EndNode),
		},
	}

	plan, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.NoError(t, err)
	group := plan.Edges["A"]
	require.Len(t, group.Routes, 1)
	assert.Equal(t, "HIGH", group.Routes[0].Target)
	assert.Equal(t, "LOW", group.Default)
}

func TestCompileReadsNodeTimeout(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("slow")
	wfID := uuid.New()
	node := agentNode("A", agentID)
	node.Config = map[string]interface{}{"timeout_seconds": 2.5}
	store.workflows[wfID] = &models.Workflow{
		ID:    wfID,
		Name:  "timed",
		Nodes: []*models.WorkflowNode{node},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "A"), edge("A", models.EndNode)},
	}

	plan, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, plan.Timeouts["A"])
}

func TestCompileParallelAndJoin(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("worker")
	wfID := uuid.New()
	store.workflows[wfID] = &models.Workflow{
		ID:   wfID,
		Name: "fanout",
		Nodes: []*models.WorkflowNode{
			{NodeID: "P", NodeType: models.NodeTypeParallel, ParallelNodes: []string{"X", "Y"},
				Config: map[string]interface{}{"fan_out_key": "items"}},
			agentNode("X", agentID),
			agentNode("Y", agentID),
			{NodeID: "J", NodeType: models.NodeTypeJoin,
				Config: map[string]interface{}{"strategy": "list", "output_key": "results"}},
		},
		Edges: []*models.WorkflowEdge{
			edge(models.StartNode, "P"),
			edge("X", "J"),
			edge("Y", "J"),
			edge("J", models.EndNode),
		},
	}

	plan, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.NoError(t, err)
	par, ok := plan.Nodes["P"].(*parallelOperator)
	require.True(t, ok)
	assert.Equal(t, []string{"X", "Y"}, par.targets)
	assert.Equal(t, "items", par.fanOutKey)

	join, ok := plan.Nodes["J"].(*joinOperator)
	require.True(t, ok)
	assert.Equal(t, StrategyList, join.strategy)
	assert.Equal(t, "results", join.outputKey)
	assert.Equal(t, []string{"X", "Y"}, join.upstream)
}

func TestCompileSubgraph(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("inner-agent")
	innerID := uuid.New()
	store.workflows[innerID] = &models.Workflow{
		ID:    innerID,
		Name:  "inner",
		Nodes: []*models.WorkflowNode{agentNode("leaf", agentID)},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "leaf"), edge("leaf", models.EndNode)},
	}
	outerID := uuid.New()
	subRef := innerID
	store.workflows[outerID] = &models.Workflow{
		ID:    outerID,
		Name:  "outer",
		Nodes: []*models.WorkflowNode{{NodeID: "S", NodeType: models.NodeTypeSubgraph, SubgraphWorkflowID: &subRef}},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "S"), edge("S", models.EndNode)},
	}

	plan, err := newTestCompiler(store).Compile(context.Background(), outerID)

	require.NoError(t, err)
	sub, ok := plan.Nodes["S"].(*subgraphOperator)
	require.True(t, ok)
	assert.Equal(t, innerID, sub.plan.WorkflowID)
	assert.Contains(t, sub.plan.Nodes, "leaf")
}

func TestCompileSubgraphCycleFails(t *testing.T) {
	store := newStubStore()
	aID, bID := uuid.New(), uuid.New()
	refB, refA := bID, aID
	store.workflows[aID] = &models.Workflow{
		ID:    aID,
		Name:  "a",
		Nodes: []*models.WorkflowNode{{NodeID: "toB", NodeType: models.NodeTypeSubgraph, SubgraphWorkflowID: &refB}},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "toB"), edge("toB", models.EndNode)},
	}
	store.workflows[bID] = &models.Workflow{
		ID:    bID,
		Name:  "b",
		Nodes: []*models.WorkflowNode{{NodeID: "toA", NodeType: models.NodeTypeSubgraph, SubgraphWorkflowID: &refA}},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "toA"), edge("toA", models.EndNode)},
	}

	_, err := newTestCompiler(store).Compile(context.Background(), aID)

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindCompilation))
	assert.ErrorContains(t, err, "cycle")
}

func TestCompileUnknownAgentFails(t *testing.T) {
	store := newStubStore()
	wfID := uuid.New()
	store.workflows[wfID] = &models.Workflow{
		ID:    wfID,
		Name:  "broken",
		Nodes: []*models.WorkflowNode{agentNode("A", uuid.New())},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "A"), edge("A", models.EndNode)},
	}

	_, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindCompilation))
	assert.ErrorContains(t, err, "unknown agent")
}

func TestCompileUnconfiguredProviderFails(t *testing.T) {
	store := newStubStore()
	agentID := uuid.New()
	store.agents[agentID] = &models.Agent{
		ID:           agentID,
		Name:         "claude",
		Provider:     models.ProviderAnthropic,
		Model:        "claude-sonnet-4-0",
		Instructions: "Assist.",
	}
	wfID := uuid.New()
	store.workflows[wfID] = &models.Workflow{
		ID:    wfID,
		Name:  "needs-anthropic",
		Nodes: []*models.WorkflowNode{agentNode("A", agentID)},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "A"), edge("A", models.EndNode)},
	}

	// The test factory only carries an OpenAI credential.
	_, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindCompilation))
	assert.ErrorContains(t, err, "anthropic")
}

func TestCompileDuplicateNodeIDFails(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("worker")
	wfID := uuid.New()
	store.workflows[wfID] = &models.Workflow{
		ID:    wfID,
		Name:  "dup",
		Nodes: []*models.WorkflowNode{agentNode("A", agentID), agentNode("A", agentID)},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "A"), edge("A", models.EndNode)},
	}

	_, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.Error(t, err)
	assert.ErrorContains(t, err, "twice")
}

func TestCompileMissingStartEdgeFails(t *testing.T) {
	store := newStubStore()
	agentID := store.addAgent("worker")
	wfID := uuid.New()
	store.workflows[wfID] = &models.Workflow{
		ID:    wfID,
		Name:  "no-entry",
		Nodes: []*models.WorkflowNode{agentNode("A", agentID)},
		Edges: []*models.WorkflowEdge{edge("A", models.EndNode)},
	}

	_, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.Error(t, err)
	assert.True(t, apperror.IsKind(err, apperror.KindCompilation))
	assert.ErrorContains(t, err, models.StartNode)
}

func TestCompileUnknownWorkflowFails(t *testing.T) {
	_, err := newTestCompiler(newStubStore()).Compile(context.Background(), uuid.New())

	assert.True(t, apperror.IsKind(err, apperror.KindNotFound))
}

func TestCompileUnsupportedNodeTypeFails(t *testing.T) {
	store := newStubStore()
	wfID := uuid.New()
	store.workflows[wfID] = &models.Workflow{
		ID:    wfID,
		Name:  "weird",
		Nodes: []*models.WorkflowNode{{NodeID: "A", NodeType: models.NodeType("loop")}},
		Edges: []*models.WorkflowEdge{edge(models.StartNode, "A"), edge("A", models.EndNode)},
	}

	_, err := newTestCompiler(store).Compile(context.Background(), wfID)

	require.Error(t, err)
	assert.ErrorContains(t, err, "unsupported type")
}
