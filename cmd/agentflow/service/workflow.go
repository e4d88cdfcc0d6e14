package service

import (
	"context"
	"encoding/json"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/lyzr/agentflow/cmd/agentflow/compiler"
	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/cmd/agentflow/repository"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/logger"
)

// WorkflowService manages workflow graphs. Every write that touches the
// graph re-validates it, so persisted workflows always compile
// structurally; agent existence and condition syntax are checked here
// too since both are cheap against the definition.
type WorkflowService struct {
	workflows *repository.WorkflowRepository
	compiler  *compiler.Compiler
	log       *logger.Logger
}

// NewWorkflowService creates a new workflow service
func NewWorkflowService(workflows *repository.WorkflowRepository, comp *compiler.Compiler, log *logger.Logger) *WorkflowService {
	return &WorkflowService{
		workflows: workflows,
		compiler:  comp,
		log:       log,
	}
}

// Create validates and persists a new workflow graph
func (s *WorkflowService) Create(ctx context.Context, req *models.CreateWorkflowRequest) (*models.Workflow, error) {
	now := time.Now().UTC()
	wf := &models.Workflow{
		ID:          uuid.New(),
		Name:        req.Name,
		Description: req.Description,
		StateSchema: req.StateSchema,
		Metadata:    req.Metadata,
		IsTemplate:  req.IsTemplate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	wf.Nodes = nodesFromDefs(wf.ID, req.Nodes, now)
	wf.Edges = edgesFromDefs(wf.ID, req.Edges, now)

	if err := s.validate(ctx, wf); err != nil {
		return nil, err
	}

	if err := s.workflows.Create(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info("workflow created",
		"workflow_id", wf.ID,
		"name", wf.Name,
		"nodes", len(wf.Nodes),
		"edges", len(wf.Edges))

	return wf, nil
}

// Get returns a workflow with its nodes and edges
func (s *WorkflowService) Get(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	return s.workflows.GetByID(ctx, id)
}

// List returns one page of workflows plus the total count
func (s *WorkflowService) List(ctx context.Context, isTemplate *bool, page, pageSize int) ([]*models.Workflow, int, error) {
	limit, offset := pageToRange(page, pageSize)
	return s.workflows.List(ctx, isTemplate, limit, offset)
}

// Templates returns one page of template workflows
func (s *WorkflowService) Templates(ctx context.Context, page, pageSize int) ([]*models.Workflow, int, error) {
	isTemplate := true
	return s.List(ctx, &isTemplate, page, pageSize)
}

// Update applies the non-nil fields of req. A non-nil Nodes or Edges
// replaces that side of the graph; the merged graph is re-validated
// before anything is written.
func (s *WorkflowService) Update(ctx context.Context, id uuid.UUID, req *models.UpdateWorkflowRequest) (*models.Workflow, error) {
	wf, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		wf.Name = *req.Name
	}
	if req.Description != nil {
		wf.Description = req.Description
	}
	if req.StateSchema != nil {
		wf.StateSchema = req.StateSchema
	}
	if req.Metadata != nil {
		wf.Metadata = req.Metadata
	}
	if req.IsTemplate != nil {
		wf.IsTemplate = *req.IsTemplate
	}
	wf.UpdatedAt = time.Now().UTC()

	replaceGraph := req.Nodes != nil || req.Edges != nil
	if replaceGraph {
		if req.Nodes != nil {
			wf.Nodes = nodesFromDefs(wf.ID, req.Nodes, wf.UpdatedAt)
		}
		if req.Edges != nil {
			wf.Edges = edgesFromDefs(wf.ID, req.Edges, wf.UpdatedAt)
		}
		if err := s.validate(ctx, wf); err != nil {
			return nil, err
		}
	}

	if err := s.workflows.Update(ctx, wf, replaceGraph); err != nil {
		return nil, err
	}

	s.log.Info("workflow updated", "workflow_id", wf.ID, "graph_replaced", replaceGraph)
	return wf, nil
}

// workflowDoc is the JSON shape merge patches operate on. It mirrors
// the mutable part of the workflow resource representation.
type workflowDoc struct {
	Name        string                 `json:"name"`
	Description *string                `json:"description,omitempty"`
	StateSchema map[string]interface{} `json:"state_schema,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	IsTemplate  bool                   `json:"is_template"`
	Nodes       []models.NodeDef       `json:"nodes"`
	Edges       []models.EdgeDef       `json:"edges"`
}

// Patch applies an RFC 7386 merge patch to the workflow and
// re-validates the result
func (s *WorkflowService) Patch(ctx context.Context, id uuid.UUID, patch []byte) (*models.Workflow, error) {
	wf, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	doc := workflowDoc{
		Name:        wf.Name,
		Description: wf.Description,
		StateSchema: wf.StateSchema,
		Metadata:    wf.Metadata,
		IsTemplate:  wf.IsTemplate,
		Nodes:       nodesToDefs(wf.Nodes),
		Edges:       edgesToDefs(wf.Edges),
	}
	current, err := json.Marshal(doc)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindInternal, err, "failed to serialise workflow")
	}

	merged, err := jsonpatch.MergePatch(current, patch)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, err, "invalid merge patch")
	}

	var out workflowDoc
	if err := json.Unmarshal(merged, &out); err != nil {
		return nil, apperror.Wrap(apperror.KindValidation, err, "merge patch produced an invalid workflow")
	}
	if out.Name == "" {
		return nil, apperror.Validation("workflow name cannot be empty")
	}

	wf.Name = out.Name
	wf.Description = out.Description
	wf.StateSchema = out.StateSchema
	wf.Metadata = out.Metadata
	wf.IsTemplate = out.IsTemplate
	wf.UpdatedAt = time.Now().UTC()
	wf.Nodes = nodesFromDefs(wf.ID, out.Nodes, wf.UpdatedAt)
	wf.Edges = edgesFromDefs(wf.ID, out.Edges, wf.UpdatedAt)

	if err := s.validate(ctx, wf); err != nil {
		return nil, err
	}

	if err := s.workflows.Update(ctx, wf, true); err != nil {
		return nil, err
	}

	s.log.Info("workflow patched", "workflow_id", wf.ID)
	return wf, nil
}

// Delete removes a workflow and its graph
func (s *WorkflowService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.workflows.Delete(ctx, id); err != nil {
		return err
	}

	s.log.Info("workflow deleted", "workflow_id", id)
	return nil
}

// Clone copies a workflow under a new name. Clones are never templates,
// whatever the source was.
func (s *WorkflowService) Clone(ctx context.Context, id uuid.UUID, req *models.CloneWorkflowRequest) (*models.Workflow, error) {
	original, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	name := original.Name + " (copy)"
	if req != nil && req.Name != nil && *req.Name != "" {
		name = *req.Name
	}

	cloned := &models.Workflow{
		ID:          uuid.New(),
		Name:        name,
		Description: original.Description,
		StateSchema: original.StateSchema,
		Metadata:    original.Metadata,
		IsTemplate:  false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, node := range original.Nodes {
		cloned.Nodes = append(cloned.Nodes, &models.WorkflowNode{
			ID:                 uuid.New(),
			WorkflowID:         cloned.ID,
			NodeID:             node.NodeID,
			NodeType:           node.NodeType,
			AgentID:            node.AgentID,
			RouterConfig:       node.RouterConfig,
			ParallelNodes:      node.ParallelNodes,
			SubgraphWorkflowID: node.SubgraphWorkflowID,
			Config:             node.Config,
			CreatedAt:          now,
		})
	}
	for _, edge := range original.Edges {
		cloned.Edges = append(cloned.Edges, &models.WorkflowEdge{
			ID:         uuid.New(),
			WorkflowID: cloned.ID,
			SourceNode: edge.SourceNode,
			TargetNode: edge.TargetNode,
			Condition:  edge.Condition,
			CreatedAt:  now,
		})
	}

	if err := s.workflows.Create(ctx, cloned); err != nil {
		return nil, err
	}

	s.log.Info("workflow cloned", "source_id", id, "workflow_id", cloned.ID, "name", cloned.Name)
	return cloned, nil
}

// ListNodes returns the nodes of a workflow
func (s *WorkflowService) ListNodes(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowNode, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Nodes == nil {
		return []*models.WorkflowNode{}, nil
	}
	return wf.Nodes, nil
}

// GetNode returns one node by its local identifier
func (s *WorkflowService) GetNode(ctx context.Context, workflowID uuid.UUID, nodeID string) (*models.WorkflowNode, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, node := range wf.Nodes {
		if node.NodeID == nodeID {
			return node, nil
		}
	}
	return nil, apperror.NotFound("workflow node", nodeID)
}

// AddNode appends a node to the graph. The node may start out with no
// edges; validation treats unreachable nodes as warnings.
func (s *WorkflowService) AddNode(ctx context.Context, workflowID uuid.UUID, def models.NodeDef) (*models.WorkflowNode, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, node := range wf.Nodes {
		if node.NodeID == def.NodeID {
			return nil, apperror.Newf(apperror.KindConflict, "node already exists: %s", def.NodeID)
		}
	}

	now := time.Now().UTC()
	added := nodeFromDef(wf.ID, def, now)
	wf.Nodes = append(wf.Nodes, added)
	wf.UpdatedAt = now

	if err := s.saveGraph(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info("node added", "workflow_id", wf.ID, "node_id", def.NodeID, "node_type", def.NodeType)
	return added, nil
}

// UpdateNode replaces a node's definition, keeping its position in the
// graph
func (s *WorkflowService) UpdateNode(ctx context.Context, workflowID uuid.UUID, nodeID string, def models.NodeDef) (*models.WorkflowNode, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var updated *models.WorkflowNode
	for i, node := range wf.Nodes {
		if node.NodeID != nodeID {
			continue
		}
		replacement := nodeFromDef(wf.ID, def, node.CreatedAt)
		replacement.ID = node.ID
		replacement.NodeID = nodeID
		wf.Nodes[i] = replacement
		updated = replacement
		break
	}
	if updated == nil {
		return nil, apperror.NotFound("workflow node", nodeID)
	}
	wf.UpdatedAt = now

	if err := s.saveGraph(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info("node updated", "workflow_id", wf.ID, "node_id", nodeID)
	return updated, nil
}

// DeleteNode removes a node and every edge touching it
func (s *WorkflowService) DeleteNode(ctx context.Context, workflowID uuid.UUID, nodeID string) error {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	nodes := wf.Nodes[:0]
	found := false
	for _, node := range wf.Nodes {
		if node.NodeID == nodeID {
			found = true
			continue
		}
		nodes = append(nodes, node)
	}
	if !found {
		return apperror.NotFound("workflow node", nodeID)
	}
	wf.Nodes = nodes

	edges := wf.Edges[:0]
	for _, edge := range wf.Edges {
		if edge.SourceNode == nodeID || edge.TargetNode == nodeID {
			continue
		}
		edges = append(edges, edge)
	}
	wf.Edges = edges
	wf.UpdatedAt = time.Now().UTC()

	if err := s.saveGraph(ctx, wf); err != nil {
		return err
	}

	s.log.Info("node deleted", "workflow_id", wf.ID, "node_id", nodeID)
	return nil
}

// ListEdges returns the edges of a workflow
func (s *WorkflowService) ListEdges(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowEdge, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Edges == nil {
		return []*models.WorkflowEdge{}, nil
	}
	return wf.Edges, nil
}

// GetEdge returns one edge by id
func (s *WorkflowService) GetEdge(ctx context.Context, workflowID, edgeID uuid.UUID) (*models.WorkflowEdge, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	for _, edge := range wf.Edges {
		if edge.ID == edgeID {
			return edge, nil
		}
	}
	return nil, apperror.NotFound("workflow edge", edgeID)
}

// AddEdge appends an edge to the graph
func (s *WorkflowService) AddEdge(ctx context.Context, workflowID uuid.UUID, def models.EdgeDef) (*models.WorkflowEdge, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	added := &models.WorkflowEdge{
		ID:         uuid.New(),
		WorkflowID: wf.ID,
		SourceNode: def.SourceNode,
		TargetNode: def.TargetNode,
		Condition:  def.Condition,
		CreatedAt:  now,
	}
	wf.Edges = append(wf.Edges, added)
	wf.UpdatedAt = now

	if err := s.saveGraph(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info("edge added", "workflow_id", wf.ID, "source", def.SourceNode, "target", def.TargetNode)
	return added, nil
}

// UpdateEdge replaces an edge's endpoints or condition
func (s *WorkflowService) UpdateEdge(ctx context.Context, workflowID, edgeID uuid.UUID, def models.EdgeDef) (*models.WorkflowEdge, error) {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var updated *models.WorkflowEdge
	for _, edge := range wf.Edges {
		if edge.ID != edgeID {
			continue
		}
		edge.SourceNode = def.SourceNode
		edge.TargetNode = def.TargetNode
		edge.Condition = def.Condition
		updated = edge
		break
	}
	if updated == nil {
		return nil, apperror.NotFound("workflow edge", edgeID)
	}
	wf.UpdatedAt = time.Now().UTC()

	if err := s.saveGraph(ctx, wf); err != nil {
		return nil, err
	}

	s.log.Info("edge updated", "workflow_id", wf.ID, "edge_id", edgeID)
	return updated, nil
}

// DeleteEdge removes an edge from the graph
func (s *WorkflowService) DeleteEdge(ctx context.Context, workflowID, edgeID uuid.UUID) error {
	wf, err := s.workflows.GetByID(ctx, workflowID)
	if err != nil {
		return err
	}

	edges := wf.Edges[:0]
	found := false
	for _, edge := range wf.Edges {
		if edge.ID == edgeID {
			found = true
			continue
		}
		edges = append(edges, edge)
	}
	if !found {
		return apperror.NotFound("workflow edge", edgeID)
	}
	wf.Edges = edges
	wf.UpdatedAt = time.Now().UTC()

	if err := s.saveGraph(ctx, wf); err != nil {
		return err
	}

	s.log.Info("edge deleted", "workflow_id", wf.ID, "edge_id", edgeID)
	return nil
}

// Validate runs structural validation without persisting anything
func (s *WorkflowService) Validate(ctx context.Context, id uuid.UUID) (*compiler.GraphReport, error) {
	wf, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.compiler.ValidateGraph(ctx, wf)
}

// validate rejects the workflow when the graph report carries errors
func (s *WorkflowService) validate(ctx context.Context, wf *models.Workflow) error {
	report, err := s.compiler.ValidateGraph(ctx, wf)
	if err != nil {
		return err
	}
	if !report.Valid() {
		return apperror.New(apperror.KindValidation, "workflow graph is invalid").
			WithDetails(map[string]interface{}{
				"errors":   report.Errors,
				"warnings": report.Warnings,
			})
	}
	return nil
}

// saveGraph validates the mutated graph and persists it wholesale
func (s *WorkflowService) saveGraph(ctx context.Context, wf *models.Workflow) error {
	if err := s.validate(ctx, wf); err != nil {
		return err
	}
	return s.workflows.Update(ctx, wf, true)
}

func nodeFromDef(workflowID uuid.UUID, def models.NodeDef, createdAt time.Time) *models.WorkflowNode {
	return &models.WorkflowNode{
		ID:                 uuid.New(),
		WorkflowID:         workflowID,
		NodeID:             def.NodeID,
		NodeType:           def.NodeType,
		AgentID:            def.AgentID,
		RouterConfig:       def.RouterConfig,
		ParallelNodes:      def.ParallelNodes,
		SubgraphWorkflowID: def.SubgraphWorkflowID,
		Config:             def.Config,
		CreatedAt:          createdAt,
	}
}

func nodesFromDefs(workflowID uuid.UUID, defs []models.NodeDef, createdAt time.Time) []*models.WorkflowNode {
	nodes := make([]*models.WorkflowNode, 0, len(defs))
	for _, def := range defs {
		nodes = append(nodes, nodeFromDef(workflowID, def, createdAt))
	}
	return nodes
}

func edgesFromDefs(workflowID uuid.UUID, defs []models.EdgeDef, createdAt time.Time) []*models.WorkflowEdge {
	edges := make([]*models.WorkflowEdge, 0, len(defs))
	for _, def := range defs {
		edges = append(edges, &models.WorkflowEdge{
			ID:         uuid.New(),
			WorkflowID: workflowID,
			SourceNode: def.SourceNode,
			TargetNode: def.TargetNode,
			Condition:  def.Condition,
			CreatedAt:  createdAt,
		})
	}
	return edges
}

func nodesToDefs(nodes []*models.WorkflowNode) []models.NodeDef {
	defs := make([]models.NodeDef, 0, len(nodes))
	for _, node := range nodes {
		defs = append(defs, models.NodeDef{
			NodeID:             node.NodeID,
			NodeType:           node.NodeType,
			AgentID:            node.AgentID,
			RouterConfig:       node.RouterConfig,
			ParallelNodes:      node.ParallelNodes,
			SubgraphWorkflowID: node.SubgraphWorkflowID,
			Config:             node.Config,
		})
	}
	return defs
}

func edgesToDefs(edges []*models.WorkflowEdge) []models.EdgeDef {
	defs := make([]models.EdgeDef, 0, len(edges))
	for _, edge := range edges {
		defs = append(defs, models.EdgeDef{
			SourceNode: edge.SourceNode,
			TargetNode: edge.TargetNode,
			Condition:  edge.Condition,
		})
	}
	return defs
}
