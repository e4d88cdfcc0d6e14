package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/agentflow/cmd/agentflow/models"
	"github.com/lyzr/agentflow/common/apperror"
	"github.com/lyzr/agentflow/common/db"
)

// WorkflowRepository handles database operations for workflow graphs
type WorkflowRepository struct {
	db *db.DB
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(database *db.DB) *WorkflowRepository {
	return &WorkflowRepository{db: database}
}

const workflowColumns = `id, name, description, state_schema, workflow_metadata, is_template, created_at, updated_at`

// Create inserts a workflow with its nodes and edges in one transaction.
// Node and edge order is preserved; conditional edges are evaluated in
// the order they were defined.
func (r *WorkflowRepository) Create(ctx context.Context, wf *models.Workflow) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			INSERT INTO workflows (` + workflowColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`

		_, err := tx.Exec(
			ctx,
			query,
			wf.ID,
			wf.Name,
			wf.Description,
			wf.StateSchema,
			wf.Metadata,
			wf.IsTemplate,
			wf.CreatedAt,
			wf.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create workflow: %w", err)
		}

		return insertGraph(ctx, tx, wf)
	})
}

// GetByID retrieves a workflow with its nodes and edges
func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE id = $1`

	wf := &models.Workflow{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&wf.ID,
		&wf.Name,
		&wf.Description,
		&wf.StateSchema,
		&wf.Metadata,
		&wf.IsTemplate,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)

	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("workflow", id)
		}
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if wf.Nodes, err = r.loadNodes(ctx, id); err != nil {
		return nil, err
	}
	if wf.Edges, err = r.loadEdges(ctx, id); err != nil {
		return nil, err
	}

	return wf, nil
}

// List retrieves a page of workflow rows without their graphs,
// optionally filtered to templates or non-templates
func (r *WorkflowRepository) List(ctx context.Context, isTemplate *bool, limit, offset int) ([]*models.Workflow, int, error) {
	where := ""
	countArgs := []interface{}{}
	if isTemplate != nil {
		where = " WHERE is_template = $1"
		countArgs = append(countArgs, *isTemplate)
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM workflows`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count workflows: %w", err)
	}

	args := append([]interface{}{}, countArgs...)
	args = append(args, limit, offset)
	query := fmt.Sprintf(`
		SELECT `+workflowColumns+`
		FROM workflows%s
		ORDER BY created_at DESC, id
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*models.Workflow
	for rows.Next() {
		wf := &models.Workflow{}
		err := rows.Scan(
			&wf.ID,
			&wf.Name,
			&wf.Description,
			&wf.StateSchema,
			&wf.Metadata,
			&wf.IsTemplate,
			&wf.CreatedAt,
			&wf.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan workflow: %w", err)
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, total, nil
}

// Update persists the workflow row and, when replaceGraph is set,
// replaces all nodes and edges, in one transaction
func (r *WorkflowRepository) Update(ctx context.Context, wf *models.Workflow, replaceGraph bool) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE workflows
			SET name = $2, description = $3, state_schema = $4, workflow_metadata = $5, is_template = $6, updated_at = $7
			WHERE id = $1
		`

		tag, err := tx.Exec(
			ctx,
			query,
			wf.ID,
			wf.Name,
			wf.Description,
			wf.StateSchema,
			wf.Metadata,
			wf.IsTemplate,
			wf.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update workflow: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return apperror.NotFound("workflow", wf.ID)
		}

		if !replaceGraph {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM workflow_nodes WHERE workflow_id = $1`, wf.ID); err != nil {
			return fmt.Errorf("failed to clear workflow nodes: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM workflow_edges WHERE workflow_id = $1`, wf.ID); err != nil {
			return fmt.Errorf("failed to clear workflow edges: %w", err)
		}
		return insertGraph(ctx, tx, wf)
	})
}

// Delete removes a workflow; nodes, edges and executions cascade
func (r *WorkflowRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM workflows WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("workflow", id)
	}

	return nil
}

// CountNodes returns the number of nodes in a workflow, used for
// progress reporting
func (r *WorkflowRepository) CountNodes(ctx context.Context, workflowID uuid.UUID) (int, error) {
	var total int
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM workflow_nodes WHERE workflow_id = $1`, workflowID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflow nodes: %w", err)
	}
	return total, nil
}

func insertGraph(ctx context.Context, tx pgx.Tx, wf *models.Workflow) error {
	nodeQuery := `
		INSERT INTO workflow_nodes (id, workflow_id, node_id, node_type, agent_id, router_config, parallel_nodes, subgraph_workflow_id, config, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for i, node := range wf.Nodes {
		_, err := tx.Exec(
			ctx,
			nodeQuery,
			node.ID,
			node.WorkflowID,
			node.NodeID,
			node.NodeType,
			node.AgentID,
			node.RouterConfig,
			node.ParallelNodes,
			node.SubgraphWorkflowID,
			node.Config,
			i,
			node.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert node %s: %w", node.NodeID, err)
		}
	}

	edgeQuery := `
		INSERT INTO workflow_edges (id, workflow_id, source_node, target_node, condition, position, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	for i, edge := range wf.Edges {
		_, err := tx.Exec(
			ctx,
			edgeQuery,
			edge.ID,
			edge.WorkflowID,
			edge.SourceNode,
			edge.TargetNode,
			edge.Condition,
			i,
			edge.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert edge %s->%s: %w", edge.SourceNode, edge.TargetNode, err)
		}
	}

	return nil
}

func (r *WorkflowRepository) loadNodes(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowNode, error) {
	query := `
		SELECT id, workflow_id, node_id, node_type, agent_id, router_config, parallel_nodes, subgraph_workflow_id, config, created_at
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY position, created_at
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*models.WorkflowNode
	for rows.Next() {
		node := &models.WorkflowNode{}
		err := rows.Scan(
			&node.ID,
			&node.WorkflowID,
			&node.NodeID,
			&node.NodeType,
			&node.AgentID,
			&node.RouterConfig,
			&node.ParallelNodes,
			&node.SubgraphWorkflowID,
			&node.Config,
			&node.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow node: %w", err)
		}
		nodes = append(nodes, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow nodes: %w", err)
	}

	return nodes, nil
}

func (r *WorkflowRepository) loadEdges(ctx context.Context, workflowID uuid.UUID) ([]*models.WorkflowEdge, error) {
	query := `
		SELECT id, workflow_id, source_node, target_node, condition, created_at
		FROM workflow_edges
		WHERE workflow_id = $1
		ORDER BY position, created_at
	`

	rows, err := r.db.Query(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow edges: %w", err)
	}
	defer rows.Close()

	var edges []*models.WorkflowEdge
	for rows.Next() {
		edge := &models.WorkflowEdge{}
		err := rows.Scan(
			&edge.ID,
			&edge.WorkflowID,
			&edge.SourceNode,
			&edge.TargetNode,
			&edge.Condition,
			&edge.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow edge: %w", err)
		}
		edges = append(edges, edge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow edges: %w", err)
	}

	return edges, nil
}
