// Package repository persists agents, tools, workflows and executions
// on Postgres through pgx. One repository per table, raw SQL, no ORM;
// the Recorder facade gives the execution engine its step/checkpoint
// writes.
package repository

import (
	"context"
	"fmt"

	"github.com/lyzr/agentflow/common/db"
)

// entitySchema is applied idempotently at startup against the primary
// database. The checkpoint table has its own DDL because it may live on
// a separate database.
const entitySchema = `
CREATE TABLE IF NOT EXISTS agents (
	id UUID PRIMARY KEY,
	name VARCHAR(128) NOT NULL,
	description TEXT,
	provider VARCHAR(32) NOT NULL,
	model VARCHAR(128) NOT NULL,
	instructions TEXT NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	max_tokens INTEGER,
	output_schema JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_name ON agents (name);

CREATE TABLE IF NOT EXISTS tools (
	id UUID PRIMARY KEY,
	name VARCHAR(128) NOT NULL UNIQUE,
	description TEXT,
	parameters JSONB,
	implementation VARCHAR(256) NOT NULL,
	config JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS agent_tools (
	agent_id UUID NOT NULL REFERENCES agents(id) ON DELETE CASCADE,
	tool_id UUID NOT NULL REFERENCES tools(id) ON DELETE CASCADE,
	PRIMARY KEY (agent_id, tool_id)
);

CREATE TABLE IF NOT EXISTS workflows (
	id UUID PRIMARY KEY,
	name VARCHAR(128) NOT NULL,
	description TEXT,
	state_schema JSONB,
	workflow_metadata JSONB,
	is_template BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_nodes (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	node_id VARCHAR(64) NOT NULL,
	node_type VARCHAR(32) NOT NULL,
	agent_id UUID REFERENCES agents(id) ON DELETE SET NULL,
	router_config JSONB,
	parallel_nodes JSONB,
	subgraph_workflow_id UUID REFERENCES workflows(id) ON DELETE SET NULL,
	config JSONB,
	position INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (workflow_id, node_id)
);
CREATE INDEX IF NOT EXISTS idx_workflow_nodes_workflow_id ON workflow_nodes (workflow_id);

CREATE TABLE IF NOT EXISTS workflow_edges (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	source_node VARCHAR(64) NOT NULL,
	target_node VARCHAR(64) NOT NULL,
	condition TEXT,
	position INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_edges_workflow_id ON workflow_edges (workflow_id);

CREATE TABLE IF NOT EXISTS executions (
	id UUID PRIMARY KEY,
	workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	thread_id VARCHAR(128) NOT NULL,
	status VARCHAR(32) NOT NULL,
	input_data JSONB,
	output_data JSONB,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_executions_workflow_id ON executions (workflow_id);
CREATE INDEX IF NOT EXISTS idx_executions_thread_id ON executions (thread_id);
CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status);

CREATE TABLE IF NOT EXISTS execution_steps (
	id UUID PRIMARY KEY,
	execution_id UUID NOT NULL REFERENCES executions(id) ON DELETE CASCADE,
	node_id VARCHAR(64) NOT NULL,
	node_type VARCHAR(32) NOT NULL,
	status VARCHAR(32) NOT NULL,
	input_data JSONB,
	output_data JSONB,
	error_message TEXT,
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_execution_steps_execution_id ON execution_steps (execution_id);
`

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS workflow_checkpoints (
	thread_id VARCHAR(128) NOT NULL,
	step_index INTEGER NOT NULL,
	snapshot JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (thread_id, step_index)
);
`

// Setup creates the entity tables on the primary database.
func Setup(ctx context.Context, database *db.DB) error {
	if _, err := database.Exec(ctx, entitySchema); err != nil {
		return fmt.Errorf("failed to create entity tables: %w", err)
	}
	return nil
}
