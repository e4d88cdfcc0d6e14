package models

import "time"

// Checkpoint is one persisted state snapshot for a thread.
// Maps to: workflow_checkpoints table, PK (thread_id, step_index);
// repeated writes under the same key overwrite (idempotent on retry).
type Checkpoint struct {
	ThreadID  string                 `db:"thread_id" json:"thread_id"`
	StepIndex int                    `db:"step_index" json:"step_index"`
	Snapshot  map[string]interface{} `db:"snapshot" json:"snapshot"`
	CreatedAt time.Time              `db:"created_at" json:"created_at"`
}
