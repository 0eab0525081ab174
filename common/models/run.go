package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a persisted run record.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Run is a durable record of one blueprint execution, persisted by the
// demo submission API so run history survives past the in-memory
// RunResult returned from a single Coordinator.Run call.
// Maps to: run table
type Run struct {
	RunID        uuid.UUID              `db:"run_id" json:"run_id"`
	BaseKind     string                 `db:"base_kind" json:"base_kind"` // "blueprint" or "patched_blueprint"
	BaseRef      string                 `db:"base_ref" json:"base_ref"`   // blueprint_id, or patch chain head id
	TagsSnapshot map[string]interface{} `db:"tags_snapshot" json:"tags_snapshot,omitempty"`
	Status       RunStatus              `db:"status" json:"status"`
	SubmittedBy  string                 `db:"submitted_by" json:"submitted_by"`
	SubmittedAt  time.Time              `db:"submitted_at" json:"submitted_at"`
}
