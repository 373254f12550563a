package domain

import (
	"time"
)

// AuditTimeLayout is the canonical timestamp encoding inside audit
// entries. Entries are hashed over their serialized form, so the layout
// is fixed: UTC, microsecond precision, trailing Z. Changing it would
// make every existing chain unverifiable.
const AuditTimeLayout = "2006-01-02T15:04:05.000000Z"

// AuditEntry is one append-only, hash-linked record of a state-changing
// action. Rows are never updated or deleted.
type AuditEntry struct {
	ID            int64          `json:"id"`
	CorrelationID string         `json:"correlationId"`
	Action        string         `json:"action"`
	EntityType    string         `json:"entityType"`
	EntityID      string         `json:"entityId"`
	Timestamp     time.Time      `json:"timestamp"`
	Actor         string         `json:"actor"`
	Details       map[string]any `json:"details,omitempty"`

	// DetailsRaw is the exact serialized details payload as persisted.
	// Verification hashes the stored bytes, not a re-marshaled map, so
	// the chain stays verifiable regardless of decoder behavior.
	DetailsRaw string `json:"-"`

	PrevHash string `json:"prevHash"`
	RowHash  string `json:"rowHash"`
}

// Audit action kinds.
const (
	ActionIngest            = "ingest"
	ActionEvaluateChunk     = "evaluate_chunk" // doubles as the resume checkpoint
	ActionRunCompleted      = "run_completed"
	ActionDispositionUpdate = "disposition_update"
	ActionNetworkBuild      = "network_build"
	ActionReproduceRun      = "reproduce_run"
)

// Checkpoint is the resume position extracted from the most recent
// evaluate_chunk audit entry of a run.
type Checkpoint struct {
	CorrelationID   string `json:"correlationId"`
	ChunkIndex      int    `json:"chunkIndex"`
	LastProcessedID int64  `json:"lastProcessedId"`
}
