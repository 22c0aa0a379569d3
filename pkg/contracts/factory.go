package contracts

import (
	"encoding/json"
	"time"
)

// PackStatus is the lifecycle of a generation pack.
type PackStatus string

const (
	PackDraft     PackStatus = "DRAFT"
	PackGenerated PackStatus = "GENERATED"
	PackFinalized PackStatus = "FINALIZED"
	PackFailed    PackStatus = "FAILED"
)

// ArtifactKind classifies files attached to a pack.
type ArtifactKind string

const (
	ArtifactDebugBundle ArtifactKind = "DEBUG_BUNDLE"
	ArtifactPDF         ArtifactKind = "PDF"
	ArtifactDOCX        ArtifactKind = "DOCX"
)

// PackArtifact is a file produced for, or by, a pack.
type PackArtifact struct {
	ID          string       `json:"id"`
	PackID      string       `json:"pack_id"`
	Kind        ArtifactKind `json:"kind"`
	StorageKey  string       `json:"storage_key"`
	ContentHash string       `json:"content_hash"`
	SizeBytes   int64        `json:"size_bytes"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ReportPack is the downstream render request for one work order.
type ReportPack struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	WorkOrderID     string          `json:"work_order_id,omitempty"`
	TemplateID      string          `json:"template_id"`
	Family          string          `json:"family"`
	Version         string          `json:"version"`
	Status          PackStatus      `json:"status"`
	Warnings        []string        `json:"warnings,omitempty"`
	ContextSnapshot json.RawMessage `json:"context_snapshot,omitempty"`
	Artifacts       []PackArtifact  `json:"artifacts,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// JobStatus is the execution state of a generation job.
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobQueued     JobStatus = "QUEUED"
	JobProcessing JobStatus = "PROCESSING"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
	JobCancelled  JobStatus = "CANCELLED"
)

// GenerationJob tracks one render execution for a pack.
type GenerationJob struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         JobStatus       `json:"status"`
	Attempts       int             `json:"attempts"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	PackID         string          `json:"pack_id"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// GateResult is the billing gate decision recorded on a release.
type GateResult string

const (
	GatePaid           GateResult = "PAID"
	GateCreditConsumed GateResult = "CREDIT_CONSUMED"
	GateOverride       GateResult = "OVERRIDE"
	GateBlocked        GateResult = "BLOCKED"
)

// DeliverableRelease audits one release decision.
type DeliverableRelease struct {
	ID             string         `json:"id"`
	TenantID       string         `json:"tenant_id"`
	WorkOrderID    string         `json:"work_order_id"`
	PackID         string         `json:"pack_id"`
	ReleasedBy     string         `json:"released_by"`
	ReleasedAt     time.Time      `json:"released_at"`
	BillingMode    BillingMode    `json:"billing_mode"`
	GateResult     GateResult     `json:"billing_gate_result"`
	OverrideReason string         `json:"override_reason,omitempty"`
	IdempotencyKey string         `json:"idempotency_key"`
	LedgerRef      string         `json:"ledger_ref,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Blocked reports whether the gate declined the release.
func (r DeliverableRelease) Blocked() bool {
	return r.GateResult == GateBlocked
}
