package contracts

import "time"

// SnapshotKind distinguishes the two snapshots written per contract patch.
type SnapshotKind string

const (
	// SnapshotInput holds the caller's merged, validated contract before rules.
	SnapshotInput SnapshotKind = "INPUT"
	// SnapshotOutput holds the rules-engine contract, derived values and readiness.
	SnapshotOutput SnapshotKind = "OUTPUT"
)

// ContractSnapshot is an immutable, versioned contract bundle.
type ContractSnapshot struct {
	ID          string         `json:"id"`
	WorkOrderID string         `json:"work_order_id"`
	Version     int            `json:"version"`
	Kind        SnapshotKind   `json:"kind"`
	Contract    map[string]any `json:"contract"`
	Derived     map[string]any `json:"derived,omitempty"`
	Readiness   *Readiness     `json:"readiness,omitempty"`
	CreatedBy   string         `json:"created_by"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Readiness is the completeness assessment gating READY_FOR_RENDER.
type Readiness struct {
	CompletenessScore         int            `json:"completeness_score"`
	MissingFields             []string       `json:"missing_fields"`
	MissingEvidence           []string       `json:"missing_evidence"`
	MissingFieldEvidenceLinks []string       `json:"missing_field_evidence_links"`
	Warnings                  []string       `json:"warnings"`
	RequiredEvidenceMinimums  map[string]int `json:"required_evidence_minimums"`
}

// Complete reports whether nothing blocks the render-ready transition.
func (r Readiness) Complete() bool {
	return len(r.MissingFields) == 0 && len(r.MissingEvidence) == 0
}

// Issue is a coded rules-engine warning or error.
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RulesRun audits one rules-engine invocation.
type RulesRun struct {
	ID               string    `json:"id"`
	WorkOrderID      string    `json:"work_order_id"`
	InputSnapshotID  string    `json:"input_snapshot_id"`
	OutputSnapshotID string    `json:"output_snapshot_id"`
	RulesetVersion   string    `json:"ruleset_version"`
	Warnings         []Issue   `json:"warnings"`
	Errors           []Issue   `json:"errors"`
	CreatedAt        time.Time `json:"created_at"`
}
