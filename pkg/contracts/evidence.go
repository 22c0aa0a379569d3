package contracts

import (
	"fmt"
	"strings"
	"time"
)

// EvidenceType is the coarse class of a piece of supporting material.
type EvidenceType string

const (
	EvidenceDocument   EvidenceType = "DOCUMENT"
	EvidencePhoto      EvidenceType = "PHOTO"
	EvidenceScreenshot EvidenceType = "SCREENSHOT"
	EvidenceGeo        EvidenceType = "GEO"
	EvidenceOther      EvidenceType = "OTHER"
)

// ParseEvidenceType accepts any casing of a known evidence type.
func ParseEvidenceType(v string) (EvidenceType, error) {
	t := EvidenceType(strings.ToUpper(strings.TrimSpace(v)))
	switch t {
	case EvidenceDocument, EvidencePhoto, EvidenceScreenshot, EvidenceGeo, EvidenceOther:
		return t, nil
	}
	return "", &ValidationError{Field: "evidence_type", Detail: fmt.Sprintf("unknown evidence type %q", v)}
}

// EvidenceStatus is the soft lifecycle of an evidence item.
type EvidenceStatus string

const (
	EvidenceActive   EvidenceStatus = "ACTIVE"
	EvidenceArchived EvidenceStatus = "ARCHIVED"
)

// EvidenceItem references supporting material for a work order.
type EvidenceItem struct {
	ID             string            `json:"id"`
	WorkOrderID    string            `json:"work_order_id"`
	EvidenceType   EvidenceType      `json:"evidence_type"`
	DocType        string            `json:"doc_type,omitempty"`
	Classification string            `json:"classification,omitempty"`
	Sensitivity    string            `json:"sensitivity,omitempty"`
	Source         string            `json:"source,omitempty"`
	DocumentID     string            `json:"document_id,omitempty"`
	FileRef        string            `json:"file_ref,omitempty"`
	CapturedBy     string            `json:"captured_by,omitempty"`
	CapturedAt     *time.Time        `json:"captured_at,omitempty"`
	AnnexureOrder  *int              `json:"annexure_order,omitempty"`
	Tags           map[string]string `json:"tags,omitempty"`
	Status         EvidenceStatus    `json:"status"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// FieldEvidenceLink ties a contract field to an evidence item within one snapshot.
type FieldEvidenceLink struct {
	ID             string    `json:"id"`
	WorkOrderID    string    `json:"work_order_id"`
	SnapshotID     string    `json:"snapshot_id"`
	FieldKey       string    `json:"field_key"`
	EvidenceItemID string    `json:"evidence_item_id"`
	Confidence     *float64  `json:"confidence,omitempty"`
	Note           string    `json:"note,omitempty"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
}

// LinkKey is the uniqueness tuple of a field-evidence link.
func (l FieldEvidenceLink) LinkKey() string {
	return l.WorkOrderID + "|" + l.SnapshotID + "|" + l.FieldKey + "|" + l.EvidenceItemID
}
