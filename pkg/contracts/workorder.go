// Package contracts defines the records shared by the report work-order core:
// work orders, contract snapshots, evidence, rules runs, packs, jobs and
// deliverable releases, together with the error taxonomy callers match on.
package contracts

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a work order.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusEvidencePending Status = "EVIDENCE_PENDING"
	StatusDataPending     Status = "DATA_PENDING"
	StatusReadyForRender  Status = "READY_FOR_RENDER"
	StatusCancelled       Status = "CANCELLED"
	StatusClosed          Status = "CLOSED"
)

// AllStatuses lists the fixed status set in lifecycle order.
var AllStatuses = []Status{
	StatusDraft,
	StatusEvidencePending,
	StatusDataPending,
	StatusReadyForRender,
	StatusCancelled,
	StatusClosed,
}

// Valid reports whether s is a member of the fixed status set.
func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusClosed
}

// ParseStatus converts a wire value into a Status.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", &ValidationError{Field: "status", Detail: fmt.Sprintf("unknown status %q", v)}
	}
	return s, nil
}

// SourceKind describes where a work order originated.
type SourceKind string

const (
	SourceTenant   SourceKind = "TENANT"
	SourceExternal SourceKind = "EXTERNAL"
	SourceChannel  SourceKind = "CHANNEL"
)

// Source is the origin descriptor of a work order.
type Source struct {
	Kind          SourceKind `json:"kind"`
	ExternalRefID string     `json:"external_ref_id,omitempty"`
	AssignmentID  string     `json:"assignment_id,omitempty"`
}

// BillingMode is the commercial arrangement cached on a work order.
type BillingMode string

const (
	BillingModeNone     BillingMode = ""
	BillingModeCredit   BillingMode = "CREDIT"
	BillingModePostpaid BillingMode = "POSTPAID"
)

// HookEntry is one timestamped billing hook log line.
type HookEntry struct {
	At      time.Time      `json:"at"`
	Outcome string         `json:"outcome"`
	Data    map[string]any `json:"data,omitempty"`
}

// BillingSnapshot is the billing state cached on a work order.
// Only the state machine writes it.
type BillingSnapshot struct {
	Mode             BillingMode          `json:"mode,omitempty"`
	AccountID        string               `json:"account_id,omitempty"`
	ReservationID    string               `json:"reservation_id,omitempty"`
	ServiceInvoiceID string               `json:"service_invoice_id,omitempty"`
	Hooks            map[string]HookEntry `json:"hooks,omitempty"`
}

// WorkOrder is the unit tracking one report's data collection and render approval.
type WorkOrder struct {
	ID                string          `json:"id"`
	TenantID          string          `json:"tenant_id"`
	Source            Source          `json:"source"`
	ReportType        string          `json:"report_type"`
	BankName          string          `json:"bank_name"`
	BankType          string          `json:"bank_type"`
	ValueSlab         string          `json:"value_slab,omitempty"`
	TemplateSelector  string          `json:"template_selector,omitempty"`
	Status            Status          `json:"status"`
	EvidenceProfileID string          `json:"evidence_profile_id,omitempty"`
	PackID            string          `json:"pack_id,omitempty"`
	Billing           BillingSnapshot `json:"billing"`
	CreatedBy         string          `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (w *WorkOrder) Clone() *WorkOrder {
	if w == nil {
		return nil
	}
	c := *w
	if w.Billing.Hooks != nil {
		c.Billing.Hooks = make(map[string]HookEntry, len(w.Billing.Hooks))
		for k, v := range w.Billing.Hooks {
			c.Billing.Hooks[k] = v
		}
	}
	return &c
}

// CommentKind separates operator comments from automatic audit comments.
type CommentKind string

const (
	CommentUser   CommentKind = "USER"
	CommentSystem CommentKind = "SYSTEM"
)

// Comment is a free-text note attached to a work order.
type Comment struct {
	ID          string      `json:"id"`
	WorkOrderID string      `json:"work_order_id"`
	Author      string      `json:"author"`
	Body        string      `json:"body"`
	Kind        CommentKind `json:"kind"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Actor identifies who performs an operation.
type Actor struct {
	ID       string   `json:"id"`
	TenantID string   `json:"tenant_id"`
	Roles    []string `json:"roles,omitempty"`
}
