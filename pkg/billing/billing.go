// Package billing defines the billing control collaborator used by the
// work-order state machine and the deliverable release gate, plus two
// reference ledgers: MemoryLedger and PostgresLedger.
//
// Every mutating call is idempotent: acceptance by work order, usage events and
// credit consumption by caller-supplied key.
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

var (
	ErrAccountNotFound     = errors.New("billing: account not found")
	ErrInvoiceNotFound     = errors.New("billing: invoice not found")
	ErrReservationNotFound = errors.New("billing: reservation not found")
	ErrInsufficientCredits = errors.New("billing: insufficient credits")
	ErrEmptyKey            = errors.New("billing: idempotency key must not be empty")
)

// Usage event types.
const (
	EventPlannedConsumption = "planned_consumption"
)

// Reservation and invoice states.
const (
	ReservationHeld     = "HELD"
	ReservationConsumed = "CONSUMED"
	InvoiceUnpaid       = "UNPAID"
	InvoicePaid         = "PAID"
)

// WorkOrderRef carries the work-order fields the ledger may price on.
type WorkOrderRef struct {
	WorkOrderID string
	TenantID    string
	ReportType  string
	BankName    string
	BankType    string
	ValueSlab   string
}

// Acceptance is the billing state established when a work order is accepted.
// Mode is empty when the tenant has no billing account.
type Acceptance struct {
	Mode             contracts.BillingMode `json:"mode"`
	AccountID        string                `json:"account_id,omitempty"`
	ReservationID    string                `json:"reservation_id,omitempty"`
	ServiceInvoiceID string                `json:"service_invoice_id,omitempty"`
}

// UsageEvent is a metered occurrence reported against an account.
type UsageEvent struct {
	TenantID    string         `json:"tenant_id"`
	AccountID   string         `json:"account_id"`
	WorkOrderID string         `json:"work_order_id"`
	EventType   string         `json:"event_type"`
	Quantity    int64          `json:"quantity"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ConsumeRequest converts a held reservation into a ledger debit.
type ConsumeRequest struct {
	TenantID      string
	AccountID     string
	ReservationID string
	WorkOrderID   string
}

// Invoice is a postpaid service invoice.
type Invoice struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	Status    string `json:"status"`
	IsPaid    bool   `json:"is_paid"`
	Amount    Money  `json:"amount"`
}

// Control is the billing collaborator contract.
type Control interface {
	EnsureAcceptanceBilling(ctx context.Context, ref WorkOrderRef) (Acceptance, error)
	IngestUsageEvent(ctx context.Context, event UsageEvent, key string) error
	ConsumeCredits(ctx context.Context, key string, req ConsumeRequest) (ledgerRef string, err error)
	GetServiceInvoice(ctx context.Context, id string) (Invoice, error)
}

// Account is a tenant's billing account.
type Account struct {
	ID        string                `json:"id"`
	TenantID  string                `json:"tenant_id"`
	Mode      contracts.BillingMode `json:"mode"`
	Balance   Money                 `json:"balance"`
	UnitPrice Money                 `json:"unit_price"`
}
