package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

type reservation struct {
	ID          string
	AccountID   string
	WorkOrderID string
	Amount      Money
	Status      string
	LedgerRef   string
}

// MemoryLedger implements Control in memory.
// Thread-safe via Mutex.
type MemoryLedger struct {
	mu           sync.Mutex
	accounts     map[string]*Account // tenant -> account
	acceptances  map[string]Acceptance
	reservations map[string]*reservation
	invoices     map[string]*Invoice
	events       map[string]UsageEvent
	eventOrder   []string
	consumptions map[string]string // key -> ledger ref
	clock        func() time.Time
}

// NewMemoryLedger creates an empty ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		accounts:     make(map[string]*Account),
		acceptances:  make(map[string]Acceptance),
		reservations: make(map[string]*reservation),
		invoices:     make(map[string]*Invoice),
		events:       make(map[string]UsageEvent),
		consumptions: make(map[string]string),
		clock:        time.Now,
	}
}

// WithClock overrides the clock used for event timestamps.
func (l *MemoryLedger) WithClock(clock func() time.Time) *MemoryLedger {
	l.clock = clock
	return l
}

// OpenAccount registers (or replaces) the tenant's billing account.
func (l *MemoryLedger) OpenAccount(acct Account) Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct.ID == "" {
		acct.ID = "acct-" + uuid.New().String()
	}
	a := acct
	l.accounts[acct.TenantID] = &a
	return a
}

// Account returns a copy of the tenant's account.
func (l *MemoryLedger) Account(tenantID string) (Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.accounts[tenantID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return *a, nil
}

// MarkInvoicePaid settles an invoice.
func (l *MemoryLedger) MarkInvoicePaid(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.invoices[id]
	if !ok {
		return ErrInvoiceNotFound
	}
	inv.Status, inv.IsPaid = InvoicePaid, true
	return nil
}

// UsageEvents returns ingested events for an account in arrival order.
func (l *MemoryLedger) UsageEvents(accountID string) []UsageEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []UsageEvent
	for _, k := range l.eventOrder {
		if ev := l.events[k]; ev.AccountID == accountID {
			out = append(out, ev)
		}
	}
	return out
}

func (l *MemoryLedger) EnsureAcceptanceBilling(ctx context.Context, ref WorkOrderRef) (Acceptance, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if acc, ok := l.acceptances[ref.WorkOrderID]; ok {
		return acc, nil
	}
	acct, ok := l.accounts[ref.TenantID]
	if !ok {
		return Acceptance{}, nil
	}

	acc := Acceptance{Mode: acct.Mode, AccountID: acct.ID}
	switch acct.Mode {
	case contracts.BillingModeCredit:
		if !acct.Balance.Covers(acct.UnitPrice) {
			return Acceptance{}, ErrInsufficientCredits
		}
		bal, err := acct.Balance.Sub(acct.UnitPrice)
		if err != nil {
			return Acceptance{}, err
		}
		acct.Balance = bal
		r := &reservation{
			ID:          "res-" + uuid.New().String(),
			AccountID:   acct.ID,
			WorkOrderID: ref.WorkOrderID,
			Amount:      acct.UnitPrice,
			Status:      ReservationHeld,
		}
		l.reservations[r.ID] = r
		acc.ReservationID = r.ID
	case contracts.BillingModePostpaid:
		inv := &Invoice{
			ID:        "inv-" + uuid.New().String(),
			AccountID: acct.ID,
			Status:    InvoiceUnpaid,
			Amount:    acct.UnitPrice,
		}
		l.invoices[inv.ID] = inv
		acc.ServiceInvoiceID = inv.ID
	}
	l.acceptances[ref.WorkOrderID] = acc
	return acc, nil
}

func (l *MemoryLedger) IngestUsageEvent(ctx context.Context, event UsageEvent, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dup := l.events[key]; dup {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock().UTC()
	}
	l.events[key] = event
	l.eventOrder = append(l.eventOrder, key)
	return nil
}

func (l *MemoryLedger) ConsumeCredits(ctx context.Context, key string, req ConsumeRequest) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if ref, ok := l.consumptions[key]; ok {
		return ref, nil
	}
	r, ok := l.reservations[req.ReservationID]
	if !ok {
		return "", ErrReservationNotFound
	}
	if r.Status != ReservationConsumed {
		r.Status = ReservationConsumed
		r.LedgerRef = "ldg-" + uuid.New().String()
	}
	l.consumptions[key] = r.LedgerRef
	return r.LedgerRef, nil
}

func (l *MemoryLedger) GetServiceInvoice(ctx context.Context, id string) (Invoice, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.invoices[id]
	if !ok {
		return Invoice{}, ErrInvoiceNotFound
	}
	return *inv, nil
}
