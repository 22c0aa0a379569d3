package billing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

// PostgresLedger implements Control with PostgreSQL storage. Account rows are
// locked with SELECT ... FOR UPDATE; idempotency keys are unique columns.
type PostgresLedger struct {
	db    *sql.DB
	clock func() time.Time
}

// NewPostgresLedger creates a ledger over db.
func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{db: db, clock: time.Now}
}

// WithClock overrides the clock used for event timestamps.
func (l *PostgresLedger) WithClock(clock func() time.Time) *PostgresLedger {
	l.clock = clock
	return l
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS billing_accounts (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL UNIQUE,
	mode TEXT NOT NULL,
	balance_minor BIGINT NOT NULL DEFAULT 0,
	unit_price_minor BIGINT NOT NULL DEFAULT 0,
	currency TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS billing_acceptances (
	work_order_id TEXT PRIMARY KEY,
	mode TEXT NOT NULL,
	account_id TEXT NOT NULL,
	reservation_id TEXT,
	service_invoice_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS billing_reservations (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	work_order_id TEXT NOT NULL,
	amount_minor BIGINT NOT NULL,
	currency TEXT NOT NULL,
	status TEXT NOT NULL,
	ledger_ref TEXT
);
CREATE TABLE IF NOT EXISTS billing_invoices (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	status TEXT NOT NULL,
	amount_minor BIGINT NOT NULL,
	currency TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS billing_usage_events (
	idempotency_key TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	account_id TEXT NOT NULL,
	work_order_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	quantity BIGINT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL,
	metadata JSONB
);
CREATE TABLE IF NOT EXISTS billing_consumptions (
	idempotency_key TEXT PRIMARY KEY,
	reservation_id TEXT NOT NULL,
	ledger_ref TEXT NOT NULL
);
`

// Init creates the ledger tables.
func (l *PostgresLedger) Init(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("billing: init schema: %w", err)
	}
	return nil
}

// OpenAccount upserts the tenant's billing account.
func (l *PostgresLedger) OpenAccount(ctx context.Context, acct Account) (Account, error) {
	if acct.ID == "" {
		acct.ID = "acct-" + uuid.New().String()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO billing_accounts (id, tenant_id, mode, balance_minor, unit_price_minor, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id) DO UPDATE SET
			mode = EXCLUDED.mode,
			balance_minor = EXCLUDED.balance_minor,
			unit_price_minor = EXCLUDED.unit_price_minor,
			currency = EXCLUDED.currency
	`, acct.ID, acct.TenantID, string(acct.Mode), acct.Balance.AmountMinor, acct.UnitPrice.AmountMinor, acct.Balance.Currency)
	if err != nil {
		return Account{}, fmt.Errorf("billing: open account: %w", err)
	}
	return acct, nil
}

// MarkInvoicePaid settles an invoice.
func (l *PostgresLedger) MarkInvoicePaid(ctx context.Context, id string) error {
	res, err := l.db.ExecContext(ctx, "UPDATE billing_invoices SET status = $1 WHERE id = $2", InvoicePaid, id)
	if err != nil {
		return fmt.Errorf("billing: mark invoice paid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (l *PostgresLedger) EnsureAcceptanceBilling(ctx context.Context, ref WorkOrderRef) (Acceptance, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return Acceptance{}, fmt.Errorf("billing: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		acctID         string
		mode, currency string
		balance, price int64
	)
	err = tx.QueryRowContext(ctx,
		"SELECT id, mode, balance_minor, unit_price_minor, currency FROM billing_accounts WHERE tenant_id = $1 FOR UPDATE",
		ref.TenantID).Scan(&acctID, &mode, &balance, &price, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return Acceptance{}, nil
	}
	if err != nil {
		return Acceptance{}, fmt.Errorf("billing: lock account: %w", err)
	}

	var existing Acceptance
	var resID, invID sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT mode, account_id, reservation_id, service_invoice_id FROM billing_acceptances WHERE work_order_id = $1",
		ref.WorkOrderID).Scan(&existing.Mode, &existing.AccountID, &resID, &invID)
	if err == nil {
		existing.ReservationID, existing.ServiceInvoiceID = resID.String, invID.String
		return existing, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Acceptance{}, fmt.Errorf("billing: read acceptance: %w", err)
	}

	acc := Acceptance{Mode: contracts.BillingMode(mode), AccountID: acctID}
	switch acc.Mode {
	case contracts.BillingModeCredit:
		if balance < price {
			return Acceptance{}, ErrInsufficientCredits
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE billing_accounts SET balance_minor = balance_minor - $1 WHERE id = $2",
			price, acctID); err != nil {
			return Acceptance{}, fmt.Errorf("billing: debit account: %w", err)
		}
		acc.ReservationID = "res-" + uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO billing_reservations (id, account_id, work_order_id, amount_minor, currency, status)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, acc.ReservationID, acctID, ref.WorkOrderID, price, currency, ReservationHeld); err != nil {
			return Acceptance{}, fmt.Errorf("billing: insert reservation: %w", err)
		}
	case contracts.BillingModePostpaid:
		acc.ServiceInvoiceID = "inv-" + uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO billing_invoices (id, account_id, status, amount_minor, currency)
			VALUES ($1, $2, $3, $4, $5)
		`, acc.ServiceInvoiceID, acctID, InvoiceUnpaid, price, currency); err != nil {
			return Acceptance{}, fmt.Errorf("billing: insert invoice: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO billing_acceptances (work_order_id, mode, account_id, reservation_id, service_invoice_id)
		VALUES ($1, $2, $3, $4, $5)
	`, ref.WorkOrderID, string(acc.Mode), acc.AccountID, nullable(acc.ReservationID), nullable(acc.ServiceInvoiceID)); err != nil {
		return Acceptance{}, fmt.Errorf("billing: insert acceptance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Acceptance{}, fmt.Errorf("billing: commit: %w", err)
	}
	return acc, nil
}

func (l *PostgresLedger) IngestUsageEvent(ctx context.Context, event UsageEvent, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock().UTC()
	}
	var meta any
	if event.Metadata != nil {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("billing: marshal metadata: %w", err)
		}
		meta = string(b)
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO billing_usage_events (idempotency_key, tenant_id, account_id, work_order_id, event_type, quantity, occurred_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key, event.TenantID, event.AccountID, event.WorkOrderID, event.EventType, event.Quantity, event.Timestamp, meta)
	if err != nil {
		return fmt.Errorf("billing: ingest usage event: %w", err)
	}
	return nil
}

func (l *PostgresLedger) ConsumeCredits(ctx context.Context, key string, req ConsumeRequest) (string, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("billing: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ref string
	err = tx.QueryRowContext(ctx, "SELECT ledger_ref FROM billing_consumptions WHERE idempotency_key = $1", key).Scan(&ref)
	if err == nil {
		return ref, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("billing: read consumption: %w", err)
	}

	var status string
	var existing sql.NullString
	err = tx.QueryRowContext(ctx,
		"SELECT status, ledger_ref FROM billing_reservations WHERE id = $1 FOR UPDATE",
		req.ReservationID).Scan(&status, &existing)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrReservationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("billing: lock reservation: %w", err)
	}

	if status == ReservationConsumed && existing.Valid {
		ref = existing.String
	} else {
		ref = "ldg-" + uuid.New().String()
		if _, err := tx.ExecContext(ctx,
			"UPDATE billing_reservations SET status = $1, ledger_ref = $2 WHERE id = $3",
			ReservationConsumed, ref, req.ReservationID); err != nil {
			return "", fmt.Errorf("billing: consume reservation: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO billing_consumptions (idempotency_key, reservation_id, ledger_ref) VALUES ($1, $2, $3)",
		key, req.ReservationID, ref); err != nil {
		return "", fmt.Errorf("billing: record consumption: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("billing: commit: %w", err)
	}
	return ref, nil
}

func (l *PostgresLedger) GetServiceInvoice(ctx context.Context, id string) (Invoice, error) {
	var inv Invoice
	var amount int64
	var currency string
	err := l.db.QueryRowContext(ctx,
		"SELECT id, account_id, status, amount_minor, currency FROM billing_invoices WHERE id = $1",
		id).Scan(&inv.ID, &inv.AccountID, &inv.Status, &amount, &currency)
	if errors.Is(err, sql.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotFound
	}
	if err != nil {
		return Invoice{}, fmt.Errorf("billing: get invoice: %w", err)
	}
	inv.Amount = NewMoney(amount, currency)
	inv.IsPaid = inv.Status == InvoicePaid
	return inv, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
