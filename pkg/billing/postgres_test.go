package billing

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

const (
	lockAccountSQL    = "SELECT id, mode, balance_minor, unit_price_minor, currency FROM billing_accounts WHERE tenant_id = $1 FOR UPDATE"
	readAcceptanceSQL = "SELECT mode, account_id, reservation_id, service_invoice_id FROM billing_acceptances WHERE work_order_id = $1"
)

func TestPostgresLedger_EnsureAcceptanceCredit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	l := NewPostgresLedger(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockAccountSQL)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "mode", "balance_minor", "unit_price_minor", "currency"}).
			AddRow("acct-1", "CREDIT", 10000, 2500, "INR"))
	mock.ExpectQuery(regexp.QuoteMeta(readAcceptanceSQL)).
		WithArgs("wo-1").
		WillReturnRows(sqlmock.NewRows([]string{"mode", "account_id", "reservation_id", "service_invoice_id"}))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE billing_accounts SET balance_minor = balance_minor - $1 WHERE id = $2")).
		WithArgs(int64(2500), "acct-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO billing_reservations")).
		WithArgs(sqlmock.AnyArg(), "acct-1", "wo-1", int64(2500), "INR", ReservationHeld).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO billing_acceptances")).
		WithArgs("wo-1", "CREDIT", "acct-1", sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	acc, err := l.EnsureAcceptanceBilling(context.Background(), WorkOrderRef{WorkOrderID: "wo-1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, contracts.BillingModeCredit, acc.Mode)
	assert.NotEmpty(t, acc.ReservationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_EnsureAcceptanceReplay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockAccountSQL)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "mode", "balance_minor", "unit_price_minor", "currency"}).
			AddRow("acct-1", "POSTPAID", 0, 2500, "INR"))
	mock.ExpectQuery(regexp.QuoteMeta(readAcceptanceSQL)).
		WithArgs("wo-1").
		WillReturnRows(sqlmock.NewRows([]string{"mode", "account_id", "reservation_id", "service_invoice_id"}).
			AddRow("POSTPAID", "acct-1", nil, "inv-1"))
	mock.ExpectRollback()

	acc, err := NewPostgresLedger(db).EnsureAcceptanceBilling(context.Background(), WorkOrderRef{WorkOrderID: "wo-1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, Acceptance{Mode: contracts.BillingModePostpaid, AccountID: "acct-1", ServiceInvoiceID: "inv-1"}, acc)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_NoAccount(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(lockAccountSQL)).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "mode", "balance_minor", "unit_price_minor", "currency"}))
	mock.ExpectRollback()

	acc, err := NewPostgresLedger(db).EnsureAcceptanceBilling(context.Background(), WorkOrderRef{WorkOrderID: "wo-1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, contracts.BillingModeNone, acc.Mode)
}

func TestPostgresLedger_ConsumeCreditsReplay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT ledger_ref FROM billing_consumptions WHERE idempotency_key = $1")).
		WithArgs("release:k1").
		WillReturnRows(sqlmock.NewRows([]string{"ledger_ref"}).AddRow("ldg-1"))
	mock.ExpectRollback()

	ref, err := NewPostgresLedger(db).ConsumeCredits(context.Background(), "release:k1", ConsumeRequest{ReservationID: "res-1"})
	require.NoError(t, err)
	assert.Equal(t, "ldg-1", ref)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_ConsumeCredits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT ledger_ref FROM billing_consumptions WHERE idempotency_key = $1")).
		WithArgs("release:k1").
		WillReturnRows(sqlmock.NewRows([]string{"ledger_ref"}))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, ledger_ref FROM billing_reservations WHERE id = $1 FOR UPDATE")).
		WithArgs("res-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "ledger_ref"}).AddRow(ReservationHeld, nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE billing_reservations SET status = $1, ledger_ref = $2 WHERE id = $3")).
		WithArgs(ReservationConsumed, sqlmock.AnyArg(), "res-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO billing_consumptions (idempotency_key, reservation_id, ledger_ref) VALUES ($1, $2, $3)")).
		WithArgs("release:k1", "res-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ref, err := NewPostgresLedger(db).ConsumeCredits(context.Background(), "release:k1", ConsumeRequest{ReservationID: "res-1"})
	require.NoError(t, err)
	assert.Contains(t, ref, "ldg-")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_IngestUsageEvent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (idempotency_key) DO NOTHING")).
		WithArgs("planned-consumption:wo-1", "t1", "acct-1", "wo-1", EventPlannedConsumption, int64(1), at, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	l := NewPostgresLedger(db).WithClock(func() time.Time { return at })
	err = l.IngestUsageEvent(context.Background(), UsageEvent{
		TenantID: "t1", AccountID: "acct-1", WorkOrderID: "wo-1", EventType: EventPlannedConsumption, Quantity: 1,
	}, "planned-consumption:wo-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLedger_GetServiceInvoice(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, account_id, status, amount_minor, currency FROM billing_invoices WHERE id = $1")).
		WithArgs("inv-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "status", "amount_minor", "currency"}).
			AddRow("inv-1", "acct-1", InvoicePaid, 2500, "INR"))
	mock.ExpectQuery(regexp.QuoteMeta("FROM billing_invoices")).
		WithArgs("inv-2").
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "status", "amount_minor", "currency"}))

	l := NewPostgresLedger(db)
	inv, err := l.GetServiceInvoice(context.Background(), "inv-1")
	require.NoError(t, err)
	assert.True(t, inv.IsPaid)
	assert.Equal(t, NewMoney(2500, "INR"), inv.Amount)

	_, err = l.GetServiceInvoice(context.Background(), "inv-2")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}
