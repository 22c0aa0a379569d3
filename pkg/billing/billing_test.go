package billing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

func TestMoney(t *testing.T) {
	a := NewMoney(1050, "INR")
	b := NewMoney(50, "INR")

	sum, err := a.Add(b)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), sum.AmountMinor)
	assert.Equal(t, "11.00 INR", sum.String())

	diff, err := b.Sub(a)
	require.NoError(t, err)
	assert.True(t, diff.IsNegative())
	assert.Equal(t, "-10.00 INR", diff.String())

	_, err = a.Add(NewMoney(1, "USD"))
	assert.Error(t, err)
	assert.True(t, a.Covers(b))
	assert.False(t, b.Covers(a))
	assert.Equal(t, "500 JPY", NewMoney(500, "JPY").String())
}

func TestMemoryLedger_CreditFlow(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	acct := l.OpenAccount(Account{TenantID: "t1", Mode: contracts.BillingModeCredit, Balance: NewMoney(10000, "INR"), UnitPrice: NewMoney(2500, "INR")})

	acc, err := l.EnsureAcceptanceBilling(ctx, WorkOrderRef{WorkOrderID: "wo-1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, contracts.BillingModeCredit, acc.Mode)
	assert.Equal(t, acct.ID, acc.AccountID)
	assert.NotEmpty(t, acc.ReservationID)

	again, err := l.EnsureAcceptanceBilling(ctx, WorkOrderRef{WorkOrderID: "wo-1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, acc, again, "acceptance is idempotent per work order")

	got, err := l.Account("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(7500), got.Balance.AmountMinor, "reserved once")

	ref1, err := l.ConsumeCredits(ctx, "release:k1", ConsumeRequest{ReservationID: acc.ReservationID})
	require.NoError(t, err)
	ref2, err := l.ConsumeCredits(ctx, "release:k1", ConsumeRequest{ReservationID: acc.ReservationID})
	require.NoError(t, err)
	assert.Equal(t, ref1, ref2)

	ref3, err := l.ConsumeCredits(ctx, "release:k2", ConsumeRequest{ReservationID: acc.ReservationID})
	require.NoError(t, err)
	assert.Equal(t, ref1, ref3, "a reservation is consumed once")

	_, err = l.ConsumeCredits(ctx, "release:k3", ConsumeRequest{ReservationID: "missing"})
	assert.ErrorIs(t, err, ErrReservationNotFound)
}

func TestMemoryLedger_InsufficientCredits(t *testing.T) {
	l := NewMemoryLedger()
	l.OpenAccount(Account{TenantID: "t1", Mode: contracts.BillingModeCredit, Balance: NewMoney(100, "INR"), UnitPrice: NewMoney(2500, "INR")})
	_, err := l.EnsureAcceptanceBilling(context.Background(), WorkOrderRef{WorkOrderID: "wo-1", TenantID: "t1"})
	assert.ErrorIs(t, err, ErrInsufficientCredits)
}

func TestMemoryLedger_PostpaidInvoice(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	l.OpenAccount(Account{TenantID: "t1", Mode: contracts.BillingModePostpaid, UnitPrice: NewMoney(2500, "INR")})

	acc, err := l.EnsureAcceptanceBilling(ctx, WorkOrderRef{WorkOrderID: "wo-1", TenantID: "t1"})
	require.NoError(t, err)
	require.NotEmpty(t, acc.ServiceInvoiceID)

	inv, err := l.GetServiceInvoice(ctx, acc.ServiceInvoiceID)
	require.NoError(t, err)
	assert.False(t, inv.IsPaid)

	require.NoError(t, l.MarkInvoicePaid(acc.ServiceInvoiceID))
	inv, err = l.GetServiceInvoice(ctx, acc.ServiceInvoiceID)
	require.NoError(t, err)
	assert.True(t, inv.IsPaid)

	_, err = l.GetServiceInvoice(ctx, "nope")
	assert.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestMemoryLedger_NoAccount(t *testing.T) {
	acc, err := NewMemoryLedger().EnsureAcceptanceBilling(context.Background(), WorkOrderRef{WorkOrderID: "wo-1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, contracts.BillingModeNone, acc.Mode)
}

func TestMemoryLedger_UsageEventsDeduplicate(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	ev := UsageEvent{TenantID: "t1", AccountID: "a1", WorkOrderID: "wo-1", EventType: EventPlannedConsumption, Quantity: 1}

	require.NoError(t, l.IngestUsageEvent(ctx, ev, "planned-consumption:wo-1"))
	require.NoError(t, l.IngestUsageEvent(ctx, ev, "planned-consumption:wo-1"))
	assert.Len(t, l.UsageEvents("a1"), 1)
	assert.ErrorIs(t, l.IngestUsageEvent(ctx, ev, ""), ErrEmptyKey)
}
