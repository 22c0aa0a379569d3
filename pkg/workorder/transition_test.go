package workorder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/billing"
	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

type brokenBilling struct {
	billing.Control
	acceptErr error
	usageErr  error
}

func (b brokenBilling) EnsureAcceptanceBilling(ctx context.Context, ref billing.WorkOrderRef) (billing.Acceptance, error) {
	if b.acceptErr != nil {
		return billing.Acceptance{}, b.acceptErr
	}
	return b.Control.EnsureAcceptanceBilling(ctx, ref)
}

func (b brokenBilling) IngestUsageEvent(ctx context.Context, ev billing.UsageEvent, key string) error {
	if b.usageErr != nil {
		return b.usageErr
	}
	return b.Control.IngestUsageEvent(ctx, ev, key)
}

func TestTransitionSameStatusIsNoop(t *testing.T) {
	f := newFixture(t, nil, nil)
	wo := f.create(t)

	d, err := f.svc.Transition(context.Background(), actor, wo.ID, contracts.StatusDraft, "again")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusDraft, d.WorkOrder.Status)

	comments, err := f.svc.ListComments(context.Background(), actor, wo.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestTransitionRejectsUnlistedTarget(t *testing.T) {
	f := newFixture(t, nil, nil)
	wo := f.create(t)

	_, err := f.svc.Transition(context.Background(), actor, wo.ID, contracts.StatusClosed, "")
	var it *contracts.InvalidTransitionError
	require.ErrorAs(t, err, &it)
	assert.Equal(t, contracts.StatusDraft, it.From)
	assert.Equal(t, contracts.StatusClosed, it.To)

	_, err = f.svc.Transition(context.Background(), actor, wo.ID, "ARCHIVED", "")
	var ve *contracts.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, contracts.StatusDraft, f.load(t, wo.ID).Status)
}

func TestTransitionReadinessGate(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	wo := f.create(t)
	_, err := f.svc.Transition(ctx, actor, wo.ID, contracts.StatusDataPending, "")
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, actor, wo.ID, contracts.StatusReadyForRender, "")
	var rb *contracts.ReadinessBlockError
	require.ErrorAs(t, err, &rb)
	assert.NotEmpty(t, rb.Readiness.MissingFields, "no snapshot yet")
	assert.Equal(t, contracts.StatusDataPending, f.load(t, wo.ID).Status)

	f.makeReady(t, wo.ID)
	d, err := f.svc.Transition(ctx, actor, wo.ID, contracts.StatusReadyForRender, "looks good")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusReadyForRender, d.WorkOrder.Status)
	assert.Equal(t, 100, d.Readiness.CompletenessScore)
}

func TestTransitionReadinessRecomputedAgainstCurrentEvidence(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	wo := f.create(t)
	_, err := f.svc.Transition(ctx, actor, wo.ID, contracts.StatusDataPending, "")
	require.NoError(t, err)
	f.makeReady(t, wo.ID)

	_, err = f.ev.UpsertItem(ctx, actor, wo.ID, "ph-0", evidenceArchived())
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, actor, wo.ID, contracts.StatusReadyForRender, "")
	var rb *contracts.ReadinessBlockError
	require.ErrorAs(t, err, &rb)
	assert.Contains(t, rb.Readiness.MissingEvidence, "evidence:photo requires 6, found 5")
}

func TestTransitionAuditComment(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	wo := f.create(t)

	_, err := f.svc.Transition(ctx, actor, wo.ID, contracts.StatusEvidencePending, "waiting on site photos")
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, actor, wo.ID, contracts.StatusCancelled, "")
	require.NoError(t, err)

	comments, err := f.svc.ListComments(ctx, actor, wo.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, contracts.CommentSystem, comments[0].Kind)
	assert.Equal(t, "status: DRAFT -> EVIDENCE_PENDING\nwaiting on site photos", comments[0].Body)
	assert.Equal(t, "status: EVIDENCE_PENDING -> CANCELLED", comments[1].Body)
	assert.Equal(t, "u1", comments[1].Author)
}

func TestTransitionWithoutCommentsTable(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.st.WithFeatures(legacyFeatures())
	wo := f.create(t)

	d, err := f.svc.Transition(context.Background(), actor, wo.ID, contracts.StatusEvidencePending, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.StatusEvidencePending, d.WorkOrder.Status)
}

func TestTransitionCreditAccount(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	acct := f.ledger.OpenAccount(billing.Account{
		TenantID:  "t1",
		Mode:      contracts.BillingModeCredit,
		Balance:   billing.NewMoney(10000, "INR"),
		UnitPrice: billing.NewMoney(2500, "INR"),
	})
	wo := f.create(t)

	d, err := f.svc.Transition(ctx, actor, wo.ID, contracts.StatusDataPending, "")
	require.NoError(t, err)
	b := d.WorkOrder.Billing
	assert.Equal(t, contracts.BillingModeCredit, b.Mode)
	assert.Equal(t, acct.ID, b.AccountID)
	assert.NotEmpty(t, b.ReservationID)
	assert.Empty(t, b.ServiceInvoiceID)
	require.Contains(t, b.Hooks, HookAcceptance)
	assert.Equal(t, "ensured", b.Hooks[HookAcceptance].Outcome)
	assert.Equal(t, t0, b.Hooks[HookAcceptance].At)

	f.makeReady(t, wo.ID)
	d, err = f.svc.Transition(ctx, actor, wo.ID, contracts.StatusReadyForRender, "")
	require.NoError(t, err)
	require.Contains(t, d.WorkOrder.Billing.Hooks, HookPlannedConsumption)
	assert.Equal(t, PlannedConsumptionKey(wo.ID), d.WorkOrder.Billing.Hooks[HookPlannedConsumption].Data["idempotency_key"])

	events := f.ledger.UsageEvents(acct.ID)
	require.Len(t, events, 1)
	assert.Equal(t, billing.EventPlannedConsumption, events[0].EventType)
	assert.Equal(t, wo.ID, events[0].WorkOrderID)
	assert.Equal(t, int64(1), events[0].Quantity)

	stored := f.load(t, wo.ID)
	assert.Equal(t, d.WorkOrder.Billing.ReservationID, stored.Billing.ReservationID)
	assert.Len(t, stored.Billing.Hooks, 2)
}

func TestTransitionPostpaidAccount(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.ledger.OpenAccount(billing.Account{TenantID: "t1", Mode: contracts.BillingModePostpaid, UnitPrice: billing.NewMoney(2500, "INR")})
	wo := f.create(t)

	d, err := f.svc.Transition(context.Background(), actor, wo.ID, contracts.StatusDataPending, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.BillingModePostpaid, d.WorkOrder.Billing.Mode)
	assert.NotEmpty(t, d.WorkOrder.Billing.ServiceInvoiceID)
	assert.Empty(t, d.WorkOrder.Billing.ReservationID)
}

func TestTransitionWithoutAccount(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	wo := f.create(t)

	d, err := f.svc.Transition(ctx, actor, wo.ID, contracts.StatusDataPending, "")
	require.NoError(t, err)
	assert.Equal(t, contracts.BillingModeNone, d.WorkOrder.Billing.Mode)
	assert.Equal(t, "no_account", d.WorkOrder.Billing.Hooks[HookAcceptance].Outcome)

	f.makeReady(t, wo.ID)
	d, err = f.svc.Transition(ctx, actor, wo.ID, contracts.StatusReadyForRender, "")
	require.NoError(t, err)
	assert.NotContains(t, d.WorkOrder.Billing.Hooks, HookPlannedConsumption)
}

func TestTransitionBillingFailureRollsBack(t *testing.T) {
	ledger := billing.NewMemoryLedger()
	f := newFixture(t, brokenBilling{Control: ledger, acceptErr: errors.New("ledger offline")}, nil)
	ctx := context.Background()
	wo := f.create(t)

	_, err := f.svc.Transition(ctx, actor, wo.ID, contracts.StatusDataPending, "")
	var ue *contracts.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "billing", ue.Collaborator)

	stored := f.load(t, wo.ID)
	assert.Equal(t, contracts.StatusDraft, stored.Status)
	assert.Empty(t, stored.Billing.Hooks)
	comments, err := f.svc.ListComments(ctx, actor, wo.ID)
	require.NoError(t, err)
	assert.Empty(t, comments)
}

func TestTransitionUsageFailureRollsBack(t *testing.T) {
	ledger := billing.NewMemoryLedger()
	ledger.OpenAccount(billing.Account{TenantID: "t1", Mode: contracts.BillingModePostpaid, UnitPrice: billing.NewMoney(2500, "INR")})
	f := newFixture(t, brokenBilling{Control: ledger, usageErr: errors.New("meter down")}, nil)
	ctx := context.Background()
	wo := f.create(t)
	_, err := f.svc.Transition(ctx, actor, wo.ID, contracts.StatusDataPending, "")
	require.NoError(t, err)
	f.makeReady(t, wo.ID)

	_, err = f.svc.Transition(ctx, actor, wo.ID, contracts.StatusReadyForRender, "")
	var ue *contracts.UpstreamError
	require.ErrorAs(t, err, &ue)
	stored := f.load(t, wo.ID)
	assert.Equal(t, contracts.StatusDataPending, stored.Status)
	assert.NotContains(t, stored.Billing.Hooks, HookPlannedConsumption)
}

func TestTransitionForeignTenant(t *testing.T) {
	f := newFixture(t, nil, nil)
	wo := f.create(t)
	_, err := f.svc.Transition(context.Background(), contracts.Actor{ID: "x", TenantID: "t2"}, wo.ID, contracts.StatusCancelled, "")
	var nf *contracts.NotFoundError
	assert.ErrorAs(t, err, &nf)
}
