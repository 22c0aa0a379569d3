package workorder

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/billing"
	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/document"
	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/rules"
	"github.com/Mindburn-Labs/reportdesk/pkg/snapshot"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

var (
	t0    = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	actor = contracts.Actor{ID: "u1", TenantID: "t1"}
)

type fixture struct {
	svc    *Service
	ev     *evidence.Service
	snaps  *snapshot.Service
	ledger *billing.MemoryLedger
	st     *store.MemoryStore
}

func newFixture(t *testing.T, bc billing.Control, profiles evidence.ProfileResolver) *fixture {
	t.Helper()
	reg, err := rules.NewRegistry()
	require.NoError(t, err)
	require.NoError(t, reg.Register(rules.DefaultRuleset()))
	engine, err := rules.NewCELEngine(reg)
	require.NoError(t, err)

	st := store.NewMemoryStore()
	locker := lock.NewLocalLocker()
	clock := func() time.Time { return t0 }
	ledger := billing.NewMemoryLedger().WithClock(clock)
	if bc == nil {
		bc = ledger
	}
	evOpts := []evidence.Option{evidence.WithClock(clock)}
	if profiles != nil {
		evOpts = append(evOpts, evidence.WithProfiles(profiles))
	}
	ev := evidence.NewService(st, locker, evOpts...)
	snaps := snapshot.NewService(st, locker, engine, ev, snapshot.WithClock(clock))
	return &fixture{
		svc:    NewService(st, locker, bc, ev, snaps, WithClock(clock)),
		ev:     ev,
		snaps:  snaps,
		ledger: ledger,
		st:     st,
	}
}

func (f *fixture) create(t *testing.T) *contracts.WorkOrder {
	t.Helper()
	d, err := f.svc.Create(context.Background(), actor, CreateInput{ReportType: "valuation", BankName: "SBI", BankType: "psu"})
	require.NoError(t, err)
	return d.WorkOrder
}

// makeReady fills the contract and uploads the six photos a valuation needs.
func (f *fixture) makeReady(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		_, err := f.ev.UpsertItem(ctx, actor, id, fmt.Sprintf("ph-%d", i), evidence.ItemInput{EvidenceType: "PHOTO", FileRef: fmt.Sprintf("photos/%d.jpg", i)})
		require.NoError(t, err)
	}
	_, err := f.snaps.PatchContract(ctx, actor, id, document.Tree{
		"property":  map[string]any{"address": "12 MG Road", "land_area": 1200.0},
		"valuation": map[string]any{"guideline_rate": 5000.0},
	})
	require.NoError(t, err)
}

func (f *fixture) load(t *testing.T, id string) *contracts.WorkOrder {
	t.Helper()
	var wo *contracts.WorkOrder
	require.NoError(t, f.st.View(context.Background(), func(tx store.Tx) error {
		var err error
		wo, err = tx.GetWorkOrder(context.Background(), id)
		return err
	}))
	return wo
}

func TestCreate(t *testing.T) {
	f := newFixture(t, nil, nil)
	d, err := f.svc.Create(context.Background(), actor, CreateInput{
		ReportType: "valuation", BankName: " SBI ", BankType: "psu",
		Source: contracts.Source{Kind: contracts.SourceChannel, AssignmentID: "as-9"},
	})
	require.NoError(t, err)
	wo := d.WorkOrder
	assert.NotEmpty(t, wo.ID)
	assert.Equal(t, "t1", wo.TenantID)
	assert.Equal(t, "VALUATION", wo.ReportType)
	assert.Equal(t, "SBI", wo.BankName)
	assert.Equal(t, "PSU", wo.BankType)
	assert.Equal(t, contracts.StatusDraft, wo.Status)
	assert.Equal(t, "as-9", wo.Source.AssignmentID)
	assert.Equal(t, "u1", wo.CreatedBy)
	assert.Nil(t, d.LatestSnapshot)
	assert.False(t, d.Readiness.Complete())

	d, err = f.svc.Create(context.Background(), actor, CreateInput{ReportType: "STOCK_AUDIT", BankName: "HDFC", BankType: "PRIVATE"})
	require.NoError(t, err)
	assert.Equal(t, contracts.SourceTenant, d.WorkOrder.Source.Kind)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	cases := map[string]struct {
		actor contracts.Actor
		in    CreateInput
		field string
	}{
		"no tenant":      {contracts.Actor{ID: "u1"}, CreateInput{ReportType: "VALUATION", BankName: "SBI", BankType: "PSU"}, "tenant_id"},
		"no report type": {actor, CreateInput{BankName: "SBI", BankType: "PSU"}, "report_type"},
		"no bank name":   {actor, CreateInput{ReportType: "VALUATION", BankType: "PSU"}, "bank_name"},
		"no bank type":   {actor, CreateInput{ReportType: "VALUATION", BankName: "SBI"}, "bank_type"},
		"bad source":     {actor, CreateInput{ReportType: "VALUATION", BankName: "SBI", BankType: "PSU", Source: contracts.Source{Kind: "FAX"}}, "source.kind"},
		"bad profile":    {actor, CreateInput{ReportType: "VALUATION", BankName: "SBI", BankType: "PSU", EvidenceProfileID: "nope"}, "evidence_profile_id"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, tc.actor, tc.in)
			var ve *contracts.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestCreateAssignsDefaultProfile(t *testing.T) {
	profiles, err := evidence.NewCatalogResolver([]evidence.Profile{
		{ID: "any", Match: evidence.Selector{TenantID: "*", ReportType: "*", BankType: "*", ValueSlab: "*"}},
		{ID: "psu-valuation", Match: evidence.Selector{TenantID: "*", ReportType: "VALUATION", BankType: "PSU", ValueSlab: "*"}},
	})
	require.NoError(t, err)
	f := newFixture(t, nil, profiles)

	wo := f.create(t)
	assert.Equal(t, "psu-valuation", wo.EvidenceProfileID)

	d, err := f.svc.Create(context.Background(), actor, CreateInput{ReportType: "VALUATION", BankName: "SBI", BankType: "PSU", EvidenceProfileID: "any"})
	require.NoError(t, err)
	assert.Equal(t, "any", d.WorkOrder.EvidenceProfileID)
}

func TestGetIsTenantScoped(t *testing.T) {
	f := newFixture(t, nil, nil)
	wo := f.create(t)

	d, err := f.svc.Get(context.Background(), actor, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, wo.ID, d.WorkOrder.ID)

	_, err = f.svc.Get(context.Background(), contracts.Actor{ID: "x", TenantID: "t2"}, wo.ID)
	var nf *contracts.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, wo.ID, nf.ID)
}

func TestList(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	a := f.create(t)
	f.create(t)
	_, err := f.svc.Create(ctx, contracts.Actor{ID: "u2", TenantID: "t2"}, CreateInput{ReportType: "VALUATION", BankName: "SBI", BankType: "PSU"})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, actor, a.ID, contracts.StatusCancelled, "")
	require.NoError(t, err)

	all, err := f.svc.List(ctx, actor, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	cancelled, err := f.svc.List(ctx, actor, ListFilter{Status: "cancelled"})
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, a.ID, cancelled[0].ID)

	page, err := f.svc.List(ctx, actor, ListFilter{Limit: 1, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, page)
	assert.NotNil(t, page)

	_, err = f.svc.List(ctx, actor, ListFilter{Status: "LOST"})
	var ve *contracts.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(contracts.StatusDraft, contracts.StatusEvidencePending))
	assert.True(t, CanTransition(contracts.StatusDataPending, contracts.StatusClosed))
	assert.False(t, CanTransition(contracts.StatusDraft, contracts.StatusReadyForRender))
	assert.False(t, CanTransition(contracts.StatusEvidencePending, contracts.StatusClosed))
	for _, to := range contracts.AllStatuses {
		assert.False(t, CanTransition(contracts.StatusClosed, to))
		assert.False(t, CanTransition(contracts.StatusCancelled, to))
	}
}

func evidenceArchived() evidence.ItemInput {
	return evidence.ItemInput{EvidenceType: "PHOTO", FileRef: "photos/0.jpg", Status: "ARCHIVED"}
}

// legacyFeatures matches a schema without the comments and links tables.
func legacyFeatures() store.Features {
	return store.FeaturesForSchema(1)
}
