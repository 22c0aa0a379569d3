package evidence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/lock"
	"github.com/Mindburn-Labs/reportdesk/pkg/readiness"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

var (
	t0    = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	actor = contracts.Actor{ID: "u1", TenantID: "t1"}
)

func setup(t *testing.T, opts ...Option) (*Service, store.Store) {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertWorkOrder(ctx, &contracts.WorkOrder{
			ID: "wo-1", TenantID: "t1", ReportType: "VALUATION", BankType: "PSU", BankName: "SBI",
			Status: contracts.StatusDraft, CreatedBy: "u1", CreatedAt: t0, UpdatedAt: t0,
		}); err != nil {
			return err
		}
		return tx.InsertSnapshot(ctx, &contracts.ContractSnapshot{
			ID: "snap-1", WorkOrderID: "wo-1", Version: 1, Kind: contracts.SnapshotInput,
			Contract: map[string]any{"meta": map[string]any{"report_type": "VALUATION"}}, CreatedBy: "u1", CreatedAt: t0,
		})
	}))
	opts = append([]Option{WithClock(func() time.Time { return t0 })}, opts...)
	return NewService(st, lock.NewLocalLocker(), opts...), st
}

func TestUpsertItemRequiresDocumentOrFile(t *testing.T) {
	s, _ := setup(t)
	_, err := s.UpsertItem(context.Background(), actor, "wo-1", "ev-1", ItemInput{EvidenceType: "PHOTO"})
	var ve *contracts.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "document_id", ve.Field)

	_, err = s.UpsertItem(context.Background(), actor, "wo-1", "ev-1", ItemInput{EvidenceType: "VIDEO", FileRef: "f"})
	assert.True(t, errors.As(err, &ve))

	_, err = s.UpsertItem(context.Background(), actor, "wo-1", "ev-1", ItemInput{EvidenceType: "PHOTO", FileRef: "f", Status: "DELETED"})
	assert.True(t, errors.As(err, &ve))
}

func TestUpsertItemKeepsCreatedAtAndArchives(t *testing.T) {
	ctx := context.Background()
	now := t0
	s, _ := setup(t, WithClock(func() time.Time { return now }))

	first, err := s.UpsertItem(ctx, actor, "wo-1", "ev-1", ItemInput{EvidenceType: "photo", FileRef: "s3://b/1.jpg"})
	require.NoError(t, err)
	assert.Equal(t, contracts.EvidenceActive, first.Status)

	now = t0.Add(time.Hour)
	second, err := s.UpsertItem(ctx, actor, "wo-1", "ev-1", ItemInput{EvidenceType: "PHOTO", FileRef: "s3://b/1.jpg", Status: "archived"})
	require.NoError(t, err)
	assert.Equal(t, contracts.EvidenceArchived, second.Status)
	assert.Equal(t, t0, second.CreatedAt)
	assert.Equal(t, now, second.UpdatedAt)

	items, err := s.ListItems(ctx, actor, "wo-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, contracts.EvidenceArchived, items[0].Status)
}

func TestUpsertItemScopesByTenant(t *testing.T) {
	s, _ := setup(t)
	_, err := s.UpsertItem(context.Background(), contracts.Actor{ID: "x", TenantID: "t2"}, "wo-1", "", ItemInput{EvidenceType: "PHOTO", FileRef: "f"})
	var nf *contracts.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestLinkDedupesAndUnlinks(t *testing.T) {
	ctx := context.Background()
	s, _ := setup(t)
	_, err := s.UpsertItem(ctx, actor, "wo-1", "ev-1", ItemInput{EvidenceType: "DOCUMENT", DocumentID: "doc-1"})
	require.NoError(t, err)

	conf := 0.9
	l1, err := s.Link(ctx, actor, "wo-1", LinkInput{FieldKey: "property.address", EvidenceItemID: "ev-1", Confidence: &conf})
	require.NoError(t, err)
	assert.Equal(t, "snap-1", l1.SnapshotID)

	l2, err := s.Link(ctx, actor, "wo-1", LinkInput{SnapshotID: "snap-1", FieldKey: "property.address", EvidenceItemID: "ev-1"})
	require.NoError(t, err)
	assert.Equal(t, l1.ID, l2.ID)

	links, err := s.ListLinks(ctx, actor, "wo-1", "snap-1")
	require.NoError(t, err)
	assert.Len(t, links, 1)

	require.NoError(t, s.Unlink(ctx, actor, "wo-1", l1.ID))
	err = s.Unlink(ctx, actor, "wo-1", l1.ID)
	var nf *contracts.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestLinkValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := setup(t)
	var (
		ve *contracts.ValidationError
		nf *contracts.NotFoundError
	)
	_, err := s.Link(ctx, actor, "wo-1", LinkInput{EvidenceItemID: "ev-1"})
	assert.True(t, errors.As(err, &ve))

	bad := 1.5
	_, err = s.Link(ctx, actor, "wo-1", LinkInput{FieldKey: "k", EvidenceItemID: "ev-1", Confidence: &bad})
	assert.True(t, errors.As(err, &ve))

	_, err = s.Link(ctx, actor, "wo-1", LinkInput{FieldKey: "k", EvidenceItemID: "missing"})
	assert.True(t, errors.As(err, &nf))

	_, err = s.Link(ctx, actor, "wo-1", LinkInput{SnapshotID: "nope", FieldKey: "k", EvidenceItemID: "missing"})
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, "snapshot", nf.Kind)
}

func TestLinkUnsupportedSchema(t *testing.T) {
	ctx := context.Background()
	s, st := setup(t)
	st.(*store.MemoryStore).WithFeatures(store.FeaturesForSchema(1))
	_, err := s.UpsertItem(ctx, actor, "wo-1", "ev-1", ItemInput{EvidenceType: "DOCUMENT", DocumentID: "doc-1"})
	require.NoError(t, err)

	_, err = s.Link(ctx, actor, "wo-1", LinkInput{FieldKey: "k", EvidenceItemID: "ev-1"})
	var ce *contracts.ConflictError
	assert.True(t, errors.As(err, &ce))
}

func TestGatherUsesProfileAndLinks(t *testing.T) {
	ctx := context.Background()
	resolver, err := NewCatalogResolver([]Profile{{
		ID:                "val-strict",
		Match:             Selector{ReportType: "VALUATION"},
		RequireFieldLinks: true,
		Requirements: []readiness.Requirement{
			{EvidenceType: contracts.EvidenceDocument, DocType: "sale_deed", MinCount: 1, IsRequired: true},
		},
	}})
	require.NoError(t, err)
	s, st := setup(t, WithProfiles(resolver))

	_, err = s.UpsertItem(ctx, actor, "wo-1", "ev-1", ItemInput{EvidenceType: "DOCUMENT", DocType: "sale_deed", DocumentID: "d1"})
	require.NoError(t, err)
	_, err = s.Link(ctx, actor, "wo-1", LinkInput{FieldKey: "property.address", EvidenceItemID: "ev-1"})
	require.NoError(t, err)

	require.NoError(t, st.Update(ctx, func(tx store.Tx) error {
		wo, err := tx.GetWorkOrder(ctx, "wo-1")
		require.NoError(t, err)
		changed, err := s.AssignDefaultProfile(ctx, wo)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "val-strict", wo.EvidenceProfileID)

		in, err := s.Gather(ctx, tx, wo)
		require.NoError(t, err)
		assert.Len(t, in.Items, 1)
		assert.True(t, in.RequireFieldLinks)
		assert.Equal(t, []string{"property.address"}, in.LinkedFieldKeys)

		r := in.Evaluate("VALUATION", map[string]any{
			"property":  map[string]any{"address": "1 Main St", "land_area": 100.0},
			"valuation": map[string]any{"guideline_rate": 10.0},
		}, nil)
		assert.Empty(t, r.MissingFields)
		assert.Empty(t, r.MissingEvidence)
		assert.Equal(t, []string{"property.land_area", "valuation.guideline_rate"}, r.MissingFieldEvidenceLinks)
		assert.Equal(t, 100, r.CompletenessScore)
		return nil
	}))
}

func TestGatherUnknownProfileFallsBack(t *testing.T) {
	ctx := context.Background()
	s, st := setup(t)
	require.NoError(t, st.View(ctx, func(tx store.Tx) error {
		in, err := s.Gather(ctx, tx, &contracts.WorkOrder{ID: "wo-1", EvidenceProfileID: "gone"})
		require.NoError(t, err)
		assert.Nil(t, in.Requirements)
		return nil
	}))
}
