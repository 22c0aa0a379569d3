package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/evidence"
	"github.com/Mindburn-Labs/reportdesk/pkg/store"
)

func intp(v int) *int { return &v }

func TestExportBundleRequiresSnapshot(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.ExportBundle(context.Background(), actor, "wo-1")
	var ce *contracts.ConflictError
	assert.True(t, errors.As(err, &ce))
}

func TestExportBundleManifest(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil, WithDocumentLookup(evidence.StaticLookup{
		"doc-deed": {ID: "doc-deed", Filename: "sale-deed.pdf", ContentType: "application/pdf"},
	}))
	items := []struct {
		id string
		in evidence.ItemInput
	}{
		{"c", evidence.ItemInput{EvidenceType: "PHOTO", FileRef: "c.jpg"}},
		{"b", evidence.ItemInput{EvidenceType: "DOCUMENT", DocType: "sale_deed", DocumentID: "doc-deed", AnnexureOrder: intp(2)}},
		{"a", evidence.ItemInput{EvidenceType: "DOCUMENT", DocType: "tax_receipt", DocumentID: "doc-tax", AnnexureOrder: intp(1)}},
		{"d", evidence.ItemInput{EvidenceType: "PHOTO", FileRef: "d.jpg", Status: "ARCHIVED"}},
		{"e", evidence.ItemInput{EvidenceType: "GEO", FileRef: "geo.json"}},
	}
	for _, it := range items {
		_, err := f.ev.UpsertItem(ctx, actor, "wo-1", it.id, it.in)
		require.NoError(t, err)
	}
	res, err := f.svc.PatchContract(ctx, actor, "wo-1", validPatch())
	require.NoError(t, err)

	b, err := f.svc.ExportBundle(ctx, actor, "wo-1")
	require.NoError(t, err)
	assert.Equal(t, res.OutputSnapshot.ID, b.SnapshotID)
	assert.Equal(t, 2, b.SnapshotVersion)
	assert.Equal(t, 6e6, b.Derived["land_value"])

	var ids []string
	for _, e := range b.Evidence {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b", "c", "e"}, ids)
	require.NotNil(t, b.Evidence[1].Document)
	assert.Equal(t, "sale-deed.pdf", b.Evidence[1].Document.Filename)
	assert.Nil(t, b.Evidence[0].Document)

	require.Len(t, b.AnnexureHints, 2)
	assert.Equal(t, AnnexureHint{Annexure: "Annexure 1", Order: 1, EvidenceID: "a", Title: "tax receipt"}, b.AnnexureHints[0])
	assert.Equal(t, "sale-deed.pdf", b.AnnexureHints[1].Title)
}

func TestExportBundleUnparseableContract(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	require.NoError(t, f.st.Update(ctx, func(tx store.Tx) error {
		return tx.InsertSnapshot(ctx, &contracts.ContractSnapshot{
			ID: "bad", WorkOrderID: "wo-1", Version: 1, Kind: contracts.SnapshotOutput,
			Contract: map[string]any{"meta": map[string]any{"report_type": "VALUATION"}, "property": map[string]any{"land_area": "wide"}},
			CreatedBy: "u1", CreatedAt: t0,
		})
	}))
	_, err := f.svc.ExportBundle(ctx, actor, "wo-1")
	var ce *contracts.ConflictError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, ce.Detail, "no longer parses")
}
