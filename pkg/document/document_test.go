package document

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

func TestMergeRules(t *testing.T) {
	base := Tree{
		"meta":   map[string]any{"report_type": "VALUATION"},
		"tags":   []any{"a", "b"},
		"nested": map[string]any{"keep": 1.0, "drop": "x"},
		"scalar": "old",
	}
	patch := Tree{
		"tags":   []any{"c"},
		"nested": map[string]any{"drop": nil, "add": true},
		"scalar": Undefined,
		"new":    map[string]any{"deep": map[string]any{"v": 2.0}},
	}

	got := Merge(base, patch)

	assert.Equal(t, []any{"c"}, got["tags"], "arrays replace")
	assert.Equal(t, map[string]any{"keep": 1.0, "drop": nil, "add": true}, got["nested"])
	assert.Equal(t, "old", got["scalar"], "undefined keeps base")
	assert.Equal(t, 2.0, got["new"].(map[string]any)["deep"].(map[string]any)["v"])
	assert.Equal(t, "x", base["nested"].(map[string]any)["drop"], "base not mutated")
}

func TestMergeObjectOverScalar(t *testing.T) {
	got := Merge(Tree{"a": "scalar"}, Tree{"a": map[string]any{"b": 1.0}})
	assert.Equal(t, map[string]any{"b": 1.0}, got["a"])
}

func TestMergeEmptyPatchIsIdentity(t *testing.T) {
	base := Default(Identity{ReportType: "VALUATION", BankType: "PSU", BankName: "SBI"})
	assert.Equal(t, base, Merge(base, Tree{}))
}

func TestCanonicalNormalizes(t *testing.T) {
	// "e" + combining acute accent becomes the precomposed form.
	got, err := Canonical(Tree{"name": "Cafe\u0301", "n": 3})
	require.NoError(t, err)
	assert.Equal(t, "Caf\u00e9", got["name"])
	assert.Equal(t, 3.0, got["n"])
}

func TestAssertIdentity(t *testing.T) {
	doc := Tree{"meta": map[string]any{"report_type": "HACKED", "bank_type": "X", "bank_name": "Custom Name"}}
	AssertIdentity(doc, Identity{ReportType: "VALUATION", BankType: "PSU", BankName: "SBI"})

	assert.Equal(t, "VALUATION", String(doc, "meta.report_type"))
	assert.Equal(t, "PSU", String(doc, "meta.bank_type"))
	assert.Equal(t, "Custom Name", String(doc, "meta.bank_name"))

	empty := Tree{}
	AssertIdentity(empty, Identity{ReportType: "VALUATION", BankType: "PSU", BankName: "SBI"})
	assert.Equal(t, "SBI", String(empty, "meta.bank_name"))
}

func TestStampAndStrip(t *testing.T) {
	doc := Default(Identity{ReportType: "VALUATION", BankType: "PSU", BankName: "SBI"})
	Stamp(doc, Audit{Version: 3, Actor: "u-1", StampedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)})

	v, ok := Get(doc, "meta.audit.version")
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
	assert.Equal(t, "2026-01-02T03:04:05Z", String(doc, "meta.audit.stamped_at"))

	stripped := WithoutAudit(doc)
	_, ok = Get(stripped, "meta.audit")
	assert.False(t, ok)
	_, ok = Get(doc, "meta.audit")
	assert.True(t, ok, "original keeps its stamp")
}

func TestValidator(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	doc := Default(Identity{ReportType: "VALUATION", BankType: "PSU", BankName: "SBI"})
	require.NoError(t, v.Validate("VALUATION", doc))

	bad := Merge(doc, Tree{"property": map[string]any{"land_area": "huge"}})
	err = v.Validate("VALUATION", bad)
	var ve *contracts.ValidationError
	require.True(t, errors.As(err, &ve))
	require.NotEmpty(t, ve.Issues)
	assert.Contains(t, ve.Issues[0], "/property/land_area")

	noMeta := Tree{"property": map[string]any{}}
	assert.Error(t, v.Validate("SITE_VISIT", noMeta))
	assert.NoError(t, v.Validate("SITE_VISIT", Default(Identity{ReportType: "SITE_VISIT", BankType: "PVT"})))
}

func TestDecode(t *testing.T) {
	doc := Default(Identity{ReportType: "VALUATION", BankType: "PSU", BankName: "SBI"})
	Set(doc, "property.address", "12 MG Road")
	Set(doc, "valuation.guideline_rate", 4500.0)

	c, err := Decode(doc)
	require.NoError(t, err)
	assert.Equal(t, "SBI", c.Meta.BankName)
	val, ok := c.Body.(*Valuation)
	require.True(t, ok)
	assert.Equal(t, "12 MG Road", *val.Property.Address)
	assert.Equal(t, 4500.0, *val.Valuation.GuidelineRate)

	Set(doc, "property.land_area", "not a number")
	_, err = Decode(doc)
	assert.Error(t, err)

	_, err = Decode(Tree{"property": map[string]any{}})
	assert.Error(t, err)
}

func TestBodyForFallsBackToGeneric(t *testing.T) {
	b := BodyFor("SITE_VISIT")
	assert.Equal(t, "SITE_VISIT", b.ReportType())
	assert.IsType(t, &StockAudit{}, BodyFor("stock_audit"))
}
