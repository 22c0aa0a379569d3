package rules

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/reportdesk/pkg/document"
)

func newEngine(t *testing.T, sets ...Ruleset) *CELEngine {
	t.Helper()
	reg, err := NewRegistry()
	require.NoError(t, err)
	if len(sets) == 0 {
		sets = []Ruleset{DefaultRuleset()}
	}
	for _, rs := range sets {
		require.NoError(t, reg.Register(rs))
	}
	eng, err := NewCELEngine(reg)
	require.NoError(t, err)
	return eng
}

func valuation(area, guideline, market any) document.Tree {
	return document.Tree{
		"meta":      map[string]any{"report_type": "VALUATION", "bank_type": "PSU"},
		"property":  map[string]any{"address": "12 MG Road", "land_area": area},
		"valuation": map[string]any{"guideline_rate": guideline, "market_rate": market},
	}
}

func TestValidatorRejectsNonDeterministicInput(t *testing.T) {
	v, err := NewValidator()
	require.NoError(t, err)

	assert.NoError(t, v.Validate("contract.a.b * 2.0"))
	assert.NoError(t, v.Validate(`has(contract.a) && size(contract.tags) > 0`))
	assert.NoError(t, v.Validate("contract.items.all(i, i > 0)"))
	assert.NoError(t, v.Validate("contract.items.map(i, i * 2)"))

	assert.ErrorContains(t, v.Validate("now()"), `function "now"`)
	assert.ErrorContains(t, v.Validate("timestamp('2026-01-01T00:00:00Z') > contract.at"), `function "timestamp"`)
	assert.ErrorContains(t, v.Validate("request.time"), `identifier "request"`)
	assert.ErrorContains(t, v.Validate("i > 0"), `identifier "i"`)
	assert.Error(t, v.Validate("contract.("))
}

func TestRegistryResolve(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	for _, v := range []string{"1.0.0", "1.2.0", "2.0.0"} {
		rs := DefaultRuleset()
		rs.Version = v
		require.NoError(t, reg.Register(rs))
	}

	rs, err := reg.Resolve("^1.0")
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", rs.Version)

	rs, err = reg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "2.0.0", rs.Version)

	_, err = reg.Resolve(">=3")
	assert.Error(t, err)
	_, err = reg.Resolve("not a constraint")
	assert.Error(t, err)

	assert.Equal(t, []string{"1.0.0", "1.2.0", "2.0.0"}, reg.Versions())
}

func TestRegistryRejectsBadRulesets(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	assert.Error(t, reg.Register(Ruleset{Version: "one"}))
	assert.Error(t, reg.Register(Ruleset{Version: "1.0.0", Derivations: []Derivation{{Key: "x", Expr: "now()"}}}))
	assert.Error(t, reg.Register(Ruleset{Version: "1.0.0", Checks: []Check{{Code: "C", Severity: "INFO", When: "true"}}}))
}

func TestCELEngineDerivesValues(t *testing.T) {
	eng := newEngine(t)

	out, err := eng.Run(context.Background(), valuation(1000, 4500, 5000), "")
	require.NoError(t, err)

	assert.Equal(t, "1.0.0", out.RulesetVersion)
	assert.Equal(t, 4500000.0, out.Derived["land_value"])
	assert.Equal(t, 5000000.0, out.Derived["market_value"])
	assert.Equal(t, 4000000.0, out.Derived["distress_value"])
	assert.Equal(t, "UPTO_1CR", out.Derived["value_slab"])
	assert.Nil(t, out.Derived["stock_variance"])

	assert.Equal(t, "UPTO_1CR", document.String(out.Contract, "meta.value_slab"))
	v, ok := document.Get(out.Contract, "valuation.land_value")
	require.True(t, ok)
	assert.Equal(t, 4500000.0, v)
	assert.Empty(t, out.Warnings)
	assert.Empty(t, out.Errors)
}

func TestCELEngineMissingInputsYieldNull(t *testing.T) {
	eng := newEngine(t)

	out, err := eng.Run(context.Background(), valuation(nil, nil, nil), "")
	require.NoError(t, err)
	assert.Nil(t, out.Derived["land_value"])
	assert.Nil(t, out.Derived["value_slab"])
	_, ok := document.Get(out.Contract, "valuation.land_value")
	assert.False(t, ok)
}

func TestCELEngineChecks(t *testing.T) {
	eng := newEngine(t)

	out, err := eng.Run(context.Background(), valuation(0.0, 1000, 2000), "1.0.0")
	require.NoError(t, err)
	require.Len(t, out.Warnings, 1)
	assert.Equal(t, "RATE_DIVERGENCE", out.Warnings[0].Code)
	require.Len(t, out.Errors, 1)
	assert.Equal(t, "ZERO_LAND_AREA", out.Errors[0].Code)

	assert.Equal(t, []string{
		"RATE_DIVERGENCE: market rate exceeds guideline rate by more than 50%",
		"error:ZERO_LAND_AREA: land area must be positive",
	}, out.WarningStrings())
}

func TestCELEngineIsDeterministic(t *testing.T) {
	eng := newEngine(t)
	in := valuation(1234.5, 4321, 6789)

	a, err := eng.Run(context.Background(), in, "")
	require.NoError(t, err)
	b, err := eng.Run(context.Background(), in, "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCELEngineUnknownVersion(t *testing.T) {
	eng := newEngine(t)
	_, err := eng.Run(context.Background(), valuation(1, 1, 1), "^9")
	assert.Error(t, err)
}

func TestCELEngineDoesNotMutateInput(t *testing.T) {
	eng := newEngine(t)
	in := valuation(1000.0, 4500.0, nil)
	_, err := eng.Run(context.Background(), in, "")
	require.NoError(t, err)
	_, ok := document.Get(in, "valuation.land_value")
	assert.False(t, ok)
}
