package rules

import (
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Registry holds validated rulesets keyed by semantic version.
type Registry struct {
	mu        sync.RWMutex
	validator *Validator
	versions  map[string]registered
}

type registered struct {
	version *semver.Version
	ruleset Ruleset
}

// NewRegistry creates an empty registry.
func NewRegistry() (*Registry, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	return &Registry{validator: v, versions: make(map[string]registered)}, nil
}

// Register validates rs and stores it under its version. Re-registering a
// version replaces it.
func (r *Registry) Register(rs Ruleset) error {
	ver, err := semver.NewVersion(rs.Version)
	if err != nil {
		return fmt.Errorf("rules: invalid ruleset version %q: %w", rs.Version, err)
	}
	if err := r.validator.ValidateRuleset(rs); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.versions[ver.String()] = registered{version: ver, ruleset: rs}
	return nil
}

// Resolve returns the highest registered version satisfying constraint.
// An empty constraint selects the latest version.
func (r *Registry) Resolve(constraint string) (Ruleset, error) {
	var c *semver.Constraints
	if constraint != "" {
		var err error
		if c, err = semver.NewConstraint(constraint); err != nil {
			return Ruleset{}, fmt.Errorf("rules: invalid ruleset constraint %q: %w", constraint, err)
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *registered
	for _, reg := range r.versions {
		reg := reg
		if c != nil && !c.Check(reg.version) {
			continue
		}
		if best == nil || reg.version.GreaterThan(best.version) {
			best = &reg
		}
	}
	if best == nil {
		return Ruleset{}, fmt.Errorf("rules: no ruleset matches %q", constraint)
	}
	return best.ruleset, nil
}

// Versions lists registered versions in ascending order.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs := make([]*semver.Version, 0, len(r.versions))
	for _, reg := range r.versions {
		vs = append(vs, reg.version)
	}
	sort.Sort(semver.Collection(vs))
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = v.Original()
	}
	return out
}

// DefaultRuleset is the built-in ruleset used when no catalog is configured.
func DefaultRuleset() Ruleset {
	return Ruleset{
		Version: "1.0.0",
		Derivations: []Derivation{
			{Key: "land_value", Expr: "contract.property.land_area * contract.valuation.guideline_rate", Target: "valuation.land_value"},
			{Key: "market_value", Expr: "contract.property.land_area * contract.valuation.market_rate", Target: "valuation.market_value"},
			{Key: "distress_value", Expr: "derived.market_value * 0.8"},
			{
				Key:    "value_slab",
				Expr:   `derived.land_value < 10000000.0 ? "UPTO_1CR" : (derived.land_value < 50000000.0 ? "1CR_5CR" : "ABOVE_5CR")`,
				Target: "meta.value_slab",
			},
			{Key: "stock_variance", Expr: "contract.stock.statement_value - contract.stock.physical_value"},
			{Key: "project_progress", Expr: "contract.project.cost_incurred / contract.project.cost_estimate"},
		},
		Checks: []Check{
			{
				Code:     "RATE_DIVERGENCE",
				Severity: SeverityWarning,
				When:     "contract.valuation.market_rate > contract.valuation.guideline_rate * 1.5",
				Message:  "market rate exceeds guideline rate by more than 50%",
			},
			{
				Code:     "ZERO_LAND_AREA",
				Severity: SeverityError,
				When:     "contract.property.land_area == 0.0",
				Message:  "land area must be positive",
			},
			{
				Code:     "STOCK_SHORTFALL",
				Severity: SeverityWarning,
				When:     "derived.stock_variance > contract.stock.statement_value * 0.1",
				Message:  "physical stock is more than 10% below the statement value",
			},
		},
	}
}
