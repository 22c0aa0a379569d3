// Package rules derives computed values and coded warnings from a contract.
//
// The snapshot pipeline depends only on the Engine interface. CELEngine is the
// reference implementation: rulesets are ordered CEL derivations and checks,
// versioned by semver and resolved through a Registry.
package rules

import (
	"context"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/document"
)

// Output is the result of one engine run.
type Output struct {
	Contract       document.Tree
	Derived        document.Tree
	Warnings       []contracts.Issue
	Errors         []contracts.Issue
	RulesetVersion string
}

// Engine must be deterministic for a given contract and resolved ruleset.
type Engine interface {
	Run(ctx context.Context, contract document.Tree, rulesetVersion string) (*Output, error)
}

// Severity of a check.
type Severity string

const (
	SeverityWarning Severity = "WARNING"
	SeverityError   Severity = "ERROR"
)

// Derivation computes one derived value. Later derivations see earlier ones
// under `derived`. A non-empty Target also writes the value into the contract.
type Derivation struct {
	Key    string `yaml:"key" json:"key"`
	Expr   string `yaml:"expr" json:"expr"`
	Target string `yaml:"target,omitempty" json:"target,omitempty"`
}

// Check raises an issue when its When expression evaluates to true.
type Check struct {
	Code     string   `yaml:"code" json:"code"`
	Severity Severity `yaml:"severity" json:"severity"`
	When     string   `yaml:"when" json:"when"`
	Message  string   `yaml:"message" json:"message"`
}

// Ruleset is one versioned set of derivations and checks.
type Ruleset struct {
	Version     string       `yaml:"version" json:"version"`
	Derivations []Derivation `yaml:"derivations" json:"derivations"`
	Checks      []Check      `yaml:"checks" json:"checks"`
}

// WarningStrings renders engine issues as the readiness warning list. Errors
// are kept, prefixed with "error:".
func (o *Output) WarningStrings() []string {
	out := make([]string, 0, len(o.Warnings)+len(o.Errors))
	for _, w := range o.Warnings {
		out = append(out, w.Code+": "+w.Message)
	}
	for _, e := range o.Errors {
		out = append(out, "error:"+e.Code+": "+e.Message)
	}
	return out
}
