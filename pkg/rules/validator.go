package rules

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/operators"
	exprpb "google.golang.org/genproto/googleapis/api/expr/v1alpha1"
)

// Validator rejects expressions that could make a derivation non-deterministic:
// identifiers other than contract and derived, and calls outside an allow-list.
type Validator struct {
	env     *cel.Env
	allowed map[string]bool
}

var allowedFunctions = []string{
	operators.Add, operators.Subtract, operators.Multiply, operators.Divide, operators.Modulo,
	operators.Equals, operators.NotEquals,
	operators.Less, operators.LessEquals, operators.Greater, operators.GreaterEquals,
	operators.LogicalAnd, operators.LogicalOr, operators.LogicalNot, operators.Negate,
	operators.Conditional, operators.Index, operators.In, operators.OldIn,
	operators.NotStrictlyFalse, operators.OldNotStrictlyFalse,
	"size", "contains", "startsWith", "endsWith", "matches",
	"double", "int", "string",
}

// NewValidator builds a validator backed by a parse-only environment.
func NewValidator() (*Validator, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("rules: create CEL environment: %w", err)
	}
	allowed := make(map[string]bool, len(allowedFunctions))
	for _, f := range allowedFunctions {
		allowed[f] = true
	}
	return &Validator{env: env, allowed: allowed}, nil
}

// Validate returns a non-nil error listing every violation in expr.
func (v *Validator) Validate(expr string) error {
	parsed, iss := v.env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return fmt.Errorf("rules: parse %q: %w", expr, iss.Err())
	}
	pe, err := cel.AstToParsedExpr(parsed)
	if err != nil {
		return fmt.Errorf("rules: convert %q: %w", expr, err)
	}
	scope := map[string]int{"contract": 1, "derived": 1}
	var problems []string
	v.walk(pe.GetExpr(), scope, &problems)
	if len(problems) > 0 {
		return fmt.Errorf("rules: expression %q rejected: %s", expr, strings.Join(problems, "; "))
	}
	return nil
}

func (v *Validator) walk(e *exprpb.Expr, scope map[string]int, problems *[]string) {
	if e == nil {
		return
	}
	switch k := e.ExprKind.(type) {
	case *exprpb.Expr_IdentExpr:
		if scope[k.IdentExpr.Name] == 0 {
			*problems = append(*problems, fmt.Sprintf("identifier %q is not allowed", k.IdentExpr.Name))
		}

	case *exprpb.Expr_SelectExpr:
		v.walk(k.SelectExpr.Operand, scope, problems)

	case *exprpb.Expr_CallExpr:
		call := k.CallExpr
		if !v.allowed[call.Function] {
			*problems = append(*problems, fmt.Sprintf("function %q is not allowed", call.Function))
		}
		v.walk(call.Target, scope, problems)
		for _, arg := range call.Args {
			v.walk(arg, scope, problems)
		}

	case *exprpb.Expr_ListExpr:
		for _, el := range k.ListExpr.Elements {
			v.walk(el, scope, problems)
		}

	case *exprpb.Expr_StructExpr:
		if k.StructExpr.MessageName != "" {
			*problems = append(*problems, fmt.Sprintf("message construction %q is not allowed", k.StructExpr.MessageName))
		}
		for _, entry := range k.StructExpr.Entries {
			if entry.GetMapKey() != nil {
				v.walk(entry.GetMapKey(), scope, problems)
			}
			v.walk(entry.Value, scope, problems)
		}

	case *exprpb.Expr_ComprehensionExpr:
		comp := k.ComprehensionExpr
		v.walk(comp.IterRange, scope, problems)
		v.walk(comp.AccuInit, scope, problems)
		scope[comp.IterVar]++
		scope[comp.AccuVar]++
		v.walk(comp.LoopCondition, scope, problems)
		v.walk(comp.LoopStep, scope, problems)
		v.walk(comp.Result, scope, problems)
		scope[comp.IterVar]--
		scope[comp.AccuVar]--
	}
}

// ValidateRuleset validates every expression of rs.
func (v *Validator) ValidateRuleset(rs Ruleset) error {
	for _, d := range rs.Derivations {
		if d.Key == "" {
			return fmt.Errorf("rules: ruleset %s: derivation without key", rs.Version)
		}
		if err := v.Validate(d.Expr); err != nil {
			return fmt.Errorf("rules: ruleset %s derivation %s: %w", rs.Version, d.Key, err)
		}
	}
	for _, c := range rs.Checks {
		if c.Severity != SeverityWarning && c.Severity != SeverityError {
			return fmt.Errorf("rules: ruleset %s check %s: unknown severity %q", rs.Version, c.Code, c.Severity)
		}
		if err := v.Validate(c.When); err != nil {
			return fmt.Errorf("rules: ruleset %s check %s: %w", rs.Version, c.Code, err)
		}
	}
	return nil
}
