package rules

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
	"github.com/Mindburn-Labs/reportdesk/pkg/document"
)

// CELEngine evaluates registry rulesets with CEL.
//
// A derivation or check whose inputs are missing (null, absent key, type
// mismatch) does not fail the run: the derived value is null and the check
// does not fire. Go errors are reserved for ruleset resolution and compilation.
type CELEngine struct {
	env      *cel.Env
	registry *Registry
	logger   *slog.Logger

	mu       sync.RWMutex
	prgCache map[string]cel.Program
}

// NewCELEngine creates an engine over registry.
func NewCELEngine(registry *Registry) (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("contract", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("derived", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("rules: create CEL environment: %w", err)
	}
	return &CELEngine{
		env:      env,
		registry: registry,
		logger:   slog.Default().With("component", "rules"),
		prgCache: make(map[string]cel.Program),
	}, nil
}

// Run resolves rulesetVersion as a semver constraint and evaluates it.
func (e *CELEngine) Run(ctx context.Context, contract document.Tree, rulesetVersion string) (*Output, error) {
	rs, err := e.registry.Resolve(rulesetVersion)
	if err != nil {
		return nil, err
	}

	in, err := document.Canonical(contract)
	if err != nil {
		return nil, err
	}
	out := &Output{
		Contract:       document.Clone(in),
		Derived:        document.Tree{},
		Warnings:       []contracts.Issue{},
		Errors:         []contracts.Issue{},
		RulesetVersion: rs.Version,
	}

	for _, d := range rs.Derivations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		prg, err := e.program(d.Expr)
		if err != nil {
			return nil, fmt.Errorf("rules: derivation %s: %w", d.Key, err)
		}
		val, _, evalErr := prg.Eval(map[string]any{"contract": in, "derived": out.Derived})
		var v any
		if evalErr == nil {
			if v, err = native(val); err != nil {
				return nil, fmt.Errorf("rules: derivation %s: %w", d.Key, err)
			}
		} else {
			e.logger.Debug("derivation skipped", "key", d.Key, "reason", evalErr)
		}
		out.Derived[d.Key] = v
		if d.Target != "" && v != nil {
			document.Set(out.Contract, d.Target, v)
		}
	}

	for _, c := range rs.Checks {
		prg, err := e.program(c.When)
		if err != nil {
			return nil, fmt.Errorf("rules: check %s: %w", c.Code, err)
		}
		val, _, evalErr := prg.Eval(map[string]any{"contract": in, "derived": out.Derived})
		if evalErr != nil {
			continue
		}
		if fired, ok := val.Value().(bool); !ok || !fired {
			continue
		}
		issue := contracts.Issue{Code: c.Code, Message: c.Message}
		if c.Severity == SeverityError {
			out.Errors = append(out.Errors, issue)
		} else {
			out.Warnings = append(out.Warnings, issue)
		}
	}
	return out, nil
}

func (e *CELEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.prgCache[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.prgCache[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	p, err := e.env.Program(ast,
		cel.InterruptCheckFrequency(100),
		cel.CostLimit(10000),
	)
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	e.prgCache[expr] = p
	return p, nil
}

var (
	listType = reflect.TypeOf([]any{})
	mapType  = reflect.TypeOf(map[string]any{})
)

// native converts a CEL value into a plain JSON value.
func native(val ref.Val) (any, error) {
	switch val.Type() {
	case types.NullType:
		return nil, nil
	case types.ListType:
		return val.ConvertToNative(listType)
	case types.MapType:
		return val.ConvertToNative(mapType)
	}
	switch v := val.Value().(type) {
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case float64, string, bool:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported result type %s", val.Type().TypeName())
	}
}
