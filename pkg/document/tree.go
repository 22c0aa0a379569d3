// Package document holds the contract document model: a JSON tree with an
// explicit structural merge, identity and audit stamping, per-report-type
// schema validation and a typed view used for defaults and value extraction.
package document

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Tree is a JSON object. Leaves are nil, bool, float64, string, []any or map[string]any.
type Tree = map[string]any

type undefined struct{}

// Undefined marks a patch key that must leave the base value untouched.
// It is dropped by Merge and never stored.
var Undefined any = undefined{}

// Merge applies patch onto base and returns a new tree. Neither input is mutated.
//
//   - Undefined: keep the base value
//   - nil: store an explicit null
//   - object: recurse per key (a non-object base value is replaced by an empty object first)
//   - array or scalar: replace wholesale
func Merge(base, patch Tree) Tree {
	out := Clone(base)
	if out == nil {
		out = Tree{}
	}
	for k, pv := range patch {
		if pv == Undefined {
			continue
		}
		if pm, ok := pv.(map[string]any); ok {
			bm, _ := out[k].(map[string]any)
			out[k] = Merge(bm, pm)
			continue
		}
		out[k] = cloneValue(pv)
	}
	return out
}

// Clone deep-copies a tree.
func Clone(t Tree) Tree {
	if t == nil {
		return nil
	}
	out := make(Tree, len(t))
	for k, v := range t {
		if v == Undefined {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Clone(x)
	case []any:
		out := make([]any, 0, len(x))
		for _, e := range x {
			if e == Undefined {
				continue
			}
			out = append(out, cloneValue(e))
		}
		return out
	default:
		return v
	}
}

// Canonical returns the tree as plain JSON values with NFC-normalized strings.
// Go numeric types become float64, structs become objects.
func Canonical(t Tree) (Tree, error) {
	raw, err := json.Marshal(Clone(t))
	if err != nil {
		return nil, fmt.Errorf("document: encode: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a JSON object into a normalized tree.
func Parse(raw []byte) (Tree, error) {
	var t Tree
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("document: decode: %w", err)
	}
	if t == nil {
		t = Tree{}
	}
	return normalizeTree(t), nil
}

func normalizeTree(t Tree) Tree {
	out := make(Tree, len(t))
	for k, v := range t {
		out[norm.NFC.String(k)] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch x := v.(type) {
	case string:
		return norm.NFC.String(x)
	case map[string]any:
		return normalizeTree(x)
	case []any:
		for i := range x {
			x[i] = normalizeValue(x[i])
		}
		return x
	default:
		return v
	}
}

// Get walks a dotted path. The second result is false if any segment is absent.
func Get(t Tree, path string) (any, bool) {
	var cur any = t
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[seg]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// Set writes value at a dotted path, creating intermediate objects.
func Set(t Tree, path string, value any) {
	segs := strings.Split(path, ".")
	cur := t
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(map[string]any)
		if !ok {
			next = Tree{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = value
}

// String returns the string at path, or "" when absent or not a string.
func String(t Tree, path string) string {
	v, _ := Get(t, path)
	s, _ := v.(string)
	return s
}

// Identity is the set of contract fields that always mirror the work order.
type Identity struct {
	ReportType string
	BankType   string
	BankName   string
}

// AssertIdentity forces meta.report_type and meta.bank_type to the work order's
// values. meta.bank_name is only filled when still empty.
func AssertIdentity(t Tree, id Identity) {
	Set(t, "meta.report_type", id.ReportType)
	Set(t, "meta.bank_type", id.BankType)
	if strings.TrimSpace(String(t, "meta.bank_name")) == "" {
		Set(t, "meta.bank_name", id.BankName)
	}
}

// Audit is the stamp written under meta.audit on every stored snapshot.
type Audit struct {
	Version   int       `json:"version"`
	Actor     string    `json:"actor"`
	StampedAt time.Time `json:"stamped_at"`
}

// Stamp writes the audit block for a snapshot version.
func Stamp(t Tree, a Audit) {
	Set(t, "meta.audit", map[string]any{
		"version":    float64(a.Version),
		"actor":      a.Actor,
		"stamped_at": a.StampedAt.UTC().Format(time.RFC3339Nano),
	})
}

// WithoutAudit returns a copy of t with the audit stamp removed.
func WithoutAudit(t Tree) Tree {
	out := Clone(t)
	if meta, ok := out["meta"].(map[string]any); ok {
		delete(meta, "audit")
	}
	return out
}
