// Package readiness computes the completeness assessment that gates a work
// order's move to READY_FOR_RENDER.
//
// Evaluate is a pure function: identical inputs always produce an identical
// result, and every output list is ordered deterministically.
package readiness

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

// Report types with dedicated rules. Anything else falls back to the generic rule set.
const (
	ReportValuation       = "VALUATION"
	ReportStockAudit      = "STOCK_AUDIT"
	ReportLendersEngineer = "LENDERS_ENGINEER"
)

// Requirement is one evidence category minimum, either a report-type default
// or an entry of a tenant evidence profile.
type Requirement struct {
	EvidenceType contracts.EvidenceType `json:"evidence_type,omitempty" yaml:"evidence_type"`
	// AnyOf widens the type match; used by the photo-or-screenshot default.
	AnyOf      []contracts.EvidenceType `json:"any_of,omitempty" yaml:"any_of"`
	DocType    string                   `json:"doc_type,omitempty" yaml:"doc_type"`
	MinCount   int                      `json:"min_count" yaml:"min_count"`
	IsRequired bool                     `json:"is_required" yaml:"is_required"`
	Tags       map[string]string        `json:"tags,omitempty" yaml:"tags"`
	Label      string                   `json:"label,omitempty" yaml:"label"`
}

// Category is the name a requirement is reported under.
func (r Requirement) Category() string {
	if r.Label != "" {
		return r.Label
	}
	key := strings.ToLower(string(r.EvidenceType))
	if key == "" {
		key = "any"
	}
	if r.DocType != "" {
		key += ":" + r.DocType
	}
	return key
}

// Matches reports whether item counts toward the requirement.
func (r Requirement) Matches(item contracts.EvidenceItem) bool {
	if item.Status == contracts.EvidenceArchived {
		return false
	}
	switch {
	case len(r.AnyOf) > 0:
		ok := false
		for _, t := range r.AnyOf {
			if item.EvidenceType == t {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	case r.EvidenceType != "":
		if item.EvidenceType != r.EvidenceType {
			return false
		}
	}
	if r.DocType != "" && !strings.EqualFold(r.DocType, item.DocType) {
		return false
	}
	for k, v := range r.Tags {
		if item.Tags[k] != v {
			return false
		}
	}
	return true
}

// Field is a mandatory contract field. Alternates satisfy it as well.
type Field struct {
	Path       string
	Alternates []string
}

// Input bundles everything the evaluator looks at.
type Input struct {
	ReportType          string
	Contract            map[string]any
	Evidence            []contracts.EvidenceItem
	RuleWarnings        []string
	ProfileRequirements []Requirement
	LinkedFieldKeys     []string
	RequireFieldLinks   bool
}

var mandatoryFields = map[string][]Field{
	ReportValuation: {
		{Path: "property.address"},
		{Path: "property.land_area"},
		{Path: "valuation.guideline_rate", Alternates: []string{"valuation.market_rate"}},
	},
	ReportStockAudit: {
		{Path: "borrower.name"},
		{Path: "inspection.date"},
		{Path: "stock.statement_value"},
	},
	ReportLendersEngineer: {
		{Path: "project.name"},
		{Path: "project.cost_estimate"},
		{Path: "inspection.date"},
	},
}

var genericFields = []Field{{Path: "property.address"}}

// MandatoryFields returns the mandatory field set for a report type.
func MandatoryFields(reportType string) []Field {
	if f, ok := mandatoryFields[normalizeType(reportType)]; ok {
		return f
	}
	return genericFields
}

// DefaultRequirements returns the built-in evidence minimums for a report type.
func DefaultRequirements(reportType string) []Requirement {
	if normalizeType(reportType) == ReportValuation {
		return []Requirement{{
			EvidenceType: contracts.EvidencePhoto,
			MinCount:     6,
			IsRequired:   true,
			Label:        "photo",
		}}
	}
	return []Requirement{{
		AnyOf:      []contracts.EvidenceType{contracts.EvidencePhoto, contracts.EvidenceScreenshot},
		MinCount:   2,
		IsRequired: true,
		Label:      "photo_or_screenshot",
	}}
}

// Evaluate computes readiness. A non-empty profile replaces the report-type
// default evidence categories.
func Evaluate(in Input) contracts.Readiness {
	res := contracts.Readiness{
		MissingFields:             []string{},
		MissingEvidence:           []string{},
		MissingFieldEvidenceLinks: []string{},
		Warnings:                  []string{},
		RequiredEvidenceMinimums:  map[string]int{},
	}

	fields := MandatoryFields(in.ReportType)
	total, satisfied := 0, 0
	for _, f := range fields {
		total++
		if fieldPresent(in.Contract, f) {
			satisfied++
			continue
		}
		res.MissingFields = append(res.MissingFields, f.Path)
	}

	reqs := in.ProfileRequirements
	if len(reqs) == 0 {
		reqs = DefaultRequirements(in.ReportType)
	}
	for _, req := range sortedRequirements(reqs) {
		cat := req.Category()
		if prev, seen := res.RequiredEvidenceMinimums[cat]; !seen || req.MinCount > prev {
			res.RequiredEvidenceMinimums[cat] = req.MinCount
		}
		if !req.IsRequired {
			continue
		}
		total++
		n := 0
		for _, item := range in.Evidence {
			if req.Matches(item) {
				n++
			}
		}
		if n >= req.MinCount {
			satisfied++
			continue
		}
		res.MissingEvidence = append(res.MissingEvidence,
			fmt.Sprintf("evidence:%s requires %d, found %d", cat, req.MinCount, n))
	}

	if in.RequireFieldLinks || len(in.LinkedFieldKeys) > 0 {
		linked := make(map[string]struct{}, len(in.LinkedFieldKeys))
		for _, k := range in.LinkedFieldKeys {
			linked[k] = struct{}{}
		}
		for _, f := range fields {
			if !fieldLinked(linked, f) {
				res.MissingFieldEvidenceLinks = append(res.MissingFieldEvidenceLinks, f.Path)
			}
		}
	}

	res.Warnings = append(res.Warnings, in.RuleWarnings...)
	res.CompletenessScore = score(satisfied, total, len(res.MissingFields)+len(res.MissingEvidence))
	return res
}

// score is round(100*satisfied/total), held below 100 while anything is missing.
func score(satisfied, total, missing int) int {
	if total == 0 {
		return 100
	}
	s := int(math.Round(100 * float64(satisfied) / float64(total)))
	if s > 100 {
		s = 100
	}
	if s < 0 {
		s = 0
	}
	if missing > 0 && s >= 100 {
		s = 99
	}
	if missing == 0 {
		s = 100
	}
	return s
}

// sortedRequirements orders requirements by category so profile row order never
// changes the result.
func sortedRequirements(reqs []Requirement) []Requirement {
	out := make([]Requirement, len(reqs))
	copy(out, reqs)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Category() < out[j].Category()
	})
	return out
}

func fieldPresent(doc map[string]any, f Field) bool {
	if present(Lookup(doc, f.Path)) {
		return true
	}
	for _, alt := range f.Alternates {
		if present(Lookup(doc, alt)) {
			return true
		}
	}
	return false
}

func fieldLinked(linked map[string]struct{}, f Field) bool {
	if _, ok := linked[f.Path]; ok {
		return true
	}
	for _, alt := range f.Alternates {
		if _, ok := linked[alt]; ok {
			return true
		}
	}
	return false
}

// Lookup walks a dotted path through nested objects. Missing segments yield nil.
func Lookup(doc map[string]any, path string) any {
	var cur any = doc
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func normalizeType(reportType string) string {
	return strings.ToUpper(strings.TrimSpace(reportType))
}
