package readiness

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/reportdesk/pkg/contracts"
)

func genInput() gopter.Gen {
	return gopter.CombineGens(
		gen.OneConstOf("VALUATION", "STOCK_AUDIT", "LENDERS_ENGINEER", "OTHER"),
		gen.AlphaString(),
		gen.IntRange(0, 8),
		gen.IntRange(0, 4),
		gen.SliceOf(gen.AlphaString()),
		gen.Bool(),
	).Map(func(v []any) Input {
		doc := map[string]any{}
		if addr := v[1].(string); addr != "" {
			doc["property"] = map[string]any{"address": addr, "land_area": len(addr)}
			doc["valuation"] = map[string]any{"guideline_rate": 100}
		}
		ev := photos(v[2].(int), contracts.EvidencePhoto)
		ev = append(ev, photos(v[3].(int), contracts.EvidenceScreenshot)...)
		return Input{
			ReportType:        v[0].(string),
			Contract:          doc,
			Evidence:          ev,
			RuleWarnings:      v[4].([]string),
			RequireFieldLinks: v[5].(bool),
		}
	})
}

// Property: Evaluate(x) == Evaluate(x)
func TestEvaluateIsDeterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("identical input yields identical readiness", prop.ForAll(
		func(in Input) bool {
			return reflect.DeepEqual(Evaluate(in), Evaluate(in))
		},
		genInput(),
	))

	properties.TestingRun(t)
}

// Property: score == 100 <=> no missing fields and no missing evidence
func TestScoreLaw(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("score is 100 exactly when nothing is missing", prop.ForAll(
		func(in Input) bool {
			res := Evaluate(in)
			complete := len(res.MissingFields) == 0 && len(res.MissingEvidence) == 0
			return (res.CompletenessScore == 100) == complete &&
				res.CompletenessScore >= 0 && res.CompletenessScore <= 100
		},
		genInput(),
	))

	properties.Property("adding evidence never lowers the score", prop.ForAll(
		func(in Input, extra int) bool {
			more := in
			more.Evidence = append(append([]contracts.EvidenceItem{}, in.Evidence...), photos(extra, contracts.EvidencePhoto)...)
			return Evaluate(more).CompletenessScore >= Evaluate(in).CompletenessScore
		},
		genInput(),
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}
