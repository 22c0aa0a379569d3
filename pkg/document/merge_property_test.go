package document

import (
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genTree() gopter.Gen {
	return gopter.CombineGens(
		gen.MapOf(gen.Identifier(), gen.AlphaString()),
		gen.MapOf(gen.Identifier(), gen.Float64Range(-1e6, 1e6)),
		gen.Identifier(),
	).Map(func(v []any) Tree {
		t := Tree{}
		for k, s := range v[0].(map[string]string) {
			t[k] = s
		}
		nested := map[string]any{}
		for k, f := range v[1].(map[string]float64) {
			nested[k] = f
		}
		t[v[2].(string)] = nested
		return t
	})
}

// Property: Merge(Merge(b, p), p) == Merge(b, p) and Merge(b, {}) == b
func TestMergeIdempotency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("empty patch leaves content unchanged", prop.ForAll(
		func(base Tree) bool {
			return reflect.DeepEqual(Merge(base, Tree{}), base)
		},
		genTree(),
	))

	properties.Property("re-applying a patch is a no-op", prop.ForAll(
		func(base, patch Tree) bool {
			once := Merge(base, patch)
			return reflect.DeepEqual(Merge(once, patch), once)
		},
		genTree(),
		genTree(),
	))

	properties.TestingRun(t)
}
