package catalog

import (
	"reflect"
	"sort"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func setOf(codes ...string) map[string]struct{} {
	return toSet(codes)
}

func TestDiff(t *testing.T) {
	result := Diff([]string{"A1", "A3", "A2", "A3"}, setOf("A1", "A2", "A9"))

	if !reflect.DeepEqual(result.New, []string{"A3"}) {
		t.Errorf("New = %v, want [A3]", result.New)
	}
	if !reflect.DeepEqual(result.Stale, []string{"A9"}) {
		t.Errorf("Stale = %v, want [A9]", result.Stale)
	}
}

func TestDiffColdStart(t *testing.T) {
	persisted := setOf()
	if !IsColdStart(persisted) {
		t.Fatal("empty baseline should be a cold start")
	}

	result := Diff([]string{"A2", "A1"}, persisted)
	if !reflect.DeepEqual(result.New, []string{"A1", "A2"}) {
		t.Errorf("New = %v", result.New)
	}
	if len(result.Stale) != 0 {
		t.Errorf("Stale = %v, want empty", result.Stale)
	}
	if IsColdStart(setOf("A1")) {
		t.Error("non-empty baseline is not a cold start")
	}
}

func TestDiffEmptyFetch(t *testing.T) {
	result := Diff(nil, setOf("A1", "A2"))
	if len(result.New) != 0 || !reflect.DeepEqual(result.Stale, []string{"A1", "A2"}) {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestDiffProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	code := gen.IntRange(0, 20).Map(func(i int) string { return string(rune('a'+i)) + "01" })

	properties.Property("New and persisted are disjoint and cover fetched", prop.ForAll(
		func(fetched, persisted []string) bool {
			p := toSet(persisted)
			result := Diff(fetched, p)

			newSet := toSet(result.New)
			for c := range newSet {
				if _, ok := p[c]; ok {
					return false
				}
			}
			for _, c := range fetched {
				_, inNew := newSet[c]
				_, inPersisted := p[c]
				if !inNew && !inPersisted {
					return false
				}
			}
			return sort.StringsAreSorted(result.New) && sort.StringsAreSorted(result.Stale)
		},
		gen.SliceOf(code),
		gen.SliceOf(code),
	))

	properties.Property("after persisting New the next diff is empty", prop.ForAll(
		func(fetched, persisted []string) bool {
			p := toSet(persisted)
			first := Diff(fetched, p)
			for _, c := range first.New {
				p[c] = struct{}{}
			}
			return len(Diff(fetched, p).New) == 0
		},
		gen.SliceOf(code),
		gen.SliceOf(code),
	))

	properties.Property("order of fetched does not change the result", prop.ForAll(
		func(fetched, persisted []string) bool {
			reversed := make([]string, len(fetched))
			for i, c := range fetched {
				reversed[len(fetched)-1-i] = c
			}
			p := toSet(persisted)
			return reflect.DeepEqual(Diff(fetched, p), Diff(reversed, p))
		},
		gen.SliceOf(code),
		gen.SliceOf(code),
	))

	properties.TestingRun(t, gopter.ConsoleReporter(false))
}
