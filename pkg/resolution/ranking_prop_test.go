package resolution

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/authority"
	"github.com/covenantlabs/covenant/pkg/clock"
)

// Ranked results must always come back confidence-descending with ties
// in first-seen order, for any valid score set the indexer writes.
func TestIndexRankingProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	properties.Property("resolveTopK is confidence-descending", prop.ForAll(
		func(scores []int) bool {
			e := propEngine(t)
			ctx := context.Background()

			citations := make([]string, len(scores))
			for i := range scores {
				citations[i] = fmt.Sprintf("cite-%d", i)
			}
			if err := e.CreateIndex(ctx, indexer, testPrincipl, "q", citations, scores); err != nil {
				return false
			}

			k := len(scores)
			if k > MaxTopK {
				k = MaxTopK
			}
			hits, err := e.ResolveTopK(ctx, testPrincipl, "q", testDigest, k)
			if err != nil {
				return false
			}
			return sort.SliceIsSorted(hits, func(i, j int) bool {
				return hits[i].Confidence > hits[j].Confidence
			})
		},
		gen.SliceOfN(8, gen.IntRange(0, 100)),
	))

	properties.Property("equal confidences keep submission order", prop.ForAll(
		func(score int, n int) bool {
			e := propEngine(t)
			ctx := context.Background()

			citations := make([]string, n)
			scores := make([]int, n)
			for i := range citations {
				citations[i] = fmt.Sprintf("cite-%d", i)
				scores[i] = score
			}
			if err := e.CreateIndex(ctx, indexer, testPrincipl, "q", citations, scores); err != nil {
				return false
			}
			hits, err := e.ResolveTopK(ctx, testPrincipl, "q", testDigest, MaxTopK)
			if err != nil {
				return false
			}
			for i, h := range hits {
				if h.Citation != citations[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 100),
		gen.IntRange(1, MaxTopK),
	))

	properties.TestingRun(t)
}

func propEngine(t *testing.T) *Engine {
	t.Helper()
	c := clock.NewFixed(time.Date(2031, 3, 1, 0, 0, 0, 0, time.UTC))
	caps := authority.NewTable()
	caps.Grant(authority.OpIndex, indexer)
	e := NewEngine(NewMemoryCache(), caps, audit.NewLog(c), c)
	if err := e.FreezeCorpus(context.Background(), testPrincipl, testDigest, "", 2020, 2025); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	return e
}
