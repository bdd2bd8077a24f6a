package resolution

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/authority"
	"github.com/covenantlabs/covenant/pkg/clock"
	"github.com/covenantlabs/covenant/pkg/fault"
)

const (
	indexer      = "svc:indexer"
	testDigest   = "corpus-digest-1"
	testPrincipl = "alice"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	c := clock.NewFixed(time.Date(2031, 3, 1, 0, 0, 0, 0, time.UTC))
	log := audit.NewLog(c)
	caps := authority.NewTable()
	caps.Grant(authority.OpIndex, indexer)
	return NewEngine(NewMemoryCache(), caps, log, c)
}

func freeze(t *testing.T, e *Engine) {
	t.Helper()
	err := e.FreezeCorpus(context.Background(), testPrincipl, testDigest, "file://corpus.tar", 2020, 2025)
	require.NoError(t, err)
}

func TestFreezeCorpusIsOneWay(t *testing.T) {
	e := newTestEngine(t)
	freeze(t, e)

	err := e.FreezeCorpus(context.Background(), testPrincipl, "other-digest", "", 2020, 2025)
	require.Error(t, err)
	assert.True(t, fault.IsPrecondition(err))

	rec, err := e.Corpus(testPrincipl)
	require.NoError(t, err)
	assert.Equal(t, testDigest, rec.Digest)
	assert.True(t, rec.Frozen)
}

func TestCreateIndexRequiresFrozenCorpusAndCapability(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.CreateIndex(ctx, indexer, testPrincipl, "royalties", []string{"cite-1"}, []int{90})
	require.Error(t, err, "unfrozen corpus must reject indexing")

	freeze(t, e)

	err = e.CreateIndex(ctx, "mallory", testPrincipl, "royalties", []string{"cite-1"}, []int{90})
	require.Error(t, err)
	assert.True(t, fault.IsPrecondition(err))

	err = e.CreateIndex(ctx, indexer, testPrincipl, "royalties", []string{"cite-1"}, []int{90})
	require.NoError(t, err)
}

func TestResolveDigestMismatchHardFails(t *testing.T) {
	e := newTestEngine(t)
	freeze(t, e)

	_, err := e.Resolve(context.Background(), testPrincipl, "anything", "stale-digest")
	require.Error(t, err)
	assert.True(t, fault.IsPrecondition(err))
}

func TestResolveUnknownQueryIsEmptyAnswerNotError(t *testing.T) {
	e := newTestEngine(t)
	freeze(t, e)

	hit, err := e.Resolve(context.Background(), testPrincipl, "never indexed", testDigest)
	require.NoError(t, err)
	assert.Empty(t, hit.Citation)
	assert.Zero(t, hit.Confidence)
}

func TestResolveFromIndex(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	freeze(t, e)

	require.NoError(t, e.CreateIndex(ctx, indexer, testPrincipl, "royalties",
		[]string{"cite-low", "cite-high"}, []int{40, 96}))

	hit, err := e.Resolve(ctx, testPrincipl, "royalties", testDigest)
	require.NoError(t, err)
	assert.Equal(t, "cite-high", hit.Citation)
	assert.Equal(t, 96, hit.Confidence)
}

func TestIndexKeywordNormalization(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	freeze(t, e)

	require.NoError(t, e.CreateIndex(ctx, indexer, testPrincipl, "  Royalties ",
		[]string{"cite-1"}, []int{80}))

	hit, err := e.Resolve(ctx, testPrincipl, "royalties", testDigest)
	require.NoError(t, err)
	assert.Equal(t, "cite-1", hit.Citation)
}

func TestCacheWinsOverIndex(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	freeze(t, e)

	require.NoError(t, e.CreateIndex(ctx, indexer, testPrincipl, "royalties",
		[]string{"cite-index"}, []int{99}))
	require.NoError(t, e.SubmitResolution(ctx, indexer, testPrincipl, "royalties",
		[]string{"cite-cache"}, []int{70}))

	hit, err := e.Resolve(ctx, testPrincipl, "royalties", testDigest)
	require.NoError(t, err)
	assert.Equal(t, "cite-cache", hit.Citation, "cached resolution overrides the index")
	assert.Equal(t, 70, hit.Confidence)
}

func TestSubmitResolutionRequiresDescendingConfidences(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	freeze(t, e)

	err := e.SubmitResolution(ctx, indexer, testPrincipl, "q",
		[]string{"a", "b"}, []int{50, 90})
	require.Error(t, err)
	assert.True(t, fault.IsPrecondition(err))

	require.NoError(t, e.SubmitResolution(ctx, indexer, testPrincipl, "q",
		[]string{"a", "b"}, []int{90, 50}))
}

func TestSubmitResolutionValidatesScores(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	freeze(t, e)

	require.Error(t, e.SubmitResolution(ctx, indexer, testPrincipl, "q", nil, nil))
	require.Error(t, e.SubmitResolution(ctx, indexer, testPrincipl, "q",
		[]string{"a"}, []int{101}))
	require.Error(t, e.SubmitResolution(ctx, indexer, testPrincipl, "q",
		[]string{"a"}, []int{-1}))
	require.Error(t, e.SubmitResolution(ctx, indexer, testPrincipl, "q",
		[]string{"a", "b"}, []int{90}))
}

func TestResolveTopKOrderingAndBounds(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	freeze(t, e)

	require.NoError(t, e.SubmitResolution(ctx, indexer, testPrincipl, "q",
		[]string{"a", "b", "c", "d"}, []int{97, 97, 80, 12}))

	_, err := e.ResolveTopK(ctx, testPrincipl, "q", testDigest, 0)
	require.Error(t, err)
	_, err = e.ResolveTopK(ctx, testPrincipl, "q", testDigest, MaxTopK+1)
	require.Error(t, err)

	hits, err := e.ResolveTopK(ctx, testPrincipl, "q", testDigest, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "a", hits[0].Citation, "ties keep first-seen order")
	assert.Equal(t, "b", hits[1].Citation)
	assert.Equal(t, "c", hits[2].Citation)

	hits, err = e.ResolveTopK(ctx, testPrincipl, "q", testDigest, MaxTopK)
	require.NoError(t, err)
	assert.Len(t, hits, 4, "k beyond available hits returns all")
}

func TestSubmitResolutionBatchAllOrNothing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	freeze(t, e)

	batch := []BatchSubmission{
		{Query: "good", Citations: []string{"a"}, Confidences: []int{90}},
		{Query: "bad", Citations: []string{"b"}, Confidences: []int{200}},
	}
	err := e.SubmitResolutionBatch(ctx, indexer, testPrincipl, batch)
	require.Error(t, err)

	hit, err := e.Resolve(ctx, testPrincipl, "good", testDigest)
	require.NoError(t, err)
	assert.Empty(t, hit.Citation, "failed batch must write nothing")
}

func TestResolveBatchPositional(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	freeze(t, e)

	require.NoError(t, e.SubmitResolution(ctx, indexer, testPrincipl, "first",
		[]string{"cite-1"}, []int{96}))

	hits, err := e.ResolveBatch(ctx, testPrincipl, []string{"first", "missing"}, testDigest)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "cite-1", hits[0].Citation)
	assert.Empty(t, hits[1].Citation)
}

func TestResolveToleratesMismatchedCacheRow(t *testing.T) {
	c := clock.NewFixed(time.Date(2031, 3, 1, 0, 0, 0, 0, time.UTC))
	caps := authority.NewTable()
	caps.Grant(authority.OpIndex, indexer)
	cache := NewMemoryCache()
	e := NewEngine(cache, caps, audit.NewLog(c), c)
	freeze(t, e)

	// A row written behind the engine's back (an out-of-band cache
	// edit) can carry mismatched slice lengths. The read path clamps
	// instead of indexing past the shorter slice.
	err := cache.Put(context.Background(), testPrincipl, "tampered", CacheEntry{
		Citations:   []string{"cite-1", "cite-2", "cite-3"},
		Confidences: []int{97},
	})
	require.NoError(t, err)

	hit, err := e.Resolve(context.Background(), testPrincipl, "tampered", testDigest)
	require.NoError(t, err)
	assert.Equal(t, "cite-1", hit.Citation)
	assert.Equal(t, 97, hit.Confidence)

	hits, err := e.ResolveTopK(context.Background(), testPrincipl, "tampered", testDigest, 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}
