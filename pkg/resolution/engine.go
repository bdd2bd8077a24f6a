// Package resolution answers ambiguity queries against a frozen,
// hash-committed corpus. The engine is strictly advisory: it holds no
// reference to execution state and nothing it returns causes a side
// effect by itself. The actual semantic intelligence lives in an
// external resolver that pushes ranked entries in; the engine only
// verifies, ranks, and serves what it is given.
package resolution

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/authority"
	"github.com/covenantlabs/covenant/pkg/clock"
	"github.com/covenantlabs/covenant/pkg/fault"
)

const (
	// MaxTopK bounds the k accepted by ResolveTopK.
	MaxTopK = 10

	// MaxCitations bounds citations per index entry or cache entry.
	MaxCitations = 20

	// MaxBatch bounds query lists accepted by the batch operations.
	MaxBatch = 50
)

// Hit is one ranked answer.
type Hit struct {
	Citation   string `json:"citation"`
	Confidence int    `json:"confidence"` // 0..100
}

// CorpusRecord is the frozen corpus commitment for a principal.
type CorpusRecord struct {
	Digest      string    `json:"digest"`
	StorageURI  string    `json:"storage_uri"`
	WindowStart int       `json:"window_start"`
	WindowEnd   int       `json:"window_end"`
	Frozen      bool      `json:"frozen"`
	FrozenAt    time.Time `json:"frozen_at"`
}

// Engine holds corpus commitments, the keyword index, and the
// resolution cache.
type Engine struct {
	mu      sync.Mutex
	corpora map[string]*CorpusRecord
	index   map[string]map[string][]Hit // principal -> keyword -> ranked hits
	cache   Cache
	caps    *authority.Table
	log     *audit.Log
	clock   clock.Clock
}

// NewEngine creates a resolution engine over the given cache. A nil
// cache gets an in-memory one.
func NewEngine(cache Cache, caps *authority.Table, log *audit.Log, c clock.Clock) *Engine {
	if cache == nil {
		cache = NewMemoryCache()
	}
	if c == nil {
		c = clock.System()
	}
	return &Engine{
		corpora: make(map[string]*CorpusRecord),
		index:   make(map[string]map[string][]Hit),
		cache:   cache,
		caps:    caps,
		log:     log,
		clock:   c,
	}
}

// FreezeCorpus commits a principal's corpus digest. One-way: once
// frozen, the digest and window never change.
func (e *Engine) FreezeCorpus(ctx context.Context, principal, digest, uri string, windowStart, windowEnd int) error {
	const op = "resolution.FreezeCorpus"

	if principal == "" || digest == "" {
		return fault.Preconditionf(op, "principal and digest are required")
	}
	if windowEnd <= windowStart {
		return fault.Preconditionf(op, "window end %d must exceed start %d", windowEnd, windowStart)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if rec, ok := e.corpora[principal]; ok && rec.Frozen {
		return fault.Preconditionf(op, "corpus for %q already frozen", principal)
	}
	e.corpora[principal] = &CorpusRecord{
		Digest:      digest,
		StorageURI:  uri,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Frozen:      true,
		FrozenAt:    e.clock.Now(),
	}

	_, err := e.log.Append(ctx, audit.EventCorpusFrozen, principal, digest, 0, map[string]any{
		"uri":          uri,
		"window_start": windowStart,
		"window_end":   windowEnd,
	})
	return err
}

// Corpus returns the principal's corpus record.
func (e *Engine) Corpus(principal string) (CorpusRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, ok := e.corpora[principal]
	if !ok {
		return CorpusRecord{}, fault.NotFoundf("resolution.Corpus", "no corpus for %q", principal)
	}
	return *rec, nil
}

// CreateIndex writes one keyword's ranked citations. Requires a frozen
// corpus and the indexer capability; last write wins per keyword.
func (e *Engine) CreateIndex(ctx context.Context, caller, principal, keyword string, citations []string, scores []int) error {
	const op = "resolution.CreateIndex"

	if err := e.caps.Require(op, authority.OpIndex, caller); err != nil {
		return err
	}
	if keyword == "" {
		return fault.Preconditionf(op, "empty keyword")
	}
	if err := validateRanked(op, citations, scores, false); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec, ok := e.corpora[principal]
	if !ok || !rec.Frozen {
		return fault.Preconditionf(op, "corpus for %q is not frozen", principal)
	}

	hits := make([]Hit, len(citations))
	for i := range citations {
		hits[i] = Hit{Citation: citations[i], Confidence: scores[i]}
	}
	// Rank at write time; stable so equal confidences keep submission
	// order.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Confidence > hits[j].Confidence })

	kw := normalizeKeyword(keyword)
	if e.index[principal] == nil {
		e.index[principal] = make(map[string][]Hit)
	}
	e.index[principal][kw] = hits
	return nil
}

// SubmitResolution populates or overwrites the cache entry for a query.
// Requires the indexer capability. Confidences must arrive descending —
// the resolver is responsible for its own ranking.
func (e *Engine) SubmitResolution(ctx context.Context, caller, principal, query string, citations []string, confidences []int) error {
	const op = "resolution.SubmitResolution"

	if err := e.caps.Require(op, authority.OpIndex, caller); err != nil {
		return err
	}
	if query == "" {
		return fault.Preconditionf(op, "empty query")
	}
	if err := validateRanked(op, citations, confidences, true); err != nil {
		return err
	}

	entry := CacheEntry{
		Citations:   append([]string(nil), citations...),
		Confidences: append([]int(nil), confidences...),
		ResolvedAt:  e.clock.Now(),
	}
	return e.cache.Put(ctx, principal, query, entry)
}

// BatchSubmission is one query's entry in a batch submission.
type BatchSubmission struct {
	Query       string   `json:"query"`
	Citations   []string `json:"citations"`
	Confidences []int    `json:"confidences"`
}

// SubmitResolutionBatch applies SubmitResolution over a bounded list.
// Validation runs before any write so a bad element rejects the whole
// batch with nothing applied.
func (e *Engine) SubmitResolutionBatch(ctx context.Context, caller, principal string, batch []BatchSubmission) error {
	const op = "resolution.SubmitResolutionBatch"

	if err := e.caps.Require(op, authority.OpIndex, caller); err != nil {
		return err
	}
	if len(batch) == 0 || len(batch) > MaxBatch {
		return fault.Preconditionf(op, "batch size %d outside [1, %d]", len(batch), MaxBatch)
	}
	for _, b := range batch {
		if b.Query == "" {
			return fault.Preconditionf(op, "empty query in batch")
		}
		if err := validateRanked(op, b.Citations, b.Confidences, true); err != nil {
			return err
		}
	}
	now := e.clock.Now()
	for _, b := range batch {
		entry := CacheEntry{
			Citations:   append([]string(nil), b.Citations...),
			Confidences: append([]int(nil), b.Confidences...),
			ResolvedAt:  now,
		}
		if err := e.cache.Put(ctx, principal, b.Query, entry); err != nil {
			return err
		}
	}
	return nil
}

// Resolve answers a single query with the top-ranked citation.
// expectedCorpusDigest must equal the frozen digest — resolving against
// a stale corpus is a hard failure, never a silent answer. Absence of
// both a cached entry and an index entry returns an empty citation with
// confidence 0: "cannot resolve" is an answer, not an error.
func (e *Engine) Resolve(ctx context.Context, principal, query, expectedCorpusDigest string) (Hit, error) {
	hits, err := e.rank(ctx, "resolution.Resolve", principal, query, expectedCorpusDigest)
	if err != nil {
		return Hit{}, err
	}
	if len(hits) == 0 {
		return Hit{}, nil
	}
	return hits[0], nil
}

// ResolveTopK returns up to k hits, confidence-descending, ties in
// first-seen order.
func (e *Engine) ResolveTopK(ctx context.Context, principal, query, expectedCorpusDigest string, k int) ([]Hit, error) {
	const op = "resolution.ResolveTopK"
	if k < 1 || k > MaxTopK {
		return nil, fault.Preconditionf(op, "k %d outside [1, %d]", k, MaxTopK)
	}
	hits, err := e.rank(ctx, op, principal, query, expectedCorpusDigest)
	if err != nil {
		return nil, err
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// ResolveBatch applies Resolve over a bounded query list; results are
// positional.
func (e *Engine) ResolveBatch(ctx context.Context, principal string, queries []string, expectedCorpusDigest string) ([]Hit, error) {
	const op = "resolution.ResolveBatch"
	if len(queries) == 0 || len(queries) > MaxBatch {
		return nil, fault.Preconditionf(op, "batch size %d outside [1, %d]", len(queries), MaxBatch)
	}
	out := make([]Hit, len(queries))
	for i, q := range queries {
		h, err := e.Resolve(ctx, principal, q, expectedCorpusDigest)
		if err != nil {
			return nil, err
		}
		out[i] = h
	}
	return out, nil
}

// rank verifies the corpus digest and returns the ranked hits for a
// query. A cached resolution always wins over the keyword index for the
// same query, so an external resolver can override a coarse index entry
// without deleting it.
func (e *Engine) rank(ctx context.Context, op, principal, query, expectedCorpusDigest string) ([]Hit, error) {
	e.mu.Lock()
	rec, ok := e.corpora[principal]
	if !ok {
		e.mu.Unlock()
		return nil, fault.Preconditionf(op, "no corpus for %q", principal)
	}
	if rec.Digest != expectedCorpusDigest {
		e.mu.Unlock()
		return nil, fault.Preconditionf(op, "corpus digest mismatch for %q: resolution refused against stale corpus", principal)
	}
	indexed := e.index[principal][normalizeKeyword(query)]
	e.mu.Unlock()

	entry, cached, err := e.cache.Get(ctx, principal, query)
	if err != nil {
		return nil, err
	}
	if cached {
		// A tampered cache row can carry mismatched slice lengths;
		// clamp so the read path never indexes past either.
		n := len(entry.Citations)
		if len(entry.Confidences) < n {
			n = len(entry.Confidences)
		}
		hits := make([]Hit, n)
		for i := 0; i < n; i++ {
			hits[i] = Hit{Citation: entry.Citations[i], Confidence: entry.Confidences[i]}
		}
		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Confidence > hits[j].Confidence })
		return hits, nil
	}

	out := make([]Hit, len(indexed))
	copy(out, indexed)
	return out, nil
}

// validateRanked checks the shared invariants on a ranked citation set.
func validateRanked(op string, citations []string, scores []int, requireDescending bool) error {
	if len(citations) == 0 {
		return fault.Preconditionf(op, "empty citation list")
	}
	if len(citations) > MaxCitations {
		return fault.Preconditionf(op, "citation count %d exceeds cap of %d", len(citations), MaxCitations)
	}
	if len(citations) != len(scores) {
		return fault.Preconditionf(op, "citation/score length mismatch: %d vs %d", len(citations), len(scores))
	}
	for i, s := range scores {
		if s < 0 || s > 100 {
			return fault.Preconditionf(op, "score %d at position %d outside [0, 100]", s, i)
		}
		if requireDescending && i > 0 && s > scores[i-1] {
			return fault.Preconditionf(op, "confidences must be descending: position %d rises", i)
		}
	}
	return nil
}

// normalizeKeyword folds a keyword to NFC lowercase so byte-different
// encodings of the same keyword share one index slot.
func normalizeKeyword(kw string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(kw)))
}
