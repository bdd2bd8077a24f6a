// Package intent implements the intent ledger: the append-once-until-
// triggered record of a principal's plan. A living principal may refine
// the record freely — capture fully replaces it — but the moment either
// terminal flag (revoked, triggered) is set the record freezes against
// every further mutation, permanently.
package intent

import (
	"context"
	"sync"
	"time"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/authority"
	"github.com/covenantlabs/covenant/pkg/clock"
	"github.com/covenantlabs/covenant/pkg/fault"
	"github.com/covenantlabs/covenant/pkg/policy"
)

const (
	// MinWindowYears and MaxWindowYears bound the corpus window width.
	MinWindowYears = 5
	MaxWindowYears = 10

	// MaxAssets bounds the asset reference list.
	MaxAssets = 100

	// MaxGoals bounds the number of goals per record.
	MaxGoals = 50
)

// Goal is one prioritized objective within a captured intent.
type Goal struct {
	Description      string    `json:"description"`
	ConstraintDigest string    `json:"constraint_digest"`
	ConstraintExpr   string    `json:"constraint_expr,omitempty"`
	Priority         int       `json:"priority"` // 1..100
	AddedAt          time.Time `json:"added_at"`
}

// Record is a principal's captured intent.
type Record struct {
	Principal    string    `json:"principal"`
	IntentDigest string    `json:"intent_digest"`
	CorpusDigest string    `json:"corpus_digest"`
	CorpusURI    string    `json:"corpus_uri"`
	AssetRefs    []string  `json:"asset_refs"`
	WindowStart  int       `json:"window_start"` // year, inclusive
	WindowEnd    int       `json:"window_end"`   // year, inclusive
	CreatedAt    time.Time `json:"created_at"`
	Goals        []Goal    `json:"goals,omitempty"`

	// Version increments on every capture. SignedVersions records
	// which versions the principal countersigned.
	Version        int               `json:"version"`
	SignedVersions map[int]time.Time `json:"signed_versions,omitempty"`

	// Terminal flags. Mutually exclusive; setting either freezes the
	// record forever.
	Revoked   bool `json:"revoked"`
	Triggered bool `json:"triggered"`
}

// Ledger holds one Record per principal. All operations are serialized:
// each either completes in full or leaves no observable change.
type Ledger struct {
	mu      sync.Mutex
	records map[string]*Record
	caps    *authority.Table
	log     *audit.Log
	clock   clock.Clock
}

// NewLedger creates an empty intent ledger.
func NewLedger(caps *authority.Table, log *audit.Log, c clock.Clock) *Ledger {
	if c == nil {
		c = clock.System()
	}
	return &Ledger{
		records: make(map[string]*Record),
		caps:    caps,
		log:     log,
		clock:   c,
	}
}

// Capture records (or pre-trigger, replaces) a principal's intent.
// Replacement discards previously added goals and version signatures:
// the new capture is a new version of the whole plan.
func (l *Ledger) Capture(ctx context.Context, principal, intentDigest, corpusDigest, corpusURI string, assetRefs []string, windowStart, windowEnd int) error {
	const op = "intent.Capture"

	if principal == "" {
		return fault.Preconditionf(op, "empty principal")
	}
	if intentDigest == "" || corpusDigest == "" {
		return fault.Preconditionf(op, "intent and corpus digests are required")
	}
	if windowEnd <= windowStart {
		return fault.Preconditionf(op, "corpus window end %d must exceed start %d", windowEnd, windowStart)
	}
	if width := windowEnd - windowStart; width < MinWindowYears || width > MaxWindowYears {
		return fault.Preconditionf(op, "corpus window width %d outside [%d, %d] years", width, MinWindowYears, MaxWindowYears)
	}
	if len(assetRefs) == 0 {
		return fault.Preconditionf(op, "asset list is empty")
	}
	if len(assetRefs) > MaxAssets {
		return fault.Preconditionf(op, "asset list exceeds cap of %d", MaxAssets)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	version := 1
	if prev, ok := l.records[principal]; ok {
		if err := frozen(op, prev); err != nil {
			return err
		}
		version = prev.Version + 1
	}

	l.records[principal] = &Record{
		Principal:      principal,
		IntentDigest:   intentDigest,
		CorpusDigest:   corpusDigest,
		CorpusURI:      corpusURI,
		AssetRefs:      append([]string(nil), assetRefs...),
		WindowStart:    windowStart,
		WindowEnd:      windowEnd,
		CreatedAt:      l.clock.Now(),
		Version:        version,
		SignedVersions: make(map[int]time.Time),
	}

	_, err := l.log.Append(ctx, audit.EventIntentCaptured, principal, intentDigest, 0, map[string]any{
		"corpus_digest": corpusDigest,
		"version":       version,
		"window_start":  windowStart,
		"window_end":    windowEnd,
		"assets":        len(assetRefs),
	})
	return err
}

// AddGoal appends a prioritized goal to a captured, unfrozen record.
// A non-empty constraint expression must compile; compilation failures
// are rejected here rather than deferred to execution time.
func (l *Ledger) AddGoal(ctx context.Context, principal, description, constraintDigest, constraintExpr string, priority int) error {
	const op = "intent.AddGoal"

	if description == "" {
		return fault.Preconditionf(op, "empty goal description")
	}
	if priority < 1 || priority > 100 {
		return fault.Preconditionf(op, "priority %d outside [1, 100]", priority)
	}
	if constraintExpr != "" {
		if _, err := policy.CompileConstraint(constraintExpr); err != nil {
			return fault.Preconditionf(op, "constraint does not compile: %v", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.living(op, principal)
	if err != nil {
		return err
	}
	if len(rec.Goals) >= MaxGoals {
		return fault.Preconditionf(op, "goal count at cap of %d", MaxGoals)
	}

	rec.Goals = append(rec.Goals, Goal{
		Description:      description,
		ConstraintDigest: constraintDigest,
		ConstraintExpr:   constraintExpr,
		Priority:         priority,
		AddedAt:          l.clock.Now(),
	})

	_, err = l.log.Append(ctx, audit.EventGoalAdded, principal, constraintDigest, 0, map[string]any{
		"priority": priority,
		"goals":    len(rec.Goals),
	})
	return err
}

// SignVersion countersigns the current version of the record.
func (l *Ledger) SignVersion(ctx context.Context, principal string, version int) error {
	const op = "intent.SignVersion"

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.living(op, principal)
	if err != nil {
		return err
	}
	if version != rec.Version {
		return fault.Preconditionf(op, "version %d is not current (current %d)", version, rec.Version)
	}
	if _, dup := rec.SignedVersions[version]; dup {
		return fault.Preconditionf(op, "version %d already signed", version)
	}
	rec.SignedVersions[version] = l.clock.Now()

	_, err = l.log.Append(ctx, audit.EventVersionSigned, principal, rec.IntentDigest, 0, map[string]any{
		"version": version,
	})
	return err
}

// Revoke permanently withdraws a captured intent. One-way; impossible
// once triggered.
func (l *Ledger) Revoke(ctx context.Context, principal string) error {
	const op = "intent.Revoke"

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.living(op, principal)
	if err != nil {
		return err
	}
	rec.Revoked = true

	_, err = l.log.Append(ctx, audit.EventIntentRevoked, principal, rec.IntentDigest, 0, nil)
	return err
}

// Trigger sets the triggered flag, irreversibly. Callable only by an
// identity holding the trigger capability (the registered coordinator).
func (l *Ledger) Trigger(ctx context.Context, caller, principal string) error {
	const op = "intent.Trigger"

	if err := l.caps.Require(op, authority.OpTrigger, caller); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, err := l.living(op, principal)
	if err != nil {
		return err
	}
	rec.Triggered = true

	_, err = l.log.Append(ctx, audit.EventIntentTriggered, principal, rec.IntentDigest, 0, map[string]any{
		"version": rec.Version,
	})
	return err
}

// Get returns a copy of the principal's record.
func (l *Ledger) Get(principal string) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[principal]
	if !ok {
		return Record{}, fault.NotFoundf("intent.Get", "no intent captured for %q", principal)
	}
	return copyRecord(rec), nil
}

// IsTriggered reports whether the principal's intent has triggered.
func (l *Ledger) IsTriggered(principal string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[principal]
	return ok && rec.Triggered
}

// living returns the caller's record if it exists and neither terminal
// flag is set. Must be called with mu held.
func (l *Ledger) living(op, principal string) (*Record, error) {
	rec, ok := l.records[principal]
	if !ok {
		return nil, fault.Preconditionf(op, "no intent captured for %q", principal)
	}
	if rec.Triggered {
		return nil, fault.Preconditionf(op, "intent for %q already triggered; record is frozen", principal)
	}
	if rec.Revoked {
		return nil, fault.Preconditionf(op, "intent for %q revoked; record is frozen", principal)
	}
	return rec, nil
}

// frozen rejects capture over a terminal record. Must be called with mu
// held.
func frozen(op string, rec *Record) error {
	if rec.Triggered {
		return fault.Preconditionf(op, "intent for %q already triggered; record is frozen", rec.Principal)
	}
	if rec.Revoked {
		return fault.Preconditionf(op, "intent for %q revoked; record is frozen", rec.Principal)
	}
	return nil
}

func copyRecord(rec *Record) Record {
	out := *rec
	out.AssetRefs = append([]string(nil), rec.AssetRefs...)
	out.Goals = append([]Goal(nil), rec.Goals...)
	out.SignedVersions = make(map[int]time.Time, len(rec.SignedVersions))
	for k, v := range rec.SignedVersions {
		out.SignedVersions[k] = v
	}
	return out
}
