// Package execution implements the gated execution engine. Once a
// principal's intent has triggered, the engine activates exactly once,
// runs every proposed action through the prohibited-action filter, the
// goal constraints, and the confidence gate, and permanently freezes
// itself after a fixed duration. Ambiguity never executes: any action
// the resolution engine cannot back with confidence at or above the
// threshold defaults to inaction, and that default is a recorded
// success, not an error.
package execution

import (
	"context"
	"sync"
	"time"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/authority"
	"github.com/covenantlabs/covenant/pkg/canonical"
	"github.com/covenantlabs/covenant/pkg/clock"
	"github.com/covenantlabs/covenant/pkg/fault"
	"github.com/covenantlabs/covenant/pkg/intent"
	"github.com/covenantlabs/covenant/pkg/policy"
	"github.com/covenantlabs/covenant/pkg/resolution"
	"github.com/covenantlabs/covenant/pkg/treasury"
)

const (
	// Threshold is the minimum resolution confidence that executes.
	// The boundary value executes; one below defaults to inaction.
	// Fixed — not configurable per instance.
	Threshold = 95

	// FixedDuration is the hard execution window measured from
	// activation. Global constant, never per-principal.
	FixedDuration = 5 * 365 * 24 * time.Hour

	// RecoveryCooldown must elapse beyond sunset before emergency
	// fund recovery is permitted.
	RecoveryCooldown = 180 * 24 * time.Hour

	// PublicDomainAfter is the interval from activation after which
	// licensed assets transition to the public domain.
	PublicDomainAfter = 20 * 365 * 24 * time.Hour

	// MaxActionLen bounds proposed action text.
	MaxActionLen = 1000
)

// Outcome distinguishes an executed action from a deliberate default to
// inaction.
type Outcome string

const (
	OutcomeExecuted Outcome = "EXECUTED"
	OutcomeInaction Outcome = "INACTION_DEFAULT"
)

// Decision is the result of a gated proposal.
type Decision struct {
	Outcome        Outcome `json:"outcome"`
	Citation       string  `json:"citation,omitempty"`
	Confidence     int     `json:"confidence"`
	DecisionDigest string  `json:"decision_digest,omitempty"`
	Reason         string  `json:"reason,omitempty"`

	// Moved is the net treasury debit the decision caused, in minor
	// units. Zero for proposals that move no funds.
	Moved int64 `json:"moved,omitempty"`
}

// LogEntry is one executed action. Entries are append-only and never
// mutated or deleted.
type LogEntry struct {
	Action         string    `json:"action"`
	Citation       string    `json:"citation"`
	Confidence     int       `json:"confidence"`
	Timestamp      time.Time `json:"timestamp"`
	DecisionDigest string    `json:"decision_digest"`
}

// RoyaltyRecipient is one share of revenue distributions.
type RoyaltyRecipient struct {
	Recipient string `json:"recipient"`
	Bps       int    `json:"bps"` // basis points of each distribution
}

// state is one principal's execution state.
type state struct {
	activatedAt time.Time
	sunset      bool
	sunsetAt    time.Time
	log         []LogEntry
	licenses    []License
	projects    []FundedProject
	royalties   []RoyaltyRecipient
	recovered   bool
}

// State is a read-only snapshot.
type State struct {
	ActivatedAt time.Time          `json:"activated_at,omitzero"`
	Sunset      bool               `json:"sunset"`
	SunsetAt    time.Time          `json:"sunset_at,omitzero"`
	Treasury    int64              `json:"treasury"`
	Log         []LogEntry         `json:"log,omitempty"`
	Licenses    []License          `json:"licenses,omitempty"`
	Projects    []FundedProject    `json:"projects,omitempty"`
	Royalties   []RoyaltyRecipient `json:"royalties,omitempty"`
}

// Engine drives execution state machines for all principals.
type Engine struct {
	mu       sync.Mutex
	states   map[string]*state
	intents  *intent.Ledger
	resolver *resolution.Engine
	filter   *policy.Filter
	treasury *treasury.Treasury
	sink     treasury.Sink
	caps     *authority.Table
	log      *audit.Log
	clock    clock.Clock
}

// NewEngine wires the execution engine. The filter must be non-nil;
// there is no unfiltered mode.
func NewEngine(intents *intent.Ledger, resolver *resolution.Engine, filter *policy.Filter, t *treasury.Treasury, sink treasury.Sink, caps *authority.Table, log *audit.Log, c clock.Clock) *Engine {
	if c == nil {
		c = clock.System()
	}
	return &Engine{
		states:   make(map[string]*state),
		intents:  intents,
		resolver: resolver,
		filter:   filter,
		treasury: t,
		sink:     sink,
		caps:     caps,
		log:      log,
		clock:    c,
	}
}

// Activate transitions the principal to Active, exactly once. The
// upstream intent must already have triggered.
func (e *Engine) Activate(ctx context.Context, caller, principal string) error {
	const op = "execution.Activate"

	if err := e.caps.Require(op, authority.OpActivate, caller); err != nil {
		return err
	}
	if !e.intents.IsTriggered(principal) {
		return fault.Preconditionf(op, "intent for %q has not triggered", principal)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.state(principal)
	if !st.activatedAt.IsZero() {
		return fault.Preconditionf(op, "execution for %q already activated", principal)
	}
	st.activatedAt = e.clock.Now()

	_, err := e.log.Append(ctx, audit.EventExecutionActivated, principal, "", 0, map[string]any{
		"window_ends": st.activatedAt.Add(FixedDuration).Format(time.RFC3339),
	})
	return err
}

// IsActive reports whether execution authority currently exists:
// activated, not sunset, and inside the fixed window.
func (e *Engine) IsActive(principal string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[principal]
	return ok && e.isActive(st)
}

// isActive must be called with mu held.
func (e *Engine) isActive(st *state) bool {
	return !st.activatedAt.IsZero() &&
		!st.sunset &&
		e.clock.Now().Before(st.activatedAt.Add(FixedDuration))
}

// ProposeAction runs the full gate and, on a confident resolution,
// appends the execution log entry. Gate order is fixed: activity,
// length, prohibited-action filter, resolution, goal constraints,
// confidence. The filter precedes resolution — a denylisted term is
// rejected no matter what confidence a resolver would have returned.
func (e *Engine) ProposeAction(ctx context.Context, principal, actionText, query, expectedCorpusDigest string) (Decision, error) {
	const op = "execution.ProposeAction"

	hit, dec, err := e.gate(ctx, op, principal, actionText, query, expectedCorpusDigest)
	if err != nil {
		return Decision{}, err
	}
	if dec.Outcome == OutcomeInaction {
		return dec, nil
	}

	e.mu.Lock()
	st := e.state(principal)
	// Authority may have ended between the gate and here (sunset or
	// window expiry on another goroutine); no entry lands after it does.
	if !e.isActive(st) {
		e.mu.Unlock()
		return Decision{}, fault.Preconditionf(op, "execution for %q ended before the action could land", principal)
	}
	entry := LogEntry{
		Action:         actionText,
		Citation:       hit.Citation,
		Confidence:     hit.Confidence,
		Timestamp:      e.clock.Now(),
		DecisionDigest: dec.DecisionDigest,
	}
	st.log = append(st.log, entry)
	e.mu.Unlock()

	if _, err := e.log.Append(ctx, audit.EventActionExecuted, principal, dec.DecisionDigest, 0, map[string]any{
		"action":     actionText,
		"citation":   hit.Citation,
		"confidence": hit.Confidence,
	}); err != nil {
		return Decision{}, err
	}
	return dec, nil
}

// ActivateSunset permanently terminates execution authority. Callable
// by the sunset coordinator once the fixed duration has elapsed.
func (e *Engine) ActivateSunset(ctx context.Context, caller, principal string) error {
	const op = "execution.ActivateSunset"
	if err := e.caps.Require(op, authority.OpSunset, caller); err != nil {
		return err
	}
	return e.sunsetNow(ctx, op, principal, false)
}

// EmergencySunset is the permissionless path to the same terminal
// state. The elapsed-time baseline comes from the engine's own
// activation timestamp — never from caller input — so timing cannot be
// spoofed.
func (e *Engine) EmergencySunset(ctx context.Context, principal string) error {
	return e.sunsetNow(ctx, "execution.EmergencySunset", principal, true)
}

func (e *Engine) sunsetNow(ctx context.Context, op, principal string, emergency bool) error {
	e.mu.Lock()
	st, ok := e.states[principal]
	if !ok || st.activatedAt.IsZero() {
		e.mu.Unlock()
		return fault.Preconditionf(op, "execution for %q never activated", principal)
	}
	if st.sunset {
		e.mu.Unlock()
		return fault.Preconditionf(op, "execution for %q already sunset", principal)
	}
	if e.clock.Now().Before(st.activatedAt.Add(FixedDuration)) {
		e.mu.Unlock()
		return fault.Preconditionf(op, "fixed duration not elapsed for %q", principal)
	}
	st.sunset = true
	st.sunsetAt = e.clock.Now()
	e.mu.Unlock()

	_, err := e.log.Append(ctx, audit.EventSunsetActivated, principal, "", 0, map[string]any{
		"emergency": emergency,
	})
	return err
}

// Snapshot returns a copy of the principal's execution state.
func (e *Engine) Snapshot(principal string) (State, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[principal]
	if !ok {
		return State{}, fault.NotFoundf("execution.Snapshot", "no execution state for %q", principal)
	}
	return State{
		ActivatedAt: st.activatedAt,
		Sunset:      st.sunset,
		SunsetAt:    st.sunsetAt,
		Treasury:    e.treasury.Balance(principal),
		Log:         append([]LogEntry(nil), st.log...),
		Licenses:    append([]License(nil), st.licenses...),
		Projects:    append([]FundedProject(nil), st.projects...),
		Royalties:   append([]RoyaltyRecipient(nil), st.royalties...),
	}, nil
}

// gate runs every check shy of the side effect and classifies the
// outcome. It returns the winning hit and a Decision; an Outcome of
// OutcomeInaction means the caller must perform no side effect.
func (e *Engine) gate(ctx context.Context, op, principal, actionText, query, expectedCorpusDigest string) (resolution.Hit, Decision, error) {
	e.mu.Lock()
	st, ok := e.states[principal]
	active := ok && e.isActive(st)
	e.mu.Unlock()
	if !active {
		return resolution.Hit{}, Decision{}, fault.Preconditionf(op, "execution for %q is not active", principal)
	}

	if actionText == "" {
		return resolution.Hit{}, Decision{}, fault.Preconditionf(op, "empty action text")
	}
	if len(actionText) > MaxActionLen {
		return resolution.Hit{}, Decision{}, fault.Policyf(op, "action text length %d exceeds %d", len(actionText), MaxActionLen)
	}

	if m, blocked := e.filter.Inspect(actionText); blocked {
		if _, err := e.log.Append(ctx, audit.EventActionBlocked, principal, "", 0, map[string]any{
			"action":   actionText,
			"category": string(m.Category),
			"term":     m.Term,
			"filter":   e.filter.Version(),
		}); err != nil {
			return resolution.Hit{}, Decision{}, err
		}
		return resolution.Hit{}, Decision{}, fault.Policyf(op, "action blocked by prohibited-action filter (%s)", m.Category)
	}

	hit, err := e.resolver.Resolve(ctx, principal, query, expectedCorpusDigest)
	if err != nil {
		return resolution.Hit{}, Decision{}, err
	}

	// Goal constraints are an additional deny gate; evaluation errors
	// and false results both deny. They see the resolved citation and
	// confidence.
	rec, err := e.intents.Get(principal)
	if err != nil {
		return resolution.Hit{}, Decision{}, err
	}
	for _, g := range rec.Goals {
		if g.ConstraintExpr == "" {
			continue
		}
		c, cerr := policy.CompileConstraint(g.ConstraintExpr)
		if cerr != nil || !c.Permits(actionText, hit.Citation, hit.Confidence) {
			if _, aerr := e.log.Append(ctx, audit.EventActionBlocked, principal, g.ConstraintDigest, 0, map[string]any{
				"action":   actionText,
				"category": "GOAL_CONSTRAINT",
				"goal":     g.Description,
			}); aerr != nil {
				return resolution.Hit{}, Decision{}, aerr
			}
			return resolution.Hit{}, Decision{}, fault.Policyf(op, "action denied by goal constraint %q", g.Description)
		}
	}

	if hit.Confidence < Threshold {
		if _, err := e.log.Append(ctx, audit.EventInactionDefault, principal, "", 0, map[string]any{
			"action":     actionText,
			"query":      query,
			"citation":   hit.Citation,
			"confidence": hit.Confidence,
			"threshold":  Threshold,
		}); err != nil {
			return resolution.Hit{}, Decision{}, err
		}
		return hit, Decision{
			Outcome:    OutcomeInaction,
			Citation:   hit.Citation,
			Confidence: hit.Confidence,
			Reason:     "confidence below threshold; defaulted to inaction",
		}, nil
	}

	return hit, Decision{
		Outcome:        OutcomeExecuted,
		Citation:       hit.Citation,
		Confidence:     hit.Confidence,
		DecisionDigest: canonical.DecisionDigest(actionText, hit.Citation, hit.Confidence),
	}, nil
}

// state returns (creating if needed) the principal's state. Must be
// called with mu held.
func (e *Engine) state(principal string) *state {
	st, ok := e.states[principal]
	if !ok {
		st = &state{}
		e.states[principal] = st
	}
	return st
}
