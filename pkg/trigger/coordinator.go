// Package trigger implements the per-principal activation state
// machine: Unconfigured → Configured(mode) → Triggered. Exactly one of
// three mutually exclusive modes is active at a time — deadman timeout,
// multi-signer quorum, or external oracle consensus — and the
// coordinator flips the intent ledger's triggered flag exactly once.
//
// Every triggering path applies effects before external calls: the
// coordinator's own state flips to Triggered before intent.Trigger is
// invoked, so a re-entrant call during the hand-off observes the
// terminal state and is rejected.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/clock"
	"github.com/covenantlabs/covenant/pkg/fault"
	"github.com/covenantlabs/covenant/pkg/intent"
	"github.com/covenantlabs/covenant/pkg/oracle"
)

// Mode identifies the active trigger variant.
type Mode string

const (
	ModeDeadman Mode = "DEADMAN"
	ModeQuorum  Mode = "QUORUM"
	ModeOracle  Mode = "ORACLE_CONSENSUS"
)

// State is the coordinator state for one principal.
type State string

const (
	StateUnconfigured State = "UNCONFIGURED"
	StateConfigured   State = "CONFIGURED"
	StateTriggered    State = "TRIGGERED"
)

// MinOracleConfidence is the consensus confidence floor. An aggregation
// below it never triggers, regardless of validity.
const MinOracleConfidence = 95

// Deadman carries the inactivity-timeout variant's fields.
type Deadman struct {
	Interval    time.Duration `json:"interval"`
	LastCheckIn time.Time     `json:"last_check_in"`
}

// Quorum carries the M-of-N signature variant's fields.
type Quorum struct {
	Signers  []string             `json:"signers"`
	Required int                  `json:"required"`
	Signed   map[string]time.Time `json:"signed"`
}

// OracleConsensus carries the external-consensus variant's fields.
type OracleConsensus struct {
	EventType       string `json:"event_type"`
	RequiredOracles int    `json:"required_oracles"`
	AggregationRef  string `json:"aggregation_ref"`
}

// Status is a read-only snapshot of one principal's trigger state.
// Exactly one variant pointer is non-nil while configured.
type Status struct {
	State       State            `json:"state"`
	Mode        Mode             `json:"mode,omitempty"`
	Deadman     *Deadman         `json:"deadman,omitempty"`
	Quorum      *Quorum          `json:"quorum,omitempty"`
	Oracle      *OracleConsensus `json:"oracle,omitempty"`
	TriggeredAt time.Time        `json:"triggered_at,omitzero"`
}

type status struct {
	state       State
	mode        Mode
	deadman     *Deadman
	quorum      *Quorum
	oracle      *OracleConsensus
	triggeredAt time.Time
}

// Coordinator drives trigger state machines for all principals.
type Coordinator struct {
	mu       sync.Mutex
	identity string // capability identity used toward the intent ledger
	statuses map[string]*status
	intents  *intent.Ledger
	provider oracle.Provider
	verifier *oracle.Verifier
	log      *audit.Log
	clock    clock.Clock
}

// NewCoordinator creates a coordinator. identity must hold the trigger
// capability on the intent ledger's authority table.
func NewCoordinator(identity string, intents *intent.Ledger, provider oracle.Provider, verifier *oracle.Verifier, log *audit.Log, c clock.Clock) *Coordinator {
	if c == nil {
		c = clock.System()
	}
	return &Coordinator{
		identity: identity,
		statuses: make(map[string]*status),
		intents:  intents,
		provider: provider,
		verifier: verifier,
		log:      log,
		clock:    c,
	}
}

// ConfigureDeadman arms the inactivity-timeout mode. The check-in clock
// starts now.
func (co *Coordinator) ConfigureDeadman(ctx context.Context, principal string, interval time.Duration) error {
	const op = "trigger.ConfigureDeadman"
	if interval <= 0 {
		return fault.Preconditionf(op, "interval must be positive")
	}
	return co.configure(ctx, op, principal, &status{
		state:   StateConfigured,
		mode:    ModeDeadman,
		deadman: &Deadman{Interval: interval, LastCheckIn: co.clock.Now()},
	}, map[string]any{"mode": string(ModeDeadman), "interval": interval.String()})
}

// ConfigureQuorum arms the M-of-N signature mode.
func (co *Coordinator) ConfigureQuorum(ctx context.Context, principal string, signers []string, required int) error {
	const op = "trigger.ConfigureQuorum"
	if len(signers) == 0 {
		return fault.Preconditionf(op, "empty signer set")
	}
	seen := make(map[string]struct{}, len(signers))
	for _, s := range signers {
		if s == "" {
			return fault.Preconditionf(op, "empty signer identity")
		}
		if _, dup := seen[s]; dup {
			return fault.Preconditionf(op, "duplicate signer %q", s)
		}
		seen[s] = struct{}{}
	}
	if required < 1 || required > len(signers) {
		return fault.Preconditionf(op, "required %d outside [1, %d]", required, len(signers))
	}
	return co.configure(ctx, op, principal, &status{
		state: StateConfigured,
		mode:  ModeQuorum,
		quorum: &Quorum{
			Signers:  append([]string(nil), signers...),
			Required: required,
			Signed:   make(map[string]time.Time),
		},
	}, map[string]any{"mode": string(ModeQuorum), "signers": len(signers), "required": required})
}

// ConfigureOracle arms the external-consensus mode and requests the
// aggregation reference from the provider.
func (co *Coordinator) ConfigureOracle(ctx context.Context, principal, eventType, dataDigest string, requiredOracles int) error {
	const op = "trigger.ConfigureOracle"
	if eventType == "" {
		return fault.Preconditionf(op, "empty event type")
	}
	if requiredOracles < 1 {
		return fault.Preconditionf(op, "required oracle count must be positive")
	}
	if co.provider == nil {
		return fault.Preconditionf(op, "no aggregation provider configured")
	}
	ref, err := co.provider.RequestAggregation(ctx, principal, eventType, dataDigest, requiredOracles)
	if err != nil {
		return fault.Preconditionf(op, "aggregation request failed: %v", err)
	}
	return co.configure(ctx, op, principal, &status{
		state: StateConfigured,
		mode:  ModeOracle,
		oracle: &OracleConsensus{
			EventType:       eventType,
			RequiredOracles: requiredOracles,
			AggregationRef:  ref,
		},
	}, map[string]any{"mode": string(ModeOracle), "event_type": eventType, "required_oracles": requiredOracles})
}

// configure replaces the principal's variant. Reconfiguration before
// trigger fully discards the prior mode, including partial quorum
// progress — intentional behavior, recorded with its own audit event so
// the discard is visible, never silent in the record.
func (co *Coordinator) configure(ctx context.Context, op, principal string, next *status, detail map[string]any) error {
	rec, err := co.intents.Get(principal)
	if err != nil {
		return fault.Preconditionf(op, "no intent captured for %q", principal)
	}
	if rec.Revoked {
		return fault.Preconditionf(op, "intent for %q revoked", principal)
	}

	co.mu.Lock()
	defer co.mu.Unlock()

	if prev, ok := co.statuses[principal]; ok {
		if prev.state == StateTriggered {
			return fault.Preconditionf(op, "trigger for %q already fired; configuration is frozen", principal)
		}
		if prev.quorum != nil && len(prev.quorum.Signed) > 0 {
			if _, err := co.log.Append(ctx, audit.EventQuorumDiscarded, principal, "", 0, map[string]any{
				"discarded_signatures": len(prev.quorum.Signed),
			}); err != nil {
				return err
			}
		}
	}
	co.statuses[principal] = next

	_, err = co.log.Append(ctx, audit.EventTriggerConfigured, principal, rec.IntentDigest, 0, detail)
	return err
}

// CheckIn resets the deadman clock. Deadman mode only; rejected once
// triggered.
func (co *Coordinator) CheckIn(ctx context.Context, principal string) error {
	const op = "trigger.CheckIn"

	co.mu.Lock()
	defer co.mu.Unlock()

	st, err := co.configured(op, principal, ModeDeadman)
	if err != nil {
		return err
	}
	st.deadman.LastCheckIn = co.clock.Now()

	_, err = co.log.Append(ctx, audit.EventCheckIn, principal, "", 0, map[string]any{
		"next_deadline": st.deadman.LastCheckIn.Add(st.deadman.Interval).Format(time.RFC3339),
	})
	return err
}

// ExecuteDeadman fires the deadman trigger once the interval has fully
// elapsed since the last check-in. Permissionless: anyone may invoke
// the check after the deadline; the deadline itself comes only from
// coordinator state.
func (co *Coordinator) ExecuteDeadman(ctx context.Context, principal string) error {
	const op = "trigger.ExecuteDeadman"

	co.mu.Lock()
	st, err := co.configured(op, principal, ModeDeadman)
	if err != nil {
		co.mu.Unlock()
		return err
	}
	deadline := st.deadman.LastCheckIn.Add(st.deadman.Interval)
	if co.clock.Now().Before(deadline) {
		co.mu.Unlock()
		return fault.Preconditionf(op, "deadman interval not elapsed: deadline %s", deadline.Format(time.RFC3339))
	}
	// Effects before interactions: flip to Triggered before the
	// external call into the intent ledger.
	st.state = StateTriggered
	st.triggeredAt = co.clock.Now()
	co.mu.Unlock()

	return co.fire(ctx, op, principal, st)
}

// SubmitSignature records one quorum signature. Duplicates from the
// same signer are rejected; the signature that reaches the required
// count fires the trigger in the same call.
func (co *Coordinator) SubmitSignature(ctx context.Context, principal, signer string) error {
	const op = "trigger.SubmitSignature"

	co.mu.Lock()
	st, err := co.configured(op, principal, ModeQuorum)
	if err != nil {
		co.mu.Unlock()
		return err
	}
	q := st.quorum
	if !contains(q.Signers, signer) {
		co.mu.Unlock()
		return fault.Preconditionf(op, "%q is not a registered signer", signer)
	}
	if _, dup := q.Signed[signer]; dup {
		co.mu.Unlock()
		return fault.Preconditionf(op, "signer %q already signed", signer)
	}
	q.Signed[signer] = co.clock.Now()
	signed := len(q.Signed)
	required := q.Required
	complete := signed >= required
	if complete {
		st.state = StateTriggered
		st.triggeredAt = co.clock.Now()
	}
	co.mu.Unlock()

	if _, err := co.log.Append(ctx, audit.EventSignatureSubmitted, principal, "", 0, map[string]any{
		"signer":   signer,
		"signed":   signed,
		"required": required,
	}); err != nil {
		return err
	}
	if !complete {
		return nil
	}
	return co.fire(ctx, op, principal, st)
}

// SubmitOracleResult completes the oracle-consensus path from a signed
// aggregation envelope. The result must reference the configured
// aggregation, report validity, meet the confidence floor, and carry at
// least the required oracle count.
func (co *Coordinator) SubmitOracleResult(ctx context.Context, principal, envelope string) error {
	const op = "trigger.SubmitOracleResult"

	if co.verifier == nil {
		return fault.Preconditionf(op, "no oracle verifier configured")
	}
	res, err := co.verifier.Verify(envelope)
	if err != nil {
		return err
	}

	co.mu.Lock()
	st, err := co.configured(op, principal, ModeOracle)
	if err != nil {
		co.mu.Unlock()
		return err
	}
	oc := st.oracle
	switch {
	case res.Principal != principal:
		co.mu.Unlock()
		return fault.Preconditionf(op, "envelope principal %q does not match %q", res.Principal, principal)
	case res.AggregationRef != oc.AggregationRef:
		co.mu.Unlock()
		return fault.Preconditionf(op, "aggregation ref mismatch")
	case res.EventType != oc.EventType:
		co.mu.Unlock()
		return fault.Preconditionf(op, "event type mismatch")
	case !res.IsValid:
		co.mu.Unlock()
		return fault.Preconditionf(op, "aggregation reported invalid")
	case res.Confidence < MinOracleConfidence:
		co.mu.Unlock()
		return fault.Preconditionf(op, "consensus confidence %d below floor %d", res.Confidence, MinOracleConfidence)
	case res.OracleCount < oc.RequiredOracles:
		co.mu.Unlock()
		return fault.Preconditionf(op, "oracle count %d below required %d", res.OracleCount, oc.RequiredOracles)
	}
	st.state = StateTriggered
	st.triggeredAt = co.clock.Now()
	co.mu.Unlock()

	return co.fire(ctx, op, principal, st)
}

// Status returns a snapshot of the principal's trigger state.
func (co *Coordinator) Status(principal string) (Status, error) {
	co.mu.Lock()
	defer co.mu.Unlock()
	st, ok := co.statuses[principal]
	if !ok {
		return Status{State: StateUnconfigured}, nil
	}
	out := Status{State: st.state, Mode: st.mode, TriggeredAt: st.triggeredAt}
	if st.deadman != nil {
		d := *st.deadman
		out.Deadman = &d
	}
	if st.quorum != nil {
		q := Quorum{
			Signers:  append([]string(nil), st.quorum.Signers...),
			Required: st.quorum.Required,
			Signed:   make(map[string]time.Time, len(st.quorum.Signed)),
		}
		for k, v := range st.quorum.Signed {
			q.Signed[k] = v
		}
		out.Quorum = &q
	}
	if st.oracle != nil {
		o := *st.oracle
		out.Oracle = &o
	}
	return out, nil
}

// fire completes a trigger after the state flip: it calls into the
// intent ledger and reverts the flip if the ledger refuses, so the
// coordinator never reports Triggered for an untriggered intent.
func (co *Coordinator) fire(ctx context.Context, op, principal string, st *status) error {
	if err := co.intents.Trigger(ctx, co.identity, principal); err != nil {
		co.mu.Lock()
		st.state = StateConfigured
		st.triggeredAt = time.Time{}
		co.mu.Unlock()
		return err
	}
	return nil
}

// configured returns the principal's status if it is configured in the
// wanted mode and not yet triggered. Must be called with mu held.
func (co *Coordinator) configured(op, principal string, want Mode) (*status, error) {
	st, ok := co.statuses[principal]
	if !ok || st.state == StateUnconfigured {
		return nil, fault.Preconditionf(op, "no trigger configured for %q", principal)
	}
	if st.state == StateTriggered {
		return nil, fault.Preconditionf(op, "trigger for %q already fired", principal)
	}
	if st.mode != want {
		return nil, fault.Preconditionf(op, "trigger for %q is %s, not %s", principal, st.mode, want)
	}
	return st, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
