// Package audit records one tamper-evident event per state transition.
// The chain itself is the permanent, externally verifiable record of
// everything covenant did or declined to do — there is no separate log
// file. Each event links to its predecessor by hash, so any mutation or
// deletion after the fact breaks chain verification.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covenantlabs/covenant/pkg/canonical"
	"github.com/covenantlabs/covenant/pkg/clock"
)

// EventType identifies the state transition an event records.
type EventType string

const (
	EventIntentCaptured    EventType = "INTENT_CAPTURED"
	EventIntentRevoked     EventType = "INTENT_REVOKED"
	EventIntentTriggered   EventType = "INTENT_TRIGGERED"
	EventTriggerConfigured EventType = "TRIGGER_CONFIGURED"
	EventActionExecuted    EventType = "ACTION_EXECUTED"
	EventInactionDefault   EventType = "INACTION_DEFAULT"
	EventActionBlocked     EventType = "POLITICAL_ACTION_BLOCKED"
	EventSunsetActivated   EventType = "SUNSET_ACTIVATED"

	EventGoalAdded          EventType = "GOAL_ADDED"
	EventVersionSigned      EventType = "VERSION_SIGNED"
	EventCheckIn            EventType = "CHECK_IN"
	EventSignatureSubmitted EventType = "SIGNATURE_SUBMITTED"
	EventQuorumDiscarded    EventType = "QUORUM_DISCARDED"
	EventCorpusFrozen       EventType = "CORPUS_FROZEN"
	EventExecutionActivated EventType = "EXECUTION_ACTIVATED"
	EventTreasuryDeposit    EventType = "TREASURY_DEPOSIT"
	EventProjectFunded      EventType = "PROJECT_FUNDED"
	EventRevenueDistributed EventType = "REVENUE_DISTRIBUTED"
	EventLicenseIssued      EventType = "LICENSE_ISSUED"
	EventFundsRecovered     EventType = "FUNDS_RECOVERED"
)

// Event is one link in the audit chain.
type Event struct {
	ID        string         `json:"id"`
	Seq       uint64         `json:"seq"`
	Type      EventType      `json:"type"`
	Principal string         `json:"principal"`
	Digest    string         `json:"digest,omitempty"`
	Amount    int64          `json:"amount,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Detail    map[string]any `json:"detail,omitempty"`

	// PrevHash links this event to the preceding one.
	PrevHash string `json:"prev_hash"`
	// Hash is the SHA-256 of the canonical form of this event
	// (excluding Hash itself).
	Hash string `json:"hash"`
}

// Sink mirrors events into durable storage. The in-memory chain remains
// authoritative for verification; a sink write failure is reported but
// does not un-happen the transition it records.
type Sink interface {
	AppendEvent(ctx context.Context, e Event) error
}

// Log is the append-only, hash-chained event log.
type Log struct {
	mu      sync.Mutex
	entries []Event
	clock   clock.Clock
	sink    Sink
	logger  *slog.Logger
}

// NewLog creates an empty audit log.
func NewLog(c clock.Clock) *Log {
	if c == nil {
		c = clock.System()
	}
	return &Log{
		entries: make([]Event, 0, 64),
		clock:   c,
		logger:  slog.Default().With("component", "audit"),
	}
}

// SetSink injects a durable sink after initialization.
func (l *Log) SetSink(s Sink) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = s
}

// Append links a new event onto the chain and returns it.
func (l *Log) Append(ctx context.Context, t EventType, principal, digest string, amount int64, detail map[string]any) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := ""
	if n := len(l.entries); n > 0 {
		prev = l.entries[n-1].Hash
	}

	e := Event{
		ID:        uuid.NewString(),
		Seq:       uint64(len(l.entries)),
		Type:      t,
		Principal: principal,
		Digest:    digest,
		Amount:    amount,
		Timestamp: l.clock.Now().UTC(),
		Detail:    detail,
		PrevHash:  prev,
	}

	h, err := eventHash(e)
	if err != nil {
		return Event{}, err
	}
	e.Hash = h
	l.entries = append(l.entries, e)

	if l.sink != nil {
		if sinkErr := l.sink.AppendEvent(ctx, e); sinkErr != nil {
			l.logger.ErrorContext(ctx, "audit sink write failed",
				"event", string(t), "seq", e.Seq, "error", sinkErr)
		}
	}
	return e, nil
}

// Entries returns a copy of the full chain.
func (l *Log) Entries() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.entries))
	copy(out, l.entries)
	return out
}

// EntriesFor returns the events for one principal, in chain order.
func (l *Log) EntriesFor(principal string) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Event
	for _, e := range l.entries {
		if e.Principal == principal {
			out = append(out, e)
		}
	}
	return out
}

// VerifyChain recomputes every hash and link. It returns the index of
// the first broken event, or -1 and nil when the chain is intact.
func (l *Log) VerifyChain() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if i == 0 {
			if e.PrevHash != "" {
				return 0, errGenesis
			}
		} else if e.PrevHash != l.entries[i-1].Hash {
			return i, errLinkBroken(i)
		}
		h, err := eventHash(e)
		if err != nil {
			return i, err
		}
		if h != e.Hash {
			return i, errContentTampered(i)
		}
	}
	return -1, nil
}

// eventHash hashes every field except Hash itself, over the RFC 8785
// canonical form so replays hash identically.
func eventHash(e Event) (string, error) {
	return canonical.Digest(map[string]any{
		"id":        e.ID,
		"seq":       e.Seq,
		"type":      string(e.Type),
		"principal": e.Principal,
		"digest":    e.Digest,
		"amount":    e.Amount,
		"timestamp": e.Timestamp.Format(time.RFC3339Nano),
		"detail":    e.Detail,
		"prev_hash": e.PrevHash,
	})
}
