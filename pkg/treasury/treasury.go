// Package treasury holds each principal's balance in integer minor
// units and enforces the one discipline every value-moving path shares:
// the ledger is debited before funds move, and a failed send reverts
// the debit in full. The ledger therefore never reflects a transfer
// that did not happen.
package treasury

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/covenantlabs/covenant/pkg/clock"
	"github.com/covenantlabs/covenant/pkg/fault"
)

// Payment is one outbound transfer.
type Payment struct {
	Recipient string `json:"recipient"`
	Amount    int64  `json:"amount"` // minor units, > 0
}

// Sink performs the external transfer. The underlying settlement layer
// is assumed atomic over the payment list: either every payment in one
// call lands or none do.
type Sink interface {
	Transfer(ctx context.Context, payments []Payment) error
}

// Limits bounds value movement per deployment profile. A zero value
// disables the corresponding bound.
type Limits struct {
	MaxSingleTransfer int64 // largest single payment, minor units
	MaxDailySpend     int64 // total debited per principal per UTC day
}

// daySpend accumulates a principal's debits within one UTC day.
type daySpend struct {
	day   time.Time
	spent int64
}

// Treasury tracks per-principal balances.
type Treasury struct {
	mu       sync.Mutex
	balances map[string]int64
	limits   Limits
	clock    clock.Clock
	spend    map[string]daySpend
}

// New returns an empty treasury with no spend limits.
func New() *Treasury {
	return NewLimited(Limits{}, nil)
}

// NewLimited returns an empty treasury enforcing the given limits. The
// clock drives the daily-spend window; nil falls back to wall time.
func NewLimited(l Limits, c clock.Clock) *Treasury {
	if c == nil {
		c = clock.System()
	}
	return &Treasury{
		balances: make(map[string]int64),
		limits:   l,
		clock:    c,
		spend:    make(map[string]daySpend),
	}
}

// Deposit credits the principal. Purely additive — no external call
// follows the credit, so the path is reentrancy-safe by construction.
func (t *Treasury) Deposit(principal string, amount int64) (int64, error) {
	const op = "treasury.Deposit"
	if amount <= 0 {
		return 0, fault.Preconditionf(op, "deposit amount %d must be positive", amount)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	balance := t.balances[principal]
	// Balances may never wrap negative, so a credit that would exceed
	// the int64 range is refused rather than applied.
	if amount > math.MaxInt64-balance {
		return 0, fault.Preconditionf(op, "deposit of %d would overflow balance %d", amount, balance)
	}
	t.balances[principal] = balance + amount
	return t.balances[principal], nil
}

// Balance returns the principal's current balance.
func (t *Treasury) Balance(principal string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[principal]
}

// DebitAndSend debits the total of payments, then sends them through
// the sink. Effects before interactions: the balance is reduced before
// the external call, so a reentrant call observes the post-debit
// balance and cannot double-spend. A sink failure restores the debit
// and surfaces as a Transfer fault.
func (t *Treasury) DebitAndSend(ctx context.Context, op, principal string, payments []Payment, sink Sink) error {
	if len(payments) == 0 {
		return fault.Preconditionf(op, "no payments")
	}
	var total int64
	for _, p := range payments {
		if p.Recipient == "" {
			return fault.Preconditionf(op, "payment with empty recipient")
		}
		if p.Amount <= 0 {
			return fault.Preconditionf(op, "payment amount %d must be positive", p.Amount)
		}
		if p.Amount > math.MaxInt64-total {
			return fault.Preconditionf(op, "payment total overflows int64")
		}
		if t.limits.MaxSingleTransfer > 0 && p.Amount > t.limits.MaxSingleTransfer {
			return fault.Policyf(op, "payment of %d exceeds single-transfer limit %d", p.Amount, t.limits.MaxSingleTransfer)
		}
		total += p.Amount
	}
	if sink == nil {
		return fault.Preconditionf(op, "no transfer sink configured")
	}

	t.mu.Lock()
	balance := t.balances[principal]
	if balance < total {
		t.mu.Unlock()
		return fault.Preconditionf(op, "insufficient treasury: have %d, need %d", balance, total)
	}
	if t.limits.MaxDailySpend > 0 {
		day := t.clock.Now().UTC().Truncate(24 * time.Hour)
		ds := t.spend[principal]
		if !ds.day.Equal(day) {
			ds = daySpend{day: day}
		}
		if total > t.limits.MaxDailySpend-ds.spent {
			t.mu.Unlock()
			return fault.Policyf(op, "debit of %d exceeds daily spend limit %d (already spent %d)", total, t.limits.MaxDailySpend, ds.spent)
		}
		ds.spent += total
		t.spend[principal] = ds
	}
	t.balances[principal] = balance - total
	t.mu.Unlock()

	if err := sink.Transfer(ctx, payments); err != nil {
		t.mu.Lock()
		t.balances[principal] += total
		if t.limits.MaxDailySpend > 0 {
			ds := t.spend[principal]
			ds.spent -= total
			t.spend[principal] = ds
		}
		t.mu.Unlock()
		return fault.Transferf(op, err, "transfer of %d reverted", total)
	}
	return nil
}
