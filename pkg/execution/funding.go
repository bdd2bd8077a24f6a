package execution

import (
	"context"
	"math"
	"time"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/authority"
	"github.com/covenantlabs/covenant/pkg/fault"
	"github.com/covenantlabs/covenant/pkg/treasury"
)

// FundedProject is one entry in the funded-project ledger.
type FundedProject struct {
	ProjectRef string    `json:"project_ref"`
	Recipient  string    `json:"recipient"`
	Amount     int64     `json:"amount"`
	Citation   string    `json:"citation"`
	FundedAt   time.Time `json:"funded_at"`
}

// DepositToTreasury credits the principal's treasury. Accepted in any
// engine state — estates are funded before activation and may receive
// license fees during it.
func (e *Engine) DepositToTreasury(ctx context.Context, principal string, amount int64) (int64, error) {
	balance, err := e.treasury.Deposit(principal, amount)
	if err != nil {
		return 0, err
	}
	if _, err := e.log.Append(ctx, audit.EventTreasuryDeposit, principal, "", amount, nil); err != nil {
		return 0, err
	}
	return balance, nil
}

// ConfigureRoyalties registers the recipients of future revenue
// distributions. Pre-activation setup only: the split is part of the
// plan, not something the executing engine invents.
func (e *Engine) ConfigureRoyalties(ctx context.Context, principal string, recipients []RoyaltyRecipient) error {
	const op = "execution.ConfigureRoyalties"

	if len(recipients) == 0 {
		return fault.Preconditionf(op, "empty recipient list")
	}
	var totalBps int
	for _, r := range recipients {
		if r.Recipient == "" {
			return fault.Preconditionf(op, "empty recipient identity")
		}
		if r.Bps <= 0 {
			return fault.Preconditionf(op, "bps %d must be positive", r.Bps)
		}
		totalBps += r.Bps
	}
	if totalBps > 10_000 {
		return fault.Preconditionf(op, "royalty shares total %d bps exceeds 10000", totalBps)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.state(principal)
	if !st.activatedAt.IsZero() {
		return fault.Preconditionf(op, "execution for %q already activated; royalty split is frozen", principal)
	}
	st.royalties = append([]RoyaltyRecipient(nil), recipients...)
	return nil
}

// FundProject moves funds to a project recipient, subject to the full
// gate plus treasury sufficiency. The debit lands before the transfer;
// a failed transfer reverts everything including the debit.
func (e *Engine) FundProject(ctx context.Context, principal, projectRef, recipient string, amount int64, query, expectedCorpusDigest string) (Decision, error) {
	const op = "execution.FundProject"

	if recipient == "" {
		return Decision{}, fault.Preconditionf(op, "empty recipient")
	}
	if amount <= 0 {
		return Decision{}, fault.Preconditionf(op, "amount %d must be positive", amount)
	}

	hit, dec, err := e.gate(ctx, op, principal, projectRef, query, expectedCorpusDigest)
	if err != nil {
		return Decision{}, err
	}
	if dec.Outcome == OutcomeInaction {
		return dec, nil
	}

	// Re-check between gate and debit: authority ending on another
	// goroutine must not be outrun by an in-flight transfer.
	if !e.IsActive(principal) {
		return Decision{}, fault.Preconditionf(op, "execution for %q ended before funds could move", principal)
	}

	payments := []treasury.Payment{{Recipient: recipient, Amount: amount}}
	if err := e.treasury.DebitAndSend(ctx, op, principal, payments, e.sink); err != nil {
		return Decision{}, err
	}
	dec.Moved = amount

	e.mu.Lock()
	st := e.state(principal)
	st.projects = append(st.projects, FundedProject{
		ProjectRef: projectRef,
		Recipient:  recipient,
		Amount:     amount,
		Citation:   hit.Citation,
		FundedAt:   e.clock.Now(),
	})
	st.log = append(st.log, LogEntry{
		Action:         projectRef,
		Citation:       hit.Citation,
		Confidence:     hit.Confidence,
		Timestamp:      e.clock.Now(),
		DecisionDigest: dec.DecisionDigest,
	})
	e.mu.Unlock()

	if _, err := e.log.Append(ctx, audit.EventProjectFunded, principal, dec.DecisionDigest, amount, map[string]any{
		"project":   projectRef,
		"recipient": recipient,
	}); err != nil {
		return Decision{}, err
	}
	return dec, nil
}

// DistributeRevenue splits an amount across the registered royalty
// recipients by basis points. The whole distribution is one atomic
// unit: a single failed leg reverts every payment and the debit.
func (e *Engine) DistributeRevenue(ctx context.Context, principal string, amount int64, query, expectedCorpusDigest string) (Decision, error) {
	const op = "execution.DistributeRevenue"

	if amount <= 0 {
		return Decision{}, fault.Preconditionf(op, "amount %d must be positive", amount)
	}
	// Shares are computed as amount*bps/10000; cap amount so the
	// intermediate product stays inside int64.
	if amount > math.MaxInt64/10_000 {
		return Decision{}, fault.Preconditionf(op, "amount %d too large to split by basis points", amount)
	}

	e.mu.Lock()
	st := e.state(principal)
	recipients := append([]RoyaltyRecipient(nil), st.royalties...)
	e.mu.Unlock()
	if len(recipients) == 0 {
		return Decision{}, fault.Preconditionf(op, "no royalty recipients configured for %q", principal)
	}

	hit, dec, err := e.gate(ctx, op, principal, "distribute_revenue", query, expectedCorpusDigest)
	if err != nil {
		return Decision{}, err
	}
	if dec.Outcome == OutcomeInaction {
		return dec, nil
	}

	payments := make([]treasury.Payment, 0, len(recipients))
	var distributed int64
	for _, r := range recipients {
		share := amount * int64(r.Bps) / 10_000
		if share <= 0 {
			continue
		}
		payments = append(payments, treasury.Payment{Recipient: r.Recipient, Amount: share})
		distributed += share
	}
	if len(payments) == 0 {
		return Decision{}, fault.Preconditionf(op, "amount %d too small to split", amount)
	}

	if !e.IsActive(principal) {
		return Decision{}, fault.Preconditionf(op, "execution for %q ended before funds could move", principal)
	}

	if err := e.treasury.DebitAndSend(ctx, op, principal, payments, e.sink); err != nil {
		return Decision{}, err
	}
	dec.Moved = distributed

	e.mu.Lock()
	st = e.state(principal)
	st.log = append(st.log, LogEntry{
		Action:         "distribute_revenue",
		Citation:       hit.Citation,
		Confidence:     hit.Confidence,
		Timestamp:      e.clock.Now(),
		DecisionDigest: dec.DecisionDigest,
	})
	e.mu.Unlock()

	if _, err := e.log.Append(ctx, audit.EventRevenueDistributed, principal, dec.DecisionDigest, distributed, map[string]any{
		"recipients": len(payments),
	}); err != nil {
		return Decision{}, err
	}
	return dec, nil
}

// EmergencyFundRecovery drains the remaining treasury to a recovery
// recipient. Permitted only after sunset plus the recovery cooldown.
func (e *Engine) EmergencyFundRecovery(ctx context.Context, caller, principal, recipient string) error {
	const op = "execution.EmergencyFundRecovery"

	if err := e.caps.Require(op, authority.OpRecover, caller); err != nil {
		return err
	}
	if recipient == "" {
		return fault.Preconditionf(op, "empty recovery recipient")
	}

	e.mu.Lock()
	st, ok := e.states[principal]
	if !ok || !st.sunset {
		e.mu.Unlock()
		return fault.Preconditionf(op, "execution for %q is not sunset", principal)
	}
	if st.recovered {
		e.mu.Unlock()
		return fault.Preconditionf(op, "funds for %q already recovered", principal)
	}
	if e.clock.Now().Before(st.sunsetAt.Add(RecoveryCooldown)) {
		e.mu.Unlock()
		return fault.Preconditionf(op, "recovery cooldown not elapsed for %q", principal)
	}
	e.mu.Unlock()

	balance := e.treasury.Balance(principal)
	if balance <= 0 {
		return fault.Preconditionf(op, "treasury for %q is empty", principal)
	}

	payments := []treasury.Payment{{Recipient: recipient, Amount: balance}}
	if err := e.treasury.DebitAndSend(ctx, op, principal, payments, e.sink); err != nil {
		return err
	}

	e.mu.Lock()
	st.recovered = true
	e.mu.Unlock()

	_, err := e.log.Append(ctx, audit.EventFundsRecovered, principal, "", balance, map[string]any{
		"recipient": recipient,
	})
	return err
}
