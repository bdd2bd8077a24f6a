package treasury

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantlabs/covenant/pkg/clock"
	"github.com/covenantlabs/covenant/pkg/fault"
)

func TestDepositAccumulates(t *testing.T) {
	tr := New()

	bal, err := tr.Deposit("alice", 500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	bal, err = tr.Deposit("alice", 250)
	require.NoError(t, err)
	assert.Equal(t, int64(750), bal)
	assert.Equal(t, int64(750), tr.Balance("alice"))
	assert.Equal(t, int64(0), tr.Balance("bob"))
}

func TestDepositRejectsNonPositive(t *testing.T) {
	tr := New()
	for _, amount := range []int64{0, -1, -500} {
		_, err := tr.Deposit("alice", amount)
		require.Error(t, err)
		assert.Equal(t, fault.Precondition, fault.KindOf(err))
	}
	assert.Equal(t, int64(0), tr.Balance("alice"))
}

func TestDebitAndSendSettles(t *testing.T) {
	tr := New()
	sink := NewLocalSink()
	_, err := tr.Deposit("alice", 1_000)
	require.NoError(t, err)

	err = tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: 300},
		{Recipient: "heir:2", Amount: 200},
	}, sink)
	require.NoError(t, err)

	assert.Equal(t, int64(500), tr.Balance("alice"))
	assert.Equal(t, int64(300), sink.Settled("heir:1"))
	assert.Equal(t, int64(200), sink.Settled("heir:2"))
	require.Len(t, sink.History(), 2)
	assert.Equal(t, "heir:1", sink.History()[0].Recipient)
}

func TestDebitAndSendValidatesPayments(t *testing.T) {
	tr := New()
	sink := NewLocalSink()
	_, err := tr.Deposit("alice", 1_000)
	require.NoError(t, err)

	cases := map[string][]Payment{
		"empty list":      nil,
		"empty recipient": {{Recipient: "", Amount: 10}},
		"zero amount":     {{Recipient: "heir:1", Amount: 0}},
		"negative amount": {{Recipient: "heir:1", Amount: -5}},
	}
	for name, payments := range cases {
		err := tr.DebitAndSend(context.Background(), "treasury.test", "alice", payments, sink)
		require.Error(t, err, name)
		assert.Equal(t, fault.Precondition, fault.KindOf(err), name)
	}
	assert.Equal(t, int64(1_000), tr.Balance("alice"))
	assert.Empty(t, sink.History())
}

func TestDebitAndSendRejectsInsufficientBalance(t *testing.T) {
	tr := New()
	sink := NewLocalSink()
	_, err := tr.Deposit("alice", 100)
	require.NoError(t, err)

	err = tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: 60},
		{Recipient: "heir:2", Amount: 60},
	}, sink)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
	assert.Equal(t, int64(100), tr.Balance("alice"))
	assert.Empty(t, sink.History())
}

func TestDebitAndSendRequiresSink(t *testing.T) {
	tr := New()
	_, err := tr.Deposit("alice", 100)
	require.NoError(t, err)

	err = tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: 10},
	}, nil)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
}

type failingSink struct{ err error }

func (s failingSink) Transfer(ctx context.Context, payments []Payment) error { return s.err }

func TestDebitRevertsWhenSinkFails(t *testing.T) {
	tr := New()
	_, err := tr.Deposit("alice", 1_000)
	require.NoError(t, err)

	boom := errors.New("rail offline")
	err = tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: 400},
	}, failingSink{err: boom})
	require.Error(t, err)
	assert.Equal(t, fault.Transfer, fault.KindOf(err))
	assert.ErrorIs(t, err, boom)

	// The debit was reverted in full.
	assert.Equal(t, int64(1_000), tr.Balance("alice"))
}

// observingSink proves the balance is already reduced when the external
// call runs, so a reentrant caller cannot see pre-debit funds.
type observingSink struct {
	tr       *Treasury
	observed int64
}

func (s *observingSink) Transfer(ctx context.Context, payments []Payment) error {
	s.observed = s.tr.Balance("alice")
	return nil
}

func TestDebitHappensBeforeSend(t *testing.T) {
	tr := New()
	_, err := tr.Deposit("alice", 1_000)
	require.NoError(t, err)

	sink := &observingSink{tr: tr}
	err = tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: 400},
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(600), sink.observed)
}

func TestLocalSinkHonorsContext(t *testing.T) {
	sink := NewLocalSink()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := sink.Transfer(ctx, []Payment{{Recipient: "heir:1", Amount: 10}})
	require.Error(t, err)
	assert.Equal(t, int64(0), sink.Settled("heir:1"))
	assert.Empty(t, sink.History())
}

func TestDepositRefusesOverflow(t *testing.T) {
	tr := New()
	bal, err := tr.Deposit("alice", math.MaxInt64-1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-1), bal)

	_, err = tr.Deposit("alice", math.MaxInt64-1)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))

	// The refused credit left the balance untouched, and it never
	// wrapped negative.
	assert.Equal(t, int64(math.MaxInt64-1), tr.Balance("alice"))
	assert.GreaterOrEqual(t, tr.Balance("alice"), int64(0))

	bal, err = tr.Deposit("alice", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), bal)
}

func TestDebitRejectsOverflowingPaymentTotal(t *testing.T) {
	tr := New()
	_, err := tr.Deposit("alice", 1_000)
	require.NoError(t, err)

	err = tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: math.MaxInt64 - 1},
		{Recipient: "heir:2", Amount: math.MaxInt64 - 1},
	}, NewLocalSink())
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
	assert.Equal(t, int64(1_000), tr.Balance("alice"))
}

func TestSingleTransferLimit(t *testing.T) {
	tr := NewLimited(Limits{MaxSingleTransfer: 500}, nil)
	_, err := tr.Deposit("alice", 2_000)
	require.NoError(t, err)

	sink := NewLocalSink()
	err = tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: 501},
	}, sink)
	require.Error(t, err)
	assert.Equal(t, fault.Policy, fault.KindOf(err))
	assert.Equal(t, int64(2_000), tr.Balance("alice"))

	// The boundary amount passes.
	err = tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: 500},
	}, sink)
	require.NoError(t, err)
	assert.Equal(t, int64(500), sink.Settled("heir:1"))
}

func TestDailySpendLimitResetsNextDay(t *testing.T) {
	c := clock.NewFixed(time.Date(2031, 5, 1, 12, 0, 0, 0, time.UTC))
	tr := NewLimited(Limits{MaxDailySpend: 1_000}, c)
	_, err := tr.Deposit("alice", 10_000)
	require.NoError(t, err)

	sink := NewLocalSink()
	pay := func(amount int64) error {
		return tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
			{Recipient: "heir:1", Amount: amount},
		}, sink)
	}

	require.NoError(t, pay(600))
	err = pay(401)
	require.Error(t, err)
	assert.Equal(t, fault.Policy, fault.KindOf(err))
	require.NoError(t, pay(400))

	// Exhausted for today, open again tomorrow.
	err = pay(1)
	require.Error(t, err)
	c.Advance(24 * time.Hour)
	require.NoError(t, pay(1_000))
	assert.Equal(t, int64(8_000), tr.Balance("alice"))
}

func TestDailySpendRevertsWithFailedTransfer(t *testing.T) {
	c := clock.NewFixed(time.Date(2031, 5, 1, 12, 0, 0, 0, time.UTC))
	tr := NewLimited(Limits{MaxDailySpend: 1_000}, c)
	_, err := tr.Deposit("alice", 10_000)
	require.NoError(t, err)

	err = tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: 900},
	}, failingSink{err: errors.New("rail offline")})
	require.Error(t, err)
	assert.Equal(t, fault.Transfer, fault.KindOf(err))

	// The failed transfer consumed none of the daily allowance.
	require.NoError(t, tr.DebitAndSend(context.Background(), "treasury.test", "alice", []Payment{
		{Recipient: "heir:1", Amount: 1_000},
	}, NewLocalSink()))
}
