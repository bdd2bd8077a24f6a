package intent

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

const coordinator = "svc:coordinator"

func newTestLedger(t *testing.T) (*Ledger, *audit.Log, *clock.Fixed) {
	t.Helper()
	c := clock.NewFixed(time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC))
	log := audit.NewLog(c)
	caps := authority.NewTable()
	caps.Grant(authority.OpTrigger, coordinator)
	return NewLedger(caps, log, c), log, c
}

func capture(t *testing.T, l *Ledger, principal string) {
	t.Helper()
	err := l.Capture(context.Background(), principal, "intent-digest", "corpus-digest",
		"file://corpus.tar", []string{"asset:master-recordings"}, 2020, 2025)
	require.NoError(t, err)
}

func TestCaptureValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	cases := []struct {
		name string
		err  error
	}{
		{"empty principal", l.Capture(ctx, "", "d", "c", "", []string{"a"}, 2020, 2025)},
		{"missing digests", l.Capture(ctx, "p", "", "c", "", []string{"a"}, 2020, 2025)},
		{"inverted window", l.Capture(ctx, "p", "d", "c", "", []string{"a"}, 2025, 2020)},
		{"window too narrow", l.Capture(ctx, "p", "d", "c", "", []string{"a"}, 2020, 2023)},
		{"window too wide", l.Capture(ctx, "p", "d", "c", "", []string{"a"}, 2010, 2025)},
		{"no assets", l.Capture(ctx, "p", "d", "c", "", nil, 2020, 2025)},
	}
	for _, tc := range cases {
		require.Error(t, tc.err, tc.name)
		assert.True(t, fault.IsPrecondition(tc.err), tc.name)
	}
}

func TestCaptureReplacesAndBumpsVersion(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	capture(t, l, "alice")
	require.NoError(t, l.AddGoal(ctx, "alice", "fund archives", "goal-digest", "", 10))

	err := l.Capture(ctx, "alice", "intent-digest-2", "corpus-digest-2",
		"file://corpus2.tar", []string{"asset:films"}, 2019, 2026)
	require.NoError(t, err)

	rec, err := l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Version)
	assert.Equal(t, "intent-digest-2", rec.IntentDigest)
	assert.Empty(t, rec.Goals, "replacement discards goals")
	assert.Empty(t, rec.SignedVersions, "replacement discards signatures")
}

func TestRecordFreezesAfterTrigger(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	capture(t, l, "alice")
	require.NoError(t, l.Trigger(ctx, coordinator, "alice"))
	assert.True(t, l.IsTriggered("alice"))

	for name, err := range map[string]error{
		"capture":   l.Capture(ctx, "alice", "d2", "c2", "", []string{"a"}, 2020, 2025),
		"add goal":  l.AddGoal(ctx, "alice", "late goal", "", "", 5),
		"sign":      l.SignVersion(ctx, "alice", 1),
		"revoke":    l.Revoke(ctx, "alice"),
		"retrigger": l.Trigger(ctx, coordinator, "alice"),
	} {
		require.Error(t, err, name)
		assert.True(t, fault.IsPrecondition(err), name)
	}
}

func TestRecordFreezesAfterRevoke(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	capture(t, l, "alice")
	require.NoError(t, l.Revoke(ctx, "alice"))

	err := l.Trigger(ctx, coordinator, "alice")
	require.Error(t, err)
	assert.True(t, fault.IsPrecondition(err))
	assert.False(t, l.IsTriggered("alice"))
}

func TestTriggerRequiresCapability(t *testing.T) {
	l, _, _ := newTestLedger(t)
	capture(t, l, "alice")

	err := l.Trigger(context.Background(), "mallory", "alice")
	require.Error(t, err)
	assert.True(t, fault.IsPrecondition(err))
	assert.False(t, l.IsTriggered("alice"))
}

func TestAddGoalValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	capture(t, l, "alice")

	require.Error(t, l.AddGoal(ctx, "alice", "", "", "", 10))
	require.Error(t, l.AddGoal(ctx, "alice", "goal", "", "", 0))
	require.Error(t, l.AddGoal(ctx, "alice", "goal", "", "", 101))
	require.Error(t, l.AddGoal(ctx, "alice", "goal", "", `confidence >`, 10),
		"uncompilable constraint must be rejected at add time")

	require.NoError(t, l.AddGoal(ctx, "alice", "goal", "g-digest", `confidence >= 95`, 10))
}

func TestGoalCap(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()
	capture(t, l, "alice")

	for i := 0; i < MaxGoals; i++ {
		require.NoError(t, l.AddGoal(ctx, "alice", "goal", "", "", 1))
	}
	err := l.AddGoal(ctx, "alice", "one too many", "", "", 1)
	require.Error(t, err)
	assert.True(t, fault.IsPrecondition(err))
}

func TestSignVersion(t *testing.T) {
	l, _, c := newTestLedger(t)
	ctx := context.Background()
	capture(t, l, "alice")

	require.Error(t, l.SignVersion(ctx, "alice", 2), "only current version signable")
	require.NoError(t, l.SignVersion(ctx, "alice", 1))
	require.Error(t, l.SignVersion(ctx, "alice", 1), "duplicate signature rejected")

	rec, err := l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, c.Now(), rec.SignedVersions[1])
}

func TestAuditTrail(t *testing.T) {
	l, log, _ := newTestLedger(t)
	ctx := context.Background()

	capture(t, l, "alice")
	require.NoError(t, l.Trigger(ctx, coordinator, "alice"))

	events := log.EntriesFor("alice")
	require.Len(t, events, 2)
	assert.Equal(t, audit.EventIntentCaptured, events[0].Type)
	assert.Equal(t, audit.EventIntentTriggered, events[1].Type)
}

func TestGetReturnsCopy(t *testing.T) {
	l, _, _ := newTestLedger(t)
	capture(t, l, "alice")

	rec, err := l.Get("alice")
	require.NoError(t, err)
	rec.AssetRefs[0] = "tampered"

	again, err := l.Get("alice")
	require.NoError(t, err)
	assert.Equal(t, "asset:master-recordings", again.AssetRefs[0])
}

func TestGetUnknownPrincipal(t *testing.T) {
	l, _, _ := newTestLedger(t)
	_, err := l.Get("nobody")
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
}
