package execution

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/authority"
	"github.com/covenantlabs/covenant/pkg/clock"
	"github.com/covenantlabs/covenant/pkg/fault"
	"github.com/covenantlabs/covenant/pkg/intent"
	"github.com/covenantlabs/covenant/pkg/policy"
	"github.com/covenantlabs/covenant/pkg/resolution"
	"github.com/covenantlabs/covenant/pkg/treasury"
)

const (
	coordinator  = "svc:trigger-coordinator"
	activator    = "svc:activation"
	sunsetter    = "svc:sunset"
	recoverer    = "svc:recovery"
	indexer      = "svc:indexer"
	alice        = "alice"
	corpusDigest = "corpus-digest"
)

type harness struct {
	clock    *clock.Fixed
	caps     *authority.Table
	log      *audit.Log
	ledger   *intent.Ledger
	resolver *resolution.Engine
	sink     *treasury.LocalSink
	engine   *Engine
	ctx      context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	c := clock.NewFixed(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	log := audit.NewLog(c)
	caps := authority.NewTable()
	caps.Grant(authority.OpTrigger, coordinator)
	caps.Grant(authority.OpActivate, activator)
	caps.Grant(authority.OpSunset, sunsetter)
	caps.Grant(authority.OpRecover, recoverer)
	caps.Grant(authority.OpIndex, indexer)

	ledger := intent.NewLedger(caps, log, c)
	resolver := resolution.NewEngine(resolution.NewMemoryCache(), caps, log, c)
	filter, err := policy.NewFilter()
	require.NoError(t, err)
	sink := treasury.NewLocalSink()
	engine := NewEngine(ledger, resolver, filter, treasury.New(), sink, caps, log, c)

	return &harness{
		clock:    c,
		caps:     caps,
		log:      log,
		ledger:   ledger,
		resolver: resolver,
		sink:     sink,
		engine:   engine,
		ctx:      context.Background(),
	}
}

func (h *harness) capture(t *testing.T, principal string) {
	t.Helper()
	err := h.ledger.Capture(h.ctx, principal, "intent-digest", corpusDigest, "file:///corpora/alice",
		[]string{"asset:master-recordings", "asset:song-catalog"}, 2020, 2025)
	require.NoError(t, err)
	require.NoError(t, h.resolver.FreezeCorpus(h.ctx, principal, corpusDigest, "file:///corpora/alice", 2020, 2025))
}

func (h *harness) trigger(t *testing.T, principal string) {
	t.Helper()
	require.NoError(t, h.ledger.Trigger(h.ctx, coordinator, principal))
}

func (h *harness) activate(t *testing.T, principal string) {
	t.Helper()
	h.capture(t, principal)
	h.trigger(t, principal)
	require.NoError(t, h.engine.Activate(h.ctx, activator, principal))
}

func (h *harness) resolve(t *testing.T, principal, query, citation string, confidence int) {
	t.Helper()
	err := h.resolver.SubmitResolution(h.ctx, indexer, principal, query, []string{citation}, []int{confidence})
	require.NoError(t, err)
}

func TestActivateRequiresTriggeredIntent(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)

	err := h.engine.Activate(h.ctx, activator, alice)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
	assert.False(t, h.engine.IsActive(alice))
}

func TestActivateRequiresCapability(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)
	h.trigger(t, alice)

	err := h.engine.Activate(h.ctx, "mallory", alice)
	require.Error(t, err)
	assert.False(t, h.engine.IsActive(alice))
}

func TestActivateExactlyOnce(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	assert.True(t, h.engine.IsActive(alice))

	err := h.engine.Activate(h.ctx, activator, alice)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
}

func TestProposeRequiresActiveState(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)
	h.trigger(t, alice)

	_, err := h.engine.ProposeAction(h.ctx, alice, "release_archive", "archive", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
}

func TestConfidenceBoundary(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.resolve(t, alice, "at-threshold", "corpus:entry-1", Threshold)
	h.resolve(t, alice, "below-threshold", "corpus:entry-2", Threshold-1)

	dec, err := h.engine.ProposeAction(h.ctx, alice, "release_archive", "at-threshold", corpusDigest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, dec.Outcome)
	assert.Equal(t, Threshold, dec.Confidence)
	assert.NotEmpty(t, dec.DecisionDigest)

	// One below the threshold is a recorded success that does nothing.
	dec, err = h.engine.ProposeAction(h.ctx, alice, "release_archive", "below-threshold", corpusDigest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInaction, dec.Outcome)
	assert.Equal(t, Threshold-1, dec.Confidence)
	assert.Empty(t, dec.DecisionDigest)

	snap, err := h.engine.Snapshot(alice)
	require.NoError(t, err)
	require.Len(t, snap.Log, 1, "only the confident proposal lands in the log")
	assert.Equal(t, "corpus:entry-1", snap.Log[0].Citation)
}

func TestUnresolvableQueryDefaultsToInaction(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)

	dec, err := h.engine.ProposeAction(h.ctx, alice, "release_archive", "never-indexed", corpusDigest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInaction, dec.Outcome)
	assert.Equal(t, 0, dec.Confidence)
}

func TestFilterBlocksBeforeResolution(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	// Even a maximally confident resolution cannot rescue a denylisted
	// action.
	h.resolve(t, alice, "donation", "corpus:entry-1", 100)

	_, err := h.engine.ProposeAction(h.ctx, alice, "donate_to_campaign", "donation", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Policy, fault.KindOf(err))

	var blocked bool
	for _, e := range h.log.EntriesFor(alice) {
		if e.Type == audit.EventActionBlocked {
			blocked = true
		}
	}
	assert.True(t, blocked, "the block must be audited")
}

func TestActionLengthGate(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)

	long := make([]byte, MaxActionLen+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := h.engine.ProposeAction(h.ctx, alice, string(long), "q", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Policy, fault.KindOf(err))

	_, err = h.engine.ProposeAction(h.ctx, alice, "", "q", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
}

func TestGoalConstraintDenies(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)
	require.NoError(t, h.ledger.AddGoal(h.ctx, alice, "never sell the catalog", "goal-digest",
		`!action.contains("sell")`, 10))
	h.trigger(t, alice)
	require.NoError(t, h.engine.Activate(h.ctx, activator, alice))
	h.resolve(t, alice, "sale", "corpus:entry-1", 99)
	h.resolve(t, alice, "reissue", "corpus:entry-2", 99)

	_, err := h.engine.ProposeAction(h.ctx, alice, "sell_master_recordings", "sale", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Policy, fault.KindOf(err))

	dec, err := h.engine.ProposeAction(h.ctx, alice, "reissue_album", "reissue", corpusDigest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, dec.Outcome)
}

func TestStaleCorpusDigestRejected(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.resolve(t, alice, "q", "corpus:entry-1", 99)

	_, err := h.engine.ProposeAction(h.ctx, alice, "release_archive", "q", "some-other-digest")
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
}

func TestFixedDurationEndsAuthority(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.resolve(t, alice, "q", "corpus:entry-1", 99)

	h.clock.Advance(FixedDuration - time.Hour)
	assert.True(t, h.engine.IsActive(alice))

	h.clock.Advance(time.Hour)
	assert.False(t, h.engine.IsActive(alice))

	_, err := h.engine.ProposeAction(h.ctx, alice, "release_archive", "q", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
}

func TestSunsetIsOneWayAndTimeGated(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)

	// Before the window ends, neither path may terminate.
	require.Error(t, h.engine.ActivateSunset(h.ctx, sunsetter, alice))
	require.Error(t, h.engine.EmergencySunset(h.ctx, alice))

	h.clock.Advance(FixedDuration)
	require.Error(t, h.engine.ActivateSunset(h.ctx, "mallory", alice))
	require.NoError(t, h.engine.ActivateSunset(h.ctx, sunsetter, alice))

	snap, err := h.engine.Snapshot(alice)
	require.NoError(t, err)
	assert.True(t, snap.Sunset)

	require.Error(t, h.engine.ActivateSunset(h.ctx, sunsetter, alice))
	require.Error(t, h.engine.EmergencySunset(h.ctx, alice))
}

func TestEmergencySunsetIsPermissionless(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.clock.Advance(FixedDuration)

	require.NoError(t, h.engine.EmergencySunset(h.ctx, alice))
	assert.False(t, h.engine.IsActive(alice))
}

func TestConfigureRoyaltiesPreActivationOnly(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)
	require.NoError(t, h.engine.ConfigureRoyalties(h.ctx, alice, []RoyaltyRecipient{
		{Recipient: "heir:1", Bps: 6000},
		{Recipient: "heir:2", Bps: 4000},
	}))

	h.trigger(t, alice)
	require.NoError(t, h.engine.Activate(h.ctx, activator, alice))

	err := h.engine.ConfigureRoyalties(h.ctx, alice, []RoyaltyRecipient{{Recipient: "heir:3", Bps: 100}})
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
}

func TestConfigureRoyaltiesValidation(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)

	cases := map[string][]RoyaltyRecipient{
		"empty list":      nil,
		"empty recipient": {{Recipient: "", Bps: 100}},
		"zero bps":        {{Recipient: "heir:1", Bps: 0}},
		"over 10000 bps":  {{Recipient: "heir:1", Bps: 6000}, {Recipient: "heir:2", Bps: 5000}},
	}
	for name, recipients := range cases {
		err := h.engine.ConfigureRoyalties(h.ctx, alice, recipients)
		require.Error(t, err, name)
	}
}

func TestFundProjectMovesFunds(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.resolve(t, alice, "archive-project", "corpus:entry-1", 98)
	_, err := h.engine.DepositToTreasury(h.ctx, alice, 10_000)
	require.NoError(t, err)

	dec, err := h.engine.FundProject(h.ctx, alice, "project:remaster", "studio:abbey", 2_500, "archive-project", corpusDigest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, dec.Outcome)
	assert.Equal(t, int64(2_500), h.sink.Settled("studio:abbey"))

	snap, err := h.engine.Snapshot(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(7_500), snap.Treasury)
	require.Len(t, snap.Projects, 1)
	assert.Equal(t, "project:remaster", snap.Projects[0].ProjectRef)
}

func TestFundProjectInactionMovesNothing(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.resolve(t, alice, "vague", "corpus:entry-1", 80)
	_, err := h.engine.DepositToTreasury(h.ctx, alice, 10_000)
	require.NoError(t, err)

	dec, err := h.engine.FundProject(h.ctx, alice, "project:remaster", "studio:abbey", 2_500, "vague", corpusDigest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeInaction, dec.Outcome)
	assert.Equal(t, int64(0), h.sink.Settled("studio:abbey"))

	snap, err := h.engine.Snapshot(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), snap.Treasury)
	assert.Empty(t, snap.Projects)
}

type failingSink struct{}

func (failingSink) Transfer(ctx context.Context, payments []treasury.Payment) error {
	return errors.New("rail offline")
}

func TestFundProjectRevertsOnTransferFailure(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.resolve(t, alice, "archive-project", "corpus:entry-1", 98)

	tre := treasury.New()
	filter, err := policy.NewFilter()
	require.NoError(t, err)
	engine := NewEngine(h.ledger, h.resolver, filter, tre, failingSink{}, h.caps, h.log, h.clock)
	require.NoError(t, engine.Activate(h.ctx, activator, alice))
	_, err = engine.DepositToTreasury(h.ctx, alice, 10_000)
	require.NoError(t, err)

	_, err = engine.FundProject(h.ctx, alice, "project:remaster", "studio:abbey", 2_500, "archive-project", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Transfer, fault.KindOf(err))

	snap, err := engine.Snapshot(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000), snap.Treasury, "debit must be reverted")
	assert.Empty(t, snap.Projects)
}

func TestDistributeRevenueSplitsByBps(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)
	require.NoError(t, h.engine.ConfigureRoyalties(h.ctx, alice, []RoyaltyRecipient{
		{Recipient: "heir:1", Bps: 6000},
		{Recipient: "heir:2", Bps: 3000},
		{Recipient: "charity:music-ed", Bps: 1000},
	}))
	h.trigger(t, alice)
	require.NoError(t, h.engine.Activate(h.ctx, activator, alice))
	h.resolve(t, alice, "royalties", "corpus:entry-1", 97)
	_, err := h.engine.DepositToTreasury(h.ctx, alice, 100_000)
	require.NoError(t, err)

	dec, err := h.engine.DistributeRevenue(h.ctx, alice, 10_000, "royalties", corpusDigest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, dec.Outcome)
	assert.Equal(t, int64(6_000), h.sink.Settled("heir:1"))
	assert.Equal(t, int64(3_000), h.sink.Settled("heir:2"))
	assert.Equal(t, int64(1_000), h.sink.Settled("charity:music-ed"))

	snap, err := h.engine.Snapshot(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(90_000), snap.Treasury)
}

func TestDistributeRevenueRequiresRecipients(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.resolve(t, alice, "royalties", "corpus:entry-1", 97)

	_, err := h.engine.DistributeRevenue(h.ctx, alice, 10_000, "royalties", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
}

func TestIssueLicenseCreditsFee(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.resolve(t, alice, "licensing", "corpus:entry-1", 96)

	lic, dec, err := h.engine.IssueLicense(h.ctx, alice, "label:blue-note", "asset:song-catalog",
		"CC-BY-4.0", 5_000, 250, "licensing", corpusDigest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, dec.Outcome)
	assert.Equal(t, "Creative Commons Attribution 4.0", lic.Terms)
	assert.Equal(t, "corpus:entry-1", lic.Citation)
	assert.Len(t, lic.ID, 16)

	start := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, start.Add(PublicDomainAfter), lic.ExpiresAt)

	snap, err := h.engine.Snapshot(alice)
	require.NoError(t, err)
	assert.Equal(t, int64(5_000), snap.Treasury)
	require.Len(t, snap.Licenses, 1)
}

func TestIssueLicenseValidation(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	h.resolve(t, alice, "licensing", "corpus:entry-1", 96)

	_, _, err := h.engine.IssueLicense(h.ctx, alice, "", "asset:song-catalog", "MIT", 0, 0, "licensing", corpusDigest)
	require.Error(t, err)

	_, _, err = h.engine.IssueLicense(h.ctx, alice, "label:x", "asset:song-catalog", "WTFPL", 0, 0, "licensing", corpusDigest)
	require.Error(t, err)

	_, _, err = h.engine.IssueLicense(h.ctx, alice, "label:x", "asset:not-captured", "MIT", 0, 0, "licensing", corpusDigest)
	require.Error(t, err)

	_, _, err = h.engine.IssueLicense(h.ctx, alice, "label:x", "asset:song-catalog", "MIT", -1, 0, "licensing", corpusDigest)
	require.Error(t, err)

	_, _, err = h.engine.IssueLicense(h.ctx, alice, "label:x", "asset:song-catalog", "MIT", 0, 10_001, "licensing", corpusDigest)
	require.Error(t, err)
}

func TestLicenseTermsCatalog(t *testing.T) {
	terms, ok := LicenseTerms("MIT")
	assert.True(t, ok)
	assert.Equal(t, "MIT License", terms)

	_, ok = LicenseTerms("WTFPL")
	assert.False(t, ok)
}

func TestEmergencyFundRecovery(t *testing.T) {
	h := newHarness(t)
	h.activate(t, alice)
	_, err := h.engine.DepositToTreasury(h.ctx, alice, 42_000)
	require.NoError(t, err)

	// Not sunset yet.
	require.Error(t, h.engine.EmergencyFundRecovery(h.ctx, recoverer, alice, "estate:executor"))

	h.clock.Advance(FixedDuration)
	require.NoError(t, h.engine.EmergencySunset(h.ctx, alice))

	// Cooldown still running.
	require.Error(t, h.engine.EmergencyFundRecovery(h.ctx, recoverer, alice, "estate:executor"))
	h.clock.Advance(RecoveryCooldown - time.Hour)
	require.Error(t, h.engine.EmergencyFundRecovery(h.ctx, recoverer, alice, "estate:executor"))

	h.clock.Advance(time.Hour)
	require.Error(t, h.engine.EmergencyFundRecovery(h.ctx, "mallory", alice, "estate:executor"))
	require.NoError(t, h.engine.EmergencyFundRecovery(h.ctx, recoverer, alice, "estate:executor"))
	assert.Equal(t, int64(42_000), h.sink.Settled("estate:executor"))

	// Exactly once.
	err = h.engine.EmergencyFundRecovery(h.ctx, recoverer, alice, "estate:executor")
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
}

func TestSnapshotUnknownPrincipal(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Snapshot("nobody")
	require.Error(t, err)
	assert.True(t, fault.IsNotFound(err))
}

// Full lifecycle: capture, deadman-style trigger, activation, gated
// execution through the window, then sunset ends authority for good.
func TestLifecycleEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)
	require.NoError(t, h.engine.ConfigureRoyalties(h.ctx, alice, []RoyaltyRecipient{
		{Recipient: "heir:1", Bps: 10_000},
	}))
	_, err := h.engine.DepositToTreasury(h.ctx, alice, 50_000)
	require.NoError(t, err)

	h.trigger(t, alice)
	require.NoError(t, h.engine.Activate(h.ctx, activator, alice))
	h.resolve(t, alice, "streaming-royalties", "corpus:entry-9", 96)

	dec, err := h.engine.DistributeRevenue(h.ctx, alice, 20_000, "streaming-royalties", corpusDigest)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExecuted, dec.Outcome)

	_, err = h.engine.ProposeAction(h.ctx, alice, "donate_to_campaign", "streaming-royalties", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Policy, fault.KindOf(err))

	h.clock.Advance(FixedDuration)
	assert.False(t, h.engine.IsActive(alice))
	require.NoError(t, h.engine.ActivateSunset(h.ctx, sunsetter, alice))

	_, err = h.engine.DistributeRevenue(h.ctx, alice, 1_000, "streaming-royalties", corpusDigest)
	require.Error(t, err)

	h.clock.Advance(RecoveryCooldown)
	require.NoError(t, h.engine.EmergencyFundRecovery(h.ctx, recoverer, alice, "estate:executor"))
	assert.Equal(t, int64(30_000), h.sink.Settled("estate:executor"))
}

func TestDistributeRevenueRejectsOversizedAmount(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)
	require.NoError(t, h.engine.ConfigureRoyalties(h.ctx, alice, []RoyaltyRecipient{
		{Recipient: "heir:1", Bps: 6000},
	}))
	h.trigger(t, alice)
	require.NoError(t, h.engine.Activate(h.ctx, activator, alice))
	h.resolve(t, alice, "royalties", "corpus:entry-1", 97)

	// An amount whose bps product would overflow int64 is refused
	// before any share is computed.
	_, err := h.engine.DistributeRevenue(h.ctx, alice, math.MaxInt64/100, "royalties", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
	assert.Equal(t, int64(0), h.sink.Settled("heir:1"))
}

// scriptedClock hands out a fixed sequence of instants, then repeats
// the last one.
type scriptedClock struct {
	times []time.Time
	i     int
}

func (c *scriptedClock) Now() time.Time {
	t := c.times[c.i]
	if c.i < len(c.times)-1 {
		c.i++
	}
	return t
}

func TestProposeRefusesEntryAfterAuthorityEnds(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)
	h.trigger(t, alice)
	h.resolve(t, alice, "archive", "corpus:entry-1", 97)

	// The window closes between the gate check and the log append:
	// the first two reads land inside the window, the third lands at
	// its end. No entry may be recorded after authority expires.
	t0 := h.clock.Now()
	clk := &scriptedClock{times: []time.Time{
		t0,
		t0.Add(time.Hour),
		t0.Add(FixedDuration),
	}}
	filter, err := policy.NewFilter()
	require.NoError(t, err)
	engine := NewEngine(h.ledger, h.resolver, filter, treasury.New(), h.sink, h.caps, h.log, clk)
	require.NoError(t, engine.Activate(h.ctx, activator, alice))

	_, err = engine.ProposeAction(h.ctx, alice, "release_archive", "archive", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))

	snap, err := engine.Snapshot(alice)
	require.NoError(t, err)
	assert.Empty(t, snap.Log)
}

func TestFundProjectRefusedAfterAuthorityEnds(t *testing.T) {
	h := newHarness(t)
	h.capture(t, alice)
	h.trigger(t, alice)
	h.resolve(t, alice, "archive", "corpus:entry-1", 97)

	t0 := h.clock.Now()
	clk := &scriptedClock{times: []time.Time{
		t0,
		t0.Add(time.Hour),
		t0.Add(FixedDuration),
	}}
	filter, err := policy.NewFilter()
	require.NoError(t, err)
	tr := treasury.New()
	engine := NewEngine(h.ledger, h.resolver, filter, tr, h.sink, h.caps, h.log, clk)
	require.NoError(t, engine.Activate(h.ctx, activator, alice))
	_, err = engine.DepositToTreasury(h.ctx, alice, 10_000)
	require.NoError(t, err)

	_, err = engine.FundProject(h.ctx, alice, "project:reissue", "studio:abbey", 4_000, "archive", corpusDigest)
	require.Error(t, err)
	assert.Equal(t, fault.Precondition, fault.KindOf(err))
	assert.Equal(t, int64(10_000), tr.Balance(alice))
	assert.Equal(t, int64(0), h.sink.Settled("studio:abbey"))
}
