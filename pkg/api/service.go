package api

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"

	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/config"
	"github.com/covenantlabs/covenant/pkg/corpus"
	"github.com/covenantlabs/covenant/pkg/execution"
	"github.com/covenantlabs/covenant/pkg/intent"
	"github.com/covenantlabs/covenant/pkg/observability"
	"github.com/covenantlabs/covenant/pkg/resolution"
	"github.com/covenantlabs/covenant/pkg/trigger"
)

// Service exposes the covenant engines over HTTP.
type Service struct {
	Intents  *intent.Ledger
	Triggers *trigger.Coordinator
	Engine   *execution.Engine
	Resolver *resolution.Engine
	Corpus   corpus.Store
	Audit    *audit.Log
	Logger   *slog.Logger

	// Obs is optional; a nil provider records nothing.
	Obs *observability.Provider

	// Defaults seeds trigger configuration when a request omits a
	// tunable; the coordinator still validates the final values.
	Defaults config.TriggerDefaults

	// CheckIns rate-limits the check-in route per principal. Nil
	// disables the per-principal bound; the per-address middleware
	// still applies.
	CheckIns *GlobalRateLimiter
}

// NewService wires the HTTP service. corpusStore may be nil; the corpus
// verification endpoint then reports the store as unconfigured.
func NewService(intents *intent.Ledger, triggers *trigger.Coordinator, engine *execution.Engine, resolver *resolution.Engine, corpusStore corpus.Store, auditLog *audit.Log, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		Intents:  intents,
		Triggers: triggers,
		Engine:   engine,
		Resolver: resolver,
		Corpus:   corpusStore,
		Audit:    auditLog,
		Logger:   logger,
	}
}

// Mux returns the routed handler with logging and rate limiting applied.
func (s *Service) Mux(limiter *GlobalRateLimiter) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/intent/capture", s.HandleCapture)
	mux.HandleFunc("/v1/intent/goal", s.HandleAddGoal)
	mux.HandleFunc("/v1/intent/sign", s.HandleSignVersion)
	mux.HandleFunc("/v1/intent/revoke", s.HandleRevoke)
	mux.HandleFunc("/v1/intent/get", s.HandleGetIntent)

	mux.HandleFunc("/v1/trigger/deadman", s.HandleConfigureDeadman)
	mux.HandleFunc("/v1/trigger/quorum", s.HandleConfigureQuorum)
	mux.HandleFunc("/v1/trigger/oracle", s.HandleConfigureOracle)
	mux.HandleFunc("/v1/trigger/checkin", s.HandleCheckIn)
	mux.HandleFunc("/v1/trigger/deadman/execute", s.HandleExecuteDeadman)
	mux.HandleFunc("/v1/trigger/signature", s.HandleSubmitSignature)
	mux.HandleFunc("/v1/trigger/oracle/result", s.HandleSubmitOracleResult)
	mux.HandleFunc("/v1/trigger/status", s.HandleTriggerStatus)

	mux.HandleFunc("/v1/resolution/freeze", s.HandleFreezeCorpus)
	mux.HandleFunc("/v1/resolution/index", s.HandleCreateIndex)
	mux.HandleFunc("/v1/resolution/submit", s.HandleSubmitResolution)
	mux.HandleFunc("/v1/resolution/submit-batch", s.HandleSubmitResolutionBatch)
	mux.HandleFunc("/v1/resolution/resolve", s.HandleResolve)
	mux.HandleFunc("/v1/resolution/topk", s.HandleResolveTopK)
	mux.HandleFunc("/v1/resolution/batch", s.HandleResolveBatch)
	mux.HandleFunc("/v1/resolution/corpus", s.HandleCorpusRecord)
	mux.HandleFunc("/v1/resolution/corpus/verify", s.HandleCorpusVerify)

	mux.HandleFunc("/v1/execution/activate", s.HandleActivate)
	mux.HandleFunc("/v1/execution/propose", s.HandleProposeAction)
	mux.HandleFunc("/v1/execution/sunset", s.HandleSunset)
	mux.HandleFunc("/v1/execution/sunset/emergency", s.HandleEmergencySunset)
	mux.HandleFunc("/v1/execution/deposit", s.HandleDeposit)
	mux.HandleFunc("/v1/execution/royalties", s.HandleConfigureRoyalties)
	mux.HandleFunc("/v1/execution/fund", s.HandleFundProject)
	mux.HandleFunc("/v1/execution/distribute", s.HandleDistributeRevenue)
	mux.HandleFunc("/v1/execution/license", s.HandleIssueLicense)
	mux.HandleFunc("/v1/execution/recover", s.HandleRecoverFunds)
	mux.HandleFunc("/v1/execution/state", s.HandleExecutionState)

	mux.HandleFunc("/v1/audit/events", s.HandleAuditEvents)
	mux.HandleFunc("/v1/audit/verify", s.HandleAuditVerify)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	var h http.Handler = mux
	if limiter != nil {
		h = limiter.Middleware(h)
	}
	return LogRequests(s.Logger, h)
}

// span starts a trace span around an engine operation. Without a
// provider it degrades to the request context and a no-op end.
func (s *Service) span(r *http.Request, name, principal string) (context.Context, func()) {
	if s.Obs == nil {
		return r.Context(), func() {}
	}
	ctx, sp := s.Obs.StartSpan(r.Context(), name)
	sp.SetAttributes(attribute.String("principal", principal))
	return ctx, func() { sp.End() }
}

// trackTrigger times one trigger evaluation end to end.
func (s *Service) trackTrigger(r *http.Request, mode, principal string) (context.Context, func(error)) {
	if s.Obs == nil {
		return r.Context(), func(error) {}
	}
	return s.Obs.TrackTrigger(r.Context(), mode, attribute.String("principal", principal))
}

// recordDelta records a net treasury movement.
func (s *Service) recordDelta(r *http.Request, delta int64) {
	if s.Obs != nil && delta != 0 {
		s.Obs.RecordTreasuryDelta(r.Context(), delta)
	}
}
