package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/covenantlabs/covenant/pkg/corpus"
	"github.com/covenantlabs/covenant/pkg/execution"
	"github.com/covenantlabs/covenant/pkg/fault"
	"github.com/covenantlabs/covenant/pkg/resolution"
)

const maxBodyBytes = 1 << 20 // 1MB limit

// decode reads a bounded JSON body into v.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// CaptureRequest registers (or pre-trigger, replaces) an intent.
type CaptureRequest struct {
	Principal    string   `json:"principal"`
	IntentDigest string   `json:"intent_digest"`
	CorpusDigest string   `json:"corpus_digest"`
	CorpusURI    string   `json:"corpus_uri"`
	AssetRefs    []string `json:"asset_refs"`
	WindowStart  int      `json:"window_start"`
	WindowEnd    int      `json:"window_end"`
}

// HandleCapture handles /v1/intent/capture.
func (s *Service) HandleCapture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Principal == "" {
		WriteBadRequest(w, "Missing required field: principal")
		return
	}
	if err := s.Intents.Capture(r.Context(), req.Principal, req.IntentDigest, req.CorpusDigest, req.CorpusURI, req.AssetRefs, req.WindowStart, req.WindowEnd); err != nil {
		WriteFault(w, err)
		return
	}
	rec, err := s.Intents.Get(req.Principal)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, rec)
}

// GoalRequest appends a prioritized goal.
type GoalRequest struct {
	Principal        string `json:"principal"`
	Description      string `json:"description"`
	ConstraintDigest string `json:"constraint_digest"`
	ConstraintExpr   string `json:"constraint_expr,omitempty"`
	Priority         int    `json:"priority"`
}

// HandleAddGoal handles /v1/intent/goal.
func (s *Service) HandleAddGoal(w http.ResponseWriter, r *http.Request) {
	var req GoalRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Intents.AddGoal(r.Context(), req.Principal, req.Description, req.ConstraintDigest, req.ConstraintExpr, req.Priority); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "added"})
}

// SignRequest countersigns an intent version.
type SignRequest struct {
	Principal string `json:"principal"`
	Version   int    `json:"version"`
}

// HandleSignVersion handles /v1/intent/sign.
func (s *Service) HandleSignVersion(w http.ResponseWriter, r *http.Request) {
	var req SignRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Intents.SignVersion(r.Context(), req.Principal, req.Version); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "signed"})
}

// PrincipalRequest addresses one principal.
type PrincipalRequest struct {
	Principal string `json:"principal"`
}

// HandleRevoke handles /v1/intent/revoke.
func (s *Service) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	var req PrincipalRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Intents.Revoke(r.Context(), req.Principal); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "revoked"})
}

// HandleGetIntent handles /v1/intent/get.
func (s *Service) HandleGetIntent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		WriteBadRequest(w, "Missing query parameter: principal")
		return
	}
	rec, err := s.Intents.Get(principal)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, rec)
}

// DeadmanRequest arms the inactivity-timeout trigger.
type DeadmanRequest struct {
	Principal    string `json:"principal"`
	IntervalSecs int64  `json:"interval_secs"`
}

// HandleConfigureDeadman handles /v1/trigger/deadman.
func (s *Service) HandleConfigureDeadman(w http.ResponseWriter, r *http.Request) {
	var req DeadmanRequest
	if !decode(w, r, &req) {
		return
	}
	if req.IntervalSecs == 0 && s.Defaults.DeadmanIntervalDays > 0 {
		req.IntervalSecs = int64(s.Defaults.DeadmanIntervalDays) * 24 * 60 * 60
	}
	if err := s.Triggers.ConfigureDeadman(r.Context(), req.Principal, time.Duration(req.IntervalSecs)*time.Second); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "configured"})
}

// QuorumRequest arms the M-of-N signature trigger.
type QuorumRequest struct {
	Principal string   `json:"principal"`
	Signers   []string `json:"signers"`
	Required  int      `json:"required"`
}

// HandleConfigureQuorum handles /v1/trigger/quorum.
func (s *Service) HandleConfigureQuorum(w http.ResponseWriter, r *http.Request) {
	var req QuorumRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Required == 0 && s.Defaults.QuorumRequired > 0 {
		req.Required = s.Defaults.QuorumRequired
	}
	if err := s.Triggers.ConfigureQuorum(r.Context(), req.Principal, req.Signers, req.Required); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "configured"})
}

// OracleRequest arms the external-consensus trigger.
type OracleRequest struct {
	Principal       string `json:"principal"`
	EventType       string `json:"event_type"`
	DataDigest      string `json:"data_digest"`
	RequiredOracles int    `json:"required_oracles"`
}

// HandleConfigureOracle handles /v1/trigger/oracle.
func (s *Service) HandleConfigureOracle(w http.ResponseWriter, r *http.Request) {
	var req OracleRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RequiredOracles == 0 && s.Defaults.RequiredOracles > 0 {
		req.RequiredOracles = s.Defaults.RequiredOracles
	}
	if err := s.Triggers.ConfigureOracle(r.Context(), req.Principal, req.EventType, req.DataDigest, req.RequiredOracles); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "configured"})
}

// HandleCheckIn handles /v1/trigger/checkin.
func (s *Service) HandleCheckIn(w http.ResponseWriter, r *http.Request) {
	var req PrincipalRequest
	if !decode(w, r, &req) {
		return
	}
	if s.CheckIns != nil && !s.CheckIns.Allow(req.Principal) {
		WriteTooManyRequests(w, 5)
		return
	}
	if err := s.Triggers.CheckIn(r.Context(), req.Principal); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "checked_in"})
}

// HandleExecuteDeadman handles /v1/trigger/deadman/execute. The check
// is permissionless: anyone may call it once the deadline has passed.
func (s *Service) HandleExecuteDeadman(w http.ResponseWriter, r *http.Request) {
	var req PrincipalRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, done := s.trackTrigger(r, "DEADMAN", req.Principal)
	err := s.Triggers.ExecuteDeadman(ctx, req.Principal)
	done(err)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "triggered"})
}

// SignatureRequest submits one quorum signature.
type SignatureRequest struct {
	Principal string `json:"principal"`
	Signer    string `json:"signer"`
}

// HandleSubmitSignature handles /v1/trigger/signature.
func (s *Service) HandleSubmitSignature(w http.ResponseWriter, r *http.Request) {
	var req SignatureRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, done := s.trackTrigger(r, "QUORUM", req.Principal)
	err := s.Triggers.SubmitSignature(ctx, req.Principal, req.Signer)
	done(err)
	if err != nil {
		WriteFault(w, err)
		return
	}
	st, err := s.Triggers.Status(req.Principal)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, st)
}

// OracleResultRequest submits a signed aggregation envelope.
type OracleResultRequest struct {
	Principal string `json:"principal"`
	Envelope  string `json:"envelope"`
}

// HandleSubmitOracleResult handles /v1/trigger/oracle/result.
func (s *Service) HandleSubmitOracleResult(w http.ResponseWriter, r *http.Request) {
	var req OracleResultRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, done := s.trackTrigger(r, "ORACLE_CONSENSUS", req.Principal)
	err := s.Triggers.SubmitOracleResult(ctx, req.Principal, req.Envelope)
	done(err)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "triggered"})
}

// HandleTriggerStatus handles /v1/trigger/status.
func (s *Service) HandleTriggerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		WriteBadRequest(w, "Missing query parameter: principal")
		return
	}
	st, err := s.Triggers.Status(principal)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, st)
}

// FreezeRequest commits a corpus digest.
type FreezeRequest struct {
	Principal   string `json:"principal"`
	Digest      string `json:"digest"`
	StorageURI  string `json:"storage_uri"`
	WindowStart int    `json:"window_start"`
	WindowEnd   int    `json:"window_end"`
}

// HandleFreezeCorpus handles /v1/resolution/freeze.
func (s *Service) HandleFreezeCorpus(w http.ResponseWriter, r *http.Request) {
	var req FreezeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Resolver.FreezeCorpus(r.Context(), req.Principal, req.Digest, req.StorageURI, req.WindowStart, req.WindowEnd); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "frozen"})
}

// IndexRequest writes one keyword's ranked citations.
type IndexRequest struct {
	Caller    string   `json:"caller"`
	Principal string   `json:"principal"`
	Keyword   string   `json:"keyword"`
	Citations []string `json:"citations"`
	Scores    []int    `json:"scores"`
}

// HandleCreateIndex handles /v1/resolution/index.
func (s *Service) HandleCreateIndex(w http.ResponseWriter, r *http.Request) {
	var req IndexRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Resolver.CreateIndex(r.Context(), req.Caller, req.Principal, req.Keyword, req.Citations, req.Scores); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "indexed"})
}

// SubmitResolutionRequest caches a resolved query.
type SubmitResolutionRequest struct {
	Caller      string   `json:"caller"`
	Principal   string   `json:"principal"`
	Query       string   `json:"query"`
	Citations   []string `json:"citations"`
	Confidences []int    `json:"confidences"`
}

// HandleSubmitResolution handles /v1/resolution/submit.
func (s *Service) HandleSubmitResolution(w http.ResponseWriter, r *http.Request) {
	var req SubmitResolutionRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Resolver.SubmitResolution(r.Context(), req.Caller, req.Principal, req.Query, req.Citations, req.Confidences); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "submitted"})
}

// SubmitBatchRequest caches resolutions for multiple queries at once.
type SubmitBatchRequest struct {
	Caller    string                       `json:"caller"`
	Principal string                       `json:"principal"`
	Batch     []resolution.BatchSubmission `json:"batch"`
}

// HandleSubmitResolutionBatch handles /v1/resolution/submit-batch.
func (s *Service) HandleSubmitResolutionBatch(w http.ResponseWriter, r *http.Request) {
	var req SubmitBatchRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Resolver.SubmitResolutionBatch(r.Context(), req.Caller, req.Principal, req.Batch); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]any{"status": "submitted", "count": len(req.Batch)})
}

// ResolveRequest answers one query.
type ResolveRequest struct {
	Principal    string `json:"principal"`
	Query        string `json:"query"`
	CorpusDigest string `json:"corpus_digest"`
	K            int    `json:"k,omitempty"`
}

// HandleResolve handles /v1/resolution/resolve.
func (s *Service) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	hit, err := s.Resolver.Resolve(r.Context(), req.Principal, req.Query, req.CorpusDigest)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, hit)
}

// HandleResolveTopK handles /v1/resolution/topk.
func (s *Service) HandleResolveTopK(w http.ResponseWriter, r *http.Request) {
	var req ResolveRequest
	if !decode(w, r, &req) {
		return
	}
	hits, err := s.Resolver.ResolveTopK(r.Context(), req.Principal, req.Query, req.CorpusDigest, req.K)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, hits)
}

// ResolveBatchRequest answers multiple queries positionally.
type ResolveBatchRequest struct {
	Principal    string   `json:"principal"`
	Queries      []string `json:"queries"`
	CorpusDigest string   `json:"corpus_digest"`
}

// HandleResolveBatch handles /v1/resolution/batch.
func (s *Service) HandleResolveBatch(w http.ResponseWriter, r *http.Request) {
	var req ResolveBatchRequest
	if !decode(w, r, &req) {
		return
	}
	hits, err := s.Resolver.ResolveBatch(r.Context(), req.Principal, req.Queries, req.CorpusDigest)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, hits)
}

// HandleCorpusRecord handles /v1/resolution/corpus.
func (s *Service) HandleCorpusRecord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		WriteBadRequest(w, "Missing query parameter: principal")
		return
	}
	rec, err := s.Resolver.Corpus(principal)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, rec)
}

// HandleCorpusVerify handles /v1/resolution/corpus/verify: it fetches
// the committed corpus from storage and checks the bytes against the
// frozen digest.
func (s *Service) HandleCorpusVerify(w http.ResponseWriter, r *http.Request) {
	var req PrincipalRequest
	if !decode(w, r, &req) {
		return
	}
	if s.Corpus == nil {
		WriteError(w, http.StatusServiceUnavailable, "Corpus Store Unavailable", "No corpus storage backend is configured")
		return
	}
	rec, err := s.Resolver.Corpus(req.Principal)
	if err != nil {
		WriteFault(w, err)
		return
	}
	data, err := corpus.FetchVerified(r.Context(), s.Corpus, rec.StorageURI, rec.Digest)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]any{"verified": true, "digest": rec.Digest, "bytes": len(data)})
}

// CallerRequest addresses one principal on behalf of a caller.
type CallerRequest struct {
	Caller    string `json:"caller"`
	Principal string `json:"principal"`
}

// HandleActivate handles /v1/execution/activate.
func (s *Service) HandleActivate(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Engine.Activate(r.Context(), req.Caller, req.Principal); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "activated"})
}

// ProposeRequest gates one proposed action.
type ProposeRequest struct {
	Principal    string `json:"principal"`
	Action       string `json:"action"`
	Query        string `json:"query"`
	CorpusDigest string `json:"corpus_digest"`
}

// HandleProposeAction handles /v1/execution/propose. A below-threshold
// resolution is a 200 with an INACTION_DEFAULT outcome, not an error.
func (s *Service) HandleProposeAction(w http.ResponseWriter, r *http.Request) {
	var req ProposeRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, end := s.span(r, "execution.propose", req.Principal)
	defer end()
	dec, err := s.Engine.ProposeAction(ctx, req.Principal, req.Action, req.Query, req.CorpusDigest)
	if err != nil {
		s.recordOutcome(r, req.Principal, execution.Decision{}, err)
		WriteFault(w, err)
		return
	}
	s.recordOutcome(r, req.Principal, dec, nil)
	writeJSON(w, dec)
}

// recordOutcome feeds gate outcomes to the metrics provider.
func (s *Service) recordOutcome(r *http.Request, principal string, dec execution.Decision, err error) {
	if s.Obs == nil {
		return
	}
	switch {
	case err != nil && fault.IsPolicy(err):
		s.Obs.RecordBlocked(r.Context(), principal, "POLICY")
	case err != nil:
	case dec.Outcome == execution.OutcomeInaction:
		s.Obs.RecordInaction(r.Context(), principal)
	case dec.Outcome == execution.OutcomeExecuted:
		s.Obs.RecordExecuted(r.Context(), principal)
	}
}

// HandleSunset handles /v1/execution/sunset.
func (s *Service) HandleSunset(w http.ResponseWriter, r *http.Request) {
	var req CallerRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Engine.ActivateSunset(r.Context(), req.Caller, req.Principal); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "sunset"})
}

// HandleEmergencySunset handles /v1/execution/sunset/emergency.
// Permissionless by design.
func (s *Service) HandleEmergencySunset(w http.ResponseWriter, r *http.Request) {
	var req PrincipalRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Engine.EmergencySunset(r.Context(), req.Principal); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "sunset"})
}

// DepositRequest credits the treasury.
type DepositRequest struct {
	Principal string `json:"principal"`
	Amount    int64  `json:"amount"`
}

// HandleDeposit handles /v1/execution/deposit.
func (s *Service) HandleDeposit(w http.ResponseWriter, r *http.Request) {
	var req DepositRequest
	if !decode(w, r, &req) {
		return
	}
	balance, err := s.Engine.DepositToTreasury(r.Context(), req.Principal, req.Amount)
	if err != nil {
		WriteFault(w, err)
		return
	}
	s.recordDelta(r, req.Amount)
	writeJSON(w, map[string]int64{"balance": balance})
}

// RoyaltiesRequest registers the revenue split.
type RoyaltiesRequest struct {
	Principal  string                       `json:"principal"`
	Recipients []execution.RoyaltyRecipient `json:"recipients"`
}

// HandleConfigureRoyalties handles /v1/execution/royalties.
func (s *Service) HandleConfigureRoyalties(w http.ResponseWriter, r *http.Request) {
	var req RoyaltiesRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Engine.ConfigureRoyalties(r.Context(), req.Principal, req.Recipients); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "configured"})
}

// FundRequest funds a project from the treasury.
type FundRequest struct {
	Principal    string `json:"principal"`
	ProjectRef   string `json:"project_ref"`
	Recipient    string `json:"recipient"`
	Amount       int64  `json:"amount"`
	Query        string `json:"query"`
	CorpusDigest string `json:"corpus_digest"`
}

// HandleFundProject handles /v1/execution/fund.
func (s *Service) HandleFundProject(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, end := s.span(r, "execution.fund", req.Principal)
	defer end()
	dec, err := s.Engine.FundProject(ctx, req.Principal, req.ProjectRef, req.Recipient, req.Amount, req.Query, req.CorpusDigest)
	if err != nil {
		s.recordOutcome(r, req.Principal, execution.Decision{}, err)
		WriteFault(w, err)
		return
	}
	s.recordOutcome(r, req.Principal, dec, nil)
	s.recordDelta(r, -dec.Moved)
	writeJSON(w, dec)
}

// DistributeRequest splits revenue across the royalty recipients.
type DistributeRequest struct {
	Principal    string `json:"principal"`
	Amount       int64  `json:"amount"`
	Query        string `json:"query"`
	CorpusDigest string `json:"corpus_digest"`
}

// HandleDistributeRevenue handles /v1/execution/distribute.
func (s *Service) HandleDistributeRevenue(w http.ResponseWriter, r *http.Request) {
	var req DistributeRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, end := s.span(r, "execution.distribute", req.Principal)
	defer end()
	dec, err := s.Engine.DistributeRevenue(ctx, req.Principal, req.Amount, req.Query, req.CorpusDigest)
	if err != nil {
		s.recordOutcome(r, req.Principal, execution.Decision{}, err)
		WriteFault(w, err)
		return
	}
	s.recordOutcome(r, req.Principal, dec, nil)
	s.recordDelta(r, -dec.Moved)
	writeJSON(w, dec)
}

// LicenseRequest issues a license on a captured asset.
type LicenseRequest struct {
	Principal    string `json:"principal"`
	Licensee     string `json:"licensee"`
	AssetRef     string `json:"asset_ref"`
	Terms        string `json:"terms"`
	Fee          int64  `json:"fee"`
	RoyaltyBps   int    `json:"royalty_bps"`
	Query        string `json:"query"`
	CorpusDigest string `json:"corpus_digest"`
}

// LicenseResponse carries the issued license and the gating decision.
type LicenseResponse struct {
	License  execution.License  `json:"license"`
	Decision execution.Decision `json:"decision"`
}

// HandleIssueLicense handles /v1/execution/license.
func (s *Service) HandleIssueLicense(w http.ResponseWriter, r *http.Request) {
	var req LicenseRequest
	if !decode(w, r, &req) {
		return
	}
	lic, dec, err := s.Engine.IssueLicense(r.Context(), req.Principal, req.Licensee, req.AssetRef, req.Terms, req.Fee, req.RoyaltyBps, req.Query, req.CorpusDigest)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, LicenseResponse{License: lic, Decision: dec})
}

// RecoverRequest drains the remaining treasury after sunset + cooldown.
type RecoverRequest struct {
	Caller    string `json:"caller"`
	Principal string `json:"principal"`
	Recipient string `json:"recipient"`
}

// HandleRecoverFunds handles /v1/execution/recover.
func (s *Service) HandleRecoverFunds(w http.ResponseWriter, r *http.Request) {
	var req RecoverRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.Engine.EmergencyFundRecovery(r.Context(), req.Caller, req.Principal, req.Recipient); err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "recovered"})
}

// HandleExecutionState handles /v1/execution/state.
func (s *Service) HandleExecutionState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		WriteBadRequest(w, "Missing query parameter: principal")
		return
	}
	st, err := s.Engine.Snapshot(principal)
	if err != nil {
		WriteFault(w, err)
		return
	}
	writeJSON(w, st)
}

// HandleAuditEvents handles /v1/audit/events.
func (s *Service) HandleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	principal := r.URL.Query().Get("principal")
	if principal == "" {
		writeJSON(w, s.Audit.Entries())
		return
	}
	writeJSON(w, s.Audit.EntriesFor(principal))
}

// HandleAuditVerify handles /v1/audit/verify.
func (s *Service) HandleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	at, err := s.Audit.VerifyChain()
	if err != nil {
		writeJSON(w, map[string]any{"valid": false, "broken_at": at, "error": err.Error()})
		return
	}
	writeJSON(w, map[string]any{"valid": true})
}
