// Command covenantd runs the covenant executor server: intent ledger,
// trigger coordinator, resolution engine, and gated execution engine
// behind one HTTP surface.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/covenantlabs/covenant/pkg/api"
	"github.com/covenantlabs/covenant/pkg/audit"
	"github.com/covenantlabs/covenant/pkg/authority"
	"github.com/covenantlabs/covenant/pkg/clock"
	"github.com/covenantlabs/covenant/pkg/config"
	"github.com/covenantlabs/covenant/pkg/corpus"
	"github.com/covenantlabs/covenant/pkg/execution"
	"github.com/covenantlabs/covenant/pkg/intent"
	"github.com/covenantlabs/covenant/pkg/observability"
	"github.com/covenantlabs/covenant/pkg/oracle"
	"github.com/covenantlabs/covenant/pkg/policy"
	"github.com/covenantlabs/covenant/pkg/resolution"
	"github.com/covenantlabs/covenant/pkg/store"
	"github.com/covenantlabs/covenant/pkg/treasury"
	"github.com/covenantlabs/covenant/pkg/trigger"
)

// Built-in service identities. Grants for external identities come from
// the CAPABILITY_GRANTS environment variable.
const (
	coordinatorIdentity = "svc:trigger-coordinator"
	activatorIdentity   = "svc:activation"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event store: Postgres when DATABASE_URL is set, SQLite otherwise.
	var (
		events store.EventStore
		closer interface{ Close() error }
	)
	if cfg.DatabaseURL != "" {
		ps, err := store.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return err
		}
		events, closer = ps, ps
		logger.Info("event store ready", "backend", "postgres")
	} else {
		ss, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return err
		}
		events, closer = ss, ss
		logger.Info("event store ready", "backend", "sqlite", "path", cfg.SQLitePath)
	}
	defer func() { _ = closer.Close() }()

	wall := clock.System()

	auditLog := audit.NewLog(wall)
	auditLog.SetSink(events)

	caps := authority.NewTable()
	caps.Grant(authority.OpTrigger, coordinatorIdentity)
	caps.Grant(authority.OpActivate, activatorIdentity)
	applyGrants(caps, os.Getenv("CAPABILITY_GRANTS"), logger)

	intents := intent.NewLedger(caps, auditLog, wall)

	var profile *config.DeploymentProfile
	if code := os.Getenv("PROFILE"); code != "" {
		p, err := config.LoadProfile(cfg.ProfilesDir, code)
		if err != nil {
			return err
		}
		profile = p
		logger.Info("deployment profile loaded", "profile", p.Name, "code", p.Code)
	}

	cache, err := buildResolutionCache(cfg, profile, logger)
	if err != nil {
		return err
	}
	resolver := resolution.NewEngine(cache, caps, auditLog, wall)

	issuers := splitList(os.Getenv("ORACLE_ISSUERS"))
	if profile != nil {
		issuers = append(issuers, profile.Oracle.Issuers...)
	}

	keyfunc := oracle.DenyAllKeyfunc()
	if path := os.Getenv("ORACLE_PUBKEY_FILE"); path != "" {
		kf, err := oracle.KeyfuncFromPEMFile(path)
		if err != nil {
			return err
		}
		keyfunc = kf
	} else {
		logger.Warn("ORACLE_PUBKEY_FILE not set; oracle-consensus triggers will fail closed")
	}
	verifier, err := oracle.NewVerifier(keyfunc, issuers)
	if err != nil {
		return err
	}
	triggers := trigger.NewCoordinator(coordinatorIdentity, intents, oracle.LocalProvider(), verifier, auditLog, wall)

	filter, err := policy.NewFilter()
	if err != nil {
		return err
	}
	var limits treasury.Limits
	if profile != nil {
		limits = treasury.Limits{
			MaxSingleTransfer: profile.Treasury.MaxSingleTransfer,
			MaxDailySpend:     profile.Treasury.MaxDailySpend,
		}
	}
	engine := execution.NewEngine(
		intents,
		resolver,
		filter,
		treasury.NewLimited(limits, wall),
		treasury.NewLocalSink(),
		caps,
		auditLog,
		wall,
	)

	corpusStore, err := buildCorpusRouter(ctx, cfg, logger)
	if err != nil {
		return err
	}

	svc := api.NewService(intents, triggers, engine, resolver, corpusStore, auditLog, logger)
	if profile != nil {
		svc.Defaults = profile.Trigger
	}
	// Check-ins are additionally limited per principal, on top of the
	// per-address middleware.
	svc.CheckIns = api.NewGlobalRateLimiter(1, 5)

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = endpoint
		obsCfg.Environment = os.Getenv("ENVIRONMENT")
		obsCfg.Insecure = os.Getenv("OTEL_INSECURE") == "true"
		obs, err := observability.New(ctx, obsCfg)
		if err != nil {
			return err
		}
		defer func() { _ = obs.Shutdown(context.Background()) }()
		svc.Obs = obs
	}

	limiter := api.NewGlobalRateLimiter(50, 100)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           svc.Mux(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("covenantd listening", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildResolutionCache selects the resolution cache backend. The
// deployment profile wins over the bare REDIS_ADDR heuristic; asking
// for redis without an address is a startup error, not a silent
// fallback.
func buildResolutionCache(cfg *config.Config, profile *config.DeploymentProfile, logger *slog.Logger) (resolution.Cache, error) {
	backend := "memory"
	if cfg.RedisAddr != "" {
		backend = "redis"
	}
	ttl := 24 * time.Hour
	if profile != nil {
		if profile.Resolution.CacheBackend != "" {
			backend = profile.Resolution.CacheBackend
		}
		if profile.Resolution.CacheTTLMins > 0 {
			ttl = time.Duration(profile.Resolution.CacheTTLMins) * time.Minute
		}
	}
	switch backend {
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, errors.New("profile requires the redis cache backend but REDIS_ADDR is not set")
		}
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		logger.Info("resolution cache ready", "backend", "redis", "addr", cfg.RedisAddr, "ttl", ttl)
		return resolution.NewRedisCache(client, ttl), nil
	case "memory":
		return resolution.NewMemoryCache(), nil
	default:
		return nil, errors.New("unknown resolution cache backend " + backend)
	}
}

// buildCorpusRouter binds corpus storage backends by URI scheme. The
// filesystem store is always available; s3 and gcs are opted in through
// CORPUS_BACKENDS because their clients reach for ambient credentials.
func buildCorpusRouter(ctx context.Context, cfg *config.Config, logger *slog.Logger) (corpus.Store, error) {
	fs := &corpus.FSStore{Root: cfg.CorpusRoot}
	bindings := map[string]corpus.Store{
		"":     fs,
		"file": fs,
	}
	for _, backend := range splitList(os.Getenv("CORPUS_BACKENDS")) {
		switch backend {
		case "s3":
			s3s, err := corpus.NewS3Store(ctx)
			if err != nil {
				return nil, err
			}
			bindings["s3"] = s3s
			logger.Info("corpus backend ready", "scheme", "s3")
		case "gcs":
			gcss, err := corpus.NewGCSStore(ctx)
			if err != nil {
				return nil, err
			}
			bindings["gs"] = gcss
			logger.Info("corpus backend ready", "scheme", "gs")
		default:
			logger.Warn("unknown corpus backend", "backend", backend)
		}
	}
	return corpus.NewRouter(bindings), nil
}

// applyGrants parses "operation=identity" pairs separated by commas,
// e.g. "resolution.index=svc:indexer,execution.recover=estate:alice".
func applyGrants(caps *authority.Table, spec string, logger *slog.Logger) {
	for _, pair := range splitList(spec) {
		op, identity, ok := strings.Cut(pair, "=")
		if !ok || op == "" || identity == "" {
			logger.Warn("skipping malformed capability grant", "grant", pair)
			continue
		}
		caps.Grant(authority.Operation(op), identity)
	}
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
