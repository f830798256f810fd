package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/canonical"
	"github.com/sells-group/intake-cli/internal/fill"
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/pipeline"
	"github.com/sells-group/intake-cli/internal/postfill"
	"github.com/sells-group/intake-cli/internal/registry"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/resolve"
	"github.com/sells-group/intake-cli/internal/review"
	"github.com/sells-group/intake-cli/internal/rules"
	"github.com/sells-group/intake-cli/internal/status"
	"github.com/sells-group/intake-cli/internal/store"
	"github.com/sells-group/intake-cli/internal/verify"
	anthropicpkg "github.com/sells-group/intake-cli/pkg/anthropic"
)

// intakeEnv holds the store, registry and pipeline service needed by the
// stage commands and the server.
type intakeEnv struct {
	Store    store.Store
	Files    *store.Files
	Registry *model.FieldRegistry
	Service  *pipeline.Service
}

// Close releases resources held by the environment.
func (e *intakeEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initService validates the config for mode, opens the store and builds the
// pipeline service. Callers should defer env.Close().
func initService(ctx context.Context, mode string) (*intakeEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	reg, err := registry.LoadFile(cfg.Registry.Path)
	if err != nil {
		return nil, err
	}

	files, err := store.NewFiles(cfg.Store.RunsDir)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	th := cfg.Validation.Thresholds()
	validator := rules.NewValidator(reg)
	classifier := status.New(th)
	gate := review.NewGate(reg, classifier)

	orchOpts := []verify.Option{
		verify.WithConcurrency(cfg.Validation.VerifierConcurrency),
		verify.WithRateLimit(cfg.Validation.VerifierRPS),
	}
	if v := selectVerifier(newVerifierRegistry()); v != nil {
		orchOpts = append(orchOpts, verify.WithVerifier(v, newGuard(v.Name(), cfg.Validation.VerifierTimeout(), cfg.Validation.VerifierMaxAttempts)))
	}
	orch := verify.NewOrchestrator(reg, validator, classifier, orchOpts...)

	deps := pipeline.Deps{
		Registry:  reg,
		Files:     files,
		Index:     st,
		Merger:    resolve.NewMerger(reg, th),
		Gate:      gate,
		Validator: orch,
		Manager:   canonical.NewManager(reg, validator, gate),
		Post:      postfill.New(reg, orch),
	}
	if cfg.Fill.WebhookURL != "" {
		deps.Filler = fill.NewWebhookFiller(cfg.Fill.WebhookURL, &http.Client{})
		// Fill submits a form; a timed-out attempt is not retried.
		deps.FillGuard = newGuard(deps.Filler.Name(), cfg.Fill.Timeout(), 1)
	}

	zap.L().Debug("intake service ready",
		zap.String("store", cfg.Store.Driver),
		zap.Int("fields", len(reg.Fields)),
		zap.Bool("tier_two", orch.TierTwoEnabled()),
		zap.Bool("filler", deps.Filler != nil),
	)

	return &intakeEnv{
		Store:    st,
		Files:    files,
		Registry: reg,
		Service:  pipeline.New(deps),
	}, nil
}

// newVerifierRegistry registers every verifier the config can enable.
func newVerifierRegistry() *verify.Registry {
	r := verify.NewRegistry()
	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		r.Register(verify.NewAnthropicVerifier(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens))
	}
	return r
}

// selectVerifier returns the configured verifier, or nil when tier two is
// off.
func selectVerifier(r *verify.Registry) verify.Verifier {
	name := cfg.Validation.Verifier
	if name == "" || name == "off" {
		return nil
	}
	v := r.Get(name)
	if v == nil {
		zap.L().Warn("verifier not available, tier two disabled",
			zap.String("verifier", name),
			zap.Strings("registered", r.List()),
		)
	}
	return v
}

// newGuard wraps a collaborator with the configured breaker settings.
// attempts of zero keeps the default retry count.
func newGuard(name string, timeout time.Duration, attempts int) *resilience.Guard {
	g := resilience.NewGuard(name, timeout)
	if attempts > 0 {
		g.Retry.MaxAttempts = attempts
	}
	if cfg.Validation.BreakerThreshold > 0 {
		g.Breaker = resilience.NewBreaker(name, cfg.Validation.BreakerThreshold, cfg.Validation.BreakerCooldown())
	}
	return g
}
