package verify

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/normalize"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/resolve"
	"github.com/sells-group/intake-cli/internal/rules"
	"github.com/sells-group/intake-cli/internal/status"
)

// Warning codes raised when the external tier fails for a field.
const (
	WarnVerifierUnavailable = "verifier_unavailable"
	WarnVerifierMalformed   = "verifier_malformed"
)

// Report describes what one validation pass did.
type Report struct {
	TierTwo     bool            `json:"tier_two"`
	Checked     []string        `json:"checked"`
	Unavailable []string        `json:"unavailable"`
	Malformed   []string        `json:"malformed"`
	Changed     []string        `json:"changed"`
	Warnings    []model.Warning `json:"warnings"`
}

// Orchestrator runs tier one (rules) over every field and tier two (an
// external verifier) over the fields tier one left non-green.
type Orchestrator struct {
	reg         *model.FieldRegistry
	rules       *rules.Validator
	classifier  *status.Classifier
	verifier    Verifier
	guard       *resilience.Guard
	limiter     *rate.Limiter
	concurrency int
	now         func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithVerifier enables tier two. Calls go through g; a nil guard gets a
// default one with a 30 second timeout.
func WithVerifier(v Verifier, g *resilience.Guard) Option {
	return func(o *Orchestrator) {
		o.verifier = v
		o.guard = g
	}
}

// WithConcurrency bounds the number of in-flight verifier calls.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRateLimit caps verifier calls per second. Zero disables the limit.
func WithRateLimit(rps float64) Option {
	return func(o *Orchestrator) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), int(math.Max(1, math.Ceil(rps))))
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an Orchestrator. Without WithVerifier only tier
// one runs.
func NewOrchestrator(reg *model.FieldRegistry, validator *rules.Validator, classifier *status.Classifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		reg:         reg,
		rules:       validator,
		classifier:  classifier,
		concurrency: 4,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.verifier != nil && o.guard == nil {
		o.guard = resilience.NewGuard(o.verifier.Name(), 30*time.Second)
	}
	return o
}

// TierTwoEnabled reports whether an external verifier is configured.
func (o *Orchestrator) TierTwoEnabled() bool {
	return o.verifier != nil
}

type target struct {
	spec  *model.FieldSpec
	field *model.Field
}

type outcome struct {
	resp *Response
	err  error
}

// Run validates the run state in place. Verifier failures never fail the
// pass: they become warnings and the field keeps its tier-one result. Only
// cancellation of ctx is returned as an error.
func (o *Orchestrator) Run(ctx context.Context, state *model.RunState, tierTwo bool) (Report, error) {
	report := Report{
		Checked:     []string{},
		Unavailable: []string{},
		Malformed:   []string{},
		Changed:     []string{},
		Warnings:    []model.Warning{},
	}
	before := state.Fields.Clone()

	for _, w := range o.rules.Apply(state.Fields) {
		state.AddWarning(w)
		report.Warnings = append(report.Warnings, w)
	}
	o.classifier.Apply(o.reg, state.Fields)

	if tierTwo && o.verifier != nil {
		report.TierTwo = true
		targets := o.targets(state)
		outcomes, err := o.dispatch(ctx, targets)
		if err != nil {
			return report, err
		}
		for i, t := range targets {
			report.Checked = append(report.Checked, t.spec.Path)
			if w, ok := o.absorb(t, outcomes[i], &report); ok {
				state.AddWarning(w)
				report.Warnings = append(report.Warnings, w)
			}
		}
		o.classifier.Apply(o.reg, state.Fields)
	}

	for _, spec := range o.reg.Fields {
		f, ok := state.Fields[spec.Path]
		if !ok {
			continue
		}
		if f.Changed(before[spec.Path]) {
			f.Version++
			report.Changed = append(report.Changed, spec.Path)
		}
	}
	if len(report.Changed) > 0 {
		state.Version++
	}

	zap.L().Info("verify: validation pass complete",
		zap.String("run_id", state.RunID),
		zap.Bool("tier_two", report.TierTwo),
		zap.Int("checked", len(report.Checked)),
		zap.Int("unavailable", len(report.Unavailable)),
		zap.Int("malformed", len(report.Malformed)),
		zap.Int("changed", len(report.Changed)),
	)
	return report, nil
}

// targets selects the fields tier two looks at: non-green, non-empty, not
// locked or confirmed by a human, and not reserved for human entry.
func (o *Orchestrator) targets(state *model.RunState) []target {
	var out []target
	for i := range o.reg.Fields {
		spec := &o.reg.Fields[i]
		f, ok := state.Fields[spec.Path]
		if !ok || !f.HasValue() || f.Locked || f.Confirmed != nil || spec.HumanRequired {
			continue
		}
		if f.Status == model.StatusGreen {
			continue
		}
		out = append(out, target{spec: spec, field: f})
	}
	return out
}

// dispatch calls the verifier for every target with bounded concurrency.
// Results are indexed by target so the merge order does not depend on
// completion order.
func (o *Orchestrator) dispatch(ctx context.Context, targets []target) ([]outcome, error) {
	outcomes := make([]outcome, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for i, t := range targets {
		req := Request{
			Path:     t.spec.Path,
			Document: t.spec.Document,
			Label:    t.spec.Label,
			Type:     t.spec.Type,
			Value:    t.field.StringValue(),
			Evidence: t.field.Evidence,
		}
		g.Go(func() error {
			if o.limiter != nil {
				if err := o.limiter.Wait(gctx); err != nil {
					outcomes[i] = outcome{err: err}
					return nil
				}
			}
			resp, err := resilience.Call(gctx, o.guard, func(ctx context.Context) (*Response, error) {
				r, err := o.verifier.Verify(ctx, req)
				if err != nil {
					return nil, err
				}
				if err := r.Validate(o.verifier.Name()); err != nil {
					return nil, err
				}
				return r, nil
			})
			outcomes[i] = outcome{resp: resp, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "verify: validation cancelled")
	}
	return outcomes, nil
}

// absorb folds one verifier outcome into its field. Returns a warning when
// the verifier failed for the field.
func (o *Orchestrator) absorb(t target, out outcome, report *Report) (model.Warning, bool) {
	path := t.spec.Path
	if out.err != nil {
		var malformed *model.MalformedResponseError
		if errors.As(out.err, &malformed) {
			report.Malformed = append(report.Malformed, path)
			zap.L().Warn("verify: malformed verifier response",
				zap.String("field", path), zap.Error(out.err))
			return model.Warning{Code: WarnVerifierMalformed, Field: path, Message: out.err.Error()}, true
		}
		report.Unavailable = append(report.Unavailable, path)
		zap.L().Warn("verify: verifier unavailable",
			zap.String("field", path), zap.Error(out.err))
		return model.Warning{Code: WarnVerifierUnavailable, Field: path, Message: out.err.Error()}, true
	}

	f := t.field
	resp := out.resp
	ext := &model.ExternalResult{
		Verdict:            resp.Verdict,
		Confidence:         math.Round(resp.Confidence*100) / 100,
		Reason:             resp.Reason,
		RequiresHumanInput: resp.RequiresHumanInput,
		CheckedAt:          o.now().UTC(),
	}
	if !sameExternal(f.External, ext) {
		f.External = ext
	}
	if resp.RequiresHumanInput {
		f.RequiresHumanInput = true
	}

	value := normalize.Collapse(resp.SuggestedValue)
	evidence := normalize.Collapse(resp.SuggestedEvidence)
	if value != "" && evidence != "" &&
		normalize.Key(value, t.spec.Type) != normalize.Key(f.StringValue(), t.spec.Type) {
		f.Suggestions = resolve.AddSuggestion(t.spec.Type, f.Suggestions, model.Suggestion{
			Value:                value,
			Source:               model.SourceExternal,
			Confidence:           ext.Confidence,
			Reason:               resp.Reason,
			Evidence:             evidence,
			RequiresConfirmation: true,
		})
	}
	return model.Warning{}, false
}

func sameExternal(a, b *model.ExternalResult) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Verdict == b.Verdict && a.Confidence == b.Confidence &&
		a.Reason == b.Reason && a.RequiresHumanInput == b.RequiresHumanInput
}
