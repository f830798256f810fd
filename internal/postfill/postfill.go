// Package postfill checks what the form-filling collaborator actually put on
// the form against the approved canonical snapshot.
package postfill

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/review"
	"github.com/sells-group/intake-cli/internal/verify"
)

// Codes attached to validation entries.
const (
	CodeAutofillFailed   = "autofill_failed"
	CodeReadbackMismatch = "readback_mismatch"
)

// Validator re-validates a filled snapshot.
type Validator struct {
	reg  *model.FieldRegistry
	orch *verify.Orchestrator
	now  func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithNow overrides the clock stamped on reports.
func WithNow(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// New creates a Validator. orch supplies tier one, the optional tier two and
// classification.
func New(reg *model.FieldRegistry, orch *verify.Orchestrator, opts ...Option) *Validator {
	v := &Validator{reg: reg, orch: orch, now: time.Now}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Validate builds the validation report for snap given the filler's report.
// presence is the document presence of the live run. Nothing is persisted
// here; a context cancelled at any point, including right before the report
// is handed back, yields context.Canceled and no report.
func (v *Validator) Validate(ctx context.Context, snap *model.CanonicalFields, fill *model.FillReport, presence map[string]model.Presence, tierTwo bool) (*model.ValidationReport, error) {
	if snap == nil {
		return nil, eris.Wrap(model.ErrNotApproved, "postfill: no canonical snapshot")
	}
	if fill == nil {
		fill = &model.FillReport{RunID: snap.RunID, ApprovalID: snap.ApprovalID}
	}
	if fill.ApprovalID != "" && fill.ApprovalID != snap.ApprovalID {
		return nil, eris.Wrapf(model.ErrStaleApproval, "postfill: fill report is for approval %s, snapshot is %s", fill.ApprovalID, snap.ApprovalID)
	}

	work := &model.RunState{
		RunID:    snap.RunID,
		Fields:   snap.Fields.Clone(),
		Presence: presence,
		Version:  snap.Version,
	}
	entries := make(map[string]model.ValidationEntry, len(work.Fields))

	for path, f := range work.Fields {
		e := model.ValidationEntry{Expected: cloneValue(f.Value)}
		if a, ok := fill.Attempt(path); ok {
			e.FillResult = a.Result
			if a.DOMReadbackValue != nil {
				e.FromDOM = true
				dom := strings.TrimSpace(*a.DOMReadbackValue)
				if dom != strings.TrimSpace(f.StringValue()) {
					e.Codes = append(e.Codes, CodeReadbackMismatch)
					f.Confirmed = nil
				}
				f.Value = model.Ptr(dom)
			}
			if a.Result == model.FillFail {
				e.Codes = append(e.Codes, failureCode(a))
			}
		}
		prepare(f)
		entries[path] = e
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vr, err := v.orch.Run(ctx, work, tierTwo)
	if err != nil {
		return nil, err
	}

	for i := range v.reg.Fields {
		spec := &v.reg.Fields[i]
		f, ok := work.Fields[spec.Path]
		if !ok {
			continue
		}
		e := entries[spec.Path]
		e.Status = overlay(spec, f.Status, e)
		f.Status = e.Status
		e.Value = cloneValue(f.Value)
		if f.Rule != nil {
			r := *f.Rule
			e.Rule = &r
			e.Codes = appendUnique(e.Codes, f.Rule.Codes...)
		}
		entries[spec.Path] = e
	}

	report := &model.ValidationReport{
		RunID:       snap.RunID,
		ApprovalID:  snap.ApprovalID,
		Fields:      entries,
		Summary:     review.Build(v.reg, work),
		Warnings:    vr.Warnings,
		ValidatedAt: v.now().UTC(),
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	zap.L().Info("postfill: validation complete",
		zap.String("run_id", snap.RunID),
		zap.String("approval_id", snap.ApprovalID),
		zap.Int("blocking", report.Summary.Blocking),
		zap.Int("needs_review", report.Summary.NeedsReview),
	)
	return report, nil
}

// prepare turns an approved field back into a checkable one. The approved
// value is taken as given: only the rules, the readback, the fill result and
// the verifier can downgrade it. Human pins stand unless the readback moved
// the value.
func prepare(f *model.Field) {
	if f.Confirmed != nil {
		return
	}
	f.Locked = false
	f.Confidence = 1
	f.Suggestions = nil
	f.External = nil
}

// overlay applies the fill outcome on top of the classified status.
func overlay(spec *model.FieldSpec, s model.Status, e model.ValidationEntry) model.Status {
	if e.FillResult == model.FillFail {
		if spec.Required {
			return model.StatusRed
		}
		if s != model.StatusRed {
			return model.StatusAmber
		}
		return s
	}
	if s == model.StatusGreen && hasCode(e.Codes, CodeReadbackMismatch) {
		return model.StatusAmber
	}
	return s
}

func failureCode(a model.FillAttempt) string {
	if a.FailureReasonCode != nil {
		if c := strings.TrimSpace(*a.FailureReasonCode); c != "" {
			return c
		}
	}
	return CodeAutofillFailed
}

func cloneValue(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func hasCode(codes []string, code string) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

func appendUnique(codes []string, add ...string) []string {
	for _, c := range add {
		if !hasCode(codes, c) {
			codes = append(codes, c)
		}
	}
	return codes
}
