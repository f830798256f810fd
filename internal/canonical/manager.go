// Package canonical owns every human-confirmed write to a run: edits,
// bulk acceptance, suggestion and conflict resolution, and approval of the
// canonical snapshot that form filling reads.
package canonical

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/review"
	"github.com/sells-group/intake-cli/internal/rules"
)

// Confirmation actions recorded on a field.
const (
	ActionEdit            = "edit"
	ActionAcceptAll       = "accept-all"
	ActionApplySuggestion = "apply-suggestion"
	ActionResolveConflict = "resolve-conflict"
	ActionConfirmInvalid  = "confirm-invalid"
	ActionApprove         = "approve"
)

// Manager applies human operations to a loaded run state. Callers hold the
// run's lock (see Locks) across load, mutation and persist.
type Manager struct {
	reg       *model.FieldRegistry
	validator *rules.Validator
	gate      *review.Gate
	now       func() time.Time
	newID     func() string
}

// Option configures a Manager.
type Option func(*Manager)

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDFunc overrides approval id generation.
func WithIDFunc(fn func() string) Option {
	return func(m *Manager) { m.newID = fn }
}

// NewManager creates a Manager.
func NewManager(reg *model.FieldRegistry, validator *rules.Validator, gate *review.Gate, opts ...Option) *Manager {
	m := &Manager{
		reg:       reg,
		validator: validator,
		gate:      gate,
		now:       time.Now,
		newID:     func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) field(state *model.RunState, path string) (*model.FieldSpec, *model.Field, error) {
	spec := m.reg.ByPath(path)
	if spec == nil {
		return nil, nil, eris.Wrapf(model.ErrUnknownField, "canonical: %s", path)
	}
	f, ok := state.Fields[path]
	if !ok {
		f = model.NewField(spec)
		state.Fields[path] = f
	}
	return spec, f, nil
}

// Edit sets a field to value as a human confirmation. Unless force is set,
// a value the rules reject, or an empty value on a required field, is
// refused with a *model.FormatError and nothing changes.
func (m *Manager) Edit(state *model.RunState, path, value string, force bool) (*model.Field, error) {
	return m.edit(state, path, value, force, ActionEdit)
}

func (m *Manager) edit(state *model.RunState, path, value string, force bool, action string) (*model.Field, error) {
	spec, f, err := m.field(state, path)
	if err != nil {
		return nil, err
	}

	var rule *model.RuleResult
	if value != "" {
		r, err := m.validator.Check(path, value, state.Fields)
		if err != nil {
			return nil, eris.Wrapf(err, "canonical: check %s", path)
		}
		rule = &r
	}
	if !force {
		switch {
		case value == "" && (spec.Required || spec.HumanRequired):
			return nil, &model.FormatError{Path: path, Codes: []string{"required"}}
		case rule != nil && rule.Verdict == model.VerdictInvalid:
			return nil, &model.FormatError{Path: path, Codes: rule.Codes}
		}
	}

	var v *string
	if value != "" {
		v = model.Ptr(value)
	}
	m.confirm(state, f, v, model.SourceUser, f.Evidence, action)
	f.Rule = rule
	return f, nil
}

// confirm writes a human-confirmed value: user-grade confidence, locked,
// conflict and suggestions cleared, status pinned green.
func (m *Manager) confirm(state *model.RunState, f *model.Field, value *string, src model.Source, evidence, action string) {
	f.Value = value
	f.Source = src
	f.Confidence = 1.0
	f.Locked = true
	f.RequiresHumanInput = false
	f.Conflict = nil
	f.Suggestions = nil
	f.External = nil
	f.Evidence = evidence
	f.Status = model.StatusGreen
	f.Confirmed = &model.Confirmation{Status: model.StatusGreen, Action: action, At: m.now().UTC()}
	m.bump(state, f)
}

func (m *Manager) bump(state *model.RunState, f *model.Field) {
	f.Version++
	state.Version++
	state.UpdatedAt = m.now().UTC()
}

// AcceptAll force-accepts the current value of every blocking and
// needs-review field. Returns the accepted paths.
func (m *Manager) AcceptAll(state *model.RunState) ([]string, error) {
	summary := m.gate.Summarize(state)
	paths := append(append([]string{}, summary.BlockingFields...), summary.ReviewFields...)
	for _, path := range paths {
		f := state.Fields[path]
		if _, err := m.edit(state, path, f.StringValue(), true, ActionAcceptAll); err != nil {
			return nil, err
		}
	}
	zap.L().Info("canonical: accepted outstanding fields",
		zap.String("run_id", state.RunID), zap.Int("count", len(paths)))
	return paths, nil
}

// ApplySuggestion accepts suggestion index of the field. Suggestions from
// the external verifier are recorded as ai-applied, others as user.
func (m *Manager) ApplySuggestion(state *model.RunState, path string, index int) (*model.Field, error) {
	_, f, err := m.field(state, path)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(f.Suggestions) {
		return nil, eris.Wrapf(model.ErrNoSuggestion, "canonical: %s index %d", path, index)
	}
	s := f.Suggestions[index]
	src := model.SourceUser
	if s.Source == model.SourceExternal {
		src = model.SourceAIApplied
	}
	m.confirm(state, f, model.Ptr(s.Value), src, s.Evidence, ActionApplySuggestion)
	if r, err := m.validator.Check(path, s.Value, state.Fields); err == nil {
		f.Rule = &r
	}
	return f, nil
}

// ResolveConflict picks the conflict candidate with the given label.
func (m *Manager) ResolveConflict(state *model.RunState, path, label string) (*model.Field, error) {
	_, f, err := m.field(state, path)
	if err != nil {
		return nil, err
	}
	if f.Conflict == nil {
		return nil, eris.Wrapf(model.ErrNoConflict, "canonical: %s has no conflict", path)
	}
	c, ok := f.Conflict.Candidate(label)
	if !ok {
		return nil, eris.Wrapf(model.ErrNoConflict, "canonical: %s candidate %q", path, label)
	}
	m.confirm(state, f, model.Ptr(c.Value), model.SourceUser, c.Evidence, ActionResolveConflict)
	if r, err := m.validator.Check(path, c.Value, state.Fields); err == nil {
		f.Rule = &r
	}
	return f, nil
}

// ConfirmInvalid records a human judgement that the field is wrong. The
// field is locked red and later passes leave it alone.
func (m *Manager) ConfirmInvalid(state *model.RunState, path string) (*model.Field, error) {
	_, f, err := m.field(state, path)
	if err != nil {
		return nil, err
	}
	f.Locked = true
	f.Status = model.StatusRed
	f.Confirmed = &model.Confirmation{Status: model.StatusRed, Action: ActionConfirmInvalid, At: m.now().UTC()}
	m.bump(state, f)
	return f, nil
}

// Approve snapshots the field map once nothing blocks. Every field is
// locked so later extraction passes cannot change it. When prev is a
// snapshot of the current version it is returned unchanged.
func (m *Manager) Approve(state *model.RunState, prev *model.CanonicalFields) (*model.CanonicalFields, model.ReviewSummary, error) {
	summary := m.gate.Summarize(state)
	if summary.Blocking > 0 {
		return nil, summary, &model.ApprovalPreconditionError{Blocking: summary.BlockingFields}
	}
	if prev != nil && !Stale(state, prev) {
		return prev, summary, nil
	}

	changed := false
	for i := range m.reg.Fields {
		f, ok := state.Fields[m.reg.Fields[i].Path]
		if !ok || f.Locked {
			continue
		}
		f.Locked = true
		f.Version++
		changed = true
	}
	if changed {
		state.Version++
		state.UpdatedAt = m.now().UTC()
		summary = m.gate.Summarize(state)
	}

	snap := &model.CanonicalFields{
		RunID:      state.RunID,
		ApprovalID: m.newID(),
		ApprovedAt: m.now().UTC(),
		Version:    state.Version,
		Fields:     state.Fields.Clone(),
	}
	zap.L().Info("canonical: run approved",
		zap.String("run_id", state.RunID),
		zap.String("approval_id", snap.ApprovalID),
		zap.Int("version", snap.Version),
	)
	return snap, summary, nil
}

// Stale reports whether the snapshot no longer matches the live state.
func Stale(state *model.RunState, snap *model.CanonicalFields) bool {
	return snap == nil || snap.Version != state.Version
}

// Usable returns the snapshot for form filling, or an error when it is
// missing or stale.
func Usable(state *model.RunState, snap *model.CanonicalFields) (*model.CanonicalFields, error) {
	if snap == nil {
		return nil, eris.Wrapf(model.ErrNotApproved, "canonical: run %s", state.RunID)
	}
	if Stale(state, snap) {
		return nil, eris.Wrapf(model.ErrStaleApproval, "canonical: run %s", state.RunID)
	}
	return snap, nil
}
