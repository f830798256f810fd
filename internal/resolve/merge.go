package resolve

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/normalize"
)

// conflictConfidenceCap bounds the confidence of a provisional value that
// another credible source disputes.
const conflictConfidenceCap = 0.7

// Merger applies extractor output to a run's field map. It is the only
// automatic writer of values; human writes go through the canonical
// package.
type Merger struct {
	reg      *model.FieldRegistry
	scorer   *Scorer
	detector *Detector
	now      func() time.Time
}

// Option configures a Merger.
type Option func(*Merger)

// WithNow overrides the clock used for conflict timestamps.
func WithNow(now func() time.Time) Option {
	return func(m *Merger) { m.now = now }
}

// NewMerger creates a Merger for the given registry and thresholds.
func NewMerger(reg *model.FieldRegistry, th model.Thresholds, opts ...Option) *Merger {
	m := &Merger{
		reg:      reg,
		scorer:   NewScorer(th),
		detector: NewDetector(th),
		now:      time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// MergeResult reports what a merge pass did.
type MergeResult struct {
	Changed []string `json:"changed"`
	Skipped []string `json:"skipped"`
	Unknown []string `json:"unknown"`
}

// Init ensures the state holds an entry for every registry path.
func (m *Merger) Init(state *model.RunState) {
	if state.Fields == nil {
		state.Fields = make(model.FieldMap, len(m.reg.Fields))
	}
	for i := range m.reg.Fields {
		spec := &m.reg.Fields[i]
		if _, ok := state.Fields[spec.Path]; !ok {
			state.Fields[spec.Path] = model.NewField(spec)
		}
	}
}

// candidates groups the extraction by path, filling in the document of each
// candidate and copying mirrored identity candidates onto their mirrors.
func (m *Merger) candidates(ext model.Extraction) (map[string][]model.Candidate, []string) {
	paths := make([]string, 0, len(ext.Fields))
	for path := range ext.Fields {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	out := make(map[string][]model.Candidate)
	var unknown []string
	for _, path := range paths {
		cands := ext.Fields[path]
		spec := m.reg.ByPath(path)
		if spec == nil {
			unknown = append(unknown, path)
			continue
		}
		for _, c := range cands {
			if c.Document == "" {
				c.Document = spec.Document
			}
			out[path] = append(out[path], c)
			for _, mirror := range m.reg.MirroredBy(path) {
				out[mirror.Path] = append(out[mirror.Path], c)
			}
		}
	}
	return out, unknown
}

// Merge scores every candidate, selects the provisional value of each
// reported path, and records conflicts. Locked fields are never touched.
// An existing conflict is never cleared here, only extended.
func (m *Merger) Merge(state *model.RunState, ext model.Extraction) MergeResult {
	m.Init(state)
	now := m.now()
	var res MergeResult

	for _, w := range ext.Warnings {
		state.AddWarning(w)
	}
	if len(ext.Presence) > 0 && state.Presence == nil {
		state.Presence = make(map[string]model.Presence, len(ext.Presence))
	}
	for doc, p := range ext.Presence {
		state.Presence[doc] = p
	}

	byPath, unknown := m.candidates(ext)
	res.Unknown = unknown
	for _, p := range unknown {
		state.AddWarning(model.Warning{Code: "unknown_field", Field: p, Message: "extractor reported a path outside the field registry"})
	}

	for i := range m.reg.Fields {
		spec := &m.reg.Fields[i]
		cands, ok := byPath[spec.Path]
		if !ok {
			continue
		}
		f := state.Fields[spec.Path]
		if f.Locked {
			res.Skipped = append(res.Skipped, spec.Path)
			zap.L().Debug("resolve: locked field skipped", zap.String("path", spec.Path))
			continue
		}

		before := f.Clone()
		if w, rejected := m.mergeField(spec, f, cands, now); rejected {
			state.AddWarning(w)
		}
		if f.Changed(before) {
			f.Version++
			res.Changed = append(res.Changed, spec.Path)
		}
	}

	if len(res.Changed) > 0 {
		state.Version++
		state.UpdatedAt = now
	}
	return res
}

// mergeField resolves one field in place. The returned warning is set when
// every candidate carrying a value was rejected.
func (m *Merger) mergeField(spec *model.FieldSpec, f *model.Field, cands []model.Candidate, now time.Time) (model.Warning, bool) {
	attempts := make([]model.ProvenanceAttempt, len(cands))
	for i, c := range cands {
		attempts[i] = m.scorer.Score(spec, c)
	}

	winner := m.pickWinner(attempts)
	prevKey := normalize.Key(f.StringValue(), spec.Type)

	var warning model.Warning
	rejectedAll := false
	if winner < 0 {
		f.Value = nil
		f.Evidence = ""
		f.Source = ""
		f.Confidence = 0
		for _, a := range attempts {
			if a.Rejected && a.Reason != ReasonEmpty {
				rejectedAll = true
				warning = model.Warning{
					Code:    "candidate_rejected",
					Field:   spec.Path,
					Message: fmt.Sprintf("%s value rejected as %s", a.Label(), a.Reason),
				}
				break
			}
		}
	} else {
		attempts[winner].Winner = true
		w := attempts[winner]
		f.Value = model.Ptr(w.Value)
		f.Evidence = w.Evidence
		f.Source = w.Source
		f.Confidence = w.Confidence
	}
	f.Attempts = attempts

	if c := m.detector.Detect(spec.Type, attempts, now); c != nil {
		if f.Conflict != nil {
			c = union(f.Conflict, c)
		}
		f.Conflict = c
	}
	if f.Conflict != nil {
		f.RequiresHumanInput = true
		if f.HasValue() {
			f.Source = model.SourceMerge
			f.Confidence = math.Min(f.Confidence, conflictConfidenceCap)
		}
		m.conflictSuggestions(spec, f, attempts)
	}

	if normalize.Key(f.StringValue(), spec.Type) != prevKey {
		f.External = nil
		f.Rule = nil
		f.Suggestions = pruneSuggestions(spec, f)
	}
	return warning, rejectedAll
}

// pickWinner returns the index of the credible attempt with the highest
// source precedence, ties broken by confidence. When nothing is credible,
// the best non-rejected attempt wins. -1 when every attempt was rejected.
func (m *Merger) pickWinner(attempts []model.ProvenanceAttempt) int {
	best := -1
	bestCredible := false
	for i, a := range attempts {
		if a.Rejected {
			continue
		}
		credible := m.detector.Credible(a)
		if best < 0 {
			best, bestCredible = i, credible
			continue
		}
		b := attempts[best]
		switch {
		case credible && !bestCredible:
			best, bestCredible = i, true
		case credible != bestCredible:
		case a.Source.Precedence() > b.Source.Precedence():
			best = i
		case a.Source.Precedence() == b.Source.Precedence() && a.Confidence > b.Confidence:
			best = i
		}
	}
	return best
}

// conflictSuggestions offers each losing conflict candidate that carries
// evidence as a derived-merge suggestion.
func (m *Merger) conflictSuggestions(spec *model.FieldSpec, f *model.Field, attempts []model.ProvenanceAttempt) {
	confidence := make(map[string]float64, len(attempts))
	for _, a := range attempts {
		confidence[string(a.Source)+"|"+a.Value] = a.Confidence
	}
	current := normalize.Key(f.StringValue(), spec.Type)
	for _, c := range f.Conflict.Candidates {
		if c.Evidence == "" || c.Value == "" || normalize.Key(c.Value, spec.Type) == current {
			continue
		}
		s := model.Suggestion{
			Value:                c.Value,
			Source:               model.SourceMerge,
			Confidence:           confidence[string(c.Source)+"|"+c.Value],
			Reason:               "conflicting value from " + c.Label,
			Evidence:             c.Evidence,
			RequiresConfirmation: true,
		}
		f.Suggestions = AddSuggestion(spec.Type, f.Suggestions, s)
	}
}

// AddSuggestion appends s unless a suggestion with the same normalized
// value, evidence and source already exists.
func AddSuggestion(typ model.FieldType, list []model.Suggestion, s model.Suggestion) []model.Suggestion {
	key := normalize.Key(s.Value, typ)
	for _, existing := range list {
		if existing.Source == s.Source && existing.Evidence == s.Evidence && normalize.Key(existing.Value, typ) == key {
			return list
		}
	}
	return append(list, s)
}

// pruneSuggestions drops suggestions that equal the current value, and
// derived-merge suggestions when no conflict remains.
func pruneSuggestions(spec *model.FieldSpec, f *model.Field) []model.Suggestion {
	current := normalize.Key(f.StringValue(), spec.Type)
	var out []model.Suggestion
	for _, s := range f.Suggestions {
		if s.Value == "" || s.Evidence == "" {
			continue
		}
		if f.HasValue() && normalize.Key(s.Value, spec.Type) == current {
			continue
		}
		if s.Source == model.SourceMerge && f.Conflict == nil {
			continue
		}
		out = append(out, s)
	}
	return out
}
