package model

import (
	"reflect"
	"time"
)

// Source is the provenance of a field value.
type Source string

// Value sources, ordered here by merge precedence (user and ai-applied are
// only produced by human actions).
const (
	SourcePrimary   Source = "extracted-primary"
	SourceSecondary Source = "extracted-secondary"
	SourceExternal  Source = "external-verified"
	SourceUser      Source = "user"
	SourceAIApplied Source = "ai-applied"
	SourceMerge     Source = "derived-merge"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourcePrimary, SourceSecondary, SourceExternal, SourceUser, SourceAIApplied, SourceMerge:
		return true
	}
	return false
}

// Precedence ranks sources for provisional winner selection. Higher wins.
func (s Source) Precedence() int {
	switch s {
	case SourcePrimary:
		return 5
	case SourceSecondary:
		return 4
	case SourceExternal:
		return 3
	case SourceUser, SourceAIApplied:
		return 2
	case SourceMerge:
		return 1
	default:
		return 0
	}
}

// Status is the traffic-light classification of a field.
type Status string

// Field statuses.
const (
	StatusGreen         Status = "green"
	StatusAmber         Status = "amber"
	StatusRed           Status = "red"
	StatusHumanRequired Status = "human_required"
)

// Verdict is the outcome of a deterministic rule check.
type Verdict string

// Rule verdicts.
const (
	VerdictValid       Verdict = "valid"
	VerdictNeedsReview Verdict = "needs_review"
	VerdictInvalid     Verdict = "invalid"
)

// RuleResult is the tier-one verdict stored on a field.
type RuleResult struct {
	Verdict    Verdict  `json:"verdict"`
	Codes      []string `json:"codes,omitempty"`
	Normalized string   `json:"normalized,omitempty"`
}

// ExternalResult is the last accepted tier-two verdict for a field.
type ExternalResult struct {
	Verdict            Status    `json:"verdict"`
	Confidence         float64   `json:"confidence"`
	Reason             string    `json:"reason,omitempty"`
	RequiresHumanInput bool      `json:"requires_human_input,omitempty"`
	CheckedAt          time.Time `json:"checked_at"`
}

// Suggestion is a proposed replacement value. Never applied automatically.
type Suggestion struct {
	Value                string  `json:"value"`
	Source               Source  `json:"source"`
	Confidence           float64 `json:"confidence"`
	Reason               string  `json:"reason"`
	Evidence             string  `json:"evidence"`
	RequiresConfirmation bool    `json:"requires_confirmation"`
}

// ConflictCandidate is one competing value in a conflict record.
type ConflictCandidate struct {
	Label    string `json:"label"`
	Value    string `json:"value"`
	Source   Source `json:"source"`
	Evidence string `json:"evidence,omitempty"`
}

// Conflict is a durable disagreement between credible sources. It is data,
// not an error, and is cleared only by a human action.
type Conflict struct {
	Candidates []ConflictCandidate `json:"candidates"`
	DetectedAt time.Time           `json:"detected_at"`
}

// Candidate returns the conflict candidate with the given label.
func (c *Conflict) Candidate(label string) (ConflictCandidate, bool) {
	for _, cc := range c.Candidates {
		if cc.Label == label {
			return cc, true
		}
	}
	return ConflictCandidate{}, false
}

// Confirmation pins the status of a field after an explicit human action.
type Confirmation struct {
	Status Status    `json:"status"`
	Action string    `json:"action"`
	At     time.Time `json:"at"`
}

// Field is the resolved state of one registry path within a run.
type Field struct {
	Path               string              `json:"path"`
	Value              *string             `json:"value"`
	Source             Source              `json:"source,omitempty"`
	Confidence         float64             `json:"confidence"`
	Status             Status              `json:"status"`
	Locked             bool                `json:"locked"`
	RequiresHumanInput bool                `json:"requires_human_input"`
	Evidence           string              `json:"evidence,omitempty"`
	Conflict           *Conflict           `json:"conflict,omitempty"`
	Suggestions        []Suggestion        `json:"suggestions,omitempty"`
	Rule               *RuleResult         `json:"rule,omitempty"`
	External           *ExternalResult     `json:"external,omitempty"`
	Confirmed          *Confirmation       `json:"confirmed,omitempty"`
	Attempts           []ProvenanceAttempt `json:"attempts,omitempty"`
	Version            int                 `json:"version"`
}

// NewField creates a pending field entry for a registry spec.
func NewField(spec *FieldSpec) *Field {
	return &Field{
		Path:               spec.Path,
		Status:             StatusAmber,
		RequiresHumanInput: spec.HumanRequired,
	}
}

// HasValue reports whether the field holds a non-blank value.
func (f *Field) HasValue() bool {
	return f.Value != nil && *f.Value != ""
}

// StringValue returns the value or "" when null.
func (f *Field) StringValue() string {
	if f.Value == nil {
		return ""
	}
	return *f.Value
}

// Clone returns a deep copy of the field.
func (f *Field) Clone() *Field {
	c := *f
	if f.Value != nil {
		v := *f.Value
		c.Value = &v
	}
	if f.Conflict != nil {
		cf := *f.Conflict
		cf.Candidates = append([]ConflictCandidate(nil), f.Conflict.Candidates...)
		c.Conflict = &cf
	}
	if f.Rule != nil {
		r := *f.Rule
		r.Codes = append([]string(nil), f.Rule.Codes...)
		c.Rule = &r
	}
	if f.External != nil {
		e := *f.External
		c.External = &e
	}
	if f.Confirmed != nil {
		cn := *f.Confirmed
		c.Confirmed = &cn
	}
	c.Suggestions = append([]Suggestion(nil), f.Suggestions...)
	c.Attempts = append([]ProvenanceAttempt(nil), f.Attempts...)
	return &c
}

// Ptr returns a pointer to s.
func Ptr(s string) *string {
	return &s
}

// FieldMap is the per-run mapping from path to field.
type FieldMap map[string]*Field

// Clone returns a deep copy of the map.
func (m FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(m))
	for k, f := range m {
		out[k] = f.Clone()
	}
	return out
}

// Warning is a non-fatal diagnostic attached to a run.
type Warning struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Presence classifies whether a document was supplied and readable.
type Presence string

// Document presence values reported by the extractors.
const (
	PresencePresent    Presence = "present"
	PresenceAbsent     Presence = "absent"
	PresenceUnreadable Presence = "unreadable"
	PresenceMismatch   Presence = "mismatch"
)

// Usable reports whether fields of a document with this presence should be
// reviewed. An unreported presence counts as present.
func (p Presence) Usable() bool {
	return p == "" || p == PresencePresent
}

// Changed reports whether the persisted content of f differs from before,
// ignoring the version counter and the derived status.
func (f *Field) Changed(before *Field) bool {
	a, b := f.Clone(), before.Clone()
	a.Version, b.Version = 0, 0
	a.Status, b.Status = "", ""
	return !reflect.DeepEqual(a, b)
}
