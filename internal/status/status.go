// Package status derives the traffic-light status of a field. Classification
// is a pure function of its Input; nothing here reads a previously stored
// status.
package status

import "github.com/sells-group/intake-cli/internal/model"

// Input is everything the classifier looks at. Locked means a lock from a
// human confirmation; the lock approval places on every field does not count.
type Input struct {
	HasValue           bool
	Required           bool
	HumanRequired      bool
	Confidence         float64
	Conflict           bool
	RequiresHumanInput bool
	Locked             bool
	OpenSuggestions    bool
	Rule               model.Verdict
	External           model.Status
	ExternalConfidence float64
	Confirmed          model.Status
}

// Classifier maps inputs to a status using a confidence threshold.
type Classifier struct {
	th model.Thresholds
}

// New creates a Classifier.
func New(th model.Thresholds) *Classifier {
	return &Classifier{th: th}
}

// Classify evaluates the ordered rules; the first match wins.
func (c *Classifier) Classify(in Input) model.Status {
	if in.Confirmed != "" && !(in.Confirmed == model.StatusGreen && in.Conflict) {
		return in.Confirmed
	}

	switch {
	case !in.HasValue && in.HumanRequired:
		return model.StatusHumanRequired
	case !in.HasValue && in.Required:
		return model.StatusRed
	case !in.HasValue && !in.Conflict:
		return model.StatusGreen
	case in.Rule == model.VerdictInvalid, in.External == model.StatusRed:
		return model.StatusRed
	case in.Conflict, in.RequiresHumanInput:
		return model.StatusAmber
	case !in.Locked && in.OpenSuggestions:
		return model.StatusAmber
	case in.Rule == model.VerdictNeedsReview, in.External == model.StatusAmber:
		return model.StatusAmber
	case !in.Locked && in.Confidence < c.th.Green && !c.externallyConfirmed(in):
		return model.StatusAmber
	}
	return model.StatusGreen
}

func (c *Classifier) externallyConfirmed(in Input) bool {
	return in.External == model.StatusGreen && in.ExternalConfidence >= c.th.Green
}

// InputFor collects the classifier inputs from a field and its spec.
func InputFor(spec *model.FieldSpec, f *model.Field) Input {
	in := Input{
		HasValue:           f.HasValue(),
		Required:           spec.Required,
		HumanRequired:      spec.HumanRequired,
		Confidence:         f.Confidence,
		Conflict:           f.Conflict != nil,
		RequiresHumanInput: f.RequiresHumanInput,
		Locked:             f.Locked && f.Confirmed != nil,
		OpenSuggestions:    len(f.Suggestions) > 0,
	}
	if f.Rule != nil {
		in.Rule = f.Rule.Verdict
	}
	if f.External != nil {
		in.External = f.External.Verdict
		in.ExternalConfidence = f.External.Confidence
	}
	if f.Confirmed != nil {
		in.Confirmed = f.Confirmed.Status
	}
	return in
}

// Apply classifies every field of the map against the registry and stores
// the result for display. Returns the paths whose status changed.
func (c *Classifier) Apply(reg *model.FieldRegistry, fields model.FieldMap) []string {
	var changed []string
	for i := range reg.Fields {
		spec := &reg.Fields[i]
		f, ok := fields[spec.Path]
		if !ok {
			continue
		}
		s := c.Classify(InputFor(spec, f))
		if s != f.Status {
			f.Status = s
			changed = append(changed, spec.Path)
		}
	}
	return changed
}

// OptionalMissing reports whether the field is an empty optional field,
// counted separately from auto-approved fields.
func OptionalMissing(spec *model.FieldSpec, f *model.Field) bool {
	return !f.HasValue() && !spec.Required && !spec.HumanRequired && f.Confirmed == nil
}
