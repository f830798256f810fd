// Package review builds the run-level readiness summary that gates
// canonical approval.
package review

import (
	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/status"
)

// Gate reclassifies a field map and summarizes it.
type Gate struct {
	reg        *model.FieldRegistry
	classifier *status.Classifier
}

// NewGate creates a Gate.
func NewGate(reg *model.FieldRegistry, classifier *status.Classifier) *Gate {
	return &Gate{reg: reg, classifier: classifier}
}

// Summarize classifies every field of the live state and returns the
// summary. It is recomputed on every call and never cached.
func (g *Gate) Summarize(state *model.RunState) model.ReviewSummary {
	g.classifier.Apply(g.reg, state.Fields)
	return Build(g.reg, state)
}

// Blocking reports whether a field prevents approval: a required field that
// is red or still needs a human.
func Blocking(spec *model.FieldSpec, f *model.Field) bool {
	return spec.Required && (f.Status == model.StatusRed || f.Status == model.StatusHumanRequired)
}

// Build summarizes already-classified fields. Fields of documents whose
// presence is absent, unreadable or mismatched are left out.
func Build(reg *model.FieldRegistry, state *model.RunState) model.ReviewSummary {
	s := model.ReviewSummary{
		BlockingFields: []string{},
		ReviewFields:   []string{},
		ApprovedFields: []string{},
		MissingFields:  []string{},
	}

	skipped := make(map[string]bool)
	for _, doc := range reg.Documents() {
		if !state.Presence[doc].Usable() {
			skipped[doc] = true
			s.SkippedDocuments = append(s.SkippedDocuments, doc)
		}
	}

	for i := range reg.Fields {
		spec := &reg.Fields[i]
		if skipped[spec.Document] {
			continue
		}
		f, ok := state.Fields[spec.Path]
		if !ok {
			continue
		}
		switch {
		case Blocking(spec, f):
			s.BlockingFields = append(s.BlockingFields, spec.Path)
		case f.Status == model.StatusGreen && status.OptionalMissing(spec, f):
			s.MissingFields = append(s.MissingFields, spec.Path)
		case f.Status == model.StatusGreen:
			s.ApprovedFields = append(s.ApprovedFields, spec.Path)
		default:
			s.ReviewFields = append(s.ReviewFields, spec.Path)
		}
	}

	s.Blocking = len(s.BlockingFields)
	s.NeedsReview = len(s.ReviewFields)
	s.AutoApproved = len(s.ApprovedFields)
	s.OptionalMissing = len(s.MissingFields)
	s.ReadyForAutofill = s.Blocking == 0
	return s
}
