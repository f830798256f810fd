package resolve

import (
	"sort"
	"time"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/normalize"
)

// Detector compares credible candidates from distinct origins.
type Detector struct {
	th model.Thresholds
}

// NewDetector creates a Detector using the given thresholds.
func NewDetector(th model.Thresholds) *Detector {
	return &Detector{th: th}
}

func origin(a model.ProvenanceAttempt) string {
	return a.Document + "|" + string(a.Source)
}

// Credible reports whether an attempt may take part in winner selection and
// conflict detection.
func (d *Detector) Credible(a model.ProvenanceAttempt) bool {
	return !a.Rejected && a.Confidence >= d.th.CredibilityFloor
}

// Detect returns a conflict when two credible attempts from different
// origins hold values that differ after type-aware normalization, or nil.
// The winner is listed first.
func (d *Detector) Detect(typ model.FieldType, attempts []model.ProvenanceAttempt, now time.Time) *model.Conflict {
	var credible []model.ProvenanceAttempt
	for _, a := range attempts {
		if d.Credible(a) {
			credible = append(credible, a)
		}
	}

	disagree := false
	for i := 0; i < len(credible) && !disagree; i++ {
		for j := i + 1; j < len(credible); j++ {
			if origin(credible[i]) == origin(credible[j]) {
				continue
			}
			if normalize.Key(credible[i].Value, typ) != normalize.Key(credible[j].Value, typ) {
				disagree = true
				break
			}
		}
	}
	if !disagree {
		return nil
	}

	sort.SliceStable(credible, func(i, j int) bool {
		if credible[i].Winner != credible[j].Winner {
			return credible[i].Winner
		}
		return false
	})

	c := &model.Conflict{DetectedAt: now}
	seenValue := make(map[string]bool)
	seenLabel := make(map[string]bool)
	for _, a := range credible {
		key := origin(a) + "|" + normalize.Key(a.Value, typ)
		if seenValue[key] {
			continue
		}
		seenValue[key] = true
		label := a.Label()
		if seenLabel[label] {
			label = label + "/" + string(a.Source)
		}
		seenLabel[label] = true
		c.Candidates = append(c.Candidates, model.ConflictCandidate{
			Label:    label,
			Value:    a.Value,
			Source:   a.Source,
			Evidence: a.Evidence,
		})
	}
	return c
}

// union merges the candidates of next into prev, keeping prev's order and
// detection time.
func union(prev, next *model.Conflict) *model.Conflict {
	out := &model.Conflict{
		DetectedAt: prev.DetectedAt,
		Candidates: append([]model.ConflictCandidate(nil), prev.Candidates...),
	}
	for _, c := range next.Candidates {
		dup := false
		for _, p := range out.Candidates {
			if p.Source == c.Source && p.Value == c.Value {
				dup = true
				break
			}
		}
		if !dup {
			if _, exists := out.Candidate(c.Label); exists {
				c.Label = c.Label + "/" + string(c.Source)
			}
			out.Candidates = append(out.Candidates, c)
		}
	}
	return out
}
