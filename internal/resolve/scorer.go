// Package resolve merges extractor candidates into the per-run field map:
// it scores every candidate, picks a provisional winner, and records
// conflicts between credible sources.
package resolve

import (
	"math"
	"strings"
	"unicode"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/normalize"
)

// Rejection reasons recorded on provenance attempts.
const (
	ReasonEmpty         = "empty"
	ReasonPlaceholder   = "placeholder"
	ReasonLabelNoise    = "label_noise"
	ReasonUnknownSource = "unknown_source"
)

// Scorer assigns a confidence to each extraction candidate.
type Scorer struct {
	th model.Thresholds
}

// NewScorer creates a Scorer using the given thresholds.
func NewScorer(th model.Thresholds) *Scorer {
	return &Scorer{th: th}
}

// BaseConfidence returns the starting confidence for a source.
func BaseConfidence(src model.Source, fuzzy bool) float64 {
	switch src {
	case model.SourcePrimary:
		return 0.95
	case model.SourceSecondary:
		if fuzzy {
			return 0.6
		}
		return 0.75
	case model.SourceExternal:
		return 0.7
	case model.SourceUser, model.SourceAIApplied:
		return 1.0
	case model.SourceMerge:
		return 0.6
	default:
		return 0
	}
}

func qualityBonus(value, evidence string) float64 {
	bonus := math.Min(float64(len([]rune(value)))/32, 1) * 0.1
	if strings.IndexFunc(value, unicode.IsLetter) >= 0 {
		bonus += 0.015
	}
	if strings.IndexFunc(value, unicode.IsDigit) >= 0 {
		bonus += 0.015
	}
	if evidence != "" {
		bonus += 0.02
	}
	return bonus
}

// Verbatim reports whether value appears in evidence after folding case,
// diacritics, punctuation and whitespace.
func Verbatim(value, evidence string) bool {
	v := normalize.Fold(value)
	return v != "" && strings.Contains(normalize.Fold(evidence), v)
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// Score rates one candidate. Placeholders and values that look like a
// captured form label are rejected regardless of source. A candidate without
// evidence never reaches the green threshold.
func (s *Scorer) Score(spec *model.FieldSpec, c model.Candidate) model.ProvenanceAttempt {
	a := model.ProvenanceAttempt{
		Source:   c.Source,
		Document: c.Document,
		Evidence: strings.TrimSpace(c.EvidenceText()),
	}
	if c.Value != nil {
		a.Value = normalize.Collapse(*c.Value)
	}

	switch {
	case a.Value == "":
		a.Rejected, a.Reason = true, ReasonEmpty
		return a
	case !c.Source.Valid():
		a.Rejected, a.Reason = true, ReasonUnknownSource
		return a
	case normalize.IsPlaceholder(a.Value):
		a.Rejected, a.Reason = true, ReasonPlaceholder
		return a
	case normalize.LooksLikeLabel(a.Value, spec.LabelHints):
		a.Rejected, a.Reason = true, ReasonLabelNoise
		return a
	}

	if c.Source == model.SourceUser || c.Source == model.SourceAIApplied {
		a.Confidence = 1.0
		return a
	}

	score := BaseConfidence(c.Source, c.Fuzzy) + qualityBonus(a.Value, a.Evidence)
	if Verbatim(a.Value, a.Evidence) {
		score += 0.03
	}
	score = math.Min(score, 0.99)
	if a.Evidence == "" {
		score = math.Min(score, s.th.Green-0.01)
	}
	a.Confidence = round2(math.Max(0, score))
	return a
}
