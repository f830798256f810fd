package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/intake-cli/internal/model"
)

var nameSpec = &model.FieldSpec{
	Path: "passport.surname", Document: "passport", Type: model.TypeName,
	Required: true, LabelHints: []string{"Surname", "Last Name"},
}

func cand(src model.Source, value, evidence string) model.Candidate {
	c := model.Candidate{Source: src, Value: model.Ptr(value)}
	if evidence != "" {
		c.Evidence = model.Ptr(evidence)
	}
	return c
}

func TestScorer_Score(t *testing.T) {
	t.Parallel()
	s := NewScorer(model.DefaultThresholds())

	t.Run("primary with verbatim evidence is green", func(t *testing.T) {
		t.Parallel()
		a := s.Score(nameSpec, cand(model.SourcePrimary, "GARCIA", "Surname: GARCIA"))
		assert.False(t, a.Rejected)
		assert.GreaterOrEqual(t, a.Confidence, 0.85)
		assert.LessOrEqual(t, a.Confidence, 0.99)
	})

	t.Run("missing evidence caps below green", func(t *testing.T) {
		t.Parallel()
		a := s.Score(nameSpec, cand(model.SourcePrimary, "GARCIA", ""))
		assert.Less(t, a.Confidence, 0.85)
	})

	t.Run("verbatim evidence scores at least as high", func(t *testing.T) {
		t.Parallel()
		verbatim := s.Score(nameSpec, cand(model.SourceSecondary, "GARCIA", "Name GARCIA"))
		other := s.Score(nameSpec, cand(model.SourceSecondary, "GARCIA", "Name G4RC1A"))
		assert.GreaterOrEqual(t, verbatim.Confidence, other.Confidence)
	})

	t.Run("fuzzy secondary scores lower", func(t *testing.T) {
		t.Parallel()
		exact := s.Score(nameSpec, cand(model.SourceSecondary, "GARCIA", "GARCIA"))
		c := cand(model.SourceSecondary, "GARCIA", "GARCIA")
		c.Fuzzy = true
		fuzzy := s.Score(nameSpec, c)
		assert.Less(t, fuzzy.Confidence, exact.Confidence)
	})

	t.Run("user is always 1.0", func(t *testing.T) {
		t.Parallel()
		a := s.Score(nameSpec, cand(model.SourceUser, "Garcia", ""))
		assert.Equal(t, 1.0, a.Confidence)
	})

	rejected := []struct {
		name   string
		c      model.Candidate
		reason string
	}{
		{"null value", model.Candidate{Source: model.SourcePrimary}, ReasonEmpty},
		{"placeholder", cand(model.SourcePrimary, "N/A", "N/A"), ReasonPlaceholder},
		{"label capture", cand(model.SourcePrimary, "Last Name", "Last Name"), ReasonLabelNoise},
		{"unknown source", cand("scanner", "GARCIA", "GARCIA"), ReasonUnknownSource},
	}
	for _, tt := range rejected {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := s.Score(nameSpec, tt.c)
			assert.True(t, a.Rejected)
			assert.Equal(t, tt.reason, a.Reason)
			assert.Zero(t, a.Confidence)
		})
	}
}

func TestBaseConfidence_PrecedenceOrder(t *testing.T) {
	t.Parallel()
	assert.Greater(t, BaseConfidence(model.SourcePrimary, false), BaseConfidence(model.SourceSecondary, false))
	assert.Greater(t, BaseConfidence(model.SourceSecondary, false), BaseConfidence(model.SourceExternal, false))
	assert.Greater(t, BaseConfidence(model.SourceExternal, false), BaseConfidence(model.SourceMerge, false))
	assert.Greater(t, model.SourcePrimary.Precedence(), model.SourceSecondary.Precedence())
	assert.Greater(t, model.SourceUser.Precedence(), model.SourceMerge.Precedence())
}

func TestVerbatim(t *testing.T) {
	t.Parallel()
	assert.True(t, Verbatim("García", "SURNAME GARCIA"))
	assert.False(t, Verbatim("Lopez", "SURNAME GARCIA"))
	assert.False(t, Verbatim("", "anything"))
}
