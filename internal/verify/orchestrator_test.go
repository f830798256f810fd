package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/resilience"
	"github.com/sells-group/intake-cli/internal/rules"
	"github.com/sells-group/intake-cli/internal/status"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) Name() string { return "mock" }

func (m *mockVerifier) Verify(ctx context.Context, req Request) (*Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

func testRegistry() *model.FieldRegistry {
	return model.NewFieldRegistry([]model.FieldSpec{
		{Path: "passport.given_names", Document: "passport", Label: "Given names", Type: model.TypeName, Required: true},
		{Path: "passport.surname", Document: "passport", Label: "Surname", Type: model.TypeName, Required: true},
		{Path: "g28.attorney.email", Document: "g28", Label: "Attorney email", Type: model.TypeEmail, Required: true},
		{Path: "g28.consent.client_signature_date", Document: "g28", Label: "Client signature date", Type: model.TypeDatePast, Required: true, HumanRequired: true},
	})
}

func testGuard() *resilience.Guard {
	return &resilience.Guard{
		Name:    "mock",
		Timeout: 50 * time.Millisecond,
		Retry:   resilience.RetryConfig{MaxAttempts: 1},
		Breaker: resilience.NewBreaker("mock", 100, time.Minute),
	}
}

func newTestOrchestrator(v Verifier) *Orchestrator {
	reg := testRegistry()
	th := model.DefaultThresholds()
	validator := rules.NewValidator(reg, rules.WithNow(func() time.Time { return testNow }))
	opts := []Option{WithNow(func() time.Time { return testNow }), WithConcurrency(2)}
	if v != nil {
		opts = append(opts, WithVerifier(v, testGuard()))
	}
	return NewOrchestrator(reg, validator, status.New(th), opts...)
}

func newState() *model.RunState {
	return &model.RunState{
		RunID: "run-1",
		Fields: model.FieldMap{
			"passport.given_names": {
				Path: "passport.given_names", Value: model.Ptr("Maria"), Source: model.SourceSecondary,
				Confidence: 0.7, Status: model.StatusAmber, Evidence: "Given Names: MARIA ELENA",
			},
			"passport.surname": {
				Path: "passport.surname", Value: model.Ptr("Garcia"), Source: model.SourcePrimary,
				Confidence: 0.97, Status: model.StatusAmber, Evidence: "Surname: GARCIA",
			},
			"g28.attorney.email": {
				Path: "g28.attorney.email", Value: model.Ptr("jane@firm"), Source: model.SourcePrimary,
				Confidence: 0.9, Status: model.StatusAmber, Evidence: "Email: jane@firm",
			},
			"g28.consent.client_signature_date": {
				Path: "g28.consent.client_signature_date", Status: model.StatusHumanRequired,
				RequiresHumanInput: true,
			},
		},
	}
}

func TestRun_TierOneOnly(t *testing.T) {
	o := newTestOrchestrator(nil)
	state := newState()

	report, err := o.Run(context.Background(), state, true)
	require.NoError(t, err)

	assert.False(t, report.TierTwo)
	assert.Empty(t, report.Checked)

	email := state.Fields["g28.attorney.email"]
	require.NotNil(t, email.Rule)
	assert.Equal(t, model.VerdictInvalid, email.Rule.Verdict)
	assert.Equal(t, model.StatusRed, email.Status)
	assert.InDelta(t, 0.3, email.Confidence, 1e-9)

	assert.Equal(t, model.StatusGreen, state.Fields["passport.surname"].Status)
	assert.Equal(t, model.StatusAmber, state.Fields["passport.given_names"].Status)
	assert.Equal(t, model.StatusHumanRequired, state.Fields["g28.consent.client_signature_date"].Status)

	assert.Equal(t, 1, state.Version)
	assert.Contains(t, report.Changed, "g28.attorney.email")
}

func TestRun_Idempotent(t *testing.T) {
	o := newTestOrchestrator(nil)
	state := newState()

	_, err := o.Run(context.Background(), state, false)
	require.NoError(t, err)
	snapshot := state.Fields.Clone()
	version := state.Version

	report, err := o.Run(context.Background(), state, false)
	require.NoError(t, err)
	assert.Empty(t, report.Changed)
	assert.Equal(t, version, state.Version)
	assert.Equal(t, snapshot, state.Fields)
}

func TestRun_TierTwoOnlyNonGreen(t *testing.T) {
	v := new(mockVerifier)
	v.On("Verify", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.Path == "passport.given_names"
	})).Return(&Response{Verdict: model.StatusGreen, Confidence: 0.93, Reason: "matches passport"}, nil)
	v.On("Verify", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.Path == "g28.attorney.email"
	})).Return(&Response{Verdict: model.StatusRed, Confidence: 0.9, Reason: "missing domain"}, nil)

	o := newTestOrchestrator(v)
	state := newState()
	report, err := o.Run(context.Background(), state, true)
	require.NoError(t, err)

	assert.True(t, report.TierTwo)
	assert.ElementsMatch(t, []string{"passport.given_names", "g28.attorney.email"}, report.Checked)
	v.AssertNumberOfCalls(t, "Verify", 2)

	given := state.Fields["passport.given_names"]
	require.NotNil(t, given.External)
	assert.Equal(t, model.StatusGreen, given.External.Verdict)
	assert.Equal(t, testNow, given.External.CheckedAt)
	assert.Equal(t, model.StatusGreen, given.Status)
	assert.InDelta(t, 0.7, given.Confidence, 1e-9)

	assert.Equal(t, model.StatusRed, state.Fields["g28.attorney.email"].Status)
	assert.Nil(t, state.Fields["passport.surname"].External)
}

func TestRun_TierTwoSkippedWhenNotRequested(t *testing.T) {
	v := new(mockVerifier)
	o := newTestOrchestrator(v)

	report, err := o.Run(context.Background(), newState(), false)
	require.NoError(t, err)
	assert.False(t, report.TierTwo)
	v.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestRun_VerifierTimeout(t *testing.T) {
	v := new(mockVerifier)
	v.On("Verify", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	o := newTestOrchestrator(v)
	state := newState()
	report, err := o.Run(context.Background(), state, true)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"passport.given_names", "g28.attorney.email"}, report.Unavailable)
	given := state.Fields["passport.given_names"]
	assert.Equal(t, model.StatusAmber, given.Status)
	assert.Nil(t, given.External)
	assert.Empty(t, given.Suggestions)

	var codes []string
	for _, w := range state.Warnings {
		if w.Field == "passport.given_names" {
			codes = append(codes, w.Code)
		}
	}
	assert.Equal(t, []string{WarnVerifierUnavailable}, codes)
}

func TestRun_MalformedResponse(t *testing.T) {
	v := new(mockVerifier)
	v.On("Verify", mock.Anything, mock.Anything).
		Return(&Response{Verdict: "maybe", Confidence: 0.5}, nil)

	o := newTestOrchestrator(v)
	state := newState()
	report, err := o.Run(context.Background(), state, true)
	require.NoError(t, err)

	assert.Len(t, report.Malformed, 2)
	assert.Equal(t, model.StatusAmber, state.Fields["passport.given_names"].Status)
	found := false
	for _, w := range state.Warnings {
		if w.Code == WarnVerifierMalformed && w.Field == "passport.given_names" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRun_SuggestionPolicy(t *testing.T) {
	v := new(mockVerifier)
	v.On("Verify", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.Path == "passport.given_names"
	})).Return(&Response{
		Verdict:           model.StatusAmber,
		Confidence:        0.8,
		Reason:            "second given name omitted",
		SuggestedValue:    "Maria Elena",
		SuggestedEvidence: "Given Names: MARIA ELENA",
	}, nil)
	v.On("Verify", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.Path == "g28.attorney.email"
	})).Return(&Response{
		Verdict:           model.StatusRed,
		Confidence:        0.9,
		SuggestedValue:    "jane@firm.com",
		SuggestedEvidence: "",
	}, nil)

	o := newTestOrchestrator(v)
	state := newState()
	_, err := o.Run(context.Background(), state, true)
	require.NoError(t, err)

	given := state.Fields["passport.given_names"]
	require.Len(t, given.Suggestions, 1)
	s := given.Suggestions[0]
	assert.Equal(t, "Maria Elena", s.Value)
	assert.Equal(t, model.SourceExternal, s.Source)
	assert.True(t, s.RequiresConfirmation)
	assert.Equal(t, "Maria", given.StringValue())
	assert.Equal(t, model.StatusAmber, given.Status)

	// Suggestions without evidence are dropped.
	assert.Empty(t, state.Fields["g28.attorney.email"].Suggestions)

	// A second pass does not duplicate the suggestion.
	_, err = o.Run(context.Background(), state, true)
	require.NoError(t, err)
	assert.Len(t, state.Fields["passport.given_names"].Suggestions, 1)
}

func TestRun_SuggestionEqualToValueDropped(t *testing.T) {
	v := new(mockVerifier)
	v.On("Verify", mock.Anything, mock.Anything).Return(&Response{
		Verdict:           model.StatusAmber,
		Confidence:        0.6,
		SuggestedValue:    "MARIA",
		SuggestedEvidence: "Given Names: MARIA ELENA",
	}, nil)

	o := newTestOrchestrator(v)
	state := newState()
	_, err := o.Run(context.Background(), state, true)
	require.NoError(t, err)
	assert.Empty(t, state.Fields["passport.given_names"].Suggestions)
}

func TestRun_RequiresHumanInputIsSticky(t *testing.T) {
	v := new(mockVerifier)
	v.On("Verify", mock.Anything, mock.Anything).Return(&Response{
		Verdict: model.StatusGreen, Confidence: 0.95, RequiresHumanInput: true,
	}, nil)

	o := newTestOrchestrator(v)
	state := newState()
	_, err := o.Run(context.Background(), state, true)
	require.NoError(t, err)

	given := state.Fields["passport.given_names"]
	assert.True(t, given.RequiresHumanInput)
	assert.Equal(t, model.StatusAmber, given.Status)
}

func TestRun_LockedAndConfirmedNotSent(t *testing.T) {
	v := new(mockVerifier)
	v.On("Verify", mock.Anything, mock.Anything).Return(&Response{Verdict: model.StatusGreen, Confidence: 0.9}, nil)

	o := newTestOrchestrator(v)
	state := newState()
	state.Fields["passport.given_names"].Locked = true
	state.Fields["g28.attorney.email"].Confirmed = &model.Confirmation{Status: model.StatusAmber, Action: "confirm-invalid", At: testNow}

	report, err := o.Run(context.Background(), state, true)
	require.NoError(t, err)
	assert.Empty(t, report.Checked)
	v.AssertNotCalled(t, "Verify", mock.Anything, mock.Anything)
}

func TestRun_CancelledContext(t *testing.T) {
	v := new(mockVerifier)
	v.On("Verify", mock.Anything, mock.Anything).Return(&Response{Verdict: model.StatusGreen, Confidence: 0.9}, nil).Maybe()

	o := newTestOrchestrator(v)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.Run(ctx, newState(), true)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestResponse_Validate(t *testing.T) {
	t.Parallel()

	var nilResp *Response
	tests := []struct {
		name string
		resp *Response
		ok   bool
	}{
		{"nil", nilResp, false},
		{"green", &Response{Verdict: model.StatusGreen, Confidence: 1}, true},
		{"human_required verdict", &Response{Verdict: model.StatusHumanRequired, Confidence: 0.5}, false},
		{"negative confidence", &Response{Verdict: model.StatusAmber, Confidence: -0.1}, false},
		{"confidence above one", &Response{Verdict: model.StatusRed, Confidence: 1.5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.resp.Validate("mock")
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var malformed *model.MalformedResponseError
			assert.ErrorAs(t, err, &malformed)
		})
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.Nil(t, r.Get("mock"))
	r.Register(new(mockVerifier))
	r.Register(NewAnthropicVerifier(nil, "claude-haiku-4-5-20251001", 0))
	assert.NotNil(t, r.Get("mock"))
	assert.Equal(t, []string{"anthropic", "mock"}, r.List())
}
