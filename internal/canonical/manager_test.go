package canonical

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
	"github.com/sells-group/intake-cli/internal/review"
	"github.com/sells-group/intake-cli/internal/rules"
	"github.com/sells-group/intake-cli/internal/status"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func testRegistry() *model.FieldRegistry {
	return model.NewFieldRegistry([]model.FieldSpec{
		{Path: "passport.surname", Document: "passport", Label: "Surname", Type: model.TypeName, Required: true},
		{Path: "passport.given_names", Document: "passport", Label: "Given names", Type: model.TypeName, Required: true},
		{Path: "passport.passport_number", Document: "passport", Label: "Passport number", Type: model.TypePassport, Required: true},
		{Path: "g28.attorney.email", Document: "g28", Label: "Attorney email", Type: model.TypeEmail, Required: true},
		{Path: "g28.attorney.phone_daytime", Document: "g28", Label: "Daytime phone", Type: model.TypePhone},
		{Path: "g28.consent.client_signature_date", Document: "g28", Label: "Client signature date", Type: model.TypeDatePast, Required: true, HumanRequired: true},
	})
}

type fixture struct {
	reg       *model.FieldRegistry
	validator *rules.Validator
	gate      *review.Gate
	mgr       *Manager
}

func newFixture() *fixture {
	reg := testRegistry()
	validator := rules.NewValidator(reg, rules.WithNow(func() time.Time { return testNow }))
	gate := review.NewGate(reg, status.New(model.DefaultThresholds()))
	ids := 0
	mgr := NewManager(reg, validator, gate,
		WithNow(func() time.Time { return testNow }),
		WithIDFunc(func() string {
			ids++
			return fmt.Sprintf("approval-%d", ids)
		}),
	)
	return &fixture{reg: reg, validator: validator, gate: gate, mgr: mgr}
}

// newState returns a run with two blocking fields (given_names empty,
// passport_number invalid) and three needs-review fields.
func (fx *fixture) newState() *model.RunState {
	state := &model.RunState{
		RunID: "run-1",
		Fields: model.FieldMap{
			"passport.surname": {
				Path: "passport.surname", Value: model.Ptr("GARCIA"), Source: model.SourcePrimary,
				Confidence: 0.97, Evidence: "Surname: GARCIA",
			},
			"passport.given_names": {Path: "passport.given_names"},
			"passport.passport_number": {
				Path: "passport.passport_number", Value: model.Ptr("X12"), Source: model.SourceSecondary,
				Confidence: 0.8, Evidence: "Passport No: X12",
			},
			"g28.attorney.email": {
				Path: "g28.attorney.email", Value: model.Ptr("jane@firm.com"), Source: model.SourceSecondary,
				Confidence: 0.7, Evidence: "Email: jane@firm.com",
			},
			"g28.attorney.phone_daytime": {
				Path: "g28.attorney.phone_daytime", Value: model.Ptr("555-123-4567"), Source: model.SourcePrimary,
				Confidence: 0.95, Evidence: "Phone: 555-123-4567 / 555-123-4568",
				Suggestions: []model.Suggestion{{
					Value: "555-123-4568", Source: model.SourceExternal, Confidence: 0.8,
					Evidence: "Phone: 555-123-4567 / 555-123-4568", RequiresConfirmation: true,
				}},
			},
			"g28.consent.client_signature_date": {
				Path: "g28.consent.client_signature_date", Value: model.Ptr("2026-02-01"), Source: model.SourcePrimary,
				Confidence: 0.95, Evidence: "Date: 02/01/2026", RequiresHumanInput: true,
			},
		},
	}
	fx.validator.Apply(state.Fields)
	return state
}

func TestFixture_Summary(t *testing.T) {
	fx := newFixture()
	summary := fx.gate.Summarize(fx.newState())
	assert.ElementsMatch(t, []string{"passport.given_names", "passport.passport_number"}, summary.BlockingFields)
	assert.ElementsMatch(t, []string{"g28.attorney.email", "g28.attorney.phone_daytime", "g28.consent.client_signature_date"}, summary.ReviewFields)
	assert.False(t, summary.ReadyForAutofill)
}

func TestEdit_ConfirmsField(t *testing.T) {
	fx := newFixture()
	state := fx.newState()

	f, err := fx.mgr.Edit(state, "passport.given_names", "Maria Elena", false)
	require.NoError(t, err)

	assert.Equal(t, "Maria Elena", f.StringValue())
	assert.Equal(t, model.SourceUser, f.Source)
	assert.Equal(t, 1.0, f.Confidence)
	assert.True(t, f.Locked)
	assert.Nil(t, f.Conflict)
	assert.Equal(t, 1, f.Version)
	assert.Equal(t, 1, state.Version)

	fx.gate.Summarize(state)
	assert.Equal(t, model.StatusGreen, f.Status)

	// Review re-runs are idempotent.
	before := state.Fields.Clone()
	fx.gate.Summarize(state)
	assert.Equal(t, before, state.Fields)
}

func TestEdit_ClearsConflictAndSuggestions(t *testing.T) {
	fx := newFixture()
	state := fx.newState()
	surname := state.Fields["passport.surname"]
	surname.Conflict = &model.Conflict{Candidates: []model.ConflictCandidate{
		{Label: "passport", Value: "GARCIA", Source: model.SourcePrimary},
		{Label: "g28", Value: "GARCIA-LOPEZ", Source: model.SourcePrimary},
	}}
	surname.RequiresHumanInput = true
	surname.Suggestions = []model.Suggestion{{Value: "GARCIA-LOPEZ", Source: model.SourceMerge, Evidence: "Family Name: GARCIA-LOPEZ"}}

	_, err := fx.mgr.Edit(state, "passport.surname", "Garcia-Lopez", false)
	require.NoError(t, err)
	fx.gate.Summarize(state)

	assert.Nil(t, surname.Conflict)
	assert.Empty(t, surname.Suggestions)
	assert.False(t, surname.RequiresHumanInput)
	assert.Equal(t, model.StatusGreen, surname.Status)
}

func TestEdit_RejectsInvalidValue(t *testing.T) {
	fx := newFixture()
	state := fx.newState()
	before := state.Fields["passport.passport_number"].Clone()

	_, err := fx.mgr.Edit(state, "passport.passport_number", "X13", false)
	var fe *model.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "passport.passport_number", fe.Path)
	assert.Contains(t, fe.Codes, "passport_format")
	assert.Equal(t, before, state.Fields["passport.passport_number"])
	assert.Zero(t, state.Version)

	f, err := fx.mgr.Edit(state, "passport.passport_number", "X13", true)
	require.NoError(t, err)
	fx.gate.Summarize(state)
	assert.Equal(t, model.StatusGreen, f.Status)
	assert.Equal(t, model.VerdictInvalid, f.Rule.Verdict)
}

func TestEdit_EmptyRequired(t *testing.T) {
	fx := newFixture()
	state := fx.newState()

	_, err := fx.mgr.Edit(state, "passport.surname", "", false)
	var fe *model.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"required"}, fe.Codes)

	f, err := fx.mgr.Edit(state, "g28.attorney.phone_daytime", "", false)
	require.NoError(t, err)
	assert.False(t, f.HasValue())
	assert.Nil(t, f.Rule)
}

func TestEdit_UnknownField(t *testing.T) {
	fx := newFixture()
	_, err := fx.mgr.Edit(fx.newState(), "passport.shoe_size", "42", false)
	assert.True(t, errors.Is(err, model.ErrUnknownField))
}

func TestAcceptAll(t *testing.T) {
	fx := newFixture()
	state := fx.newState()

	paths, err := fx.mgr.AcceptAll(state)
	require.NoError(t, err)
	assert.Len(t, paths, 5)

	summary := fx.gate.Summarize(state)
	for _, p := range paths {
		f := state.Fields[p]
		assert.True(t, f.Locked, p)
		assert.Equal(t, model.StatusGreen, f.Status, p)
		assert.Equal(t, model.SourceUser, f.Source, p)
	}
	assert.Equal(t, 0, summary.Blocking)
	assert.Equal(t, 0, summary.NeedsReview)
	assert.True(t, summary.ReadyForAutofill)
	assert.Equal(t, "555-123-4567", state.Fields["g28.attorney.phone_daytime"].StringValue())
}

func TestApplySuggestion(t *testing.T) {
	fx := newFixture()
	state := fx.newState()

	_, err := fx.mgr.ApplySuggestion(state, "g28.attorney.phone_daytime", 3)
	assert.True(t, errors.Is(err, model.ErrNoSuggestion))

	f, err := fx.mgr.ApplySuggestion(state, "g28.attorney.phone_daytime", 0)
	require.NoError(t, err)
	assert.Equal(t, "555-123-4568", f.StringValue())
	assert.Equal(t, model.SourceAIApplied, f.Source)
	assert.True(t, f.Locked)
	assert.Empty(t, f.Suggestions)
	assert.Equal(t, model.StatusGreen, f.Status)
}

func TestResolveConflict(t *testing.T) {
	fx := newFixture()
	state := fx.newState()

	_, err := fx.mgr.ResolveConflict(state, "passport.surname", "g28")
	assert.True(t, errors.Is(err, model.ErrNoConflict))

	state.Fields["passport.surname"].Conflict = &model.Conflict{Candidates: []model.ConflictCandidate{
		{Label: "passport", Value: "GARCIA", Source: model.SourcePrimary, Evidence: "Surname: GARCIA"},
		{Label: "g28", Value: "GARCIA-LOPEZ", Source: model.SourcePrimary, Evidence: "Family Name: GARCIA-LOPEZ"},
	}}
	_, err = fx.mgr.ResolveConflict(state, "passport.surname", "i-94")
	assert.True(t, errors.Is(err, model.ErrNoConflict))

	f, err := fx.mgr.ResolveConflict(state, "passport.surname", "g28")
	require.NoError(t, err)
	assert.Equal(t, "GARCIA-LOPEZ", f.StringValue())
	assert.Equal(t, "Family Name: GARCIA-LOPEZ", f.Evidence)
	assert.Nil(t, f.Conflict)
	assert.Equal(t, model.SourceUser, f.Source)
}

func TestConfirmInvalid(t *testing.T) {
	fx := newFixture()
	state := fx.newState()

	f, err := fx.mgr.ConfirmInvalid(state, "g28.attorney.email")
	require.NoError(t, err)
	assert.True(t, f.Locked)

	fx.validator.Apply(state.Fields)
	fx.gate.Summarize(state)
	assert.Equal(t, model.StatusRed, f.Status)
	assert.Equal(t, 0.7, f.Confidence)
}

func TestApprove_Blocked(t *testing.T) {
	fx := newFixture()
	state := fx.newState()

	snap, summary, err := fx.mgr.Approve(state, nil)
	var pe *model.ApprovalPreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Nil(t, snap)
	assert.ElementsMatch(t, []string{"passport.given_names", "passport.passport_number"}, pe.Blocking)
	assert.Equal(t, 2, summary.Blocking)
	assert.False(t, state.Fields["passport.surname"].Locked)
}

func TestApprove_Lifecycle(t *testing.T) {
	fx := newFixture()
	state := fx.newState()
	_, err := fx.mgr.Edit(state, "passport.given_names", "Maria", false)
	require.NoError(t, err)
	_, err = fx.mgr.Edit(state, "passport.passport_number", "X1234567", false)
	require.NoError(t, err)

	snap, summary, err := fx.mgr.Approve(state, nil)
	require.NoError(t, err)
	assert.True(t, summary.ReadyForAutofill)
	assert.Equal(t, "approval-1", snap.ApprovalID)
	assert.Equal(t, testNow, snap.ApprovedAt)
	assert.Equal(t, state.Version, snap.Version)
	for path, f := range state.Fields {
		assert.True(t, f.Locked, path)
	}
	assert.Equal(t, "GARCIA", snap.Values()["passport.surname"])

	// Snapshot is a deep copy.
	state.Fields["passport.surname"].Value = model.Ptr("CHANGED")
	assert.Equal(t, "GARCIA", snap.Fields["passport.surname"].StringValue())
	state.Fields["passport.surname"].Value = model.Ptr("GARCIA")

	again, _, err := fx.mgr.Approve(state, snap)
	require.NoError(t, err)
	assert.Same(t, snap, again)

	usable, err := Usable(state, snap)
	require.NoError(t, err)
	assert.Same(t, snap, usable)

	_, err = fx.mgr.Edit(state, "g28.attorney.email", "jane.doe@firm.com", false)
	require.NoError(t, err)
	assert.True(t, Stale(state, snap))
	_, err = Usable(state, snap)
	assert.True(t, errors.Is(err, model.ErrStaleApproval))

	next, _, err := fx.mgr.Approve(state, snap)
	require.NoError(t, err)
	assert.Equal(t, "approval-2", next.ApprovalID)
	assert.Equal(t, "jane.doe@firm.com", next.Values()["g28.attorney.email"])

	_, err = Usable(state, nil)
	assert.True(t, errors.Is(err, model.ErrNotApproved))
}

func TestApprove_KeepsReviewStatuses(t *testing.T) {
	fx := newFixture()
	state := fx.newState()
	_, err := fx.mgr.Edit(state, "passport.given_names", "Maria", false)
	require.NoError(t, err)
	_, err = fx.mgr.Edit(state, "passport.passport_number", "X1234567", false)
	require.NoError(t, err)
	before := fx.gate.Summarize(state)
	require.Contains(t, before.ReviewFields, "g28.attorney.email")
	require.Contains(t, before.ReviewFields, "g28.attorney.phone_daytime")

	snap, summary, err := fx.mgr.Approve(state, nil)
	require.NoError(t, err)
	assert.Equal(t, before.ReviewFields, summary.ReviewFields)
	assert.Equal(t, before.ApprovedFields, summary.ApprovedFields)
	assert.Equal(t, model.StatusAmber, snap.Fields["g28.attorney.email"].Status)
	assert.Equal(t, model.StatusAmber, snap.Fields["g28.attorney.phone_daytime"].Status)
	assert.Len(t, snap.Fields["g28.attorney.phone_daytime"].Suggestions, 1)

	// Later reviews of the approved run agree.
	assert.Equal(t, before.ReviewFields, fx.gate.Summarize(state).ReviewFields)
}

func TestLocks_SerializeRun(t *testing.T) {
	fx := newFixture()
	state := fx.newState()
	locks := NewLocks()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := locks.Acquire(state.RunID)
			defer release()
			_, err := fx.mgr.Edit(state, "g28.attorney.email", "jane@firm.com", false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, state.Version)
	assert.Equal(t, 20, state.Fields["g28.attorney.email"].Version)
}
