package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func newTestFiles(t *testing.T) *Files {
	t.Helper()
	f, err := NewFiles(filepath.Join(t.TempDir(), "runs"))
	require.NoError(t, err)
	return f
}

func TestFiles_StateRoundTrip(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	state := &model.RunState{
		RunID: "run-1",
		Fields: model.FieldMap{
			"passport.surname": {Path: "passport.surname", Value: model.Ptr("GARCIA"), Confidence: 0.97, Status: model.StatusGreen, Version: 2},
			"passport.sex":     {Path: "passport.sex", Status: model.StatusGreen},
		},
		Warnings: []model.Warning{{Code: "unknown_field", Field: "passport.shoe_size", Message: "not in registry"}},
		Presence: map[string]model.Presence{"passport": model.PresencePresent},
		Version:  3,
	}
	require.False(t, files.Exists("run-1"))
	require.NoError(t, files.SaveState(state))
	assert.True(t, files.Exists("run-1"))

	got, err := files.LoadState("run-1")
	require.NoError(t, err)
	assert.Equal(t, state.Fields["passport.surname"], got.Fields["passport.surname"])
	assert.Nil(t, got.Fields["passport.sex"].Value)
	assert.Equal(t, state.Warnings, got.Warnings)
	assert.Equal(t, 3, got.Version)

	entries, err := os.ReadDir(filepath.Join(files.Root(), "run-1"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")
	assert.Equal(t, FieldsFile, entries[0].Name())
}

func TestFiles_LoadStateMissing(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	_, err := files.LoadState("nope")
	assert.True(t, errors.Is(err, model.ErrRunNotFound))
}

func TestFiles_InvalidRunID(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	for _, id := range []string{"", "../escape", "a/b", ".hidden"} {
		_, err := files.RunDir(id)
		assert.ErrorIs(t, err, ErrInvalidRunID, id)
		assert.False(t, files.Exists(id))
	}
	err := files.SaveState(&model.RunState{RunID: "../x"})
	assert.Error(t, err)
}

func TestFiles_OptionalArtifacts(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	c, err := files.LoadCanonical("run-1")
	require.NoError(t, err)
	assert.Nil(t, c)
	r, err := files.LoadFillReport("run-1")
	require.NoError(t, err)
	assert.Nil(t, r)
	v, err := files.LoadValidation("run-1")
	require.NoError(t, err)
	assert.Nil(t, v)
	s, err := files.LoadSummary("run-1")
	require.NoError(t, err)
	assert.Nil(t, s)

	snap := &model.CanonicalFields{
		RunID: "run-1", ApprovalID: "a-1", ApprovedAt: now, Version: 4,
		Fields: model.FieldMap{"passport.surname": {Path: "passport.surname", Value: model.Ptr("GARCIA"), Locked: true}},
	}
	require.NoError(t, files.SaveCanonical(snap))
	c, err = files.LoadCanonical("run-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", c.ApprovalID)
	assert.Equal(t, "GARCIA", c.Values()["passport.surname"])

	readback := "GARCIA"
	report := &model.FillReport{
		RunID: "run-1", ApprovalID: "a-1", Destination: "https://forms.example/g28/123", TraceRef: "trace-9",
		Attempts: []model.FillAttempt{{Path: "passport.surname", Attempted: true, SelectorUsed: "#surname", DOMReadbackValue: &readback, Result: model.FillPass}},
	}
	require.NoError(t, files.SaveFillReport(report))
	r, err = files.LoadFillReport("run-1")
	require.NoError(t, err)
	assert.Equal(t, report.Attempts, r.Attempts)

	summary := model.ReviewSummary{Blocking: 1, BlockingFields: []string{"passport.given_names"}}
	require.NoError(t, files.SaveSummary("run-1", summary))
	s, err = files.LoadSummary("run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"passport.given_names"}, s.BlockingFields)

	val := &model.ValidationReport{RunID: "run-1", ApprovalID: "a-1", ValidatedAt: now}
	require.NoError(t, files.SaveValidation(val))
	v, err = files.LoadValidation("run-1")
	require.NoError(t, err)
	assert.Equal(t, "a-1", v.ApprovalID)
}

func TestFiles_CorruptDocument(t *testing.T) {
	t.Parallel()
	files := newTestFiles(t)

	dir, err := files.RunDir("run-1")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, FieldsFile), []byte("{not json"), 0o644))

	_, err = files.LoadState("run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}
