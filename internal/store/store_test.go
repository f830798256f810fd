package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "run-a")
		require.NoError(t, err)
		assert.Equal(t, "run-a", run.ID)
		assert.Equal(t, model.RunStatusCreated, run.Status)

		got, err := s.GetRun(ctx, "run-a")
		require.NoError(t, err)
		assert.Equal(t, "run-a", got.ID)
		assert.Equal(t, model.RunStatusCreated, got.Status)
		assert.Zero(t, got.Version)
	})

	t.Run("UpdateRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		run, err := s.CreateRun(ctx, "run-b")
		require.NoError(t, err)
		run.Status = model.RunStatusReview
		run.Version = 7
		run.Blocking = 2
		require.NoError(t, s.UpdateRun(ctx, run))

		got, err := s.GetRun(ctx, "run-b")
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusReview, got.Status)
		assert.Equal(t, 7, got.Version)
		assert.Equal(t, 2, got.Blocking)
	})

	t.Run("GetRunNotFound", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetRun(context.Background(), "missing")
		assert.True(t, errors.Is(err, model.ErrRunNotFound))
	})

	t.Run("UpdateRunNotFound", func(t *testing.T) {
		s := newStore(t)
		err := s.UpdateRun(context.Background(), &model.Run{ID: "missing", Status: model.RunStatusReview})
		assert.True(t, errors.Is(err, model.ErrRunNotFound))
	})

	t.Run("DuplicateRun", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.CreateRun(ctx, "dup")
		require.NoError(t, err)
		_, err = s.CreateRun(ctx, "dup")
		assert.Error(t, err)
	})

	t.Run("ListRuns", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, id := range []string{"r1", "r2", "r3"} {
			_, err := s.CreateRun(ctx, id)
			require.NoError(t, err)
		}
		r2, err := s.GetRun(ctx, "r2")
		require.NoError(t, err)
		r2.Status = model.RunStatusApproved
		require.NoError(t, s.UpdateRun(ctx, r2))

		all, err := s.ListRuns(ctx, RunFilter{})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		approved, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusApproved})
		require.NoError(t, err)
		require.Len(t, approved, 1)
		assert.Equal(t, "r2", approved[0].ID)

		page, err := s.ListRuns(ctx, RunFilter{Limit: 2})
		require.NoError(t, err)
		assert.Len(t, page, 2)

		rest, err := s.ListRuns(ctx, RunFilter{Limit: 2, Offset: 2})
		require.NoError(t, err)
		assert.Len(t, rest, 1)

		none, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFilled})
		require.NoError(t, err)
		assert.NotNil(t, none)
		assert.Empty(t, none)
	})
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, func(t *testing.T) Store {
		return newTestSQLite(t)
	})
}

func TestSQLiteStore_CreatedOrder(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		at := base.Add(time.Duration(i) * time.Hour)
		s.now = func() time.Time { return at }
		_, err := s.CreateRun(ctx, id)
		require.NoError(t, err)
	}

	runs, err := s.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "old", runs[1].ID)
}
