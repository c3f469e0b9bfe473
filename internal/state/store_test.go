package state

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "pipeline_state.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRuns_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 1, 18, 2, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	first, err := s.StartRun(ctx, "cli")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, first.Status)
	assert.NotEmpty(t, first.ID)

	s.now = func() time.Time { return base.Add(time.Hour) }
	second, err := s.StartRun(ctx, "schedule")
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	require.NoError(t, s.FinishRun(ctx, first.ID, RunSucceeded, "extract=ok"))

	runs, err := s.LastRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, second.ID, runs[0].ID)
	assert.Equal(t, RunRunning, runs[0].Status)
	assert.True(t, runs[0].FinishedAt.IsZero())

	assert.Equal(t, first.ID, runs[1].ID)
	assert.Equal(t, RunSucceeded, runs[1].Status)
	assert.Equal(t, "extract=ok", runs[1].Summary)
	assert.True(t, runs[1].FinishedAt.Equal(base.Add(2*time.Hour)))
}

func TestFinishRun_UnknownID(t *testing.T) {
	s := newTestStore(t)
	assert.Error(t, s.FinishRun(context.Background(), "missing", RunFailed, ""))
}

func TestCheckpoints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, ok, err := s.Checkpoint(ctx, "CheMed123")
	require.NoError(t, err)
	assert.False(t, ok)

	day := time.Date(2026, 1, 18, 9, 30, 0, 0, time.UTC)
	require.NoError(t, s.SaveCheckpoint(ctx, Checkpoint{Channel: "CheMed123", LastID: 500, LastDate: day}))

	cp, ok, err := s.Checkpoint(ctx, "CheMed123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(500), cp.LastID)
	assert.True(t, cp.LastDate.Equal(day))

	// Older checkpoints are ignored.
	require.NoError(t, s.SaveCheckpoint(ctx, Checkpoint{Channel: "CheMed123", LastID: 400, LastDate: day.Add(-time.Hour)}))
	cp, _, err = s.Checkpoint(ctx, "CheMed123")
	require.NoError(t, err)
	assert.Equal(t, int64(500), cp.LastID)

	require.NoError(t, s.SaveCheckpoint(ctx, Checkpoint{Channel: "CheMed123", LastID: 600, LastDate: day.Add(time.Hour)}))
	cp, _, err = s.Checkpoint(ctx, "CheMed123")
	require.NoError(t, err)
	assert.Equal(t, int64(600), cp.LastID)
}
