package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New("every day at noon", func(context.Context, string) error { return nil }, zap.NewNop())
	require.Error(t, err)
}

func TestNext(t *testing.T) {
	s, err := New("0 2 * * *", func(context.Context, string) error { return nil }, zap.NewNop())
	require.NoError(t, err)

	next := s.Next()
	require.False(t, next.IsZero())
	assert.Equal(t, 2, next.Hour())
	assert.Equal(t, 0, next.Minute())
}

func TestTryRun_SkipsOverlappingRun(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32

	s, err := New("@daily", func(ctx context.Context, trigger string) error {
		runs.Add(1)
		close(started)
		<-release
		return nil
	}, zap.NewNop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.TryRun(context.Background(), "manual") }()
	<-started

	assert.ErrorIs(t, s.TryRun(context.Background(), "schedule"), ErrBusy)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), runs.Load())
}

func TestStart_FiresOnSchedule(t *testing.T) {
	var triggers atomic.Value
	fired := make(chan struct{}, 1)

	s, err := New("@every 1s", func(ctx context.Context, trigger string) error {
		triggers.Store(trigger)
		select {
		case fired <- struct{}{}:
		default:
		}
		return nil
	}, zap.NewNop())
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled run did not fire")
	}
	assert.Equal(t, "schedule", triggers.Load())
}
