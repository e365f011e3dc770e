package jobmgr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func quiet(string) {}

func TestTryRun_SkipsWhileRunning(t *testing.T) {
	m := NewManager(quiet)
	started := make(chan struct{})
	release := make(chan struct{})

	require.NoError(t, m.StartAsync(context.Background(), "flow", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	called := false
	err := m.TryRun(context.Background(), "flow", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrRunning)
	assert.False(t, called)
	assert.Equal(t, []string{"flow"}, m.List())

	close(release)
	m.Wait()
	assert.Empty(t, m.List())
	assert.NoError(t, m.TryRun(context.Background(), "flow", func(context.Context) error { return nil }))
}

func TestTryRun_RecoversPanic(t *testing.T) {
	var msgs []string
	m := NewManager(func(s string) { msgs = append(msgs, s) })
	err := m.TryRun(context.Background(), "boom", func(context.Context) error { panic("bad") })
	require.Error(t, err)
	assert.Equal(t, []string{"running:boom", "error:boom:panic: bad"}, msgs)
}

func TestEvery_TicksUntilStopped(t *testing.T) {
	m := NewManager(quiet)
	var n atomic.Int32
	require.NoError(t, m.Every(context.Background(), "tick", 5*time.Millisecond, func(context.Context) error {
		n.Add(1)
		return nil
	}))
	assert.Eventually(t, func() bool { return n.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop("tick"))
	m.Wait()
	assert.ErrorIs(t, m.Stop("tick"), ErrNotRunning)
}

func TestEvery_RejectsBadInterval(t *testing.T) {
	m := NewManager(quiet)
	assert.Error(t, m.Every(context.Background(), "x", 0, func(context.Context) error { return nil }))
}

func TestStatus(t *testing.T) {
	m := NewManager(quiet)
	assert.Equal(t, "No jobs are running.", m.Status())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.StartAsync(ctx, "b", func(ctx context.Context) error { <-ctx.Done(); return errors.New("stopped") }))
	require.NoError(t, m.StartAsync(ctx, "a", func(ctx context.Context) error { <-ctx.Done(); return nil }))
	assert.Equal(t, "Running jobs: a, b", m.Status())
	cancel()
	m.Wait()
}
