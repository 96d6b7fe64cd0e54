package shadow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealshop/pkg/shadow"
)

func testConfig() shadow.Config {
	return shadow.Config{
		Workers:        2,
		QueueSize:      16,
		MaxAttempts:    3,
		Timeout:        100 * time.Millisecond,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func flush(t *testing.T, q *shadow.Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Flush(ctx))
}

func TestTaskSucceedsAfterRetries(t *testing.T) {
	q := shadow.New(testConfig(), zerolog.Nop())
	defer q.Close()

	var calls atomic.Int32
	var gotAttempts atomic.Int32
	require.NoError(t, q.Submit(shadow.Task{
		Name: "users:u1 create",
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("flaky")
			}
			return nil
		},
		OnSuccess: func(attempts int, _ time.Duration) { gotAttempts.Store(int32(attempts)) },
		OnFailure: func(error, int, time.Duration) { t.Error("unexpected failure") },
	}))
	flush(t, q)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(3), gotAttempts.Load())
	assert.Equal(t, int64(1), q.Stats().Succeeded)
}

func TestTaskFailsAfterMaxAttempts(t *testing.T) {
	q := shadow.New(testConfig(), zerolog.Nop())
	defer q.Close()

	boom := errors.New("boom")
	var calls atomic.Int32
	failed := make(chan error, 1)
	require.NoError(t, q.Submit(shadow.Task{
		Name:      "users:u1 update",
		Run:       func(context.Context) error { calls.Add(1); return boom },
		OnFailure: func(err error, _ int, _ time.Duration) { failed <- err },
	}))
	flush(t, q)

	require.ErrorIs(t, <-failed, boom)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int64(1), q.Stats().Failed)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	q := shadow.New(testConfig(), zerolog.Nop())
	defer q.Close()

	notFound := errors.New("not found")
	var calls atomic.Int32
	require.NoError(t, q.Submit(shadow.Task{
		Run:       func(context.Context) error { calls.Add(1); return notFound },
		Permanent: func(err error) bool { return errors.Is(err, notFound) },
	}))
	flush(t, q)

	assert.Equal(t, int32(1), calls.Load())
}

func TestEachAttemptHasTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.MaxAttempts = 1
	cfg.Timeout = 10 * time.Millisecond
	q := shadow.New(cfg, zerolog.Nop())
	defer q.Close()

	failed := make(chan error, 1)
	require.NoError(t, q.Submit(shadow.Task{
		Run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		OnFailure: func(err error, _ int, _ time.Duration) { failed <- err },
	}))
	flush(t, q)

	require.ErrorIs(t, <-failed, context.DeadlineExceeded)
}

func TestSubmitNeverBlocksWhenFull(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1
	q := shadow.New(cfg, zerolog.Nop())
	defer q.Close()

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := shadow.Task{Run: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}
	require.NoError(t, q.Submit(blocking))
	<-started
	require.NoError(t, q.Submit(shadow.Task{Run: func(context.Context) error { return nil }}))

	var dropped atomic.Bool
	err := q.Submit(shadow.Task{
		Run:       func(context.Context) error { return nil },
		OnFailure: func(err error, _ int, _ time.Duration) { dropped.Store(errors.Is(err, shadow.ErrQueueFull)) },
	})
	require.ErrorIs(t, err, shadow.ErrQueueFull)
	assert.True(t, dropped.Load())

	close(release)
	flush(t, q)
	stats := q.Stats()
	assert.Equal(t, int64(2), stats.Submitted)
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Zero(t, stats.Pending)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	q := shadow.New(testConfig(), zerolog.Nop())

	var ran atomic.Int32
	for range 5 {
		require.NoError(t, q.Submit(shadow.Task{Run: func(context.Context) error { ran.Add(1); return nil }}))
	}
	require.NoError(t, q.Close())
	assert.Equal(t, int32(5), ran.Load())

	require.ErrorIs(t, q.Submit(shadow.Task{Run: func(context.Context) error { return nil }}), shadow.ErrClosed)
	require.NoError(t, q.Close())
}

func TestSubmitAfterCloseReportsFailure(t *testing.T) {
	q := shadow.New(testConfig(), zerolog.Nop())
	require.NoError(t, q.Close())

	var got error
	err := q.Submit(shadow.Task{
		Name:      "users:u1 create",
		Run:       func(context.Context) error { t.Error("task ran after close"); return nil },
		OnFailure: func(err error, _ int, _ time.Duration) { got = err },
	})
	require.ErrorIs(t, err, shadow.ErrClosed)
	require.ErrorIs(t, got, shadow.ErrClosed)

	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Dropped)
	assert.Zero(t, stats.Submitted)
}

func TestTasksWithSameKeyRunInOrder(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 4
	cfg.QueueSize = 128
	q := shadow.New(cfg, zerolog.Nop())
	defer q.Close()

	var (
		mu  sync.Mutex
		ran = map[string][]string{}
	)
	step := func(key, name string, d time.Duration) shadow.Task {
		return shadow.Task{
			Name: key + " " + name,
			Key:  key,
			Run: func(context.Context) error {
				time.Sleep(d)
				mu.Lock()
				defer mu.Unlock()
				ran[key] = append(ran[key], name)
				return nil
			},
		}
	}
	for i := range 8 {
		key := fmt.Sprintf("users:u%d", i)
		require.NoError(t, q.Submit(step(key, "create", 20*time.Millisecond)))
		require.NoError(t, q.Submit(step(key, "update", 5*time.Millisecond)))
		require.NoError(t, q.Submit(step(key, "delete", 0)))
	}
	flush(t, q)

	require.Len(t, ran, 8)
	for key, steps := range ran {
		assert.Equal(t, []string{"create", "update", "delete"}, steps, key)
	}
}
