// Package shadow runs best-effort writes off the request path.
//
// A [Queue] has a fixed number of workers, each with its own bounded buffer. Tasks with the
// same key always land on the same worker, so they run in submission order. Submitting
// never blocks: when the buffer is full, or the queue is closed, the task is dropped and
// its failure callback runs at once. Each task is retried with exponential backoff, every
// attempt under its own timeout.
package shadow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is reported for a task submitted while the buffer is full.
	ErrQueueFull = errors.New("shadow queue full")
	// ErrClosed is returned by Submit after Close.
	ErrClosed = errors.New("shadow queue closed")
)

// Task is one best-effort write.
type Task struct {
	// Name identifies the task in logs, for example "users:u1 update".
	Name string
	// Key orders tasks: tasks sharing a key run one at a time in submission order.
	// Tasks without a key are spread over the workers.
	Key string
	// Run performs one attempt. ctx carries the attempt timeout.
	Run func(ctx context.Context) error
	// Permanent reports errors that must not be retried. Nil retries every error.
	Permanent func(err error) bool
	// OnSuccess and OnFailure are called once with the final result.
	OnSuccess func(attempts int, elapsed time.Duration)
	OnFailure func(err error, attempts int, elapsed time.Duration)
}

// Config sizes a Queue.
type Config struct {
	Workers int
	// QueueSize is split evenly across the workers.
	QueueSize   int
	MaxAttempts int
	// Timeout bounds each attempt.
	Timeout        time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Workers:        8,
		QueueSize:      1024,
		MaxAttempts:    3,
		Timeout:        2 * time.Second,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	return c
}

// Stats are cumulative counters of a Queue.
type Stats struct {
	Submitted int64
	Succeeded int64
	Failed    int64
	Dropped   int64
	Pending   int64
}

// Queue is a bounded pool of shadow-write workers.
type Queue struct {
	cfg    Config
	log    zerolog.Logger
	shards []chan Task
	next   atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool

	submitted atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
	pending   atomic.Int64
}

// New starts the workers of a queue.
func New(cfg Config, log zerolog.Logger) *Queue {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		cfg:    cfg,
		log:    log.With().Str("component", "shadow").Logger(),
		shards: make([]chan Task, cfg.Workers),
		ctx:    ctx,
		cancel: cancel,
	}
	size := (cfg.QueueSize + cfg.Workers - 1) / cfg.Workers
	for i := range q.shards {
		q.shards[i] = make(chan Task, size)
		q.wg.Add(1)
		go q.worker(q.shards[i])
	}
	return q
}

func (q *Queue) shard(key string) chan Task {
	n := uint64(len(q.shards))
	if key == "" {
		return q.shards[q.next.Add(1)%n]
	}
	return q.shards[xxhash.Sum64String(key)%n]
}

// Submit enqueues t without blocking. When t's buffer is full or the queue is closed,
// t's failure callback runs with ErrQueueFull or ErrClosed before Submit returns the
// same error.
func (q *Queue) Submit(t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return q.drop(t, ErrClosed)
	}

	q.pending.Add(1)
	select {
	case q.shard(t.Key) <- t:
		q.submitted.Add(1)
		return nil
	default:
		q.pending.Add(-1)
		return q.drop(t, ErrQueueFull)
	}
}

func (q *Queue) drop(t Task, err error) error {
	q.dropped.Add(1)
	q.log.Warn().Err(err).Str("task", t.Name).Msg("dropping shadow write")
	if t.OnFailure != nil {
		t.OnFailure(err, 0, 0)
	}
	return err
}

// Flush waits until every submitted task has finished or ctx ends.
func (q *Queue) Flush(ctx context.Context) error {
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for q.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("flush shadow queue: %d tasks pending: %w", q.pending.Load(), ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops accepting tasks, runs the buffered ones and stops the workers.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	for _, ch := range q.shards {
		close(ch)
	}
	q.mu.Unlock()

	q.wg.Wait()
	q.cancel()
	return nil
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	return Stats{
		Submitted: q.submitted.Load(),
		Succeeded: q.succeeded.Load(),
		Failed:    q.failed.Load(),
		Dropped:   q.dropped.Load(),
		Pending:   q.pending.Load(),
	}
}

func (q *Queue) worker(tasks <-chan Task) {
	defer q.wg.Done()
	for t := range tasks {
		q.run(t)
		q.pending.Add(-1)
	}
}

func (q *Queue) run(t Task) {
	defer func() {
		if r := recover(); r != nil {
			q.failed.Add(1)
			q.log.Error().Str("task", t.Name).Interface("panic", r).Msg("shadow write panicked")
			if t.OnFailure != nil {
				t.OnFailure(fmt.Errorf("%s panicked: %v", t.Name, r), 0, 0)
			}
		}
	}()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialBackoff
	b.MaxInterval = q.cfg.MaxBackoff
	b.MaxElapsedTime = 0

	start := time.Now()
	attempts := 0
	op := func() error {
		attempts++
		ctx, cancel := context.WithTimeout(q.ctx, q.cfg.Timeout)
		defer cancel()
		err := t.Run(ctx)
		if err != nil && t.Permanent != nil && t.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		q.log.Debug().Err(err).Str("task", t.Name).Int("attempt", attempts).Dur("retry_in", next).Msg("shadow write failed, retrying")
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(q.cfg.MaxAttempts-1)), q.ctx)
	err := backoff.RetryNotify(op, policy, notify)
	elapsed := time.Since(start)
	if err != nil {
		q.failed.Add(1)
		q.log.Warn().Err(err).Str("task", t.Name).Int("attempts", attempts).Msg("shadow write failed")
		if t.OnFailure != nil {
			t.OnFailure(err, attempts, elapsed)
		}
		return
	}
	q.succeeded.Add(1)
	if t.OnSuccess != nil {
		t.OnSuccess(attempts, elapsed)
	}
}
