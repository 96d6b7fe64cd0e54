// Package monitor compares the source and target stores while a migration runs and keeps
// rolling success and latency windows for every backend.
//
// The monitor is fed by the dualwrite orchestrator through RecordWrite, RecordRead and
// Track. On every tick it samples a batch of tracked identities, fetches each from both
// stores concurrently and reports a [DriftRecord] for every field mismatch or record that
// exists in only one store. Drift is reported, never corrected.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/store"
	"github.com/zhangyunhao116/skipmap"
	"golang.org/x/sync/errgroup"
)

// ErrDriftDetected marks drift entries in the log.
var ErrDriftDetected = errors.New("drift detected")

// Where a record is missing.
const (
	MissingNone   = ""
	MissingSource = "source"
	MissingTarget = "target"
)

// DriftRecord is one observed inconsistency between the two stores.
type DriftRecord struct {
	Table      string             `json:"table"`
	ID         string             `json:"id"`
	Diffs      []models.FieldDiff `json:"diffs,omitempty"`
	MissingIn  string             `json:"missing_in,omitempty"`
	DetectedAt time.Time          `json:"detected_at"`
}

// Config controls sampling and aggregation.
type Config struct {
	Interval time.Duration
	// BatchSize is the number of tracked identities sampled per tick.
	BatchSize int
	// Window is the number of samples kept per (kind, backend).
	Window int
	// History is the number of drift records kept for inspection.
	History      int
	Concurrency  int
	FetchTimeout time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Interval:     30 * time.Second,
		BatchSize:    100,
		Window:       1000,
		History:      200,
		Concurrency:  8,
		FetchTimeout: 3 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.History <= 0 {
		c.History = d.History
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	return c
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSink adds a receiver for every drift record, next to the log and the history.
func WithSink(fn func(DriftRecord)) Option {
	return func(m *Monitor) { m.sinks = append(m.sinks, fn) }
}

// WithBackendNames names the two stores in metrics and drift records.
func WithBackendNames(source, target string) Option {
	return func(m *Monitor) { m.sourceName, m.targetName = source, target }
}

// Monitor samples consistency and aggregates outcomes. Its methods are safe for
// concurrent use.
type Monitor struct {
	source, target         store.Store
	sourceName, targetName string
	cfg                    Config
	log                    zerolog.Logger
	sinks                  []func(DriftRecord)
	now                    func() time.Time

	tracked *skipmap.FuncMap[string, time.Time]
	tick    func(ctx context.Context) ([]DriftRecord, error)

	mu             sync.Mutex
	windows        map[string]*window
	history        []DriftRecord
	driftTotal     int64
	driftSinceMark int64
	shadowFailures int64
	fallbacks      int64
	ticks          int64
	skippedTicks   int64
	lastTickDrift  int64
}

// New returns a monitor comparing source with target.
func New(source, target store.Store, cfg Config, log zerolog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		source:     source,
		target:     target,
		sourceName: "source",
		targetName: "target",
		cfg:        cfg.withDefaults(),
		log:        log.With().Str("component", "monitor").Logger(),
		now:        time.Now,
		tracked: skipmap.NewFunc[string, time.Time](func(a, b string) bool {
			return a < b
		}),
		windows: make(map[string]*window),
	}
	m.tick = m.Tick
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Track marks table/id for the next sample.
func (m *Monitor) Track(table, id string) {
	m.tracked.Store(trackKey(table, id), m.now())
}

// Tracked returns the number of identities waiting to be sampled.
func (m *Monitor) Tracked() int {
	return m.tracked.Len()
}

// RecordWrite adds a write outcome to the window of its role and backend.
func (m *Monitor) RecordWrite(o store.WriteOutcome) {
	kind := "write"
	if o.Role == store.RoleShadow {
		kind = "shadow"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window(kind, o.Backend).add(sample{ok: o.Success(), latency: o.Latency})
	if o.Role == store.RoleShadow && !o.Success() {
		m.shadowFailures++
	}
}

// RecordRead adds a read outcome to the read window of its backend.
func (m *Monitor) RecordRead(o store.ReadOutcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.window("read", o.Backend).add(sample{ok: o.Success(), latency: o.Latency})
	if o.Fallback {
		m.fallbacks++
	}
}

// must hold m.mu
func (m *Monitor) window(kind, backend string) *window {
	key := kind + "." + backend
	w, ok := m.windows[key]
	if !ok {
		w = newWindow(m.cfg.Window)
		m.windows[key] = w
	}
	return w
}

// Run samples on every interval until ctx ends. A failing or panicking tick is logged
// and skipped.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	m.log.Info().Dur("interval", m.cfg.Interval).Int("batch", m.cfg.BatchSize).Msg("consistency monitor started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("consistency monitor stopped")
			return nil
		case <-ticker.C:
			m.safeTick(ctx)
		}
	}
}

func (m *Monitor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.skip(fmt.Errorf("tick panicked: %v", r))
		}
	}()
	if _, err := m.tick(ctx); err != nil {
		m.skip(err)
	}
}

func (m *Monitor) skip(err error) {
	m.mu.Lock()
	m.skippedTicks++
	m.mu.Unlock()
	m.log.Error().Err(err).Msg("consistency sample skipped")
}

// Tick samples one batch of tracked identities and returns the drift found.
func (m *Monitor) Tick(ctx context.Context) ([]DriftRecord, error) {
	batch := m.takeBatch()

	var (
		mu    sync.Mutex
		found []DriftRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.Concurrency)
	for _, key := range batch {
		g.Go(func() error {
			table, id := splitKey(key)
			rec, ok, err := m.compare(gctx, table, id)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				// sample again next tick
				m.tracked.Store(key, m.now())
				m.log.Warn().Err(err).Str("table", table).Str("id", id).Msg("consistency fetch failed")
				return nil
			}
			if ok {
				mu.Lock()
				found = append(found, rec)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()

	for _, rec := range found {
		m.emit(rec)
	}
	m.mu.Lock()
	m.ticks++
	m.lastTickDrift = int64(len(found))
	m.mu.Unlock()
	return found, err
}

func (m *Monitor) takeBatch() []string {
	var keys []string
	m.tracked.Range(func(key string, _ time.Time) bool {
		keys = append(keys, key)
		return len(keys) < m.cfg.BatchSize
	})
	for _, key := range keys {
		m.tracked.Delete(key)
	}
	return keys
}

// compare fetches table/id from both stores concurrently. ok is false when both copies
// agree or neither store has the record.
func (m *Monitor) compare(ctx context.Context, table, id string) (DriftRecord, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	var src, tgt models.Record
	var srcMissing, tgtMissing bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		src, srcMissing, err = fetch(gctx, m.source, table, id)
		return err
	})
	g.Go(func() error {
		var err error
		tgt, tgtMissing, err = fetch(gctx, m.target, table, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return DriftRecord{}, false, err
	}

	rec := DriftRecord{Table: table, ID: id, DetectedAt: m.now().UTC()}
	switch {
	case srcMissing && tgtMissing:
		return rec, false, nil
	case srcMissing:
		rec.MissingIn = MissingSource
		return rec, true, nil
	case tgtMissing:
		rec.MissingIn = MissingTarget
		return rec, true, nil
	}
	rec.Diffs = models.Diff(src, tgt)
	return rec, len(rec.Diffs) > 0, nil
}

func fetch(ctx context.Context, s store.Store, table, id string) (models.Record, bool, error) {
	rec, err := store.Get(ctx, s, table, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return rec, false, nil
}

func (m *Monitor) emit(rec DriftRecord) {
	ev := m.log.Warn().Err(ErrDriftDetected).Str("table", rec.Table).Str("id", rec.ID)
	if rec.MissingIn != MissingNone {
		ev = ev.Str("missing_in", rec.MissingIn)
	}
	for _, d := range rec.Diffs {
		ev = ev.Str("diff."+d.Field, fmt.Sprintf("%v != %v", d.Source, d.Target))
	}
	ev.Msg("source and target disagree")

	m.mu.Lock()
	m.driftTotal++
	m.driftSinceMark++
	m.history = append(m.history, rec)
	if over := len(m.history) - m.cfg.History; over > 0 {
		m.history = append([]DriftRecord(nil), m.history[over:]...)
	}
	m.mu.Unlock()

	for _, sink := range m.sinks {
		sink(rec)
	}
}

// Drift returns the most recent drift records, oldest first.
func (m *Monitor) Drift() []DriftRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DriftRecord(nil), m.history...)
}

// Mark resets the drift counter the advancement gate looks at. It is called on every
// phase transition.
func (m *Monitor) Mark() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftSinceMark = 0
}

// Snapshot returns every metric as a flat map. Window metrics are named
// <kind>.<backend>.<metric> where kind is write, shadow or read.
func (m *Monitor) Snapshot() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := map[string]float64{
		"drift.total":           float64(m.driftTotal),
		"drift.since_mark":      float64(m.driftSinceMark),
		"drift.last_tick":       float64(m.lastTickDrift),
		"drift.tracked":         float64(m.tracked.Len()),
		"shadow.failures":       float64(m.shadowFailures),
		"read.fallbacks":        float64(m.fallbacks),
		"monitor.ticks":         float64(m.ticks),
		"monitor.skipped_ticks": float64(m.skippedTicks),
	}
	for key, w := range m.windows {
		s := w.stats()
		out[key+".count"] = float64(s.count)
		out[key+".success_rate"] = s.successRate
		out[key+".p50_ms"] = float64(s.p50) / float64(time.Millisecond)
		out[key+".p95_ms"] = float64(s.p95) / float64(time.Millisecond)
	}
	return out
}

func trackKey(table, id string) string {
	return table + ":" + id
}

func splitKey(key string) (table, id string) {
	table, id, _ = strings.Cut(key, ":")
	return table, id
}
