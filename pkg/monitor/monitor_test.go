package monitor_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/monitor"
	"github.com/surrealdb/surrealshop/pkg/phase"
	"github.com/surrealdb/surrealshop/pkg/shadow"
	"github.com/surrealdb/surrealshop/pkg/store"
	"github.com/surrealdb/surrealshop/pkg/store/dualwrite"
	"github.com/surrealdb/surrealshop/pkg/store/memstore"
	"github.com/surrealdb/surrealshop/pkg/store/storetest"
)

var created = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func putUser(t *testing.T, s store.Store, id, name string) {
	t.Helper()
	_, err := s.Users().Create(context.Background(), &models.User{
		ID:        models.UserID(id),
		Name:      name,
		CreatedAt: created,
		UpdatedAt: created,
	})
	require.NoError(t, err)
}

func TestTickReportsFieldMismatch(t *testing.T) {
	source, target := memstore.New(), memstore.New()
	putUser(t, source, "u1", "X")
	putUser(t, target, "u1", "Y")

	var sunk []monitor.DriftRecord
	m := monitor.New(source, target, monitor.Config{}, zerolog.Nop(),
		monitor.WithSink(func(r monitor.DriftRecord) { sunk = append(sunk, r) }))
	m.Track(models.TableUsers, "u1")

	drift, err := m.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, models.TableUsers, drift[0].Table)
	assert.Equal(t, "u1", drift[0].ID)
	assert.Equal(t, monitor.MissingNone, drift[0].MissingIn)
	assert.Equal(t, []models.FieldDiff{{Field: "name", Source: "X", Target: "Y"}}, drift[0].Diffs)

	assert.Equal(t, drift, sunk)
	assert.Equal(t, drift, m.Drift())
	assert.Zero(t, m.Tracked())

	// sampled identities leave the tracked set
	drift, err = m.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drift)
}

func TestTickReportsMissingRecords(t *testing.T) {
	source, target := memstore.New(), memstore.New()
	putUser(t, source, "only-source", "A")
	putUser(t, target, "only-target", "B")
	putUser(t, source, "same", "C")
	putUser(t, target, "same", "C")

	m := monitor.New(source, target, monitor.Config{}, zerolog.Nop())
	for _, id := range []string{"only-source", "only-target", "same", "nowhere"} {
		m.Track(models.TableUsers, id)
	}

	drift, err := m.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, drift, 2)

	byID := map[string]monitor.DriftRecord{}
	for _, d := range drift {
		byID[d.ID] = d
	}
	assert.Equal(t, monitor.MissingTarget, byID["only-source"].MissingIn)
	assert.Equal(t, monitor.MissingSource, byID["only-target"].MissingIn)
}

func TestTickSamplesAtMostOneBatch(t *testing.T) {
	source, target := memstore.New(), memstore.New()
	m := monitor.New(source, target, monitor.Config{BatchSize: 2}, zerolog.Nop())
	for _, id := range []string{"a", "b", "c"} {
		putUser(t, source, id, "N")
		m.Track(models.TableUsers, id)
	}

	drift, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, drift, 2)
	assert.Equal(t, 1, m.Tracked())
}

func TestFetchFailureKeepsIdentityTracked(t *testing.T) {
	source := storetest.Wrap(memstore.New(), "postgres")
	target := memstore.New()
	putUser(t, source, "u1", "X")
	source.Fail(models.TableUsers, store.OpGet, store.ErrTransient)

	m := monitor.New(source, target, monitor.Config{}, zerolog.Nop())
	m.Track(models.TableUsers, "u1")

	drift, err := m.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, drift)
	assert.Equal(t, 1, m.Tracked())

	source.Clear()
	drift, err = m.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, drift, 1)
	assert.Equal(t, monitor.MissingTarget, drift[0].MissingIn)
}

func TestDriftIsLogged(t *testing.T) {
	source, target := memstore.New(), memstore.New()
	putUser(t, source, "u1", "X")
	putUser(t, target, "u1", "Y")

	var buf bytes.Buffer
	m := monitor.New(source, target, monitor.Config{}, zerolog.New(&buf))
	m.Track(models.TableUsers, "u1")
	_, err := m.Tick(context.Background())
	require.NoError(t, err)

	assert.Contains(t, buf.String(), monitor.ErrDriftDetected.Error())
	assert.Contains(t, buf.String(), `"id":"u1"`)
	assert.Contains(t, buf.String(), `"diff.name":"X != Y"`)
}

func TestHistoryIsBounded(t *testing.T) {
	source, target := memstore.New(), memstore.New()
	m := monitor.New(source, target, monitor.Config{History: 2}, zerolog.Nop())
	for _, id := range []string{"a", "b", "c"} {
		putUser(t, source, id, "N")
		m.Track(models.TableUsers, id)
	}
	_, err := m.Tick(context.Background())
	require.NoError(t, err)

	history := m.Drift()
	require.Len(t, history, 2)
	assert.Equal(t, float64(3), m.Snapshot()["drift.total"])
}

func TestSnapshotWindows(t *testing.T) {
	m := monitor.New(memstore.New(), memstore.New(), monitor.Config{Window: 4}, zerolog.Nop())

	for _, ms := range []int{40, 10, 30, 20} {
		m.RecordWrite(store.WriteOutcome{Backend: "postgres", Role: store.RoleAuthoritative, Latency: time.Duration(ms) * time.Millisecond})
	}
	m.RecordWrite(store.WriteOutcome{Backend: "surrealdb", Role: store.RoleShadow, Err: store.ErrShadowWrite, Latency: time.Millisecond})
	m.RecordWrite(store.WriteOutcome{Backend: "surrealdb", Role: store.RoleShadow, Latency: time.Millisecond})
	m.RecordRead(store.ReadOutcome{Backend: "surrealdb", Err: store.ErrNotFound, Latency: time.Millisecond})
	m.RecordRead(store.ReadOutcome{Backend: "postgres", Fallback: true, Latency: time.Millisecond})

	snap := m.Snapshot()
	assert.Equal(t, float64(4), snap["write.postgres.count"])
	assert.Equal(t, 1.0, snap["write.postgres.success_rate"])
	assert.Equal(t, 20.0, snap["write.postgres.p50_ms"])
	assert.Equal(t, 40.0, snap["write.postgres.p95_ms"])
	assert.Equal(t, 0.5, snap["shadow.surrealdb.success_rate"])
	assert.Equal(t, 1.0, snap["shadow.failures"])
	assert.Equal(t, 1.0, snap["read.surrealdb.success_rate"])
	assert.Equal(t, 1.0, snap["read.fallbacks"])

	// the window keeps only the most recent samples
	m.RecordWrite(store.WriteOutcome{Backend: "postgres", Role: store.RoleAuthoritative, Err: errors.New("down")})
	assert.Equal(t, 0.75, m.Snapshot()["write.postgres.success_rate"])
}

func TestGate(t *testing.T) {
	m := monitor.New(memstore.New(), memstore.New(), monitor.Config{}, zerolog.Nop())
	gate := monitor.Gate{MinSuccessRate: 0.9, MaxDrift: 0}

	require.NoError(t, gate.Check(m.Snapshot()))

	m.RecordWrite(store.WriteOutcome{Backend: "surrealdb", Role: store.RoleShadow, Err: store.ErrShadowWrite})
	require.ErrorIs(t, gate.Check(m.Snapshot()), monitor.ErrGateClosed)

	source := memstore.New()
	putUser(t, source, "u1", "X")
	drifting := monitor.New(source, memstore.New(), monitor.Config{}, zerolog.Nop())
	drifting.Track(models.TableUsers, "u1")
	_, err := drifting.Tick(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, gate.Check(drifting.Snapshot()), monitor.ErrGateClosed)
	require.NoError(t, monitor.Gate{MinSuccessRate: 0.9, MaxDrift: -1}.Check(drifting.Snapshot()))

	drifting.Mark()
	require.NoError(t, gate.Check(drifting.Snapshot()))
}

func TestShadowFaultYieldsOneDriftOnNextSample(t *testing.T) {
	tests := []struct {
		phase     phase.Phase
		faulty    func(source, target *storetest.Store) *storetest.Store
		missingIn string
	}{
		{phase.DualWriteSourceRead, func(_, target *storetest.Store) *storetest.Store { return target }, monitor.MissingTarget},
		{phase.DualWriteTargetRead, func(source, _ *storetest.Store) *storetest.Store { return source }, monitor.MissingSource},
	}
	for _, tt := range tests {
		t.Run(tt.phase.String(), func(t *testing.T) {
			ctx := context.Background()
			source := storetest.Wrap(memstore.New(), "postgres")
			target := storetest.Wrap(memstore.New(), "surrealdb")
			tt.faulty(source, target).Fail(models.TableUsers, store.OpCreate, errors.New("injected"))

			reg, err := phase.NewRegistry(tt.phase, zerolog.Nop())
			require.NoError(t, err)
			m := monitor.New(source, target, monitor.Config{}, zerolog.Nop(), monitor.WithBackendNames("postgres", "surrealdb"))
			o := dualwrite.New(source, target, reg,
				dualwrite.WithRecorder(m),
				dualwrite.WithBackendNames("postgres", "surrealdb"),
				dualwrite.WithShadowConfig(shadow.Config{MaxAttempts: 1}),
			)
			defer o.Close()

			created, err := o.Users().Create(ctx, &models.User{ID: "u1", Name: "Ann"})
			require.NoError(t, err)
			assert.Equal(t, "Ann", created.Name)
			flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			require.NoError(t, o.Flush(flushCtx))

			drift, err := m.Tick(ctx)
			require.NoError(t, err)
			require.Len(t, drift, 1)
			assert.Equal(t, "u1", drift[0].ID)
			assert.Equal(t, tt.missingIn, drift[0].MissingIn)
			assert.Equal(t, 1.0, m.Snapshot()["shadow.failures"])
		})
	}
}

func TestRunStopsWithContext(t *testing.T) {
	source, target := memstore.New(), memstore.New()
	putUser(t, source, "u1", "X")
	m := monitor.New(source, target, monitor.Config{Interval: 5 * time.Millisecond}, zerolog.Nop())
	m.Track(models.TableUsers, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool {
		return m.Snapshot()["drift.total"] == 1
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSlowShadowWriteIsNotDrift(t *testing.T) {
	ctx := context.Background()
	source := storetest.Wrap(memstore.New(), "postgres")
	target := storetest.Wrap(memstore.New(), "surrealdb")
	target.Delay(models.TableUsers, store.OpCreate, 300*time.Millisecond)

	reg, err := phase.NewRegistry(phase.DualWriteSourceRead, zerolog.Nop())
	require.NoError(t, err)
	m := monitor.New(source, target, monitor.Config{}, zerolog.Nop(), monitor.WithBackendNames("postgres", "surrealdb"))
	o := dualwrite.New(source, target, reg,
		dualwrite.WithRecorder(m),
		dualwrite.WithBackendNames("postgres", "surrealdb"),
		dualwrite.WithTimeouts(dualwrite.Timeouts{Authoritative: time.Second, Shadow: time.Second, Read: time.Second}),
	)
	defer o.Close()

	_, err = o.Users().Create(ctx, &models.User{ID: "u1", Name: "Ann"})
	require.NoError(t, err)

	drift, err := m.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift, "a shadow write in flight is not sampled")

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, o.Flush(flushCtx))
	assert.Equal(t, 1, m.Tracked())

	drift, err = m.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)
	assert.Zero(t, m.Snapshot()["drift.since_mark"])
	require.NoError(t, monitor.Gate{MinSuccessRate: 0.99}.Check(m.Snapshot()))
}
