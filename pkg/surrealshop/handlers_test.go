package surrealshop_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealshop/pkg/client"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/store"
	"github.com/surrealdb/surrealshop/pkg/store/memstore"
	"github.com/surrealdb/surrealshop/pkg/store/storetest"
	"github.com/surrealdb/surrealshop/pkg/surrealshop"
)

type testApp struct {
	app    *surrealshop.App
	source *storetest.Store
	target *memstore.Store
	api    *client.Client
}

func newTestApp(t *testing.T, startPhase string) *testApp {
	t.Helper()

	config := surrealshop.DefaultConfig()
	config.Backend = surrealshop.BackendMemory
	config.Migration.Phase = startPhase

	source := storetest.Wrap(memstore.New(), "source")
	target := memstore.New()
	app, err := surrealshop.NewWithBackends(config, surrealshop.Backends{Source: source, Target: target}, zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(app.Router())
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, app.Close())
	})
	return &testApp{app: app, source: source, target: target, api: client.NewClient(srv.URL)}
}

func TestPhaseTransitions(t *testing.T) {
	ta := newTestApp(t, "source_only")
	ctx := context.Background()

	state, err := ta.api.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "source_only", state.Current)

	state, err = ta.api.SetPhase(ctx, client.PhaseRequest{Phase: "dual_write_source_read"})
	require.NoError(t, err)
	assert.Equal(t, "source_only", state.Previous)
	assert.Equal(t, "dual_write_source_read", state.Current)

	_, err = ta.api.SetPhase(ctx, client.PhaseRequest{Phase: "target_only"})
	assert.ErrorIs(t, err, client.ErrConflict, "skipping a phase")

	_, err = ta.api.SetPhase(ctx, client.PhaseRequest{Phase: "source_only"})
	assert.ErrorIs(t, err, client.ErrConflict, "backward without rollback")

	state, err = ta.api.SetPhase(ctx, client.PhaseRequest{Phase: "source_only", Rollback: true})
	require.NoError(t, err)
	assert.Equal(t, "dual_write_source_read", state.Previous)
	assert.Equal(t, "source_only", state.Current)

	_, err = ta.api.SetPhase(ctx, client.PhaseRequest{Phase: "half_done"})
	assert.ErrorIs(t, err, client.ErrInvalid)

	state, err = ta.api.Phase(ctx)
	require.NoError(t, err)
	assert.Equal(t, "source_only", state.Current)
}

func TestPhaseGate(t *testing.T) {
	ta := newTestApp(t, "source_only")
	ctx := context.Background()

	ta.app.Monitor().RecordWrite(store.WriteOutcome{
		Backend: "target",
		Table:   models.TableUsers,
		ID:      "u1",
		Op:      store.OpCreate,
		Role:    store.RoleShadow,
		Err:     store.ErrShadowWrite,
	})

	_, err := ta.api.SetPhase(ctx, client.PhaseRequest{Phase: "dual_write_source_read"})
	require.ErrorIs(t, err, client.ErrGateClosed)
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusPreconditionFailed, apiErr.Status)
	assert.Equal(t, "gate_closed", apiErr.Reason)

	state, err := ta.api.SetPhase(ctx, client.PhaseRequest{Phase: "dual_write_source_read", Force: true})
	require.NoError(t, err)
	assert.Equal(t, "dual_write_source_read", state.Current)

	// rollbacks are never gated
	state, err = ta.api.SetPhase(ctx, client.PhaseRequest{Phase: "source_only", Rollback: true})
	require.NoError(t, err)
	assert.Equal(t, "source_only", state.Current)
}

func TestEntityLifecycle(t *testing.T) {
	ta := newTestApp(t, "dual_write_source_read")
	ctx := context.Background()

	created, err := client.Create(ctx, ta.api, &models.User{ID: "u1", Username: "ann", Name: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, models.UserID("u1"), created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := client.Get(ctx, ta.api, models.Users, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", got.Name)

	updated, err := client.Update(ctx, ta.api, models.Users, "u1", models.Patch{"name": "Annie"})
	require.NoError(t, err)
	assert.Equal(t, "Annie", updated.Name)
	assert.Equal(t, "ann", updated.Username)

	found, err := client.FindBy(ctx, ta.api, models.Users, "username", "ann")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, models.UserID("u1"), found[0].ID)

	none, err := client.FindBy(ctx, ta.api, models.Users, "username", "bob")
	require.NoError(t, err)
	assert.Empty(t, none)

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, ta.app.Flush(flushCtx))

	shadow, err := ta.target.Users().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Annie", shadow.Name)

	require.NoError(t, client.Delete(ctx, ta.api, models.Users, "u1"))
	assert.ErrorIs(t, client.Delete(ctx, ta.api, models.Users, "u1"), client.ErrNotFound)

	_, err = client.Get(ctx, ta.api, models.Users, "u1")
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestOrdersThroughAPI(t *testing.T) {
	ta := newTestApp(t, "source_only")
	ctx := context.Background()

	_, err := client.Create(ctx, ta.api, &models.Order{
		ID:         "o1",
		UserID:     "u1",
		Status:     models.OrderPending,
		Lines:      models.OrderLines{{ProductID: "p1", Quantity: 2, UnitPriceCents: 750}},
		TotalCents: 1500,
		Currency:   "EUR",
	})
	require.NoError(t, err)

	got, err := client.Get(ctx, ta.api, models.Orders, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.Lines.Total())

	_, err = client.Update(ctx, ta.api, models.Orders, "o1", models.Patch{"status": "paid"})
	require.NoError(t, err)

	paid, err := client.FindBy(ctx, ta.api, models.Orders, "status", "paid")
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, models.OrderPaid, paid[0].Status)

	_, err = client.Update(ctx, ta.api, models.Orders, "o1", models.Patch{"lines": []any{}})
	assert.ErrorIs(t, err, client.ErrInvalid, "order lines are immutable")
}

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		fault  error
		status int
		want   error
	}{
		{"constraint", store.ErrConstraint, http.StatusConflict, client.ErrConflict},
		{"throttled", store.ErrThrottled, http.StatusServiceUnavailable, client.ErrUnavailable},
		{"timeout", store.ErrTimeout, http.StatusServiceUnavailable, client.ErrUnavailable},
		{"unclassified", errors.New("connection reset by peer"), http.StatusBadGateway, client.ErrAuthoritativeWrite},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t, "source_only")
			ta.source.Fail(models.TableUsers, store.OpCreate, tt.fault)

			_, err := client.Create(context.Background(), ta.api, &models.User{ID: "u1", Name: "Ann"})
			require.ErrorIs(t, err, tt.want)
			var apiErr *client.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.Status)
		})
	}

	t.Run("validation", func(t *testing.T) {
		ta := newTestApp(t, "source_only")
		_, err := client.Create(context.Background(), ta.api, &models.User{ID: "u1"})
		assert.ErrorIs(t, err, client.ErrInvalid)
		assert.Zero(t, ta.source.Calls(storetest.Any, storetest.Any), "rejected before any backend call")
	})

	t.Run("find by a field without index", func(t *testing.T) {
		ta := newTestApp(t, "source_only")
		_, err := client.FindBy(context.Background(), ta.api, models.Users, "name", "Ann")
		assert.ErrorIs(t, err, client.ErrInvalid)
	})
}

func TestObservability(t *testing.T) {
	ta := newTestApp(t, "dual_write_source_read")
	ctx := context.Background()

	_, err := client.Create(ctx, ta.api, &models.User{ID: "u1", Name: "Ann"})
	require.NoError(t, err)

	metrics, err := ta.api.Metrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, float64(1), metrics["write.source.count"])
	assert.Equal(t, float64(1), metrics["write.source.success_rate"])
	assert.Equal(t, float64(1), metrics["phase"])
	assert.Contains(t, metrics, "shadow.queue.submitted")

	drift, err := ta.api.Drift(ctx)
	require.NoError(t, err)
	assert.Empty(t, drift)

	health, err := ta.api.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "dual_write_source_read", health["phase"])
}
