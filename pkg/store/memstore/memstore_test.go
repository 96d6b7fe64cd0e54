package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/store"
	"github.com/surrealdb/surrealshop/pkg/store/memstore"
	"github.com/surrealdb/surrealshop/pkg/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.RunContract(t, func(*testing.T) store.Store { return memstore.New() })
}

func newUser(t *testing.T, id, username, name string) *models.User {
	t.Helper()
	u := &models.User{ID: models.UserID(id), Username: username, Name: name}
	require.NoError(t, models.Users.PrepareCreate(u, time.Now()))
	return u
}

func TestGetMissingNamesBackend(t *testing.T) {
	_, err := memstore.New().Users().Get(context.Background(), "nope")
	require.ErrorIs(t, err, store.ErrNotFound)

	var be *store.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, memstore.BackendName, be.Backend)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	_, err := s.Users().Create(ctx, newUser(t, "u1", "", "Ann"))
	require.NoError(t, err)

	got, err := s.Users().Get(ctx, "u1")
	require.NoError(t, err)
	got.Name = "changed"

	again, err := s.Users().Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ann", again.Name)
}

func TestUpdateRejectsTakenUniqueValue(t *testing.T) {
	ctx := context.Background()
	s := memstore.New()
	_, err := s.Users().Create(ctx, newUser(t, "u1", "ann", "Ann"))
	require.NoError(t, err)
	_, err = s.Users().Create(ctx, newUser(t, "u2", "bob", "Bob"))
	require.NoError(t, err)

	_, err = s.Users().Update(ctx, "u2", models.Patch{"username": "ann"})
	require.ErrorIs(t, err, store.ErrConstraint)

	got, err := s.Users().Get(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, "bob", got.Username)
}

func TestCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := memstore.New().Users().Create(ctx, newUser(t, "u1", "", "Ann"))
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, err, store.ErrTransient)
}

func TestLen(t *testing.T) {
	table := memstore.NewTable(models.Users)
	_, err := table.Create(context.Background(), newUser(t, "u1", "", "Ann"))
	require.NoError(t, err)
	assert.Equal(t, 1, table.Len())
}
