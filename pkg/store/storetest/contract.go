package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/store"
)

// RunContract checks the behaviour every store.Store implementation shares. newStore
// must return an empty, migrated store.
func RunContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("CreateIsIdempotent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		first, err := s.Users().Create(ctx, user(t, "u1", "ann", "Ann"))
		require.NoError(t, err)
		again, err := s.Users().Create(ctx, user(t, "u1", "ann", "Other"))
		require.NoError(t, err)
		assert.Empty(t, models.Diff(first, again))
		assert.Equal(t, "Ann", again.Name)

		page, err := s.Users().Scan(ctx, "", 10)
		require.NoError(t, err)
		assert.Len(t, page, 1)
	})

	t.Run("GetMissing", func(t *testing.T) {
		_, err := newStore(t).Users().Get(context.Background(), "missing")
		require.ErrorIs(t, err, store.ErrNotFound)

		var be *store.BackendError
		require.ErrorAs(t, err, &be)
		assert.Equal(t, store.OpGet, be.Op)
		assert.Equal(t, models.TableUsers, be.Table)
	})

	t.Run("UpdateChangesOnlyPatchedFields", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		created, err := s.Users().Create(ctx, user(t, "u1", "ann", "Ann"))
		require.NoError(t, err)

		patch, err := models.Users.PreparePatch(models.Patch{"email": "ann@example.com"}, created.UpdatedAt.Add(time.Second))
		require.NoError(t, err)
		updated, err := s.Users().Update(ctx, "u1", patch)
		require.NoError(t, err)
		assert.Equal(t, "ann@example.com", updated.Email)
		assert.Equal(t, "Ann", updated.Name)
		assert.Equal(t, "ann", updated.Username)
		assert.True(t, updated.UpdatedAt.After(created.UpdatedAt))

		got, err := s.Users().Get(ctx, "u1")
		require.NoError(t, err)
		assert.Empty(t, models.Diff(updated, got))

		_, err = s.Users().Update(ctx, "missing", patch)
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("DeleteReportsExistence", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.Users().Create(ctx, user(t, "u1", "ann", "Ann"))
		require.NoError(t, err)

		deleted, err := s.Users().Delete(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.Users().Delete(ctx, "u1")
		require.NoError(t, err)
		assert.False(t, deleted)

		_, err = s.Users().Get(ctx, "u1")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("UniqueColumns", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		_, err := s.Users().Create(ctx, user(t, "u1", "ann", "Ann"))
		require.NoError(t, err)

		_, err = s.Users().Create(ctx, user(t, "u2", "ann", "Another Ann"))
		require.ErrorIs(t, err, store.ErrConstraint)

		// users without a username do not collide
		_, err = s.Users().Create(ctx, user(t, "u3", "", "Guest"))
		require.NoError(t, err)
		_, err = s.Users().Create(ctx, user(t, "u4", "", "Guest"))
		require.NoError(t, err)
	})

	t.Run("FindByLinkedIdentity", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		now := time.Now()

		root := &models.Category{ID: "c1", Name: "Tools", Slug: "tools"}
		require.NoError(t, models.Categories.PrepareCreate(root, now))
		_, err := s.Categories().Create(ctx, root)
		require.NoError(t, err)
		parent := root.ID
		child := &models.Category{ID: "c2", Name: "Saws", Slug: "saws", ParentID: &parent}
		require.NoError(t, models.Categories.PrepareCreate(child, now))
		_, err = s.Categories().Create(ctx, child)
		require.NoError(t, err)

		for _, sku := range []string{"p2", "p1"} {
			p := &models.Product{ID: models.ProductID(sku), SKU: sku, Name: sku, PriceCents: 100, Currency: "EUR", CategoryID: "c2"}
			require.NoError(t, models.Products.PrepareCreate(p, now))
			_, err := s.Products().Create(ctx, p)
			require.NoError(t, err)
		}

		children, err := store.FindChildCategories(ctx, s, "c1")
		require.NoError(t, err)
		require.Len(t, children, 1)
		assert.Equal(t, models.CategoryID("c2"), children[0].ID)

		products, err := store.FindProductsByCategory(ctx, s, "c2")
		require.NoError(t, err)
		require.Len(t, products, 2)
		assert.Equal(t, models.ProductID("p1"), products[0].ID)

		// loosely typed input, as decoded from a request body
		products, err = s.Products().FindBy(ctx, "category_id", "c2")
		require.NoError(t, err)
		assert.Len(t, products, 2)

		p, err := store.FindProductBySKU(ctx, s, "p2")
		require.NoError(t, err)
		assert.Equal(t, models.ProductID("p2"), p.ID)

		_, err = store.FindCategoryBySlug(ctx, s, "nope")
		require.ErrorIs(t, err, store.ErrNotFound)

		_, err = s.Products().FindBy(ctx, "name", "p1")
		require.ErrorIs(t, err, store.ErrValidation)
	})

	t.Run("OrdersKeepTheirLines", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		o := &models.Order{
			ID:       "o1",
			UserID:   "u1",
			Status:   models.OrderPending,
			Currency: "EUR",
			Lines: models.OrderLines{
				{ProductID: "p1", Quantity: 2, UnitPriceCents: 250},
				{ProductID: "p2", Quantity: 1, UnitPriceCents: 1000},
			},
		}
		o.TotalCents = o.Lines.Total()
		require.NoError(t, models.Orders.PrepareCreate(o, time.Now()))
		created, err := s.Orders().Create(ctx, o)
		require.NoError(t, err)

		got, err := s.Orders().Get(ctx, "o1")
		require.NoError(t, err)
		assert.Empty(t, models.Diff(created, got))
		assert.Equal(t, int64(1500), got.TotalCents)

		mine, err := store.FindOrdersByUser(ctx, s, "u1")
		require.NoError(t, err)
		assert.Len(t, mine, 1)
	})

	t.Run("ScanPagesInIdentityOrder", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		for _, id := range []string{"u3", "u1", "u5", "u2", "u4"} {
			_, err := s.Users().Create(ctx, user(t, id, "", id))
			require.NoError(t, err)
		}

		var ids []string
		after := ""
		for {
			page, err := s.Users().Scan(ctx, after, 2)
			require.NoError(t, err)
			if len(page) == 0 {
				break
			}
			assert.LessOrEqual(t, len(page), 2)
			for _, u := range page {
				ids = append(ids, u.Key())
			}
			after = page[len(page)-1].Key()
		}
		assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5"}, ids)
	})
}

func user(t *testing.T, id, username, name string) *models.User {
	t.Helper()
	u := &models.User{ID: models.UserID(id), Username: username, Name: name}
	require.NoError(t, models.Users.PrepareCreate(u, time.Now()))
	return u
}
