// Package store defines the persistence contract shared by every backend of surrealshop.
//
// [Repository] is the generic per-table contract and [Store] groups the five tables of the
// shop. The PostgreSQL, SurrealDB and in-memory packages implement the contract against one
// storage technology each, with no knowledge of migration phases. The dualwrite package
// implements it on top of two stores and is what the application holds while a migration
// is running.
//
// # Semantics shared by all implementations
//
//   - Create is idempotent per identity: repeating it returns the stored record and never
//     produces a second one.
//   - Get and Update return [ErrNotFound] for an absent record.
//   - Delete of an absent record reports false and no error.
//   - Update changes only the patched fields.
//   - FindBy accepts only the indexed fields of the table's [models.Kind].
//
// Backend failures are wrapped in [*BackendError] and classified with the sentinels in
// errors.go so callers can branch with [errors.Is].
package store

import (
	"context"

	"github.com/surrealdb/surrealshop/pkg/models"
)

// Repository is the uniform CRUD contract over one entity family.
type Repository[T models.Record] interface {
	// Create stores rec. The identity must already be assigned.
	Create(ctx context.Context, rec T) (T, error)
	Get(ctx context.Context, id string) (T, error)
	// Update applies a prepared patch and returns the updated record.
	Update(ctx context.Context, id string, patch models.Patch) (T, error)
	Delete(ctx context.Context, id string) (bool, error)
	// FindBy returns the records whose field equals value.
	FindBy(ctx context.Context, field string, value any) ([]T, error)
	// Scan returns up to limit records with an identity greater than afterID, ordered
	// by identity.
	Scan(ctx context.Context, afterID string, limit int) ([]T, error)
}

// Store groups the repositories of all tables.
type Store interface {
	Users() Repository[*models.User]
	Categories() Repository[*models.Category]
	Products() Repository[*models.Product]
	CartItems() Repository[*models.CartItem]
	Orders() Repository[*models.Order]

	// Migrate creates tables and unique indexes. It is safe to run repeatedly.
	Migrate(ctx context.Context) error
	Close() error
}

// Get fetches table/id from s as a generic record.
func Get(ctx context.Context, s Store, table, id string) (models.Record, error) {
	switch table {
	case models.TableUsers:
		return asRecord(s.Users().Get(ctx, id))
	case models.TableCategories:
		return asRecord(s.Categories().Get(ctx, id))
	case models.TableProducts:
		return asRecord(s.Products().Get(ctx, id))
	case models.TableCartItems:
		return asRecord(s.CartItems().Get(ctx, id))
	case models.TableOrders:
		return asRecord(s.Orders().Get(ctx, id))
	}
	return nil, UnknownTable(table)
}

func asRecord[T models.Record](rec T, err error) (models.Record, error) {
	if err != nil {
		return nil, err
	}
	return rec, nil
}
