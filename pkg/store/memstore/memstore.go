// Package memstore is an in-process implementation of [store.Store].
//
// It honours the same contract as the database backends, including unique columns and
// idempotent creates, and is used by tests and by local runs with the memory backend.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/store"
)

// BackendName identifies this backend in errors and outcomes.
const BackendName = "memory"

// Store keeps every table in memory.
type Store struct {
	users      *Table[*models.User]
	categories *Table[*models.Category]
	products   *Table[*models.Product]
	cartItems  *Table[*models.CartItem]
	orders     *Table[*models.Order]
}

var _ store.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:      NewTable(models.Users),
		categories: NewTable(models.Categories),
		products:   NewTable(models.Products),
		cartItems:  NewTable(models.CartItems),
		orders:     NewTable(models.Orders),
	}
}

func (s *Store) Users() store.Repository[*models.User]          { return s.users }
func (s *Store) Categories() store.Repository[*models.Category] { return s.categories }
func (s *Store) Products() store.Repository[*models.Product]    { return s.products }
func (s *Store) CartItems() store.Repository[*models.CartItem]  { return s.cartItems }
func (s *Store) Orders() store.Repository[*models.Order]        { return s.orders }
func (s *Store) Migrate(context.Context) error                  { return nil }
func (s *Store) Close() error                                   { return nil }

// Table is one in-memory table.
type Table[T models.Record] struct {
	kind models.Kind[T]

	mu   sync.RWMutex
	rows map[string]T
}

// NewTable returns an empty table for kind.
func NewTable[T models.Record](kind models.Kind[T]) *Table[T] {
	return &Table[T]{kind: kind, rows: make(map[string]T)}
}

// Len returns the number of stored records.
func (t *Table[T]) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

func (t *Table[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, t.wrap(store.OpCreate, err)
	}
	id := rec.Key()
	if id == "" {
		return zero, t.wrap(store.OpCreate, fmt.Errorf("%w: %s without identity", store.ErrValidation, t.kind.Name))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.rows[id]; ok {
		return t.clone(existing)
	}
	if err := t.checkUnique(id, rec); err != nil {
		return zero, t.wrap(store.OpCreate, err)
	}
	stored, err := t.clone(rec)
	if err != nil {
		return zero, t.wrap(store.OpCreate, err)
	}
	t.rows[id] = stored
	return t.clone(stored)
}

func (t *Table[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, t.wrap(store.OpGet, err)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.rows[id]
	if !ok {
		return zero, t.wrap(store.OpGet, fmt.Errorf("%s %q: %w", t.kind.Name, id, store.ErrNotFound))
	}
	return t.clone(rec)
}

func (t *Table[T]) Update(ctx context.Context, id string, patch models.Patch) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, t.wrap(store.OpUpdate, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, ok := t.rows[id]
	if !ok {
		return zero, t.wrap(store.OpUpdate, fmt.Errorf("%s %q: %w", t.kind.Name, id, store.ErrNotFound))
	}
	next, err := t.clone(current)
	if err != nil {
		return zero, t.wrap(store.OpUpdate, err)
	}
	if err := next.ApplyPatch(patch); err != nil {
		return zero, t.wrap(store.OpUpdate, err)
	}
	if err := t.checkUnique(id, next); err != nil {
		return zero, t.wrap(store.OpUpdate, err)
	}
	t.rows[id] = next
	return t.clone(next)
}

func (t *Table[T]) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, t.wrap(store.OpDelete, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rows[id]; !ok {
		return false, nil
	}
	delete(t.rows, id)
	return true, nil
}

func (t *Table[T]) FindBy(ctx context.Context, field string, value any) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, t.wrap(store.OpFind, err)
	}
	want, err := t.kind.QueryValue(field, value)
	if err != nil {
		return nil, t.wrap(store.OpFind, err)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var found []T
	for _, id := range t.sortedKeys() {
		rec := t.rows[id]
		if !models.EqualValues(rec.Fields()[field], want) {
			continue
		}
		c, err := t.clone(rec)
		if err != nil {
			return nil, t.wrap(store.OpFind, err)
		}
		found = append(found, c)
	}
	return found, nil
}

func (t *Table[T]) Scan(ctx context.Context, afterID string, limit int) ([]T, error) {
	if err := ctx.Err(); err != nil {
		return nil, t.wrap(store.OpScan, err)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var page []T
	for _, id := range t.sortedKeys() {
		if id <= afterID {
			continue
		}
		if limit > 0 && len(page) >= limit {
			break
		}
		c, err := t.clone(t.rows[id])
		if err != nil {
			return nil, t.wrap(store.OpScan, err)
		}
		page = append(page, c)
	}
	return page, nil
}

// checkUnique must be called with the write lock held.
func (t *Table[T]) checkUnique(id string, rec T) error {
	if len(t.kind.Unique) == 0 {
		return nil
	}
	fields := rec.Fields()
	for otherID, other := range t.rows {
		if otherID == id {
			continue
		}
		otherFields := other.Fields()
		for _, col := range t.kind.Unique {
			v := fields[col]
			if v == "" || v == nil {
				continue
			}
			if models.EqualValues(v, otherFields[col]) {
				return fmt.Errorf("%w: %s.%s %v already used by %q", store.ErrConstraint, t.kind.Table, col, v, otherID)
			}
		}
	}
	return nil
}

func (t *Table[T]) sortedKeys() []string {
	keys := make([]string, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// clone deep-copies rec so callers never share memory with the table.
func (t *Table[T]) clone(rec T) (T, error) {
	return t.kind.Clone(rec)
}

func (t *Table[T]) wrap(op store.Op, err error) error {
	return store.Wrap(BackendName, t.kind.Table, op, err)
}
