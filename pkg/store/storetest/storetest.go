// Package storetest wraps a store.Store with injectable faults for tests.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/store"
)

// Any matches every table or every operation in a fault rule.
const Any = "*"

type rule struct {
	table string
	op    store.Op
	err   error
	delay time.Duration
	times int // remaining hits; negative means unlimited
}

func (r *rule) matches(table string, op store.Op) bool {
	return (r.table == Any || r.table == table) && (r.op == Any || r.op == op)
}

// Store forwards to an inner store unless a fault rule matches the call.
type Store struct {
	inner   store.Store
	backend string

	mu    sync.Mutex
	rules []*rule
	calls map[call]int
}

type call struct {
	table string
	op    store.Op
}

var _ store.Store = (*Store)(nil)

// Wrap returns a fault-injecting view of inner. backend names the wrapped store in
// injected errors.
func Wrap(inner store.Store, backend string) *Store {
	return &Store{inner: inner, backend: backend, calls: make(map[call]int)}
}

// Fail makes every matching call fail with err until Clear is called.
func (s *Store) Fail(table string, op store.Op, err error) {
	s.add(&rule{table: table, op: op, err: err, times: -1})
}

// FailTimes makes the next n matching calls fail with err.
func (s *Store) FailTimes(table string, op store.Op, n int, err error) {
	s.add(&rule{table: table, op: op, err: err, times: n})
}

// Delay holds matching calls for d, or until their context ends.
func (s *Store) Delay(table string, op store.Op, d time.Duration) {
	s.add(&rule{table: table, op: op, delay: d, times: -1})
}

// Clear removes every fault rule.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = nil
}

// Calls returns how many calls reached table/op, including failed ones.
func (s *Store) Calls(table string, op store.Op) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for c, n := range s.calls {
		if (table == Any || table == c.table) && (op == Any || op == c.op) {
			total += n
		}
	}
	return total
}

func (s *Store) add(r *rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, r)
}

func (s *Store) before(ctx context.Context, table string, op store.Op) error {
	s.mu.Lock()
	s.calls[call{table, op}]++
	var (
		err   error
		delay time.Duration
	)
	for _, r := range s.rules {
		if r.times == 0 || !r.matches(table, op) {
			continue
		}
		if r.times > 0 {
			r.times--
		}
		if r.delay > delay {
			delay = r.delay
		}
		if err == nil && r.err != nil {
			err = r.err
		}
	}
	s.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return store.Wrap(s.backend, table, op, ctx.Err())
		case <-timer.C:
		}
	}
	if err != nil {
		return store.Wrap(s.backend, table, op, err)
	}
	return nil
}

func (s *Store) Users() store.Repository[*models.User] {
	return &repo[*models.User]{s: s, table: models.TableUsers, inner: s.inner.Users()}
}

func (s *Store) Categories() store.Repository[*models.Category] {
	return &repo[*models.Category]{s: s, table: models.TableCategories, inner: s.inner.Categories()}
}

func (s *Store) Products() store.Repository[*models.Product] {
	return &repo[*models.Product]{s: s, table: models.TableProducts, inner: s.inner.Products()}
}

func (s *Store) CartItems() store.Repository[*models.CartItem] {
	return &repo[*models.CartItem]{s: s, table: models.TableCartItems, inner: s.inner.CartItems()}
}

func (s *Store) Orders() store.Repository[*models.Order] {
	return &repo[*models.Order]{s: s, table: models.TableOrders, inner: s.inner.Orders()}
}

func (s *Store) Migrate(ctx context.Context) error { return s.inner.Migrate(ctx) }
func (s *Store) Close() error                      { return s.inner.Close() }

type repo[T models.Record] struct {
	s     *Store
	table string
	inner store.Repository[T]
}

func (r *repo[T]) Create(ctx context.Context, rec T) (T, error) {
	if err := r.s.before(ctx, r.table, store.OpCreate); err != nil {
		var zero T
		return zero, err
	}
	return r.inner.Create(ctx, rec)
}

func (r *repo[T]) Get(ctx context.Context, id string) (T, error) {
	if err := r.s.before(ctx, r.table, store.OpGet); err != nil {
		var zero T
		return zero, err
	}
	return r.inner.Get(ctx, id)
}

func (r *repo[T]) Update(ctx context.Context, id string, patch models.Patch) (T, error) {
	if err := r.s.before(ctx, r.table, store.OpUpdate); err != nil {
		var zero T
		return zero, err
	}
	return r.inner.Update(ctx, id, patch)
}

func (r *repo[T]) Delete(ctx context.Context, id string) (bool, error) {
	if err := r.s.before(ctx, r.table, store.OpDelete); err != nil {
		return false, err
	}
	return r.inner.Delete(ctx, id)
}

func (r *repo[T]) FindBy(ctx context.Context, field string, value any) ([]T, error) {
	if err := r.s.before(ctx, r.table, store.OpFind); err != nil {
		return nil, err
	}
	return r.inner.FindBy(ctx, field, value)
}

func (r *repo[T]) Scan(ctx context.Context, afterID string, limit int) ([]T, error) {
	if err := r.s.before(ctx, r.table, store.OpScan); err != nil {
		return nil, err
	}
	return r.inner.Scan(ctx, afterID, limit)
}
