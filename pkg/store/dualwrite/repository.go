package dualwrite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/phase"
	"github.com/surrealdb/surrealshop/pkg/shadow"
	"github.com/surrealdb/surrealshop/pkg/store"
)

// Repository routes the calls for one table.
type Repository[T models.Record] struct {
	o    *Orchestrator
	kind models.Kind[T]
	pick func(store.Store) store.Repository[T]
}

var _ store.Repository[*models.User] = (*Repository[*models.User])(nil)

func newRepository[T models.Record](o *Orchestrator, kind models.Kind[T], pick func(store.Store) store.Repository[T]) *Repository[T] {
	return &Repository[T]{o: o, kind: kind, pick: pick}
}

func (r *Repository[T]) repo(s side) store.Repository[T] {
	return r.pick(r.o.backend(s))
}

func (r *Repository[T]) logger(p phase.Phase, id string) zerolog.Logger {
	return r.o.log.With().Str("table", r.kind.Table).Str("id", id).Str("phase", p.String()).Logger()
}

func (r *Repository[T]) Create(ctx context.Context, rec T) (T, error) {
	var zero T
	p := r.o.phases.Current()
	rt := routeFor(p)

	if err := r.kind.PrepareCreate(rec, r.o.now()); err != nil {
		return zero, err
	}
	id := rec.Key()

	var out T
	err := r.authoritative(ctx, rt.write, id, store.OpCreate, func(ctx context.Context) error {
		var err error
		out, err = r.repo(rt.write).Create(ctx, rec)
		return err
	})
	if err != nil {
		return zero, err
	}

	if rt.shadow != none {
		shadowRec, cerr := r.kind.Clone(out)
		if cerr != nil {
			r.shadowFailed(p, rt.shadow, id, store.OpCreate, cerr, 0)
			return out, nil
		}
		r.submitShadow(p, rt.shadow, id, store.OpCreate, func(ctx context.Context) error {
			_, err := r.repo(rt.shadow).Create(ctx, shadowRec)
			return err
		})
	}
	return out, nil
}

func (r *Repository[T]) Update(ctx context.Context, id string, patch models.Patch) (T, error) {
	var zero T
	p := r.o.phases.Current()
	rt := routeFor(p)

	if id == "" {
		return zero, fmt.Errorf("%w: %s identity is required", store.ErrValidation, r.kind.Name)
	}
	prepared, err := r.kind.PreparePatch(patch, r.o.now())
	if err != nil {
		return zero, err
	}

	var out T
	err = r.authoritative(ctx, rt.write, id, store.OpUpdate, func(ctx context.Context) error {
		var err error
		out, err = r.repo(rt.write).Update(ctx, id, prepared)
		return err
	})
	if err != nil {
		return zero, err
	}

	if rt.shadow != none {
		r.submitShadow(p, rt.shadow, id, store.OpUpdate, func(ctx context.Context) error {
			_, err := r.repo(rt.shadow).Update(ctx, id, prepared)
			return err
		})
	}
	return out, nil
}

func (r *Repository[T]) Delete(ctx context.Context, id string) (bool, error) {
	p := r.o.phases.Current()
	rt := routeFor(p)

	if id == "" {
		return false, fmt.Errorf("%w: %s identity is required", store.ErrValidation, r.kind.Name)
	}

	var deleted bool
	err := r.authoritative(ctx, rt.write, id, store.OpDelete, func(ctx context.Context) error {
		var err error
		deleted, err = r.repo(rt.write).Delete(ctx, id)
		return err
	})
	if err != nil {
		return false, err
	}

	if rt.shadow != none {
		// deleting an absent record reports false without error
		r.submitShadow(p, rt.shadow, id, store.OpDelete, func(ctx context.Context) error {
			_, err := r.repo(rt.shadow).Delete(ctx, id)
			return err
		})
	}
	return deleted, nil
}

func (r *Repository[T]) Get(ctx context.Context, id string) (T, error) {
	var zero T
	p := r.o.phases.Current()
	rt := routeFor(p)

	if id == "" {
		return zero, fmt.Errorf("%w: %s identity is required", store.ErrValidation, r.kind.Name)
	}

	get := func(s side) func(context.Context) (T, error) {
		return func(ctx context.Context) (T, error) { return r.repo(s).Get(ctx, id) }
	}
	return read(ctx, r, p, rt, id, store.OpGet, true, get)
}

func (r *Repository[T]) FindBy(ctx context.Context, field string, value any) ([]T, error) {
	p := r.o.phases.Current()
	rt := routeFor(p)

	if err := r.kind.CheckIndexed(field); err != nil {
		return nil, err
	}

	find := func(s side) func(context.Context) ([]T, error) {
		return func(ctx context.Context) ([]T, error) { return r.repo(s).FindBy(ctx, field, value) }
	}
	return read(ctx, r, p, rt, field, store.OpFind, false, find)
}

func (r *Repository[T]) Scan(ctx context.Context, afterID string, limit int) ([]T, error) {
	p := r.o.phases.Current()
	rt := routeFor(p)

	scan := func(s side) func(context.Context) ([]T, error) {
		return func(ctx context.Context) ([]T, error) { return r.repo(s).Scan(ctx, afterID, limit) }
	}
	return read(ctx, r, p, rt, afterID, store.OpScan, false, scan)
}

// authoritative runs the write that decides the caller's result. It is detached from
// caller cancellation and bounded by the authoritative timeout. It is never retried.
func (r *Repository[T]) authoritative(ctx context.Context, s side, id string, op store.Op, fn func(context.Context) error) error {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.timeouts.Authoritative)
	defer cancel()

	start := time.Now()
	err := fn(actx)
	r.o.rec.RecordWrite(store.WriteOutcome{
		Backend: r.o.names[s],
		Table:   r.kind.Table,
		ID:      id,
		Op:      op,
		Role:    store.RoleAuthoritative,
		Err:     err,
		Latency: time.Since(start),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", store.ErrAuthoritativeWrite, err)
	}
	return nil
}

// submitShadow queues the best-effort copy of a write. The identity is tracked for
// sampling only once the copy has finished, so an in-flight copy is never reported as
// drift.
func (r *Repository[T]) submitShadow(p phase.Phase, s side, id string, op store.Op, fn func(context.Context) error) {
	task := shadow.Task{
		Name: fmt.Sprintf("%s:%s %s", r.kind.Table, id, op),
		Key:  r.kind.Table + ":" + id,
		Run:  fn,
		Permanent: func(err error) bool {
			return errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrValidation) || errors.Is(err, store.ErrConstraint)
		},
		OnSuccess: func(_ int, elapsed time.Duration) {
			r.o.rec.RecordWrite(store.WriteOutcome{
				Backend: r.o.names[s],
				Table:   r.kind.Table,
				ID:      id,
				Op:      op,
				Role:    store.RoleShadow,
				Latency: elapsed,
			})
			r.o.rec.Track(r.kind.Table, id)
		},
		OnFailure: func(err error, _ int, elapsed time.Duration) {
			r.shadowFailed(p, s, id, op, err, elapsed)
		},
	}
	// a rejected task has already reported the failure through OnFailure
	_ = r.o.queue.Submit(task)
}

func (r *Repository[T]) shadowFailed(p phase.Phase, s side, id string, op store.Op, err error, elapsed time.Duration) {
	err = fmt.Errorf("%w: %w", store.ErrShadowWrite, err)
	log := r.logger(p, id)
	log.Warn().Err(err).Str("backend", r.o.names[s]).Str("op", string(op)).Msg("shadow write failed")
	r.o.rec.RecordWrite(store.WriteOutcome{
		Backend: r.o.names[s],
		Table:   r.kind.Table,
		ID:      id,
		Op:      op,
		Role:    store.RoleShadow,
		Err:     err,
		Latency: elapsed,
	})
	r.o.rec.Track(r.kind.Table, id)
}

// read serves a read from the route's read backend. When that fails and the route has
// a fallback, the fallback answers once; the discrepancy is logged and, when fallbackOnMiss
// is set, a NotFound answer also falls back and the identity is tracked as a drift
// candidate. Results are never merged.
func read[T models.Record, R any](
	ctx context.Context,
	r *Repository[T],
	p phase.Phase,
	rt route,
	id string,
	op store.Op,
	fallbackOnMiss bool,
	fn func(side) func(context.Context) (R, error),
) (R, error) {
	out, err := timedRead(ctx, r, rt.read, op, false, fn(rt.read))
	if err == nil || rt.fallback == none {
		return out, err
	}
	if errors.Is(err, store.ErrNotFound) && !fallbackOnMiss {
		return out, err
	}

	log := r.logger(p, id)
	log.Warn().Err(err).
		Str("op", string(op)).
		Str("backend", r.o.names[rt.read]).
		Str("fallback", r.o.names[rt.fallback]).
		Msg("read failed, falling back")
	if op == store.OpGet {
		r.o.rec.Track(r.kind.Table, id)
	}
	return timedRead(ctx, r, rt.fallback, op, true, fn(rt.fallback))
}

func timedRead[T models.Record, R any](ctx context.Context, r *Repository[T], s side, op store.Op, fallback bool, fn func(context.Context) (R, error)) (R, error) {
	rctx, cancel := context.WithTimeout(ctx, r.o.timeouts.Read)
	defer cancel()

	start := time.Now()
	out, err := fn(rctx)
	r.o.rec.RecordRead(store.ReadOutcome{
		Backend:  r.o.names[s],
		Table:    r.kind.Table,
		Op:       op,
		Err:      err,
		Latency:  time.Since(start),
		Fallback: fallback,
	})
	return out, err
}
