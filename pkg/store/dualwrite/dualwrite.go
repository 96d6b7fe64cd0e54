// Package dualwrite routes repository calls to a source and a target store according to
// the active migration phase.
//
// An [Orchestrator] is itself a [store.Store]. For every logical operation it reads the
// phase once and looks up the route of that phase:
//
//	phase                    write (must succeed)  shadow (best effort)  read    read fallback
//	source_only              source                -                     source  -
//	dual_write_source_read   source                target                source  -
//	dual_write_target_read   target                source                target  source
//	target_only              target                -                     target  -
//
// Payloads are validated before any backend is touched. The authoritative write runs
// synchronously on a context that ignores caller cancellation and is bounded by its own
// timeout. The shadow write is queued only after the authoritative write succeeded, and
// its failure is recorded instead of being returned. Shadow writes of one identity run in
// the order their authoritative writes completed. Once a shadow write has finished, its
// identity is reported to the [Recorder] as a drift candidate.
package dualwrite

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/phase"
	"github.com/surrealdb/surrealshop/pkg/shadow"
	"github.com/surrealdb/surrealshop/pkg/store"
)

// Recorder receives the outcome of every backend call. The monitor implements it.
type Recorder interface {
	RecordWrite(store.WriteOutcome)
	RecordRead(store.ReadOutcome)
	// Track marks table/id as a candidate for the next consistency sample.
	Track(table, id string)
}

type nopRecorder struct{}

func (nopRecorder) RecordWrite(store.WriteOutcome) {}
func (nopRecorder) RecordRead(store.ReadOutcome)   {}
func (nopRecorder) Track(string, string)           {}

// Timeouts bound each backend call.
type Timeouts struct {
	Authoritative time.Duration
	Shadow        time.Duration
	Read          time.Duration
}

// DefaultTimeouts returns the timeouts used when none are configured.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Authoritative: 5 * time.Second,
		Shadow:        2 * time.Second,
		Read:          3 * time.Second,
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.rec = r }
}

func WithLogger(log zerolog.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

func WithTimeouts(t Timeouts) Option {
	return func(o *Orchestrator) {
		d := DefaultTimeouts()
		if t.Authoritative <= 0 {
			t.Authoritative = d.Authoritative
		}
		if t.Shadow <= 0 {
			t.Shadow = d.Shadow
		}
		if t.Read <= 0 {
			t.Read = d.Read
		}
		o.timeouts = t
	}
}

// WithShadowConfig sizes the shadow queue the orchestrator creates. The attempt timeout
// is always the shadow timeout.
func WithShadowConfig(cfg shadow.Config) Option {
	return func(o *Orchestrator) { o.shadowCfg = cfg }
}

// WithBackendNames names the two stores in outcomes and logs.
func WithBackendNames(source, target string) Option {
	return func(o *Orchestrator) { o.names = [3]string{none: "", sourceSide: source, targetSide: target} }
}

// WithClock replaces time.Now for timestamps written to records.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator implements store.Store over a source and a target store.
type Orchestrator struct {
	source store.Store
	target store.Store
	phases *phase.Registry

	rec       Recorder
	log       zerolog.Logger
	timeouts  Timeouts
	shadowCfg shadow.Config
	queue     *shadow.Queue
	names     [3]string
	now       func() time.Time

	users      *Repository[*models.User]
	categories *Repository[*models.Category]
	products   *Repository[*models.Product]
	cartItems  *Repository[*models.CartItem]
	orders     *Repository[*models.Order]
}

var _ store.Store = (*Orchestrator)(nil)

// New returns an orchestrator over source and target governed by phases. It starts the
// shadow queue workers; Close stops them and closes both stores.
func New(source, target store.Store, phases *phase.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:    source,
		target:    target,
		phases:    phases,
		rec:       nopRecorder{},
		log:       zerolog.Nop(),
		timeouts:  DefaultTimeouts(),
		shadowCfg: shadow.DefaultConfig(),
		names:     [3]string{none: "", sourceSide: "source", targetSide: "target"},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With().Str("component", "dualwrite").Logger()

	cfg := o.shadowCfg
	cfg.Timeout = o.timeouts.Shadow
	o.queue = shadow.New(cfg, o.log)

	o.users = newRepository(o, models.Users, store.Store.Users)
	o.categories = newRepository(o, models.Categories, store.Store.Categories)
	o.products = newRepository(o, models.Products, store.Store.Products)
	o.cartItems = newRepository(o, models.CartItems, store.Store.CartItems)
	o.orders = newRepository(o, models.Orders, store.Store.Orders)
	return o
}

func (o *Orchestrator) Users() store.Repository[*models.User]          { return o.users }
func (o *Orchestrator) Categories() store.Repository[*models.Category] { return o.categories }
func (o *Orchestrator) Products() store.Repository[*models.Product]    { return o.products }
func (o *Orchestrator) CartItems() store.Repository[*models.CartItem]  { return o.cartItems }
func (o *Orchestrator) Orders() store.Repository[*models.Order]        { return o.orders }

// Phases returns the registry governing the orchestrator.
func (o *Orchestrator) Phases() *phase.Registry { return o.phases }

// Source and Target return the underlying stores.
func (o *Orchestrator) Source() store.Store { return o.source }
func (o *Orchestrator) Target() store.Store { return o.target }

// ShadowStats returns the counters of the shadow queue.
func (o *Orchestrator) ShadowStats() shadow.Stats { return o.queue.Stats() }

// Flush waits for every queued shadow write.
func (o *Orchestrator) Flush(ctx context.Context) error {
	return o.queue.Flush(ctx)
}

// Migrate creates the schema on both stores.
func (o *Orchestrator) Migrate(ctx context.Context) error {
	if err := o.source.Migrate(ctx); err != nil {
		return store.Wrap(o.names[sourceSide], "", "migrate", err)
	}
	if err := o.target.Migrate(ctx); err != nil {
		return store.Wrap(o.names[targetSide], "", "migrate", err)
	}
	return nil
}

// Close drains the shadow queue and closes both stores.
func (o *Orchestrator) Close() error {
	return errors.Join(
		o.queue.Close(),
		o.source.Close(),
		o.target.Close(),
	)
}

func (o *Orchestrator) backend(s side) store.Store {
	if s == targetSide {
		return o.target
	}
	return o.source
}
