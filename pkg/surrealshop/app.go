package surrealshop

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealshop/pkg/logger"
	"github.com/surrealdb/surrealshop/pkg/monitor"
	"github.com/surrealdb/surrealshop/pkg/phase"
	"github.com/surrealdb/surrealshop/pkg/store"
	"github.com/surrealdb/surrealshop/pkg/store/dualwrite"
	"github.com/surrealdb/surrealshop/pkg/store/memstore"
	"github.com/surrealdb/surrealshop/pkg/store/postgres"
	"github.com/surrealdb/surrealshop/pkg/store/surrealdb"
)

// App wires the two backends, the phase registry, the orchestrator and the monitor.
type App struct {
	config  *Config
	log     zerolog.Logger
	logData *logger.LogData

	store   *dualwrite.Orchestrator
	monitor *monitor.Monitor
	gate    monitor.Gate
	names   [2]string
}

// Backends is the pair of stores an App migrates between.
type Backends struct {
	Source     store.Store
	Target     store.Store
	SourceName string
	TargetName string
}

// New builds the logger, connects the backends selected by config and wires the App.
func New(ctx context.Context, config *Config) (*App, error) {
	logData, err := logger.New().
		FromPath(config.Log.Path).
		WithLevel(config.Log.Level).
		Pretty(config.Log.Pretty).
		Make()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	log := logData.Logger.With().Str("service", "surrealshop").Logger()

	backends, err := connect(ctx, config, log)
	if err != nil {
		_ = logData.Close()
		return nil, err
	}

	app, err := NewWithBackends(config, backends, log)
	if err != nil {
		_ = backends.Source.Close()
		_ = backends.Target.Close()
		_ = logData.Close()
		return nil, err
	}
	app.logData = logData
	return app, nil
}

func connect(ctx context.Context, config *Config, log zerolog.Logger) (Backends, error) {
	if config.Backend == BackendMemory {
		log.Info().Msg("using in-memory backends")
		return Backends{
			Source:     memstore.New(),
			Target:     memstore.New(),
			SourceName: "memory-source",
			TargetName: "memory-target",
		}, nil
	}

	pg, err := postgres.New(config.Postgres, log)
	if err != nil {
		return Backends{}, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	log.Info().Msg("connected to PostgreSQL")

	sdb, err := surrealdb.New(ctx, config.SurrealDB)
	if err != nil {
		_ = pg.Close()
		return Backends{}, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}
	log.Info().
		Str("namespace", config.SurrealDB.Namespace).
		Str("database", config.SurrealDB.Database).
		Msg("connected to SurrealDB")

	return Backends{
		Source:     pg,
		Target:     sdb,
		SourceName: postgres.BackendName,
		TargetName: surrealdb.BackendName,
	}, nil
}

// NewWithBackends wires an App over already opened stores. The App owns the stores and
// closes them in Close.
func NewWithBackends(config *Config, b Backends, log zerolog.Logger) (*App, error) {
	if b.SourceName == "" {
		b.SourceName = "source"
	}
	if b.TargetName == "" {
		b.TargetName = "target"
	}

	initial, err := config.StartPhase()
	if err != nil {
		return nil, err
	}
	phases, err := phase.NewRegistry(initial, log)
	if err != nil {
		return nil, err
	}

	mon := monitor.New(b.Source, b.Target, config.monitorConfig(), log,
		monitor.WithBackendNames(b.SourceName, b.TargetName))

	orch := dualwrite.New(b.Source, b.Target, phases,
		dualwrite.WithRecorder(mon),
		dualwrite.WithLogger(log),
		dualwrite.WithTimeouts(config.timeouts()),
		dualwrite.WithShadowConfig(config.shadowConfig()),
		dualwrite.WithBackendNames(b.SourceName, b.TargetName),
	)

	// the gate counts drift observed in the current phase only
	phases.OnTransition(func(phase.Transition) { mon.Mark() })

	log.Info().
		Str("phase", initial.String()).
		Str("source", b.SourceName).
		Str("target", b.TargetName).
		Msg("migration controller ready")

	return &App{
		config:  config,
		log:     log,
		store:   orch,
		monitor: mon,
		gate:    config.gate(),
		names:   [2]string{b.SourceName, b.TargetName},
	}, nil
}

// Store returns the phase-routing store the HTTP surface uses.
func (a *App) Store() store.Store {
	return a.store
}

func (a *App) Phases() *phase.Registry {
	return a.store.Phases()
}

func (a *App) Monitor() *monitor.Monitor {
	return a.monitor
}

// SetPhase moves the registry to next. A forward step must pass the advancement gate
// unless force is set. Rollbacks never consult it.
func (a *App) SetPhase(next phase.Phase, rollback, force bool) (phase.Phase, error) {
	current := a.Phases().Current()
	if next == current+1 && !force {
		if err := a.gate.Check(a.monitor.Snapshot()); err != nil {
			return current, err
		}
	}
	prev, err := a.Phases().SetPhase(next, rollback)
	if err != nil {
		return prev, err
	}
	if force && next > prev {
		a.log.Warn().Str("phase", next.String()).Msg("advancement gate bypassed")
	}
	return prev, nil
}

// Flush waits for the queued shadow writes.
func (a *App) Flush(ctx context.Context) error {
	return a.store.Flush(ctx)
}

// Migrate creates the schema on both backends.
func (a *App) Migrate(ctx context.Context, cmd *MigrateCommand) error {
	if err := a.store.Migrate(ctx); err != nil {
		return err
	}
	a.log.Info().Msg("schema migrated on both backends")
	return nil
}

// Backfill copies the source records missing in the target.
func (a *App) Backfill(ctx context.Context, cmd *BackfillCommand) ([]dualwrite.BackfillReport, error) {
	cfg := a.config.backfillConfig()
	if cmd.BatchSize > 0 {
		cfg.BatchSize = cmd.BatchSize
	}
	if cmd.Concurrency > 0 {
		cfg.Concurrency = cmd.Concurrency
	}
	return dualwrite.Backfill(ctx, a.store.Source(), a.store.Target(), cfg, a.log)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks every backend that supports it and returns the failures by backend name.
func (a *App) Ping(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for i, s := range []store.Store{a.store.Source(), a.store.Target()} {
		p, ok := s.(pinger)
		if !ok {
			continue
		}
		if err := p.Ping(ctx); err != nil {
			out[a.names[i]] = err
		}
	}
	return out
}

// Close drains the shadow queue and closes the backends and the log file.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.logData != nil {
		errs = append(errs, a.logData.Close())
	}
	return errors.Join(errs...)
}
