package surrealshop

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/surrealdb/surrealshop/pkg/client"
)

// Main is the entry point of the surrealshop binary. It parses args, builds the App and
// executes the command. It can be called from tests without building the binary; ctx
// cancellation shuts a running server down gracefully.
//
// # Environment Variables
//
// Every configuration key can be set from the environment, for example:
//
//	POSTGRES_DSN       - PostgreSQL connection string
//	SURREALDB_URL      - SurrealDB WebSocket URL (default: ws://localhost:8000/rpc)
//	SURREALDB_NS       - SurrealDB namespace (default: surrealshop)
//	SURREALDB_DB       - SurrealDB database (default: surrealshop)
//	SURREALDB_USER     - SurrealDB username (default: root)
//	SURREALDB_PASS     - SurrealDB password (default: root)
//	MIGRATION_PHASE    - Initial phase (default: source_only)
//	MONITOR_INTERVAL   - Consistency sampling interval (default: 30s)
//	LOG_LEVEL          - Log level (default: info)
//
// # Migration Strategy
//
//  1. surrealshop migrate, then run in source_only.
//  2. Advance to dual_write_source_read: PostgreSQL stays authoritative and SurrealDB
//     receives shadow writes.
//  3. surrealshop backfill copies the records written before step 2.
//  4. Once the monitor reports no drift, advance to dual_write_target_read: SurrealDB
//     becomes authoritative and serves reads, PostgreSQL keeps receiving shadow writes
//     so a rollback loses nothing.
//  5. Advance to target_only.
func Main(ctx context.Context, args []string) error {
	return run(ctx, args, os.Stdout)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cmd, config, err := Parse(args)
	if err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	// phase needs no backends
	if c, ok := cmd.(*PhaseCommand); ok {
		return runPhase(ctx, c, config, stdout)
	}

	app, err := New(ctx, config)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer app.Close()

	switch c := cmd.(type) {
	case *MigrateCommand:
		if err := app.Migrate(ctx, c); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	case *RunCommand:
		if err := app.Run(ctx, c); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case *BackfillCommand:
		reports, err := app.Backfill(ctx, c)
		for _, r := range reports {
			fmt.Fprintf(stdout, "%-12s scanned=%d copied=%d skipped=%d\n", r.Table, r.Scanned, r.Copied, r.Skipped)
		}
		if err != nil {
			return fmt.Errorf("backfill failed: %w", err)
		}
	default:
		return fmt.Errorf("unknown command type: %T", cmd)
	}

	return nil
}

func runPhase(ctx context.Context, c *PhaseCommand, config *Config, stdout io.Writer) error {
	if c.Server == "" {
		p, err := config.StartPhase()
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, p)
		return nil
	}

	api := client.NewClient(c.Server)
	if c.Target == "" {
		state, err := api.Phase(ctx)
		if err != nil {
			return fmt.Errorf("failed to read phase: %w", err)
		}
		fmt.Fprintln(stdout, state.Current)
		return nil
	}

	state, err := api.SetPhase(ctx, client.PhaseRequest{
		Phase:    c.Target,
		Rollback: c.Rollback,
		Force:    c.Force,
	})
	if err != nil {
		return fmt.Errorf("failed to change phase: %w", err)
	}
	fmt.Fprintf(stdout, "%s -> %s\n", state.Previous, state.Current)
	return nil
}
