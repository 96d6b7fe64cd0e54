package dualwrite

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/surrealdb/surrealshop/pkg/models"
	"github.com/surrealdb/surrealshop/pkg/store"
	"golang.org/x/sync/errgroup"
)

// BackfillConfig controls a backfill run.
type BackfillConfig struct {
	// BatchSize is the page size of the source scan.
	BatchSize int
	// Concurrency bounds the copies in flight within one page.
	Concurrency int
}

// BackfillReport counts what a backfill did per table.
type BackfillReport struct {
	Table   string
	Scanned int64
	Copied  int64
	Skipped int64
}

// Backfill copies every source record that is missing in the target, table by table in
// dependency order. Records already present in the target are left untouched, so the
// run is idempotent and never overwrites newer target data.
func Backfill(ctx context.Context, source, target store.Store, cfg BackfillConfig, log zerolog.Logger) ([]BackfillReport, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	log = log.With().Str("component", "backfill").Logger()

	steps := []func() (BackfillReport, error){
		func() (BackfillReport, error) {
			return backfillTable(ctx, models.Users, source.Users(), target.Users(), cfg, log)
		},
		func() (BackfillReport, error) {
			return backfillTable(ctx, models.Categories, source.Categories(), target.Categories(), cfg, log)
		},
		func() (BackfillReport, error) {
			return backfillTable(ctx, models.Products, source.Products(), target.Products(), cfg, log)
		},
		func() (BackfillReport, error) {
			return backfillTable(ctx, models.CartItems, source.CartItems(), target.CartItems(), cfg, log)
		},
		func() (BackfillReport, error) {
			return backfillTable(ctx, models.Orders, source.Orders(), target.Orders(), cfg, log)
		},
	}

	var reports []BackfillReport
	for _, step := range steps {
		report, err := step()
		reports = append(reports, report)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

func backfillTable[T models.Record](ctx context.Context, kind models.Kind[T], src, dst store.Repository[T], cfg BackfillConfig, log zerolog.Logger) (BackfillReport, error) {
	report := BackfillReport{Table: kind.Table}
	var copied, skipped atomic.Int64

	after := ""
	for {
		page, err := src.Scan(ctx, after, cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("backfill %s: scan after %q: %w", kind.Table, after, err)
		}
		if len(page) == 0 {
			break
		}
		report.Scanned += int64(len(page))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Concurrency)
		for _, rec := range page {
			g.Go(func() error {
				_, err := dst.Get(gctx, rec.Key())
				if err == nil {
					skipped.Add(1)
					return nil
				}
				if !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("backfill %s %s: %w", kind.Table, rec.Key(), err)
				}
				if _, err := dst.Create(gctx, rec); err != nil {
					return fmt.Errorf("backfill %s %s: %w", kind.Table, rec.Key(), err)
				}
				copied.Add(1)
				return nil
			})
		}
		err = g.Wait()
		report.Copied, report.Skipped = copied.Load(), skipped.Load()
		if err != nil {
			return report, err
		}

		after = page[len(page)-1].Key()
		if len(page) < cfg.BatchSize {
			break
		}
	}

	log.Info().
		Str("table", kind.Table).
		Int64("scanned", report.Scanned).
		Int64("copied", report.Copied).
		Int64("skipped", report.Skipped).
		Msg("backfill finished")
	return report, nil
}
