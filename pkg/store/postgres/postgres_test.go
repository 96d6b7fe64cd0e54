package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealshop/pkg/store"
	"github.com/surrealdb/surrealshop/pkg/store/postgres"
	"github.com/surrealdb/surrealshop/pkg/store/storetest"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// startPostgres returns the DSN of a fresh PostgreSQL server. POSTGRES_DSN points the
// tests at an existing server instead of a container.
func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping PostgreSQL integration test in short mode")
	}
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	var (
		c   *tcpostgres.PostgresContainer
		err error
	)
	func() {
		// testcontainers panics when no Docker provider is available
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%v", r)
			}
		}()
		c, err = tcpostgres.Run(ctx,
			"postgres:16",
			tcpostgres.WithDatabase("shop"),
			tcpostgres.WithUsername("shop"),
			tcpostgres.WithPassword("shop"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute)),
		)
	}()
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return dsn
}

func TestContract(t *testing.T) {
	dsn := startPostgres(t)

	var n atomic.Int32
	storetest.RunContract(t, func(t *testing.T) store.Store {
		// every subtest gets its own schema
		schema := fmt.Sprintf("contract_%d_%d", time.Now().UnixNano(), n.Add(1))
		admin, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{})
		require.NoError(t, err)
		require.NoError(t, admin.Exec("CREATE SCHEMA "+schema).Error)
		sqlDB, err := admin.DB()
		require.NoError(t, err)
		require.NoError(t, sqlDB.Close())

		scoped, err := postgres.New(postgres.Config{DSN: withSearchPath(dsn, schema), MaxOpenConns: 4}, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { _ = scoped.Close() })

		require.NoError(t, scoped.Migrate(context.Background()))
		require.NoError(t, scoped.Migrate(context.Background()), "migrate must be repeatable")
		return scoped
	})
}

func withSearchPath(dsn, schema string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "search_path=" + schema
}
