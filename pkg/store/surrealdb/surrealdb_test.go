package surrealdb_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/surrealdb/surrealshop/pkg/store"
	"github.com/surrealdb/surrealshop/pkg/store/storetest"
	"github.com/surrealdb/surrealshop/pkg/store/surrealdb"
)

// TestContract runs against the server in SURREALDB_URL, for example
// ws://localhost:8000/rpc. Each subtest uses a database of its own.
func TestContract(t *testing.T) {
	endpoint := os.Getenv("SURREALDB_URL")
	if endpoint == "" {
		t.Skip("SURREALDB_URL not set")
	}

	n := 0
	storetest.RunContract(t, func(t *testing.T) store.Store {
		n++
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		s, err := surrealdb.New(ctx, surrealdb.Config{
			URL:       endpoint,
			Namespace: "surrealshop_test",
			Database:  fmt.Sprintf("contract_%d_%d", time.Now().UnixNano(), n),
			Username:  envOr("SURREALDB_USER", "root"),
			Password:  envOr("SURREALDB_PASS", "root"),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })

		require.NoError(t, s.Ping(ctx))
		require.NoError(t, s.Migrate(ctx))
		require.NoError(t, s.Migrate(ctx), "migrate must be repeatable")
		return s
	})
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
