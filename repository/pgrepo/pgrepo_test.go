package pgrepo_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	engine "github.com/eventengine/eventengine"
	"github.com/eventengine/eventengine/internal/enginetest"
	"github.com/eventengine/eventengine/repository/pgrepo"
)

// TestRepository_Compliance runs pgrepo.Repository through the same
// backend-compliance suite memrepo and lsmrepo are held to, against a real
// Postgres instance: skip unless DATABASE_URL is set, since this is not a
// test the default `go test ./...` run should require a running database
// for.
func TestRepository_Compliance(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set; skipping pgrepo integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	// The suite below uses fixed stream/tenant names; start from a clean
	// slate so a prior run's leftovers can't shift version assertions.
	if _, err := pool.Exec(ctx, `TRUNCATE events, event_streams`); err != nil {
		t.Fatalf("truncate fixture tables: %v", err)
	}

	enginetest.Run(t, func(t *testing.T) engine.Repository {
		return pgrepo.New(pool, 16)
	})
}
