// Package util provides shared database fixtures for integration tests.
package util

import (
	"context"
	"crypto/rand"
	stdsql "database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/datastore"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// SetupRouter opens a migrated datastore router against a per-test schema.
// In CI (CI_DATABASE_URL set) it connects to the external PostgreSQL service;
// locally it starts one shared pgvector testcontainer per package and skips
// when Docker is unavailable. The schema and router are torn down with the
// test.
func SetupRouter(t *testing.T) *datastore.Router {
	t.Helper()
	ctx := context.Background()

	connStr := getOrCreateSharedDatabase(t)
	schemaName := generateSchemaName(t)

	db, err := stdsql.Open("pgx", connStr)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, fmt.Sprintf("CREATE SCHEMA %s", schemaName))
	require.NoError(t, err)
	_ = db.Close()

	// public stays on the search path so the vector type resolves from the
	// schema the extension lives in.
	cfg := config.Default().Database
	cfg.URL = addSearchPath(connStr, schemaName+",public")
	cfg.HealthInterval = time.Hour

	router, err := datastore.Open(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, router.Migrate())

	t.Cleanup(func() {
		router.Close()
		db, err := stdsql.Open("pgx", connStr)
		if err != nil {
			t.Logf("Warning: reopening for schema drop: %v", err)
			return
		}
		defer db.Close()
		if _, err := db.ExecContext(context.Background(),
			fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schemaName)); err != nil {
			t.Logf("Warning: failed to drop schema %s: %v", schemaName, err)
		}
	})

	return router
}

// getOrCreateSharedDatabase returns a connection string to the shared
// database: CI_DATABASE_URL in CI, otherwise a package-scoped testcontainer.
func getOrCreateSharedDatabase(t *testing.T) string {
	if ciDatabaseURL := os.Getenv("CI_DATABASE_URL"); ciDatabaseURL != "" {
		t.Log("Using external PostgreSQL from CI_DATABASE_URL")
		return ciDatabaseURL
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		t.Log("Starting shared PostgreSQL testcontainer")

		pgContainer, err := postgres.Run(ctx,
			"pgvector/pgvector:pg16",
			postgres.WithDatabase("test"),
			postgres.WithUsername("test"),
			postgres.WithPassword("test"),
			postgres.WithInitScripts(resolveInitScriptPath()),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = fmt.Errorf("starting postgres container: %w", err)
			return
		}

		connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
		if err != nil {
			containerErr = fmt.Errorf("reading connection string: %w", err)
			return
		}
		sharedConnStr = connStr
	})

	if containerErr != nil {
		t.Skipf("PostgreSQL unavailable, skipping integration test: %v", containerErr)
	}
	return sharedConnStr
}

// generateSchemaName creates a unique, PostgreSQL-safe schema name from the
// test name plus a random suffix, within the 63-char identifier limit.
func generateSchemaName(t *testing.T) string {
	name := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, strings.ToLower(t.Name()))
	if len(name) > 40 {
		name = name[:40]
	}

	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		t.Fatalf("generating schema suffix: %v", err)
	}
	return fmt.Sprintf("test_%s_%s", name, hex.EncodeToString(suffix))
}

func addSearchPath(connStr, searchPath string) string {
	sep := "?"
	if strings.Contains(connStr, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssearch_path=%s", connStr, sep, searchPath)
}

// resolveInitScriptPath locates the postgres init script relative to this
// source file so any package's tests can start the container.
func resolveInitScriptPath() string {
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("resolveInitScriptPath: runtime.Caller(0) failed")
	}
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	return filepath.Join(projectRoot, "deploy", "postgres-init", "01-init.sql")
}
