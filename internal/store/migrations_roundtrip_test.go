package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMigrationsRoundTripSQLite(t *testing.T) {
	ctx := context.Background()
	db, dialect, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "roundtrip.db"))
	require.NoError(t, err, "open sqlite")
	defer db.Close()

	roundTrip(ctx, t, db, dialect)
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TIMELINE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TIMELINE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, dialect, err := Open(ctx, "pgx", dsn)
	require.NoError(t, err, "open postgres")
	defer db.Close()

	_, err = db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	require.NoError(t, err, "reset schema")

	roundTrip(ctx, t, db, dialect)
}

func roundTrip(ctx context.Context, t *testing.T, db *sql.DB, dialect Dialect) {
	t.Helper()
	migrationsDir := MigrationsDir(migrationsRoot, dialect)

	require.NoError(t, ApplyMigrations(ctx, db, dialect, migrationsDir), "apply up migrations (pass 1)")
	require.NoError(t, ApplyMigrations(ctx, db, dialect, migrationsDir), "re-apply up migrations")
	require.NoError(t, applyDownMigrations(ctx, db, migrationsDir), "apply down migrations")

	_, err := db.ExecContext(ctx, `DELETE FROM schema_migrations`)
	require.NoError(t, err, "clear schema_migrations")

	require.NoError(t, ApplyMigrations(ctx, db, dialect, migrationsDir), "apply up migrations (pass 2)")
}

// TestClosureForeignKeysPostgres checks that the closure table cannot point
// at nodes that do not exist.
func TestClosureForeignKeysPostgres(t *testing.T) {
	s := openPostgresStore(t)
	ctx := context.Background()

	_, err := s.DB().ExecContext(ctx, `
		INSERT INTO timeline_node_closure (ancestor_id, descendant_id, depth) VALUES ('ghost', 'ghost', 0)
	`)
	require.Error(t, err, "expected foreign key violation")
	var pgErr *pgconn.PgError
	require.True(t, errors.As(err, &pgErr), "expected PgError, got %T: %v", err, err)
	require.Equal(t, "23503", pgErr.Code, pgErr.Message)
}

func applyDownMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return err
	}

	pattern := regexp.MustCompile(`^(\d+)_.*\.down\.sql$`)
	type migration struct {
		version string
		path    string
	}
	downs := make([]migration, 0)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := pattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		downs = append(downs, migration{
			version: match[1],
			path:    filepath.Join(migrationsDir, name),
		})
	}

	sort.Slice(downs, func(i, j int) bool {
		return downs[i].version > downs[j].version
	})

	for _, down := range downs {
		sqlBytes, err := os.ReadFile(down.path)
		if err != nil {
			return err
		}
		sqlText := strings.TrimSpace(string(sqlBytes))
		if sqlText == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return err
		}
	}

	return nil
}
