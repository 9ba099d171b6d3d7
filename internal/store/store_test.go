package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/util"
)

var migrationsRoot = filepath.Join("..", "..", "db", "migrations")

// forEachStore runs fn against a fresh SQLite database and, when
// TIMELINE_TEST_DATABASE_URL is set, against Postgres as well.
func forEachStore(t *testing.T, fn func(t *testing.T, s *HierarchyStore)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		fn(t, openSQLiteStore(t))
	})
	t.Run("postgres", func(t *testing.T) {
		fn(t, openPostgresStore(t))
	})
}

func openSQLiteStore(t *testing.T) *HierarchyStore {
	t.Helper()
	ctx := context.Background()

	db, dialect, err := Open(ctx, "sqlite", filepath.Join(t.TempDir(), "timeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, ApplyMigrations(ctx, db, dialect, MigrationsDir(migrationsRoot, dialect)))
	return NewHierarchyStore(db, dialect)
}

func openPostgresStore(t *testing.T) *HierarchyStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("TIMELINE_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("TIMELINE_TEST_DATABASE_URL is not set")
	}
	ctx := context.Background()

	db, dialect, err := Open(ctx, "pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, ApplyMigrations(ctx, db, dialect, MigrationsDir(migrationsRoot, dialect)))
	_, err = db.ExecContext(ctx, `TRUNCATE node_policies, timeline_node_closure, timeline_nodes`)
	require.NoError(t, err)
	return NewHierarchyStore(db, dialect)
}

func newUser() string {
	return util.NewID("user")
}

func mustCreate(t *testing.T, s *HierarchyStore, userID string, parent *TimelineNode, meta Meta) TimelineNode {
	t.Helper()
	req := CreateNodeRequest{Type: NodeTypeJob, UserID: userID, Meta: meta}
	if parent != nil {
		req.Type = NodeTypeProject
		req.ParentID = &parent.ID
	}
	node, err := s.CreateNode(context.Background(), req)
	require.NoError(t, err)
	return node
}

func ids(nodes []TimelineNode) []string {
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func strPtr(s string) *string {
	return &s
}
