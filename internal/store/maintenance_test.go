package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyClosureConsistentTree(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *HierarchyStore) {
		ctx := context.Background()
		user := newUser()
		root := mustCreate(t, s, user, nil, nil)
		mid := mustCreate(t, s, user, &root, nil)
		mustCreate(t, s, user, &mid, nil)
		mustCreate(t, s, user, &root, nil)
		mustCreate(t, s, newUser(), nil, nil)

		report, err := s.VerifyClosure(ctx, user)
		require.NoError(t, err)
		assert.True(t, report.Consistent())
		assert.Equal(t, user, report.UserID)
		assert.Equal(t, 4, report.Nodes)
		assert.Equal(t, 8, report.Rows)
	})
}

func TestVerifyAndRebuildClosure(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *HierarchyStore) {
		ctx := context.Background()
		user := newUser()
		root := mustCreate(t, s, user, nil, nil)
		mid := mustCreate(t, s, user, &root, nil)
		leaf := mustCreate(t, s, user, &mid, nil)
		stray := mustCreate(t, s, user, nil, nil)

		_, err := s.DB().ExecContext(ctx, s.q(`
			DELETE FROM timeline_node_closure WHERE ancestor_id=$1 AND descendant_id=$2
		`), root.ID, leaf.ID)
		require.NoError(t, err)
		_, err = s.DB().ExecContext(ctx, s.q(`
			INSERT INTO timeline_node_closure (ancestor_id, descendant_id, depth) VALUES ($1, $2, 1)
		`), stray.ID, leaf.ID)
		require.NoError(t, err)

		report, err := s.VerifyClosure(ctx, user)
		require.NoError(t, err)
		assert.False(t, report.Consistent())
		assert.Equal(t, []ClosureEntry{{AncestorID: root.ID, DescendantID: leaf.ID, Depth: 2}}, report.Missing)
		assert.Equal(t, []ClosureEntry{{AncestorID: stray.ID, DescendantID: leaf.ID, Depth: 1}}, report.Unexpected)

		written, err := s.RebuildClosure(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 7, written)

		report, err = s.VerifyClosure(ctx, user)
		require.NoError(t, err)
		assert.True(t, report.Consistent())

		rows, err := s.ClosureEntries(ctx, leaf.ID)
		require.NoError(t, err)
		assert.Len(t, rows, 3)
	})
}

func TestRebuildClosureLeavesOtherUsersAlone(t *testing.T) {
	s := openSQLiteStore(t)
	ctx := context.Background()
	alice, bob := newUser(), newUser()
	mustCreate(t, s, alice, nil, nil)
	bobRoot := mustCreate(t, s, bob, nil, nil)
	mustCreate(t, s, bob, &bobRoot, nil)

	written, err := s.RebuildClosure(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 1, written)

	report, err := s.VerifyClosure(ctx, bob)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 3, report.Rows)
}
