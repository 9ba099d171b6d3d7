package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanInsertRoot(t *testing.T) {
	rows, err := planInsert("n", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []ClosureEntry{{AncestorID: "n", DescendantID: "n", Depth: 0}}, rows)
}

func TestPlanInsertUnderParent(t *testing.T) {
	parent := "p"
	ancestry := []ClosureEntry{
		{AncestorID: "p", DescendantID: "p", Depth: 0},
		{AncestorID: "g", DescendantID: "p", Depth: 1},
	}
	rows, err := planInsert("c", &parent, ancestry)
	require.NoError(t, err)
	assert.Equal(t, []ClosureEntry{
		{AncestorID: "c", DescendantID: "c", Depth: 0},
		{AncestorID: "p", DescendantID: "c", Depth: 1},
		{AncestorID: "g", DescendantID: "c", Depth: 2},
	}, rows)
}

func TestCheckAncestryRejectsBrokenPaths(t *testing.T) {
	tests := []struct {
		name string
		rows []ClosureEntry
	}{
		{name: "empty", rows: nil},
		{name: "foreign descendant", rows: []ClosureEntry{{AncestorID: "p", DescendantID: "x", Depth: 0}}},
		{name: "self row points elsewhere", rows: []ClosureEntry{{AncestorID: "g", DescendantID: "p", Depth: 0}}},
		{name: "gap", rows: []ClosureEntry{
			{AncestorID: "p", DescendantID: "p", Depth: 0},
			{AncestorID: "g", DescendantID: "p", Depth: 2},
		}},
		{name: "duplicate depth", rows: []ClosureEntry{
			{AncestorID: "p", DescendantID: "p", Depth: 0},
			{AncestorID: "g", DescendantID: "p", Depth: 1},
			{AncestorID: "h", DescendantID: "p", Depth: 1},
		}},
		{name: "negative depth", rows: []ClosureEntry{{AncestorID: "p", DescendantID: "p", Depth: -1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkAncestry("p", tt.rows)
			assert.True(t, errors.Is(err, ErrClosureInconsistent), "got %v", err)
		})
	}
}

func TestCheckSubtree(t *testing.T) {
	assert.NoError(t, checkSubtree("n", []string{"c", "n"}, subtreeCounts{members: 2, touchingRows: 3, intoSubtreeRows: 3}))
	assert.ErrorIs(t, checkSubtree("n", []string{"c"}, subtreeCounts{}), ErrClosureInconsistent)
	assert.ErrorIs(t, checkSubtree("n", []string{"n"}, subtreeCounts{members: 1, touchingRows: 2, intoSubtreeRows: 1}), ErrClosureInconsistent)
}

func TestCheckDeleted(t *testing.T) {
	c := subtreeCounts{members: 2, touchingRows: 3, intoSubtreeRows: 3}
	assert.NoError(t, checkDeleted("n", c, 3, 2))
	assert.ErrorIs(t, checkDeleted("n", c, 2, 2), ErrClosureInconsistent)
	assert.ErrorIs(t, checkDeleted("n", c, 3, 1), ErrClosureInconsistent)
}

func TestDiffClosure(t *testing.T) {
	expected := []ClosureEntry{
		{AncestorID: "a", DescendantID: "a", Depth: 0},
		{AncestorID: "b", DescendantID: "b", Depth: 0},
		{AncestorID: "a", DescendantID: "b", Depth: 1},
	}
	stored := []ClosureEntry{
		{AncestorID: "a", DescendantID: "a", Depth: 0},
		{AncestorID: "b", DescendantID: "b", Depth: 0},
		{AncestorID: "a", DescendantID: "b", Depth: 2},
		{AncestorID: "c", DescendantID: "b", Depth: 1},
	}
	missing, unexpected := diffClosure(expected, stored)
	assert.Equal(t, []ClosureEntry{{AncestorID: "a", DescendantID: "b", Depth: 1}}, missing)
	assert.Equal(t, []ClosureEntry{
		{AncestorID: "c", DescendantID: "b", Depth: 1},
		{AncestorID: "a", DescendantID: "b", Depth: 2},
	}, unexpected)

	missing, unexpected = diffClosure(expected, expected)
	assert.Empty(t, missing)
	assert.Empty(t, unexpected)
}

func TestChunk(t *testing.T) {
	assert.Nil(t, chunk(nil, 2))
	assert.Equal(t, [][]string{{"a", "b"}, {"c"}}, chunk([]string{"a", "b", "c"}, 2))
	assert.Equal(t, [][]string{{"a", "b"}}, chunk([]string{"a", "b"}, 2))
}
