package store

import "sort"

// planInsert returns the closure rows for a new node. parentAncestry holds
// the parent's own rows (descendant = parent), i.e. every ancestor of the
// parent including the parent itself at depth 0.
func planInsert(nodeID string, parentID *string, parentAncestry []ClosureEntry) ([]ClosureEntry, error) {
	rows := []ClosureEntry{{AncestorID: nodeID, DescendantID: nodeID, Depth: 0}}
	if parentID == nil {
		return rows, nil
	}
	if err := checkAncestry(*parentID, parentAncestry); err != nil {
		return nil, err
	}
	for _, a := range parentAncestry {
		rows = append(rows, ClosureEntry{AncestorID: a.AncestorID, DescendantID: nodeID, Depth: a.Depth + 1})
	}
	return rows, nil
}

// checkAncestry verifies that rows describe a single path from nodeID to its
// root: one row per depth 0..k and a self row at depth 0.
func checkAncestry(nodeID string, rows []ClosureEntry) error {
	if len(rows) == 0 {
		return inconsistent("node %s has no closure rows", nodeID)
	}
	seen := make([]bool, len(rows))
	for _, r := range rows {
		if r.DescendantID != nodeID {
			return inconsistent("ancestry of %s contains row for %s", nodeID, r.DescendantID)
		}
		if r.Depth < 0 || r.Depth >= len(rows) {
			return inconsistent("ancestry of %s has gap at depth %d", nodeID, r.Depth)
		}
		if seen[r.Depth] {
			return inconsistent("ancestry of %s has two rows at depth %d", nodeID, r.Depth)
		}
		seen[r.Depth] = true
		if r.Depth == 0 && r.AncestorID != nodeID {
			return inconsistent("depth 0 row of %s points at %s", nodeID, r.AncestorID)
		}
	}
	return nil
}

// subtreeCounts is measured before a cascade delete.
type subtreeCounts struct {
	members         int   // nodes in the subtree, root included
	touchingRows    int64 // closure rows with ancestor or descendant in the subtree
	intoSubtreeRows int64 // closure rows with descendant in the subtree
}

// checkSubtree verifies a subtree is closed before it is removed: the root
// has its self row and no closure row leads from a member to a node outside.
func checkSubtree(rootID string, members []string, c subtreeCounts) error {
	found := false
	for _, id := range members {
		if id == rootID {
			found = true
			break
		}
	}
	if !found {
		return inconsistent("node %s has no self row", rootID)
	}
	if c.touchingRows != c.intoSubtreeRows {
		return inconsistent("subtree of %s has %d rows leading outside it", rootID, c.touchingRows-c.intoSubtreeRows)
	}
	return nil
}

// checkDeleted compares what a cascade removed with what it measured.
func checkDeleted(rootID string, c subtreeCounts, closureDeleted, nodesDeleted int64) error {
	if closureDeleted != c.touchingRows {
		return inconsistent("deleting %s removed %d closure rows, expected %d", rootID, closureDeleted, c.touchingRows)
	}
	if nodesDeleted != int64(c.members) {
		return inconsistent("deleting %s removed %d nodes, expected %d", rootID, nodesDeleted, c.members)
	}
	return nil
}

type closureKey struct {
	ancestor   string
	descendant string
}

// diffClosure returns rows present in expected but not stored (or stored at
// a different depth) and rows stored but not expected.
func diffClosure(expected, stored []ClosureEntry) (missing, unexpected []ClosureEntry) {
	want := make(map[closureKey]int, len(expected))
	for _, e := range expected {
		want[closureKey{e.AncestorID, e.DescendantID}] = e.Depth
	}
	have := make(map[closureKey]int, len(stored))
	for _, e := range stored {
		have[closureKey{e.AncestorID, e.DescendantID}] = e.Depth
	}
	for _, e := range expected {
		if d, ok := have[closureKey{e.AncestorID, e.DescendantID}]; !ok || d != e.Depth {
			missing = append(missing, e)
		}
	}
	for _, e := range stored {
		if d, ok := want[closureKey{e.AncestorID, e.DescendantID}]; !ok || d != e.Depth {
			unexpected = append(unexpected, e)
		}
	}
	sortEntries(missing)
	sortEntries(unexpected)
	return missing, unexpected
}

func sortEntries(rows []ClosureEntry) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Depth != rows[j].Depth {
			return rows[i].Depth < rows[j].Depth
		}
		if rows[i].AncestorID != rows[j].AncestorID {
			return rows[i].AncestorID < rows[j].AncestorID
		}
		return rows[i].DescendantID < rows[j].DescendantID
	})
}

// chunk splits ids into slices of at most size elements.
func chunk(ids []string, size int) [][]string {
	var out [][]string
	for len(ids) > size {
		out = append(out, ids[:size])
		ids = ids[size:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
