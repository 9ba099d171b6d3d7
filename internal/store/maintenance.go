package store

import (
	"context"
	"database/sql"
	"fmt"
)

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// expectedClosure walks parent_id edges of every node owned by userID and
// returns the closure rows they imply. The walk is bounded by the node count
// so a cyclic parent chain cannot recurse forever.
func (s *HierarchyStore) expectedClosure(ctx context.Context, q queryer, userID string) ([]ClosureEntry, error) {
	var nodes int
	if err := q.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM timeline_nodes WHERE user_id=$1`), userID).Scan(&nodes); err != nil {
		return nil, fmt.Errorf("count nodes: %w", err)
	}

	rows, err := q.QueryContext(ctx, s.q(`
		WITH RECURSIVE walk(ancestor_id, descendant_id, depth) AS (
			SELECT id, id, 0
			FROM timeline_nodes
			WHERE user_id=$1
			UNION ALL
			SELECT w.ancestor_id, n.id, w.depth + 1
			FROM walk w
			JOIN timeline_nodes n ON n.parent_id = w.descendant_id
			WHERE w.depth < $2
		)
		SELECT ancestor_id, descendant_id, depth
		FROM walk
		ORDER BY depth, ancestor_id, descendant_id
	`), userID, nodes)
	if err != nil {
		return nil, fmt.Errorf("walk parent edges: %w", err)
	}
	return scanClosure(rows)
}

func (s *HierarchyStore) storedClosure(ctx context.Context, q queryer, userID string) ([]ClosureEntry, error) {
	rows, err := q.QueryContext(ctx, s.q(`
		SELECT c.ancestor_id, c.descendant_id, c.depth
		FROM timeline_node_closure c
		WHERE c.descendant_id IN (SELECT id FROM timeline_nodes WHERE user_id=$1)
			OR c.ancestor_id IN (SELECT id FROM timeline_nodes WHERE user_id=$1)
		ORDER BY c.depth, c.ancestor_id, c.descendant_id
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("read closure rows: %w", err)
	}
	return scanClosure(rows)
}

// VerifyClosure compares the stored closure rows of userID's nodes with the
// rows implied by their parent edges.
func (s *HierarchyStore) VerifyClosure(ctx context.Context, userID string) (ClosureReport, error) {
	expected, err := s.expectedClosure(ctx, s.db, userID)
	if err != nil {
		return ClosureReport{}, err
	}
	stored, err := s.storedClosure(ctx, s.db, userID)
	if err != nil {
		return ClosureReport{}, err
	}
	report := ClosureReport{
		UserID: userID,
		Nodes:  countSelfRows(expected),
		Rows:   len(stored),
	}
	report.Missing, report.Unexpected = diffClosure(expected, stored)
	return report, nil
}

// RebuildClosure replaces the closure rows of userID's nodes with the rows
// implied by their parent edges and returns how many rows were written.
func (s *HierarchyStore) RebuildClosure(ctx context.Context, userID string) (int, error) {
	written := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		expected, err := s.expectedClosure(ctx, tx, userID)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, s.q(`
			DELETE FROM timeline_node_closure
			WHERE descendant_id IN (SELECT id FROM timeline_nodes WHERE user_id=$1)
				OR ancestor_id IN (SELECT id FROM timeline_nodes WHERE user_id=$1)
		`), userID); err != nil {
			return fmt.Errorf("clear closure rows: %w", err)
		}
		if err := s.insertClosure(ctx, tx, expected); err != nil {
			return err
		}
		written = len(expected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func countSelfRows(rows []ClosureEntry) int {
	n := 0
	for _, r := range rows {
		if r.Depth == 0 {
			n++
		}
	}
	return n
}
