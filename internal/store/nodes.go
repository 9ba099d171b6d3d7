package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/util"
)

const (
	// deleteChunkSize bounds the id lists bound into a single statement.
	deleteChunkSize = 500

	// timePrecision matches what Postgres keeps for a timestamptz.
	timePrecision = time.Microsecond
)

// HierarchyStore keeps timeline nodes and their closure index in step.
type HierarchyStore struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func NewHierarchyStore(db *sql.DB, dialect Dialect) *HierarchyStore {
	return &HierarchyStore{
		db:      db,
		dialect: dialect,
		now: func() time.Time {
			return time.Now().UTC().Truncate(timePrecision)
		},
	}
}

func (s *HierarchyStore) DB() *sql.DB {
	return s.db
}

func (s *HierarchyStore) Dialect() Dialect {
	return s.dialect
}

// Ping verifies the database connection is alive
func (s *HierarchyStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *HierarchyStore) Close() error {
	return s.db.Close()
}

func (s *HierarchyStore) q(query string) string {
	return s.dialect.Rebind(query)
}

func (s *HierarchyStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// CreateNode inserts the node and its closure rows in one transaction.
func (s *HierarchyStore) CreateNode(ctx context.Context, req CreateNodeRequest) (TimelineNode, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.ParentID != nil && strings.TrimSpace(*req.ParentID) == "" {
		req.ParentID = nil
	}
	if err := validateStruct(req); err != nil {
		return TimelineNode{}, err
	}
	meta, err := encodeMeta(req.Meta)
	if err != nil {
		return TimelineNode{}, invalid("meta", err.Error())
	}

	now := s.now()
	node := TimelineNode{
		ID:        util.NewID(""),
		Type:      req.Type,
		ParentID:  req.ParentID,
		UserID:    req.UserID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var ancestry []ClosureEntry
		if node.ParentID != nil {
			owner, err := s.lockNodeOwner(ctx, tx, *node.ParentID, s.dialect.shareLock())
			if err != nil {
				return err
			}
			switch owner {
			case "":
				return invalid("parentId", "parent node not found")
			case node.UserID:
			default:
				return invalid("parentId", "parent node belongs to another user")
			}
			ancestry, err = s.ancestryOf(ctx, tx, *node.ParentID)
			if err != nil {
				return err
			}
		}

		rows, err := planInsert(node.ID, node.ParentID, ancestry)
		if err != nil {
			return err
		}

		stored, err := scanNode(tx.QueryRowContext(ctx, s.q(`
			INSERT INTO timeline_nodes (id, type, parent_id, meta, user_id, created_at, updated_at)
			VALUES ($1, $2, $3, `+s.dialect.jsonParam(4)+`, $5, $6, $7)
			RETURNING `+returningColumns+`
		`), node.ID, string(node.Type), node.ParentID, meta, node.UserID, node.CreatedAt, node.UpdatedAt))
		if err != nil {
			return fmt.Errorf("insert node: %w", err)
		}
		if err := s.insertClosure(ctx, tx, rows); err != nil {
			return err
		}
		node = stored
		return nil
	})
	if err != nil {
		return TimelineNode{}, err
	}
	return node, nil
}

// lockNodeOwner returns the owner of id, or "" when the node does not exist.
// On Postgres the row stays locked with lock until the transaction ends.
func (s *HierarchyStore) lockNodeOwner(ctx context.Context, tx *sql.Tx, id, lock string) (string, error) {
	var owner string
	err := tx.QueryRowContext(ctx, s.q(`SELECT user_id FROM timeline_nodes WHERE id=$1`+lock), id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup node owner: %w", err)
	}
	return owner, nil
}

func (s *HierarchyStore) ancestryOf(ctx context.Context, tx *sql.Tx, id string) ([]ClosureEntry, error) {
	rows, err := tx.QueryContext(ctx, s.q(`
		SELECT ancestor_id, descendant_id, depth
		FROM timeline_node_closure
		WHERE descendant_id=$1
		ORDER BY depth
	`), id)
	if err != nil {
		return nil, fmt.Errorf("read ancestry: %w", err)
	}
	return scanClosure(rows)
}

func scanClosure(rows *sql.Rows) ([]ClosureEntry, error) {
	defer rows.Close()
	items := make([]ClosureEntry, 0)
	for rows.Next() {
		var item ClosureEntry
		if err := rows.Scan(&item.AncestorID, &item.DescendantID, &item.Depth); err != nil {
			return nil, fmt.Errorf("scan closure row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate closure rows: %w", err)
	}
	return items, nil
}

const closureInsertBatch = 300

func (s *HierarchyStore) insertClosure(ctx context.Context, tx *sql.Tx, rows []ClosureEntry) error {
	for start := 0; start < len(rows); start += closureInsertBatch {
		end := min(start+closureInsertBatch, len(rows))
		var a args
		values := make([]string, 0, end-start)
		for _, r := range rows[start:end] {
			values = append(values, "("+a.add(r.AncestorID)+", "+a.add(r.DescendantID)+", "+a.add(r.Depth)+")")
		}
		query := `INSERT INTO timeline_node_closure (ancestor_id, descendant_id, depth) VALUES ` + strings.Join(values, ", ")
		if _, err := tx.ExecContext(ctx, s.q(query), a.values...); err != nil {
			return fmt.Errorf("insert closure rows: %w", err)
		}
	}
	return nil
}

// GetByID looks a node up by primary key. It does not apply any access
// control; requesterUserID is accepted for interface symmetry only.
func (s *HierarchyStore) GetByID(ctx context.Context, id, requesterUserID string) (*TimelineNode, error) {
	node, err := scanNode(s.db.QueryRowContext(ctx, s.q(`
		SELECT `+nodeColumns+`
		FROM timeline_nodes n
		WHERE n.id=$1
	`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return &node, nil
}

// UpdateNode shallow-merges req.Meta into the node owned by req.UserID in a
// single statement. Returns nil when no such node exists.
func (s *HierarchyStore) UpdateNode(ctx context.Context, req UpdateNodeRequest) (*TimelineNode, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	set := Meta{}
	var removed, touched []string
	for key, value := range req.Meta {
		touched = append(touched, key)
		if value == nil {
			removed = append(removed, key)
			continue
		}
		set[key] = value
	}
	patch, err := encodeMeta(set)
	if err != nil {
		return nil, invalid("meta", err.Error())
	}

	var a args
	var metaExpr string
	switch s.dialect {
	case DialectSQLite:
		paths := make([]string, 0, len(touched))
		for _, key := range touched {
			paths = append(paths, a.add(`$."`+key+`"`))
		}
		removeExpr := "meta"
		if len(paths) > 0 {
			removeExpr = "json_remove(meta, " + strings.Join(paths, ", ") + ")"
		}
		a.add(patch)
		metaExpr = "json_patch(" + removeExpr + ", " + s.dialect.jsonParam(len(a.values)) + ")"
	default:
		if removed == nil {
			removed = []string{}
		}
		a.add(removed)
		a.add(patch)
		metaExpr = "(meta - $1::text[]) || " + s.dialect.jsonParam(2)
	}
	updatedAt := a.add(s.now())
	id := a.add(req.ID)
	owner := a.add(req.UserID)

	node, err := scanNode(s.db.QueryRowContext(ctx, s.q(`
		UPDATE timeline_nodes
		SET meta = `+metaExpr+`, updated_at = `+updatedAt+`
		WHERE id = `+id+` AND user_id = `+owner+`
		RETURNING `+returningColumns), a.values...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("update node: %w", err)
	}
	return &node, nil
}

// DeleteNode removes the node owned by userID together with its whole
// subtree and every closure row touching it, in one transaction.
func (s *HierarchyStore) DeleteNode(ctx context.Context, id, userID string) (bool, error) {
	removed, err := s.DeleteSubtree(ctx, id, userID)
	return removed > 0, err
}

// DeleteSubtree is DeleteNode reporting how many nodes went, 0 when id is
// not a node owned by userID. The root row is locked FOR UPDATE, so a
// concurrent CreateNode under it either commits first and is included or
// waits and then finds its parent gone.
func (s *HierarchyStore) DeleteSubtree(ctx context.Context, id, userID string) (int, error) {
	removed := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		owner, err := s.lockNodeOwner(ctx, tx, id, s.dialect.updateLock())
		if err != nil {
			return err
		}
		if owner == "" || owner != userID {
			return nil
		}

		members, err := s.subtreeMembers(ctx, tx, id)
		if err != nil {
			return err
		}
		counts, err := s.countSubtree(ctx, tx, id)
		if err != nil {
			return err
		}
		counts.members = len(members)
		if err := checkSubtree(id, members, counts); err != nil {
			return err
		}

		// members are deepest first, so children always go before parents.
		var closureDeleted, nodesDeleted int64
		for _, ids := range chunk(members, deleteChunkSize) {
			var a args
			list := a.in(ids)
			res, err := tx.ExecContext(ctx, s.q(`
				DELETE FROM timeline_node_closure
				WHERE ancestor_id IN `+list+` OR descendant_id IN `+list), a.values...)
			if err != nil {
				return fmt.Errorf("delete closure rows: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("count deleted closure rows: %w", err)
			}
			closureDeleted += n
		}
		for _, ids := range chunk(members, deleteChunkSize) {
			var a args
			res, err := tx.ExecContext(ctx, s.q(`DELETE FROM timeline_nodes WHERE id IN `+a.in(ids)), a.values...)
			if err != nil {
				return fmt.Errorf("delete nodes: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("count deleted nodes: %w", err)
			}
			nodesDeleted += n
		}
		if err := checkDeleted(id, counts, closureDeleted, nodesDeleted); err != nil {
			return err
		}
		removed = len(members)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *HierarchyStore) subtreeMembers(ctx context.Context, tx *sql.Tx, id string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, s.q(`
		SELECT descendant_id
		FROM timeline_node_closure
		WHERE ancestor_id=$1
		ORDER BY depth DESC, descendant_id
	`), id)
	if err != nil {
		return nil, fmt.Errorf("read subtree: %w", err)
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, fmt.Errorf("scan subtree member: %w", err)
		}
		ids = append(ids, member)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subtree: %w", err)
	}
	return ids, nil
}

func (s *HierarchyStore) countSubtree(ctx context.Context, tx *sql.Tx, id string) (subtreeCounts, error) {
	var c subtreeCounts
	err := tx.QueryRowContext(ctx, s.q(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN descendant_id IN (
				SELECT descendant_id FROM timeline_node_closure WHERE ancestor_id=$1
			) THEN 1 ELSE 0 END), 0)
		FROM timeline_node_closure
		WHERE ancestor_id IN (SELECT descendant_id FROM timeline_node_closure WHERE ancestor_id=$1)
			OR descendant_id IN (SELECT descendant_id FROM timeline_node_closure WHERE ancestor_id=$1)
	`), id).Scan(&c.touchingRows, &c.intoSubtreeRows)
	if err != nil {
		return subtreeCounts{}, fmt.Errorf("count subtree closure rows: %w", err)
	}
	return c, nil
}

// GetNodeChildren returns the nodes exactly one level below parentID.
func (s *HierarchyStore) GetNodeChildren(ctx context.Context, parentID string) ([]TimelineNode, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+nodeColumns+`
		FROM timeline_node_closure c
		JOIN timeline_nodes n ON n.id = c.descendant_id
		WHERE c.ancestor_id=$1 AND c.depth=1
		ORDER BY n.created_at, n.id
	`), parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return scanNodes(rows)
}

// GetAncestors returns every ancestor of nodeID, nearest first.
func (s *HierarchyStore) GetAncestors(ctx context.Context, nodeID string) ([]NodeAtDepth, error) {
	return s.relatives(ctx, `
		SELECT `+nodeColumns+`, c.depth
		FROM timeline_node_closure c
		JOIN timeline_nodes n ON n.id = c.ancestor_id
		WHERE c.descendant_id=$1 AND c.depth > 0
		ORDER BY c.depth
	`, nodeID)
}

// GetDescendants returns every descendant of nodeID, shallowest first.
func (s *HierarchyStore) GetDescendants(ctx context.Context, nodeID string) ([]NodeAtDepth, error) {
	return s.relatives(ctx, `
		SELECT `+nodeColumns+`, c.depth
		FROM timeline_node_closure c
		JOIN timeline_nodes n ON n.id = c.descendant_id
		WHERE c.ancestor_id=$1 AND c.depth > 0
		ORDER BY c.depth, n.created_at, n.id
	`, nodeID)
}

func (s *HierarchyStore) relatives(ctx context.Context, query, nodeID string) ([]NodeAtDepth, error) {
	rows, err := s.db.QueryContext(ctx, s.q(query), nodeID)
	if err != nil {
		return nil, fmt.Errorf("list relatives: %w", err)
	}
	defer rows.Close()

	items := make([]NodeAtDepth, 0)
	for rows.Next() {
		var depth int
		node, err := scanNode(depthScanner{rows: rows, depth: &depth})
		if err != nil {
			return nil, fmt.Errorf("scan relative: %w", err)
		}
		items = append(items, NodeAtDepth{TimelineNode: node, Depth: depth})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relatives: %w", err)
	}
	return items, nil
}

// depthScanner appends a trailing depth column to a node scan.
type depthScanner struct {
	rows  *sql.Rows
	depth *int
}

func (d depthScanner) Scan(dest ...any) error {
	return d.rows.Scan(append(dest, d.depth)...)
}

// ClosureEntries returns every closure row in which nodeID takes part.
func (s *HierarchyStore) ClosureEntries(ctx context.Context, nodeID string) ([]ClosureEntry, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT ancestor_id, descendant_id, depth
		FROM timeline_node_closure
		WHERE ancestor_id=$1 OR descendant_id=$1
		ORDER BY depth, ancestor_id, descendant_id
	`), nodeID)
	if err != nil {
		return nil, fmt.Errorf("list closure rows: %w", err)
	}
	return scanClosure(rows)
}
