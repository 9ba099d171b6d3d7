package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const (
	nodeColumns      = `n.id, n.type, n.parent_id, n.meta, n.user_id, n.created_at, n.updated_at`
	returningColumns = `id, type, parent_id, meta, user_id, created_at, updated_at`
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (TimelineNode, error) {
	var (
		node      TimelineNode
		parentID  sql.NullString
		meta      []byte
		createdAt dbTime
		updatedAt dbTime
	)
	if err := row.Scan(&node.ID, &node.Type, &parentID, &meta, &node.UserID, &createdAt, &updatedAt); err != nil {
		return TimelineNode{}, err
	}
	if parentID.Valid {
		p := parentID.String
		node.ParentID = &p
	}
	decoded, err := decodeMeta(meta)
	if err != nil {
		return TimelineNode{}, fmt.Errorf("decode meta of %s: %w", node.ID, err)
	}
	node.Meta = decoded
	node.CreatedAt = createdAt.Time
	node.UpdatedAt = updatedAt.Time
	return node, nil
}

func scanNodes(rows *sql.Rows) ([]TimelineNode, error) {
	defer rows.Close()
	items := make([]TimelineNode, 0)
	for rows.Next() {
		item, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return items, nil
}

func encodeMeta(meta Meta) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("encode meta: %w", err)
	}
	return string(encoded), nil
}

func decodeMeta(raw []byte) (Meta, error) {
	var meta Meta
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, err
		}
	}
	if meta == nil {
		meta = Meta{}
	}
	return meta, nil
}

// dbTime scans timestamps from drivers that hand back either time.Time or
// its text form (SQLite without a declared column type, e.g. RETURNING).
type dbTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v.UTC(), true
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into timestamp", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

func (t dbTime) ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
