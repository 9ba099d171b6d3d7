package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/rbac"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/util"
)

const policyColumns = `id, node_id, owner_user_id, subject_type, subject_id, action, level, effect, created_at, expires_at`

// CreatePolicy stores a grant on a node owned by p.OwnerUserID. A policy with
// the same node, subject, action and effect is updated in place.
func (s *HierarchyStore) CreatePolicy(ctx context.Context, p NodePolicy) (NodePolicy, error) {
	p.OwnerUserID = strings.TrimSpace(p.OwnerUserID)
	if p.Action == "" {
		p.Action = rbac.ActionView
	}
	if p.SubjectType == rbac.SubjectPublic {
		p.SubjectID = ""
	}
	if err := validateStruct(p); err != nil {
		return NodePolicy{}, err
	}
	if !rbac.Grantable(p.Action) {
		return NodePolicy{}, invalid("action", "only view can be granted")
	}
	if p.ExpiresAt != nil {
		expires := p.ExpiresAt.UTC().Truncate(timePrecision)
		p.ExpiresAt = &expires
	}

	p.ID = util.NewID("pol")
	p.CreatedAt = s.now()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		owner, err := s.lockNodeOwner(ctx, tx, p.NodeID, s.dialect.shareLock())
		if err != nil {
			return err
		}
		switch owner {
		case "":
			return invalid("nodeId", "node not found")
		case p.OwnerUserID:
		default:
			return invalid("nodeId", "node belongs to another user")
		}

		var createdAt dbTime
		err = tx.QueryRowContext(ctx, s.q(`
			INSERT INTO node_policies (`+policyColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (node_id, subject_type, subject_id, action, effect)
			DO UPDATE SET level = excluded.level, expires_at = excluded.expires_at
			RETURNING id, created_at
		`), p.ID, p.NodeID, p.OwnerUserID, string(p.SubjectType), p.SubjectID,
			string(p.Action), string(p.Level), string(p.Effect), p.CreatedAt, p.ExpiresAt,
		).Scan(&p.ID, &createdAt)
		if err != nil {
			return fmt.Errorf("upsert policy: %w", err)
		}
		p.CreatedAt = createdAt.Time
		return nil
	})
	if err != nil {
		return NodePolicy{}, err
	}
	return p, nil
}

// DeletePolicy removes a policy created by ownerUserID. It returns false when
// no such policy exists.
func (s *HierarchyStore) DeletePolicy(ctx context.Context, policyID, ownerUserID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		DELETE FROM node_policies
		WHERE id=$1 AND owner_user_id=$2
	`), policyID, ownerUserID)
	if err != nil {
		return false, fmt.Errorf("delete policy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("count deleted policies: %w", err)
	}
	return n > 0, nil
}

// ListPolicies returns the policies attached directly to nodeID.
func (s *HierarchyStore) ListPolicies(ctx context.Context, nodeID string) ([]NodePolicy, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+policyColumns+`
		FROM node_policies
		WHERE node_id=$1
		ORDER BY created_at, id
	`), nodeID)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer rows.Close()

	items := make([]NodePolicy, 0)
	for rows.Next() {
		var (
			p         NodePolicy
			createdAt dbTime
			expiresAt dbTime
		)
		if err := rows.Scan(&p.ID, &p.NodeID, &p.OwnerUserID, &p.SubjectType, &p.SubjectID,
			&p.Action, &p.Level, &p.Effect, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan policy: %w", err)
		}
		p.CreatedAt = createdAt.Time
		p.ExpiresAt = expiresAt.ptr()
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate policies: %w", err)
	}
	return items, nil
}
