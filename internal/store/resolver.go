package store

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/filter"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/rbac"
)

// resolveChunkSize bounds the node ids bound into one visibility query.
const resolveChunkSize = 500

// GetAllNodes returns the nodes the filter's current user may see.
//
//   - Own timeline: every node of the target, optionally limited to NodeIDs.
//   - Another user's timeline: nodes covered by an applicable allow policy on
//     the node or an ancestor and by no applicable deny policy.
//   - Batch check (NodeIDs without an explicit target): each listed node the
//     current user owns or is granted, whoever owns it.
//
// Results are ordered by creation time. An empty NodeIDs list matches nothing.
// Long NodeIDs lists are resolved in chunks to stay under bind limits.
func (s *HierarchyStore) GetAllNodes(ctx context.Context, f filter.NodeFilter) ([]TimelineNode, error) {
	if !f.HasNodeIDs() {
		return s.resolve(ctx, f, nil)
	}
	parts := chunk(f.NodeIDs(), resolveChunkSize)
	out := make([]TimelineNode, 0)
	for _, ids := range parts {
		nodes, err := s.resolve(ctx, f, ids)
		if err != nil {
			return nil, err
		}
		out = append(out, nodes...)
	}
	if len(parts) > 1 {
		slices.SortFunc(out, func(a, b TimelineNode) int {
			if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
				return c
			}
			return strings.Compare(a.ID, b.ID)
		})
	}
	return out, nil
}

// resolve runs one visibility query. ids is nil for a full scan.
func (s *HierarchyStore) resolve(ctx context.Context, f filter.NodeFilter, ids []string) ([]TimelineNode, error) {
	var (
		a     args
		where []string
	)
	switch {
	case ids != nil && !f.TargetExplicit():
		where = append(where, "n.id IN "+a.in(ids))
		owner := a.add(f.CurrentUserID())
		where = append(where, "(n.user_id = "+owner+" OR ("+s.grantedClause(&a, f)+"))")
	case f.IsSameUser():
		where = append(where, "n.user_id = "+a.add(f.TargetUserID()))
		if ids != nil {
			where = append(where, "n.id IN "+a.in(ids))
		}
	default:
		where = append(where, "n.user_id = "+a.add(f.TargetUserID()))
		if ids != nil {
			where = append(where, "n.id IN "+a.in(ids))
		}
		where = append(where, s.grantedClause(&a, f))
	}

	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+nodeColumns+`
		FROM timeline_nodes n
		WHERE `+strings.Join(where, "\n\t\t\tAND ")+`
		ORDER BY n.created_at, n.id
	`), a.values...)
	if err != nil {
		return nil, fmt.Errorf("resolve visible nodes: %w", err)
	}
	return scanNodes(rows)
}

// grantedClause renders the allow-and-not-denied condition for node n.
func (s *HierarchyStore) grantedClause(a *args, f filter.NodeFilter) string {
	return "EXISTS (" + s.policyMatch(a, f, rbac.EffectAllow, rbac.AllowLevels(f.Level())) + ")" +
		" AND NOT EXISTS (" + s.policyMatch(a, f, rbac.EffectDeny, rbac.DenyLevels(f.Level())) + ")"
}

// policyMatch selects the applicable policies of one effect attached to n or
// any of its ancestors.
func (s *HierarchyStore) policyMatch(a *args, f filter.NodeFilter, effect rbac.Effect, levels []rbac.Level) string {
	levelList := make([]string, 0, len(levels))
	for _, l := range levels {
		levelList = append(levelList, string(l))
	}
	return `SELECT 1
			FROM timeline_node_closure c
			JOIN node_policies p ON p.node_id = c.ancestor_id
			WHERE c.descendant_id = n.id
				AND p.effect = ` + a.add(string(effect)) + `
				AND p.action = ` + a.add(string(f.Action())) + `
				AND p.level IN ` + a.in(levelList) + `
				AND (p.subject_type = 'public' OR (p.subject_type = 'user' AND p.subject_id = ` + a.add(f.CurrentUserID()) + `))
				AND (p.expires_at IS NULL OR p.expires_at > ` + a.add(s.now()) + `)`
}
