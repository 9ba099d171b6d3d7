package app

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/filter"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/rbac"
	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/store"
)

// overviewKeys are the meta keys kept when a node is shown at overview level.
var overviewKeys = []string{
	"title",
	"type",
	"role",
	"company",
	"organization",
	"school",
	"degree",
	"startDate",
	"endDate",
}

// BuildFilter seals b, reporting builder errors as BAD_FILTER.
func BuildFilter(b filter.Builder) (filter.NodeFilter, error) {
	f, err := b.Build()
	if err != nil {
		return filter.NodeFilter{}, badFilter(err)
	}
	return f, nil
}

// CanView answers, for each of nodeIDs, whether requesterUserID may view it.
func (s *Service) CanView(ctx context.Context, requesterUserID string, nodeIDs []string) (map[string]bool, error) {
	f, err := BuildFilter(filter.ForNodes(requesterUserID, nodeIDs))
	if err != nil {
		return nil, err
	}
	visible, err := s.GetAllNodes(ctx, f)
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(nodeIDs))
	for _, id := range f.NodeIDs() {
		out[id] = false
	}
	for _, node := range visible {
		out[node.ID] = true
	}
	return out, nil
}

// ViewNodes resolves f and trims the meta of nodes the requester does not
// own down to the filter's level.
func (s *Service) ViewNodes(ctx context.Context, f filter.NodeFilter) ([]store.TimelineNode, error) {
	nodes, err := s.GetAllNodes(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]store.TimelineNode, 0, len(nodes))
	for _, node := range nodes {
		if node.UserID != f.CurrentUserID() {
			node = project(node, f.Level())
		}
		out = append(out, node)
	}
	return out, nil
}

func project(node store.TimelineNode, level rbac.Level) store.TimelineNode {
	if level == rbac.LevelFull {
		return node
	}
	meta := make(store.Meta, len(overviewKeys))
	for _, key := range overviewKeys {
		if value, ok := node.Meta[key]; ok {
			meta[key] = value
		}
	}
	node.Meta = meta
	return node
}

// ownedNode loads nodeID and checks it belongs to ownerUserID.
func (s *Service) ownedNode(ctx context.Context, nodeID, ownerUserID string) (*store.TimelineNode, error) {
	node, err := s.store.GetByID(ctx, nodeID, ownerUserID)
	if err != nil {
		return nil, asDomainError("load node", err)
	}
	if node == nil {
		return nil, notFound("node not found")
	}
	if node.UserID != ownerUserID {
		return nil, forbidden("only the node owner can manage access")
	}
	return node, nil
}

// GrantAccess stores a view policy on a node owned by ownerUserID.
func (s *Service) GrantAccess(ctx context.Context, ownerUserID string, p store.NodePolicy) (store.NodePolicy, error) {
	ctx, o := s.begin(ctx, "grant_access",
		attribute.String("node.id", p.NodeID),
		attribute.String("user.id", ownerUserID))

	if _, err := s.ownedNode(ctx, p.NodeID, ownerUserID); err != nil {
		o.end(err)
		return store.NodePolicy{}, err
	}
	p.OwnerUserID = ownerUserID
	created, err := s.store.CreatePolicy(ctx, p)
	o.end(err)
	if err != nil {
		return store.NodePolicy{}, asDomainError("grant access", err)
	}

	s.invalidate(ctx, ownerUserID)
	s.logger.Info("access granted",
		zap.String("node_id", created.NodeID),
		zap.String("user_id", ownerUserID),
		zap.String("subject_type", string(created.SubjectType)),
		zap.String("subject_id", created.SubjectID),
		zap.String("effect", string(created.Effect)),
		zap.String("level", string(created.Level)))
	return created, nil
}

// RevokeAccess deletes a policy created by ownerUserID.
func (s *Service) RevokeAccess(ctx context.Context, ownerUserID, policyID string) (bool, error) {
	ctx, o := s.begin(ctx, "revoke_access", attribute.String("user.id", ownerUserID))
	deleted, err := s.store.DeletePolicy(ctx, policyID, ownerUserID)
	o.end(err)
	if err != nil {
		return false, asDomainError("revoke access", err)
	}
	if deleted {
		s.invalidate(ctx, ownerUserID)
		s.logger.Info("access revoked", zap.String("policy_id", policyID), zap.String("user_id", ownerUserID))
	}
	return deleted, nil
}

// ListAccess returns the policies attached to a node owned by ownerUserID.
func (s *Service) ListAccess(ctx context.Context, ownerUserID, nodeID string) ([]store.NodePolicy, error) {
	ctx, o := s.begin(ctx, "list_access", attribute.String("node.id", nodeID))
	if _, err := s.ownedNode(ctx, nodeID, ownerUserID); err != nil {
		o.end(err)
		return nil, err
	}
	policies, err := s.store.ListPolicies(ctx, nodeID)
	o.end(err)
	if err != nil {
		return nil, asDomainError("list access", err)
	}
	return policies, nil
}
