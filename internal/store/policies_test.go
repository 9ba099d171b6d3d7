package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/rbac"
)

func userGrant(nodeID, owner, subject, level, effect string) NodePolicy {
	return NodePolicy{
		NodeID:      nodeID,
		OwnerUserID: owner,
		SubjectType: rbac.SubjectUser,
		SubjectID:   subject,
		Action:      rbac.ActionView,
		Level:       rbac.Level(level),
		Effect:      rbac.Effect(effect),
	}
}

func TestCreatePolicyRequiresNodeOwner(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *HierarchyStore) {
		ctx := context.Background()
		owner := newUser()
		node := mustCreate(t, s, owner, nil, nil)

		_, err := s.CreatePolicy(ctx, userGrant(node.ID, newUser(), newUser(), "overview", "allow"))
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "nodeId", verr.Field)

		_, err = s.CreatePolicy(ctx, userGrant("missing", owner, newUser(), "overview", "allow"))
		assert.ErrorIs(t, err, ErrValidation)

		policies, err := s.ListPolicies(ctx, node.ID)
		require.NoError(t, err)
		assert.Empty(t, policies)
	})
}

func TestCreatePolicyValidates(t *testing.T) {
	s := openSQLiteStore(t)
	ctx := context.Background()
	owner := newUser()
	node := mustCreate(t, s, owner, nil, nil)

	tests := []struct {
		name   string
		mutate func(*NodePolicy)
		field  string
	}{
		{name: "user subject without id", mutate: func(p *NodePolicy) { p.SubjectID = "" }, field: "subjectId"},
		{name: "unknown subject type", mutate: func(p *NodePolicy) { p.SubjectType = "team" }, field: "subjectType"},
		{name: "owner-only action", mutate: func(p *NodePolicy) { p.Action = rbac.ActionEdit }, field: "action"},
		{name: "unknown level", mutate: func(p *NodePolicy) { p.Level = "secret" }, field: "level"},
		{name: "unknown effect", mutate: func(p *NodePolicy) { p.Effect = "maybe" }, field: "effect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := userGrant(node.ID, owner, newUser(), "overview", "allow")
			tt.mutate(&p)
			_, err := s.CreatePolicy(ctx, p)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCreatePolicyUpsertsSameSubject(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *HierarchyStore) {
		ctx := context.Background()
		owner, viewer := newUser(), newUser()
		node := mustCreate(t, s, owner, nil, nil)

		first, err := s.CreatePolicy(ctx, userGrant(node.ID, owner, viewer, "overview", "allow"))
		require.NoError(t, err)
		second, err := s.CreatePolicy(ctx, userGrant(node.ID, owner, viewer, "full", "allow"))
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)

		policies, err := s.ListPolicies(ctx, node.ID)
		require.NoError(t, err)
		require.Len(t, policies, 1)
		assert.Equal(t, rbac.LevelFull, policies[0].Level)
		assert.Equal(t, viewer, policies[0].SubjectID)
		assert.Nil(t, policies[0].ExpiresAt)
	})
}

func TestCreatePolicyPublicClearsSubject(t *testing.T) {
	s := openSQLiteStore(t)
	owner := newUser()
	node := mustCreate(t, s, owner, nil, nil)

	p := userGrant(node.ID, owner, "someone", "overview", "allow")
	p.SubjectType = rbac.SubjectPublic
	created, err := s.CreatePolicy(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, created.SubjectID)
	assert.Equal(t, rbac.ActionView, created.Action)
}

func TestDeletePolicy(t *testing.T) {
	forEachStore(t, func(t *testing.T, s *HierarchyStore) {
		ctx := context.Background()
		owner := newUser()
		node := mustCreate(t, s, owner, nil, nil)
		p, err := s.CreatePolicy(ctx, userGrant(node.ID, owner, newUser(), "overview", "allow"))
		require.NoError(t, err)

		deleted, err := s.DeletePolicy(ctx, p.ID, newUser())
		require.NoError(t, err)
		assert.False(t, deleted)

		deleted, err = s.DeletePolicy(ctx, p.ID, owner)
		require.NoError(t, err)
		assert.True(t, deleted)

		deleted, err = s.DeletePolicy(ctx, p.ID, owner)
		require.NoError(t, err)
		assert.False(t, deleted)
	})
}
