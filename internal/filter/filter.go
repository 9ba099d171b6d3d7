// Package filter builds NodeFilter values: who is asking, whose timeline,
// which action and detail level, and optionally which node ids.
//
//	f, err := filter.Of(viewerID).For(ownerID).AtLevel(rbac.LevelFull).Build()
//
// A Builder is a value; every method returns a modified copy, so partially
// built filters can be shared safely.
package filter

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/rbac"
)

var (
	ErrMissingCurrentUser = errors.New("filter: current user is required")
	ErrInvalidAction      = errors.New("filter: unsupported action")
	ErrInvalidLevel       = errors.New("filter: unsupported level")
	ErrOwnerOnlyAction    = errors.New("filter: action is restricted to the owner")
)

// NodeFilter is the sealed result of a Builder.
type NodeFilter struct {
	currentUserID  string
	targetUserID   string
	targetExplicit bool
	action         rbac.Action
	level          rbac.Level
	nodeIDs        []string
}

type Builder struct {
	f NodeFilter
}

// Of starts a filter for the requesting user.
func Of(currentUserID string) Builder {
	return Builder{f: NodeFilter{
		currentUserID: strings.TrimSpace(currentUserID),
		action:        rbac.ActionView,
		level:         rbac.LevelOverview,
	}}
}

// ForNodes starts a batch-authorization filter: which of nodeIDs may the
// current user view.
func ForNodes(currentUserID string, nodeIDs []string) Builder {
	return Of(currentUserID).ForNodeIDs(nodeIDs)
}

// For sets whose timeline is being read. Defaults to the current user.
func (b Builder) For(targetUserID string) Builder {
	b.f.targetUserID = strings.TrimSpace(targetUserID)
	b.f.targetExplicit = b.f.targetUserID != ""
	return b
}

func (b Builder) WithAction(action rbac.Action) Builder {
	b.f.action = action
	return b
}

func (b Builder) AtLevel(level rbac.Level) Builder {
	b.f.level = level
	return b
}

// ForNodeIDs restricts the result to ids. Duplicates and blanks are dropped.
func (b Builder) ForNodeIDs(ids []string) Builder {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	b.f.nodeIDs = out
	return b
}

func (b Builder) Build() (NodeFilter, error) {
	f := b.f
	if f.currentUserID == "" {
		return NodeFilter{}, ErrMissingCurrentUser
	}
	if !f.targetExplicit {
		f.targetUserID = f.currentUserID
	}
	if !f.action.Valid() {
		return NodeFilter{}, fmt.Errorf("%w: %q", ErrInvalidAction, f.action)
	}
	if !f.level.Valid() {
		return NodeFilter{}, fmt.Errorf("%w: %q", ErrInvalidLevel, f.level)
	}
	if rbac.OwnerOnly(f.action) && f.targetUserID != f.currentUserID {
		return NodeFilter{}, fmt.Errorf("%w: %q", ErrOwnerOnlyAction, f.action)
	}
	if f.nodeIDs != nil {
		f.nodeIDs = append(make([]string, 0, len(f.nodeIDs)), f.nodeIDs...)
	}
	return f, nil
}

func (f NodeFilter) CurrentUserID() string { return f.currentUserID }
func (f NodeFilter) TargetUserID() string  { return f.targetUserID }
func (f NodeFilter) Action() rbac.Action   { return f.action }
func (f NodeFilter) Level() rbac.Level     { return f.level }

// TargetExplicit reports whether For was called with a user.
func (f NodeFilter) TargetExplicit() bool { return f.targetExplicit }

// NodeIDs returns a copy of the id restriction, nil when there is none.
func (f NodeFilter) NodeIDs() []string {
	if f.nodeIDs == nil {
		return nil
	}
	return append(make([]string, 0, len(f.nodeIDs)), f.nodeIDs...)
}

// HasNodeIDs is true for batch-authorization filters, including ones whose
// id list ended up empty.
func (f NodeFilter) HasNodeIDs() bool { return f.nodeIDs != nil }

func (f NodeFilter) IsSameUser() bool { return f.currentUserID == f.targetUserID }

// CacheKey identifies the filter's result set independently of id order.
func (f NodeFilter) CacheKey() string {
	ids := f.NodeIDs()
	sort.Strings(ids)
	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%t|%s|%s|%t|%s",
		f.currentUserID, f.targetUserID, f.targetExplicit, f.action, f.level, f.nodeIDs != nil, strings.Join(ids, ","))
	return hex.EncodeToString(h.Sum(nil))
}

func (f NodeFilter) String() string {
	return fmt.Sprintf("filter(current=%s target=%s action=%s level=%s ids=%d)",
		f.currentUserID, f.targetUserID, f.action, f.level, len(f.nodeIDs))
}
