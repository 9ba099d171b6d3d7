package store

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/Light-houseAI/lighthouse-journey-canvas-sub001/internal/rbac"
)

type NodeType string

const (
	NodeTypeJob              NodeType = "job"
	NodeTypeEducation        NodeType = "education"
	NodeTypeProject          NodeType = "project"
	NodeTypeEvent            NodeType = "event"
	NodeTypeAction           NodeType = "action"
	NodeTypeCareerTransition NodeType = "careerTransition"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeTypeJob, NodeTypeEducation, NodeTypeProject, NodeTypeEvent, NodeTypeAction, NodeTypeCareerTransition:
		return true
	default:
		return false
	}
}

// Meta is the caller-owned document attached to a node. The store persists
// it as JSON and never interprets it.
//
// Decoded numbers are json.Number so integers keep every digit.
type Meta map[string]any

func (m *Meta) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return err
	}
	*m = doc
	return nil
}

type TimelineNode struct {
	ID        string    `json:"id"`
	Type      NodeType  `json:"type"`
	ParentID  *string   `json:"parentId,omitempty"`
	Meta      Meta      `json:"meta"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NodeAtDepth is a node returned from an ancestor or descendant lookup with
// its distance from the starting node.
type NodeAtDepth struct {
	TimelineNode
	Depth int `json:"depth"`
}

type ClosureEntry struct {
	AncestorID   string `json:"ancestorId"`
	DescendantID string `json:"descendantId"`
	Depth        int    `json:"depth"`
}

type CreateNodeRequest struct {
	Type     NodeType `json:"type" validate:"required,oneof=job education project event action careerTransition"`
	ParentID *string  `json:"parentId,omitempty"`
	Meta     Meta     `json:"meta"`
	UserID   string   `json:"userId" validate:"required"`
}

// UpdateNodeRequest merges Meta into the stored document. A nil value
// removes the key.
type UpdateNodeRequest struct {
	ID     string `json:"id" validate:"required"`
	UserID string `json:"userId" validate:"required"`
	Meta   Meta   `json:"meta"`
}

// NodePolicy grants or denies a subject access to a node and everything
// below it.
type NodePolicy struct {
	ID          string           `json:"id"`
	NodeID      string           `json:"nodeId" validate:"required"`
	OwnerUserID string           `json:"ownerUserId" validate:"required"`
	SubjectType rbac.SubjectType `json:"subjectType" validate:"required,oneof=user public"`
	SubjectID   string           `json:"subjectId,omitempty" validate:"required_if=SubjectType user"`
	Action      rbac.Action      `json:"action" validate:"required,eq=view"`
	Level       rbac.Level       `json:"level" validate:"required,oneof=overview full"`
	Effect      rbac.Effect      `json:"effect" validate:"required,oneof=allow deny"`
	CreatedAt   time.Time        `json:"createdAt"`
	ExpiresAt   *time.Time       `json:"expiresAt,omitempty"`
}

// ClosureReport compares stored closure rows with the rows implied by
// parent edges.
type ClosureReport struct {
	UserID     string         `json:"userId"`
	Nodes      int            `json:"nodes"`
	Rows       int            `json:"rows"`
	Missing    []ClosureEntry `json:"missing,omitempty"`
	Unexpected []ClosureEntry `json:"unexpected,omitempty"`
}

func (r ClosureReport) Consistent() bool {
	return len(r.Missing) == 0 && len(r.Unexpected) == 0
}
