// Package rbac holds the permission vocabulary shared by node filters and
// node policies.
package rbac

type Action string
type Level string
type Effect string
type SubjectType string

const (
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionShare  Action = "share"
	ActionDelete Action = "delete"
)

const (
	LevelOverview Level = "overview"
	LevelFull     Level = "full"
)

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

const (
	SubjectUser   SubjectType = "user"
	SubjectPublic SubjectType = "public"
)

func (a Action) Valid() bool {
	switch a {
	case ActionView, ActionEdit, ActionShare, ActionDelete:
		return true
	default:
		return false
	}
}

// OwnerOnly reports whether only the owner of a node may perform the action.
// Everything except view is owner-only.
func OwnerOnly(action Action) bool {
	return action != ActionView
}

// Grantable reports whether a policy may be written for the action.
func Grantable(action Action) bool {
	return action == ActionView
}

func (l Level) Valid() bool {
	return l == LevelOverview || l == LevelFull
}

func (l Level) rank() int {
	switch l {
	case LevelOverview:
		return 1
	case LevelFull:
		return 2
	default:
		return 0
	}
}

// Covers reports whether a grant at level granted satisfies a request at
// level requested.
func Covers(granted, requested Level) bool {
	return granted.rank() > 0 && granted.rank() >= requested.rank()
}

// AllowLevels lists the grant levels an allow policy needs to satisfy a
// request at level requested.
func AllowLevels(requested Level) []Level {
	var out []Level
	for _, l := range []Level{LevelOverview, LevelFull} {
		if Covers(l, requested) {
			out = append(out, l)
		}
	}
	return out
}

// DenyLevels lists the deny policy levels that block a request at level
// requested. Denying overview blocks everything; denying full only blocks
// full requests.
func DenyLevels(requested Level) []Level {
	var out []Level
	for _, l := range []Level{LevelOverview, LevelFull} {
		if l.rank() <= requested.rank() {
			out = append(out, l)
		}
	}
	return out
}

func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

func (s SubjectType) Valid() bool {
	return s == SubjectUser || s == SubjectPublic
}
