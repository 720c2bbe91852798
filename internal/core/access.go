package core

import "github.com/jo-hoe/buracos/internal/backend/database"

type Action int

const (
	ActionConclude Action = iota
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionConclude:
		return "conclude"
	case ActionDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// CanMutate decides whether user may perform action on hole.
// Admins may do anything, owners may only conclude their own holes and
// anonymous callers may do nothing.
func CanMutate(user *database.User, hole *database.Hole, action Action) bool {
	if user == nil || hole == nil {
		return false
	}
	if user.IsAdmin {
		return true
	}
	switch action {
	case ActionConclude:
		return hole.OwnerID != nil && *hole.OwnerID == user.ID
	default:
		return false
	}
}
