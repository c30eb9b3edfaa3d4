package domain

import (
	"time"

	"github.com/google/uuid"
)

// Group member roles
const (
	GroupRoleAdmin  = "admin"
	GroupRoleMember = "member"
)

// Group is a chat group whose members may start and join group calls
type Group struct {
	GroupID   uuid.UUID     `json:"group_id"`
	Name      string        `json:"name"`
	Members   []GroupMember `json:"members"`
	CreatedBy uuid.UUID     `json:"created_by"`
	CreatedAt time.Time     `json:"created_at"`
}

// GroupMember represents a user in a group
type GroupMember struct {
	UserID   uuid.UUID `json:"user_id"`
	Role     string    `json:"role"` // admin, member
	JoinedAt time.Time `json:"joined_at"`
}

// IsMember reports whether userID belongs to the group
func (g *Group) IsMember(userID uuid.UUID) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID holds the group's admin role
func (g *Group) IsAdmin(userID uuid.UUID) bool {
	for _, m := range g.Members {
		if m.UserID == userID {
			return m.Role == GroupRoleAdmin
		}
	}
	return false
}

// MemberIDs returns every member id
func (g *Group) MemberIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(g.Members))
	for _, m := range g.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}
