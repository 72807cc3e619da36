package domain

import "time"

// Roles a user can hold inside an organization.
const (
	RoleAdmin          = "admin"
	RoleProjectManager = "project_manager"
	RoleTeamLeader     = "team_leader"
	RoleMember         = "member"
)

// User represents an organization account.
type User struct {
	ID             string
	OrganizationID string
	Email          string
	Name           string
	Role           string
	MaxProjects    int
	PasswordHash   []byte
	CreatedAt      time.Time
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleProjectManager, RoleTeamLeader, RoleMember:
		return true
	}
	return false
}
