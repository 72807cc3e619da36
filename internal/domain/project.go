package domain

import "time"

// Project lifecycle states.
const (
	ProjectPlanning   = "planning"
	ProjectInProgress = "in-progress"
	ProjectOnHold     = "on-hold"
	ProjectCompleted  = "completed"
	ProjectCancelled  = "cancelled"
)

// ActiveProjectStatuses is the single definition of an in-flight project used
// by every capacity computation. on-hold projects do not occupy a slot.
var ActiveProjectStatuses = []string{ProjectPlanning, ProjectInProgress}

// Project is a budgeted unit of work owned by an organization.
type Project struct {
	ID             string
	OrganizationID string
	Name           string
	Description    string
	Status         string
	ManagerID      string
	TeamLeaderID   *string
	Budget         Budget
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Active reports whether the project occupies capacity.
func (p Project) Active() bool {
	return IsActiveStatus(p.Status)
}

// LedBy reports whether userID is the project's team leader.
func (p Project) LedBy(userID string) bool {
	return p.TeamLeaderID != nil && *p.TeamLeaderID == userID
}

// IsActiveStatus reports whether status belongs to ActiveProjectStatuses.
func IsActiveStatus(status string) bool {
	for _, s := range ActiveProjectStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// ValidProjectStatus reports whether status is a known lifecycle state.
func ValidProjectStatus(status string) bool {
	switch status {
	case ProjectPlanning, ProjectInProgress, ProjectOnHold, ProjectCompleted, ProjectCancelled:
		return true
	}
	return false
}
