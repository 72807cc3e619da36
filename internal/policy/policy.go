// Package policy decides whether an actor may perform an action on a resource.
//
// The organization boundary is checked before any role: an actor from another
// organization is denied even when they hold a matching role in their own.
package policy

import (
	"errors"
	"fmt"

	"github.com/splax/pmdesk/internal/domain"
)

// ErrForbidden is returned (wrapped) when a decision denies access.
var ErrForbidden = errors.New("forbidden")

// Action names an operation guarded by the policy.
type Action string

const (
	ActionBudgetRead      Action = "budget:read"
	ActionBudgetUpdate    Action = "budget:update"
	ActionExpenseLog      Action = "expense:log"
	ActionExpenseReverse  Action = "expense:reverse"
	ActionProjectRead     Action = "project:read"
	ActionProjectCreate   Action = "project:create"
	ActionProjectUpdate   Action = "project:update"
	ActionProjectReassign Action = "project:reassign"
	ActionUserManage      Action = "user:manage"
	ActionCapacityRead    Action = "capacity:read"
)

// Actor is the authenticated caller.
type Actor struct {
	UserID         string
	OrganizationID string
	Role           string
}

// Resource describes what the actor wants to touch. ManagerID and TeamLeaderID
// are set for projects, OwnerID for user-scoped resources.
type Resource struct {
	OrganizationID string
	ManagerID      string
	TeamLeaderID   string
	OwnerID        string
}

// ProjectResource builds a Resource from a project.
func ProjectResource(p *domain.Project) Resource {
	res := Resource{OrganizationID: p.OrganizationID, ManagerID: p.ManagerID}
	if p.TeamLeaderID != nil {
		res.TeamLeaderID = *p.TeamLeaderID
	}
	return res
}

// Decision is the outcome of Evaluate.
type Decision struct {
	Allowed bool
	Reason  string
}

// Err converts a denial into an error wrapping ErrForbidden.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrForbidden, d.Reason)
}

type grant uint8

const (
	grantAdmin grant = 1 << iota
	grantManager
	grantTeamLeader
	grantManagerRole
	grantSelf
	grantMember
)

var grants = map[Action]grant{
	ActionBudgetRead:      grantAdmin | grantManager | grantTeamLeader,
	ActionBudgetUpdate:    grantAdmin | grantManager,
	ActionExpenseLog:      grantAdmin | grantManager | grantTeamLeader,
	ActionExpenseReverse:  grantAdmin | grantManager,
	ActionProjectRead:     grantMember,
	ActionProjectCreate:   grantAdmin | grantManagerRole,
	ActionProjectUpdate:   grantAdmin | grantManager,
	ActionProjectReassign: grantAdmin,
	ActionUserManage:      grantAdmin,
	ActionCapacityRead:    grantAdmin | grantSelf,
}

// Evaluate applies the organization boundary and then the role grants for action.
func Evaluate(actor Actor, res Resource, action Action) Decision {
	if actor.UserID == "" || actor.OrganizationID == "" {
		return Decision{Reason: "unauthenticated actor"}
	}
	if res.OrganizationID == "" || res.OrganizationID != actor.OrganizationID {
		return Decision{Reason: "resource belongs to another organization"}
	}
	allowed, ok := grants[action]
	if !ok {
		return Decision{Reason: fmt.Sprintf("unknown action %q", action)}
	}
	held := relations(actor, res)
	if held&allowed == 0 {
		return Decision{Reason: fmt.Sprintf("%s not permitted for role %s", action, actor.Role)}
	}
	return Decision{Allowed: true}
}

// Authorize is Evaluate returning an error on denial.
func Authorize(actor Actor, res Resource, action Action) error {
	return Evaluate(actor, res, action).Err()
}

func relations(actor Actor, res Resource) grant {
	held := grantMember
	if actor.Role == domain.RoleAdmin {
		held |= grantAdmin
	}
	if actor.Role == domain.RoleProjectManager {
		held |= grantManagerRole
	}
	if res.ManagerID != "" && res.ManagerID == actor.UserID {
		held |= grantManager
	}
	if res.TeamLeaderID != "" && res.TeamLeaderID == actor.UserID {
		held |= grantTeamLeader
	}
	if res.OwnerID != "" && res.OwnerID == actor.UserID {
		held |= grantSelf
	}
	return held
}
