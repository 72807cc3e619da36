package capacity

import (
	"context"
	"fmt"
	"strings"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/metrics"
	"github.com/splax/pmdesk/internal/policy"
	"github.com/splax/pmdesk/internal/repository"
)

// Assignment kinds, also used as metric labels.
const (
	KindManager    = "manager"
	KindTeamLeader = "team_leader"
)

var rejections = metrics.CounterVec(prometheus.CounterOpts{
	Subsystem: "capacity",
	Name:      "rejections_total",
	Help:      "Assignments refused because the assignee had no free slot",
}, []string{"kind"})

// TeamLeaderCapacity reports the single-project team-leader slot.
type TeamLeaderCapacity struct {
	ActiveProjects int  `json:"activeProjects"`
	AvailableSlots int  `json:"availableSlots"`
	CanLead        bool `json:"canLead"`
}

// Report describes a user's current load.
type Report struct {
	UserID     string             `json:"_id"`
	Name       string             `json:"name"`
	Role       string             `json:"role"`
	Projects   domain.Capacity    `json:"projects"`
	TeamLeader TeamLeaderCapacity `json:"teamLeader"`
}

// Service answers capacity questions and builds assignment checks.
type Service struct {
	users  repository.UserRepository
	logger *slog.Logger
}

// New constructs a capacity service.
func New(users repository.UserRepository, logger *slog.Logger) Service {
	return Service{users: users, logger: logger}
}

// ForUser reports the capacity of userID. Admins may read anyone in their
// organization, everyone else only themselves.
func (s Service) ForUser(ctx context.Context, actor policy.Actor, userID string) (*Report, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = actor.UserID
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.OrganizationID != actor.OrganizationID {
		return nil, fmt.Errorf("user %s: %w", userID, repository.ErrNotFound)
	}
	if err := policy.Authorize(actor, policy.Resource{OrganizationID: user.OrganizationID, OwnerID: user.ID}, policy.ActionCapacityRead); err != nil {
		return nil, err
	}

	var assigned, led int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		count, err := s.users.CountActiveAssigned(gctx, user.ID)
		assigned = count
		return err
	})
	g.Go(func() error {
		count, err := s.users.CountActiveLed(gctx, user.ID)
		led = count
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("count active projects: %w", err)
	}

	lead := domain.CanLead(led)
	return &Report{
		UserID:   user.ID,
		Name:     user.Name,
		Role:     user.Role,
		Projects: domain.NewCapacity(user.MaxProjects, assigned),
		TeamLeader: TeamLeaderCapacity{
			ActiveProjects: led,
			AvailableSlots: lead.AvailableSlots,
			CanLead:        lead.Allowed,
		},
	}, nil
}

// ManagerAssignment guards making userID the manager of an active project.
func (s Service) ManagerAssignment(userID string) repository.Assignment {
	return repository.Assignment{UserID: userID, Check: s.managerCheck}
}

// TeamLeaderAssignment guards making userID the team leader of an active project.
func (s Service) TeamLeaderAssignment(userID string) repository.Assignment {
	return repository.Assignment{UserID: userID, Check: s.teamLeaderCheck}
}

func (s Service) managerCheck(load domain.AssigneeLoad) error {
	if load.Role != domain.RoleProjectManager && load.Role != domain.RoleAdmin {
		return domain.NewValidationError("managerId", "user is not a project manager")
	}
	if !load.ProjectActive {
		return nil
	}
	if slot := domain.CanAssign(load.MaxProjects, load.ActiveAssigned); !slot.Allowed {
		return s.reject(KindManager, "managerId", load, fmt.Sprintf("project manager has reached maximum capacity (%d active of %d)", load.ActiveAssigned, load.MaxProjects))
	}
	return nil
}

func (s Service) teamLeaderCheck(load domain.AssigneeLoad) error {
	if !load.ProjectActive {
		return nil
	}
	if slot := domain.CanLead(load.ActiveLed); !slot.Allowed {
		return s.reject(KindTeamLeader, "teamLeaderId", load, "user is already team leader of an active project")
	}
	if slot := domain.CanAssign(load.MaxProjects, load.ActiveAssigned); !slot.Allowed {
		return s.reject(KindTeamLeader, "teamLeaderId", load, fmt.Sprintf("user has reached maximum capacity (%d active of %d)", load.ActiveAssigned, load.MaxProjects))
	}
	return nil
}

func (s Service) reject(kind, field string, load domain.AssigneeLoad, msg string) error {
	rejections.WithLabelValues(kind).Inc()
	if s.logger != nil {
		s.logger.Info("assignment rejected", "kind", kind, "user_id", load.UserID, "active_assigned", load.ActiveAssigned, "active_led", load.ActiveLed, "max_projects", load.MaxProjects)
	}
	return domain.NewValidationError(field, msg)
}
