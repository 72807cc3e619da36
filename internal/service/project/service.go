package project

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/policy"
	"github.com/splax/pmdesk/internal/repository"
	"github.com/splax/pmdesk/internal/service/capacity"
)

// BudgetInput carries the optional initial budget of a project.
type BudgetInput struct {
	Planned        *decimal.Decimal
	Currency       string
	AlertThreshold *int
}

// CreateInput encapsulates project creation attributes.
type CreateInput struct {
	Name         string
	Description  string
	Status       string
	ManagerID    string
	TeamLeaderID string
	Budget       BudgetInput
}

// Service orchestrates project management.
type Service struct {
	projects repository.ProjectRepository
	capacity capacity.Service
	logger   *slog.Logger
}

// New returns a project service.
func New(projects repository.ProjectRepository, capacitySvc capacity.Service, logger *slog.Logger) Service {
	return Service{projects: projects, capacity: capacitySvc, logger: logger}
}

var (
	errInvalidProjectName = domain.NewValidationError("name", "project name is required")
	errInvalidStatus      = domain.NewValidationError("status", "status must be one of planning, in-progress, on-hold, completed, cancelled")
	errMissingProjectID   = domain.NewValidationError("projectId", "project id is required")
	errMissingUserID      = domain.NewValidationError("userId", "user id is required")
)

// Create registers a new project. Manager and team-leader capacity are checked
// in the same transaction that inserts the project.
func (s Service) Create(ctx context.Context, actor policy.Actor, input CreateInput) (*domain.Project, error) {
	if err := policy.Authorize(actor, policy.Resource{OrganizationID: actor.OrganizationID}, policy.ActionProjectCreate); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, errInvalidProjectName
	}
	status := strings.ToLower(strings.TrimSpace(input.Status))
	if status == "" {
		status = domain.ProjectPlanning
	}
	if !domain.ValidProjectStatus(status) {
		return nil, errInvalidStatus
	}
	budget, err := buildBudget(input.Budget)
	if err != nil {
		return nil, err
	}

	managerID := strings.TrimSpace(input.ManagerID)
	if managerID == "" {
		managerID = actor.UserID
	}
	if managerID != actor.UserID && actor.Role != domain.RoleAdmin {
		return nil, domain.NewValidationError("managerId", "only admins can create projects for another manager")
	}

	now := time.Now().UTC()
	project := &domain.Project{
		ID:             uuid.NewString(),
		OrganizationID: actor.OrganizationID,
		Name:           name,
		Description:    strings.TrimSpace(input.Description),
		Status:         status,
		ManagerID:      managerID,
		Budget:         budget,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	assignments := []repository.Assignment{s.capacity.ManagerAssignment(managerID)}
	if leader := strings.TrimSpace(input.TeamLeaderID); leader != "" {
		project.TeamLeaderID = &leader
		assignments = append(assignments, s.capacity.TeamLeaderAssignment(leader))
	}
	if err := s.projects.CreateProject(ctx, project, assignments...); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project_id", project.ID, "organization_id", project.OrganizationID, "manager_id", project.ManagerID)
	return project, nil
}

// Get returns project details visible to the actor.
func (s Service) Get(ctx context.Context, actor policy.Actor, projectID string) (*domain.Project, error) {
	project, err := s.load(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ProjectResource(project), policy.ActionProjectRead); err != nil {
		return nil, err
	}
	return project, nil
}

// List returns the organization's projects for admins and the actor's own
// managed or led projects for everyone else.
func (s Service) List(ctx context.Context, actor policy.Actor) ([]domain.Project, error) {
	if actor.Role == domain.RoleAdmin {
		return s.projects.ListProjectsByOrganization(ctx, actor.OrganizationID)
	}
	return s.projects.ListProjectsForUser(ctx, actor.OrganizationID, actor.UserID)
}

// UpdateStatus moves the project through its lifecycle. Reactivating a
// project re-checks the capacity of its manager and team leader.
func (s Service) UpdateStatus(ctx context.Context, actor policy.Actor, projectID, status string) (*domain.Project, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if !domain.ValidProjectStatus(status) {
		return nil, errInvalidStatus
	}
	current, err := s.load(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ProjectResource(current), policy.ActionProjectUpdate); err != nil {
		return nil, err
	}
	if current.Status == status {
		return current, nil
	}
	assignments := []repository.Assignment{s.capacity.ManagerAssignment(current.ManagerID)}
	if current.TeamLeaderID != nil {
		assignments = append(assignments, s.capacity.TeamLeaderAssignment(*current.TeamLeaderID))
	}
	updated, err := s.projects.UpdateProjectStatus(ctx, current.OrganizationID, current.ID, current.Status, status, assignments...)
	if err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.NewValidationError("status", "project status changed concurrently, reload and retry")
		}
		return nil, err
	}
	s.logger.Info("project status changed", "project_id", updated.ID, "from", current.Status, "to", updated.Status, "actor_id", actor.UserID)
	return updated, nil
}

// AssignTeamLeader makes userID the team leader of the project.
func (s Service) AssignTeamLeader(ctx context.Context, actor policy.Actor, projectID, userID string) (*domain.Project, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errMissingUserID
	}
	current, err := s.load(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ProjectResource(current), policy.ActionProjectUpdate); err != nil {
		return nil, err
	}
	if current.LedBy(userID) {
		return current, nil
	}
	updated, err := s.projects.AssignTeamLeader(ctx, current.OrganizationID, current.ID, s.capacity.TeamLeaderAssignment(userID))
	if err != nil {
		return nil, err
	}
	s.logger.Info("team leader assigned", "project_id", updated.ID, "user_id", userID, "actor_id", actor.UserID)
	return updated, nil
}

// AssignManager hands the project to another project manager.
func (s Service) AssignManager(ctx context.Context, actor policy.Actor, projectID, userID string) (*domain.Project, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errMissingUserID
	}
	current, err := s.load(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ProjectResource(current), policy.ActionProjectReassign); err != nil {
		return nil, err
	}
	if current.ManagerID == userID {
		return current, nil
	}
	updated, err := s.projects.AssignManager(ctx, current.OrganizationID, current.ID, s.capacity.ManagerAssignment(userID))
	if err != nil {
		return nil, err
	}
	s.logger.Info("project manager assigned", "project_id", updated.ID, "user_id", userID, "actor_id", actor.UserID)
	return updated, nil
}

func (s Service) load(ctx context.Context, actor policy.Actor, projectID string) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	return s.projects.GetProjectByID(ctx, actor.OrganizationID, projectID)
}

func buildBudget(input BudgetInput) (domain.Budget, error) {
	budget := domain.NewBudget()
	verr := &domain.ValidationError{}
	if input.Planned != nil {
		if input.Planned.IsNegative() {
			verr.Add("budget.planned", "planned budget cannot be negative")
		} else if problem := domain.MoneyProblem(*input.Planned); problem != "" {
			verr.Add("budget.planned", problem)
		}
		budget.Planned = *input.Planned
	}
	if currency := strings.ToUpper(strings.TrimSpace(input.Currency)); currency != "" {
		if !domain.ValidCurrency(currency) {
			verr.Add("budget.currency", "unsupported currency")
		}
		budget.Currency = currency
	}
	if input.AlertThreshold != nil {
		if !domain.ValidAlertThreshold(*input.AlertThreshold) {
			verr.Add("budget.alertThreshold", "alert threshold must be between 0 and 100")
		}
		budget.AlertThreshold = *input.AlertThreshold
	}
	if !verr.Empty() {
		return domain.Budget{}, verr
	}
	return budget, nil
}
