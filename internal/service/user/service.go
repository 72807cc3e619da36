package user

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/policy"
	"github.com/splax/pmdesk/internal/repository"
	"github.com/splax/pmdesk/internal/service/auth"
	"github.com/splax/pmdesk/pkg/config"
	"github.com/splax/pmdesk/pkg/crypto"
)

// CreateInput describes a user invited into the caller's organization.
type CreateInput struct {
	Email       string
	Password    string
	Name        string
	Role        string
	MaxProjects *int
}

// Service handles user and role administration.
type Service struct {
	repo     repository.UserRepository
	logger   *slog.Logger
	defaults domain.CapacityDefaults
}

// New constructs a Service with capacity defaults from configuration.
func New(repo repository.UserRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{
		repo:     repo,
		logger:   logger,
		defaults: domain.NewCapacityDefaults(cfg.DefaultMemberMaxProjects, cfg.DefaultPMMaxProjects, cfg.MaxProjectsCeiling),
	}
}

// Create adds a user to the actor's organization.
func (s Service) Create(ctx context.Context, actor policy.Actor, input CreateInput) (*domain.User, error) {
	if err := policy.Authorize(actor, policy.Resource{OrganizationID: actor.OrganizationID}, policy.ActionUserManage); err != nil {
		return nil, err
	}
	email, err := auth.ValidateCredentials(input.Email, input.Password)
	if err != nil {
		return nil, err
	}
	role, maxProjects, err := s.resolveRole(input.Role, input.MaxProjects)
	if err != nil {
		return nil, err
	}
	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}
	user := &domain.User{
		ID:             uuid.NewString(),
		OrganizationID: actor.OrganizationID,
		Email:          email,
		Name:           strings.TrimSpace(input.Name),
		Role:           role,
		MaxProjects:    maxProjects,
		PasswordHash:   hash,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, domain.NewValidationError("email", "email already registered")
		}
		return nil, err
	}
	s.logger.Info("user created", "user_id", user.ID, "organization_id", user.OrganizationID, "role", user.Role)
	return user, nil
}

// AssignRole changes a user's role. Capacity is reset to the role default
// unless maxProjects is given. Existing assignments are kept even if they now
// exceed the new ceiling; the user simply cannot take more.
func (s Service) AssignRole(ctx context.Context, actor policy.Actor, userID, role string, maxProjects *int) (*domain.User, error) {
	if err := policy.Authorize(actor, policy.Resource{OrganizationID: actor.OrganizationID}, policy.ActionUserManage); err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.NewValidationError("userId", "user id is required")
	}
	resolvedRole, resolvedMax, err := s.resolveRole(role, maxProjects)
	if err != nil {
		return nil, err
	}
	if userID == actor.UserID && resolvedRole != domain.RoleAdmin {
		return nil, domain.NewValidationError("role", "admins cannot demote themselves")
	}
	user, err := s.repo.UpdateUserRole(ctx, actor.OrganizationID, userID, resolvedRole, resolvedMax)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user role assigned", "user_id", user.ID, "role", user.Role, "max_projects", user.MaxProjects, "actor_id", actor.UserID)
	return user, nil
}

func (s Service) resolveRole(role string, maxProjects *int) (string, int, error) {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		role = domain.RoleMember
	}
	if !domain.ValidRole(role) {
		return "", 0, domain.NewValidationError("role", "role must be one of admin, project_manager, team_leader, member")
	}
	if maxProjects == nil {
		return role, s.defaults.For(role), nil
	}
	if !s.defaults.Valid(*maxProjects) {
		return "", 0, domain.NewValidationError("maxProjects", "maxProjects must be between 1 and the configured ceiling")
	}
	return role, *maxProjects, nil
}
