package auth

import (
	"context"
	"errors"
	"net/mail"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/repository"
	"github.com/splax/pmdesk/pkg/config"
	"github.com/splax/pmdesk/pkg/crypto"
	jwtpkg "github.com/splax/pmdesk/pkg/jwt"
)

// ErrInvalidCredentials hides whether the email or the password was wrong.
var ErrInvalidCredentials = errors.New("invalid email or password")

// Service handles authentication workflows.
type Service struct {
	users  repository.UserRepository
	orgs   repository.OrganizationRepository
	logger *slog.Logger
	cfg    config.APIConfig
}

// New constructs a Service.
func New(users repository.UserRepository, orgs repository.OrganizationRepository, logger *slog.Logger, cfg config.APIConfig) Service {
	return Service{users: users, orgs: orgs, logger: logger, cfg: cfg}
}

// TokenPair contains access and refresh tokens.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

// SignupInput registers an organization together with its first admin.
type SignupInput struct {
	Email            string
	Password         string
	Name             string
	OrganizationName string
}

// Signup creates an organization and its admin user.
func (s Service) Signup(ctx context.Context, input SignupInput) (*domain.User, TokenPair, error) {
	email, err := ValidateCredentials(input.Email, input.Password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	orgName := strings.TrimSpace(input.OrganizationName)
	if orgName == "" {
		return nil, TokenPair{}, domain.NewValidationError("organizationName", "organization name is required")
	}
	hash, err := crypto.HashPassword(input.Password)
	if err != nil {
		return nil, TokenPair{}, err
	}
	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.NewString(),
		Email:        email,
		Name:         strings.TrimSpace(input.Name),
		Role:         domain.RoleAdmin,
		MaxProjects:  s.capacityDefaults().For(domain.RoleAdmin),
		PasswordHash: hash,
		CreatedAt:    now,
	}
	org := &domain.Organization{
		ID:        uuid.NewString(),
		Name:      orgName,
		OwnerID:   user.ID,
		CreatedAt: now,
	}
	user.OrganizationID = org.ID
	if err := s.orgs.CreateOrganization(ctx, org, user); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, TokenPair{}, domain.NewValidationError("email", "email already registered")
		}
		return nil, TokenPair{}, err
	}
	tokens, err := s.issueTokens(user.ID, org.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("organization registered", "organization_id", org.ID, "user_id", user.ID)
	return user, tokens, nil
}

// Login authenticates a user and returns tokens.
func (s Service) Login(ctx context.Context, email, password string) (*domain.User, TokenPair, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, TokenPair{}, ErrInvalidCredentials
		}
		return nil, TokenPair{}, err
	}
	if err := crypto.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	tokens, err := s.issueTokens(user.ID, user.OrganizationID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.logger.Info("user logged in", "user_id", user.ID, "organization_id", user.OrganizationID)
	return user, tokens, nil
}

// Refresh exchanges a valid token for a new pair.
func (s Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	user, _, err := s.Authorize(ctx, refreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	return s.issueTokens(user.ID, user.OrganizationID)
}

// Authorize validates a bearer token and returns the associated user and claims.
// The token's organization must still match the stored user.
func (s Service) Authorize(ctx context.Context, token string) (*domain.User, *jwtpkg.Claims, error) {
	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return nil, nil, errors.New("token required")
	}
	claims, err := jwtpkg.Parse(trimmed, s.cfg.JWTSecret)
	if err != nil {
		return nil, nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user.OrganizationID != claims.OrganizationID {
		return nil, nil, errors.New("token organization mismatch")
	}
	return user, claims, nil
}

// ValidateCredentials normalizes the email and checks password strength.
func ValidateCredentials(email, password string) (string, error) {
	verr := &domain.ValidationError{}
	normalized := normalizeEmail(email)
	if _, err := mail.ParseAddress(normalized); err != nil || normalized == "" {
		verr.Add("email", "a valid email is required")
	}
	if err := crypto.CheckPassword(password); err != nil {
		verr.Add("password", err.Error())
	}
	if !verr.Empty() {
		return "", verr
	}
	return normalized, nil
}

func (s Service) capacityDefaults() domain.CapacityDefaults {
	return domain.NewCapacityDefaults(s.cfg.DefaultMemberMaxProjects, s.cfg.DefaultPMMaxProjects, s.cfg.MaxProjectsCeiling)
}

func (s Service) issueTokens(userID, orgID string) (TokenPair, error) {
	access, err := jwtpkg.GenerateToken(userID, orgID, s.cfg.JWTSecret, s.cfg.AccessTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refresh, err := jwtpkg.GenerateToken(userID, orgID, s.cfg.JWTSecret, s.cfg.RefreshTokenTTL)
	if err != nil {
		return TokenPair{}, err
	}
	return TokenPair{AccessToken: access, RefreshToken: refresh, ExpiresIn: int64(s.cfg.AccessTokenTTL / time.Second)}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
