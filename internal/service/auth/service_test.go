package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/repository"
	"github.com/splax/pmdesk/pkg/config"
	jwtpkg "github.com/splax/pmdesk/pkg/jwt"
)

type memoryStore struct {
	users map[string]*domain.User
	orgs  map[string]*domain.Organization
}

func newMemoryStore() *memoryStore {
	return &memoryStore{users: make(map[string]*domain.User), orgs: make(map[string]*domain.Organization)}
}

func (m *memoryStore) CreateOrganization(ctx context.Context, org *domain.Organization, owner *domain.User) error {
	if err := m.CreateUser(ctx, owner); err != nil {
		return err
	}
	m.orgs[org.ID] = org
	return nil
}

func (m *memoryStore) GetOrganizationByID(ctx context.Context, orgID string) (*domain.Organization, error) {
	if org, ok := m.orgs[orgID]; ok {
		return org, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) CreateUser(ctx context.Context, user *domain.User) error {
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrConflict
		}
	}
	m.users[user.ID] = user
	return nil
}

func (m *memoryStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memoryStore) UpdateUserRole(ctx context.Context, orgID, userID, role string, maxProjects int) (*domain.User, error) {
	return nil, repository.ErrNotFound
}

func (m *memoryStore) CountActiveAssigned(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func (m *memoryStore) CountActiveLed(ctx context.Context, userID string) (int, error) {
	return 0, nil
}

func newTestService(store *memoryStore) Service {
	cfg := config.APIConfig{
		JWTSecret:       "test-secret",
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
	}
	return New(store, store, slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
}

func TestSignupCreatesOrganizationAdmin(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)

	user, tokens, err := svc.Signup(context.Background(), SignupInput{
		Email:            "  Owner@Example.com ",
		Password:         "correct-horse",
		Name:             "Owner",
		OrganizationName: "Acme",
	})
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if user.Email != "owner@example.com" || user.Role != domain.RoleAdmin {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.MaxProjects != domain.DefaultManagerMaxProjects {
		t.Fatalf("unexpected admin capacity: %d", user.MaxProjects)
	}
	org, err := store.GetOrganizationByID(context.Background(), user.OrganizationID)
	if err != nil || org.OwnerID != user.ID {
		t.Fatalf("organization not linked to owner: %+v (%v)", org, err)
	}
	claims, err := jwtpkg.Parse(tokens.AccessToken, "test-secret")
	if err != nil {
		t.Fatalf("access token invalid: %v", err)
	}
	if claims.UserID != user.ID || claims.OrganizationID != org.ID {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	svc := newTestService(newMemoryStore())
	input := SignupInput{Email: "a@example.com", Password: "password1", OrganizationName: "One"}
	if _, _, err := svc.Signup(context.Background(), input); err != nil {
		t.Fatalf("first signup failed: %v", err)
	}
	_, _, err := svc.Signup(context.Background(), input)
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Fields["email"] == "" {
		t.Fatalf("expected email validation error, got %v", err)
	}
}

func TestSignupValidatesInput(t *testing.T) {
	svc := newTestService(newMemoryStore())
	_, _, err := svc.Signup(context.Background(), SignupInput{Email: "not-an-email", Password: "short"})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Fields["email"] == "" || verr.Fields["password"] == "" {
		t.Fatalf("expected email and password errors, got %v", err)
	}
	_, _, err = svc.Signup(context.Background(), SignupInput{Email: "a@example.com", Password: "password1"})
	if !errors.As(err, &verr) || verr.Fields["organizationName"] == "" {
		t.Fatalf("expected organizationName error, got %v", err)
	}
}

func TestLoginAndAuthorize(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	user, _, err := svc.Signup(context.Background(), SignupInput{Email: "pm@example.com", Password: "password1", OrganizationName: "Org"})
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}

	if _, _, err := svc.Login(context.Background(), "pm@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "nobody@example.com", "password1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown email, got %v", err)
	}
	_, tokens, err := svc.Login(context.Background(), "PM@example.com", "password1")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	authed, claims, err := svc.Authorize(context.Background(), "  "+tokens.AccessToken+" ")
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if authed.ID != user.ID || claims.OrganizationID != user.OrganizationID {
		t.Fatalf("unexpected authorization result: %+v %+v", authed, claims)
	}

	refreshed, err := svc.Refresh(context.Background(), tokens.RefreshToken)
	if err != nil || refreshed.AccessToken == "" {
		t.Fatalf("Refresh failed: %v", err)
	}
}

func TestAuthorizeRejectsMovedUser(t *testing.T) {
	store := newMemoryStore()
	svc := newTestService(store)
	user, tokens, err := svc.Signup(context.Background(), SignupInput{Email: "x@example.com", Password: "password1", OrganizationName: "Org"})
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	user.OrganizationID = "another-org"
	if _, _, err := svc.Authorize(context.Background(), tokens.AccessToken); err == nil {
		t.Fatalf("expected organization mismatch to be rejected")
	}
	if _, _, err := svc.Authorize(context.Background(), ""); err == nil {
		t.Fatalf("expected empty token to be rejected")
	}
}
