package postgres

import (
	"context"
	"errors"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.OrganizationRepository = (*Repository)(nil)
	_ repository.UserRepository         = (*Repository)(nil)
	_ repository.ProjectRepository      = (*Repository)(nil)
	_ repository.LedgerRepository       = (*Repository)(nil)
)

const userColumns = `id, organization_id, email, name, role, max_projects, password_hash, created_at`

// CreateOrganization inserts the organization together with its owning admin.
func (r *Repository) CreateOrganization(ctx context.Context, org *domain.Organization, owner *domain.User) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const orgInsert = `INSERT INTO organizations (id, name, owner_id, created_at) VALUES ($1, $2, $3, $4)`
	if _, err := tx.Exec(ctx, orgInsert, org.ID, org.Name, org.OwnerID, org.CreatedAt); err != nil {
		return mapWriteError(err)
	}
	if err := insertUser(ctx, tx, owner); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetOrganizationByID returns an organization by identifier.
func (r *Repository) GetOrganizationByID(ctx context.Context, orgID string) (*domain.Organization, error) {
	const query = `SELECT id, name, owner_id, created_at FROM organizations WHERE id = $1`
	var org domain.Organization
	if err := r.pool.QueryRow(ctx, query, orgID).Scan(&org.ID, &org.Name, &org.OwnerID, &org.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &org, nil
}

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	return insertUser(ctx, r.pool, user)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertUser(ctx context.Context, db execer, user *domain.User) error {
	const query = `INSERT INTO users (id, organization_id, email, name, role, max_projects, password_hash, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := db.Exec(ctx, query, user.ID, user.OrganizationID, user.Email, user.Name, user.Role, user.MaxProjects, user.PasswordHash, user.CreatedAt)
	return mapWriteError(err)
}

// GetUserByEmail fetches a user by email.
func (r *Repository) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return scanUser(r.pool.QueryRow(ctx, query, email))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.pool.QueryRow(ctx, query, id))
}

// UpdateUserRole changes a user's role and capacity inside the organization.
func (r *Repository) UpdateUserRole(ctx context.Context, orgID, userID, role string, maxProjects int) (*domain.User, error) {
	query := `UPDATE users SET role = $3, max_projects = $4
		WHERE id = $1 AND organization_id = $2
		RETURNING ` + userColumns
	user, err := scanUser(r.pool.QueryRow(ctx, query, userID, orgID, role, maxProjects))
	if err != nil {
		return nil, mapWriteError(err)
	}
	return user, nil
}

// CountActiveAssigned counts active projects the user manages or leads.
func (r *Repository) CountActiveAssigned(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(1) FROM projects
		WHERE (manager_id = $1 OR team_leader_id = $1) AND status = ANY($2)`
	var count int
	if err := r.pool.QueryRow(ctx, query, userID, domain.ActiveProjectStatuses).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// CountActiveLed counts active projects the user leads.
func (r *Repository) CountActiveLed(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(1) FROM projects WHERE team_leader_id = $1 AND status = ANY($2)`
	var count int
	if err := r.pool.QueryRow(ctx, query, userID, domain.ActiveProjectStatuses).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.OrganizationID, &u.Email, &u.Name, &u.Role, &u.MaxProjects, &u.PasswordHash, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// lockAssignees locks every assignee row in a stable order, then runs each
// check against a load that excludes the project being changed. Active counts
// are only loaded when the project occupies capacity.
func lockAssignees(ctx context.Context, tx pgx.Tx, orgID, projectID string, active bool, assignments []repository.Assignment) error {
	if len(assignments) == 0 {
		return nil
	}
	ids := make([]string, 0, len(assignments))
	seen := make(map[string]bool, len(assignments))
	for _, a := range assignments {
		if a.UserID == "" || seen[a.UserID] {
			continue
		}
		seen[a.UserID] = true
		ids = append(ids, a.UserID)
	}
	sort.Strings(ids)

	loads := make(map[string]domain.AssigneeLoad, len(ids))
	for _, id := range ids {
		load, err := lockAssignee(ctx, tx, orgID, projectID, id, active)
		if err != nil {
			return err
		}
		loads[id] = load
	}
	for _, a := range assignments {
		if a.Check == nil {
			continue
		}
		if err := a.Check(loads[a.UserID]); err != nil {
			return err
		}
	}
	return nil
}

func lockAssignee(ctx context.Context, tx pgx.Tx, orgID, projectID, userID string, active bool) (domain.AssigneeLoad, error) {
	const lockQuery = `SELECT id, organization_id, role, max_projects FROM users WHERE id = $1 FOR UPDATE`
	load := domain.AssigneeLoad{ProjectActive: active}
	if err := tx.QueryRow(ctx, lockQuery, userID).Scan(&load.UserID, &load.OrganizationID, &load.Role, &load.MaxProjects); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return load, repository.ErrNotFound
		}
		return load, mapWriteError(err)
	}
	if load.OrganizationID != orgID {
		return load, repository.ErrNotFound
	}
	if !active {
		return load, nil
	}
	const countQuery = `SELECT
			COUNT(1) FILTER (WHERE manager_id = $1 OR team_leader_id = $1),
			COUNT(1) FILTER (WHERE team_leader_id = $1)
		FROM projects
		WHERE (manager_id = $1 OR team_leader_id = $1) AND status = ANY($2) AND id <> $3`
	if err := tx.QueryRow(ctx, countQuery, userID, domain.ActiveProjectStatuses, projectID).Scan(&load.ActiveAssigned, &load.ActiveLed); err != nil {
		return load, err
	}
	return load, nil
}

func mapWriteError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return repository.ErrNotFound
		case "23505":
			return repository.ErrConflict
		case "23514", "22P02", "22003":
			return repository.ErrInvalidArgument
		}
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}
