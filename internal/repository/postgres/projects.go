package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/repository"
)

const projectColumns = `id, organization_id, name, description, status, manager_id, team_leader_id,
	budget_planned::text, budget_spent::text, budget_currency, budget_alert_threshold, created_at, updated_at`

// CreateProject inserts a project after running the assignment checks under lock.
func (r *Repository) CreateProject(ctx context.Context, project *domain.Project, assignments ...repository.Assignment) error {
	if project == nil {
		return fmt.Errorf("project required")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := lockAssignees(ctx, tx, project.OrganizationID, project.ID, project.Active(), assignments); err != nil {
		return err
	}

	const query = `INSERT INTO projects (id, organization_id, name, description, status, manager_id, team_leader_id,
			budget_planned, budget_spent, budget_currency, budget_alert_threshold, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12, $12)`
	if _, err := tx.Exec(ctx, query,
		project.ID,
		project.OrganizationID,
		project.Name,
		project.Description,
		project.Status,
		project.ManagerID,
		project.TeamLeaderID,
		project.Budget.Planned.String(),
		project.Budget.Spent.String(),
		project.Budget.Currency,
		project.Budget.AlertThreshold,
		project.CreatedAt,
	); err != nil {
		return mapWriteError(err)
	}
	project.UpdatedAt = project.CreatedAt
	return tx.Commit(ctx)
}

// GetProjectByID fetches a project inside the organization.
func (r *Repository) GetProjectByID(ctx context.Context, orgID, projectID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND organization_id = $2`
	return scanProject(r.pool.QueryRow(ctx, query, projectID, orgID))
}

// ListProjectsByOrganization returns every project of the organization.
func (r *Repository) ListProjectsByOrganization(ctx context.Context, orgID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE organization_id = $1 ORDER BY created_at DESC`
	return r.listProjects(ctx, query, orgID)
}

// ListProjectsForUser returns projects the user manages or leads.
func (r *Repository) ListProjectsForUser(ctx context.Context, orgID, userID string) ([]domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects
		WHERE organization_id = $1 AND (manager_id = $2 OR team_leader_id = $2)
		ORDER BY created_at DESC`
	return r.listProjects(ctx, query, orgID, userID)
}

func (r *Repository) listProjects(ctx context.Context, query string, args ...any) ([]domain.Project, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	projects := make([]domain.Project, 0)
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *project)
	}
	return projects, rows.Err()
}

// UpdateProjectStatus moves a project from one status to another. The write is
// a compare-and-swap on the previous status; a concurrent change yields ErrConflict.
func (r *Repository) UpdateProjectStatus(ctx context.Context, orgID, projectID, from, to string, assignments ...repository.Assignment) (*domain.Project, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if domain.IsActiveStatus(to) && !domain.IsActiveStatus(from) {
		if err := lockAssignees(ctx, tx, orgID, projectID, true, assignments); err != nil {
			return nil, err
		}
	}

	query := `UPDATE projects SET status = $4, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND status = $3
		RETURNING ` + projectColumns
	project, err := scanProject(tx.QueryRow(ctx, query, projectID, orgID, from, to))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if _, getErr := r.GetProjectByID(ctx, orgID, projectID); getErr == nil {
				return nil, repository.ErrConflict
			}
		}
		return nil, mapWriteError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return project, nil
}

// AssignTeamLeader sets the project's team leader, checking capacity when the project is active.
func (r *Repository) AssignTeamLeader(ctx context.Context, orgID, projectID string, assignment repository.Assignment) (*domain.Project, error) {
	return r.assign(ctx, orgID, projectID, "team_leader_id", assignment)
}

// AssignManager sets the project's manager, checking capacity when the project is active.
func (r *Repository) AssignManager(ctx context.Context, orgID, projectID string, assignment repository.Assignment) (*domain.Project, error) {
	return r.assign(ctx, orgID, projectID, "manager_id", assignment)
}

func (r *Repository) assign(ctx context.Context, orgID, projectID, column string, assignment repository.Assignment) (*domain.Project, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	current, err := lockProject(ctx, tx, orgID, projectID)
	if err != nil {
		return nil, err
	}
	if err := lockAssignees(ctx, tx, orgID, projectID, current.Active(), []repository.Assignment{assignment}); err != nil {
		return nil, err
	}

	query := `UPDATE projects SET ` + column + ` = $3, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING ` + projectColumns
	project, err := scanProject(tx.QueryRow(ctx, query, projectID, orgID, assignment.UserID))
	if err != nil {
		return nil, mapWriteError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return project, nil
}

func lockProject(ctx context.Context, tx pgx.Tx, orgID, projectID string) (*domain.Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE id = $1 AND organization_id = $2 FOR UPDATE`
	return scanProject(tx.QueryRow(ctx, query, projectID, orgID))
}

func scanProject(row pgx.Row) (*domain.Project, error) {
	var (
		p       domain.Project
		planned string
		spent   string
	)
	if err := row.Scan(
		&p.ID,
		&p.OrganizationID,
		&p.Name,
		&p.Description,
		&p.Status,
		&p.ManagerID,
		&p.TeamLeaderID,
		&planned,
		&spent,
		&p.Budget.Currency,
		&p.Budget.AlertThreshold,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	var err error
	if p.Budget.Planned, err = decimal.NewFromString(planned); err != nil {
		return nil, fmt.Errorf("parse budget_planned: %w", err)
	}
	if p.Budget.Spent, err = decimal.NewFromString(spent); err != nil {
		return nil, fmt.Errorf("parse budget_spent: %w", err)
	}
	return &p, nil
}
