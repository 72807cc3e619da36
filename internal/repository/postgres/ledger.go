package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/repository"
)

const (
	expenseColumns = `id, project_id, organization_id, kind, amount::text, description, actor_id, idempotency_key, reverses_id, created_at`

	idempotencyIndex = "project_expenses_idempotency_idx"
	reversalIndex    = "project_expenses_reverses_idx"
)

// UpdateBudget applies a partial budget change under a project row lock and
// records an audit entry. A changed spent total becomes an adjustment entry so
// the ledger sum keeps matching budget_spent.
func (r *Repository) UpdateBudget(ctx context.Context, change repository.BudgetChange) (*domain.Project, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	current, err := lockProject(ctx, tx, change.OrganizationID, change.ProjectID)
	if err != nil {
		return nil, err
	}
	before := current.Budget
	after := before
	if change.Planned != nil {
		after.Planned = *change.Planned
	}
	if change.Currency != nil {
		after.Currency = *change.Currency
	}
	if change.AlertThreshold != nil {
		after.AlertThreshold = *change.AlertThreshold
	}
	if change.Spent != nil && !change.Spent.Equal(before.Spent) {
		adjustment := &domain.Expense{
			ID:             uuid.NewString(),
			ProjectID:      current.ID,
			OrganizationID: current.OrganizationID,
			Kind:           domain.ExpenseKindAdjustment,
			Amount:         change.Spent.Sub(before.Spent),
			Description:    "manual spent adjustment",
			ActorID:        change.ActorID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := insertExpense(ctx, tx, adjustment); err != nil {
			return nil, mapWriteError(err)
		}
		after.Spent = *change.Spent
	}

	query := `UPDATE projects
		SET budget_planned = $3::numeric,
			budget_spent = $4::numeric,
			budget_currency = $5,
			budget_alert_threshold = $6,
			updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING ` + projectColumns
	project, err := scanProject(tx.QueryRow(ctx, query,
		change.ProjectID,
		change.OrganizationID,
		after.Planned.String(),
		after.Spent.String(),
		after.Currency,
		after.AlertThreshold,
	))
	if err != nil {
		return nil, mapWriteError(err)
	}

	audit, err := budgetAudit(project, change.ActorID, domain.AuditBudgetUpdated, before, after)
	if err != nil {
		return nil, err
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return project, nil
}

// AppendExpense records a ledger entry and applies it with an atomic increment.
// The entry, the increment and its audit row commit together.
func (r *Repository) AppendExpense(ctx context.Context, expense *domain.Expense) (*domain.Project, *domain.Expense, bool, error) {
	if expense == nil {
		return nil, nil, false, fmt.Errorf("expense required")
	}
	if expense.IdempotencyKey != nil {
		stored, err := r.expenseByKey(ctx, expense.ProjectID, *expense.IdempotencyKey)
		if err == nil {
			return r.replay(ctx, stored)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, nil, false, err
		}
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, false, err
	}
	defer tx.Rollback(ctx)

	query := `UPDATE projects
		SET budget_spent = budget_spent + $3::numeric, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2 AND budget_spent + $3::numeric >= 0
		RETURNING ` + projectColumns
	project, err := scanProject(tx.QueryRow(ctx, query, expense.ProjectID, expense.OrganizationID, expense.Amount.String()))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			if _, getErr := r.GetProjectByID(ctx, expense.OrganizationID, expense.ProjectID); getErr == nil {
				return nil, nil, false, repository.ErrNegativeSpent
			}
		}
		return nil, nil, false, mapWriteError(err)
	}

	if err := insertExpense(ctx, tx, expense); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			switch pgErr.ConstraintName {
			case idempotencyIndex:
				// A concurrent request with the same key won; its increment stands alone.
				_ = tx.Rollback(ctx)
				stored, getErr := r.expenseByKey(ctx, expense.ProjectID, *expense.IdempotencyKey)
				if getErr != nil {
					return nil, nil, false, getErr
				}
				return r.replay(ctx, stored)
			case reversalIndex:
				return nil, nil, false, repository.ErrConflict
			}
		}
		return nil, nil, false, mapWriteError(err)
	}
	before := project.Budget
	before.Spent = project.Budget.Spent.Sub(expense.Amount)
	audit, err := budgetAudit(project, expense.ActorID, domain.ExpenseAuditAction(expense.Kind), before, project.Budget)
	if err != nil {
		return nil, nil, false, err
	}
	if err := insertAudit(ctx, tx, audit); err != nil {
		return nil, nil, false, mapWriteError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, false, err
	}
	return project, expense, false, nil
}

func (r *Repository) replay(ctx context.Context, stored *domain.Expense) (*domain.Project, *domain.Expense, bool, error) {
	project, err := r.GetProjectByID(ctx, stored.OrganizationID, stored.ProjectID)
	if err != nil {
		return nil, nil, false, err
	}
	return project, stored, true, nil
}

func (r *Repository) expenseByKey(ctx context.Context, projectID, key string) (*domain.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM project_expenses WHERE project_id = $1 AND idempotency_key = $2`
	return scanExpense(r.pool.QueryRow(ctx, query, projectID, key))
}

// GetExpense fetches a ledger entry inside the organization.
func (r *Repository) GetExpense(ctx context.Context, orgID, expenseID string) (*domain.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM project_expenses WHERE id = $1 AND organization_id = $2`
	return scanExpense(r.pool.QueryRow(ctx, query, expenseID, orgID))
}

// ListExpenses returns ledger entries for a project, newest first.
func (r *Repository) ListExpenses(ctx context.Context, orgID, projectID string, limit, offset int) ([]domain.Expense, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT ` + expenseColumns + ` FROM project_expenses
		WHERE project_id = $1 AND organization_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, projectID, orgID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		expenses = append(expenses, *expense)
	}
	return expenses, rows.Err()
}

// ListBudgetAudits returns budget audits for a project, newest first.
func (r *Repository) ListBudgetAudits(ctx context.Context, orgID, projectID string, limit int) ([]domain.BudgetAudit, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, project_id, organization_id, actor_id, action, before, after, created_at
		FROM budget_audits
		WHERE project_id = $1 AND organization_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`
	rows, err := r.pool.Query(ctx, query, projectID, orgID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	audits := make([]domain.BudgetAudit, 0)
	for rows.Next() {
		var a domain.BudgetAudit
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.OrganizationID, &a.ActorID, &a.Action, &a.Before, &a.After, &a.CreatedAt); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func insertExpense(ctx context.Context, db execer, expense *domain.Expense) error {
	const query = `INSERT INTO project_expenses (id, project_id, organization_id, kind, amount, description, actor_id, idempotency_key, reverses_id, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10)`
	_, err := db.Exec(ctx, query,
		expense.ID,
		expense.ProjectID,
		expense.OrganizationID,
		expense.Kind,
		expense.Amount.String(),
		expense.Description,
		expense.ActorID,
		expense.IdempotencyKey,
		expense.ReversesID,
		expense.CreatedAt,
	)
	return err
}

func insertAudit(ctx context.Context, db queryRower, audit *domain.BudgetAudit) error {
	const query = `INSERT INTO budget_audits (project_id, organization_id, actor_id, action, before, after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	if audit.CreatedAt.IsZero() {
		audit.CreatedAt = time.Now().UTC()
	}
	err := db.QueryRow(ctx, query,
		audit.ProjectID,
		audit.OrganizationID,
		audit.ActorID,
		audit.Action,
		audit.Before,
		audit.After,
		audit.CreatedAt,
	).Scan(&audit.ID)
	return mapWriteError(err)
}

func budgetAudit(project *domain.Project, actorID, action string, before, after domain.Budget) (*domain.BudgetAudit, error) {
	beforeJSON, err := json.Marshal(before)
	if err != nil {
		return nil, fmt.Errorf("encode audit before: %w", err)
	}
	afterJSON, err := json.Marshal(after)
	if err != nil {
		return nil, fmt.Errorf("encode audit after: %w", err)
	}
	return &domain.BudgetAudit{
		ProjectID:      project.ID,
		OrganizationID: project.OrganizationID,
		ActorID:        actorID,
		Action:         action,
		Before:         beforeJSON,
		After:          afterJSON,
		CreatedAt:      time.Now().UTC(),
	}, nil
}

func scanExpense(row pgx.Row) (*domain.Expense, error) {
	var (
		e      domain.Expense
		amount string
	)
	if err := row.Scan(
		&e.ID,
		&e.ProjectID,
		&e.OrganizationID,
		&e.Kind,
		&amount,
		&e.Description,
		&e.ActorID,
		&e.IdempotencyKey,
		&e.ReversesID,
		&e.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse expense amount: %w", err)
	}
	e.Amount = parsed
	return &e, nil
}
