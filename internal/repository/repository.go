package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/splax/pmdesk/internal/domain"
)

// AssignmentCheck runs inside an assignment transaction once the assignee row
// is locked. Returning an error aborts the assignment.
type AssignmentCheck func(load domain.AssigneeLoad) error

// Assignment pairs a user with the capacity check guarding their new role on a project.
type Assignment struct {
	UserID string
	Check  AssignmentCheck
}

// OrganizationRepository persists tenants.
type OrganizationRepository interface {
	CreateOrganization(ctx context.Context, org *domain.Organization, owner *domain.User) error
	GetOrganizationByID(ctx context.Context, orgID string) (*domain.Organization, error)
}

// UserRepository persists users and answers capacity counts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	UpdateUserRole(ctx context.Context, orgID, userID, role string, maxProjects int) (*domain.User, error)
	CountActiveAssigned(ctx context.Context, userID string) (int, error)
	CountActiveLed(ctx context.Context, userID string) (int, error)
}

// ProjectRepository persists projects. Methods taking an Assignment lock the
// assignee, verify it belongs to the organization and evaluate its check in the
// same transaction as the write. Active counts are only loaded when the project
// occupies capacity (see domain.ActiveProjectStatuses).
type ProjectRepository interface {
	CreateProject(ctx context.Context, project *domain.Project, assignments ...Assignment) error
	GetProjectByID(ctx context.Context, orgID, projectID string) (*domain.Project, error)
	ListProjectsByOrganization(ctx context.Context, orgID string) ([]domain.Project, error)
	ListProjectsForUser(ctx context.Context, orgID, userID string) ([]domain.Project, error)
	UpdateProjectStatus(ctx context.Context, orgID, projectID, from, to string, assignments ...Assignment) (*domain.Project, error)
	AssignTeamLeader(ctx context.Context, orgID, projectID string, assignment Assignment) (*domain.Project, error)
	AssignManager(ctx context.Context, orgID, projectID string, assignment Assignment) (*domain.Project, error)
}

// BudgetChange is a partial update of a project's budget. A non-nil Spent is
// reconciled by appending an adjustment entry for the difference.
type BudgetChange struct {
	OrganizationID string
	ProjectID      string
	ActorID        string
	Planned        *decimal.Decimal
	Spent          *decimal.Decimal
	Currency       *string
	AlertThreshold *int
}

// LedgerRepository stores the append-only expense ledger and budget audits.
type LedgerRepository interface {
	UpdateBudget(ctx context.Context, change BudgetChange) (*domain.Project, error)
	// AppendExpense applies expense.Amount to the project's spent total with an
	// atomic increment and records the entry. When the idempotency key was
	// already used, the stored entry is returned with replayed set.
	AppendExpense(ctx context.Context, expense *domain.Expense) (project *domain.Project, stored *domain.Expense, replayed bool, err error)
	GetExpense(ctx context.Context, orgID, expenseID string) (*domain.Expense, error)
	ListExpenses(ctx context.Context, orgID, projectID string, limit, offset int) ([]domain.Expense, error)
	ListBudgetAudits(ctx context.Context, orgID, projectID string, limit int) ([]domain.BudgetAudit, error)
}
