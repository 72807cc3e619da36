package budget

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/policy"
	"github.com/splax/pmdesk/internal/repository"
)

const (
	maxDescriptionLength = 500
	maxIdempotencyKey    = 128
	defaultPageSize      = 50
	maxPageSize          = 200
)

var minExpense = decimal.New(1, -2)

// ProjectRef identifies the project a report belongs to.
type ProjectRef struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Report pairs a stored budget with its derived status.
type Report struct {
	Project ProjectRef          `json:"project"`
	Budget  domain.Budget       `json:"budget"`
	Status  domain.BudgetStatus `json:"status"`
}

// Alert is attached to an expense response when the budget is alerting.
type Alert struct {
	Type    domain.BudgetState `json:"type"`
	Message string             `json:"message"`
}

// UpdateInput is a partial budget update. Nil fields are left untouched.
type UpdateInput struct {
	Planned        *decimal.Decimal
	Spent          *decimal.Decimal
	Currency       *string
	AlertThreshold *int
}

// ExpenseInput describes one expense to log.
type ExpenseInput struct {
	ProjectID      string
	Amount         decimal.Decimal
	Description    string
	IdempotencyKey string
}

// ExpenseResult is the outcome of appending a ledger entry.
type ExpenseResult struct {
	Report
	Alert    *Alert
	Expense  *domain.Expense
	Replayed bool
}

// Service exposes budget reads, updates and the expense ledger.
type Service struct {
	projects repository.ProjectRepository
	ledger   repository.LedgerRepository
	logger   *slog.Logger
}

// New constructs a budget service.
func New(projects repository.ProjectRepository, ledger repository.LedgerRepository, logger *slog.Logger) Service {
	return Service{projects: projects, ledger: ledger, logger: logger}
}

var (
	errMissingProjectID = domain.NewValidationError("projectId", "project id is required")
	errMissingExpenseID = domain.NewValidationError("expenseId", "expense id is required")
	errAlreadyReversed  = domain.NewValidationError("expenseId", "expense has already been reversed")
	errReverseReversal  = domain.NewValidationError("expenseId", "a reversal cannot be reversed")
	errNegativeSpent    = domain.NewValidationError("amount", "change would make spent negative")
	errSpentOverflow    = domain.NewValidationError("amount", "change would exceed the maximum spent total")
)

// Status returns the budget and derived status of a project. It has no side effects.
func (s Service) Status(ctx context.Context, actor policy.Actor, projectID string) (*Report, error) {
	project, err := s.authorized(ctx, actor, projectID, policy.ActionBudgetRead)
	if err != nil {
		return nil, err
	}
	report := newReport(project)
	return &report, nil
}

// Update applies a partial budget change. A new spent value is reconciled
// through an adjustment ledger entry.
func (s Service) Update(ctx context.Context, actor policy.Actor, projectID string, input UpdateInput) (*Report, error) {
	change, err := validateUpdate(input)
	if err != nil {
		return nil, err
	}
	current, err := s.authorized(ctx, actor, projectID, policy.ActionBudgetUpdate)
	if err != nil {
		return nil, err
	}
	change.OrganizationID = current.OrganizationID
	change.ProjectID = current.ID
	change.ActorID = actor.UserID

	updated, err := s.ledger.UpdateBudget(ctx, change)
	if err != nil {
		return nil, err
	}
	report := newReport(updated)
	s.observeTransition(current.Budget.Evaluate(), report.Status)
	s.logger.Info("budget updated", "project_id", updated.ID, "actor_id", actor.UserID, "status", report.Status.Status, "percentage", report.Status.Percentage)
	return &report, nil
}

// LogExpense appends an expense and returns the resulting budget state. A
// repeated idempotency key returns the stored entry without applying it again.
func (s Service) LogExpense(ctx context.Context, actor policy.Actor, input ExpenseInput) (*ExpenseResult, error) {
	verr := &domain.ValidationError{}
	if strings.TrimSpace(input.ProjectID) == "" {
		verr.Add("projectId", "project id is required")
	}
	amount := input.Amount
	if amount.LessThan(minExpense) {
		verr.Add("amount", "amount must be at least 0.01")
	} else if problem := domain.MoneyProblem(amount); problem != "" {
		verr.Add("amount", problem)
	}
	description := strings.TrimSpace(input.Description)
	if len(description) > maxDescriptionLength {
		verr.Add("description", fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if len(key) > maxIdempotencyKey {
		verr.Add("idempotencyKey", fmt.Sprintf("idempotency key must be at most %d characters", maxIdempotencyKey))
	}
	if !verr.Empty() {
		return nil, verr
	}

	project, err := s.authorized(ctx, actor, input.ProjectID, policy.ActionExpenseLog)
	if err != nil {
		return nil, err
	}
	expense := &domain.Expense{
		ID:             uuid.NewString(),
		ProjectID:      project.ID,
		OrganizationID: project.OrganizationID,
		Kind:           domain.ExpenseKindExpense,
		Amount:         amount,
		Description:    description,
		ActorID:        actor.UserID,
		CreatedAt:      time.Now().UTC(),
	}
	if key != "" {
		expense.IdempotencyKey = &key
	}
	result, err := s.append(ctx, expense)
	return result, err
}

// ReverseExpense appends a compensating entry for expenseID. Each entry can be
// reversed at most once and a reversal may not drive spent below zero.
func (s Service) ReverseExpense(ctx context.Context, actor policy.Actor, expenseID, reason string) (*ExpenseResult, error) {
	expenseID = strings.TrimSpace(expenseID)
	if expenseID == "" {
		return nil, errMissingExpenseID
	}
	original, err := s.ledger.GetExpense(ctx, actor.OrganizationID, expenseID)
	if err != nil {
		return nil, err
	}
	if original.Kind == domain.ExpenseKindReversal {
		return nil, errReverseReversal
	}
	project, err := s.authorized(ctx, actor, original.ProjectID, policy.ActionExpenseReverse)
	if err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "reversal of " + original.ID
	}
	if len(reason) > maxDescriptionLength {
		return nil, domain.NewValidationError("reason", fmt.Sprintf("reason must be at most %d characters", maxDescriptionLength))
	}
	reversal := &domain.Expense{
		ID:             uuid.NewString(),
		ProjectID:      project.ID,
		OrganizationID: project.OrganizationID,
		Kind:           domain.ExpenseKindReversal,
		Amount:         original.Amount.Neg(),
		Description:    reason,
		ActorID:        actor.UserID,
		ReversesID:     &original.ID,
		CreatedAt:      time.Now().UTC(),
	}
	result, err := s.append(ctx, reversal)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListExpenses returns a page of the project's ledger, newest first.
func (s Service) ListExpenses(ctx context.Context, actor policy.Actor, projectID string, limit, offset int) ([]domain.Expense, error) {
	project, err := s.authorized(ctx, actor, projectID, policy.ActionBudgetRead)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListExpenses(ctx, project.OrganizationID, project.ID, pageSize(limit), max(offset, 0))
}

// ListAudits returns the project's budget audit trail, newest first.
func (s Service) ListAudits(ctx context.Context, actor policy.Actor, projectID string, limit int) ([]domain.BudgetAudit, error) {
	project, err := s.authorized(ctx, actor, projectID, policy.ActionBudgetRead)
	if err != nil {
		return nil, err
	}
	return s.ledger.ListBudgetAudits(ctx, project.OrganizationID, project.ID, pageSize(limit))
}

// Alerts lists the alerting projects visible to the actor, most severe first.
// Admins see the whole organization, everyone else the projects they manage or lead.
func (s Service) Alerts(ctx context.Context, actor policy.Actor) ([]Report, error) {
	var (
		projects []domain.Project
		err      error
	)
	if actor.Role == domain.RoleAdmin {
		projects, err = s.projects.ListProjectsByOrganization(ctx, actor.OrganizationID)
	} else {
		projects, err = s.projects.ListProjectsForUser(ctx, actor.OrganizationID, actor.UserID)
	}
	if err != nil {
		return nil, err
	}

	alerts := make([]Report, 0)
	for i := range projects {
		if projects[i].OrganizationID != actor.OrganizationID {
			continue
		}
		report := newReport(&projects[i])
		if report.Status.IsAlert {
			alerts = append(alerts, report)
		}
	}
	sortAlerts(alerts)
	return alerts, nil
}

func sortAlerts(alerts []Report) {
	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i].Status, alerts[j].Status
		if a.Status.Severity() != b.Status.Severity() {
			return a.Status.Severity() > b.Status.Severity()
		}
		if a.Percentage != b.Percentage {
			return a.Percentage > b.Percentage
		}
		return alerts[i].Project.Name < alerts[j].Project.Name
	})
}

func (s Service) append(ctx context.Context, expense *domain.Expense) (*ExpenseResult, error) {
	project, stored, replayed, err := s.ledger.AppendExpense(ctx, expense)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNegativeSpent):
			return nil, errNegativeSpent
		case errors.Is(err, repository.ErrInvalidArgument):
			return nil, errSpentOverflow
		case errors.Is(err, repository.ErrConflict) && expense.ReversesID != nil:
			return nil, errAlreadyReversed
		}
		return nil, err
	}
	result := &ExpenseResult{Report: newReport(project), Expense: stored, Replayed: replayed}
	if result.Status.IsAlert {
		result.Alert = &Alert{
			Type:    result.Status.Status,
			Message: fmt.Sprintf("Budget usage at %.1f%% of planned (alert threshold %d%%)", result.Status.Percentage, project.Budget.AlertThreshold),
		}
	}
	if replayed {
		s.logger.Info("expense replayed", "project_id", project.ID, "expense_id", stored.ID)
		return result, nil
	}

	expensesLogged.WithLabelValues(stored.Kind).Inc()
	if stored.Amount.IsPositive() {
		expenseAmount.WithLabelValues(project.Budget.Currency).Add(stored.Amount.InexactFloat64())
	}
	before := project.Budget
	before.Spent = before.Spent.Sub(stored.Amount)
	s.observeTransition(before.Evaluate(), result.Status)
	s.logger.Info("expense logged",
		"project_id", project.ID,
		"expense_id", stored.ID,
		"kind", stored.Kind,
		"amount", stored.Amount.String(),
		"status", result.Status.Status,
		"actor_id", stored.ActorID,
	)
	return result, nil
}

func (s Service) observeTransition(before, after domain.BudgetStatus) {
	if after.IsAlert && after.Status != before.Status {
		alertsRaised.WithLabelValues(string(after.Status)).Inc()
	}
}

func (s Service) authorized(ctx context.Context, actor policy.Actor, projectID string, action policy.Action) (*domain.Project, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, errMissingProjectID
	}
	project, err := s.projects.GetProjectByID(ctx, actor.OrganizationID, projectID)
	if err != nil {
		return nil, err
	}
	if err := policy.Authorize(actor, policy.ProjectResource(project), action); err != nil {
		return nil, err
	}
	return project, nil
}

func validateUpdate(input UpdateInput) (repository.BudgetChange, error) {
	var change repository.BudgetChange
	verr := &domain.ValidationError{}
	if input.Planned != nil {
		if input.Planned.IsNegative() {
			verr.Add("planned", "planned budget cannot be negative")
		} else if problem := domain.MoneyProblem(*input.Planned); problem != "" {
			verr.Add("planned", problem)
		}
		planned := *input.Planned
		change.Planned = &planned
	}
	if input.Spent != nil {
		if input.Spent.IsNegative() {
			verr.Add("spent", "spent cannot be negative")
		} else if problem := domain.MoneyProblem(*input.Spent); problem != "" {
			verr.Add("spent", problem)
		}
		spent := *input.Spent
		change.Spent = &spent
	}
	if input.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*input.Currency))
		if !domain.ValidCurrency(currency) {
			verr.Add("currency", "unsupported currency")
		}
		change.Currency = &currency
	}
	if input.AlertThreshold != nil {
		if !domain.ValidAlertThreshold(*input.AlertThreshold) {
			verr.Add("alertThreshold", "alert threshold must be between 0 and 100")
		}
		change.AlertThreshold = input.AlertThreshold
	}
	if !verr.Empty() {
		return repository.BudgetChange{}, verr
	}
	return change, nil
}

func newReport(project *domain.Project) Report {
	return Report{
		Project: ProjectRef{ID: project.ID, Name: project.Name},
		Budget:  project.Budget,
		Status:  project.Budget.Evaluate(),
	}
}

func pageSize(limit int) int {
	if limit <= 0 {
		return defaultPageSize
	}
	return min(limit, maxPageSize)
}
