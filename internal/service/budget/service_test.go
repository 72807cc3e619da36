package budget

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/policy"
	"github.com/splax/pmdesk/internal/repository"
)

// stubStore implements both repositories in memory with the same observable
// semantics as the postgres ledger: increments are atomic and spent never
// drops below zero.
type stubStore struct {
	mu        sync.Mutex
	projects  map[string]domain.Project
	expenses  []domain.Expense
	audits    []domain.BudgetAudit
	lastLimit int
}

func newStubStore(projects ...domain.Project) *stubStore {
	s := &stubStore{projects: make(map[string]domain.Project)}
	for _, p := range projects {
		s.projects[p.ID] = p
	}
	return s
}

func (s *stubStore) CreateProject(ctx context.Context, project *domain.Project, assignments ...repository.Assignment) error {
	return nil
}

func (s *stubStore) GetProjectByID(ctx context.Context, orgID, projectID string) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok || p.OrganizationID != orgID {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (s *stubStore) ListProjectsByOrganization(ctx context.Context, orgID string) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Project
	for _, p := range s.projects {
		if p.OrganizationID == orgID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubStore) ListProjectsForUser(ctx context.Context, orgID, userID string) ([]domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Project
	for _, p := range s.projects {
		if p.OrganizationID == orgID && (p.ManagerID == userID || p.LedBy(userID)) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubStore) UpdateProjectStatus(ctx context.Context, orgID, projectID, from, to string, assignments ...repository.Assignment) (*domain.Project, error) {
	return nil, nil
}

func (s *stubStore) AssignTeamLeader(ctx context.Context, orgID, projectID string, assignment repository.Assignment) (*domain.Project, error) {
	return nil, nil
}

func (s *stubStore) AssignManager(ctx context.Context, orgID, projectID string, assignment repository.Assignment) (*domain.Project, error) {
	return nil, nil
}

func (s *stubStore) UpdateBudget(ctx context.Context, change repository.BudgetChange) (*domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[change.ProjectID]
	if !ok || p.OrganizationID != change.OrganizationID {
		return nil, repository.ErrNotFound
	}
	if change.Planned != nil {
		p.Budget.Planned = *change.Planned
	}
	if change.Spent != nil {
		if !change.Spent.Equal(p.Budget.Spent) {
			s.expenses = append(s.expenses, domain.Expense{ID: "adj", ProjectID: p.ID, Kind: domain.ExpenseKindAdjustment, Amount: change.Spent.Sub(p.Budget.Spent)})
		}
		p.Budget.Spent = *change.Spent
	}
	if change.Currency != nil {
		p.Budget.Currency = *change.Currency
	}
	if change.AlertThreshold != nil {
		p.Budget.AlertThreshold = *change.AlertThreshold
	}
	s.projects[p.ID] = p
	s.audits = append(s.audits, domain.BudgetAudit{ProjectID: p.ID, Action: domain.AuditBudgetUpdated})
	return &p, nil
}

func (s *stubStore) AppendExpense(ctx context.Context, expense *domain.Expense) (*domain.Project, *domain.Expense, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[expense.ProjectID]
	if !ok || p.OrganizationID != expense.OrganizationID {
		return nil, nil, false, repository.ErrNotFound
	}
	for i := range s.expenses {
		stored := s.expenses[i]
		if expense.IdempotencyKey != nil && stored.IdempotencyKey != nil && *stored.IdempotencyKey == *expense.IdempotencyKey && stored.ProjectID == expense.ProjectID {
			return &p, &stored, true, nil
		}
		if expense.ReversesID != nil && stored.ReversesID != nil && *stored.ReversesID == *expense.ReversesID {
			return nil, nil, false, repository.ErrConflict
		}
	}
	spent := p.Budget.Spent.Add(expense.Amount)
	if spent.IsNegative() {
		return nil, nil, false, repository.ErrNegativeSpent
	}
	if spent.GreaterThan(domain.MaxMoney) {
		return nil, nil, false, repository.ErrInvalidArgument
	}
	p.Budget.Spent = spent
	s.projects[p.ID] = p
	s.expenses = append(s.expenses, *expense)
	s.audits = append(s.audits, domain.BudgetAudit{ProjectID: p.ID, ActorID: expense.ActorID, Action: domain.ExpenseAuditAction(expense.Kind)})
	return &p, expense, false, nil
}

func (s *stubStore) GetExpense(ctx context.Context, orgID, expenseID string) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.expenses {
		if e.ID == expenseID && e.OrganizationID == orgID {
			return &e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *stubStore) ListExpenses(ctx context.Context, orgID, projectID string, limit, offset int) ([]domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	var out []domain.Expense
	for _, e := range s.expenses {
		if e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *stubStore) ListBudgetAudits(ctx context.Context, orgID, projectID string, limit int) ([]domain.BudgetAudit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	var out []domain.BudgetAudit
	for _, a := range s.audits {
		if a.ProjectID == projectID {
			out = append(out, a)
		}
	}
	return out, nil
}

func newTestService(store *stubStore) Service {
	return New(store, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func project(id, org, planned, spent string) domain.Project {
	leader := "tl-1"
	return domain.Project{
		ID:             id,
		OrganizationID: org,
		Name:           "Project " + id,
		Status:         domain.ProjectInProgress,
		ManagerID:      "pm-1",
		TeamLeaderID:   &leader,
		Budget:         domain.Budget{Planned: dec(planned), Spent: dec(spent), Currency: "USD", AlertThreshold: 80},
	}
}

var (
	admin      = policy.Actor{UserID: "admin", OrganizationID: "org-1", Role: domain.RoleAdmin}
	manager    = policy.Actor{UserID: "pm-1", OrganizationID: "org-1", Role: domain.RoleProjectManager}
	teamLeader = policy.Actor{UserID: "tl-1", OrganizationID: "org-1", Role: domain.RoleTeamLeader}
	member     = policy.Actor{UserID: "m-1", OrganizationID: "org-1", Role: domain.RoleMember}
	outsider   = policy.Actor{UserID: "pm-9", OrganizationID: "org-2", Role: domain.RoleAdmin}
)

func TestLogExpenseCrossesCritical(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "1000", "850"))
	svc := newTestService(store)

	result, err := svc.LogExpense(context.Background(), teamLeader, ExpenseInput{ProjectID: "p-1", Amount: dec("150.50"), Description: "hardware"})
	if err != nil {
		t.Fatalf("LogExpense returned error: %v", err)
	}
	if !result.Budget.Spent.Equal(dec("1000.50")) {
		t.Fatalf("unexpected spent: %s", result.Budget.Spent)
	}
	if result.Status.Percentage != 100.1 || result.Status.Status != domain.BudgetCritical || !result.Status.IsAlert {
		t.Fatalf("unexpected status: %+v", result.Status)
	}
	if !result.Status.Remaining.Equal(dec("-0.50")) {
		t.Fatalf("unexpected remaining: %s", result.Status.Remaining)
	}
	if result.Alert == nil || result.Alert.Type != domain.BudgetCritical {
		t.Fatalf("expected critical alert, got %+v", result.Alert)
	}
	if result.Expense.Kind != domain.ExpenseKindExpense || result.Expense.ActorID != "tl-1" {
		t.Fatalf("unexpected ledger entry: %+v", result.Expense)
	}
}

func TestLogExpenseValidatesAmount(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "1000", "850"))
	svc := newTestService(store)
	for _, amount := range []string{"0", "0.004", "0.005", "-5", "12.345", "1000000000000"} {
		_, err := svc.LogExpense(context.Background(), manager, ExpenseInput{ProjectID: "p-1", Amount: dec(amount)})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) || verr.Fields["amount"] == "" {
			t.Fatalf("amount %s: expected validation error, got %v", amount, err)
		}
	}
	if spent := store.projects["p-1"].Budget.Spent; !spent.Equal(dec("850")) {
		t.Fatalf("rejected amounts must not change spent, got %s", spent)
	}
	if len(store.expenses) != 0 {
		t.Fatalf("rejected amounts must not reach the ledger")
	}
}

func TestLogExpenseRejectsSpentOverflow(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "0", "999999999999.00"))
	svc := newTestService(store)

	_, err := svc.LogExpense(context.Background(), manager, ExpenseInput{ProjectID: "p-1", Amount: dec("5")})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Fields["amount"] == "" {
		t.Fatalf("expected overflow to be reported on amount, got %v", err)
	}
}

func TestLogExpenseIdempotencyKey(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "1000", "0"))
	svc := newTestService(store)
	input := ExpenseInput{ProjectID: "p-1", Amount: dec("100"), IdempotencyKey: "req-1"}

	first, err := svc.LogExpense(context.Background(), manager, input)
	if err != nil || first.Replayed {
		t.Fatalf("unexpected first result: %+v (%v)", first, err)
	}
	second, err := svc.LogExpense(context.Background(), manager, input)
	if err != nil {
		t.Fatalf("replay returned error: %v", err)
	}
	if !second.Replayed || second.Expense.ID != first.Expense.ID {
		t.Fatalf("expected replay of %s, got %+v", first.Expense.ID, second.Expense)
	}
	if !second.Budget.Spent.Equal(dec("100")) {
		t.Fatalf("replay must not re-apply the amount, spent %s", second.Budget.Spent)
	}
	if len(store.audits) != 1 || store.audits[0].Action != domain.AuditExpenseLogged || store.audits[0].ActorID != manager.UserID {
		t.Fatalf("expected a single expense audit, got %+v", store.audits)
	}
}

func TestLogExpenseConcurrentIncrements(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "1000", "0"))
	svc := newTestService(store)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.LogExpense(context.Background(), manager, ExpenseInput{ProjectID: "p-1", Amount: dec("10")}); err != nil {
				t.Errorf("LogExpense: %v", err)
			}
		}()
	}
	wg.Wait()

	report, err := svc.Status(context.Background(), manager, "p-1")
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if !report.Budget.Spent.Equal(dec("200")) {
		t.Fatalf("expected no lost updates, spent %s", report.Budget.Spent)
	}
}

func TestLogExpenseAuthorization(t *testing.T) {
	svc := newTestService(newStubStore(project("p-1", "org-1", "1000", "0")))

	if _, err := svc.LogExpense(context.Background(), member, ExpenseInput{ProjectID: "p-1", Amount: dec("1")}); !errors.Is(err, policy.ErrForbidden) {
		t.Fatalf("expected forbidden for member, got %v", err)
	}
	if _, err := svc.LogExpense(context.Background(), outsider, ExpenseInput{ProjectID: "p-1", Amount: dec("1")}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found across organizations, got %v", err)
	}
	if _, err := svc.LogExpense(context.Background(), manager, ExpenseInput{ProjectID: "missing", Amount: dec("1")}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatusIsIdempotent(t *testing.T) {
	svc := newTestService(newStubStore(project("p-1", "org-1", "1000", "850")))

	first, err := svc.Status(context.Background(), teamLeader, "p-1")
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	second, err := svc.Status(context.Background(), teamLeader, "p-1")
	if err != nil {
		t.Fatalf("Status returned error: %v", err)
	}
	if first.Status.Status != second.Status.Status || first.Status.Percentage != second.Status.Percentage || !first.Status.Remaining.Equal(second.Status.Remaining) {
		t.Fatalf("status changed between reads: %+v vs %+v", first, second)
	}
	if first.Status.Status != domain.BudgetWarning || first.Status.Percentage != 85 || first.Project.ID != "p-1" {
		t.Fatalf("unexpected report: %+v", first)
	}
}

func TestStatusAuthorization(t *testing.T) {
	svc := newTestService(newStubStore(project("p-1", "org-1", "1000", "0")))
	if _, err := svc.Status(context.Background(), member, "p-1"); !errors.Is(err, policy.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := svc.Status(context.Background(), admin, "p-1"); err != nil {
		t.Fatalf("expected admin access, got %v", err)
	}
	if _, err := svc.Status(context.Background(), outsider, "p-1"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected cross-tenant read to fail, got %v", err)
	}
}

func TestUpdateBudget(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "1000", "500"))
	svc := newTestService(store)
	planned := dec("600")
	spent := dec("550")
	currency := "eur"

	report, err := svc.Update(context.Background(), manager, "p-1", UpdateInput{Planned: &planned, Spent: &spent, Currency: &currency})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if report.Budget.Currency != "EUR" || report.Status.Percentage != 91.7 || report.Status.Status != domain.BudgetWarning {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(store.expenses) != 1 || !store.expenses[0].Amount.Equal(dec("50")) {
		t.Fatalf("expected adjustment entry of 50, got %+v", store.expenses)
	}
}

func TestUpdateBudgetValidationAndAccess(t *testing.T) {
	svc := newTestService(newStubStore(project("p-1", "org-1", "1000", "500")))
	negative := dec("-1")
	threshold := 101
	currency := "BTC"

	_, err := svc.Update(context.Background(), manager, "p-1", UpdateInput{Planned: &negative, Spent: &negative, AlertThreshold: &threshold, Currency: &currency})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 4 {
		t.Fatalf("expected four field errors, got %v", err)
	}
	planned := dec("10")
	if _, err := svc.Update(context.Background(), teamLeader, "p-1", UpdateInput{Planned: &planned}); !errors.Is(err, policy.ErrForbidden) {
		t.Fatalf("expected team leader to be forbidden, got %v", err)
	}
}

func TestUpdateBudgetRejectsUnrepresentableMoney(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "1000", "500"))
	svc := newTestService(store)

	fine := dec("10.001")
	huge := dec("1000000000000")
	_, err := svc.Update(context.Background(), manager, "p-1", UpdateInput{Planned: &fine, Spent: &huge})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Fields["planned"] == "" || verr.Fields["spent"] == "" {
		t.Fatalf("expected planned and spent errors, got %v", err)
	}
	if planned := store.projects["p-1"].Budget.Planned; !planned.Equal(dec("1000")) {
		t.Fatalf("rejected update must not change planned, got %s", planned)
	}
}

func TestReverseExpense(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "1000", "0"))
	svc := newTestService(store)

	logged, err := svc.LogExpense(context.Background(), teamLeader, ExpenseInput{ProjectID: "p-1", Amount: dec("120")})
	if err != nil {
		t.Fatalf("LogExpense returned error: %v", err)
	}
	if _, err := svc.ReverseExpense(context.Background(), teamLeader, logged.Expense.ID, ""); !errors.Is(err, policy.ErrForbidden) {
		t.Fatalf("expected team leader to be forbidden, got %v", err)
	}

	reversed, err := svc.ReverseExpense(context.Background(), manager, logged.Expense.ID, "duplicate invoice")
	if err != nil {
		t.Fatalf("ReverseExpense returned error: %v", err)
	}
	if !reversed.Budget.Spent.IsZero() || reversed.Expense.Kind != domain.ExpenseKindReversal {
		t.Fatalf("unexpected reversal: %+v", reversed)
	}
	if reversed.Expense.ReversesID == nil || *reversed.Expense.ReversesID != logged.Expense.ID {
		t.Fatalf("reversal must reference original entry")
	}

	_, err = svc.ReverseExpense(context.Background(), manager, logged.Expense.ID, "")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected double reversal to be refused, got %v", err)
	}
	if _, err := svc.ReverseExpense(context.Background(), manager, reversed.Expense.ID, ""); err == nil {
		t.Fatalf("expected reversal of a reversal to be refused")
	}

	var audited bool
	for _, a := range store.audits {
		if a.Action == domain.AuditExpenseReversed {
			audited = true
		}
	}
	if !audited {
		t.Fatalf("expected reversal audit entry")
	}
}

func TestReverseExpenseRefusesNegativeSpent(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "1000", "0"))
	svc := newTestService(store)
	logged, err := svc.LogExpense(context.Background(), manager, ExpenseInput{ProjectID: "p-1", Amount: dec("100")})
	if err != nil {
		t.Fatalf("LogExpense returned error: %v", err)
	}
	zero := dec("0")
	if _, err := svc.Update(context.Background(), manager, "p-1", UpdateInput{Spent: &zero}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	_, err = svc.ReverseExpense(context.Background(), manager, logged.Expense.ID, "")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Fields["amount"] == "" {
		t.Fatalf("expected negative spent refusal, got %v", err)
	}
}

func TestAlertsScopedAndSorted(t *testing.T) {
	warning := project("p-warn", "org-1", "1000", "850")
	critical := project("p-crit", "org-1", "1000", "990")
	healthy := project("p-ok", "org-1", "1000", "100")
	unbudgeted := project("p-none", "org-1", "0", "500")
	foreign := project("p-foreign", "org-2", "1000", "999")
	other := project("p-other", "org-1", "1000", "970")
	other.ManagerID = "pm-2"
	other.TeamLeaderID = nil
	svc := newTestService(newStubStore(warning, critical, healthy, unbudgeted, foreign, other))

	alerts, err := svc.Alerts(context.Background(), manager)
	if err != nil {
		t.Fatalf("Alerts returned error: %v", err)
	}
	if len(alerts) != 2 || alerts[0].Project.ID != "p-crit" || alerts[1].Project.ID != "p-warn" {
		t.Fatalf("unexpected manager alerts: %+v", alerts)
	}

	all, err := svc.Alerts(context.Background(), admin)
	if err != nil {
		t.Fatalf("Alerts returned error: %v", err)
	}
	if len(all) != 3 || all[0].Project.ID != "p-crit" || all[1].Project.ID != "p-other" || all[2].Project.ID != "p-warn" {
		t.Fatalf("unexpected admin alerts: %+v", all)
	}

	none, err := svc.Alerts(context.Background(), member)
	if err != nil || len(none) != 0 {
		t.Fatalf("expected no alerts for unrelated member, got %+v (%v)", none, err)
	}
}

func TestSortAlertsBySeverity(t *testing.T) {
	alerts := []Report{
		{Project: ProjectRef{ID: "c"}, Status: domain.BudgetStatus{Status: domain.BudgetCaution, Percentage: 75}},
		{Project: ProjectRef{ID: "w"}, Status: domain.BudgetStatus{Status: domain.BudgetWarning, Percentage: 90}},
		{Project: ProjectRef{ID: "x"}, Status: domain.BudgetStatus{Status: domain.BudgetCritical, Percentage: 96}},
	}
	sortAlerts(alerts)
	if alerts[0].Project.ID != "x" || alerts[1].Project.ID != "w" || alerts[2].Project.ID != "c" {
		t.Fatalf("unexpected order: %+v", alerts)
	}
}

func TestListLedgerAndAudits(t *testing.T) {
	store := newStubStore(project("p-1", "org-1", "1000", "0"), project("p-2", "org-1", "500", "0"))
	svc := newTestService(store)
	ctx := context.Background()

	for _, amount := range []string{"10", "20.25"} {
		if _, err := svc.LogExpense(ctx, teamLeader, ExpenseInput{ProjectID: "p-1", Amount: dec(amount)}); err != nil {
			t.Fatalf("LogExpense returned error: %v", err)
		}
	}
	if _, err := svc.LogExpense(ctx, teamLeader, ExpenseInput{ProjectID: "p-2", Amount: dec("5")}); err != nil {
		t.Fatalf("LogExpense returned error: %v", err)
	}
	threshold := 90
	if _, err := svc.Update(ctx, manager, "p-1", UpdateInput{AlertThreshold: &threshold}); err != nil {
		t.Fatalf("Update returned error: %v", err)
	}

	expenses, err := svc.ListExpenses(ctx, teamLeader, "p-1", 0, -3)
	if err != nil {
		t.Fatalf("ListExpenses returned error: %v", err)
	}
	if len(expenses) != 2 {
		t.Fatalf("expected two ledger entries for p-1, got %d", len(expenses))
	}
	if store.lastLimit != defaultPageSize {
		t.Fatalf("expected default page size, got %d", store.lastLimit)
	}

	audits, err := svc.ListAudits(ctx, manager, "p-1", 1000)
	if err != nil {
		t.Fatalf("ListAudits returned error: %v", err)
	}
	if len(audits) != 3 || audits[2].Action != domain.AuditBudgetUpdated {
		t.Fatalf("unexpected audits: %+v", audits)
	}
	for _, a := range audits[:2] {
		if a.Action != domain.AuditExpenseLogged {
			t.Fatalf("expected expense audits, got %+v", audits)
		}
	}
	if store.lastLimit != maxPageSize {
		t.Fatalf("expected page size capped at %d, got %d", maxPageSize, store.lastLimit)
	}

	if _, err := svc.ListExpenses(ctx, member, "p-1", 10, 0); !errors.Is(err, policy.ErrForbidden) {
		t.Fatalf("expected member to be forbidden, got %v", err)
	}
	outsider := policy.Actor{UserID: "x", OrganizationID: "org-2", Role: domain.RoleAdmin}
	if _, err := svc.ListAudits(ctx, outsider, "p-1", 10); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected cross-tenant read to be not found, got %v", err)
	}
}
