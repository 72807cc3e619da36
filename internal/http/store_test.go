package httpx

import (
	"context"
	"sort"
	"sync"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/repository"
)

// memStore implements every repository interface in memory. Assignment checks
// see the same load the postgres repository computes under row locks.
type memStore struct {
	mu       sync.Mutex
	orgs     map[string]*domain.Organization
	users    map[string]*domain.User
	projects map[string]*domain.Project
	expenses []domain.Expense
	audits   []domain.BudgetAudit
}

func newMemStore() *memStore {
	return &memStore{
		orgs:     make(map[string]*domain.Organization),
		users:    make(map[string]*domain.User),
		projects: make(map[string]*domain.Project),
	}
}

func (m *memStore) CreateOrganization(ctx context.Context, org *domain.Organization, owner *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertUser(owner); err != nil {
		return err
	}
	m.orgs[org.ID] = org
	return nil
}

func (m *memStore) GetOrganizationByID(ctx context.Context, orgID string) (*domain.Organization, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if org, ok := m.orgs[orgID]; ok {
		return org, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) insertUser(user *domain.User) error {
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrConflict
		}
	}
	copied := *user
	m.users[user.ID] = &copied
	return nil
}

func (m *memStore) CreateUser(ctx context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertUser(user)
}

func (m *memStore) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			copied := *u
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		copied := *u
		return &copied, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) UpdateUserRole(ctx context.Context, orgID, userID, role string, maxProjects int) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok || u.OrganizationID != orgID {
		return nil, repository.ErrNotFound
	}
	u.Role = role
	u.MaxProjects = maxProjects
	copied := *u
	return &copied, nil
}

func (m *memStore) CountActiveAssigned(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	load := m.load(userID, "")
	return load.ActiveAssigned, nil
}

func (m *memStore) CountActiveLed(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	load := m.load(userID, "")
	return load.ActiveLed, nil
}

func (m *memStore) load(userID, excludeProject string) domain.AssigneeLoad {
	load := domain.AssigneeLoad{UserID: userID}
	if u, ok := m.users[userID]; ok {
		load.OrganizationID = u.OrganizationID
		load.Role = u.Role
		load.MaxProjects = u.MaxProjects
	}
	for id, p := range m.projects {
		if id == excludeProject || !p.Active() {
			continue
		}
		if p.ManagerID == userID || p.LedBy(userID) {
			load.ActiveAssigned++
		}
		if p.LedBy(userID) {
			load.ActiveLed++
		}
	}
	return load
}

func (m *memStore) check(orgID, projectID string, active bool, assignments []repository.Assignment) error {
	for _, a := range assignments {
		u, ok := m.users[a.UserID]
		if !ok || u.OrganizationID != orgID {
			return repository.ErrNotFound
		}
		load := m.load(a.UserID, projectID)
		load.ProjectActive = active
		if err := a.Check(load); err != nil {
			return err
		}
	}
	return nil
}

func (m *memStore) CreateProject(ctx context.Context, project *domain.Project, assignments ...repository.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(project.OrganizationID, project.ID, project.Active(), assignments); err != nil {
		return err
	}
	copied := *project
	m.projects[project.ID] = &copied
	return nil
}

func (m *memStore) GetProjectByID(ctx context.Context, orgID, projectID string) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok || p.OrganizationID != orgID {
		return nil, repository.ErrNotFound
	}
	copied := *p
	return &copied, nil
}

func (m *memStore) listWhere(keep func(*domain.Project) bool) []domain.Project {
	out := make([]domain.Project, 0)
	for _, p := range m.projects {
		if keep(p) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) ListProjectsByOrganization(ctx context.Context, orgID string) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listWhere(func(p *domain.Project) bool { return p.OrganizationID == orgID }), nil
}

func (m *memStore) ListProjectsForUser(ctx context.Context, orgID, userID string) ([]domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listWhere(func(p *domain.Project) bool {
		return p.OrganizationID == orgID && (p.ManagerID == userID || p.LedBy(userID))
	}), nil
}

func (m *memStore) UpdateProjectStatus(ctx context.Context, orgID, projectID, from, to string, assignments ...repository.Assignment) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok || p.OrganizationID != orgID {
		return nil, repository.ErrNotFound
	}
	if p.Status != from {
		return nil, repository.ErrConflict
	}
	if domain.IsActiveStatus(to) && !domain.IsActiveStatus(from) {
		if err := m.check(orgID, projectID, true, assignments); err != nil {
			return nil, err
		}
	}
	p.Status = to
	copied := *p
	return &copied, nil
}

func (m *memStore) assign(orgID, projectID string, assignment repository.Assignment, apply func(*domain.Project)) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[projectID]
	if !ok || p.OrganizationID != orgID {
		return nil, repository.ErrNotFound
	}
	if err := m.check(orgID, projectID, p.Active(), []repository.Assignment{assignment}); err != nil {
		return nil, err
	}
	apply(p)
	copied := *p
	return &copied, nil
}

func (m *memStore) AssignTeamLeader(ctx context.Context, orgID, projectID string, assignment repository.Assignment) (*domain.Project, error) {
	return m.assign(orgID, projectID, assignment, func(p *domain.Project) {
		id := assignment.UserID
		p.TeamLeaderID = &id
	})
}

func (m *memStore) AssignManager(ctx context.Context, orgID, projectID string, assignment repository.Assignment) (*domain.Project, error) {
	return m.assign(orgID, projectID, assignment, func(p *domain.Project) {
		p.ManagerID = assignment.UserID
	})
}

func (m *memStore) UpdateBudget(ctx context.Context, change repository.BudgetChange) (*domain.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[change.ProjectID]
	if !ok || p.OrganizationID != change.OrganizationID {
		return nil, repository.ErrNotFound
	}
	if change.Planned != nil {
		p.Budget.Planned = *change.Planned
	}
	if change.Spent != nil {
		p.Budget.Spent = *change.Spent
	}
	if change.Currency != nil {
		p.Budget.Currency = *change.Currency
	}
	if change.AlertThreshold != nil {
		p.Budget.AlertThreshold = *change.AlertThreshold
	}
	m.audits = append(m.audits, domain.BudgetAudit{ID: int64(len(m.audits) + 1), ProjectID: p.ID, OrganizationID: p.OrganizationID, ActorID: change.ActorID, Action: domain.AuditBudgetUpdated, Before: []byte("{}"), After: []byte("{}")})
	copied := *p
	return &copied, nil
}

func (m *memStore) AppendExpense(ctx context.Context, expense *domain.Expense) (*domain.Project, *domain.Expense, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[expense.ProjectID]
	if !ok || p.OrganizationID != expense.OrganizationID {
		return nil, nil, false, repository.ErrNotFound
	}
	for i := range m.expenses {
		stored := m.expenses[i]
		if expense.IdempotencyKey != nil && stored.IdempotencyKey != nil && *stored.IdempotencyKey == *expense.IdempotencyKey && stored.ProjectID == expense.ProjectID {
			copied := *p
			return &copied, &stored, true, nil
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
	m.expenses = append(m.expenses, *expense)
	m.audits = append(m.audits, domain.BudgetAudit{ID: int64(len(m.audits) + 1), ProjectID: p.ID, OrganizationID: p.OrganizationID, ActorID: expense.ActorID, Action: domain.ExpenseAuditAction(expense.Kind), Before: []byte("{}"), After: []byte("{}")})
	copied := *p
	return &copied, expense, false, nil
}

func (m *memStore) GetExpense(ctx context.Context, orgID, expenseID string) (*domain.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.expenses {
		if e.ID == expenseID && e.OrganizationID == orgID {
			return &e, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memStore) ListExpenses(ctx context.Context, orgID, projectID string, limit, offset int) ([]domain.Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Expense, 0)
	for _, e := range m.expenses {
		if e.ProjectID == projectID && e.OrganizationID == orgID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) ListBudgetAudits(ctx context.Context, orgID, projectID string, limit int) ([]domain.BudgetAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.BudgetAudit, 0)
	for i := len(m.audits) - 1; i >= 0; i-- {
		if a := m.audits[i]; a.ProjectID == projectID && a.OrganizationID == orgID {
			out = append(out, a)
		}
	}
	return out, nil
}

var (
	_ repository.OrganizationRepository = (*memStore)(nil)
	_ repository.UserRepository         = (*memStore)(nil)
	_ repository.ProjectRepository      = (*memStore)(nil)
	_ repository.LedgerRepository       = (*memStore)(nil)
)
