package httpx

import (
	"encoding/json"

	"github.com/splax/pmdesk/internal/domain"
	"github.com/splax/pmdesk/internal/service/budget"
)

func userView(u *domain.User) map[string]any {
	return map[string]any{
		"_id":            u.ID,
		"organizationId": u.OrganizationID,
		"email":          u.Email,
		"name":           u.Name,
		"role":           u.Role,
		"maxProjects":    u.MaxProjects,
		"createdAt":      u.CreatedAt,
	}
}

func projectView(p *domain.Project) map[string]any {
	view := map[string]any{
		"_id":          p.ID,
		"name":         p.Name,
		"description":  p.Description,
		"status":       p.Status,
		"managerId":    p.ManagerID,
		"teamLeaderId": nil,
		"budget":       p.Budget,
		"budgetStatus": p.Budget.Evaluate(),
		"createdAt":    p.CreatedAt,
		"updatedAt":    p.UpdatedAt,
	}
	if p.TeamLeaderID != nil {
		view["teamLeaderId"] = *p.TeamLeaderID
	}
	return view
}

func projectViews(projects []domain.Project) []map[string]any {
	views := make([]map[string]any, 0, len(projects))
	for i := range projects {
		views = append(views, projectView(&projects[i]))
	}
	return views
}

func expenseView(e *domain.Expense) map[string]any {
	view := map[string]any{
		"_id":         e.ID,
		"projectId":   e.ProjectID,
		"kind":        e.Kind,
		"amount":      e.Amount,
		"description": e.Description,
		"actorId":     e.ActorID,
		"createdAt":   e.CreatedAt,
	}
	if e.IdempotencyKey != nil {
		view["idempotencyKey"] = *e.IdempotencyKey
	}
	if e.ReversesID != nil {
		view["reversesId"] = *e.ReversesID
	}
	return view
}

func auditView(a *domain.BudgetAudit) map[string]any {
	return map[string]any{
		"id":        a.ID,
		"projectId": a.ProjectID,
		"actorId":   a.ActorID,
		"action":    a.Action,
		"before":    json.RawMessage(a.Before),
		"after":     json.RawMessage(a.After),
		"createdAt": a.CreatedAt,
	}
}

func expenseResultView(result *budget.ExpenseResult) map[string]any {
	view := map[string]any{
		"budget":   result.Budget,
		"status":   result.Status,
		"expense":  expenseView(result.Expense),
		"replayed": result.Replayed,
	}
	if result.Alert != nil {
		view["alert"] = result.Alert
	}
	return view
}
