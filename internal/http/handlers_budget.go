package httpx

import (
	"net/http"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/splax/pmdesk/internal/service/budget"
)

type updateBudgetRequest struct {
	Planned        *decimal.Decimal `json:"planned" validate:"omitempty,gte=0"`
	Spent          *decimal.Decimal `json:"spent" validate:"omitempty,gte=0"`
	Currency       *string          `json:"currency" validate:"omitempty,len=3"`
	AlertThreshold *int             `json:"alertThreshold" validate:"omitempty,min=0,max=100"`
}

type expenseRequest struct {
	ProjectID      string          `json:"projectId" validate:"required,uuid"`
	Amount         decimal.Decimal `json:"amount" validate:"required,gte=0.01"`
	Description    string          `json:"description" validate:"max=500"`
	IdempotencyKey string          `json:"idempotencyKey" validate:"max=128"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// handleBudgetProject serves /api/budget/project/{id}, .../expenses and .../audits.
func (r *Router) handleBudgetProject(w http.ResponseWriter, req *http.Request) {
	parts := splitPath(req.URL.Path, "/api/budget/project/")
	if len(parts) == 0 || len(parts) > 2 || !validID(parts[0]) {
		r.notFound(w)
		return
	}
	actor, ok := r.actorFrom(w, req)
	if !ok {
		return
	}
	projectID := parts[0]

	if len(parts) == 2 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		switch parts[1] {
		case "expenses":
			expenses, err := r.budget.ListExpenses(req.Context(), actor, projectID, queryInt(req, "limit", 0), queryInt(req, "offset", 0))
			if err != nil {
				r.writeServiceError(w, req, err)
				return
			}
			views := make([]map[string]any, 0, len(expenses))
			for i := range expenses {
				views = append(views, expenseView(&expenses[i]))
			}
			writeData(w, http.StatusOK, views)
		case "audits":
			audits, err := r.budget.ListAudits(req.Context(), actor, projectID, queryInt(req, "limit", 0))
			if err != nil {
				r.writeServiceError(w, req, err)
				return
			}
			views := make([]map[string]any, 0, len(audits))
			for i := range audits {
				views = append(views, auditView(&audits[i]))
			}
			writeData(w, http.StatusOK, views)
		default:
			r.notFound(w)
		}
		return
	}

	switch req.Method {
	case http.MethodGet:
		report, err := r.budget.Status(req.Context(), actor, projectID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, report)
	case http.MethodPut:
		if !r.allowWrite(w, req) {
			return
		}
		var payload updateBudgetRequest
		if err := decodeJSON(w, req, &payload, false); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		report, err := r.budget.Update(req.Context(), actor, projectID, budget.UpdateInput{
			Planned:        payload.Planned,
			Spent:          payload.Spent,
			Currency:       payload.Currency,
			AlertThreshold: payload.AlertThreshold,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, map[string]any{"budget": report.Budget, "status": report.Status})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleLogExpense(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.actorFrom(w, req)
	if !ok {
		return
	}
	var payload expenseRequest
	if err := decodeJSON(w, req, &payload, false); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	key := strings.TrimSpace(req.Header.Get("Idempotency-Key"))
	if key == "" {
		key = payload.IdempotencyKey
	}
	result, err := r.budget.LogExpense(req.Context(), actor, budget.ExpenseInput{
		ProjectID:      payload.ProjectID,
		Amount:         payload.Amount,
		Description:    payload.Description,
		IdempotencyKey: key,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	code := http.StatusCreated
	if result.Replayed {
		code = http.StatusOK
	}
	writeData(w, code, expenseResultView(result))
}

// handleReverseExpense serves POST /api/budget/expense/{id}/reverse.
func (r *Router) handleReverseExpense(w http.ResponseWriter, req *http.Request) {
	parts := splitPath(req.URL.Path, "/api/budget/expense/")
	if len(parts) != 2 || parts[1] != "reverse" || !validID(parts[0]) {
		r.notFound(w)
		return
	}
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.actorFrom(w, req)
	if !ok {
		return
	}
	var payload reverseRequest
	if err := decodeJSON(w, req, &payload, true); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	result, err := r.budget.ReverseExpense(req.Context(), actor, parts[0], payload.Reason)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeData(w, http.StatusCreated, expenseResultView(result))
}

func (r *Router) handleAlerts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.actorFrom(w, req)
	if !ok {
		return
	}
	alerts, err := r.budget.Alerts(req.Context(), actor)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeData(w, http.StatusOK, alerts)
}

// allowWrite applies the write limit to budget updates, which share a route
// group with the more generous read limit.
func (r *Router) allowWrite(w http.ResponseWriter, req *http.Request) bool {
	allowed := false
	r.withRateLimit(rateWrite, rateLimitKeyUser, func(http.ResponseWriter, *http.Request) { allowed = true })(w, req)
	return allowed
}
