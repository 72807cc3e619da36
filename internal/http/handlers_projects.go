package httpx

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/splax/pmdesk/internal/service/project"
)

type budgetRequest struct {
	Planned        *decimal.Decimal `json:"planned" validate:"omitempty,gte=0"`
	Currency       string           `json:"currency" validate:"omitempty,len=3"`
	AlertThreshold *int             `json:"alertThreshold" validate:"omitempty,min=0,max=100"`
}

type createProjectRequest struct {
	Name         string         `json:"name" validate:"required,max=200"`
	Description  string         `json:"description" validate:"max=2000"`
	Status       string         `json:"status" validate:"omitempty,oneof=planning in-progress on-hold completed cancelled"`
	ManagerID    string         `json:"managerId" validate:"omitempty,uuid"`
	TeamLeaderID string         `json:"teamLeaderId" validate:"omitempty,uuid"`
	Budget       *budgetRequest `json:"budget"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=planning in-progress on-hold completed cancelled"`
}

type assignRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

func (r *Router) handleProjects(w http.ResponseWriter, req *http.Request) {
	actor, ok := r.actorFrom(w, req)
	if !ok {
		return
	}
	switch req.Method {
	case http.MethodGet:
		projects, err := r.projects.List(req.Context(), actor)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, projectViews(projects))
	case http.MethodPost:
		var payload createProjectRequest
		if err := decodeJSON(w, req, &payload, false); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		input := project.CreateInput{
			Name:         payload.Name,
			Description:  payload.Description,
			Status:       payload.Status,
			ManagerID:    payload.ManagerID,
			TeamLeaderID: payload.TeamLeaderID,
		}
		if payload.Budget != nil {
			input.Budget = project.BudgetInput{
				Planned:        payload.Budget.Planned,
				Currency:       payload.Budget.Currency,
				AlertThreshold: payload.Budget.AlertThreshold,
			}
		}
		created, err := r.projects.Create(req.Context(), actor, input)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeData(w, http.StatusCreated, projectView(created))
	default:
		r.methodNotAllowed(w)
	}
}

// handleProjectSubroutes serves /api/projects/{id} and its status, team-leader
// and manager sub-resources.
func (r *Router) handleProjectSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := splitPath(req.URL.Path, "/api/projects/")
	if len(parts) == 0 || len(parts) > 2 || !validID(parts[0]) {
		r.notFound(w)
		return
	}
	actor, ok := r.actorFrom(w, req)
	if !ok {
		return
	}
	projectID := parts[0]
	if len(parts) == 1 {
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		found, err := r.projects.Get(req.Context(), actor, projectID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, projectView(found))
		return
	}
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}

	switch parts[1] {
	case "status":
		var payload statusRequest
		if err := decodeJSON(w, req, &payload, false); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		updated, err := r.projects.UpdateStatus(req.Context(), actor, projectID, payload.Status)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, projectView(updated))
	case "team-leader", "manager":
		var payload assignRequest
		if err := decodeJSON(w, req, &payload, false); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		assign := r.projects.AssignTeamLeader
		if parts[1] == "manager" {
			assign = r.projects.AssignManager
		}
		updated, err := assign(req.Context(), actor, projectID, payload.UserID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, projectView(updated))
	default:
		r.notFound(w)
	}
}
