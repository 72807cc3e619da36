package httpx

import (
	"net/http"

	"github.com/splax/pmdesk/internal/service/auth"
	"github.com/splax/pmdesk/internal/service/user"
)

type signupRequest struct {
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=8,max=72"`
	Name             string `json:"name" validate:"max=120"`
	OrganizationName string `json:"organizationName" validate:"required,max=120"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type createUserRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	Name        string `json:"name" validate:"max=120"`
	Role        string `json:"role" validate:"required,oneof=admin project_manager team_leader member"`
	MaxProjects *int   `json:"maxProjects" validate:"omitempty,min=1,max=20"`
}

type roleRequest struct {
	Role        string `json:"role" validate:"required,oneof=admin project_manager team_leader member"`
	MaxProjects *int   `json:"maxProjects" validate:"omitempty,min=1,max=20"`
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload signupRequest
	if err := decodeJSON(w, req, &payload, false); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	created, tokens, err := r.auth.Signup(req.Context(), auth.SignupInput{
		Email:            payload.Email,
		Password:         payload.Password,
		Name:             payload.Name,
		OrganizationName: payload.OrganizationName,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeData(w, http.StatusCreated, map[string]any{
		"user":   userView(created),
		"tokens": tokens,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload loginRequest
	if err := decodeJSON(w, req, &payload, false); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	found, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"user":   userView(found),
		"tokens": tokens,
	})
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload refreshRequest
	if err := decodeJSON(w, req, &payload, false); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	tokens, err := r.auth.Refresh(req.Context(), payload.RefreshToken)
	if err != nil {
		r.logger.Warn("refresh rejected", "error", err)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	writeData(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (r *Router) handleUsers(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.actorFrom(w, req)
	if !ok {
		return
	}
	var payload createUserRequest
	if err := decodeJSON(w, req, &payload, false); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	created, err := r.users.Create(req.Context(), actor, user.CreateInput{
		Email:       payload.Email,
		Password:    payload.Password,
		Name:        payload.Name,
		Role:        payload.Role,
		MaxProjects: payload.MaxProjects,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeData(w, http.StatusCreated, userView(created))
}

// handleUserSubroutes serves /api/users/{id}/role and /api/users/{id}/capacity.
func (r *Router) handleUserSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := splitPath(req.URL.Path, "/api/users/")
	if len(parts) != 2 || !validID(parts[0]) {
		r.notFound(w)
		return
	}
	actor, ok := r.actorFrom(w, req)
	if !ok {
		return
	}
	userID := parts[0]
	switch parts[1] {
	case "role":
		if req.Method != http.MethodPut {
			r.methodNotAllowed(w)
			return
		}
		var payload roleRequest
		if err := decodeJSON(w, req, &payload, false); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		updated, err := r.users.AssignRole(req.Context(), actor, userID, payload.Role, payload.MaxProjects)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, userView(updated))
	case "capacity":
		if req.Method != http.MethodGet {
			r.methodNotAllowed(w)
			return
		}
		report, err := r.capacity.ForUser(req.Context(), actor, userID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeData(w, http.StatusOK, report)
	default:
		r.notFound(w)
	}
}

// handlePMCapacity reports the caller's own project capacity.
func (r *Router) handlePMCapacity(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	actor, ok := r.actorFrom(w, req)
	if !ok {
		return
	}
	report, err := r.capacity.ForUser(req.Context(), actor, actor.UserID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"pm": map[string]any{
			"name":                  report.Name,
			"maxProjects":           report.Projects.MaxProjects,
			"activeProjects":        report.Projects.ActiveProjects,
			"availableSlots":        report.Projects.AvailableSlots,
			"canTakeMore":           report.Projects.CanTakeMore,
			"utilizationPercentage": report.Projects.UtilizationPercentage,
		},
		"teamLeader": report.TeamLeader,
	})
}
