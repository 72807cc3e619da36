package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/splax/pmdesk/internal/service/auth"
	"github.com/splax/pmdesk/internal/service/budget"
	"github.com/splax/pmdesk/internal/service/capacity"
	"github.com/splax/pmdesk/internal/service/project"
	"github.com/splax/pmdesk/internal/service/user"
)

// Services groups the application services exposed over HTTP.
type Services struct {
	Auth     auth.Service
	Users    user.Service
	Projects project.Service
	Capacity capacity.Service
	Budget   budget.Service
}

// Options tunes router behaviour.
type Options struct {
	Limiter    RateLimiter
	DBHealth   func(context.Context) error
	Production bool
	// TrustedProxies lists the peers allowed to set X-Forwarded-For.
	TrustedProxies []netip.Prefix
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	auth       auth.Service
	users      user.Service
	projects   project.Service
	capacity   capacity.Service
	budget     budget.Service
	limiter    RateLimiter
	dbHealth   func(context.Context) error
	production bool

	trustedProxies []netip.Prefix
}

const (
	rateWindowDefault  = time.Minute
	healthCheckTimeout = 2 * time.Second
)

var (
	rateSignup  = rateRule{route: "auth_signup", limit: 5, window: rateWindowDefault}
	rateLogin   = rateRule{route: "auth_login", limit: 12, window: rateWindowDefault}
	rateRefresh = rateRule{route: "auth_refresh", limit: 30, window: rateWindowDefault}
	rateRead    = rateRule{route: "read", limit: 240, window: rateWindowDefault}
	rateWrite   = rateRule{route: "write", limit: 60, window: rateWindowDefault}
	rateExpense = rateRule{route: "expense", limit: 120, window: rateWindowDefault}
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, services Services, opts Options) *Router {
	r := &Router{
		mux:        http.NewServeMux(),
		logger:     logger,
		auth:       services.Auth,
		users:      services.Users,
		projects:   services.Projects,
		capacity:   services.Capacity,
		budget:     services.Budget,
		limiter:    opts.Limiter,
		dbHealth:   opts.DBHealth,
		production: opts.Production,

		trustedProxies: opts.TrustedProxies,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())

	r.mux.HandleFunc("/api/auth/signup", r.audit("auth_signup", r.withRateLimit(rateSignup, r.rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("/api/auth/login", r.audit("auth_login", r.withRateLimit(rateLogin, r.rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("/api/auth/refresh", r.audit("auth_refresh", r.withRateLimit(rateRefresh, r.rateLimitKeyIP, r.handleRefresh)))

	r.mux.HandleFunc("/api/users", r.audit("users", r.handlerAuthRate(rateWrite, r.handleUsers)))
	r.mux.HandleFunc("/api/users/", r.audit("users_item", r.handlerAuthRate(rateWrite, r.handleUserSubroutes)))

	r.mux.HandleFunc("/api/projects", r.audit("projects", r.handlerAuthRate(rateWrite, r.handleProjects)))
	r.mux.HandleFunc("/api/projects/", r.audit("projects_item", r.handlerAuthRate(rateWrite, r.handleProjectSubroutes)))

	r.mux.HandleFunc("/api/budget/project/", r.audit("budget_project", r.handlerAuthRate(rateRead, r.handleBudgetProject)))
	r.mux.HandleFunc("/api/budget/expense", r.audit("budget_expense", r.handlerAuthRate(rateExpense, r.handleLogExpense)))
	r.mux.HandleFunc("/api/budget/expense/", r.audit("budget_expense_reverse", r.handlerAuthRate(rateWrite, r.handleReverseExpense)))
	r.mux.HandleFunc("/api/budget/alerts", r.audit("budget_alerts", r.handlerAuthRate(rateRead, r.handleAlerts)))

	r.mux.HandleFunc("/api/pm/capacity", r.audit("pm_capacity", r.handlerAuthRate(rateRead, r.handlePMCapacity)))
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, envelope{Success: status == "ok", Data: payload})
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		recordRequestMetrics(req.Method, route, status, duration)

		actor := "anonymous"
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"route", route,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := r.clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			actor = info.Role
			fields = append(fields, "user_id", info.UserID, "organization_id", info.OrganizationID)
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

// splitPath trims prefix and returns the remaining non-empty segments.
func splitPath(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

// validID rejects identifiers that cannot name a stored row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func queryInt(req *http.Request, name string, fallback int) int {
	raw := strings.TrimSpace(req.URL.Query().Get(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
