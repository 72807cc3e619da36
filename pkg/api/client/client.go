package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Client provides typed access to the pmdesk API for interactive tools.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API. Fields is set for
// validation failures and maps the offending field to its message.
type APIError struct {
	Status  int
	Message string
	Fields  map[string]string
}

func (e APIError) Error() string {
	msg := e.Message
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		msg = strings.TrimSpace(msg + " (" + strings.Join(parts, ", ") + ")")
	}
	if msg == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, msg)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

type request struct {
	method  string
	path    string
	body    any
	token   string
	headers map[string]string
}

func (c *Client) do(ctx context.Context, r request, v any) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader
	if r.body != nil {
		payload, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, c.baseURL+r.path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := strings.TrimSpace(r.token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, val := range r.headers {
		req.Header.Set(k, val)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		}
		return fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest || !env.Success {
		return extractError(resp.StatusCode, env)
	}
	if v == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func extractError(status int, env envelope) APIError {
	apiErr := APIError{Status: status, Message: strings.TrimSpace(env.Message)}
	if len(env.Error) == 0 {
		return apiErr
	}
	var text string
	if err := json.Unmarshal(env.Error, &text); err == nil {
		if apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(text)
		}
		return apiErr
	}
	var fields map[string]string
	if err := json.Unmarshal(env.Error, &fields); err == nil {
		apiErr.Fields = fields
	}
	return apiErr
}

// LoginResponse captures the token payload emitted by the API.
type LoginResponse struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// User reflects API user payloads.
type User struct {
	ID             string `json:"_id"`
	OrganizationID string `json:"organizationId"`
	Email          string `json:"email"`
	Name           string `json:"name"`
	Role           string `json:"role"`
	MaxProjects    int    `json:"maxProjects"`
}

// TokenPair holds authentication tokens. ExpiresIn is in seconds.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Login exchanges credentials for tokens.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResponse, error) {
	payload := map[string]string{"email": email, "password": password}
	var resp LoginResponse
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/login", body: payload}, &resp); err != nil {
		return LoginResponse{}, err
	}
	return resp, nil
}

// Refresh trades a refresh token for a new pair.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	payload := map[string]string{"refreshToken": refreshToken}
	var resp struct {
		Tokens TokenPair `json:"tokens"`
	}
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/refresh", body: payload}, &resp); err != nil {
		return TokenPair{}, err
	}
	return resp.Tokens, nil
}

// Budget mirrors the budget embedded in a project.
type Budget struct {
	Planned        decimal.Decimal `json:"planned"`
	Spent          decimal.Decimal `json:"spent"`
	Currency       string          `json:"currency"`
	AlertThreshold int             `json:"alertThreshold"`
}

// BudgetStatus is the derived view of a budget.
type BudgetStatus struct {
	Percentage float64         `json:"percentage"`
	Remaining  decimal.Decimal `json:"remaining"`
	Status     string          `json:"status"`
	IsAlert    bool            `json:"isAlert"`
}

// ProjectRef names the project a budget report belongs to.
type ProjectRef struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// BudgetReport is returned by the budget status and alert endpoints.
type BudgetReport struct {
	Project ProjectRef   `json:"project"`
	Budget  Budget       `json:"budget"`
	Status  BudgetStatus `json:"status"`
}

// BudgetStatus fetches the budget of one project.
func (c *Client) BudgetStatus(ctx context.Context, token, projectID string) (BudgetReport, error) {
	path := fmt.Sprintf("/api/budget/project/%s", url.PathEscape(projectID))
	var report BudgetReport
	if err := c.do(ctx, request{method: http.MethodGet, path: path, token: token}, &report); err != nil {
		return BudgetReport{}, err
	}
	return report, nil
}

// Alerts lists every visible project whose budget is at or past its alert threshold.
func (c *Client) Alerts(ctx context.Context, token string) ([]BudgetReport, error) {
	var reports []BudgetReport
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/budget/alerts", token: token}, &reports); err != nil {
		return nil, err
	}
	return reports, nil
}

// ExpenseInput is the payload for logging an expense.
type ExpenseInput struct {
	ProjectID   string          `json:"projectId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
	// IdempotencyKey is sent as the Idempotency-Key header.
	IdempotencyKey string `json:"-"`
}

// Expense is a ledger entry.
type Expense struct {
	ID          string          `json:"_id"`
	ProjectID   string          `json:"projectId"`
	Kind        string          `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Alert accompanies an expense that leaves the budget alerting.
type Alert struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ExpenseResult is the API answer to a logged expense.
type ExpenseResult struct {
	Budget   Budget       `json:"budget"`
	Status   BudgetStatus `json:"status"`
	Expense  Expense      `json:"expense"`
	Alert    *Alert       `json:"alert,omitempty"`
	Replayed bool         `json:"replayed"`
}

// LogExpense records an expense against a project budget.
func (c *Client) LogExpense(ctx context.Context, token string, input ExpenseInput) (ExpenseResult, error) {
	r := request{method: http.MethodPost, path: "/api/budget/expense", body: input, token: token}
	if key := strings.TrimSpace(input.IdempotencyKey); key != "" {
		r.headers = map[string]string{"Idempotency-Key": key}
	}
	var result ExpenseResult
	if err := c.do(ctx, r, &result); err != nil {
		return ExpenseResult{}, err
	}
	return result, nil
}

// ProjectCapacity is the caller's load as a project manager.
type ProjectCapacity struct {
	Name                  string  `json:"name"`
	MaxProjects           int     `json:"maxProjects"`
	ActiveProjects        int     `json:"activeProjects"`
	AvailableSlots        int     `json:"availableSlots"`
	CanTakeMore           bool    `json:"canTakeMore"`
	UtilizationPercentage float64 `json:"utilizationPercentage"`
}

// LeaderCapacity is the caller's load as a team leader.
type LeaderCapacity struct {
	ActiveProjects int  `json:"activeProjects"`
	AvailableSlots int  `json:"availableSlots"`
	CanLead        bool `json:"canLead"`
}

// Capacity groups both views of the caller's load.
type Capacity struct {
	PM         ProjectCapacity `json:"pm"`
	TeamLeader LeaderCapacity  `json:"teamLeader"`
}

// Capacity returns the authenticated user's capacity.
func (c *Client) Capacity(ctx context.Context, token string) (Capacity, error) {
	var capacity Capacity
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/pm/capacity", token: token}, &capacity); err != nil {
		return Capacity{}, err
	}
	return capacity, nil
}
