package quarterplansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Quarterplan HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	TenantID    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, tenantID string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		TenantID: tenantID,
		Timeout:  10 * time.Second,
	}
}

// Value is a catalog value as rendered by the API.
type Value struct {
	ID    string `json:"id"`
	Slug  string `json:"slug"`
	Label string `json:"label"`
}

type Squad struct {
	ID              string  `json:"id"`
	TenantID        string  `json:"tenant_id"`
	Name            string  `json:"name"`
	Slug            string  `json:"slug"`
	Status          Value   `json:"status"`
	DefaultCapacity float64 `json:"default_capacity"`
}

type Capacity struct {
	ID                 string  `json:"id"`
	SquadID            string  `json:"squad_id"`
	Quarter            string  `json:"quarter"`
	TotalCapacity      float64 `json:"total_capacity"`
	UsedCapacity       float64 `json:"used_capacity"`
	BufferPercent      float64 `json:"buffer_percent"`
	UtilizationPercent float64 `json:"utilization_percent"`
	Overloaded         bool    `json:"overloaded"`
}

type Alert struct {
	Kind               string  `json:"kind"`
	SquadID            string  `json:"squad_id"`
	Quarter            string  `json:"quarter"`
	UtilizationPercent float64 `json:"utilization_percent"`
	Message            string  `json:"message"`
}

type Dependency struct {
	ID                string `json:"id"`
	BlockedFeatureID  string `json:"blocked_feature_id"`
	BlockingFeatureID string `json:"blocking_feature_id"`
	Type              Value  `json:"type"`
	Risk              Value  `json:"risk"`
	Note              string `json:"note,omitempty"`
}

type SquadAdjustment struct {
	SquadID      string  `json:"squad_id"`
	DeltaPercent float64 `json:"delta_percent"`
}

type ScenarioResult struct {
	Fitting     []string `json:"fitting"`
	Overflowing []string `json:"overflowing"`
	Comments    []string `json:"comments"`
}

type Scenario struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Quarter     string            `json:"quarter"`
	Status      Value             `json:"status"`
	Adjustments []SquadAdjustment `json:"adjustments"`
	Result      *ScenarioResult   `json:"result,omitempty"`
}

type SquadLoad struct {
	SquadID   string  `json:"squad_id"`
	Available float64 `json:"available"`
	Allocated float64 `json:"allocated"`
}

// Simulation is the outcome of a scenario run; Scenario.Result holds the
// fitting and overflowing epics.
type Simulation struct {
	Scenario Scenario    `json:"scenario"`
	Squads   []SquadLoad `json:"squads"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	TenantID   string         `json:"tenant_id"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// CreateSquad creates a squad; id may be empty.
func (c *Client) CreateSquad(ctx context.Context, id, name string) (Squad, error) {
	body := map[string]any{"name": name}
	if id != "" {
		body["id"] = id
	}
	var resp Squad
	err := c.do(ctx, http.MethodPost, c.tenantPath("squads"), body, &resp)
	return resp, err
}

// ReportCapacity upserts a squad's capacity for a quarter.
func (c *Client) ReportCapacity(ctx context.Context, squadID, quarter string, total, used float64) (Capacity, error) {
	body := map[string]any{
		"squad_id":       squadID,
		"quarter":        quarter,
		"total_capacity": total,
		"used_capacity":  used,
	}
	var resp Capacity
	err := c.do(ctx, http.MethodPut, c.tenantPath("capacity"), body, &resp)
	return resp, err
}

// Alerts returns capacity alerts for a quarter.
func (c *Client) Alerts(ctx context.Context, quarter string) ([]Alert, error) {
	var resp []Alert
	err := c.do(ctx, http.MethodGet, c.tenantPath("alerts?quarter="+url.QueryEscape(quarter)), nil, &resp)
	return resp, err
}

// AddDependency declares that blocking blocks blocked.
func (c *Client) AddDependency(ctx context.Context, blocked, blocking, note string) (Dependency, error) {
	body := map[string]any{
		"blocked_feature_id":  blocked,
		"blocking_feature_id": blocking,
		"note":                note,
	}
	var resp Dependency
	err := c.do(ctx, http.MethodPost, c.tenantPath("dependencies"), body, &resp)
	return resp, err
}

// CreateScenario creates a scenario for a quarter.
func (c *Client) CreateScenario(ctx context.Context, name, quarter string, adjustments []SquadAdjustment) (Scenario, error) {
	body := map[string]any{
		"name":        name,
		"quarter":     quarter,
		"adjustments": adjustments,
	}
	var resp Scenario
	err := c.do(ctx, http.MethodPost, c.tenantPath("scenarios"), body, &resp)
	return resp, err
}

// Simulate runs a scenario and returns the fitting and overflowing epics.
func (c *Client) Simulate(ctx context.Context, scenarioID string) (Simulation, error) {
	var resp Simulation
	endpoint := c.tenantPath(fmt.Sprintf("scenarios/%s/simulate", url.PathEscape(scenarioID)))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := c.tenantPath("events")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) tenantPath(p string) string {
	basePath := strings.Trim(c.BasePath, "/")
	if basePath == "" {
		basePath = "v1"
	}
	return fmt.Sprintf("%s/tenants/%s/%s", basePath, url.PathEscape(c.TenantID), strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
