package samanvaysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Samanvay HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Workflow represents the API workflow model.
type Workflow struct {
	ProjectID          string          `json:"project_id"`
	CurrentStage       string          `json:"current_stage"`
	ImplementingAgency string          `json:"implementing_agency"`
	NodalAgency        *string         `json:"nodal_agency,omitempty"`
	ExecutingAgencies  []string        `json:"executing_agencies,omitempty"`
	MonitoringAgency   *string         `json:"monitoring_agency,omitempty"`
	History            []WorkflowEvent `json:"history"`
	Stalled            bool            `json:"stalled"`
	Version            int64           `json:"version"`
	CreatedAt          string          `json:"created_at"`
	UpdatedAt          string          `json:"updated_at"`
}

// WorkflowEvent is one entry in a workflow's history.
type WorkflowEvent struct {
	Seq      int            `json:"seq"`
	Stage    string         `json:"stage"`
	ActorID  string         `json:"actor_id"`
	Action   string         `json:"action"`
	Notes    string         `json:"notes,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	TS       string         `json:"ts"`
}

// Agency represents a registered agency.
type Agency struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Department string `json:"department,omitempty"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
}

// Notification is one inbox entry for an agency.
type Notification struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	SourceAgency string         `json:"source_agency"`
	TargetAgency string         `json:"target_agency"`
	Subject      string         `json:"subject"`
	Body         string         `json:"body"`
	Priority     string         `json:"priority"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// Stats summarizes workflow counts per stage.
type Stats struct {
	Total  int            `json:"total"`
	Stages map[string]int `json:"stages"`
}

// ActionRequest is the body for workflow actions.
type ActionRequest struct {
	Action      string         `json:"action"`
	AgencyID    string         `json:"agency_id,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Progress    map[string]any `json:"progress,omitempty"`
	FinalReport map[string]any `json:"final_report,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateWorkflow creates a workflow for a project.
func (c *Client) CreateWorkflow(ctx context.Context, projectID, implementingAgencyID string) (Workflow, error) {
	body := map[string]any{
		"project_id":             projectID,
		"implementing_agency_id": implementingAgencyID,
	}
	var resp Workflow
	err := c.do(ctx, http.MethodPost, "v0/workflows", body, &resp)
	return resp, err
}

// Workflow fetches a workflow by project id.
func (c *Client) Workflow(ctx context.Context, projectID string) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodGet, c.workflowPath(projectID, ""), nil, &resp)
	return resp, err
}

// Workflows lists workflows, optionally filtered by stage.
func (c *Client) Workflows(ctx context.Context, stage string) ([]Workflow, error) {
	endpoint := "v0/workflows"
	if stage != "" {
		endpoint += "?stage=" + url.QueryEscape(stage)
	}
	var resp []Workflow
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns a workflow's history.
func (c *Client) Events(ctx context.Context, projectID string) ([]WorkflowEvent, error) {
	var resp []WorkflowEvent
	err := c.do(ctx, http.MethodGet, c.workflowPath(projectID, "events"), nil, &resp)
	return resp, err
}

// Act applies a workflow action and returns the updated workflow.
func (c *Client) Act(ctx context.Context, projectID string, req ActionRequest) (Workflow, error) {
	var resp Workflow
	err := c.do(ctx, http.MethodPost, c.workflowPath(projectID, "actions"), req, &resp)
	return resp, err
}

// Pending lists workflows awaiting action by an agency.
func (c *Client) Pending(ctx context.Context, agencyID string) ([]Workflow, error) {
	var resp []Workflow
	endpoint := fmt.Sprintf("v0/agencies/%s/pending", url.PathEscape(agencyID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications lists an agency's inbox, newest first.
func (c *Client) Notifications(ctx context.Context, agencyID string, limit int) ([]Notification, error) {
	endpoint := fmt.Sprintf("v0/agencies/%s/notifications", url.PathEscape(agencyID))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Notification
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateAgency registers an agency.
func (c *Client) CreateAgency(ctx context.Context, id, name, agencyType, department string) (Agency, error) {
	body := map[string]any{
		"id":         id,
		"name":       name,
		"type":       agencyType,
		"department": department,
	}
	var resp Agency
	err := c.do(ctx, http.MethodPost, "v0/agencies", body, &resp)
	return resp, err
}

// Agencies lists registered agencies, optionally filtered by type.
func (c *Client) Agencies(ctx context.Context, agencyType string) ([]Agency, error) {
	endpoint := "v0/agencies"
	if agencyType != "" {
		endpoint += "?type=" + url.QueryEscape(agencyType)
	}
	var resp []Agency
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Stats returns workflow counts per stage.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var resp Stats
	err := c.do(ctx, http.MethodGet, "v0/stats", nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
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
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) workflowPath(projectID, sub string) string {
	p := fmt.Sprintf("v0/workflows/%s", url.PathEscape(projectID))
	if sub != "" {
		p += "/" + strings.TrimLeft(sub, "/")
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
