package shotlinesdk

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

// Client is a minimal Shotline HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/api/v1",
		Timeout:  10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID         string  `json:"id"`
	OrgID      string  `json:"org_id"`
	Name       string  `json:"name"`
	Status     string  `json:"status"`
	Version    int64   `json:"version"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
}

// AuditEntry represents one row of the audit ledger.
type AuditEntry struct {
	Seq          int64   `json:"seq"`
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	ActorID      string  `json:"actor_id"`
	ActorRole    string  `json:"actor_role"`
	FromStatus   string  `json:"from_status"`
	ToStatus     string  `json:"to_status"`
	Reason       *string `json:"reason,omitempty"`
	Outcome      string  `json:"outcome"`
	RejectReason *string `json:"reject_reason,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// TransitionResult pairs the updated project with the ledger entry the
// transition wrote.
type TransitionResult struct {
	Project Project    `json:"project"`
	Audit   AuditEntry `json:"audit"`
}

// TransitionOption is one move the caller's role may take from the
// project's current status.
type TransitionOption struct {
	To               string `json:"to"`
	RequiresApproval bool   `json:"requires_approval"`
	Description      string `json:"description,omitempty"`
}

// ChecklistItem is one line of a QA checklist.
type ChecklistItem struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Required  bool    `json:"required"`
	Completed bool    `json:"completed"`
	Notes     *string `json:"notes,omitempty"`
	Position  int     `json:"position"`
}

// QACheck represents one review round over a project's assets.
type QACheck struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Status     string          `json:"status"`
	AssetIDs   []string        `json:"asset_ids"`
	Checklist  []ChecklistItem `json:"checklist"`
	ReviewerID *string         `json:"reviewer_id,omitempty"`
	Notes      *string         `json:"notes,omitempty"`
	Submission int             `json:"submission"`
	CreatedAt  string          `json:"created_at"`
	UpdatedAt  string          `json:"updated_at"`
}

// ChecklistItemSpec describes a checklist item when opening a check.
type ChecklistItemSpec struct {
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// ChecklistItemUpdate rewrites one item's completion state.
type ChecklistItemUpdate struct {
	ItemID    string  `json:"item_id"`
	Completed bool    `json:"completed"`
	Notes     *string `json:"notes,omitempty"`
}

// TransitionRequest asks for one status change.
type TransitionRequest struct {
	To              string `json:"to"`
	Reason          string `json:"reason,omitempty"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
	AssigneeID      string `json:"assignee_id,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedProjects wraps project listings with a cursor.
type PaginatedProjects struct {
	Items      []Project `json:"items"`
	NextCursor string    `json:"next_cursor"`
}

// PaginatedAudit wraps audit listings with a cursor.
type PaginatedAudit struct {
	Items      []AuditEntry `json:"items"`
	NextCursor string       `json:"next_cursor"`
}

// ProjectsQuery filters a project listing.
type ProjectsQuery struct {
	OrgID  string
	Status string
	Limit  int
	Cursor string
}

// CreateProject registers a new project for an org.
func (c *Client) CreateProject(ctx context.Context, orgID, name string) (Project, error) {
	body := map[string]any{
		"org_id": orgID,
		"name":   name,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "projects", body, &resp)
	return resp, err
}

// Project fetches a project by id.
func (c *Client) Project(ctx context.Context, id string) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, "projects/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// Projects returns the first page of projects.
func (c *Client) Projects(ctx context.Context, limit int) ([]Project, error) {
	page, err := c.ProjectsPage(ctx, ProjectsQuery{Limit: limit})
	return page.Items, err
}

// ProjectsPage returns a filtered, paginated project listing.
func (c *Client) ProjectsPage(ctx context.Context, q ProjectsQuery) (PaginatedProjects, error) {
	params := url.Values{}
	if q.OrgID != "" {
		params.Set("org_id", q.OrgID)
	}
	if q.Status != "" {
		params.Set("status", q.Status)
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}
	if q.Cursor != "" {
		params.Set("cursor", q.Cursor)
	}
	endpoint := "projects"
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedProjects
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// RequestTransition applies one status change to a project.
func (c *Client) RequestTransition(ctx context.Context, projectID string, req TransitionRequest) (TransitionResult, error) {
	var resp TransitionResult
	endpoint := fmt.Sprintf("projects/%s/transitions", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, req, &resp)
	return resp, err
}

// NextStates returns the transitions the caller's role may take.
func (c *Client) NextStates(ctx context.Context, projectID string) ([]TransitionOption, error) {
	var resp []TransitionOption
	endpoint := fmt.Sprintf("projects/%s/transitions", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Audit returns the latest ledger entries for a project.
func (c *Client) Audit(ctx context.Context, projectID string, limit int) ([]AuditEntry, error) {
	page, err := c.AuditPage(ctx, projectID, limit, "")
	return page.Items, err
}

// AuditPage returns a paginated audit listing.
func (c *Client) AuditPage(ctx context.Context, projectID string, limit int, cursor string) (PaginatedAudit, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	endpoint := fmt.Sprintf("projects/%s/audit", url.PathEscape(projectID))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp PaginatedAudit
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// OpenCheck opens a QA check over the given assets. A nil checklist uses
// the server's configured template.
func (c *Client) OpenCheck(ctx context.Context, projectID string, assetIDs []string, checklist []ChecklistItemSpec) (QACheck, error) {
	body := map[string]any{
		"asset_ids": assetIDs,
	}
	if len(checklist) > 0 {
		body["checklist"] = checklist
	}
	var resp QACheck
	endpoint := fmt.Sprintf("projects/%s/qa-checks", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// ActiveCheck fetches the project's unresolved check, if any.
func (c *Client) ActiveCheck(ctx context.Context, projectID string) (QACheck, error) {
	var resp QACheck
	endpoint := fmt.Sprintf("projects/%s/qa-checks/active", url.PathEscape(projectID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Check fetches a QA check by id.
func (c *Client) Check(ctx context.Context, id string) (QACheck, error) {
	var resp QACheck
	err := c.do(ctx, http.MethodGet, "qa-checks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// UpdateChecklist rewrites checklist item states on a check.
func (c *Client) UpdateChecklist(ctx context.Context, checkID string, items []ChecklistItemUpdate) (QACheck, error) {
	body := map[string]any{"items": items}
	var resp QACheck
	endpoint := fmt.Sprintf("qa-checks/%s/checklist", url.PathEscape(checkID))
	err := c.do(ctx, http.MethodPatch, endpoint, body, &resp)
	return resp, err
}

// StartReview claims a pending check for review.
func (c *Client) StartReview(ctx context.Context, checkID string) (QACheck, error) {
	var resp QACheck
	endpoint := fmt.Sprintf("qa-checks/%s/start-review", url.PathEscape(checkID))
	err := c.do(ctx, http.MethodPost, endpoint, nil, &resp)
	return resp, err
}

// Approve approves the check, delivering the project.
func (c *Client) Approve(ctx context.Context, checkID, notes string) (QACheck, error) {
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	var resp QACheck
	endpoint := fmt.Sprintf("qa-checks/%s/approve", url.PathEscape(checkID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// RequestChanges sends the check back to the technician.
func (c *Client) RequestChanges(ctx context.Context, checkID, notes string, items []ChecklistItemUpdate) (QACheck, error) {
	body := map[string]any{}
	if notes != "" {
		body["notes"] = notes
	}
	if len(items) > 0 {
		body["items"] = items
	}
	var resp QACheck
	endpoint := fmt.Sprintf("qa-checks/%s/request-changes", url.PathEscape(checkID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Reject rejects the check, sending the project back to captured.
func (c *Client) Reject(ctx context.Context, checkID, reason string) (QACheck, error) {
	body := map[string]any{"reason": reason}
	var resp QACheck
	endpoint := fmt.Sprintf("qa-checks/%s/reject", url.PathEscape(checkID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Resubmit hands the corrected assets back for another review round.
func (c *Client) Resubmit(ctx context.Context, checkID string, assetIDs []string) (QACheck, error) {
	body := map[string]any{"asset_ids": assetIDs}
	var resp QACheck
	endpoint := fmt.Sprintf("qa-checks/%s/resubmit", url.PathEscape(checkID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + c.apiPath(endpoint)
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
		req.Header.Set("X-API-Key", c.APIKey)
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

func (c *Client) apiPath(p string) string {
	base := c.BasePath
	if base == "" {
		base = "/api/v1"
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
