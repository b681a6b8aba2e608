package server

import (
	"shotline/internal/domain"
	"shotline/internal/engine"
	"shotline/internal/flow"
)

// Request payloads

type CreateProjectRequest struct {
	ID    *string `json:"id,omitempty"`
	OrgID string  `json:"org_id"`
	Name  string  `json:"name"`
}

type ApplyTransitionRequest struct {
	To     string  `json:"to" enum:"requested,assigned,captured,processing,qa,delivered,approved,archived"`
	Reason *string `json:"reason,omitempty"`
	// ExpectedVersion guards against lost updates; omit to skip the check.
	ExpectedVersion *int64  `json:"expected_version,omitempty"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
}

type ChecklistItemSpecRequest struct {
	Label    string `json:"label"`
	Required bool   `json:"required,omitempty"`
}

type OpenCheckRequest struct {
	AssetIDs  []string                   `json:"asset_ids,omitempty"`
	Checklist []ChecklistItemSpecRequest `json:"checklist,omitempty"`
}

type ChecklistItemUpdateRequest struct {
	ItemID    string  `json:"item_id"`
	Completed bool    `json:"completed"`
	Notes     *string `json:"notes,omitempty"`
}

type UpdateChecklistRequest struct {
	Items []ChecklistItemUpdateRequest `json:"items"`
}

type ApproveCheckRequest struct {
	Notes *string `json:"notes,omitempty"`
}

type RequestChangesRequest struct {
	Notes *string                      `json:"notes,omitempty"`
	Items []ChecklistItemUpdateRequest `json:"items,omitempty"`
}

type RejectCheckRequest struct {
	Reason string `json:"reason"`
}

type ResubmitCheckRequest struct {
	AssetIDs []string `json:"asset_ids,omitempty"`
}

type CreateOrgRequest struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

type CreateActorRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role" enum:"admin,sales_lead,technician,approver,customer_owner,customer_viewer,public"`
	OrgID string `json:"org_id,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role" enum:"admin,sales_lead,technician,approver,customer_owner,customer_viewer,public"`
	OrgID   string `json:"org_id,omitempty"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

// Response payloads

type ProjectResponse struct {
	ID         string  `json:"id"`
	OrgID      string  `json:"org_id"`
	Name       string  `json:"name"`
	Status     string  `json:"status" enum:"requested,assigned,captured,processing,qa,delivered,approved,archived"`
	Version    int64   `json:"version"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	CreatedAt  string  `json:"created_at" format:"date-time"`
	UpdatedAt  string  `json:"updated_at" format:"date-time"`
}

type AuditEntryResponse struct {
	Seq          int64   `json:"seq"`
	ID           string  `json:"id"`
	ProjectID    string  `json:"project_id"`
	ActorID      string  `json:"actor_id"`
	ActorRole    string  `json:"actor_role" enum:"admin,sales_lead,technician,approver,customer_owner,customer_viewer,public"`
	FromStatus   string  `json:"from_status" enum:"requested,assigned,captured,processing,qa,delivered,approved,archived"`
	ToStatus     string  `json:"to_status" enum:"requested,assigned,captured,processing,qa,delivered,approved,archived"`
	Reason       *string `json:"reason,omitempty"`
	Outcome      string  `json:"outcome" enum:"applied,rejected"`
	RejectReason *string `json:"reject_reason,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

type TransitionResponse struct {
	Project ProjectResponse    `json:"project"`
	Audit   AuditEntryResponse `json:"audit"`
}

type TransitionOptionResponse struct {
	To               string `json:"to" enum:"requested,assigned,captured,processing,qa,delivered,approved,archived"`
	RequiresApproval bool   `json:"requires_approval"`
	Description      string `json:"description,omitempty"`
}

type ChecklistItemResponse struct {
	ID        string  `json:"id"`
	Position  int     `json:"position"`
	Label     string  `json:"label"`
	Required  bool    `json:"required"`
	Completed bool    `json:"completed"`
	Notes     *string `json:"notes,omitempty"`
}

type QACheckResponse struct {
	ID         string                  `json:"id"`
	ProjectID  string                  `json:"project_id"`
	Status     string                  `json:"status" enum:"pending,under_review,changes_requested,approved,rejected"`
	AssetIDs   []string                `json:"asset_ids"`
	Checklist  []ChecklistItemResponse `json:"checklist"`
	ReviewerID *string                 `json:"reviewer_id,omitempty"`
	Notes      *string                 `json:"notes,omitempty"`
	Submission int                     `json:"submission"`
	CreatedAt  string                  `json:"created_at" format:"date-time"`
	UpdatedAt  string                  `json:"updated_at" format:"date-time"`
}

type OrgResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ActorResponse struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id,omitempty"`
	Name      string `json:"name"`
	Role      string `json:"role" enum:"admin,sales_lead,technician,approver,customer_owner,customer_viewer,public"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	OrgID   string `json:"org_id,omitempty"`
	Source  string `json:"source"`
}

type paginatedProjects struct {
	Items      []ProjectResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

type paginatedAudit struct {
	Items      []AuditEntryResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:         p.ID,
		OrgID:      p.OrgID,
		Name:       p.Name,
		Status:     string(p.Status),
		Version:    p.Version,
		AssigneeID: p.AssigneeID,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func auditResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse{
		Seq:          e.Seq,
		ID:           e.ID,
		ProjectID:    e.ProjectID,
		ActorID:      e.ActorID,
		ActorRole:    string(e.ActorRole),
		FromStatus:   string(e.FromStatus),
		ToStatus:     string(e.ToStatus),
		Reason:       e.Reason,
		Outcome:      string(e.Outcome),
		RejectReason: e.RejectReason,
		CreatedAt:    e.CreatedAt,
	}
}

func checklistItemResponse(it domain.ChecklistItem) ChecklistItemResponse {
	return ChecklistItemResponse{
		ID:        it.ID,
		Position:  it.Position,
		Label:     it.Label,
		Required:  it.Required,
		Completed: it.Completed,
		Notes:     it.Notes,
	}
}

func checkResponse(c domain.QACheck) QACheckResponse {
	items := make([]ChecklistItemResponse, 0, len(c.Checklist))
	for _, it := range c.Checklist {
		items = append(items, checklistItemResponse(it))
	}
	return QACheckResponse{
		ID:         c.ID,
		ProjectID:  c.ProjectID,
		Status:     string(c.Status),
		AssetIDs:   nonNilSlice(c.AssetIDs),
		Checklist:  items,
		ReviewerID: c.ReviewerID,
		Notes:      c.Notes,
		Submission: c.Submission,
		CreatedAt:  c.CreatedAt,
		UpdatedAt:  c.UpdatedAt,
	}
}

func orgResponse(o domain.Org) OrgResponse {
	return OrgResponse(o)
}

func actorResponse(a domain.Actor) ActorResponse {
	return ActorResponse{
		ID:        a.ID,
		OrgID:     a.OrgID,
		Name:      a.Name,
		Role:      string(a.Role),
		CreatedAt: a.CreatedAt,
	}
}

func transitionOptions(rules []flow.Rule) []TransitionOptionResponse {
	res := make([]TransitionOptionResponse, 0, len(rules))
	for _, r := range rules {
		res = append(res, TransitionOptionResponse{
			To:               string(r.To),
			RequiresApproval: r.RequiresApproval,
			Description:      r.Description,
		})
	}
	return res
}

func checklistSpecs(in []ChecklistItemSpecRequest) []engine.ChecklistItemSpec {
	specs := make([]engine.ChecklistItemSpec, 0, len(in))
	for _, s := range in {
		specs = append(specs, engine.ChecklistItemSpec{Label: s.Label, Required: s.Required})
	}
	return specs
}

func checklistUpdates(in []ChecklistItemUpdateRequest) []engine.ChecklistUpdate {
	updates := make([]engine.ChecklistUpdate, 0, len(in))
	for _, u := range in {
		updates = append(updates, engine.ChecklistUpdate{ItemID: u.ItemID, Completed: u.Completed, Notes: u.Notes})
	}
	return updates
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapAudit(items []domain.AuditEntry) []AuditEntryResponse {
	res := make([]AuditEntryResponse, 0, len(items))
	for _, e := range items {
		res = append(res, auditResponse(e))
	}
	return res
}

func mapChecks(items []domain.QACheck) []QACheckResponse {
	res := make([]QACheckResponse, 0, len(items))
	for _, c := range items {
		res = append(res, checkResponse(c))
	}
	return res
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
