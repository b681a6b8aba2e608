package domain

// ProjectStatus is the closed set of lifecycle states a project moves through.
type ProjectStatus string

const (
	StatusRequested  ProjectStatus = "requested"
	StatusAssigned   ProjectStatus = "assigned"
	StatusCaptured   ProjectStatus = "captured"
	StatusProcessing ProjectStatus = "processing"
	StatusQA         ProjectStatus = "qa"
	StatusDelivered  ProjectStatus = "delivered"
	StatusApproved   ProjectStatus = "approved"
	StatusArchived   ProjectStatus = "archived"
)

// ProjectStatuses lists every valid status in lifecycle order.
var ProjectStatuses = []ProjectStatus{
	StatusRequested,
	StatusAssigned,
	StatusCaptured,
	StatusProcessing,
	StatusQA,
	StatusDelivered,
	StatusApproved,
	StatusArchived,
}

func (s ProjectStatus) Valid() bool {
	for _, v := range ProjectStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status has no outgoing transitions.
func (s ProjectStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusArchived
}

func (s ProjectStatus) String() string { return string(s) }

// Role is the closed set of caller roles the workflow recognizes.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleSalesLead      Role = "sales_lead"
	RoleTechnician     Role = "technician"
	RoleApprover       Role = "approver"
	RoleCustomerOwner  Role = "customer_owner"
	RoleCustomerViewer Role = "customer_viewer"
	RolePublic         Role = "public"
)

var Roles = []Role{
	RoleAdmin,
	RoleSalesLead,
	RoleTechnician,
	RoleApprover,
	RoleCustomerOwner,
	RoleCustomerViewer,
	RolePublic,
}

func (r Role) Valid() bool {
	for _, v := range Roles {
		if v == r {
			return true
		}
	}
	return false
}

func (r Role) String() string { return string(r) }

// CheckStatus is the review state of a QA check.
type CheckStatus string

const (
	CheckPending          CheckStatus = "pending"
	CheckUnderReview      CheckStatus = "under_review"
	CheckChangesRequested CheckStatus = "changes_requested"
	CheckApproved         CheckStatus = "approved"
	CheckRejected         CheckStatus = "rejected"
)

var CheckStatuses = []CheckStatus{
	CheckPending,
	CheckUnderReview,
	CheckChangesRequested,
	CheckApproved,
	CheckRejected,
}

func (s CheckStatus) Valid() bool {
	for _, v := range CheckStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the check is resolved and can no longer change.
func (s CheckStatus) IsTerminal() bool {
	return s == CheckApproved || s == CheckRejected
}

// Active reports whether the check still occupies the project's single
// active-check slot.
func (s CheckStatus) Active() bool {
	return !s.IsTerminal()
}

func (s CheckStatus) String() string { return string(s) }

// Outcome records how a transition attempt ended.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeRejected Outcome = "rejected"
)

func (o Outcome) String() string { return string(o) }

type Project struct {
	ID         string        `json:"id"`
	OrgID      string        `json:"org_id"`
	Name       string        `json:"name"`
	Status     ProjectStatus `json:"status"`
	Version    int64         `json:"version"`
	AssigneeID *string       `json:"assignee_id,omitempty"`
	CreatedAt  string        `json:"created_at" format:"date-time"`
	UpdatedAt  string        `json:"updated_at" format:"date-time"`
}

type QACheck struct {
	ID         string          `json:"id"`
	ProjectID  string          `json:"project_id"`
	Status     CheckStatus     `json:"status"`
	AssetIDs   []string        `json:"asset_ids"`
	Checklist  []ChecklistItem `json:"checklist"`
	ReviewerID *string         `json:"reviewer_id,omitempty"`
	Notes      *string         `json:"notes,omitempty"`
	Submission int             `json:"submission"`
	CreatedAt  string          `json:"created_at" format:"date-time"`
	UpdatedAt  string          `json:"updated_at" format:"date-time"`
}

type ChecklistItem struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	Required  bool    `json:"required"`
	Completed bool    `json:"completed"`
	Notes     *string `json:"notes,omitempty"`
	Position  int     `json:"position"`
}

// RequiredComplete reports whether every required checklist item is completed.
func RequiredComplete(items []ChecklistItem) bool {
	for _, it := range items {
		if it.Required && !it.Completed {
			return false
		}
	}
	return true
}

type AuditEntry struct {
	Seq          int64         `json:"seq"`
	ID           string        `json:"id"`
	ProjectID    string        `json:"project_id"`
	ActorID      string        `json:"actor_id"`
	ActorRole    Role          `json:"actor_role"`
	FromStatus   ProjectStatus `json:"from_status"`
	ToStatus     ProjectStatus `json:"to_status"`
	Reason       *string       `json:"reason,omitempty"`
	Outcome      Outcome       `json:"outcome"`
	RejectReason *string       `json:"reject_reason,omitempty"`
	CreatedAt    string        `json:"created_at" format:"date-time"`
}

type Org struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID        string `json:"id"`
	OrgID     string `json:"org_id,omitempty"`
	Name      string `json:"name"`
	Role      Role   `json:"role"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Assignment records an actor being attached to a project for a purpose,
// e.g. the technician picked at assignment time or the reviewer of a check.
type Assignment struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	ActorID   string `json:"actor_id"`
	Purpose   string `json:"purpose"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string  `json:"id"`
	ActorID   string  `json:"actor_id"`
	Name      string  `json:"name,omitempty"`
	KeyHash   string  `json:"key_hash"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	RevokedAt *string `json:"revoked_at,omitempty" format:"date-time"`
}
