package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shotline/internal/audit"
	"shotline/internal/config"
	"shotline/internal/domain"
	"shotline/internal/flow"
	"shotline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Logger *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Logger: zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return zap.NewNop()
}

// Caller is the identity acting on a project, resolved by the boundary
// (HTTP middleware or CLI) before it reaches the engine. OrgMatch reports
// whether the actor is scoped to the project's organization; the engine
// never re-derives it.
type Caller struct {
	ActorID  string
	Role     domain.Role
	OrgMatch bool
}

// ProjectCreateOptions are parameters for registering a new capture job.
type ProjectCreateOptions struct {
	ID     string
	OrgID  string
	Name   string
	Caller Caller
}

// CreateProject registers a project in its initial status. Creation is not a
// transition, so no audit entry is written; the ledger starts with the first
// attempt to move the project.
func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if opts.OrgID == "" {
		return domain.Project{}, errors.New("org is required")
	}
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if opts.Caller.ActorID == "" {
		return domain.Project{}, errors.New("actor is required")
	}
	if _, err := e.Repo.GetOrg(ctx, opts.OrgID); err != nil {
		return domain.Project{}, fmt.Errorf("org %s: %w", opts.OrgID, err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:        id,
		OrgID:     opts.OrgID,
		Name:      opts.Name,
		Status:    domain.StatusRequested,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertProject(ctx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	e.logger().Info("project created",
		zap.String("project_id", p.ID),
		zap.String("org_id", p.OrgID),
		zap.String("actor_id", opts.Caller.ActorID))
	return p, nil
}

// TransitionRequest asks for one project status change on behalf of a caller.
type TransitionRequest struct {
	ProjectID string
	To        domain.ProjectStatus
	Caller    Caller
	Reason    string
	// ExpectedVersion, when set, must match the persisted version or the
	// request fails with ConcurrentModificationError. Callers that read a
	// project, decide, then write pass the version they read.
	ExpectedVersion *int64
	// AssigneeID optionally names the technician on a move to assigned.
	AssigneeID string
}

// ApplyTransition validates and executes one status change as a single
// transaction. Every attempt lands in the audit ledger: applied attempts
// together with the new project state, rejected attempts alone, leaving
// status and version untouched.
func (e Engine) ApplyTransition(ctx context.Context, req TransitionRequest) (domain.Project, domain.AuditEntry, error) {
	if req.Caller.ActorID == "" {
		return domain.Project{}, domain.AuditEntry{}, errors.New("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, domain.AuditEntry{}, err
	}
	defer tx.Rollback()

	p, entry, err := e.applyTransitionTx(ctx, tx, req)
	if err != nil {
		if !isTransitionReject(err) {
			return p, domain.AuditEntry{}, err
		}
		// The rejection is part of the ledger; commit the audit row alone.
		if cerr := tx.Commit(); cerr != nil {
			return p, domain.AuditEntry{}, cerr
		}
		return p, entry, err
	}
	if err := tx.Commit(); err != nil {
		return p, domain.AuditEntry{}, err
	}
	return p, entry, nil
}

// applyTransitionTx runs the transition steps inside the caller's
// transaction. On a rule rejection it appends the rejected audit entry and
// returns the typed error without touching the project; committing, or
// compensating first, is the caller's call.
func (e Engine) applyTransitionTx(ctx context.Context, tx *sql.Tx, req TransitionRequest) (domain.Project, domain.AuditEntry, error) {
	p, err := e.Repo.GetProjectTx(ctx, tx, req.ProjectID)
	if err != nil {
		return domain.Project{}, domain.AuditEntry{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)

	reject := func(cause error) (domain.Project, domain.AuditEntry, error) {
		kind := failureKind(cause)
		entry, aerr := e.Audit.Append(ctx, tx, domain.AuditEntry{
			ProjectID:    p.ID,
			ActorID:      req.Caller.ActorID,
			ActorRole:    req.Caller.Role,
			FromStatus:   p.Status,
			ToStatus:     req.To,
			Reason:       optionalString(req.Reason),
			Outcome:      domain.OutcomeRejected,
			RejectReason: &kind,
			CreatedAt:    now,
		})
		if aerr != nil {
			return p, domain.AuditEntry{}, aerr
		}
		e.logger().Warn("transition rejected",
			zap.String("project_id", p.ID),
			zap.String("from", p.Status.String()),
			zap.String("to", req.To.String()),
			zap.String("actor_id", req.Caller.ActorID),
			zap.String("reason", kind))
		return p, entry, cause
	}

	if req.ExpectedVersion != nil && *req.ExpectedVersion != p.Version {
		return reject(ConcurrentModificationError{ProjectID: p.ID, Expected: *req.ExpectedVersion, Actual: p.Version})
	}
	if !req.To.Valid() {
		return reject(flow.NoSuchEdgeError{From: p.Status, To: req.To})
	}
	if err := flow.CanTransition(p.Status, req.To, req.Caller.Role); err != nil {
		return reject(err)
	}
	needsApproval, err := flow.RequiresApproval(p.Status, req.To)
	if err != nil {
		return reject(err)
	}
	if needsApproval && !req.Caller.OrgMatch {
		return reject(CrossOrgApprovalError{ProjectID: p.ID, ActorID: req.Caller.ActorID})
	}
	if err := e.qaGate(ctx, tx, p, req.To); err != nil {
		if isTransitionReject(err) {
			return reject(err)
		}
		return p, domain.AuditEntry{}, err
	}

	applied, err := e.Repo.UpdateProjectStatusTx(ctx, tx, p.ID, p.Version, req.To, now)
	if err != nil {
		return p, domain.AuditEntry{}, err
	}
	if !applied {
		cur, rerr := e.Repo.GetProjectTx(ctx, tx, p.ID)
		if rerr != nil {
			return p, domain.AuditEntry{}, rerr
		}
		return reject(ConcurrentModificationError{ProjectID: p.ID, Expected: p.Version, Actual: cur.Version})
	}

	from := p.Status
	p.Status = req.To
	p.Version++
	p.UpdatedAt = now

	if req.To == domain.StatusAssigned && req.AssigneeID != "" {
		if err := e.recordAssignment(ctx, tx, &p, req.AssigneeID, repo.AssignmentTechnician, now); err != nil {
			return p, domain.AuditEntry{}, err
		}
	}
	if req.To == domain.StatusQA {
		if err := e.ensureActiveCheck(ctx, tx, p.ID, now); err != nil {
			return p, domain.AuditEntry{}, err
		}
	}

	entry, err := e.Audit.Append(ctx, tx, domain.AuditEntry{
		ProjectID:  p.ID,
		ActorID:    req.Caller.ActorID,
		ActorRole:  req.Caller.Role,
		FromStatus: from,
		ToStatus:   req.To,
		Reason:     optionalString(req.Reason),
		Outcome:    domain.OutcomeApplied,
		CreatedAt:  now,
	})
	if err != nil {
		return p, domain.AuditEntry{}, err
	}
	e.logger().Info("transition applied",
		zap.String("project_id", p.ID),
		zap.String("from", from.String()),
		zap.String("to", req.To.String()),
		zap.String("actor_id", req.Caller.ActorID),
		zap.Int64("version", p.Version))
	return p, entry, nil
}

// qaGate refuses to leave the qa status unless the latest check carries the
// matching resolution. A decision resolves its check before running the
// transition in the same transaction, so the gate consults the latest check,
// not the active one. The archive edge bypasses the gate: cancellation is
// always possible.
func (e Engine) qaGate(ctx context.Context, tx *sql.Tx, p domain.Project, to domain.ProjectStatus) error {
	if p.Status != domain.StatusQA || to == domain.StatusArchived {
		return nil
	}
	check, err := e.Repo.LatestCheckTx(ctx, tx, p.ID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return QANotResolvedError{ProjectID: p.ID, CheckStatus: "none"}
		}
		return err
	}
	switch to {
	case domain.StatusDelivered:
		if check.Status != domain.CheckApproved {
			return QANotResolvedError{ProjectID: p.ID, CheckStatus: check.Status.String()}
		}
	case domain.StatusCaptured:
		if check.Status != domain.CheckRejected && check.Status != domain.CheckChangesRequested {
			return QANotResolvedError{ProjectID: p.ID, CheckStatus: check.Status.String()}
		}
	}
	return nil
}

func (e Engine) recordAssignment(ctx context.Context, tx *sql.Tx, p *domain.Project, actorID, purpose, now string) error {
	if err := e.Repo.UpdateProjectAssigneeTx(ctx, tx, p.ID, &actorID, now); err != nil {
		return err
	}
	p.AssigneeID = &actorID
	return e.Repo.InsertAssignmentTx(ctx, tx, domain.Assignment{
		ID:        uuid.NewString(),
		ProjectID: p.ID,
		ActorID:   actorID,
		Purpose:   purpose,
		CreatedAt: now,
	})
}

// NextTransitions returns the table rules the role may take from the
// project's current status.
func (e Engine) NextTransitions(ctx context.Context, projectID string, role domain.Role) ([]flow.Rule, error) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var out []flow.Rule
	for _, r := range flow.Rules() {
		if r.From == p.Status && r.Allows(role) {
			out = append(out, r)
		}
	}
	return out, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
