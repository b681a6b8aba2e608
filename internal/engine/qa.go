package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shotline/internal/domain"
	"shotline/internal/repo"
)

// ChecklistItemSpec describes one checklist item at check creation.
type ChecklistItemSpec struct {
	Label    string
	Required bool
}

// OpenCheckOptions are parameters for opening a QA check.
type OpenCheckOptions struct {
	ProjectID string
	AssetIDs  []string
	// Checklist falls back to the configured template when empty.
	Checklist []ChecklistItemSpec
	Caller    Caller
}

// ChecklistUpdate rewrites one item's completion state and notes.
type ChecklistUpdate struct {
	ItemID    string
	Completed bool
	Notes     *string
}

// OpenCheck opens a fresh check for the project. A project holds at most one
// unresolved check at a time.
func (e Engine) OpenCheck(ctx context.Context, opts OpenCheckOptions) (domain.QACheck, error) {
	if opts.ProjectID == "" {
		return domain.QACheck{}, errors.New("project is required")
	}
	if opts.Caller.ActorID == "" {
		return domain.QACheck{}, errors.New("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QACheck{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID); err != nil {
		return domain.QACheck{}, err
	}
	existing, err := e.Repo.ActiveCheckTx(ctx, tx, opts.ProjectID)
	if err == nil {
		return domain.QACheck{}, CheckAlreadyActiveError{ProjectID: opts.ProjectID, CheckID: existing.ID}
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return domain.QACheck{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	specs := opts.Checklist
	if len(specs) == 0 {
		specs = e.templateChecklist()
	}
	c, err := e.openCheckTx(ctx, tx, opts.ProjectID, opts.AssetIDs, specs, now)
	if err != nil {
		return domain.QACheck{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.QACheck{}, err
	}
	e.logger().Info("qa check opened",
		zap.String("project_id", opts.ProjectID),
		zap.String("check_id", c.ID),
		zap.String("actor_id", opts.Caller.ActorID))
	return c, nil
}

// ensureActiveCheck opens a template check when the project enters qa with
// none active. A no-op when one already is.
func (e Engine) ensureActiveCheck(ctx context.Context, tx *sql.Tx, projectID, now string) error {
	_, err := e.Repo.ActiveCheckTx(ctx, tx, projectID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	_, err = e.openCheckTx(ctx, tx, projectID, nil, e.templateChecklist(), now)
	return err
}

func (e Engine) openCheckTx(ctx context.Context, tx *sql.Tx, projectID string, assetIDs []string, specs []ChecklistItemSpec, now string) (domain.QACheck, error) {
	if assetIDs == nil {
		assetIDs = []string{}
	}
	items := make([]domain.ChecklistItem, 0, len(specs))
	for i, s := range specs {
		if s.Label == "" {
			return domain.QACheck{}, errors.New("checklist item label is required")
		}
		items = append(items, domain.ChecklistItem{
			ID:       uuid.NewString(),
			Label:    s.Label,
			Required: s.Required,
			Position: i + 1,
		})
	}
	c := domain.QACheck{
		ID:         uuid.NewString(),
		ProjectID:  projectID,
		Status:     domain.CheckPending,
		AssetIDs:   assetIDs,
		Checklist:  items,
		Submission: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertCheckTx(ctx, tx, c); err != nil {
		return domain.QACheck{}, fmt.Errorf("insert qa check: %w", err)
	}
	return c, nil
}

func (e Engine) templateChecklist() []ChecklistItemSpec {
	if e.Config == nil {
		return nil
	}
	specs := make([]ChecklistItemSpec, 0, len(e.Config.QA.Checklist))
	for _, it := range e.Config.QA.Checklist {
		specs = append(specs, ChecklistItemSpec{Label: it.Label, Required: it.Required})
	}
	return specs
}

// StartReview moves a pending check under review and records the reviewer.
func (e Engine) StartReview(ctx context.Context, checkID string, caller Caller) (domain.QACheck, error) {
	if caller.ActorID == "" {
		return domain.QACheck{}, errors.New("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QACheck{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCheckTx(ctx, tx, checkID)
	if err != nil {
		return domain.QACheck{}, err
	}
	if c.Status != domain.CheckPending {
		return c, InvalidCheckStateError{CheckID: c.ID, Status: c.Status, Op: "start review"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.Status = domain.CheckUnderReview
	c.ReviewerID = &caller.ActorID
	c.UpdatedAt = now
	if err := e.Repo.UpdateCheckTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := e.Repo.InsertAssignmentTx(ctx, tx, domain.Assignment{
		ID:        uuid.NewString(),
		ProjectID: c.ProjectID,
		ActorID:   caller.ActorID,
		Purpose:   repo.AssignmentReviewer,
		CreatedAt: now,
	}); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// UpdateChecklist rewrites completion state and notes on the given items.
// Allowed only while the check is pending or under review.
func (e Engine) UpdateChecklist(ctx context.Context, checkID string, updates []ChecklistUpdate, caller Caller) (domain.QACheck, error) {
	if caller.ActorID == "" {
		return domain.QACheck{}, errors.New("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QACheck{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCheckTx(ctx, tx, checkID)
	if err != nil {
		return domain.QACheck{}, err
	}
	if c.Status != domain.CheckPending && c.Status != domain.CheckUnderReview {
		return c, InvalidCheckStateError{CheckID: c.ID, Status: c.Status, Op: "update checklist"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if err := e.applyChecklistUpdates(ctx, tx, &c, updates, now); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

func (e Engine) applyChecklistUpdates(ctx context.Context, tx *sql.Tx, c *domain.QACheck, updates []ChecklistUpdate, now string) error {
	for _, u := range updates {
		if err := e.Repo.UpdateChecklistItemTx(ctx, tx, c.ID, u.ItemID, u.Completed, u.Notes); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return fmt.Errorf("checklist item %s: %w", u.ItemID, err)
			}
			return err
		}
	}
	c.UpdatedAt = now
	if err := e.Repo.UpdateCheckTx(ctx, tx, *c); err != nil {
		return err
	}
	fresh, err := e.Repo.GetCheckTx(ctx, tx, c.ID)
	if err != nil {
		return err
	}
	c.Checklist = fresh.Checklist
	return nil
}

// ApproveCheck resolves the check as approved and moves the project from qa
// to delivered in the same transaction. If the transition is refused, the
// approval does not stand: the check lands under review with the reviewer
// recorded, the project stays put, and the rejected attempt is in the ledger.
func (e Engine) ApproveCheck(ctx context.Context, checkID string, caller Caller, notes string) (domain.QACheck, error) {
	return e.resolveCheck(ctx, checkID, caller, notes, domain.CheckApproved, domain.StatusDelivered, "approve")
}

// RejectCheck resolves the check as rejected and sends the project back from
// qa to captured for a retake, with the same all-or-nothing coupling as
// ApproveCheck.
func (e Engine) RejectCheck(ctx context.Context, checkID, reason string, caller Caller) (domain.QACheck, error) {
	if reason == "" {
		return domain.QACheck{}, errors.New("reason is required")
	}
	return e.resolveCheck(ctx, checkID, caller, reason, domain.CheckRejected, domain.StatusCaptured, "reject")
}

func (e Engine) resolveCheck(ctx context.Context, checkID string, caller Caller, notes string, resolution domain.CheckStatus, target domain.ProjectStatus, op string) (domain.QACheck, error) {
	if caller.ActorID == "" {
		return domain.QACheck{}, errors.New("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QACheck{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCheckTx(ctx, tx, checkID)
	if err != nil {
		return domain.QACheck{}, err
	}
	if c.Status != domain.CheckPending && c.Status != domain.CheckUnderReview {
		return c, InvalidCheckStateError{CheckID: c.ID, Status: c.Status, Op: op}
	}
	if resolution == domain.CheckApproved {
		if missing := incompleteRequired(c.Checklist); len(missing) > 0 {
			return c, IncompleteRequiredItemsError{CheckID: c.ID, Missing: missing}
		}
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.Status = resolution
	c.ReviewerID = &caller.ActorID
	if notes != "" {
		c.Notes = &notes
	}
	c.UpdatedAt = now
	if err := e.Repo.UpdateCheckTx(ctx, tx, c); err != nil {
		return c, err
	}

	_, _, err = e.applyTransitionTx(ctx, tx, TransitionRequest{
		ProjectID: c.ProjectID,
		To:        target,
		Caller:    caller,
		Reason:    notes,
	})
	if err != nil {
		if !isTransitionReject(err) {
			return c, err
		}
		// The decision and the transition are one unit. Undo the
		// resolution, keep the reviewer, and commit the rejected audit
		// entry the transition left behind.
		c.Status = domain.CheckUnderReview
		c.UpdatedAt = now
		if uerr := e.Repo.UpdateCheckTx(ctx, tx, c); uerr != nil {
			return c, uerr
		}
		if cerr := tx.Commit(); cerr != nil {
			return c, cerr
		}
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	e.logger().Info("qa check resolved",
		zap.String("project_id", c.ProjectID),
		zap.String("check_id", c.ID),
		zap.String("resolution", resolution.String()),
		zap.String("actor_id", caller.ActorID))
	return c, nil
}

func incompleteRequired(items []domain.ChecklistItem) []string {
	var missing []string
	for _, it := range items {
		if it.Required && !it.Completed {
			missing = append(missing, it.Label)
		}
	}
	return missing
}

// RequestChanges applies the reviewer's item updates and parks the check in
// changes_requested. The project stays in qa; moving it is a separate call.
func (e Engine) RequestChanges(ctx context.Context, checkID string, updates []ChecklistUpdate, notes string, caller Caller) (domain.QACheck, error) {
	if caller.ActorID == "" {
		return domain.QACheck{}, errors.New("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QACheck{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCheckTx(ctx, tx, checkID)
	if err != nil {
		return domain.QACheck{}, err
	}
	if c.Status != domain.CheckPending && c.Status != domain.CheckUnderReview {
		return c, InvalidCheckStateError{CheckID: c.ID, Status: c.Status, Op: "request changes"}
	}
	now := e.now().UTC().Format(time.RFC3339)
	if len(updates) > 0 {
		if err := e.applyChecklistUpdates(ctx, tx, &c, updates, now); err != nil {
			return c, err
		}
	}
	c.Status = domain.CheckChangesRequested
	c.ReviewerID = &caller.ActorID
	if notes != "" {
		c.Notes = &notes
	}
	c.UpdatedAt = now
	if err := e.Repo.UpdateCheckTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	return c, nil
}

// Resubmit answers a changes_requested decision with a new asset set. The
// checklist carries over untouched; prior completion state and notes stay
// on record.
func (e Engine) Resubmit(ctx context.Context, checkID string, newAssetIDs []string, caller Caller) (domain.QACheck, error) {
	if caller.ActorID == "" {
		return domain.QACheck{}, errors.New("actor is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.QACheck{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCheckTx(ctx, tx, checkID)
	if err != nil {
		return domain.QACheck{}, err
	}
	if c.Status != domain.CheckChangesRequested {
		return c, InvalidCheckStateError{CheckID: c.ID, Status: c.Status, Op: "resubmit"}
	}
	if newAssetIDs == nil {
		newAssetIDs = []string{}
	}
	now := e.now().UTC().Format(time.RFC3339)
	c.AssetIDs = newAssetIDs
	c.Status = domain.CheckPending
	c.Submission++
	c.UpdatedAt = now
	if err := e.Repo.UpdateCheckTx(ctx, tx, c); err != nil {
		return c, err
	}
	if err := tx.Commit(); err != nil {
		return c, err
	}
	e.logger().Info("qa check resubmitted",
		zap.String("project_id", c.ProjectID),
		zap.String("check_id", c.ID),
		zap.Int("submission", c.Submission))
	return c, nil
}
