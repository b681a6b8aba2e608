package engine

import (
	"errors"
	"fmt"

	"shotline/internal/domain"
	"shotline/internal/flow"
)

// ConcurrentModificationError reports a stale-version write. The caller must
// re-read the project and decide whether to retry; the engine never does.
type ConcurrentModificationError struct {
	ProjectID string
	Expected  int64
	Actual    int64
}

func (e ConcurrentModificationError) Error() string {
	return fmt.Sprintf("project %s changed concurrently (version %d, expected %d)", e.ProjectID, e.Actual, e.Expected)
}

// CrossOrgApprovalError reports an approval attempted by a caller outside the
// project's organization.
type CrossOrgApprovalError struct {
	ProjectID string
	ActorID   string
}

func (e CrossOrgApprovalError) Error() string {
	return fmt.Sprintf("actor %s may not approve for project %s outside their organization", e.ActorID, e.ProjectID)
}

// QANotResolvedError reports an attempt to leave the QA status while the
// latest check has not reached the required resolution. CheckStatus is
// "none" when the project has no check at all.
type QANotResolvedError struct {
	ProjectID   string
	CheckStatus string
}

func (e QANotResolvedError) Error() string {
	return fmt.Sprintf("project %s has an unresolved qa check (status %s)", e.ProjectID, e.CheckStatus)
}

// CheckAlreadyActiveError reports a second check being opened while one is
// still unresolved.
type CheckAlreadyActiveError struct {
	ProjectID string
	CheckID   string
}

func (e CheckAlreadyActiveError) Error() string {
	return fmt.Sprintf("project %s already has active qa check %s", e.ProjectID, e.CheckID)
}

// IncompleteRequiredItemsError reports an approval attempted while required
// checklist items remain open.
type IncompleteRequiredItemsError struct {
	CheckID string
	Missing []string
}

func (e IncompleteRequiredItemsError) Error() string {
	return fmt.Sprintf("qa check %s has %d incomplete required items", e.CheckID, len(e.Missing))
}

// InvalidCheckStateError reports a check operation applied in a state that
// does not permit it.
type InvalidCheckStateError struct {
	CheckID string
	Status  domain.CheckStatus
	Op      string
}

func (e InvalidCheckStateError) Error() string {
	return fmt.Sprintf("qa check %s is %s; %s not allowed", e.CheckID, e.Status, e.Op)
}

// failureKind returns the stable token recorded in audit reject_reason.
func failureKind(err error) string {
	var noEdge flow.NoSuchEdgeError
	var badRole flow.RoleNotAllowedError
	var crossOrg CrossOrgApprovalError
	var conflict ConcurrentModificationError
	var unresolved QANotResolvedError
	switch {
	case errors.As(err, &noEdge):
		return "no_such_edge"
	case errors.As(err, &badRole):
		return "role_not_allowed"
	case errors.As(err, &crossOrg):
		return "cross_org_approval"
	case errors.As(err, &conflict):
		return "concurrent_modification"
	case errors.As(err, &unresolved):
		return "qa_not_resolved"
	default:
		return err.Error()
	}
}

// isTransitionReject reports whether the error is a rule rejection that
// leaves the project untouched but must still land in the audit ledger, as
// opposed to an infrastructure failure.
func isTransitionReject(err error) bool {
	var noEdge flow.NoSuchEdgeError
	var badRole flow.RoleNotAllowedError
	var crossOrg CrossOrgApprovalError
	var conflict ConcurrentModificationError
	var unresolved QANotResolvedError
	return errors.As(err, &noEdge) ||
		errors.As(err, &badRole) ||
		errors.As(err, &crossOrg) ||
		errors.As(err, &conflict) ||
		errors.As(err, &unresolved)
}
