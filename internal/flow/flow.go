// Package flow holds the declarative transition table of the project
// lifecycle and the pure checks over it. It performs no I/O; persistence
// and auditing live in the engine.
package flow

import (
	"fmt"

	"shotline/internal/domain"
)

// Rule is one legal edge of the lifecycle graph.
type Rule struct {
	From             domain.ProjectStatus `json:"from"`
	To               domain.ProjectStatus `json:"to"`
	Roles            []domain.Role        `json:"roles"`
	RequiresApproval bool                 `json:"requires_approval"`
	Description      string               `json:"description"`
}

// Allows reports whether the role may initiate this transition.
func (r Rule) Allows(role domain.Role) bool {
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// NoSuchEdgeError reports a transition that does not exist in the table.
type NoSuchEdgeError struct {
	From domain.ProjectStatus
	To   domain.ProjectStatus
}

func (e NoSuchEdgeError) Error() string {
	return fmt.Sprintf("no transition %s -> %s", e.From, e.To)
}

// RoleNotAllowedError reports an existing transition the caller's role may
// not initiate.
type RoleNotAllowedError struct {
	From domain.ProjectStatus
	To   domain.ProjectStatus
	Role domain.Role
}

func (e RoleNotAllowedError) Error() string {
	return fmt.Sprintf("role %s may not transition %s -> %s", e.Role, e.From, e.To)
}

type edge struct {
	from domain.ProjectStatus
	to   domain.ProjectStatus
}

var (
	rules []Rule
	index map[edge]Rule
)

func init() {
	rules = []Rule{
		{From: domain.StatusRequested, To: domain.StatusAssigned, Roles: []domain.Role{domain.RoleSalesLead, domain.RoleAdmin}, Description: "assign technician"},
		{From: domain.StatusAssigned, To: domain.StatusCaptured, Roles: []domain.Role{domain.RoleTechnician, domain.RoleAdmin}, Description: "uploads complete"},
		{From: domain.StatusCaptured, To: domain.StatusProcessing, Roles: []domain.Role{domain.RoleTechnician, domain.RoleAdmin}, Description: "processing started"},
		{From: domain.StatusProcessing, To: domain.StatusQA, Roles: []domain.Role{domain.RoleTechnician, domain.RoleAdmin}, Description: "submit for review"},
		{From: domain.StatusQA, To: domain.StatusDelivered, Roles: []domain.Role{domain.RoleApprover, domain.RoleAdmin}, RequiresApproval: true, Description: "reviewer approves"},
		{From: domain.StatusQA, To: domain.StatusCaptured, Roles: []domain.Role{domain.RoleApprover, domain.RoleAdmin}, Description: "reviewer requests retake"},
		{From: domain.StatusDelivered, To: domain.StatusApproved, Roles: []domain.Role{domain.RoleCustomerOwner, domain.RoleAdmin}, RequiresApproval: true, Description: "customer approves, triggers payout"},
		{From: domain.StatusDelivered, To: domain.StatusCaptured, Roles: []domain.Role{domain.RoleCustomerOwner, domain.RoleAdmin}, Description: "customer rejects, retake"},
	}
	// Cancellation is always possible: one archive edge per non-terminal status.
	for _, s := range domain.ProjectStatuses {
		if s.IsTerminal() {
			continue
		}
		rules = append(rules, Rule{
			From:        s,
			To:          domain.StatusArchived,
			Roles:       []domain.Role{domain.RoleAdmin, domain.RoleSalesLead},
			Description: "cancel/complete",
		})
	}
	index = make(map[edge]Rule, len(rules))
	for _, r := range rules {
		index[edge{r.From, r.To}] = r
	}
}

// Rules returns the full transition table in declaration order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)
	return out
}

// Lookup returns the rule for the edge, if it exists.
func Lookup(from, to domain.ProjectStatus) (Rule, bool) {
	r, ok := index[edge{from, to}]
	return r, ok
}

// CanTransition checks the edge against the table and the caller's role.
// A missing edge and a disallowed role come back as distinct error types so
// callers can tell "no such transition" from "insufficient permission".
func CanTransition(from, to domain.ProjectStatus, role domain.Role) error {
	r, ok := Lookup(from, to)
	if !ok {
		return NoSuchEdgeError{From: from, To: to}
	}
	if !r.Allows(role) {
		return RoleNotAllowedError{From: from, To: to, Role: role}
	}
	return nil
}

// ValidNextStates lists every status the role may move the project to from
// the given status. Empty for terminal statuses.
func ValidNextStates(from domain.ProjectStatus, role domain.Role) []domain.ProjectStatus {
	var out []domain.ProjectStatus
	for _, r := range rules {
		if r.From == from && r.Allows(role) {
			out = append(out, r.To)
		}
	}
	return out
}

// RequiresApproval reports whether the edge carries the approval
// requirement. The edge must exist; callers validate with CanTransition
// first.
func RequiresApproval(from, to domain.ProjectStatus) (bool, error) {
	r, ok := Lookup(from, to)
	if !ok {
		return false, NoSuchEdgeError{From: from, To: to}
	}
	return r.RequiresApproval, nil
}
