package flow_test

import (
	"errors"
	"testing"

	"shotline/internal/domain"
	"shotline/internal/flow"
)

func TestCanTransitionDistinguishesErrors(t *testing.T) {
	// missing edge
	err := flow.CanTransition(domain.StatusRequested, domain.StatusDelivered, domain.RoleAdmin)
	var noEdge flow.NoSuchEdgeError
	if !errors.As(err, &noEdge) {
		t.Fatalf("expected NoSuchEdgeError, got %v", err)
	}
	// edge exists, role does not qualify
	err = flow.CanTransition(domain.StatusRequested, domain.StatusAssigned, domain.RoleCustomerViewer)
	var badRole flow.RoleNotAllowedError
	if !errors.As(err, &badRole) {
		t.Fatalf("expected RoleNotAllowedError, got %v", err)
	}
	if badRole.From != domain.StatusRequested || badRole.To != domain.StatusAssigned || badRole.Role != domain.RoleCustomerViewer {
		t.Fatalf("unexpected error fields: %+v", badRole)
	}
	if err := flow.CanTransition(domain.StatusRequested, domain.StatusAssigned, domain.RoleSalesLead); err != nil {
		t.Fatalf("expected allowed, got %v", err)
	}
}

func TestHappyPathEdges(t *testing.T) {
	steps := []struct {
		from domain.ProjectStatus
		to   domain.ProjectStatus
		role domain.Role
	}{
		{domain.StatusRequested, domain.StatusAssigned, domain.RoleSalesLead},
		{domain.StatusAssigned, domain.StatusCaptured, domain.RoleTechnician},
		{domain.StatusCaptured, domain.StatusProcessing, domain.RoleTechnician},
		{domain.StatusProcessing, domain.StatusQA, domain.RoleTechnician},
		{domain.StatusQA, domain.StatusDelivered, domain.RoleApprover},
		{domain.StatusDelivered, domain.StatusApproved, domain.RoleCustomerOwner},
	}
	for _, s := range steps {
		if err := flow.CanTransition(s.from, s.to, s.role); err != nil {
			t.Fatalf("%s -> %s as %s: %v", s.from, s.to, s.role, err)
		}
	}
	// admin may take every edge on the path
	for _, s := range steps {
		if err := flow.CanTransition(s.from, s.to, domain.RoleAdmin); err != nil {
			t.Fatalf("%s -> %s as admin: %v", s.from, s.to, err)
		}
	}
}

func TestReworkLoopEdges(t *testing.T) {
	if err := flow.CanTransition(domain.StatusQA, domain.StatusCaptured, domain.RoleApprover); err != nil {
		t.Fatalf("reviewer retake: %v", err)
	}
	if err := flow.CanTransition(domain.StatusDelivered, domain.StatusCaptured, domain.RoleCustomerOwner); err != nil {
		t.Fatalf("customer retake: %v", err)
	}
}

func TestTerminalStatusesHaveNoExits(t *testing.T) {
	for _, r := range flow.Rules() {
		if r.From.IsTerminal() {
			t.Fatalf("terminal status %s has edge to %s", r.From, r.To)
		}
	}
	for _, s := range []domain.ProjectStatus{domain.StatusApproved, domain.StatusArchived} {
		for _, role := range domain.Roles {
			if next := flow.ValidNextStates(s, role); len(next) != 0 {
				t.Fatalf("%s offers %v to %s", s, next, role)
			}
		}
	}
}

func TestEveryNonTerminalCanArchive(t *testing.T) {
	for _, s := range domain.ProjectStatuses {
		if s.IsTerminal() {
			continue
		}
		r, ok := flow.Lookup(s, domain.StatusArchived)
		if !ok {
			t.Fatalf("no archive edge from %s", s)
		}
		if !r.Allows(domain.RoleAdmin) || !r.Allows(domain.RoleSalesLead) {
			t.Fatalf("archive from %s misses a staff role: %v", s, r.Roles)
		}
		if r.Allows(domain.RoleTechnician) || r.Allows(domain.RoleCustomerOwner) {
			t.Fatalf("archive from %s open to non-staff: %v", s, r.Roles)
		}
	}
}

func TestNothingReturnsToRequested(t *testing.T) {
	for _, r := range flow.Rules() {
		if r.To == domain.StatusRequested {
			t.Fatalf("edge %s -> requested exists", r.From)
		}
	}
}

func TestRequiresApproval(t *testing.T) {
	cases := []struct {
		from domain.ProjectStatus
		to   domain.ProjectStatus
		want bool
	}{
		{domain.StatusQA, domain.StatusDelivered, true},
		{domain.StatusDelivered, domain.StatusApproved, true},
		{domain.StatusRequested, domain.StatusAssigned, false},
		{domain.StatusQA, domain.StatusCaptured, false},
		{domain.StatusQA, domain.StatusArchived, false},
	}
	for _, c := range cases {
		got, err := flow.RequiresApproval(c.from, c.to)
		if err != nil || got != c.want {
			t.Fatalf("%s -> %s: approval=%v err=%v", c.from, c.to, got, err)
		}
	}
	var noEdge flow.NoSuchEdgeError
	if _, err := flow.RequiresApproval(domain.StatusRequested, domain.StatusApproved); !errors.As(err, &noEdge) {
		t.Fatalf("expected NoSuchEdgeError, got %v", err)
	}
}

func TestValidNextStatesByRole(t *testing.T) {
	cases := []struct {
		from domain.ProjectStatus
		role domain.Role
		want []domain.ProjectStatus
	}{
		{domain.StatusRequested, domain.RoleSalesLead, []domain.ProjectStatus{domain.StatusAssigned, domain.StatusArchived}},
		{domain.StatusQA, domain.RoleApprover, []domain.ProjectStatus{domain.StatusDelivered, domain.StatusCaptured}},
		{domain.StatusQA, domain.RoleTechnician, nil},
		{domain.StatusDelivered, domain.RoleCustomerOwner, []domain.ProjectStatus{domain.StatusApproved, domain.StatusCaptured}},
		{domain.StatusDelivered, domain.RoleCustomerViewer, nil},
		{domain.StatusProcessing, domain.RolePublic, nil},
	}
	for _, c := range cases {
		got := flow.ValidNextStates(c.from, c.role)
		if len(got) != len(c.want) {
			t.Fatalf("%s as %s: got %v want %v", c.from, c.role, got, c.want)
		}
		for i := range got {
			if got[i] != c.want[i] {
				t.Fatalf("%s as %s: got %v want %v", c.from, c.role, got, c.want)
			}
		}
	}
}

func TestEveryEdgeNamesValidStatusesAndRoles(t *testing.T) {
	for _, r := range flow.Rules() {
		if !r.From.Valid() || !r.To.Valid() {
			t.Fatalf("edge with invalid status: %+v", r)
		}
		if len(r.Roles) == 0 {
			t.Fatalf("edge %s -> %s allows no role", r.From, r.To)
		}
		for _, role := range r.Roles {
			if !role.Valid() {
				t.Fatalf("edge %s -> %s names invalid role %s", r.From, r.To, role)
			}
		}
	}
}
