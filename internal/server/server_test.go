package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"shotline/internal/config"
	"shotline/internal/db"
	"shotline/internal/domain"
	"shotline/internal/engine"
	"shotline/internal/migrate"
	"shotline/internal/repo"
)

const testJWTSecret = "server-test-secret"

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	ctx := context.Background()
	for _, org := range []struct{ id, name string }{
		{"acme", "Acme Pictures"},
		{"rival", "Rival Films"},
	} {
		if _, err := e.CreateOrg(ctx, org.id, org.name); err != nil {
			t.Fatalf("seed org %s: %v", org.id, err)
		}
	}
	for _, a := range []domain.Actor{
		{ID: "admin-1", Name: "Admin", Role: domain.RoleAdmin},
		{ID: "sales-1", Name: "Sales", Role: domain.RoleSalesLead},
		{ID: "tech-1", Name: "Tech", Role: domain.RoleTechnician},
		{ID: "qa-1", Name: "Reviewer", Role: domain.RoleApprover},
		{ID: "owner-1", OrgID: "acme", Name: "Acme Owner", Role: domain.RoleCustomerOwner},
		{ID: "owner-2", OrgID: "rival", Name: "Rival Owner", Role: domain.RoleCustomerOwner},
	} {
		if _, err := e.CreateActor(ctx, a); err != nil {
			t.Fatalf("seed actor %s: %v", a.ID, err)
		}
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api/v1",
		Auth:     AuthConfig{JWTSecret: testJWTSecret, AllowActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(actorID string) map[string]string {
	return map[string]string{"X-Actor-Id": actorID}
}

func decodeErr(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return envelope.Error
}

func createProject(t *testing.T, srv *testServer) ProjectResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects", map[string]any{
		"org_id": "acme",
		"name":   "Catalog shoot",
	}, as("admin-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project: %d %s", res.StatusCode, string(data))
	}
	var p ProjectResponse
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	return p
}

func applyTransition(t *testing.T, srv *testServer, projectID, actorID, to string) TransitionResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects/"+projectID+"/transitions", map[string]any{
		"to": to,
	}, as(actorID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("transition to %s: %d %s", to, res.StatusCode, string(data))
	}
	var out TransitionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	return out
}

func walkToQA(t *testing.T, srv *testServer, projectID string) {
	t.Helper()
	for _, to := range []string{"assigned", "captured", "processing", "qa"} {
		applyTransition(t, srv, projectID, "admin-1", to)
	}
}

func activeCheck(t *testing.T, srv *testServer, projectID string) QACheckResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects/"+projectID+"/qa-checks/active", nil, as("qa-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("active check: %d %s", res.StatusCode, string(data))
	}
	var c QACheckResponse
	if err := json.Unmarshal(data, &c); err != nil {
		t.Fatalf("unmarshal check: %v", err)
	}
	return c
}

func completeRequired(t *testing.T, srv *testServer, c QACheckResponse) {
	t.Helper()
	items := []map[string]any{}
	for _, it := range c.Checklist {
		if it.Required {
			items = append(items, map[string]any{"item_id": it.ID, "completed": true})
		}
	}
	res, data := doJSON(t, srv.Client(), http.MethodPatch, srv.URL+"/api/v1/qa-checks/"+c.ID+"/checklist", map[string]any{
		"items": items,
	}, as("qa-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update checklist: %d %s", res.StatusCode, string(data))
	}
}

func TestHealthOpenWithoutAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeErr(t, data); e.Code != "unauthorized" {
		t.Fatalf("unexpected error code %s", e.Code)
	}
	// unknown actor id is a credential failure, not an anonymous request
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects", nil, as("nobody"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown actor, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeErr(t, data); e.Code != "invalid_credentials" {
		t.Fatalf("unexpected error code %s", e.Code)
	}
}

func TestProjectCreateAndAssign(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	if p.Status != "requested" || p.Version != 1 {
		t.Fatalf("unexpected initial project: %+v", p)
	}

	// sales sees the assign edge and the archive edge
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", nil, as("sales-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list transitions: %d %s", res.StatusCode, string(data))
	}
	var options []TransitionOptionResponse
	if err := json.Unmarshal(data, &options); err != nil {
		t.Fatalf("unmarshal options: %v", err)
	}
	if len(options) != 2 || options[0].To != "assigned" || options[1].To != "archived" {
		t.Fatalf("unexpected options: %+v", options)
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", map[string]any{
		"to":          "assigned",
		"reason":      "crew booked",
		"assignee_id": "tech-1",
	}, as("sales-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign: %d %s", res.StatusCode, string(data))
	}
	var moved TransitionResponse
	if err := json.Unmarshal(data, &moved); err != nil {
		t.Fatalf("unmarshal transition: %v", err)
	}
	if moved.Project.Status != "assigned" || moved.Project.Version != 2 {
		t.Fatalf("unexpected project after assign: %+v", moved.Project)
	}
	if moved.Project.AssigneeID == nil || *moved.Project.AssigneeID != "tech-1" {
		t.Fatalf("assignee missing: %+v", moved.Project)
	}
	if moved.Audit.Outcome != "applied" || moved.Audit.ActorID != "sales-1" {
		t.Fatalf("unexpected audit: %+v", moved.Audit)
	}
}

func TestCreateProjectValidation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects", map[string]any{
		"org_id": "acme",
	}, as("admin-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing name, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects", map[string]any{
		"org_id": "ghost",
		"name":   "x",
	}, as("admin-1"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown org, got %d %s", res.StatusCode, string(data))
	}
	// customer principals may not create projects for another org
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects", map[string]any{
		"org_id": "rival",
		"name":   "sneaky",
	}, as("owner-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
}

func TestUnknownEdgeRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", map[string]any{
		"to": "delivered",
	}, as("admin-1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeErr(t, data); e.Code != "no_such_edge" {
		t.Fatalf("unexpected code %s", e.Code)
	}
	// the refused attempt is on the ledger
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID+"/audit?outcome=rejected", nil, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list audit: %d %s", res.StatusCode, string(data))
	}
	var page paginatedAudit
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal audit: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].RejectReason == nil || *page.Items[0].RejectReason != "no_such_edge" {
		t.Fatalf("unexpected ledger: %+v", page.Items)
	}
}

func TestRoleNotAllowed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", map[string]any{
		"to": "assigned",
	}, as("tech-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeErr(t, data); e.Code != "role_not_allowed" {
		t.Fatalf("unexpected code %s", e.Code)
	}
}

func TestVersionConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", map[string]any{
		"to":               "assigned",
		"expected_version": 1,
	}, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first write: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", map[string]any{
		"to":               "archived",
		"expected_version": 1,
	}, as("admin-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeErr(t, data); e.Code != "concurrent_modification" {
		t.Fatalf("unexpected code %s", e.Code)
	}
}

func TestQAGateBlocksDelivery(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	walkToQA(t, srv, p.ID)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", map[string]any{
		"to": "delivered",
	}, as("qa-1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeErr(t, data); e.Code != "qa_not_resolved" {
		t.Fatalf("unexpected code %s", e.Code)
	}
}

func TestSecondCheckConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	walkToQA(t, srv, p.ID)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/qa-checks", map[string]any{
		"asset_ids": []string{"a1"},
	}, as("tech-1"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeErr(t, data); e.Code != "check_already_active" {
		t.Fatalf("unexpected code %s", e.Code)
	}
}

func TestQAApprovalFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	walkToQA(t, srv, p.ID)
	c := activeCheck(t, srv, p.ID)
	if c.Status != "pending" || c.Submission != 1 {
		t.Fatalf("unexpected check: %+v", c)
	}

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/qa-checks/"+c.ID+"/start-review", nil, as("qa-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start review: %d %s", res.StatusCode, string(data))
	}
	completeRequired(t, srv, c)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/qa-checks/"+c.ID+"/approve", map[string]any{
		"notes": "clean set",
	}, as("qa-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}
	var approved QACheckResponse
	if err := json.Unmarshal(data, &approved); err != nil {
		t.Fatalf("unmarshal check: %v", err)
	}
	if approved.Status != "approved" || approved.ReviewerID == nil || *approved.ReviewerID != "qa-1" {
		t.Fatalf("unexpected check after approve: %+v", approved)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID, nil, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project: %d %s", res.StatusCode, string(data))
	}
	var delivered ProjectResponse
	_ = json.Unmarshal(data, &delivered)
	if delivered.Status != "delivered" {
		t.Fatalf("project not delivered: %+v", delivered)
	}

	// the customer signs off
	out := applyTransition(t, srv, p.ID, "owner-1", "approved")
	if out.Project.Status != "approved" {
		t.Fatalf("unexpected final status: %+v", out.Project)
	}

	// decisions on a resolved check are refused
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/qa-checks/"+c.ID+"/resubmit", map[string]any{
		"asset_ids": []string{"a2"},
	}, as("tech-1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeErr(t, data); e.Code != "invalid_check_state" {
		t.Fatalf("unexpected code %s", e.Code)
	}
}

func TestApproveWithOpenRequiredItems(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	walkToQA(t, srv, p.ID)
	c := activeCheck(t, srv, p.ID)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/qa-checks/"+c.ID+"/approve", map[string]any{}, as("qa-1"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if e := decodeErr(t, data); e.Code != "incomplete_required_items" {
		t.Fatalf("unexpected code %s", e.Code)
	}
}

func TestRejectSendsBackToCaptured(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	walkToQA(t, srv, p.ID)
	c := activeCheck(t, srv, p.ID)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/qa-checks/"+c.ID+"/reject", map[string]any{}, as("qa-1"))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing reason, got %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/qa-checks/"+c.ID+"/reject", map[string]any{
		"reason": "soft focus throughout",
	}, as("qa-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("reject: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID, nil, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get project: %d %s", res.StatusCode, string(data))
	}
	var back ProjectResponse
	_ = json.Unmarshal(data, &back)
	if back.Status != "captured" {
		t.Fatalf("project not sent back: %+v", back)
	}
}

func TestChangesRequestedRoundTrip(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	walkToQA(t, srv, p.ID)
	c := activeCheck(t, srv, p.ID)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/qa-checks/"+c.ID+"/request-changes", map[string]any{
		"notes": "retake the close-ups",
	}, as("qa-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("request changes: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/qa-checks/"+c.ID+"/resubmit", map[string]any{
		"asset_ids": []string{"asset-2a", "asset-2b"},
	}, as("tech-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("resubmit: %d %s", res.StatusCode, string(data))
	}
	var again QACheckResponse
	if err := json.Unmarshal(data, &again); err != nil {
		t.Fatalf("unmarshal check: %v", err)
	}
	if again.Status != "pending" || again.Submission != 2 || len(again.AssetIDs) != 2 {
		t.Fatalf("unexpected check after resubmit: %+v", again)
	}
}

func TestOrgScopingMasksForeignProjects(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)

	// a rival principal cannot see, move, or audit the acme project
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID, nil, as("owner-2"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects/"+p.ID+"/transitions", map[string]any{
		"to": "archived",
	}, as("owner-2"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on transition, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID+"/audit", nil, as("owner-2"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on audit, got %d %s", res.StatusCode, string(data))
	}
}

func TestProjectListScopedToPrincipalOrg(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	createProject(t, srv)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/projects", map[string]any{
		"org_id": "rival",
		"name":   "Rival shoot",
	}, as("admin-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create rival project: %d %s", res.StatusCode, string(data))
	}

	// the org filter cannot widen a customer's view
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects?org_id=rival", nil, as("owner-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list projects: %d %s", res.StatusCode, string(data))
	}
	var page paginatedProjects
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].OrgID != "acme" {
		t.Fatalf("unexpected scoped list: %+v", page.Items)
	}

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects", nil, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list projects as admin: %d %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 2 {
		t.Fatalf("admin should see both projects: %+v", page.Items)
	}
}

func TestAuditPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := createProject(t, srv)
	applyTransition(t, srv, p.ID, "admin-1", "assigned")
	applyTransition(t, srv, p.ID, "admin-1", "captured")
	applyTransition(t, srv, p.ID, "admin-1", "processing")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID+"/audit?limit=2", nil, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("first page: %d %s", res.StatusCode, string(data))
	}
	var page paginatedAudit
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %d items, cursor %q", len(page.Items), page.NextCursor)
	}
	// newest first
	if page.Items[0].ToStatus != "processing" {
		t.Fatalf("unexpected order: %+v", page.Items[0])
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/projects/"+p.ID+"/audit?limit=2&cursor="+page.NextCursor, nil, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second page: %d %s", res.StatusCode, string(data))
	}
	page = paginatedAudit{}
	_ = json.Unmarshal(data, &page)
	if len(page.Items) != 1 || page.NextCursor != "" {
		t.Fatalf("unexpected second page: %d items, cursor %q", len(page.Items), page.NextCursor)
	}
}

func TestAdminOnlyTenancyEndpoints(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/orgs", map[string]any{
		"id": "newco", "name": "New Co",
	}, as("tech-1"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/orgs", map[string]any{
		"id": "newco", "name": "New Co",
	}, as("admin-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create org: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/actors", map[string]any{
		"id": "viewer-1", "name": "Viewer", "role": "customer_viewer", "org_id": "newco",
	}, as("admin-1"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create actor: %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/actors?org_id=newco", nil, as("admin-1"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list actors: %d %s", res.StatusCode, string(data))
	}
	var actors []ActorResponse
	if err := json.Unmarshal(data, &actors); err != nil {
		t.Fatalf("unmarshal actors: %v", err)
	}
	if len(actors) != 1 || actors[0].ID != "viewer-1" {
		t.Fatalf("unexpected actors: %+v", actors)
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/v1/auth/dev/login", map[string]any{
		"actor_id": "qa-1",
		"role":     "approver",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login: %d %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("unmarshal token: %v (%s)", err, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "qa-1" || who.Source != "jwt" {
		t.Fatalf("unexpected principal: %+v", who)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d %s", res.StatusCode, string(data))
	}
}

func TestAPIKeyAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	raw := "slk_server_test_key"
	keyID := uuid.NewString()
	err := srv.Engine.Repo.InsertAPIKey(ctx, nil, domain.APIKey{
		ID:        keyID,
		ActorID:   "tech-1",
		Name:      "test",
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("insert api key: %v", err)
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/me", nil, map[string]string{
		"X-Api-Key": raw,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me via api key: %d %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	_ = json.Unmarshal(data, &who)
	if who.ActorID != "tech-1" || who.Source != "api_key" {
		t.Fatalf("unexpected principal: %+v", who)
	}

	// revoked keys stop authenticating
	if err := srv.Engine.Repo.RevokeAPIKey(ctx, keyID, time.Now().UTC().Format(time.RFC3339)); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/v1/me", nil, map[string]string{
		"X-Api-Key": raw,
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after revoke, got %d %s", res.StatusCode, string(data))
	}
}
