package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"shotline/internal/domain"
	"shotline/internal/engine"
	"shotline/internal/flow"
	"shotline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_such_edge"`
	Message string         `json:"message" example:"no transition delivered -> qa"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"from\":\"delivered\",\"to\":\"qa\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Shotline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/api/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the required envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Shotline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerTransitions(group, cfg.Engine)
	registerChecks(group, cfg.Engine)
	registerAudit(group, cfg.Engine)
	registerOrgs(group, cfg.Engine)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var noEdge flow.NoSuchEdgeError
	if errors.As(err, &noEdge) {
		return newAPIError(http.StatusUnprocessableEntity, "no_such_edge", err.Error(),
			map[string]any{"from": string(noEdge.From), "to": string(noEdge.To)})
	}
	var notAllowed flow.RoleNotAllowedError
	if errors.As(err, &notAllowed) {
		return newAPIError(http.StatusForbidden, "role_not_allowed", err.Error(),
			map[string]any{"role": string(notAllowed.Role)})
	}
	var crossOrg engine.CrossOrgApprovalError
	if errors.As(err, &crossOrg) {
		return newAPIError(http.StatusForbidden, "cross_org_approval", err.Error(),
			map[string]any{"project_id": crossOrg.ProjectID})
	}
	var concurrent engine.ConcurrentModificationError
	if errors.As(err, &concurrent) {
		return newAPIError(http.StatusConflict, "concurrent_modification", err.Error(),
			map[string]any{"expected": concurrent.Expected, "actual": concurrent.Actual})
	}
	var qaOpen engine.QANotResolvedError
	if errors.As(err, &qaOpen) {
		return newAPIError(http.StatusUnprocessableEntity, "qa_not_resolved", err.Error(),
			map[string]any{"check_status": qaOpen.CheckStatus})
	}
	var active engine.CheckAlreadyActiveError
	if errors.As(err, &active) {
		return newAPIError(http.StatusConflict, "check_already_active", err.Error(),
			map[string]any{"check_id": active.CheckID})
	}
	var incomplete engine.IncompleteRequiredItemsError
	if errors.As(err, &incomplete) {
		return newAPIError(http.StatusUnprocessableEntity, "incomplete_required_items", err.Error(),
			map[string]any{"missing": incomplete.Missing})
	}
	var badState engine.InvalidCheckStateError
	if errors.As(err, &badState) {
		return newAPIError(http.StatusUnprocessableEntity, "invalid_check_state", err.Error(),
			map[string]any{"status": string(badState.Status), "op": badState.Op})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// callerFor translates the authenticated principal into the engine's view of
// the caller. OrgMatch is decided here and nowhere else: platform staff
// (empty org) match every project, customer principals match their own org.
func callerFor(principal Principal, p domain.Project) engine.Caller {
	return engine.Caller{
		ActorID:  principal.ActorID,
		Role:     principal.Role,
		OrgMatch: principal.OrgID == "" || principal.OrgID == p.OrgID,
	}
}

// projectForPrincipal loads a project and hides it from principals scoped to
// another org.
func projectForPrincipal(ctx context.Context, e engine.Engine, projectID string, principal Principal) (domain.Project, huma.StatusError) {
	p, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.Project{}, handleError(err)
	}
	if principal.OrgID != "" && principal.OrgID != p.OrgID {
		return domain.Project{}, newAPIError(http.StatusNotFound, "not_found", "project not found", nil)
	}
	return p, nil
}

// checkForPrincipal resolves a check together with its project, applying the
// same org scoping as projectForPrincipal.
func checkForPrincipal(ctx context.Context, e engine.Engine, checkID string, principal Principal) (domain.QACheck, domain.Project, huma.StatusError) {
	c, err := e.Repo.GetCheck(ctx, checkID)
	if err != nil {
		return domain.QACheck{}, domain.Project{}, handleError(err)
	}
	p, stErr := projectForPrincipal(ctx, e, c.ProjectID, principal)
	if stErr != nil {
		return domain.QACheck{}, domain.Project{}, stErr
	}
	return c, p, nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	open := map[string]struct{}{}
	for _, p := range []string{"health", "auth/dev/login"} {
		joined := path.Join(basePath, p)
		if !strings.HasPrefix(joined, "/") {
			joined = "/" + joined
		}
		open[joined] = struct{}{}
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if _, ok := open[route]; ok {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Shotline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.OrgID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "org_id is required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.OrgID != "" && principal.OrgID != input.Body.OrgID {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "cannot create projects for another org", nil)
		}
		opts := engine.ProjectCreateOptions{
			OrgID: input.Body.OrgID,
			Name:  input.Body.Name,
			Caller: engine.Caller{
				ActorID:  principal.ActorID,
				Role:     principal.Role,
				OrgMatch: principal.OrgID == "" || principal.OrgID == input.Body.OrgID,
			},
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		p, err := e.CreateProject(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		OrgID  string `query:"org_id"`
		Status string `query:"status" enum:",requested,assigned,captured,processing,qa,delivered,approved,archived"`
		Limit  int    `query:"limit" default:"50"`
		Cursor string `query:"cursor"`
	}) (*struct {
		Body paginatedProjects `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orgID := input.OrgID
		// Org-scoped principals only ever see their own org.
		if principal.OrgID != "" {
			orgID = principal.OrgID
		}
		limit := normalizeLimit(input.Limit)
		cursorCreated, cursorID, err := parseCompositeCursor(input.Cursor)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
		}
		items, err := e.Repo.ListProjects(ctx, repo.ProjectFilters{
			OrgID:           orgID,
			Status:          input.Status,
			Limit:           limit + 1,
			CursorCreatedAt: cursorCreated,
			CursorID:        cursorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedProjects{Items: []ProjectResponse{}}
		if len(items) > limit {
			items = items[:limit]
			last := items[limit-1]
			resp.NextCursor = composeCursor(last.CreatedAt, last.ID)
		}
		resp.Items = mapProjects(items)
		return &struct {
			Body paginatedProjects `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, stErr := projectForPrincipal(ctx, e, input.ProjectID, principal)
		if stErr != nil {
			return nil, stErr
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})
}

func registerTransitions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-transitions",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/transitions",
		Summary:     "Transitions available to the caller",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []TransitionOptionResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, stErr := projectForPrincipal(ctx, e, input.ProjectID, principal)
		if stErr != nil {
			return nil, stErr
		}
		rules, err := e.NextTransitions(ctx, p.ID, principal.Role)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TransitionOptionResponse `json:"body"`
		}{Body: nonNilSlice(transitionOptions(rules))}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "apply-transition",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/transitions",
		Summary:     "Apply a status transition",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                 `path:"project_id"`
		Body      ApplyTransitionRequest `json:"body"`
	}) (*struct {
		Body TransitionResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.To == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "to is required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, stErr := projectForPrincipal(ctx, e, input.ProjectID, principal)
		if stErr != nil {
			return nil, stErr
		}
		updated, entry, err := e.ApplyTransition(ctx, engine.TransitionRequest{
			ProjectID:       p.ID,
			To:              domain.ProjectStatus(input.Body.To),
			Caller:          callerFor(principal, p),
			Reason:          stringOrEmpty(input.Body.Reason),
			ExpectedVersion: input.Body.ExpectedVersion,
			AssigneeID:      stringOrEmpty(input.Body.AssigneeID),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TransitionResponse `json:"body"`
		}{Body: TransitionResponse{Project: projectResponse(updated), Audit: auditResponse(entry)}}, nil
	})
}

func registerChecks(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "open-qa-check",
		Method:        http.MethodPost,
		Path:          "/projects/{project_id}/qa-checks",
		Summary:       "Open QA check",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      OpenCheckRequest `json:"body"`
	}) (*struct {
		Body QACheckResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, stErr := projectForPrincipal(ctx, e, input.ProjectID, principal)
		if stErr != nil {
			return nil, stErr
		}
		c, err := e.OpenCheck(ctx, engine.OpenCheckOptions{
			ProjectID: p.ID,
			AssetIDs:  input.Body.AssetIDs,
			Checklist: checklistSpecs(input.Body.Checklist),
			Caller:    callerFor(principal, p),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QACheckResponse `json:"body"`
		}{Body: checkResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-qa-checks",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/qa-checks",
		Summary:     "List QA checks",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []QACheckResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, stErr := projectForPrincipal(ctx, e, input.ProjectID, principal)
		if stErr != nil {
			return nil, stErr
		}
		items, err := e.Repo.ListChecks(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []QACheckResponse `json:"body"`
		}{Body: mapChecks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "active-qa-check",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/qa-checks/active",
		Summary:     "Active QA check",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body QACheckResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, stErr := projectForPrincipal(ctx, e, input.ProjectID, principal)
		if stErr != nil {
			return nil, stErr
		}
		c, err := e.Repo.ActiveCheck(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QACheckResponse `json:"body"`
		}{Body: checkResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-qa-check",
		Method:      http.MethodGet,
		Path:        "/qa-checks/{id}",
		Summary:     "Get QA check",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body QACheckResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, _, stErr := checkForPrincipal(ctx, e, input.ID, principal)
		if stErr != nil {
			return nil, stErr
		}
		return &struct {
			Body QACheckResponse `json:"body"`
		}{Body: checkResponse(c)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-checklist",
		Method:      http.MethodPatch,
		Path:        "/qa-checks/{id}/checklist",
		Summary:     "Update checklist items",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                 `path:"id"`
		Body UpdateChecklistRequest `json:"body"`
	}) (*struct {
		Body QACheckResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if len(input.Body.Items) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "items is required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, p, stErr := checkForPrincipal(ctx, e, input.ID, principal)
		if stErr != nil {
			return nil, stErr
		}
		updated, err := e.UpdateChecklist(ctx, c.ID, checklistUpdates(input.Body.Items), callerFor(principal, p))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QACheckResponse `json:"body"`
		}{Body: checkResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-qa-review",
		Method:      http.MethodPost,
		Path:        "/qa-checks/{id}/start-review",
		Summary:     "Start review",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body QACheckResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, p, stErr := checkForPrincipal(ctx, e, input.ID, principal)
		if stErr != nil {
			return nil, stErr
		}
		updated, err := e.StartReview(ctx, c.ID, callerFor(principal, p))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QACheckResponse `json:"body"`
		}{Body: checkResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-qa-check",
		Method:      http.MethodPost,
		Path:        "/qa-checks/{id}/approve",
		Summary:     "Approve QA check",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string              `path:"id"`
		Body ApproveCheckRequest `json:"body"`
	}) (*struct {
		Body QACheckResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, p, stErr := checkForPrincipal(ctx, e, input.ID, principal)
		if stErr != nil {
			return nil, stErr
		}
		updated, err := e.ApproveCheck(ctx, c.ID, callerFor(principal, p), stringOrEmpty(input.Body.Notes))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QACheckResponse `json:"body"`
		}{Body: checkResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "request-qa-changes",
		Method:      http.MethodPost,
		Path:        "/qa-checks/{id}/request-changes",
		Summary:     "Request changes",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body RequestChangesRequest `json:"body"`
	}) (*struct {
		Body QACheckResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, p, stErr := checkForPrincipal(ctx, e, input.ID, principal)
		if stErr != nil {
			return nil, stErr
		}
		updated, err := e.RequestChanges(ctx, c.ID, checklistUpdates(input.Body.Items), stringOrEmpty(input.Body.Notes), callerFor(principal, p))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QACheckResponse `json:"body"`
		}{Body: checkResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reject-qa-check",
		Method:      http.MethodPost,
		Path:        "/qa-checks/{id}/reject",
		Summary:     "Reject QA check",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body RejectCheckRequest `json:"body"`
	}) (*struct {
		Body QACheckResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Reason) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "reason is required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, p, stErr := checkForPrincipal(ctx, e, input.ID, principal)
		if stErr != nil {
			return nil, stErr
		}
		updated, err := e.RejectCheck(ctx, c.ID, input.Body.Reason, callerFor(principal, p))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QACheckResponse `json:"body"`
		}{Body: checkResponse(updated)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resubmit-qa-check",
		Method:      http.MethodPost,
		Path:        "/qa-checks/{id}/resubmit",
		Summary:     "Resubmit after changes",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body ResubmitCheckRequest `json:"body"`
	}) (*struct {
		Body QACheckResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, p, stErr := checkForPrincipal(ctx, e, input.ID, principal)
		if stErr != nil {
			return nil, stErr
		}
		updated, err := e.Resubmit(ctx, c.ID, input.Body.AssetIDs, callerFor(principal, p))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body QACheckResponse `json:"body"`
		}{Body: checkResponse(updated)}, nil
	})
}

func registerAudit(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/audit",
		Summary:     "Audit ledger",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		Outcome   string `query:"outcome" enum:",applied,rejected"`
		Limit     int    `query:"limit" default:"50"`
		Cursor    string `query:"cursor"`
	}) (*struct {
		Body paginatedAudit `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, stErr := projectForPrincipal(ctx, e, input.ProjectID, principal)
		if stErr != nil {
			return nil, stErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorSeq int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorSeq = parsed
		}
		items, err := e.Repo.ListAudit(ctx, repo.AuditFilters{
			ProjectID: p.ID,
			Outcome:   input.Outcome,
			Limit:     limit + 1,
			CursorSeq: cursorSeq,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedAudit{Items: []AuditEntryResponse{}}
		if len(items) > limit {
			items = items[:limit]
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].Seq)
		}
		resp.Items = mapAudit(items)
		return &struct {
			Body paginatedAudit `json:"body"`
		}{Body: resp}, nil
	})
}

func registerOrgs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-org",
		Method:        http.MethodPost,
		Path:          "/orgs",
		Summary:       "Create org",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateOrgRequest `json:"body"`
	}) (*struct {
		Body OrgResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		o, err := e.CreateOrg(ctx, input.Body.ID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OrgResponse `json:"body"`
		}{Body: orgResponse(o)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-orgs",
		Method:      http.MethodGet,
		Path:        "/orgs",
		Summary:     "List orgs",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []OrgResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListOrgs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]OrgResponse, 0, len(items))
		for _, o := range items {
			res = append(res, orgResponse(o))
		}
		return &struct {
			Body []OrgResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-actor",
		Method:        http.MethodPost,
		Path:          "/actors",
		Summary:       "Create actor",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateActorRequest `json:"body"`
	}) (*struct {
		Body ActorResponse `json:"body"`
	}, error) {
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if principal.Role != domain.RoleAdmin {
			return nil, newAPIError(http.StatusForbidden, "forbidden", "admin role required", nil)
		}
		a, err := e.CreateActor(ctx, domain.Actor{
			ID:    input.Body.ID,
			OrgID: input.Body.OrgID,
			Name:  input.Body.Name,
			Role:  domain.Role(input.Body.Role),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActorResponse `json:"body"`
		}{Body: actorResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-actors",
		Method:      http.MethodGet,
		Path:        "/actors",
		Summary:     "List actors",
	}, func(ctx context.Context, input *struct {
		OrgID string `query:"org_id"`
	}) (*struct {
		Body []ActorResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		orgID := input.OrgID
		if principal.OrgID != "" {
			orgID = principal.OrgID
		}
		items, err := e.Repo.ListActors(ctx, orgID)
		if err != nil {
			return nil, handleError(err)
		}
		res := make([]ActorResponse, 0, len(items))
		for _, a := range items {
			res = append(res, actorResponse(a))
		}
		return &struct {
			Body []ActorResponse `json:"body"`
		}{Body: res}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Role:    string(principal.Role),
			OrgID:   principal.OrgID,
			Source:  principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if !domain.Role(input.Body.Role).Valid() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "role is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Role, strings.TrimSpace(input.Body.OrgID))
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}

func parseCompositeCursor(cursor string) (string, string, error) {
	if cursor == "" {
		return "", "", nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid cursor")
	}
	return parts[0], parts[1], nil
}

func composeCursor(ts, id string) string {
	if ts == "" || id == "" {
		return ""
	}
	return ts + "|" + id
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
