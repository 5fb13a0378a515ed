package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"samanvay/internal/config"
	"samanvay/internal/domain"
	"samanvay/internal/engine"
	"samanvay/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Repo     repo.Repo
	AppCfg   *config.Config
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid transition: monitoring -> approved"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Samanvay API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Samanvay API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWorkflows(group, cfg.Engine, cfg.Repo)
	registerActions(group, cfg.Engine)
	registerAgencies(group, cfg.Repo)
	registerNotifications(group, cfg.Repo)
	registerStats(group, cfg.Repo)
	registerOpenAPI(router, api, basePath)

	if cfg.AppCfg != nil {
		startWebhookDispatcher(cfg.Repo, cfg.AppCfg.Webhooks)
	}
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
	msg := err.Error()
	var te engine.TransitionError
	if errors.As(err, &te) {
		return newAPIError(http.StatusConflict, "invalid_transition", msg, map[string]any{
			"from": te.From,
			"to":   te.To,
		})
	}
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, engine.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case errors.Is(err, engine.ErrMissingAgency):
		return newAPIError(http.StatusUnprocessableEntity, "missing_agency", msg, nil)
	case errors.Is(err, engine.ErrInvalidAction):
		return newAPIError(http.StatusForbidden, "invalid_action", msg, nil)
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already exists"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "required") || strings.Contains(lowered, "must"):
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
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
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
    <title>Samanvay API Docs</title>
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

func registerWorkflows(api huma.API, e engine.Engine, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-workflow",
		Method:        http.MethodPost,
		Path:          "/workflows",
		Summary:       "Create workflow",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkflowRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if input.Body.ProjectID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "project_id is required", nil)
		}
		if input.Body.ImplementingAgencyID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "implementing_agency_id is required", nil)
		}
		if authErr := requireAgency(ctx, input.Body.ImplementingAgencyID); authErr != nil {
			return nil, authErr
		}
		wf, err := e.Initialize(ctx, input.Body.ProjectID, input.Body.ImplementingAgencyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(wf)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-workflow",
		Method:      http.MethodGet,
		Path:        "/workflows/{project_id}",
		Summary:     "Get workflow",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		wf, err := e.Store.FindByProjectID(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(wf)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflows",
		Method:      http.MethodGet,
		Path:        "/workflows",
		Summary:     "List workflows",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Stage string `query:"stage"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body []WorkflowResponse `json:"body"`
	}, error) {
		items, err := r.ListWorkflows(ctx, repo.WorkflowFilters{Stage: input.Stage, Limit: input.Limit})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkflowResponse `json:"body"`
		}{Body: mapWorkflows(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workflow-events",
		Method:      http.MethodGet,
		Path:        "/workflows/{project_id}/events",
		Summary:     "Workflow history",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body []domain.WorkflowEvent `json:"body"`
	}, error) {
		wf, err := e.Store.FindByProjectID(ctx, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.WorkflowEvent `json:"body"`
		}{Body: wf.History}, nil
	})
}

func registerActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "apply-workflow-action",
		Method:      http.MethodPost,
		Path:        "/workflows/{project_id}/actions",
		Summary:     "Apply workflow action",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string                `path:"project_id"`
		Body      WorkflowActionRequest `json:"body"`
	}) (*struct {
		Body WorkflowResponse `json:"body"`
	}, error) {
		if input.Body.AgencyID == "" && input.Body.Action != "notify_nodal" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "agency_id is required", nil)
		}
		if input.Body.AgencyID != "" {
			if authErr := requireAgency(ctx, input.Body.AgencyID); authErr != nil {
				return nil, authErr
			}
		}
		var (
			wf  domain.WorkflowState
			err error
		)
		switch input.Body.Action {
		case "notify_nodal":
			wf, err = e.NotifyNodal(ctx, input.ProjectID)
		case "begin_review":
			wf, err = e.BeginReview(ctx, input.ProjectID, input.Body.AgencyID)
		case "approve":
			wf, err = e.DecideNodal(ctx, input.ProjectID, input.Body.AgencyID, true, input.Body.Notes)
		case "reject":
			wf, err = e.DecideNodal(ctx, input.ProjectID, input.Body.AgencyID, false, input.Body.Notes)
		case "start_execution":
			wf, err = e.StartExecution(ctx, input.ProjectID, input.Body.AgencyID)
		case "update_progress":
			wf, err = e.RecordProgress(ctx, input.ProjectID, input.Body.AgencyID, input.Body.Progress)
		case "complete":
			wf, err = e.Complete(ctx, input.ProjectID, input.Body.AgencyID, input.Body.FinalReport)
		default:
			return nil, newAPIError(http.StatusBadRequest, "invalid_action", fmt.Sprintf("unknown action %q", input.Body.Action), nil)
		}
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkflowResponse `json:"body"`
		}{Body: workflowResponse(wf)}, nil
	})
}

func registerAgencies(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-agency",
		Method:        http.MethodPost,
		Path:          "/agencies",
		Summary:       "Register agency",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAgencyRequest `json:"body"`
	}) (*struct {
		Body domain.Agency `json:"body"`
	}, error) {
		if _, authErr := agencyIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		a := domain.Agency{
			ID:         input.Body.ID,
			Name:       input.Body.Name,
			Type:       input.Body.Type,
			Department: input.Body.Department,
			Status:     "active",
			CreatedAt:  time.Now().UTC().Format(time.RFC3339),
		}
		if err := r.InsertAgency(ctx, a); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Agency `json:"body"`
		}{Body: a}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agencies",
		Method:      http.MethodGet,
		Path:        "/agencies",
		Summary:     "List agencies",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type string `query:"type"`
	}) (*struct {
		Body []domain.Agency `json:"body"`
	}, error) {
		items, err := r.ListAgencies(ctx, input.Type)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Agency `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-pending-workflows",
		Method:      http.MethodGet,
		Path:        "/agencies/{agency_id}/pending",
		Summary:     "Workflows pending action for an agency",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string `path:"agency_id"`
	}) (*struct {
		Body []WorkflowResponse `json:"body"`
	}, error) {
		items, err := r.ListPendingForAgency(ctx, input.AgencyID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkflowResponse `json:"body"`
		}{Body: mapWorkflows(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-agency-key",
		Method:        http.MethodPost,
		Path:          "/agencies/{agency_id}/keys",
		Summary:       "Issue API key for an agency",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string `path:"agency_id"`
		Body     struct {
			Name string `json:"name,omitempty"`
		} `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if authErr := requireAgency(ctx, input.AgencyID); authErr != nil {
			return nil, authErr
		}
		if _, err := r.GetAgency(ctx, input.AgencyID); err != nil {
			return nil, handleError(err)
		}
		raw := uuid.New().String()
		key := domain.APIKey{
			ID:        uuid.New().String(),
			AgencyID:  input.AgencyID,
			Name:      input.Body.Name,
			KeyHash:   repo.HashAPIKey(raw),
			CreatedAt: time.Now().UTC().Format(time.RFC3339),
		}
		if err := r.InsertAPIKey(ctx, key); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: APIKeyResponse{ID: key.ID, AgencyID: key.AgencyID, Name: key.Name, Key: raw}}, nil
	})
}

func registerNotifications(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-agency-notifications",
		Method:      http.MethodGet,
		Path:        "/agencies/{agency_id}/notifications",
		Summary:     "Agency notification inbox",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		AgencyID string `path:"agency_id"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body []domain.Notification `json:"body"`
	}, error) {
		items, err := r.ListNotificationsForAgency(ctx, input.AgencyID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Notification `json:"body"`
		}{Body: items}, nil
	})
}

func registerStats(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Workflow counts per stage",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body StatsResponse `json:"body"`
	}, error) {
		counts, err := r.CountByStage(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		total := 0
		for _, c := range counts {
			total += c
		}
		return &struct {
			Body StatsResponse `json:"body"`
		}{Body: StatsResponse{Total: total, Stages: counts}}, nil
	})
}
