package server

import (
	"context"
	"encoding/json"
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
	"go.uber.org/zap"

	"taskline/internal/config"
	"taskline/internal/domain"
	"taskline/internal/engine"
	"taskline/internal/storage"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Cfg      *config.Config
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code      string         `json:"code" example:"FORBIDDEN"`
	Message   string         `json:"message" example:"missing permission task:create"`
	Retryable bool           `json:"retryable"`
	Details   map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope every failure is wrapped in.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Taskline API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Cfg == nil {
		return nil, fmt.Errorf("server: workspace config required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the error envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation failures surface as INVALID_INPUT.
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newRequestIDMiddleware())
	router.Use(newLoggingMiddleware(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Taskline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerWorkers(group, cfg)
	registerProjects(group, cfg)
	registerTasks(group, cfg)
	registerEvents(group, cfg)
	registerMe(group, cfg)
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
			Code:      code,
			Message:   message,
			Retryable: status >= http.StatusInternalServerError,
			Details:   details,
		},
	}
}

// handleError maps an engine failure onto the HTTP error envelope. The
// engine guarantees every error carries a taxonomy code; anything else is
// wrapped as INTERNAL_ERROR by domain.AsError.
func handleError(err error) huma.StatusError {
	de := domain.AsError(err)
	if de == nil {
		return nil
	}
	return &apiError{
		status: statusForCode(de.Code),
		Body: apiErrorBody{
			Code:      string(de.Code),
			Message:   de.Message,
			Retryable: de.Retryable,
			Details:   de.Details,
		},
	}
}

func statusForCode(code domain.ErrorCode) int {
	switch code {
	case domain.ErrUnauthorized:
		return http.StatusUnauthorized
	case domain.ErrForbidden:
		return http.StatusForbidden
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrInvalidInput:
		return http.StatusBadRequest
	case domain.ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return string(domain.ErrInvalidInput)
	case http.StatusUnauthorized:
		return string(domain.ErrUnauthorized)
	case http.StatusForbidden:
		return string(domain.ErrForbidden)
	case http.StatusNotFound:
		return string(domain.ErrNotFound)
	case http.StatusConflict:
		return string(domain.ErrConflict)
	default:
		return string(domain.ErrInternal)
	}
}

type requestIDKey struct{}

func newRequestIDMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func newLoggingMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestIDFromContext(r.Context())),
			)
		})
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
	security := []map[string][]string{
		{"bearerAuth": {}},
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
    <title>Taskline API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

func registerWorkers(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-worker",
		Method:        http.MethodPost,
		Path:          "/workers",
		Summary:       "Create worker",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkerRequest `json:"body"`
	}) (*struct {
		Body WorkerResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.CreateWorker(ctx, ec, engine.WorkerCreateOptions{
			Name:        input.Body.Name,
			Type:        domain.WorkerType(input.Body.Type),
			Roles:       input.Body.Roles,
			Permissions: input.Body.Permissions,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerResponse `json:"body"`
		}{Body: workerResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type string `query:"type" enum:"human,agent"`
	}) (*struct {
		Body []WorkerResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListWorkers(ctx, ec, storage.WorkerFilter{Type: domain.WorkerType(input.Type)})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []WorkerResponse `json:"body"`
		}{Body: mapWorkers(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worker",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}",
		Summary:     "Get worker",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body WorkerResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.GetWorker(ctx, ec, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerResponse `json:"body"`
		}{Body: workerResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-worker",
		Method:      http.MethodPatch,
		Path:        "/workers/{worker_id}",
		Summary:     "Update worker",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		WorkerID string              `path:"worker_id"`
		Body     UpdateWorkerRequest `json:"body"`
	}) (*struct {
		Body WorkerResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		w, err := e.UpdateWorker(ctx, ec, engine.WorkerUpdateOptions{
			ID:          input.WorkerID,
			Name:        input.Body.Name,
			Roles:       input.Body.Roles,
			Permissions: input.Body.Permissions,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WorkerResponse `json:"body"`
		}{Body: workerResponse(w)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-worker",
		Method:      http.MethodDelete,
		Path:        "/workers/{worker_id}",
		Summary:     "Delete worker",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct{}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWorker(ctx, ec, input.WorkerID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "worker-load",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}/load",
		Summary:     "Worker load",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body engine.WorkerLoad `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		load, err := e.GetWorkerLoad(ctx, ec, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.WorkerLoad `json:"body"`
		}{Body: load}, nil
	})
}

func registerProjects(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
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
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreateProject(ctx, ec, engine.ProjectCreateOptions{
			Name:        input.Body.Name,
			Description: stringOrEmpty(input.Body.Description),
			ParentID:    stringOrEmpty(input.Body.ParentID),
			MemberIDs:   input.Body.MemberIDs,
		})
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
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ParentID string `query:"parent_id"`
		Status   string `query:"status" enum:"active,archived"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx, ec, storage.ProjectFilter{
			ParentID: input.ParentID,
			Status:   domain.ProjectStatus(input.Status),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.GetProject(ctx, ec, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/projects/{project_id}",
		Summary:     "Update project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string               `path:"project_id"`
		Body      UpdateProjectRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.UpdateProject(ctx, ec, engine.ProjectUpdateOptions{
			ID:          input.ProjectID,
			Name:        input.Body.Name,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-project",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}",
		Summary:     "Delete project",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct{}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, ec, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "archive-project",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/archive",
		Summary:     "Archive project",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.ArchiveProject(ctx, ec, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "add-project-member",
		Method:      http.MethodPost,
		Path:        "/projects/{project_id}/members",
		Summary:     "Add project member",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string           `path:"project_id"`
		Body      AddMemberRequest `json:"body"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AddMember(ctx, ec, input.ProjectID, input.Body.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "remove-project-member",
		Method:      http.MethodDelete,
		Path:        "/projects/{project_id}/members/{worker_id}",
		Summary:     "Remove project member",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
		WorkerID  string `path:"worker_id"`
	}) (*struct {
		Body ProjectResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.RemoveMember(ctx, ec, input.ProjectID, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectResponse `json:"body"`
		}{Body: projectResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "project-stats",
		Method:      http.MethodGet,
		Path:        "/projects/{project_id}/stats",
		Summary:     "Project stats",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `path:"project_id"`
	}) (*struct {
		Body engine.ProjectStats `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.GetProjectStats(ctx, ec, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ProjectStats `json:"body"`
		}{Body: stats}, nil
	})
}

func registerTasks(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		priority, perr := priorityValue(input.Body.Priority)
		if perr != nil {
			return nil, perr
		}
		if priority == nil {
			p := cfg.Cfg.DefaultPriority()
			priority = &p
		}
		t, err := e.CreateTask(ctx, ec, engine.TaskCreateOptions{
			ProjectID:   input.Body.ProjectID,
			Title:       input.Body.Title,
			Description: stringOrEmpty(input.Body.Description),
			OwnerID:     input.Body.OwnerID,
			Priority:    priority,
			DependsOn:   input.Body.DependsOn,
			Context:     stringOrEmpty(input.Body.Context),
			Goal:        stringOrEmpty(input.Body.Goal),
			Deliverable: stringOrEmpty(input.Body.Deliverable),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
		OwnerID   string `query:"owner_id"`
		Status    string `query:"status" enum:"backlog,blocked,active,review,done"`
		Priority  string `query:"priority" enum:"P0,P1,P2,P3"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		filter := storage.TaskFilter{
			ProjectID: input.ProjectID,
			OwnerID:   input.OwnerID,
			Status:    domain.TaskStatus(input.Status),
		}
		if input.Priority != "" {
			p, err := domain.ParsePriority(input.Priority)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "", err.Error(), nil)
			}
			filter.Priority = &p
		}
		items, err := e.ListTasks(ctx, ec, filter)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "ready-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/ready",
		Summary:     "List ready tasks",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []TaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ReadyTasks(ctx, ec, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []TaskResponse `json:"body"`
		}{Body: mapTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "blocked-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks/blocked",
		Summary:     "List blocked tasks with their blockers",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ProjectID string `query:"project_id"`
	}) (*struct {
		Body []BlockedTaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.BlockedTasks(ctx, ec, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []BlockedTaskResponse `json:"body"`
		}{Body: mapBlockedTasks(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.GetTask(ctx, ec, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPatch,
		Path:        "/tasks/{task_id}",
		Summary:     "Update task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   UpdateTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		priority, perr := priorityValue(input.Body.Priority)
		if perr != nil {
			return nil, perr
		}
		t, err := e.UpdateTask(ctx, ec, engine.TaskUpdateOptions{
			ID:          input.TaskID,
			Title:       input.Body.Title,
			Description: input.Body.Description,
			Priority:    priority,
			Context:     input.Body.Context,
			Goal:        input.Body.Goal,
			Deliverable: input.Body.Deliverable,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-task",
		Method:      http.MethodDelete,
		Path:        "/tasks/{task_id}",
		Summary:     "Delete task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct{}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteTask(ctx, ec, input.TaskID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/start",
		Summary:     "Start task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.StartTask(ctx, ec, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/complete",
		Summary:     "Complete task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.CompleteTask(ctx, ec, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: completionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "approve-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/approve",
		Summary:     "Approve task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body CompletionResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ApproveTask(ctx, ec, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CompletionResponse `json:"body"`
		}{Body: completionResponse(res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reopen-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/reopen",
		Summary:     "Reopen task",
		Errors: []int{
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string `path:"task_id"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.ReopenTask(ctx, ec, input.TaskID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assign",
		Summary:     "Assign task",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string            `path:"task_id"`
		Body   AssignTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.AssignTask(ctx, ec, input.TaskID, input.Body.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "move-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/move",
		Summary:     "Move task to another project",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		TaskID string          `path:"task_id"`
		Body   MoveTaskRequest `json:"body"`
	}) (*struct {
		Body TaskResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		t, err := e.MoveTask(ctx, ec, input.TaskID, input.Body.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TaskResponse `json:"body"`
		}{Body: taskResponse(t)}, nil
	})
}

func registerEvents(api huma.API, cfg Config) {
	e := cfg.Engine

	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events, newest first",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"worker,project,task"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListEvents(ctx, ec, storage.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Limit:      normalizeLimit(input.Limit),
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: mapEvents(items)}, nil
	})
}

func registerMe(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		ec, authErr := executionContext(ctx, cfg.Cfg)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID:     ec.ActorID,
			WorkspaceID: ec.WorkspaceID,
			Environment: ec.Environment,
			Operator:    cfg.Cfg.IsOperator(ec.ActorID),
			Permissions: nonNilSlice(ec.Permissions),
		}}, nil
	})
}

func priorityValue(raw *string) (*domain.Priority, huma.StatusError) {
	if raw == nil {
		return nil, nil
	}
	p, err := domain.ParsePriority(*raw)
	if err != nil {
		return nil, newAPIError(http.StatusBadRequest, "", err.Error(), nil)
	}
	return &p, nil
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
