package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"slnforge/internal/domain"
	"slnforge/internal/engine"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   *engine.Engine
	BasePath string
	Logger   *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_ready"`
	Message string         `json:"message" example:"generation not completed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"status\":\"in_progress\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the generation API.
func New(cfg Config) (http.Handler, error) {
	if cfg.Engine == nil {
		return nil, errors.New("server: engine is required")
	}
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	huma.DefaultArrayNullable = false
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
	router.Use(requestLogger(logger))
	hcfg := huma.DefaultConfig("slnforge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerGenerations(group, cfg.Engine)
	registerPlans(group, cfg.Engine)
	registerValidation(group, cfg.Engine)
	registerPorts(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}
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
	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), map[string]any{"issues": ve.Issues})
	}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, domain.ErrNotReady):
		return newAPIError(http.StatusConflict, "not_ready", err.Error(), nil)
	case errors.Is(err, domain.ErrQueueFull), errors.Is(err, engine.ErrShutdown):
		return newAPIError(http.StatusServiceUnavailable, "unavailable", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusServiceUnavailable:
		return "unavailable"
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

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>slnforge API Docs</title>
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

func registerGenerations(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-generation",
		Method:        http.MethodPost,
		Path:          "/generations",
		Summary:       "Start a solution generation",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnprocessableEntity,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body domain.SolutionRequest `json:"body"`
	}) (*struct {
		Body domain.GenerationJob `json:"body"`
	}, error) {
		job := e.StartGeneration(ctx, input.Body)
		if job.Status == domain.JobFailed {
			return nil, rejectedJobError(job)
		}
		return &struct {
			Body domain.GenerationJob `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-generations",
		Method:      http.MethodGet,
		Path:        "/generations",
		Summary:     "List generation jobs",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"pending,in_progress,completed,failed,cancelled"`
	}) (*struct {
		Body []domain.GenerationJob `json:"body"`
	}, error) {
		jobs := e.ListJobs()
		if input.Status != "" {
			filtered := jobs[:0]
			for _, j := range jobs {
				if string(j.Status) == input.Status {
					filtered = append(filtered, j)
				}
			}
			jobs = filtered
		}
		return &struct {
			Body []domain.GenerationJob `json:"body"`
		}{Body: jobs}, nil
	})

	type jobPath struct {
		ID string `path:"id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-generation",
		Method:      http.MethodGet,
		Path:        "/generations/{id}",
		Summary:     "Generation status",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *jobPath) (*struct {
		Body domain.GenerationJob `json:"body"`
	}, error) {
		job, err := e.GetStatus(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.GenerationJob `json:"body"`
		}{Body: job}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "download-generation",
		Method:      http.MethodGet,
		Path:        "/generations/{id}/download",
		Summary:     "Download a completed generation",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *jobPath) (*DownloadOutput, error) {
		art, err := e.Download(input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &DownloadOutput{
			ContentType:        art.ContentType,
			ContentDisposition: fmt.Sprintf("attachment; filename=%q", art.FileName),
			Body:               art.Data,
		}, nil
	})
}

// rejectedJobError reports a job that failed before any work started. The
// job stays registered so its id is included.
func rejectedJobError(job domain.GenerationJob) huma.StatusError {
	details := map[string]any{"job_id": job.ID, "errors": job.Errors}
	if job.Message == "Invalid request" {
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", "invalid solution request", details)
	}
	return newAPIError(http.StatusServiceUnavailable, "unavailable", job.Message, details)
}

func registerPlans(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "plan-solution",
		Method:      http.MethodPost,
		Path:        "/plans",
		Summary:     "Preview the projects a request would generate",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.SolutionRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		plan, warnings := e.Plan(input.Body)
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(input.Body, plan, warnings)}, nil
	})
}

func registerValidation(api huma.API, e *engine.Engine) {
	type nameQuery struct {
		Name string `query:"name" required:"true"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "validate-solution-name",
		Method:      http.MethodGet,
		Path:        "/validation/solution-name",
		Summary:     "Check a solution name",
	}, func(ctx context.Context, input *nameQuery) (*struct {
		Body NameValidationResponse `json:"body"`
	}, error) {
		return &struct {
			Body NameValidationResponse `json:"body"`
		}{Body: NameValidationResponse{Name: input.Name, Valid: e.ValidateSolutionName(input.Name)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "validate-unit-name",
		Method:      http.MethodGet,
		Path:        "/validation/unit-name",
		Summary:     "Check a service, gateway or app name",
	}, func(ctx context.Context, input *nameQuery) (*struct {
		Body NameValidationResponse `json:"body"`
	}, error) {
		return &struct {
			Body NameValidationResponse `json:"body"`
		}{Body: NameValidationResponse{Name: input.Name, Valid: e.ValidateUnitName(input.Name)}}, nil
	})
}

func registerPorts(api huma.API, e *engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "next-port",
		Method:      http.MethodPost,
		Path:        "/ports/next",
		Summary:     "Suggest the next free port",
	}, func(ctx context.Context, input *struct {
		Body NextPortRequest `json:"body"`
	}) (*struct {
		Body NextPortResponse `json:"body"`
	}, error) {
		return &struct {
			Body NextPortResponse `json:"body"`
		}{Body: NextPortResponse{Port: e.NextAvailablePort(input.Body.Exclude)}}, nil
	})
}
