package slnforgesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal slnforge HTTP API client.
type Client struct {
	BaseURL    string
	BasePath   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  30 * time.Second,
	}
}

// Service is one microservice of a request.
type Service struct {
	Name                  string `json:"name" yaml:"name"`
	Description           string `json:"description,omitempty" yaml:"description,omitempty"`
	Port                  int    `json:"port" yaml:"port"`
	EnableAPI             bool   `json:"enable_api,omitempty" yaml:"enable_api,omitempty"`
	EnableGrpc            bool   `json:"enable_grpc,omitempty" yaml:"enable_grpc,omitempty"`
	EnableBackgroundJobs  bool   `json:"enable_background_jobs,omitempty" yaml:"enable_background_jobs,omitempty"`
	EnableEventBus        bool   `json:"enable_event_bus,omitempty" yaml:"enable_event_bus,omitempty"`
	IncludeSampleEntities bool   `json:"include_sample_entities,omitempty" yaml:"include_sample_entities,omitempty"`
}

type Gateway struct {
	Name               string `json:"name" yaml:"name"`
	Description        string `json:"description,omitempty" yaml:"description,omitempty"`
	Port               int    `json:"port" yaml:"port"`
	Type               string `json:"type,omitempty" yaml:"type,omitempty"`
	EnableRateLimiting bool   `json:"enable_rate_limiting,omitempty" yaml:"enable_rate_limiting,omitempty"`
	EnableCors         bool   `json:"enable_cors,omitempty" yaml:"enable_cors,omitempty"`
	EnableSwagger      bool   `json:"enable_swagger,omitempty" yaml:"enable_swagger,omitempty"`
}

type App struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Port        int    `json:"port" yaml:"port"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
	Theme       string `json:"theme,omitempty" yaml:"theme,omitempty"`
}

type Auth struct {
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty"`
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty"`
}

type Infrastructure struct {
	EnableCache         bool `json:"enable_cache,omitempty" yaml:"enable_cache,omitempty"`
	EnableMessageBroker bool `json:"enable_message_broker,omitempty" yaml:"enable_message_broker,omitempty"`
	EnableSearch        bool `json:"enable_search,omitempty" yaml:"enable_search,omitempty"`
	EnableDocker        bool `json:"enable_docker,omitempty" yaml:"enable_docker,omitempty"`
	EnableKubernetes    bool `json:"enable_kubernetes,omitempty" yaml:"enable_kubernetes,omitempty"`
}

// SolutionRequest describes the solution to generate.
type SolutionRequest struct {
	SolutionName       string         `json:"solution_name" yaml:"solution_name"`
	CompanyName        string         `json:"company_name" yaml:"company_name"`
	Description        string         `json:"description,omitempty" yaml:"description,omitempty"`
	DatabaseProvider   string         `json:"database_provider,omitempty" yaml:"database_provider,omitempty"`
	EnableMultiTenancy bool           `json:"enable_multi_tenancy,omitempty" yaml:"enable_multi_tenancy,omitempty"`
	Microservices      []Service      `json:"microservices" yaml:"microservices"`
	Gateways           []Gateway      `json:"gateways,omitempty" yaml:"gateways,omitempty"`
	Apps               []App          `json:"apps,omitempty" yaml:"apps,omitempty"`
	Auth               Auth           `json:"auth,omitempty" yaml:"auth,omitempty"`
	Infrastructure     Infrastructure `json:"infrastructure,omitempty" yaml:"infrastructure,omitempty"`
}

// Job is the API generation job model.
type Job struct {
	ID             string   `json:"id"`
	SolutionName   string   `json:"solution_name"`
	Status         string   `json:"status"`
	Progress       int      `json:"progress"`
	CurrentStep    string   `json:"current_step,omitempty"`
	Message        string   `json:"message,omitempty"`
	CreatedAt      string   `json:"created_at"`
	CompletedAt    *string  `json:"completed_at,omitempty"`
	GeneratedFiles []string `json:"generated_files"`
	Errors         []string `json:"errors"`
	DownloadURL    string   `json:"download_url,omitempty"`
	FileSizeBytes  int64    `json:"file_size_bytes,omitempty"`
}

// Terminal reports whether the job will not change any more.
func (j Job) Terminal() bool {
	switch j.Status {
	case "completed", "failed", "cancelled":
		return true
	}
	return false
}

type Project struct {
	Unit         string `json:"unit"`
	UnitKind     string `json:"unit_kind"`
	Kind         string `json:"kind"`
	Name         string `json:"name"`
	SubArea      string `json:"sub_area"`
	Folder       string `json:"folder"`
	ManifestPath string `json:"manifest_path"`
	Port         int    `json:"port,omitempty"`
}

type Unit struct {
	Unit     string   `json:"unit"`
	Kind     string   `json:"kind"`
	Dir      string   `json:"dir"`
	Port     int      `json:"port,omitempty"`
	Index    string   `json:"index"`
	Projects []string `json:"projects"`
}

type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Plan is the dry-run result of POST /plans.
type Plan struct {
	SolutionName string       `json:"solution_name"`
	CompanyName  string       `json:"company_name"`
	MainIndex    string       `json:"main_index"`
	ProjectCount int          `json:"project_count"`
	Units        []Unit       `json:"units"`
	Projects     []Project    `json:"projects"`
	Warnings     []string     `json:"warnings"`
	Valid        bool         `json:"valid"`
	Issues       []FieldIssue `json:"issues,omitempty"`
}

// Artifact is a downloaded generation.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    map[string]any
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// IsNotReady reports a download attempted before completion.
func IsNotReady(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// StartGeneration queues a generation and returns the accepted job.
func (c *Client) StartGeneration(ctx context.Context, req SolutionRequest) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodPost, "generations", req, &resp)
	return resp, err
}

// GetGeneration returns the current state of a job.
func (c *Client) GetGeneration(ctx context.Context, id string) (Job, error) {
	var resp Job
	err := c.do(ctx, http.MethodGet, "generations/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListGenerations lists jobs, optionally filtered by status.
func (c *Client) ListGenerations(ctx context.Context, status string) ([]Job, error) {
	endpoint := "generations"
	if status != "" {
		endpoint += "?status=" + url.QueryEscape(status)
	}
	var resp []Job
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Download fetches the archive or file listing of a completed job.
func (c *Client) Download(ctx context.Context, id string) (Artifact, error) {
	res, err := c.send(ctx, http.MethodGet, "generations/"+url.PathEscape(id)+"/download", nil)
	if err != nil {
		return Artifact{}, err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		FileName:    fileNameFromDisposition(res.Header.Get("Content-Disposition")),
		ContentType: res.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// Plan previews the projects a request would produce.
func (c *Client) Plan(ctx context.Context, req SolutionRequest) (Plan, error) {
	var resp Plan
	err := c.do(ctx, http.MethodPost, "plans", req, &resp)
	return resp, err
}

// ValidateSolutionName asks the server whether name is a usable solution name.
func (c *Client) ValidateSolutionName(ctx context.Context, name string) (bool, error) {
	return c.validateName(ctx, "solution-name", name)
}

// ValidateUnitName asks the server whether name is a usable unit name.
func (c *Client) ValidateUnitName(ctx context.Context, name string) (bool, error) {
	return c.validateName(ctx, "unit-name", name)
}

func (c *Client) validateName(ctx context.Context, kind, name string) (bool, error) {
	var resp struct {
		Valid bool `json:"valid"`
	}
	err := c.do(ctx, http.MethodGet, "validation/"+kind+"?name="+url.QueryEscape(name), nil, &resp)
	return resp.Valid, err
}

// NextPort returns the first free port not in exclude.
func (c *Client) NextPort(ctx context.Context, exclude []int) (int, error) {
	if exclude == nil {
		exclude = []int{}
	}
	var resp struct {
		Port int `json:"port"`
	}
	err := c.do(ctx, http.MethodPost, "ports/next", map[string]any{"exclude": exclude}, &resp)
	return resp.Port, err
}

// WaitForCompletion polls a job until it is terminal or ctx ends.
func (c *Client) WaitForCompletion(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetGeneration(ctx, id)
		if err != nil {
			return job, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	res, err := c.send(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if out != nil {
		return json.NewDecoder(res.Body).Decode(out)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, endpoint string, body any) (*http.Response, error) {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(resp.Body)
		return nil, decodeAPIError(resp.StatusCode, b)
	}
	return resp, nil
}

func decodeAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Body: string(body)}
	var env struct {
		Error struct {
			Code    string         `json:"code"`
			Message string         `json:"message"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &env) == nil {
		apiErr.Code = env.Error.Code
		apiErr.Message = env.Error.Message
		apiErr.Details = env.Error.Details
	}
	return apiErr
}

func fileNameFromDisposition(v string) string {
	const key = "filename="
	i := strings.Index(v, key)
	if i < 0 {
		return ""
	}
	return strings.Trim(v[i+len(key):], `"`)
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
