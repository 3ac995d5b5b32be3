package domain

import "strings"

type DatabaseProvider string

const (
	DatabaseSQLServer  DatabaseProvider = "sqlserver"
	DatabaseMySQL      DatabaseProvider = "mysql"
	DatabasePostgreSQL DatabaseProvider = "postgresql"
	DatabaseSQLite     DatabaseProvider = "sqlite"
	DatabaseOracle     DatabaseProvider = "oracle"
)

type GatewayType string

const (
	GatewayWeb       GatewayType = "web"
	GatewayPublicWeb GatewayType = "public_web"
	GatewayInternal  GatewayType = "internal"
)

type AppType string

const (
	AppBlazorWasm   AppType = "blazor_wasm"
	AppBlazorServer AppType = "blazor_server"
	AppMvc          AppType = "mvc"
	AppAngular      AppType = "angular"
	AppReact        AppType = "react"
	AppMaui         AppType = "maui"
)

type Theme string

const (
	ThemeLeptonXLite Theme = "leptonx_lite"
	ThemeLeptonX     Theme = "leptonx"
	ThemeBasic       Theme = "basic"
	ThemeLepton      Theme = "lepton"
)

type AuthProvider string

const (
	AuthOpenIddict      AuthProvider = "openiddict"
	AuthIdentityServer4 AuthProvider = "identityserver4"
	AuthDuende          AuthProvider = "duende"
)

// DefaultAuthPort is used when an auth unit is requested without a port.
const DefaultAuthPort = 44322

// SolutionRequest is the declarative input of one generation.
type SolutionRequest struct {
	SolutionName       string             `json:"solution_name" yaml:"solution_name"`
	CompanyName        string             `json:"company_name" yaml:"company_name"`
	Description        string             `json:"description,omitempty" yaml:"description,omitempty"`
	DatabaseProvider   DatabaseProvider   `json:"database_provider,omitempty" yaml:"database_provider,omitempty" enum:"sqlserver,mysql,postgresql,sqlite,oracle"`
	EnableMultiTenancy bool               `json:"enable_multi_tenancy,omitempty" yaml:"enable_multi_tenancy,omitempty"`
	Microservices      []ServiceSpec      `json:"microservices" yaml:"microservices"`
	Gateways           []GatewaySpec      `json:"gateways,omitempty" yaml:"gateways,omitempty"`
	Apps               []AppSpec          `json:"apps,omitempty" yaml:"apps,omitempty"`
	Auth               AuthSpec           `json:"auth,omitempty" yaml:"auth,omitempty"`
	Infrastructure     InfrastructureSpec `json:"infrastructure,omitempty" yaml:"infrastructure,omitempty"`
}

type ServiceSpec struct {
	Name                  string `json:"name" yaml:"name"`
	Description           string `json:"description,omitempty" yaml:"description,omitempty"`
	Port                  int    `json:"port" yaml:"port"`
	EnableAPI             bool   `json:"enable_api,omitempty" yaml:"enable_api,omitempty"`
	EnableGrpc            bool   `json:"enable_grpc,omitempty" yaml:"enable_grpc,omitempty"`
	EnableBackgroundJobs  bool   `json:"enable_background_jobs,omitempty" yaml:"enable_background_jobs,omitempty"`
	EnableEventBus        bool   `json:"enable_event_bus,omitempty" yaml:"enable_event_bus,omitempty"`
	IncludeSampleEntities bool   `json:"include_sample_entities,omitempty" yaml:"include_sample_entities,omitempty"`
}

type GatewaySpec struct {
	Name               string      `json:"name" yaml:"name"`
	Description        string      `json:"description,omitempty" yaml:"description,omitempty"`
	Port               int         `json:"port" yaml:"port"`
	Type               GatewayType `json:"type,omitempty" yaml:"type,omitempty" enum:"web,public_web,internal"`
	EnableRateLimiting bool        `json:"enable_rate_limiting,omitempty" yaml:"enable_rate_limiting,omitempty"`
	EnableCors         bool        `json:"enable_cors,omitempty" yaml:"enable_cors,omitempty"`
	EnableSwagger      bool        `json:"enable_swagger,omitempty" yaml:"enable_swagger,omitempty"`
}

type AppSpec struct {
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Port        int     `json:"port" yaml:"port"`
	Type        AppType `json:"type,omitempty" yaml:"type,omitempty" enum:"blazor_wasm,blazor_server,mvc,angular,react,maui"`
	Theme       Theme   `json:"theme,omitempty" yaml:"theme,omitempty" enum:"leptonx_lite,leptonx,basic,lepton"`
}

// AuthSpec describes the optional auth server unit. It is generated only
// when Name is set.
type AuthSpec struct {
	Name     string       `json:"name,omitempty" yaml:"name,omitempty"`
	Port     int          `json:"port,omitempty" yaml:"port,omitempty"`
	Provider AuthProvider `json:"provider,omitempty" yaml:"provider,omitempty" enum:"openiddict,identityserver4,duende"`
}

func (a AuthSpec) Enabled() bool { return strings.TrimSpace(a.Name) != "" }

type InfrastructureSpec struct {
	EnableCache         bool `json:"enable_cache,omitempty" yaml:"enable_cache,omitempty"`
	EnableMessageBroker bool `json:"enable_message_broker,omitempty" yaml:"enable_message_broker,omitempty"`
	EnableSearch        bool `json:"enable_search,omitempty" yaml:"enable_search,omitempty"`
	EnableDocker        bool `json:"enable_docker,omitempty" yaml:"enable_docker,omitempty"`
	EnableKubernetes    bool `json:"enable_kubernetes,omitempty" yaml:"enable_kubernetes,omitempty"`
}

// Normalize returns a copy of the request with enum defaults filled in and
// names trimmed.
func (r SolutionRequest) Normalize() SolutionRequest {
	out := r
	out.SolutionName = strings.TrimSpace(r.SolutionName)
	out.CompanyName = strings.TrimSpace(r.CompanyName)
	if out.DatabaseProvider == "" {
		out.DatabaseProvider = DatabaseSQLServer
	}
	out.Microservices = append([]ServiceSpec(nil), r.Microservices...)
	for i := range out.Microservices {
		out.Microservices[i].Name = strings.TrimSpace(out.Microservices[i].Name)
	}
	out.Gateways = append([]GatewaySpec(nil), r.Gateways...)
	for i := range out.Gateways {
		out.Gateways[i].Name = strings.TrimSpace(out.Gateways[i].Name)
		if out.Gateways[i].Type == "" {
			out.Gateways[i].Type = GatewayWeb
		}
	}
	out.Apps = append([]AppSpec(nil), r.Apps...)
	for i := range out.Apps {
		out.Apps[i].Name = strings.TrimSpace(out.Apps[i].Name)
		if out.Apps[i].Type == "" {
			out.Apps[i].Type = AppBlazorWasm
		}
		if out.Apps[i].Theme == "" {
			out.Apps[i].Theme = ThemeLeptonXLite
		}
	}
	out.Auth.Name = strings.TrimSpace(r.Auth.Name)
	if out.Auth.Enabled() {
		if out.Auth.Port == 0 {
			out.Auth.Port = DefaultAuthPort
		}
		if out.Auth.Provider == "" {
			out.Auth.Provider = AuthOpenIddict
		}
	}
	return out
}

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobCancelled
}

type GenerationJob struct {
	ID             string    `json:"id"`
	SolutionName   string    `json:"solution_name"`
	Status         JobStatus `json:"status" enum:"pending,in_progress,completed,failed,cancelled"`
	Progress       int       `json:"progress" minimum:"0" maximum:"100"`
	CurrentStep    string    `json:"current_step,omitempty"`
	Message        string    `json:"message,omitempty"`
	CreatedAt      string    `json:"created_at" format:"date-time"`
	CompletedAt    *string   `json:"completed_at,omitempty" format:"date-time"`
	GeneratedFiles []string  `json:"generated_files"`
	Errors         []string  `json:"errors"`
	DownloadURL    string    `json:"download_url,omitempty"`
	FileSizeBytes  int64     `json:"file_size_bytes,omitempty"`
}

// Clone returns a deep copy safe to hand to readers.
func (j GenerationJob) Clone() GenerationJob {
	out := j
	out.GeneratedFiles = append([]string{}, j.GeneratedFiles...)
	out.Errors = append([]string{}, j.Errors...)
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		out.CompletedAt = &ts
	}
	return out
}
