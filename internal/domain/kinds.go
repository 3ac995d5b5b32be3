package domain

import "fmt"

// ProjectKind is the closed set of project roles the planner can emit.
type ProjectKind string

const (
	KindSharedKernel         ProjectKind = "shared_kernel"
	KindDomain               ProjectKind = "domain"
	KindApplicationContracts ProjectKind = "application_contracts"
	KindApplication          ProjectKind = "application"
	KindDataAccess           ProjectKind = "data_access"
	KindAPI                  ProjectKind = "api"
	KindAPIClient            ProjectKind = "api_client"
	KindAPIHost              ProjectKind = "api_host"
	KindTest                 ProjectKind = "test"
	KindGateway              ProjectKind = "gateway"
	KindClientApp            ProjectKind = "client_app"
	KindAuthServer           ProjectKind = "auth_server"
	KindShared               ProjectKind = "shared"
)

// Sub-areas inside a unit directory.
const (
	SubAreaSrc  = "src"
	SubAreaHost = "host"
	SubAreaTest = "test"
)

// KindSpec fixes the naming suffix and sub-area of a kind. Root-level kinds
// carry no suffix.
type KindSpec struct {
	Kind    ProjectKind
	Suffix  string
	SubArea string
}

// ServiceKinds lists the per-service kinds in generation order.
var ServiceKinds = []KindSpec{
	{KindSharedKernel, "Domain.Shared", SubAreaSrc},
	{KindDomain, "Domain", SubAreaSrc},
	{KindApplicationContracts, "Application.Contracts", SubAreaSrc},
	{KindApplication, "Application", SubAreaSrc},
	{KindDataAccess, "EntityFrameworkCore", SubAreaSrc},
	{KindAPI, "HttpApi", SubAreaSrc},
	{KindAPIClient, "HttpApi.Client", SubAreaSrc},
	{KindAPIHost, "HttpApi.Host", SubAreaHost},
	{KindTest, "Tests", SubAreaTest},
}

var rootKinds = []KindSpec{
	{KindGateway, "", SubAreaSrc},
	{KindClientApp, "", SubAreaSrc},
	{KindAuthServer, "", SubAreaSrc},
	{KindShared, "", SubAreaSrc},
}

// SubAreas lists the service sub-areas in the order they are generated.
var SubAreas = []string{SubAreaSrc, SubAreaHost, SubAreaTest}

// LookupKind returns the spec for a kind.
func LookupKind(k ProjectKind) (KindSpec, error) {
	for _, s := range ServiceKinds {
		if s.Kind == k {
			return s, nil
		}
	}
	for _, s := range rootKinds {
		if s.Kind == k {
			return s, nil
		}
	}
	return KindSpec{}, fmt.Errorf("unknown project kind %q", k)
}

// IsServiceKind reports whether k belongs to a service unit.
func IsServiceKind(k ProjectKind) bool {
	for _, s := range ServiceKinds {
		if s.Kind == k {
			return true
		}
	}
	return false
}

// UnitKind tells which top-level area a unit lives in.
type UnitKind string

const (
	UnitService UnitKind = "service"
	UnitGateway UnitKind = "gateway"
	UnitApp     UnitKind = "app"
	UnitAuth    UnitKind = "auth"
	UnitShared  UnitKind = "shared"
)

// Area returns the top-level directory for the unit kind.
func (u UnitKind) Area() string {
	switch u {
	case UnitService:
		return "services"
	case UnitGateway:
		return "gateways"
	case UnitApp, UnitAuth:
		return "apps"
	default:
		return "shared"
	}
}

// ProjectDescriptor is a planned project. Paths are slash-separated and
// relative to the solution root; Folder ends with a slash.
type ProjectDescriptor struct {
	Unit         string      `json:"unit"`
	UnitKind     UnitKind    `json:"unit_kind"`
	Kind         ProjectKind `json:"kind"`
	Name         string      `json:"name"`
	SubArea      string      `json:"sub_area"`
	Folder       string      `json:"folder"`
	ManifestPath string      `json:"manifest_path"`
	Port         int         `json:"port,omitempty"`
}

// UnitGroup holds the descriptors of one unit in generation order.
type UnitGroup struct {
	Unit     string              `json:"unit"`
	Kind     UnitKind            `json:"kind"`
	Dir      string              `json:"dir"`
	Port     int                 `json:"port,omitempty"`
	Projects []ProjectDescriptor `json:"projects"`
}

// BySubArea returns the unit's projects that live in the given sub-area.
func (g UnitGroup) BySubArea(subArea string) []ProjectDescriptor {
	var out []ProjectDescriptor
	for _, p := range g.Projects {
		if p.SubArea == subArea {
			out = append(out, p)
		}
	}
	return out
}
