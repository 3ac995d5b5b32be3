package planner

import (
	"fmt"
	"regexp"
	"strings"

	"slnforge/internal/domain"
)

const (
	MinPort = 1000
	MaxPort = 65535

	maxSolutionNameLen = 100
	maxUnitNameLen     = 50
)

var (
	identifierRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*$`)
	namespaceRe  = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*(\.[A-Za-z][A-Za-z0-9]*)*$`)
)

// InvalidNameError marks a unit the planner had to skip.
type InvalidNameError struct {
	Unit string
	Kind domain.UnitKind
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("invalid %s name %q: must start with a letter and contain only letters and digits", e.Kind, e.Unit)
}

// ValidateSolutionName reports whether name is usable as a solution name.
func ValidateSolutionName(name string) bool {
	return len(name) <= maxSolutionNameLen && identifierRe.MatchString(name)
}

// ValidateUnitName reports whether name is usable as a service, gateway or
// app name.
func ValidateUnitName(name string) bool {
	return len(name) <= maxUnitNameLen && identifierRe.MatchString(name)
}

// ValidateCompanyName accepts dotted identifiers such as "Acme.Cloud".
func ValidateCompanyName(name string) bool {
	return len(name) <= maxSolutionNameLen && namespaceRe.MatchString(name)
}

// ValidPort reports whether p is inside the allowed port range.
func ValidPort(p int) bool {
	return p >= MinPort && p <= MaxPort
}

// ValidateRequest checks the request invariants and returns a
// *domain.ValidationError listing every issue, or nil.
func ValidateRequest(req domain.SolutionRequest) error {
	verr := &domain.ValidationError{}
	if !ValidateSolutionName(req.SolutionName) {
		verr.Add("solution_name", "%q must start with a letter and contain only letters and digits", req.SolutionName)
	}
	if !ValidateCompanyName(req.CompanyName) {
		verr.Add("company_name", "%q must be one or more dot-separated identifiers", req.CompanyName)
	}
	switch req.DatabaseProvider {
	case "", domain.DatabaseSQLServer, domain.DatabaseMySQL, domain.DatabasePostgreSQL, domain.DatabaseSQLite, domain.DatabaseOracle:
	default:
		verr.Add("database_provider", "unknown provider %q", req.DatabaseProvider)
	}
	if len(req.Microservices) == 0 {
		verr.Add("microservices", "at least one service is required")
	}
	seen := map[string]string{strings.ToLower(SharedUnitName): "the shared unit"}
	claim := func(field, name string) {
		key := strings.ToLower(name)
		if prev, ok := seen[key]; ok {
			verr.Add(field, "name %q already used by %s", name, prev)
			return
		}
		seen[key] = field
	}
	for i, svc := range req.Microservices {
		field := fmt.Sprintf("microservices[%d]", i)
		if !ValidateUnitName(svc.Name) {
			verr.Add(field+".name", "%q must start with a letter and contain only letters and digits", svc.Name)
		} else {
			claim(field+".name", svc.Name)
		}
		if !ValidPort(svc.Port) {
			verr.Add(field+".port", "%d is outside %d..%d", svc.Port, MinPort, MaxPort)
		}
	}
	for i, gw := range req.Gateways {
		field := fmt.Sprintf("gateways[%d]", i)
		if ValidateUnitName(gw.Name) {
			claim(field+".name", gw.Name)
		}
		if !ValidPort(gw.Port) {
			verr.Add(field+".port", "%d is outside %d..%d", gw.Port, MinPort, MaxPort)
		}
	}
	for i, app := range req.Apps {
		field := fmt.Sprintf("apps[%d]", i)
		if ValidateUnitName(app.Name) {
			claim(field+".name", app.Name)
		}
		if !ValidPort(app.Port) {
			verr.Add(field+".port", "%d is outside %d..%d", app.Port, MinPort, MaxPort)
		}
	}
	if req.Auth.Enabled() {
		if !ValidateUnitName(req.Auth.Name) {
			verr.Add("auth.name", "%q must start with a letter and contain only letters and digits", req.Auth.Name)
		} else {
			claim("auth.name", req.Auth.Name)
		}
		if req.Auth.Port != 0 && !ValidPort(req.Auth.Port) {
			verr.Add("auth.port", "%d is outside %d..%d", req.Auth.Port, MinPort, MaxPort)
		}
	}
	return verr.ErrOrNil()
}
