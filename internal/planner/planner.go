// Package planner turns a solution request into the ordered list of projects
// to generate, with their names, directories and manifest paths.
package planner

import (
	"path"

	"slnforge/internal/domain"
)

// SharedUnitName names the fixed shared root unit.
const SharedUnitName = "DbMigrator"

// Plan is the output of the planner.
type Plan struct {
	SolutionName string             `json:"solution_name"`
	CompanyName  string             `json:"company_name"`
	Roots        []domain.UnitGroup `json:"roots"`
	Services     []domain.UnitGroup `json:"services"`
}

// Groups returns root units followed by services.
func (p Plan) Groups() []domain.UnitGroup {
	out := make([]domain.UnitGroup, 0, len(p.Roots)+len(p.Services))
	out = append(out, p.Roots...)
	return append(out, p.Services...)
}

// Projects flattens every descriptor in generation order.
func (p Plan) Projects() []domain.ProjectDescriptor {
	var out []domain.ProjectDescriptor
	for _, g := range p.Groups() {
		out = append(out, g.Projects...)
	}
	return out
}

// Build plans every unit of the request. Units with unusable names are
// skipped and reported as *InvalidNameError warnings; planning continues.
func Build(req domain.SolutionRequest) (Plan, []error) {
	req = req.Normalize()
	plan := Plan{SolutionName: req.SolutionName, CompanyName: req.CompanyName}
	var warnings []error

	addRoot := func(name string, kind domain.UnitKind, port int, pk domain.ProjectKind) {
		if !ValidateUnitName(name) {
			warnings = append(warnings, &InvalidNameError{Unit: name, Kind: kind})
			return
		}
		plan.Roots = append(plan.Roots, rootGroup(req.CompanyName, name, kind, port, pk))
	}
	for _, gw := range req.Gateways {
		addRoot(gw.Name, domain.UnitGateway, gw.Port, domain.KindGateway)
	}
	if req.Auth.Enabled() {
		addRoot(req.Auth.Name, domain.UnitAuth, req.Auth.Port, domain.KindAuthServer)
	}
	for _, app := range req.Apps {
		addRoot(app.Name, domain.UnitApp, app.Port, domain.KindClientApp)
	}
	addRoot(SharedUnitName, domain.UnitShared, 0, domain.KindShared)

	for _, svc := range req.Microservices {
		if !ValidateUnitName(svc.Name) {
			warnings = append(warnings, &InvalidNameError{Unit: svc.Name, Kind: domain.UnitService})
			continue
		}
		plan.Services = append(plan.Services, serviceGroup(req.CompanyName, svc))
	}
	return plan, warnings
}

func rootGroup(company, unit string, kind domain.UnitKind, port int, pk domain.ProjectKind) domain.UnitGroup {
	dir := path.Join(kind.Area(), unit)
	name := company + "." + unit
	folder := path.Join(dir, domain.SubAreaSrc, name) + "/"
	return domain.UnitGroup{
		Unit: unit,
		Kind: kind,
		Dir:  dir,
		Port: port,
		Projects: []domain.ProjectDescriptor{{
			Unit:         unit,
			UnitKind:     kind,
			Kind:         pk,
			Name:         name,
			SubArea:      domain.SubAreaSrc,
			Folder:       folder,
			ManifestPath: folder + name + ".csproj",
			Port:         port,
		}},
	}
}

func serviceGroup(company string, svc domain.ServiceSpec) domain.UnitGroup {
	dir := path.Join(domain.UnitService.Area(), svc.Name)
	g := domain.UnitGroup{Unit: svc.Name, Kind: domain.UnitService, Dir: dir, Port: svc.Port}
	for _, ks := range domain.ServiceKinds {
		name := ProjectName(company, svc.Name, ks.Suffix)
		folder := path.Join(dir, ks.SubArea, name) + "/"
		d := domain.ProjectDescriptor{
			Unit:         svc.Name,
			UnitKind:     domain.UnitService,
			Kind:         ks.Kind,
			Name:         name,
			SubArea:      ks.SubArea,
			Folder:       folder,
			ManifestPath: folder + name + ".csproj",
		}
		if ks.Kind == domain.KindAPIHost {
			d.Port = svc.Port
		}
		g.Projects = append(g.Projects, d)
	}
	return g
}

// ProjectName composes "{Company}.{Unit}.{Suffix}"; an empty suffix yields
// "{Company}.{Unit}".
func ProjectName(company, unit, suffix string) string {
	if suffix == "" {
		return company + "." + unit
	}
	return company + "." + unit + "." + suffix
}

// ServiceIndexPath is the per-service index location relative to the
// solution root.
func ServiceIndexPath(company string, g domain.UnitGroup) string {
	return path.Join(g.Dir, company+"."+g.Unit+".sln")
}

// MainIndexName is the root index file name.
func MainIndexName(solution string) string {
	return solution + ".sln"
}
