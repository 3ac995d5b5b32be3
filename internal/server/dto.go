package server

import (
	"slnforge/internal/domain"
	"slnforge/internal/planner"
)

// Request payloads

type NextPortRequest struct {
	Exclude []int `json:"exclude,omitempty" doc:"Ports already taken by the caller"`
}

// Response payloads

type NextPortResponse struct {
	Port int `json:"port" example:"44305"`
}

type NameValidationResponse struct {
	Name  string `json:"name"`
	Valid bool   `json:"valid"`
}

type UnitResponse struct {
	Unit     string   `json:"unit"`
	Kind     string   `json:"kind" enum:"service,gateway,app,auth,shared"`
	Dir      string   `json:"dir"`
	Port     int      `json:"port,omitempty"`
	Index    string   `json:"index"`
	Projects []string `json:"projects"`
}

type PlanResponse struct {
	SolutionName string                     `json:"solution_name"`
	CompanyName  string                     `json:"company_name"`
	MainIndex    string                     `json:"main_index"`
	ProjectCount int                        `json:"project_count"`
	Units        []UnitResponse             `json:"units"`
	Projects     []domain.ProjectDescriptor `json:"projects"`
	Warnings     []string                   `json:"warnings"`
	Valid        bool                       `json:"valid"`
	Issues       []domain.FieldIssue        `json:"issues,omitempty"`
}

// DownloadOutput streams the artifact with its own content type.
type DownloadOutput struct {
	ContentType        string `header:"Content-Type"`
	ContentDisposition string `header:"Content-Disposition"`
	Body               []byte
}

func planResponse(req domain.SolutionRequest, plan planner.Plan, warnings []error) PlanResponse {
	out := PlanResponse{
		SolutionName: plan.SolutionName,
		CompanyName:  plan.CompanyName,
		MainIndex:    planner.MainIndexName(plan.SolutionName),
		Projects:     plan.Projects(),
		Units:        []UnitResponse{},
		Warnings:     []string{},
		Valid:        true,
	}
	if out.Projects == nil {
		out.Projects = []domain.ProjectDescriptor{}
	}
	out.ProjectCount = len(out.Projects)
	for _, g := range plan.Groups() {
		names := make([]string, 0, len(g.Projects))
		for _, p := range g.Projects {
			names = append(names, p.Name)
		}
		out.Units = append(out.Units, UnitResponse{
			Unit:     g.Unit,
			Kind:     string(g.Kind),
			Dir:      g.Dir,
			Port:     g.Port,
			Index:    planner.ServiceIndexPath(plan.CompanyName, g),
			Projects: names,
		})
	}
	for _, w := range warnings {
		out.Warnings = append(out.Warnings, w.Error())
	}
	if err := planner.ValidateRequest(req.Normalize()); err != nil {
		out.Valid = false
		if ve, ok := err.(*domain.ValidationError); ok {
			out.Issues = ve.Issues
		}
	}
	return out
}
