package assets

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"slnforge/internal/domain"
	"slnforge/internal/planner"
)

type composeFile struct {
	Services map[string]composeService `yaml:"services"`
}

type composeService struct {
	Image       string   `yaml:"image,omitempty"`
	Build       *build   `yaml:"build,omitempty"`
	Ports       []string `yaml:"ports,omitempty"`
	Environment []string `yaml:"environment,omitempty"`
	DependsOn   []string `yaml:"depends_on,omitempty"`
}

type build struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile,omitempty"`
}

func composeName(unit string) string {
	return strings.ToLower(unit)
}

func infraServices(infra domain.InfrastructureSpec) map[string]composeService {
	out := map[string]composeService{}
	if infra.EnableCache {
		out["redis"] = composeService{Image: "redis:7-alpine", Ports: []string{"6379:6379"}}
	}
	if infra.EnableMessageBroker {
		out["rabbitmq"] = composeService{Image: "rabbitmq:3-management", Ports: []string{"5672:5672", "15672:15672"}}
	}
	if infra.EnableSearch {
		out["elasticsearch"] = composeService{
			Image:       "docker.elastic.co/elasticsearch/elasticsearch:8.11.0",
			Ports:       []string{"9200:9200"},
			Environment: []string{"discovery.type=single-node", "xpack.security.enabled=false"},
		}
	}
	return out
}

func dockerCompose(req domain.SolutionRequest, plan planner.Plan) ([]byte, error) {
	infra := infraServices(req.Infrastructure)
	var deps []string
	for name := range infra {
		deps = append(deps, name)
	}
	sortStrings(deps)

	doc := composeFile{Services: infra}
	add := func(g domain.UnitGroup, contextDir string) {
		if g.Port == 0 {
			return
		}
		doc.Services[composeName(g.Unit)] = composeService{
			Build:       &build{Context: contextDir},
			Ports:       []string{fmt.Sprintf("%d:%d", g.Port, g.Port)},
			Environment: []string{"ASPNETCORE_ENVIRONMENT=Development"},
			DependsOn:   deps,
		}
	}
	for _, g := range plan.Services {
		add(g, "../"+g.Dir)
	}
	for _, g := range plan.Roots {
		add(g, "../"+g.Dir)
	}
	return yaml.Marshal(doc)
}

func dockerComposeOverride(plan planner.Plan) ([]byte, error) {
	doc := composeFile{Services: map[string]composeService{}}
	for _, g := range plan.Groups() {
		if g.Port == 0 {
			continue
		}
		doc.Services[composeName(g.Unit)] = composeService{
			Environment: []string{
				"ASPNETCORE_ENVIRONMENT=Development",
				fmt.Sprintf("ASPNETCORE_URLS=http://+:%d", g.Port),
			},
		}
	}
	return yaml.Marshal(doc)
}
