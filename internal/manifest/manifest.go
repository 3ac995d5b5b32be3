// Package manifest renders per-project build manifests (.csproj) from a
// kind-keyed template table.
package manifest

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"slnforge/internal/domain"
)

// Synthesizer renders manifests for the projects of one request.
type Synthesizer struct {
	templates map[domain.ProjectKind]Template
	req       domain.SolutionRequest
}

// New returns a synthesizer using the built-in template table.
func New(req domain.SolutionRequest) *Synthesizer {
	return &Synthesizer{templates: DefaultTemplates(), req: req.Normalize()}
}

// Register replaces or adds the template of a kind.
func (s *Synthesizer) Register(kind domain.ProjectKind, t Template) {
	s.templates[kind] = t
}

type document struct {
	SDK        string
	Properties []Property
	Packages   []Package
	References []string
}

var csprojTmpl = template.Must(template.New("csproj").Parse(`<Project Sdk="{{.SDK}}">

  <PropertyGroup>
    <TargetFramework>` + targetFramework + `</TargetFramework>
    <Nullable>enable</Nullable>
    <ImplicitUsings>enable</ImplicitUsings>
{{- range .Properties}}
    <{{.Name}}>{{.Value}}</{{.Name}}>
{{- end}}
  </PropertyGroup>
{{- if .Packages}}

  <ItemGroup>
{{- range .Packages}}
    <PackageReference Include="{{.Name}}" Version="{{.Version}}" />
{{- end}}
  </ItemGroup>
{{- end}}
{{- if .References}}

  <ItemGroup>
{{- range .References}}
    <ProjectReference Include="{{.}}" />
{{- end}}
  </ItemGroup>
{{- end}}

</Project>
`))

// Synthesize renders the manifest text of d.
func (s *Synthesizer) Synthesize(d domain.ProjectDescriptor) (string, error) {
	t, ok := s.templates[d.Kind]
	if !ok {
		return "", fmt.Errorf("no manifest template for kind %s", d.Kind)
	}
	ctx := s.context(d)
	doc := document{SDK: sdkDefault}
	if t.SDK != nil {
		doc.SDK = t.SDK(ctx)
	}
	if t.Properties != nil {
		doc.Properties = t.Properties(ctx)
	}
	if t.Packages != nil {
		doc.Packages = t.Packages(ctx)
	}
	for _, kind := range t.References {
		ref, err := reference(d, kind)
		if err != nil {
			return "", fmt.Errorf("manifest %s: %w", d.Name, err)
		}
		doc.References = append(doc.References, ref)
	}
	var buf bytes.Buffer
	if err := csprojTmpl.Execute(&buf, doc); err != nil {
		return "", fmt.Errorf("render manifest %s: %w", d.Name, err)
	}
	return buf.String(), nil
}

// References returns the names of the projects d depends on.
func (s *Synthesizer) References(d domain.ProjectDescriptor) ([]string, error) {
	t, ok := s.templates[d.Kind]
	if !ok {
		return nil, fmt.Errorf("no manifest template for kind %s", d.Kind)
	}
	out := make([]string, 0, len(t.References))
	for _, kind := range t.References {
		name, err := ReferenceName(d.Name, d.Kind, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func (s *Synthesizer) context(d domain.ProjectDescriptor) Context {
	c := Context{Project: d, Request: s.req}
	switch d.UnitKind {
	case domain.UnitService:
		for i := range s.req.Microservices {
			if strings.EqualFold(s.req.Microservices[i].Name, d.Unit) {
				c.Service = &s.req.Microservices[i]
			}
		}
	case domain.UnitGateway:
		for i := range s.req.Gateways {
			if strings.EqualFold(s.req.Gateways[i].Name, d.Unit) {
				c.Gateway = &s.req.Gateways[i]
			}
		}
	case domain.UnitApp:
		for i := range s.req.Apps {
			if strings.EqualFold(s.req.Apps[i].Name, d.Unit) {
				c.App = &s.req.Apps[i]
			}
		}
	}
	return c
}
