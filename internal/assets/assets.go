// Package assets renders the auxiliary files of a generated solution:
// documentation, ignore rules, container and cluster manifests, build
// scripts and the per-project source stubs.
package assets

import (
	"bytes"
	"fmt"
	"path"
	"sort"
	"strings"
	"text/template"
	"time"

	"slnforge/internal/domain"
	"slnforge/internal/planner"
)

// File is one rendered asset. Path is slash-separated and relative to the
// solution root.
type File struct {
	Path    string
	Content []byte
}

// Solution renders the solution-level assets. Container manifests are
// emitted when docker is enabled and cluster manifests when kubernetes is.
func Solution(req domain.SolutionRequest, plan planner.Plan, now time.Time) ([]File, error) {
	req = req.Normalize()
	readme, err := renderReadme(req, plan, now)
	if err != nil {
		return nil, err
	}
	files := []File{
		{Path: "README.md", Content: readme},
		{Path: ".gitignore", Content: []byte(gitignore)},
		{Path: "build/build.sh", Content: []byte(buildScript(req, "sh"))},
		{Path: "build/build.ps1", Content: []byte(buildScript(req, "ps1"))},
	}

	if req.Infrastructure.EnableDocker {
		compose, err := dockerCompose(req, plan)
		if err != nil {
			return nil, fmt.Errorf("render docker-compose: %w", err)
		}
		override, err := dockerComposeOverride(plan)
		if err != nil {
			return nil, fmt.Errorf("render docker-compose override: %w", err)
		}
		files = append(files,
			File{Path: "docker/docker-compose.yml", Content: compose},
			File{Path: "docker/docker-compose.override.yml", Content: override},
		)
	}

	if req.Infrastructure.EnableKubernetes {
		ns, err := k8sNamespace(req)
		if err != nil {
			return nil, fmt.Errorf("render namespace: %w", err)
		}
		files = append(files, File{Path: "k8s/namespace.yaml", Content: ns})
		for _, g := range plan.Services {
			doc, err := k8sService(req, g)
			if err != nil {
				return nil, fmt.Errorf("render k8s manifest for %s: %w", g.Unit, err)
			}
			files = append(files, File{
				Path:    "k8s/" + strings.ToLower(g.Unit) + "-service.yaml",
				Content: doc,
			})
		}
	}
	return files, nil
}

var readmeTmpl = template.Must(template.New("readme").Parse(`# {{.Req.SolutionName}}

**Company:** {{.Req.CompanyName}}
{{- if .Req.Description}}
**Description:** {{.Req.Description}}
{{- end}}
**Generated:** {{.Generated}}
**Database:** {{.Req.DatabaseProvider}}

## Layout

` + "```" + `
├── services/   # Microservices
├── gateways/   # API gateways
├── apps/       # Client applications and auth server
├── shared/     # Shared tooling (DbMigrator)
├── docker/     # Container configuration
├── k8s/        # Cluster manifests
└── build/      # Build scripts
` + "```" + `

## Services
{{range .Req.Microservices}}
### {{.Name}}
- **Port:** {{.Port}}
{{- if .Description}}
- **Description:** {{.Description}}
{{- end}}
- **API:** {{.EnableAPI}}
- **gRPC:** {{.EnableGrpc}}
{{end}}
{{- if .Req.Auth.Enabled}}
## Authentication

### {{.Req.Auth.Name}}
- **Port:** {{.Req.Auth.Port}}
- **Provider:** {{.Req.Auth.Provider}}
{{end}}
{{- if .Req.Gateways}}
## API Gateways
{{range .Req.Gateways}}
### {{.Name}}
- **Port:** {{.Port}}
- **Type:** {{.Type}}
{{end}}
{{- end}}
{{- if .Req.Apps}}
## Applications
{{range .Req.Apps}}
### {{.Name}}
- **Port:** {{.Port}}
- **Type:** {{.Type}}
- **Theme:** {{.Theme}}
{{end}}
{{- end}}
## Projects

{{.ProjectCount}} projects are registered in ` + "`{{.Index}}`" + `.

## Build

` + "```" + `
./build/build.sh
` + "```" + `
`))

func renderReadme(req domain.SolutionRequest, plan planner.Plan, now time.Time) ([]byte, error) {
	var buf bytes.Buffer
	err := readmeTmpl.Execute(&buf, map[string]any{
		"Req":          req,
		"Generated":    now.UTC().Format("2006-01-02 15:04:05"),
		"ProjectCount": len(plan.Projects()),
		"Index":        planner.MainIndexName(req.SolutionName),
	})
	if err != nil {
		return nil, fmt.Errorf("render README: %w", err)
	}
	return buf.Bytes(), nil
}

const gitignore = `## Visual Studio and build output

*.suo
*.user
*.userosscache
*.sln.docstates

[Dd]ebug/
[Rr]elease/
x64/
x86/
[Bb]in/
[Oo]bj/
[Ll]og/
[Ll]ogs/

.vs/
.vscode/
.idea/

*.log
*.tmp
*.cache

node_modules/
dist/

*.db
*.sqlite
appsettings.*.local.json
`

func buildScript(req domain.SolutionRequest, flavor string) string {
	index := "../" + planner.MainIndexName(req.SolutionName)
	var b strings.Builder
	if flavor == "sh" {
		b.WriteString("#!/usr/bin/env bash\nset -euo pipefail\n\n")
		b.WriteString("cd \"$(dirname \"$0\")\"\n\n")
	} else {
		b.WriteString("$ErrorActionPreference = \"Stop\"\n")
		b.WriteString("Set-Location $PSScriptRoot\n\n")
	}
	fmt.Fprintf(&b, "echo \"Building %s...\"\n", req.SolutionName)
	fmt.Fprintf(&b, "dotnet restore %s\n", index)
	fmt.Fprintf(&b, "dotnet build %s --no-restore\n", index)
	b.WriteString("echo \"Build completed!\"\n")
	return b.String()
}

func sortStrings(s []string) {
	sort.Strings(s)
}

// Project renders the source files that accompany a project manifest.
// Paths are relative to the solution root.
func Project(req domain.SolutionRequest, plan planner.Plan, d domain.ProjectDescriptor) ([]File, error) {
	req = req.Normalize()
	at := func(name string) string { return path.Join(d.Folder, name) }

	switch d.Kind {
	case domain.KindAPIHost:
		settings, err := hostSettings(req, d)
		if err != nil {
			return nil, err
		}
		launch, err := launchSettings(d)
		if err != nil {
			return nil, err
		}
		return []File{
			{Path: at("Program.cs"), Content: []byte(hostProgram(d))},
			{Path: at("appsettings.json"), Content: settings},
			{Path: at("Properties/launchSettings.json"), Content: launch},
		}, nil
	case domain.KindGateway:
		settings, err := gatewaySettings(plan, d)
		if err != nil {
			return nil, err
		}
		return []File{
			{Path: at("Program.cs"), Content: []byte(gatewayProgram(d))},
			{Path: at("appsettings.json"), Content: settings},
		}, nil
	case domain.KindAuthServer:
		settings, err := authSettings(req, d)
		if err != nil {
			return nil, err
		}
		return []File{
			{Path: at("Program.cs"), Content: []byte(webProgram(d))},
			{Path: at("appsettings.json"), Content: settings},
		}, nil
	case domain.KindShared:
		settings, err := migratorSettings(req)
		if err != nil {
			return nil, err
		}
		return []File{
			{Path: at("Program.cs"), Content: []byte(migratorProgram(d))},
			{Path: at("appsettings.json"), Content: settings},
		}, nil
	case domain.KindClientApp:
		return appFiles(req, d)
	default:
		return []File{{Path: at("Placeholder.cs"), Content: []byte(placeholder(d.Name))}}, nil
	}
}

func placeholder(namespace string) string {
	return "namespace " + namespace + "\n" +
		"{\n" +
		"    public class Placeholder\n" +
		"    {\n" +
		"    }\n" +
		"}\n"
}
