package assets

import (
	"encoding/json"
	"fmt"
	"strings"

	"slnforge/internal/domain"
	"slnforge/internal/planner"
)

type logLevels struct {
	LogLevel map[string]string `json:"LogLevel"`
}

var defaultLogging = logLevels{LogLevel: map[string]string{
	"Default":              "Information",
	"Microsoft.AspNetCore": "Warning",
}}

func marshalSettings(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("render settings: %w", err)
	}
	return append(data, '\n'), nil
}

// connectionString returns a development connection string for the
// database provider.
func connectionString(p domain.DatabaseProvider, db string) string {
	switch p {
	case domain.DatabaseMySQL:
		return fmt.Sprintf("Server=localhost;Port=3306;Database=%s;Uid=root;Pwd=myPassw0rd;", db)
	case domain.DatabasePostgreSQL:
		return fmt.Sprintf("Host=localhost;Port=5432;Database=%s;User ID=postgres;Password=myPassw0rd;", db)
	case domain.DatabaseSQLite:
		return fmt.Sprintf("Data Source=%s.db", db)
	case domain.DatabaseOracle:
		return "Data Source=localhost:1521/XEPDB1;User Id=system;Password=myPassw0rd;"
	default:
		return fmt.Sprintf("Server=localhost;Database=%s;Trusted_Connection=True;TrustServerCertificate=True", db)
	}
}

func hostProgram(d domain.ProjectDescriptor) string {
	module := strings.TrimSuffix(d.Name, ".HttpApi.Host") + ".HttpApiModule"
	return fmt.Sprintf(`using Microsoft.AspNetCore.Builder;
using Volo.Abp.AspNetCore;
using Volo.Abp.AspNetCore.Mvc;

namespace %s
{
    public class Program
    {
        public static void Main(string[] args)
        {
            var builder = WebApplication.CreateBuilder(args);
            builder.Services.AddApplication<%s>();
            var app = builder.Build();
            app.InitializeApplication();
            app.Run();
        }
    }
}
`, d.Name, module)
}

type hostAppSettings struct {
	App               map[string]string `json:"App"`
	ConnectionStrings map[string]string `json:"ConnectionStrings"`
	Redis             map[string]string `json:"Redis,omitempty"`
	RabbitMQ          map[string]any    `json:"RabbitMQ,omitempty"`
	Logging           logLevels         `json:"Logging"`
	AllowedHosts      string            `json:"AllowedHosts"`
}

func hostSettings(req domain.SolutionRequest, d domain.ProjectDescriptor) ([]byte, error) {
	s := hostAppSettings{
		App: map[string]string{"SelfUrl": fmt.Sprintf("https://localhost:%d", d.Port)},
		ConnectionStrings: map[string]string{
			"Default": connectionString(req.DatabaseProvider, req.SolutionName+"_"+d.Unit),
		},
		Logging:      defaultLogging,
		AllowedHosts: "*",
	}
	if req.Infrastructure.EnableCache {
		s.Redis = map[string]string{"Configuration": "localhost:6379"}
	}
	if req.Infrastructure.EnableMessageBroker {
		s.RabbitMQ = map[string]any{
			"Connections": map[string]any{"Default": map[string]string{"HostName": "localhost"}},
			"EventBus": map[string]string{
				"ClientName":   d.Unit,
				"ExchangeName": req.SolutionName,
			},
		}
	}
	return marshalSettings(s)
}

type launchProfile struct {
	CommandName          string            `json:"commandName"`
	LaunchBrowser        bool              `json:"launchBrowser"`
	ApplicationURL       string            `json:"applicationUrl"`
	EnvironmentVariables map[string]string `json:"environmentVariables"`
}

func launchSettings(d domain.ProjectDescriptor) ([]byte, error) {
	return marshalSettings(map[string]any{
		"profiles": map[string]launchProfile{
			d.Name: {
				CommandName:          "Project",
				LaunchBrowser:        true,
				ApplicationURL:       fmt.Sprintf("https://localhost:%d", d.Port),
				EnvironmentVariables: map[string]string{"ASPNETCORE_ENVIRONMENT": "Development"},
			},
		},
	})
}

func webProgram(d domain.ProjectDescriptor) string {
	return fmt.Sprintf(`using Microsoft.AspNetCore.Builder;

namespace %s
{
    public class Program
    {
        public static void Main(string[] args)
        {
            var builder = WebApplication.CreateBuilder(args);
            var app = builder.Build();
            app.Run();
        }
    }
}
`, d.Name)
}

func gatewayProgram(d domain.ProjectDescriptor) string {
	return fmt.Sprintf(`using Microsoft.AspNetCore.Builder;
using Microsoft.Extensions.DependencyInjection;

namespace %s
{
    public class Program
    {
        public static void Main(string[] args)
        {
            var builder = WebApplication.CreateBuilder(args);
            builder.Services.AddReverseProxy()
                .LoadFromConfig(builder.Configuration.GetSection("ReverseProxy"));
            var app = builder.Build();
            app.MapReverseProxy();
            app.Run();
        }
    }
}
`, d.Name)
}

type proxyRoute struct {
	ClusterID string            `json:"ClusterId"`
	Match     map[string]string `json:"Match"`
}

type proxyCluster struct {
	Destinations map[string]map[string]string `json:"Destinations"`
}

// gatewaySettings routes /api/{service}/ to every planned service host.
func gatewaySettings(plan planner.Plan, d domain.ProjectDescriptor) ([]byte, error) {
	routes := map[string]proxyRoute{}
	clusters := map[string]proxyCluster{}
	for _, g := range plan.Services {
		key := strings.ToLower(g.Unit)
		routes[key] = proxyRoute{
			ClusterID: key,
			Match:     map[string]string{"Path": "/api/" + key + "/{**catch-all}"},
		}
		clusters[key] = proxyCluster{Destinations: map[string]map[string]string{
			"destination1": {"Address": fmt.Sprintf("https://localhost:%d/", g.Port)},
		}}
	}
	return marshalSettings(map[string]any{
		"App":          map[string]string{"SelfUrl": fmt.Sprintf("https://localhost:%d", d.Port)},
		"ReverseProxy": map[string]any{"Routes": routes, "Clusters": clusters},
		"Logging":      defaultLogging,
		"AllowedHosts": "*",
	})
}

func authSettings(req domain.SolutionRequest, d domain.ProjectDescriptor) ([]byte, error) {
	return marshalSettings(map[string]any{
		"App": map[string]string{"SelfUrl": fmt.Sprintf("https://localhost:%d", d.Port)},
		"AuthServer": map[string]string{
			"Authority": fmt.Sprintf("https://localhost:%d", d.Port),
			"Provider":  string(req.Auth.Provider),
		},
		"ConnectionStrings": map[string]string{
			"Default": connectionString(req.DatabaseProvider, req.SolutionName+"_"+d.Unit),
		},
		"Logging":      defaultLogging,
		"AllowedHosts": "*",
	})
}

func migratorProgram(d domain.ProjectDescriptor) string {
	return fmt.Sprintf(`using System;
using System.Threading.Tasks;

namespace %s
{
    public class Program
    {
        public static async Task Main(string[] args)
        {
            Console.WriteLine("Applying database migrations...");
            await Task.CompletedTask;
        }
    }
}
`, d.Name)
}

// migratorSettings lists one connection string per planned service.
func migratorSettings(req domain.SolutionRequest) ([]byte, error) {
	conns := map[string]string{
		"Default": connectionString(req.DatabaseProvider, req.SolutionName),
	}
	for _, svc := range req.Microservices {
		if planner.ValidateUnitName(svc.Name) {
			conns[svc.Name] = connectionString(req.DatabaseProvider, req.SolutionName+"_"+svc.Name)
		}
	}
	return marshalSettings(map[string]any{"ConnectionStrings": conns})
}

type packageJSON struct {
	Name            string            `json:"name"`
	Version         string            `json:"version"`
	Private         bool              `json:"private"`
	Scripts         map[string]string `json:"scripts"`
	Dependencies    map[string]string `json:"dependencies"`
	DevDependencies map[string]string `json:"devDependencies,omitempty"`
}

func appFiles(req domain.SolutionRequest, d domain.ProjectDescriptor) ([]File, error) {
	var spec domain.AppSpec
	for _, a := range req.Apps {
		if a.Name == d.Unit {
			spec = a
			break
		}
	}
	at := func(name string) string { return d.Folder + name }
	switch spec.Type {
	case domain.AppAngular, domain.AppReact:
		pkg := spaPackage(spec, d)
		data, err := marshalSettings(pkg)
		if err != nil {
			return nil, err
		}
		return []File{{Path: at("package.json"), Content: data}}, nil
	case domain.AppMaui:
		return []File{{Path: at("MauiProgram.cs"), Content: []byte(mauiProgram(d))}}, nil
	default:
		return []File{{Path: at("Program.cs"), Content: []byte(webProgram(d))}}, nil
	}
}

func spaPackage(spec domain.AppSpec, d domain.ProjectDescriptor) packageJSON {
	name := strings.ToLower(strings.ReplaceAll(d.Name, ".", "-"))
	port := fmt.Sprint(d.Port)
	if spec.Type == domain.AppAngular {
		return packageJSON{
			Name:    name,
			Version: "0.0.0",
			Private: true,
			Scripts: map[string]string{
				"start": "ng serve --port " + port,
				"build": "ng build",
			},
			Dependencies: map[string]string{
				"@abp/ng.core":           "~9.0.0",
				"@abp/ng.theme.lepton-x": "~4.0.0",
				"@angular/core":          "~18.2.0",
			},
			DevDependencies: map[string]string{"@angular/cli": "~18.2.0"},
		}
	}
	return packageJSON{
		Name:    name,
		Version: "0.0.0",
		Private: true,
		Scripts: map[string]string{
			"start": "vite --port " + port,
			"build": "vite build",
		},
		Dependencies: map[string]string{
			"react":     "^18.3.1",
			"react-dom": "^18.3.1",
		},
		DevDependencies: map[string]string{"vite": "^5.4.0"},
	}
}

func mauiProgram(d domain.ProjectDescriptor) string {
	return fmt.Sprintf(`using Microsoft.Maui.Hosting;

namespace %s
{
    public static class MauiProgram
    {
        public static MauiApp CreateMauiApp()
        {
            var builder = MauiApp.CreateBuilder();
            return builder.Build();
        }
    }
}
`, d.Name)
}
