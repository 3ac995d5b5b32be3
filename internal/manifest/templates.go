package manifest

import (
	"slnforge/internal/domain"
)

const (
	abpVersion       = "4.2.0"
	efCoreVersion    = "9.0.0"
	targetFramework  = "net9.0"
	sdkDefault       = "Microsoft.NET.Sdk"
	sdkWeb           = "Microsoft.NET.Sdk.Web"
	sdkBlazorWasm    = "Microsoft.NET.Sdk.BlazorWebAssembly"
	sdkRazor         = "Microsoft.NET.Sdk.Razor"
	outputTypeExe    = "Exe"
	yarpVersion      = "2.2.0"
	serilogVersion   = "8.0.0"
	swaggerVersion   = "6.5.0"
	grpcVersion      = "2.66.0"
	testSdkVersion   = "17.8.0"
	xunitVersion     = "2.6.1"
	xunitRunnerVer   = "2.5.3"
	mauiVersion      = "9.0.0"
	spaProxyVersion  = "9.0.0"
	aspNetRateLimVer = "9.0.0"
)

// Package is one NuGet dependency.
type Package struct {
	Name    string
	Version string
}

// Property is an extra PropertyGroup entry.
type Property struct {
	Name  string
	Value string
}

// Context is what a template sees about the project being rendered.
type Context struct {
	Project domain.ProjectDescriptor
	Request domain.SolutionRequest
	Service *domain.ServiceSpec
	Gateway *domain.GatewaySpec
	App     *domain.AppSpec
}

// Template declares how one project kind's manifest is built.
type Template struct {
	SDK        func(Context) string
	Properties func(Context) []Property
	Packages   func(Context) []Package
	References []domain.ProjectKind
}

func abp(names ...string) []Package {
	out := make([]Package, 0, len(names))
	for _, n := range names {
		out = append(out, Package{Name: n, Version: abpVersion})
	}
	return out
}

func fixedSDK(sdk string) func(Context) string {
	return func(Context) string { return sdk }
}

func fixedPackages(pkgs ...Package) func(Context) []Package {
	return func(Context) []Package { return pkgs }
}

var efProviderPackages = map[domain.DatabaseProvider]string{
	domain.DatabaseSQLServer:  "Volo.Abp.EntityFrameworkCore.SqlServer",
	domain.DatabaseMySQL:      "Volo.Abp.EntityFrameworkCore.MySQL",
	domain.DatabasePostgreSQL: "Volo.Abp.EntityFrameworkCore.PostgreSql",
	domain.DatabaseSQLite:     "Volo.Abp.EntityFrameworkCore.Sqlite",
	domain.DatabaseOracle:     "Volo.Abp.EntityFrameworkCore.Oracle",
}

func efProvider(req domain.SolutionRequest) Package {
	name, ok := efProviderPackages[req.DatabaseProvider]
	if !ok {
		name = efProviderPackages[domain.DatabaseSQLServer]
	}
	return Package{Name: name, Version: abpVersion}
}

// DefaultTemplates returns the built-in kind to template table.
func DefaultTemplates() map[domain.ProjectKind]Template {
	return map[domain.ProjectKind]Template{
		domain.KindSharedKernel: {
			SDK:      fixedSDK(sdkDefault),
			Packages: fixedPackages(abp("Volo.Abp.Core")...),
		},
		domain.KindDomain: {
			SDK: fixedSDK(sdkDefault),
			Packages: func(c Context) []Package {
				pkgs := abp("Volo.Abp.Ddd.Domain")
				if c.Request.EnableMultiTenancy {
					pkgs = append(pkgs, abp("Volo.Abp.MultiTenancy")...)
				}
				return pkgs
			},
			References: []domain.ProjectKind{domain.KindSharedKernel},
		},
		domain.KindApplicationContracts: {
			SDK:        fixedSDK(sdkDefault),
			Packages:   fixedPackages(abp("Volo.Abp.Ddd.Application.Contracts")...),
			References: []domain.ProjectKind{domain.KindSharedKernel},
		},
		domain.KindApplication: {
			SDK:        fixedSDK(sdkDefault),
			Packages:   fixedPackages(abp("Volo.Abp.Ddd.Application", "Volo.Abp.AutoMapper")...),
			References: []domain.ProjectKind{domain.KindApplicationContracts, domain.KindDomain},
		},
		domain.KindDataAccess: {
			SDK: fixedSDK(sdkDefault),
			Packages: func(c Context) []Package {
				return []Package{efProvider(c.Request), {Name: "Microsoft.EntityFrameworkCore.Tools", Version: efCoreVersion}}
			},
			References: []domain.ProjectKind{domain.KindDomain},
		},
		domain.KindAPI: {
			SDK:        fixedSDK(sdkDefault),
			Packages:   fixedPackages(abp("Volo.Abp.AspNetCore.Mvc")...),
			References: []domain.ProjectKind{domain.KindApplicationContracts},
		},
		domain.KindAPIClient: {
			SDK:        fixedSDK(sdkDefault),
			Packages:   fixedPackages(abp("Volo.Abp.Http.Client")...),
			References: []domain.ProjectKind{domain.KindApplicationContracts},
		},
		domain.KindAPIHost: {
			SDK:      fixedSDK(sdkWeb),
			Packages: hostPackages,
			References: []domain.ProjectKind{
				domain.KindApplication,
				domain.KindDataAccess,
				domain.KindAPI,
			},
		},
		domain.KindTest: {
			SDK: fixedSDK(sdkDefault),
			Properties: func(Context) []Property {
				return []Property{{Name: "IsPackable", Value: "false"}}
			},
			Packages: fixedPackages(
				Package{Name: "Microsoft.NET.Test.Sdk", Version: testSdkVersion},
				Package{Name: "xunit", Version: xunitVersion},
				Package{Name: "xunit.runner.visualstudio", Version: xunitRunnerVer},
				Package{Name: "Volo.Abp.TestBase", Version: abpVersion},
			),
			References: []domain.ProjectKind{domain.KindApplication, domain.KindDataAccess},
		},
		domain.KindGateway: {
			SDK:      fixedSDK(sdkWeb),
			Packages: gatewayPackages,
		},
		domain.KindClientApp: {
			SDK:        appSDK,
			Properties: appProperties,
			Packages:   appPackages,
		},
		domain.KindAuthServer: {
			SDK:      fixedSDK(sdkWeb),
			Packages: authPackages,
		},
		domain.KindShared: {
			SDK: fixedSDK(sdkDefault),
			Properties: func(Context) []Property {
				return []Property{{Name: "OutputType", Value: outputTypeExe}}
			},
			Packages: func(c Context) []Package {
				return append(abp("Volo.Abp.Autofac"), efProvider(c.Request))
			},
		},
	}
}

func hostPackages(c Context) []Package {
	pkgs := abp("Volo.Abp.AspNetCore.Mvc", "Volo.Abp.Autofac")
	pkgs = append(pkgs,
		Package{Name: "Serilog.AspNetCore", Version: serilogVersion},
		Package{Name: "Swashbuckle.AspNetCore", Version: swaggerVersion},
	)
	if svc := c.Service; svc != nil {
		if svc.EnableGrpc {
			pkgs = append(pkgs, Package{Name: "Grpc.AspNetCore", Version: grpcVersion})
		}
		if svc.EnableBackgroundJobs {
			pkgs = append(pkgs, abp("Volo.Abp.BackgroundJobs")...)
		}
		if svc.EnableEventBus {
			if c.Request.Infrastructure.EnableMessageBroker {
				pkgs = append(pkgs, abp("Volo.Abp.EventBus.RabbitMQ")...)
			} else {
				pkgs = append(pkgs, abp("Volo.Abp.EventBus")...)
			}
		}
	}
	if c.Request.Infrastructure.EnableCache {
		pkgs = append(pkgs, abp("Volo.Abp.Caching.StackExchangeRedis")...)
	}
	return pkgs
}

func gatewayPackages(c Context) []Package {
	pkgs := []Package{{Name: "Yarp.ReverseProxy", Version: yarpVersion}}
	pkgs = append(pkgs, abp("Volo.Abp.AspNetCore.Mvc", "Volo.Abp.Autofac")...)
	if gw := c.Gateway; gw != nil {
		if gw.EnableRateLimiting {
			pkgs = append(pkgs, Package{Name: "Microsoft.AspNetCore.RateLimiting", Version: aspNetRateLimVer})
		}
		if gw.EnableSwagger {
			pkgs = append(pkgs, Package{Name: "Swashbuckle.AspNetCore", Version: swaggerVersion})
		}
	}
	return pkgs
}

func authPackages(c Context) []Package {
	var provider string
	switch c.Request.Auth.Provider {
	case domain.AuthIdentityServer4:
		provider = "Volo.Abp.Account.Web.IdentityServer"
	case domain.AuthDuende:
		provider = "Volo.Abp.Account.Web.Duende"
	default:
		provider = "Volo.Abp.Account.Web.OpenIddict"
	}
	return append(abp(provider, "Volo.Abp.Autofac"), efProvider(c.Request))
}

func appSDK(c Context) string {
	if c.App == nil {
		return sdkWeb
	}
	switch c.App.Type {
	case domain.AppBlazorWasm:
		return sdkBlazorWasm
	case domain.AppMaui:
		return sdkRazor
	default:
		return sdkWeb
	}
}

func appProperties(c Context) []Property {
	if c.App == nil {
		return nil
	}
	switch c.App.Type {
	case domain.AppMaui:
		return []Property{
			{Name: "UseMaui", Value: "true"},
			{Name: "OutputType", Value: outputTypeExe},
		}
	case domain.AppAngular, domain.AppReact:
		return []Property{{Name: "SpaRoot", Value: `ClientApp\`}}
	}
	return nil
}

var themePackages = map[domain.Theme][3]string{
	domain.ThemeLeptonXLite: {
		"Volo.Abp.AspNetCore.Components.WebAssembly.LeptonXLiteTheme",
		"Volo.Abp.AspNetCore.Components.Server.LeptonXLiteTheme",
		"Volo.Abp.AspNetCore.Mvc.UI.Theme.LeptonXLite",
	},
	domain.ThemeLeptonX: {
		"Volo.Abp.AspNetCore.Components.WebAssembly.LeptonXTheme",
		"Volo.Abp.AspNetCore.Components.Server.LeptonXTheme",
		"Volo.Abp.AspNetCore.Mvc.UI.Theme.LeptonX",
	},
	domain.ThemeBasic: {
		"Volo.Abp.AspNetCore.Components.WebAssembly.BasicTheme",
		"Volo.Abp.AspNetCore.Components.Server.BasicTheme",
		"Volo.Abp.AspNetCore.Mvc.UI.Theme.Basic",
	},
	domain.ThemeLepton: {
		"Volo.Abp.AspNetCore.Components.WebAssembly.LeptonTheme",
		"Volo.Abp.AspNetCore.Components.Server.LeptonTheme",
		"Volo.Abp.AspNetCore.Mvc.UI.Theme.Lepton",
	},
}

func appPackages(c Context) []Package {
	if c.App == nil {
		return abp(themePackages[domain.ThemeLeptonXLite][2])
	}
	set, ok := themePackages[c.App.Theme]
	if !ok {
		set = themePackages[domain.ThemeLeptonXLite]
	}
	switch c.App.Type {
	case domain.AppBlazorWasm:
		return abp(set[0])
	case domain.AppBlazorServer:
		return abp(set[1], "Volo.Abp.Autofac")
	case domain.AppMaui:
		return []Package{{Name: "Microsoft.Maui.Controls", Version: mauiVersion}}
	case domain.AppAngular, domain.AppReact:
		return []Package{{Name: "Microsoft.AspNetCore.SpaProxy", Version: spaProxyVersion}}
	default:
		return abp(set[2], "Volo.Abp.Autofac")
	}
}
