package manifest

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slnforge/internal/domain"
	"slnforge/internal/planner"
)

func billingRequest() domain.SolutionRequest {
	return domain.SolutionRequest{
		SolutionName: "Acme",
		CompanyName:  "Acme",
		Microservices: []domain.ServiceSpec{
			{Name: "Billing", Port: 5001, EnableGrpc: true, EnableEventBus: true},
		},
		Gateways: []domain.GatewaySpec{{Name: "Web", Port: 44310, EnableSwagger: true}},
		Apps:     []domain.AppSpec{{Name: "Blazor", Port: 44320, Type: domain.AppBlazorServer, Theme: domain.ThemeBasic}},
		Auth:     domain.AuthSpec{Name: "AuthServer", Provider: domain.AuthDuende},
		Infrastructure: domain.InfrastructureSpec{
			EnableMessageBroker: true,
			EnableCache:         true,
		},
	}
}

func find(t *testing.T, projects []domain.ProjectDescriptor, kind domain.ProjectKind) domain.ProjectDescriptor {
	t.Helper()
	for _, p := range projects {
		if p.Kind == kind {
			return p
		}
	}
	t.Fatalf("no project of kind %s", kind)
	return domain.ProjectDescriptor{}
}

func TestReferencesResolveToPlannedProjects(t *testing.T) {
	req := billingRequest()
	plan, warnings := planner.Build(req)
	require.Empty(t, warnings)
	syn := New(req)

	names := map[string]bool{}
	for _, p := range plan.Projects() {
		names[p.Name] = true
	}
	for _, p := range plan.Projects() {
		refs, err := syn.References(p)
		require.NoError(t, err, p.Name)
		for _, ref := range refs {
			assert.True(t, names[ref], "%s references unknown project %s", p.Name, ref)
		}
	}
}

func TestApplicationReferences(t *testing.T) {
	plan, _ := planner.Build(billingRequest())
	app := find(t, plan.Projects(), domain.KindApplication)

	refs, err := New(billingRequest()).References(app)
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme.Billing.Application.Contracts", "Acme.Billing.Domain"}, refs)
}

func TestSynthesizeSharedKernel(t *testing.T) {
	plan, _ := planner.Build(billingRequest())
	p := find(t, plan.Projects(), domain.KindSharedKernel)

	text, err := New(billingRequest()).Synthesize(p)
	require.NoError(t, err)
	want := `<Project Sdk="Microsoft.NET.Sdk">

  <PropertyGroup>
    <TargetFramework>net9.0</TargetFramework>
    <Nullable>enable</Nullable>
    <ImplicitUsings>enable</ImplicitUsings>
  </PropertyGroup>

  <ItemGroup>
    <PackageReference Include="Volo.Abp.Core" Version="4.2.0" />
  </ItemGroup>

</Project>
`
	assert.Equal(t, want, text)
}

func TestSynthesizeHostReferencesAcrossSubAreas(t *testing.T) {
	plan, _ := planner.Build(billingRequest())
	host := find(t, plan.Projects(), domain.KindAPIHost)

	text, err := New(billingRequest()).Synthesize(host)
	require.NoError(t, err)
	assert.Contains(t, text, `<Project Sdk="Microsoft.NET.Sdk.Web">`)
	assert.Contains(t, text, `<ProjectReference Include="..\..\src\Acme.Billing.Application\Acme.Billing.Application.csproj" />`)
	assert.Contains(t, text, `<ProjectReference Include="..\..\src\Acme.Billing.HttpApi\Acme.Billing.HttpApi.csproj" />`)
	assert.Contains(t, text, `Include="Grpc.AspNetCore"`)
	assert.Contains(t, text, `Include="Volo.Abp.EventBus.RabbitMQ"`)
	assert.Contains(t, text, `Include="Volo.Abp.Caching.StackExchangeRedis"`)
}

func TestSynthesizeSameSubAreaReference(t *testing.T) {
	plan, _ := planner.Build(billingRequest())
	d := find(t, plan.Projects(), domain.KindDomain)

	text, err := New(billingRequest()).Synthesize(d)
	require.NoError(t, err)
	assert.Contains(t, text, `<ProjectReference Include="..\Acme.Billing.Domain.Shared\Acme.Billing.Domain.Shared.csproj" />`)
}

func TestSynthesizeDatabaseProvider(t *testing.T) {
	req := billingRequest()
	req.DatabaseProvider = domain.DatabasePostgreSQL
	plan, _ := planner.Build(req)
	d := find(t, plan.Projects(), domain.KindDataAccess)

	text, err := New(req).Synthesize(d)
	require.NoError(t, err)
	assert.Contains(t, text, "Volo.Abp.EntityFrameworkCore.PostgreSql")
	assert.Contains(t, text, `Include="Microsoft.EntityFrameworkCore.Tools" Version="9.0.0"`)
}

func TestSynthesizeRootUnits(t *testing.T) {
	req := billingRequest()
	plan, _ := planner.Build(req)
	syn := New(req)

	app, err := syn.Synthesize(find(t, plan.Projects(), domain.KindClientApp))
	require.NoError(t, err)
	assert.Contains(t, app, "Volo.Abp.AspNetCore.Components.Server.BasicTheme")

	auth, err := syn.Synthesize(find(t, plan.Projects(), domain.KindAuthServer))
	require.NoError(t, err)
	assert.Contains(t, auth, "Volo.Abp.Account.Web.Duende")

	shared, err := syn.Synthesize(find(t, plan.Projects(), domain.KindShared))
	require.NoError(t, err)
	assert.Contains(t, shared, "<OutputType>Exe</OutputType>")
	assert.False(t, strings.Contains(shared, "ProjectReference"))
}

func TestReferenceNameMismatch(t *testing.T) {
	name, err := ReferenceName("Acme.Billing.Domain", domain.KindApplication, domain.KindDomain)
	var mismatch *TemplateMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, "Acme.Billing.Domain", name)
	assert.Equal(t, "Application", mismatch.Suffix)

	name, err = ReferenceName("Acme.Billing.HttpApi.Host", domain.KindAPIHost, domain.KindAPI)
	require.NoError(t, err)
	assert.Equal(t, "Acme.Billing.HttpApi", name)
}

func TestSynthesizeMismatchedDescriptor(t *testing.T) {
	d := domain.ProjectDescriptor{
		Unit:     "Billing",
		UnitKind: domain.UnitService,
		Kind:     domain.KindApplication,
		Name:     "Acme.Billing.App",
		SubArea:  domain.SubAreaSrc,
		Folder:   "services/Billing/src/Acme.Billing.App/",
	}
	_, err := New(billingRequest()).Synthesize(d)
	var mismatch *TemplateMismatchError
	assert.ErrorAs(t, err, &mismatch)
}
