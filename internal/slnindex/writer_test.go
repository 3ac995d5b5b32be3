package slnindex

import (
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slnforge/internal/domain"
	"slnforge/internal/planner"
)

var guidRe = regexp.MustCompile(`\{[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\}`)

// normalizeIDs rewrites generated identifiers to ordinals in order of first
// appearance, leaving the fixed type identifiers alone.
func normalizeIDs(doc string) string {
	seen := map[string]string{}
	return guidRe.ReplaceAllStringFunc(doc, func(id string) string {
		if id == folderTypeID || id == projectTypeID {
			return id
		}
		if n, ok := seen[id]; ok {
			return n
		}
		n := fmt.Sprintf("{ID%d}", len(seen)+1)
		seen[id] = n
		return n
	})
}

func billingGroup(t *testing.T) domain.UnitGroup {
	t.Helper()
	plan, warnings := planner.Build(domain.SolutionRequest{
		SolutionName:  "Acme",
		CompanyName:   "Acme",
		Microservices: []domain.ServiceSpec{{Name: "Billing", Port: 5001}},
	})
	require.Empty(t, warnings)
	return plan.Services[0]
}

func TestWriteGolden(t *testing.T) {
	w := &Writer{IDs: &SequenceGenerator{}, Newline: "\n"}
	projects := []domain.ProjectDescriptor{{
		Name:         "Acme.DbMigrator",
		SubArea:      domain.SubAreaSrc,
		ManifestPath: "shared/DbMigrator/src/Acme.DbMigrator/Acme.DbMigrator.csproj",
	}}
	doc, err := w.Write("shared/DbMigrator", projects, []string{domain.SubAreaSrc})
	require.NoError(t, err)

	want := strings.Join([]string{
		"",
		"Microsoft Visual Studio Solution File, Format Version 12.00",
		"# Visual Studio Version 17",
		"VisualStudioVersion = 17.0.31903.59",
		"MinimumVisualStudioVersion = 10.0.40219.1",
		`Project("{2150E333-8FDC-42A3-9474-1A3956D46DE8}") = "src", "src", "{00000000-0000-0000-0000-000000000001}"`,
		"EndProject",
		`Project("{FAE04EC0-301F-11D3-BF4B-00C04F79EFBC}") = "Acme.DbMigrator", "src\Acme.DbMigrator\Acme.DbMigrator.csproj", "{00000000-0000-0000-0000-000000000002}"`,
		"EndProject",
		"Global",
		"\tGlobalSection(SolutionConfigurationPlatforms) = preSolution",
		"\t\tDebug|Any CPU = Debug|Any CPU",
		"\t\tRelease|Any CPU = Release|Any CPU",
		"\tEndGlobalSection",
		"\tGlobalSection(ProjectConfigurationPlatforms) = postSolution",
		"\t\t{00000000-0000-0000-0000-000000000002}.Debug|Any CPU.ActiveCfg = Debug|Any CPU",
		"\t\t{00000000-0000-0000-0000-000000000002}.Debug|Any CPU.Build.0 = Debug|Any CPU",
		"\t\t{00000000-0000-0000-0000-000000000002}.Release|Any CPU.ActiveCfg = Release|Any CPU",
		"\t\t{00000000-0000-0000-0000-000000000002}.Release|Any CPU.Build.0 = Release|Any CPU",
		"\tEndGlobalSection",
		"\tGlobalSection(SolutionProperties) = preSolution",
		"\t\tHideSolutionNode = FALSE",
		"\tEndGlobalSection",
		"\tGlobalSection(NestedProjects) = preSolution",
		"\t\t{00000000-0000-0000-0000-000000000002} = {00000000-0000-0000-0000-000000000001}",
		"\tEndGlobalSection",
		"EndGlobal",
		"",
	}, "\n")
	assert.Equal(t, want, doc)
}

func TestWriteDeterministicAfterNormalization(t *testing.T) {
	g := billingGroup(t)
	first, err := NewWriter().Write(g.Dir, g.Projects, domain.SubAreas)
	require.NoError(t, err)
	second, err := NewWriter().Write(g.Dir, g.Projects, domain.SubAreas)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, normalizeIDs(first), normalizeIDs(second))
}

func TestWriteServiceIndex(t *testing.T) {
	g := billingGroup(t)
	doc, err := (&Writer{IDs: &SequenceGenerator{}}).Write(g.Dir, g.Projects, domain.SubAreas)
	require.NoError(t, err)

	assert.Equal(t, 3, strings.Count(doc, folderTypeID))
	assert.Equal(t, 9, strings.Count(doc, projectTypeID))
	assert.Equal(t, 9*4, strings.Count(doc, "|Any CPU.")) // four config lines per project
	assert.Contains(t, doc, `"host\Acme.Billing.HttpApi.Host\Acme.Billing.HttpApi.Host.csproj"`)

	nested := doc[strings.Index(doc, "GlobalSection(NestedProjects)"):]
	assert.Equal(t, 9, strings.Count(nested, " = {"))
}

func TestWriteOmitsEmptyFolders(t *testing.T) {
	g := billingGroup(t)
	srcOnly := g.BySubArea(domain.SubAreaSrc)
	doc, err := NewWriter().Write(g.Dir, srcOnly, domain.SubAreas)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(doc, folderTypeID))
	assert.NotContains(t, doc, `"host", "host"`)
	assert.NotContains(t, doc, `"test", "test"`)
}

func TestWriteUnlistedFolderIsNotNested(t *testing.T) {
	g := billingGroup(t)
	doc, err := (&Writer{IDs: &SequenceGenerator{}}).Write(g.Dir, g.Projects, []string{domain.SubAreaSrc})
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(doc, folderTypeID))
	assert.Equal(t, 9, strings.Count(doc, projectTypeID))
	nested := doc[strings.Index(doc, "GlobalSection(NestedProjects)"):]
	assert.Equal(t, 7, strings.Count(nested, " = {"))
}

type repeatingIDs struct{}

func (repeatingIDs) NewID() string { return "11111111-1111-1111-1111-111111111111" }

func TestWriteRejectsRepeatedIdentifiers(t *testing.T) {
	g := billingGroup(t)
	_, err := (&Writer{IDs: repeatingIDs{}}).Write(g.Dir, g.Projects, domain.SubAreas)
	assert.Error(t, err)
}

func TestWriteCRLF(t *testing.T) {
	g := billingGroup(t)
	doc, err := (&Writer{IDs: &SequenceGenerator{}, Newline: "\r\n"}).Write(g.Dir, g.Projects, domain.SubAreas)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(doc, "\r\nMicrosoft Visual Studio Solution File"))
	assert.True(t, strings.HasSuffix(doc, "EndGlobal\r\n"))
}
