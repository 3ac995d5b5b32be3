// Package slnindex writes solution-index (.sln) documents.
package slnindex

import (
	"fmt"
	"path"
	"strings"

	"slnforge/internal/domain"
)

const (
	folderTypeID  = "{2150E333-8FDC-42A3-9474-1A3956D46DE8}"
	projectTypeID = "{FAE04EC0-301F-11D3-BF4B-00C04F79EFBC}"
)

var configurations = []string{"Debug|Any CPU", "Release|Any CPU"}

// Entry is one project placed in an index.
type Entry struct {
	Project  domain.ProjectDescriptor
	ID       string
	Path     string
	FolderID string
}

// Writer renders index documents. Project paths are made relative to Base,
// the index file's directory inside the solution tree.
type Writer struct {
	IDs     IDGenerator
	Newline string
}

// NewWriter returns a writer drawing random identifiers.
func NewWriter() *Writer {
	return &Writer{IDs: UUIDGenerator{}, Newline: "\n"}
}

// Write renders an index at directory base listing projects grouped under
// logicalFolders. Folders without projects are omitted; projects whose folder
// is not listed are emitted at the root without nesting.
func (w *Writer) Write(base string, projects []domain.ProjectDescriptor, logicalFolders []string) (string, error) {
	ids := w.IDs
	if ids == nil {
		ids = UUIDGenerator{}
	}
	nl := w.Newline
	if nl == "" {
		nl = "\n"
	}
	seen := map[string]struct{}{}
	draw := func() (string, error) {
		id := strings.ToLower(ids.NewID())
		if _, dup := seen[id]; dup {
			return "", fmt.Errorf("identifier %s drawn twice in one index", id)
		}
		seen[id] = struct{}{}
		return id, nil
	}

	listed := map[string]bool{}
	for _, f := range logicalFolders {
		listed[f] = true
	}

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteString(nl)
	}
	line("")
	line("Microsoft Visual Studio Solution File, Format Version 12.00")
	line("# Visual Studio Version 17")
	line("VisualStudioVersion = 17.0.31903.59")
	line("MinimumVisualStudioVersion = 10.0.40219.1")

	var entries []Entry
	emit := func(p domain.ProjectDescriptor, folderID string) error {
		id, err := draw()
		if err != nil {
			return err
		}
		e := Entry{Project: p, ID: id, Path: relManifest(base, p.ManifestPath), FolderID: folderID}
		line(`Project("%s") = "%s", "%s", "{%s}"`, projectTypeID, p.Name, e.Path, e.ID)
		line("EndProject")
		entries = append(entries, e)
		return nil
	}

	for _, folder := range logicalFolders {
		var members []domain.ProjectDescriptor
		for _, p := range projects {
			if p.SubArea == folder {
				members = append(members, p)
			}
		}
		if len(members) == 0 {
			continue
		}
		folderID, err := draw()
		if err != nil {
			return "", err
		}
		line(`Project("%s") = "%s", "%s", "{%s}"`, folderTypeID, folder, folder, folderID)
		line("EndProject")
		for _, p := range members {
			if err := emit(p, folderID); err != nil {
				return "", err
			}
		}
	}
	for _, p := range projects {
		if listed[p.SubArea] {
			continue
		}
		if err := emit(p, ""); err != nil {
			return "", err
		}
	}

	line("Global")
	line("\tGlobalSection(SolutionConfigurationPlatforms) = preSolution")
	for _, c := range configurations {
		line("\t\t%s = %s", c, c)
	}
	line("\tEndGlobalSection")
	line("\tGlobalSection(ProjectConfigurationPlatforms) = postSolution")
	for _, e := range entries {
		for _, c := range configurations {
			line("\t\t{%s}.%s.ActiveCfg = %s", e.ID, c, c)
			line("\t\t{%s}.%s.Build.0 = %s", e.ID, c, c)
		}
	}
	line("\tEndGlobalSection")
	line("\tGlobalSection(SolutionProperties) = preSolution")
	line("\t\tHideSolutionNode = FALSE")
	line("\tEndGlobalSection")
	line("\tGlobalSection(NestedProjects) = preSolution")
	for _, e := range entries {
		if e.FolderID == "" {
			continue
		}
		line("\t\t{%s} = {%s}", e.ID, e.FolderID)
	}
	line("\tEndGlobalSection")
	line("EndGlobal")
	return b.String(), nil
}

func relManifest(base, manifest string) string {
	rel := manifest
	if base != "" && base != "." {
		rel = strings.TrimPrefix(manifest, strings.TrimSuffix(base, "/")+"/")
	}
	return strings.ReplaceAll(path.Clean(rel), "/", `\`)
}
