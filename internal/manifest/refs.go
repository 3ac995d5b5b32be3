package manifest

import (
	"fmt"
	"path"
	"strings"

	"slnforge/internal/domain"
)

// TemplateMismatchError means a project name does not carry the suffix its
// kind requires, so references cannot be derived from it.
type TemplateMismatchError struct {
	Name   string
	Suffix string
}

func (e *TemplateMismatchError) Error() string {
	return fmt.Sprintf("project %q does not end with suffix %q", e.Name, e.Suffix)
}

// ReferenceName derives the sibling project name for kind to from a project
// of kind from by swapping the trailing kind suffix. On mismatch the name is
// returned unchanged together with a *TemplateMismatchError.
func ReferenceName(name string, from, to domain.ProjectKind) (string, error) {
	fs, err := domain.LookupKind(from)
	if err != nil {
		return name, err
	}
	ts, err := domain.LookupKind(to)
	if err != nil {
		return name, err
	}
	suffix := "." + fs.Suffix
	if fs.Suffix == "" || !strings.HasSuffix(name, suffix) {
		return name, &TemplateMismatchError{Name: name, Suffix: fs.Suffix}
	}
	base := strings.TrimSuffix(name, suffix)
	if ts.Suffix == "" {
		return base, nil
	}
	return base + "." + ts.Suffix, nil
}

// reference resolves the manifest include path of a sibling project,
// relative to the referencing project's folder and backslash-separated.
func reference(d domain.ProjectDescriptor, to domain.ProjectKind) (string, error) {
	refName, err := ReferenceName(d.Name, d.Kind, to)
	if err != nil {
		return "", err
	}
	ts, err := domain.LookupKind(to)
	if err != nil {
		return "", err
	}
	unitDir := path.Dir(path.Dir(strings.TrimSuffix(d.Folder, "/")))
	target := path.Join(unitDir, ts.SubArea, refName, refName+".csproj")
	rel := relPath(strings.TrimSuffix(d.Folder, "/"), target)
	return strings.ReplaceAll(rel, "/", `\`), nil
}

func relPath(from, to string) string {
	fp := strings.Split(from, "/")
	tp := strings.Split(to, "/")
	i := 0
	for i < len(fp) && i < len(tp) && fp[i] == tp[i] {
		i++
	}
	parts := make([]string, 0, len(fp)-i+len(tp)-i)
	for range fp[i:] {
		parts = append(parts, "..")
	}
	parts = append(parts, tp[i:]...)
	return strings.Join(parts, "/")
}
