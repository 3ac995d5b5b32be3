package engine

import (
	"context"
	"fmt"
	"path"
	"strings"

	"slnforge/internal/assets"
	"slnforge/internal/domain"
	"slnforge/internal/manifest"
	"slnforge/internal/planner"
)

// Progress checkpoints of the pipeline.
const (
	progressDirectory   = 5
	progressMainIndex   = 8
	progressRoots       = 10
	progressServices    = 15
	progressServicesEnd = 85
	progressAssets      = 90
	progressCollect     = 95
)

// generation carries the per-job state of one pipeline run.
type generation struct {
	id        string
	req       domain.SolutionRequest
	plan      planner.Plan
	solDir    string
	mainIndex string
	synth     *manifest.Synthesizer
}

func (g *generation) at(rel string) string {
	return path.Join(g.solDir, rel)
}

// run executes every stage in order. A returned error fails the job and
// triggers the rollback in settle; registration problems are recorded on
// the job and do not stop the run.
func (e *Engine) run(ctx context.Context, id string, req domain.SolutionRequest) error {
	log := e.Logger.With("job", id, "solution", req.SolutionName)
	plan, warnings := planner.Build(req)
	for _, w := range warnings {
		log.Warn("unit skipped", "error", w)
		e.recordError(id, w.Error())
	}
	gen := &generation{
		id:     id,
		req:    req,
		plan:   plan,
		solDir: path.Join(id, req.SolutionName),
		synth:  manifest.New(req),
	}
	gen.mainIndex = gen.at(planner.MainIndexName(req.SolutionName))

	if err := e.step(id, progressDirectory, "Creating solution directory"); err != nil {
		return err
	}
	if err := e.FS.MkdirAll(gen.solDir); err != nil {
		return err
	}

	if err := e.step(id, progressMainIndex, "Creating solution index"); err != nil {
		return err
	}
	if err := e.Tool.CreateIndex(ctx, e.FS.Abs(gen.mainIndex)); err != nil {
		return fmt.Errorf("create solution index: %w", err)
	}

	if err := e.step(id, progressRoots, "Generating gateways, apps and shared projects"); err != nil {
		return err
	}
	for _, g := range plan.Roots {
		if err := e.unit(ctx, gen, g, []string{domain.SubAreaSrc}); err != nil {
			return err
		}
	}

	n := len(plan.Services)
	for i, g := range plan.Services {
		pct := progressServices + (progressServicesEnd-progressServices)*i/n
		if err := e.step(id, pct, fmt.Sprintf("Generating service %s (%d/%d)", g.Unit, i+1, n)); err != nil {
			return err
		}
		if err := e.unit(ctx, gen, g, domain.SubAreas); err != nil {
			return err
		}
	}

	if err := e.step(id, progressAssets, "Generating auxiliary files"); err != nil {
		return err
	}
	files, err := assets.Solution(req, plan, e.now())
	if err != nil {
		return err
	}
	if err := e.writeAssets(gen, files); err != nil {
		return err
	}

	if err := e.step(id, progressCollect, "Collecting generated files"); err != nil {
		return err
	}
	generated, err := e.FS.Files(gen.solDir)
	if err != nil {
		return err
	}
	var size int64
	if e.archive {
		if size, err = e.pack(id, req.SolutionName, generated); err != nil {
			return err
		}
	}
	if _, err := e.Registry.Update(id, func(j *domain.GenerationJob) {
		j.GeneratedFiles = generated
		j.FileSizeBytes = size
		if e.downloadPrefix != "" {
			j.DownloadURL = strings.TrimSuffix(e.downloadPrefix, "/") + "/" + id + "/download"
		}
	}); err != nil {
		return err
	}
	job := e.finish(id, domain.JobCompleted, "Completed successfully!")
	log.Info("generation completed", "files", len(job.GeneratedFiles), "errors", len(job.Errors))
	return nil
}

// unit materializes one unit: project folders, manifests and source stubs,
// registration into the main index, then the unit's own index.
func (e *Engine) unit(ctx context.Context, gen *generation, g domain.UnitGroup, folders []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range g.Projects {
		if err := e.FS.MkdirAll(gen.at(d.Folder)); err != nil {
			return err
		}
		doc, err := gen.synth.Synthesize(d)
		if err != nil {
			return fmt.Errorf("manifest for %s: %w", d.Name, err)
		}
		if err := e.FS.WriteString(gen.at(d.ManifestPath), doc); err != nil {
			return err
		}
		files, err := assets.Project(gen.req, gen.plan, d)
		if err != nil {
			return fmt.Errorf("sources for %s: %w", d.Name, err)
		}
		if err := e.writeAssets(gen, files); err != nil {
			return err
		}
	}

	index := e.FS.Abs(gen.mainIndex)
	for _, d := range g.Projects {
		err := e.Tool.RegisterProject(ctx, index, registrationFolder(g, d), e.FS.Abs(gen.at(d.ManifestPath)))
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		e.Logger.Warn("project not registered", "job", gen.id, "project", d.Name, "error", err)
		e.recordError(gen.id, fmt.Sprintf("register %s: %v", d.Name, err))
	}

	doc, err := e.Writer.Write(g.Dir, g.Projects, folders)
	if err != nil {
		return fmt.Errorf("index for %s: %w", g.Unit, err)
	}
	return e.FS.WriteString(gen.at(planner.ServiceIndexPath(gen.plan.CompanyName, g)), doc)
}

// registrationFolder is the logical folder a project is filed under in the
// main index: the unit directory, plus the sub-area for service projects.
func registrationFolder(g domain.UnitGroup, d domain.ProjectDescriptor) string {
	dir := g.Dir
	if domain.IsServiceKind(d.Kind) {
		dir = path.Join(dir, d.SubArea)
	}
	return strings.ReplaceAll(dir, "/", `\`)
}

func (e *Engine) writeAssets(gen *generation, files []assets.File) error {
	for _, f := range files {
		if err := e.FS.WriteFile(gen.at(f.Path), f.Content); err != nil {
			return err
		}
	}
	return nil
}

// step advances progress and the current step label.
func (e *Engine) step(id string, pct int, label string) error {
	_, err := e.Registry.Update(id, func(j *domain.GenerationJob) {
		if pct > j.Progress {
			j.Progress = pct
		}
		j.CurrentStep = label
		j.Message = label
	})
	return err
}

func (e *Engine) recordError(id, msg string) {
	if _, err := e.Registry.Update(id, func(j *domain.GenerationJob) {
		j.Errors = append(j.Errors, msg)
	}); err != nil {
		e.Logger.Warn("error not recorded", "job", id, "error", err)
	}
}
