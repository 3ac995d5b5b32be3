package engine

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"

	"slnforge/internal/domain"
)

// Artifact is the downloadable result of a completed job.
type Artifact struct {
	FileName    string
	ContentType string
	Data        []byte
}

func archiveName(id string) string {
	return id + ".zip"
}

// pack writes <id>.zip next to the job directory with every generated file
// under a top-level <solution>/ folder and returns the archive size.
func (e *Engine) pack(id, solution string, files []string) (size int64, err error) {
	out := archiveName(id)
	defer func() {
		if err != nil {
			_ = e.FS.RemoveAll(out)
		}
	}()
	w, err := e.FS.Create(out)
	if err != nil {
		return 0, err
	}
	zw := zip.NewWriter(w)
	for _, f := range files {
		if err := e.addToArchive(zw, path.Join(id, solution, f), path.Join(solution, f)); err != nil {
			_ = zw.Close()
			_ = w.Close()
			return 0, err
		}
	}
	if err := zw.Close(); err != nil {
		_ = w.Close()
		return 0, &domain.FilesystemError{Op: "archive", Path: out, Err: err}
	}
	if err := w.Close(); err != nil {
		return 0, &domain.FilesystemError{Op: "archive", Path: out, Err: err}
	}
	return e.FS.Size(out)
}

func (e *Engine) addToArchive(zw *zip.Writer, src, name string) error {
	r, err := e.FS.Open(src)
	if err != nil {
		return err
	}
	defer r.Close()
	dst, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return &domain.FilesystemError{Op: "archive", Path: src, Err: err}
	}
	if _, err := io.Copy(dst, r); err != nil {
		return &domain.FilesystemError{Op: "archive", Path: src, Err: err}
	}
	return nil
}

// Download returns the archive of a completed job, or a plain-text listing
// of its files when no archive was produced.
func (e *Engine) Download(id string) (Artifact, error) {
	job, err := e.Registry.Get(id)
	if err != nil {
		return Artifact{}, err
	}
	if job.Status != domain.JobCompleted {
		return Artifact{}, fmt.Errorf("job %s is %s: %w", id, job.Status, domain.ErrNotReady)
	}
	if zipPath := archiveName(id); e.FS.Exists(zipPath) {
		data, err := e.FS.ReadFile(zipPath)
		if err != nil {
			return Artifact{}, err
		}
		return Artifact{
			FileName:    job.SolutionName + ".zip",
			ContentType: "application/zip",
			Data:        data,
		}, nil
	}
	return Artifact{
		FileName:    job.SolutionName + ".txt",
		ContentType: "text/plain; charset=utf-8",
		Data:        []byte(listing(job)),
	}, nil
}

func listing(job domain.GenerationJob) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", job.SolutionName)
	b.WriteString("Generated solution files:\n")
	for _, f := range job.GeneratedFiles {
		b.WriteString("- " + f + "\n")
	}
	fmt.Fprintf(&b, "\nGenerated at: %s\n", job.CreatedAt)
	if job.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed at: %s\n", *job.CompletedAt)
	}
	return b.String()
}
