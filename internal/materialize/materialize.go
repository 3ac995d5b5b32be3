// Package materialize writes the generated tree through a go-billy
// filesystem so production runs on disk and tests run in memory.
package materialize

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"slnforge/internal/domain"
)

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// FS is the materializer. All paths are slash-separated and relative to
// the filesystem root.
type FS struct {
	fs         billy.Filesystem
	root       string
	retries    int
	retryDelay time.Duration
}

// Option configures an FS.
type Option func(*FS)

// WithRetries retries failed writes up to n extra times.
func WithRetries(n int, delay time.Duration) Option {
	return func(f *FS) {
		f.retries = n
		f.retryDelay = delay
	}
}

// New wraps an existing billy filesystem. root is the on-disk location it
// maps to and is only used by Abs.
func New(fsys billy.Filesystem, root string, opts ...Option) *FS {
	f := &FS{fs: fsys, root: root}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewOS returns a materializer rooted at dir on disk.
func NewOS(dir string, opts ...Option) (*FS, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &domain.FilesystemError{Op: "resolve", Path: dir, Err: err}
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, &domain.FilesystemError{Op: "mkdir", Path: abs, Err: err}
	}
	return New(osfs.New(abs), abs, opts...), nil
}

// NewMemory returns an in-memory materializer.
func NewMemory(opts ...Option) *FS {
	return New(memfs.New(), "/", opts...)
}

// Abs maps rel to the host path the external tool sees.
func (f *FS) Abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

// MkdirAll creates rel and any missing parents.
func (f *FS) MkdirAll(rel string) error {
	if err := f.fs.MkdirAll(rel, dirPerm); err != nil {
		return &domain.FilesystemError{Op: "mkdir", Path: rel, Err: err}
	}
	return nil
}

// WriteFile writes data to rel through a temp file and rename, creating
// parent directories. Failed attempts are retried.
func (f *FS) WriteFile(rel string, data []byte) error {
	var err error
	for i := 0; i <= f.retries; i++ {
		if i > 0 && f.retryDelay > 0 {
			time.Sleep(f.retryDelay)
		}
		if err = f.writeAtomic(rel, data); err == nil {
			return nil
		}
	}
	return &domain.FilesystemError{Op: "write", Path: rel, Err: err}
}

func (f *FS) writeAtomic(rel string, data []byte) error {
	dir := path.Dir(rel)
	if err := f.fs.MkdirAll(dir, dirPerm); err != nil {
		return err
	}
	tmp, err := f.fs.TempFile(dir, ".tmp-"+path.Base(rel)+"-")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = f.fs.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = f.fs.Remove(tmpName)
		return err
	}
	if err := f.fs.Rename(tmpName, rel); err != nil {
		_ = f.fs.Remove(tmpName)
		return err
	}
	return nil
}

// WriteString is WriteFile for text.
func (f *FS) WriteString(rel, text string) error {
	return f.WriteFile(rel, []byte(text))
}

// ReadFile returns the contents of rel.
func (f *FS) ReadFile(rel string) ([]byte, error) {
	data, err := util.ReadFile(f.fs, rel)
	if err != nil {
		return nil, &domain.FilesystemError{Op: "read", Path: rel, Err: err}
	}
	return data, nil
}

// Open opens rel for reading.
func (f *FS) Open(rel string) (io.ReadCloser, error) {
	file, err := f.fs.Open(rel)
	if err != nil {
		return nil, &domain.FilesystemError{Op: "open", Path: rel, Err: err}
	}
	return file, nil
}

// Create truncates or creates rel for writing.
func (f *FS) Create(rel string) (io.WriteCloser, error) {
	if err := f.fs.MkdirAll(path.Dir(rel), dirPerm); err != nil {
		return nil, &domain.FilesystemError{Op: "mkdir", Path: path.Dir(rel), Err: err}
	}
	file, err := f.fs.Create(rel)
	if err != nil {
		return nil, &domain.FilesystemError{Op: "create", Path: rel, Err: err}
	}
	return file, nil
}

// Exists reports whether rel exists.
func (f *FS) Exists(rel string) bool {
	_, err := f.fs.Stat(rel)
	return err == nil
}

// Size returns the size of the file at rel.
func (f *FS) Size(rel string) (int64, error) {
	info, err := f.fs.Stat(rel)
	if err != nil {
		return 0, &domain.FilesystemError{Op: "stat", Path: rel, Err: err}
	}
	return info.Size(), nil
}

// RemoveAll deletes rel and everything below it. Missing paths are not an
// error.
func (f *FS) RemoveAll(rel string) error {
	if err := util.RemoveAll(f.fs, rel); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &domain.FilesystemError{Op: "remove", Path: rel, Err: err}
	}
	return nil
}

// Files lists the regular files under rel as sorted paths relative to rel.
func (f *FS) Files(rel string) ([]string, error) {
	var out []string
	err := util.Walk(f.fs, rel, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		r := strings.TrimPrefix(filepath.ToSlash(p), strings.TrimSuffix(rel, "/")+"/")
		out = append(out, r)
		return nil
	})
	if err != nil {
		return nil, &domain.FilesystemError{Op: "walk", Path: rel, Err: err}
	}
	sort.Strings(out)
	return out, nil
}

func (f *FS) String() string {
	return fmt.Sprintf("materialize.FS(%s)", f.root)
}
