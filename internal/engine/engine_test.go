package engine_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"

	"slnforge/internal/domain"
	"slnforge/internal/engine"
	"slnforge/internal/logging"
	"slnforge/internal/materialize"
	"slnforge/internal/slnindex"
)

// fakeTool stands in for the dotnet CLI. CreateIndex writes an index stub
// so later registrations find it.
type fakeTool struct {
	mu         sync.Mutex
	registered []string
	folders    []string
	started    chan struct{}
	release    chan struct{}
	createErr  error
	panicOn    bool
	onRegister func(manifest string) error
}

func (f *fakeTool) CreateIndex(ctx context.Context, indexPath string) error {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.panicOn {
		panic("tool exploded")
	}
	if f.createErr != nil {
		return f.createErr
	}
	return os.WriteFile(indexPath, []byte("\nMicrosoft Visual Studio Solution File, Format Version 12.00\n"), 0o644)
}

func (f *fakeTool) RegisterProject(ctx context.Context, indexPath, folder, manifestPath string) error {
	if _, err := os.Stat(indexPath); err != nil {
		return err
	}
	if _, err := os.Stat(manifestPath); err != nil {
		return err
	}
	f.mu.Lock()
	f.registered = append(f.registered, filepath.Base(manifestPath))
	f.folders = append(f.folders, folder)
	hook := f.onRegister
	f.mu.Unlock()
	if hook != nil {
		return hook(manifestPath)
	}
	return nil
}

type testEnv struct {
	Engine *engine.Engine
	Tool   *fakeTool
	Dir    string
}

func newTestEnv(t *testing.T, tool *fakeTool, opts engine.Options) testEnv {
	t.Helper()
	dir := t.TempDir()
	if opts.FS == nil {
		fsys, err := materialize.NewOS(dir)
		if err != nil {
			t.Fatalf("materializer: %v", err)
		}
		opts.FS = fsys
	}
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = 8
	}
	opts.Tool = tool
	opts.IDs = &slnindex.SequenceGenerator{}
	opts.Logger = logging.Discard()
	eng := engine.New(opts)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})
	return testEnv{Engine: eng, Tool: tool, Dir: dir}
}

func acmeRequest() domain.SolutionRequest {
	return domain.SolutionRequest{
		SolutionName:  "Acme",
		CompanyName:   "Acme",
		Microservices: []domain.ServiceSpec{{Name: "Billing", Port: 5001}},
	}
}

func waitTerminal(t *testing.T, eng *engine.Engine, id string) domain.GenerationJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := eng.GetStatus(id)
		if err != nil {
			t.Fatalf("status %s: %v", id, err)
		}
		if job.Status.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return domain.GenerationJob{}
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestGenerationCompletes(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, engine.Options{})
	job := env.Engine.StartGeneration(context.Background(), acmeRequest())
	if job.Status != domain.JobInProgress {
		t.Fatalf("expected in_progress on return, got %s", job.Status)
	}

	job = waitTerminal(t, env.Engine, job.ID)
	if job.Status != domain.JobCompleted || job.Progress != 100 {
		t.Fatalf("expected completed at 100, got %s at %d (%v)", job.Status, job.Progress, job.Errors)
	}
	if job.Message != "Completed successfully!" || job.CompletedAt == nil {
		t.Fatalf("unexpected completion record: %+v", job)
	}
	if len(job.Errors) != 0 {
		t.Fatalf("unexpected errors: %v", job.Errors)
	}
	for _, want := range []string{
		"Acme.sln",
		"README.md",
		"services/Billing/Acme.Billing.sln",
		"services/Billing/src/Acme.Billing.Domain.Shared/Acme.Billing.Domain.Shared.csproj",
		"services/Billing/src/Acme.Billing.Domain.Shared/Placeholder.cs",
		"services/Billing/host/Acme.Billing.HttpApi.Host/Program.cs",
		"services/Billing/test/Acme.Billing.Tests/Acme.Billing.Tests.csproj",
		"shared/DbMigrator/Acme.DbMigrator.sln",
		"shared/DbMigrator/src/Acme.DbMigrator/Acme.DbMigrator.csproj",
	} {
		if !contains(job.GeneratedFiles, want) {
			t.Fatalf("missing %s in %v", want, job.GeneratedFiles)
		}
	}
	manifests := 0
	for _, f := range job.GeneratedFiles {
		if strings.HasSuffix(f, ".csproj") {
			manifests++
		}
	}
	if manifests != 10 {
		t.Fatalf("expected 10 manifests, got %d", manifests)
	}
	if len(env.Tool.registered) != 10 {
		t.Fatalf("expected 10 registrations, got %d", len(env.Tool.registered))
	}
	if !contains(env.Tool.folders, `services\Billing\host`) || !contains(env.Tool.folders, `shared\DbMigrator`) {
		t.Fatalf("unexpected registration folders %v", env.Tool.folders)
	}
	onDisk := filepath.Join(env.Dir, job.ID, "Acme", "services", "Billing", "Acme.Billing.sln")
	if _, err := os.Stat(onDisk); err != nil {
		t.Fatalf("service index not on disk: %v", err)
	}
}

func TestDownloadListingWithoutArchive(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, engine.Options{})
	job := waitTerminal(t, env.Engine, env.Engine.StartGeneration(context.Background(), acmeRequest()).ID)

	art, err := env.Engine.Download(job.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	text := string(art.Data)
	if !strings.HasPrefix(text, "# Acme\n\nGenerated solution files:\n") {
		t.Fatalf("unexpected listing:\n%s", text)
	}
	if !strings.Contains(text, "- Acme.sln\n") || !strings.Contains(text, "Completed at: 2024-01-01T00:00:00Z") {
		t.Fatalf("listing incomplete:\n%s", text)
	}
	if art.ContentType != "text/plain; charset=utf-8" {
		t.Fatalf("content type %s", art.ContentType)
	}
}

func TestDownloadArchive(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, engine.Options{Archive: true, DownloadPrefix: "/v0/generations"})
	job := waitTerminal(t, env.Engine, env.Engine.StartGeneration(context.Background(), acmeRequest()).ID)
	if job.FileSizeBytes <= 0 {
		t.Fatalf("expected archive size, got %d", job.FileSizeBytes)
	}
	if job.DownloadURL != "/v0/generations/"+job.ID+"/download" {
		t.Fatalf("download url %q", job.DownloadURL)
	}

	art, err := env.Engine.Download(job.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if art.FileName != "Acme.zip" || art.ContentType != "application/zip" {
		t.Fatalf("unexpected artifact %s %s", art.FileName, art.ContentType)
	}
	zr, err := zip.NewReader(bytes.NewReader(art.Data), int64(len(art.Data)))
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	if len(zr.File) != len(job.GeneratedFiles) {
		t.Fatalf("zip has %d entries, job lists %d", len(zr.File), len(job.GeneratedFiles))
	}
	found := false
	for _, f := range zr.File {
		if f.Name == "Acme/services/Billing/Acme.Billing.sln" {
			found = true
		}
	}
	if !found {
		t.Fatalf("service index missing from archive")
	}
}

func TestRegistrationFailureIsNonFatal(t *testing.T) {
	tool := &fakeTool{onRegister: func(manifest string) error {
		if strings.HasSuffix(manifest, "Acme.Billing.Domain.csproj") {
			return &domain.ToolInvocationError{Command: "dotnet", ExitCode: 1, Stderr: "already added"}
		}
		return nil
	}}
	env := newTestEnv(t, tool, engine.Options{})
	job := waitTerminal(t, env.Engine, env.Engine.StartGeneration(context.Background(), acmeRequest()).ID)
	if job.Status != domain.JobCompleted {
		t.Fatalf("expected completed, got %s: %v", job.Status, job.Errors)
	}
	if len(job.Errors) != 1 || !strings.Contains(job.Errors[0], "Acme.Billing.Domain") {
		t.Fatalf("expected one registration error, got %v", job.Errors)
	}
}

// failingFS refuses to create anything under the Billing service.
type failingFS struct {
	billy.Filesystem
}

func (f failingFS) MkdirAll(p string, perm os.FileMode) error {
	if strings.Contains(filepath.ToSlash(p), "services/Billing") {
		return errors.New("disk full")
	}
	return f.Filesystem.MkdirAll(p, perm)
}

func TestFilesystemFailureRollsBack(t *testing.T) {
	dir := t.TempDir()
	fsys := materialize.New(failingFS{Filesystem: osfs.New(dir)}, dir)
	env := newTestEnv(t, &fakeTool{}, engine.Options{FS: fsys})

	job := waitTerminal(t, env.Engine, env.Engine.StartGeneration(context.Background(), acmeRequest()).ID)
	if job.Status != domain.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.CompletedAt == nil || len(job.Errors) == 0 {
		t.Fatalf("failure not recorded: %+v", job)
	}
	if !strings.Contains(job.Errors[len(job.Errors)-1], "disk full") {
		t.Fatalf("expected filesystem cause, got %v", job.Errors)
	}
	if _, err := os.Stat(filepath.Join(dir, job.ID)); !os.IsNotExist(err) {
		t.Fatalf("job directory left behind: %v", err)
	}
}

func TestCreateIndexFailureFailsJob(t *testing.T) {
	tool := &fakeTool{createErr: &domain.ToolInvocationError{Command: "dotnet", TimedOut: true}}
	env := newTestEnv(t, tool, engine.Options{})
	job := waitTerminal(t, env.Engine, env.Engine.StartGeneration(context.Background(), acmeRequest()).ID)
	if job.Status != domain.JobFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if !strings.Contains(strings.Join(job.Errors, "\n"), "timed out") {
		t.Fatalf("expected timeout in errors, got %v", job.Errors)
	}
	if len(tool.registered) != 0 {
		t.Fatalf("nothing should be registered")
	}
	if _, err := os.Stat(filepath.Join(env.Dir, job.ID)); !os.IsNotExist(err) {
		t.Fatalf("job directory left behind")
	}
}

func TestPanicFailsJob(t *testing.T) {
	env := newTestEnv(t, &fakeTool{panicOn: true}, engine.Options{})
	job := waitTerminal(t, env.Engine, env.Engine.StartGeneration(context.Background(), acmeRequest()).ID)
	if job.Status != domain.JobFailed || !strings.Contains(strings.Join(job.Errors, " "), "tool exploded") {
		t.Fatalf("expected panic to fail the job: %+v", job)
	}
	// the worker survives
	next := waitTerminal(t, env.Engine, env.Engine.StartGeneration(context.Background(), acmeRequest()).ID)
	if next.Status != domain.JobFailed {
		t.Fatalf("expected second job to run and fail the same way, got %s", next.Status)
	}
}

func TestInvalidRequestFailsImmediately(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, engine.Options{})
	req := acmeRequest()
	req.SolutionName = "1Acme"
	req.Microservices[0].Port = 80

	job := env.Engine.StartGeneration(context.Background(), req)
	if job.Status != domain.JobFailed || job.CompletedAt == nil {
		t.Fatalf("expected failed job, got %+v", job)
	}
	if len(job.Errors) != 2 {
		t.Fatalf("expected 2 issues, got %v", job.Errors)
	}
	stored, err := env.Engine.GetStatus(job.ID)
	if err != nil || stored.Status != domain.JobFailed {
		t.Fatalf("failed job not registered: %v", err)
	}
	if _, err := os.Stat(filepath.Join(env.Dir, job.ID)); !os.IsNotExist(err) {
		t.Fatalf("invalid request must not touch the filesystem")
	}
}

func TestUnknownJob(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, engine.Options{})
	if _, err := env.Engine.GetStatus("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := env.Engine.Download("nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDownloadNotReadyAndQueueFull(t *testing.T) {
	tool := &fakeTool{started: make(chan struct{}, 4), release: make(chan struct{})}
	env := newTestEnv(t, tool, engine.Options{Workers: 1, QueueSize: 1})

	running := env.Engine.StartGeneration(context.Background(), acmeRequest())
	<-tool.started
	if _, err := env.Engine.Download(running.ID); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}

	queued := env.Engine.StartGeneration(context.Background(), acmeRequest())
	if queued.Status != domain.JobInProgress {
		t.Fatalf("expected queued job in progress, got %s", queued.Status)
	}
	start := time.Now()
	rejected := env.Engine.StartGeneration(context.Background(), acmeRequest())
	if time.Since(start) > time.Second {
		t.Fatalf("submission blocked")
	}
	if rejected.Status != domain.JobFailed || !strings.Contains(strings.Join(rejected.Errors, " "), "queue is full") {
		t.Fatalf("expected queue-full failure, got %+v", rejected)
	}

	close(tool.release)
	if job := waitTerminal(t, env.Engine, running.ID); job.Status != domain.JobCompleted {
		t.Fatalf("running job: %s %v", job.Status, job.Errors)
	}
	if job := waitTerminal(t, env.Engine, queued.ID); job.Status != domain.JobCompleted {
		t.Fatalf("queued job: %s %v", job.Status, job.Errors)
	}
}

func TestShutdownCancelsQueuedJobs(t *testing.T) {
	tool := &fakeTool{started: make(chan struct{}, 4), release: make(chan struct{})}
	env := newTestEnv(t, tool, engine.Options{Workers: 1, QueueSize: 4})

	running := env.Engine.StartGeneration(context.Background(), acmeRequest())
	<-tool.started
	queued := env.Engine.StartGeneration(context.Background(), acmeRequest())

	done := make(chan error, 1)
	go func() { done <- env.Engine.Shutdown(context.Background()) }()

	if job := waitTerminal(t, env.Engine, queued.ID); job.Status != domain.JobCancelled {
		t.Fatalf("expected queued job cancelled, got %s", job.Status)
	}
	close(tool.release)
	if err := <-done; err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if job, _ := env.Engine.GetStatus(running.ID); job.Status != domain.JobCompleted {
		t.Fatalf("running job should finish, got %s", job.Status)
	}
	late := env.Engine.StartGeneration(context.Background(), acmeRequest())
	if late.Status != domain.JobFailed {
		t.Fatalf("expected rejection after shutdown, got %s", late.Status)
	}
}

func TestProgressIsMonotonic(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	tool := &fakeTool{}
	env := newTestEnv(t, tool, engine.Options{})
	var id string
	idReady := make(chan struct{})
	tool.onRegister = func(string) error {
		<-idReady
		job, err := env.Engine.GetStatus(id)
		if err != nil {
			return err
		}
		mu.Lock()
		seen = append(seen, job.Progress)
		mu.Unlock()
		return nil
	}
	req := acmeRequest()
	req.Microservices = append(req.Microservices, domain.ServiceSpec{Name: "Orders", Port: 5002})
	id = env.Engine.StartGeneration(context.Background(), req).ID
	close(idReady)

	job := waitTerminal(t, env.Engine, id)
	if job.Status != domain.JobCompleted {
		t.Fatalf("expected completed, got %s %v", job.Status, job.Errors)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 19 {
		t.Fatalf("expected 19 samples, got %d", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] < seen[i-1] {
			t.Fatalf("progress went backwards: %v", seen)
		}
	}
	if seen[0] != 10 || seen[len(seen)-1] < 15 {
		t.Fatalf("unexpected progress samples %v", seen)
	}
}

func TestConcurrentJobsRunInParallel(t *testing.T) {
	const jobs, workers = 6, 4
	tool := &fakeTool{started: make(chan struct{}, jobs), release: make(chan struct{})}
	env := newTestEnv(t, tool, engine.Options{Workers: workers, QueueSize: jobs})

	ids := make([]string, 0, jobs)
	for i := 0; i < jobs; i++ {
		job := env.Engine.StartGeneration(context.Background(), acmeRequest())
		if job.Status != domain.JobInProgress {
			t.Fatalf("job %d not accepted: %s %v", i, job.Status, job.Errors)
		}
		ids = append(ids, job.ID)
	}
	for i := 0; i < workers; i++ {
		select {
		case <-tool.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d of %d workers started", i, workers)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan string, jobs)
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			last := -1
			for {
				job, err := env.Engine.GetStatus(id)
				if err != nil {
					errs <- err.Error()
					return
				}
				if job.ID != id || job.Progress < last {
					errs <- fmt.Sprintf("%s: torn read %+v after progress %d", id, job, last)
					return
				}
				last = job.Progress
				if job.Status.Terminal() {
					if job.Status != domain.JobCompleted || job.Progress != 100 || len(job.GeneratedFiles) == 0 {
						errs <- fmt.Sprintf("%s: unexpected final record %+v", id, job)
					}
					return
				}
				runtime.Gosched()
			}
		}(id)
	}
	close(tool.release)
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}

	first, _ := env.Engine.GetStatus(ids[0])
	for _, id := range ids[1:] {
		job, _ := env.Engine.GetStatus(id)
		if len(job.GeneratedFiles) != len(first.GeneratedFiles) {
			t.Fatalf("job %s wrote %d files, job %s wrote %d", id, len(job.GeneratedFiles), first.ID, len(first.GeneratedFiles))
		}
		if _, err := os.Stat(filepath.Join(env.Dir, id, "Acme", "Acme.sln")); err != nil {
			t.Fatalf("job %s index missing: %v", id, err)
		}
	}
}

func TestObserversSeeTerminalJobs(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, engine.Options{})
	got := make(chan domain.GenerationJob, 4)
	env.Engine.Observe(engine.ObserverFunc(func(job domain.GenerationJob) { got <- job }))

	bad := acmeRequest()
	bad.Microservices = nil
	env.Engine.StartGeneration(context.Background(), bad)
	if job := <-got; job.Status != domain.JobFailed {
		t.Fatalf("expected failed notification, got %s", job.Status)
	}
	id := env.Engine.StartGeneration(context.Background(), acmeRequest()).ID
	select {
	case job := <-got:
		if job.ID != id || job.Status != domain.JobCompleted {
			t.Fatalf("unexpected notification %+v", job)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("no completion notification")
	}
}

func TestPruneRemovesOldJobs(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, engine.Options{Archive: true})
	job := waitTerminal(t, env.Engine, env.Engine.StartGeneration(context.Background(), acmeRequest()).ID)

	if n := env.Engine.Prune(time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)); n != 0 {
		t.Fatalf("nothing is old enough yet, pruned %d", n)
	}
	if n := env.Engine.Prune(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)); n != 1 {
		t.Fatalf("expected 1 pruned, got %d", n)
	}
	if _, err := env.Engine.GetStatus(job.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("job still registered")
	}
	for _, p := range []string{job.ID, job.ID + ".zip"} {
		if _, err := os.Stat(filepath.Join(env.Dir, p)); !os.IsNotExist(err) {
			t.Fatalf("%s left behind", p)
		}
	}
}

func TestStartRetentionRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t, &fakeTool{}, engine.Options{})
	if _, err := env.Engine.StartRetention("not a schedule", time.Hour); err == nil {
		t.Fatalf("expected schedule error")
	}
	sw, err := env.Engine.StartRetention("*/5 * * * *", time.Hour)
	if err != nil {
		t.Fatalf("start retention: %v", err)
	}
	sw.Stop()
}
