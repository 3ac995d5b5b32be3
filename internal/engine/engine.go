package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"slnforge/internal/domain"
	"slnforge/internal/materialize"
	"slnforge/internal/planner"
	"slnforge/internal/slnindex"
	"slnforge/internal/toolexec"
)

// Observer is told about every job that reaches a terminal state.
type Observer interface {
	JobFinished(job domain.GenerationJob)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(job domain.GenerationJob)

func (f ObserverFunc) JobFinished(job domain.GenerationJob) { f(job) }

// Options configure an Engine.
type Options struct {
	FS     *materialize.FS
	Tool   toolexec.Tool
	IDs    slnindex.IDGenerator
	Logger *slog.Logger

	Workers   int
	QueueSize int
	// Archive packs each finished solution into <jobID>.zip.
	Archive bool
	// DownloadPrefix is joined with the job id to form download URLs.
	DownloadPrefix string
	Newline        string
}

// Engine owns the job registry and runs generations on a worker pool.
type Engine struct {
	Registry *Registry
	FS       *materialize.FS
	Tool     toolexec.Tool
	Writer   *slnindex.Writer
	Logger   *slog.Logger
	Now      func() time.Time
	NewID    func() string

	archive        bool
	downloadPrefix string
	pool           *workerPool

	obsMu     sync.RWMutex
	observers []Observer
}

func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ids := opts.IDs
	if ids == nil {
		ids = slnindex.UUIDGenerator{}
	}
	return &Engine{
		Registry:       NewRegistry(),
		FS:             opts.FS,
		Tool:           opts.Tool,
		Writer:         &slnindex.Writer{IDs: ids, Newline: opts.Newline},
		Logger:         logger,
		Now:            time.Now,
		NewID:          uuid.NewString,
		archive:        opts.Archive,
		downloadPrefix: opts.DownloadPrefix,
		pool:           newWorkerPool(opts.Workers, opts.QueueSize),
	}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

// Observe registers an observer for terminal jobs.
func (e *Engine) Observe(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Engine) notify(job domain.GenerationJob) {
	e.obsMu.RLock()
	obs := append([]Observer(nil), e.observers...)
	e.obsMu.RUnlock()
	for _, o := range obs {
		o.JobFinished(job.Clone())
	}
}

// StartGeneration registers a job for req and queues it. It never blocks on
// the work itself. An invalid request or a full queue yields a job that is
// already Failed.
func (e *Engine) StartGeneration(ctx context.Context, req domain.SolutionRequest) domain.GenerationJob {
	req = req.Normalize()
	job := domain.GenerationJob{
		ID:             e.NewID(),
		SolutionName:   req.SolutionName,
		Status:         domain.JobPending,
		CurrentStep:    "Queued",
		CreatedAt:      e.timestamp(),
		GeneratedFiles: []string{},
		Errors:         []string{},
	}
	e.Registry.Insert(job)
	log := e.Logger.With("job", job.ID, "solution", req.SolutionName)

	if err := planner.ValidateRequest(req); err != nil {
		log.Warn("request rejected", "error", err)
		var issues []string
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			for _, is := range ve.Issues {
				issues = append(issues, is.Field+": "+is.Reason)
			}
		} else {
			issues = []string{err.Error()}
		}
		return e.finish(job.ID, domain.JobFailed, "Invalid request", issues...)
	}

	started, err := e.Registry.Update(job.ID, func(j *domain.GenerationJob) {
		j.Status = domain.JobInProgress
		j.CurrentStep = "Queued"
		j.Message = "Waiting for a worker"
	})
	if err != nil {
		return started
	}

	err = e.pool.submit(task{
		id:     job.ID,
		run:    func(runCtx context.Context) error { return e.run(runCtx, job.ID, req) },
		cancel: func() { e.finish(job.ID, domain.JobCancelled, "Cancelled before start") },
		done:   func(err error) { e.settle(job.ID, err) },
	})
	if err != nil {
		log.Warn("job not queued", "error", err)
		return e.finish(job.ID, domain.JobFailed, "Job could not be queued", err.Error())
	}
	log.Info("job queued")
	return started
}

// finish moves a job to a terminal state, stamps the completion time and
// notifies observers. Messages are appended to the job errors.
func (e *Engine) finish(id string, status domain.JobStatus, message string, errs ...string) domain.GenerationJob {
	ts := e.timestamp()
	job, err := e.Registry.Update(id, func(j *domain.GenerationJob) {
		j.Status = status
		j.Message = message
		j.CompletedAt = &ts
		j.Errors = append(j.Errors, errs...)
		if status == domain.JobCompleted {
			j.Progress = 100
			j.CurrentStep = "Completed"
		}
	})
	if err != nil {
		e.Logger.Error("job state not recorded", "job", id, "status", status, "error", err)
		return job
	}
	e.notify(job)
	return job
}

// settle records the outcome of a pipeline run that did not complete.
func (e *Engine) settle(id string, err error) {
	if err == nil {
		return
	}
	status := domain.JobFailed
	message := "Generation failed"
	if e.pool.ctx.Err() != nil && errors.Is(err, context.Canceled) {
		status = domain.JobCancelled
		message = "Generation cancelled"
	}
	e.Logger.Error("generation failed", "job", id, "error", err)
	if rmErr := e.FS.RemoveAll(id); rmErr != nil {
		e.Logger.Warn("rollback incomplete", "job", id, "error", rmErr)
	}
	e.finish(id, status, message, err.Error())
}

// GetStatus returns a snapshot of one job.
func (e *Engine) GetStatus(id string) (domain.GenerationJob, error) {
	return e.Registry.Get(id)
}

// ListJobs returns every known job in creation order.
func (e *Engine) ListJobs() []domain.GenerationJob {
	return e.Registry.List()
}

// Plan runs the planner without touching the filesystem.
func (e *Engine) Plan(req domain.SolutionRequest) (planner.Plan, []error) {
	return planner.Build(req)
}

func (e *Engine) ValidateSolutionName(name string) bool {
	return planner.ValidateSolutionName(name)
}

func (e *Engine) ValidateUnitName(name string) bool {
	return planner.ValidateUnitName(name)
}

func (e *Engine) NextAvailablePort(excluding []int) int {
	return planner.NextAvailablePort(excluding)
}

// Shutdown stops accepting jobs, cancels queued ones and waits for running
// jobs. If ctx expires first, running jobs are cancelled.
func (e *Engine) Shutdown(ctx context.Context) error {
	if err := e.pool.shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
