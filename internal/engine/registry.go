package engine

import (
	"errors"
	"fmt"
	"sync"

	"slnforge/internal/domain"
)

// ErrTerminal is returned when a finished job is asked to change.
var ErrTerminal = errors.New("job already finished")

// Registry is the in-memory job table. Readers always receive copies.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*domain.GenerationJob
	order []string
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[string]*domain.GenerationJob{}}
}

// Insert adds a job. An existing job with the same id is replaced.
func (r *Registry) Insert(job domain.GenerationJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		r.order = append(r.order, job.ID)
	}
	j := job.Clone()
	r.jobs[job.ID] = &j
}

func (r *Registry) Get(id string) (domain.GenerationJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return domain.GenerationJob{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	return j.Clone(), nil
}

// Update applies fn to a working copy of the job and stores it when the
// result is a legal successor of the current record: status moves along
// the lifecycle and progress never goes backwards.
func (r *Registry) Update(id string, fn func(*domain.GenerationJob)) (domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.jobs[id]
	if !ok {
		return domain.GenerationJob{}, fmt.Errorf("job %s: %w", id, domain.ErrNotFound)
	}
	if cur.Status.Terminal() {
		return cur.Clone(), fmt.Errorf("job %s is %s: %w", id, cur.Status, ErrTerminal)
	}
	next := cur.Clone()
	fn(&next)
	next.ID = cur.ID
	if err := ensureJobTransition(cur.Status, next.Status); err != nil {
		return cur.Clone(), err
	}
	if next.Progress < cur.Progress {
		return cur.Clone(), fmt.Errorf("job %s progress cannot go from %d to %d", id, cur.Progress, next.Progress)
	}
	r.jobs[id] = &next
	return next.Clone(), nil
}

// List returns every job in creation order.
func (r *Registry) List() []domain.GenerationJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.GenerationJob, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return
	}
	delete(r.jobs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

func ensureJobTransition(oldStatus, newStatus domain.JobStatus) error {
	if oldStatus == newStatus {
		return nil
	}
	switch oldStatus {
	case domain.JobPending:
		if newStatus == domain.JobInProgress || newStatus == domain.JobFailed || newStatus == domain.JobCancelled {
			return nil
		}
	case domain.JobInProgress:
		if newStatus.Terminal() {
			return nil
		}
	}
	return fmt.Errorf("invalid job status transition %s -> %s", oldStatus, newStatus)
}
