package engine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Prune forgets terminal jobs that finished before cutoff and deletes
// their output. It returns how many jobs were removed.
func (e *Engine) Prune(cutoff time.Time) int {
	removed := 0
	for _, job := range e.Registry.List() {
		if !job.Status.Terminal() || job.CompletedAt == nil {
			continue
		}
		done, err := time.Parse(time.RFC3339, *job.CompletedAt)
		if err != nil || !done.Before(cutoff) {
			continue
		}
		if err := e.FS.RemoveAll(job.ID); err != nil {
			e.Logger.Warn("prune output", "job", job.ID, "error", err)
			continue
		}
		if err := e.FS.RemoveAll(archiveName(job.ID)); err != nil {
			e.Logger.Warn("prune archive", "job", job.ID, "error", err)
			continue
		}
		e.Registry.Remove(job.ID)
		removed++
	}
	return removed
}

// Sweeper periodically prunes old jobs.
type Sweeper struct {
	cron *cron.Cron
}

// StartRetention schedules Prune on a standard cron expression. Jobs that
// finished more than retention ago are removed on each tick.
func (e *Engine) StartRetention(schedule string, retention time.Duration) (*Sweeper, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if n := e.Prune(e.now().Add(-retention)); n > 0 {
			e.Logger.Info("pruned finished jobs", "count", n)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("retention schedule %q: %w", schedule, err)
	}
	c.Start()
	return &Sweeper{cron: c}, nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s == nil {
		return
	}
	<-s.cron.Stop().Done()
}
