package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"

	"slnforge/internal/domain"
)

// ErrShutdown is returned by submissions after Shutdown started.
var ErrShutdown = errors.New("engine is shutting down")

type task struct {
	id string
	// run does the work; cancel is called instead when the task is dropped
	// from the queue before a worker reached it.
	run    func(ctx context.Context) error
	cancel func()
	// done receives the run error, or a recovered panic as an error.
	done func(err error)
}

// workerPool runs tasks on a fixed set of long-lived workers fed by a
// bounded queue. Submit never blocks.
type workerPool struct {
	queue    chan task
	workers  *pool.Pool
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	closed   bool
	draining chan struct{}
}

func newWorkerPool(workers, queueSize int) *workerPool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &workerPool{
		queue:    make(chan task, queueSize),
		workers:  pool.New().WithMaxGoroutines(workers),
		ctx:      ctx,
		cancel:   cancel,
		draining: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.workers.Go(p.loop)
	}
	return p
}

func (p *workerPool) loop() {
	for t := range p.queue {
		select {
		case <-p.draining:
			t.cancel()
			continue
		default:
		}
		t.done(p.runSafe(t))
	}
}

func (p *workerPool) runSafe(t task) (err error) {
	var pc panics.Catcher
	pc.Try(func() { err = t.run(p.ctx) })
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("job %s panicked: %v", t.id, r.Value)
	}
	return err
}

func (p *workerPool) submit(t task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrShutdown
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// shutdown stops intake, cancels queued tasks and waits for running ones.
// When ctx expires first the running tasks' context is cancelled and
// shutdown keeps waiting for them to return.
func (p *workerPool) shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.draining)
	close(p.queue)
	p.mu.Unlock()
	for t := range p.queue {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
