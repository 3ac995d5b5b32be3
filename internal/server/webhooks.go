package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"slnforge/internal/config"
	"slnforge/internal/domain"
	"slnforge/internal/engine"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookBacklog = 100
)

// Event names delivered to webhooks.
const (
	EventGenerationCompleted = "generation.completed"
	EventGenerationFailed    = "generation.failed"
	EventGenerationCancelled = "generation.cancelled"
)

// WebhookDispatcher posts terminal jobs to the configured hooks. It
// observes the engine and delivers from its own goroutine so the engine is
// never blocked by a slow receiver.
type WebhookDispatcher struct {
	webhooks []config.WebhookConfig
	client   *http.Client
	logger   *slog.Logger
	queue    chan domain.GenerationJob
	wg       sync.WaitGroup
	once     sync.Once
}

// StartWebhooks subscribes a dispatcher to e. It returns nil when no hook
// is enabled.
func StartWebhooks(e *engine.Engine, hooks []config.WebhookConfig, logger *slog.Logger) *WebhookDispatcher {
	var active []config.WebhookConfig
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		active = append(active, hook)
	}
	if len(active) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &WebhookDispatcher{
		webhooks: active,
		client:   &http.Client{Timeout: defaultWebhookTimeout},
		logger:   logger,
		queue:    make(chan domain.GenerationJob, defaultWebhookBacklog),
	}
	d.wg.Add(1)
	go d.run()
	e.Observe(d)
	return d
}

// JobFinished queues a job for delivery; when the backlog is full the
// event is dropped and logged.
func (d *WebhookDispatcher) JobFinished(job domain.GenerationJob) {
	select {
	case d.queue <- job:
	default:
		d.logger.Warn("webhook backlog full, event dropped", "job", job.ID, "status", job.Status)
	}
}

// Close drains pending deliveries.
func (d *WebhookDispatcher) Close() {
	if d == nil {
		return
	}
	d.once.Do(func() { close(d.queue) })
	d.wg.Wait()
}

func (d *WebhookDispatcher) run() {
	defer d.wg.Done()
	for job := range d.queue {
		d.dispatchAll(job)
	}
}

func (d *WebhookDispatcher) dispatchAll(job domain.GenerationJob) {
	evt := eventFor(job.Status)
	for _, hook := range d.webhooks {
		if !newEventFilter(hook.Events).match(evt) {
			continue
		}
		if err := d.postEvent(context.Background(), hook, evt, job); err != nil {
			d.logger.Warn("webhook delivery failed", "url", hook.URL, "event", evt, "job", job.ID, "error", err)
		}
	}
}

func eventFor(status domain.JobStatus) string {
	switch status {
	case domain.JobCompleted:
		return EventGenerationCompleted
	case domain.JobCancelled:
		return EventGenerationCancelled
	default:
		return EventGenerationFailed
	}
}

type webhookEvent struct {
	Type string               `json:"type"`
	TS   string               `json:"ts"`
	Job  domain.GenerationJob `json:"job"`
}

func (d *WebhookDispatcher) postEvent(ctx context.Context, hook config.WebhookConfig, evt string, job domain.GenerationJob) error {
	ts := job.CreatedAt
	if job.CompletedAt != nil {
		ts = *job.CompletedAt
	}
	data, err := json.Marshal(webhookEvent{Type: evt, TS: ts, Job: job})
	if err != nil {
		return err
	}
	timeout := defaultWebhookTimeout
	if hook.TimeoutSeconds > 0 {
		timeout = time.Duration(hook.TimeoutSeconds) * time.Second
	}
	client := d.client
	if timeout != d.client.Timeout {
		client = &http.Client{Timeout: timeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slnforge-Event", evt)
	req.Header.Set("X-Slnforge-Delivery", job.ID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Slnforge-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(bodyBytes)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
