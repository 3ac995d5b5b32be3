package app

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slnforge/internal/config"
	"slnforge/internal/domain"
)

type stubTool struct{}

func (stubTool) CreateIndex(ctx context.Context, indexPath string) error {
	return os.WriteFile(indexPath, []byte("\n"), 0o644)
}

func (stubTool) RegisterProject(ctx context.Context, indexPath, folder, manifestPath string) error {
	return nil
}

// blockingTool holds CreateIndex until release is closed or ctx ends.
type blockingTool struct {
	started chan struct{}
	release chan struct{}
}

func (b blockingTool) CreateIndex(ctx context.Context, indexPath string) error {
	b.started <- struct{}{}
	select {
	case <-b.release:
		return os.WriteFile(indexPath, []byte("\n"), 0o644)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (blockingTool) RegisterProject(ctx context.Context, indexPath, folder, manifestPath string) error {
	return nil
}

// startServing runs rt.Serve on a loopback listener, submits one generation
// and waits until its tool call is in flight.
func startServing(t *testing.T, rt *Runtime, tool blockingTool) (string, context.CancelFunc, <-chan error) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- rt.Serve(ctx, ln) }()

	body := `{"solution_name":"Acme","company_name":"Acme","microservices":[{"name":"Billing","port":5001}]}`
	resp, err := http.Post("http://"+ln.Addr().String()+"/v0/generations", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job domain.GenerationJob
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&job))
	require.NotEmpty(t, job.ID)

	select {
	case <-tool.started:
	case <-time.After(10 * time.Second):
		t.Fatal("generation never reached the tool")
	}
	return job.ID, cancel, served
}

func newServeRuntime(t *testing.T, tool blockingTool, timeout time.Duration) *Runtime {
	t.Helper()
	cfg := config.Default()
	cfg.Output.Root = t.TempDir()
	cfg.Workers.Count = 1
	rt, err := Build(cfg, Options{Tool: tool})
	require.NoError(t, err)
	rt.ShutdownTimeout = timeout
	return rt
}

func TestServeDrainsRunningJobsBeforeReturning(t *testing.T) {
	tool := blockingTool{started: make(chan struct{}, 1), release: make(chan struct{})}
	rt := newServeRuntime(t, tool, 10*time.Second)
	id, cancel, served := startServing(t, rt, tool)

	cancel()
	select {
	case err := <-served:
		t.Fatalf("serve returned while a job was still running: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	close(tool.release)

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after the job finished")
	}
	job, err := rt.Engine.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCompleted, job.Status)
	assert.FileExists(t, filepath.Join(rt.Config.Output.Root, id, "Acme", "Acme.sln"))
}

func TestServeCancelsJobsWhenDrainTimesOut(t *testing.T) {
	tool := blockingTool{started: make(chan struct{}, 1), release: make(chan struct{})}
	rt := newServeRuntime(t, tool, 100*time.Millisecond)
	id, cancel, served := startServing(t, rt, tool)

	cancel()
	select {
	case err := <-served:
		require.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after the drain timeout")
	}
	job, err := rt.Engine.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobCancelled, job.Status)
	assert.NoDirExists(t, filepath.Join(rt.Config.Output.Root, id))
}

type delivery struct {
	event  string
	secret string
	body   map[string]any
}

func TestBuildRunsGenerationAndNotifiesWebhooks(t *testing.T) {
	got := make(chan delivery, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		got <- delivery{event: r.Header.Get("X-Slnforge-Event"), secret: r.Header.Get("X-Slnforge-Secret"), body: body}
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Output.Root = t.TempDir()
	cfg.Webhooks = []config.WebhookConfig{
		{URL: hook.URL, Secret: "s3cret", Events: []string{"generation.completed"}},
	}
	rt, err := Build(cfg, Options{Tool: stubTool{}, Background: true})
	require.NoError(t, err)

	job := rt.Engine.StartGeneration(context.Background(), domain.SolutionRequest{
		SolutionName:  "Acme",
		CompanyName:   "Acme",
		Microservices: []domain.ServiceSpec{{Name: "Billing", Port: 5001}},
	})
	require.Equal(t, domain.JobInProgress, job.Status)

	select {
	case d := <-got:
		assert.Equal(t, "generation.completed", d.event)
		assert.Equal(t, "s3cret", d.secret)
		payload, _ := d.body["job"].(map[string]any)
		assert.Equal(t, job.ID, payload["id"])
		assert.Equal(t, "/v0/generations/"+job.ID+"/download", payload["download_url"])
	case <-time.After(10 * time.Second):
		t.Fatal("webhook not delivered")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Close(ctx))
}

func TestBuildSkipsFilteredEvents(t *testing.T) {
	hits := make(chan string, 4)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- r.Header.Get("X-Slnforge-Event")
	}))
	defer hook.Close()

	cfg := config.Default()
	cfg.Output.Root = t.TempDir()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"generation.failed"}}}
	rt, err := Build(cfg, Options{Tool: stubTool{}, Background: true})
	require.NoError(t, err)

	bad := rt.Engine.StartGeneration(context.Background(), domain.SolutionRequest{SolutionName: "9", CompanyName: "Acme"})
	require.Equal(t, domain.JobFailed, bad.Status)
	ok := rt.Engine.StartGeneration(context.Background(), domain.SolutionRequest{
		SolutionName:  "Acme",
		CompanyName:   "Acme",
		Microservices: []domain.ServiceSpec{{Name: "Billing", Port: 5001}},
	})

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		j, err := rt.Engine.GetStatus(ok.ID)
		require.NoError(t, err)
		if j.Status.Terminal() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, rt.Close(ctx))

	close(hits)
	var events []string
	for evt := range hits {
		events = append(events, evt)
	}
	assert.Equal(t, []string{"generation.failed"}, events)
}

func TestBuildRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers.Count = 0
	_, err := Build(cfg, Options{Tool: stubTool{}})
	assert.Error(t, err)
}
