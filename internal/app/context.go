package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"time"

	"slnforge/internal/config"
	"slnforge/internal/engine"
	"slnforge/internal/logging"
	"slnforge/internal/materialize"
	"slnforge/internal/server"
	"slnforge/internal/toolexec"
)

// Runtime is a fully wired engine plus the background services that hang
// off it.
type Runtime struct {
	Config   *config.Config
	Logger   *slog.Logger
	Engine   *engine.Engine
	Tool     *toolexec.Dotnet
	// ShutdownTimeout bounds the drain in Serve once ctx is cancelled.
	ShutdownTimeout time.Duration
	sweeper  *engine.Sweeper
	webhooks *server.WebhookDispatcher
}

// Options tweak Build. The zero value wires everything from the config.
type Options struct {
	LogOutput io.Writer
	// Background starts the retention sweeper and webhook dispatcher.
	Background bool
	Tool       toolexec.Tool
}

// Build resolves the config into a runtime. The output root is created if
// missing.
func Build(cfg *config.Config, opts Options) (*Runtime, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logw := opts.LogOutput
	if logw == nil {
		logw = io.Discard
	}
	logger := logging.New(cfg, logw)

	fsys, err := materialize.NewOS(cfg.Output.Root, materialize.WithRetries(cfg.Tool.Retries, cfg.RetryDelay()))
	if err != nil {
		return nil, fmt.Errorf("output root: %w", err)
	}
	rt := &Runtime{Config: cfg, Logger: logger, ShutdownTimeout: cfg.ShutdownTimeout()}
	tool := opts.Tool
	if tool == nil {
		dotnet := toolexec.NewDotnet(cfg.Tool.ExecPath, cfg.ToolTimeout())
		dotnet.Retries = cfg.Tool.Retries
		dotnet.RetryDelay = cfg.RetryDelay()
		dotnet.Logger = logger.With("component", "toolexec")
		rt.Tool = dotnet
		tool = dotnet
	}
	rt.Engine = engine.New(engine.Options{
		FS:             fsys,
		Tool:           tool,
		Logger:         logger.With("component", "engine"),
		Workers:        cfg.Workers.Count,
		QueueSize:      cfg.Workers.QueueSize,
		Archive:        cfg.Output.Archive,
		DownloadPrefix: path.Join(basePath(cfg), "generations"),
	})
	if !opts.Background {
		return rt, nil
	}
	if cfg.Jobs.PruneSchedule != "" && cfg.Retention() > 0 {
		rt.sweeper, err = rt.Engine.StartRetention(cfg.Jobs.PruneSchedule, cfg.Retention())
		if err != nil {
			return nil, err
		}
	}
	rt.webhooks = server.StartWebhooks(rt.Engine, cfg.Webhooks, logger.With("component", "webhooks"))
	return rt, nil
}

// CheckTool fails when the configured dotnet executable cannot be run.
func (rt *Runtime) CheckTool(ctx context.Context) error {
	if rt.Tool == nil {
		return nil
	}
	if err := rt.Tool.CheckInstalled(ctx); err != nil {
		return fmt.Errorf("%s is not usable: %w", rt.Config.Tool.ExecPath, err)
	}
	return nil
}

// Handler builds the HTTP API over the runtime engine.
func (rt *Runtime) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:   rt.Engine,
		BasePath: basePath(rt.Config),
		Logger:   rt.Logger.With("component", "http"),
	})
}

// Serve runs the HTTP API on ln until ctx is cancelled, then stops accepting
// requests and drains the engine before returning. Jobs still running when
// ShutdownTimeout expires are cancelled and rolled back.
func (rt *Runtime) Serve(ctx context.Context, ln net.Listener) error {
	handler, err := rt.Handler()
	if err != nil {
		_ = ln.Close()
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		closeCtx, cancel := context.WithTimeout(context.Background(), rt.ShutdownTimeout)
		defer cancel()
		return errors.Join(err, rt.Close(closeCtx))
	case <-ctx.Done():
	}

	rt.Logger.Info("shutting down", "timeout", rt.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), rt.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		rt.Logger.Warn("http shutdown", "error", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		rt.Logger.Warn("http serve", "error", err)
	}
	if err := rt.Close(shutdownCtx); err != nil {
		rt.Logger.Warn("engine shutdown", "error", err)
		return err
	}
	rt.Logger.Info("shutdown complete")
	return nil
}

// Close stops background services and drains the engine. Running jobs get
// until ctx expires.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.sweeper != nil {
		rt.sweeper.Stop()
	}
	err := rt.Engine.Shutdown(ctx)
	rt.webhooks.Close()
	return err
}

func basePath(cfg *config.Config) string {
	if cfg.Server.BasePath == "" {
		return "/v0"
	}
	return cfg.Server.BasePath
}
