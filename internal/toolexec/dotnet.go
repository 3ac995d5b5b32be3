package toolexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"slnforge/internal/domain"
)

// Tool is the external build tool as seen by the orchestrator.
type Tool interface {
	CreateIndex(ctx context.Context, indexPath string) error
	RegisterProject(ctx context.Context, indexPath, folder, manifestPath string) error
}

// Dotnet drives the dotnet CLI.
type Dotnet struct {
	Runner     CommandRunner
	ExecPath   string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
	Logger     *slog.Logger
	// Env is added to every invocation; nil means quietEnv.
	Env map[string]string
}

// NewDotnet returns an invoker with a real runner.
func NewDotnet(execPath string, timeout time.Duration) *Dotnet {
	return &Dotnet{
		Runner:   NewRealRunner(),
		ExecPath: execPath,
		Timeout:  timeout,
	}
}

// Stderr fragments that indicate another process briefly held a file.
var transientMarkers = []string{
	"being used by another process",
	"the process cannot access the file",
	"resource temporarily unavailable",
	"is locked",
	"lock on",
}

// quietEnv keeps the CLI from printing banners or phoning home on first run.
var quietEnv = map[string]string{
	"DOTNET_NOLOGO":                     "1",
	"DOTNET_CLI_TELEMETRY_OPTOUT":       "1",
	"DOTNET_SKIP_FIRST_TIME_EXPERIENCE": "1",
}

// CreateIndex creates an empty index at indexPath. It is a no-op if the
// file already exists.
func (d *Dotnet) CreateIndex(ctx context.Context, indexPath string) error {
	if _, err := os.Stat(indexPath); err == nil {
		return nil
	}
	dir := filepath.Dir(indexPath)
	name := strings.TrimSuffix(filepath.Base(indexPath), filepath.Ext(indexPath))
	if err := d.run(ctx, dir, "new", "sln", "-n", name); err != nil {
		return err
	}
	if _, err := os.Stat(indexPath); err != nil {
		return &domain.ToolInvocationError{
			Command: d.execPath(),
			Args:    []string{"new", "sln", "-n", name},
			Err:     fmt.Errorf("index %s was not created", indexPath),
		}
	}
	return nil
}

// RegisterProject adds manifestPath to the index under a logical folder.
func (d *Dotnet) RegisterProject(ctx context.Context, indexPath, folder, manifestPath string) error {
	if _, err := os.Stat(indexPath); err != nil {
		return &domain.ToolInvocationError{
			Command: d.execPath(),
			Args:    []string{"sln", indexPath, "add"},
			Err:     fmt.Errorf("index %s does not exist", indexPath),
		}
	}
	return d.run(ctx, filepath.Dir(indexPath), "sln", indexPath, "add", "--solution-folder", folder, manifestPath)
}

// Version returns the tool version, which doubles as an install check.
func (d *Dotnet) Version(ctx context.Context) (string, error) {
	res, err := d.runOnce(ctx, "", []string{"--version"})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// CheckInstalled fails when the tool cannot be started.
func (d *Dotnet) CheckInstalled(ctx context.Context) error {
	_, err := d.Version(ctx)
	return err
}

func (d *Dotnet) run(ctx context.Context, dir string, args ...string) error {
	attempts := d.Retries + 1
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			d.logger().Warn("retrying tool call", "args", strings.Join(args, " "), "attempt", i+1, "error", err)
			select {
			case <-ctx.Done():
				return err
			case <-time.After(d.RetryDelay):
			}
		}
		_, err = d.runOnce(ctx, dir, args)
		if err == nil || !transient(err) {
			return err
		}
	}
	return err
}

func (d *Dotnet) runOnce(ctx context.Context, dir string, args []string) (CmdResult, error) {
	callCtx := ctx
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	res, err := d.Runner.Run(callCtx, d.execPath(), args, RunOpts{Dir: dir, Env: d.env()})
	if err != nil {
		return res, &domain.ToolInvocationError{
			Command:  d.execPath(),
			Args:     args,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			TimedOut: errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded),
			Err:      err,
		}
	}
	if res.ExitCode != 0 {
		return res, &domain.ToolInvocationError{
			Command:  d.execPath(),
			Args:     args,
			ExitCode: res.ExitCode,
			Stderr:   firstNonEmpty(res.Stderr, res.Stdout),
		}
	}
	return res, nil
}

func (d *Dotnet) env() map[string]string {
	if d.Env == nil {
		return quietEnv
	}
	return d.Env
}

func (d *Dotnet) execPath() string {
	if d.ExecPath == "" {
		return "dotnet"
	}
	return d.ExecPath
}

func (d *Dotnet) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func transient(err error) bool {
	var te *domain.ToolInvocationError
	if !errors.As(err, &te) || te.TimedOut || te.ExitCode == 0 {
		return false
	}
	msg := strings.ToLower(te.Stderr)
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
