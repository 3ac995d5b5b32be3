package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrNotReady  = errors.New("generation not completed")
	ErrQueueFull = errors.New("generation queue is full")
)

// FieldIssue is one failed check of a request.
type FieldIssue struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError carries every issue found in a request.
type ValidationError struct {
	Issues []FieldIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, is := range e.Issues {
		parts = append(parts, is.Field+": "+is.Reason)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

// Add records an issue.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Issues = append(e.Issues, FieldIssue{Field: field, Reason: fmt.Sprintf(format, args...)})
}

// ErrOrNil returns e when it holds issues.
func (e *ValidationError) ErrOrNil() error {
	if e == nil || len(e.Issues) == 0 {
		return nil
	}
	return e
}

// ToolInvocationError reports a failed external build-tool call.
type ToolInvocationError struct {
	Command  string
	Args     []string
	ExitCode int
	Stderr   string
	TimedOut bool
	Err      error
}

func (e *ToolInvocationError) Error() string {
	cmd := strings.TrimSpace(e.Command + " " + strings.Join(e.Args, " "))
	switch {
	case e.TimedOut:
		return fmt.Sprintf("%s: timed out", cmd)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", cmd, e.Err)
	}
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: exit code %d", cmd, e.ExitCode)
	}
	return fmt.Sprintf("%s: exit code %d: %s", cmd, e.ExitCode, msg)
}

func (e *ToolInvocationError) Unwrap() error { return e.Err }

// FilesystemError reports a failed filesystem operation.
type FilesystemError struct {
	Op   string
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }
