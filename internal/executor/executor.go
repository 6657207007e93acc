// Package executor runs single commands against a device connector and
// normalizes the results.
//
// The Executor is the only path from device operations to the transport: it
// connects on demand, never returns an error, and converts every transport
// failure into an error CommandResult.
package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/eugenetaranov/devagent/internal/connector"
	"github.com/eugenetaranov/devagent/internal/outcome"
)

// Executor runs commands through a connector.
type Executor struct {
	conn           connector.Connector
	label          string
	commandTimeout time.Duration
	logger         *slog.Logger
}

// Option configures the executor.
type Option func(*Executor)

// WithLabel sets the device description used in connection failure messages.
func WithLabel(label string) Option {
	return func(e *Executor) {
		e.label = label
	}
}

// WithCommandTimeout bounds each command. Zero leaves commands unbounded.
func WithCommandTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.commandTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates a new executor for conn.
func New(conn connector.Connector, opts ...Option) *Executor {
	e := &Executor{
		conn:   conn,
		label:  "device",
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute runs command, connecting first if no session is open.
func (e *Executor) Execute(ctx context.Context, command string) (result outcome.CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "command panicked", "cmd", command, "panic", r)
			result = outcome.Failed("%v", r)
		}
	}()

	if failed, ok := e.ensureConnected(ctx); !ok {
		return failed
	}

	if e.commandTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.commandTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := e.conn.Execute(ctx, command)
	if err != nil {
		e.logger.DebugContext(ctx, "command failed", "cmd", command, "error", err)
		return outcome.Failed("%v", err)
	}

	e.logger.DebugContext(ctx, "command finished", "cmd", command, "exit_code", res.ExitCode, "duration", time.Since(start))
	return outcome.Exited(decode(res.Stdout), decode(res.Stderr), res.ExitCode)
}

// Transfer uploads the local file at localPath to remotePath, preserving its
// permission bits. It returns the number of bytes sent.
func (e *Executor) Transfer(ctx context.Context, localPath, remotePath string) (n int64, result outcome.CommandResult) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "upload panicked", "src", localPath, "dst", remotePath, "panic", r)
			result = outcome.Failed("%v", r)
		}
	}()

	if failed, ok := e.ensureConnected(ctx); !ok {
		return 0, failed
	}

	f, err := os.Open(localPath)
	if err != nil {
		return 0, outcome.Failed("%v", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, outcome.Failed("%v", err)
	}
	if info.IsDir() {
		return 0, outcome.Failed("%s is a directory", localPath)
	}

	if err := e.conn.Upload(ctx, f, remotePath, uint32(info.Mode().Perm())); err != nil {
		e.logger.DebugContext(ctx, "upload failed", "src", localPath, "dst", remotePath, "error", err)
		return 0, outcome.Failed("%v", err)
	}

	e.logger.DebugContext(ctx, "upload finished", "src", localPath, "dst", remotePath, "bytes", info.Size())
	return info.Size(), outcome.CommandResult{Status: outcome.Success}
}

func (e *Executor) ensureConnected(ctx context.Context) (outcome.CommandResult, bool) {
	if e.conn.Connected() {
		return outcome.CommandResult{}, true
	}

	if err := e.conn.Connect(ctx); err != nil {
		e.logger.WarnContext(ctx, "connect failed", "target", e.conn.String(), "error", err)
		return outcome.Failed("Could not connect to %s at %s: %v", e.label, e.conn.Host(), err), false
	}
	return outcome.CommandResult{}, true
}

// decode replaces invalid UTF-8 sequences so binary output never breaks callers.
func decode(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// CommandError represents a non-zero exit for callers that want an error value.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("command failed with exit code %d: %s", e.ExitCode, e.Cmd)
	if e.Stderr != "" {
		msg += fmt.Sprintf("\nstderr: %s", strings.TrimSpace(e.Stderr))
	}
	return msg
}

// Err converts a CommandResult into an error, or nil on success.
func Err(cmd string, r outcome.CommandResult) error {
	if r.OK() {
		return nil
	}
	if r.ExitCode == nil {
		return fmt.Errorf("%s: %s", cmd, r.Message)
	}
	return &CommandError{Cmd: cmd, ExitCode: *r.ExitCode, Stderr: r.Stderr}
}
