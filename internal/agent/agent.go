// Package agent composes a connector, the command executor and file transfer
// into the high-level operations available on one managed device.
//
// An Agent manages exactly one target host. Operations connect on demand;
// callers wrap each top-level invocation in Scoped so the session is always
// closed when the invocation returns.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/eugenetaranov/devagent/internal/connector"
	"github.com/eugenetaranov/devagent/internal/executor"
	"github.com/eugenetaranov/devagent/internal/outcome"
	"github.com/eugenetaranov/devagent/internal/pkgmgr"
	"github.com/eugenetaranov/devagent/pkg/diagnostics"
)

// Agent runs operations against one device.
type Agent struct {
	conn   connector.Connector
	exec   *executor.Executor
	label  string
	policy pkgmgr.Policy
	logger *slog.Logger

	execOpts []executor.Option
}

// Option configures the agent.
type Option func(*Agent)

// WithLabel sets the human-readable device kind used in messages,
// e.g. "Raspberry Pi".
func WithLabel(label string) Option {
	return func(a *Agent) {
		a.label = label
	}
}

// WithPolicy replaces the package-manager resolution table.
func WithPolicy(p pkgmgr.Policy) Option {
	return func(a *Agent) {
		a.policy = p
	}
}

// WithExecutorOptions passes options through to the command executor.
func WithExecutorOptions(opts ...executor.Option) Option {
	return func(a *Agent) {
		a.execOpts = append(a.execOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an agent for conn. It fails only when conn is missing, which
// is a configuration error the caller cannot recover from.
func New(conn connector.Connector, opts ...Option) (*Agent, error) {
	if conn == nil {
		return nil, errors.New("agent requires a connector")
	}

	a := &Agent{
		conn:   conn,
		label:  "device",
		policy: pkgmgr.DefaultPolicy(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(a)
	}

	execOpts := append([]executor.Option{
		executor.WithLabel(a.label),
		executor.WithLogger(a.logger),
	}, a.execOpts...)
	a.exec = executor.New(conn, execOpts...)

	return a, nil
}

// Target describes the connection for display.
func (a *Agent) Target() string {
	return a.conn.String()
}

// Connected reports whether the agent holds an open session.
func (a *Agent) Connected() bool {
	return a.conn.Connected()
}

// Disconnect closes the session. It is safe to call when already disconnected.
func (a *Agent) Disconnect() {
	a.disconnect(context.Background())
}

func (a *Agent) disconnect(ctx context.Context) {
	wasConnected := a.conn.Connected()
	if err := a.conn.Close(); err != nil {
		a.logger.WarnContext(ctx, "disconnect failed", "target", a.conn.String(), "error", err)
		return
	}
	if wasConnected {
		a.logger.DebugContext(ctx, "disconnected", "target", a.conn.String())
	}
}

// Scoped runs fn and closes the session on every exit path, including a panic
// inside fn, which is reported as an error outcome.
func (a *Agent) Scoped(ctx context.Context, fn func(ctx context.Context) outcome.Outcome) (result outcome.Outcome) {
	defer a.disconnect(ctx)
	defer func() {
		if r := recover(); r != nil {
			a.logger.ErrorContext(ctx, "operation panicked", "target", a.conn.String(), "panic", r)
			result = outcome.Errorf("%v", r)
		}
	}()

	return fn(ctx)
}

// ExecuteCommand runs command as-is.
func (a *Agent) ExecuteCommand(ctx context.Context, command string) outcome.Outcome {
	return outcome.FromCommand(a.exec.Execute(ctx, command))
}

// InstallLibrary installs library with the given package manager. "auto"
// (or empty) chooses between pip and apt using the agent's policy. An
// unknown manager is rejected without running anything.
func (a *Agent) InstallLibrary(ctx context.Context, library, manager string) outcome.Outcome {
	resolved, err := a.policy.Resolve(library, pkgmgr.Manager(manager))
	if err != nil {
		return outcome.Errorf("%v", err)
	}

	cmd, err := pkgmgr.InstallCommand(resolved, library)
	if err != nil {
		return outcome.Errorf("%v", err)
	}

	a.logger.InfoContext(ctx, "installing library", "library", library, "package_manager", resolved)

	res := a.exec.Execute(ctx, cmd)
	if err := executor.Err(cmd, res); err != nil {
		a.logger.WarnContext(ctx, "install failed", "library", library, "error", err)
	}

	result := outcome.FromCommand(res)
	result.Library = library
	result.PackageManager = string(resolved)
	return result
}

// DiagnoseSystem runs the diagnostics battery. It always succeeds; probes
// that fail are reported as diagnostics.NotAvailable.
func (a *Agent) DiagnoseSystem(ctx context.Context) outcome.Outcome {
	report := diagnostics.Run(ctx, a.exec)
	if report.Failures != nil {
		a.logger.DebugContext(ctx, "some probes failed", "target", a.conn.String(), "failures", report.Failures)
	}

	return outcome.Outcome{
		Status:      outcome.Success,
		Diagnostics: report.Values,
	}
}

// UploadFile copies localPath to remotePath on the device.
func (a *Agent) UploadFile(ctx context.Context, localPath, remotePath string) outcome.Outcome {
	n, res := a.exec.Transfer(ctx, localPath, remotePath)
	if !res.OK() {
		return outcome.Outcome{
			Status:     outcome.Error,
			Message:    res.Message,
			LocalPath:  localPath,
			RemotePath: remotePath,
		}
	}

	a.logger.InfoContext(ctx, "uploaded file", "src", localPath, "dst", remotePath, "bytes", n)

	return outcome.Outcome{
		Status:     outcome.Success,
		Message:    fmt.Sprintf("Uploaded %s to %s", localPath, remotePath),
		LocalPath:  localPath,
		RemotePath: remotePath,
		Bytes:      n,
	}
}
