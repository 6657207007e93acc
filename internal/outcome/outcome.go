// Package outcome defines the structured records returned by every public
// device operation in place of errors.
package outcome

import "fmt"

// Status is the success/error flag of an outcome.
type Status string

const (
	Success Status = "success"
	Error   Status = "error"
)

// CommandResult is the normalized result of one remote command.
//
// Status is Success iff ExitCode is present and zero. Message is set only when
// the command never produced an exit code (connection or channel failure).
type CommandResult struct {
	Status   Status `json:"status"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode *int   `json:"exit_code,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Exited builds a CommandResult from a completed command.
func Exited(stdout, stderr string, exitCode int) CommandResult {
	status := Success
	if exitCode != 0 {
		status = Error
	}
	code := exitCode
	return CommandResult{Status: status, Stdout: stdout, Stderr: stderr, ExitCode: &code}
}

// Failed builds a CommandResult for a command that produced no exit code.
func Failed(format string, args ...any) CommandResult {
	return CommandResult{Status: Error, Message: fmt.Sprintf(format, args...)}
}

// OK reports whether the command succeeded.
func (r CommandResult) OK() bool {
	return r.Status == Success
}

// Outcome is the result of an action: the command fields plus action-specific
// echo fields.
type Outcome struct {
	Status   Status `json:"status"`
	Message  string `json:"message,omitempty"`
	Stdout   string `json:"stdout,omitempty"`
	Stderr   string `json:"stderr,omitempty"`
	ExitCode *int   `json:"exit_code,omitempty"`

	Library        string `json:"library,omitempty"`
	PackageManager string `json:"package_manager,omitempty"`

	LocalPath  string `json:"local_path,omitempty"`
	RemotePath string `json:"remote_path,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`

	// Diagnostics holds probe values keyed by probe name. When set, every
	// probe key is present.
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// FromCommand lifts a CommandResult into an Outcome.
func FromCommand(r CommandResult) Outcome {
	return Outcome{
		Status:   r.Status,
		Message:  r.Message,
		Stdout:   r.Stdout,
		Stderr:   r.Stderr,
		ExitCode: r.ExitCode,
	}
}

// Succeeded creates a successful Outcome with a message.
func Succeeded(format string, args ...any) Outcome {
	return Outcome{Status: Success, Message: fmt.Sprintf(format, args...)}
}

// Errorf creates an error Outcome with a message.
func Errorf(format string, args ...any) Outcome {
	return Outcome{Status: Error, Message: fmt.Sprintf(format, args...)}
}

// OK reports whether the outcome succeeded.
func (o Outcome) OK() bool {
	return o.Status == Success
}
