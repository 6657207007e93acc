// Package action maps structured {action, parameters} requests onto device
// agent operations.
//
// The set of actions is closed. Each action has a parameter schema that is
// decoded and validated before the agent is invoked, so a rejected request
// never touches the network.
package action

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/eugenetaranov/devagent/internal/outcome"
)

// Kind names an action.
type Kind string

const (
	InstallLibrary Kind = "install_library"
	Diagnose       Kind = "diagnose"
	UploadProgram  Kind = "upload_program"
	ExecuteCommand Kind = "execute_command"
)

// Target is the device surface actions run against. *agent.Agent satisfies it.
type Target interface {
	Scoped(ctx context.Context, fn func(ctx context.Context) outcome.Outcome) outcome.Outcome
	InstallLibrary(ctx context.Context, library, manager string) outcome.Outcome
	DiagnoseSystem(ctx context.Context) outcome.Outcome
	UploadFile(ctx context.Context, localPath, remotePath string) outcome.Outcome
	ExecuteCommand(ctx context.Context, command string) outcome.Outcome
}

// Param describes one parameter of an action.
type Param struct {
	Name        string
	Required    bool
	Description string
}

// Definition describes an action and how to run it.
type Definition struct {
	Kind        Kind
	Description string
	Params      []Param

	run func(ctx context.Context, t Target, params map[string]any) outcome.Outcome
}

// InstallLibraryParams are the parameters of install_library.
type InstallLibraryParams struct {
	Library        string `mapstructure:"library" validate:"required" desc:"package to install"`
	PackageManager string `mapstructure:"package_manager" desc:"auto, pip, apt or npm (default auto)"`
}

// UploadProgramParams are the parameters of upload_program.
type UploadProgramParams struct {
	LocalPath  string `mapstructure:"local_path" validate:"required" desc:"file on this machine"`
	RemotePath string `mapstructure:"remote_path" validate:"required" desc:"destination path on the device"`
}

// ExecuteCommandParams are the parameters of execute_command.
type ExecuteCommandParams struct {
	Command string `mapstructure:"command" validate:"required" desc:"shell command to run"`
}

// DiagnoseParams is empty; diagnose takes no parameters.
type DiagnoseParams struct{}

// definitions is ordered for listing.
var definitions = []Definition{
	{
		Kind:        InstallLibrary,
		Description: "Install a library with pip, apt or npm",
		Params:      describe(InstallLibraryParams{}),
		run: func(ctx context.Context, t Target, params map[string]any) outcome.Outcome {
			p, err := bind[InstallLibraryParams](params, "Library name required")
			if err != nil {
				return outcome.Errorf("%v", err)
			}
			return t.InstallLibrary(ctx, p.Library, p.PackageManager)
		},
	},
	{
		Kind:        Diagnose,
		Description: "Collect OS, hardware and runtime diagnostics",
		Params:      describe(DiagnoseParams{}),
		run: func(ctx context.Context, t Target, _ map[string]any) outcome.Outcome {
			return t.DiagnoseSystem(ctx)
		},
	},
	{
		Kind:        UploadProgram,
		Description: "Copy a local file to the device",
		Params:      describe(UploadProgramParams{}),
		run: func(ctx context.Context, t Target, params map[string]any) outcome.Outcome {
			p, err := bind[UploadProgramParams](params, "Both local_path and remote_path required")
			if err != nil {
				return outcome.Errorf("%v", err)
			}
			return t.UploadFile(ctx, p.LocalPath, p.RemotePath)
		},
	},
	{
		Kind:        ExecuteCommand,
		Description: "Run a shell command on the device",
		Params:      describe(ExecuteCommandParams{}),
		run: func(ctx context.Context, t Target, params map[string]any) outcome.Outcome {
			p, err := bind[ExecuteCommandParams](params, "Command required")
			if err != nil {
				return outcome.Errorf("%v", err)
			}
			return t.ExecuteCommand(ctx, p.Command)
		},
	},
}

// Get returns the definition for k.
func Get(k Kind) (Definition, bool) {
	for _, d := range definitions {
		if d.Kind == k {
			return d, true
		}
	}
	return Definition{}, false
}

// List returns all action definitions in a stable order.
func List() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Kinds returns the names of all actions.
func Kinds() []Kind {
	kinds := make([]Kind, len(definitions))
	for i, d := range definitions {
		kinds[i] = d.Kind
	}
	return kinds
}

// UnknownActionError is returned for action names outside the closed set.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("Unknown action: %s", e.Action)
}

// Parse validates an action name.
func Parse(s string) (Kind, error) {
	if _, ok := Get(Kind(s)); !ok {
		return "", &UnknownActionError{Action: s}
	}
	return Kind(s), nil
}

// describe lists the parameters of a schema struct from its tags.
func describe(schema any) []Param {
	typ := reflect.TypeOf(schema)
	params := make([]Param, 0, typ.NumField())
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		name := f.Tag.Get("mapstructure")
		if name == "" {
			continue
		}
		params = append(params, Param{
			Name:        name,
			Required:    strings.Contains(f.Tag.Get("validate"), "required"),
			Description: f.Tag.Get("desc"),
		})
	}
	return params
}
