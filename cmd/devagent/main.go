// Package main is the entrypoint for the devagent CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/eugenetaranov/devagent/internal/action"
	"github.com/eugenetaranov/devagent/internal/config"
	"github.com/eugenetaranov/devagent/internal/intent"
	"github.com/eugenetaranov/devagent/internal/invocation"
	"github.com/eugenetaranov/devagent/internal/outcome"
	"github.com/eugenetaranov/devagent/internal/output"
	"github.com/eugenetaranov/devagent/pkg/diagnostics"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath string
	debug      bool
	noColor    bool
	jsonOutput bool
	device     string
)

// errFailed is returned by commands whose outcome was already reported as an
// error; main only has to set the exit code.
var errFailed = errors.New("action failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			newStatus(os.Stderr).Error("%v", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "devagent",
	Short: "devagent - manage Raspberry Pi class devices over SSH",
	Long: `devagent runs device-management actions on a Raspberry Pi (or another
SSH-reachable device) from structured intents.

Intents are {agent, action, parameters} objects, usually produced by a
natural-language classifier. The run command accepts the classifier's raw
reply; the other commands invoke one action directly.`,
	Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print outcomes as JSON")
	rootCmd.PersistentFlags().StringVar(&device, "device", string(intent.RaspberryPi), "Device to act on (raspberry_pi or esp_device)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(diagnoseCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(actionsCmd)
	rootCmd.AddCommand(validateCmd)
}

// newLogger logs to w. Records logged with an invocation context carry its ID.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(invocation.NewHandler(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// newOutput prints outcomes to the command's stdout.
func newOutput(cmd *cobra.Command) *output.Output {
	out := output.New(cmd.OutOrStdout())
	out.SetColor(!noColor)
	out.SetDebug(debug)
	return out
}

// newStatus writes errors and debug notes to w, which is stderr, so stdout
// only ever holds outcomes.
func newStatus(w io.Writer) *output.Output {
	out := output.New(w)
	out.SetColor(!noColor)
	out.SetDebug(debug)
	return out
}

// signalContext is cancelled on SIGINT or SIGTERM. Cancelling aborts the
// running command; the session is still closed before the process exits.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// report prints res and returns errFailed when it is an error outcome.
func report(out *output.Output, name, target string, res outcome.Outcome) error {
	if jsonOutput {
		if err := out.JSON(res); err != nil {
			return err
		}
	} else {
		out.Outcome(name, target, res)
	}

	if !res.OK() {
		return errFailed
	}
	return nil
}

// runCmd resolves classifier output and dispatches it.
var runCmd = &cobra.Command{
	Use:   "run [classifier output]",
	Short: "Resolve an intent from classifier output and run it",
	Long: `Extract the {agent, action, parameters} intent from a classifier reply and
dispatch it to the matching device. The reply may surround the JSON payload
with prose. When no payload can be found, the device is asked to diagnose
itself.

The reply is read from the arguments, or from stdin when none are given or
the only argument is "-".

Examples:
  devagent run '{"agent": "raspberry_pi", "action": "install_library", "parameters": {"library": "numpy"}}'
  classifier "install numpy on my pi" | devagent run`,
	RunE: runIntent,
}

func runIntent(cmd *cobra.Command, args []string) error {
	text := strings.Join(args, " ")
	if len(args) == 0 || text == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr())
	r, err := cfg.Router(logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	newStatus(cmd.ErrOrStderr()).Debug("configured agents: %v", r.Agents())

	in, res := r.Handle(ctx, text)
	return report(newOutput(cmd), in.Action, string(in.Agent), res)
}

// dispatch runs one action against the device selected by --device.
func dispatch(cmd *cobra.Command, kind action.Kind, params map[string]any) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cmd.ErrOrStderr())
	a, err := cfg.Agent(intent.Agent(device), logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	status := newStatus(cmd.ErrOrStderr())
	status.Debug("running %s on %s", kind, a.Target())
	if kind == action.Diagnose {
		for _, p := range diagnostics.Battery() {
			status.Debug("probe %s: %s", p.Key, p.Command)
		}
	}

	res := action.NewDispatcher(a, action.WithLogger(logger)).Dispatch(ctx, string(kind), params)
	return report(newOutput(cmd), string(kind), a.Target(), res)
}

var execCmd = &cobra.Command{
	Use:   "exec <command>",
	Short: "Run a shell command on the device",
	Long: `Run a shell command on the device and print its output.

Examples:
  devagent exec uptime
  devagent exec -- ls -la /home/pi`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dispatch(cmd, action.ExecuteCommand, map[string]any{"command": strings.Join(args, " ")})
	},
}

var installCmd = &cobra.Command{
	Use:   "install <library>",
	Short: "Install a library on the device",
	Long: `Install a library with pip, apt or npm. With --manager auto (the default)
pip is used for Python packages and apt for everything else.

Examples:
  devagent install numpy
  devagent install git
  devagent install pm2 --manager npm`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, _ := cmd.Flags().GetString("manager")
		return dispatch(cmd, action.InstallLibrary, map[string]any{
			"library":         args[0],
			"package_manager": manager,
		})
	},
}

func init() {
	installCmd.Flags().StringP("manager", "m", "auto", "Package manager: auto, pip, apt or npm")
}

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Collect system diagnostics from the device",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return dispatch(cmd, action.Diagnose, map[string]any{})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <local-path> <remote-path>",
	Short: "Copy a file to the device",
	Long: `Copy a local file to the device over SFTP. The file keeps its permission
bits. The copy is not atomic.

Examples:
  devagent upload blink.py /home/pi/blink.py`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dispatch(cmd, action.UploadProgram, map[string]any{
			"local_path":  args[0],
			"remote_path": args[1],
		})
	},
}

// actionsCmd lists available actions
var actionsCmd = &cobra.Command{
	Use:   "actions [action]",
	Short: "List available actions",
	Long: `Display the actions an intent can name, with their parameters. Optional
parameters are shown in brackets. With an argument, only that action is shown.`,
	Args: cobra.MaximumNArgs(1),
	RunE: listActions,
}

func listActions(cmd *cobra.Command, args []string) error {
	defs := action.List()
	if len(args) == 1 {
		kind, err := action.Parse(args[0])
		if err != nil {
			return fmt.Errorf("%w (available: %v)", err, action.Kinds())
		}
		def, _ := action.Get(kind)
		defs = []action.Definition{def}
	}

	out := newOutput(cmd)
	if jsonOutput {
		return out.JSON(defs)
	}
	out.Actions(defs)
	return nil
}

// validateCmd validates configuration files without connecting
var validateCmd = &cobra.Command{
	Use:   "validate [config.yaml ...]",
	Short: "Validate one or more configuration files",
	Long: `Parse and validate configuration files without connecting to any device.
With no arguments, the file given by --config is checked.

This checks for:
  - Valid YAML syntax
  - Port ranges and connection types
  - Host key policy names
  - Non-negative timeouts and retry counts

Examples:
  devagent validate
  devagent validate config.yaml lab.yaml`,
	RunE: validateConfigs,
}

func validateConfigs(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		args = []string{configPath}
	}

	var hasErrors bool
	for _, path := range args {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL: %s - not found\n", path)
			hasErrors = true
			continue
		}
		if _, err := config.Load(path); err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "FAIL: %s - %v\n", path, err)
			hasErrors = true
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %s\n", path)
	}

	if hasErrors {
		return fmt.Errorf("one or more configuration files failed validation")
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nAll %d configuration file(s) valid.\n", len(args))
	return nil
}
