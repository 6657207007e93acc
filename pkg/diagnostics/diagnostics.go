// Package diagnostics runs the fixed battery of read-only probes used to
// describe the state of a device.
package diagnostics

import (
	"context"
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/eugenetaranov/devagent/internal/outcome"
)

// NotAvailable is recorded for a probe whose command failed.
const NotAvailable = "N/A"

// Probe is one diagnostic command and the key its output is stored under.
type Probe struct {
	Key     string
	Command string
}

// battery is run in this order. Keys are part of the report contract.
var battery = []Probe{
	{Key: "os_info", Command: "cat /etc/os-release | grep PRETTY_NAME"},
	{Key: "kernel", Command: "uname -r"},
	{Key: "cpu", Command: "lscpu | grep 'Model name'"},
	{Key: "memory", Command: "free -h"},
	{Key: "disk", Command: "df -h /"},
	{Key: "temperature", Command: "vcgencmd measure_temp"},
	{Key: "uptime", Command: "uptime"},
	{Key: "python_version", Command: "python3 --version"},
	{Key: "pip_packages", Command: "pip3 list"},
}

// Battery returns a copy of the probes in execution order.
func Battery() []Probe {
	out := make([]Probe, len(battery))
	copy(out, battery)
	return out
}

// Keys returns the probe keys in execution order.
func Keys() []string {
	keys := make([]string, len(battery))
	for i, p := range battery {
		keys[i] = p.Key
	}
	return keys
}

// Runner executes a single command. *executor.Executor satisfies it.
type Runner interface {
	Execute(ctx context.Context, command string) outcome.CommandResult
}

// Report is the result of running the battery.
type Report struct {
	// Values holds an entry for every probe key.
	Values map[string]string

	// Failures collects one error per failed probe; nil if all succeeded.
	Failures error
}

// Run executes every probe in order. A failing probe is recorded as
// NotAvailable and never stops the remaining probes.
func Run(ctx context.Context, r Runner) Report {
	values := make(map[string]string, len(battery))
	var failures *multierror.Error

	for _, p := range battery {
		res := r.Execute(ctx, p.Command)
		if !res.OK() {
			values[p.Key] = NotAvailable
			failures = multierror.Append(failures, probeError(p, res))
			continue
		}
		values[p.Key] = strings.TrimSpace(res.Stdout)
	}

	return Report{Values: values, Failures: failures.ErrorOrNil()}
}

func probeError(p Probe, res outcome.CommandResult) error {
	if res.ExitCode != nil {
		return fmt.Errorf("%s: exit code %d", p.Key, *res.ExitCode)
	}
	return fmt.Errorf("%s: %s", p.Key, res.Message)
}
