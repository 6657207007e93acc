// Package output renders operation outcomes for the terminal.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/eugenetaranov/devagent/internal/action"
	"github.com/eugenetaranov/devagent/internal/outcome"
	"github.com/eugenetaranov/devagent/pkg/diagnostics"
)

// Output handles formatted output.
type Output struct {
	w        io.Writer
	useColor bool
	debug    bool

	green  *color.Color
	red    *color.Color
	yellow *color.Color
	gray   *color.Color
	bold   *color.Color
}

// New creates a new output handler.
func New(w io.Writer) *Output {
	o := &Output{
		w:      w,
		green:  color.New(color.FgGreen),
		red:    color.New(color.FgRed),
		yellow: color.New(color.FgYellow),
		gray:   color.New(color.FgHiBlack),
		bold:   color.New(color.Bold),
	}
	o.SetColor(true)
	return o
}

// SetColor enables or disables color output.
func (o *Output) SetColor(enabled bool) {
	o.useColor = enabled
	for _, c := range []*color.Color{o.green, o.red, o.yellow, o.gray, o.bold} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// SetDebug enables or disables debug output.
func (o *Output) SetDebug(enabled bool) {
	o.debug = enabled
}

// Outcome prints the result of an action against target.
func (o *Output) Outcome(name, target string, res outcome.Outcome) {
	if res.OK() {
		o.printf("%s %s %s\n", o.green.Sprint("✓"), o.bold.Sprint(name), o.gray.Sprintf("(%s)", target))
	} else {
		o.printf("%s %s %s %s\n", o.red.Sprint("✗"), o.bold.Sprint(name), o.gray.Sprintf("(%s)", target), o.red.Sprint("FAILED"))
	}

	if res.Message != "" {
		c := o.gray
		if !res.OK() {
			c = o.red
		}
		o.printf("  %s\n", c.Sprint(res.Message))
	}

	if res.Library != "" {
		o.printf("  %s %s via %s\n", o.gray.Sprint("library:"), res.Library, res.PackageManager)
	}
	if res.Bytes > 0 {
		o.printf("  %s %d\n", o.gray.Sprint("bytes:"), res.Bytes)
	}
	if res.ExitCode != nil && (*res.ExitCode != 0 || o.debug) {
		o.printf("  %s %d\n", o.gray.Sprint("exit code:"), *res.ExitCode)
	}

	o.block("stdout", res.Stdout)
	o.block("stderr", res.Stderr)

	if res.Diagnostics != nil {
		o.Diagnostics(res.Diagnostics)
	}
}

func (o *Output) block(label, text string) {
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		return
	}
	o.printf("  %s\n", o.gray.Sprint(label+":"))
	for _, line := range strings.Split(text, "\n") {
		o.printf("    %s\n", line)
	}
}

// Diagnostics prints probe values as a table in battery order. Keys outside
// the battery are appended in the order given by the map iteration.
func (o *Output) Diagnostics(values map[string]string) {
	table := tablewriter.NewWriter(o.w)
	table.SetHeader([]string{"Probe", "Value"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	seen := make(map[string]bool, len(values))
	for _, key := range diagnostics.Keys() {
		v, ok := values[key]
		if !ok {
			continue
		}
		seen[key] = true
		table.Append([]string{key, o.probeValue(v)})
	}
	for key, v := range values {
		if !seen[key] {
			table.Append([]string{key, o.probeValue(v)})
		}
	}

	table.Render()
}

func (o *Output) probeValue(v string) string {
	if v == diagnostics.NotAvailable {
		return o.yellow.Sprint(v)
	}
	return v
}

// Actions prints the available actions and their parameters.
func (o *Output) Actions(defs []action.Definition) {
	table := tablewriter.NewWriter(o.w)
	table.SetHeader([]string{"Action", "Parameters", "Description"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, d := range defs {
		params := make([]string, 0, len(d.Params))
		for _, p := range d.Params {
			if p.Required {
				params = append(params, p.Name)
			} else {
				params = append(params, "["+p.Name+"]")
			}
		}
		table.Append([]string{string(d.Kind), strings.Join(params, " "), d.Description})
	}

	table.Render()
}

// JSON writes v as indented JSON.
func (o *Output) JSON(v any) error {
	enc := json.NewEncoder(o.w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}

// Error prints an error message.
func (o *Output) Error(format string, args ...any) {
	o.printf("%s %s\n", o.red.Sprint("ERROR"), fmt.Sprintf(format, args...))
}

// Debug prints a debug message (only in debug mode).
func (o *Output) Debug(format string, args ...any) {
	if o.debug {
		o.printf("%s %s\n", o.gray.Sprint("DEBUG"), fmt.Sprintf(format, args...))
	}
}

func (o *Output) printf(format string, args ...any) {
	fmt.Fprintf(o.w, format, args...)
}
