package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/devagent/internal/intent"
	"github.com/eugenetaranov/devagent/internal/outcome"
	"github.com/eugenetaranov/devagent/pkg/diagnostics"
)

func localConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("raspberry_pi:\n  connection: local\n"), 0o600))
	return path
}

// runCLI executes the root command in-process and returns what it wrote to
// stdout and stderr.
func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	// flag variables outlive a single Execute call
	configPath, debug, noColor, jsonOutput, device = "config.yaml", false, false, false, string(intent.RaspberryPi)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestRunJSONFallbackKeepsStdoutClean(t *testing.T) {
	cfg := localConfig(t)

	stdout, stderr, err := runCLI(t, "--config", cfg, "--json", "run", "no payload on the pi")
	require.NoError(t, err, stderr)

	var res outcome.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &res), "stdout must be a single JSON document:\n%s", stdout)
	assert.Equal(t, outcome.Success, res.Status)
	assert.Len(t, res.Diagnostics, len(diagnostics.Keys()))

	assert.Contains(t, stderr, "falling back")
	assert.Contains(t, stderr, "invocation=")
}

func TestRunJSONPayload(t *testing.T) {
	cfg := localConfig(t)
	reply := `Here you go { oops: {"agent": "raspberry_pi", "action": "execute_command", "parameters": {"command": "echo hi"}}`

	stdout, stderr, err := runCLI(t, "--config", cfg, "--json", "run", reply)
	require.NoError(t, err, stderr)

	var res outcome.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, "hi\n", res.Stdout)
	assert.NotContains(t, stderr, "falling back")
}

func TestFailedOutcomeReturnsErrFailed(t *testing.T) {
	cfg := localConfig(t)

	stdout, _, err := runCLI(t, "--config", cfg, "--json", "exec", "exit 3")
	assert.ErrorIs(t, err, errFailed)

	var res outcome.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Equal(t, outcome.Error, res.Status)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 3, *res.ExitCode)
}

func TestUnknownDevice(t *testing.T) {
	cfg := localConfig(t)

	_, _, err := runCLI(t, "--config", cfg, "--device", "esp_device", "diagnose")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errFailed)
	assert.Contains(t, err.Error(), "esp_device is not configured")
}

func TestDebugNotesGoToStderr(t *testing.T) {
	cfg := localConfig(t)

	stdout, stderr, err := runCLI(t, "--config", cfg, "--debug", "--json", "diagnose")
	require.NoError(t, err, stderr)

	var res outcome.Outcome
	require.NoError(t, json.Unmarshal([]byte(stdout), &res))
	assert.Contains(t, stderr, "running diagnose on local://")
	assert.Contains(t, stderr, "probe kernel: uname -r")
	assert.Contains(t, stderr, "invocation=")
}

func TestActions(t *testing.T) {
	stdout, _, err := runCLI(t, "actions")
	require.NoError(t, err)
	for _, kind := range []string{"install_library", "diagnose", "upload_program", "execute_command"} {
		assert.Contains(t, stdout, kind)
	}

	stdout, _, err = runCLI(t, "actions", "upload_program")
	require.NoError(t, err)
	assert.Contains(t, stdout, "local_path remote_path")
	assert.NotContains(t, stdout, "execute_command")

	_, _, err = runCLI(t, "actions", "reboot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown action: reboot")
	assert.Contains(t, err.Error(), "install_library")
}
