package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/devagent/internal/connector"
	"github.com/eugenetaranov/devagent/internal/connector/connectortest"
	"github.com/eugenetaranov/devagent/internal/outcome"
	"github.com/eugenetaranov/devagent/internal/pkgmgr"
	"github.com/eugenetaranov/devagent/pkg/diagnostics"
)

func newAgent(t *testing.T, fake *connectortest.Fake, opts ...Option) *Agent {
	t.Helper()
	a, err := New(fake, append([]Option{WithLabel("Raspberry Pi")}, opts...)...)
	require.NoError(t, err)
	return a
}

func TestNewRequiresConnector(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestInstallLibrary(t *testing.T) {
	tests := []struct {
		name     string
		library  string
		manager  string
		wantCmd  string
		wantMgr  string
		exitCode int
	}{
		{"numpy auto", "numpy", "auto", "pip3 install numpy", "pip", 0},
		{"empty manager", "pandas", "", "pip3 install pandas", "pip", 0},
		{"python prefix", "python-serial", "auto", "pip3 install python-serial", "pip", 0},
		{"git auto", "git", "auto", "sudo apt-get update && sudo apt-get install -y git", "apt", 0},
		{"explicit npm", "pm2", "npm", "npm install -g pm2", "npm", 0},
		{"failing install", "nonexistent", "pip", "pip3 install nonexistent", "pip", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := connectortest.New("raspberrypi.local").On(tt.wantCmd, "done\n", tt.exitCode)
			a := newAgent(t, fake)

			res := a.InstallLibrary(context.Background(), tt.library, tt.manager)

			assert.Equal(t, []string{tt.wantCmd}, fake.Commands)
			assert.Equal(t, tt.library, res.Library)
			assert.Equal(t, tt.wantMgr, res.PackageManager)
			require.NotNil(t, res.ExitCode)
			assert.Equal(t, tt.exitCode, *res.ExitCode)
			assert.Equal(t, tt.exitCode == 0, res.OK())
		})
	}
}

func TestInstallLibraryUnknownManager(t *testing.T) {
	fake := connectortest.New("raspberrypi.local")
	a := newAgent(t, fake)

	res := a.InstallLibrary(context.Background(), "wget", "brew")

	assert.Equal(t, outcome.Error, res.Status)
	assert.Equal(t, "Unknown package manager: brew", res.Message)
	assert.Empty(t, fake.Commands)
	assert.Zero(t, fake.Connects, "an invalid manager must not open a session")
}

func TestInstallLibraryCustomPolicy(t *testing.T) {
	fake := connectortest.New("pi")
	a := newAgent(t, fake, WithPolicy(pkgmgr.Policy{PythonPackages: []string{"requests"}}))

	res := a.InstallLibrary(context.Background(), "requests", "auto")

	assert.Equal(t, "pip", res.PackageManager)
	assert.Equal(t, []string{"pip3 install requests"}, fake.Commands)
}

func TestDiagnoseSystem(t *testing.T) {
	fake := connectortest.New("pi").
		On("uname -r", "6.6.31+rpt-rpi-v8\n", 0).
		On("vcgencmd measure_temp", "temp=48.3'C\n", 0)
	fake.Default = &connectortest.Reply{Err: errors.New("channel closed")}
	a := newAgent(t, fake)

	res := a.DiagnoseSystem(context.Background())

	assert.Equal(t, outcome.Success, res.Status)
	assert.Len(t, res.Diagnostics, len(diagnostics.Keys()))
	assert.Equal(t, "6.6.31+rpt-rpi-v8", res.Diagnostics["kernel"])
	assert.Equal(t, "temp=48.3'C", res.Diagnostics["temperature"])
	assert.Equal(t, diagnostics.NotAvailable, res.Diagnostics["pip_packages"])
}

func TestDiagnoseSystemAllProbesFail(t *testing.T) {
	fake := connectortest.New("pi")
	fake.Default = &connectortest.Reply{Result: &connector.Result{Stderr: "not found", ExitCode: 127}}
	a := newAgent(t, fake)

	res := a.DiagnoseSystem(context.Background())

	assert.Equal(t, outcome.Success, res.Status)
	for _, k := range diagnostics.Keys() {
		assert.Equal(t, diagnostics.NotAvailable, res.Diagnostics[k], k)
	}
}

func TestDiagnoseSystemUnreachable(t *testing.T) {
	fake := connectortest.New("pi")
	fake.ConnectErr = errors.New("no route to host")
	a := newAgent(t, fake)

	res := a.DiagnoseSystem(context.Background())

	assert.Equal(t, outcome.Success, res.Status)
	for _, k := range diagnostics.Keys() {
		assert.Equal(t, diagnostics.NotAvailable, res.Diagnostics[k], k)
	}
}

func TestUploadFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "blink.py")
	require.NoError(t, os.WriteFile(src, []byte("print('blink')\n"), 0o644))

	fake := connectortest.New("pi")
	a := newAgent(t, fake)

	res := a.UploadFile(context.Background(), src, "/home/pi/blink.py")

	require.True(t, res.OK(), res.Message)
	assert.Equal(t, "Uploaded "+src+" to /home/pi/blink.py", res.Message)
	assert.Equal(t, src, res.LocalPath)
	assert.Equal(t, "/home/pi/blink.py", res.RemotePath)
	assert.EqualValues(t, 15, res.Bytes)
	require.Len(t, fake.Uploads, 1)
	assert.Equal(t, "/home/pi/blink.py", fake.Uploads[0].Dst)
}

func TestUploadFileMissingSource(t *testing.T) {
	fake := connectortest.New("pi")
	a := newAgent(t, fake)

	res := a.UploadFile(context.Background(), filepath.Join(t.TempDir(), "missing.py"), "/tmp/x.py")

	assert.Equal(t, outcome.Error, res.Status)
	assert.NotEmpty(t, res.Message)
	assert.Empty(t, fake.Uploads)
}

func TestExecuteCommand(t *testing.T) {
	fake := connectortest.New("pi").On("ls /home/pi", "a.txt\nb.txt\n", 0)
	a := newAgent(t, fake)

	res := a.ExecuteCommand(context.Background(), "ls /home/pi")

	assert.True(t, res.OK())
	assert.Equal(t, "a.txt\nb.txt\n", res.Stdout)
	require.NotNil(t, res.ExitCode)
	assert.Equal(t, 0, *res.ExitCode)
}

func TestExecuteCommandConnectFailure(t *testing.T) {
	fake := connectortest.New("raspberrypi.local")
	fake.ConnectErr = errors.New("connection refused")
	a := newAgent(t, fake)

	res := a.ExecuteCommand(context.Background(), "uptime")

	assert.Equal(t, outcome.Error, res.Status)
	assert.Contains(t, res.Message, "Could not connect to Raspberry Pi at raspberrypi.local")
	assert.Nil(t, res.ExitCode)
}

func TestScopedDisconnects(t *testing.T) {
	fake := connectortest.New("pi")
	a := newAgent(t, fake)

	res := a.Scoped(context.Background(), func(ctx context.Context) outcome.Outcome {
		return a.ExecuteCommand(ctx, "true")
	})

	assert.True(t, res.OK())
	assert.False(t, a.Connected())
	assert.Equal(t, 1, fake.Connects)
	assert.Equal(t, 1, fake.Closes)
}

func TestScopedRecoversPanic(t *testing.T) {
	fake := connectortest.New("pi")
	a := newAgent(t, fake)

	res := a.Scoped(context.Background(), func(ctx context.Context) outcome.Outcome {
		a.ExecuteCommand(ctx, "true")
		panic("boom")
	})

	assert.Equal(t, outcome.Error, res.Status)
	assert.Equal(t, "boom", res.Message)
	assert.False(t, a.Connected(), "session must be closed after a panic")
}

func TestScopedWithoutSession(t *testing.T) {
	fake := connectortest.New("pi")
	a := newAgent(t, fake)

	res := a.Scoped(context.Background(), func(ctx context.Context) outcome.Outcome {
		return outcome.Errorf("Command required")
	})

	assert.Equal(t, "Command required", res.Message)
	assert.Zero(t, fake.Connects)
	assert.Zero(t, fake.Closes)
}

func TestDisconnectIdempotent(t *testing.T) {
	fake := connectortest.New("pi")
	a := newAgent(t, fake)

	a.Disconnect()
	a.ExecuteCommand(context.Background(), "true")
	a.Disconnect()
	a.Disconnect()

	assert.Equal(t, 1, fake.Closes)
	assert.False(t, a.Connected())
}

func TestTarget(t *testing.T) {
	a := newAgent(t, connectortest.New("pi"))
	assert.Equal(t, "fake://pi", a.Target())
}
