package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eugenetaranov/devagent/internal/connector/local"
	"github.com/eugenetaranov/devagent/internal/connector/ssh"
	"github.com/eugenetaranov/devagent/internal/intent"
	"github.com/eugenetaranov/devagent/internal/pkgmgr"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDefault(t *testing.T) {
	cfg := Default()

	pi := cfg.RaspberryPi
	assert.Equal(t, "raspberrypi.local", pi.Host)
	assert.Equal(t, 22, pi.Port)
	assert.Equal(t, "pi", pi.Username)
	assert.Equal(t, ConnectionSSH, pi.Connection)
	assert.Equal(t, "auto-trust", pi.HostKeyPolicy)
	assert.Equal(t, 10*time.Second, pi.ConnectTimeout)
	assert.Zero(t, pi.CommandTimeout)
	assert.Nil(t, cfg.ESPDevice)
	assert.Equal(t, pkgmgr.DefaultPolicy(), cfg.PackageManager)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "loading must not create the file")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
raspberry_pi:
  host: 192.168.1.50
  port: 2222
  username: admin
  password: ${PI_TEST_PASSWORD}
  host_key_policy: strict
  known_hosts: /tmp/known_hosts
  connect_timeout: 3s
  connect_retries: 2
  command_timeout: 5m
package_manager:
  python_prefixes: ["python-", "py"]
  python_packages: [requests]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("PI_TEST_PASSWORD", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)

	pi := cfg.RaspberryPi
	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, "192.168.1.50", pi.Host)
	assert.Equal(t, 2222, pi.Port)
	assert.Equal(t, "admin", pi.Username)
	assert.Equal(t, "s3cret", pi.Password)
	assert.Equal(t, "strict", pi.HostKeyPolicy)
	assert.Equal(t, 3*time.Second, pi.ConnectTimeout)
	assert.Equal(t, 2, pi.ConnectRetries)
	assert.Equal(t, 5*time.Minute, pi.CommandTimeout)
	assert.Equal(t, []string{"requests"}, cfg.PackageManager.PythonPackages)
	assert.Equal(t, ssh.Password{Secret: "s3cret"}, pi.Credential())
}

func TestParsePartialSectionKeepsDefaults(t *testing.T) {
	cfg, err := Parse([]byte("raspberry_pi:\n  password: raspberry\n"))
	require.NoError(t, err)

	assert.Equal(t, "raspberrypi.local", cfg.RaspberryPi.Host)
	assert.Equal(t, 22, cfg.RaspberryPi.Port)
	assert.Equal(t, "pi", cfg.RaspberryPi.Username)
	assert.Equal(t, pkgmgr.DefaultPolicy(), cfg.PackageManager)
}

func TestParseESPDevice(t *testing.T) {
	cfg, err := Parse([]byte("esp_device:\n  host: esp-gateway.local\n"))
	require.NoError(t, err)

	require.NotNil(t, cfg.ESPDevice)
	assert.Equal(t, "esp-gateway.local", cfg.ESPDevice.Host)
	assert.Equal(t, 22, cfg.ESPDevice.Port)
	assert.Equal(t, "auto-trust", cfg.ESPDevice.HostKeyPolicy)
}

func TestParseDefaultedVariables(t *testing.T) {
	t.Setenv("HOME", "/home/tester")

	cfg, err := Parse([]byte(`
raspberry_pi:
  key_path: ~/.ssh/${PI_TEST_UNSET_KEY:-pi_ed25519}
  known_hosts: ${PI_TEST_UNSET_HOSTS:-~/.ssh/pi_known_hosts}
`))
	require.NoError(t, err)

	assert.Equal(t, "/home/tester/.ssh/pi_ed25519", cfg.RaspberryPi.KeyPath)
	assert.Equal(t, "/home/tester/.ssh/pi_known_hosts", cfg.RaspberryPi.KnownHosts)
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "raspberry_pi: [", "invalid config format"},
		{"port range", "raspberry_pi:\n  port: 70000\n", "raspberry_pi.port 70000 is out of range"},
		{"host key policy", "raspberry_pi:\n  host_key_policy: trust-me\n", "raspberry_pi.host_key_policy"},
		{"connection", "raspberry_pi:\n  connection: ssm\n", `raspberry_pi.connection "ssm" must be ssh or local`},
		{"retries", "raspberry_pi:\n  connect_retries: -1\n", "connect_retries must not be negative"},
		{"esp section", "esp_device:\n  port: -5\n", "esp_device.port -5 is out of range"},
		{"bad duration", "raspberry_pi:\n  connect_timeout: soon\n", "invalid config format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadUnreadable(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestCredential(t *testing.T) {
	tests := []struct {
		name   string
		device Device
		want   ssh.Credential
	}{
		{"none", Device{}, ssh.SystemDefault{}},
		{"password", Device{Password: "pw"}, ssh.Password{Secret: "pw"}},
		{"key", Device{KeyPath: "/k", KeyPassphrase: "pp"}, ssh.KeyFile{Path: "/k", Passphrase: "pp"}},
		{"key wins", Device{KeyPath: "/k", Password: "pw"}, ssh.KeyFile{Path: "/k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.device.Credential())
		})
	}
}

func TestConnector(t *testing.T) {
	pi := DefaultDevice()
	conn := pi.Connector(discard())
	assert.IsType(t, &ssh.Connector{}, conn)
	assert.Equal(t, "ssh://pi@raspberrypi.local:22", conn.String())

	pi.Connection = ConnectionLocal
	assert.IsType(t, &local.Connector{}, pi.Connector(discard()))
}

func TestRouter(t *testing.T) {
	cfg := Default()
	r, err := cfg.Router(discard())
	require.NoError(t, err)
	assert.Equal(t, []intent.Agent{intent.RaspberryPi}, r.Agents())

	_, err = cfg.Agent(intent.ESPDevice, discard())
	assert.EqualError(t, err, "esp_device is not configured")

	esp := DefaultDevice()
	esp.Host = "esp-gateway.local"
	cfg.ESPDevice = &esp
	r, err = cfg.Router(discard())
	require.NoError(t, err)
	assert.Equal(t, []intent.Agent{intent.ESPDevice, intent.RaspberryPi}, r.Agents())

	a, err := cfg.Agent(intent.ESPDevice, discard())
	require.NoError(t, err)
	assert.Equal(t, "ssh://pi@esp-gateway.local:22", a.Target())
}
