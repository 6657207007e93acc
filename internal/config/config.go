// Package config loads the device configuration file.
//
// The file describes the Raspberry Pi target (and optionally an ESP-class
// device reachable over SSH) plus the package-manager resolution table. A
// missing file is not an error: every field has a default that targets a
// stock Raspberry Pi OS install at raspberrypi.local.
//
// Secret fields (password, key_path, key_passphrase) and known_hosts expand
// ${VAR} and ${VAR:-default} references so credentials can stay out of the
// file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/eugenetaranov/devagent/internal/connector"
	"github.com/eugenetaranov/devagent/internal/connector/ssh"
	"github.com/eugenetaranov/devagent/internal/pkgmgr"
)

// Connection types.
const (
	ConnectionSSH   = "ssh"
	ConnectionLocal = "local"
)

// Defaults for a Raspberry Pi target.
const (
	DefaultHost     = "raspberrypi.local"
	DefaultUsername = "pi"
)

// Config is the top-level configuration.
type Config struct {
	// RaspberryPi is the primary managed device.
	RaspberryPi Device `yaml:"raspberry_pi"`

	// ESPDevice is an optional second device handled by the esp_device agent.
	// ESP boards that run an SSH-capable companion host use the same shape.
	ESPDevice *Device `yaml:"esp_device,omitempty"`

	// PackageManager overrides the pip/apt decision table.
	PackageManager pkgmgr.Policy `yaml:"package_manager"`

	// Path is the file the configuration was read from, empty for defaults.
	Path string `yaml:"-"`
}

// Device describes how to reach one device.
type Device struct {
	// Connection is "ssh" (default) or "local".
	Connection string `yaml:"connection"`

	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`

	// Credentials. key_path wins over password; with neither, the SSH agent
	// and default keys under ~/.ssh are used.
	Password      string `yaml:"password"`
	KeyPath       string `yaml:"key_path"`
	KeyPassphrase string `yaml:"key_passphrase"`

	// HostKeyPolicy is auto-trust (default), accept-new or strict.
	HostKeyPolicy string `yaml:"host_key_policy"`
	KnownHosts    string `yaml:"known_hosts"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ConnectRetries int           `yaml:"connect_retries"`

	// CommandTimeout bounds each remote command. Zero means unbounded.
	CommandTimeout time.Duration `yaml:"command_timeout"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		RaspberryPi:    DefaultDevice(),
		PackageManager: pkgmgr.DefaultPolicy(),
	}
}

// DefaultDevice returns a device with every default applied.
func DefaultDevice() Device {
	return Device{
		Connection:     ConnectionSSH,
		Host:           DefaultHost,
		Port:           ssh.DefaultPort,
		Username:       DefaultUsername,
		HostKeyPolicy:  string(ssh.AutoTrust),
		ConnectTimeout: connector.DefaultTimeout,
	}
}

// Load reads the configuration at path. A missing file yields Default().
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Path = path
	return cfg, nil
}

// Parse parses and validates configuration from YAML data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config format: %w", err)
	}

	cfg.RaspberryPi.applyDefaults()
	cfg.RaspberryPi.expandVariables()
	if cfg.ESPDevice != nil {
		cfg.ESPDevice.applyDefaults()
		cfg.ESPDevice.expandVariables()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills fields an explicit but partial section left empty.
func (d *Device) applyDefaults() {
	def := DefaultDevice()
	if d.Connection == "" {
		d.Connection = def.Connection
	}
	if d.Host == "" {
		d.Host = def.Host
	}
	if d.Port == 0 {
		d.Port = def.Port
	}
	if d.Username == "" {
		d.Username = def.Username
	}
	if d.HostKeyPolicy == "" {
		d.HostKeyPolicy = def.HostKeyPolicy
	}
	if d.ConnectTimeout == 0 {
		d.ConnectTimeout = def.ConnectTimeout
	}
}

func (d *Device) expandVariables() {
	d.Password = expandVars(d.Password)
	d.KeyPath = expandPath(expandVars(d.KeyPath))
	d.KeyPassphrase = expandVars(d.KeyPassphrase)
	d.KnownHosts = expandPath(expandVars(d.KnownHosts))
}

// varPattern matches ${VAR} and ${VAR:-default}.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		return parts[2]
	})
}

// expandPath resolves a leading ~/ to the home directory.
func expandPath(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[2:])
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs *multierror.Error

	errs = multierror.Append(errs, c.RaspberryPi.validate("raspberry_pi"))
	if c.ESPDevice != nil {
		errs = multierror.Append(errs, c.ESPDevice.validate("esp_device"))
	}

	return errs.ErrorOrNil()
}

func (d *Device) validate(section string) error {
	var errs *multierror.Error

	switch d.Connection {
	case ConnectionSSH:
		if d.Host == "" {
			errs = multierror.Append(errs, fmt.Errorf("%s.host is required", section))
		}
		if d.Port < 1 || d.Port > 65535 {
			errs = multierror.Append(errs, fmt.Errorf("%s.port %d is out of range", section, d.Port))
		}
		if d.Username == "" {
			errs = multierror.Append(errs, fmt.Errorf("%s.username is required", section))
		}
		if _, err := ssh.ParseHostKeyPolicy(d.HostKeyPolicy); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s.host_key_policy: %w", section, err))
		}
	case ConnectionLocal:
	default:
		errs = multierror.Append(errs, fmt.Errorf("%s.connection %q must be ssh or local", section, d.Connection))
	}

	if d.ConnectTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s.connect_timeout must not be negative", section))
	}
	if d.ConnectRetries < 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s.connect_retries must not be negative", section))
	}
	if d.CommandTimeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("%s.command_timeout must not be negative", section))
	}

	return errs.ErrorOrNil()
}

// Credential returns the credential variant selected by the device fields.
// key_path takes precedence over password; with neither set, credentials are
// discovered from the SSH agent and default key files.
func (d Device) Credential() ssh.Credential {
	switch {
	case d.KeyPath != "":
		return ssh.KeyFile{Path: d.KeyPath, Passphrase: d.KeyPassphrase}
	case d.Password != "":
		return ssh.Password{Secret: d.Password}
	default:
		return ssh.SystemDefault{}
	}
}
