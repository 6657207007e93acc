package ssh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyPolicy decides how unknown server host keys are treated.
type HostKeyPolicy string

const (
	// AutoTrust accepts any host key without consulting or updating known_hosts.
	AutoTrust HostKeyPolicy = "auto-trust"

	// AcceptNew trusts keys for hosts missing from known_hosts and records them,
	// but rejects a key that differs from a recorded one.
	AcceptNew HostKeyPolicy = "accept-new"

	// Strict requires the host key to already be present in known_hosts.
	Strict HostKeyPolicy = "strict"
)

// ParseHostKeyPolicy validates a policy name. The empty string selects AutoTrust.
func ParseHostKeyPolicy(s string) (HostKeyPolicy, error) {
	switch p := HostKeyPolicy(s); p {
	case "":
		return AutoTrust, nil
	case AutoTrust, AcceptNew, Strict:
		return p, nil
	default:
		return "", fmt.Errorf("invalid host key policy %q: must be auto-trust, accept-new, or strict", s)
	}
}

// DefaultKnownHosts returns ~/.ssh/known_hosts.
func DefaultKnownHosts() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "known_hosts")
}

func hostKeyCallback(ctx context.Context, policy HostKeyPolicy, knownHostsPath string, logger *slog.Logger) (gossh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		knownHostsPath = DefaultKnownHosts()
	}

	switch policy {
	case AutoTrust, "":
		logger.WarnContext(ctx, "SSH host key verification is disabled, unknown host keys are trusted")
		return gossh.InsecureIgnoreHostKey(), nil

	case Strict:
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", knownHostsPath, err)
		}
		return cb, nil

	case AcceptNew:
		if err := ensureFile(knownHostsPath); err != nil {
			return nil, err
		}
		cb, err := knownhosts.New(knownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", knownHostsPath, err)
		}
		return func(hostname string, remote net.Addr, key gossh.PublicKey) error {
			err := cb(hostname, remote, key)
			var keyErr *knownhosts.KeyError
			if errors.As(err, &keyErr) && len(keyErr.Want) == 0 {
				logger.InfoContext(ctx, "recording new host key", "host", hostname, "type", key.Type())
				return appendKnownHost(knownHostsPath, hostname, key)
			}
			return err
		}, nil

	default:
		return nil, fmt.Errorf("unknown host key policy %q", policy)
	}
}

func ensureFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts %s: %w", path, err)
	}
	return f.Close()
}

func appendKnownHost(path, hostname string, key gossh.PublicKey) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open known_hosts %s: %w", path, err)
	}
	defer f.Close()

	line := knownhosts.Line([]string{knownhosts.Normalize(hostname)}, key)
	if _, err := fmt.Fprintln(f, line); err != nil {
		return fmt.Errorf("failed to record host key: %w", err)
	}
	return nil
}

// isHostKeyError reports whether err came from host key verification.
func isHostKeyError(err error) bool {
	var keyErr *knownhosts.KeyError
	var revoked *knownhosts.RevokedError
	return errors.As(err, &keyErr) || errors.As(err, &revoked)
}
