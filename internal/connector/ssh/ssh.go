// Package ssh provides a connector for executing commands on remote devices over SSH.
//
// A Connector owns exactly one client connection. Files are transferred over
// an SFTP channel opened on the same authenticated connection.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	gossh "golang.org/x/crypto/ssh"

	"github.com/eugenetaranov/devagent/internal/connector"
)

// DefaultPort is the standard SSH port.
const DefaultPort = 22

// ConnectError describes a failed connection attempt.
type ConnectError struct {
	Host string
	Port int
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Connector executes commands on a remote host over SSH.
type Connector struct {
	cfg            connector.Config
	credential     Credential
	policy         HostKeyPolicy
	knownHosts     string
	connectRetries int
	logger         *slog.Logger

	client      *gossh.Client
	closeAgent  func() error
	dialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// Option configures the SSH connector.
type Option func(*Connector)

// WithCredential sets the credential variant. The default is SystemDefault.
func WithCredential(cred Credential) Option {
	return func(c *Connector) {
		c.credential = cred
	}
}

// WithHostKeyPolicy sets how server host keys are verified.
func WithHostKeyPolicy(policy HostKeyPolicy, knownHostsPath string) Option {
	return func(c *Connector) {
		c.policy = policy
		c.knownHosts = knownHostsPath
	}
}

// WithConnectRetries sets how many times a failed connection is retried.
// Authentication and host key failures are never retried.
func WithConnectRetries(n int) Option {
	return func(c *Connector) {
		c.connectRetries = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a new SSH connector for the given target.
func New(cfg connector.Config, opts ...Option) *Connector {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}

	c := &Connector{
		cfg:        cfg,
		credential: SystemDefault{},
		policy:     AutoTrust,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.dialContext == nil {
		dialer := &net.Dialer{Timeout: c.cfg.EffectiveTimeout()}
		c.dialContext = dialer.DialContext
	}

	return c
}

// Connect dials and authenticates. Credentials are tried in the order fixed by
// the configured variant: key file, password, or ambient discovery.
func (c *Connector) Connect(ctx context.Context) error {
	if c.client != nil {
		return nil
	}

	methods, closeAgent, err := authMethods(c.credential)
	if err != nil {
		return &ConnectError{Host: c.cfg.Host, Port: c.cfg.Port, Err: err}
	}

	callback, err := hostKeyCallback(ctx, c.policy, c.knownHosts, c.logger)
	if err != nil {
		_ = closeAgent()
		return &ConnectError{Host: c.cfg.Host, Port: c.cfg.Port, Err: err}
	}

	clientCfg := &gossh.ClientConfig{
		User:            c.cfg.User,
		Auth:            methods,
		HostKeyCallback: callback,
		Timeout:         c.cfg.EffectiveTimeout(),
	}

	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	c.logger.DebugContext(ctx, "connecting", "addr", addr, "user", c.cfg.User, "credential", c.credential.Kind())

	var client *gossh.Client
	attempt := func() error {
		var err error
		client, err = c.dial(ctx, addr, clientCfg)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	var policy backoff.BackOff = &backoff.StopBackOff{}
	if c.connectRetries > 0 {
		policy = backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(c.connectRetries))
	}

	notify := func(err error, wait time.Duration) {
		c.logger.DebugContext(ctx, "connect failed, retrying", "addr", addr, "error", err, "wait", wait)
	}

	if err := backoff.RetryNotify(attempt, backoff.WithContext(policy, ctx), notify); err != nil {
		_ = closeAgent()
		return &ConnectError{Host: c.cfg.Host, Port: c.cfg.Port, Err: err}
	}

	c.client = client
	c.closeAgent = closeAgent
	c.logger.DebugContext(ctx, "connected", "addr", addr)
	return nil
}

// dial bounds both the TCP connect and the SSH handshake by the configured timeout.
func (c *Connector) dial(ctx context.Context, addr string, cfg *gossh.ClientConfig) (*gossh.Client, error) {
	timeout := c.cfg.EffectiveTimeout()
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := c.dialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		conn.Close()
		return nil, err
	}

	sshConn, chans, reqs, err := gossh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		sshConn.Close()
		return nil, err
	}

	return gossh.NewClient(sshConn, chans, reqs), nil
}

func isPermanent(err error) bool {
	if isHostKeyError(err) {
		return true
	}
	return strings.Contains(err.Error(), "unable to authenticate")
}

// Connected reports whether a client connection is open.
func (c *Connector) Connected() bool {
	return c.client != nil
}

// Execute runs a command in a new SSH session and waits for its exit status.
// Cancelling ctx closes the session and returns ctx.Err().
func (c *Connector) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	if c.client == nil {
		return nil, connector.ErrNotConnected
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(gossh.SIGKILL)
		_ = session.Close()
		return nil, ctx.Err()
	}

	result := &connector.Result{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *gossh.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		result.ExitCode = exitErr.ExitStatus()
	}

	return result, nil
}

// Close terminates the client connection. Closing a closed connector is a no-op.
func (c *Connector) Close() error {
	if c.client == nil {
		return nil
	}

	var errs *multierror.Error
	if err := c.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		errs = multierror.Append(errs, fmt.Errorf("failed to close ssh client: %w", err))
	}
	if c.closeAgent != nil {
		if err := c.closeAgent(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("failed to close ssh agent: %w", err))
		}
	}

	c.client = nil
	c.closeAgent = nil
	c.logger.Debug("disconnected", "host", c.cfg.Host)

	return errs.ErrorOrNil()
}

// Host returns the configured host.
func (c *Connector) Host() string {
	return c.cfg.Host
}

// String returns a description of the connection.
func (c *Connector) String() string {
	return fmt.Sprintf("ssh://%s@%s", c.cfg.User, net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port)))
}

// Ensure Connector implements the connector.Connector interface.
var _ connector.Connector = (*Connector)(nil)
