// Package connectortest provides a scripted connector for tests.
package connectortest

import (
	"context"
	"io"
	"sync"

	"github.com/eugenetaranov/devagent/internal/connector"
)

// Reply is the scripted response to a command.
type Reply struct {
	Result *connector.Result
	Err    error
	Panic  any
}

// Upload records one Upload call.
type Upload struct {
	Dst     string
	Mode    uint32
	Content []byte
}

// Fake is an in-memory connector.Connector. Commands without a scripted
// reply succeed with empty output unless Default is set.
type Fake struct {
	mu sync.Mutex

	HostName   string
	ConnectErr error
	UploadErr  error
	Replies    map[string]Reply
	Default    *Reply

	connected bool

	Connects int
	Closes   int
	Commands []string
	Uploads  []Upload
}

// New creates a fake connector for host.
func New(host string) *Fake {
	return &Fake{HostName: host, Replies: make(map[string]Reply)}
}

// On scripts the reply for cmd and returns f for chaining.
func (f *Fake) On(cmd string, stdout string, exitCode int) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Replies[cmd] = Reply{Result: &connector.Result{Stdout: stdout, ExitCode: exitCode}}
	return f
}

// Connect implements connector.Connector.
func (f *Fake) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Connects++
	if f.ConnectErr != nil {
		return f.ConnectErr
	}
	f.connected = true
	return nil
}

// Connected implements connector.Connector.
func (f *Fake) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// Execute implements connector.Connector.
func (f *Fake) Execute(ctx context.Context, cmd string) (*connector.Result, error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return nil, connector.ErrNotConnected
	}
	f.Commands = append(f.Commands, cmd)
	reply, ok := f.Replies[cmd]
	if !ok && f.Default != nil {
		reply, ok = *f.Default, true
	}
	f.mu.Unlock()

	if !ok {
		return &connector.Result{}, nil
	}
	if reply.Panic != nil {
		panic(reply.Panic)
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	res := *reply.Result
	return &res, nil
}

// Upload implements connector.Connector.
func (f *Fake) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return connector.ErrNotConnected
	}
	if f.UploadErr != nil {
		return f.UploadErr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	f.Uploads = append(f.Uploads, Upload{Dst: dst, Mode: mode, Content: data})
	return nil
}

// Close implements connector.Connector.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.Closes++
	}
	f.connected = false
	return nil
}

// Host implements connector.Connector.
func (f *Fake) Host() string {
	return f.HostName
}

// String implements connector.Connector.
func (f *Fake) String() string {
	return "fake://" + f.HostName
}

var _ connector.Connector = (*Fake)(nil)
