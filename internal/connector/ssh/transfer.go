package ssh

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"

	"github.com/eugenetaranov/devagent/internal/connector"
)

// Upload opens an SFTP channel on the current connection, streams src to dst
// and closes the channel before returning. The copy is not atomic: a failed
// transfer may leave a partial file at dst.
func (c *Connector) Upload(ctx context.Context, src io.Reader, dst string, mode uint32) (err error) {
	if c.client == nil {
		return connector.ErrNotConnected
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	client, err := sftp.NewClient(c.client)
	if err != nil {
		return fmt.Errorf("failed to open sftp channel: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			err = multierror.Append(err, fmt.Errorf("failed to close sftp channel: %w", cerr)).ErrorOrNil()
		}
	}()

	f, err := client.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create remote file %s: %w", dst, err)
	}

	if _, err := f.ReadFrom(src); err != nil {
		f.Close()
		return fmt.Errorf("failed to write to %s: %w", dst, err)
	}

	if mode != 0 {
		if err := f.Chmod(os.FileMode(mode)); err != nil {
			f.Close()
			return fmt.Errorf("failed to set mode on %s: %w", dst, err)
		}
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to finish writing %s: %w", dst, err)
	}

	return nil
}
