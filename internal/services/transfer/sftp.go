package transfer

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fgeck/mysql-sync-manager/internal/services/ssh"
	"github.com/pkg/sftp"
)

// SFTPTransfer uses the sftp subsystem on a session channel.
type SFTPTransfer struct {
	sess ssh.RemoteSession
}

// NewSFTP creates an sftp transfer bound to sess.
func NewSFTP(sess ssh.RemoteSession) *SFTPTransfer {
	return &SFTPTransfer{sess: sess}
}

func (t *SFTPTransfer) client(ctx context.Context) (*sftp.Client, func(), error) {
	ch, err := t.sess.NewChannel()
	if err != nil {
		return nil, nil, err
	}
	closeAll := func() { _ = ch.Close() }

	if err := ch.RequestSubsystem("sftp"); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("%w: sftp subsystem: %v", ErrUnavailable, err)
	}
	w, err := ch.StdinPipe()
	if err != nil {
		closeAll()
		return nil, nil, err
	}
	r, err := ch.StdoutPipe()
	if err != nil {
		closeAll()
		return nil, nil, err
	}

	client, err := sftp.NewClientPipe(r, w)
	if err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("failed to start sftp client: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	return client, func() {
		stop()
		_ = client.Close()
		closeAll()
	}, nil
}

// Get downloads remotePath into localPath.
func (t *SFTPTransfer) Get(ctx context.Context, remotePath, localPath string) error {
	client, done, err := t.client(ctx)
	if err != nil {
		return err
	}
	defer done()

	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("failed to open remote file: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(localPath) //nolint:gosec // local path is derived from the work directory
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("failed to receive file: %w", err)
	}
	return dst.Close()
}

// Delete removes remotePath; a missing file is not an error.
func (t *SFTPTransfer) Delete(ctx context.Context, remotePath string) error {
	client, done, err := t.client(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := client.Remove(remotePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove remote file: %w", err)
	}
	return nil
}
