package transfer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	"github.com/fgeck/mysql-sync-manager/internal/services/executor"
	"github.com/fgeck/mysql-sync-manager/internal/services/ssh"
)

// ErrUnavailable means the remote host cannot serve the transfer mechanism.
var ErrUnavailable = errors.New("transfer mechanism unavailable")

// scp protocol response codes.
const (
	scpOK      = 0
	scpWarning = 1
	scpFatal   = 2
)

// FileTransfer copies a remote file to a local path and deletes remote files.
type FileTransfer interface {
	Get(ctx context.Context, remotePath, localPath string) error
	Delete(ctx context.Context, remotePath string) error
}

// SCPTransfer speaks the sink side of `scp -f` over a session channel.
type SCPTransfer struct {
	sess    ssh.RemoteSession
	timeout time.Duration
}

// NewSCP creates an scp transfer bound to sess.
func NewSCP(sess ssh.RemoteSession, timeout time.Duration) *SCPTransfer {
	return &SCPTransfer{sess: sess, timeout: timeout}
}

// Get downloads remotePath into localPath.
func (t *SCPTransfer) Get(ctx context.Context, remotePath, localPath string) error {
	ch, err := t.sess.NewChannel()
	if err != nil {
		return err
	}
	defer func() { _ = ch.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = ch.Close() })
	defer stop()

	stdin, err := ch.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open scp stdin: %w", err)
	}
	stdout, err := ch.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open scp stdout: %w", err)
	}
	if err := ch.Start(command.New("scp", "-f", remotePath).String()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	r := bufio.NewReader(stdout)
	if err := ack(stdin); err != nil {
		return err
	}

	size, err := readHeader(r, stdin)
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: scp exited before sending a file header: %v", ErrUnavailable, ch.Wait())
	}
	if err != nil {
		return err
	}
	if err := ack(stdin); err != nil {
		return err
	}

	if err := copyToFile(localPath, r, size); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	if err := readStatus(r); err != nil {
		return err
	}
	if err := ack(stdin); err != nil {
		return err
	}
	_ = stdin.Close()

	if err := ch.Wait(); err != nil {
		return fmt.Errorf("scp did not exit cleanly: %w", err)
	}
	return nil
}

// Delete removes remotePath with rm -f.
func (t *SCPTransfer) Delete(ctx context.Context, remotePath string) error {
	_, err := executor.Run(ctx, t.sess, command.New("rm", "-f", remotePath), t.timeout)
	return err
}

// readHeader consumes protocol lines until a file header and returns its size.
func readHeader(r *bufio.Reader, stdin io.Writer) (int64, error) {
	for {
		code, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("truncated scp header: %w", err)
		}
		line = strings.TrimRight(line, "\n")

		switch code {
		case 'C':
			// C<mode> <size> <name>
			fields := strings.SplitN(line, " ", 3)
			if len(fields) != 3 {
				return 0, fmt.Errorf("malformed scp header %q", line)
			}
			size, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil || size < 0 {
				return 0, fmt.Errorf("malformed scp size %q", fields[1])
			}
			return size, nil
		case 'T':
			if err := ack(stdin); err != nil {
				return 0, err
			}
		case scpWarning, scpFatal:
			return 0, fmt.Errorf("scp: %s", line)
		default:
			return 0, fmt.Errorf("unexpected scp message %q", string(code)+line)
		}
	}
}

func readStatus(r *bufio.Reader) error {
	code, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("failed to read scp status: %w", err)
	}
	if code == scpOK {
		return nil
	}
	msg, _ := r.ReadString('\n')
	return fmt.Errorf("scp: %s", strings.TrimSpace(msg))
}

func ack(w io.Writer) error {
	if _, err := w.Write([]byte{scpOK}); err != nil {
		return fmt.Errorf("failed to write scp ack: %w", err)
	}
	return nil
}

func copyToFile(localPath string, r io.Reader, size int64) error {
	out, err := os.Create(localPath) //nolint:gosec // local path is derived from the work directory
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", localPath, err)
	}
	if _, err := io.CopyN(out, r, size); err != nil {
		_ = out.Close()
		return fmt.Errorf("failed to receive file: %w", err)
	}
	return out.Close()
}
