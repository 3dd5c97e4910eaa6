package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	apperrors "github.com/fgeck/mysql-sync-manager/internal/errors"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/services/executor"
	"github.com/rs/zerolog"
)

// RemoteSession is an authenticated connection to the export host. It runs
// one command at a time and must be closed by its owner.
type RemoteSession interface {
	executor.CommandExecutor
	// NewChannel opens a raw session channel for file transfer.
	NewChannel() (SSHSession, error)
	Host() string
	Close() error
}

// Session implements RemoteSession over an SSHClient.
type Session struct {
	host   string
	client SSHClient
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

func newSession(host string, client SSHClient, logger zerolog.Logger) *Session {
	return &Session{host: host, client: client, logger: logger}
}

// NewSessionFromClient wraps an existing client (for testing).
func NewSessionFromClient(host string, client SSHClient, logger zerolog.Logger) *Session {
	return newSession(host, client, logger)
}

// Host returns the remote host name.
func (s *Session) Host() string {
	return s.host
}

// NewChannel opens a new channel on the connection.
func (s *Session) NewChannel() (SSHSession, error) {
	ch, err := s.client.NewSession()
	if err != nil {
		return nil, apperrors.Network(s.host, "open channel", err)
	}
	return ch, nil
}

// Exec runs cmd through the remote shell. On timeout the channel is closed
// and no output is returned.
func (s *Session) Exec(ctx context.Context, cmd command.Command, timeout time.Duration) (*models.ExecResult, error) {
	ch, err := s.NewChannel()
	if err != nil {
		return nil, err
	}
	defer func() { _ = ch.Close() }()

	s.logger.Debug().
		Str("host", s.host).
		Str("command", cmd.Redacted()).
		Dur("timeout", timeout).
		Msg("executing remote command")

	var stdout, stderr bytes.Buffer
	done := make(chan error, 1)
	start := time.Now()
	line := cmd.String()

	go func() {
		done <- ch.Run(line, &stdout, &stderr)
	}()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-ctx.Done():
		_ = ch.Close()
		return nil, ctx.Err()
	case <-expired:
		_ = ch.Close()
		return nil, fmt.Errorf("%s on %s: %w after %s", cmd.Program, s.host, executor.ErrTimeout, timeout)
	case runErr := <-done:
		result := &models.ExecResult{
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if runErr != nil {
			var exitErr *ExitStatusError
			if !errors.As(runErr, &exitErr) {
				return nil, apperrors.Network(s.host, "exec "+cmd.Program, runErr)
			}
			result.ExitCode = exitErr.Code
		}
		return result, nil
	}
}

// Close closes the connection. Further calls are no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug().Str("host", s.host).Msg("closing ssh connection")
	return s.client.Close()
}
