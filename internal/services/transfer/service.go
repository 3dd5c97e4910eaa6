// Package transfer moves backup artifacts from the export host to the
// local work directory and prepares them for import.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/progress"
	"github.com/fgeck/mysql-sync-manager/internal/services/ssh"
	"github.com/rs/zerolog"
)

// Factory binds a FileTransfer to a session.
type Factory func(sess ssh.RemoteSession) FileTransfer

// Service defines the interface for artifact transfer.
type Service interface {
	Fetch(ctx context.Context, sess ssh.RemoteSession, remotePath, localDir string) (string, bool)
	Delete(ctx context.Context, sess ssh.RemoteSession, remotePath string) error
	Extract(artifactPath string) (string, error)
}

// Impl implements the transfer Service interface.
type Impl struct {
	primary  Factory
	fallback Factory
	reporter progress.Reporter
	logger   zerolog.Logger
}

// New creates a transfer service using scp with an sftp fallback.
func New(logger zerolog.Logger, reporter progress.Reporter, timeout time.Duration) *Impl {
	return NewWithTransports(logger, reporter,
		func(sess ssh.RemoteSession) FileTransfer { return NewSCP(sess, timeout) },
		func(sess ssh.RemoteSession) FileTransfer { return NewSFTP(sess) },
	)
}

// NewWithTransports creates a transfer service with custom transports (for testing).
func NewWithTransports(logger zerolog.Logger, reporter progress.Reporter, primary, fallback Factory) *Impl {
	return &Impl{
		primary:  primary,
		fallback: fallback,
		reporter: reporter,
		logger:   logger,
	}
}

// Fetch copies remotePath into localDir and returns the local path. It
// reports failure with ok=false; partially written files are removed.
func (s *Impl) Fetch(ctx context.Context, sess ssh.RemoteSession, remotePath, localDir string) (string, bool) {
	if err := os.MkdirAll(localDir, 0o750); err != nil {
		s.logger.Error().Err(err).Str("dir", localDir).Msg("failed to create work directory")
		return "", false
	}
	localPath := filepath.Join(localDir, path.Base(remotePath))

	s.logger.Info().
		Str("host", sess.Host()).
		Str("remote", remotePath).
		Str("local", localPath).
		Msg("downloading backup")

	tracker := s.reporter.Begin("Downloading backup")
	start := time.Now()

	err := s.primary(sess).Get(ctx, remotePath, localPath)
	if errors.Is(err, ErrUnavailable) {
		s.logger.Warn().Err(err).Msg("scp unavailable, falling back to sftp")
		removePartial(localPath)
		err = s.fallback(sess).Get(ctx, remotePath, localPath)
	}

	if err != nil {
		tracker.End(false)
		removePartial(localPath)
		s.logger.Error().Err(err).Str("remote", remotePath).Msg("download failed")
		return "", false
	}
	tracker.End(true)

	s.logger.Info().
		Str("local", localPath).
		Dur("duration", time.Since(start)).
		Msg("download completed")
	return localPath, true
}

// Delete removes remotePath from the export host.
func (s *Impl) Delete(ctx context.Context, sess ssh.RemoteSession, remotePath string) error {
	err := s.primary(sess).Delete(ctx, remotePath)
	if errors.Is(err, ErrUnavailable) {
		err = s.fallback(sess).Delete(ctx, remotePath)
	}
	if err != nil {
		return fmt.Errorf("failed to delete remote backup %s: %w", remotePath, err)
	}
	s.logger.Info().Str("remote", remotePath).Msg("deleted remote backup")
	return nil
}

func removePartial(localPath string) {
	_ = os.Remove(localPath)
}
