// Package restore imports SQL artifacts into the local MySQL server.
package restore

import (
	"context"
	"os"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	apperrors "github.com/fgeck/mysql-sync-manager/internal/errors"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/progress"
	"github.com/fgeck/mysql-sync-manager/internal/services/executor"
	"github.com/fgeck/mysql-sync-manager/internal/services/probe"
	"github.com/rs/zerolog"
)

var baseRestoreFlags = []string{
	"--max_allowed_packet=512M",
	"--default-character-set=utf8mb4",
	"--force",
}

var elevatedRestoreFlags = []string{
	"--net_buffer_length=16384",
	"--init-command=" + models.SessionInitCommand,
}

// QuerierOpener opens a querier against the import server.
type QuerierOpener func(target models.ImportTarget) (probe.Querier, error)

// Service defines the interface for restore operations.
type Service interface {
	Restore(ctx context.Context, artifactPath string, target *models.ImportTarget) (*models.RestoreResult, error)
}

// Impl implements the restore Service interface.
type Impl struct {
	exec     executor.CommandExecutor
	prober   probe.Service
	open     QuerierOpener
	reporter progress.Reporter
	timeout  time.Duration
	logger   zerolog.Logger
}

// New creates a new restore service running the mysql client through exec.
func New(
	logger zerolog.Logger,
	exec executor.CommandExecutor,
	prober probe.Service,
	reporter progress.Reporter,
	timeout time.Duration,
) *Impl {
	open := func(target models.ImportTarget) (probe.Querier, error) {
		return probe.OpenImport(target, exec, timeout)
	}
	return NewWithOpener(logger, exec, prober, open, reporter, timeout)
}

// NewWithOpener creates a new restore service with a custom querier opener (for testing).
func NewWithOpener(
	logger zerolog.Logger,
	exec executor.CommandExecutor,
	prober probe.Service,
	open QuerierOpener,
	reporter progress.Reporter,
	timeout time.Duration,
) *Impl {
	return &Impl{
		exec:     exec,
		prober:   prober,
		open:     open,
		reporter: reporter,
		timeout:  timeout,
		logger:   logger,
	}
}

// Restore imports artifactPath into target. An attempt made with elevated
// flags that fails is followed by exactly one attempt with basic flags; the
// fallback markers are recorded on target and cleared once a restore succeeds.
func (s *Impl) Restore(ctx context.Context, artifactPath string, target *models.ImportTarget) (*models.RestoreResult, error) {
	if err := validate(artifactPath, target); err != nil {
		return nil, err
	}

	start := time.Now()
	result := &models.RestoreResult{}

	for {
		caps := s.probe(ctx, *target)
		elevated := caps.ElevatedPrivilege
		cmd := Command(target.DBEndpoint, elevated).ReadingFrom(artifactPath)

		s.logger.Info().
			Str("artifact", artifactPath).
			Str("database", target.Database).
			Bool("elevated", elevated).
			Bool("fallback", target.FallbackAttempted).
			Msg("importing backup")

		result.Attempts++
		tracker := s.reporter.Begin("Importing database")
		_, err := executor.Run(ctx, s.exec, cmd, s.timeout)
		tracker.End(err == nil)

		if err == nil {
			result.FallbackUsed = target.FallbackAttempted
			target.ClearFallback()
			result.Duration = time.Since(start)
			s.logger.Info().
				Str("database", target.Database).
				Int("attempts", result.Attempts).
				Dur("duration", result.Duration).
				Msg("import completed")
			return result, nil
		}

		if elevated && !target.FallbackAttempted && ctx.Err() == nil {
			s.logger.Warn().Err(err).Msg("import with elevated privileges failed, retrying with basic privileges")
			target.ForceBasic = true
			target.FallbackAttempted = true
			continue
		}

		return nil, apperrors.Restore("import", "failed to import "+artifactPath, err)
	}
}

func (s *Impl) probe(ctx context.Context, target models.ImportTarget) models.ServerCapabilities {
	opts := probe.Options{
		ForceBasic: target.ForceBasic,
		Quiet:      target.FallbackAttempted,
	}

	q, err := s.open(target)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to open import server for probing, assuming basic privileges")
		return models.ServerCapabilities{}
	}
	defer func() { _ = q.Close() }()

	return s.prober.Probe(ctx, q, target.Database, opts)
}

// Command returns the mysql import command for ep without its input redirect.
func Command(ep models.DBEndpoint, elevated bool) command.Command {
	cmd := probe.ClientCommand("mysql", ep).WithArgs(baseRestoreFlags...)
	if elevated {
		cmd = cmd.WithArgs(elevatedRestoreFlags...)
	}
	return cmd.WithArgs(ep.Database)
}

func validate(artifactPath string, target *models.ImportTarget) error {
	if target == nil {
		return apperrors.Validation("MYSQL_IMPORT_DATABASE", "import target is required")
	}
	info, err := os.Stat(artifactPath)
	if err != nil || info.IsDir() {
		return apperrors.Validation("artifact", "file not found: "+artifactPath)
	}
	if target.User == "" {
		return apperrors.Validation("MYSQL_IMPORT_USER", "import user is required")
	}
	if target.Password == "" {
		return apperrors.Validation("MYSQL_IMPORT_PASSWORD", "import password is required")
	}
	if target.Database == "" {
		return apperrors.Validation("MYSQL_IMPORT_DATABASE", "import database is required")
	}
	return nil
}
