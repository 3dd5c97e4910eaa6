// Package backup plans and runs mysqldump on the export host.
package backup

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	apperrors "github.com/fgeck/mysql-sync-manager/internal/errors"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/progress"
	"github.com/fgeck/mysql-sync-manager/internal/retry"
	"github.com/fgeck/mysql-sync-manager/internal/services/executor"
	"github.com/fgeck/mysql-sync-manager/internal/services/probe"
	"github.com/rs/zerolog"
)

// TempDumpPath receives the uncompressed dump before compression.
const TempDumpPath = "/tmp/temp.sql"

// lsSizeField is the index of the size column in `ls -l` output.
const lsSizeField = 4

// Service defines the interface for remote backup operations.
type Service interface {
	Run(ctx context.Context, exec executor.CommandExecutor, plan models.DumpPlan, export models.ExportSource) (*models.BackupResult, error)
	List(ctx context.Context, exec executor.CommandExecutor, backupDir string) ([]models.RemoteBackup, error)
	Exists(ctx context.Context, exec executor.CommandExecutor, remotePath string) (bool, error)
}

// Impl implements the backup Service interface.
type Impl struct {
	policy   *retry.Policy
	reporter progress.Reporter
	timeout  time.Duration
	now      func() time.Time
	logger   zerolog.Logger
}

// New creates a new backup service.
func New(logger zerolog.Logger, policy *retry.Policy, reporter progress.Reporter, timeout time.Duration) *Impl {
	return NewWithClock(logger, policy, reporter, timeout, time.Now)
}

// NewWithClock creates a new backup service with a custom clock (for testing).
func NewWithClock(
	logger zerolog.Logger,
	policy *retry.Policy,
	reporter progress.Reporter,
	timeout time.Duration,
	now func() time.Time,
) *Impl {
	return &Impl{
		policy:   policy,
		reporter: reporter,
		timeout:  timeout,
		now:      now,
		logger:   logger,
	}
}

// Run executes the dump pipeline: mkdir, dump, compress, cleanup, verify.
// Stages up to compression are retried; the first failing stage aborts
// the run and names itself in the returned error.
func (s *Impl) Run(
	ctx context.Context,
	exec executor.CommandExecutor,
	plan models.DumpPlan,
	export models.ExportSource,
) (*models.BackupResult, error) {
	if plan.Database == "" {
		return nil, apperrors.Validation("MYSQL_EXPORT_DATABASE", "database is required")
	}
	if export.BackupDir == "" {
		return nil, apperrors.Validation("MYSQL_EXPORT_BACKUP_DIR", "backup directory is required")
	}

	start := time.Now()
	artifact := path.Join(export.BackupDir, models.ArtifactName(plan.Database, s.now()))

	s.logger.Info().
		Str("database", plan.Database).
		Str("artifact", artifact).
		Int("flags", len(plan.Flags)).
		Msg("starting remote backup")

	if err := s.stage(ctx, exec, apperrors.StageInitialization, "Creating backup directory",
		"failed to create backup directory", command.New("mkdir", "-p", export.BackupDir)); err != nil {
		return nil, err
	}

	dump := probe.ClientCommand("mysqldump", export.DBEndpoint).
		WithArgs(plan.Flags...).
		WithArgs(plan.Database).
		WritingTo(TempDumpPath)
	if err := s.stage(ctx, exec, apperrors.StageDump, "Dumping database", "mysqldump failed", dump); err != nil {
		return nil, err
	}

	if err := s.stage(ctx, exec, apperrors.StageCompression, "Compressing backup",
		"failed to compress backup", command.New("gzip", "-c", TempDumpPath).WritingTo(artifact)); err != nil {
		return nil, err
	}

	if _, err := executor.Run(ctx, exec, command.New("rm", "-f", TempDumpPath), s.timeout); err != nil {
		s.logger.Warn().Err(err).Str("path", TempDumpPath).Msg("failed to remove temporary dump")
	}

	size, err := s.verify(ctx, exec, artifact)
	if err != nil {
		return nil, err
	}

	result := &models.BackupResult{
		Path:      artifact,
		SizeBytes: size,
		Duration:  time.Since(start),
	}

	s.logger.Info().
		Str("artifact", result.Path).
		Int64("size_bytes", result.SizeBytes).
		Dur("duration", result.Duration).
		Msg("remote backup completed")

	return result, nil
}

func (s *Impl) stage(
	ctx context.Context,
	exec executor.CommandExecutor,
	stage, label, failure string,
	cmd command.Command,
) error {
	tracker := s.reporter.Begin(label)
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		_, err := executor.Run(ctx, exec, cmd, s.timeout)
		return err
	})
	tracker.End(err == nil)

	if err != nil {
		s.logger.Error().Err(err).Str("stage", stage).Msg("backup stage failed")
		return apperrors.Backup(stage, failure, err)
	}
	return nil
}

func (s *Impl) verify(ctx context.Context, exec executor.CommandExecutor, artifact string) (int64, error) {
	tracker := s.reporter.Begin("Verifying backup")
	result, err := executor.Run(ctx, exec, command.New("ls", "-l", artifact), s.timeout)
	if err != nil {
		tracker.End(false)
		return 0, apperrors.Backup(apperrors.StageVerification, "backup file not found", err)
	}

	fields := strings.Fields(result.Stdout)
	if len(fields) <= lsSizeField {
		tracker.End(false)
		return 0, apperrors.Backup(apperrors.StageVerification,
			fmt.Sprintf("unexpected listing %q", strings.TrimSpace(result.Stdout)), nil)
	}
	size, err := strconv.ParseInt(fields[lsSizeField], 10, 64)
	if err != nil {
		tracker.End(false)
		return 0, apperrors.Backup(apperrors.StageVerification, "unparsable size in listing", err)
	}

	tracker.End(true)
	return size, nil
}

// List returns the .sql.gz and .sql files in backupDir, newest name first.
func (s *Impl) List(ctx context.Context, exec executor.CommandExecutor, backupDir string) ([]models.RemoteBackup, error) {
	cmd := command.New("find", backupDir,
		"-maxdepth", "1", "-type", "f",
		"(", "-name", "*"+string(models.FormatSQLGz), "-o", "-name", "*"+string(models.FormatSQL), ")",
		"-printf", `%s\t%TY-%Tm-%Td %TH:%TM\t%p\n`)

	result, err := executor.Run(ctx, exec, cmd, s.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups in %s: %w", backupDir, err)
	}

	var backups []models.RemoteBackup
	for _, line := range strings.Split(result.Stdout, "\n") {
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		size, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil {
			continue
		}
		backups = append(backups, models.RemoteBackup{
			Path:      parts[2],
			Name:      path.Base(parts[2]),
			SizeBytes: size,
			Modified:  parts[1],
		})
	}

	slices.SortFunc(backups, func(a, b models.RemoteBackup) int {
		return strings.Compare(b.Name, a.Name)
	})

	s.logger.Debug().Str("dir", backupDir).Int("count", len(backups)).Msg("listed remote backups")
	return backups, nil
}

// Exists reports whether remotePath is a regular file.
func (s *Impl) Exists(ctx context.Context, exec executor.CommandExecutor, remotePath string) (bool, error) {
	result, err := exec.Exec(ctx, command.New("test", "-f", remotePath), s.timeout)
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", remotePath, err)
	}
	return result.Success(), nil
}
