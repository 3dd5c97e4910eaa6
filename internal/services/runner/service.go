// Package runner orchestrates the sync workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	apperrors "github.com/fgeck/mysql-sync-manager/internal/errors"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/progress"
	"github.com/fgeck/mysql-sync-manager/internal/retry"
	"github.com/fgeck/mysql-sync-manager/internal/services/backup"
	"github.com/fgeck/mysql-sync-manager/internal/services/executor"
	"github.com/fgeck/mysql-sync-manager/internal/services/probe"
	"github.com/fgeck/mysql-sync-manager/internal/services/restore"
	"github.com/fgeck/mysql-sync-manager/internal/services/ssh"
	"github.com/fgeck/mysql-sync-manager/internal/services/telegram"
	"github.com/fgeck/mysql-sync-manager/internal/services/transfer"
	"github.com/fgeck/mysql-sync-manager/internal/services/wol"
	"github.com/rs/zerolog"
)

// Workflow steps reported on failure.
const (
	StepWOL      = "wol"
	StepConnect  = "connect"
	StepBackup   = "backup"
	StepDownload = "download"
	StepExtract  = "extract"
	StepRestore  = "restore"
)

// Service defines the interface for the sync runner.
type Service interface {
	Run(ctx context.Context, profile models.Profile, req models.SyncRequest) (*models.SyncResult, error)
	List(ctx context.Context, profile models.Profile) ([]models.RemoteBackup, error)
}

// Services bundles the collaborators of a run.
type Services struct {
	WOL      wol.Service
	SSH      ssh.Service
	Probe    probe.Service
	Backup   backup.Service
	Transfer transfer.Service
	Restore  restore.Service
	Telegram telegram.Service
}

// Impl implements the runner Service interface.
type Impl struct {
	cfg    models.SyncConfig
	svc    Services
	policy *retry.Policy
	logger zerolog.Logger
}

// New creates a new runner wired to the real services.
func New(logger zerolog.Logger, cfg models.SyncConfig, reporter progress.Reporter) *Impl {
	policy := retry.New(logger, cfg.Retry)
	prober := probe.New(logger, policy)

	return NewWithServices(logger, cfg, policy, Services{
		WOL:      wol.New(logger),
		SSH:      ssh.New(logger),
		Probe:    prober,
		Backup:   backup.New(logger, policy, reporter, cfg.CommandTimeout),
		Transfer: transfer.New(logger, reporter, cfg.CommandTimeout),
		Restore:  restore.New(logger, executor.NewLocal(logger), prober, reporter, cfg.CommandTimeout),
		Telegram: telegram.New(logger),
	})
}

// NewWithServices creates a new runner with custom services (for testing).
func NewWithServices(logger zerolog.Logger, cfg models.SyncConfig, policy *retry.Policy, svc Services) *Impl {
	return &Impl{
		cfg:    cfg,
		svc:    svc,
		policy: policy,
		logger: logger,
	}
}

// Run executes one sync: wake, connect, back up (or pick an existing
// artifact), download, extract and restore. The SSH session is closed and
// local files are cleaned up on every exit path.
//
//nolint:gocognit,gocyclo // sync workflow has multiple steps by design
func (s *Impl) Run(ctx context.Context, profile models.Profile, req models.SyncRequest) (*models.SyncResult, error) {
	startTime := time.Now()
	result := &models.SyncResult{}
	var failedStep string
	var runErr error

	s.logger.Info().
		Str("profile", profile.Key).
		Str("host", profile.SSH.Host).
		Str("database", profile.Export.Database).
		Bool("backup_only", req.BackupOnly).
		Msg("starting sync run")

	defer func() {
		if s.cfg.Telegram != nil {
			s.sendNotification(context.WithoutCancel(ctx), profile, result, startTime, failedStep, runErr)
		}
	}()

	fail := func(step string, err error) (*models.SyncResult, error) {
		failedStep, runErr = step, err
		s.logger.Error().Err(err).Str("step", step).Msg("sync run failed")
		return nil, err
	}

	if profile.WOL != nil {
		if err := s.runWOL(ctx, profile.WOL); err != nil {
			return fail(StepWOL, err)
		}
	}

	sess, err := s.connect(ctx, profile.SSH)
	if err != nil {
		return fail(StepConnect, err)
	}
	defer func() { _ = sess.Close() }()

	artifact, err := s.remoteArtifact(ctx, sess, profile, req)
	if err != nil {
		return fail(StepBackup, err)
	}
	result.Artifact = *artifact

	if req.BackupOnly {
		result.Duration = time.Since(startTime)
		s.logger.Info().
			Str("artifact", artifact.Path).
			Dur("duration", result.Duration).
			Msg("backup run completed successfully")
		return result, nil
	}

	var localFiles []string
	if !s.cfg.KeepLocal {
		defer func() { s.cleanup(localFiles) }()
	}

	localPath, ok := s.svc.Transfer.Fetch(ctx, sess, artifact.Path, s.cfg.WorkDir)
	if !ok {
		return fail(StepDownload, apperrors.Network(sess.Host(), "download", fmt.Errorf("could not fetch %s", artifact.Path)))
	}
	localFiles = append(localFiles, localPath)
	if result.Artifact.SizeBytes == 0 {
		if info, err := os.Stat(localPath); err == nil {
			result.Artifact.SizeBytes = info.Size()
		}
	}

	if req.DeleteRemote {
		if err := s.svc.Transfer.Delete(ctx, sess, artifact.Path); err != nil {
			s.logger.Warn().Err(err).Msg("failed to delete remote backup")
		}
	}

	sqlPath, err := s.svc.Transfer.Extract(localPath)
	if err != nil {
		return fail(StepExtract, err)
	}
	if sqlPath != localPath {
		localFiles = append(localFiles, sqlPath)
	}
	result.LocalPath = sqlPath

	target := profile.Import
	restored, err := s.svc.Restore.Restore(ctx, sqlPath, &target)
	if err != nil {
		return fail(StepRestore, err)
	}
	result.Restored = true
	result.FallbackUsed = restored.FallbackUsed
	result.Duration = time.Since(startTime)

	s.logger.Info().
		Str("database", profile.Import.Database).
		Bool("fallback_used", result.FallbackUsed).
		Dur("duration", result.Duration).
		Msg("sync run completed successfully")

	return result, nil
}

// List returns the backups available in the profile's export directory.
func (s *Impl) List(ctx context.Context, profile models.Profile) ([]models.RemoteBackup, error) {
	sess, err := s.connect(ctx, profile.SSH)
	if err != nil {
		return nil, err
	}
	defer func() { _ = sess.Close() }()

	return s.svc.Backup.List(ctx, sess, profile.Export.BackupDir)
}

// connect retries transient network failures. Validation, authentication
// and name resolution failures end the attempt immediately.
func (s *Impl) connect(ctx context.Context, creds models.Credentials) (ssh.RemoteSession, error) {
	var sess ssh.RemoteSession
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.svc.SSH.Establish(ctx, creds)
		if err != nil && !retryableConnect(err) {
			return retry.Stop(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func retryableConnect(err error) bool {
	return apperrors.IsKind(err, apperrors.KindNetwork) && apperrors.Stage(err) != "resolve"
}

func (s *Impl) remoteArtifact(
	ctx context.Context,
	sess ssh.RemoteSession,
	profile models.Profile,
	req models.SyncRequest,
) (*models.BackupResult, error) {
	if req.RemotePath != "" {
		ok, err := s.svc.Backup.Exists(ctx, sess, req.RemotePath)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperrors.Validation("remote-path", fmt.Sprintf("no backup at %s", req.RemotePath))
		}
		s.logger.Info().Str("artifact", req.RemotePath).Msg("using existing remote backup")
		return &models.BackupResult{Path: req.RemotePath}, nil
	}

	export := profile.Export
	q := probe.NewCLIQuerier(sess, export.DBEndpoint, s.cfg.CommandTimeout)
	caps := s.svc.Probe.Probe(ctx, q, export.Database, probe.Options{})

	if excluded := req.Options.Excluded(); len(excluded) > 0 {
		s.checkExcluded(ctx, q, export.Database, excluded)
	}

	plan := backup.Plan(caps, req.Options, export.Database)
	return s.svc.Backup.Run(ctx, sess, plan, export)
}

func (s *Impl) checkExcluded(ctx context.Context, q probe.Querier, database string, excluded []string) {
	tables, err := s.svc.Probe.ListTables(ctx, q, database)
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not list tables to check exclusions")
		return
	}
	for _, name := range excluded {
		if !slices.Contains(tables, name) {
			s.logger.Warn().Str("table", name).Str("database", database).Msg("excluded table does not exist")
		}
	}
}

func (s *Impl) runWOL(ctx context.Context, cfg *models.WOLConfig) error {
	result, err := s.svc.WOL.Wake(ctx, *cfg)
	if err != nil {
		return fmt.Errorf("WOL failed: %w", err)
	}
	if result.Error != nil {
		return fmt.Errorf("WOL failed: %w", result.Error)
	}
	if !result.TargetReady {
		return errors.New("export host did not become ready after WOL")
	}

	s.logger.Info().
		Bool("packet_sent", result.PacketSent).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")
	return nil
}

func (s *Impl) cleanup(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn().Err(err).Str("path", p).Msg("failed to remove local file")
			continue
		}
		s.logger.Debug().Str("path", p).Msg("removed local file")
	}
}

func (s *Impl) sendNotification(
	ctx context.Context,
	profile models.Profile,
	result *models.SyncResult,
	startTime time.Time,
	failedStep string,
	runErr error,
) {
	msg := models.TelegramMessage{
		Success:   runErr == nil,
		Profile:   profile.Name,
		Host:      profile.SSH.Host,
		Database:  profile.Export.Database,
		StartTime: startTime,
		Duration:  time.Since(startTime),
	}
	if runErr != nil {
		msg.FailedStep = failedStep
		msg.ErrorMessage = runErr.Error()
	} else {
		msg.ArtifactPath = result.Artifact.Path
		msg.ArtifactSize = result.Artifact.SizeBytes
		msg.Restored = result.Restored
		msg.FallbackUsed = result.FallbackUsed
	}

	sent, err := s.svc.Telegram.SendNotification(ctx, *s.cfg.Telegram, msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to send Telegram notification")
		return
	}
	if sent.Error != nil {
		s.logger.Error().Err(sent.Error).Msg("failed to send Telegram notification")
	}
}
