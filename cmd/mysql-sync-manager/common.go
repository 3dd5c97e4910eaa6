package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/mysql-sync-manager/internal/config"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/progress"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// loadConfig parses the configuration file named by --config.
func loadConfig() (*models.SyncConfig, string, error) {
	path := config.ResolvePath(configFile)
	cfg, err := config.NewParser().LoadFile(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("failed to load config")
		return nil, path, err
	}
	return cfg, path, nil
}

// loadProfile loads the configuration and returns the validated profile
// selected by --profile.
func loadProfile() (*models.SyncConfig, models.Profile, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, models.Profile{}, err
	}

	profile, err := config.SelectProfile(cfg, profileKey)
	if err != nil {
		log.Error().Err(err).Msg("no configuration selected")
		return nil, models.Profile{}, err
	}

	if err := config.Validate(profile); err != nil {
		log.Error().Err(err).Str("profile", profile.Key).Msg("invalid configuration")
		return nil, models.Profile{}, err
	}

	log.Info().
		Str("config", path).
		Str("profile", profile.Key).
		Str("host", profile.SSH.Host).
		Msg("configuration loaded")

	return cfg, profile, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigChan)
	}()

	return ctx, cancel
}

// newReporter animates stages on an interactive terminal and logs them
// otherwise.
func newReporter() progress.Reporter {
	if !jsonOutput && !quiet && term.IsTerminal(int(os.Stderr.Fd())) { //nolint:gosec // fd fits in int
		return progress.NewSpinner(os.Stderr)
	}
	return progress.NewLogReporter(log.Logger)
}
