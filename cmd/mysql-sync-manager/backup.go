package main

import (
	"fmt"

	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/services/runner"
	"github.com/fgeck/mysql-sync-manager/internal/services/telegram"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create a backup on the export host without restoring it",
	Long: `Connect to the export host, dump the database into MYSQL_EXPORT_BACKUP_DIR
and print the artifact path. Nothing is downloaded or imported.`,
	RunE: runBackupOnly,
}

func init() {
	addBackupFlags(backupCmd)
}

func runBackupOnly(cmd *cobra.Command, args []string) error {
	cfg, profile, err := loadProfile()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	req := models.SyncRequest{
		Options:    models.NewBackupOptions(excludeTables, skipRoutines),
		BackupOnly: true,
	}

	result, err := runner.New(log.Logger, *cfg, newReporter()).Run(ctx, profile, req)
	if err != nil {
		log.Error().Err(err).Msg("backup failed")
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", result.Artifact.Path, telegram.FormatBytes(result.Artifact.SizeBytes))
	return nil
}
