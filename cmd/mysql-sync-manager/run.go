package main

import (
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/services/runner"
	"github.com/fgeck/mysql-sync-manager/internal/services/telegram"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	excludeTables []string
	skipRoutines  bool
	remotePath    string
	deleteRemote  bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Back up the remote database and restore it locally",
	Long: `Execute the complete sync workflow:
1. Wake-on-LAN (if configured)
2. Connect to the export host over SSH
3. Probe the export server and dump it with mysqldump (or use --remote-path)
4. Download the artifact (scp, falling back to SFTP)
5. Delete the remote artifact (if --delete-remote)
6. Decompress and import into the local server
7. Send Telegram notification (if configured)`,
	RunE: runSync,
}

func init() {
	addBackupFlags(runCmd)
	runCmd.Flags().StringVar(&remotePath, "remote-path", "", "restore this existing remote backup instead of creating one")
	runCmd.Flags().BoolVar(&deleteRemote, "delete-remote", false, "delete the remote backup after download")
}

func addBackupFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&excludeTables, "exclude", "e", nil, "table or view to leave out of the dump (repeatable)")
	cmd.Flags().BoolVar(&skipRoutines, "skip-routines", false, "do not dump stored procedures and functions")
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, profile, err := loadProfile()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	req := models.SyncRequest{
		Options:      models.NewBackupOptions(excludeTables, skipRoutines),
		RemotePath:   remotePath,
		DeleteRemote: deleteRemote,
	}

	result, err := runner.New(log.Logger, *cfg, newReporter()).Run(ctx, profile, req)
	if err != nil {
		log.Error().Err(err).Msg("sync failed")
		return err
	}

	log.Info().
		Str("artifact", result.Artifact.Path).
		Str("size", telegram.FormatBytes(result.Artifact.SizeBytes)).
		Str("database", profile.Import.Database).
		Bool("fallback_used", result.FallbackUsed).
		Dur("duration", result.Duration).
		Msg("sync completed successfully")
	return nil
}
