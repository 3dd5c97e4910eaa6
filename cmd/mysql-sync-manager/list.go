package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/fgeck/mysql-sync-manager/internal/services/runner"
	"github.com/fgeck/mysql-sync-manager/internal/services/telegram"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups available on the export host",
	Long: `List the .sql.gz and .sql files in MYSQL_EXPORT_BACKUP_DIR, newest first.
Any of the listed paths can be restored with "run --remote-path".`,
	RunE: listBackups,
}

func listBackups(cmd *cobra.Command, args []string) error {
	cfg, profile, err := loadProfile()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	backups, err := runner.New(log.Logger, *cfg, newReporter()).List(ctx, profile)
	if err != nil {
		log.Error().Err(err).Msg("failed to list backups")
		return err
	}

	out := cmd.OutOrStdout()
	bold := color.New(color.Bold)
	dim := color.New(color.FgHiBlack)

	if len(backups) == 0 {
		color.New(color.FgYellow).Fprintf(out, "No backups found in %s\n", profile.Export.BackupDir)
		return nil
	}

	bold.Fprintf(out, "Backups in %s on %s\n\n", profile.Export.BackupDir, profile.SSH.Host)
	for i, b := range backups {
		fmt.Fprintf(out, "%3d. %s  %s  %s\n",
			i+1,
			color.CyanString("%-45s", b.Name),
			fmt.Sprintf("%10s", telegram.FormatBytes(b.SizeBytes)),
			dim.Sprint(b.Modified))
	}
	return nil
}
