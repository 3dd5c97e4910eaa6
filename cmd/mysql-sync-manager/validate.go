package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/fgeck/mysql-sync-manager/internal/config"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	Long: `Validate the configuration file without connecting anywhere. Every
configuration is checked unless --profile selects one.`,
	RunE: validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	keys := cfg.ProfileKeys()
	if profileKey != "" {
		profile, err := config.SelectProfile(cfg, profileKey)
		if err != nil {
			return err
		}
		keys = []string{profile.Key}
	}

	out := cmd.OutOrStdout()
	ok := color.New(color.FgGreen, color.Bold)
	bad := color.New(color.FgRed, color.Bold)
	header := color.New(color.Bold)

	header.Fprintf(out, "Configuration file: %s\n", path)
	fmt.Fprintf(out, "  Retry: %d retries, initial delay %s, multiplier %.1f\n",
		cfg.Retry.MaxRetries, cfg.Retry.InitialDelay, cfg.Retry.Multiplier)
	fmt.Fprintf(out, "  Command timeout: %s\n", cfg.CommandTimeout)
	fmt.Fprintf(out, "  Work directory: %s (keep files: %v)\n", cfg.WorkDir, cfg.KeepLocal)
	fmt.Fprintf(out, "  Telegram: %v\n", cfg.Telegram != nil)

	var invalid int
	for _, key := range keys {
		profile := cfg.Profiles[key]
		fmt.Fprintln(out)
		if err := config.Validate(profile); err != nil {
			invalid++
			bad.Fprintf(out, "✗ %s (%s)\n", profile.Name, key)
			fmt.Fprintf(out, "  %v\n", err)
			continue
		}
		ok.Fprintf(out, "✓ %s (%s)\n", profile.Name, key)
		printProfile(out, profile)
	}

	if invalid > 0 {
		return fmt.Errorf("%d of %d configurations are invalid", invalid, len(keys))
	}
	return nil
}

func printProfile(out io.Writer, p models.Profile) {
	sshAuth := "password"
	if p.SSH.KeyPath != "" {
		sshAuth = "key " + p.SSH.KeyPath
	}
	fmt.Fprintf(out, "  SSH:    %s@%s (%s)\n", p.SSH.User, p.SSH.Addr(), sshAuth)
	fmt.Fprintf(out, "  Export: %s@%s:%d/%s -> %s\n",
		p.Export.User, p.Export.Host, p.Export.Port, p.Export.Database, p.Export.BackupDir)
	fmt.Fprintf(out, "  Import: %s@%s:%d/%s (probe: %s)\n",
		p.Import.User, p.Import.Host, p.Import.Port, p.Import.Database, p.Import.Probe)
	if p.WOL != nil {
		fmt.Fprintf(out, "  WOL:    %s via %s, waiting for %s\n", p.WOL.MACAddress, p.WOL.BroadcastIP, p.WOL.TargetAddr)
	}
}
