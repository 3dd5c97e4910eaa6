// Package config loads profile configuration files.
package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/fgeck/mysql-sync-manager/internal/errors"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/spf13/viper"
)

// DefaultPath is used when neither --config nor APP_CONFIG_PATH is given.
const DefaultPath = "/var/www/html/db_configs.yml"

// Defaults applied during parsing.
const (
	DefaultMySQLPort      = 3306
	DefaultSSHPort        = 22
	DefaultImportHost     = "mysql"
	DefaultMaxRetries     = 2
	DefaultInitialDelay   = time.Second
	DefaultMultiplier     = 2.0
	DefaultCommandTimeout = 2 * time.Hour
	DefaultWorkDir        = "."
)

// Profile variable names.
const (
	ExportHost      = "MYSQL_EXPORT_HOST"
	ExportPort      = "MYSQL_EXPORT_PORT"
	ExportDatabase  = "MYSQL_EXPORT_DATABASE"
	ExportUser      = "MYSQL_EXPORT_USER"
	ExportPassword  = "MYSQL_EXPORT_PASSWORD"
	ExportBackupDir = "MYSQL_EXPORT_BACKUP_DIR"
	ImportHost      = "MYSQL_IMPORT_HOST"
	ImportPort      = "MYSQL_IMPORT_PORT"
	ImportDatabase  = "MYSQL_IMPORT_DATABASE"
	ImportUser      = "MYSQL_IMPORT_USER"
	ImportPassword  = "MYSQL_IMPORT_PASSWORD"
	ImportProbe     = "MYSQL_IMPORT_PROBE"
	SSHHost         = "SSH_HOST"
	SSHPort         = "SSH_PORT"
	SSHUser         = "SSH_USER"
	SSHPassword     = "SSH_PASSWORD"
	SSHKeyPath      = "SSH_KEY_PATH"
)

var knownVariables = []string{
	ExportHost, ExportPort, ExportDatabase, ExportUser, ExportPassword, ExportBackupDir,
	ImportHost, ImportPort, ImportDatabase, ImportUser, ImportPassword, ImportProbe,
	SSHHost, SSHPort, SSHUser, SSHPassword, SSHKeyPath,
}

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")
	return &Parser{v: v}
}

// ResolvePath returns flagPath, else APP_CONFIG_PATH, else DefaultPath.
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if env := os.Getenv("APP_CONFIG_PATH"); env != "" {
		return env
	}
	return DefaultPath
}

// LoadFile loads configuration from a file path.
func (p *Parser) LoadFile(path string) (*models.SyncConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.SyncConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

func (p *Parser) parse() (*models.SyncConfig, error) {
	if !p.v.IsSet("configurations") {
		return nil, fmt.Errorf("missing 'configurations' key")
	}

	cfg := &models.SyncConfig{
		Profiles:       map[string]models.Profile{},
		CommandTimeout: DefaultCommandTimeout,
		WorkDir:        DefaultWorkDir,
		KeepLocal:      p.v.GetBool("keep_local"),
		Retry: models.RetrySettings{
			MaxRetries:   DefaultMaxRetries,
			InitialDelay: DefaultInitialDelay,
			Multiplier:   DefaultMultiplier,
		},
	}

	if p.v.IsSet("retry.max_retries") {
		cfg.Retry.MaxRetries = p.v.GetInt("retry.max_retries")
	}
	if p.v.IsSet("retry.initial_delay") {
		cfg.Retry.InitialDelay = p.v.GetDuration("retry.initial_delay")
	}
	if p.v.IsSet("retry.multiplier") {
		cfg.Retry.Multiplier = p.v.GetFloat64("retry.multiplier")
	}
	switch {
	case cfg.Retry.MaxRetries < 0:
		return nil, fmt.Errorf("retry.max_retries must not be negative")
	case cfg.Retry.InitialDelay < 0:
		return nil, fmt.Errorf("retry.initial_delay must not be negative")
	case cfg.Retry.Multiplier < 1:
		return nil, fmt.Errorf("retry.multiplier must be at least 1")
	}

	if p.v.IsSet("command_timeout") {
		cfg.CommandTimeout = p.v.GetDuration("command_timeout")
		if cfg.CommandTimeout <= 0 {
			return nil, fmt.Errorf("command_timeout must be positive")
		}
	}
	if dir := p.expandEnv(p.v.GetString("work_dir")); dir != "" {
		cfg.WorkDir = dir
	}

	if p.v.IsSet("telegram") {
		cfg.Telegram = &models.TelegramConfig{
			BotToken: p.expandEnv(p.v.GetString("telegram.bot_token")),
			ChatID:   p.expandEnv(p.v.GetString("telegram.chat_id")),
		}
		if cfg.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if cfg.Telegram.ChatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
	}

	for key := range p.v.GetStringMap("configurations") {
		profile, err := p.parseProfile(key)
		if err != nil {
			return nil, fmt.Errorf("configuration %q: %w", key, err)
		}
		cfg.Profiles[key] = profile
	}
	if len(cfg.Profiles) == 0 {
		return nil, fmt.Errorf("no configurations defined")
	}

	return cfg, nil
}

func (p *Parser) parseProfile(key string) (models.Profile, error) {
	prefix := "configurations." + key

	vars, err := p.variables(prefix + ".config")
	if err != nil {
		return models.Profile{}, err
	}

	profile := models.Profile{
		Key:  key,
		Name: p.v.GetString(prefix + ".name"),
	}
	if profile.Name == "" {
		profile.Name = key
	}

	var portErr error
	port := func(name string, def int) int {
		raw, ok := vars[name]
		if !ok {
			return def
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 65535 {
			portErr = apperrors.Validation(name, fmt.Sprintf("invalid port %q", raw))
		}
		return n
	}

	profile.Export = models.ExportSource{
		DBEndpoint: models.DBEndpoint{
			Host:     vars[ExportHost],
			Port:     port(ExportPort, DefaultMySQLPort),
			User:     vars[ExportUser],
			Password: vars[ExportPassword],
			Database: vars[ExportDatabase],
		},
		BackupDir: vars[ExportBackupDir],
	}

	importHost := vars[ImportHost]
	if importHost == "" {
		importHost = DefaultImportHost
	}
	profile.Import = models.ImportTarget{
		DBEndpoint: models.DBEndpoint{
			Host:     importHost,
			Port:     port(ImportPort, DefaultMySQLPort),
			User:     vars[ImportUser],
			Password: vars[ImportPassword],
			Database: vars[ImportDatabase],
		},
		Probe: models.ProbeCLI,
	}
	if mode, ok := vars[ImportProbe]; ok {
		switch models.ProbeMode(strings.ToLower(mode)) {
		case models.ProbeCLI:
		case models.ProbeSQL:
			profile.Import.Probe = models.ProbeSQL
		default:
			return models.Profile{}, apperrors.Validation(ImportProbe, "must be one of: cli, sql")
		}
	}

	profile.SSH = models.Credentials{
		Host:     vars[SSHHost],
		Port:     port(SSHPort, DefaultSSHPort),
		User:     vars[SSHUser],
		Password: vars[SSHPassword],
		KeyPath:  vars[SSHKeyPath],
	}
	if portErr != nil {
		return models.Profile{}, portErr
	}

	if p.v.IsSet(prefix + ".wol") {
		wol, err := p.parseWOL(prefix+".wol", profile.SSH)
		if err != nil {
			return models.Profile{}, err
		}
		profile.WOL = wol
	}

	return profile, nil
}

// variables reads the upper-case variable map under key. Unset (null)
// values are skipped; explicitly empty values are rejected.
func (p *Parser) variables(key string) (map[string]string, error) {
	raw, ok := p.v.Get(key).(map[string]any)
	if !ok {
		return nil, fmt.Errorf("missing 'config' section")
	}

	vars := make(map[string]string, len(raw))
	for name, value := range raw {
		name = strings.ToUpper(name)
		if !slices.Contains(knownVariables, name) {
			return nil, apperrors.Validation(name, "unknown configuration variable")
		}

		var s string
		switch v := value.(type) {
		case nil:
			continue
		case string:
			s = v
		default:
			s = fmt.Sprint(v)
		}
		s = p.expandEnv(s)
		if strings.TrimSpace(s) == "" {
			return nil, apperrors.Validation(name, "configuration value cannot be empty")
		}
		vars[name] = s
	}
	return vars, nil
}

func (p *Parser) parseWOL(prefix string, ssh models.Credentials) (*models.WOLConfig, error) {
	wol := &models.WOLConfig{
		MACAddress:    p.v.GetString(prefix + ".mac_address"),
		BroadcastIP:   p.v.GetString(prefix + ".broadcast_ip"),
		TargetAddr:    p.v.GetString(prefix + ".target_addr"),
		Timeout:       p.v.GetDuration(prefix + ".timeout"),
		PollInterval:  p.v.GetDuration(prefix + ".poll_interval"),
		StabilizeWait: p.v.GetDuration(prefix + ".stabilize_wait"),
	}

	if wol.MACAddress == "" {
		return nil, fmt.Errorf("wol.mac_address is required when wol is configured")
	}
	if wol.BroadcastIP == "" {
		wol.BroadcastIP = "255.255.255.255"
	}
	if wol.TargetAddr == "" && ssh.Host != "" {
		wol.TargetAddr = ssh.Addr()
	}
	if wol.Timeout == 0 {
		wol.Timeout = 5 * time.Minute
	}
	if wol.PollInterval == 0 {
		wol.PollInterval = 10 * time.Second
	}
	if wol.StabilizeWait == 0 {
		wol.StabilizeWait = 10 * time.Second
	}
	return wol, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate reports every missing required variable of profile in one error.
func Validate(profile models.Profile) error {
	required := []struct {
		name  string
		value string
	}{
		{ExportHost, profile.Export.Host},
		{ExportDatabase, profile.Export.Database},
		{ExportUser, profile.Export.User},
		{ExportPassword, profile.Export.Password},
		{ExportBackupDir, profile.Export.BackupDir},
		{ImportDatabase, profile.Import.Database},
		{ImportUser, profile.Import.User},
		{ImportPassword, profile.Import.Password},
		{SSHHost, profile.SSH.Host},
		{SSHUser, profile.SSH.User},
	}

	var missing []string
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if profile.SSH.Password == "" && profile.SSH.KeyPath == "" {
		missing = append(missing, SSHPassword+" or "+SSHKeyPath)
	}

	if len(missing) > 0 {
		return apperrors.Validation(strings.Join(missing, ", "), "missing required variables")
	}
	if profile.SSH.Password != "" && profile.SSH.KeyPath != "" {
		return apperrors.Validation(SSHKeyPath, "only one of SSH_PASSWORD and SSH_KEY_PATH may be set")
	}
	return nil
}

// SelectProfile returns the profile named key. An empty key selects the
// only profile when exactly one is configured.
func SelectProfile(cfg *models.SyncConfig, key string) (models.Profile, error) {
	if key == "" {
		if len(cfg.Profiles) == 1 {
			for _, profile := range cfg.Profiles {
				return profile, nil
			}
		}
		return models.Profile{}, fmt.Errorf("multiple configurations available, choose one with --profile: %s",
			strings.Join(cfg.ProfileKeys(), ", "))
	}

	profile, ok := cfg.Profiles[strings.ToLower(key)]
	if !ok {
		return models.Profile{}, fmt.Errorf("unknown configuration %q (available: %s)",
			key, strings.Join(cfg.ProfileKeys(), ", "))
	}
	return profile, nil
}
