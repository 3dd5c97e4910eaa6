// Package probe discovers the version, privilege level and size of a MySQL server.
package probe

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/retry"
	"github.com/rs/zerolog"
)

// elevatedMarkers are matched by substring against upper-cased grant text.
var elevatedMarkers = []string{
	"SUPER",
	"SYSTEM_VARIABLES_ADMIN",
	"SESSION_VARIABLES_ADMIN",
	"ALL PRIVILEGES",
	"GRANT ALL",
	"GRANT ALL PRIVILEGES",
	"ALL ON *.*",
	"GRANT ALL ON *.*",
}

// Statements issued by a probe.
const (
	versionQuery   = "SELECT VERSION()"
	variablesQuery = "SHOW VARIABLES WHERE Variable_name IN " +
		"('character_set_server', 'collation_server', 'max_allowed_packet', 'wait_timeout')"
	grantsQuery = "SHOW GRANTS"
)

// Options adjust a probe.
type Options struct {
	// ForceBasic discards the probed privilege level.
	ForceBasic bool
	// Quiet suppresses the server details log line.
	Quiet bool
}

// Service defines the interface for probing MySQL servers.
type Service interface {
	Probe(ctx context.Context, q Querier, database string, opts Options) models.ServerCapabilities
	ListTables(ctx context.Context, q Querier, database string) ([]string, error)
}

// Impl implements the probe Service interface.
type Impl struct {
	policy *retry.Policy
	logger zerolog.Logger
}

// New creates a new probe service.
func New(logger zerolog.Logger, policy *retry.Policy) *Impl {
	return &Impl{
		policy: policy,
		logger: logger,
	}
}

// Probe never fails: a query that keeps failing leaves its fields unknown
// and, for grants, the privilege basic.
func (s *Impl) Probe(ctx context.Context, q Querier, database string, opts Options) models.ServerCapabilities {
	caps := models.ServerCapabilities{}

	if out, ok := s.query(ctx, q, "version", versionQuery); ok {
		caps.Version = firstLine(out)
		caps.MajorVersion, caps.VersionKnown = parseMajorVersion(caps.Version)
	}

	if out, ok := s.query(ctx, q, "variables", variablesQuery); ok {
		applyVariables(&caps, out)
	}

	if out, ok := s.query(ctx, q, "grants", grantsQuery); ok {
		caps.ElevatedPrivilege = hasElevatedGrant(out)
	}

	if database != "" {
		if out, ok := s.query(ctx, q, "size", sizeQuery(database)); ok {
			caps.DatabaseSizeMB, caps.SizeKnown = parseSize(out)
		}
	}

	if opts.ForceBasic {
		caps.ElevatedPrivilege = false
	}

	if !opts.Quiet {
		event := s.logger.Info().
			Str("database", database).
			Str("version", caps.Version).
			Bool("elevated", caps.ElevatedPrivilege).
			Bool("force_basic", opts.ForceBasic).
			Str("charset", caps.CharacterSet).
			Str("collation", caps.Collation).
			Int64("max_allowed_packet", caps.MaxAllowedPacket).
			Int64("wait_timeout", caps.WaitTimeout)
		if caps.SizeKnown {
			event = event.Float64("size_mb", caps.DatabaseSizeMB)
		}
		event.Msg("server details")
	}

	return caps
}

// ListTables returns the base tables of database.
func (s *Impl) ListTables(ctx context.Context, q Querier, database string) ([]string, error) {
	query := fmt.Sprintf("SHOW FULL TABLES FROM %s WHERE Table_type = 'BASE TABLE'", quoteIdent(database))

	var out string
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = q.Query(ctx, query)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of %s: %w", database, err)
	}

	var tables []string
	for _, line := range strings.Split(out, "\n") {
		name, _, _ := strings.Cut(line, "\t")
		if name = strings.TrimSpace(name); name != "" {
			tables = append(tables, name)
		}
	}
	return tables, nil
}

func (s *Impl) query(ctx context.Context, q Querier, name, query string) (string, bool) {
	var out string
	err := s.policy.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = q.Query(ctx, query)
		return err
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("query", name).Msg("probe query failed, treating as unknown")
		return "", false
	}
	return out, true
}

func sizeQuery(database string) string {
	return "SELECT ROUND(SUM(data_length + index_length) / 1024 / 1024, 1) " +
		"FROM information_schema.tables WHERE table_schema = " + quoteLiteral(database)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}

// parseMajorVersion treats the segment before the first dot as the major version.
func parseMajorVersion(version string) (int, bool) {
	head, _, _ := strings.Cut(version, ".")
	major, err := strconv.Atoi(strings.TrimSpace(head))
	if err != nil || major < 0 {
		return 0, false
	}
	return major, true
}

func applyVariables(caps *models.ServerCapabilities, out string) {
	for _, line := range strings.Split(out, "\n") {
		name, value, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "character_set_server":
			caps.CharacterSet = value
		case "collation_server":
			caps.Collation = value
		case "max_allowed_packet":
			caps.MaxAllowedPacket, _ = strconv.ParseInt(value, 10, 64)
		case "wait_timeout":
			caps.WaitTimeout, _ = strconv.ParseInt(value, 10, 64)
		}
	}
}

func hasElevatedGrant(grants string) bool {
	upper := strings.ToUpper(grants)
	for _, marker := range elevatedMarkers {
		if strings.Contains(upper, marker) {
			return true
		}
	}
	return false
}

func parseSize(out string) (float64, bool) {
	size, err := strconv.ParseFloat(firstLine(out), 64)
	if err != nil {
		return 0, false
	}
	return size, true
}

func quoteLiteral(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}
