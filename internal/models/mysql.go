package models

import (
	"slices"
	"time"
)

// ProbeMode selects how the import server is queried.
type ProbeMode string

// Probe modes.
const (
	ProbeCLI ProbeMode = "cli" // mysql client, batch mode
	ProbeSQL ProbeMode = "sql" // database/sql driver
)

// DBEndpoint addresses one database on a MySQL server.
type DBEndpoint struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
}

// ExportSource is the database dumped on the remote host.
type ExportSource struct {
	DBEndpoint
	BackupDir string
}

// ImportTarget is the local database receiving the restore.
//
// ForceBasic and FallbackAttempted are transient markers set by a restore
// fallback and cleared when a restore succeeds.
type ImportTarget struct {
	DBEndpoint
	Probe             ProbeMode
	ForceBasic        bool
	FallbackAttempted bool
}

// ClearFallback removes the transient fallback markers.
func (t *ImportTarget) ClearFallback() {
	t.ForceBasic = false
	t.FallbackAttempted = false
}

// ServerCapabilities is the result of one probe. Never cached.
type ServerCapabilities struct {
	Version           string
	MajorVersion      int
	VersionKnown      bool
	ElevatedPrivilege bool
	CharacterSet      string
	Collation         string
	MaxAllowedPacket  int64
	WaitTimeout       int64
	DatabaseSizeMB    float64
	SizeKnown         bool
}

// BackupOptions selects what a dump contains. Immutable once built.
type BackupOptions struct {
	excluded     []string
	skipRoutines bool
}

// NewBackupOptions builds options from excluded object names; duplicates
// and empty names are dropped and the result is sorted.
func NewBackupOptions(excluded []string, skipRoutines bool) BackupOptions {
	names := make([]string, 0, len(excluded))
	for _, name := range excluded {
		if name != "" {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return BackupOptions{
		excluded:     slices.Compact(names),
		skipRoutines: skipRoutines,
	}
}

// Excluded returns a copy of the excluded object names.
func (o BackupOptions) Excluded() []string {
	return slices.Clone(o.excluded)
}

// SkipRoutines reports whether stored routines are left out of the dump.
func (o BackupOptions) SkipRoutines() bool {
	return o.skipRoutines
}

// DumpPlan is the mysqldump invocation derived from capabilities and options.
type DumpPlan struct {
	Database string
	Flags    []string
}

// BackupResult describes a verified remote artifact.
type BackupResult struct {
	Path      string
	SizeBytes int64
	Duration  time.Duration
}

// RemoteBackup is one artifact found in the export backup directory.
type RemoteBackup struct {
	Path      string
	Name      string
	SizeBytes int64
	Modified  string
}

// SessionInitCommand relaxes per-session checks and binary logging during
// dump and restore. Only sent when the account holds elevated privileges.
const SessionInitCommand = "SET SESSION FOREIGN_KEY_CHECKS=0; SET SESSION UNIQUE_CHECKS=0; " +
	"SET SESSION SQL_MODE='NO_AUTO_VALUE_ON_ZERO'; SET SESSION sql_log_bin=0;"

// RestoreResult describes a completed import.
type RestoreResult struct {
	Attempts     int
	FallbackUsed bool
	Duration     time.Duration
}
