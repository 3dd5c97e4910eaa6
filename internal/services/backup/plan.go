package backup

import (
	"github.com/fgeck/mysql-sync-manager/internal/models"
)

// gtidMinMajorVersion gates --set-gtid-purged and --master-data.
const gtidMinMajorVersion = 5

var baseDumpFlags = []string{
	"--single-transaction",
	"--quick",
	"--opt",
	"--skip-lock-tables",
	"--set-charset",
	"--default-character-set=utf8mb4",
}

var elevatedDumpFlags = []string{
	"--max-allowed-packet=512M",
	"--net-buffer-length=32768",
	"--set-variable=net_buffer_length=32768",
	"--init-command=" + models.SessionInitCommand,
}

var versionDumpFlags = []string{
	"--set-gtid-purged=OFF",
	"--master-data=2",
}

// Plan composes the mysqldump flags for database. It is a pure function of
// its inputs.
func Plan(caps models.ServerCapabilities, opts models.BackupOptions, database string) models.DumpPlan {
	flags := append([]string(nil), baseDumpFlags...)

	if caps.ElevatedPrivilege {
		flags = append(flags, elevatedDumpFlags...)
	}

	if caps.VersionKnown && caps.MajorVersion >= gtidMinMajorVersion {
		flags = append(flags, versionDumpFlags...)
	}

	if !opts.SkipRoutines() {
		flags = append(flags, "--routines")
	}

	for _, object := range opts.Excluded() {
		flags = append(flags, "--ignore-table="+database+"."+object)
	}

	return models.DumpPlan{
		Database: database,
		Flags:    flags,
	}
}
