package models

import "time"

// SyncRequest holds the per-run choices of the caller.
type SyncRequest struct {
	Options      BackupOptions
	RemotePath   string // use an existing remote artifact instead of dumping
	DeleteRemote bool   // delete the remote artifact after download
	BackupOnly   bool   // stop after the remote artifact is verified
}

// SyncResult summarises a completed run.
type SyncResult struct {
	Artifact     BackupResult
	LocalPath    string
	Restored     bool
	FallbackUsed bool
	Duration     time.Duration
}
