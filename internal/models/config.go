// Package models contains the data structures used throughout mysql-sync-manager.
package models

import (
	"slices"
	"time"
)

// SyncConfig holds the complete configuration file.
type SyncConfig struct {
	Profiles       map[string]Profile
	Retry          RetrySettings
	CommandTimeout time.Duration
	WorkDir        string          // local directory receiving downloaded artifacts
	KeepLocal      bool            // keep downloaded and extracted files after restore
	Telegram       *TelegramConfig // nil if not configured
}

// Profile is one named export/import pairing.
type Profile struct {
	Key    string
	Name   string
	Export ExportSource
	Import ImportTarget
	SSH    Credentials
	WOL    *WOLConfig // nil if not configured
}

// RetrySettings configures the exponential backoff policy.
type RetrySettings struct {
	MaxRetries   int
	InitialDelay time.Duration
	Multiplier   float64
}

// ProfileKeys returns the profile keys in sorted order.
func (c *SyncConfig) ProfileKeys() []string {
	keys := make([]string, 0, len(c.Profiles))
	for k := range c.Profiles {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
