package models

import "time"

// WOLConfig holds Wake-on-LAN configuration for the export host.
type WOLConfig struct {
	MACAddress    string
	BroadcastIP   string
	TargetAddr    string        // host:port polled until it accepts TCP connections
	Timeout       time.Duration // max time to wait for target
	PollInterval  time.Duration // how often to dial the target
	StabilizeWait time.Duration // wait after target responds
}

// WOLResult holds the result of a Wake-on-LAN operation.
type WOLResult struct {
	PacketSent   bool
	TargetReady  bool
	WaitDuration time.Duration
	Error        error
}
