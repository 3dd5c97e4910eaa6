package models

import (
	"net"
	"strconv"
	"time"
)

// Credentials identify the SSH endpoint of the export server.
type Credentials struct {
	Host     string
	Port     int
	User     string
	Password string // exactly one of Password and KeyPath
	KeyPath  string
}

// Addr returns host:port.
func (c Credentials) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ExecResult holds the outcome of one executed command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Success reports whether the command exited with status 0.
func (r *ExecResult) Success() bool {
	return r != nil && r.ExitCode == 0
}
