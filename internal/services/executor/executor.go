// Package executor runs command lines and classifies their outcome.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/rs/zerolog"
)

// ErrTimeout is returned when a command outlives its timeout. Output of a
// timed out command is discarded.
var ErrTimeout = errors.New("command timed out")

// CommandExecutor runs a command and reports exit code and output.
// A non-zero exit is not an error; failing to run the command, or a timeout, is.
type CommandExecutor interface {
	Exec(ctx context.Context, cmd command.Command, timeout time.Duration) (*models.ExecResult, error)
}

// ExitError is a command that ran and exited non-zero.
type ExitError struct {
	Program  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s exited with status %d", e.Program, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Run executes cmd and turns a non-zero exit into an *ExitError.
func Run(ctx context.Context, e CommandExecutor, cmd command.Command, timeout time.Duration) (*models.ExecResult, error) {
	result, err := e.Exec(ctx, cmd, timeout)
	if err != nil {
		return nil, err
	}
	if !result.Success() {
		return result, &ExitError{Program: cmd.Program, ExitCode: result.ExitCode, Stderr: result.Stderr}
	}
	return result, nil
}

// Local runs commands on this machine without a shell.
type Local struct {
	logger zerolog.Logger
}

// NewLocal creates a local executor.
func NewLocal(logger zerolog.Logger) *Local {
	return &Local{logger: logger}
}

// Exec runs cmd, wiring StdinFile and StdoutFile when set.
func (e *Local) Exec(ctx context.Context, cmd command.Command, timeout time.Duration) (*models.ExecResult, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	e.logger.Debug().Str("command", cmd.Redacted()).Dur("timeout", timeout).Msg("executing local command")

	c := exec.CommandContext(ctx, cmd.Program, cmd.Args...) //nolint:gosec // program and args are built by the planner
	c.Env = append(os.Environ(), cmd.Env...)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	if cmd.StdinFile != "" {
		in, err := os.Open(cmd.StdinFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open input file: %w", err)
		}
		defer func() { _ = in.Close() }()
		c.Stdin = in
	}

	if cmd.StdoutFile != "" {
		out, err := os.Create(cmd.StdoutFile) //nolint:gosec // output path is controlled by caller
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() { _ = out.Close() }()
		c.Stdout = out
	}

	start := time.Now()
	err := c.Run()
	result := &models.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%s: %w after %s", cmd.Program, ErrTimeout, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run %s: %w", cmd.Program, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	return result, nil
}
