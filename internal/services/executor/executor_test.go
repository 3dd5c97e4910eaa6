package executor

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestLocalExec_CapturesOutput(t *testing.T) {
	e := NewLocal(testLogger())

	result, err := e.Exec(context.Background(), command.New("sh", "-c", "echo out; echo err >&2"), time.Second*5)

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "out\n", result.Stdout)
	assert.Equal(t, "err\n", result.Stderr)
}

func TestLocalExec_NonZeroExitIsNotError(t *testing.T) {
	e := NewLocal(testLogger())

	result, err := e.Exec(context.Background(), command.New("sh", "-c", "exit 3"), 0)

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.False(t, result.Success())
}

func TestLocalExec_PassesEnv(t *testing.T) {
	e := NewLocal(testLogger())
	cmd := command.New("sh", "-c", `printf %s "$MYSQL_PWD"`).WithEnv("MYSQL_PWD", "secret")

	result, err := e.Exec(context.Background(), cmd, 0)

	require.NoError(t, err)
	assert.Equal(t, "secret", result.Stdout)
}

func TestLocalExec_Redirections(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.sql")
	out := filepath.Join(dir, "out.sql")
	require.NoError(t, os.WriteFile(in, []byte("CREATE TABLE t (id INT);\n"), 0o600))

	e := NewLocal(testLogger())
	result, err := e.Exec(context.Background(), command.New("cat").ReadingFrom(in).WritingTo(out), 0)

	require.NoError(t, err)
	assert.Empty(t, result.Stdout)
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE t (id INT);\n", string(data))
}

func TestLocalExec_MissingInputFile(t *testing.T) {
	e := NewLocal(testLogger())

	_, err := e.Exec(context.Background(), command.New("cat").ReadingFrom("/nonexistent/in.sql"), 0)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open input file")
}

func TestLocalExec_Timeout(t *testing.T) {
	e := NewLocal(testLogger())

	result, err := e.Exec(context.Background(), command.New("sleep", "5"), 50*time.Millisecond)

	require.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, result)
}

func TestLocalExec_UnknownProgram(t *testing.T) {
	e := NewLocal(testLogger())

	_, err := e.Exec(context.Background(), command.New("definitely-not-a-real-binary-xyz"), 0)

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTimeout))
}

type mockExecutor struct {
	execFunc func(ctx context.Context, cmd command.Command, timeout time.Duration) (*models.ExecResult, error)
}

func (m *mockExecutor) Exec(ctx context.Context, cmd command.Command, timeout time.Duration) (*models.ExecResult, error) {
	return m.execFunc(ctx, cmd, timeout)
}

func TestRun_NonZeroBecomesExitError(t *testing.T) {
	e := &mockExecutor{execFunc: func(ctx context.Context, cmd command.Command, timeout time.Duration) (*models.ExecResult, error) {
		return &models.ExecResult{ExitCode: 2, Stderr: "mysqldump: Got error: 1045\n"}, nil
	}}

	result, err := Run(context.Background(), e, command.New("mysqldump"), time.Second)

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode)
	assert.Equal(t, "mysqldump exited with status 2: mysqldump: Got error: 1045", err.Error())
	assert.NotNil(t, result)
}

func TestRun_PropagatesExecError(t *testing.T) {
	e := &mockExecutor{execFunc: func(ctx context.Context, cmd command.Command, timeout time.Duration) (*models.ExecResult, error) {
		return nil, ErrTimeout
	}}

	result, err := Run(context.Background(), e, command.New("gzip"), time.Second)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Nil(t, result)
}
