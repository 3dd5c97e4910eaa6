package restore

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	apperrors "github.com/fgeck/mysql-sync-manager/internal/errors"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/progress"
	"github.com/fgeck/mysql-sync-manager/internal/services/probe"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	commands []command.Command
	execFunc func(attempt int, cmd command.Command) (*models.ExecResult, error)
}

func (m *mockExecutor) Exec(ctx context.Context, cmd command.Command, timeout time.Duration) (*models.ExecResult, error) {
	m.commands = append(m.commands, cmd)
	return m.execFunc(len(m.commands), cmd)
}

// mockProber grants elevated privileges unless told otherwise and honours ForceBasic.
type mockProber struct {
	elevated bool
	options  []probe.Options
}

func (m *mockProber) Probe(ctx context.Context, q probe.Querier, database string, opts probe.Options) models.ServerCapabilities {
	m.options = append(m.options, opts)
	return models.ServerCapabilities{
		Version:           "8.0.36",
		MajorVersion:      8,
		VersionKnown:      true,
		ElevatedPrivilege: m.elevated && !opts.ForceBasic,
	}
}

func (m *mockProber) ListTables(ctx context.Context, q probe.Querier, database string) ([]string, error) {
	return nil, nil
}

type nopQuerier struct{}

func (nopQuerier) Query(ctx context.Context, query string) (string, error) { return "", nil }
func (nopQuerier) Close() error                                            { return nil }

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func openNop(models.ImportTarget) (probe.Querier, error) {
	return nopQuerier{}, nil
}

func writeArtifact(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "shop-export-20240517-140309.sql")
	require.NoError(t, os.WriteFile(path, []byte("CREATE TABLE t (id INT);\n"), 0o600))
	return path
}

func testTarget() *models.ImportTarget {
	return &models.ImportTarget{
		DBEndpoint: models.DBEndpoint{Host: "mysql", Port: 3306, User: "root", Password: "pw", Database: "shop_copy"},
		Probe:      models.ProbeCLI,
	}
}

func failAlways(int, command.Command) (*models.ExecResult, error) {
	return &models.ExecResult{ExitCode: 1, Stderr: "ERROR 1227 (42000): Access denied; you need the SUPER privilege"}, nil
}

func hasInitCommand(cmd command.Command) bool {
	return slices.ContainsFunc(cmd.Args, func(arg string) bool {
		return strings.HasPrefix(arg, "--init-command=")
	})
}

func TestRestore_FallbackFiresExactlyOnce(t *testing.T) {
	exec := &mockExecutor{execFunc: failAlways}
	prober := &mockProber{elevated: true}
	svc := NewWithOpener(testLogger(), exec, prober, openNop, progress.Nop{}, time.Minute)
	target := testTarget()

	result, err := svc.Restore(context.Background(), writeArtifact(t), target)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, apperrors.IsKind(err, apperrors.KindRestore))
	require.Len(t, exec.commands, 2)
	assert.True(t, hasInitCommand(exec.commands[0]))
	assert.Contains(t, exec.commands[0].Args, "--net_buffer_length=16384")
	assert.False(t, hasInitCommand(exec.commands[1]))
	assert.NotContains(t, exec.commands[1].Args, "--net_buffer_length=16384")

	require.Len(t, prober.options, 2)
	assert.Equal(t, probe.Options{}, prober.options[0])
	assert.Equal(t, probe.Options{ForceBasic: true, Quiet: true}, prober.options[1])

	assert.True(t, target.ForceBasic)
	assert.True(t, target.FallbackAttempted)
}

func TestRestore_BasicFailureIsTerminal(t *testing.T) {
	exec := &mockExecutor{execFunc: failAlways}
	svc := NewWithOpener(testLogger(), exec, &mockProber{elevated: false}, openNop, progress.Nop{}, time.Minute)
	target := testTarget()

	_, err := svc.Restore(context.Background(), writeArtifact(t), target)

	assert.True(t, apperrors.IsKind(err, apperrors.KindRestore))
	assert.Len(t, exec.commands, 1)
	assert.False(t, target.FallbackAttempted)
}

func TestRestore_FallbackSucceedsAndClearsMarkers(t *testing.T) {
	exec := &mockExecutor{execFunc: func(attempt int, cmd command.Command) (*models.ExecResult, error) {
		if attempt == 1 {
			return failAlways(attempt, cmd)
		}
		return &models.ExecResult{}, nil
	}}
	svc := NewWithOpener(testLogger(), exec, &mockProber{elevated: true}, openNop, progress.Nop{}, time.Minute)
	target := testTarget()

	result, err := svc.Restore(context.Background(), writeArtifact(t), target)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Attempts)
	assert.True(t, result.FallbackUsed)
	assert.False(t, target.ForceBasic)
	assert.False(t, target.FallbackAttempted)
}

func TestRestore_SuccessFirstAttempt(t *testing.T) {
	exec := &mockExecutor{execFunc: func(int, command.Command) (*models.ExecResult, error) {
		return &models.ExecResult{}, nil
	}}
	svc := NewWithOpener(testLogger(), exec, &mockProber{elevated: true}, openNop, progress.Nop{}, time.Minute)
	artifact := writeArtifact(t)

	result, err := svc.Restore(context.Background(), artifact, testTarget())

	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempts)
	assert.False(t, result.FallbackUsed)

	cmd := exec.commands[0]
	assert.Equal(t, artifact, cmd.StdinFile)
	assert.Equal(t, "shop_copy", cmd.Args[len(cmd.Args)-1])
	assert.Equal(t, []string{"MYSQL_PWD=pw"}, cmd.Env)
}

func TestRestore_ProbeOpenFailureAssumesBasic(t *testing.T) {
	exec := &mockExecutor{execFunc: func(int, command.Command) (*models.ExecResult, error) {
		return &models.ExecResult{}, nil
	}}
	open := func(models.ImportTarget) (probe.Querier, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	prober := &mockProber{elevated: true}
	svc := NewWithOpener(testLogger(), exec, prober, open, progress.Nop{}, time.Minute)

	_, err := svc.Restore(context.Background(), writeArtifact(t), testTarget())

	require.NoError(t, err)
	assert.False(t, hasInitCommand(exec.commands[0]))
	assert.Empty(t, prober.options)
}

func TestRestore_ValidationBeforeExecution(t *testing.T) {
	artifact := writeArtifact(t)

	tests := []struct {
		name     string
		artifact string
		mutate   func(*models.ImportTarget)
		field    string
	}{
		{name: "missing file", artifact: "/nonexistent/dump.sql", mutate: func(*models.ImportTarget) {}, field: "artifact"},
		{name: "directory", artifact: filepath.Dir(artifact), mutate: func(*models.ImportTarget) {}, field: "artifact"},
		{name: "no user", artifact: artifact, mutate: func(tg *models.ImportTarget) { tg.User = "" }, field: "MYSQL_IMPORT_USER"},
		{name: "no password", artifact: artifact, mutate: func(tg *models.ImportTarget) { tg.Password = "" }, field: "MYSQL_IMPORT_PASSWORD"},
		{name: "no database", artifact: artifact, mutate: func(tg *models.ImportTarget) { tg.Database = "" }, field: "MYSQL_IMPORT_DATABASE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &mockExecutor{execFunc: failAlways}
			prober := &mockProber{}
			svc := NewWithOpener(testLogger(), exec, prober, openNop, progress.Nop{}, time.Minute)
			target := testTarget()
			tt.mutate(target)

			_, err := svc.Restore(context.Background(), tt.artifact, target)

			var appErr *apperrors.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.KindValidation, appErr.Kind)
			assert.Equal(t, tt.field, appErr.Field)
			assert.Empty(t, exec.commands)
			assert.Empty(t, prober.options)
		})
	}
}

func TestCommand_Flags(t *testing.T) {
	ep := models.DBEndpoint{Host: "mysql", Port: 3306, User: "root", Password: "pw", Database: "shop"}

	basic := Command(ep, false)
	assert.Equal(t, []string{
		"-h", "mysql", "-P", "3306", "-u", "root",
		"--max_allowed_packet=512M", "--default-character-set=utf8mb4", "--force",
		"shop",
	}, basic.Args)

	elevated := Command(ep, true)
	assert.Equal(t, []string{
		"-h", "mysql", "-P", "3306", "-u", "root",
		"--max_allowed_packet=512M", "--default-character-set=utf8mb4", "--force",
		"--net_buffer_length=16384",
		"--init-command=" + models.SessionInitCommand,
		"shop",
	}, elevated.Args)
}
