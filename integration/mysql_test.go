//go:build integration

package integration

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/progress"
	"github.com/fgeck/mysql-sync-manager/internal/retry"
	"github.com/fgeck/mysql-sync-manager/internal/services/backup"
	"github.com/fgeck/mysql-sync-manager/internal/services/executor"
	"github.com/fgeck/mysql-sync-manager/internal/services/probe"
	"github.com/fgeck/mysql-sync-manager/internal/services/restore"
	"github.com/fgeck/mysql-sync-manager/internal/services/transfer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func getMySQLEndpoint(t *testing.T) models.DBEndpoint {
	t.Helper()

	host := os.Getenv("TEST_MYSQL_HOST")
	if host == "" {
		t.Skip("TEST_MYSQL_HOST not set")
	}

	portStr := os.Getenv("TEST_MYSQL_PORT")
	if portStr == "" {
		portStr = "3306"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	database := os.Getenv("TEST_MYSQL_DB")
	if database == "" {
		t.Skip("TEST_MYSQL_DB not set")
	}

	user := os.Getenv("TEST_MYSQL_USER")
	if user == "" {
		user = "root"
	}

	return models.DBEndpoint{
		Host:     host,
		Port:     port,
		User:     user,
		Password: os.Getenv("TEST_MYSQL_PASSWORD"),
		Database: database,
	}
}

func requireBinaries(t *testing.T, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			t.Skipf("%s not installed", name)
		}
	}
}

func testPolicy() *retry.Policy {
	return retry.New(testLogger(), models.RetrySettings{MaxRetries: 1, InitialDelay: 100 * time.Millisecond, Multiplier: 2})
}

func TestProbeSQL_Integration(t *testing.T) {
	ep := getMySQLEndpoint(t)

	q, err := probe.OpenSQL(ep)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	caps := probe.New(testLogger(), testPolicy()).Probe(context.Background(), q, ep.Database, probe.Options{})

	assert.True(t, caps.VersionKnown)
	assert.GreaterOrEqual(t, caps.MajorVersion, 5)
	assert.NotEmpty(t, caps.CharacterSet)
	assert.Greater(t, caps.MaxAllowedPacket, int64(0))
}

func TestProbeCLI_Integration(t *testing.T) {
	requireBinaries(t, "mysql")
	ep := getMySQLEndpoint(t)

	q := probe.NewCLIQuerier(executor.NewLocal(testLogger()), ep, time.Minute)
	caps := probe.New(testLogger(), testPolicy()).Probe(context.Background(), q, ep.Database, probe.Options{})

	assert.True(t, caps.VersionKnown)
	assert.NotEmpty(t, caps.Version)
}

func TestBackupAndRestoreRoundTrip_Integration(t *testing.T) {
	requireBinaries(t, "mysql", "mysqldump", "gzip")
	ep := getMySQLEndpoint(t)
	ctx := context.Background()
	local := executor.NewLocal(testLogger())

	q, err := probe.OpenSQL(ep)
	require.NoError(t, err)
	defer func() { _ = q.Close() }()

	_, err = q.Query(ctx, "CREATE TABLE IF NOT EXISTS sync_roundtrip (id INT PRIMARY KEY, name VARCHAR(32))")
	require.NoError(t, err)
	_, err = q.Query(ctx, "REPLACE INTO sync_roundtrip VALUES (1, 'alpha'), (2, 'beta')")
	require.NoError(t, err)

	prober := probe.New(testLogger(), testPolicy())
	caps := prober.Probe(ctx, q, ep.Database, probe.Options{})

	export := models.ExportSource{DBEndpoint: ep, BackupDir: t.TempDir()}
	plan := backup.Plan(caps, models.NewBackupOptions(nil, false), ep.Database)

	result, err := backup.New(testLogger(), testPolicy(), progress.Nop{}, 10*time.Minute).Run(ctx, local, plan, export)
	require.NoError(t, err)
	assert.Greater(t, result.SizeBytes, int64(0))
	assert.Equal(t, export.BackupDir, filepath.Dir(result.Path))

	sqlPath, err := transfer.New(testLogger(), progress.Nop{}, time.Minute).Extract(result.Path)
	require.NoError(t, err)

	_, err = q.Query(ctx, "DROP TABLE sync_roundtrip")
	require.NoError(t, err)

	target := &models.ImportTarget{DBEndpoint: ep, Probe: models.ProbeSQL}
	restored, err := restore.New(testLogger(), local, prober, progress.Nop{}, 10*time.Minute).Restore(ctx, sqlPath, target)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, restored.Attempts, 1)

	out, err := q.Query(ctx, "SELECT name FROM sync_roundtrip ORDER BY id")
	require.NoError(t, err)
	assert.Equal(t, "alpha\nbeta\n", out)

	_, _ = q.Query(ctx, "DROP TABLE sync_roundtrip")
}
