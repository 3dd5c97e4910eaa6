package probe

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/services/executor"
	"github.com/go-sql-driver/mysql"
)

// Querier runs a read-only statement and returns its rows as
// newline-separated lines of tab-separated columns, without a header.
type Querier interface {
	Query(ctx context.Context, query string) (string, error)
	Close() error
}

// CLIQuerier runs the mysql client in batch mode through an executor,
// locally or on the export host.
type CLIQuerier struct {
	exec     executor.CommandExecutor
	endpoint models.DBEndpoint
	timeout  time.Duration
}

// NewCLIQuerier creates a querier for endpoint.
func NewCLIQuerier(exec executor.CommandExecutor, endpoint models.DBEndpoint, timeout time.Duration) *CLIQuerier {
	return &CLIQuerier{exec: exec, endpoint: endpoint, timeout: timeout}
}

// Query runs query with `mysql -N -B -e`.
func (q *CLIQuerier) Query(ctx context.Context, query string) (string, error) {
	cmd := ClientCommand("mysql", q.endpoint).WithArgs("-N", "-B", "-e", query)
	result, err := executor.Run(ctx, q.exec, cmd, q.timeout)
	if err != nil {
		return "", err
	}
	return result.Stdout, nil
}

// Close is a no-op; the executor is owned by the caller.
func (q *CLIQuerier) Close() error {
	return nil
}

// ClientCommand returns program with connection flags for ep. The password
// travels in MYSQL_PWD so it never appears in the argument list.
func ClientCommand(program string, ep models.DBEndpoint) command.Command {
	cmd := command.New(program, "-h", ep.Host)
	if ep.Port != 0 {
		cmd = cmd.WithArgs("-P", strconv.Itoa(ep.Port))
	}
	cmd = cmd.WithArgs("-u", ep.User)
	if ep.Password != "" {
		cmd = cmd.WithEnv("MYSQL_PWD", ep.Password)
	}
	return cmd
}

// SQLQuerier queries through database/sql and the MySQL driver.
type SQLQuerier struct {
	db *sql.DB
}

// OpenSQL opens a connection pool to ep.
func OpenSQL(ep models.DBEndpoint) (*SQLQuerier, error) {
	cfg := mysql.NewConfig()
	cfg.User = ep.User
	cfg.Passwd = ep.Password
	cfg.Net = "tcp"
	cfg.Addr = models.Credentials{Host: ep.Host, Port: ep.Port}.Addr()
	cfg.DBName = ep.Database
	cfg.Timeout = 10 * time.Second

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	return NewSQLQuerier(db), nil
}

// NewSQLQuerier wraps an existing pool.
func NewSQLQuerier(db *sql.DB) *SQLQuerier {
	return &SQLQuerier{db: db}
}

// Query runs query and renders NULL as the literal NULL, like the mysql client.
func (q *SQLQuerier) Query(ctx context.Context, query string) (string, error) {
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return "", err
	}

	values := make([]sql.NullString, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	var b strings.Builder
	fields := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return "", err
		}
		for i, v := range values {
			if v.Valid {
				fields[i] = v.String
			} else {
				fields[i] = "NULL"
			}
		}
		b.WriteString(strings.Join(fields, "\t"))
		b.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// Close closes the pool.
func (q *SQLQuerier) Close() error {
	return q.db.Close()
}

// OpenImport returns the querier selected by target's probe mode.
func OpenImport(target models.ImportTarget, exec executor.CommandExecutor, timeout time.Duration) (Querier, error) {
	if target.Probe == models.ProbeSQL {
		return OpenSQL(target.DBEndpoint)
	}
	return NewCLIQuerier(exec, target.DBEndpoint, timeout), nil
}
