package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/services/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAck(conn net.Conn) error {
	buf := make([]byte, 1)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return err
	}
	if buf[0] != 0 {
		return fmt.Errorf("unexpected ack %d", buf[0])
	}
	return nil
}

// scpSource plays the source side of `scp -f` for a single file.
func scpSource(name, content string, withTimes bool) func(string, net.Conn) error {
	return func(cmd string, conn net.Conn) error {
		if err := readAck(conn); err != nil {
			return err
		}
		if withTimes {
			if _, err := io.WriteString(conn, "T1715954589 0 1715954589 0\n"); err != nil {
				return err
			}
			if err := readAck(conn); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(conn, "C0644 %d %s\n", len(content), name); err != nil {
			return err
		}
		if err := readAck(conn); err != nil {
			return err
		}
		if _, err := io.WriteString(conn, content); err != nil {
			return err
		}
		if _, err := conn.Write([]byte{0}); err != nil {
			return err
		}
		return readAck(conn)
	}
}

func TestSCPGet(t *testing.T) {
	for _, withTimes := range []bool{false, true} {
		t.Run(fmt.Sprintf("times=%v", withTimes), func(t *testing.T) {
			content := "-- MySQL dump\nCREATE TABLE t (id INT);\n"
			sess := &fakeSession{newChannel: func() *fakeChannel {
				return newFakeChannel(scpSource("shop.sql.gz", content, withTimes))
			}}
			local := filepath.Join(t.TempDir(), "shop.sql.gz")

			err := NewSCP(sess, time.Minute).Get(context.Background(), "/backups/shop.sql.gz", local)

			require.NoError(t, err)
			data, err := os.ReadFile(local)
			require.NoError(t, err)
			assert.Equal(t, content, string(data))
			require.Len(t, sess.channels, 1)
			assert.Equal(t, "scp -f /backups/shop.sql.gz", sess.channels[0].started)
		})
	}
}

func TestSCPGet_Unavailable(t *testing.T) {
	sess := &fakeSession{newChannel: func() *fakeChannel {
		return newFakeChannel(func(cmd string, conn net.Conn) error {
			_ = readAck(conn)
			return &ssh.ExitStatusError{Code: 127}
		})
	}}

	err := NewSCP(sess, time.Minute).Get(context.Background(), "/backups/shop.sql.gz", filepath.Join(t.TempDir(), "x"))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "127")
}

func TestSCPGet_RemoteError(t *testing.T) {
	sess := &fakeSession{newChannel: func() *fakeChannel {
		return newFakeChannel(func(cmd string, conn net.Conn) error {
			if err := readAck(conn); err != nil {
				return err
			}
			_, _ = io.WriteString(conn, "\x01scp: /backups/missing.sql.gz: No such file or directory\n")
			return &ssh.ExitStatusError{Code: 1}
		})
	}}

	err := NewSCP(sess, time.Minute).Get(context.Background(), "/backups/missing.sql.gz", filepath.Join(t.TempDir(), "x"))

	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnavailable))
	assert.Contains(t, err.Error(), "No such file or directory")
}

func TestSCPGet_MalformedHeader(t *testing.T) {
	sess := &fakeSession{newChannel: func() *fakeChannel {
		return newFakeChannel(func(cmd string, conn net.Conn) error {
			if err := readAck(conn); err != nil {
				return err
			}
			_, _ = io.WriteString(conn, "C0644 lots shop.sql.gz\n")
			return nil
		})
	}}

	err := NewSCP(sess, time.Minute).Get(context.Background(), "/backups/shop.sql.gz", filepath.Join(t.TempDir(), "x"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed scp size")
}

func TestSCPDelete(t *testing.T) {
	sess := &fakeSession{}

	err := NewSCP(sess, time.Minute).Delete(context.Background(), "/backups/shop.sql.gz")

	require.NoError(t, err)
	require.Len(t, sess.commands, 1)
	assert.Equal(t, "rm -f /backups/shop.sql.gz", sess.commands[0].String())
}

func TestSCPDelete_Failure(t *testing.T) {
	sess := &fakeSession{execFunc: func(cmd command.Command) (*models.ExecResult, error) {
		return &models.ExecResult{ExitCode: 1, Stderr: "rm: cannot remove: Permission denied"}, nil
	}}

	err := NewSCP(sess, time.Minute).Delete(context.Background(), "/backups/shop.sql.gz")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "Permission denied")
}
