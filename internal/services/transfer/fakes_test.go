package transfer

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/fgeck/mysql-sync-manager/internal/command"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/fgeck/mysql-sync-manager/internal/services/ssh"
	"github.com/rs/zerolog"
)

// fakeChannel connects the client side of a session channel to an in-process
// server function over net.Pipe.
type fakeChannel struct {
	client net.Conn
	server net.Conn
	serve  func(cmd string, conn net.Conn) error

	started   string
	subsystem string
	done      chan struct{}
	err       error
}

func newFakeChannel(serve func(cmd string, conn net.Conn) error) *fakeChannel {
	client, server := net.Pipe()
	return &fakeChannel{client: client, server: server, serve: serve, done: make(chan struct{})}
}

func (f *fakeChannel) run(cmd string) {
	defer close(f.done)
	f.err = f.serve(cmd, f.server)
	_ = f.server.Close()
}

func (f *fakeChannel) Run(cmd string, stdout, stderr io.Writer) error {
	return errors.New("not supported")
}

func (f *fakeChannel) Start(cmd string) error {
	f.started = cmd
	go f.run(cmd)
	return nil
}

func (f *fakeChannel) RequestSubsystem(name string) error {
	f.subsystem = name
	go f.run("subsystem " + name)
	return nil
}

func (f *fakeChannel) StdinPipe() (io.WriteCloser, error) { return f.client, nil }
func (f *fakeChannel) StdoutPipe() (io.Reader, error)     { return f.client, nil }

func (f *fakeChannel) Wait() error {
	<-f.done
	return f.err
}

func (f *fakeChannel) Close() error { return f.client.Close() }

// fakeSession hands out channels from newChannel and records commands.
type fakeSession struct {
	newChannel func() *fakeChannel
	channels   []*fakeChannel
	commands   []command.Command
	execFunc   func(cmd command.Command) (*models.ExecResult, error)
}

func (s *fakeSession) Exec(ctx context.Context, cmd command.Command, timeout time.Duration) (*models.ExecResult, error) {
	s.commands = append(s.commands, cmd)
	if s.execFunc != nil {
		return s.execFunc(cmd)
	}
	return &models.ExecResult{}, nil
}

func (s *fakeSession) NewChannel() (ssh.SSHSession, error) {
	ch := s.newChannel()
	s.channels = append(s.channels, ch)
	return ch, nil
}

func (s *fakeSession) Host() string { return "db.example.com" }
func (s *fakeSession) Close() error { return nil }

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}
