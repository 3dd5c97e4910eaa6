// Package ssh establishes authenticated sessions to the export host.
package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	apperrors "github.com/fgeck/mysql-sync-manager/internal/errors"
	"github.com/fgeck/mysql-sync-manager/internal/models"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// DefaultPort is used when credentials carry no port.
const DefaultPort = 22

// connectTimeout bounds the TCP connect and SSH handshake.
const connectTimeout = 10 * time.Second

// State is a step of connection establishment.
type State string

// Establishment states. Established and Failed are terminal.
const (
	StateUnauthenticated        State = "unauthenticated"
	StateResolving              State = "resolving"
	StateKeyLoading             State = "key_loading"
	StatePassphraseRequired     State = "passphrase_required"
	StateAuthenticating         State = "authenticating"
	StatePasswordAuthenticating State = "password_authenticating"
	StateEstablished            State = "established"
	StateFailed                 State = "failed"
)

// Service defines the interface for establishing remote sessions.
type Service interface {
	Establish(ctx context.Context, creds models.Credentials) (RemoteSession, error)
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	// Run executes cmd, copying its output to stdout and stderr.
	Run(cmd string, stdout, stderr io.Writer) error
	Start(cmd string) error
	RequestSubsystem(name string) error
	StdinPipe() (io.WriteCloser, error)
	StdoutPipe() (io.Reader, error)
	Wait() error
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// Resolver resolves host names.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// ExitStatusError is a remote command that exited non-zero.
type ExitStatusError struct {
	Code int
}

func (e *ExitStatusError) Error() string {
	return fmt.Sprintf("remote command exited with status %d", e.Code)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Run(cmd string, stdout, stderr io.Writer) error {
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	return convertExitError(s.session.Run(cmd))
}

func (s *defaultSSHSession) Start(cmd string) error {
	return s.session.Start(cmd)
}

func (s *defaultSSHSession) RequestSubsystem(name string) error {
	return s.session.RequestSubsystem(name)
}

func (s *defaultSSHSession) StdinPipe() (io.WriteCloser, error) {
	return s.session.StdinPipe()
}

func (s *defaultSSHSession) StdoutPipe() (io.Reader, error) {
	return s.session.StdoutPipe()
}

func (s *defaultSSHSession) Wait() error {
	return convertExitError(s.session.Wait())
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

func convertExitError(err error) error {
	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		return &ExitStatusError{Code: exitErr.ExitStatus()}
	}
	return err
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory ClientFactory
	resolver      Resolver
	prompter      Prompter
	logger        zerolog.Logger
}

// New creates a new SSH service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		clientFactory: &DefaultClientFactory{},
		resolver:      net.DefaultResolver,
		prompter:      &TerminalPrompter{In: os.Stdin, Out: os.Stderr},
		logger:        logger,
	}
}

// NewWithDeps creates a new SSH service with custom collaborators (for testing).
func NewWithDeps(logger zerolog.Logger, factory ClientFactory, resolver Resolver, prompter Prompter) *Impl {
	return &Impl{
		clientFactory: factory,
		resolver:      resolver,
		prompter:      prompter,
		logger:        logger,
	}
}

// Establish validates creds, resolves the host, loads the key if any and
// opens one authenticated connection. It performs a single dial attempt.
func (s *Impl) Establish(ctx context.Context, creds models.Credentials) (RemoteSession, error) {
	state := StateUnauthenticated
	transition := func(next State) {
		s.logger.Debug().Str("host", creds.Host).Str("from", string(state)).Str("to", string(next)).Msg("ssh state")
		state = next
	}

	if err := ValidateCredentials(creds); err != nil {
		transition(StateFailed)
		return nil, err
	}
	if creds.Port == 0 {
		creds.Port = DefaultPort
	}

	s.logger.Info().
		Str("host", creds.Host).
		Int("port", creds.Port).
		Str("user", creds.User).
		Bool("key_auth", creds.KeyPath != "").
		Msg("connecting to export host")

	transition(StateResolving)
	if _, err := s.resolver.LookupHost(ctx, creds.Host); err != nil {
		transition(StateFailed)
		return nil, apperrors.Network(creds.Host, "resolve", err)
	}

	var auth ssh.AuthMethod
	if creds.KeyPath != "" {
		transition(StateKeyLoading)
		signer, err := s.loadKey(creds, transition)
		if err != nil {
			transition(StateFailed)
			return nil, err
		}
		auth = ssh.PublicKeys(signer)
		transition(StateAuthenticating)
	} else {
		auth = ssh.Password(creds.Password)
		transition(StatePasswordAuthenticating)
	}

	sshConfig := &ssh.ClientConfig{
		User:            creds.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // hosts are addressed by configured profiles
		Timeout:         connectTimeout,
	}

	client, err := s.dial(ctx, creds, sshConfig)
	if err != nil {
		transition(StateFailed)
		return nil, err
	}

	transition(StateEstablished)
	s.logger.Info().Str("host", creds.Host).Msg("ssh connection established")

	return newSession(creds.Host, client, s.logger), nil
}

func (s *Impl) loadKey(creds models.Credentials, transition func(State)) (ssh.Signer, error) {
	info, err := os.Stat(creds.KeyPath)
	if err != nil {
		return nil, apperrors.Auth(creds.Host, "load key", "key file not accessible", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		return nil, apperrors.Auth(creds.Host, "load key",
			fmt.Sprintf("key file %s has mode %#o, want 0600", creds.KeyPath, mode), nil)
	}

	key, err := os.ReadFile(creds.KeyPath)
	if err != nil {
		return nil, apperrors.Auth(creds.Host, "load key", "failed to read private key", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err == nil {
		return signer, nil
	}

	var missing *ssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, apperrors.Auth(creds.Host, "load key", "failed to parse private key", err)
	}

	transition(StatePassphraseRequired)
	passphrase, err := s.prompter.Passphrase(fmt.Sprintf("Enter passphrase for %s: ", creds.KeyPath))
	if err != nil {
		return nil, apperrors.Auth(creds.Host, "load key", "passphrase prompt failed", err)
	}

	transition(StateKeyLoading)
	signer, err = ssh.ParsePrivateKeyWithPassphrase(key, passphrase)
	if err != nil {
		return nil, apperrors.Auth(creds.Host, "load key", "failed to decrypt private key", err)
	}
	return signer, nil
}

func (s *Impl) dial(ctx context.Context, creds models.Credentials, sshConfig *ssh.ClientConfig) (SSHClient, error) {
	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", creds.Addr(), sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		return nil, apperrors.Network(creds.Host, "connect", ctx.Err())
	case res := <-clientChan:
		if res.err != nil {
			if isAuthFailure(res.err) {
				return nil, apperrors.Auth(creds.Host, "authenticate", "authentication rejected", res.err)
			}
			return nil, apperrors.Network(creds.Host, "connect", res.err)
		}
		return res.client, nil
	}
}

func isAuthFailure(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain")
}

// ValidateCredentials checks creds without any I/O.
func ValidateCredentials(creds models.Credentials) error {
	if strings.TrimSpace(creds.Host) == "" {
		return apperrors.Validation("SSH_HOST", "host is required")
	}
	if strings.TrimSpace(creds.User) == "" {
		return apperrors.Validation("SSH_USER", "user is required")
	}
	switch {
	case creds.Password == "" && creds.KeyPath == "":
		return apperrors.Validation("SSH_PASSWORD", "either SSH_PASSWORD or SSH_KEY_PATH is required")
	case creds.Password != "" && creds.KeyPath != "":
		return apperrors.Validation("SSH_KEY_PATH", "only one of SSH_PASSWORD and SSH_KEY_PATH may be set")
	}
	if creds.Port < 0 || creds.Port > 65535 {
		return apperrors.Validation("SSH_PORT", fmt.Sprintf("invalid port %d", creds.Port))
	}
	return nil
}
