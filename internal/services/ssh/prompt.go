package ssh

import (
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// Prompter asks the operator for a key passphrase.
type Prompter interface {
	Passphrase(prompt string) ([]byte, error)
}

// TerminalPrompter reads a passphrase from a terminal without echo.
type TerminalPrompter struct {
	In  *os.File
	Out io.Writer
}

// Passphrase prints prompt and reads one line without echoing it.
func (p *TerminalPrompter) Passphrase(prompt string) ([]byte, error) {
	fd := int(p.In.Fd()) //nolint:gosec // file descriptors fit in int
	if !term.IsTerminal(fd) {
		return nil, errors.New("passphrase required but stdin is not a terminal")
	}

	_, _ = fmt.Fprint(p.Out, prompt)
	passphrase, err := term.ReadPassword(fd)
	_, _ = fmt.Fprintln(p.Out)
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	return passphrase, nil
}
