// Package command models a command line as an ordered list of tokens.
//
// Flag composition builds a Command; executors either run it directly
// (local, no shell) or render it for a POSIX shell (remote over SSH).
package command

import (
	"regexp"
	"strings"
)

// Command is a program, its arguments and optional file redirections.
type Command struct {
	Program string
	Args    []string
	// Env holds KEY=VALUE pairs set only for this command.
	Env []string
	// StdinFile, if set, is redirected into the program.
	StdinFile string
	// StdoutFile, if set, receives the program's standard output.
	StdoutFile string
}

// New returns a command for program with args.
func New(program string, args ...string) Command {
	return Command{Program: program, Args: args}
}

// WithArgs returns a copy with args appended.
func (c Command) WithArgs(args ...string) Command {
	out := c.clone()
	out.Args = append(out.Args, args...)
	return out
}

// WithEnv returns a copy with an environment variable set. Values are
// treated as secrets and masked by Redacted.
func (c Command) WithEnv(key, value string) Command {
	out := c.clone()
	out.Env = append(out.Env, key+"="+value)
	return out
}

// ReadingFrom returns a copy with stdin redirected from path.
func (c Command) ReadingFrom(path string) Command {
	out := c.clone()
	out.StdinFile = path
	return out
}

// WritingTo returns a copy with stdout redirected to path.
func (c Command) WritingTo(path string) Command {
	out := c.clone()
	out.StdoutFile = path
	return out
}

func (c Command) clone() Command {
	out := c
	out.Args = append([]string(nil), c.Args...)
	out.Env = append([]string(nil), c.Env...)
	return out
}

// Tokens returns program followed by args.
func (c Command) Tokens() []string {
	return append([]string{c.Program}, c.Args...)
}

// String renders the command for a POSIX shell.
func (c Command) String() string {
	return c.render(false)
}

// Redacted renders the command with environment values masked, for logging.
func (c Command) Redacted() string {
	return c.render(true)
}

func (c Command) render(mask bool) string {
	parts := make([]string, 0, len(c.Env)+len(c.Args)+5)
	for _, kv := range c.Env {
		key, value, _ := strings.Cut(kv, "=")
		if mask {
			value = "******"
		}
		parts = append(parts, key+"="+Quote(value))
	}
	for _, tok := range c.Tokens() {
		parts = append(parts, Quote(tok))
	}
	if c.StdinFile != "" {
		parts = append(parts, "<", Quote(c.StdinFile))
	}
	if c.StdoutFile != "" {
		parts = append(parts, ">", Quote(c.StdoutFile))
	}
	return strings.Join(parts, " ")
}

var safeToken = regexp.MustCompile(`^[A-Za-z0-9_./=:,+@%-]+$`)

// Quote single-quotes s for a POSIX shell unless it is made only of safe characters.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if safeToken.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
