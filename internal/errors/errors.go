// Package apperrors defines the typed errors surfaced by the sync workflow.
package apperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error for control decisions and rendering.
type Kind string

const (
	KindValidation Kind = "validation" // caller input is structurally wrong
	KindAuth       Kind = "auth"       // authentication or key handling failed
	KindNetwork    Kind = "network"    // resolution, transport, session negotiation
	KindBackup     Kind = "backup"     // a dump pipeline stage failed
	KindRestore    Kind = "restore"    // import failed after the fallback budget
)

// Backup pipeline stages used as the Op of KindBackup errors.
const (
	StageInitialization = "initialization"
	StageDump           = "mysqldump"
	StageCompression    = "compression"
	StageVerification   = "verification"
	StageExtraction     = "extraction"
)

// Error is the single error type of the core. It renders as one diagnostic line.
type Error struct {
	Kind    Kind
	Op      string // operation or stage name
	Host    string // optional
	Field   string // set for validation errors
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	b.WriteString(" failed")
	if e.Host != "" {
		fmt.Fprintf(&b, " on %s", e.Host)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " [%s]", e.Field)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports a missing or malformed input field.
func Validation(field, msg string) *Error {
	return &Error{Kind: KindValidation, Op: "validate", Field: field, Message: msg}
}

// Auth reports an authentication or key failure against host.
func Auth(host, op, msg string, err error) *Error {
	return &Error{Kind: KindAuth, Op: op, Host: host, Message: msg, Err: err}
}

// Network reports a resolution or transport failure.
func Network(host, op string, err error) *Error {
	return &Error{Kind: KindNetwork, Op: op, Host: host, Err: err}
}

// Backup reports a failed dump pipeline stage.
func Backup(stage, msg string, err error) *Error {
	return &Error{Kind: KindBackup, Op: stage, Message: msg, Err: err}
}

// Restore reports a terminal import failure.
func Restore(op, msg string, err error) *Error {
	return &Error{Kind: KindRestore, Op: op, Message: msg, Err: err}
}

// PolicyExhaustedError wraps the last cause once a retry budget is spent.
type PolicyExhaustedError struct {
	Retries  int
	Attempts int
	Err      error
}

func (e *PolicyExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d retries (%d attempts): %v", e.Retries, e.Attempts, e.Err)
}

func (e *PolicyExhaustedError) Unwrap() error {
	return e.Err
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var appErr *Error
	for err != nil {
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Kind == k {
			return true
		}
		err = appErr.Err
	}
	return false
}

// Stage returns the Op of the outermost *Error in err's chain.
func Stage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Op
	}
	return ""
}
