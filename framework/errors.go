package framework

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a script run did not succeed.
type ErrorKind string

const (
	KindUnsupportedLanguage ErrorKind = "unsupported_language"
	KindBlocked             ErrorKind = "blocked"
	KindWriteError          ErrorKind = "write_error"
	KindInvalidCommand      ErrorKind = "invalid_command"
	KindSpawnError          ErrorKind = "spawn_error"
	KindNonZeroExit         ErrorKind = "non_zero_exit"
	KindKilled              ErrorKind = "killed"
)

// Sentinels for errors.Is checks. Matching is by kind only.
var (
	ErrUnsupportedLanguage = &RunError{Kind: KindUnsupportedLanguage, Message: "Language not supported"}
	ErrBlocked             = &RunError{Kind: KindBlocked, Message: "Script execution blocked"}
	ErrWriteError          = &RunError{Kind: KindWriteError, Message: "write script"}
	ErrInvalidCommand      = &RunError{Kind: KindInvalidCommand, Message: "No executable found in file placeholder"}
	ErrSpawnError          = &RunError{Kind: KindSpawnError, Message: "spawn failed"}
	ErrNonZeroExit         = &RunError{Kind: KindNonZeroExit, Message: "non-zero exit"}
	ErrKilled              = &RunError{Kind: KindKilled, Message: "stopped"}
)

// ErrScriptConsumed is returned when a Script is run a second time.
var ErrScriptConsumed = errors.New("script already run")

// RunError is the rejection value of a script run. ExitCode is only
// meaningful for KindNonZeroExit.
type RunError struct {
	Kind     ErrorKind
	Message  string
	ExitCode int
	Err      error
}

// Error implements the error interface.
func (e *RunError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying OS or exec error, if any.
func (e *RunError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is a RunError of the same kind.
func (e *RunError) Is(target error) bool {
	t, ok := target.(*RunError)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf returns the run error kind carried by err, or "" when err is nil or
// not a RunError.
func KindOf(err error) ErrorKind {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind
	}
	return ""
}

// ExitCode extracts the process exit code of a NonZeroExit failure.
func ExitCode(err error) (int, bool) {
	var runErr *RunError
	if errors.As(err, &runErr) && runErr.Kind == KindNonZeroExit {
		return runErr.ExitCode, true
	}
	return 0, false
}

func newRunError(kind ErrorKind, message string, err error) *RunError {
	return &RunError{Kind: kind, Message: message, Err: err}
}
