package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxTurnsExceeded is returned when the loop reaches its model round-trip budget.
	ErrMaxTurnsExceeded = errors.New("tool-use loop exceeded max turns")
	// ErrCannotShrink is returned when a prompt-too-long retry could not drop any message.
	ErrCannotShrink = errors.New("conversation cannot be truncated further")
	// ErrRunNotFound is returned by result stores when a run ID is unknown.
	ErrRunNotFound = errors.New("run not found")
	// ErrEventInvalid is returned when an event violates payload invariants.
	ErrEventInvalid = errors.New("event is invalid")
)

// ErrorKind is the engine error taxonomy. Per-call kinds are recovered into
// tool results; the others decide whether a run retries, truncates or fails.
type ErrorKind string

const (
	KindConnectionTimeout ErrorKind = "connection_timeout"
	KindToolNotFound      ErrorKind = "tool_not_found"
	KindToolInvocation    ErrorKind = "tool_invocation"
	KindRateLimit         ErrorKind = "rate_limit"
	KindPromptTooLong     ErrorKind = "prompt_too_long"
	KindFatal             ErrorKind = "fatal"
)

// Error carries an ErrorKind through wrapping layers.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds an *Error whose cause is formatted like fmt.Errorf.
func Errorf(kind ErrorKind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the kind of the outermost *Error in err's chain.
// Untyped errors classify as KindFatal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) && typed.Kind != "" {
		return typed.Kind
	}
	return KindFatal
}

// IsKind reports whether any *Error in err's chain has the given kind.
func IsKind(err error, kind ErrorKind) bool {
	for err != nil {
		var typed *Error
		if !errors.As(err, &typed) {
			return false
		}
		if typed.Kind == kind {
			return true
		}
		err = typed.Err
	}
	return false
}
