package tools

import (
	"errors"
	"fmt"
)

// ErrorKind classifies dispatcher failures.
type ErrorKind string

const (
	KindUnknownTool ErrorKind = "unknown_tool"
	KindExecution   ErrorKind = "execution_error"
	KindTimeout     ErrorKind = "timeout"
)

var (
	ErrUnknownTool   = errors.New("unknown tool")
	ErrToolExecution = errors.New("tool execution failed")
	ErrToolTimeout   = errors.New("tool timed out")
	ErrDuplicateTool = errors.New("tool already registered")
)

// Error is returned by Dispatcher.Execute. errors.Is matches it against the
// sentinel for its Kind as well as against the wrapped cause.
type Error struct {
	Kind ErrorKind
	Tool string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Tool, e.sentinel())
	}
	return fmt.Sprintf("%s: %s: %v", e.Tool, e.sentinel(), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	return target == e.sentinel()
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case KindUnknownTool:
		return ErrUnknownTool
	case KindTimeout:
		return ErrToolTimeout
	default:
		return ErrToolExecution
	}
}

// RemoteError is an envelope that came back with status "error".
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return "remote tool reported an error"
	}
	return e.Message
}

// KindOf returns the ErrorKind of err, or "" when err is not a dispatcher error.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
