package client

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xraph/cuttrack"
	"github.com/xraph/cuttrack/dwp"
)

// Error is an error reported by the server, over DWP or REST.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("cuttrack/client: server error %d: %s", e.Code, e.Message)
}

// Is maps server codes back onto the cuttrack sentinel errors, so callers
// can use errors.Is(err, cuttrack.ErrNotFound) on remote results.
func (e *Error) Is(target error) bool {
	switch e.Code {
	case dwp.ErrCodeNotFound:
		if target == cuttrack.ErrNotFound {
			return true
		}
		return cuttrack.IsNotFound(target) && strings.Contains(e.Message, target.Error())
	case dwp.ErrCodeBadRequest:
		return target == cuttrack.ErrValidation
	case dwp.ErrCodeConflict:
		switch target {
		case cuttrack.ErrInvalidTransition:
			return strings.Contains(e.Message, cuttrack.ErrInvalidTransition.Error())
		case cuttrack.ErrConcurrencyConflict:
			return strings.Contains(e.Message, cuttrack.ErrConcurrencyConflict.Error())
		case cuttrack.ErrJobAlreadyExists:
			return strings.Contains(e.Message, cuttrack.ErrJobAlreadyExists.Error())
		}
	}
	return false
}

// frameError converts an error frame into an error. A frame without code
// marks a request lost with the connection.
func frameError(f *dwp.Frame) error {
	if f.Error == nil {
		return &Error{Code: dwp.ErrCodeInternal, Message: "error frame without details"}
	}
	if f.Error.Code == 0 {
		return errConnLost
	}
	return &Error{Code: f.Error.Code, Message: f.Error.Message}
}

// IsConnectionError reports whether err means the request never got an
// answer because the connection went away.
func IsConnectionError(err error) bool {
	return errors.Is(err, errConnLost) || errors.Is(err, ErrClosed)
}
