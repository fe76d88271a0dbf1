package cqrs

import (
	"errors"
	"fmt"
	"reflect"
)

var (
	// ErrHandlerNotFound is returned when no handler is registered for a request.
	ErrHandlerNotFound = errors.New("cqrs: handler not found")

	// ErrHandlerResolutionAmbiguous is returned when more than one handler
	// matches a request. The dispatcher never picks one of them.
	ErrHandlerResolutionAmbiguous = errors.New("cqrs: handler resolution ambiguous")
)

// ResolutionError describes a failed handler lookup. It unwraps to
// ErrHandlerNotFound or ErrHandlerResolutionAmbiguous.
type ResolutionError struct {
	Request reflect.Type
	Result  reflect.Type
	Name    string
	Matches int
	Err     error
}

func (e *ResolutionError) Error() string {
	target := e.Name
	if target == "" {
		target = "<nil>"
	}
	if e.Request != nil {
		target = e.Request.String()
	}
	if e.Result != nil {
		target += " -> " + e.Result.String()
	}
	if e.Matches > 1 {
		return fmt.Sprintf("%v: %s (%d handlers)", e.Err, target, e.Matches)
	}
	return fmt.Sprintf("%v: %s", e.Err, target)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

func notFound(request, result reflect.Type) error {
	return &ResolutionError{Request: request, Result: result, Err: ErrHandlerNotFound}
}

func ambiguous(request, result reflect.Type, matches int) error {
	return &ResolutionError{Request: request, Result: result, Matches: matches, Err: ErrHandlerResolutionAmbiguous}
}
