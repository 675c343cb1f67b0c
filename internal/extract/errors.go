package extract

import (
	"errors"
	"fmt"
)

// Kind classifies extraction failures. Every kind is terminal for the
// current attempt; nothing here is retried automatically.
type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindConfiguration Kind = "configuration"
	KindAPI           Kind = "api"
	KindValidation    Kind = "validation"
)

// Sentinels for errors.Is checks against an *Error of the matching kind.
var (
	ErrNotFound      = errors.New("not found")
	ErrConfiguration = errors.New("configuration error")
	ErrAPI           = errors.New("llm api error")
	ErrValidation    = errors.New("validation error")
)

// Error is an extraction failure with its kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) and friends match by kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Kind == KindNotFound
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrAPI:
		return e.Kind == KindAPI
	case ErrValidation:
		return e.Kind == KindValidation
	}
	return false
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// NotFoundError reports a missing or empty document.
func NotFoundError(op, format string, args ...any) error {
	return newError(KindNotFound, op, fmt.Errorf(format, args...))
}

// ConfigurationError reports a missing API key, model or similar setup problem.
func ConfigurationError(op string, err error) error {
	return newError(KindConfiguration, op, err)
}

// APIError reports a non-2xx or content-less LLM response.
func APIError(op string, err error) error {
	return newError(KindAPI, op, err)
}

// ValidationError reports LLM output that could not be parsed as JSON.
func ValidationError(op string, err error) error {
	return newError(KindValidation, op, err)
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
