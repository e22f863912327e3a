// Package apperr defines the error kinds shared by every layer of the service.
//
// Only KindConfig is allowed to abort the process, and only at startup. Adapters
// convert the other kinds into well-formed responses.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by how the adapter boundary must treat it.
type Kind string

const (
	KindConfig     Kind = "config"
	KindValidation Kind = "validation"
	KindStorage    Kind = "storage"
	KindProvider   Kind = "provider"
	KindAuth       Kind = "auth"
)

// Error is a classified error.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, apperr.ErrStorage) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Sentinels for errors.Is checks.
var (
	ErrConfig     = &Error{Kind: KindConfig}
	ErrValidation = &Error{Kind: KindValidation}
	ErrStorage    = &Error{Kind: KindStorage}
	ErrProvider   = &Error{Kind: KindProvider}
	ErrAuth       = &Error{Kind: KindAuth}
)

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// Config returns a startup configuration error.
func Config(format string, args ...any) *Error {
	return newError(KindConfig, nil, format, args...)
}

// WrapConfig wraps err as a configuration error.
func WrapConfig(err error, format string, args ...any) *Error {
	return newError(KindConfig, err, format, args...)
}

// Validation returns an input validation error.
func Validation(format string, args ...any) *Error {
	return newError(KindValidation, nil, format, args...)
}

// Storage wraps a persistence failure.
func Storage(err error, format string, args ...any) *Error {
	return newError(KindStorage, err, format, args...)
}

// Provider wraps a language-model provider failure.
func Provider(err error, format string, args ...any) *Error {
	return newError(KindProvider, err, format, args...)
}

// Auth wraps a failed webhook authentication.
func Auth(err error, format string, args ...any) *Error {
	return newError(KindAuth, err, format, args...)
}

// KindOf returns the kind of the first *Error in err's chain, or "" when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
