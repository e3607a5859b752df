package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a command failure so the gateway can map it to a
// wire response without string matching.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindInvalidState Kind = "invalid_state"
	KindValidation   Kind = "validation"
	KindForbidden    Kind = "forbidden"
	KindInternal     Kind = "internal"
)

var kind2http = map[Kind]int{
	KindNotFound:     http.StatusNotFound,
	KindInvalidState: http.StatusConflict,
	KindValidation:   http.StatusBadRequest,
	KindForbidden:    http.StatusForbidden,
	KindInternal:     http.StatusInternalServerError,
}

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %s", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) HTTPStatusCode() int {
	if c, ok := kind2http[e.Kind]; ok {
		return c
	}
	return http.StatusInternalServerError
}

func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func InvalidStatef(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Forbiddenf(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "internal error", err: err}
}

// Convert returns err as an *Error, wrapping unknown errors as internal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}
	return e
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	return Convert(err).Kind
}
