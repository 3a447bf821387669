// Package cmn provides common types, errors, and utilities shared by every
// xpod core subsystem: node registry, pod directory, tiered accessor,
// router, migration engine, supervisor, and registration.
package cmn

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error kinds named in the core's error handling design.
// Each maps to exactly one HTTP status at the router's response-writing edge.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthRequired
	KindAuthFailed
	KindNotFound
	KindAlreadyExists
	KindAlreadyOnTarget
	KindAlreadyMigrating
	KindCancelled
	KindBadRequest
	KindMethodNotAllowed
	KindNotImplemented
	KindUpstreamFailure
	KindStoreError
	KindTimeout
)

// Error is the one error type every subsystem returns; HTTPStatus() is the
// sole place kind-to-status mapping lives, so the router never has to guess.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus maps an error kind to the status code the §7 policy requires.
// StoreError and any kind not explicitly listed become 500; the underlying
// cause must never be serialized into the response body.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest, KindAlreadyOnTarget, KindCancelled:
		return http.StatusBadRequest
	case KindMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindUpstreamFailure:
		return http.StatusBadGateway
	case KindAuthRequired:
		return http.StatusUnauthorized
	case KindAuthFailed:
		return http.StatusForbidden
	case KindAlreadyExists, KindAlreadyMigrating:
		return http.StatusConflict
	case KindTimeout:
		return http.StatusGatewayTimeout
	default: // KindInternal, KindStoreError, unclassified
		return http.StatusInternalServerError
	}
}

func NewError(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

func NotFoundf(format string, args ...interface{}) *Error {
	return NewError(KindNotFound, fmt.Sprintf(format, args...))
}

func StoreErrorf(cause error, format string, args ...interface{}) *Error {
	return Wrap(KindStoreError, fmt.Sprintf(format, args...), cause)
}

// AsError unwraps err into *Error if possible, else wraps it as KindInternal.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(KindInternal, "internal error", err)
}

// WriteErr maps err to its HTTP status and writes a JSON body, mirroring the
// teacher's `p.writeErr` convention: the cause is logged by the caller, never
// serialized into the response.
func WriteErr(w http.ResponseWriter, err error) {
	e := AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.HTTPStatus())
	fmt.Fprintf(w, `{"error":%q}`, e.Message)
}
