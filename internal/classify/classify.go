// Package classify maps low-level failures onto the stable error taxonomy
// exposed by the API. Each kind carries an HTTP status and a caller-safe
// message; internal diagnostics stay on the wrapped cause and are only
// surfaced when the server runs in diagnostics mode.
package classify

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	InvalidRequest    Kind = "invalid_request"
	UnsupportedSource Kind = "unsupported_source"
	TooManyRequests   Kind = "too_many_requests"
	AuthRequired      Kind = "auth_required"
	SourceUnavailable Kind = "source_unavailable"
	FetchTimeout      Kind = "fetch_timeout"
	FetchFailed       Kind = "fetch_failed"
	ArtifactNotFound  Kind = "artifact_not_found"
)

var statusForKind = map[Kind]int{
	InvalidRequest:    http.StatusBadRequest,
	UnsupportedSource: http.StatusBadRequest,
	TooManyRequests:   http.StatusTooManyRequests,
	AuthRequired:      http.StatusForbidden,
	SourceUnavailable: http.StatusNotFound,
	FetchTimeout:      http.StatusGatewayTimeout,
	FetchFailed:       http.StatusInternalServerError,
	ArtifactNotFound:  http.StatusInternalServerError,
}

// Error is a classified failure. Message is safe to echo to callers;
// Err holds the internal cause and is only exposed in diagnostics mode.
type Error struct {
	Kind    Kind
	Message string
	Example string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status code associated with the error's kind.
func (e *Error) Status() int {
	if status, ok := statusForKind[e.Kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// From coerces any error into a classified one. Unclassified errors become
// FetchFailed with a generic message so raw internals never reach callers.
func From(err error) *Error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr
	}
	return Wrap(FetchFailed, "Download failed", err)
}

func Is(err error, kind Kind) bool {
	var cerr *Error
	if errors.As(err, &cerr) {
		return cerr.Kind == kind
	}
	return false
}
