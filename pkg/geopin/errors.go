package geopin

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure an operation can surface.
type ErrorKind int

const (
	// KindTransport is a network or connection failure below the protocol
	// layer, passed through unmodified as the wrapped cause.
	KindTransport ErrorKind = iota
	// KindNotAuthorized is a signing or credential failure. Never retried.
	KindNotAuthorized
	// KindNoSuchRecord is the service reporting that a requested identifier
	// does not exist.
	KindNoSuchRecord
	// KindUnsupportedOperation is a client-side precondition violation:
	// the requested decoder is not valid for the operation. Raised before
	// any network activity.
	KindUnsupportedOperation
	// KindMalformedResponse means the decoder could not parse the body
	// against the expected shape.
	KindMalformedResponse
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindNotAuthorized:
		return "not_authorized"
	case KindNoSuchRecord:
		return "no_such_record"
	case KindUnsupportedOperation:
		return "unsupported_operation"
	case KindMalformedResponse:
		return "malformed_response"
	}
	return "unknown"
}

// Error is the typed failure returned by every operation. Status carries the
// service-declared code when one was parsed from an error body; it is zero
// for purely client-side failures.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("geopin: %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("geopin: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error of the same kind, so callers can write
// errors.Is(err, geopin.ErrNoSuchRecord).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Status == 0 && t.Message == ""
}

// Kind sentinels for use with errors.Is.
var (
	ErrTransport            = &Error{Kind: KindTransport}
	ErrNotAuthorized        = &Error{Kind: KindNotAuthorized}
	ErrNoSuchRecord         = &Error{Kind: KindNoSuchRecord}
	ErrUnsupportedOperation = &Error{Kind: KindUnsupportedOperation}
	ErrMalformedResponse    = &Error{Kind: KindMalformedResponse}
)

func notAuthorized(cause error) *Error {
	msg := "request signing failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindNotAuthorized, Status: http.StatusUnauthorized, Message: msg, cause: cause}
}

func transportFailure(cause error) *Error {
	return &Error{Kind: KindTransport, Message: cause.Error(), cause: cause}
}

func unsupported(format string, args ...any) *Error {
	return &Error{Kind: KindUnsupportedOperation, Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func malformed(cause error, format string, args ...any) *Error {
	return &Error{Kind: KindMalformedResponse, Message: fmt.Sprintf(format, args...), cause: cause}
}

// serviceError maps a non-2xx response to the taxonomy. The structured error
// body ({"code": ..., "message": ...}) takes precedence over the transport
// status when present.
func serviceError(status int, body []byte) *Error {
	code := status
	message := http.StatusText(status)

	var payload struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Code != 0 {
			code = payload.Code
		}
		if payload.Message != "" {
			message = payload.Message
		}
	}

	kind := KindTransport
	switch code {
	case http.StatusUnauthorized, http.StatusForbidden:
		kind = KindNotAuthorized
	case http.StatusNotFound, http.StatusGone:
		kind = KindNoSuchRecord
	}
	return &Error{Kind: kind, Status: code, Message: message}
}
