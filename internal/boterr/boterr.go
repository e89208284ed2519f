// Package boterr defines the classified error type shared by the whole
// pipeline. Every upstream failure is mapped into a closed set of kinds so
// that callers can branch on classification instead of inspecting transport
// error shapes.
package boterr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies the failure class of a bot error.
type Kind string

const (
	PlatformForbidden Kind = "platform:forbidden"
	PlatformAuth      Kind = "platform:auth"
	PlatformRateLimit Kind = "platform:rate-limit"
	PlatformUnknown   Kind = "platform:unknown"
	InvalidAnswer     Kind = "answer-engine:invalid-response"
	Network           Kind = "network"
	Moderation        Kind = "moderation"
)

// Error is a classified pipeline failure. IsFinal means retrying the same
// input is futile and the offending mention should be skipped permanently.
type Error struct {
	Kind    Kind
	IsFinal bool
	Status  int

	msg   string
	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.cause)
	}
	return e.msg
}

func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a classified error without a cause.
func New(kind Kind, isFinal bool, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, IsFinal: isFinal, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(err error, kind Kind, isFinal bool, msg string) *Error {
	return &Error{Kind: kind, IsFinal: isFinal, msg: msg, cause: err}
}

// As extracts a classified error from err's chain.
func As(err error) (*Error, bool) {
	var be *Error
	if errors.As(err, &be) {
		return be, true
	}
	return nil, false
}

// FromStatus maps a platform HTTP status code to a classified error. The
// mapping is the single place transport status codes are interpreted:
//
//	403, 404          -> forbidden, final (deleted or protected content)
//	400 invalid token -> auth, transient (refresh credentials and retry)
//	429               -> rate limit, transient
//	other 4xx         -> unknown, final
//	5xx               -> unknown, transient
func FromStatus(status int, detail, label string) *Error {
	msg := fmt.Sprintf("%s: platform returned status %d", label, status)
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}

	switch {
	case status == 403 || status == 404:
		return &Error{Kind: PlatformForbidden, IsFinal: true, Status: status, msg: msg}
	case status == 400 && strings.Contains(strings.ToLower(detail), "token"):
		return &Error{Kind: PlatformAuth, Status: status, msg: msg}
	case status == 429:
		return &Error{Kind: PlatformRateLimit, Status: status, msg: msg}
	case status >= 400 && status < 500:
		return &Error{Kind: PlatformUnknown, IsFinal: true, Status: status, msg: msg}
	default:
		return &Error{Kind: PlatformUnknown, Status: status, msg: msg}
	}
}
