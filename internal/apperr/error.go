package apperr

import (
	"errors"
	"fmt"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Severity orders errors by impact.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText encodes the severity by name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*s = SeverityLow
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	case "critical":
		*s = SeverityCritical
	default:
		return fmt.Errorf("unknown severity %q", text)
	}
	return nil
}

// Error codes.
const (
	CodeNetwork      = "NETWORK_ERROR"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeForbidden    = "FORBIDDEN"
	CodeNotFound     = "NOT_FOUND"
	CodeClient       = "CLIENT_ERROR"
	CodeUnknown      = "UNKNOWN_ERROR"
	CodeParse        = "PARSE_ERROR"
	CodeTransport    = "TRANSPORT_ERROR"
	CodePanic        = "PANIC"

	// Codes that are never recoverable.
	CodeSecurityViolation = "SECURITY_VIOLATION"
	CodeOutOfMemory       = "OUT_OF_MEMORY"
	CodeConfigInvalid     = "CONFIG_INVALID"
)

const httpCodePrefix = "HTTP_"

// HTTPCode returns the HTTP_<status> code for a response status.
func HTTPCode(status int) string {
	return httpCodePrefix + strconv.Itoa(status)
}

// HTTPStatus extracts the status from an HTTP_<status> code.
func HTTPStatus(code string) (int, bool) {
	rest, ok := strings.CutPrefix(code, httpCodePrefix)
	if !ok {
		return 0, false
	}
	status, err := strconv.Atoi(rest)
	if err != nil {
		return 0, false
	}
	return status, true
}

// Error is a normalized error value.
type Error struct {
	Message   string         `json:"message"`
	Code      string         `json:"code"`
	Severity  Severity       `json:"severity"`
	Technical string         `json:"technical,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context,omitempty"`

	cause error
}

// New creates an error with the given code, message and severity.
func New(code, message string, severity Severity) *Error {
	return &Error{
		Message:   message,
		Code:      code,
		Severity:  severity,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// Wrap creates an error with an underlying cause. Technical is taken from
// the cause.
func Wrap(cause error, code, message string, severity Severity) *Error {
	e := New(code, message, severity)
	e.cause = cause
	if cause != nil {
		e.Technical = technical(cause)
	}
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Technical != "" {
		return e.Code + ": " + e.Message + " (" + e.Technical + ")"
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// With sets a single context key and returns e for chaining.
func (e *Error) With(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Merge copies every entry of ctx into the error context. Existing keys are
// overwritten.
func (e *Error) Merge(ctx map[string]any) *Error {
	if len(ctx) == 0 {
		return e
	}
	if e.Context == nil {
		e.Context = make(map[string]any, len(ctx))
	}
	maps.Copy(e.Context, ctx)
	return e
}

// Recoverable reports whether the error is worth retrying.
func (e *Error) Recoverable() bool {
	return IsRecoverable(e)
}

// From converts err into an *Error. If err already is (or wraps) an *Error
// the context is merged into it and it is returned otherwise unchanged.
// Any other error becomes UNKNOWN_ERROR with medium severity.
func From(err error, ctx ...map[string]any) *Error {
	if err == nil {
		return nil
	}

	var e *Error
	if !errors.As(err, &e) {
		e = Wrap(err, CodeUnknown, FriendlyMessage(CodeUnknown), SeverityMedium)
	} else if e == nil {
		// A typed nil *Error stored in an error interface.
		e = New(CodeUnknown, FriendlyMessage(CodeUnknown), SeverityMedium)
	}
	for _, c := range ctx {
		e.Merge(c)
	}
	return e
}

// FromStatus builds the error for a non-success HTTP status.
func FromStatus(status int, method, url string) *Error {
	severity := SeverityMedium
	if status >= 500 {
		severity = SeverityHigh
	}

	code := HTTPCode(status)
	e := New(code, FriendlyMessage(code), severity)
	e.Technical = fmt.Sprintf("%s %s: %d %s", method, url, status, http.StatusText(status))
	e.Context["status"] = status
	if method != "" {
		e.Context["method"] = method
	}
	if url != "" {
		e.Context["url"] = url
	}
	return e
}

// FromResponse builds the error for a completed but unsuccessful response.
func FromResponse(resp *http.Response) *Error {
	if resp == nil {
		return New(CodeUnknown, FriendlyMessage(CodeUnknown), SeverityMedium)
	}

	var method, url string
	if resp.Request != nil {
		method = resp.Request.Method
		if resp.Request.URL != nil {
			url = resp.Request.URL.String()
		}
	}
	return FromStatus(resp.StatusCode, method, url)
}

// Network wraps a transport-level failure (unreachable, offline, reset).
func Network(err error) *Error {
	return Wrap(err, CodeNetwork, FriendlyMessage(CodeNetwork), SeverityHigh)
}

// FromPanic converts a recovered panic value.
func FromPanic(recovered any) *Error {
	var cause error
	switch v := recovered.(type) {
	case error:
		cause = v
	default:
		cause = fmt.Errorf("%v", v)
	}
	e := Wrap(cause, CodePanic, FriendlyMessage(CodePanic), SeverityCritical)
	e.Technical = "panic: " + cause.Error()
	return e
}

func technical(err error) string {
	return fmt.Sprintf("%T: %s", err, err.Error())
}
