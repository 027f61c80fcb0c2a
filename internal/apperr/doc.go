// Package apperr implements the structured error model shared by every
// network-facing component.
//
// An *Error carries:
//   - a stable symbolic Code (NETWORK_ERROR, HTTP_503, ...)
//   - a user-facing Message and a diagnostic Technical string
//   - an ordered Severity (low < medium < high < critical)
//   - a creation Timestamp and an open Context bag for call-site metadata
//
// Raw errors are converted with From before they are retried, reported or
// shown to a user. FriendlyMessage, SuggestedActions and IsRecoverable are
// pure lookups over the error code.
package apperr
