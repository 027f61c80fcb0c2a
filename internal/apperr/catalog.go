package apperr

import (
	"slices"
	"strings"
)

const fallbackMessage = "An unexpected error occurred. Please try again."

var friendlyMessages = map[string]string{
	CodeNetwork:           "Unable to reach the server. Please check your internet connection.",
	CodeUnauthorized:      "Your session has expired. Please sign in again.",
	CodeForbidden:         "You do not have permission to perform this action.",
	CodeNotFound:          "The requested resource could not be found.",
	CodeClient:            "The request could not be processed. Please check your input.",
	CodeUnknown:           fallbackMessage,
	CodeParse:             "Received data in an unexpected format.",
	CodeTransport:         "The live connection was interrupted. Reconnecting automatically.",
	CodePanic:             "An internal error occurred.",
	CodeSecurityViolation: "A security violation was detected. The operation was blocked.",
	CodeOutOfMemory:       "The application ran out of memory.",
	CodeConfigInvalid:     "The application is misconfigured.",
	"HTTP_400":            "The request was invalid. Please check your input.",
	"HTTP_401":            "Your session has expired. Please sign in again.",
	"HTTP_403":            "You do not have permission to perform this action.",
	"HTTP_404":            "The requested resource could not be found.",
	"HTTP_408":            "The request timed out. Please try again.",
	"HTTP_429":            "Too many requests. Please wait a moment and try again.",
	"HTTP_500":            "The server encountered an error. Please try again later.",
	"HTTP_502":            "The server is unreachable right now. Please try again later.",
	"HTTP_503":            "Service temporarily unavailable. Please try again shortly.",
	"HTTP_504":            "The server took too long to respond. Please try again.",
}

// FriendlyMessage returns the user-facing text for a code. Unknown codes
// get a fixed fallback message.
func FriendlyMessage(code string) string {
	if msg, ok := friendlyMessages[code]; ok {
		return msg
	}
	if status, ok := HTTPStatus(code); ok && status >= 500 {
		return friendlyMessages["HTTP_500"]
	}
	return fallbackMessage
}

var genericActions = []string{
	"Try again in a few moments",
	"Contact support if the problem persists",
}

var suggestedActions = map[string][]string{
	CodeNetwork: {
		"Check your internet connection",
		"Verify the server address is correct",
		"Try again in a few moments",
	},
	CodeUnauthorized: {
		"Sign in again",
		"Check that your credentials are still valid",
	},
	CodeForbidden: {
		"Confirm you have access to this resource",
		"Ask an administrator to grant the required permission",
	},
	CodeNotFound: {
		"Check the address or identifier",
		"Refresh the page to load current data",
	},
	CodeClient: {
		"Review the submitted values",
		"Correct any invalid fields and retry",
	},
	CodeParse: {
		"Refresh to reload the data",
		"Report the issue if it keeps happening",
	},
	CodeTransport: {
		"Wait for the connection to recover",
		"Reconnect manually if the live feed stays offline",
	},
	CodeSecurityViolation: {
		"Stop the current operation",
		"Notify the security team",
	},
	CodeOutOfMemory: {
		"Close unused views",
		"Restart the application",
	},
	"HTTP_429": {
		"Wait a moment before retrying",
		"Reduce the request rate",
	},
	"HTTP_503": {
		"Wait a few minutes and retry",
		"Check the service status page",
	},
}

// SuggestedActions returns remediation hints for e, most useful first. The
// returned slice is a copy.
func SuggestedActions(e *Error) []string {
	if e == nil {
		return slices.Clone(genericActions)
	}
	if actions, ok := suggestedActions[e.Code]; ok {
		return slices.Clone(actions)
	}
	if status, ok := HTTPStatus(e.Code); ok {
		switch {
		case status == 401:
			return slices.Clone(suggestedActions[CodeUnauthorized])
		case status == 403:
			return slices.Clone(suggestedActions[CodeForbidden])
		case status == 404:
			return slices.Clone(suggestedActions[CodeNotFound])
		case status >= 500:
			return []string{
				"Wait a few minutes and retry",
				"Contact support if the server keeps failing",
			}
		case status >= 400:
			return slices.Clone(suggestedActions[CodeClient])
		}
	}
	return slices.Clone(genericActions)
}

var fatalCodes = map[string]struct{}{
	CodeSecurityViolation: {},
	CodeOutOfMemory:       {},
	CodeConfigInvalid:     {},
	CodePanic:             {},
}

// IsRecoverable reports whether an operation that failed with e may succeed
// when retried. NETWORK_ERROR and 5xx codes are recoverable, the fatal set
// never is, and everything else defaults to recoverable.
func IsRecoverable(e *Error) bool {
	if e == nil {
		return false
	}
	if _, fatal := fatalCodes[e.Code]; fatal {
		return false
	}
	if e.Code == CodeNetwork {
		return true
	}
	if status, ok := HTTPStatus(e.Code); ok && status >= 500 {
		return true
	}
	return true
}

// View is the user-facing rendering of an error.
type View struct {
	Title   string   `json:"title"`
	Actions []string `json:"actions"`
	Details string   `json:"details,omitempty"`
}

// UserView renders e for display. Technical details are included only when
// requested.
func UserView(e *Error, technical bool) View {
	if e == nil {
		return View{Title: fallbackMessage, Actions: slices.Clone(genericActions)}
	}
	v := View{
		Title:   FriendlyMessage(e.Code),
		Actions: SuggestedActions(e),
	}
	if technical {
		v.Details = strings.TrimSpace(e.Code + " " + e.Technical)
	}
	return v
}
