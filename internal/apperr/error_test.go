package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFrom_WrapsPlainError(t *testing.T) {
	raw := errors.New("boom")

	e := From(raw, map[string]any{"op": "load"})

	if e.Code != CodeUnknown {
		t.Errorf("Code = %q, want %q", e.Code, CodeUnknown)
	}
	if e.Severity != SeverityMedium {
		t.Errorf("Severity = %v, want medium", e.Severity)
	}
	if !strings.Contains(e.Technical, "boom") {
		t.Errorf("Technical = %q, should contain original message", e.Technical)
	}
	if e.Context["op"] != "load" {
		t.Errorf("Context[op] = %v, want load", e.Context["op"])
	}
	if !errors.Is(e, raw) {
		t.Error("expected errors.Is to find the original error")
	}
}

func TestFrom_Nil(t *testing.T) {
	if From(nil) != nil {
		t.Error("From(nil) should return nil")
	}
}

func TestFrom_ExistingErrorMergesContext(t *testing.T) {
	orig := New(CodeNetwork, "offline", SeverityHigh).With("attempt", 1)

	got := From(orig, map[string]any{"url": "ws://x"})

	if got != orig {
		t.Fatal("expected the same *Error instance back")
	}
	if got.Code != CodeNetwork || got.Severity != SeverityHigh || got.Message != "offline" {
		t.Errorf("identity fields changed: %+v", got)
	}
	if got.Context["attempt"] != 1 || got.Context["url"] != "ws://x" {
		t.Errorf("Context = %v, want both keys", got.Context)
	}
}

func TestFrom_TypedNil(t *testing.T) {
	var missing *Error
	var err error = missing

	got := From(err, map[string]any{"attempts": 1})

	if got == nil {
		t.Fatal("From returned nil for a non-nil error interface")
	}
	if got.Code != CodeUnknown {
		t.Errorf("Code = %q, want %q", got.Code, CodeUnknown)
	}
	if got.Context["attempts"] != 1 {
		t.Errorf("Context = %v", got.Context)
	}
	if missing.Error() != "<nil>" {
		t.Errorf("nil Error() = %q", missing.Error())
	}
}

func TestFrom_FindsWrappedError(t *testing.T) {
	orig := New(CodeForbidden, "nope", SeverityMedium)
	wrapped := fmt.Errorf("load dashboard: %w", orig)

	if got := From(wrapped); got != orig {
		t.Errorf("From(wrapped) = %v, want the inner *Error", got)
	}
}

func TestFrom_Idempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("wrapping twice keeps code, severity and message", prop.ForAll(
		func(msg, key, value string) bool {
			first := From(errors.New(msg))
			second := From(first, map[string]any{key: value})

			return second.Code == first.Code &&
				second.Severity == first.Severity &&
				second.Message == first.Message &&
				second.Context[key] == value
		},
		gen.AnyString(),
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("structured errors keep their code", prop.ForAll(
		func(code string, sev int) bool {
			e := New(code, "m", Severity(sev))
			again := From(From(e))
			return again.Code == code && again.Severity == Severity(sev)
		},
		gen.OneConstOf(CodeNetwork, CodeForbidden, CodeParse, "HTTP_418"),
		gen.IntRange(0, 3),
	))

	properties.TestingRun(t)
}

func TestFromResponse(t *testing.T) {
	tests := []struct {
		status   int
		code     string
		severity Severity
	}{
		{400, "HTTP_400", SeverityMedium},
		{404, "HTTP_404", SeverityMedium},
		{499, "HTTP_499", SeverityMedium},
		{500, "HTTP_500", SeverityHigh},
		{503, "HTTP_503", SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://api.local/status", nil)
			resp := &http.Response{StatusCode: tt.status, Request: req}

			e := FromResponse(resp)

			if e.Code != tt.code {
				t.Errorf("Code = %q, want %q", e.Code, tt.code)
			}
			if e.Severity != tt.severity {
				t.Errorf("Severity = %v, want %v", e.Severity, tt.severity)
			}
			if e.Context["status"] != tt.status {
				t.Errorf("Context[status] = %v, want %d", e.Context["status"], tt.status)
			}
			if e.Context["method"] != http.MethodGet {
				t.Errorf("Context[method] = %v, want GET", e.Context["method"])
			}
		})
	}
}

func TestHTTP503_RecoverableWithFixedMessage(t *testing.T) {
	e := FromStatus(http.StatusServiceUnavailable, http.MethodGet, "/api/status")

	if !IsRecoverable(e) {
		t.Error("503 should be recoverable")
	}
	if got := FriendlyMessage("HTTP_503"); got != "Service temporarily unavailable. Please try again shortly." {
		t.Errorf("FriendlyMessage(HTTP_503) = %q", got)
	}
}

func TestFriendlyMessage_Fallback(t *testing.T) {
	for _, code := range []string{"", "NOPE", "HTTP_", "HTTP_abc", "HTTP_418"} {
		if got := FriendlyMessage(code); got != fallbackMessage {
			t.Errorf("FriendlyMessage(%q) = %q, want fallback", code, got)
		}
	}
	if got := FriendlyMessage("HTTP_599"); got != friendlyMessages["HTTP_500"] {
		t.Errorf("FriendlyMessage(HTTP_599) = %q, want generic server message", got)
	}
}

func TestSuggestedActions(t *testing.T) {
	t.Run("known code", func(t *testing.T) {
		got := SuggestedActions(New(CodeNetwork, "", SeverityHigh))
		if len(got) != 3 || got[0] != "Check your internet connection" {
			t.Errorf("SuggestedActions(NETWORK_ERROR) = %v", got)
		}
	})

	t.Run("unknown code falls back to two generic actions", func(t *testing.T) {
		got := SuggestedActions(New("SOMETHING_ELSE", "", SeverityLow))
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		if got[0] != genericActions[0] || got[1] != genericActions[1] {
			t.Errorf("SuggestedActions = %v, want %v", got, genericActions)
		}
	})

	t.Run("deterministic and copied", func(t *testing.T) {
		e := New(CodeForbidden, "", SeverityMedium)
		a := SuggestedActions(e)
		a[0] = "mutated"
		b := SuggestedActions(e)
		if b[0] == "mutated" {
			t.Error("caller mutation leaked into the catalog")
		}
	})

	t.Run("http status classes", func(t *testing.T) {
		if got := SuggestedActions(FromStatus(401, "", "")); got[0] != "Sign in again" {
			t.Errorf("401 actions = %v", got)
		}
		if got := SuggestedActions(FromStatus(502, "", "")); len(got) != 2 {
			t.Errorf("502 actions = %v", got)
		}
		if got := SuggestedActions(FromStatus(422, "", "")); got[0] != "Review the submitted values" {
			t.Errorf("422 actions = %v", got)
		}
	})
}

func TestIsRecoverable(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{CodeNetwork, true},
		{"HTTP_500", true},
		{"HTTP_503", true},
		{"HTTP_404", true},
		{CodeUnknown, true},
		{CodeSecurityViolation, false},
		{CodeOutOfMemory, false},
		{CodePanic, false},
		{CodeConfigInvalid, false},
	}

	for _, tt := range tests {
		if got := IsRecoverable(New(tt.code, "", SeverityMedium)); got != tt.want {
			t.Errorf("IsRecoverable(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}

	if IsRecoverable(nil) {
		t.Error("IsRecoverable(nil) should be false")
	}
}

func TestFromPanic(t *testing.T) {
	e := FromPanic("index out of range")

	if e.Code != CodePanic {
		t.Errorf("Code = %q, want %q", e.Code, CodePanic)
	}
	if e.Severity != SeverityCritical {
		t.Errorf("Severity = %v, want critical", e.Severity)
	}
	if !strings.Contains(e.Technical, "index out of range") {
		t.Errorf("Technical = %q", e.Technical)
	}
}

func TestError_JSON(t *testing.T) {
	e := Network(errors.New("dial tcp: connection refused")).With("url", "ws://localhost")

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded["code"] != CodeNetwork {
		t.Errorf("code = %v", decoded["code"])
	}
	if decoded["severity"] != "high" {
		t.Errorf("severity = %v, want high", decoded["severity"])
	}

	var back Error
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal into Error failed: %v", err)
	}
	if back.Severity != SeverityHigh {
		t.Errorf("Severity = %v, want high", back.Severity)
	}
}

func TestUserView(t *testing.T) {
	e := FromStatus(503, http.MethodGet, "/api/status")

	plain := UserView(e, false)
	if plain.Details != "" {
		t.Errorf("Details = %q, should be hidden", plain.Details)
	}
	if plain.Title != FriendlyMessage("HTTP_503") {
		t.Errorf("Title = %q", plain.Title)
	}

	detailed := UserView(e, true)
	if !strings.Contains(detailed.Details, "HTTP_503") {
		t.Errorf("Details = %q, want code", detailed.Details)
	}
}
