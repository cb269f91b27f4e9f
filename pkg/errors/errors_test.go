// SPDX-License-Identifier: Apache-2.0
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("connection refused")
	e := New(CodeCollaboratorFailure, "weather lookup failed", cause)

	if e.Code != CodeCollaboratorFailure {
		t.Errorf("expected CodeCollaboratorFailure, got %v", e.Code)
	}
	if e.Message != "weather lookup failed" {
		t.Errorf("unexpected message %q", e.Message)
	}
	if !errors.Is(e, cause) {
		t.Errorf("expected errors.Is to find the cause")
	}
	if e.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", e.StatusCode)
	}
}

func TestError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "with cause",
			err:      New(CodeTimeout, "operation timed out", errors.New("deadline exceeded")),
			expected: "[TIMEOUT] operation timed out: deadline exceeded",
		},
		{
			name:     "without cause",
			err:      Newf(CodeUnknownAddress, "no mailbox for %s", "agent://nobody"),
			expected: "[UNKNOWN_ADDRESS] no mailbox for agent://nobody",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	base := New(CodeDuplicateAddress, "address taken", nil)
	wrapped := fmt.Errorf("register weather: %w", base)

	if !HasCode(wrapped, CodeDuplicateAddress) {
		t.Errorf("expected HasCode to see through fmt wrapping")
	}
	if HasCode(wrapped, CodeUnknownAddress) {
		t.Errorf("unexpected code match")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Errorf("expected untyped errors to map to CodeInternal")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
	typed := New(CodeNoReply, "no reply", nil)
	if Wrap(typed) != typed {
		t.Errorf("expected typed error to be returned unchanged")
	}
	wrapped := Wrap(errors.New("boom"))
	if wrapped.Code != CodeInternal {
		t.Errorf("expected CodeInternal, got %s", wrapped.Code)
	}
}

func TestRecoverable(t *testing.T) {
	e := New(CodeMailboxFull, "mailbox full", nil)
	if IsRecoverable(e) {
		t.Errorf("expected recoverable false by default")
	}
	e.WithRecoverable(true)
	if !IsRecoverable(fmt.Errorf("send: %w", e)) {
		t.Errorf("expected recoverable true through wrapping")
	}
}

func TestMarshalJSON(t *testing.T) {
	e := New(CodeStartupFailure, "startup failed", errors.New("keys.txt missing")).
		WithContext("agent", "agent://weather")

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["code"] != "STARTUP_FAILURE" {
		t.Errorf("unexpected code %v", decoded["code"])
	}
	if decoded["error"] != "keys.txt missing" {
		t.Errorf("unexpected cause %v", decoded["error"])
	}
	ctx, ok := decoded["context"].(map[string]any)
	if !ok || ctx["agent"] != "agent://weather" {
		t.Errorf("expected agent context, got %v", decoded["context"])
	}
}

func TestStatusCodes(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{CodeUnknownAddress, http.StatusNotFound},
		{CodeInvalidInput, http.StatusBadRequest},
		{CodeNoReply, http.StatusGatewayTimeout},
		{CodeMailboxFull, http.StatusTooManyRequests},
		{CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			if got := New(tt.code, "x", nil).StatusCode; got != tt.want {
				t.Errorf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestHasCodeSeesCause(t *testing.T) {
	cause := New(CodeNotFound, "credential MAPSKEY is not set", nil)
	err := New(CodeStartupFailure, "startup failed", cause)

	if !HasCode(err, CodeStartupFailure) || !HasCode(err, CodeNotFound) {
		t.Errorf("expected both codes in the chain")
	}
	if CodeOf(err) != CodeStartupFailure {
		t.Errorf("CodeOf should report the outermost code, got %s", CodeOf(err))
	}
}

func TestStatusCodeOfError(t *testing.T) {
	wrapped := fmt.Errorf("query: %w", New(CodeNoReply, "no reply", nil))
	if got := StatusCode(wrapped); got != http.StatusGatewayTimeout {
		t.Errorf("expected 504 through wrapping, got %d", got)
	}
	if got := StatusCode(errors.New("plain")); got != http.StatusInternalServerError {
		t.Errorf("expected 500 for untyped errors, got %d", got)
	}
	if got := StatusCode(&Error{Code: CodeNotFound}); got != http.StatusNotFound {
		t.Errorf("expected 404 when StatusCode is unset, got %d", got)
	}
}
