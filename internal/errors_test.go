package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "transient error", err: Transient("network", errors.New("reset")), want: true},
		{name: "wrapped transient", err: fmt.Errorf("fetch: %w", Transient("network", errors.New("reset"))), want: true},
		{name: "stale element", err: fmt.Errorf("click: %w", ErrStaleElement), want: true},
		{name: "net error", err: &net.OpError{Op: "dial", Err: errors.New("refused")}, want: true},
		{name: "rejected credentials", err: ErrCredentialsRejected, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "context canceled", err: context.Canceled, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAuthError(t *testing.T) {
	err := &AuthError{PlatformID: "em", Kind: AuthInvalidCredentials, Err: ErrCredentialsRejected}

	if !strings.Contains(err.Error(), "invalid_credentials") {
		t.Errorf("AuthError.Error() = %q, want kind in message", err.Error())
	}
	if !errors.Is(err, ErrCredentialsRejected) {
		t.Error("AuthError should unwrap to ErrCredentialsRejected")
	}

	wrapped := fmt.Errorf("session: %w", err)
	if !IsAuthError(wrapped, AuthInvalidCredentials) {
		t.Error("IsAuthError(wrapped, InvalidCredentials) = false")
	}
	if IsAuthError(wrapped, AuthSecondFactorTimeout) {
		t.Error("IsAuthError(wrapped, SecondFactorTimeout) = true")
	}
	if !IsAuthError(wrapped, "") {
		t.Error("IsAuthError(wrapped, \"\") should match any kind")
	}

	bare := &AuthError{PlatformID: "em", Kind: AuthSecondFactorTimeout}
	if bare.Error() == "" || bare.Unwrap() != nil {
		t.Errorf("bare AuthError = %q, unwrap %v", bare.Error(), bare.Unwrap())
	}
}

func TestTerminalFailure(t *testing.T) {
	last := Transient("network", errors.New("timeout"))
	err := &TerminalFailure{Op: "fetch_pass", Attempts: 3, Err: last}

	if !strings.Contains(err.Error(), "3 attempt") {
		t.Errorf("TerminalFailure.Error() = %q", err.Error())
	}
	var te *TransientError
	if !errors.As(err, &te) {
		t.Error("TerminalFailure should unwrap to the last TransientError")
	}
}

func TestPassFailure(t *testing.T) {
	err := &PassFailure{PlatformID: "em", ExternalID: "MS-1", PassIndex: 1, PassName: "reviewers", Err: ErrPassTimeout}
	if !errors.Is(err, ErrPassTimeout) {
		t.Error("PassFailure should unwrap to ErrPassTimeout")
	}
	if !strings.Contains(err.Error(), "em/MS-1") {
		t.Errorf("PassFailure.Error() = %q", err.Error())
	}
}

func TestStorageError(t *testing.T) {
	originalErr := errors.New("permission denied")
	err := &StorageError{Path: "/test/state.db", Op: "open", Err: originalErr}

	if !strings.Contains(err.Error(), "open /test/state.db") {
		t.Errorf("StorageError.Error() = %q", err.Error())
	}
	if !errors.Is(err, originalErr) {
		t.Error("StorageError should unwrap to original error")
	}
}

func TestResolutionFailure(t *testing.T) {
	err := &ResolutionFailure{Handle: Handle{Kind: "popup", Ref: "#email"}, Err: errors.New("no dialog")}
	if !strings.Contains(err.Error(), "popup #email") {
		t.Errorf("ResolutionFailure.Error() = %q", err.Error())
	}
}
