package internal

import (
	"errors"
	"fmt"
	"net"
)

var (
	// ErrStaleElement is returned by adapters when a page element went
	// away between lookup and use. It is always transient.
	ErrStaleElement = errors.New("stale element")

	// ErrCredentialsRejected is returned by adapters when the platform
	// refuses the submitted credentials.
	ErrCredentialsRejected = errors.New("credentials rejected")

	// ErrCredentialsUnavailable is returned by a CredentialSource that
	// has no bundle for the requested reference.
	ErrCredentialsUnavailable = errors.New("credentials unavailable")

	// ErrNotAuthenticated is returned by adapters when the platform
	// bounced an operation back to its login page.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrPassTimeout is the cancellation cause of a pass that overran
	// its wall-clock budget.
	ErrPassTimeout = errors.New("pass timed out")

	// ErrRunCancelled reports a cooperative stop of a run.
	ErrRunCancelled = errors.New("run cancelled")
)

// TransientError marks a failure worth retrying (network, stale element)
type TransientError struct {
	Kind string // "network", "stale_element", "timeout"
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s error: %v", e.Kind, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a TransientError of the given kind.
func Transient(kind string, err error) error {
	return &TransientError{Kind: kind, Err: err}
}

// IsTransient reports whether err belongs to the retryable category.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, ErrStaleElement) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// AuthErrorKind distinguishes terminal authentication outcomes
type AuthErrorKind string

const (
	AuthInvalidCredentials  AuthErrorKind = "invalid_credentials"
	AuthSecondFactorTimeout AuthErrorKind = "second_factor_timeout"
	AuthExpired             AuthErrorKind = "expired"
)

// AuthError is terminal for the Session that produced it
type AuthError struct {
	PlatformID string
	Kind       AuthErrorKind
	Err        error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("auth error [%s]: %s", e.PlatformID, e.Kind)
	}
	return fmt.Sprintf("auth error [%s]: %s: %v", e.PlatformID, e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an AuthError of the given kind.
// An empty kind matches any AuthError.
func IsAuthError(err error, kind AuthErrorKind) bool {
	var ae *AuthError
	if !errors.As(err, &ae) {
		return false
	}
	return kind == "" || ae.Kind == kind
}

// TerminalFailure is returned by the RetryController once the attempt
// budget for transient failures is spent
type TerminalFailure struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TerminalFailure) Error() string {
	return fmt.Sprintf("%s failed after %d attempt(s): %v", e.Op, e.Attempts, e.Err)
}

func (e *TerminalFailure) Unwrap() error {
	return e.Err
}

// ResolutionFailure describes a deferred reference that could not be
// resolved. The resolver logs it and degrades the field to empty.
type ResolutionFailure struct {
	Handle Handle
	Err    error
}

func (e *ResolutionFailure) Error() string {
	return fmt.Sprintf("resolution failure [%s %s]: %v", e.Handle.Kind, e.Handle.Ref, e.Err)
}

func (e *ResolutionFailure) Unwrap() error {
	return e.Err
}

// PassFailure is recorded per work item per pass
type PassFailure struct {
	PlatformID string
	ExternalID string
	PassIndex  int
	PassName   string
	Err        error
}

func (e *PassFailure) Error() string {
	return fmt.Sprintf("pass %d (%s) failed for %s/%s: %v", e.PassIndex, e.PassName, e.PlatformID, e.ExternalID, e.Err)
}

func (e *PassFailure) Unwrap() error {
	return e.Err
}

// StorageError represents errors accessing the durable store
type StorageError struct {
	Path string
	Op   string // "open", "migrate", "read", "write"
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ConfigError represents an invalid configuration value
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error [%s]: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}
