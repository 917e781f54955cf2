package internal

import (
	"context"
	"sync"
	"time"
)

// SessionState is a state of the authentication state machine
type SessionState int

const (
	StateUnauthenticated SessionState = iota
	StateCredentialsSubmitted
	StateAwaitingSecondFactor
	StateAuthenticated
	StateFailed
	StateExpired
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateCredentialsSubmitted:
		return "credentials_submitted"
	case StateAwaitingSecondFactor:
		return "awaiting_second_factor"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible without a
// new login.
func (s SessionState) Terminal() bool {
	return s == StateFailed || s == StateExpired
}

// Session is one live interaction stream with a platform. All adapter
// calls against a Session go through Do so they never interleave.
type Session struct {
	PlatformID           string
	CredentialRef        string
	CreatedAt            time.Time
	SecondFactorDeadline time.Time

	// Handle carries adapter-owned page state (cookies, browser tab).
	Handle any

	mu             sync.Mutex // guards state fields below
	state          SessionState
	lastActivityAt time.Time
	failure        error

	serial sync.Mutex // serializes adapter calls
}

// NewSession returns an unauthenticated session.
func NewSession(platformID, credentialRef string, now time.Time) *Session {
	return &Session{
		PlatformID:     platformID,
		CredentialRef:  credentialRef,
		CreatedAt:      now,
		state:          StateUnauthenticated,
		lastActivityAt: now,
	}
}

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivityAt returns the time of the last adapter call.
func (s *Session) LastActivityAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivityAt
}

// Failure returns the error that moved the session to Failed, if any.
func (s *Session) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

func (s *Session) setState(state SessionState, failure error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if failure != nil {
		s.failure = failure
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivityAt = now
}

// Do runs fn as the only in-flight operation against the session.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	s.serial.Lock()
	defer s.serial.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(ctx)
}
