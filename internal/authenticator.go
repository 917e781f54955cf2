package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/iksnae/review-sweep/internal/clock"
)

// AuthVariant selects the login ceremony of a platform
type AuthVariant string

const (
	AuthPassword AuthVariant = "password" // no second factor expected
	AuthOTP      AuthVariant = "otp"      // password + out-of-band code
	AuthSSO      AuthVariant = "sso"      // redirect-based single sign-on
)

// AuthConfig bounds the suspension points of the login ceremony
type AuthConfig struct {
	SecondFactorDeadline time.Duration `yaml:"second_factor_deadline"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
}

// DefaultAuthConfig is used for unset fields.
var DefaultAuthConfig = AuthConfig{
	SecondFactorDeadline: 120 * time.Second,
	PollInterval:         5 * time.Second,
	IdleTimeout:          30 * time.Minute,
}

var errSecondFactorDeadline = errors.New("second factor deadline reached")

// AuthenticatorOptions wires an Authenticator
type AuthenticatorOptions struct {
	PlatformID    string
	CredentialRef string
	Variant       AuthVariant
	Adapter       PlatformAdapter
	Credentials   CredentialSource
	Codes         SecondFactorSource
	Retry         *RetryController
	Clock         clock.Clock
	Config        AuthConfig
}

// Authenticator drives one platform's Session from unauthenticated to
// authenticated. It owns the Session for its whole lifetime.
type Authenticator struct {
	opts AuthenticatorOptions

	mu      sync.Mutex
	session *Session
}

// NewAuthenticator creates an Authenticator. Zero config fields take
// their DefaultAuthConfig values.
func NewAuthenticator(opts AuthenticatorOptions) *Authenticator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Retry == nil {
		opts.Retry = NewRetryController(DefaultRetryPolicy, opts.Clock)
	}
	if opts.Variant == "" {
		opts.Variant = AuthPassword
	}
	if opts.CredentialRef == "" {
		opts.CredentialRef = opts.PlatformID
	}
	if opts.Config.SecondFactorDeadline <= 0 {
		opts.Config.SecondFactorDeadline = DefaultAuthConfig.SecondFactorDeadline
	}
	if opts.Config.PollInterval <= 0 {
		opts.Config.PollInterval = DefaultAuthConfig.PollInterval
	}
	return &Authenticator{opts: opts}
}

// Session returns the current session, or nil before the first login
// and after logout.
func (a *Authenticator) Session() *Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.session
}

// EnsureAuthenticated returns a live session, logging in when there is
// none or the current one expired (explicitly or by idling). A session
// that Failed is terminal: its error is returned again and credentials
// are not resubmitted.
func (a *Authenticator) EnsureAuthenticated(ctx context.Context) (*Session, error) {
	a.mu.Lock()
	s := a.session
	a.mu.Unlock()

	if s != nil {
		switch s.State() {
		case StateAuthenticated:
			idle := a.opts.Config.IdleTimeout
			if idle <= 0 || a.opts.Clock.Now().Sub(s.LastActivityAt()) < idle {
				return s, nil
			}
			LogInfo("Session for %s idle since %s, re-authenticating", a.opts.PlatformID, s.LastActivityAt().Format(time.RFC3339))
			s.setState(StateExpired, nil)
		case StateFailed:
			return nil, s.Failure()
		}
	}
	return a.Login(ctx)
}

// Expire marks the current session expired, e.g. after the platform
// bounced a request back to its login page.
func (a *Authenticator) Expire() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil && a.session.State() == StateAuthenticated {
		a.session.setState(StateExpired, nil)
	}
}

// Logout ends the current session and releases it.
func (a *Authenticator) Logout(ctx context.Context) error {
	a.mu.Lock()
	s := a.session
	a.session = nil
	a.mu.Unlock()

	if s == nil {
		return nil
	}
	defer s.setState(StateExpired, nil)
	if s.State() != StateAuthenticated {
		return nil
	}
	if la, ok := a.opts.Adapter.(LogoutAdapter); ok {
		if err := s.Do(ctx, func(ctx context.Context) error { return la.Logout(ctx, s) }); err != nil {
			return fmt.Errorf("logout from %s: %w", a.opts.PlatformID, err)
		}
	}
	return nil
}

// Login runs the full ceremony on a fresh session. A login cut short by
// ctx leaves the session Expired rather than Failed.
func (a *Authenticator) Login(ctx context.Context) (*Session, error) {
	s := NewSession(a.opts.PlatformID, a.opts.CredentialRef, a.opts.Clock.Now())
	a.mu.Lock()
	a.session = s
	a.mu.Unlock()

	if err := a.login(ctx, s); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Interrupted, not refused: the next EnsureAuthenticated logs in again.
			s.setState(StateExpired, err)
			LogInfo("Authentication for %s interrupted: %v", a.opts.PlatformID, err)
			return nil, err
		}
		s.setState(StateFailed, err)
		LogWarn("Authentication for %s failed: %v", a.opts.PlatformID, err)
		return nil, err
	}
	s.setState(StateAuthenticated, nil)
	s.touch(a.opts.Clock.Now())
	LogInfo("Authenticated to %s", a.opts.PlatformID)
	return s, nil
}

func (a *Authenticator) login(ctx context.Context, s *Session) error {
	creds, err := a.opts.Credentials.Credentials(ctx, a.opts.CredentialRef)
	if err != nil {
		return fmt.Errorf("credentials for %s: %w", a.opts.PlatformID, err)
	}

	// Only transient failures are retried here; a rejection is terminal
	// so a wrong password never triggers an account lockout.
	err = a.opts.Retry.Execute(ctx, "submit_credentials", func(ctx context.Context) error {
		return s.Do(ctx, func(ctx context.Context) error {
			return a.opts.Adapter.SubmitCredentials(ctx, s, creds)
		})
	})
	if err != nil {
		if errors.Is(err, ErrCredentialsRejected) {
			return &AuthError{PlatformID: a.opts.PlatformID, Kind: AuthInvalidCredentials, Err: err}
		}
		return err
	}
	submittedAt := a.opts.Clock.Now()
	s.setState(StateCredentialsSubmitted, nil)

	challenge, err := Retry(ctx, a.opts.Retry, "detect_challenge", func(ctx context.Context) (ChallengeKind, error) {
		var kind ChallengeKind
		err := s.Do(ctx, func(ctx context.Context) error {
			var err error
			kind, err = a.opts.Adapter.DetectChallenge(ctx, s)
			return err
		})
		return kind, err
	})
	if err != nil {
		return err
	}

	switch {
	case challenge == ChallengeOneTimeCode:
		return a.awaitSecondFactor(ctx, s, submittedAt, a.pollOneTimeCode(s, submittedAt))
	case challenge == ChallengeSSORedirect, a.opts.Variant == AuthSSO:
		poll, err := a.pollRedirect(s)
		if err != nil {
			return err
		}
		return a.awaitSecondFactor(ctx, s, submittedAt, poll)
	default:
		return nil
	}
}

type secondFactorPoll func(ctx context.Context) (bool, error)

func (a *Authenticator) pollOneTimeCode(s *Session, since time.Time) secondFactorPoll {
	return func(ctx context.Context) (bool, error) {
		if a.opts.Codes == nil {
			return false, fmt.Errorf("platform %s requested a one-time code but no code source is configured", a.opts.PlatformID)
		}
		code, ok, err := a.opts.Codes.PollCode(ctx, a.opts.PlatformID, since)
		if err != nil || !ok {
			return false, err
		}
		LogDebug("One-time code for %s arrived, submitting", a.opts.PlatformID)
		err = a.opts.Retry.Execute(ctx, "submit_second_factor", func(ctx context.Context) error {
			return s.Do(ctx, func(ctx context.Context) error {
				return a.opts.Adapter.SubmitSecondFactor(ctx, s, code)
			})
		})
		if errors.Is(err, ErrCredentialsRejected) {
			return false, &AuthError{PlatformID: a.opts.PlatformID, Kind: AuthInvalidCredentials, Err: err}
		}
		return err == nil, err
	}
}

func (a *Authenticator) pollRedirect(s *Session) (secondFactorPoll, error) {
	watcher, ok := a.opts.Adapter.(RedirectWatcher)
	if !ok {
		return nil, fmt.Errorf("platform %s uses single sign-on but its adapter cannot watch the redirect", a.opts.PlatformID)
	}
	return func(ctx context.Context) (bool, error) {
		var done bool
		err := s.Do(ctx, func(ctx context.Context) error {
			var err error
			done, err = watcher.RedirectComplete(ctx, s)
			return err
		})
		return done, err
	}, nil
}

// awaitSecondFactor polls until the second-factor event arrives or the
// deadline passes. The deadline cancels any in-flight poll.
func (a *Authenticator) awaitSecondFactor(ctx context.Context, s *Session, since time.Time, poll secondFactorPoll) error {
	deadline := since.Add(a.opts.Config.SecondFactorDeadline)
	s.mu.Lock()
	s.SecondFactorDeadline = deadline
	s.mu.Unlock()
	s.setState(StateAwaitingSecondFactor, nil)

	waitCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := a.opts.Clock.AfterFunc(deadline.Sub(a.opts.Clock.Now()), func() { cancel(errSecondFactorDeadline) })
	defer timer.Stop()

	timeout := &AuthError{PlatformID: a.opts.PlatformID, Kind: AuthSecondFactorTimeout}
	for {
		done, err := poll(waitCtx)
		switch {
		case done:
			return nil
		case IsAuthError(err, ""):
			return err
		case err != nil && waitCtx.Err() == nil && !IsTransient(err):
			return err
		case err != nil:
			LogDebug("Second factor poll for %s: %v", a.opts.PlatformID, err)
		}

		now := a.opts.Clock.Now()
		if !now.Before(deadline) || errors.Is(context.Cause(waitCtx), errSecondFactorDeadline) {
			return timeout
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := a.opts.Config.PollInterval
		if remaining := deadline.Sub(now); remaining < wait {
			wait = remaining
		}
		select {
		case <-waitCtx.Done():
			if errors.Is(context.Cause(waitCtx), errSecondFactorDeadline) {
				return timeout
			}
			return ctx.Err()
		case <-a.opts.Clock.After(wait):
		}
	}
}
