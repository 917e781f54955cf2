package internal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/iksnae/review-sweep/internal/clock"
)

type authHarness struct {
	adapter *stubAdapter
	codes   *stubCodeSource
	clock   *clock.FakeClock
	auth    *Authenticator
}

func newAuthHarness(variant AuthVariant, challenge ChallengeKind) *authHarness {
	fake := clock.Fake(testEpoch)
	adapter := newStubAdapter()
	adapter.challenge = challenge
	codes := &stubCodeSource{now: fake.Now}
	auth := NewAuthenticator(AuthenticatorOptions{
		PlatformID:  "em",
		Variant:     variant,
		Adapter:     adapter,
		Credentials: staticCredentials{},
		Codes:       codes,
		Retry:       NewRetryController(RetryPolicy{MaxAttempts: 3}, fake),
		Clock:       fake,
		Config: AuthConfig{
			SecondFactorDeadline: 120 * time.Second,
			PollInterval:         5 * time.Second,
			IdleTimeout:          30 * time.Minute,
		},
	})
	return &authHarness{adapter: adapter, codes: codes, clock: fake, auth: auth}
}

func TestAuthenticator_PasswordOnly(t *testing.T) {
	h := newAuthHarness(AuthPassword, ChallengeNone)

	s, err := h.auth.Login(context.Background())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("State() = %v, want authenticated", s.State())
	}
	if h.auth.Session() != s {
		t.Error("Session() should return the live session")
	}
}

func TestAuthenticator_InvalidCredentialsNotRetried(t *testing.T) {
	h := newAuthHarness(AuthPassword, ChallengeNone)
	h.adapter.submitErrs = []error{ErrCredentialsRejected, nil}

	_, err := h.auth.Login(context.Background())
	if !IsAuthError(err, AuthInvalidCredentials) {
		t.Fatalf("Login() error = %v, want InvalidCredentials", err)
	}
	if got := h.adapter.calls("SubmitCredentials"); got != 1 {
		t.Errorf("SubmitCredentials called %d times, want 1", got)
	}
	if h.auth.Session().State() != StateFailed {
		t.Errorf("State() = %v, want failed", h.auth.Session().State())
	}

	// A failed session is terminal: EnsureAuthenticated must not resubmit.
	_, err = h.auth.EnsureAuthenticated(context.Background())
	if !IsAuthError(err, AuthInvalidCredentials) {
		t.Errorf("EnsureAuthenticated() error = %v, want stored InvalidCredentials", err)
	}
	if got := h.adapter.calls("SubmitCredentials"); got != 1 {
		t.Errorf("SubmitCredentials called %d times after EnsureAuthenticated, want 1", got)
	}
}

func TestAuthenticator_TransientSubmitRetried(t *testing.T) {
	h := newAuthHarness(AuthPassword, ChallengeNone)
	h.adapter.submitErrs = []error{Transient("network", errors.New("reset"))}

	s, err := h.auth.Login(context.Background())
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got := h.adapter.calls("SubmitCredentials"); got != 2 {
		t.Errorf("SubmitCredentials called %d times, want 2", got)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("State() = %v", s.State())
	}
}

func TestAuthenticator_CredentialsUnavailable(t *testing.T) {
	h := newAuthHarness(AuthPassword, ChallengeNone)
	h.auth.opts.Credentials = staticCredentials{err: ErrCredentialsUnavailable}

	_, err := h.auth.Login(context.Background())
	if !errors.Is(err, ErrCredentialsUnavailable) {
		t.Fatalf("Login() error = %v, want ErrCredentialsUnavailable", err)
	}
	if h.adapter.calls("SubmitCredentials") != 0 {
		t.Error("credentials submitted without a bundle")
	}
}

func TestAuthenticator_OneTimeCodeArrives(t *testing.T) {
	h := newAuthHarness(AuthOTP, ChallengeOneTimeCode)
	h.codes.code = "123456"
	h.codes.readyAt = testEpoch.Add(10 * time.Second)

	done := make(chan error, 1)
	var s *Session
	go func() {
		var err error
		s, err = h.auth.Login(context.Background())
		done <- err
	}()

	// Deadline timer plus first poll wait.
	h.clock.WaitForTimers(2)
	h.clock.Advance(5 * time.Second)
	h.clock.WaitForTimers(2)
	h.clock.Advance(5 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Login() did not finish after the code arrived")
	}
	if s.State() != StateAuthenticated {
		t.Errorf("State() = %v", s.State())
	}
	if len(h.adapter.codes) != 1 || h.adapter.codes[0] != "123456" {
		t.Errorf("submitted codes = %v", h.adapter.codes)
	}
	if !s.SecondFactorDeadline.Equal(testEpoch.Add(120 * time.Second)) {
		t.Errorf("SecondFactorDeadline = %v", s.SecondFactorDeadline)
	}
}

func TestAuthenticator_SecondFactorTimeout(t *testing.T) {
	h := newAuthHarness(AuthOTP, ChallengeOneTimeCode)

	done := make(chan error, 1)
	go func() {
		_, err := h.auth.Login(context.Background())
		done <- err
	}()

	h.clock.WaitForTimers(2)
	h.clock.Advance(121 * time.Second)

	select {
	case err := <-done:
		if !IsAuthError(err, AuthSecondFactorTimeout) {
			t.Fatalf("Login() error = %v, want SecondFactorTimeout", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Login() hung past the second-factor deadline")
	}
	if got := h.auth.Session().State(); got != StateFailed {
		t.Errorf("State() = %v, want failed", got)
	}
	if h.adapter.calls("SubmitSecondFactor") != 0 {
		t.Error("a code was submitted although none arrived")
	}
}

func TestAuthenticator_WrongCodeIsTerminal(t *testing.T) {
	h := newAuthHarness(AuthOTP, ChallengeOneTimeCode)
	h.codes.code = "000000"
	h.adapter.acceptCode = "123456"

	_, err := h.auth.Login(context.Background())
	if !IsAuthError(err, AuthInvalidCredentials) {
		t.Fatalf("Login() error = %v, want InvalidCredentials", err)
	}
	if got := h.adapter.calls("SubmitSecondFactor"); got != 1 {
		t.Errorf("SubmitSecondFactor called %d times, want 1", got)
	}
}

func TestAuthenticator_SSORedirect(t *testing.T) {
	h := newAuthHarness(AuthSSO, ChallengeNone)
	h.adapter.redirectAfter = 1

	done := make(chan error, 1)
	go func() {
		_, err := h.auth.Login(context.Background())
		done <- err
	}()

	h.clock.WaitForTimers(2)
	h.clock.Advance(5 * time.Second)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Login() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Login() did not complete after redirect")
	}
	if got := h.adapter.calls("RedirectComplete"); got != 2 {
		t.Errorf("RedirectComplete called %d times, want 2", got)
	}
}

func TestAuthenticator_CancelWhileAwaiting(t *testing.T) {
	h := newAuthHarness(AuthOTP, ChallengeOneTimeCode)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := h.auth.Login(ctx)
		done <- err
	}()

	h.clock.WaitForTimers(2)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Login() error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Login() ignored cancellation")
	}
	if got := h.auth.Session().State(); got != StateExpired {
		t.Fatalf("State() after cancellation = %v, want expired", got)
	}

	h.codes.mu.Lock()
	h.codes.code = "123456"
	h.codes.mu.Unlock()
	s, err := h.auth.EnsureAuthenticated(context.Background())
	if err != nil {
		t.Fatalf("EnsureAuthenticated() after cancellation error = %v", err)
	}
	if s.State() != StateAuthenticated {
		t.Errorf("State() = %v, want authenticated", s.State())
	}
	if got := h.adapter.calls("SubmitCredentials"); got != 2 {
		t.Errorf("SubmitCredentials called %d times, want 2", got)
	}
}

func TestAuthenticator_IdleExpiryReauthenticates(t *testing.T) {
	h := newAuthHarness(AuthPassword, ChallengeNone)
	ctx := context.Background()

	first, err := h.auth.EnsureAuthenticated(ctx)
	if err != nil {
		t.Fatalf("EnsureAuthenticated() error = %v", err)
	}
	again, _ := h.auth.EnsureAuthenticated(ctx)
	if again != first {
		t.Error("EnsureAuthenticated() replaced a live session")
	}

	h.clock.Advance(31 * time.Minute)
	fresh, err := h.auth.EnsureAuthenticated(ctx)
	if err != nil {
		t.Fatalf("EnsureAuthenticated() after idle error = %v", err)
	}
	if fresh == first {
		t.Error("EnsureAuthenticated() kept an idle session")
	}
	if first.State() != StateExpired {
		t.Errorf("idle session State() = %v, want expired", first.State())
	}
	if got := h.adapter.calls("SubmitCredentials"); got != 2 {
		t.Errorf("SubmitCredentials called %d times, want 2", got)
	}
}

func TestAuthenticator_ExpireAndLogout(t *testing.T) {
	h := newAuthHarness(AuthPassword, ChallengeNone)
	ctx := context.Background()

	s, _ := h.auth.Login(ctx)
	h.auth.Expire()
	if s.State() != StateExpired {
		t.Errorf("State() after Expire = %v", s.State())
	}

	s2, err := h.auth.EnsureAuthenticated(ctx)
	if err != nil || s2 == s {
		t.Fatalf("EnsureAuthenticated() after Expire = %v, %v", s2, err)
	}

	if err := h.auth.Logout(ctx); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if s2.State() != StateExpired {
		t.Errorf("State() after Logout = %v", s2.State())
	}
	if h.auth.Session() != nil {
		t.Error("Session() should be nil after Logout")
	}
	if h.adapter.calls("Logout") != 1 {
		t.Errorf("adapter Logout called %d times", h.adapter.calls("Logout"))
	}
}

func TestSessionState_String(t *testing.T) {
	states := map[SessionState]string{
		StateUnauthenticated:      "unauthenticated",
		StateCredentialsSubmitted: "credentials_submitted",
		StateAwaitingSecondFactor: "awaiting_second_factor",
		StateAuthenticated:        "authenticated",
		StateFailed:               "failed",
		StateExpired:              "expired",
	}
	for state, want := range states {
		if state.String() != want {
			t.Errorf("%d.String() = %q, want %q", state, state.String(), want)
		}
	}
	if !StateFailed.Terminal() || StateAuthenticated.Terminal() {
		t.Error("Terminal() misclassifies states")
	}
}
