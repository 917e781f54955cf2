package internal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// stubAdapter is a scriptable PlatformAdapter for core tests.
type stubAdapter struct {
	mu     sync.Mutex
	counts map[string]int

	submitErrs    []error
	challenge     ChallengeKind
	acceptCode    string
	codes         []string
	redirectAfter int
	logouts       int

	items    map[string][]string
	listErr  error
	probes   map[string]Probe
	probeErr error

	passFn    func(call int, id string, pass PassDescriptor) (*RawPayload, error)
	passBlock map[string]bool

	resolveFn    func(call int, h Handle) (string, error)
	resolveErr   error
	resolveBlock bool
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{
		counts: make(map[string]int),
		items:  make(map[string][]string),
		probes: make(map[string]Probe),
	}
}

func (a *stubAdapter) bump(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.counts[name]++
	return a.counts[name]
}

func (a *stubAdapter) calls(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.counts[name]
}

func (a *stubAdapter) passCalls(id, pass string) int {
	return a.calls(fmt.Sprintf("FetchPass:%s:%s", id, pass))
}

func (a *stubAdapter) SubmitCredentials(ctx context.Context, s *Session, creds Credentials) error {
	n := a.bump("SubmitCredentials")
	if n <= len(a.submitErrs) {
		return a.submitErrs[n-1]
	}
	return nil
}

func (a *stubAdapter) DetectChallenge(ctx context.Context, s *Session) (ChallengeKind, error) {
	a.bump("DetectChallenge")
	return a.challenge, nil
}

func (a *stubAdapter) SubmitSecondFactor(ctx context.Context, s *Session, code string) error {
	a.bump("SubmitSecondFactor")
	a.mu.Lock()
	defer a.mu.Unlock()
	a.codes = append(a.codes, code)
	if a.acceptCode != "" && code != a.acceptCode {
		return ErrCredentialsRejected
	}
	return nil
}

func (a *stubAdapter) RedirectComplete(ctx context.Context, s *Session) (bool, error) {
	n := a.bump("RedirectComplete")
	return n > a.redirectAfter, nil
}

func (a *stubAdapter) Logout(ctx context.Context, s *Session) error {
	a.bump("Logout")
	return nil
}

func (a *stubAdapter) ListItems(ctx context.Context, s *Session, category string) ([]string, error) {
	a.bump("ListItems")
	if a.listErr != nil {
		return nil, a.listErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.items[category]...), nil
}

func (a *stubAdapter) Probe(ctx context.Context, s *Session, externalID string) (Probe, error) {
	a.bump("Probe")
	if a.probeErr != nil {
		return nil, a.probeErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.probes[externalID]; ok {
		return p, nil
	}
	return Probe{"id": externalID}, nil
}

func (a *stubAdapter) FetchPass(ctx context.Context, s *Session, externalID string, pass PassDescriptor) (*RawPayload, error) {
	a.bump("FetchPass")
	call := a.bump(fmt.Sprintf("FetchPass:%s:%s", externalID, pass.Name))
	if a.passBlock[externalID+"#"+pass.Name] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if a.passFn != nil {
		return a.passFn(call, externalID, pass)
	}
	fields := make(map[string]string)
	for _, f := range pass.Fields {
		fields[f] = externalID + ":" + f
	}
	return &RawPayload{Fields: fields}, nil
}

func (a *stubAdapter) ResolveHandle(ctx context.Context, s *Session, h Handle) (string, error) {
	call := a.bump("ResolveHandle")
	if a.resolveBlock {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if a.resolveErr != nil {
		return "", a.resolveErr
	}
	if a.resolveFn != nil {
		return a.resolveFn(call, h)
	}
	return "resolved:" + h.Ref, nil
}

func authenticatedTestSession(platformID string) *Session {
	s := NewSession(platformID, platformID, time.Now())
	s.setState(StateAuthenticated, nil)
	return s
}

// stubCodeSource hands out a code once the fake clock passes readyAt.
type stubCodeSource struct {
	mu      sync.Mutex
	code    string
	readyAt time.Time
	now     func() time.Time
	polls   int
}

func (c *stubCodeSource) PollCode(ctx context.Context, platformID string, since time.Time) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls++
	if c.code == "" || c.now().Before(c.readyAt) {
		return "", false, nil
	}
	return c.code, true, nil
}

// staticCredentials always returns the same bundle.
type staticCredentials struct {
	err error
}

func (s staticCredentials) Credentials(ctx context.Context, ref string) (Credentials, error) {
	if s.err != nil {
		return Credentials{}, s.err
	}
	return Credentials{Identity: ref + "@example.org", Secret: "s3cret"}, nil
}

// collectingSink keeps every emitted record.
type collectingSink struct {
	mu      sync.Mutex
	records []*Record
}

func (c *collectingSink) OnRecord(ctx context.Context, r *Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, r)
	return nil
}

func (c *collectingSink) byID(id string) []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*Record
	for _, r := range c.records {
		if r.ExternalID == id {
			out = append(out, r)
		}
	}
	return out
}

func (c *collectingSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
