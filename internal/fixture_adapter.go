package internal

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func init() {
	RegisterAdapter("fixture", func(cfg PlatformConfig) (PlatformAdapter, error) {
		if cfg.Fixture == "" {
			return nil, errors.New("fixture adapter needs a fixture file")
		}
		return LoadFixtureAdapter(cfg.Fixture)
	})
}

// FixturePlatform is the YAML description replayed by FixtureAdapter
type FixturePlatform struct {
	Platform  string            `yaml:"platform"`
	Identity  string            `yaml:"identity,omitempty"`
	Secret    string            `yaml:"secret,omitempty"`
	Challenge string            `yaml:"challenge,omitempty"` // none, one_time_code, sso_redirect
	Code      string            `yaml:"code,omitempty"`
	Redirects int               `yaml:"redirect_polls,omitempty"` // polls before the SSO redirect completes
	Items     []FixtureItem     `yaml:"items"`
	Handles   map[string]string `yaml:"handles,omitempty"`
}

// FixtureItem is one work item of a fixture platform
type FixtureItem struct {
	ID       string                `yaml:"id"`
	Category string                `yaml:"category"`
	Probe    Probe                 `yaml:"probe,omitempty"`
	Passes   map[string]RawPayload `yaml:"passes,omitempty"`
	Fail     []string              `yaml:"fail,omitempty"` // passes that always fail transiently
}

// FixtureAdapter is a PlatformAdapter backed by a static description of
// a platform. It checks credentials and second factors like a real
// platform would, which makes the whole sweep runnable offline.
type FixtureAdapter struct {
	platform  FixturePlatform
	challenge ChallengeKind
	items     map[string]*FixtureItem
}

type fixtureSession struct {
	loggedIn      bool
	awaitingCode  bool
	redirectPolls int
}

// LoadFixtureAdapter reads a fixture platform file.
func LoadFixtureAdapter(path string) (*FixtureAdapter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture %s: %w", path, err)
	}
	var platform FixturePlatform
	if err := yaml.Unmarshal(data, &platform); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return NewFixtureAdapter(platform)
}

// NewFixtureAdapter builds an adapter from an in-memory description.
func NewFixtureAdapter(platform FixturePlatform) (*FixtureAdapter, error) {
	a := &FixtureAdapter{platform: platform, items: make(map[string]*FixtureItem)}
	switch platform.Challenge {
	case "", "none":
		a.challenge = ChallengeNone
	case "one_time_code":
		a.challenge = ChallengeOneTimeCode
	case "sso_redirect":
		a.challenge = ChallengeSSORedirect
	default:
		return nil, fmt.Errorf("unknown fixture challenge %q", platform.Challenge)
	}
	for i := range platform.Items {
		item := &platform.Items[i]
		if item.ID == "" {
			return nil, fmt.Errorf("fixture item %d has no id", i)
		}
		if _, dup := a.items[item.ID]; dup {
			return nil, fmt.Errorf("fixture item %s listed twice", item.ID)
		}
		a.items[item.ID] = item
	}
	return a, nil
}

func (a *FixtureAdapter) state(s *Session) *fixtureSession {
	fs, ok := s.Handle.(*fixtureSession)
	if !ok {
		fs = &fixtureSession{}
		s.Handle = fs
	}
	return fs
}

func (a *FixtureAdapter) requireLogin(s *Session) error {
	if !a.state(s).loggedIn {
		return ErrNotAuthenticated
	}
	return nil
}

func (a *FixtureAdapter) SubmitCredentials(ctx context.Context, s *Session, creds Credentials) error {
	if a.platform.Identity != "" && creds.Identity != a.platform.Identity {
		return ErrCredentialsRejected
	}
	if a.platform.Secret != "" && creds.Secret != a.platform.Secret {
		return ErrCredentialsRejected
	}
	fs := a.state(s)
	*fs = fixtureSession{}
	switch a.challenge {
	case ChallengeNone:
		fs.loggedIn = true
	case ChallengeOneTimeCode:
		fs.awaitingCode = true
	}
	return nil
}

func (a *FixtureAdapter) DetectChallenge(ctx context.Context, s *Session) (ChallengeKind, error) {
	return a.challenge, nil
}

func (a *FixtureAdapter) SubmitSecondFactor(ctx context.Context, s *Session, code string) error {
	fs := a.state(s)
	if !fs.awaitingCode {
		return errors.New("no second factor requested")
	}
	if a.platform.Code != "" && code != a.platform.Code {
		return ErrCredentialsRejected
	}
	fs.awaitingCode = false
	fs.loggedIn = true
	return nil
}

// RedirectComplete implements RedirectWatcher.
func (a *FixtureAdapter) RedirectComplete(ctx context.Context, s *Session) (bool, error) {
	fs := a.state(s)
	fs.redirectPolls++
	if fs.redirectPolls <= a.platform.Redirects {
		return false, nil
	}
	fs.loggedIn = true
	return true, nil
}

// Logout implements LogoutAdapter.
func (a *FixtureAdapter) Logout(ctx context.Context, s *Session) error {
	*a.state(s) = fixtureSession{}
	return nil
}

func (a *FixtureAdapter) ListItems(ctx context.Context, s *Session, category string) ([]string, error) {
	if err := a.requireLogin(s); err != nil {
		return nil, err
	}
	var ids []string
	for _, item := range a.platform.Items {
		if item.Category == category {
			ids = append(ids, item.ID)
		}
	}
	return ids, nil
}

func (a *FixtureAdapter) item(id string) (*FixtureItem, error) {
	item, ok := a.items[id]
	if !ok {
		return nil, fmt.Errorf("item %s not found on %s", id, a.platform.Platform)
	}
	return item, nil
}

func (a *FixtureAdapter) Probe(ctx context.Context, s *Session, externalID string) (Probe, error) {
	if err := a.requireLogin(s); err != nil {
		return nil, err
	}
	item, err := a.item(externalID)
	if err != nil {
		return nil, err
	}
	probe := make(Probe, len(item.Probe))
	for k, v := range item.Probe {
		probe[k] = v
	}
	return probe, nil
}

func (a *FixtureAdapter) FetchPass(ctx context.Context, s *Session, externalID string, pass PassDescriptor) (*RawPayload, error) {
	if err := a.requireLogin(s); err != nil {
		return nil, err
	}
	item, err := a.item(externalID)
	if err != nil {
		return nil, err
	}
	for _, name := range item.Fail {
		if name == pass.Name {
			return nil, Transient("page", fmt.Errorf("pass %s of %s did not render", pass.Name, externalID))
		}
	}
	payload := item.Passes[pass.Name]
	out := &RawPayload{
		Fields:  make(map[string]string, len(payload.Fields)),
		Handles: make(map[string]Handle, len(payload.Handles)),
		Events:  append([]RawPlatformEvent(nil), payload.Events...),
	}
	for k, v := range payload.Fields {
		out.Fields[k] = v
	}
	for k, v := range payload.Handles {
		out.Handles[k] = v
	}
	return out, nil
}

func (a *FixtureAdapter) ResolveHandle(ctx context.Context, s *Session, h Handle) (string, error) {
	if err := a.requireLogin(s); err != nil {
		return "", err
	}
	value, ok := a.platform.Handles[h.Ref]
	if !ok {
		return "", fmt.Errorf("%s %s is not linked", h.Kind, h.Ref)
	}
	return value, nil
}
