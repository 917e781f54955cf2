package internal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ChallengeKind is what a platform asks for after the password step
type ChallengeKind int

const (
	ChallengeNone ChallengeKind = iota
	ChallengeOneTimeCode
	ChallengeSSORedirect
)

func (c ChallengeKind) String() string {
	switch c {
	case ChallengeNone:
		return "none"
	case ChallengeOneTimeCode:
		return "one_time_code"
	case ChallengeSSORedirect:
		return "sso_redirect"
	default:
		return fmt.Sprintf("challenge(%d)", int(c))
	}
}

// PlatformAdapter knows the page mechanics of one platform. It holds
// no business logic: every decision about retries, caching and
// ordering is made by the core.
//
// Adapters must honour ctx cancellation; the orchestrator relies on it
// to abort a stuck page operation.
type PlatformAdapter interface {
	SubmitCredentials(ctx context.Context, s *Session, creds Credentials) error
	DetectChallenge(ctx context.Context, s *Session) (ChallengeKind, error)
	SubmitSecondFactor(ctx context.Context, s *Session, code string) error
	ListItems(ctx context.Context, s *Session, category string) ([]string, error)
	Probe(ctx context.Context, s *Session, externalID string) (Probe, error)
	FetchPass(ctx context.Context, s *Session, externalID string, pass PassDescriptor) (*RawPayload, error)
	ResolveHandle(ctx context.Context, s *Session, h Handle) (string, error)
}

// RedirectWatcher is implemented by adapters of single-sign-on
// platforms. RedirectComplete reports whether the identity provider
// has redirected back to the platform.
type RedirectWatcher interface {
	RedirectComplete(ctx context.Context, s *Session) (bool, error)
}

// LogoutAdapter is implemented by adapters that can end a session
// explicitly.
type LogoutAdapter interface {
	Logout(ctx context.Context, s *Session) error
}

// ExternalEventSource supplies the independently timestamped feed,
// already filtered to one correlation key.
type ExternalEventSource interface {
	FetchEvents(ctx context.Context, key CorrelationKey) ([]RawExternalEvent, error)
}

// SecondFactorSource yields a one-time code delivered out of band
// after since, if one has arrived.
type SecondFactorSource interface {
	PollCode(ctx context.Context, platformID string, since time.Time) (string, bool, error)
}

// RecordSink receives each Record once per work item per run.
type RecordSink interface {
	OnRecord(ctx context.Context, r *Record) error
}

// RecordSinkFunc adapts a function to RecordSink.
type RecordSinkFunc func(ctx context.Context, r *Record) error

// OnRecord calls f.
func (f RecordSinkFunc) OnRecord(ctx context.Context, r *Record) error {
	return f(ctx, r)
}

// AdapterFactory builds the adapter for one configured platform.
type AdapterFactory func(cfg PlatformConfig) (PlatformAdapter, error)

var (
	adaptersMu sync.RWMutex
	adapters   = make(map[string]AdapterFactory)
)

// RegisterAdapter makes an adapter kind selectable from config. It
// panics on duplicate registration.
func RegisterAdapter(kind string, factory AdapterFactory) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	if _, dup := adapters[kind]; dup {
		panic(fmt.Sprintf("adapter kind %q registered twice", kind))
	}
	adapters[kind] = factory
}

// AdapterKinds lists the registered adapter kinds in sorted order.
func AdapterKinds() []string {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	kinds := make([]string, 0, len(adapters))
	for k := range adapters {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewAdapter builds the adapter named by cfg.Adapter.
func NewAdapter(cfg PlatformConfig) (PlatformAdapter, error) {
	adaptersMu.RLock()
	factory, ok := adapters[cfg.Adapter]
	adaptersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown adapter %q for platform %s (registered: %v)", cfg.Adapter, cfg.ID, AdapterKinds())
	}
	adapter, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s adapter for platform %s: %w", cfg.Adapter, cfg.ID, err)
	}
	return adapter, nil
}
