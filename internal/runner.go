package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/iksnae/review-sweep/internal/clock"
)

// RunnerOptions wires a Runner. Config, Store, Credentials and Sink are
// required. Sink and Observer are shared by all sessions and must be
// safe for concurrent use.
type RunnerOptions struct {
	Config      *Config
	Store       Store
	Credentials CredentialSource
	Sink        RecordSink
	Mailbox     *MailboxSource // optional external feed and code source
	Observer    Observer
	Clock       clock.Clock
	RunID       string

	// Adapters builds the adapter of a platform; NewAdapter by default.
	Adapters func(PlatformConfig) (PlatformAdapter, error)
}

// SessionResult is the outcome of one platform's sweep
type SessionResult struct {
	PlatformID string
	Summary    *RunSummary
	Err        error
}

// Runner sweeps several platforms concurrently, one session each. A
// failing session never stops the others.
type Runner struct {
	opts       RunnerOptions
	retry      *RetryController
	cache      *ResultCache
	normalizer *Normalizer
	reconciler *Reconciler
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Adapters == nil {
		opts.Adapters = NewAdapter
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	cfg := opts.Config
	return &Runner{
		opts:       opts,
		retry:      NewRetryController(cfg.Retry, opts.Clock),
		cache:      NewResultCache(opts.Store, cfg.Cache.TTL, opts.Clock),
		normalizer: NewNormalizer(cfg.Timeline.SubjectRules),
		reconciler: NewReconciler(cfg.Timeline.Window, cfg.Timeline.TypeEquivalence),
	}
}

// RunID identifies every record of this run.
func (r *Runner) RunID() string {
	return r.opts.RunID
}

// Run sweeps the platforms named by platformIDs, or all configured ones
// when empty, with at most Config.Concurrency sessions at a time.
// Results are returned in platform order. The error is non-nil only
// when a platform id is unknown.
func (r *Runner) Run(ctx context.Context, platformIDs, categories []string) ([]SessionResult, error) {
	platforms := r.opts.Config.Platforms
	if len(platformIDs) > 0 {
		platforms = make([]PlatformConfig, 0, len(platformIDs))
		for _, id := range platformIDs {
			p, ok := r.opts.Config.Platform(id)
			if !ok {
				return nil, fmt.Errorf("unknown platform %q", id)
			}
			platforms = append(platforms, p)
		}
	}

	results := make([]SessionResult, len(platforms))
	var g errgroup.Group
	g.SetLimit(max(r.opts.Config.Concurrency, 1))
	for i, p := range platforms {
		g.Go(func() error {
			summary, err := r.runSession(ctx, p, categories)
			results[i] = SessionResult{PlatformID: p.ID, Summary: summary, Err: err}
			if err != nil {
				LogError("Session %s ended with error: %v", p.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (r *Runner) runSession(ctx context.Context, p PlatformConfig, categories []string) (*RunSummary, error) {
	adapter, err := r.opts.Adapters(p)
	if err != nil {
		return nil, err
	}

	var (
		codes    SecondFactorSource
		external ExternalEventSource
	)
	if r.opts.Mailbox != nil {
		codes = r.opts.Mailbox
		external = r.opts.Mailbox
	}

	cfg := r.opts.Config
	auth := NewAuthenticator(AuthenticatorOptions{
		PlatformID:    p.ID,
		CredentialRef: p.CredentialRef,
		Variant:       p.Auth,
		Adapter:       adapter,
		Credentials:   r.opts.Credentials,
		Codes:         codes,
		Retry:         r.retry,
		Clock:         r.opts.Clock,
		Config:        cfg.Auth,
	})
	defer func() {
		logoutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := auth.Logout(logoutCtx); err != nil {
			LogWarn("Logout from %s failed: %v", p.ID, err)
		}
	}()

	o := NewOrchestrator(OrchestratorOptions{
		Platform:       p,
		Adapter:        adapter,
		Auth:           auth,
		Cache:          r.cache,
		Items:          r.opts.Store,
		Sink:           r.opts.Sink,
		External:       external,
		Observer:       r.opts.Observer,
		Retry:          r.retry,
		Resolver:       NewResolver(adapter, r.retry, cfg.Orchestrator.ResolveTimeout),
		Normalizer:     r.normalizer,
		Reconciler:     r.reconciler,
		Clock:          r.opts.Clock,
		PassTimeout:    cfg.Orchestrator.PassTimeout,
		ResolveTimeout: cfg.Orchestrator.ResolveTimeout,
		Lookback:       cfg.Timeline.Lookback,
		Margin:         cfg.Timeline.Margin,
		RunID:          r.opts.RunID,
	})
	return o.Run(ctx, categories)
}
