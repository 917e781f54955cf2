package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iksnae/review-sweep/internal/clock"
)

// Observer receives progress from a run. Calls come from the run's
// goroutine.
type Observer interface {
	CategoryListed(platformID, category string, items int)
	PassDone(platformID, externalID string, pass int, name string, cached bool, err error)
	RecordEmitted(r *Record)
}

type nopObserver struct{}

func (nopObserver) CategoryListed(string, string, int) {}
func (nopObserver) PassDone(string, string, int, string, bool, error) {}
func (nopObserver) RecordEmitted(*Record) {}

// RunSummary counts what one run did
type RunSummary struct {
	RunID         string        `json:"run_id"`
	PlatformID    string        `json:"platform_id"`
	Items         int           `json:"items"`
	Complete      int           `json:"complete"`
	Incomplete    int           `json:"incomplete"`
	CachedPasses  int           `json:"cached_passes"`
	FetchedPasses int           `json:"fetched_passes"`
	FailedPasses  int           `json:"failed_passes"`
	ListingErrors int           `json:"listing_errors"`
	Duration      time.Duration `json:"duration"`
}

// OrchestratorOptions wires an Orchestrator. Platform, Adapter, Auth,
// Cache, Items and Sink are required.
type OrchestratorOptions struct {
	Platform PlatformConfig
	Adapter  PlatformAdapter
	Auth     *Authenticator
	Cache    *ResultCache
	Items    WorkItemStore
	Sink     RecordSink

	External   ExternalEventSource // optional
	Observer   Observer            // optional
	Retry      *RetryController
	Resolver   *Resolver
	Normalizer *Normalizer
	Reconciler *Reconciler
	Clock      clock.Clock

	PassTimeout    time.Duration
	ResolveTimeout time.Duration
	Lookback       time.Duration // external feed window when an item has no platform events
	Margin         time.Duration // widening of the platform event span for the external feed
	RunID          string
}

// Orchestrator sweeps one platform: it enumerates work items, runs
// their passes under the cache, retry and timeout discipline, and emits
// one reconciled Record per item.
type Orchestrator struct {
	opts OrchestratorOptions
}

// NewOrchestrator creates an Orchestrator, filling optional collaborators
// with defaults.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Retry == nil {
		opts.Retry = NewRetryController(DefaultRetryPolicy, opts.Clock)
	}
	if opts.Resolver == nil {
		opts.Resolver = NewResolver(opts.Adapter, opts.Retry, opts.ResolveTimeout)
	}
	if opts.Normalizer == nil {
		opts.Normalizer = NewNormalizer(nil)
	}
	if opts.Reconciler == nil {
		opts.Reconciler = NewReconciler(0, nil)
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	return &Orchestrator{opts: opts}
}

// RunID identifies the records this orchestrator emits.
func (o *Orchestrator) RunID() string {
	return o.opts.RunID
}

// itemState accumulates one work item's passes into a Record.
type itemState struct {
	record     *Record
	unresolved map[string]bool
	rawEvents  []RawPlatformEvent
}

func (st *itemState) merge(fields map[string]string, unresolved []string, events []RawPlatformEvent) {
	for _, k := range sortedKeys(fields) {
		v := fields[k]
		if v == "" {
			if _, exists := st.record.Fields[k]; !exists {
				st.record.Fields[k] = v
			}
			continue
		}
		st.record.Fields[k] = v
	}
	for _, name := range unresolved {
		st.unresolved[name] = true
	}
	st.rawEvents = append(st.rawEvents, events...)
}

// Run sweeps the given categories (the platform's configured ones when
// empty). It returns ErrRunCancelled when ctx is cancelled, and an
// *AuthError when the session is lost and cannot be re-established; in
// that case every listed but unprocessed item is emitted as an
// incomplete record.
func (o *Orchestrator) Run(ctx context.Context, categories []string) (*RunSummary, error) {
	start := o.opts.Clock.Now()
	pid := o.opts.Platform.ID
	summary := &RunSummary{RunID: o.opts.RunID, PlatformID: pid}
	defer func() { summary.Duration = o.opts.Clock.Now().Sub(start) }()

	if len(categories) == 0 {
		categories = o.opts.Platform.Categories
	}
	if _, err := o.opts.Auth.EnsureAuthenticated(ctx); err != nil {
		return summary, err
	}
	LogInfo("Run %s on %s: %d categories, %d passes", o.opts.RunID, pid, len(categories), len(o.opts.Platform.Passes))

	for _, category := range categories {
		if ctx.Err() != nil {
			return summary, o.cancelled(ctx)
		}

		var ids []string
		_, err := o.call(ctx, "list_items", func(ctx context.Context, s *Session) error {
			var err error
			ids, err = o.opts.Adapter.ListItems(ctx, s, category)
			return err
		})
		if err != nil {
			if IsAuthError(err, "") {
				return summary, err
			}
			if ctx.Err() != nil {
				return summary, o.cancelled(ctx)
			}
			summary.ListingErrors++
			LogWarn("Failed to list %s items on %s: %v", category, pid, err)
			continue
		}
		o.opts.Observer.CategoryListed(pid, category, len(ids))

		for i, id := range ids {
			if ctx.Err() != nil {
				return summary, o.cancelled(ctx)
			}
			record, err := o.processItem(ctx, id, category, summary)
			if errors.Is(err, ErrRunCancelled) {
				return summary, err
			}
			if record != nil {
				if emitErr := o.emit(ctx, record, summary); emitErr != nil {
					return summary, emitErr
				}
			}
			if err != nil {
				LogError("Session for %s lost during %s: %v", pid, id, err)
				for _, rest := range ids[i+1:] {
					if emitErr := o.emit(ctx, o.newRecord(rest, category), summary); emitErr != nil {
						return summary, emitErr
					}
				}
				return summary, err
			}
		}
	}

	LogInfo("Run %s on %s finished: %d items (%d complete), %d passes fetched, %d from cache, %d failed",
		o.opts.RunID, pid, summary.Items, summary.Complete, summary.FetchedPasses, summary.CachedPasses, summary.FailedPasses)
	return summary, nil
}

func (o *Orchestrator) cancelled(ctx context.Context) error {
	LogInfo("Run %s on %s cancelled", o.opts.RunID, o.opts.Platform.ID)
	return fmt.Errorf("%w: %w", ErrRunCancelled, context.Cause(ctx))
}

func (o *Orchestrator) emit(ctx context.Context, r *Record, summary *RunSummary) error {
	summary.Items++
	if r.Complete() {
		summary.Complete++
	} else {
		summary.Incomplete++
	}
	if err := o.opts.Sink.OnRecord(ctx, r); err != nil {
		return fmt.Errorf("failed to emit record %s/%s: %w", r.PlatformID, r.ExternalID, err)
	}
	o.opts.Observer.RecordEmitted(r)
	return nil
}

func (o *Orchestrator) newRecord(id, category string) *Record {
	return &Record{
		RunID:       o.opts.RunID,
		PlatformID:  o.opts.Platform.ID,
		ExternalID:  id,
		Category:    category,
		Fields:      make(map[string]string),
		Timeline:    Timeline{},
		PassCount:   len(o.opts.Platform.Passes),
		PassErrors:  make(map[int]string),
		ExtractedAt: o.opts.Clock.Now(),
	}
}

// call runs op on a live session under the retry policy. When the
// platform bounces op to its login page the session is expired, rebuilt
// once, and op runs again.
func (o *Orchestrator) call(ctx context.Context, name string, op func(ctx context.Context, s *Session) error) (*Session, error) {
	return o.callWithin(ctx, ctx, name, op)
}

// callWithin is call with op bounded by opCtx. Logging in stays on ctx
// so a budget on opCtx never cuts a second-factor wait short.
func (o *Orchestrator) callWithin(ctx, opCtx context.Context, name string, op func(ctx context.Context, s *Session) error) (*Session, error) {
	pid := o.opts.Platform.ID
	for reauth := false; ; reauth = true {
		s, err := o.opts.Auth.EnsureAuthenticated(ctx)
		if err != nil {
			if !IsAuthError(err, "") && ctx.Err() == nil {
				err = &AuthError{PlatformID: pid, Kind: AuthExpired, Err: err}
			}
			return nil, err
		}
		if err := opCtx.Err(); err != nil {
			return s, err
		}
		err = o.opts.Retry.Execute(opCtx, name, func(ctx context.Context) error {
			return s.Do(ctx, func(ctx context.Context) error { return op(ctx, s) })
		})
		if err == nil {
			s.touch(o.opts.Clock.Now())
			return s, nil
		}
		if !errors.Is(err, ErrNotAuthenticated) || reauth {
			return s, err
		}
		LogInfo("%s sent %s back to login, re-authenticating", pid, name)
		o.opts.Auth.Expire()
	}
}

// processItem runs every pass of one item. The returned record is nil
// only when the run was cancelled. A non-nil error other than
// ErrRunCancelled means the session is gone; the record then holds
// whatever the item gathered before.
func (o *Orchestrator) processItem(ctx context.Context, id, category string, summary *RunSummary) (*Record, error) {
	pid := o.opts.Platform.ID
	passes := o.opts.Platform.Passes

	item, ok, err := o.opts.Items.LoadWorkItem(ctx, pid, id)
	if err != nil {
		LogWarn("Failed to load work item %s/%s, starting fresh: %v", pid, id, err)
	}
	if !ok || item == nil {
		item = &WorkItem{PlatformID: pid, ExternalID: id}
	}
	item.Category = category
	if item.PassCursor >= len(passes) {
		item.PassCursor = 0
	} else if item.PassCursor > 0 {
		LogInfo("Resuming %s/%s at pass %d (%s)", pid, id, item.PassCursor+1, passes[item.PassCursor].Name)
	}

	st := &itemState{record: o.newRecord(id, category), unresolved: make(map[string]bool)}

	var probe Probe
	_, err = o.call(ctx, "probe", func(ctx context.Context, s *Session) error {
		var err error
		probe, err = o.opts.Adapter.Probe(ctx, s, id)
		return err
	})
	switch {
	case ctx.Err() != nil:
		return nil, o.cancelled(ctx)
	case IsAuthError(err, ""):
		return st.record, err
	case err != nil:
		LogWarn("Probe of %s/%s failed, cache bypassed: %v", pid, id, err)
	}
	fingerprint := Fingerprint(probe)

	for i, pass := range passes {
		if ctx.Err() != nil {
			return nil, o.cancelled(ctx)
		}
		key := CacheKey{PlatformID: pid, ExternalID: id, PassIndex: i}

		if entry, ok := o.opts.Cache.Lookup(ctx, key, fingerprint); ok {
			LogDebug("Pass %s of %s/%s is current, restoring from cache", pass.Name, pid, id)
			st.merge(entry.Result.Fields, entry.Result.Unresolved, entry.Result.Events)
			st.record.Completeness = st.record.Completeness.WithPass(i)
			item.ClearFailed(i)
			summary.CachedPasses++
			o.opts.Observer.PassDone(pid, id, i, pass.Name, true, nil)
			o.advance(ctx, item, i)
			continue
		}

		result, err := o.runPass(ctx, id, pass)
		if err != nil {
			if ctx.Err() != nil {
				return nil, o.cancelled(ctx)
			}
			failure := &PassFailure{PlatformID: pid, ExternalID: id, PassIndex: i, PassName: pass.Name, Err: err}
			st.record.PassErrors[i] = failure.Error()
			item.MarkFailed(i, err)
			item.RetryCount++
			summary.FailedPasses++
			o.opts.Observer.PassDone(pid, id, i, pass.Name, false, failure)
			if IsAuthError(err, "") {
				o.advance(ctx, item, i-1)
				return st.record, err
			}
			LogWarn("%v", failure)
			o.advance(ctx, item, i)
			continue
		}

		if err := o.opts.Cache.Record(ctx, key, fingerprint, *result); err != nil {
			LogWarn("Failed to cache pass %s of %s/%s: %v", pass.Name, pid, id, err)
		}
		st.merge(result.Fields, result.Unresolved, result.Events)
		st.record.Completeness = st.record.Completeness.WithPass(i)
		item.ClearFailed(i)
		summary.FetchedPasses++
		o.opts.Observer.PassDone(pid, id, i, pass.Name, false, nil)
		o.advance(ctx, item, i)
	}

	o.assemble(ctx, st)
	return st.record, nil
}

// advance persists the item with pass i behind it.
func (o *Orchestrator) advance(ctx context.Context, item *WorkItem, i int) {
	item.PassCursor = i + 1
	item.UpdatedAt = o.opts.Clock.Now()
	if err := o.opts.Items.SaveWorkItem(ctx, item); err != nil {
		LogWarn("Failed to persist work item %s/%s: %v", item.PlatformID, item.ExternalID, err)
	}
}

// runPass fetches one pass under the pass budget and resolves its
// deferred references.
func (o *Orchestrator) runPass(ctx context.Context, id string, pass PassDescriptor) (*PassResult, error) {
	passCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if o.opts.PassTimeout > 0 {
		timer := o.opts.Clock.AfterFunc(o.opts.PassTimeout, func() { cancel(ErrPassTimeout) })
		defer timer.Stop()
	}

	var payload *RawPayload
	s, err := o.callWithin(ctx, passCtx, "fetch_pass:"+pass.Name, func(ctx context.Context, s *Session) error {
		var err error
		payload, err = o.opts.Adapter.FetchPass(ctx, s, id, pass)
		return err
	})
	if err != nil {
		if ctx.Err() == nil && errors.Is(context.Cause(passCtx), ErrPassTimeout) {
			return nil, fmt.Errorf("%w after %s", ErrPassTimeout, o.opts.PassTimeout)
		}
		return nil, err
	}
	if payload == nil {
		payload = &RawPayload{}
	}

	result := &PassResult{Fields: make(map[string]string), Events: payload.Events}
	for k, v := range payload.Fields {
		if pass.Accepts(k) {
			result.Fields[k] = strings.TrimSpace(v)
		} else {
			LogDebug("Pass %s returned field %s it does not own, ignoring", pass.Name, k)
		}
	}
	handles := make(map[string]Handle)
	for k, h := range payload.Handles {
		if pass.Accepts(k) {
			handles[k] = h
		}
	}
	if len(handles) > 0 {
		result.Unresolved = o.opts.Resolver.ResolveAll(passCtx, s, handles, result.Fields)
	}
	if ctx.Err() == nil && errors.Is(context.Cause(passCtx), ErrPassTimeout) {
		// Resolution ran out the budget; a partial pass is not cached.
		return nil, fmt.Errorf("%w after %s", ErrPassTimeout, o.opts.PassTimeout)
	}
	return result, nil
}

// assemble reconciles the item's events with the external feed and
// finalizes the record.
func (o *Orchestrator) assemble(ctx context.Context, st *itemState) {
	r := st.record
	platform := o.opts.Normalizer.PlatformEvents(st.rawEvents, r.ExternalID)

	for _, name := range sortedKeys(st.unresolved) {
		if r.Fields[name] == "" {
			r.Unresolved = append(r.Unresolved, name)
		}
	}

	var external []Event
	if o.opts.External != nil {
		key := o.correlationKey(r, platform)
		raw, err := Retry(ctx, o.opts.Retry, "fetch_external", func(ctx context.Context) ([]RawExternalEvent, error) {
			return o.opts.External.FetchEvents(ctx, key)
		})
		if err != nil {
			LogWarn("External feed unavailable for %s/%s: %v", r.PlatformID, r.ExternalID, err)
		} else {
			external = o.opts.Normalizer.ExternalEvents(raw, key.String())
			r.Completeness |= FlagExternalFeed
		}
	}

	r.Timeline = o.opts.Reconciler.Reconcile(platform, external)
	r.ExtractedAt = o.opts.Clock.Now()
}

// correlationKey filters the external feed to the item's participants
// around its platform activity.
func (o *Orchestrator) correlationKey(r *Record, platform []Event) CorrelationKey {
	var participants []string
	for _, field := range o.opts.Platform.ParticipantFields {
		participants = append(participants, strings.FieldsFunc(r.Fields[field], func(c rune) bool { return c == ',' || c == ';' })...)
	}
	return NewCorrelationKey(r.ExternalID, participants, platform, o.opts.Margin, o.opts.Lookback, o.opts.Clock.Now())
}
