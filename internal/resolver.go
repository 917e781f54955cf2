package internal

import (
	"context"
	"strings"
	"time"
)

// EmptyValue is what an unresolved deferred reference resolves to.
const EmptyValue = ""

// Resolver resolves deferred references (values behind a secondary
// navigation). It never fails: an unresolvable handle degrades to
// EmptyValue.
type Resolver struct {
	adapter PlatformAdapter
	retry   *RetryController
	timeout time.Duration
}

// NewResolver creates a Resolver. timeout <= 0 means no per-handle budget.
func NewResolver(adapter PlatformAdapter, retry *RetryController, timeout time.Duration) *Resolver {
	return &Resolver{adapter: adapter, retry: retry, timeout: timeout}
}

// Resolve fetches the value behind h. ok is false when the value is
// not available, in which case value is EmptyValue.
func (r *Resolver) Resolve(ctx context.Context, s *Session, h Handle) (value string, ok bool) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	raw, err := Retry(ctx, r.retry, "resolve_handle", func(ctx context.Context) (string, error) {
		var v string
		err := s.Do(ctx, func(ctx context.Context) error {
			var err error
			v, err = r.adapter.ResolveHandle(ctx, s, h)
			return err
		})
		return v, err
	})
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		LogDebug("%v", &ResolutionFailure{Handle: h, Err: err})
		return EmptyValue, false
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return EmptyValue, false
	}
	return raw, true
}

// ResolveAll resolves every handle into fields, listing the field names
// that could not be resolved. Handles are resolved in field-name order.
func (r *Resolver) ResolveAll(ctx context.Context, s *Session, handles map[string]Handle, fields map[string]string) []string {
	var unresolved []string
	for _, name := range sortedKeys(handles) {
		value, ok := r.Resolve(ctx, s, handles[name])
		fields[name] = value
		if !ok {
			unresolved = append(unresolved, name)
		}
	}
	return unresolved
}
