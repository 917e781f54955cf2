package internal

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestResolver_FailureYieldsEmptyValue(t *testing.T) {
	adapter := newStubAdapter()
	adapter.resolveErr = errors.New("dialog did not open")
	r := NewResolver(adapter, newTestRetry(3), time.Second)
	s := authenticatedTestSession("em")

	value, ok := r.Resolve(context.Background(), s, Handle{Kind: "popup", Ref: "#reviewer-email"})
	if ok || value != EmptyValue {
		t.Errorf("Resolve() = %q, %v; want EmptyValue, false", value, ok)
	}
	if got := adapter.calls("ResolveHandle"); got != 1 {
		t.Errorf("ResolveHandle called %d times, want 1 (non-transient)", got)
	}
}

func TestResolver_TransientThenSuccess(t *testing.T) {
	adapter := newStubAdapter()
	adapter.resolveFn = func(call int, h Handle) (string, error) {
		if call == 1 {
			return "", ErrStaleElement
		}
		return "  referee@uni.edu ", nil
	}
	r := NewResolver(adapter, newTestRetry(3), 0)

	value, ok := r.Resolve(context.Background(), authenticatedTestSession("em"), Handle{Kind: "popup", Ref: "#email"})
	if !ok || value != "referee@uni.edu" {
		t.Errorf("Resolve() = %q, %v", value, ok)
	}
}

func TestResolver_BlankIsUnresolved(t *testing.T) {
	adapter := newStubAdapter()
	adapter.resolveFn = func(int, Handle) (string, error) { return "   ", nil }
	r := NewResolver(adapter, newTestRetry(1), 0)

	if _, ok := r.Resolve(context.Background(), authenticatedTestSession("em"), Handle{}); ok {
		t.Error("Resolve() ok = true for blank content")
	}
}

func TestResolver_TimeoutYieldsEmptyValue(t *testing.T) {
	adapter := newStubAdapter()
	adapter.resolveFn = func(int, Handle) (string, error) { return "", nil }
	adapter.resolveBlock = true
	r := NewResolver(adapter, newTestRetry(1), 20*time.Millisecond)

	start := time.Now()
	value, ok := r.Resolve(context.Background(), authenticatedTestSession("em"), Handle{Kind: "popup"})
	if ok || value != EmptyValue {
		t.Errorf("Resolve() = %q, %v; want EmptyValue", value, ok)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Resolve() did not honour its timeout")
	}
}

func TestResolver_ResolveAll(t *testing.T) {
	adapter := newStubAdapter()
	adapter.resolveFn = func(_ int, h Handle) (string, error) {
		if h.Ref == "bad" {
			return "", errors.New("gone")
		}
		return "value-" + h.Ref, nil
	}
	r := NewResolver(adapter, newTestRetry(1), 0)
	fields := map[string]string{"title": "T"}

	unresolved := r.ResolveAll(context.Background(), authenticatedTestSession("em"), map[string]Handle{
		"reviewer_email": {Kind: "popup", Ref: "ok"},
		"editor_email":   {Kind: "popup", Ref: "bad"},
	}, fields)

	if len(unresolved) != 1 || unresolved[0] != "editor_email" {
		t.Errorf("ResolveAll() unresolved = %v", unresolved)
	}
	if fields["reviewer_email"] != "value-ok" {
		t.Errorf("fields[reviewer_email] = %q", fields["reviewer_email"])
	}
	if v, present := fields["editor_email"]; !present || v != EmptyValue {
		t.Errorf("fields[editor_email] = %q, %v; want present and empty", v, present)
	}
}
