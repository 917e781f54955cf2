package internal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"time"

	"github.com/iksnae/review-sweep/internal/clock"
)

// FingerprintStore persists cache entries keyed per platform+item+pass.
// Put must replace an entry atomically; no cross-key locking is needed.
type FingerprintStore interface {
	GetEntry(ctx context.Context, key CacheKey) (*CacheEntry, bool, error)
	PutEntry(ctx context.Context, entry *CacheEntry) error
	DeleteEntry(ctx context.Context, key CacheKey) error
	ClearEntries(ctx context.Context, platformID string) (int, error)
}

// WorkItemStore persists work item progress so runs can resume.
type WorkItemStore interface {
	LoadWorkItem(ctx context.Context, platformID, externalID string) (*WorkItem, bool, error)
	SaveWorkItem(ctx context.Context, item *WorkItem) error
	ListWorkItems(ctx context.Context, platformID string) ([]*WorkItem, error)
}

// Store is the durable state the orchestrator needs.
type Store interface {
	FingerprintStore
	WorkItemStore
	Close() error
}

// Fingerprint summarizes a probe independently of key order. An empty
// probe has an empty fingerprint, which never matches a cache entry.
func Fingerprint(p Probe) string {
	if len(p) == 0 {
		return ""
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(p[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ResultCache decides whether a pass needs re-extraction
type ResultCache struct {
	store FingerprintStore
	ttl   time.Duration
	clock clock.Clock
}

// NewResultCache creates a ResultCache over store. ttl <= 0 disables expiry.
func NewResultCache(store FingerprintStore, ttl time.Duration, clk clock.Clock) *ResultCache {
	if clk == nil {
		clk = clock.Real()
	}
	return &ResultCache{store: store, ttl: ttl, clock: clk}
}

// Lookup returns the stored entry when it is current for fingerprint:
// present, unexpired, and carrying the same non-empty fingerprint.
func (c *ResultCache) Lookup(ctx context.Context, key CacheKey, fingerprint string) (*CacheEntry, bool) {
	if fingerprint == "" {
		return nil, false
	}
	entry, ok, err := c.store.GetEntry(ctx, key)
	if err != nil {
		LogWarn("Cache lookup failed for %s: %v", key, err)
		return nil, false
	}
	if !ok || entry.Expired(c.clock.Now()) || entry.Fingerprint != fingerprint {
		return nil, false
	}
	return entry, true
}

// ShouldExtract reports whether the pass at key must run again.
func (c *ResultCache) ShouldExtract(ctx context.Context, key CacheKey, fingerprint string) bool {
	_, current := c.Lookup(ctx, key, fingerprint)
	return !current
}

// Record stores the result of a completed pass. Recording the same
// fingerprint over a fresh entry keeps its original capture time, so
// repeated records never extend the TTL.
func (c *ResultCache) Record(ctx context.Context, key CacheKey, fingerprint string, result PassResult) error {
	if fingerprint == "" {
		return nil
	}
	now := c.clock.Now()
	capturedAt := now
	if existing, ok, err := c.store.GetEntry(ctx, key); err == nil && ok &&
		existing.Fingerprint == fingerprint && !existing.Expired(now) {
		capturedAt = existing.CapturedAt
	}
	return c.store.PutEntry(ctx, &CacheEntry{
		Key:         key,
		Fingerprint: fingerprint,
		CapturedAt:  capturedAt,
		TTL:         c.ttl,
		Result:      result,
	})
}

// Invalidate drops the entry at key.
func (c *ResultCache) Invalidate(ctx context.Context, key CacheKey) error {
	return c.store.DeleteEntry(ctx, key)
}
