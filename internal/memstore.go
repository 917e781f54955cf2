package internal

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store. Entries are copied on the way in
// and out so callers never share mutable state with the store.
type MemoryStore struct {
	entries sync.Map // CacheKey -> CacheEntry
	items   sync.Map // [2]string -> WorkItem
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) GetEntry(ctx context.Context, key CacheKey) (*CacheEntry, bool, error) {
	v, ok := m.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := v.(CacheEntry)
	entry.Result = clonePassResult(entry.Result)
	return &entry, true, nil
}

func (m *MemoryStore) PutEntry(ctx context.Context, entry *CacheEntry) error {
	stored := *entry
	stored.Result = clonePassResult(entry.Result)
	m.entries.Store(entry.Key, stored)
	return nil
}

func (m *MemoryStore) DeleteEntry(ctx context.Context, key CacheKey) error {
	m.entries.Delete(key)
	return nil
}

func (m *MemoryStore) ClearEntries(ctx context.Context, platformID string) (int, error) {
	n := 0
	m.entries.Range(func(k, _ any) bool {
		key := k.(CacheKey)
		if platformID == "" || key.PlatformID == platformID {
			m.entries.Delete(key)
			n++
		}
		return true
	})
	return n, nil
}

func (m *MemoryStore) LoadWorkItem(ctx context.Context, platformID, externalID string) (*WorkItem, bool, error) {
	v, ok := m.items.Load([2]string{platformID, externalID})
	if !ok {
		return nil, false, nil
	}
	item := v.(WorkItem)
	item.FailedPasses = append([]int(nil), item.FailedPasses...)
	return &item, true, nil
}

func (m *MemoryStore) SaveWorkItem(ctx context.Context, item *WorkItem) error {
	stored := *item
	stored.FailedPasses = append([]int(nil), item.FailedPasses...)
	m.items.Store([2]string{item.PlatformID, item.ExternalID}, stored)
	return nil
}

func (m *MemoryStore) ListWorkItems(ctx context.Context, platformID string) ([]*WorkItem, error) {
	var items []*WorkItem
	m.items.Range(func(k, v any) bool {
		item := v.(WorkItem)
		if platformID == "" || item.PlatformID == platformID {
			item.FailedPasses = append([]int(nil), item.FailedPasses...)
			items = append(items, &item)
		}
		return true
	})
	sortWorkItems(items)
	return items, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error {
	return nil
}

func sortWorkItems(items []*WorkItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].PlatformID != items[j].PlatformID {
			return items[i].PlatformID < items[j].PlatformID
		}
		return items[i].ExternalID < items[j].ExternalID
	})
}

func clonePassResult(r PassResult) PassResult {
	out := PassResult{
		Unresolved: append([]string(nil), r.Unresolved...),
		Events:     append([]RawPlatformEvent(nil), r.Events...),
	}
	if r.Fields != nil {
		out.Fields = make(map[string]string, len(r.Fields))
		for k, v := range r.Fields {
			out.Fields[k] = v
		}
	}
	return out
}
