package internal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iksnae/review-sweep/internal/clock"
	"github.com/iksnae/review-sweep/testutil"
)

var testEpoch = time.Date(2025, 7, 16, 9, 0, 0, 0, time.UTC)

func TestFingerprint(t *testing.T) {
	a := Probe{"last_modified": "2025-07-16", "status": "under review"}
	b := Probe{"status": "under review", "last_modified": "2025-07-16"}
	c := Probe{"last_modified": "2025-07-17", "status": "under review"}

	if Fingerprint(a) != Fingerprint(b) {
		t.Error("Fingerprint() should not depend on key order")
	}
	if Fingerprint(a) == Fingerprint(c) {
		t.Error("Fingerprint() should change when a probe value changes")
	}
	if Fingerprint(nil) != "" || Fingerprint(Probe{}) != "" {
		t.Error("Fingerprint() of an empty probe should be empty")
	}
	// Separators keep "ab"+"c" apart from "a"+"bc".
	if Fingerprint(Probe{"ab": "c"}) == Fingerprint(Probe{"a": "bc"}) {
		t.Error("Fingerprint() should separate keys from values")
	}
}

func TestResultCache_ShouldExtract(t *testing.T) {
	fake := clock.Fake(testEpoch)
	cache := NewResultCache(NewMemoryStore(), time.Hour, fake)
	ctx := context.Background()
	key := CacheKey{PlatformID: "em", ExternalID: "MS-1", PassIndex: 0}

	if !cache.ShouldExtract(ctx, key, "fp1") {
		t.Error("ShouldExtract() = false with no entry")
	}

	if err := cache.Record(ctx, key, "fp1", PassResult{Fields: map[string]string{"title": "A"}}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if cache.ShouldExtract(ctx, key, "fp1") {
		t.Error("ShouldExtract() = true for fresh matching entry")
	}
	if !cache.ShouldExtract(ctx, key, "fp2") {
		t.Error("ShouldExtract() = false for a changed fingerprint")
	}
	if !cache.ShouldExtract(ctx, key, "") {
		t.Error("ShouldExtract() = false for an empty fingerprint")
	}

	fake.Advance(time.Hour)
	if !cache.ShouldExtract(ctx, key, "fp1") {
		t.Error("ShouldExtract() = false after TTL elapsed")
	}
}

func TestResultCache_RecordIdempotent(t *testing.T) {
	fake := clock.Fake(testEpoch)
	store := NewMemoryStore()
	cache := NewResultCache(store, time.Hour, fake)
	ctx := context.Background()
	key := CacheKey{PlatformID: "em", ExternalID: "MS-1", PassIndex: 1}
	result := PassResult{Fields: map[string]string{"reviewer": "x"}}

	if err := cache.Record(ctx, key, "fp", result); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	fake.Advance(30 * time.Minute)
	if err := cache.Record(ctx, key, "fp", result); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entry, ok, _ := store.GetEntry(ctx, key)
	if !ok {
		t.Fatal("entry missing after Record()")
	}
	if !entry.CapturedAt.Equal(testEpoch) {
		t.Errorf("CapturedAt = %v, want original %v", entry.CapturedAt, testEpoch)
	}
	if cache.ShouldExtract(ctx, key, "fp") {
		t.Error("ShouldExtract() = true after repeated Record()")
	}

	// The second record must not have extended the TTL.
	fake.Advance(30 * time.Minute)
	if !cache.ShouldExtract(ctx, key, "fp") {
		t.Error("ShouldExtract() = false after original TTL elapsed")
	}
}

func TestResultCache_LookupRestoresResult(t *testing.T) {
	cache := NewResultCache(NewMemoryStore(), 0, clock.Fake(testEpoch))
	ctx := context.Background()
	key := CacheKey{PlatformID: "em", ExternalID: "MS-1", PassIndex: 2}
	want := PassResult{
		Fields:     map[string]string{"decision": "accept"},
		Unresolved: []string{"editor_email"},
		Events:     []RawPlatformEvent{{Timestamp: testEpoch, From: "editor", To: "author", Type: "decision_sent"}},
	}
	if err := cache.Record(ctx, key, "fp", want); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	entry, ok := cache.Lookup(ctx, key, "fp")
	if !ok {
		t.Fatal("Lookup() miss for recorded entry")
	}
	if entry.Result.Fields["decision"] != "accept" || len(entry.Result.Events) != 1 || entry.Result.Unresolved[0] != "editor_email" {
		t.Errorf("Lookup() result = %+v", entry.Result)
	}

	// Mutating the returned result must not leak into the store.
	entry.Result.Fields["decision"] = "reject"
	again, _ := cache.Lookup(ctx, key, "fp")
	if again.Result.Fields["decision"] != "accept" {
		t.Error("store shares field map with callers")
	}
}

func TestResultCache_EmptyFingerprintNotRecorded(t *testing.T) {
	store := NewMemoryStore()
	cache := NewResultCache(store, time.Hour, nil)
	ctx := context.Background()
	key := CacheKey{PlatformID: "em", ExternalID: "MS-1"}

	if err := cache.Record(ctx, key, "", PassResult{}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if _, ok, _ := store.GetEntry(ctx, key); ok {
		t.Error("Record() stored an entry with an empty fingerprint")
	}
}

func TestResultCache_Invalidate(t *testing.T) {
	cache := NewResultCache(NewMemoryStore(), time.Hour, nil)
	ctx := context.Background()
	key := CacheKey{PlatformID: "em", ExternalID: "MS-1"}
	_ = cache.Record(ctx, key, "fp", PassResult{})

	if err := cache.Invalidate(ctx, key); err != nil {
		t.Fatalf("Invalidate() error = %v", err)
	}
	if !cache.ShouldExtract(ctx, key, "fp") {
		t.Error("ShouldExtract() = false after Invalidate()")
	}
}

func TestResultCache_SQLiteBacked(t *testing.T) {
	dir := testutil.CreateTempDir(t)
	store, err := OpenDatabase(filepath.Join(dir, "state.db"))
	if err != nil {
		t.Fatalf("OpenDatabase() error = %v", err)
	}
	defer store.Close()

	fake := clock.Fake(testEpoch)
	cache := NewResultCache(store, time.Hour, fake)
	ctx := context.Background()
	key := CacheKey{PlatformID: "em", ExternalID: "MS-9", PassIndex: 0}

	if err := cache.Record(ctx, key, "fp", PassResult{Fields: map[string]string{"title": "T"}}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if cache.ShouldExtract(ctx, key, "fp") {
		t.Error("ShouldExtract() = true for fresh SQLite entry")
	}
	fake.Advance(2 * time.Hour)
	if !cache.ShouldExtract(ctx, key, "fp") {
		t.Error("ShouldExtract() = false for expired SQLite entry")
	}
}
