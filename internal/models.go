package internal

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PassDescriptor names one ordered extraction stage of a platform
type PassDescriptor struct {
	Name       string   `yaml:"name" json:"name"`
	Fields     []string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Navigation string   `yaml:"navigation,omitempty" json:"navigation,omitempty"` // "forward", "backward"
}

// Accepts reports whether the pass is allowed to fill field. A pass
// without a field list accepts everything.
func (p PassDescriptor) Accepts(field string) bool {
	if len(p.Fields) == 0 {
		return true
	}
	for _, f := range p.Fields {
		if f == field {
			return true
		}
	}
	return false
}

// Handle is an opaque reference to a value that needs a secondary fetch
type Handle struct {
	Kind string `yaml:"kind" json:"kind"`
	Ref  string `yaml:"ref" json:"ref"`
}

// Probe is the cheap "last modified" view of an item used for fingerprinting
type Probe map[string]string

// RawPlatformEvent is one entry of a platform's activity log as the
// adapter read it
type RawPlatformEvent struct {
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	From      string    `yaml:"from" json:"from"`
	To        string    `yaml:"to" json:"to"`
	Type      string    `yaml:"type" json:"type"`
	Excerpt   string    `yaml:"excerpt,omitempty" json:"excerpt,omitempty"`
}

// RawPayload is what an adapter returns for one item in one pass
type RawPayload struct {
	Fields  map[string]string `yaml:"fields,omitempty" json:"fields,omitempty"`
	Handles map[string]Handle `yaml:"handles,omitempty" json:"handles,omitempty"`
	Events  []RawPlatformEvent `yaml:"events,omitempty" json:"events,omitempty"`
}

// PassResult is the normalized output of one pass, as cached
type PassResult struct {
	Fields     map[string]string  `json:"fields,omitempty"`
	Unresolved []string           `json:"unresolved,omitempty"`
	Events     []RawPlatformEvent `json:"events,omitempty"`
}

// WorkItem tracks one extractable unit through its passes
type WorkItem struct {
	PlatformID   string    `json:"platform_id"`
	ExternalID   string    `json:"external_id"`
	Category     string    `json:"category"`
	PassCursor   int       `json:"pass_cursor"`
	FailedPasses []int     `json:"failed_passes,omitempty"`
	RetryCount   int       `json:"retry_count"`
	LastError    string    `json:"last_error,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MarkFailed records pass as failed, keeping FailedPasses sorted and unique.
func (w *WorkItem) MarkFailed(pass int, err error) {
	for _, p := range w.FailedPasses {
		if p == pass {
			w.LastError = err.Error()
			return
		}
	}
	w.FailedPasses = append(w.FailedPasses, pass)
	sort.Ints(w.FailedPasses)
	w.LastError = err.Error()
}

// ClearFailed removes pass from FailedPasses after a successful re-run.
func (w *WorkItem) ClearFailed(pass int) {
	kept := w.FailedPasses[:0]
	for _, p := range w.FailedPasses {
		if p != pass {
			kept = append(kept, p)
		}
	}
	w.FailedPasses = kept
}

// CacheKey identifies one pass of one item on one platform
type CacheKey struct {
	PlatformID string
	ExternalID string
	PassIndex  int
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s/%s#%d", k.PlatformID, k.ExternalID, k.PassIndex)
}

// CacheEntry is the stored fingerprint of a completed pass plus its result
type CacheEntry struct {
	Key         CacheKey
	Fingerprint string
	CapturedAt  time.Time
	TTL         time.Duration
	Result      PassResult
}

// Expired reports whether the entry's TTL has elapsed at now. A zero
// TTL never expires.
func (e *CacheEntry) Expired(now time.Time) bool {
	if e.TTL <= 0 {
		return false
	}
	return !now.Before(e.CapturedAt.Add(e.TTL))
}

// EventSource tells where an Event came from
type EventSource string

const (
	SourcePlatform EventSource = "platform"
	SourceExternal EventSource = "external"
)

// Event is one entry of a reconciled timeline
type Event struct {
	Timestamp      time.Time   `json:"timestamp" yaml:"timestamp"`
	ActorFrom      string      `json:"actor_from" yaml:"actor_from"`
	ActorTo        string      `json:"actor_to" yaml:"actor_to"`
	Type           string      `json:"event_type" yaml:"event_type"`
	Source         EventSource `json:"source" yaml:"source"`
	RawExcerpt     string      `json:"raw_excerpt,omitempty" yaml:"raw_excerpt,omitempty"`
	CorrelationKey string      `json:"correlation_key,omitempty" yaml:"correlation_key,omitempty"`
	ExternalOnly   bool        `json:"external_only,omitempty" yaml:"external_only,omitempty"`
}

// Timeline is the ordered, deduplicated history of one work item
type Timeline []Event

// CorrelationKey filters an external feed down to one work item
type CorrelationKey struct {
	ItemID       string
	Participants []string
	From         time.Time
	To           time.Time
}

// String returns a stable identifier stored on external events.
func (k CorrelationKey) String() string {
	return k.ItemID
}

// Matches reports whether an address belongs to the key's participants.
func (k CorrelationKey) Matches(address string) bool {
	address = NormalizeActor(address)
	for _, p := range k.Participants {
		if NormalizeActor(p) == address {
			return true
		}
	}
	return false
}

// InRange reports whether t falls inside the key's date range. Zero
// bounds are open.
func (k CorrelationKey) InRange(t time.Time) bool {
	if !k.From.IsZero() && t.Before(k.From) {
		return false
	}
	if !k.To.IsZero() && t.After(k.To) {
		return false
	}
	return true
}

// RawExternalEvent is one message of the external feed before
// normalization
type RawExternalEvent struct {
	ID      string    `json:"id"`
	Date    time.Time `json:"date"`
	From    string    `json:"from"`
	To      []string  `json:"to"`
	Subject string    `json:"subject,omitempty"`
	Body    string    `json:"body,omitempty"`
	Type    string    `json:"type,omitempty"`
}

// CompletenessFlags has bit i set when pass i completed. The top bit
// reports whether the external feed was consulted.
type CompletenessFlags uint64

// FlagExternalFeed is set when external events were fetched successfully.
const FlagExternalFeed CompletenessFlags = 1 << 63

// MaxPasses is the number of passes CompletenessFlags can describe.
const MaxPasses = 63

// PassComplete reports whether pass i completed.
func (f CompletenessFlags) PassComplete(i int) bool {
	if i < 0 || i >= MaxPasses {
		return false
	}
	return f&(1<<uint(i)) != 0
}

// WithPass returns f with pass i marked complete.
func (f CompletenessFlags) WithPass(i int) CompletenessFlags {
	if i < 0 || i >= MaxPasses {
		return f
	}
	return f | 1<<uint(i)
}

// AllPasses reports whether passes 0..n-1 all completed.
func (f CompletenessFlags) AllPasses(n int) bool {
	for i := 0; i < n; i++ {
		if !f.PassComplete(i) {
			return false
		}
	}
	return true
}

// Describe renders the flags as e.g. "passes 1,3 of 3; external feed".
func (f CompletenessFlags) Describe(n int) string {
	var done []string
	for i := 0; i < n; i++ {
		if f.PassComplete(i) {
			done = append(done, fmt.Sprintf("%d", i+1))
		}
	}
	s := fmt.Sprintf("passes %s of %d", strings.Join(done, ","), n)
	if len(done) == 0 {
		s = fmt.Sprintf("no passes of %d", n)
	}
	if f&FlagExternalFeed != 0 {
		s += "; external feed"
	}
	return s
}

// Record is the assembled output for one work item in one run
type Record struct {
	RunID        string            `json:"run_id" yaml:"run_id"`
	PlatformID   string            `json:"platform_id" yaml:"platform_id"`
	ExternalID   string            `json:"external_id" yaml:"external_id"`
	Category     string            `json:"category" yaml:"category"`
	Fields       map[string]string `json:"fields" yaml:"fields"`
	Unresolved   []string          `json:"unresolved,omitempty" yaml:"unresolved,omitempty"`
	Timeline     Timeline          `json:"timeline" yaml:"timeline"`
	Completeness CompletenessFlags `json:"completeness_flags" yaml:"completeness_flags"`
	PassCount    int               `json:"pass_count" yaml:"pass_count"`
	PassErrors   map[int]string    `json:"pass_errors,omitempty" yaml:"pass_errors,omitempty"`
	ExtractedAt  time.Time         `json:"extracted_at" yaml:"extracted_at"`
}

// Complete reports whether every pass and the external feed succeeded.
func (r *Record) Complete() bool {
	return r.Completeness.AllPasses(r.PassCount) && r.Completeness&FlagExternalFeed != 0
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
