package internal

import (
	"time"
)

// DefaultDedupWindow is the symmetric window within which a platform
// and an external event can be the same communication.
const DefaultDedupWindow = 5 * time.Minute

// DefaultTypeEquivalence groups event types that describe the same
// communication under a canonical name.
var DefaultTypeEquivalence = map[string][]string{
	"invitation_sent":     {"reviewer_invited", "invitation", "review_invitation"},
	"invitation_accepted": {"reviewer_agreed", "invitation_agreed"},
	"invitation_declined": {"reviewer_declined"},
	"reminder_sent":       {"reminder", "review_reminder"},
	"review_submitted":    {"report_received", "review_received", "referee_report"},
	"decision_sent":       {"decision_letter", "decision"},
}

// Reconciler merges a platform activity log with an external feed into
// one deduplicated Timeline. It holds only immutable configuration and
// may be shared between goroutines.
type Reconciler struct {
	window time.Duration
	class  map[string]string
}

// NewReconciler creates a Reconciler. window <= 0 selects
// DefaultDedupWindow; a nil equivalence map selects
// DefaultTypeEquivalence.
func NewReconciler(window time.Duration, equivalence map[string][]string) *Reconciler {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	if equivalence == nil {
		equivalence = DefaultTypeEquivalence
	}
	class := make(map[string]string)
	for _, canonical := range sortedKeys(equivalence) {
		c := NormalizeType(canonical)
		class[c] = c
		for _, member := range equivalence[canonical] {
			class[NormalizeType(member)] = c
		}
	}
	return &Reconciler{window: window, class: class}
}

// Window returns the dedup window.
func (r *Reconciler) Window() time.Duration {
	return r.window
}

// CanonicalType maps an event type to its equivalence class.
func (r *Reconciler) CanonicalType(t string) string {
	t = NormalizeType(t)
	if c, ok := r.class[t]; ok {
		return c
	}
	return t
}

// Equivalent reports whether a and b describe the same communication:
// within the window of each other, between the same two actors in
// either direction, and of equivalent type.
func (r *Reconciler) Equivalent(a, b Event) bool {
	d := a.Timestamp.Sub(b.Timestamp)
	if d < 0 {
		d = -d
	}
	if d > r.window {
		return false
	}
	af, at := NormalizeActor(a.ActorFrom), NormalizeActor(a.ActorTo)
	bf, bt := NormalizeActor(b.ActorFrom), NormalizeActor(b.ActorTo)
	if !(af == bf && at == bt) && !(af == bt && at == bf) {
		return false
	}
	return r.CanonicalType(a.Type) == r.CanonicalType(b.Type)
}

// Reconcile returns the merged timeline for one work item. The platform
// log is authoritative: an external event equivalent to any platform
// event is dropped, the rest are kept and flagged ExternalOnly.
// Duplicates within either source collapse onto their earliest entry.
// The result is sorted by time with platform events first on ties, and
// no two entries are equivalent.
func (r *Reconciler) Reconcile(platform, external []Event) Timeline {
	plat := make([]Event, len(platform))
	copy(plat, platform)
	for i := range plat {
		plat[i].Source = SourcePlatform
		plat[i].ExternalOnly = false
	}
	ext := make([]Event, len(external))
	copy(ext, external)
	for i := range ext {
		ext[i].Source = SourceExternal
	}
	sortEvents(plat)
	sortEvents(ext)

	kept := make([]Event, 0, len(plat)+len(ext))
	for _, e := range plat {
		if r.matchesAny(e, kept) {
			LogDebug("Collapsing duplicate platform event %s %s->%s at %s", e.Type, e.ActorFrom, e.ActorTo, e.Timestamp.Format(time.RFC3339))
			continue
		}
		kept = append(kept, e)
	}

	// Externals are checked against every platform event, collapsed or
	// not, so a mirror of a collapsed duplicate is still dropped.
	var externalOnly []Event
	for _, e := range ext {
		if r.matchesAny(e, plat) || r.matchesAny(e, externalOnly) {
			continue
		}
		e.ExternalOnly = true
		externalOnly = append(externalOnly, e)
	}
	kept = append(kept, externalOnly...)

	sortEvents(kept)
	return Timeline(kept)
}

func (r *Reconciler) matchesAny(e Event, kept []Event) bool {
	for _, k := range kept {
		if r.Equivalent(e, k) {
			return true
		}
	}
	return false
}

// NewCorrelationKey builds the key for itemID from the given addresses
// and the actors of its platform events. The range spans the platform
// events widened by margin, or the lookback before now when there are
// none.
func NewCorrelationKey(itemID string, participants []string, platform []Event, margin, lookback time.Duration, now time.Time) CorrelationKey {
	seen := make(map[string]bool)
	key := CorrelationKey{ItemID: itemID}
	add := func(addr string) {
		addr = NormalizeActor(addr)
		if addr == "" || seen[addr] {
			return
		}
		seen[addr] = true
		key.Participants = append(key.Participants, addr)
	}
	for _, p := range participants {
		add(p)
	}
	for _, e := range platform {
		add(e.ActorFrom)
		add(e.ActorTo)
	}

	if len(platform) > 0 {
		first, last := EventSpan(platform)
		key.From = first.Add(-margin)
		key.To = last.Add(margin)
	} else if lookback > 0 {
		key.From = now.Add(-lookback)
		key.To = now
	}
	return key
}
