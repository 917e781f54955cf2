package internal

import (
	"net/mail"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DefaultExternalType is given to external messages no rule classifies.
const DefaultExternalType = "general_correspondence"

// NormalizeActor reduces an actor to a comparable form: the bare
// lower-case address for "Name <addr>" strings, otherwise the trimmed
// lower-case text.
func NormalizeActor(actor string) string {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(actor); err == nil {
		return strings.ToLower(addr.Address)
	}
	if lt, gt := strings.LastIndex(actor, "<"), strings.LastIndex(actor, ">"); lt >= 0 && gt > lt+1 {
		return strings.ToLower(strings.TrimSpace(actor[lt+1 : gt]))
	}
	return strings.ToLower(actor)
}

// NormalizeType lower-cases an event type and folds spaces and dashes
// into underscores, so "Review Submitted" == "review-submitted".
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return '_'
		}
		return r
	}, t)
}

// SubjectRule classifies an external message whose subject contains
// any of Keywords
type SubjectRule struct {
	Type     string   `yaml:"type"`
	Keywords []string `yaml:"keywords"`
}

// DefaultSubjectRules are applied when the config has none.
var DefaultSubjectRules = []SubjectRule{
	{Type: "invitation_sent", Keywords: []string{"invitation to review", "invitation to referee", "review invitation"}},
	{Type: "invitation_accepted", Keywords: []string{"agreed to review", "accepted the invitation"}},
	{Type: "invitation_declined", Keywords: []string{"declined to review", "declined the invitation"}},
	{Type: "reminder_sent", Keywords: []string{"reminder", "overdue"}},
	{Type: "review_submitted", Keywords: []string{"review submitted", "report received", "referee report"}},
	{Type: "decision_sent", Keywords: []string{"decision on", "decision letter"}},
}

// Normalizer turns raw platform and external entries into Events
type Normalizer struct {
	rules []SubjectRule
}

// NewNormalizer creates a Normalizer. Nil rules select DefaultSubjectRules.
func NewNormalizer(rules []SubjectRule) *Normalizer {
	if rules == nil {
		rules = DefaultSubjectRules
	}
	return &Normalizer{rules: rules}
}

// Classify returns the event type for a subject line.
func (n *Normalizer) Classify(subject string) string {
	s := strings.ToLower(subject)
	for _, rule := range n.rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(s, strings.ToLower(kw)) {
				return NormalizeType(rule.Type)
			}
		}
	}
	return DefaultExternalType
}

// PlatformEvents converts a platform activity log into Events, sorted
// by time.
func (n *Normalizer) PlatformEvents(raw []RawPlatformEvent, correlationKey string) []Event {
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		if r.Timestamp.IsZero() {
			LogDebug("Dropping platform event without timestamp: %s %s->%s", r.Type, r.From, r.To)
			continue
		}
		events = append(events, Event{
			Timestamp:      r.Timestamp.UTC(),
			ActorFrom:      NormalizeActor(r.From),
			ActorTo:        NormalizeActor(r.To),
			Type:           NormalizeType(r.Type),
			Source:         SourcePlatform,
			RawExcerpt:     r.Excerpt,
			CorrelationKey: correlationKey,
		})
	}
	sortEvents(events)
	return events
}

// ExternalEvents converts feed messages into Events, one per message,
// addressed to the first recipient. Messages without a date are dropped.
func (n *Normalizer) ExternalEvents(raw []RawExternalEvent, correlationKey string) []Event {
	events := make([]Event, 0, len(raw))
	for _, r := range raw {
		if r.Date.IsZero() {
			LogDebug("Dropping external message %s without date", r.ID)
			continue
		}
		to := ""
		if len(r.To) > 0 {
			to = r.To[0]
		}
		eventType := NormalizeType(r.Type)
		if eventType == "" {
			eventType = n.Classify(r.Subject)
		}
		events = append(events, Event{
			Timestamp:      r.Date.UTC(),
			ActorFrom:      NormalizeActor(r.From),
			ActorTo:        NormalizeActor(to),
			Type:           eventType,
			Source:         SourceExternal,
			RawExcerpt:     excerpt(r.Subject, r.Body),
			CorrelationKey: correlationKey,
		})
	}
	sortEvents(events)
	return events
}

func excerpt(subject, body string) string {
	const maxBody = 280
	body = strings.Join(strings.Fields(body), " ")
	if len(body) > maxBody {
		cut := maxBody
		for cut > 0 && !utf8.RuneStart(body[cut]) {
			cut--
		}
		body = body[:cut] + "…"
	}
	switch {
	case subject == "":
		return body
	case body == "":
		return subject
	default:
		return subject + ": " + body
	}
}

// sortEvents orders by time, platform before external on ties.
func sortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return eventLess(events[i], events[j])
	})
}

func eventLess(a, b Event) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.Source == SourcePlatform && b.Source != SourcePlatform
}

// EventSpan returns the earliest and latest timestamps of events.
func EventSpan(events []Event) (first, last time.Time) {
	for i, e := range events {
		if i == 0 || e.Timestamp.Before(first) {
			first = e.Timestamp
		}
		if i == 0 || e.Timestamp.After(last) {
			last = e.Timestamp
		}
	}
	return first, last
}
