package model

import (
	"encoding/json"
	"time"
)

// Provider identifies one of the supported calendar backends.
type Provider string

const (
	ProviderWiki    Provider = "wiki"
	ProviderMailbox Provider = "mailbox"
	ProviderGoogle  Provider = "google"
)

// Providers lists all known backends in their canonical iteration order.
// Merged event listings always concatenate provider data in this order.
var Providers = []Provider{ProviderWiki, ProviderMailbox, ProviderGoogle}

// ParseProvider maps a route/config string to a Provider.
func ParseProvider(s string) (Provider, bool) {
	switch Provider(s) {
	case ProviderWiki, ProviderMailbox, ProviderGoogle:
		return Provider(s), true
	}
	return "", false
}

// Status is the scheduling status of an event.
type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusTentative Status = "tentative"
)

// Attendee is a single event participant.
type Attendee struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Optional bool   `json:"optional"`
	Response string `json:"response,omitempty"`
}

// Event is the canonical, provider-agnostic calendar event. UIDs are unique
// per provider only; collisions across providers are acceptable.
type Event struct {
	UID           string            `json:"uid"`
	Backend       Provider          `json:"backend"`
	Calendar      string            `json:"calendar"`
	Organizer     string            `json:"organizer,omitempty"`
	Attendees     []Attendee        `json:"attendees"`
	Summary       string            `json:"summary,omitempty"`
	Description   string            `json:"description,omitempty"`
	Location      string            `json:"location,omitempty"`
	Start         time.Time         `json:"start"`
	End           time.Time         `json:"end"`
	WholeDay      bool              `json:"whole_day"`
	IsRecurring   bool              `json:"is_recurring"`
	Status        Status            `json:"status"`
	Extra         map[string]string `json:"extra,omitempty"`
	ConferenceURL string            `json:"conference_url,omitempty"`
}

// Fingerprint returns a full-content identity for exact-content
// deduplication. Two events with identical field values (not just the same
// UID) share a fingerprint.
func (e Event) Fingerprint() string {
	b, err := json.Marshal(e)
	if err != nil {
		// Event contains only marshalable types; this cannot happen.
		return e.UID + "|" + string(e.Backend) + "|" + e.Start.Format(time.RFC3339)
	}
	return string(b)
}

// Window is the instant range a refresh requests from a provider.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t lies within the window (inclusive bounds).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Overlaps reports whether [start, end] intersects the window.
func (w Window) Overlaps(start, end time.Time) bool {
	return !end.Before(w.Start) && !start.After(w.End)
}

// Metadata describes the freshness of one provider's stored events.
type Metadata struct {
	LastUpdate time.Time `json:"last_update"`
	Entries    int       `json:"entries"`
}

// DayBounds returns local midnight and end-of-day (23:59:59) for the
// calendar date of t in the given location. Whole-day events are normalized
// to these bounds.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	end := time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, 0, loc)
	return start, end
}
