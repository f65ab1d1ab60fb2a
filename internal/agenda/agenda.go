// Package agenda answers date-windowed queries over the merged event set:
// what is on a given day, what is happening right now, what is left of
// today.
package agenda

import (
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/pschmitt/jcalapi/internal/model"
)

var dayOffsetRe = regexp.MustCompile(`^([+-]?\d+)$`)

// ResolveDateToken maps a relative date expression onto a concrete target
// date. Supported tokens: "today", "tomorrow"/"tom", "yesterday"/"yest",
// "monday"/"mon" (the next Monday strictly after now, even when now is a
// Monday), and a signed day offset like "+3" or "-1". Anything else
// resolves to today.
func ResolveDateToken(token string, now time.Time) time.Time {
	switch token {
	case "tomorrow", "tom":
		return now.AddDate(0, 0, 1)
	case "yesterday", "yest":
		return now.AddDate(0, 0, -1)
	case "monday", "mon":
		return nextMonday(now)
	}
	if m := dayOffsetRe.FindStringSubmatch(token); m != nil {
		days, _ := strconv.Atoi(m[1])
		return now.AddDate(0, 0, days)
	}
	return now
}

// nextMonday returns the upcoming Monday strictly after now.
func nextMonday(now time.Time) time.Time {
	days := (int(time.Monday) - int(now.Weekday()) + 7) % 7
	if days == 0 {
		days = 7
	}
	return now.AddDate(0, 0, days)
}

// For returns the events overlapping the target's calendar date: an event
// is included when its start date or end date equals the target date.
// Events sharing a uid with an already-included event are dropped with a
// warning. Results are sorted by start time.
//
// The uid dedup is a known limitation: a recurring event legitimately
// occurring twice on one day under the same uid loses its second
// occurrence.
func For(target time.Time, events []model.Event) []model.Event {
	seen := make(map[string]struct{})
	var out []model.Event

	for _, ev := range events {
		if !sameDate(ev.Start, target) && !sameDate(ev.End, target) {
			continue
		}
		if _, dup := seen[ev.UID]; dup {
			slog.Warn("duplicate event skipped", "uid", ev.UID, "summary", ev.Summary, "backend", ev.Backend)
			continue
		}
		seen[ev.UID] = struct{}{}
		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Start.Before(out[j].Start)
	})
	return out
}

// Current returns today's events in progress at now. The bounds are strict:
// an event starting or ending exactly at now is excluded.
func Current(now time.Time, events []model.Event) []model.Event {
	var out []model.Event
	for _, ev := range For(now, events) {
		if ev.Start.Before(now) && ev.End.After(now) {
			slog.Info("event is happening now", "uid", ev.UID, "summary", ev.Summary)
			out = append(out, ev)
		}
	}
	return out
}

// FromHourOffset returns today's agenda as seen hoursPrior hours past now:
// timed events ending before that instant are dropped. With an offset of
// zero this trims everything already over. Whole-day events are always
// kept.
func FromHourOffset(now time.Time, hoursPrior int, events []model.Event) []model.Event {
	cutoff := now.Add(time.Duration(hoursPrior) * time.Hour)
	var out []model.Event
	for _, ev := range For(now, events) {
		if ev.WholeDay || !ev.End.Before(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// sameDate reports whether both instants fall on the same calendar date,
// each evaluated in its own timezone.
func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
