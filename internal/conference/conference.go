// Package conference infers meeting-join URLs from free-text event fields.
package conference

import (
	"regexp"
	"sort"

	"github.com/pschmitt/jcalapi/internal/model"
)

// This regex may be too greedy for exotic Zoom vanity hosts.
var (
	zoomURL  = regexp.MustCompile(`https://[^/]*zoom\.us/j/[^\s"]+`)
	teamsURL = regexp.MustCompile(`https://teams\.microsoft\.com/l/meetup-join[^"\s+]+`)

	patterns = []*regexp.Regexp{zoomURL, teamsURL}
)

// GuessURL scans the given fields in order and returns the first conferencing
// URL found. Patterns are tried in fixed order (Zoom, then Teams) within each
// field; the first match anywhere wins. Returns "" if nothing matches.
func GuessURL(fields ...string) string {
	for _, field := range fields {
		if field == "" {
			continue
		}
		for _, re := range patterns {
			if m := re.FindString(field); m != "" {
				return m
			}
		}
	}
	return ""
}

// FieldsOf assembles the inference candidates for an event: location and
// description first, then every extra value as a fallback.
func FieldsOf(ev model.Event) []string {
	fields := []string{ev.Location, ev.Description}
	keys := make([]string, 0, len(ev.Extra))
	for k := range ev.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if v := ev.Extra[k]; v != "" {
			fields = append(fields, v)
		}
	}
	return fields
}
