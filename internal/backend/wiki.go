package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"
	"github.com/teambition/rrule-go"

	"github.com/pschmitt/jcalapi/internal/conference"
	"github.com/pschmitt/jcalapi/internal/config"
	"github.com/pschmitt/jcalapi/internal/htmltext"
	"github.com/pschmitt/jcalapi/internal/model"
)

// emailNameRe extracts first/last tokens from a first.last@domain address,
// tolerating an ".ext" suffix used for external accounts.
var emailNameRe = regexp.MustCompile(`([^.]+)\.([^.@]+)(?:\.ext)?@.+\..+`)

// Wiki aggregates the team calendars of a Confluence-style wiki space. Every
// sub-calendar is exported as an iCalendar document fetched over HTTP with
// basic authentication.
type Wiki struct {
	cfg    config.WikiConfig
	client *http.Client
}

// NewWiki builds the wiki backend. cfg must be Complete().
func NewWiki(cfg config.WikiConfig) *Wiki {
	return &Wiki{
		cfg:    cfg,
		client: &http.Client{Timeout: fetchTimeout},
	}
}

func (w *Wiki) Name() model.Provider { return model.ProviderWiki }

// subCalendar describes one exported team calendar.
type subCalendar struct {
	ID       string
	Name     string
	Timezone string
}

// Events lists all sub-calendars and normalizes their events. A fetch or
// parse failure for one sub-calendar is logged and leaves that calendar's
// contribution empty.
func (w *Wiki) Events(ctx context.Context, window model.Window) ([]model.Event, error) {
	cals, err := w.listSubCalendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("list wiki sub-calendars: %w", err)
	}

	seen := make(map[string]struct{})
	var events []model.Event

	for _, cal := range cals {
		body, err := w.fetchICS(ctx, cal)
		if err != nil {
			slog.Error("wiki calendar fetch failed", "calendar", cal.Name, "error", err)
			continue
		}

		normalized, err := w.normalizeCalendar(cal, body, window)
		if err != nil {
			slog.Error("wiki calendar parse failed", "calendar", cal.Name, "error", err)
			continue
		}

		for _, ev := range normalized {
			fp := ev.Fingerprint()
			if _, dup := seen[fp]; dup {
				slog.Warn("duplicate event skipped", "backend", w.Name(), "calendar", ev.Calendar, "uid", ev.UID)
				continue
			}
			seen[fp] = struct{}{}
			events = append(events, ev)
		}
	}

	return events, nil
}

func (w *Wiki) listSubCalendars(ctx context.Context) ([]subCalendar, error) {
	url := strings.TrimSuffix(w.cfg.URL, "/") + "/rest/calendar-services/1.0/calendar/subcalendars"
	body, err := w.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Payload []struct {
			SubCalendar struct {
				ID         string `json:"id"`
				Name       string `json:"name"`
				TimeZoneID string `json:"timeZoneId"`
			} `json:"subCalendar"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode sub-calendar listing: %w", err)
	}

	cals := make([]subCalendar, 0, len(resp.Payload))
	for _, item := range resp.Payload {
		cals = append(cals, subCalendar{
			ID:       item.SubCalendar.ID,
			Name:     item.SubCalendar.Name,
			Timezone: item.SubCalendar.TimeZoneID,
		})
	}
	return cals, nil
}

func (w *Wiki) fetchICS(ctx context.Context, cal subCalendar) ([]byte, error) {
	url := fmt.Sprintf(
		"%s/rest/calendar-services/1.0/calendar/export/subcalendar/%s.ics?os_authType=basic&isSubscribe=true",
		strings.TrimSuffix(w.cfg.URL, "/"), cal.ID,
	)
	return w.get(ctx, url)
}

func (w *Wiki) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(w.cfg.Username, w.cfg.Password)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.New(resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// normalizeCalendar converts one iCalendar document. Components carrying a
// recurrence rule are expanded into concrete instances bounded to the
// window; the masters themselves are discarded so the series is not
// duplicated.
func (w *Wiki) normalizeCalendar(cal subCalendar, body []byte, window model.Window) ([]model.Event, error) {
	parsed, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	loc := localLocation(cal.Timezone)
	var out []model.Event

	for _, ve := range parsed.Events() {
		if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil && p.Value != "" {
			out = append(out, w.expandRecurring(ve, cal, loc, p.Value, window)...)
			continue
		}

		ev, err := w.eventFromComponent(ve, cal, loc, time.Time{}, time.Time{}, false)
		if err != nil {
			slog.Warn("skipping malformed wiki event", "calendar", cal.Name, "error", err)
			continue
		}
		out = append(out, ev)
	}

	return out, nil
}

// expandRecurring materializes a recurring component's instances within the
// window, honoring EXDATE exceptions.
func (w *Wiki) expandRecurring(ve *ical.VEvent, cal subCalendar, loc *time.Location, rawRule string, window model.Window) []model.Event {
	start, end, wholeDay, err := componentTimes(ve, loc)
	if err != nil {
		slog.Warn("skipping malformed recurring wiki event", "calendar", cal.Name, "error", err)
		return nil
	}

	r, err := rrule.StrToRRule(rawRule)
	if err != nil {
		slog.Warn("unparsable recurrence rule", "calendar", cal.Name, "rrule", rawRule, "error", err)
		return nil
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range exceptionDates(ve, loc) {
		set.ExDate(ex.In(start.Location()))
	}

	duration := end.Sub(start)
	var out []model.Event

	for _, occStart := range set.Between(window.Start.In(start.Location()), window.End.In(start.Location()), true) {
		occEnd := occStart.Add(duration)
		if wholeDay {
			occStart, occEnd = model.DayBounds(occStart, loc)
		}

		ev, err := w.eventFromComponent(ve, cal, loc, occStart, occEnd, true)
		if err != nil {
			slog.Warn("skipping malformed wiki event instance", "calendar", cal.Name, "error", err)
			continue
		}
		ev.WholeDay = wholeDay
		out = append(out, ev)
	}
	return out
}

// eventFromComponent maps one VEVENT to the canonical schema. When start is
// non-zero it overrides the component's own times (recurrence instances).
func (w *Wiki) eventFromComponent(ve *ical.VEvent, cal subCalendar, loc *time.Location, start, end time.Time, recurring bool) (model.Event, error) {
	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		uid = uuid.NewString()
	}

	wholeDay := false
	if start.IsZero() {
		var err error
		start, end, wholeDay, err = componentTimes(ve, loc)
		if err != nil {
			return model.Event{}, err
		}
	}

	organizer := strings.TrimPrefix(propValue(ve, "ORGANIZER"), "mailto:")
	if w.cfg.ConvertEmail && organizer != "" {
		organizer = emailToName(organizer)
	}

	var attendees []model.Attendee
	for _, p := range ve.GetProperties("ATTENDEE") {
		email := strings.TrimPrefix(p.Value, "mailto:")
		if email == "" {
			continue
		}
		attendees = append(attendees, model.Attendee{
			Name:  emailToName(email),
			Email: email,
			// The wiki has no notion of optional attendees.
			Optional: false,
		})
	}

	status := model.Status(strings.ToLower(propValue(ve, "STATUS")))
	if status == "" {
		status = model.StatusConfirmed
	}

	ev := model.Event{
		UID:         uid,
		Backend:     model.ProviderWiki,
		Calendar:    cal.Name,
		Organizer:   organizer,
		Attendees:   attendees,
		Summary:     strings.TrimSpace(propValue(ve, ical.ComponentPropertySummary)),
		Description: htmltext.Strip(propValue(ve, ical.ComponentPropertyDescription)),
		Location:    propValue(ve, ical.ComponentPropertyLocation),
		Start:       start,
		End:         end,
		WholeDay:    wholeDay,
		IsRecurring: recurring,
		Status:      status,
		Extra:       map[string]string{"url": propValue(ve, "URL")},
	}
	ev.ConferenceURL = conference.GuessURL(conference.FieldsOf(ev)...)
	return ev, nil
}

// componentTimes decodes DTSTART/DTEND. A value without a time component
// marks the event whole-day; whole-day events span the full local day in
// the sub-calendar's timezone.
func componentTimes(ve *ical.VEvent, loc *time.Location) (time.Time, time.Time, bool, error) {
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return time.Time{}, time.Time{}, false, errors.New("missing DTSTART")
	}

	if isDateValue(dtStart) {
		day, err := time.ParseInLocation("20060102", dtStart.Value, loc)
		if err != nil {
			return time.Time{}, time.Time{}, false, fmt.Errorf("decode DTSTART %q: %w", dtStart.Value, err)
		}

		endDay := day
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && isDateValue(dtEnd) {
			if d, err := time.ParseInLocation("20060102", dtEnd.Value, loc); err == nil {
				// DTEND on date values is exclusive.
				endDay = d.AddDate(0, 0, -1)
			}
		}
		if endDay.Before(day) {
			endDay = day
		}

		start, _ := model.DayBounds(day, loc)
		_, end := model.DayBounds(endDay, loc)
		return start, end, true, nil
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("decode DTSTART: %w", err)
	}
	end, err := ve.GetEndAt()
	if err != nil || end.Before(start) {
		end = start
	}
	return start, end, false, nil
}

// exceptionDates collects EXDATE values, which may appear multiple times
// and hold comma-separated lists.
func exceptionDates(ve *ical.VEvent, loc *time.Location) []time.Time {
	var out []time.Time
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := parseICSTime(part, loc); err == nil {
				out = append(out, t)
			}
		}
	}
	return out
}

// parseICSTime parses basic DATE / DATE-TIME / UTC forms.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}

func isDateValue(p *ical.IANAProperty) bool {
	if p.ICalParameters != nil {
		if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
			return true
		}
	}
	return !strings.Contains(p.Value, "T")
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

// emailToName turns "john.doe@example.com" into "John Doe". Addresses that
// do not match the first.last pattern pass through unchanged.
func emailToName(email string) string {
	m := emailNameRe.FindStringSubmatch(email)
	if m == nil {
		return email
	}
	return capitalize(m[1]) + " " + capitalize(m[2])
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
