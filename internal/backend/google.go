package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/pschmitt/jcalapi/internal/conference"
	"github.com/pschmitt/jcalapi/internal/config"
	"github.com/pschmitt/jcalapi/internal/model"
)

// GoogleAPI is the thin slice of the Google Calendar service the normalizer
// needs. The provider expands recurring events into single instances
// server-side.
type GoogleAPI interface {
	Calendars(ctx context.Context) ([]*calendar.CalendarListEntry, error)
	Events(ctx context.Context, calendarID string, window model.Window) ([]*calendar.Event, error)
}

// Google normalizes events from all Google calendars whose display name
// matches the configured filter.
type Google struct {
	cfg config.GoogleConfig
	api GoogleAPI
}

// NewGoogle builds the google backend. A nil api selects the real Calendar
// service constructed from the configured credentials file.
func NewGoogle(cfg config.GoogleConfig, api GoogleAPI) *Google {
	return &Google{cfg: cfg, api: api}
}

func (g *Google) Name() model.Provider { return model.ProviderGoogle }

func (g *Google) Events(ctx context.Context, window model.Window) ([]model.Event, error) {
	api := g.api
	if api == nil {
		svc, err := newGoogleService(ctx, g.cfg.Credentials)
		if err != nil {
			return nil, fmt.Errorf("create google calendar service: %w", err)
		}
		api = svc
	}

	// An empty filter matches every calendar.
	nameRe, err := regexp.Compile(g.cfg.CalendarRegex)
	if err != nil {
		return nil, fmt.Errorf("invalid calendar regex %q: %w", g.cfg.CalendarRegex, err)
	}

	cals, err := api.Calendars(ctx)
	if err != nil {
		return nil, fmt.Errorf("list google calendars: %w", err)
	}

	var events []model.Event
	for _, cal := range cals {
		name := cal.SummaryOverride
		if name == "" {
			name = cal.Summary
		}
		if !nameRe.MatchString(name) {
			continue
		}

		items, err := api.Events(ctx, cal.Id, window)
		if err != nil {
			slog.Error("google calendar fetch failed", "calendar", name, "error", err)
			continue
		}
		for _, item := range items {
			ev, err := normalizeGoogleEvent(item, name)
			if err != nil {
				slog.Warn("skipping malformed google event", "calendar", name, "error", err)
				continue
			}
			events = append(events, ev)
		}
	}
	return events, nil
}

func normalizeGoogleEvent(item *calendar.Event, calendarName string) (model.Event, error) {
	uid := item.Id
	if uid == "" {
		uid = uuid.NewString()
	}

	start, end, wholeDay, err := googleEventTimes(item)
	if err != nil {
		return model.Event{}, err
	}

	description := item.Description
	// The API represents an empty description as a lone newline.
	if description == "\n" {
		description = ""
	}

	var organizer string
	if item.Organizer != nil {
		organizer = item.Organizer.DisplayName
	}

	var attendees []model.Attendee
	for _, a := range item.Attendees {
		attendees = append(attendees, model.Attendee{
			Name:     a.DisplayName,
			Email:    a.Email,
			Optional: a.Optional,
			Response: a.ResponseStatus,
		})
	}

	status := model.Status(item.Status)
	if status == "" {
		status = model.StatusConfirmed
	}

	ev := model.Event{
		UID:         uid,
		Backend:     model.ProviderGoogle,
		Calendar:    calendarName,
		Organizer:   organizer,
		Attendees:   attendees,
		Summary:     item.Summary,
		Description: description,
		Location:    item.Location,
		Start:       start,
		End:         end,
		WholeDay:    wholeDay,
		IsRecurring: item.RecurringEventId != "",
		Status:      status,
		Extra: map[string]string{
			"conference_solution": conferenceSolution(item),
			"link":                item.HtmlLink,
		},
	}
	ev.ConferenceURL = conference.GuessURL(conference.FieldsOf(ev)...)
	if ev.ConferenceURL != "" {
		ev.Location = ev.ConferenceURL
	}
	return ev, nil
}

// googleEventTimes converts the start/end pair to local time. A date-only
// value marks the event whole-day; the API's end date is exclusive.
func googleEventTimes(item *calendar.Event) (time.Time, time.Time, bool, error) {
	if item.Start == nil || item.End == nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("event %s has no start/end", item.Id)
	}

	if item.Start.Date != "" {
		startDay, err := time.ParseInLocation("2006-01-02", item.Start.Date, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, false, fmt.Errorf("decode start date %q: %w", item.Start.Date, err)
		}
		endDay := startDay
		if item.End.Date != "" {
			if d, err := time.ParseInLocation("2006-01-02", item.End.Date, time.Local); err == nil {
				endDay = d.AddDate(0, 0, -1)
			}
		}
		if endDay.Before(startDay) {
			endDay = startDay
		}
		start, _ := model.DayBounds(startDay, time.Local)
		_, end := model.DayBounds(endDay, time.Local)
		return start, end, true, nil
	}

	start, err := time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return time.Time{}, time.Time{}, false, fmt.Errorf("decode start %q: %w", item.Start.DateTime, err)
	}
	end, err := time.Parse(time.RFC3339, item.End.DateTime)
	if err != nil || end.Before(start) {
		end = start
	}
	return start.In(time.Local), end.In(time.Local), false, nil
}

// conferenceSolution renders the event's conferencing metadata (solution
// name plus the first entry-point URI) as the inference fallback text.
func conferenceSolution(item *calendar.Event) string {
	if item.ConferenceData == nil {
		return ""
	}
	var parts []string
	if item.ConferenceData.ConferenceSolution != nil {
		parts = append(parts, item.ConferenceData.ConferenceSolution.Name)
	}
	for _, ep := range item.ConferenceData.EntryPoints {
		if ep.Uri != "" {
			parts = append(parts, ep.Uri)
			break
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

// googleService wraps the real Calendar API client. Credentials follow the
// installed-app OAuth flow: a client-secret JSON plus a token.json stored
// alongside it.
type googleService struct {
	svc *calendar.Service
}

func newGoogleService(ctx context.Context, credentialsPath string) (*googleService, error) {
	b, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	conf, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}

	token, err := tokenFromFile(filepath.Join(filepath.Dir(credentialsPath), "token.json"))
	if err != nil {
		return nil, fmt.Errorf("load oauth token: %w", err)
	}

	svc, err := calendar.NewService(ctx, option.WithHTTPClient(conf.Client(ctx, token)))
	if err != nil {
		return nil, err
	}
	return &googleService{svc: svc}, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	return tok, json.NewDecoder(f).Decode(tok)
}

func (g *googleService) Calendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	list, err := g.svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (g *googleService) Events(ctx context.Context, calendarID string, window model.Window) ([]*calendar.Event, error) {
	resp, err := g.svc.Events.List(calendarID).
		Context(ctx).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(window.Start.Format(time.RFC3339)).
		TimeMax(window.End.Format(time.RFC3339)).
		OrderBy("startTime").
		Do()
	if err != nil {
		return nil, err
	}
	return resp.Items, nil
}
