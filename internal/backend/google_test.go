package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"

	"github.com/pschmitt/jcalapi/internal/config"
	"github.com/pschmitt/jcalapi/internal/model"
)

type fakeGoogleAPI struct {
	calendars []*calendar.CalendarListEntry
	events    map[string][]*calendar.Event
	eventErrs map[string]error
}

func (f *fakeGoogleAPI) Calendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	return f.calendars, nil
}

func (f *fakeGoogleAPI) Events(ctx context.Context, calendarID string, window model.Window) ([]*calendar.Event, error) {
	if err := f.eventErrs[calendarID]; err != nil {
		return nil, err
	}
	return f.events[calendarID], nil
}

func googleFor(api GoogleAPI, pattern string) *Google {
	return NewGoogle(config.GoogleConfig{
		Credentials:   "/tmp/credentials.json",
		CalendarRegex: pattern,
	}, api)
}

func TestGoogleNormalize(t *testing.T) {
	api := &fakeGoogleAPI{
		calendars: []*calendar.CalendarListEntry{{Id: "primary", Summary: "Personal"}},
		events: map[string][]*calendar.Event{
			"primary": {{
				Id:          "g-1",
				Summary:     "Dentist",
				Description: "Bring insurance card",
				Location:    "Main St 1",
				Status:      "tentative",
				HtmlLink:    "https://calendar.google.com/event?eid=abc",
				Organizer:   &calendar.EventOrganizer{DisplayName: "Me", Email: "me@example.com"},
				Attendees: []*calendar.EventAttendee{
					{DisplayName: "Me", Email: "me@example.com", ResponseStatus: "accepted"},
					{DisplayName: "Plus One", Email: "plus@example.com", Optional: true, ResponseStatus: "needsAction"},
				},
				Start: &calendar.EventDateTime{DateTime: "2026-06-10T14:00:00Z"},
				End:   &calendar.EventDateTime{DateTime: "2026-06-10T15:00:00Z"},
			}},
		},
	}

	events, err := googleFor(api, "").Events(context.Background(), juneWindow())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, "g-1", ev.UID)
	assert.Equal(t, model.ProviderGoogle, ev.Backend)
	assert.Equal(t, "Personal", ev.Calendar)
	assert.Equal(t, "Dentist", ev.Summary)
	assert.Equal(t, "Bring insurance card", ev.Description)
	assert.Equal(t, "Main St 1", ev.Location)
	assert.Equal(t, "Me", ev.Organizer)
	assert.Equal(t, model.Status("tentative"), ev.Status)
	assert.Equal(t, "https://calendar.google.com/event?eid=abc", ev.Extra["link"])
	assert.False(t, ev.WholeDay)
	assert.False(t, ev.IsRecurring)

	require.Len(t, ev.Attendees, 2)
	assert.False(t, ev.Attendees[0].Optional)
	assert.True(t, ev.Attendees[1].Optional)
	assert.Equal(t, "needsAction", ev.Attendees[1].Response)

	assert.True(t, ev.Start.Equal(time.Date(2026, 6, 10, 14, 0, 0, 0, time.UTC)))
	assert.True(t, ev.End.Equal(time.Date(2026, 6, 10, 15, 0, 0, 0, time.UTC)))
}

func TestGoogleWholeDay(t *testing.T) {
	api := &fakeGoogleAPI{
		calendars: []*calendar.CalendarListEntry{{Id: "primary", Summary: "Personal"}},
		events: map[string][]*calendar.Event{
			"primary": {{
				Id:      "allday",
				Summary: "Vacation",
				Start:   &calendar.EventDateTime{Date: "2026-06-10"},
				End:     &calendar.EventDateTime{Date: "2026-06-12"},
			}},
		},
	}

	events, err := googleFor(api, "").Events(context.Background(), juneWindow())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.True(t, ev.WholeDay)
	// End date is exclusive: the event covers the 10th and 11th.
	assert.True(t, ev.Start.Equal(time.Date(2026, 6, 10, 0, 0, 0, 0, time.Local)))
	assert.True(t, ev.End.Equal(time.Date(2026, 6, 11, 23, 59, 59, 0, time.Local)))
}

func TestGoogleEmptyDescriptionNewline(t *testing.T) {
	api := &fakeGoogleAPI{
		calendars: []*calendar.CalendarListEntry{{Id: "primary", Summary: "Personal"}},
		events: map[string][]*calendar.Event{
			"primary": {{
				Id:          "empty-desc",
				Summary:     "Untitled",
				Description: "\n",
				Start:       &calendar.EventDateTime{DateTime: "2026-06-10T09:00:00Z"},
				End:         &calendar.EventDateTime{DateTime: "2026-06-10T10:00:00Z"},
			}},
		},
	}

	events, err := googleFor(api, "").Events(context.Background(), juneWindow())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Description)
}

func TestGoogleConferenceOverridesLocation(t *testing.T) {
	api := &fakeGoogleAPI{
		calendars: []*calendar.CalendarListEntry{{Id: "primary", Summary: "Personal"}},
		events: map[string][]*calendar.Event{
			"primary": {{
				Id:       "conf",
				Summary:  "Remote sync",
				Location: "wherever",
				ConferenceData: &calendar.ConferenceData{
					ConferenceSolution: &calendar.ConferenceSolution{Name: "Zoom Meeting"},
					EntryPoints: []*calendar.EntryPoint{
						{Uri: "https://corp.zoom.us/j/5551234"},
					},
				},
				Start: &calendar.EventDateTime{DateTime: "2026-06-10T09:00:00Z"},
				End:   &calendar.EventDateTime{DateTime: "2026-06-10T10:00:00Z"},
			}},
		},
	}

	events, err := googleFor(api, "").Events(context.Background(), juneWindow())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "https://corp.zoom.us/j/5551234", events[0].ConferenceURL)
	assert.Equal(t, "https://corp.zoom.us/j/5551234", events[0].Location)
	assert.Equal(t, "Zoom Meeting https://corp.zoom.us/j/5551234", events[0].Extra["conference_solution"])
}

func TestGoogleCalendarFilter(t *testing.T) {
	mk := func(id string) []*calendar.Event {
		return []*calendar.Event{{
			Id:    id,
			Start: &calendar.EventDateTime{DateTime: "2026-06-10T09:00:00Z"},
			End:   &calendar.EventDateTime{DateTime: "2026-06-10T10:00:00Z"},
		}}
	}
	api := &fakeGoogleAPI{
		calendars: []*calendar.CalendarListEntry{
			{Id: "work", Summary: "Work"},
			{Id: "home", Summary: "Home"},
			{Id: "aliased", Summary: "Whatever", SummaryOverride: "Work projects"},
		},
		events: map[string][]*calendar.Event{
			"work": mk("w"), "home": mk("h"), "aliased": mk("a"),
		},
	}

	events, err := googleFor(api, "^Work").Events(context.Background(), juneWindow())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "w", events[0].UID)
	assert.Equal(t, "a", events[1].UID)
	// SummaryOverride wins as the calendar name.
	assert.Equal(t, "Work projects", events[1].Calendar)

	_, err = googleFor(api, "([").Events(context.Background(), juneWindow())
	assert.Error(t, err)
}

func TestGoogleRecurringFlag(t *testing.T) {
	api := &fakeGoogleAPI{
		calendars: []*calendar.CalendarListEntry{{Id: "primary", Summary: "Personal"}},
		events: map[string][]*calendar.Event{
			"primary": {{
				Id:               "inst",
				RecurringEventId: "series",
				Start:            &calendar.EventDateTime{DateTime: "2026-06-10T09:00:00Z"},
				End:              &calendar.EventDateTime{DateTime: "2026-06-10T10:00:00Z"},
			}},
		},
	}

	events, err := googleFor(api, "").Events(context.Background(), juneWindow())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.True(t, events[0].IsRecurring)
	assert.Equal(t, model.StatusConfirmed, events[0].Status)
}

func TestGoogleCalendarFetchFailureIsolated(t *testing.T) {
	api := &fakeGoogleAPI{
		calendars: []*calendar.CalendarListEntry{
			{Id: "broken", Summary: "Broken"},
			{Id: "fine", Summary: "Fine"},
		},
		events: map[string][]*calendar.Event{
			"fine": {{
				Id:    "ok",
				Start: &calendar.EventDateTime{DateTime: "2026-06-10T09:00:00Z"},
				End:   &calendar.EventDateTime{DateTime: "2026-06-10T10:00:00Z"},
			}},
		},
		eventErrs: map[string]error{"broken": errors.New("backend error")},
	}

	events, err := googleFor(api, "").Events(context.Background(), juneWindow())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].UID)
}

func TestGoogleMissingTimes(t *testing.T) {
	api := &fakeGoogleAPI{
		calendars: []*calendar.CalendarListEntry{{Id: "primary", Summary: "Personal"}},
		events: map[string][]*calendar.Event{
			"primary": {
				{Id: "broken"},
				{
					Id:    "ok",
					Start: &calendar.EventDateTime{DateTime: "2026-06-10T09:00:00Z"},
					End:   &calendar.EventDateTime{DateTime: "2026-06-10T10:00:00Z"},
				},
			},
		},
	}

	events, err := googleFor(api, "").Events(context.Background(), juneWindow())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].UID)
}
