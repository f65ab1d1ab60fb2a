package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pschmitt/jcalapi/internal/conference"
	"github.com/pschmitt/jcalapi/internal/config"
	"github.com/pschmitt/jcalapi/internal/htmltext"
	"github.com/pschmitt/jcalapi/internal/model"
)

// teamsPlaceholder is the location text Exchange fills in for online
// meetings; it carries no room information and is replaced by the join link
// extracted from the body.
const teamsPlaceholder = "Microsoft Teams"

// MailboxCalendar identifies one calendar folder and the account that owns
// it. Owner disambiguates shared calendars across mailboxes.
type MailboxCalendar struct {
	Name  string
	Owner string
}

// MailboxAttendee is a raw participant entry before required/optional
// merging.
type MailboxAttendee struct {
	Name     string
	Email    string
	Response string
}

// MailboxEvent is the raw record shape produced by a mailbox calendar
// client. Whole-day events carry date-precision Start/End values.
type MailboxEvent struct {
	UID                 string
	Subject             string
	Body                string
	Location            string
	Start               time.Time
	End                 time.Time
	WholeDay            bool
	IsRecurring         bool
	IsCancelled         bool
	Organizer           string
	RequiredAttendees   []MailboxAttendee
	OptionalAttendees   []MailboxAttendee
	ConferenceType      string
	MeetingWorkspaceURL string
	NetShowURL          string
}

// MailboxClient is the provider client contract. The transport (EWS, Graph,
// a proxy) is interchangeable; the normalizer depends on this interface
// only.
type MailboxClient interface {
	PrimaryCalendar(ctx context.Context) (MailboxCalendar, error)
	SharedCalendar(ctx context.Context, mailbox string) (MailboxCalendar, error)
	CalendarView(ctx context.Context, cal MailboxCalendar, window model.Window) ([]MailboxEvent, error)
}

// Mailbox normalizes events from an Exchange-style account calendar plus
// any configured shared-inbox calendars.
type Mailbox struct {
	cfg    config.MailboxConfig
	client MailboxClient
}

// NewMailbox builds the mailbox backend. A nil client selects the default
// HTTP calendar-view client.
func NewMailbox(cfg config.MailboxConfig, client MailboxClient) *Mailbox {
	if client == nil {
		client = newMailboxHTTPClient(cfg)
	}
	return &Mailbox{cfg: cfg, client: client}
}

func (m *Mailbox) Name() model.Provider { return model.ProviderMailbox }

// Events lists the primary calendar and every resolvable shared-inbox
// calendar, then normalizes all events overlapping the window. A shared
// inbox that cannot be resolved is skipped with a warning.
func (m *Mailbox) Events(ctx context.Context, window model.Window) ([]model.Event, error) {
	primary, err := m.client.PrimaryCalendar(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve primary calendar: %w", err)
	}
	calendars := []MailboxCalendar{primary}

	for _, inbox := range m.cfg.SharedInboxes {
		if inbox == "" {
			continue
		}
		shared, err := m.client.SharedCalendar(ctx, inbox)
		if err != nil {
			slog.Warn("could not resolve shared inbox calendar", "mailbox", inbox, "error", err)
			continue
		}
		calendars = append(calendars, shared)
	}

	var events []model.Event
	for _, cal := range calendars {
		raw, err := m.client.CalendarView(ctx, cal, window)
		if err != nil {
			slog.Error("mailbox calendar fetch failed", "calendar", cal.Name, "owner", cal.Owner, "error", err)
			continue
		}
		for _, item := range raw {
			events = append(events, m.normalize(item, cal))
		}
	}
	return events, nil
}

func (m *Mailbox) normalize(raw MailboxEvent, cal MailboxCalendar) model.Event {
	uid := raw.UID
	if uid == "" {
		uid = uuid.NewString()
	}

	var start, end time.Time
	if raw.WholeDay {
		// Whole-day events use local-day bounds in the system timezone.
		start, _ = model.DayBounds(raw.Start, time.Local)
		_, end = model.DayBounds(raw.End, time.Local)
	} else {
		start = raw.Start.In(time.Local)
		end = raw.End.In(time.Local)
	}
	if end.Before(start) {
		end = start
	}

	location := raw.Location
	if location == "" || strings.HasPrefix(location, teamsPlaceholder) {
		if links := htmltext.MeetingLinks(raw.Body); len(links) > 0 {
			location = links[0]
		}
	}

	attendees := make([]model.Attendee, 0, len(raw.RequiredAttendees)+len(raw.OptionalAttendees))
	for _, a := range raw.RequiredAttendees {
		attendees = append(attendees, model.Attendee{Name: a.Name, Email: a.Email, Optional: false, Response: a.Response})
	}
	for _, a := range raw.OptionalAttendees {
		attendees = append(attendees, model.Attendee{Name: a.Name, Email: a.Email, Optional: true, Response: a.Response})
	}

	status := model.StatusConfirmed
	if raw.IsCancelled {
		status = model.StatusCancelled
	}

	ev := model.Event{
		UID:         uid,
		Backend:     model.ProviderMailbox,
		Calendar:    fmt.Sprintf("%s (%s)", cal.Name, cal.Owner),
		Organizer:   raw.Organizer,
		Attendees:   attendees,
		Summary:     raw.Subject,
		Description: htmltext.Strip(raw.Body),
		Location:    location,
		Start:       start,
		End:         end,
		WholeDay:    raw.WholeDay,
		IsRecurring: raw.IsRecurring,
		Status:      status,
		Extra: map[string]string{
			"conference_type":       raw.ConferenceType,
			"meeting_workspace_url": raw.MeetingWorkspaceURL,
			"net_show_url":          raw.NetShowURL,
		},
	}
	ev.ConferenceURL = conference.GuessURL(conference.FieldsOf(ev)...)
	return ev
}

// defaultServiceEndpoint is used when autodiscovery is enabled and no
// explicit endpoint is configured.
const defaultServiceEndpoint = "https://outlook.office365.com/api/v2.0"

const mailboxTimeLayout = "2006-01-02T15:04:05"

// mailboxHTTPClient talks to a calendar-view REST endpoint with basic
// authentication.
type mailboxHTTPClient struct {
	cfg      config.MailboxConfig
	endpoint string
	client   *http.Client
}

func newMailboxHTTPClient(cfg config.MailboxConfig) *mailboxHTTPClient {
	endpoint := cfg.ServiceEndpoint
	if endpoint == "" || cfg.Autodiscovery {
		if cfg.ServiceEndpoint == "" {
			endpoint = defaultServiceEndpoint
		}
	}
	return &mailboxHTTPClient{
		cfg:      cfg,
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: fetchTimeout},
	}
}

func (c *mailboxHTTPClient) PrimaryCalendar(ctx context.Context) (MailboxCalendar, error) {
	email := c.cfg.Email
	if email == "" {
		email = c.cfg.Username
	}
	cal, err := c.calendarFor(ctx, email)
	if err != nil {
		return MailboxCalendar{}, err
	}
	// The primary calendar is labeled with the account username.
	cal.Owner = c.cfg.Username
	return cal, nil
}

func (c *mailboxHTTPClient) SharedCalendar(ctx context.Context, mailbox string) (MailboxCalendar, error) {
	return c.calendarFor(ctx, mailbox)
}

func (c *mailboxHTTPClient) calendarFor(ctx context.Context, mailbox string) (MailboxCalendar, error) {
	var resp struct {
		Name string `json:"name"`
	}
	path := "/users/" + url.PathEscape(mailbox) + "/calendar"
	if err := c.get(ctx, path, nil, &resp); err != nil {
		return MailboxCalendar{}, err
	}
	name := resp.Name
	if name == "" {
		name = "Calendar"
	}
	return MailboxCalendar{Name: name, Owner: mailbox}, nil
}

func (c *mailboxHTTPClient) CalendarView(ctx context.Context, cal MailboxCalendar, window model.Window) ([]MailboxEvent, error) {
	var resp struct {
		Value []struct {
			ID      string `json:"id"`
			ICalUID string `json:"iCalUId"`
			Subject string `json:"subject"`
			Body    struct {
				ContentType string `json:"contentType"`
				Content     string `json:"content"`
			} `json:"body"`
			Location struct {
				DisplayName string `json:"displayName"`
			} `json:"location"`
			Start       mailboxTime `json:"start"`
			End         mailboxTime `json:"end"`
			IsAllDay    bool        `json:"isAllDay"`
			IsCancelled bool        `json:"isCancelled"`
			Type        string      `json:"type"`
			Organizer   struct {
				EmailAddress struct {
					Name    string `json:"name"`
					Address string `json:"address"`
				} `json:"emailAddress"`
			} `json:"organizer"`
			Attendees []struct {
				Type   string `json:"type"`
				Status struct {
					Response string `json:"response"`
				} `json:"status"`
				EmailAddress struct {
					Name    string `json:"name"`
					Address string `json:"address"`
				} `json:"emailAddress"`
			} `json:"attendees"`
			OnlineMeetingProvider string `json:"onlineMeetingProvider"`
			OnlineMeeting         struct {
				JoinURL string `json:"joinUrl"`
			} `json:"onlineMeeting"`
			WebLink string `json:"webLink"`
		} `json:"value"`
	}

	params := url.Values{}
	params.Set("startDateTime", window.Start.UTC().Format(mailboxTimeLayout))
	params.Set("endDateTime", window.End.UTC().Format(mailboxTimeLayout))

	path := "/users/" + url.PathEscape(cal.Owner) + "/calendarview"
	if err := c.get(ctx, path, params, &resp); err != nil {
		return nil, err
	}

	events := make([]MailboxEvent, 0, len(resp.Value))
	for _, item := range resp.Value {
		uid := item.ICalUID
		if uid == "" {
			uid = item.ID
		}

		start, err := item.Start.Time()
		if err != nil {
			slog.Warn("skipping mailbox event with malformed start", "subject", item.Subject, "error", err)
			continue
		}
		end, err := item.End.Time()
		if err != nil {
			slog.Warn("skipping mailbox event with malformed end", "subject", item.Subject, "error", err)
			continue
		}

		ev := MailboxEvent{
			UID:                 uid,
			Subject:             item.Subject,
			Body:                item.Body.Content,
			Location:            item.Location.DisplayName,
			Start:               start,
			End:                 end,
			WholeDay:            item.IsAllDay,
			IsRecurring:         item.Type == "occurrence" || item.Type == "exception",
			IsCancelled:         item.IsCancelled,
			Organizer:           item.Organizer.EmailAddress.Name,
			ConferenceType:      item.OnlineMeetingProvider,
			MeetingWorkspaceURL: item.OnlineMeeting.JoinURL,
			NetShowURL:          item.WebLink,
		}
		for _, a := range item.Attendees {
			attendee := MailboxAttendee{
				Name:     a.EmailAddress.Name,
				Email:    a.EmailAddress.Address,
				Response: a.Status.Response,
			}
			if strings.EqualFold(a.Type, "optional") {
				ev.OptionalAttendees = append(ev.OptionalAttendees, attendee)
			} else {
				ev.RequiredAttendees = append(ev.RequiredAttendees, attendee)
			}
		}
		events = append(events, ev)
	}
	return events, nil
}

func (c *mailboxHTTPClient) get(ctx context.Context, path string, params url.Values, out any) error {
	u := c.endpoint + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.New(resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// mailboxTime decodes the {dateTime, timeZone} pair used by the calendar
// view API.
type mailboxTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

func (t mailboxTime) Time() (time.Time, error) {
	loc := localLocation(t.TimeZone)
	// Fractional seconds are optional in responses.
	value := strings.SplitN(t.DateTime, ".", 2)[0]
	return time.ParseInLocation(mailboxTimeLayout, value, loc)
}
