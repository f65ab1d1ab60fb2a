// Package web exposes the aggregated event feed over HTTP.
package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pschmitt/jcalapi/internal/agenda"
	"github.com/pschmitt/jcalapi/internal/model"
	"github.com/pschmitt/jcalapi/internal/refresh"
)

// Server wires the HTTP routes onto a refresh orchestrator.
type Server struct {
	orch *refresh.Orchestrator

	// now is stubbed in tests.
	now func() time.Time
}

func NewServer(orch *refresh.Orchestrator) *Server {
	return &Server{orch: orch, now: time.Now}
}

// Router builds the gin engine with all API routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)

	r.POST("/reload", s.reloadAll)
	r.POST("/reload/:provider", s.reloadOne)

	r.GET("/events", s.events)
	r.GET("/events/:provider", s.events)
	r.GET("/events/:provider/:calendar", s.events)

	r.GET("/meta", s.meta)
	r.GET("/meta/:provider", s.meta)

	r.GET("/now", s.current)
	r.GET("/today", s.today)
	r.GET("/today/:hours_prior", s.today)
	r.GET("/tomorrow", s.tomorrow)
	r.GET("/tom", s.tomorrow)
	r.GET("/agenda/:when", s.agendaFor)

	return r
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// overridesFromRequest reads per-request credential overrides. Values are
// accepted as query parameters or form fields; form wins when both are set.
func overridesFromRequest(c *gin.Context) refresh.Overrides {
	get := func(key string) string {
		if v := c.PostForm(key); v != "" {
			return v
		}
		return c.Query(key)
	}
	getBool := func(key string) *bool {
		v := get(key)
		if v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil
		}
		return &b
	}

	ov := refresh.Overrides{
		Wiki: refresh.WikiOverrides{
			URL:          get("wiki_url"),
			Username:     get("wiki_username"),
			Password:     get("wiki_password"),
			ConvertEmail: getBool("wiki_convert_email"),
		},
		Mailbox: refresh.MailboxOverrides{
			Email:           get("mailbox_email"),
			Username:        get("mailbox_username"),
			Password:        get("mailbox_password"),
			Autodiscovery:   getBool("mailbox_autodiscovery"),
			ServiceEndpoint: get("mailbox_service_endpoint"),
		},
		Google: refresh.GoogleOverrides{
			Credentials:   get("google_credentials"),
			CalendarRegex: get("google_calendar_regex"),
		},
	}
	if shared := get("mailbox_shared_inboxes"); shared != "" {
		for _, inbox := range strings.Split(shared, ",") {
			if inbox = strings.TrimSpace(inbox); inbox != "" {
				ov.Mailbox.SharedInboxes = append(ov.Mailbox.SharedInboxes, inbox)
			}
		}
	}
	return ov
}

func (s *Server) reloadAll(c *gin.Context) {
	results := s.orch.RefreshAll(c.Request.Context(), overridesFromRequest(c))
	counts := make(map[string]*int, len(results))
	for p, n := range results {
		counts[string(p)] = n
	}
	c.JSON(http.StatusOK, gin.H{"events": counts})
}

func (s *Server) reloadOne(c *gin.Context) {
	p, ok := s.provider(c, c.Param("provider"))
	if !ok {
		return
	}
	count, err := s.orch.Refresh(c.Request.Context(), p, overridesFromRequest(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": count})
}

// events serves the merged feed, one provider's list, or one provider's
// list filtered to a single calendar.
func (s *Server) events(c *gin.Context) {
	name := c.Param("provider")
	if name == "" || name == "all" {
		c.JSON(http.StatusOK, s.orch.Store().Merged(nil))
		return
	}
	p, ok := s.provider(c, name)
	if !ok {
		return
	}
	events := s.orch.Store().Events(p)
	if cal := c.Param("calendar"); cal != "" {
		filtered := make([]model.Event, 0, len(events))
		for _, ev := range events {
			if ev.Calendar == cal {
				filtered = append(filtered, ev)
			}
		}
		events = filtered
	}
	c.JSON(http.StatusOK, events)
}

func (s *Server) meta(c *gin.Context) {
	if name := c.Param("provider"); name != "" && name != "all" {
		p, ok := s.provider(c, name)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, s.orch.Store().Meta(p))
		return
	}
	all := make(map[string]model.Metadata, len(model.Providers))
	for _, p := range model.Providers {
		all[string(p)] = s.orch.Store().Meta(p)
	}
	c.JSON(http.StatusOK, all)
}

// current serves the events in progress right now. Calendars named in the
// ignore_calendars query parameter are excluded from the merge.
func (s *Server) current(c *gin.Context) {
	c.JSON(http.StatusOK, agenda.Current(s.now(), s.merged(c)))
}

// today serves the remainder of today's agenda: events already over are
// dropped, and an optional hours_prior offset moves the cutoff forward.
func (s *Server) today(c *gin.Context) {
	now := s.now()
	events := s.merged(c)
	hours := 0
	if raw := c.Param("hours_prior"); raw != "" {
		var err error
		hours, err = strconv.Atoi(raw)
		if err != nil || hours < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "hours_prior must be a non-negative integer"})
			return
		}
	}
	c.JSON(http.StatusOK, agenda.FromHourOffset(now, hours, events))
}

func (s *Server) tomorrow(c *gin.Context) {
	target := s.now().AddDate(0, 0, 1)
	c.JSON(http.StatusOK, agenda.For(target, s.merged(c)))
}

func (s *Server) agendaFor(c *gin.Context) {
	target := agenda.ResolveDateToken(c.Param("when"), s.now())
	c.JSON(http.StatusOK, agenda.For(target, s.merged(c)))
}

// merged reads the event feed honoring the ignore_calendars query
// parameter, accepted by every agenda endpoint.
func (s *Server) merged(c *gin.Context) []model.Event {
	return s.orch.Store().Merged(c.QueryArray("ignore_calendars"))
}

// provider parses a path segment into a known provider, answering 404
// when it names none.
func (s *Server) provider(c *gin.Context, name string) (model.Provider, bool) {
	p, ok := model.ParseProvider(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider: " + name})
		return "", false
	}
	return p, true
}
