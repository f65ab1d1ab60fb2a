// Package refresh orchestrates periodic and on-demand provider refreshes:
// it runs the backends, replaces the store contents and bootstraps from the
// persisted cache at startup.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pschmitt/jcalapi/internal/backend"
	"github.com/pschmitt/jcalapi/internal/config"
	"github.com/pschmitt/jcalapi/internal/model"
	"github.com/pschmitt/jcalapi/internal/store"
)

// Overrides carries per-request credential/endpoint overrides for /reload.
// Zero values fall back to the process configuration.
type Overrides struct {
	Wiki    WikiOverrides
	Mailbox MailboxOverrides
	Google  GoogleOverrides
}

type WikiOverrides struct {
	URL          string
	Username     string
	Password     string
	ConvertEmail *bool
}

type MailboxOverrides struct {
	Email           string
	Username        string
	Password        string
	SharedInboxes   []string
	Autodiscovery   *bool
	ServiceEndpoint string
}

type GoogleOverrides struct {
	Credentials   string
	CalendarRegex string
}

// Builder produces a ready backend from the effective configuration, or
// reports that required credentials are missing.
type Builder func(cfg *config.Config, ov Overrides) (backend.Backend, bool)

// Orchestrator owns the store and serializes refreshes per provider.
type Orchestrator struct {
	cfg      *config.Config
	store    *store.Store
	builders map[model.Provider]Builder
	inflight map[model.Provider]*sync.Mutex
	cron     *cron.Cron
}

// New creates an orchestrator with the default backend builders.
func New(cfg *config.Config, st *store.Store) *Orchestrator {
	o := &Orchestrator{
		cfg:   cfg,
		store: st,
		builders: map[model.Provider]Builder{
			model.ProviderWiki:    buildWiki,
			model.ProviderMailbox: buildMailbox,
			model.ProviderGoogle:  buildGoogle,
		},
		inflight: make(map[model.Provider]*sync.Mutex, len(model.Providers)),
	}
	for _, p := range model.Providers {
		o.inflight[p] = &sync.Mutex{}
	}
	return o
}

// SetBuilder replaces one provider's backend builder. Used by tests and by
// callers wiring fake clients.
func (o *Orchestrator) SetBuilder(p model.Provider, b Builder) {
	o.builders[p] = b
}

// Store exposes the orchestrator-owned event store.
func (o *Orchestrator) Store() *store.Store {
	return o.store
}

// Refresh runs one provider's normalization and replaces its stored event
// list. The returned count is nil when required credentials are absent. A
// refresh already in flight for the same provider causes this trigger to be
// skipped, returning the current entry count.
func (o *Orchestrator) Refresh(ctx context.Context, p model.Provider, ov Overrides) (*int, error) {
	builder, ok := o.builders[p]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", p)
	}

	be, ready := builder(o.cfg, ov)
	if !ready {
		slog.Warn("credentials missing, skipping refresh", "backend", p)
		return nil, nil
	}

	mu := o.inflight[p]
	if !mu.TryLock() {
		slog.Info("refresh already in flight, skipping", "backend", p)
		count := o.store.Meta(p).Entries
		return &count, nil
	}
	defer mu.Unlock()

	window := o.cfg.Window(time.Now())
	slog.Info("refreshing events", "backend", p,
		"window_start", window.Start.Format(time.RFC3339),
		"window_end", window.End.Format(time.RFC3339))

	events, err := be.Events(ctx, window)
	if err != nil {
		// Keep serving the last good data for this provider.
		slog.Error("refresh failed", "backend", p, "error", err)
		return nil, err
	}

	o.store.Replace(p, events)
	count := len(events)
	slog.Info("refresh completed", "backend", p, "events", count)
	return &count, nil
}

// RefreshAll refreshes every provider. Providers run concurrently; each
// one's failure is independent.
func (o *Orchestrator) RefreshAll(ctx context.Context, ov Overrides) map[model.Provider]*int {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[model.Provider]*int, len(model.Providers))
	)

	for _, p := range model.Providers {
		wg.Add(1)
		go func(p model.Provider) {
			defer wg.Done()
			count, err := o.Refresh(ctx, p, ov)
			if err != nil {
				count = nil
			}
			mu.Lock()
			results[p] = count
			mu.Unlock()
		}(p)
	}
	wg.Wait()
	return results
}

// Bootstrap restores persisted event lists and refreshes only the providers
// without a usable cache entry.
func (o *Orchestrator) Bootstrap(ctx context.Context) {
	missing := o.store.Restore()
	for _, p := range missing {
		if _, err := o.Refresh(ctx, p, Overrides{}); err != nil {
			slog.Error("bootstrap refresh failed", "backend", p, "error", err)
		}
	}
}

// Start bootstraps from cache and schedules periodic refreshes per the
// configured cron expression. Stop cancels the schedule.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.Bootstrap(ctx)

	c := cron.New()
	_, err := c.AddFunc(o.cfg.RefreshCron, func() {
		o.RefreshAll(ctx, Overrides{})
	})
	if err != nil {
		return fmt.Errorf("invalid refresh schedule %q: %w", o.cfg.RefreshCron, err)
	}
	c.Start()
	o.cron = c
	slog.Info("refresh schedule started", "cron", o.cfg.RefreshCron)
	return nil
}

// Stop halts the periodic schedule, waiting for a running refresh to end.
func (o *Orchestrator) Stop() {
	if o.cron != nil {
		<-o.cron.Stop().Done()
	}
}

func buildWiki(cfg *config.Config, ov Overrides) (backend.Backend, bool) {
	merged := cfg.Wiki
	if ov.Wiki.URL != "" {
		merged.URL = ov.Wiki.URL
	}
	if ov.Wiki.Username != "" {
		merged.Username = ov.Wiki.Username
	}
	if ov.Wiki.Password != "" {
		merged.Password = ov.Wiki.Password
	}
	if ov.Wiki.ConvertEmail != nil {
		merged.ConvertEmail = *ov.Wiki.ConvertEmail
	}
	if !merged.Complete() {
		return nil, false
	}
	return backend.NewWiki(merged), true
}

func buildMailbox(cfg *config.Config, ov Overrides) (backend.Backend, bool) {
	merged := cfg.Mailbox
	if ov.Mailbox.Email != "" {
		merged.Email = ov.Mailbox.Email
	}
	if ov.Mailbox.Username != "" {
		merged.Username = ov.Mailbox.Username
	}
	if ov.Mailbox.Password != "" {
		merged.Password = ov.Mailbox.Password
	}
	if len(ov.Mailbox.SharedInboxes) > 0 {
		merged.SharedInboxes = ov.Mailbox.SharedInboxes
	}
	if ov.Mailbox.Autodiscovery != nil {
		merged.Autodiscovery = *ov.Mailbox.Autodiscovery
	}
	if ov.Mailbox.ServiceEndpoint != "" {
		merged.ServiceEndpoint = ov.Mailbox.ServiceEndpoint
	}
	if !merged.Complete() {
		return nil, false
	}
	return backend.NewMailbox(merged, nil), true
}

func buildGoogle(cfg *config.Config, ov Overrides) (backend.Backend, bool) {
	merged := cfg.Google
	if ov.Google.Credentials != "" {
		merged.Credentials = ov.Google.Credentials
	}
	if ov.Google.CalendarRegex != "" {
		merged.CalendarRegex = ov.Google.CalendarRegex
	}
	if !merged.Complete() {
		return nil, false
	}
	return backend.NewGoogle(merged, nil), true
}
