// Package store holds the per-provider event lists and their persistent
// disk cache.
package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/pschmitt/jcalapi/internal/model"
)

// Store is the in-memory event store. Each provider key maps to the full
// list of canonical events from its last successful refresh. Lists are
// replaced wholesale; readers never observe a partially-built list.
type Store struct {
	mu     sync.RWMutex
	events map[model.Provider][]model.Event
	meta   map[model.Provider]model.Metadata
	cache  *DiskCache
}

// New creates a Store with empty entries for every known provider. cache may
// be nil, in which case nothing is persisted.
func New(cache *DiskCache) *Store {
	s := &Store{
		events: make(map[model.Provider][]model.Event, len(model.Providers)),
		meta:   make(map[model.Provider]model.Metadata, len(model.Providers)),
		cache:  cache,
	}
	for _, p := range model.Providers {
		s.events[p] = []model.Event{}
	}
	return s
}

// Events returns the stored list for one provider.
func (s *Store) Events(p model.Provider) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.events[p]
}

// Meta returns refresh metadata for one provider.
func (s *Store) Meta(p model.Provider) model.Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta[p]
}

// Replace swaps in a provider's event list, updates its metadata and writes
// both through to the disk cache.
func (s *Store) Replace(p model.Provider, events []model.Event) {
	if events == nil {
		events = []model.Event{}
	}
	meta := model.Metadata{
		LastUpdate: time.Now(),
		Entries:    len(events),
	}

	s.mu.Lock()
	s.events[p] = events
	s.meta[p] = meta
	s.mu.Unlock()

	if s.cache == nil {
		return
	}
	if err := s.cache.Set(string(p), events, defaultExpiry); err != nil {
		slog.Error("cache write failed", "backend", p, "error", err)
	}
	if err := s.cache.Set(string(p)+metaKeySuffix, meta, 0); err != nil {
		slog.Error("cache metadata write failed", "backend", p, "error", err)
	}
}

// Merged concatenates all providers' lists in canonical provider order,
// preserving each list's internal order. Events whose calendar name is in
// exclude are omitted.
func (s *Store) Merged(exclude []string) []model.Event {
	excluded := make(map[string]struct{}, len(exclude))
	for _, c := range exclude {
		excluded[c] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var merged []model.Event
	for _, p := range model.Providers {
		for _, ev := range s.events[p] {
			if _, skip := excluded[ev.Calendar]; skip {
				continue
			}
			merged = append(merged, ev)
		}
	}
	return merged
}

// Restore loads cached event lists written by a previous run. It returns
// the providers for which no usable (present and unexpired) cache entry
// exists; those need an immediate refresh. Metadata entries are restored
// alongside so /meta stays meaningful across restarts.
func (s *Store) Restore() []model.Provider {
	if s.cache == nil {
		return append([]model.Provider(nil), model.Providers...)
	}

	var missing []model.Provider
	for _, p := range model.Providers {
		var events []model.Event
		ok, err := s.cache.Get(string(p), &events)
		if err != nil {
			slog.Warn("cache read failed", "backend", p, "error", err)
		}
		if !ok {
			slog.Warn("cache empty, refresh required", "backend", p)
			missing = append(missing, p)
			continue
		}

		var meta model.Metadata
		if found, err := s.cache.Get(string(p)+metaKeySuffix, &meta); err != nil || !found {
			meta = model.Metadata{LastUpdate: time.Now(), Entries: len(events)}
		}

		s.mu.Lock()
		s.events[p] = events
		s.meta[p] = meta
		s.mu.Unlock()
		slog.Info("restored events from cache", "backend", p, "entries", len(events))
	}
	return missing
}
