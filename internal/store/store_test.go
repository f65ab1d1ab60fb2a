package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pschmitt/jcalapi/internal/model"
)

func sampleEvents(backend model.Provider, calendar string, uids ...string) []model.Event {
	events := make([]model.Event, 0, len(uids))
	start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	for i, uid := range uids {
		events = append(events, model.Event{
			UID:      uid,
			Backend:  backend,
			Calendar: calendar,
			Summary:  "event " + uid,
			Start:    start.Add(time.Duration(i) * time.Hour),
			End:      start.Add(time.Duration(i+1) * time.Hour),
			Status:   model.StatusConfirmed,
		})
	}
	return events
}

func TestReplaceAndRoundTrip(t *testing.T) {
	s := New(nil)

	wiki := sampleEvents(model.ProviderWiki, "Team A", "w1", "w2")
	s.Replace(model.ProviderWiki, wiki)

	got := s.Events(model.ProviderWiki)
	assert.Equal(t, wiki, got)

	meta := s.Meta(model.ProviderWiki)
	assert.Equal(t, 2, meta.Entries)
	assert.WithinDuration(t, time.Now(), meta.LastUpdate, time.Minute)
}

func TestMergedOrderAndExclusion(t *testing.T) {
	s := New(nil)
	s.Replace(model.ProviderGoogle, sampleEvents(model.ProviderGoogle, "Personal", "g1"))
	s.Replace(model.ProviderWiki, sampleEvents(model.ProviderWiki, "Team A", "w1", "w2"))
	s.Replace(model.ProviderMailbox, sampleEvents(model.ProviderMailbox, "Calendar (me@corp)", "m1"))

	merged := s.Merged(nil)
	require.Len(t, merged, 4)
	// Provider order is fixed: wiki, mailbox, google.
	assert.Equal(t, []string{"w1", "w2", "m1", "g1"}, uids(merged))

	filtered := s.Merged([]string{"Team A"})
	assert.Equal(t, []string{"m1", "g1"}, uids(filtered))
}

func TestReplaceIsWholesale(t *testing.T) {
	s := New(nil)
	s.Replace(model.ProviderWiki, sampleEvents(model.ProviderWiki, "Team A", "old1", "old2"))
	s.Replace(model.ProviderWiki, sampleEvents(model.ProviderWiki, "Team A", "new1"))

	assert.Equal(t, []string{"new1"}, uids(s.Events(model.ProviderWiki)))
}

func TestDiskCacheSetGet(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)

	in := sampleEvents(model.ProviderWiki, "Team A", "w1")
	require.NoError(t, cache.Set("wiki", in, time.Minute))

	var out []model.Event
	ok, err := cache.Get("wiki", &out)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uids(in), uids(out))
	assert.True(t, in[0].Start.Equal(out[0].Start))
}

func TestDiskCacheExpiry(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, cache.Set("wiki", []string{"x"}, -time.Second))

	var out []string
	ok, err := cache.Get("wiki", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiskCacheMissing(t *testing.T) {
	cache, err := NewDiskCache(t.TempDir())
	require.NoError(t, err)

	var out []string
	ok, err := cache.Get("nope", &out)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRestore(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDiskCache(dir)
	require.NoError(t, err)

	// First process writes through.
	first := New(cache)
	first.Replace(model.ProviderWiki, sampleEvents(model.ProviderWiki, "Team A", "w1", "w2"))

	// Second process restores wiki and reports the others as missing.
	second := New(cache)
	missing := second.Restore()
	assert.ElementsMatch(t, []model.Provider{model.ProviderMailbox, model.ProviderGoogle}, missing)
	assert.Equal(t, []string{"w1", "w2"}, uids(second.Events(model.ProviderWiki)))
	assert.Equal(t, 2, second.Meta(model.ProviderWiki).Entries)
}

func TestRestoreExpiredEntryTriggersRefresh(t *testing.T) {
	dir := t.TempDir()
	cache, err := NewDiskCache(dir)
	require.NoError(t, err)

	require.NoError(t, cache.Set("wiki", sampleEvents(model.ProviderWiki, "Team A", "w1"), -time.Second))

	s := New(cache)
	missing := s.Restore()
	assert.Contains(t, missing, model.ProviderWiki)
	assert.Empty(t, s.Events(model.ProviderWiki))
}

func uids(events []model.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.UID)
	}
	return out
}
