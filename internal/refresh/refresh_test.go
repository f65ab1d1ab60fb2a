package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pschmitt/jcalapi/internal/backend"
	"github.com/pschmitt/jcalapi/internal/config"
	"github.com/pschmitt/jcalapi/internal/model"
	"github.com/pschmitt/jcalapi/internal/store"
)

type fakeBackend struct {
	name   model.Provider
	events []model.Event
	err    error

	mu    sync.Mutex
	calls int
	block chan struct{}
}

func (f *fakeBackend) Name() model.Provider { return f.name }

func (f *fakeBackend) Events(ctx context.Context, window model.Window) ([]model.Event, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.events, f.err
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	cache, err := store.NewDiskCache(t.TempDir())
	require.NoError(t, err)
	st := store.New(cache)
	cfg := config.DefaultConfig()
	return New(cfg, st), st
}

func staticBuilder(be backend.Backend, ready bool) Builder {
	return func(cfg *config.Config, ov Overrides) (backend.Backend, bool) {
		return be, ready
	}
}

func TestRefreshReplacesStore(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ev := model.Event{UID: "w1", Backend: model.ProviderWiki, Summary: "standup",
		Start: time.Now(), End: time.Now().Add(time.Hour)}
	o.SetBuilder(model.ProviderWiki, staticBuilder(&fakeBackend{
		name:   model.ProviderWiki,
		events: []model.Event{ev},
	}, true))

	count, err := o.Refresh(context.Background(), model.ProviderWiki, Overrides{})
	require.NoError(t, err)
	require.NotNil(t, count)
	assert.Equal(t, 1, *count)

	got := st.Events(model.ProviderWiki)
	require.Len(t, got, 1)
	assert.Equal(t, "w1", got[0].UID)
	assert.Equal(t, 1, st.Meta(model.ProviderWiki).Entries)
}

func TestRefreshMissingCredentials(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.SetBuilder(model.ProviderWiki, staticBuilder(nil, false))

	count, err := o.Refresh(context.Background(), model.ProviderWiki, Overrides{})
	require.NoError(t, err)
	assert.Nil(t, count)
}

func TestRefreshFailureKeepsOldData(t *testing.T) {
	o, st := newTestOrchestrator(t)
	ev := model.Event{UID: "keep", Backend: model.ProviderWiki,
		Start: time.Now(), End: time.Now().Add(time.Hour)}
	st.Replace(model.ProviderWiki, []model.Event{ev})

	o.SetBuilder(model.ProviderWiki, staticBuilder(&fakeBackend{
		name: model.ProviderWiki,
		err:  errors.New("upstream down"),
	}, true))

	_, err := o.Refresh(context.Background(), model.ProviderWiki, Overrides{})
	require.Error(t, err)

	got := st.Events(model.ProviderWiki)
	require.Len(t, got, 1)
	assert.Equal(t, "keep", got[0].UID)
}

func TestRefreshUnknownProvider(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	_, err := o.Refresh(context.Background(), model.Provider("caldav"), Overrides{})
	assert.Error(t, err)
}

func TestRefreshInFlightSkipsSecondTrigger(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	fb := &fakeBackend{name: model.ProviderWiki, block: make(chan struct{})}
	o.SetBuilder(model.ProviderWiki, staticBuilder(fb, true))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := o.Refresh(context.Background(), model.ProviderWiki, Overrides{})
		assert.NoError(t, err)
	}()

	// Wait for the first refresh to be inside the backend call.
	require.Eventually(t, func() bool { return fb.callCount() == 1 },
		time.Second, 5*time.Millisecond)

	count, err := o.Refresh(context.Background(), model.ProviderWiki, Overrides{})
	require.NoError(t, err)
	require.NotNil(t, count)
	assert.Equal(t, 0, *count)
	assert.Equal(t, 1, fb.callCount())

	close(fb.block)
	<-done
}

func TestRefreshAll(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	now := time.Now()
	o.SetBuilder(model.ProviderWiki, staticBuilder(&fakeBackend{
		name: model.ProviderWiki,
		events: []model.Event{{UID: "w1", Backend: model.ProviderWiki,
			Start: now, End: now.Add(time.Hour)}},
	}, true))
	o.SetBuilder(model.ProviderMailbox, staticBuilder(nil, false))
	o.SetBuilder(model.ProviderGoogle, staticBuilder(&fakeBackend{
		name: model.ProviderGoogle,
		err:  errors.New("quota exceeded"),
	}, true))

	results := o.RefreshAll(context.Background(), Overrides{})
	require.Len(t, results, 3)
	require.NotNil(t, results[model.ProviderWiki])
	assert.Equal(t, 1, *results[model.ProviderWiki])
	assert.Nil(t, results[model.ProviderMailbox])
	assert.Nil(t, results[model.ProviderGoogle])
}

func TestBootstrapRefreshesOnlyMissing(t *testing.T) {
	dir := t.TempDir()
	cache, err := store.NewDiskCache(dir)
	require.NoError(t, err)

	// Persist wiki events through a first store generation.
	first := store.New(cache)
	now := time.Now()
	first.Replace(model.ProviderWiki, []model.Event{{UID: "w1",
		Backend: model.ProviderWiki, Start: now, End: now.Add(time.Hour)}})

	second := store.New(cache)
	o := New(config.DefaultConfig(), second)
	wiki := &fakeBackend{name: model.ProviderWiki}
	mailbox := &fakeBackend{name: model.ProviderMailbox}
	google := &fakeBackend{name: model.ProviderGoogle}
	o.SetBuilder(model.ProviderWiki, staticBuilder(wiki, true))
	o.SetBuilder(model.ProviderMailbox, staticBuilder(mailbox, true))
	o.SetBuilder(model.ProviderGoogle, staticBuilder(google, true))

	o.Bootstrap(context.Background())

	// Wiki came back from disk, the others had to be fetched.
	assert.Equal(t, 0, wiki.callCount())
	assert.Equal(t, 1, mailbox.callCount())
	assert.Equal(t, 1, google.callCount())
	assert.Len(t, second.Events(model.ProviderWiki), 1)
}

func TestBuildersMergeOverrides(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Wiki = config.WikiConfig{URL: "https://wiki.example.com", Username: "cfg", Password: "cfgpass"}

	be, ready := buildWiki(cfg, Overrides{Wiki: WikiOverrides{Username: "override"}})
	require.True(t, ready)
	require.NotNil(t, be)

	// Incomplete config with no overrides is not ready.
	cfg.Wiki.Password = ""
	_, ready = buildWiki(cfg, Overrides{})
	assert.False(t, ready)

	// Overrides can complete a partial config.
	_, ready = buildWiki(cfg, Overrides{Wiki: WikiOverrides{Password: "frompost"}})
	assert.True(t, ready)
}
