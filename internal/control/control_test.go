package control

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/keepalive/internal/errdefs"
	"github.com/loykin/keepalive/internal/provider/providertest"
	"github.com/loykin/keepalive/internal/store"
	"github.com/loykin/keepalive/internal/sweep"
)

const admin = "1001"

var addTime = time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)

type fakeEngine struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	interval time.Duration
	sweeps   int
}

func (f *fakeEngine) Start() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	f.starts++
	return true
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stops++
	return nil
}

func (f *fakeEngine) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeEngine) Interval() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interval
}

func (f *fakeEngine) SetInterval(_ context.Context, minutes int) error {
	if minutes < sweep.MinIntervalMinutes || minutes > sweep.MaxIntervalMinutes {
		return errdefs.Invalid("bad interval %d", minutes)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interval = time.Duration(minutes) * time.Minute
	return nil
}

func (f *fakeEngine) SweepNow(context.Context) sweep.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sweeps++
	return sweep.Result{SweepID: "s", Total: 1, Kept: 1}
}

type fixture struct {
	reg    *store.Registry
	prov   *providertest.Fake
	engine *fakeEngine
	s      *Surface
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	reg := store.NewRegistry(store.NewMemoryBackend())
	_, err := reg.AddAdmin(context.Background(), admin)
	require.NoError(t, err)
	prov := providertest.NewFake(
		providertest.Resource("fluffy-pancake-r4w5", "My Project", "Available"),
		providertest.Resource("crispy-waffle-x9y8", "Other Work", "Shutdown"),
	)
	eng := &fakeEngine{interval: 55 * time.Minute}
	s := New(reg, prov, eng, Config{Now: func() time.Time { return addTime }})
	return fixture{reg: reg, prov: prov, engine: eng, s: s}
}

func (f fixture) snapshot(t *testing.T) store.Snapshot {
	t.Helper()
	snap, err := f.reg.Load(context.Background())
	require.NoError(t, err)
	return snap
}

func TestUnauthorizedCallsHaveNoSideEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := f.snapshot(t)

	for _, caller := range []string{"", "  ", "stranger"} {
		_, err := f.s.Add(ctx, caller, "pancake")
		assert.ErrorIs(t, err, errdefs.ErrUnauthorized)
		_, err = f.s.Remove(ctx, caller, "fluffy-pancake-r4w5")
		assert.ErrorIs(t, err, errdefs.ErrUnauthorized)
		_, err = f.s.List(ctx, caller)
		assert.ErrorIs(t, err, errdefs.ErrUnauthorized)
		_, err = f.s.Status(ctx, caller)
		assert.ErrorIs(t, err, errdefs.ErrUnauthorized)
		_, err = f.s.Stats(ctx, caller)
		assert.ErrorIs(t, err, errdefs.ErrUnauthorized)
		assert.ErrorIs(t, f.s.SetInterval(ctx, caller, 30), errdefs.ErrUnauthorized)
		_, err = f.s.StartEngine(ctx, caller)
		assert.ErrorIs(t, err, errdefs.ErrUnauthorized)
		assert.ErrorIs(t, f.s.StopEngine(ctx, caller), errdefs.ErrUnauthorized)
		_, err = f.s.SweepNow(ctx, caller)
		assert.ErrorIs(t, err, errdefs.ErrUnauthorized)
	}

	assert.Equal(t, before, f.snapshot(t))
	assert.Empty(t, f.prov.Calls())
	assert.Zero(t, f.engine.starts)
	assert.Zero(t, f.engine.stops)
	assert.Zero(t, f.engine.sweeps)
	assert.Equal(t, 55*time.Minute, f.engine.Interval())
}

func TestJoin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	added, err := f.s.Join(ctx, "2002")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = f.s.Join(ctx, "2002")
	require.NoError(t, err)
	assert.False(t, added)

	_, err = f.s.Join(ctx, " ")
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	assert.ElementsMatch(t, []string{admin, "2002"}, f.snapshot(t).Admins)
	_, err = f.s.Stats(ctx, "2002")
	assert.NoError(t, err)
}

func TestAdd_BySubstringOfDisplayName(t *testing.T) {
	f := newFixture(t)

	rec, err := f.s.Add(context.Background(), admin, "my proj")
	require.NoError(t, err)
	assert.Equal(t, "fluffy-pancake-r4w5", rec.ID)
	assert.Equal(t, "My Project", rec.DisplayName)
	assert.Equal(t, admin, rec.AddedBy)
	assert.Equal(t, addTime, rec.AddedAt)
	assert.Nil(t, rec.LastAccessAt)

	snap := f.snapshot(t)
	assert.Equal(t, rec, snap.Resources["fluffy-pancake-r4w5"])
	assert.Equal(t, 1, f.engine.starts, "add starts an idle engine")
}

func TestAdd_ExactNameBeatsSubstring(t *testing.T) {
	f := newFixture(t)
	f.prov.Put(providertest.Resource("crispy", "Plain", "Available"))

	rec, err := f.s.Add(context.Background(), admin, "crispy")
	require.NoError(t, err)
	assert.Equal(t, "crispy", rec.ID)
}

func TestAdd_FallsBackToLiteralID(t *testing.T) {
	f := newFixture(t)
	f.prov.FailList(errdefs.Provider("list", errors.New("rate limited")))

	rec, err := f.s.Add(context.Background(), admin, "crispy-waffle-x9y8")
	require.NoError(t, err)
	assert.Equal(t, "crispy-waffle-x9y8", rec.ID)
	assert.Contains(t, f.prov.Calls(), "get:crispy-waffle-x9y8")
}

func TestAdd_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.s.Add(ctx, admin, "   ")
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)

	_, err = f.s.Add(ctx, admin, "nothing-like-this")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	f.prov.FailList(errdefs.Provider("list", errors.New("down")))
	_, err = f.s.Add(ctx, admin, "nothing-like-this")
	assert.ErrorIs(t, err, errdefs.ErrProvider)

	assert.Empty(t, f.snapshot(t).Resources)
	assert.Zero(t, f.engine.starts)
}

func TestAdd_ReAddKeepsHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	earlier := addTime.Add(-48 * time.Hour)
	touched := addTime.Add(-time.Hour)
	require.NoError(t, f.reg.UpsertResource(ctx, store.ResourceRecord{
		ID: "fluffy-pancake-r4w5", Name: "fluffy-pancake-r4w5", DisplayName: "Old", AddedAt: earlier, LastAccessAt: &touched, AddedBy: "x",
	}))

	rec, err := f.s.Add(ctx, admin, "fluffy")
	require.NoError(t, err)
	assert.Equal(t, earlier, rec.AddedAt)
	require.NotNil(t, rec.LastAccessAt)
	assert.Equal(t, touched, *rec.LastAccessAt)
	assert.Equal(t, "My Project", rec.DisplayName)
}

func TestAddRemoveReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.s.Add(ctx, admin, "pancake")
	require.NoError(t, err)
	_, err = f.s.Add(ctx, admin, "waffle")
	require.NoError(t, err)
	removed, err := f.s.Remove(ctx, admin, "fluffy-pancake-r4w5")
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = f.s.Remove(ctx, admin, "fluffy-pancake-r4w5")
	require.NoError(t, err)
	assert.False(t, removed, "remove is idempotent")

	snap := f.snapshot(t)
	require.Len(t, snap.Resources, 1)
	assert.Contains(t, snap.Resources, "crispy-waffle-x9y8")

	_, err = f.s.Remove(ctx, admin, "")
	assert.ErrorIs(t, err, errdefs.ErrInvalidArgument)
}

func TestRemove_RejectsMalformedIDAfterAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"bad..id", "a/b", "space here", strings.Repeat("x", 256)} {
		_, err := f.s.Remove(ctx, "stranger", id)
		assert.ErrorIs(t, err, errdefs.ErrUnauthorized, id)
		_, err = f.s.Remove(ctx, admin, id)
		assert.ErrorIs(t, err, errdefs.ErrInvalidArgument, id)
	}
}

func TestValidResourceID(t *testing.T) {
	for _, id := range []string{"a", "A1._-", "fluffy-pancake-r4w5", strings.Repeat("x", 255)} {
		assert.True(t, validResourceID(id), id)
	}
	for _, id := range []string{"", "..", "a..b", "a/b", `a\b`, "space here", "codespace\u00e9", strings.Repeat("x", 256)} {
		assert.False(t, validResourceID(id), id)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)
	got, err := f.s.List(context.Background(), admin)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	f.prov.FailList(errdefs.Provider("list", errors.New("down")))
	_, err = f.s.List(context.Background(), admin)
	assert.ErrorIs(t, err, errdefs.ErrProvider)
}

func TestStatus_ReportsProviderErrorsPerRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	touched := addTime.Add(-time.Minute)
	for _, id := range []string{"fluffy-pancake-r4w5", "crispy-waffle-x9y8", "gone"} {
		require.NoError(t, f.reg.UpsertResource(ctx, store.ResourceRecord{ID: id, Name: id, AddedAt: addTime, LastAccessAt: &touched}))
	}
	f.prov.FailGet("crispy-waffle-x9y8", errdefs.Provider("get", errors.New("timeout")))

	got, err := f.s.Status(ctx, admin)
	require.NoError(t, err)
	require.Len(t, got, 3)

	byID := map[string]ResourceStatus{}
	for _, st := range got {
		byID[st.ID] = st
	}
	assert.Equal(t, "Available", byID["fluffy-pancake-r4w5"].State)
	assert.Empty(t, byID["fluffy-pancake-r4w5"].Error)
	assert.Equal(t, &touched, byID["fluffy-pancake-r4w5"].LastAccessAt)
	assert.Equal(t, "unknown", byID["crispy-waffle-x9y8"].State)
	assert.Contains(t, byID["crispy-waffle-x9y8"].Error, "timeout")
	assert.Equal(t, "not_found", byID["gone"].State)

	assert.Len(t, f.snapshot(t).Resources, 3, "status never prunes")
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.reg.UpdateStats(ctx, func(s *store.Stats) {
		s.TotalChecks = 7
		s.SuccessfulKeeps = 2
		s.ResourceCount = 3
	}))
	require.NoError(t, f.reg.UpsertResource(ctx, store.ResourceRecord{ID: "a", Name: "a"}))
	f.engine.Start()

	got, err := f.s.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.TotalChecks)
	assert.Equal(t, 2, got.SuccessfulKeeps)
	assert.Equal(t, 3, got.ResourceCount)
	assert.Equal(t, 1, got.RegisteredResources)
	assert.True(t, got.EngineRunning)
	assert.Equal(t, 55, got.IntervalMinutes)
}

func TestEngineControls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	started, err := f.s.StartEngine(ctx, admin)
	require.NoError(t, err)
	assert.True(t, started)
	started, err = f.s.StartEngine(ctx, admin)
	require.NoError(t, err)
	assert.False(t, started)

	require.NoError(t, f.s.StopEngine(ctx, admin))
	assert.False(t, f.engine.Running())

	assert.ErrorIs(t, f.s.SetInterval(ctx, admin, 3), errdefs.ErrInvalidArgument)
	require.NoError(t, f.s.SetInterval(ctx, admin, 30))
	assert.Equal(t, 30*time.Minute, f.engine.Interval())

	res, err := f.s.SweepNow(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Kept)
}

func TestSurfaceWithRealEngine(t *testing.T) {
	reg := store.NewRegistry(store.NewMemoryBackend())
	ctx := context.Background()
	_, err := reg.AddAdmin(ctx, admin)
	require.NoError(t, err)
	prov := providertest.NewFake(providertest.Resource("cs-1", "Demo", "Shutdown"))
	eng := sweep.New(reg, prov, sweep.Config{Interval: time.Hour, StartGrace: -1, ResourcePause: -1})
	s := New(reg, prov, eng, Config{})
	t.Cleanup(func() { _ = eng.Stop() })

	_, err = s.Add(ctx, admin, "demo")
	require.NoError(t, err)
	assert.True(t, eng.Running())

	require.Eventually(t, func() bool {
		snap, err := reg.Load(ctx)
		return err == nil && snap.Stats.TotalChecks == 1
	}, 2*time.Second, 5*time.Millisecond)

	st, err := s.Stats(ctx, admin)
	require.NoError(t, err)
	assert.Equal(t, 1, st.SuccessfulKeeps)
	assert.Equal(t, 1, st.ResourceCount)
	assert.Contains(t, prov.Calls(), "start:cs-1")

	require.NoError(t, s.StopEngine(ctx, admin))
	assert.False(t, eng.Running())
}
