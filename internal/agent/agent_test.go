package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mg7d/adaptivefps/internal/actions"
	"github.com/mg7d/adaptivefps/internal/host"
	"github.com/mg7d/adaptivefps/internal/settings"
	"github.com/mg7d/adaptivefps/internal/state"
	"github.com/mg7d/adaptivefps/internal/status"
	"github.com/mg7d/adaptivefps/internal/telnet"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeHost is both the state source and the cap writer, like a real client.
type fakeHost struct {
	mu     sync.Mutex
	snap   state.Snapshot
	subs   map[int]func()
	order  []int
	nextID int
	writes []uint
	err    error
}

func newFakeHost(s state.Snapshot) *fakeHost {
	return &fakeHost{snap: s, subs: map[int]func(){}}
}

func (h *fakeHost) LoggedIn() (bool, error)      { return h.read().LoggedIn, nil }
func (h *fakeHost) InCombat() (bool, error)      { return h.read().InCombat, nil }
func (h *fakeHost) Cap() (uint, error)           { return h.read().CurrentCap, nil }
func (h *fakeHost) RefreshRateHz() (uint, error) { return h.read().RefreshHz, nil }

func (h *fakeHost) read() state.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snap
}

func (h *fakeHost) Subscribe(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs[id] = fn
	h.order = append(h.order, id)
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

func (h *fakeHost) subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// tick fires subscribers in subscription order.
func (h *fakeHost) tick() {
	h.mu.Lock()
	var fns []func()
	for _, id := range h.order {
		if fn, ok := h.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (h *fakeHost) SetCap(v uint) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.writes = append(h.writes, v)
	h.snap.CurrentCap = v
	return nil
}

func (h *fakeHost) set(fn func(*state.Snapshot)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(&h.snap)
}

func (h *fakeHost) written() []uint {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]uint(nil), h.writes...)
}

type memStore struct {
	mu   sync.Mutex
	last settings.Settings
}

func (m *memStore) Load() (settings.Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last, nil
}

func (m *memStore) Save(s settings.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = s
	return nil
}

func newAgent(t *testing.T, h *fakeHost, store *memStore) *Agent {
	t.Helper()
	return New(Options{
		Source:   h,
		Writer:   h,
		Store:    store,
		Settings: settings.Defaults(),
		Logger:   zaptest.NewLogger(t),
	})
}

func TestStartAppliesAndDraws(t *testing.T) {
	h := newFakeHost(state.Snapshot{LoggedIn: true, CurrentCap: 1, RefreshHz: 144})
	store := &memStore{}
	a := newAgent(t, h, store)

	a.Start()
	a.Start()
	assert.Equal(t, 2, h.subscribers(), "cache and engine subscribe once each")
	assert.Equal(t, []uint{3}, h.written())
	assert.Equal(t, "60 | [30]", a.Entry().Display().Text)
	require.NotNil(t, store.last.LastUserCap)
	assert.Equal(t, uint(1), *store.last.LastUserCap)
	snap, stamp := a.Cache().Get()
	assert.Equal(t, uint(144), snap.RefreshHz)
	assert.Equal(t, a.Engine().Decision().Stamp, stamp, "engine reads the agent's cache")

	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, 0, h.subscribers())
	assert.Equal(t, []uint{3, 1}, h.written(), "stop restores the user's cap")
	assert.Nil(t, store.last.LastUserCap)
}

func TestTickFollowsCombat(t *testing.T) {
	h := newFakeHost(state.Snapshot{LoggedIn: true, CurrentCap: 1, RefreshHz: 144})
	a := newAgent(t, h, &memStore{})
	a.Start()
	defer func() { _ = a.Stop(context.Background()) }()

	h.set(func(s *state.Snapshot) { s.InCombat = true })
	h.tick()
	assert.Equal(t, []uint{3, 2}, h.written())
	assert.Equal(t, "[60] | 30", a.Entry().Display().Text)

	h.tick()
	assert.Equal(t, []uint{3, 2}, h.written(), "no change, no write")
}

func TestEntryClicksRotateTiers(t *testing.T) {
	h := newFakeHost(state.Snapshot{LoggedIn: true, CurrentCap: 1})
	a := newAgent(t, h, &memStore{})

	assert.False(t, a.Entry().Click(status.ClickPrimary), "no handler before start")
	a.Start()
	assert.True(t, a.Entry().Click(status.ClickPrimary))
	assert.Equal(t, settings.TierThirty, a.Engine().Settings().CombatCap)
	assert.True(t, a.Entry().Click(status.ClickSecondary))
	assert.Equal(t, settings.TierMainRefresh, a.Engine().Settings().OutOfCombatCap)

	require.NoError(t, a.Stop(context.Background()))
	assert.False(t, a.Entry().Click(status.ClickPrimary))
}

func TestStopWithoutStart(t *testing.T) {
	h := newFakeHost(state.Snapshot{})
	a := newAgent(t, h, &memStore{})
	assert.NoError(t, a.Stop(context.Background()))
	assert.Empty(t, h.written())
}

func TestStopReportsFailedRestore(t *testing.T) {
	h := newFakeHost(state.Snapshot{LoggedIn: true, CurrentCap: 1})
	store := &memStore{}
	a := newAgent(t, h, store)
	a.Start()

	h.mu.Lock()
	h.err = errors.New("console down")
	h.mu.Unlock()
	assert.Error(t, a.Stop(context.Background()))
	require.NotNil(t, store.last.LastUserCap, "kept for the next start")
	assert.Equal(t, 0, h.subscribers())
}

func TestCommandsDriveEngine(t *testing.T) {
	h := newFakeHost(state.Snapshot{LoggedIn: true, CurrentCap: 1})
	a := newAgent(t, h, &memStore{})
	a.Start()
	defer func() { _ = a.Stop(context.Background()) }()

	lines, err := a.Commands().Run("ooc 2")
	require.NoError(t, err)
	assert.Equal(t, []string{"AdaptiveFPS: OOC cap set to 60"}, lines)
	assert.Equal(t, []uint{3, 2}, h.written())
}

type console struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (c *console) Send(_ context.Context, cmd telnet.Command) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, cmd.Raw)
	return nil
}

func (c *console) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *console) lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

// newLogAgent wires the agent to a LogHost whose writes go through a real
// applier into con.
func newLogAgent(t *testing.T, con *console, store *memStore) *Agent {
	t.Helper()
	applier := actions.NewApplier(con, state.NewAuditRing(16), actions.Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		applier.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	lh := host.NewLogHost(host.NewTicker(nil, 0), applier, host.LogHostOptions{})
	lh.Observe(state.Observation{At: time.Now(), LoggedIn: true, CurrentCap: 1})
	return New(Options{
		Source:   lh,
		Writer:   lh,
		Store:    store,
		Settings: settings.Defaults(),
		Logger:   zaptest.NewLogger(t),
	})
}

func TestStopKeepsCapWhenConsoleRejectsRestore(t *testing.T) {
	con := &console{}
	store := &memStore{}
	a := newLogAgent(t, con, store)
	a.Start()
	require.Eventually(t, func() bool { return len(con.lines()) == 1 }, 2*time.Second, 10*time.Millisecond)

	con.fail(errors.New("connection refused"))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.Error(t, a.Stop(ctx))
	require.NotNil(t, store.last.LastUserCap, "kept for the next start")
	assert.Equal(t, uint(1), *store.last.LastUserCap)
}

func TestStopRestoresThroughConsole(t *testing.T) {
	con := &console{}
	store := &memStore{}
	a := newLogAgent(t, con, store)
	a.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, []string{"setcfg Fps 3", "setcfg Fps 1"}, con.lines())
	assert.Nil(t, store.last.LastUserCap)
}
