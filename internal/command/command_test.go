package command

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mg7d/adaptivefps/internal/policy"
	"github.com/mg7d/adaptivefps/internal/settings"
	"github.com/mg7d/adaptivefps/internal/state"
)

type staticCache struct{ snap state.Snapshot }

func (c *staticCache) Get() (state.Snapshot, uint64) { return c.snap, 1 }

type hostWrites struct{ values []uint }

func (h *hostWrites) SetCap(v uint) error {
	h.values = append(h.values, v)
	return nil
}

type memStore struct {
	last settings.Settings
	err  error
}

func (m *memStore) Load() (settings.Settings, error) { return m.last, nil }

func (m *memStore) Save(s settings.Settings) error {
	if m.err != nil {
		return m.err
	}
	m.last = s
	return nil
}

func newHandler(t *testing.T, snap state.Snapshot) (*Handler, *policy.Engine, *hostWrites, *memStore) {
	t.Helper()
	host := &hostWrites{}
	store := &memStore{}
	eng := policy.New(&staticCache{snap: snap}, host, store, settings.Defaults(), policy.Options{
		Logger: zaptest.NewLogger(t),
	})
	return NewHandler(eng, zaptest.NewLogger(t)), eng, host, store
}

func TestNoArgsPrintsStatusAndHelp(t *testing.T) {
	h, _, _, _ := newHandler(t, state.Snapshot{LoggedIn: true, CurrentCap: 1, RefreshHz: 144})
	lines, err := h.Run("   ")
	require.NoError(t, err)
	assert.Equal(t, []string{"AdaptiveFPS: IC=60, OOC=30, Enabled=on", Help}, lines)
}

func TestSetCombatTier(t *testing.T) {
	h, eng, host, store := newHandler(t, state.Snapshot{LoggedIn: true, InCombat: true, CurrentCap: 3, RefreshHz: 144})
	lines, err := h.Run("ic 1")
	require.NoError(t, err)
	assert.Equal(t, []string{"AdaptiveFPS: Combat cap set to 144 (main)"}, lines)
	assert.Equal(t, settings.TierMainRefresh, eng.Settings().CombatCap)
	assert.Equal(t, settings.TierMainRefresh, store.last.CombatCap)
	assert.Equal(t, []uint{1}, host.values)
}

func TestAliasesAndCaseInsensitivity(t *testing.T) {
	h, eng, _, _ := newHandler(t, state.Snapshot{})
	lines, err := h.Run("OutOfCombat 2")
	require.NoError(t, err)
	assert.Equal(t, []string{"AdaptiveFPS: OOC cap set to 60"}, lines)
	assert.Equal(t, settings.TierSixty, eng.Settings().OutOfCombatCap)

	_, err = h.Run("incombat 3")
	require.NoError(t, err)
	assert.Equal(t, settings.TierThirty, eng.Settings().CombatCap)
}

func TestInvalidTierPrintsUsage(t *testing.T) {
	h, eng, host, _ := newHandler(t, state.Snapshot{LoggedIn: true, CurrentCap: 1})
	before := eng.Settings()
	for _, args := range []string{"ic", "ic 0", "ic 4", "ic x"} {
		lines, err := h.Run(args)
		require.NoError(t, err)
		assert.Equal(t, []string{UsageIC}, lines, args)
	}
	lines, _ := h.Run("ooc 9")
	assert.Equal(t, []string{UsageOOC}, lines)
	assert.Equal(t, before, eng.Settings())
	assert.Empty(t, host.values)
}

func TestToggle(t *testing.T) {
	h, eng, _, _ := newHandler(t, state.Snapshot{})
	lines, err := h.Run("toggle")
	require.NoError(t, err)
	assert.Equal(t, []string{"AdaptiveFPS: disabled"}, lines)
	assert.False(t, eng.Settings().Enabled)

	lines, _ = h.Run("toggle")
	assert.Equal(t, []string{"AdaptiveFPS: enabled"}, lines)
}

func TestReset(t *testing.T) {
	h, eng, _, _ := newHandler(t, state.Snapshot{RefreshHz: 120})
	_, _ = h.Run("ooc 2")
	lines, err := h.Run("reset")
	require.NoError(t, err)
	assert.Equal(t, []string{"AdaptiveFPS: Reset to defaults - Combat: 120 (main), OOC: 30"}, lines)
	assert.Equal(t, settings.TierMainRefresh, eng.Settings().CombatCap)
	assert.Equal(t, settings.TierThirty, eng.Settings().OutOfCombatCap)
}

func TestDebugLine(t *testing.T) {
	h, _, _, _ := newHandler(t, state.Snapshot{LoggedIn: true, InCombat: true, CurrentCap: 3, RefreshHz: 144})
	lines, err := h.Run("debug")
	require.NoError(t, err)
	assert.Equal(t, []string{"AdaptiveFPS: Combat | Current: 30 | Target: 60"}, lines)

	h, _, _, _ = newHandler(t, state.Snapshot{})
	lines, _ = h.Run("debug")
	assert.Equal(t, []string{"AdaptiveFPS: Out of Combat | Current: 0 | Target: 30 (idle)"}, lines)
}

func TestUnknownVerb(t *testing.T) {
	h, _, _, _ := newHandler(t, state.Snapshot{})
	lines, err := h.Run("glow toggle")
	require.NoError(t, err)
	assert.Equal(t, []string{UnknownCommand}, lines)
}

func TestSaveFailureIsReportedButApplied(t *testing.T) {
	h, eng, _, store := newHandler(t, state.Snapshot{})
	store.err = errors.New("disk full")
	lines, err := h.Run("ic 3")
	assert.Error(t, err)
	assert.Equal(t, []string{"AdaptiveFPS: Combat cap set to 30"}, lines)
	assert.Equal(t, settings.TierThirty, eng.Settings().CombatCap)
}
