package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mg7d/adaptivefps/internal/settings"
	"github.com/mg7d/adaptivefps/internal/state"
	"github.com/mg7d/adaptivefps/internal/status"
)

// SnapshotReader is the read side of state.Cache the engine needs.
type SnapshotReader interface {
	Get() (state.Snapshot, uint64)
}

// CapWriter writes the host's frame-rate cap option.
type CapWriter interface {
	SetCap(value uint) error
}

// CapRestorer is implemented by a CapWriter that records restores of the
// user's own cap separately from overrides.
type CapRestorer interface {
	RestoreCap(value uint) error
}

// CapDeliverer is implemented by a CapWriter that can wait until a write of
// the user's own cap has reached the host.
type CapDeliverer interface {
	DeliverCap(ctx context.Context, value uint) error
}

// Observer is told about engine outcomes, typically to update metrics.
type Observer interface {
	CapWritten(value uint, err error)
	StatusRedrawn()
	DecisionMade(d Decision)
	SettingsSaveFailed()
}

// State is the override bookkeeping that lives across ticks but not across
// restarts.
type State struct {
	OverrideActive bool
}

// Decision is what the engine would do for the current snapshot.
type Decision struct {
	Snapshot       state.Snapshot
	Stamp          uint64
	Applicable     bool
	Desired        settings.Tier
	OverrideActive bool
	LastUserCap    *uint
}

// Options configures optional engine collaborators.
type Options struct {
	Logger   *zap.Logger
	Surface  status.Surface
	Observer Observer
	// ResetCombat and ResetOutOfCombat are the tiers Reset restores.
	ResetCombat      settings.Tier
	ResetOutOfCombat settings.Tier
}

type uiStamp struct {
	snap    uint64
	enabled bool
	combat  settings.Tier
	ooc     settings.Tier
}

type capWrite struct {
	value uint
	stamp uint64
	ok    bool
}

// Engine turns the current snapshot and settings into at most one cap write
// per call, tracks the user's own cap so it can be restored, and redraws the
// status surface only when something visible changed.
type Engine struct {
	cache    SnapshotReader
	host     CapWriter
	store    settings.Store
	surface  status.Surface
	observer Observer
	logger   *zap.Logger

	resetCombat settings.Tier
	resetOOC    settings.Tier

	mu      sync.Mutex
	cfg     settings.Settings
	st      State
	lastUI  uiStamp
	drawn   bool
	written capWrite
}

// New creates an engine over cfg. A LastUserCap left over from a previous
// run marks the override as active so that value, not the engine's own last
// write, is what gets restored.
func New(cache SnapshotReader, host CapWriter, store settings.Store, cfg settings.Settings, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	observer := opts.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	e := &Engine{
		cache:       cache,
		host:        host,
		store:       store,
		surface:     opts.Surface,
		observer:    observer,
		logger:      logger.With(zap.String("component", "cap_engine")),
		resetCombat: opts.ResetCombat,
		resetOOC:    opts.ResetOutOfCombat,
		cfg:         cfg.Clone(),
	}
	if !e.resetCombat.Valid() {
		e.resetCombat = settings.TierMainRefresh
	}
	if !e.resetOOC.Valid() {
		e.resetOOC = settings.TierThirty
	}
	if e.cfg.LastUserCap != nil {
		e.st.OverrideActive = true
		e.logger.Info("leftover user cap found, will restore on disable", zap.Uint("last_user_cap", *e.cfg.LastUserCap))
	}
	return e
}

// ApplyAndRefresh is the steady-state entry point, called every tick and
// after every user-triggered change. Only a settings save failure is
// returned; host write failures are logged and retried on a later call.
func (e *Engine) ApplyAndRefresh() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyAndRefreshLocked()
}

// DisableAndRefresh writes the captured user cap back when an override is
// active, then refreshes the status surface.
func (e *Engine) DisableAndRefresh() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, stamp := e.cache.Get()
	e.undoOverrideLocked(snap, stamp)
	e.refreshLocked(snap, stamp)
	return nil
}

// OnEntryClick rotates the combat tier on a primary click and the
// out-of-combat tier on a secondary click, then applies.
func (e *Engine) OnEntryClick(c status.Click) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if c == status.ClickSecondary {
		err = e.rotateLocked(&e.cfg.OutOfCombatCap)
	} else {
		err = e.rotateLocked(&e.cfg.CombatCap)
	}
	return errors.Join(err, e.applyAndRefreshLocked())
}

// RotateCombatCap advances CombatCap one step and persists it.
func (e *Engine) RotateCombatCap() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotateLocked(&e.cfg.CombatCap)
}

// RotateOutOfCombatCap advances OutOfCombatCap one step and persists it.
func (e *Engine) RotateOutOfCombatCap() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rotateLocked(&e.cfg.OutOfCombatCap)
}

// SetCombatCap sets CombatCap, persists and applies. An unknown tier returns
// settings.ErrInvalidTier and changes nothing.
func (e *Engine) SetCombatCap(t settings.Tier) error {
	return e.setTier(t, func(cfg *settings.Settings) *settings.Tier { return &cfg.CombatCap })
}

// SetOutOfCombatCap is SetCombatCap for the out-of-combat tier.
func (e *Engine) SetOutOfCombatCap(t settings.Tier) error {
	return e.setTier(t, func(cfg *settings.Settings) *settings.Tier { return &cfg.OutOfCombatCap })
}

func (e *Engine) setTier(t settings.Tier, field func(*settings.Settings) *settings.Tier) error {
	if !t.Valid() {
		return fmt.Errorf("%w: %d", settings.ErrInvalidTier, uint(t))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	*field(&e.cfg) = t
	return errors.Join(e.saveLocked(), e.applyAndRefreshLocked())
}

// ToggleEnabled flips Enabled and either restores the user cap or applies.
// It returns the new Enabled value.
func (e *Engine) ToggleEnabled() (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.Enabled = !e.cfg.Enabled
	saveErr := e.saveLocked()
	if !e.cfg.Enabled {
		snap, stamp := e.cache.Get()
		e.undoOverrideLocked(snap, stamp)
		e.refreshLocked(snap, stamp)
		return false, saveErr
	}
	return true, errors.Join(saveErr, e.applyAndRefreshLocked())
}

// Reset puts both tiers back to the deployment defaults and applies.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg.CombatCap = e.resetCombat
	e.cfg.OutOfCombatCap = e.resetOOC
	return errors.Join(e.saveLocked(), e.applyAndRefreshLocked())
}

// Restore writes any captured user cap back to the host and forgets it.
// It is called once on shutdown. The captured value is kept when the host
// write fails, or is not confirmed before ctx ends, so the next start can
// restore it.
func (e *Engine) Restore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg.LastUserCap == nil {
		e.st.OverrideActive = false
		return nil
	}
	snap, stamp := e.cache.Get()
	if err := e.restoreLocked(ctx, *e.cfg.LastUserCap, snap, stamp); err != nil {
		return fmt.Errorf("restore user cap: %w", err)
	}
	e.cfg.LastUserCap = nil
	e.st.OverrideActive = false
	return e.saveLocked()
}

// Settings returns a copy of the in-memory settings.
func (e *Engine) Settings() settings.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.Clone()
}

// State returns the override bookkeeping.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.st
}

// Decision reports the live decision without acting on it.
func (e *Engine) Decision() Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap, stamp := e.cache.Get()
	return e.decideLocked(snap, stamp)
}

func (e *Engine) decideLocked(snap state.Snapshot, stamp uint64) Decision {
	d := Decision{
		Snapshot:       snap,
		Stamp:          stamp,
		Applicable:     e.cfg.Enabled && snap.LoggedIn,
		Desired:        e.cfg.OutOfCombatCap,
		OverrideActive: e.st.OverrideActive,
	}
	if snap.InCombat {
		d.Desired = e.cfg.CombatCap
	}
	if e.cfg.LastUserCap != nil {
		v := *e.cfg.LastUserCap
		d.LastUserCap = &v
	}
	return d
}

func (e *Engine) applyAndRefreshLocked() error {
	snap, stamp := e.cache.Get()
	err := e.applyLocked(snap, stamp)
	e.refreshLocked(snap, stamp)
	return err
}

func (e *Engine) applyLocked(snap state.Snapshot, stamp uint64) error {
	d := e.decideLocked(snap, stamp)
	e.observer.DecisionMade(d)
	if !d.Applicable {
		return nil
	}
	if !d.Desired.Valid() {
		e.logger.Warn("configured tier is invalid, skipping", zap.Uint("tier", uint(d.Desired)))
		return nil
	}
	var saveErr error
	if !e.st.OverrideActive {
		// The sample may predate our own restore at this stamp, so capture
		// what the host holds now. Nothing is written while it is unknown.
		v := e.knownCapLocked(snap, stamp)
		if v == 0 {
			e.logger.Debug("current cap unknown, deferring override")
			return nil
		}
		e.cfg.LastUserCap = &v
		e.st.OverrideActive = true
		e.logger.Info("captured user cap", zap.Uint("last_user_cap", v))
		saveErr = e.saveLocked()
	}
	reason := "ooc"
	if snap.InCombat {
		reason = "combat"
	}
	_ = e.writeLocked(d.Desired.Raw(), snap, stamp, reason, false)
	return saveErr
}

func (e *Engine) undoOverrideLocked(snap state.Snapshot, stamp uint64) {
	if !e.st.OverrideActive || e.cfg.LastUserCap == nil {
		return
	}
	if err := e.writeLocked(*e.cfg.LastUserCap, snap, stamp, "disable", true); err != nil {
		return
	}
	e.st.OverrideActive = false
}

// knownCapLocked is the best knowledge of the host cap: our own write when it
// happened against the current snapshot, otherwise the sampled value.
func (e *Engine) knownCapLocked(snap state.Snapshot, stamp uint64) uint {
	if e.written.ok && e.written.stamp == stamp {
		return e.written.value
	}
	return snap.CurrentCap
}

// restoreLocked is the shutdown write. A host that can confirm delivery is
// always asked to, since a queued write may still be lost.
func (e *Engine) restoreLocked(ctx context.Context, value uint, snap state.Snapshot, stamp uint64) error {
	d, ok := e.host.(CapDeliverer)
	if !ok {
		return e.writeLocked(value, snap, stamp, "shutdown", true)
	}
	err := d.DeliverCap(ctx, value)
	e.observer.CapWritten(value, err)
	if err != nil {
		e.written = capWrite{}
		e.logger.Warn("cap write failed", zap.Uint("cap", value), zap.String("reason", "shutdown"), zap.Error(err))
		return err
	}
	e.written = capWrite{value: value, stamp: stamp, ok: true}
	e.logger.Info("cap written", zap.String("reason", "shutdown"), zap.Uint("cap", value))
	return nil
}

func (e *Engine) writeLocked(value uint, snap state.Snapshot, stamp uint64, reason string, restore bool) error {
	if e.knownCapLocked(snap, stamp) == value {
		return nil
	}
	var err error
	if r, ok := e.host.(CapRestorer); ok && restore {
		err = r.RestoreCap(value)
	} else {
		err = e.host.SetCap(value)
	}
	e.observer.CapWritten(value, err)
	if err != nil {
		e.written = capWrite{}
		level := zap.WarnLevel
		if errors.Is(err, state.ErrUnavailable) {
			// Read-only hosts fail every write; keep the log quiet.
			level = zap.DebugLevel
		}
		e.logger.Log(level, "cap write failed", zap.Uint("cap", value), zap.String("reason", reason), zap.Error(err))
		return err
	}
	e.written = capWrite{value: value, stamp: stamp, ok: true}
	e.logger.Info("cap written", zap.String("reason", reason), zap.Uint("cap", value))
	return nil
}

func (e *Engine) refreshLocked(snap state.Snapshot, stamp uint64) {
	ui := uiStamp{
		snap:    stamp,
		enabled: e.cfg.Enabled,
		combat:  e.cfg.CombatCap,
		ooc:     e.cfg.OutOfCombatCap,
	}
	if e.drawn && ui == e.lastUI {
		return
	}
	if e.surface != nil {
		d := status.Render(e.cfg, snap)
		e.surface.SetText(d.Text)
		e.surface.SetTooltip(d.Tooltip)
	}
	e.lastUI = ui
	e.drawn = true
	e.observer.StatusRedrawn()
}

func (e *Engine) rotateLocked(t *settings.Tier) error {
	*t = t.Next()
	return e.saveLocked()
}

func (e *Engine) saveLocked() error {
	if err := e.store.Save(e.cfg.Clone()); err != nil {
		e.observer.SettingsSaveFailed()
		e.logger.Warn("settings save failed", zap.Error(err))
		return fmt.Errorf("persist settings: %w", err)
	}
	return nil
}

type nopObserver struct{}

func (nopObserver) CapWritten(uint, error) {}
func (nopObserver) StatusRedrawn()         {}
func (nopObserver) DecisionMade(Decision)  {}
func (nopObserver) SettingsSaveFailed()    {}
