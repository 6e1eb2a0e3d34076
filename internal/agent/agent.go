// Package agent owns the state cache, the cap engine and the status entry,
// and gives them one explicit start/stop lifecycle.
package agent

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mg7d/adaptivefps/internal/command"
	"github.com/mg7d/adaptivefps/internal/policy"
	"github.com/mg7d/adaptivefps/internal/settings"
	"github.com/mg7d/adaptivefps/internal/state"
	"github.com/mg7d/adaptivefps/internal/status"
)

// EntryName is the label of the status entry.
const EntryName = "AdaptiveFPS"

// Observer receives both snapshot and engine events; metrics.Registry
// implements it.
type Observer interface {
	state.SnapshotObserver
	policy.Observer
}

// Options holds the agent's collaborators.
type Options struct {
	Source   state.Source
	Writer   policy.CapWriter
	Store    settings.Store
	Settings settings.Settings
	// Surfaces receive every redraw in addition to the agent's own entry.
	Surfaces         []status.Surface
	Observer         Observer
	Logger           *zap.Logger
	ResetCombat      settings.Tier
	ResetOutOfCombat settings.Tier
}

// Agent wires the cache and the engine to the host tick.
type Agent struct {
	source   state.Source
	cache    *state.Cache
	engine   *policy.Engine
	entry    *status.Entry
	commands *command.Handler
	logger   *zap.Logger

	mu          sync.Mutex
	started     bool
	unsubscribe func()
}

// New builds the cache, engine and entry. Nothing touches the host until Start.
func New(opts Options) *Agent {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var snapObs state.SnapshotObserver
	var engObs policy.Observer
	if opts.Observer != nil {
		snapObs = opts.Observer
		engObs = opts.Observer
	}
	entry := status.NewEntry(EntryName)
	surfaces := append([]status.Surface{entry}, opts.Surfaces...)

	cache := state.NewCache(opts.Source, logger, snapObs)
	engine := policy.New(cache, opts.Writer, opts.Store, opts.Settings, policy.Options{
		Logger:           logger,
		Surface:          status.Multi(surfaces...),
		Observer:         engObs,
		ResetCombat:      opts.ResetCombat,
		ResetOutOfCombat: opts.ResetOutOfCombat,
	})
	return &Agent{
		source:   opts.Source,
		cache:    cache,
		engine:   engine,
		entry:    entry,
		commands: command.NewHandler(engine, logger),
		logger:   logger.With(zap.String("component", "agent")),
	}
}

// Start seeds the cache, subscribes the engine to the tick after the cache,
// hooks up entry clicks and applies once. Calling Start twice does nothing.
func (a *Agent) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return
	}
	a.cache.Start()
	a.unsubscribe = a.source.Subscribe(a.onTick)
	a.entry.OnClick(a.onClick)
	a.started = true
	if err := a.engine.ApplyAndRefresh(); err != nil {
		a.logger.Warn("initial apply", zap.Error(err))
	}
	a.logger.Info("agent started", zap.Bool("enabled", a.engine.Settings().Enabled))
}

// Stop detaches from the tick, restores the user's cap and stops the cache.
// ctx bounds the wait for the restore to reach the host. Safe to call on an
// agent that was never started.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started {
		return nil
	}
	if a.unsubscribe != nil {
		a.unsubscribe()
		a.unsubscribe = nil
	}
	a.entry.OnClick(nil)
	err := a.engine.Restore(ctx)
	a.cache.Stop()
	a.started = false
	if err != nil {
		a.logger.Warn("restore on stop", zap.Error(err))
		return fmt.Errorf("agent: stop: %w", err)
	}
	a.logger.Info("agent stopped")
	return nil
}

// Engine returns the cap engine.
func (a *Agent) Engine() *policy.Engine { return a.engine }

// Cache returns the snapshot cache the engine reads.
func (a *Agent) Cache() *state.Cache { return a.cache }

// Entry returns the status entry. Stop detaches its click handler.
func (a *Agent) Entry() *status.Entry { return a.entry }

// Commands returns the text command handler bound to the engine.
func (a *Agent) Commands() *command.Handler { return a.commands }

func (a *Agent) onTick() {
	if err := a.engine.ApplyAndRefresh(); err != nil {
		a.logger.Warn("tick apply", zap.Error(err))
	}
}

func (a *Agent) onClick(c status.Click) {
	if err := a.engine.OnEntryClick(c); err != nil {
		a.logger.Warn("entry click", zap.Stringer("button", c), zap.Error(err))
	}
}
