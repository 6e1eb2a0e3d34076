package state

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// SnapshotObserver is told about every newly published snapshot.
type SnapshotObserver interface {
	ObserveSnapshot(snap Snapshot, stamp uint64)
}

type published struct {
	snap  Snapshot
	stamp uint64
}

// Cache samples a Source once per tick and serves the latest snapshot to any
// number of readers without touching the host. The snapshot and its change
// stamp are swapped in together, so a reader never sees a torn value.
type Cache struct {
	src      Source
	logger   *zap.Logger
	observer SnapshotObserver

	cur atomic.Pointer[published]

	mu          sync.Mutex // serializes sampling and lifecycle
	started     bool
	unsubscribe func()
}

// NewCache creates a cache over src. observer may be nil.
func NewCache(src Source, logger *zap.Logger, observer SnapshotObserver) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		src:      src,
		logger:   logger.With(zap.String("component", "state_cache")),
		observer: observer,
	}
	c.cur.Store(&published{})
	return c
}

// Start takes one sample immediately and subscribes to the host tick.
// Calling Start on a started cache does nothing.
func (c *Cache) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.sampleLocked()
	c.unsubscribe = c.src.Subscribe(c.onTick)
	c.started = true
}

// Stop removes the tick subscription. Safe on a cache that was never started.
func (c *Cache) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.started = false
}

// Current returns the most recently published snapshot.
func (c *Cache) Current() Snapshot {
	return c.cur.Load().snap
}

// Get returns the current snapshot with its change stamp.
// The stamp increases by one on every publish and is 0 before the first sample.
func (c *Cache) Get() (Snapshot, uint64) {
	p := c.cur.Load()
	return p.snap, p.stamp
}

// Stamp returns the current change stamp.
func (c *Cache) Stamp() uint64 {
	return c.cur.Load().stamp
}

// Sample queries the host once and publishes a new snapshot if anything
// changed. It reports whether a publish happened.
func (c *Cache) Sample() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleLocked()
}

func (c *Cache) onTick() {
	c.Sample()
}

func (c *Cache) sampleLocked() bool {
	next := c.query()
	prev := c.cur.Load()
	if prev.stamp != 0 && prev.snap == next {
		return false
	}
	p := &published{snap: next, stamp: prev.stamp + 1}
	c.cur.Store(p)
	if c.observer != nil {
		c.observer.ObserveSnapshot(p.snap, p.stamp)
	}
	return true
}

// query reads every field from the host, substituting false/0 for anything
// the host cannot supply.
func (c *Cache) query() Snapshot {
	var s Snapshot
	loggedIn, err := c.src.LoggedIn()
	if err != nil {
		c.logger.Debug("logged-in query failed", zap.Error(err))
	}
	s.LoggedIn = err == nil && loggedIn
	if s.LoggedIn {
		inCombat, err := c.src.InCombat()
		if err != nil {
			c.logger.Debug("combat query failed", zap.Error(err))
		}
		s.InCombat = err == nil && inCombat
	}
	if v, err := c.src.Cap(); err == nil {
		s.CurrentCap = v
	} else {
		c.logger.Debug("cap query failed", zap.Error(err))
	}
	if v, err := c.src.RefreshRateHz(); err == nil {
		s.RefreshHz = v
	} else {
		c.logger.Debug("refresh rate query failed", zap.Error(err))
	}
	return s
}
