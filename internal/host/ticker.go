// Package host adapts the game client into the state.Source and cap-writer
// contracts the engine works against.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ticker is the single timing source. Subscribers run synchronously on the
// ticking goroutine, in the order they subscribed.
type Ticker struct {
	clock    clockwork.Clock
	interval time.Duration

	mu     sync.Mutex
	nextID int
	subs   []subscriber

	tickMu sync.Mutex // one tick at a time
}

type subscriber struct {
	id int
	fn func()
}

// NewTicker creates a ticker firing every interval on clock.
func NewTicker(clock clockwork.Clock, interval time.Duration) *Ticker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	return &Ticker{clock: clock, interval: interval}
}

// Subscribe registers fn for every tick and returns its removal function.
func (t *Ticker) Subscribe(fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber{id: id, fn: fn})
	var once sync.Once
	return func() {
		once.Do(func() { t.unsubscribe(id) })
	}
}

func (t *Ticker) unsubscribe(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, s := range t.subs {
		if s.id == id {
			t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
			return
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (t *Ticker) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Tick fires every subscriber once. Run calls it on each interval; tests
// may call it directly.
func (t *Ticker) Tick() {
	t.tickMu.Lock()
	defer t.tickMu.Unlock()
	t.mu.Lock()
	subs := make([]subscriber, len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()
	for _, s := range subs {
		s.fn()
	}
}

// Run ticks until ctx is cancelled.
func (t *Ticker) Run(ctx context.Context) {
	tk := t.clock.NewTicker(t.interval)
	defer tk.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.Chan():
			t.Tick()
		}
	}
}
