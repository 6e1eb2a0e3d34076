package host

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mg7d/adaptivefps/internal/actions"
	"github.com/mg7d/adaptivefps/internal/parser"
	"github.com/mg7d/adaptivefps/internal/state"
)

// Enqueuer accepts cap writes without blocking. Deliver is the blocking
// form that reports whether the write was sent.
type Enqueuer interface {
	Enqueue(action actions.Action) error
	Deliver(ctx context.Context, action actions.Action) error
}

// LogHostOptions configures a LogHost.
type LogHostOptions struct {
	Clock      clockwork.Clock
	StaleAfter time.Duration // observations older than this read as unavailable; 0 disables
	Logger     *zap.Logger
}

// LogHost is the game client as seen through its status log and console.
// Reads come from the latest parsed "State:" line; writes are queued for
// the console applier.
type LogHost struct {
	ticker     *Ticker
	writer     Enqueuer
	clock      clockwork.Clock
	staleAfter time.Duration
	logger     *zap.Logger

	latest atomic.Pointer[state.Observation]
}

// NewLogHost creates a host whose tick notifications come from ticker.
// writer may be nil for a read-only host.
func NewLogHost(ticker *Ticker, writer Enqueuer, opts LogHostOptions) *LogHost {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &LogHost{
		ticker:     ticker,
		writer:     writer,
		clock:      opts.Clock,
		staleAfter: opts.StaleAfter,
		logger:     opts.Logger.With(zap.String("component", "log_host")),
	}
}

// Observe records obs as the latest host state.
func (h *LogHost) Observe(obs state.Observation) {
	h.latest.Store(&obs)
}

// Consume parses lines until the channel closes or ctx ends.
func (h *LogHost) Consume(ctx context.Context, lines <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			obs, ok, err := parser.ParseStatusLine(line, h.clock.Now())
			if err != nil {
				h.logger.Debug("status line parse error", zap.String("line", line), zap.Error(err))
				continue
			}
			if ok {
				h.Observe(obs)
			}
		}
	}
}

func (h *LogHost) fresh() (state.Observation, error) {
	obs := h.latest.Load()
	if obs == nil {
		return state.Observation{}, state.ErrUnavailable
	}
	if h.staleAfter > 0 && h.clock.Since(obs.At) > h.staleAfter {
		return state.Observation{}, state.ErrUnavailable
	}
	return *obs, nil
}

func (h *LogHost) LoggedIn() (bool, error) {
	obs, err := h.fresh()
	return obs.LoggedIn, err
}

func (h *LogHost) InCombat() (bool, error) {
	obs, err := h.fresh()
	return obs.InCombat, err
}

func (h *LogHost) Cap() (uint, error) {
	obs, err := h.fresh()
	return obs.CurrentCap, err
}

func (h *LogHost) RefreshRateHz() (uint, error) {
	obs, err := h.fresh()
	return obs.RefreshHz, err
}

// Subscribe registers fn with the host tick.
func (h *LogHost) Subscribe(fn func()) func() {
	return h.ticker.Subscribe(fn)
}

// SetCap queues an override write.
func (h *LogHost) SetCap(value uint) error {
	return h.enqueue(actions.NewSetCap(h.clock.Now(), "override", value))
}

// RestoreCap queues a write of the user's own cap.
func (h *LogHost) RestoreCap(value uint) error {
	return h.enqueue(actions.NewRestoreCap(h.clock.Now(), "restore", value))
}

// DeliverCap writes the user's own cap and waits until the console accepted
// it or ctx ends.
func (h *LogHost) DeliverCap(ctx context.Context, value uint) error {
	if h.writer == nil {
		return state.ErrUnavailable
	}
	return h.writer.Deliver(ctx, actions.NewRestoreCap(h.clock.Now(), "restore", value))
}

func (h *LogHost) enqueue(a actions.Action) error {
	if h.writer == nil {
		return state.ErrUnavailable
	}
	return h.writer.Enqueue(a)
}
