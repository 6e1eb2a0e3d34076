package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/mg7d/adaptivefps/internal/state"
	"github.com/mg7d/adaptivefps/internal/telnet"
)

// ErrQueueFull is returned by Enqueue when the bounded queue has no room.
var ErrQueueFull = errors.New("applier: queue full")

// Sender delivers one console command.
type Sender interface {
	Send(ctx context.Context, cmd telnet.Command) error
}

// Options configures an Applier.
type Options struct {
	QueueSize int
	Option    string // host config option holding the cap; default "Fps"
	Clock     clockwork.Clock
	Logger    *zap.Logger
}

// Applier sends queued cap writes to the host console in order. The queue is
// bounded; Enqueue never blocks and drops with an audit record when full.
type Applier struct {
	sender Sender
	audit  *state.AuditRing
	option string
	clock  clockwork.Clock
	logger *zap.Logger
	queue  chan queued

	mu      sync.Mutex
	running bool
}

// NewApplier creates an applier writing through sender.
func NewApplier(sender Sender, audit *state.AuditRing, opts Options) *Applier {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	if opts.Option == "" {
		opts.Option = "Fps"
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Applier{
		sender: sender,
		audit:  audit,
		option: opts.Option,
		clock:  opts.Clock,
		logger: opts.Logger.With(zap.String("component", "applier")),
		queue:  make(chan queued, opts.QueueSize),
	}
}

// queued is one queue entry. done, when set, receives the send result.
type queued struct {
	action Action
	done   chan error
}

// Enqueue adds an action without blocking.
func (a *Applier) Enqueue(action Action) error {
	return a.push(queued{action: action})
}

// Deliver queues action like Enqueue and waits until it has been sent. It
// returns the send error, or ctx's error if the send has not finished in
// time. Run must be running for the action to be sent.
func (a *Applier) Deliver(ctx context.Context, action Action) error {
	done := make(chan error, 1)
	if err := a.push(queued{action: action, done: done}); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("deliver %s: %w", action.ID(), ctx.Err())
	}
}

func (a *Applier) push(q queued) error {
	select {
	case a.queue <- q:
		a.audit.Append(a.event(q.action, "queued", nil))
		return nil
	default:
		a.audit.Append(a.event(q.action, "dropped", ErrQueueFull))
		return ErrQueueFull
	}
}

// Run processes the queue until ctx is cancelled. A second concurrent Run
// returns immediately.
func (a *Applier) Run(ctx context.Context) {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.running = false
		a.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case q := <-a.queue:
			err := a.applyOne(ctx, q.action)
			if q.done != nil {
				q.done <- err
			}
		}
	}
}

func (a *Applier) applyOne(ctx context.Context, action Action) error {
	a.audit.Append(a.event(action, "sent", nil))
	var err error
	switch act := action.(type) {
	case *SetCap, *RestoreCap:
		err = a.sender.Send(ctx, telnet.SetConfig(a.option, act.Value()))
	default:
		err = fmt.Errorf("unknown action type: %T", action)
	}
	if err != nil {
		a.logger.Warn("cap write failed", zap.String("action_id", action.ID()), zap.Uint("cap", action.Value()), zap.Error(err))
		a.audit.Append(a.event(action, "failure", err))
		return err
	}
	a.audit.Append(a.event(action, "success", nil))
	return nil
}

func (a *Applier) event(action Action, status string, err error) state.AuditEvent {
	ev := state.AuditEvent{
		ActionID:   action.ID(),
		ActionType: action.Type(),
		Value:      action.Value(),
		Status:     status,
		At:         a.clock.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
