package telnet

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("telnet: client closed")

// ErrQueueFull is returned by Send when the command queue has no room.
var ErrQueueFull = errors.New("telnet: command queue full")

// Config holds console connection and safety settings.
type Config struct {
	Host               string
	Port               int
	Password           string
	RateLimitPerSec    float64
	CommandTimeout     time.Duration
	ReconnectMin       time.Duration
	ReconnectMax       time.Duration
	CircuitBreakAfter  int // consecutive send failures before the breaker opens
	CircuitBreakWindow time.Duration
}

const (
	DefaultCommandTimeout     = 10 * time.Second
	DefaultReconnectMin       = 2 * time.Second
	DefaultReconnectMax       = 60 * time.Second
	DefaultCircuitBreakAfter  = 3
	DefaultCircuitBreakWindow = 30 * time.Second
)

// Client keeps one persistent console connection with rate limiting,
// reconnect backoff and a circuit breaker around writes.
type Client struct {
	cfg     Config
	addr    string
	logger  *zap.Logger
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker

	mu     sync.Mutex
	conn   net.Conn
	closed bool

	commands chan commandReq
	done     chan struct{}
	doneOnce sync.Once
}

type commandReq struct {
	cmd    Command
	result chan error
}

// NewClient creates a client. Call Run to connect and start sending.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.RateLimitPerSec <= 0 {
		cfg.RateLimitPerSec = 2.0
	}
	if cfg.CommandTimeout == 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.ReconnectMin == 0 {
		cfg.ReconnectMin = DefaultReconnectMin
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.CircuitBreakAfter <= 0 {
		cfg.CircuitBreakAfter = DefaultCircuitBreakAfter
	}
	if cfg.CircuitBreakWindow == 0 {
		cfg.CircuitBreakWindow = DefaultCircuitBreakWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "telnet"))
	addr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port))
	trips := uint32(cfg.CircuitBreakAfter)
	return &Client{
		cfg:     cfg,
		addr:    addr,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "telnet-" + addr,
			MaxRequests: 1,
			Timeout:     cfg.CircuitBreakWindow,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trips
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		}),
		commands: make(chan commandReq, 64),
		done:     make(chan struct{}),
	}
}

// Send enqueues cmd and waits until it was written, failed, or ctx ended.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()
	req := commandReq{cmd: cmd, result: make(chan error, 1)}
	select {
	case c.commands <- req:
	default:
		return ErrQueueFull
	}
	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BreakerState reports the write circuit breaker state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// Run keeps the connection up and drains the command queue until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	defer c.doneOnce.Do(func() { close(c.done) })

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.ReconnectMin
	bo.MaxInterval = c.cfg.ReconnectMax

	for {
		if ctx.Err() != nil {
			c.closeConn()
			return
		}
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			wait := bo.NextBackOff()
			c.logger.Debug("connect failed", zap.String("addr", c.addr), zap.Duration("retry_in", wait), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		bo.Reset()

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.logger.Info("console connected", zap.String("addr", c.addr))

		if c.cfg.Password != "" {
			_ = c.writeLine(conn, Authenticate(c.cfg.Password).Raw)
		}
		go c.drain(conn)

		c.sendLoop(ctx, conn)
		c.closeConn()
	}
}

func (c *Client) connect(ctx context.Context) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.cfg.CommandTimeout}
	return dialer.DialContext(ctx, "tcp", c.addr)
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// drain discards console output so the server never blocks on us.
func (c *Client) drain(conn net.Conn) {
	r := bufio.NewReader(conn)
	buf := make([]byte, 4096)
	for {
		if _, err := r.Read(buf); err != nil {
			return
		}
	}
}

func (c *Client) sendLoop(ctx context.Context, conn net.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-c.commands:
			if err := c.limiter.Wait(ctx); err != nil {
				req.result <- err
				return
			}
			_, err := c.breaker.Execute(func() (interface{}, error) {
				return nil, c.writeLine(conn, req.cmd.Raw)
			})
			req.result <- err
			if err != nil && !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
				c.logger.Warn("console write failed, reconnecting", zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) writeLine(conn net.Conn, line string) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.cfg.CommandTimeout)); err != nil {
		return err
	}
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

// Close marks the client closed and waits for Run to return. Cancel the
// context passed to Run first.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	<-c.done
}
