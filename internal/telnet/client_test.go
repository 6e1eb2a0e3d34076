package telnet

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("no listener:", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestSetConfigCommand(t *testing.T) {
	assert.Equal(t, "setcfg Fps 2", SetConfig("Fps", 2).Raw)
}

func TestClient_SendsLines(t *testing.T) {
	ln, port := listen(t)
	lines := make(chan string, 8)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		sc := bufio.NewScanner(conn)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	client := NewClient(Config{
		Host:            "127.0.0.1",
		Port:            port,
		Password:        "secret",
		RateLimitPerSec: 50,
		CommandTimeout:  time.Second,
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	sendCtx, sendCancel := context.WithTimeout(ctx, 2*time.Second)
	defer sendCancel()
	require.NoError(t, client.Send(sendCtx, SetConfig("Fps", 3)))

	var got []string
	for len(got) < 2 {
		select {
		case l := <-lines:
			got = append(got, l)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout, got %v", got)
		}
	}
	assert.Equal(t, []string{"secret\r", "setcfg Fps 3\r"}, got)
}

func TestClient_RateLimit(t *testing.T) {
	ln, port := listen(t)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				_, _ = bufio.NewReader(conn).WriteTo(discard{})
			}()
		}
	}()

	client := NewClient(Config{Host: "127.0.0.1", Port: port, RateLimitPerSec: 4, CommandTimeout: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Run(ctx)

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Send(ctx, Command{Raw: "test"}))
	}
	// burst 1 at 4/sec: the 2nd and 3rd sends each wait ~250ms.
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestClient_ReconnectBackoffStopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ln, port := listen(t)
	_ = ln.Close() // nothing listening

	client := NewClient(Config{
		Host:            "127.0.0.1",
		Port:            port,
		RateLimitPerSec: 10,
		ReconnectMin:    20 * time.Millisecond,
		ReconnectMax:    50 * time.Millisecond,
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		client.Run(ctx)
	}()
	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()
	client.Close()

	assert.ErrorIs(t, client.Send(context.Background(), Command{Raw: "x"}), ErrClosed)
}

// deadConn is a console connection whose far end is already gone.
func deadConn(t *testing.T) net.Conn {
	t.Helper()
	local, remote := net.Pipe()
	require.NoError(t, remote.Close())
	t.Cleanup(func() { _ = local.Close() })
	return local
}

func TestClient_BreakerOpensAfterFailedWrites(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	client := NewClient(Config{
		RateLimitPerSec:    1000,
		CommandTimeout:     time.Second,
		CircuitBreakAfter:  2,
		CircuitBreakWindow: time.Minute,
	}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A failed write ends the send loop so Run can reconnect.
	for i := 0; i < 2; i++ {
		assert.Equal(t, gobreaker.StateClosed, client.BreakerState())
		req := commandReq{cmd: SetConfig("Fps", 2), result: make(chan error, 1)}
		client.commands <- req
		client.sendLoop(ctx, deadConn(t))
		assert.ErrorIs(t, <-req.result, io.ErrClosedPipe)
	}
	assert.Equal(t, gobreaker.StateOpen, client.BreakerState())

	// While open, commands fail fast without touching the connection and
	// the loop keeps running.
	loopCtx, stopLoop := context.WithCancel(ctx)
	conn := deadConn(t)
	done := make(chan struct{})
	go func() {
		client.sendLoop(loopCtx, conn)
		close(done)
	}()
	sendCtx, cancelSend := context.WithTimeout(ctx, 2*time.Second)
	defer cancelSend()
	assert.ErrorIs(t, client.Send(sendCtx, SetConfig("Fps", 3)), gobreaker.ErrOpenState)
	stopLoop()
	<-done
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
