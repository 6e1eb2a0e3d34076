// Package logtail follows the game client's log file and emits complete lines.
package logtail

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Options configures the tailer.
type Options struct {
	PollInterval  time.Duration // re-check interval when no fs events arrive; default 1s
	MaxLineBytes  int           // longer lines are split; default 64k
	FromBeginning bool          // read the first file from offset 0 instead of its end
	ReopenMax     time.Duration // cap on the reopen backoff; default 5s
	Logger        *zap.Logger
}

const (
	defaultPollInterval = time.Second
	defaultMaxLineBytes = 64 * 1024
	defaultReopenMax    = 5 * time.Second
)

// errRotated ends one follow pass so the file is reopened from the start.
var errRotated = errors.New("logtail: file rotated")

// Tailer follows a log file across copytruncate and rename+recreate rotation
// and emits complete lines on a channel.
type Tailer struct {
	path    string
	opts    Options
	logger  *zap.Logger
	linesCh chan string

	mu     sync.Mutex
	closed bool
	opened bool
}

// NewTailer creates a tailer for path. Lines() must be consumed to avoid blocking.
func NewTailer(path string, opts Options) (*Tailer, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.MaxLineBytes <= 0 {
		opts.MaxLineBytes = defaultMaxLineBytes
	}
	if opts.ReopenMax <= 0 {
		opts.ReopenMax = defaultReopenMax
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return &Tailer{
		path:    abs,
		opts:    opts,
		logger:  logger.With(zap.String("component", "logtail"), zap.String("path", abs)),
		linesCh: make(chan string, 256),
	}, nil
}

// Lines returns the channel of complete log lines. It is closed when Run returns.
func (t *Tailer) Lines() <-chan string {
	return t.linesCh
}

// Run follows the file until ctx is cancelled. A missing file is retried
// with exponential backoff.
func (t *Tailer) Run(ctx context.Context) error {
	defer t.close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(t.path)); err != nil {
		return err
	}

	poll := time.NewTicker(t.opts.PollInterval)
	defer poll.Stop()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = t.opts.ReopenMax

	for {
		err := t.follow(ctx, watcher, poll.C, bo)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errRotated) {
			t.logger.Info("log rotated, reopening")
			continue
		}
		wait := bo.NextBackOff()
		t.logger.Debug("log unavailable", zap.Duration("retry_in", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (t *Tailer) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.linesCh)
	}
}

// follow reads one incarnation of the file until it rotates, disappears or
// ctx ends.
func (t *Tailer) follow(ctx context.Context, watcher *fsnotify.Watcher, poll <-chan time.Time, bo *backoff.ExponentialBackOff) error {
	// Only the file present at startup is skipped to its end; anything
	// opened later is new content.
	first := !t.opened
	t.opened = true
	f, err := os.Open(t.path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	var offset int64
	if first && !t.opts.FromBeginning {
		offset = info.Size()
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	bo.Reset()

	reader := bufio.NewReaderSize(f, 32*1024)
	buf := make([]byte, 4096)
	var partial []byte

	for {
		for {
			n, err := reader.Read(buf)
			offset += int64(n)
			if n > 0 {
				var emitErr error
				partial = append(partial, buf[:n]...)
				if partial, emitErr = t.emit(ctx, partial); emitErr != nil {
					return emitErr
				}
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
		}

		cur, err := os.Stat(t.path)
		if err != nil {
			return err
		}
		if !os.SameFile(info, cur) || cur.Size() < offset {
			return errRotated
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-watcher.Events:
			if filepath.Clean(ev.Name) == t.path && ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return errRotated
			}
		case werr := <-watcher.Errors:
			t.logger.Debug("watcher error", zap.Error(werr))
		case <-poll:
		}
	}
}

// emit sends every complete line in partial and returns the remainder.
func (t *Tailer) emit(ctx context.Context, partial []byte) ([]byte, error) {
	for {
		idx := bytes.IndexByte(partial, '\n')
		var line []byte
		switch {
		case idx >= 0:
			line = bytes.TrimSuffix(partial[:idx], []byte{'\r'})
			partial = partial[idx+1:]
			if len(line) > t.opts.MaxLineBytes {
				line = line[:t.opts.MaxLineBytes]
			}
		case len(partial) > t.opts.MaxLineBytes:
			line = partial[:t.opts.MaxLineBytes]
			partial = partial[t.opts.MaxLineBytes:]
		default:
			return partial, nil
		}
		select {
		case t.linesCh <- string(line):
		case <-ctx.Done():
			return partial, ctx.Err()
		}
	}
}
