package status

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// Surface receives rendered status strings.
type Surface interface {
	SetText(text string)
	SetTooltip(tooltip string)
}

// Click identifies which button was used on the status entry.
type Click int

const (
	ClickPrimary Click = iota
	ClickSecondary
)

func (c Click) String() string {
	if c == ClickSecondary {
		return "secondary"
	}
	return "primary"
}

// ParseClick accepts "primary"/"left" and "secondary"/"right".
func ParseClick(s string) (Click, error) {
	switch s {
	case "", "primary", "left":
		return ClickPrimary, nil
	case "secondary", "right":
		return ClickSecondary, nil
	}
	return 0, fmt.Errorf("status: unknown click %q", s)
}

// Entry is an in-memory status entry with a click handler.
type Entry struct {
	name string

	mu      sync.RWMutex
	text    string
	tooltip string
	updates uint64
	onClick func(Click)
}

// NewEntry creates an empty entry.
func NewEntry(name string) *Entry {
	return &Entry{name: name}
}

// Name returns the entry's label.
func (e *Entry) Name() string { return e.name }

func (e *Entry) SetText(text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = text
	e.updates++
}

func (e *Entry) SetTooltip(tooltip string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tooltip = tooltip
	e.updates++
}

// Display returns the current text and tooltip.
func (e *Entry) Display() Display {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Display{Text: e.text, Tooltip: e.tooltip}
}

// Updates counts SetText and SetTooltip calls.
func (e *Entry) Updates() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.updates
}

// OnClick installs the click handler, replacing any previous one.
func (e *Entry) OnClick(fn func(Click)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClick = fn
}

// Click delivers a click to the handler. It reports false when none is set.
func (e *Entry) Click(c Click) bool {
	e.mu.RLock()
	fn := e.onClick
	e.mu.RUnlock()
	if fn == nil {
		return false
	}
	fn(c)
	return true
}

// FileSink mirrors the status as a small JSON document for overlays that
// poll a file.
type FileSink struct {
	path   string
	logger *zap.Logger

	mu  sync.Mutex
	cur Display
}

// NewFileSink writes to path. logger may be nil.
func NewFileSink(path string, logger *zap.Logger) *FileSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{path: path, logger: logger.With(zap.String("component", "status_file"))}
}

func (f *FileSink) SetText(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur.Text = text
	f.flushLocked()
}

func (f *FileSink) SetTooltip(tooltip string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur.Tooltip = tooltip
	f.flushLocked()
}

func (f *FileSink) flushLocked() {
	if err := f.write(f.cur); err != nil {
		f.logger.Warn("status file write failed", zap.String("path", f.path), zap.Error(err))
	}
}

func (f *FileSink) write(d Display) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

// ReadFile loads a document written by FileSink.
func ReadFile(path string) (Display, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Display{}, err
	}
	var d Display
	if err := json.Unmarshal(data, &d); err != nil {
		return Display{}, errors.Join(fmt.Errorf("status: decode %s", path), err)
	}
	return d, nil
}

type multi []Surface

// Multi fans every update out to each non-nil surface.
func Multi(surfaces ...Surface) Surface {
	var m multi
	for _, s := range surfaces {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multi) SetText(text string) {
	for _, s := range m {
		s.SetText(text)
	}
}

func (m multi) SetTooltip(tooltip string) {
	for _, s := range m {
		s.SetTooltip(tooltip)
	}
}
