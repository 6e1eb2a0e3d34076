// Package command implements the /afps text command surface.
package command

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mg7d/adaptivefps/internal/policy"
	"github.com/mg7d/adaptivefps/internal/settings"
	"github.com/mg7d/adaptivefps/internal/status"
)

const (
	Name           = "/afps"
	Help           = "AdaptiveFPS: /afps ic|ooc 1|2|3, /afps toggle"
	UsageIC        = "Usage: /afps ic 1|2|3"
	UsageOOC       = "Usage: /afps ooc 1|2|3"
	UnknownCommand = "AdaptiveFPS: Unknown command. Use /afps for help."
)

// Engine is the part of policy.Engine the command surface drives.
type Engine interface {
	SetCombatCap(t settings.Tier) error
	SetOutOfCombatCap(t settings.Tier) error
	ToggleEnabled() (bool, error)
	Reset() error
	Settings() settings.Settings
	Decision() policy.Decision
}

// Handler parses command arguments and prints the replies a chat window
// would show.
type Handler struct {
	engine Engine
	logger *zap.Logger
}

func NewHandler(engine Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger.With(zap.String("component", "command"))}
}

// Run executes one command line (without the /afps prefix) and returns the
// printed lines. The error is non-nil only when persisting a change failed;
// the change is still in effect.
func (h *Handler) Run(args string) ([]string, error) {
	tokens := strings.Fields(args)
	if len(tokens) == 0 {
		return h.statusLines(), nil
	}

	switch strings.ToLower(tokens[0]) {
	case "ic", "incombat":
		return h.setTier(tokens, UsageIC, "Combat", h.engine.SetCombatCap)
	case "ooc", "outofcombat":
		return h.setTier(tokens, UsageOOC, "OOC", h.engine.SetOutOfCombatCap)
	case "toggle":
		enabled, err := h.engine.ToggleEnabled()
		word := "disabled"
		if enabled {
			word = "enabled"
		}
		return []string{"AdaptiveFPS: " + word}, h.logged("toggle", err)
	case "debug":
		return []string{h.debugLine()}, nil
	case "reset":
		err := h.engine.Reset()
		cfg := h.engine.Settings()
		hz := h.engine.Decision().Snapshot.RefreshHz
		line := fmt.Sprintf("AdaptiveFPS: Reset to defaults - Combat: %s, OOC: %s",
			status.FormatCap(cfg.CombatCap.Raw(), hz), status.FormatCap(cfg.OutOfCombatCap.Raw(), hz))
		return []string{line}, h.logged("reset", err)
	default:
		return []string{UnknownCommand}, nil
	}
}

func (h *Handler) setTier(tokens []string, usage, label string, set func(settings.Tier) error) ([]string, error) {
	if len(tokens) < 2 {
		return []string{usage}, nil
	}
	tier, err := settings.ParseTier(tokens[1])
	if err != nil {
		return []string{usage}, nil
	}
	err = set(tier)
	if errors.Is(err, settings.ErrInvalidTier) {
		return []string{usage}, nil
	}
	hz := h.engine.Decision().Snapshot.RefreshHz
	line := fmt.Sprintf("AdaptiveFPS: %s cap set to %s", label, status.FormatCap(tier.Raw(), hz))
	return []string{line}, h.logged(strings.ToLower(label), err)
}

func (h *Handler) statusLines() []string {
	cfg := h.engine.Settings()
	hz := h.engine.Decision().Snapshot.RefreshHz
	enabled := "off"
	if cfg.Enabled {
		enabled = "on"
	}
	return []string{
		fmt.Sprintf("AdaptiveFPS: IC=%s, OOC=%s, Enabled=%s",
			status.FormatCap(cfg.CombatCap.Raw(), hz), status.FormatCap(cfg.OutOfCombatCap.Raw(), hz), enabled),
		Help,
	}
}

func (h *Handler) debugLine() string {
	d := h.engine.Decision()
	side := "Out of Combat"
	if d.Snapshot.InCombat {
		side = "Combat"
	}
	hz := d.Snapshot.RefreshHz
	line := fmt.Sprintf("AdaptiveFPS: %s | Current: %s | Target: %s",
		side, status.FormatCap(d.Snapshot.CurrentCap, hz), status.FormatCap(d.Desired.Raw(), hz))
	if !d.Applicable {
		line += " (idle)"
	}
	if d.OverrideActive && d.LastUserCap != nil {
		line += fmt.Sprintf(" | Restores: %s", status.FormatCap(*d.LastUserCap, hz))
	}
	return line
}

func (h *Handler) logged(verb string, err error) error {
	if err != nil {
		h.logger.Warn("command change not persisted", zap.String("verb", verb), zap.Error(err))
	}
	return err
}
