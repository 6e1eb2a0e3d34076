// Package status renders the cap status line and tooltip and provides the
// surfaces they are pushed to.
package status

import (
	"strconv"

	"github.com/mg7d/adaptivefps/internal/settings"
	"github.com/mg7d/adaptivefps/internal/state"
)

const (
	offText     = "Off"
	separator   = " | "
	tooltipBase = "Left-click cycles in combat and right-click cycles out of combat framerate."
)

// Display is the rendered status text and tooltip.
type Display struct {
	Text    string `json:"text"`
	Tooltip string `json:"tooltip"`
}

// FormatCap renders a raw host cap value. Tier values get friendly names;
// anything else is printed as a number.
func FormatCap(raw, refreshHz uint) string {
	switch settings.Tier(raw) {
	case settings.TierMainRefresh:
		if refreshHz > 0 {
			return strconv.FormatUint(uint64(refreshHz), 10) + " (main)"
		}
		return "main"
	case settings.TierSixty:
		return "60"
	case settings.TierThirty:
		return "30"
	}
	return strconv.FormatUint(uint64(raw), 10)
}

// Render builds the display for cfg and snap. The side matching the current
// combat state is wrapped in brackets.
func Render(cfg settings.Settings, snap state.Snapshot) Display {
	return Display{Text: renderText(cfg, snap), Tooltip: Tooltip(snap.RefreshHz)}
}

func renderText(cfg settings.Settings, snap state.Snapshot) string {
	if !cfg.Enabled {
		return offText
	}
	combat := FormatCap(cfg.CombatCap.Raw(), snap.RefreshHz)
	ooc := FormatCap(cfg.OutOfCombatCap.Raw(), snap.RefreshHz)
	if snap.InCombat {
		combat = "[" + combat + "]"
	} else {
		ooc = "[" + ooc + "]"
	}
	return combat + separator + ooc
}

// Tooltip returns the usage hint, with the main display rate when known.
func Tooltip(refreshHz uint) string {
	if refreshHz == 0 {
		return tooltipBase
	}
	return tooltipBase + "\n\nCurrent Main: " + strconv.FormatUint(uint64(refreshHz), 10) + " Hz"
}
