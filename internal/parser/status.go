package parser

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mg7d/adaptivefps/internal/state"
)

const statusMarker = "State:"

// ParseStatusLine parses a client "State:" line such as
//
//	State: LoggedIn: 1 Combat: 0 Fps: 2 Refresh: 144
//
// Anything before the marker (timestamps, log level) is ignored.
// Returns (obs, true, nil) for a status line, (zero, false, nil) for any other
// line and (zero, false, err) when a status line carries a malformed value.
// Missing keys leave their field at the zero value, which callers read as unknown.
func ParseStatusLine(line string, now time.Time) (state.Observation, bool, error) {
	idx := strings.Index(line, statusMarker)
	if idx < 0 {
		return state.Observation{}, false, nil
	}
	obs := state.Observation{At: now}
	for key, val := range parseKeyValuePairs(line[idx+len(statusMarker):]) {
		var err error
		switch strings.ToLower(key) {
		case "loggedin", "login":
			obs.LoggedIn, err = parseFlag(val)
		case "combat", "incombat":
			obs.InCombat, err = parseFlag(val)
		case "fps", "cap":
			obs.CurrentCap, err = parseUint(val)
		case "refresh", "refreshrate", "hz":
			obs.RefreshHz, err = parseUint(strings.TrimSuffix(strings.ToLower(val), "hz"))
		}
		if err != nil {
			return state.Observation{}, false, fmt.Errorf("parse status %s: %w", key, err)
		}
	}
	if !obs.LoggedIn {
		obs.InCombat = false
	}
	return obs, true, nil
}

// parseKeyValuePairs splits "Key1: v1 Key2: v2". Values may contain spaces;
// a value runs until the next "Word:" token.
func parseKeyValuePairs(s string) map[string]string {
	out := make(map[string]string)
	var key string
	var val []string
	flush := func() {
		if key != "" {
			out[key] = strings.Join(val, " ")
		}
	}
	for _, tok := range strings.Fields(s) {
		if strings.HasSuffix(tok, ":") && len(tok) > 1 {
			flush()
			key = strings.TrimSuffix(tok, ":")
			val = val[:0]
			continue
		}
		if key != "" {
			val = append(val, tok)
		}
	}
	flush()
	return out
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("bad flag %q", s)
}

func parseUint(s string) (uint, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return uint(n), nil
}
