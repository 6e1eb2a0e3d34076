package settings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidTier is returned for any cap tier outside the three known values.
var ErrInvalidTier = errors.New("settings: invalid cap tier")

// Tier is one of the three selectable cap targets. The numeric value is the
// raw encoding the host uses for its frame-rate cap option.
type Tier uint

const (
	TierMainRefresh Tier = 1 // follow the display refresh rate
	TierSixty       Tier = 2
	TierThirty      Tier = 3
)

// Valid reports whether t is one of the known tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierMainRefresh, TierSixty, TierThirty:
		return true
	}
	return false
}

// Next returns the tier after t in the cycle MainRefresh -> Sixty -> Thirty -> MainRefresh.
// Unknown values restart the cycle at MainRefresh.
func (t Tier) Next() Tier {
	switch t {
	case TierMainRefresh:
		return TierSixty
	case TierSixty:
		return TierThirty
	default:
		return TierMainRefresh
	}
}

// Raw returns the host encoding of t.
func (t Tier) Raw() uint { return uint(t) }

func (t Tier) String() string {
	switch t {
	case TierMainRefresh:
		return "main"
	case TierSixty:
		return "60"
	case TierThirty:
		return "30"
	}
	return fmt.Sprintf("Tier(%d)", uint(t))
}

// ParseTier accepts the boundary encoding "1", "2" or "3".
func ParseTier(s string) (Tier, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
	return TierFromUint(uint(n))
}

// TierFromUint validates a raw stored value.
func TierFromUint(n uint) (Tier, error) {
	t := Tier(n)
	if !t.Valid() {
		return 0, fmt.Errorf("%w: %d", ErrInvalidTier, n)
	}
	return t, nil
}

// UnmarshalYAML rejects stored integers outside the enumeration.
func (t *Tier) UnmarshalYAML(node *yaml.Node) error {
	var n uint
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTier, err)
	}
	v, err := TierFromUint(n)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// MarshalYAML writes the boundary integer.
func (t Tier) MarshalYAML() (interface{}, error) {
	return uint(t), nil
}
