// Package settings holds the persisted user settings record and its store.
package settings

// Settings is the persisted record the cap engine reads and writes back on
// every mutation.
type Settings struct {
	Version        int   `yaml:"version"`
	Enabled        bool  `yaml:"enabled"`
	CombatCap      Tier  `yaml:"combat_cap"`
	OutOfCombatCap Tier  `yaml:"out_of_combat_cap"`
	LastUserCap    *uint `yaml:"last_user_cap,omitempty"` // cap seen before the first override; nil when none
}

const currentVersion = 1

// Defaults returns the settings a fresh install starts with.
func Defaults() Settings {
	return Settings{
		Version:        currentVersion,
		Enabled:        true,
		CombatCap:      TierSixty,
		OutOfCombatCap: TierThirty,
	}
}

// Clone returns a deep copy so callers cannot alias LastUserCap.
func (s Settings) Clone() Settings {
	if s.LastUserCap != nil {
		v := *s.LastUserCap
		s.LastUserCap = &v
	}
	return s
}

// Store persists Settings. Implementations need not be safe for concurrent
// Save calls; the engine serializes them.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}
