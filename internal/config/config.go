package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mg7d/adaptivefps/internal/settings"
)

// Config is the root agent configuration.
type Config struct {
	Host     Host        `yaml:"host"`
	Telnet   Telnet      `yaml:"telnet"`
	Settings SettingsCfg `yaml:"settings"`
	Status   Status      `yaml:"status"`
	API      API         `yaml:"api"`
	Metrics  Metrics     `yaml:"metrics"`
	Log      Log         `yaml:"log"`
}

// Host describes how game state is read and how cap writes are addressed.
type Host struct {
	LogPath      string        `yaml:"log_path"`
	TickInterval time.Duration `yaml:"tick_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	CapOption    string        `yaml:"cap_option"`
	QueueSize    int           `yaml:"queue_size"`
	AuditSize    int           `yaml:"audit_size"`
}

// Telnet holds console connection and safety settings.
type Telnet struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	Password           string        `yaml:"password"`
	RateLimitPerSec    float64       `yaml:"rate_limit_per_sec"`
	CommandTimeout     time.Duration `yaml:"command_timeout"`
	CircuitBreakAfter  int           `yaml:"circuit_break_after"`
	CircuitBreakWindow time.Duration `yaml:"circuit_break_window"`
}

// Enabled reports whether a console is configured for cap writes.
func (t Telnet) Enabled() bool { return t.Host != "" && t.Port > 0 }

// SettingsCfg locates the persisted user settings and their defaults.
type SettingsCfg struct {
	Path                  string        `yaml:"path"`
	DefaultCombatCap      settings.Tier `yaml:"default_combat_cap"`
	DefaultOutOfCombatCap settings.Tier `yaml:"default_out_of_combat_cap"`
	ResetCombatCap        settings.Tier `yaml:"reset_combat_cap"`
	ResetOutOfCombatCap   settings.Tier `yaml:"reset_out_of_combat_cap"`
}

// Defaults returns the settings used when no settings file exists yet.
func (s SettingsCfg) Defaults() settings.Settings {
	d := settings.Defaults()
	d.CombatCap = s.DefaultCombatCap
	d.OutOfCombatCap = s.DefaultOutOfCombatCap
	return d
}

// Status holds the optional JSON mirror of the status entry.
type Status struct {
	File string `yaml:"file"`
}

// API holds HTTP API settings.
type API struct {
	Listen    string `yaml:"listen"`
	AuthToken string `yaml:"auth_token"`
}

// Metrics holds metrics exposition settings.
type Metrics struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

// Log holds logger settings.
type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate fills defaults and fails fast on invalid values.
func Validate(c *Config) error {
	if c.Host.LogPath == "" {
		return fmt.Errorf("config: host.log_path required")
	}
	if c.Host.TickInterval < 0 || c.Host.StaleAfter < 0 {
		return fmt.Errorf("config: host durations must not be negative")
	}
	if c.Host.TickInterval == 0 {
		c.Host.TickInterval = 250 * time.Millisecond
	}
	if c.Host.CapOption == "" {
		c.Host.CapOption = "Fps"
	}
	if c.Host.QueueSize <= 0 {
		c.Host.QueueSize = 32
	}
	if c.Host.AuditSize <= 0 {
		c.Host.AuditSize = 256
	}

	if c.Telnet.Port < 0 || c.Telnet.Port > 65535 {
		return fmt.Errorf("config: telnet.port %d out of range", c.Telnet.Port)
	}
	if c.Telnet.RateLimitPerSec <= 0 {
		c.Telnet.RateLimitPerSec = 2.0
	}

	if c.Settings.Path == "" {
		c.Settings.Path = "adaptivefps.settings.yaml"
	}
	defaults := settings.Defaults()
	fill := func(t *settings.Tier, def settings.Tier) {
		if *t == 0 {
			*t = def
		}
	}
	fill(&c.Settings.DefaultCombatCap, defaults.CombatCap)
	fill(&c.Settings.DefaultOutOfCombatCap, defaults.OutOfCombatCap)
	fill(&c.Settings.ResetCombatCap, settings.TierMainRefresh)
	fill(&c.Settings.ResetOutOfCombatCap, settings.TierThirty)

	if c.API.Listen == "" {
		c.API.Listen = "127.0.0.1:9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	return nil
}
