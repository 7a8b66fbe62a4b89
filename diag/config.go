package diag

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes the engine's timeout and collision behavior. All values
// have working defaults; a deployment overrides them through a YAML file.
type Config struct {
	// TimeoutThreshold is the number of consecutive timer expirations
	// (initiating-message retransmissions) that abort an instance.
	TimeoutThreshold int `yaml:"timeout_threshold"`

	// RetransmitWindowSec bounds the gap between two transmissions for
	// them to count as consecutive expirations.
	RetransmitWindowSec int `yaml:"retransmit_window"`

	// HandoverWindowSec bounds how far a handover failure may trail the
	// start of the procedure it aborts.
	HandoverWindowSec int `yaml:"handover_window"`

	// Timers holds the nominal NAS timer durations in seconds
	// (non WB-S1 defaults). T3450 also serves as the GUTI reallocation
	// retransmit window.
	Timers TimerDurations `yaml:"timers"`

	// Priorities overrides the collision priority table.
	Priorities map[Procedure]int `yaml:"priorities"`

	// Disabled lists procedure analyzers to leave out of the run.
	Disabled []Procedure `yaml:"disabled"`
}

// TimerDurations carries the per-procedure NAS timer values in seconds.
type TimerDurations struct {
	T3410 int `yaml:"t3410"` // attach
	T3421 int `yaml:"t3421"` // detach
	T3430 int `yaml:"t3430"` // tracking area update
	T3450 int `yaml:"t3450"` // GUTI reallocation / attach and TAU accept
	T3460 int `yaml:"t3460"` // authentication / security mode control
	T3470 int `yaml:"t3470"` // identification
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() *Config {
	return &Config{
		TimeoutThreshold:    5,
		RetransmitWindowSec: 30,
		HandoverWindowSec:   600,
		Timers: TimerDurations{
			T3410: 15,
			T3421: 15,
			T3430: 15,
			T3450: 6,
			T3460: 6,
			T3470: 6,
		},
		Priorities: DefaultPriorities(),
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	if c.TimeoutThreshold < 1 {
		return fmt.Errorf("timeout_threshold must be at least 1, got %d", c.TimeoutThreshold)
	}
	if c.RetransmitWindowSec <= 0 {
		return fmt.Errorf("retransmit_window must be positive, got %d", c.RetransmitWindowSec)
	}
	if c.HandoverWindowSec <= 0 {
		return fmt.Errorf("handover_window must be positive, got %d", c.HandoverWindowSec)
	}
	for p := range c.Priorities {
		if !knownProcedure(p) {
			return fmt.Errorf("priorities: unknown procedure %q", p)
		}
	}
	for _, p := range c.Disabled {
		if !knownProcedure(p) || p == ProcServiceRequest {
			return fmt.Errorf("disabled: unknown procedure %q", p)
		}
	}
	return nil
}

// Dump renders the effective configuration as YAML.
func (c *Config) Dump() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	return string(out), nil
}

// RetransmitWindow returns the consecutive-retransmission window.
func (c *Config) RetransmitWindow() time.Duration {
	return time.Duration(c.RetransmitWindowSec) * time.Second
}

// HandoverWindow returns the handover attribution window.
func (c *Config) HandoverWindow() time.Duration {
	return time.Duration(c.HandoverWindowSec) * time.Second
}

// Enabled reports whether the analyzer for the given kind should run.
func (c *Config) Enabled(p Procedure) bool {
	for _, d := range c.Disabled {
		if d == p {
			return false
		}
	}
	return true
}

// windowFor returns the retransmit window for one procedure kind. GUTI
// reallocation counts against its own T3450 instead of the shared window.
func (c *Config) windowFor(p Procedure) time.Duration {
	if p == ProcGUTIRealloc && c.Timers.T3450 > 0 {
		return time.Duration(c.Timers.T3450) * time.Second
	}
	return c.RetransmitWindow()
}

// deadlineFor returns the nominal NAS timer for one procedure kind.
func (c *Config) deadlineFor(p Procedure) time.Duration {
	var sec int
	switch p {
	case ProcAttach:
		sec = c.Timers.T3410
	case ProcDetach:
		sec = c.Timers.T3421
	case ProcTAU:
		sec = c.Timers.T3430
	case ProcGUTIRealloc:
		sec = c.Timers.T3450
	case ProcAuthentication, ProcSecurityMode:
		sec = c.Timers.T3460
	case ProcIdentification:
		sec = c.Timers.T3470
	}
	return time.Duration(sec) * time.Second
}

func knownProcedure(p Procedure) bool {
	if p == ProcServiceRequest {
		return true
	}
	for _, known := range Procedures {
		if p == known {
			return true
		}
	}
	return false
}

// newTimer builds the timer record for a new instance of the given kind.
func (c *Config) newTimer(p Procedure) TimerRecord {
	return TimerRecord{
		Deadline:  c.deadlineFor(p),
		Window:    c.windowFor(p),
		Threshold: c.TimeoutThreshold,
	}
}
