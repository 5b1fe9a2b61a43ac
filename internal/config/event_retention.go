package config

import (
	"fmt"
)

// EventRetentionConfig controls how many scan events are kept per project
type EventRetentionConfig struct {
	// PerProjectLimit is the maximum number of events kept per project.
	// Older events are pruned after every scan.
	// Default: 500, Range: 0 (unlimited) or 50-10000
	PerProjectLimit int `mapstructure:"per_project_limit"`

	// Enabled controls whether pruning runs at all
	// Default: true
	Enabled bool `mapstructure:"enabled"`
}

// DefaultEventRetentionConfig returns the default event retention configuration.
// 500 events covers roughly a week of 15-minute monitor passes plus deep scans.
func DefaultEventRetentionConfig() EventRetentionConfig {
	return EventRetentionConfig{
		PerProjectLimit: 500,
		Enabled:         true,
	}
}

// Validate checks if the configuration has valid values
func (c EventRetentionConfig) Validate() error {
	if c.PerProjectLimit < 0 {
		return fmt.Errorf("per_project_limit cannot be negative (got %d)", c.PerProjectLimit)
	}
	if c.PerProjectLimit > 0 && c.PerProjectLimit < 50 {
		return fmt.Errorf("per_project_limit must be 0 (unlimited) or >= 50 (got %d)", c.PerProjectLimit)
	}
	if c.PerProjectLimit > 10000 {
		return fmt.Errorf("per_project_limit too large (got %d, max 10000)", c.PerProjectLimit)
	}
	return nil
}

// Keep returns the number of events to keep per project, 0 meaning no pruning
func (c EventRetentionConfig) Keep() int {
	if !c.Enabled {
		return 0
	}
	return c.PerProjectLimit
}

// String returns a human-readable representation of the config
func (c EventRetentionConfig) String() string {
	return fmt.Sprintf("EventRetentionConfig{PerProjectLimit: %d, Enabled: %t}", c.PerProjectLimit, c.Enabled)
}
