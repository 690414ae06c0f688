// Package config loads a list-provider instance's TOML configuration:
// poller cadences, the pending period, the network set, and
// per-network deployment floors.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/cockroachdb/errors"

	"github.com/zy0n/proof-of-innocence/internal/model"
)

const (
	// DefaultQueueShieldsDelay is the queueing poller's default cadence.
	DefaultQueueShieldsDelay = 20 * time.Minute
	// DefaultValidateShieldsDelay is the validation poller's default cadence.
	DefaultValidateShieldsDelay = 30 * time.Second
	// DefaultPendingPeriodHours is the default shield aging floor.
	DefaultPendingPeriodHours = 24
)

// NetworkConfig is the per-network section of the configuration file.
type NetworkConfig struct {
	Name             model.Network `toml:"name"`
	RPCEndpoint      string        `toml:"rpc_endpoint"`
	DeploymentBlock  uint64        `toml:"deployment_block"`
	ShieldContract   string        `toml:"shield_contract"`    // hex address
	ShieldEventTopic string        `toml:"shield_event_topic"` // hex, topic0 of the Shield log
}

// Config is the top-level configuration for one list-provider instance.
type Config struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`

	KeyFile string `toml:"key_file"`
	DataDir string `toml:"data_dir"`

	QueueShieldsOverrideDelayMsec    int64 `toml:"queue_shields_override_delay_msec"`
	ValidateShieldsOverrideDelayMsec int64 `toml:"validate_shields_override_delay_msec"`

	HoursShieldPendingPeriod float64 `toml:"hours_shield_pending_period"`

	Networks []NetworkConfig `toml:"network"`

	LogFile  string `toml:"log_file"`
	LogLevel string `toml:"log_level"`
}

// Load reads and validates a TOML configuration file, filling in the
// default pending period and data directory when they are unset. The
// cadence fields are left as read; QueueShieldsDelay and
// ValidateShieldsDelay apply their defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, errors.Wrapf(err, "decode config %s", path)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.HoursShieldPendingPeriod == 0 {
		c.HoursShieldPendingPeriod = DefaultPendingPeriodHours
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
}

func (c *Config) validate() error {
	if c.Name == "" {
		return errors.New("config: name is required")
	}
	if c.KeyFile == "" {
		return errors.New("config: key_file is required")
	}
	if len(c.Networks) == 0 {
		return errors.New("config: at least one [[network]] section is required")
	}
	seen := make(map[model.Network]bool, len(c.Networks))
	for _, n := range c.Networks {
		if n.Name == "" {
			return errors.New("config: network.name is required")
		}
		if seen[n.Name] {
			return errors.Newf("config: duplicate network %q", n.Name)
		}
		seen[n.Name] = true
	}
	return nil
}

// QueueShieldsDelay returns the configured queueing poller cadence, or
// the default when unset.
func (c *Config) QueueShieldsDelay() time.Duration {
	if c.QueueShieldsOverrideDelayMsec > 0 {
		return time.Duration(c.QueueShieldsOverrideDelayMsec) * time.Millisecond
	}
	return DefaultQueueShieldsDelay
}

// ValidateShieldsDelay returns the configured validation poller
// cadence, or the default when unset. It reads its own
// validate-specific override rather than the queueing poller's, so the
// two pollers' cadences can be tuned independently.
func (c *Config) ValidateShieldsDelay() time.Duration {
	if c.ValidateShieldsOverrideDelayMsec > 0 {
		return time.Duration(c.ValidateShieldsOverrideDelayMsec) * time.Millisecond
	}
	return DefaultValidateShieldsDelay
}

// PendingPeriod returns the minimum shield age required before
// validation eligibility.
func (c *Config) PendingPeriod() time.Duration {
	return time.Duration(c.HoursShieldPendingPeriod * float64(time.Hour))
}
