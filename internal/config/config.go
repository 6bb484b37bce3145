// Package config defines the exchange's configuration, loaded from a JSON
// file with environment variable overrides for anything
// deployment-sensitive. Keys are matched case-insensitively against the
// snake_case names in the mapstructure tags below (for example
// instrument.tick_size); spellings without the underscores, such as
// Instrument.TickSize, are not recognized and leave the field at its zero
// value.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level exchange configuration.
type Config struct {
	Instrument  InstrumentConfig  `mapstructure:"instrument"`
	Fees        FeesConfig        `mapstructure:"fees"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Execution   ExecutionConfig   `mapstructure:"execution"`
	Information InformationConfig `mapstructure:"information"`
	Traders     map[string]string `mapstructure:"traders"`
}

// InstrumentConfig describes the traded ETF's tick size and valuation
// clamp.
type InstrumentConfig struct {
	TickSize float64 `mapstructure:"tick_size"`
	EtfClamp float64 `mapstructure:"etf_clamp"`
}

// FeesConfig holds the ETF book's maker/taker fee rates. Maker may be
// negative (a rebate).
type FeesConfig struct {
	Maker float64 `mapstructure:"maker"`
	Taker float64 `mapstructure:"taker"`
}

// LimitsConfig holds the per-competitor risk limits.
type LimitsConfig struct {
	PositionLimit            int64   `mapstructure:"position_limit"`
	ActiveOrderCountLimit    int     `mapstructure:"active_order_count_limit"`
	ActiveVolumeLimit        uint32  `mapstructure:"active_volume_limit"`
	MessageFrequencyInterval float64 `mapstructure:"message_frequency_interval"`
	MessageFrequencyLimit    int     `mapstructure:"message_frequency_limit"`
}

// EngineConfig holds the match-wide timing and data-source parameters.
type EngineConfig struct {
	Speed           float64       `mapstructure:"speed"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	MarketDataFile  string        `mapstructure:"market_data_file"`
	MatchEventsFile string        `mapstructure:"match_events_file"`
}

// ExecutionConfig holds the TCP execution channel's listen address.
type ExecutionConfig struct {
	ListenAddress string `mapstructure:"listen_address"`
	Port          int    `mapstructure:"port"`
}

// InformationConfig holds the UDP information channel's target address.
type InformationConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Interface      string `mapstructure:"interface"`
	AllowBroadcast bool   `mapstructure:"allow_broadcast"`
}

// Load reads the exchange configuration from a JSON file at path, applying
// MATCHCORE_* environment variable overrides for trader secrets.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("MATCHCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if addr := os.Getenv("MATCHCORE_EXECUTION_LISTEN_ADDRESS"); addr != "" {
		cfg.Execution.ListenAddress = addr
	}

	return &cfg, nil
}

// Validate checks that every field needed to run a match is present and
// within range.
func (c *Config) Validate() error {
	if c.Instrument.TickSize <= 0 {
		return fmt.Errorf("instrument.tick_size must be > 0")
	}
	if c.Instrument.EtfClamp < 0 || c.Instrument.EtfClamp > 1 {
		return fmt.Errorf("instrument.etf_clamp must be between 0 and 1")
	}
	if c.Limits.PositionLimit <= 0 {
		return fmt.Errorf("limits.position_limit must be > 0")
	}
	if c.Limits.ActiveOrderCountLimit <= 0 {
		return fmt.Errorf("limits.active_order_count_limit must be > 0")
	}
	if c.Limits.ActiveVolumeLimit == 0 {
		return fmt.Errorf("limits.active_volume_limit must be > 0")
	}
	if c.Limits.MessageFrequencyLimit <= 0 {
		return fmt.Errorf("limits.message_frequency_limit must be > 0")
	}
	if c.Engine.Speed <= 0 {
		return fmt.Errorf("engine.speed must be > 0")
	}
	if c.Engine.TickInterval <= 0 {
		return fmt.Errorf("engine.tick_interval must be > 0")
	}
	if c.Engine.MarketDataFile == "" {
		return fmt.Errorf("engine.market_data_file is required")
	}
	if c.Engine.MatchEventsFile == "" {
		return fmt.Errorf("engine.match_events_file is required")
	}
	if c.Execution.Port == 0 {
		return fmt.Errorf("execution.port is required")
	}
	if c.Information.Port == 0 {
		return fmt.Errorf("information.port is required")
	}
	if len(c.Traders) == 0 {
		return fmt.Errorf("at least one entry in traders is required")
	}
	return nil
}

// TickSizeCents returns the instrument tick size in integer cents, the unit
// every other component works in.
func (c *Config) TickSizeCents() uint32 {
	return uint32(c.Instrument.TickSize * 100.0)
}
