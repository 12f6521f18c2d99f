// Package config loads and validates the engine configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"p2pmaker/internal/core"
	"p2pmaker/internal/dispatch"
	"p2pmaker/internal/ordersync"
	"p2pmaker/internal/positioning"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the root engine configuration. Durations travel as plain
// integers with unit-suffixed field names; money fields as floats. Both
// are converted to their domain types after parsing.
type Config struct {
	LogLevel string         `yaml:"log_level"`
	Database DatabaseConfig `yaml:"database"`
	Venue    VenueConfig    `yaml:"venue"`

	Merchants []MerchantConfig `yaml:"merchants"`
	Tuples    []TupleConfig    `yaml:"tuples"`

	Positioning PositioningSection `yaml:"positioning"`
	Dispatch    DispatchSection    `yaml:"dispatch"`
	Sync        SyncSection        `yaml:"sync"`
	Control     ControlConfig      `yaml:"control"`
	Telemetry   TelemetryConfig    `yaml:"telemetry"`
}

// DatabaseConfig selects the persistence backend. An empty path keeps
// everything in memory.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// VenueConfig points at the trading venue API.
type VenueConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call venue timeout.
func (v VenueConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

// MerchantConfig holds one merchant account's venue credentials.
// Credential values support ${ENV_VAR} expansion.
type MerchantConfig struct {
	ID        string `yaml:"id"`
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"secret_key"`
}

// TupleConfig is the YAML shape of one positioning tuple. Money fields
// are plain numbers in the file and converted to decimals on load.
type TupleConfig struct {
	MerchantID                string  `yaml:"merchant_id"`
	Asset                     string  `yaml:"asset"`
	FiatCurrency              string  `yaml:"fiat_currency"`
	Side                      string  `yaml:"side"`
	OwnAdID                   string  `yaml:"own_ad_id"`
	OwnNickname               string  `yaml:"own_nickname"`
	MinCounterpartyOrderCount int     `yaml:"min_counterparty_order_count"`
	MinTradableFiatValue      float64 `yaml:"min_tradable_fiat_value"`
	UndercutAmount            float64 `yaml:"undercut_amount"`
	MatchMode                 string  `yaml:"match_mode"`
	MinPriceChange            float64 `yaml:"min_price_change"`
}

// ToPositioning converts the YAML tuple into the domain config.
func (t TupleConfig) ToPositioning() core.PositioningConfig {
	return core.PositioningConfig{
		MerchantID:                t.MerchantID,
		Asset:                     t.Asset,
		FiatCurrency:              t.FiatCurrency,
		Side:                      core.Side(t.Side),
		OwnAdID:                   t.OwnAdID,
		OwnNickname:               t.OwnNickname,
		MinCounterpartyOrderCount: t.MinCounterpartyOrderCount,
		MinTradableFiatValue:      decimal.NewFromFloat(t.MinTradableFiatValue),
		UndercutAmount:            decimal.NewFromFloat(t.UndercutAmount),
		MatchMode:                 core.MatchMode(t.MatchMode),
		MinPriceChange:            decimal.NewFromFloat(t.MinPriceChange),
	}
}

// PositioningTuples converts every configured tuple.
func (c *Config) PositioningTuples() []core.PositioningConfig {
	out := make([]core.PositioningConfig, 0, len(c.Tuples))
	for _, t := range c.Tuples {
		out = append(out, t.ToPositioning())
	}
	return out
}

// PositioningSection is the YAML shape of the scheduler config.
type PositioningSection struct {
	CycleIntervalSeconds     int `yaml:"cycle_interval_seconds"`
	ErrorCooldownBaseSeconds int `yaml:"error_cooldown_base_seconds"`
	ErrorCooldownMaxSeconds  int `yaml:"error_cooldown_max_seconds"`
}

// ToConfig converts the section into the scheduler's config.
func (s PositioningSection) ToConfig() positioning.Config {
	return positioning.Config{
		CycleInterval:     time.Duration(s.CycleIntervalSeconds) * time.Second,
		ErrorCooldownBase: time.Duration(s.ErrorCooldownBaseSeconds) * time.Second,
		ErrorCooldownMax:  time.Duration(s.ErrorCooldownMaxSeconds) * time.Second,
	}
}

// DispatchSection is the YAML shape of the dispatch queue config.
type DispatchSection struct {
	MaxAttempts              int `yaml:"max_attempts"`
	BaseBackoffSeconds       int `yaml:"base_backoff_seconds"`
	MaxBackoffSeconds        int `yaml:"max_backoff_seconds"`
	PollIntervalSeconds      int `yaml:"poll_interval_seconds"`
	MaxConcurrentPerMerchant int `yaml:"max_concurrent_per_merchant"`
	PoolWorkers              int `yaml:"pool_workers"`
}

// ToConfig converts the section into the queue's config.
func (s DispatchSection) ToConfig() dispatch.Config {
	return dispatch.Config{
		MaxAttempts:           s.MaxAttempts,
		BaseBackoff:           time.Duration(s.BaseBackoffSeconds) * time.Second,
		MaxBackoff:            time.Duration(s.MaxBackoffSeconds) * time.Second,
		PollInterval:          time.Duration(s.PollIntervalSeconds) * time.Second,
		MaxConcurrentPerMerch: s.MaxConcurrentPerMerchant,
		PoolWorkers:           s.PoolWorkers,
	}
}

// SyncSection is the YAML shape of the synchronizer config.
type SyncSection struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	LookbackHours       int `yaml:"lookback_hours"`
}

// ToConfig converts the section into the synchronizer's config.
func (s SyncSection) ToConfig() ordersync.Config {
	return ordersync.Config{
		PollInterval:   time.Duration(s.PollIntervalSeconds) * time.Second,
		LookbackWindow: time.Duration(s.LookbackHours) * time.Hour,
	}
}

// ControlConfig configures the operator HTTP surface.
type ControlConfig struct {
	ListenAddr     string  `yaml:"listen_addr"`
	MaxConnections int     `yaml:"max_connections"`
	RateLimitPerIP float64 `yaml:"rate_limit_per_ip"`
	RateBurstPerIP int     `yaml:"rate_burst_per_ip"`
}

// TelemetryConfig toggles the OpenTelemetry exporters.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// DefaultConfig returns a configuration with sensible defaults. Loaded
// files override on top of it.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Venue: VenueConfig{
			TimeoutSeconds: 10,
		},
		Positioning: PositioningSection{
			CycleIntervalSeconds:     15,
			ErrorCooldownBaseSeconds: 5,
			ErrorCooldownMaxSeconds:  300,
		},
		Dispatch: DispatchSection{
			MaxAttempts:              5,
			BaseBackoffSeconds:       2,
			MaxBackoffSeconds:        120,
			PollIntervalSeconds:      1,
			MaxConcurrentPerMerchant: 2,
			PoolWorkers:              8,
		},
		Sync: SyncSection{
			PollIntervalSeconds: 30,
			LookbackHours:       24,
		},
		Control: ControlConfig{
			ListenAddr:     ":8080",
			MaxConnections: 100,
			RateLimitPerIP: 10,
			RateBurstPerIP: 20,
		},
		Telemetry: TelemetryConfig{
			Enabled:     true,
			ServiceName: "p2pmaker",
		},
	}
}

// Load reads a YAML config file, expands ${ENV_VAR} references, applies
// it over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the whole tree. Component sections validate through
// their converted configs; cross-references (tuples to merchants) are
// checked here.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}

	if c.Venue.BaseURL == "" {
		return fmt.Errorf("config: venue.base_url is required")
	}
	if c.Venue.TimeoutSeconds <= 0 {
		return fmt.Errorf("config: venue.timeout_seconds must be positive")
	}

	if len(c.Merchants) == 0 {
		return fmt.Errorf("config: at least one merchant is required")
	}
	seen := make(map[string]bool, len(c.Merchants))
	for _, m := range c.Merchants {
		if m.ID == "" {
			return fmt.Errorf("config: merchant id is required")
		}
		if seen[m.ID] {
			return fmt.Errorf("config: duplicate merchant %s", m.ID)
		}
		seen[m.ID] = true
		if m.APIKey == "" || m.SecretKey == "" {
			return fmt.Errorf("config: merchant %s: api_key and secret_key are required", m.ID)
		}
	}

	for i, t := range c.Tuples {
		if !seen[t.MerchantID] {
			return fmt.Errorf("config: tuple %d references unknown merchant %q", i, t.MerchantID)
		}
		if t.Asset == "" || t.FiatCurrency == "" {
			return fmt.Errorf("config: tuple %d: asset and fiat_currency are required", i)
		}
		if !core.Side(t.Side).Valid() {
			return fmt.Errorf("config: tuple %d: invalid side %q", i, t.Side)
		}
		if t.OwnAdID == "" {
			return fmt.Errorf("config: tuple %d: own_ad_id is required", i)
		}
		switch core.MatchMode(t.MatchMode) {
		case core.MatchExact:
			if t.UndercutAmount != 0 {
				return fmt.Errorf("config: tuple %d: undercut_amount must be zero in EXACT mode", i)
			}
		case core.MatchUndercut:
			if t.UndercutAmount <= 0 {
				return fmt.Errorf("config: tuple %d: undercut_amount must be positive in UNDERCUT mode", i)
			}
		default:
			return fmt.Errorf("config: tuple %d: invalid match_mode %q", i, t.MatchMode)
		}
		if t.MinPriceChange < 0 {
			return fmt.Errorf("config: tuple %d: min_price_change must not be negative", i)
		}
	}

	posCfg := c.Positioning.ToConfig()
	if err := posCfg.Validate(); err != nil {
		return err
	}
	dispCfg := c.Dispatch.ToConfig()
	if err := dispCfg.Validate(); err != nil {
		return err
	}
	syncCfg := c.Sync.ToConfig()
	if err := syncCfg.Validate(); err != nil {
		return err
	}

	if c.Control.ListenAddr == "" {
		return fmt.Errorf("config: control.listen_addr is required")
	}
	if c.Control.MaxConnections <= 0 {
		return fmt.Errorf("config: control.max_connections must be positive")
	}
	if c.Control.RateLimitPerIP <= 0 || c.Control.RateBurstPerIP <= 0 {
		return fmt.Errorf("config: control rate limit bounds must be positive")
	}
	return nil
}
