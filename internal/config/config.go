// Package config loads and validates the resolved engine configuration.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/kite/internal/domain"
)

// Config is the fully resolved configuration for one invocation.
type Config struct {
	App        AppConfig             `mapstructure:"app"`
	Database   DatabaseConfig        `mapstructure:"database"`
	Server     ServerConfig          `mapstructure:"server"`
	Ingest     IngestConfig          `mapstructure:"ingest"`
	Rules      RulesConfig           `mapstructure:"rules"`
	Scoring    ScoringConfig         `mapstructure:"scoring"`
	Evaluation EvaluationConfig      `mapstructure:"evaluation"`
	Cache      domain.CacheConfig    `mapstructure:"cache"`
	EventBus   domain.EventBusConfig `mapstructure:"event_bus"`
	Logging    LoggingConfig         `mapstructure:"logging"`
}

// AppConfig is general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig selects the store driver.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // "sqlite" or "postgres"

	SQLitePath string `mapstructure:"sqlite_path"`

	PostgresDSN     string `mapstructure:"postgres_dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // seconds
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"read_timeout"`  // seconds
	WriteTimeout int    `mapstructure:"write_timeout"` // seconds
}

// IngestConfig tunes batch ingestion.
type IngestConfig struct {
	DefaultCurrency  string `mapstructure:"default_currency"`
	MaxRejectReasons int    `mapstructure:"max_reject_reasons"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// ScoringConfig drives the risk scorer.
type ScoringConfig struct {
	BaseRiskPerCustomer float64 `mapstructure:"base_risk_per_customer"`
	MaxScore            float64 `mapstructure:"max_score"`
	LowThreshold        float64 `mapstructure:"low_threshold"`
	MediumThreshold     float64 `mapstructure:"medium_threshold"`
}

// EvaluationConfig drives the chunked evaluator.
type EvaluationConfig struct {
	// ChunkSize 0 means one chunk covering the entire store.
	ChunkSize int `mapstructure:"chunk_size"`
}

// RulesConfig holds per-rule parameters. A rule with Enabled=false is
// not constructed at all.
type RulesConfig struct {
	HighValue        HighValueConfig        `mapstructure:"high_value"`
	RapidVelocity    RapidVelocityConfig    `mapstructure:"rapid_velocity"`
	GeoMismatch      GeoMismatchConfig      `mapstructure:"geo_mismatch"`
	Structuring      StructuringConfig      `mapstructure:"structuring_smurfing"`
	SanctionsKeyword SanctionsKeywordConfig `mapstructure:"sanctions_keyword"`
	HighRiskCountry  HighRiskCountryConfig  `mapstructure:"high_risk_country"`
	NetworkRing      NetworkRingConfig      `mapstructure:"network_ring"`
	CustomExpression CustomExpressionConfig `mapstructure:"custom_expression"`
}

type HighValueConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	ThresholdAmount float64 `mapstructure:"threshold_amount"`
}

type RapidVelocityConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	MinTransactions int  `mapstructure:"min_transactions"`
	WindowMinutes   int  `mapstructure:"window_minutes"`
}

type GeoMismatchConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxCountries  int  `mapstructure:"max_countries_in_window"`
	WindowMinutes int  `mapstructure:"window_minutes"`
}

type StructuringConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	ThresholdAmount float64 `mapstructure:"threshold_amount"`
	MinTransactions int     `mapstructure:"min_transactions"`
	WindowMinutes   int     `mapstructure:"window_minutes"`
}

type SanctionsKeywordConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Keywords      []string `mapstructure:"keywords"`
	ListVersion   string   `mapstructure:"list_version"`
	EffectiveDate string   `mapstructure:"effective_date"`
}

type HighRiskCountryConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Countries     []string `mapstructure:"countries"`
	ListVersion   string   `mapstructure:"list_version"`
	EffectiveDate string   `mapstructure:"effective_date"`
}

type NetworkRingConfig struct {
	Enabled                 bool    `mapstructure:"enabled"`
	MinSharedCounterparties int     `mapstructure:"min_shared_counterparties"`
	MinLinkedAccounts       int     `mapstructure:"min_linked_accounts"`
	LookbackDays            int     `mapstructure:"lookback_days"`
	Severity                string  `mapstructure:"severity"`
	ScoreDelta              float64 `mapstructure:"score_delta"`
}

type CustomExpressionConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	Expression string  `mapstructure:"expression"`
	Severity   string  `mapstructure:"severity"`
	Reason     string  `mapstructure:"reason"`
	ScoreDelta float64 `mapstructure:"score_delta"`
}

// Load builds configuration from file, environment and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("KITE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "kite")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/kite.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 1800)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 30)

	v.SetDefault("ingest.default_currency", "USD")
	v.SetDefault("ingest.max_reject_reasons", 50)

	v.SetDefault("scoring.base_risk_per_customer", 10.0)
	v.SetDefault("scoring.max_score", 100.0)
	v.SetDefault("scoring.low_threshold", 33.0)
	v.SetDefault("scoring.medium_threshold", 66.0)

	v.SetDefault("evaluation.chunk_size", 0)

	v.SetDefault("rules.high_value.enabled", true)
	v.SetDefault("rules.high_value.threshold_amount", 10000.0)
	v.SetDefault("rules.rapid_velocity.enabled", true)
	v.SetDefault("rules.rapid_velocity.min_transactions", 5)
	v.SetDefault("rules.rapid_velocity.window_minutes", 15)
	v.SetDefault("rules.geo_mismatch.enabled", true)
	v.SetDefault("rules.geo_mismatch.max_countries_in_window", 2)
	v.SetDefault("rules.geo_mismatch.window_minutes", 60)
	v.SetDefault("rules.structuring_smurfing.enabled", true)
	v.SetDefault("rules.structuring_smurfing.threshold_amount", 9500.0)
	v.SetDefault("rules.structuring_smurfing.min_transactions", 3)
	v.SetDefault("rules.structuring_smurfing.window_minutes", 60)
	v.SetDefault("rules.sanctions_keyword.enabled", true)
	v.SetDefault("rules.sanctions_keyword.list_version", "unknown")
	v.SetDefault("rules.high_risk_country.enabled", true)
	v.SetDefault("rules.high_risk_country.list_version", "unknown")
	v.SetDefault("rules.network_ring.enabled", true)
	v.SetDefault("rules.network_ring.min_shared_counterparties", 2)
	v.SetDefault("rules.network_ring.min_linked_accounts", 2)
	v.SetDefault("rules.network_ring.lookback_days", 30)
	v.SetDefault("rules.network_ring.severity", "high")
	v.SetDefault("rules.network_ring.score_delta", 40.0)
	v.SetDefault("rules.custom_expression.enabled", false)

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.max_entries", 10000)
	v.SetDefault("cache.ttl_seconds", 300)

	v.SetDefault("event_bus.type", "channel")
	v.SetDefault("event_bus.buffer_size", 1000)
	v.SetDefault("event_bus.nats_max_reconnects", 10)
	v.SetDefault("event_bus.nats_reconnect_wait", 5)
}

// highRiskPlaceholders are codes that must be replaced with real ISO
// entries before the high-risk-country rule may run.
var highRiskPlaceholders = map[string]bool{"XX": true, "YY": true}

// Validate fails fast on configuration problems, before any processing
// starts. List problems are load-time errors, never evaluation-time.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return &domain.ConfigError{Field: "database.driver", Reason: fmt.Sprintf("unsupported driver %q", c.Database.Driver)}
	}
	if c.Scoring.MaxScore <= 0 {
		return &domain.ConfigError{Field: "scoring.max_score", Reason: "must be greater than zero"}
	}
	if c.Scoring.LowThreshold >= c.Scoring.MediumThreshold {
		return &domain.ConfigError{Field: "scoring.low_threshold", Reason: "must be below medium_threshold"}
	}
	if c.Evaluation.ChunkSize < 0 {
		return &domain.ConfigError{Field: "evaluation.chunk_size", Reason: "must not be negative"}
	}
	if c.Ingest.MaxRejectReasons <= 0 {
		return &domain.ConfigError{Field: "ingest.max_reject_reasons", Reason: "must be greater than zero"}
	}
	if err := c.validateHighRiskCountries(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateHighRiskCountries() error {
	hrc := c.Rules.HighRiskCountry
	if !hrc.Enabled {
		return nil
	}
	for _, raw := range hrc.Countries {
		code := strings.ToUpper(strings.TrimSpace(raw))
		if r := []rune(code); len(r) > 3 {
			code = string(r[:3])
		}
		if highRiskPlaceholders[code] {
			return &domain.ConfigError{
				Field:  "rules.high_risk_country.countries",
				Reason: fmt.Sprintf("placeholder entry %q; replace with real ISO country codes", code),
			}
		}
		if !isISOAlpha(code) {
			return &domain.ConfigError{
				Field:  "rules.high_risk_country.countries",
				Reason: fmt.Sprintf("non-ISO entry %q; expected 2-3 letter country code", raw),
			}
		}
	}
	return nil
}

func isISOAlpha(code string) bool {
	if len(code) < 2 || len(code) > 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

// Hash returns the configuration fingerprint: SHA-256 of the resolved
// config serialized with a canonical key order. Stamped on every
// transaction, alert and audit entry produced under this config.
func (c *Config) Hash() string {
	// encoding/json marshals struct fields in declaration order and map
	// keys sorted, which is stable for a fixed build.
	b, err := json.Marshal(c)
	if err != nil {
		// Config is plain data; marshal cannot fail in practice.
		return ""
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
