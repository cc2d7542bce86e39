// Package config loads engine configuration from file and environment
// through viper. Environment variables override file values with the
// RECON_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/cleargate/reconengine/internal/adapter"
	"github.com/cleargate/reconengine/internal/runner"
	"github.com/cleargate/reconengine/internal/store"
)

// Config is the full engine configuration.
type Config struct {
	LogLevel   string              `mapstructure:"log_level"`
	ListenAddr string              `mapstructure:"listen_addr"`
	Database   store.Config        `mapstructure:"database"`
	Redis      RedisConfig         `mapstructure:"redis"`
	Kafka      adapter.KafkaConfig `mapstructure:"kafka"`
	Schedule   runner.Schedule     `mapstructure:"schedule"`
	Matching   MatchingConfig      `mapstructure:"matching"`
	Tolerances string              `mapstructure:"tolerances"` // path to profile file, optional
}

// RedisConfig holds the run-lock redis connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Enabled  bool   `mapstructure:"enabled"`
}

// MatchingConfig carries the score thresholds.
type MatchingConfig struct {
	AutoMatch float64 `mapstructure:"auto_match"`
	Partial   float64 `mapstructure:"partial"`
	Fuzzy     float64 `mapstructure:"fuzzy"`
}

// Load reads the config file at path (empty means defaults plus
// environment only) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("RECON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "recon.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("kafka.instruct_topic", "settlement.instructions")
	v.SetDefault("kafka.status_topic", "settlement.status")
	v.SetDefault("kafka.group_id", "recon-engine")
	v.SetDefault("schedule.trade_run", "0 6 * * *")
	v.SetDefault("schedule.aging_sweep", "0 7 * * *")
	v.SetDefault("matching.auto_match", 0.95)
	v.SetDefault("matching.partial", 0.75)
	v.SetDefault("matching.fuzzy", 0.5)
}

func validate(cfg *Config) error {
	if cfg.Matching.AutoMatch <= cfg.Matching.Partial {
		return fmt.Errorf("matching.auto_match (%v) must exceed matching.partial (%v)",
			cfg.Matching.AutoMatch, cfg.Matching.Partial)
	}
	if cfg.Matching.Partial <= 0 || cfg.Matching.AutoMatch > 1 {
		return fmt.Errorf("matching thresholds must lie in (0, 1]")
	}
	switch cfg.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", cfg.Database.Driver)
	}
	return nil
}
