package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/health-engine/internal/db"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Scoring    ScoringConfig    `yaml:"scoring" mapstructure:"scoring"`
	Rollup     RollupConfig     `yaml:"rollup" mapstructure:"rollup"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string        `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string        `yaml:"database_url" mapstructure:"database_url"`
	Pool        db.PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// ScoringConfig configures reference data and the overall composition policy.
type ScoringConfig struct {
	// ReferenceFile replaces the embedded default ranges and weights when set.
	ReferenceFile          string `yaml:"reference_file" mapstructure:"reference_file"`
	ExcludeEmptyCategories bool   `yaml:"exclude_empty_categories" mapstructure:"exclude_empty_categories"`
}

// RollupConfig configures batch rollups and write retries.
type RollupConfig struct {
	MaxConcurrentAccounts int         `yaml:"max_concurrent_accounts" mapstructure:"max_concurrent_accounts"`
	AccountsPerSecond     float64     `yaml:"accounts_per_second" mapstructure:"accounts_per_second"` // 0 = unpaced
	Retry                 RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// RetryConfig configures retry-on-conflict for trend writes.
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	Jitter         float64       `yaml:"jitter" mapstructure:"jitter"`
}

// MonitoringConfig configures health alerts.
type MonitoringConfig struct {
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	WebhookTimeoutSecs int     `yaml:"webhook_timeout_secs" mapstructure:"webhook_timeout_secs"`
	LowScoreThreshold  float64 `yaml:"low_score_threshold" mapstructure:"low_score_threshold"`
	DropThreshold      float64 `yaml:"drop_threshold" mapstructure:"drop_threshold"`
	BreakerFailures    int     `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs   int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("HEALTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "health.db")
	v.SetDefault("store.pool.max_conns", 10)
	v.SetDefault("store.pool.min_conns", 2)
	v.SetDefault("scoring.reference_file", "")
	v.SetDefault("scoring.exclude_empty_categories", false)
	v.SetDefault("rollup.max_concurrent_accounts", 8)
	v.SetDefault("rollup.accounts_per_second", 0)
	v.SetDefault("rollup.retry.max_attempts", 5)
	v.SetDefault("rollup.retry.initial_backoff", 50*time.Millisecond)
	v.SetDefault("rollup.retry.max_backoff", 2*time.Second)
	v.SetDefault("rollup.retry.jitter", 0.25)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.webhook_timeout_secs", 10)
	v.SetDefault("monitoring.low_score_threshold", 34)
	v.SetDefault("monitoring.drop_threshold", 15)
	v.SetDefault("monitoring.breaker_failures", 5)
	v.SetDefault("monitoring.breaker_reset_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings the given command mode cannot run without.
// Modes: "migrate", "rollup", "score", "trends", "serve".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "score":
		// Scores from reference data only; no store.
	case "migrate", "rollup", "trends", "serve":
		problems = append(problems, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "rollup" || mode == "serve" {
		if c.Rollup.MaxConcurrentAccounts < 1 || c.Rollup.MaxConcurrentAccounts > 64 {
			problems = append(problems, "rollup.max_concurrent_accounts must be between 1 and 64")
		}
		if c.Rollup.AccountsPerSecond < 0 {
			problems = append(problems, "rollup.accounts_per_second must be >= 0")
		}
		if c.Rollup.Retry.MaxAttempts < 1 {
			problems = append(problems, "rollup.retry.max_attempts must be >= 1")
		}
		if c.Monitoring.LowScoreThreshold < 0 || c.Monitoring.LowScoreThreshold > 100 {
			problems = append(problems, "monitoring.low_score_threshold must be between 0 and 100")
		}
		if c.Monitoring.DropThreshold < 0 {
			problems = append(problems, "monitoring.drop_threshold must be >= 0")
		}
	}
	if mode == "serve" && c.Server.Port <= 0 {
		problems = append(problems, "server.port must be > 0")
	}

	if len(problems) > 0 {
		return eris.Errorf("config: validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	switch strings.ToLower(c.Store.Driver) {
	case "postgres", "postgresql", "pg":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required for postgres"}
		}
	case "sqlite", "sqlite3":
		if c.Store.DatabaseURL == "" {
			return []string{"store.database_url is required (sqlite file path)"}
		}
	default:
		return []string{"store.driver must be postgres or sqlite (got " + c.Store.Driver + ")"}
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
