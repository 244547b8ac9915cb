// Package config loads process configuration and sets up logging.
// Request-scoped secrets (the store API key) are never read here; they
// arrive on each validation request.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Recognition RecognitionConfig `yaml:"recognition" mapstructure:"recognition"`
	Queue       QueueConfig       `yaml:"queue" mapstructure:"queue"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Circuit     CircuitConfig     `yaml:"circuit" mapstructure:"circuit"`
	Callback    CallbackConfig    `yaml:"callback" mapstructure:"callback"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// RecognitionConfig holds the recognition endpoint settings. The
// integration key authenticates this deployment to the Identifi side
// and must be present before any run starts.
type RecognitionConfig struct {
	Endpoint       string  `yaml:"endpoint" mapstructure:"endpoint"`
	IntegrationKey string  `yaml:"integration_key" mapstructure:"integration_key"`
	RatePerSecond  float64 `yaml:"rate_per_second" mapstructure:"rate_per_second"`
	RateBurst      int     `yaml:"rate_burst" mapstructure:"rate_burst"`
}

// QueueConfig holds the redis connection and queue naming for the
// message-driven inbound surface.
type QueueConfig struct {
	Addr             string `yaml:"addr" mapstructure:"addr"`
	Password         string `yaml:"password" mapstructure:"password"`
	DB               int    `yaml:"db" mapstructure:"db"`
	Name             string `yaml:"name" mapstructure:"name"`
	BlockTimeoutSecs int    `yaml:"block_timeout_secs" mapstructure:"block_timeout_secs"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// RetryConfig configures the per-call retry policy.
type RetryConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
}

// CircuitConfig configures the recognition circuit breaker.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// CallbackConfig configures the callback dispatcher.
type CallbackConfig struct {
	MaxRetries           int `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs          int `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	PollIntervalMs       int `yaml:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	QueueCapacity        int `yaml:"queue_capacity" mapstructure:"queue_capacity"`
	RetainCompletedHours int `yaml:"retain_completed_hours" mapstructure:"retain_completed_hours"`
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
	v.SetEnvPrefix("SIGVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("queue.addr", "localhost:6379")
	v.SetDefault("queue.name", "signature-validation")
	v.SetDefault("queue.block_timeout_secs", 20)
	v.SetDefault("retry.max_attempts", 5)
	v.SetDefault("retry.initial_backoff_ms", 1000)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("retry.multiplier", 2.0)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("callback.max_retries", 3)
	v.SetDefault("callback.base_delay_ms", 1000)
	v.SetDefault("callback.poll_interval_ms", 1000)
	v.SetDefault("callback.queue_capacity", 1000)
	v.SetDefault("callback.retain_completed_hours", 24)
	v.SetDefault("recognition.rate_per_second", 2.0)
	v.SetDefault("recognition.rate_burst", 1)
	// Registered empty so env-only overrides are visible to Unmarshal.
	v.SetDefault("recognition.endpoint", "")
	v.SetDefault("recognition.integration_key", "")
	v.SetDefault("queue.password", "")
	v.SetDefault("queue.db", 0)

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
