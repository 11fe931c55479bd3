package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Webhooks WebhookConfig  `mapstructure:"webhooks"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type StorageConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// DispatchConfig controls the in-process batch runner. Interval is the
// scheduler cadence, BatchSize the claim limit per cycle.
type DispatchConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

// WebhookConfig holds registration-time defaults and caps. They are copied
// onto each webhook row when it is created, not read at dispatch time.
type WebhookConfig struct {
	DefaultRetryAttempts  int `mapstructure:"default_retry_attempts"`
	DefaultTimeoutSeconds int `mapstructure:"default_timeout_seconds"`
	MaxRetryAttempts      int `mapstructure:"max_retry_attempts"`
	MaxTimeoutSeconds     int `mapstructure:"max_timeout_seconds"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(path string) (*Config, error) {
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("hookd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/hookd")
	}

	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvPrefix("SCRIBESYNC")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)

	viper.SetDefault("storage.driver", "sqlite")
	viper.SetDefault("storage.sqlite.path", "./data/hookd.db")

	viper.SetDefault("dispatch.enabled", true)
	viper.SetDefault("dispatch.interval", 15*time.Second)
	viper.SetDefault("dispatch.batch_size", 50)

	viper.SetDefault("webhooks.default_retry_attempts", 3)
	viper.SetDefault("webhooks.default_timeout_seconds", 10)
	viper.SetDefault("webhooks.max_retry_attempts", 10)
	viper.SetDefault("webhooks.max_timeout_seconds", 60)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}
