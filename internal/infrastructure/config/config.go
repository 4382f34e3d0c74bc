package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Upstream   UpstreamConfig   `mapstructure:"upstream"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Completion CompletionConfig `mapstructure:"completion"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// DatabaseConfig configures the user/memory/task store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// UpstreamConfig configures the upstream model endpoint.
type UpstreamConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`

	// InsecureSkipVerify disables TLS verification. Development only.
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`

	MaxIdleConns   int           `mapstructure:"max_idle_conns"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// AuthConfig configures bearer-token signing.
type AuthConfig struct {
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

// LimitsConfig configures the two rate-limit windows.
type LimitsConfig struct {
	GlobalRequests    int           `mapstructure:"global_requests"`
	GlobalWindow      time.Duration `mapstructure:"global_window"`
	CompletionRequests int          `mapstructure:"completion_requests"`
	CompletionWindow  time.Duration `mapstructure:"completion_window"`
}

// CompletionConfig tunes the streaming pipeline.
type CompletionConfig struct {
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`   // hard stream timer
	FirstByteTimeout time.Duration `mapstructure:"first_byte_timeout"` // no-byte timer
	TokenCap       int           `mapstructure:"token_cap"`
	MaxPredict     int           `mapstructure:"max_predict"`
	MaxTemperature float64       `mapstructure:"max_temperature"`
	Temperature    float64       `mapstructure:"temperature"`
}

// MemoryConfig tunes memory retention and context assembly.
type MemoryConfig struct {
	TTL           time.Duration `mapstructure:"ttl"`
	HistoryDepth  int           `mapstructure:"history_depth"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	PurgeInterval time.Duration `mapstructure:"purge_interval"`
}

// TasksConfig tunes the inferred-task runner.
type TasksConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	DrainInterval time.Duration `mapstructure:"drain_interval"` // 0 disables the periodic drain
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config.yaml (if present) plus ELYSIA_* env overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ELYSIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file is optional; env + defaults suffice.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
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

// Validate checks the fields the process cannot run without.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}

// ConfigFileUsed reports the resolved config file path, for the watcher.
func ConfigFileUsed(path string) string {
	if path != "" {
		return path
	}
	return "config.yaml"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "local")

	v.SetDefault("database.type", "sqlite")

	v.SetDefault("upstream.model", "default")
	v.SetDefault("upstream.max_idle_conns", 10)
	v.SetDefault("upstream.connect_timeout", 10*time.Second)

	v.SetDefault("auth.token_ttl", 24*time.Hour)

	v.SetDefault("limits.global_requests", 500)
	v.SetDefault("limits.global_window", 5*time.Minute)
	v.SetDefault("limits.completion_requests", 30)
	v.SetDefault("limits.completion_window", time.Minute)

	v.SetDefault("completion.stream_timeout", 45*time.Second)
	v.SetDefault("completion.first_byte_timeout", 30*time.Second)
	v.SetDefault("completion.token_cap", 800)
	v.SetDefault("completion.max_predict", 1000)
	v.SetDefault("completion.max_temperature", 0.85)
	v.SetDefault("completion.temperature", 0.7)

	v.SetDefault("memory.ttl", 24*time.Hour)
	v.SetDefault("memory.history_depth", 6)
	v.SetDefault("memory.cache_ttl", 30*time.Second)
	v.SetDefault("memory.purge_interval", 10*time.Minute)

	v.SetDefault("tasks.batch_size", 5)
	v.SetDefault("tasks.drain_interval", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
