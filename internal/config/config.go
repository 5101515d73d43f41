package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration (file + env overrides)
type Config struct {
	Server struct {
		Addr           string `mapstructure:"addr"`
		LogLevel       string `mapstructure:"log_level"`
		LogFile        string `mapstructure:"log_file"`
		RefreshSeconds int    `mapstructure:"refresh_seconds"`
	} `mapstructure:"server"`

	Storage struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"storage"`

	Postgres struct {
		Host         string `mapstructure:"host"`
		Port         int    `mapstructure:"port"`
		User         string `mapstructure:"user"`
		Password     string `mapstructure:"password"`
		DBName       string `mapstructure:"db_name"`
		SSLMode      string `mapstructure:"ssl_mode"`
		MaxOpenConns int    `mapstructure:"max_open_conns"`
		MaxIdleConns int    `mapstructure:"max_idle_conns"`
	} `mapstructure:"postgres"`

	SQLite struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"sqlite"`

	Listener struct {
		Channel          string `mapstructure:"channel"`
		ReconnectSeconds int    `mapstructure:"reconnect_seconds"`
	} `mapstructure:"listener"`

	Edge struct {
		Addr              string `mapstructure:"addr"`
		Upstream          string `mapstructure:"upstream"`
		SiteKey           string `mapstructure:"site_key"`
		Debug             bool   `mapstructure:"debug"`
		MaxBodyBytes      int64  `mapstructure:"max_body_bytes"`
		TotalTimeoutMs    int    `mapstructure:"total_timeout_ms"`
		SessionTTLMinutes int    `mapstructure:"session_ttl_minutes"`
		CookieName        string `mapstructure:"cookie_name"`
	} `mapstructure:"edge"`

	Agent struct {
		RulesURL         string `mapstructure:"rules_url"`
		MaxAttempts      int    `mapstructure:"max_attempts"`
		RetryDelayMs     int    `mapstructure:"retry_delay_ms"`
		AttemptTimeoutMs int    `mapstructure:"attempt_timeout_ms"`
	} `mapstructure:"agent"`

	Telemetry struct {
		Enabled       bool   `mapstructure:"enabled"`
		URL           string `mapstructure:"url"`
		Workers       int    `mapstructure:"workers"`
		QueueSize     int    `mapstructure:"queue_size"`
		SendTimeoutMs int    `mapstructure:"send_timeout_ms"`
	} `mapstructure:"telemetry"`
}

var defaults = map[string]any{
	"server.addr":                ":8080",
	"server.log_level":           "info",
	"server.log_file":            "",
	"server.refresh_seconds":     60,
	"storage.driver":             "postgres",
	"postgres.host":              "localhost",
	"postgres.port":              5432,
	"postgres.user":              "",
	"postgres.password":          "",
	"postgres.db_name":           "seo_rules",
	"postgres.ssl_mode":          "disable",
	"postgres.max_open_conns":    10,
	"postgres.max_idle_conns":    10,
	"sqlite.path":                "seo_rules.db",
	"listener.channel":           "seo_rules_change",
	"listener.reconnect_seconds": 5,
	"edge.addr":                  ":8081",
	"edge.upstream":              "",
	"edge.site_key":              "",
	"edge.debug":                 false,
	"edge.max_body_bytes":        5 << 20,
	"edge.total_timeout_ms":      3000,
	"edge.session_ttl_minutes":   30,
	"edge.cookie_name":           "seo_sid",
	"agent.rules_url":            "http://localhost:8080",
	"agent.max_attempts":         3,
	"agent.retry_delay_ms":       1000,
	"agent.attempt_timeout_ms":   1000,
	"telemetry.enabled":          true,
	"telemetry.url":              "",
	"telemetry.workers":          2,
	"telemetry.queue_size":       1024,
	"telemetry.send_timeout_ms":  2000,
}

// Load reads configs/application.yaml (or path, when set) and APP_* env
// overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("application")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(c *Config) error {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.RefreshSeconds <= 0 {
		c.Server.RefreshSeconds = 60
	}
	switch c.Storage.Driver {
	case "postgres", "sqlite":
	case "":
		c.Storage.Driver = "postgres"
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = 10
	}
	if c.Postgres.MaxIdleConns == 0 {
		c.Postgres.MaxIdleConns = 10
	}
	if c.Listener.ReconnectSeconds <= 0 {
		c.Listener.ReconnectSeconds = 5
	}
	if c.Edge.MaxBodyBytes <= 0 {
		c.Edge.MaxBodyBytes = 5 << 20
	}
	if c.Edge.CookieName == "" {
		c.Edge.CookieName = "seo_sid"
	}
	if c.Agent.MaxAttempts <= 0 {
		c.Agent.MaxAttempts = 3
	}
	if c.Agent.RetryDelayMs < 0 {
		c.Agent.RetryDelayMs = 0
	}
	if c.Telemetry.Workers <= 0 {
		c.Telemetry.Workers = 2
	}
	if c.Telemetry.QueueSize <= 0 {
		c.Telemetry.QueueSize = 1024
	}
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Postgres.User,
		c.Postgres.Password,
		c.Postgres.Host,
		c.Postgres.Port,
		c.Postgres.DBName,
		c.Postgres.SSLMode,
	)
}

func (c Config) Backoff() time.Duration { return time.Duration(c.Listener.ReconnectSeconds) * time.Second }

func (c Config) RefreshInterval() time.Duration {
	return time.Duration(c.Server.RefreshSeconds) * time.Second
}

func (c Config) RetryDelay() time.Duration { return ms(c.Agent.RetryDelayMs) }

func (c Config) AttemptTimeout() time.Duration { return ms(c.Agent.AttemptTimeoutMs) }

func (c Config) TotalTimeout() time.Duration { return ms(c.Edge.TotalTimeoutMs) }

func (c Config) SendTimeout() time.Duration { return ms(c.Telemetry.SendTimeoutMs) }

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.Edge.SessionTTLMinutes) * time.Minute
}

// TelemetryURL falls back to the rule service when no dedicated collector is set.
func (c Config) TelemetryURL() string {
	if c.Telemetry.URL != "" {
		return c.Telemetry.URL
	}
	return c.Agent.RulesURL
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }
