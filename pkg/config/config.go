package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lightforgemedia/go-swell/pkg/backoff"
	"github.com/lightforgemedia/go-swell/pkg/client"
)

// Environment names recognised by WebSocketURL.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	defaultHost        = "localhost:3000"
	defaultPath        = "/"
	defaultMetricsPath = "/metrics"
	defaultLogLevel    = "info"
	defaultReadLimit   = 1 << 20
)

// Config is the root configuration of a swell client.
type Config struct {
	Env  string `yaml:"env"`
	Host string `yaml:"host"`
	Path string `yaml:"path"`
	// URL overrides Env, Host and Path when set.
	URL string `yaml:"url"`

	Connection ConnectionConfig `yaml:"connection"`
	LogLevel   string           `yaml:"log_level"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ConnectionConfig holds transport and reopen settings.
type ConnectionConfig struct {
	DialTimeout  time.Duration   `yaml:"dial_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout"`
	ReadLimit    int64           `yaml:"read_limit"`
	ReopenDelays []time.Duration `yaml:"reopen_delays"`
}

// MetricsConfig holds Prometheus exposition settings. An empty Addr disables
// the endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
	Path string `yaml:"path"`
}

// Default returns a development configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Env == "" {
		c.Env = EnvDevelopment
	}
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Path == "" {
		c.Path = defaultPath
	}
	if !strings.HasPrefix(c.Path, "/") {
		c.Path = "/" + c.Path
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = defaultMetricsPath
	}
	if c.Connection.ReadLimit == 0 {
		c.Connection.ReadLimit = defaultReadLimit
	}
	if len(c.Connection.ReopenDelays) == 0 {
		c.Connection.ReopenDelays = append([]time.Duration(nil), backoff.Default...)
	}
}

// Validate checks that the values are usable.
func (c *Config) Validate() error {
	if c.Env != EnvDevelopment && c.Env != EnvProduction {
		return fmt.Errorf("env must be %q or %q, got %q", EnvDevelopment, EnvProduction, c.Env)
	}
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil {
			return fmt.Errorf("url: %w", err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("url scheme must be ws or wss, got %q", u.Scheme)
		}
	} else if c.Host == "" {
		return errors.New("host is required when url is not set")
	}
	if c.Connection.DialTimeout < 0 {
		return errors.New("connection.dial_timeout must be >= 0")
	}
	if c.Connection.WriteTimeout < 0 {
		return errors.New("connection.write_timeout must be >= 0")
	}
	if c.Connection.ReadLimit < 0 {
		return errors.New("connection.read_limit must be >= 0")
	}
	for i, d := range c.Connection.ReopenDelays {
		if d <= 0 {
			return fmt.Errorf("connection.reopen_delays[%d] must be > 0, got %s", i, d)
		}
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// WebSocketURL returns the endpoint to connect to.
func (c *Config) WebSocketURL() string {
	if c.URL != "" {
		return c.URL
	}
	scheme := "ws"
	if c.Env == EnvProduction {
		scheme = "wss"
	}
	return scheme + "://" + c.Host + c.Path
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return level, nil
}

// ClientOptions converts the connection settings. Logger and metrics are left
// for the caller to fill in.
func (c *Config) ClientOptions() client.Options {
	opts := client.DefaultOptions()
	if c.Connection.DialTimeout > 0 {
		opts.DialTimeout = c.Connection.DialTimeout
	}
	if c.Connection.WriteTimeout > 0 {
		opts.WriteTimeout = c.Connection.WriteTimeout
	}
	opts.ReadLimit = c.Connection.ReadLimit
	if len(c.Connection.ReopenDelays) > 0 {
		opts.Backoff = backoff.Sequence(c.Connection.ReopenDelays)
	}
	return opts
}
