// Package config loads the pageviews CLI configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/client"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/logging"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/pageviews"
)

// Config holds all pageviews CLI configuration.
type Config struct {
	Client  ClientConfig  `toml:"client"`
	Query   QueryConfig   `toml:"query"`
	Redis   RedisConfig   `toml:"redis"`
	Logging LoggingConfig `toml:"logging"`
	Server  ServerConfig  `toml:"server"`
}

// ClientConfig holds API client settings.
type ClientConfig struct {
	UserAgent         string   `toml:"user_agent"`
	BaseURL           string   `toml:"base_url,omitempty"`
	Timeout           Duration `toml:"timeout"`
	MaxConnections    int      `toml:"max_connections"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	FailFast          bool     `toml:"fail_fast"`
}

// QueryConfig holds the default request filters.
type QueryConfig struct {
	Access      string `toml:"access"`
	Agent       string `toml:"agent"`
	Granularity string `toml:"granularity"`
}

// RedisConfig holds the optional shared throttle store.
type RedisConfig struct {
	Addr     string `toml:"addr,omitempty"`
	Password string `toml:"password,omitempty"`
	DB       int    `toml:"db"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// ServerConfig holds settings for the serve command.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// Duration is a time.Duration written as a Go duration string ("60s").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	cc := client.DefaultConfig("")
	opts := pageviews.DefaultOptions()

	return Config{
		Client: ClientConfig{
			BaseURL:           cc.BaseURL,
			Timeout:           Duration{cc.Timeout},
			MaxConnections:    cc.MaxConnections,
			RequestsPerSecond: cc.RequestsPerSecond,
		},
		Query: QueryConfig{
			Access:      string(opts.Access),
			Agent:       string(opts.Agent),
			Granularity: string(opts.Granularity),
		},
		Logging: LoggingConfig{
			Level: string(logging.LevelInfo),
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
	}
}

// Dir returns the XDG-compliant config directory.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pageviews")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "pageviews")
}

// Path returns the full path to the default config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the config file at path, or the default path when empty.
// A missing default file yields the defaults; a missing explicit file is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	explicit := path != ""
	if !explicit {
		path = Path()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return applyEnv(cfg), nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, &pageviews.ConfigError{Field: undecoded[0].String(), Reason: "unknown key in " + path}
	}

	return applyEnv(cfg), nil
}

// Save writes the config to path, or the default path when empty.
func Save(cfg Config, path string) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

// applyEnv overlays environment variables, which win over the file.
func applyEnv(cfg Config) Config {
	if ua := os.Getenv("PAGEVIEWS_USER_AGENT"); ua != "" {
		cfg.Client.UserAgent = ua
	}
	if addr := os.Getenv("PAGEVIEWS_REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	return cfg
}

// Options returns the default request filters.
func (c Config) Options() (pageviews.Options, error) {
	access, err := pageviews.ParseAccess(c.Query.Access)
	if err != nil {
		return pageviews.Options{}, err
	}
	agent, err := pageviews.ParseAgent(c.Query.Agent)
	if err != nil {
		return pageviews.Options{}, err
	}
	granularity, err := pageviews.ParseGranularity(c.Query.Granularity)
	if err != nil {
		return pageviews.Options{}, err
	}
	return pageviews.Options{Access: access, Agent: agent, Granularity: granularity}, nil
}

// ClientConfig converts the file settings to a client configuration.
// Redis is left nil; the caller owns the connection.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		UserAgent:         c.Client.UserAgent,
		BaseURL:           c.Client.BaseURL,
		Timeout:           c.Client.Timeout.Duration,
		MaxConnections:    c.Client.MaxConnections,
		RequestsPerSecond: c.Client.RequestsPerSecond,
		FailFast:          c.Client.FailFast,
	}
}
