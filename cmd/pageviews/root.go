package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/wiki-pageviews-client/internal/config"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/client"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app holds the state shared by all subcommands.
type app struct {
	configPath     string
	logLevel       string
	pretty         bool
	userAgent      string
	baseURL        string
	maxConnections int
	timeout        time.Duration
	redisAddr      string

	cfg    config.Config
	logger zerolog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "pageviews",
		Short: "Wikimedia page-view statistics client",
		Long: `pageviews fetches per-article page-view statistics from the Wikimedia
REST API for one or many pages and prints them as a merged table.

Example usage:
  pageviews fetch --start 2025-01-01 --end 2025-01-31 https://en.wikipedia.org/wiki/Go_(programming_language)
  pageviews fetch --format csv --granularity monthly URL1 URL2
  pageviews serve --addr :8080`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/pageviews/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error, disabled")
	flags.BoolVar(&a.pretty, "pretty", false, "human-readable log output")
	flags.StringVar(&a.userAgent, "user-agent", "", "User-Agent sent to the API (required by Wikimedia policy)")
	flags.StringVar(&a.baseURL, "base-url", "", "per-article API endpoint")
	flags.IntVar(&a.maxConnections, "max-connections", 0, "maximum simultaneous connections")
	flags.DurationVar(&a.timeout, "timeout", 0, "per-request timeout")
	flags.StringVar(&a.redisAddr, "redis-addr", "", "Redis address for a shared throttle window")

	rootCmd.AddCommand(newFetchCmd(a), newServeCmd(a))
	return rootCmd
}

// init loads the config file and overlays flags that were set explicitly.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Logging.Level = a.logLevel
	}
	if flags.Changed("pretty") {
		cfg.Logging.Pretty = a.pretty
	}
	if flags.Changed("user-agent") {
		cfg.Client.UserAgent = a.userAgent
	}
	if flags.Changed("base-url") {
		cfg.Client.BaseURL = a.baseURL
	}
	if flags.Changed("max-connections") {
		cfg.Client.MaxConnections = a.maxConnections
	}
	if flags.Changed("timeout") {
		cfg.Client.Timeout = config.Duration{Duration: a.timeout}
	}
	if flags.Changed("redis-addr") {
		cfg.Redis.Addr = a.redisAddr
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}
	logging.Setup(logging.Config{
		Level:  level,
		Pretty: cfg.Logging.Pretty,
		Output: cmd.ErrOrStderr(),
	})

	a.cfg = cfg
	a.logger = logging.NewLogger(logging.ComponentCLI)
	a.logger.Debug().
		Str("base_url", cfg.Client.BaseURL).
		Int("max_connections", cfg.Client.MaxConnections).
		Bool("shared_throttle", cfg.Redis.Addr != "").
		Msg("Configuration loaded")

	return nil
}

// newClient creates the API client and, when configured, connects to Redis.
// The returned cleanup closes both.
func (a *app) newClient(ctx context.Context) (*client.Client, *redis.Client, func(), error) {
	cc := a.cfg.ClientConfig()

	var redisClient *redis.Client
	if a.cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, nil, fmt.Errorf("connect to Redis at %s: %w", a.cfg.Redis.Addr, err)
		}
		a.logger.Info().Str("addr", a.cfg.Redis.Addr).Msg("Connected to Redis")
		cc.Redis = redisClient
	}

	c, err := client.New(cc)
	if err != nil {
		if redisClient != nil {
			redisClient.Close()
		}
		return nil, nil, nil, err
	}

	cleanup := func() {
		c.Close()
		if redisClient != nil {
			redisClient.Close()
		}
	}
	return c, redisClient, cleanup, nil
}
