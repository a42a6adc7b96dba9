// Package client provides the HTTP client for the Wikimedia pageviews API
// with a shared connection pool, throttle gating and typed errors.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/wiki-pageviews-client/pkg/batch"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/logging"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/pageviews"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultBaseURL is the per-article pageviews endpoint.
const DefaultBaseURL = "https://wikimedia.org/api/rest_v1/metrics/pageviews/per-article"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 32 << 20

// Prometheus metrics for client operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pageviews_requests_total",
		Help: "Total pageviews API requests by project and status",
	}, []string{"project", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pageviews_request_duration_seconds",
		Help:    "Pageviews API request duration in seconds by project",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"project"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pageviews_errors_total",
		Help: "Total pageviews API errors by class",
	}, []string{"class"})

	inflightRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pageviews_inflight_requests",
		Help: "Pageviews API requests currently in flight",
	})
)

// Client is the pageviews API client. It is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	baseURL    string
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// User-Agent header (REQUIRED by the Wikimedia User-Agent policy)
	// Format: "AppName/Version (https://example.org; contact@example.com)"
	UserAgent string

	// BaseURL of the per-article endpoint (default DefaultBaseURL)
	BaseURL string

	// Timeout for one request, including reading the body
	Timeout time.Duration

	// MaxConnections caps simultaneous connections and in-flight batch fetches
	MaxConnections int

	// RequestsPerSecond for the client-side token bucket (0 disables)
	RequestsPerSecond float64

	// Redis shares the 429 throttle window across instances (optional)
	Redis *redis.Client

	// FailFast makes FetchMany abort on the first failed page
	FailFast bool
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:         userAgent,
		BaseURL:           DefaultBaseURL,
		Timeout:           60 * time.Second,
		MaxConnections:    10,
		RequestsPerSecond: 100,
	}
}

// Validate checks the configuration and returns a *pageviews.ConfigError.
func (c Config) Validate() error {
	if strings.TrimSpace(c.UserAgent) == "" {
		return &pageviews.ConfigError{Field: "user_agent", Reason: "is required"}
	}
	if c.Timeout <= 0 {
		return &pageviews.ConfigError{Field: "timeout", Reason: fmt.Sprintf("must be positive (got %s)", c.Timeout)}
	}
	if c.MaxConnections <= 0 {
		return &pageviews.ConfigError{Field: "max_connections", Reason: fmt.Sprintf("must be a positive integer (got %d)", c.MaxConnections)}
	}
	if c.RequestsPerSecond < 0 {
		return &pageviews.ConfigError{Field: "requests_per_second", Reason: "must not be negative"}
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return &pageviews.ConfigError{Field: "base_url", Reason: fmt.Sprintf("%q is not an absolute URL", c.BaseURL)}
		}
	}
	return nil
}

// New creates a new pageviews client.
func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}

	logger := logging.NewLogger(logging.ComponentClient)

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if cfg.Redis != nil {
		store = ratelimit.NewRedisStore(cfg.Redis)
	}
	tracker := ratelimit.NewTracker(store, cfg.RequestsPerSecond, logging.NewLogger(logging.ComponentRateLimit))

	// The pool is owned by the client: MaxConnsPerHost is a hard ceiling and
	// further requests queue inside the transport.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxConnsPerHost = cfg.MaxConnections
	transport.MaxIdleConnsPerHost = cfg.MaxConnections

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		transport: transport,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		tracker:   tracker,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Config returns the configuration the client was built with.
func (c *Client) Config() Config {
	return c.config
}

// Fetch performs one statistics request. Failures are *pageviews.UpstreamError
// (non-200 status, network error, throttle refusal) or *pageviews.ParseError.
func (c *Client) Fetch(ctx context.Context, req pageviews.Request) (pageviews.PageStatistics, error) {
	project := req.Page.Project
	path := req.Path()

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(project).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Gate on token bucket and throttle window
	if err := c.tracker.Wait(ctx); err != nil {
		return pageviews.PageStatistics{}, c.networkError(req, "rate limiter wait", err)
	}

	allowed, err := c.tracker.ShouldAllowRequest(ctx)
	if !allowed && !errors.Is(err, ratelimit.ErrThrottled) {
		requestsTotal.WithLabelValues(project, "store_error").Inc()
		return pageviews.PageStatistics{}, c.networkError(req, "throttle store unavailable", err)
	}
	if !allowed {
		errorsTotal.WithLabelValues(string(pageviews.ErrorClassRateLimit)).Inc()
		requestsTotal.WithLabelValues(project, "throttled").Inc()
		return pageviews.PageStatistics{}, &pageviews.UpstreamError{
			Page:       req.Page,
			ErrorClass: pageviews.ErrorClassRateLimit,
			Message:    "request not sent",
			Err:        err,
		}
	}

	// Step 2: Build and send the request
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return pageviews.PageStatistics{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Api-User-Agent", c.config.UserAgent)
	httpReq.Header.Set("Accept", "application/json")

	c.logger.Debug().
		Str("page", req.Page.String()).
		Str("path", path).
		Msg("Executing pageviews request")

	inflightRequests.Inc()
	resp, err := c.httpClient.Do(httpReq)
	inflightRequests.Dec()
	if err != nil {
		requestsTotal.WithLabelValues(project, "network_error").Inc()
		return pageviews.PageStatistics{}, c.networkError(req, "request failed", err)
	}
	defer resp.Body.Close()

	requestsTotal.WithLabelValues(project, strconv.Itoa(resp.StatusCode)).Inc()

	if err := c.tracker.UpdateFromResponse(ctx, resp.StatusCode, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to record throttle state")
	}

	// Step 3: Map non-success statuses
	if resp.StatusCode != http.StatusOK {
		errClass := c.classifyError(resp, nil)
		errorsTotal.WithLabelValues(string(errClass)).Inc()

		c.logger.Warn().
			Str("page", req.Page.String()).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Pageviews request error")

		return pageviews.PageStatistics{}, &pageviews.UpstreamError{
			Page:       req.Page,
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    upstreamMessage(resp),
		}
	}

	// Step 4: Parse
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return pageviews.PageStatistics{}, c.networkError(req, "read response body", err)
	}

	stats, err := pageviews.ParseResponse(req, body)
	if err != nil {
		errorsTotal.WithLabelValues("parse").Inc()
		c.logger.Warn().Err(err).Str("page", req.Page.String()).Msg("Pageviews response did not parse")
		return pageviews.PageStatistics{}, err
	}

	c.logger.Debug().
		Str("page", req.Page.String()).
		Int("entries", stats.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Pageviews request succeeded")

	return stats, nil
}

// FetchPage builds a request from a page URL and fetches it.
func (c *Client) FetchPage(ctx context.Context, pageURL string, start, end time.Time, opts pageviews.Options) (pageviews.PageStatistics, error) {
	req, err := pageviews.Build(pageURL, start, end, opts)
	if err != nil {
		return pageviews.PageStatistics{}, err
	}
	return c.Fetch(ctx, req)
}

// FetchMany fetches several pages over a shared date range with at most
// MaxConnections fetches in flight. Results are in input order; see package
// batch for the failure policy.
func (c *Client) FetchMany(ctx context.Context, pageURLs []string, start, end time.Time, opts pageviews.Options) (batch.Results, error) {
	orch, err := c.Batch(c.config.MaxConnections)
	if err != nil {
		return nil, err
	}
	return orch.Run(ctx, pageURLs, start, end, opts)
}

// Batch returns an orchestrator bound to this client with its own
// concurrency cap. Values above MaxConnections still queue in the pool.
func (c *Client) Batch(maxConcurrency int) (*batch.Orchestrator, error) {
	return batch.New(c, batch.Config{
		MaxConcurrency: maxConcurrency,
		FailFast:       c.config.FailFast,
	})
}

// networkError wraps a transport or throttle store failure.
func (c *Client) networkError(req pageviews.Request, msg string, err error) error {
	errClass := c.classifyError(nil, err)
	errorsTotal.WithLabelValues(string(errClass)).Inc()
	c.logger.Error().Err(err).Str("page", req.Page.String()).Str("stage", msg).Msg("HTTP request failed")

	return &pageviews.UpstreamError{
		Page:       req.Page,
		ErrorClass: errClass,
		Message:    msg,
		Err:        err,
	}
}

// classifyError categorizes an error for observability and handling.
func (c *Client) classifyError(resp *http.Response, err error) pageviews.ErrorClass {
	if err != nil {
		return pageviews.ErrorClassNetwork
	}
	if resp == nil {
		return ""
	}
	return pageviews.ClassifyStatus(resp.StatusCode)
}

// upstreamMessage extracts the "detail" or "title" of an API problem
// document, falling back to the status line.
func upstreamMessage(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(body) == 0 {
		return resp.Status
	}

	var problem struct {
		Title  string `json:"title"`
		Detail any    `json:"detail"`
	}
	if json.Unmarshal(body, &problem) != nil {
		return resp.Status
	}

	switch d := problem.Detail.(type) {
	case string:
		if d != "" {
			return resp.Status + ": " + d
		}
	case []any:
		if len(d) > 0 {
			return resp.Status + ": " + fmt.Sprint(d[0])
		}
	}
	if problem.Title != "" {
		return resp.Status + ": " + problem.Title
	}
	return resp.Status
}

// Close releases idle pooled connections.
func (c *Client) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}
