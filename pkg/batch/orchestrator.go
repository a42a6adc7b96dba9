package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/wiki-pageviews-client/pkg/logging"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/pageviews"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Prometheus metrics for batch runs.
var (
	batchPagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pageviews_batch_pages_total",
		Help: "Pages processed by batch runs by outcome",
	}, []string{"outcome"})

	batchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pageviews_batch_duration_seconds",
		Help:    "Wall time of one batch run in seconds",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})
)

// ErrAborted marks pages that were not fetched because a FailFast batch
// stopped early.
var ErrAborted = errors.New("batch aborted")

// Fetcher fetches a single page. *client.Client implements it.
type Fetcher interface {
	Fetch(ctx context.Context, req pageviews.Request) (pageviews.PageStatistics, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req pageviews.Request) (pageviews.PageStatistics, error)

// Fetch implements Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req pageviews.Request) (pageviews.PageStatistics, error) {
	return f(ctx, req)
}

// Config holds batch configuration.
type Config struct {
	// MaxConcurrency is the maximum number of fetches in flight. Must be > 0.
	MaxConcurrency int

	// FailFast aborts the batch on the first per-page failure.
	FailFast bool

	// PageTimeout bounds each fetch (0 = only the caller's context applies).
	PageTimeout time.Duration
}

// DefaultConfig returns the default batch configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		FailFast:       false,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.MaxConcurrency <= 0 {
		return &pageviews.ConfigError{
			Field:  "max_concurrency",
			Reason: fmt.Sprintf("must be a positive integer (got %d)", c.MaxConcurrency),
		}
	}
	if c.PageTimeout < 0 {
		return &pageviews.ConfigError{Field: "page_timeout", Reason: "must not be negative"}
	}
	return nil
}

// Orchestrator runs batches against a Fetcher.
type Orchestrator struct {
	fetcher Fetcher
	config  Config
	logger  zerolog.Logger
}

// New creates an orchestrator. Returns a ConfigError for invalid configuration.
func New(fetcher Fetcher, cfg Config) (*Orchestrator, error) {
	if fetcher == nil {
		return nil, &pageviews.ConfigError{Field: "fetcher", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Orchestrator{
		fetcher: fetcher,
		config:  cfg,
		logger:  logging.NewLogger(logging.ComponentBatch),
	}, nil
}

// Run builds one request per page URL and fetches them concurrently.
// The returned Results has one slot per input URL, in input order.
//
// The error is non-nil only when the batch as a whole failed: FailFast hit a
// failure, or ctx was cancelled. Per-page failures in partial mode are
// available through Results.Err.
func (o *Orchestrator) Run(ctx context.Context, pageURLs []string, start, end time.Time, opts pageviews.Options) (Results, error) {
	results := make(Results, len(pageURLs))
	for i, pageURL := range pageURLs {
		results[i] = Result{Index: i, PageURL: pageURL}

		req, err := pageviews.Build(pageURL, start, end, opts)
		if err != nil {
			results[i].Err = err
			if o.config.FailFast {
				batchPagesTotal.WithLabelValues("invalid").Inc()
				abortUnstarted(results, pageURLs, i)
				return results, fmt.Errorf("batch aborted: %w", err)
			}
			continue
		}
		results[i].Request = req
	}

	return o.run(ctx, results)
}

// abortUnstarted marks every slot except failed as never fetched.
func abortUnstarted(results Results, pageURLs []string, failed int) {
	for j := range results {
		if j == failed {
			continue
		}
		results[j] = Result{
			Index:   j,
			PageURL: pageURLs[j],
			Request: results[j].Request,
			Err:     fmt.Errorf("%s: not started: %w", pageURLs[j], ErrAborted),
		}
		batchPagesTotal.WithLabelValues("cancelled").Inc()
	}
}

// RunRequests fetches already built requests.
func (o *Orchestrator) RunRequests(ctx context.Context, reqs []pageviews.Request) (Results, error) {
	results := make(Results, len(reqs))
	for i, req := range reqs {
		results[i] = Result{Index: i, PageURL: req.PageURL, Request: req}
	}
	return o.run(ctx, results)
}

func (o *Orchestrator) run(ctx context.Context, results Results) (Results, error) {
	start := time.Now()
	defer func() {
		batchDuration.Observe(time.Since(start).Seconds())
	}()

	o.logger.Info().
		Int("pages", len(results)).
		Int("max_in_flight", o.config.MaxConcurrency).
		Bool("fail_fast", o.config.FailFast).
		Msg("Starting batch fetch")

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.MaxConcurrency)

	var completed atomic.Int64

	for i := range results {
		if results[i].Err != nil {
			batchPagesTotal.WithLabelValues("invalid").Inc()
			o.logger.Warn().
				Err(results[i].Err).
				Int("index", i).
				Str("url", results[i].PageURL).
				Msg("Skipping invalid page")
			continue
		}

		// g.Go blocks while MaxConcurrency fetches are running.
		if gctx.Err() != nil {
			results[i].Err = fmt.Errorf("%s: not started: %w", results[i].Request.Page, context.Cause(gctx))
			batchPagesTotal.WithLabelValues("cancelled").Inc()
			continue
		}

		g.Go(func() error {
			slot := &results[i]

			fetchCtx := gctx
			if o.config.PageTimeout > 0 {
				var cancel context.CancelFunc
				fetchCtx, cancel = context.WithTimeout(gctx, o.config.PageTimeout)
				defer cancel()
			}

			stats, err := o.fetcher.Fetch(fetchCtx, slot.Request)
			done := completed.Add(1)

			// Progress logging every 50 pages
			if done%50 == 0 {
				o.logger.Info().
					Int64("completed", done).
					Int("total", len(results)).
					Float64("progress_pct", float64(done)/float64(len(results))*100).
					Msg("Batch progress")
			}

			if err != nil {
				slot.Err = err
				outcome := "failed"
				if errors.Is(err, context.Canceled) {
					outcome = "cancelled"
				}
				batchPagesTotal.WithLabelValues(outcome).Inc()

				o.logger.Warn().
					Err(err).
					Int("index", slot.Index).
					Str("page", slot.Request.Page.String()).
					Msg("Page fetch failed")

				if o.config.FailFast {
					return err
				}
				return nil
			}

			slot.Stats = stats
			batchPagesTotal.WithLabelValues("ok").Inc()
			return nil
		})
	}

	err := g.Wait()

	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	failed := len(results.Failed())
	event := o.logger.Info()
	if failed > 0 {
		event = o.logger.Warn()
	}
	event.
		Int("pages", len(results)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Batch fetch complete")

	if err != nil {
		return results, fmt.Errorf("batch aborted: %w", err)
	}
	return results, nil
}
