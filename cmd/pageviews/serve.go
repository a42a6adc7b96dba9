package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/wiki-pageviews-client/pkg/batch"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/client"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/logging"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/metrics"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/pageviews"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// requestTimeout bounds one /pageviews call including all of its pages.
const requestTimeout = 30 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve statistics over HTTP",
		Long: `Serve page-view statistics as JSON.

Endpoints:
  GET /health     liveness
  GET /ready      readiness (pings Redis when configured)
  GET /metrics    Prometheus metrics
  GET /pageviews?url=URL[&url=URL...]&start=YYYY-MM-DD&end=YYYY-MM-DD[&access=..&agent=..&granularity=..]`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), a)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	return cmd
}

func runServe(parent context.Context, a *app) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, redisClient, cleanup, err := a.newClient(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	logger := logging.NewLogger(logging.ComponentServer)
	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           newServer(c, redisClient, a, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("user_agent", c.Config().UserAgent).
			Msg("Starting pageviews server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newServer(c *client.Client, redisClient *redis.Client, a *app, logger zerolog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /pageviews", pageviewsHandler(c, a, logger))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

type pageError struct {
	URL        string `json:"url"`
	Error      string `json:"error"`
	StatusCode int    `json:"status,omitempty"`
}

type pageviewsResponse struct {
	Rows   []map[string]any `json:"rows"`
	Errors []pageError      `json:"errors,omitempty"`
	Error  string           `json:"error,omitempty"`
}

func pageviewsHandler(c *client.Client, a *app, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		urls := q["url"]
		if len(urls) == 0 {
			writeError(w, http.StatusBadRequest, "at least one url parameter is required")
			return
		}
		start, err := parseDate("start date", q.Get("start"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		end, err := parseDate("end date", q.Get("end"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts, err := a.requestOptions(q.Get("access"), q.Get("agent"), q.Get("granularity"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		results, err := c.FetchMany(ctx, urls, start, end, opts)

		resp := pageviewsResponse{Rows: results.Merge().Table().Records()}
		for _, res := range results.Failed() {
			resp.Errors = append(resp.Errors, toPageError(res))
		}

		status := http.StatusOK
		switch {
		case err != nil:
			logger.Warn().Err(err).Int("pages", len(urls)).Msg("Batch aborted")
			resp.Error = err.Error()
			status = abortStatus(err)
		case len(resp.Errors) == len(results):
			status = failureStatus(results)
		}
		writeJSON(w, status, resp)
	}
}

func toPageError(res batch.Result) pageError {
	pe := pageError{URL: res.PageURL, Error: res.Err.Error()}
	var upErr *pageviews.UpstreamError
	if errors.As(res.Err, &upErr) {
		pe.StatusCode = upErr.StatusCode
	}
	return pe
}

// failureStatus picks the status when no page succeeded: 400 if every page
// was invalid input, 502 otherwise.
func failureStatus(results batch.Results) int {
	for _, res := range results {
		var valErr *pageviews.ValidationError
		if !errors.As(res.Err, &valErr) {
			return http.StatusBadGateway
		}
	}
	return http.StatusBadRequest
}

// abortStatus picks the status for a batch that stopped early.
func abortStatus(err error) int {
	var valErr *pageviews.ValidationError
	var cfgErr *pageviews.ConfigError
	switch {
	case errors.As(err, &valErr):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
