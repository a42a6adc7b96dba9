// Package metrics exposes the Prometheus registry used by the pageviews client.
// Metrics are defined next to the code that records them (client, batch,
// ratelimit) and registered through promauto on the default registerer.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the client.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler serving the default gatherer.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - pageviews_requests_total{project, status} (Counter): upstream calls by project and HTTP status
//   - pageviews_request_duration_seconds{project} (Histogram): upstream call latency
//   - pageviews_errors_total{class} (Counter): failures by class (client, server, rate_limit, network, parse)
//   - pageviews_inflight_requests (Gauge): upstream calls currently in flight
//
// Batch Metrics (pkg/batch):
//   - pageviews_batch_pages_total{outcome} (Counter): pages processed by outcome (ok, invalid, failed, cancelled)
//   - pageviews_batch_duration_seconds (Histogram): wall time of one batch
//
// Throttle Metrics (pkg/ratelimit):
//   - pageviews_throttle_events_total (Counter): 429 responses recorded
//   - pageviews_throttle_blocks_total (Counter): requests refused inside a throttle window
//   - pageviews_throttled_until_seconds (Gauge): unix time the current window ends
//
// Example Prometheus Queries:
//
//   # Upstream error ratio
//   sum(rate(pageviews_errors_total[5m])) / sum(rate(pageviews_requests_total[5m]))
//
//   # P95 request latency
//   histogram_quantile(0.95, rate(pageviews_request_duration_seconds_bucket[5m]))
//
//   # Pages lost to throttling
//   rate(pageviews_throttle_blocks_total[5m])
