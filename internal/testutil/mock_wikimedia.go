// Package testutil provides a mock Wikimedia pageviews API for tests.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockWikimedia is a configurable mock pageviews server.
// Handlers are keyed by escaped request path, e.g. the value of
// pageviews.Request.Path().
type MockWikimedia struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	fallback MockResponse

	// Tracking
	requestCount      int
	inFlight          int
	peakInFlight      int
	paths             []string
	lastRequestHeader http.Header
}

// NewMockWikimedia creates a new mock server. Unknown paths answer 404 with
// the API's "not found" problem document.
func NewMockWikimedia() *MockWikimedia {
	mock := &MockWikimedia{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		fallback: NewNotFoundResponse(),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.EscapedPath()

		mock.mu.Lock()
		mock.requestCount++
		mock.inFlight++
		if mock.inFlight > mock.peakInFlight {
			mock.peakInFlight = mock.inFlight
		}
		mock.paths = append(mock.paths, path)
		mock.lastRequestHeader = r.Header.Clone()
		handler, exists := mock.handlers[path]
		fallback := mock.fallback
		mock.mu.Unlock()

		defer func() {
			mock.mu.Lock()
			mock.inFlight--
			mock.mu.Unlock()
		}()

		if exists {
			handler(w, r)
			return
		}
		writeResponse(w, r, fallback)
	}))

	return mock
}

// URL returns the mock server URL, usable as the client's BaseURL.
func (m *MockWikimedia) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockWikimedia) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockWikimedia) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.peakInFlight = m.inFlight
	m.paths = nil
	m.lastRequestHeader = nil
}

// SetHandler sets a custom handler for an escaped path.
func (m *MockWikimedia) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for an escaped path.
func (m *MockWikimedia) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		writeResponse(w, r, resp)
	})
}

// SetFallback configures the response for paths without a handler.
func (m *MockWikimedia) SetFallback(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = resp
}

// RequestCount returns the number of requests made to the server.
func (m *MockWikimedia) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// PeakInFlight returns the highest number of requests served at once.
func (m *MockWikimedia) PeakInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.peakInFlight
}

// Paths returns the escaped request paths in arrival order.
func (m *MockWikimedia) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.paths...)
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockWikimedia) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastRequestHeader.Clone()
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// Item is one entry of a mock pageviews response.
type Item struct {
	Timestamp string
	Views     int64
}

// ItemsJSON renders a pageviews response body for the given items.
func ItemsJSON(project, article, access, agent, granularity string, items ...Item) string {
	type item struct {
		Project     string `json:"project"`
		Article     string `json:"article"`
		Granularity string `json:"granularity"`
		Timestamp   string `json:"timestamp"`
		Access      string `json:"access"`
		Agent       string `json:"agent"`
		Views       int64  `json:"views"`
	}

	out := struct {
		Items []item `json:"items"`
	}{Items: make([]item, 0, len(items))}

	for _, it := range items {
		out.Items = append(out.Items, item{
			Project:     project,
			Article:     article,
			Granularity: granularity,
			Timestamp:   it.Timestamp,
			Access:      access,
			Agent:       agent,
			Views:       it.Views,
		})
	}

	data, _ := json.Marshal(out)
	return string(data)
}

// NewItemsResponse creates a 200 OK response with the given body.
func NewItemsResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewNotFoundResponse creates the 404 the API returns for unknown articles.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"type":"https://mediawiki.org/wiki/HyperSwitch/errors/not_found","title":"Not found.","method":"get","detail":"The date(s) you used are valid, but we either do not have data for those date(s), or the project you asked for is not loaded yet."}`,
		Headers: map[string]string{
			"Content-Type": "application/problem+json",
		},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	headers := map[string]string{
		"Content-Type": "application/problem+json",
	}
	if retryAfter != "" {
		headers["Retry-After"] = retryAfter
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"title":"Too many requests","detail":"You have exceeded the request rate limit"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"title":"Internal error"}`,
		Headers: map[string]string{
			"Content-Type": "application/problem+json",
		},
	}
}
