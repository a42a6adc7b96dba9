package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/wiki-pageviews-client/internal/config"
	"github.com/Sternrassler/wiki-pageviews-client/internal/testutil"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/client"
	"github.com/Sternrassler/wiki-pageviews-client/pkg/pageviews"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const testUserAgent = "pageviews-test/1.0 (test@example.com)"

// isolateConfig keeps the developer's config file and env out of the tests.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PAGEVIEWS_USER_AGENT", "")
	t.Setenv("PAGEVIEWS_REDIS_ADDR", "")
	t.Setenv("NO_COLOR", "1")
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func testApp(baseURL string) *app {
	a := &app{cfg: config.DefaultConfig(), logger: zerolog.Nop()}
	a.cfg.Client.UserAgent = testUserAgent
	a.cfg.Client.BaseURL = baseURL
	return a
}

func newTestServer(t *testing.T, mock *testutil.MockWikimedia) http.Handler {
	t.Helper()
	return newTestServerWithApp(t, testApp(mock.URL()))
}

func newTestServerWithApp(t *testing.T, a *app) http.Handler {
	t.Helper()

	c, redisClient, cleanup, err := a.newClient(context.Background())
	if err != nil {
		t.Fatalf("newClient() error = %v", err)
	}
	t.Cleanup(cleanup)

	return newServer(c, redisClient, a, zerolog.Nop())
}

// stubPage registers a two-day response for pageURL.
func stubPage(t *testing.T, mock *testutil.MockWikimedia, pageURL string, opts pageviews.Options) {
	t.Helper()

	req, err := pageviews.Build(pageURL, date(2025, 1, 1), date(2025, 1, 2), opts)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	body := testutil.ItemsJSON(req.Page.Project, req.Page.Title, string(req.Access), string(req.Agent), string(req.Granularity),
		testutil.Item{Timestamp: "2025010100", Views: 5},
		testutil.Item{Timestamp: "2025010200", Views: 7},
	)
	mock.SetResponse(req.Path(), testutil.NewItemsResponse(body))
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("no_redis", func(t *testing.T) {
		w := httptest.NewRecorder()
		readyHandler(nil)(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer redisClient.Close()
	handler := readyHandler(redisClient)

	t.Run("ready", func(t *testing.T) {
		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})

	t.Run("not_ready_redis_down", func(t *testing.T) {
		mr.Close()

		w := httptest.NewRecorder()
		handler(w, httptest.NewRequest("GET", "/ready", nil))

		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected status 503, got %d", w.Code)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	mock := testutil.NewMockWikimedia()
	defer mock.Close()

	handler := newTestServer(t, mock)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "# HELP") || !strings.Contains(body, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	// Gauges are exported even before the first request.
	if !strings.Contains(body, "pageviews_inflight_requests") {
		t.Error("Expected metrics output to contain pageviews_inflight_requests")
	}
}

func TestPageviewsHandler(t *testing.T) {
	mock := testutil.NewMockWikimedia()
	defer mock.Close()

	found := "https://en.wikipedia.org/wiki/Found"
	stubPage(t, mock, found, pageviews.Options{})
	stubPage(t, mock, found, pageviews.Options{Access: pageviews.AccessDesktop})
	missing := "https://en.wikipedia.org/wiki/Missing"

	handler := newTestServer(t, mock)

	tests := []struct {
		name       string
		query      url.Values
		wantStatus int
		wantRows   int
		wantErrors int
	}{
		{
			name:       "single page",
			query:      url.Values{"url": {found}, "start": {"2025-01-01"}, "end": {"2025-01-02"}},
			wantStatus: http.StatusOK,
			wantRows:   2,
		},
		{
			name:       "access filter",
			query:      url.Values{"url": {found}, "start": {"20250101"}, "end": {"20250102"}, "access": {"desktop"}},
			wantStatus: http.StatusOK,
			wantRows:   2,
		},
		{
			name:       "partial failure",
			query:      url.Values{"url": {found, missing}, "start": {"2025-01-01"}, "end": {"2025-01-02"}},
			wantStatus: http.StatusOK,
			wantRows:   2,
			wantErrors: 1,
		},
		{
			name:       "all upstream failures",
			query:      url.Values{"url": {missing}, "start": {"2025-01-01"}, "end": {"2025-01-02"}},
			wantStatus: http.StatusBadGateway,
			wantErrors: 1,
		},
		{
			name:       "all invalid urls",
			query:      url.Values{"url": {"https://example.com/x"}, "start": {"2025-01-01"}, "end": {"2025-01-02"}},
			wantStatus: http.StatusBadRequest,
			wantErrors: 1,
		},
		{
			name:       "missing url",
			query:      url.Values{"start": {"2025-01-01"}, "end": {"2025-01-02"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad date",
			query:      url.Values{"url": {found}, "start": {"yesterday"}, "end": {"2025-01-02"}},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad agent",
			query:      url.Values{"url": {found}, "start": {"2025-01-01"}, "end": {"2025-01-02"}, "agent": {"robots"}},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("GET", "/pageviews?"+tt.query.Encode(), nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus == http.StatusBadRequest && tt.wantErrors == 0 {
				return
			}

			var resp pageviewsResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if len(resp.Rows) != tt.wantRows {
				t.Errorf("len(Rows) = %d, want %d", len(resp.Rows), tt.wantRows)
			}
			if len(resp.Errors) != tt.wantErrors {
				t.Errorf("len(Errors) = %d, want %d", len(resp.Errors), tt.wantErrors)
			}
		})
	}
}

func TestPageviewsHandler_ErrorCarriesStatus(t *testing.T) {
	mock := testutil.NewMockWikimedia()
	defer mock.Close()

	handler := newTestServer(t, mock)

	q := url.Values{"url": {"https://en.wikipedia.org/wiki/Missing"}, "start": {"2025-01-01"}, "end": {"2025-01-02"}}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/pageviews?"+q.Encode(), nil))

	var resp pageviewsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].StatusCode != http.StatusNotFound {
		t.Errorf("Errors = %+v, want one 404", resp.Errors)
	}
}

func TestPageviewsHandler_FailFast(t *testing.T) {
	mock := testutil.NewMockWikimedia()
	defer mock.Close()

	found := "https://en.wikipedia.org/wiki/Found"
	stubPage(t, mock, found, pageviews.Options{})

	a := testApp(mock.URL())
	a.cfg.Client.FailFast = true
	handler := newTestServerWithApp(t, a)

	tests := []struct {
		name       string
		urls       []string
		wantStatus int
		wantError  string
	}{
		{
			name:       "invalid url",
			urls:       []string{"not-a-wiki-url"},
			wantStatus: http.StatusBadRequest,
			wantError:  "not-a-wiki-url",
		},
		{
			name:       "invalid url after valid one",
			urls:       []string{found, "not-a-wiki-url"},
			wantStatus: http.StatusBadRequest,
			wantError:  "not-a-wiki-url",
		},
		{
			name:       "upstream failure",
			urls:       []string{"https://en.wikipedia.org/wiki/Missing"},
			wantStatus: http.StatusBadGateway,
			wantError:  "404",
		},
		{
			name:       "all found",
			urls:       []string{found},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := url.Values{"url": tt.urls, "start": {"2025-01-01"}, "end": {"2025-01-02"}}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, httptest.NewRequest("GET", "/pageviews?"+q.Encode(), nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}

			var resp pageviewsResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if tt.wantError == "" {
				if resp.Error != "" || len(resp.Errors) != 0 {
					t.Errorf("response errors = %q %+v, want none", resp.Error, resp.Errors)
				}
				return
			}
			if !strings.Contains(resp.Error, tt.wantError) {
				t.Errorf("Error = %q, want it to contain %q", resp.Error, tt.wantError)
			}
			if len(resp.Errors) != len(tt.urls) {
				t.Errorf("len(Errors) = %d, want %d", len(resp.Errors), len(tt.urls))
			}
		})
	}
}

func TestFetchCommand(t *testing.T) {
	isolateConfig(t)

	mock := testutil.NewMockWikimedia()
	defer mock.Close()

	pages := []string{"https://en.wikipedia.org/wiki/Alpha", "https://de.m.wikipedia.org/wiki/Beta"}
	for _, p := range pages {
		stubPage(t, mock, p, pageviews.Options{})
	}

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{
		"--user-agent", testUserAgent,
		"--base-url", mock.URL(),
		"--log-level", "disabled",
		"fetch", "--start", "2025-01-01", "--end", "2025-01-02", "--format", "csv",
	}, pages...))

	if err := cmd.Execute(); err != nil {
		t.Fatalf("fetch failed: %v\nstderr: %s", err, stderr.String())
	}

	want := "project,article,granularity,access,agent,timestamp,views\n" +
		"en.wikipedia,Alpha,daily,all-access,user,2025-01-01,5\n" +
		"en.wikipedia,Alpha,daily,all-access,user,2025-01-02,7\n" +
		"de.wikipedia,Beta,daily,all-access,user,2025-01-01,5\n" +
		"de.wikipedia,Beta,daily,all-access,user,2025-01-02,7\n"
	if stdout.String() != want {
		t.Errorf("stdout:\n%s\nwant:\n%s", stdout.String(), want)
	}
	if mock.LastRequestHeader().Get("User-Agent") != testUserAgent {
		t.Errorf("User-Agent = %q, want %q", mock.LastRequestHeader().Get("User-Agent"), testUserAgent)
	}
}

func TestFetchCommand_FailedPage(t *testing.T) {
	isolateConfig(t)

	mock := testutil.NewMockWikimedia()
	defer mock.Close()

	found := "https://en.wikipedia.org/wiki/Found"
	stubPage(t, mock, found, pageviews.Options{})

	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs([]string{
		"--user-agent", testUserAgent,
		"--base-url", mock.URL(),
		"--log-level", "disabled",
		"fetch", "--start", "2025-01-01", "--end", "2025-01-02", "--format", "json",
		found, "https://en.wikipedia.org/wiki/Missing",
	})

	err := cmd.Execute()
	if err == nil {
		t.Fatal("expected error for failed page, got nil")
	}
	if !strings.Contains(err.Error(), "1 of 2 pages failed") {
		t.Errorf("error = %v, want page failure count", err)
	}
	if !strings.Contains(stderr.String(), "[ERROR] https://en.wikipedia.org/wiki/Missing") {
		t.Errorf("stderr missing page error:\n%s", stderr.String())
	}

	var records []map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &records); err != nil {
		t.Fatalf("stdout is not JSON: %v\n%s", err, stdout.String())
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
}

func TestFetchCommand_Validation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no urls", args: []string{"fetch", "--start", "2025-01-01", "--end", "2025-01-02"}},
		{name: "missing start", args: []string{"fetch", "--end", "2025-01-02", "https://en.wikipedia.org/wiki/A"}},
		{name: "bad format", args: []string{"fetch", "--start", "2025-01-01", "--end", "2025-01-02", "--format", "xml", "https://en.wikipedia.org/wiki/A"}},
		{name: "bad granularity", args: []string{"fetch", "--start", "2025-01-01", "--end", "2025-01-02", "--granularity", "hourly", "https://en.wikipedia.org/wiki/A"}},
		{name: "no user agent", args: []string{"fetch", "--start", "2025-01-01", "--end", "2025-01-02", "https://en.wikipedia.org/wiki/A"}},
		{name: "bad log level", args: []string{"--log-level", "loud", "fetch", "--start", "2025-01-01", "--end", "2025-01-02", "https://en.wikipedia.org/wiki/A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateConfig(t)

			cmd := newRootCmd()
			cmd.SetOut(io.Discard)
			cmd.SetErr(io.Discard)
			cmd.SetArgs(tt.args)

			if err := cmd.Execute(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestRootCmd_Help(t *testing.T) {
	buf := new(bytes.Buffer)
	cmd := newRootCmd()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("root --help failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"fetch", "serve"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected help output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "2025-01-31", want: "2025-01-31"},
		{input: "20250131", want: "2025-01-31"},
		{input: " 2025-02-01 ", want: "2025-02-01"},
		{input: "31.01.2025", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDate("start date", tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDate(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got.Format("2006-01-02") != tt.want {
				t.Errorf("parseDate(%q) = %s, want %s", tt.input, got.Format("2006-01-02"), tt.want)
			}
		})
	}
}

func TestNewClient_RedisUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	a := testApp(client.DefaultBaseURL)
	a.cfg.Redis.Addr = addr

	if _, _, _, err := a.newClient(context.Background()); err == nil {
		t.Error("expected error for unreachable Redis, got nil")
	}
}
