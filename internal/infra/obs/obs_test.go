package obs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSyncMetricsOutcomes(t *testing.T) {
	m := NewSyncMetrics(prometheus.NewRegistry())
	m.FetchCompleted("timeline", nil)
	m.FetchCompleted("timeline", errors.New("boom"))
	m.StaleDiscarded("timeline")
	m.UploadCompleted(errors.New("send failed"), true)
	m.UploadCompleted(nil, false)

	if got := testutil.ToFloat64(m.fetches.WithLabelValues("timeline", "error")); got != 1 {
		t.Fatalf("error fetches = %v", got)
	}
	if got := testutil.ToFloat64(m.stale.WithLabelValues("timeline")); got != 1 {
		t.Fatalf("stale = %v", got)
	}
	if got := testutil.ToFloat64(m.uploads.WithLabelValues("orphaned")); got != 1 {
		t.Fatalf("orphaned uploads = %v", got)
	}
}

func TestMiddlewareRecordsRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	mw := Middleware{Metrics: NewHTTPMetrics(reg)}
	router := gin.New()
	router.Use(mw.RequestID(), mw.LoggerMiddleware())
	router.GET("/messages/:id", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFromContext(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/messages/m1", nil)
	req.Header.Set("X-Request-ID", "req-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Body.String() != "req-1" || rec.Header().Get("X-Request-ID") != "req-1" {
		t.Fatalf("request id not propagated: %q", rec.Body.String())
	}
	if got := testutil.ToFloat64(mw.Metrics.requests.WithLabelValues(http.MethodGet, "/messages/:id", "200")); got != 1 {
		t.Fatalf("requests = %v", got)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	if got := testutil.ToFloat64(mw.Metrics.requests.WithLabelValues(http.MethodGet, "unmatched", "404")); got != 1 {
		t.Fatalf("unmatched requests = %v", got)
	}
}

func TestRequestIDReplacesMalformedHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware{}.RequestID())
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFromContext(c.Request.Context()))
	})

	for _, header := range []string{"", "has spaces", strings.Repeat("x", 65), "<script>"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			req.Header.Set(HeaderRequestID, header)
		}
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		id := rec.Header().Get(HeaderRequestID)
		if _, err := uuid.Parse(id); err != nil || rec.Body.String() != id {
			t.Fatalf("header %q: expected a fresh uuid, got %q (body %q)", header, id, rec.Body.String())
		}
	}
}

func TestLevelForStatus(t *testing.T) {
	cases := map[int]slog.Level{
		http.StatusOK:                  slog.LevelInfo,
		http.StatusNotFound:            slog.LevelWarn,
		http.StatusBadGateway:          slog.LevelError,
		http.StatusInternalServerError: slog.LevelError,
	}
	for status, want := range cases {
		if got := levelFor(status); got != want {
			t.Fatalf("status %d: expected %v, got %v", status, want, got)
		}
	}
}

func TestReadyzReportsFailedChecks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := HealthHandlers{Checks: map[string]func(context.Context) error{
		"mongo": func(context.Context) error { return nil },
		"redis": func(context.Context) error { return errors.New("connection refused") },
	}}
	router := gin.New()
	router.GET("/readyz", h.Readyz)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if _, ok := body.Errors["redis"]; !ok || len(body.Errors) != 1 {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestLoggerFormatsByEnv(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "prod", "warn").Info("hidden")
	newLogger(&buf, "prod", "warn").Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected output %q", out)
	}
}
