package httpapi

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hatsunemiku3939/nexusconsumer"
	"github.com/hatsunemiku3939/nexusconsumer/config"
	"github.com/hatsunemiku3939/nexusconsumer/internal/jsoncodec"
	"github.com/hatsunemiku3939/nexusconsumer/metrics"
)

const testAPIKey = "nexusApiKey"

type order struct {
	OrderID string `json:"orderId"`
}

func init() {
	gin.SetMode(gin.TestMode)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type noNotify struct{}

func (noNotify) NotifyOnDelay(context.Context, string, nexusconsumer.Headers) nexusconsumer.NotifyResult {
	return nexusconsumer.NotifyResult{}
}

func newTestServer(t *testing.T, handler nexusconsumer.Handler[order], reg *prometheus.Registry) *Server {
	t.Helper()
	nexusCfg := config.Default().Nexus
	nexusCfg.APIKey = testAPIKey

	opts := []nexusconsumer.Option{
		nexusconsumer.WithLogger(discardLogger()),
		nexusconsumer.WithNotifier(noNotify{}),
	}
	var gatherer prometheus.Gatherer
	if reg != nil {
		collector := metrics.NewCollector(reg)
		require.NoError(t, collector.Register())
		opts = append(opts, nexusconsumer.WithRecorder(collector))
		gatherer = reg
	}

	d, err := nexusconsumer.NewDispatcher[order](handler, nexusCfg, opts...)
	require.NoError(t, err)

	mux := nexusconsumer.NewQueueMux()
	mux.Handle("orders", d)

	cfg := config.Default()
	cfg.Server.MaxBodyBytes = 64
	return New(cfg.Server, cfg.Metrics, mux, gatherer, discardLogger())
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) nexusconsumer.DispatcherResponse {
	t.Helper()
	var resp nexusconsumer.DispatcherResponse
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestDispatchSuccess(t *testing.T) {
	var got order
	srv := newTestServer(t, nexusconsumer.HandlerFunc[order](func(_ context.Context, _ string, m order) error {
		got = m
		return nil
	}), nil)

	req := httptest.NewRequest(http.MethodPost, "/dispatch/orders", strings.NewReader(`{"orderId":"o-1"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", testAPIKey)
	req.Header.Set("X-Trace-Id", "abc")
	rec := httptest.NewRecorder()

	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	resp := decodeResponse(t, rec)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "abc", resp.Info["X-Trace-Id"])
	assert.Equal(t, testAPIKey, resp.Info["X-Api-Key"])
	assert.Equal(t, order{OrderID: "o-1"}, got)
}

func TestDispatchUnauthorized(t *testing.T) {
	srv := newTestServer(t, nexusconsumer.HandlerFunc[order](func(context.Context, string, order) error {
		t.Fatal("handler must not run")
		return nil
	}), nil)

	req := httptest.NewRequest(http.MethodPost, "/dispatch/orders", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, "Missing private api key in request", resp.Info[nexusconsumer.HeaderCause])
}

func TestDispatchServiceError(t *testing.T) {
	srv := newTestServer(t, nexusconsumer.HandlerFunc[order](func(context.Context, string, order) error {
		return nexusconsumer.NewServiceError(http.StatusConflict, "duplicate order")
	}), nil)

	req := httptest.NewRequest(http.MethodPost, "/dispatch/orders", strings.NewReader(`{"orderId":"o-1"}`))
	req.Header.Set("x-api-key", testAPIKey)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate order", decodeResponse(t, rec).Info[nexusconsumer.HeaderCause])
}

func TestDispatchUnknownQueue(t *testing.T) {
	srv := newTestServer(t, nexusconsumer.HandlerFunc[order](func(context.Context, string, order) error { return nil }), nil)

	req := httptest.NewRequest(http.MethodPost, "/dispatch/refunds", strings.NewReader(`{}`))
	req.Header.Set("x-api-key", testAPIKey)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDispatchBodyTooLarge(t *testing.T) {
	srv := newTestServer(t, nexusconsumer.HandlerFunc[order](func(context.Context, string, order) error { return nil }), nil)

	body := `{"orderId":"` + strings.Repeat("x", 128) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/dispatch/orders", strings.NewReader(body))
	req.Header.Set("x-api-key", testAPIKey)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge, decodeResponse(t, rec).Status)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nexusconsumer.HandlerFunc[order](func(context.Context, string, order) error { return nil }), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	srv := newTestServer(t, nexusconsumer.HandlerFunc[order](func(context.Context, string, order) error { return nil }), reg)

	req := httptest.NewRequest(http.MethodPost, "/dispatch/orders", strings.NewReader(`{"orderId":"o-1"}`))
	req.Header.Set("x-api-key", testAPIKey)
	srv.Handler().ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `nexus_consumer_dispatch_total{outcome="none",queue="orders",status="200"} 1`)
}

func TestMetricsRouteDisabledWithoutGatherer(t *testing.T) {
	srv := newTestServer(t, nexusconsumer.HandlerFunc[order](func(context.Context, string, order) error { return nil }), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
