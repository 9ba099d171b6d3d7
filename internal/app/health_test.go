package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func doRequest(t *testing.T, h http.Handler, method, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if method != http.MethodHead && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	svc, _ := newTestService(&fakeStore{}, nil)
	h := NewHTTPServer(svc, nil, nil, nil).Handler()

	rec, body := doRequest(t, h, http.MethodGet, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec, _ = doRequest(t, h, http.MethodHead, "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReady(t *testing.T) {
	t.Run("database and cache up", func(t *testing.T) {
		svc, _ := newTestService(&fakeStore{}, nil)
		cache := pingFunc(func(context.Context) error { return nil })
		h := NewHTTPServer(svc, cache, nil, nil).Handler()

		rec, body := doRequest(t, h, http.MethodGet, "/api/ready")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ready", body["status"])
		checks := body["checks"].(map[string]any)
		assert.Equal(t, "ok", checks["cache"].(map[string]any)["status"])
	})

	t.Run("database down", func(t *testing.T) {
		fs := &fakeStore{pingFn: func(context.Context) error { return errors.New("dial tcp: refused") }}
		svc, _ := newTestService(fs, nil)
		h := NewHTTPServer(svc, nil, nil, nil).Handler()

		rec, body := doRequest(t, h, http.MethodGet, "/api/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, false, body["ok"])
		database := body["checks"].(map[string]any)["database"].(map[string]any)
		assert.Equal(t, "error", database["status"])
		assert.Equal(t, "dial tcp: refused", database["error"])
	})

	t.Run("cache down degrades", func(t *testing.T) {
		svc, _ := newTestService(&fakeStore{}, nil)
		cache := pingFunc(func(context.Context) error { return errors.New("circuit breaker is open") })
		h := NewHTTPServer(svc, cache, nil, nil).Handler()

		rec, body := doRequest(t, h, http.MethodGet, "/api/ready")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, body["ok"])
		assert.Equal(t, "degraded", body["checks"].(map[string]any)["cache"].(map[string]any)["status"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	svc, collector := newTestService(&fakeStore{}, nil)
	h := NewHTTPServer(svc, nil, collector.Handler(), nil).Handler()

	_, err := svc.CreateNode(context.Background(), createJob("u1"))
	require.NoError(t, err)

	rec, _ := doRequest(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "timeline_nodes_created_total 1")
	assert.Contains(t, rec.Body.String(), `timeline_store_operations_total{operation="create_node",status="ok"} 1`)
}

func TestUnknownRoutes(t *testing.T) {
	svc, _ := newTestService(&fakeStore{}, nil)
	h := NewHTTPServer(svc, nil, nil, nil).Handler()

	rec, body := doRequest(t, h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	rec, body = doRequest(t, h, http.MethodPost, "/api/health")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "METHOD_NOT_ALLOWED", body["code"])
}
