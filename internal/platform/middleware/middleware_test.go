package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"govsign/internal/platform/metrics"
	"govsign/pkg/requestcontext"
)

func newRouter(t *testing.T, buf *bytes.Buffer, origins []string) (*chi.Mux, *metrics.Metrics) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	m := metrics.New(prometheus.NewRegistry())
	r := chi.NewRouter()
	Use(r, logger, m, origins)
	r.Get("/processes/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, requestcontext.RequestID(r.Context()))
		assert.Equal(t, "203.0.113.7", requestcontext.ClientIP(r.Context()))
		w.WriteHeader(http.StatusTeapot)
	})
	r.Get("/panic", func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	return r, m
}

func TestUse_LogsAndObservesByRoutePattern(t *testing.T) {
	var buf bytes.Buffer
	r, m := newRouter(t, &buf, []string{"*"})

	req := httptest.NewRequest(http.MethodGet, "/processes/p-1", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusTeapot, w.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, "/processes/p-1", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.NotEmpty(t, line["request_id"])

	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPRequestDuration))
	assert.Equal(t, uint64(1), histogramCount(t, m, "GET", "/processes/{id}", "418"))
}

func TestUse_RecoversPanics(t *testing.T) {
	var buf bytes.Buffer
	r, _ := newRouter(t, &buf, []string{"*"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestUse_CORSPreflight(t *testing.T) {
	var buf bytes.Buffer
	r, _ := newRouter(t, &buf, []string{"https://portal.gov.lk"})

	req := httptest.NewRequest(http.MethodOptions, "/processes/p-1", nil)
	req.Header.Set("Origin", "https://portal.gov.lk")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "https://portal.gov.lk", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))
}

func histogramCount(t *testing.T, m *metrics.Metrics, labels ...string) uint64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, reg.Register(m.HTTPRequestDuration))
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			values := map[string]string{}
			for _, lp := range metric.GetLabel() {
				values[lp.GetName()] = lp.GetValue()
			}
			if values["method"] == labels[0] && values["route"] == labels[1] && values["status"] == labels[2] {
				return metric.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func TestAllowsAny(t *testing.T) {
	assert.True(t, allowsAny(nil))
	assert.True(t, allowsAny([]string{"https://a", "*"}))
	assert.False(t, allowsAny([]string{"https://a"}))
}
