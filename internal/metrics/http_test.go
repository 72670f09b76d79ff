package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	m := NewServerMetrics("test")
	mux := http.NewServeMux()
	mux.HandleFunc("POST /predict/image", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	mux.HandleFunc("GET /cars/{id}", func(w http.ResponseWriter, r *http.Request) {})
	h := m.Middleware("test", mux)

	requests := []struct {
		method string
		target string
	}{
		{http.MethodPost, "/predict/image"},
		{http.MethodPost, "/predict/image"},
		{http.MethodGet, "/cars/1"},
		{http.MethodGet, "/cars/2"},
		{http.MethodGet, "/wp-login.php"},
		{http.MethodGet, "/a8f3e1"},
	}
	for _, req := range requests {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(req.method, req.target, nil))
	}

	tests := []struct {
		name   string
		method string
		path   string
		status string
		want   float64
	}{
		{name: "static route", method: http.MethodPost, path: "POST /predict/image", status: "400", want: 2},
		{name: "wildcard route", method: http.MethodGet, path: "GET /cars/{id}", status: "200", want: 2},
		{name: "unmatched paths", method: http.MethodGet, path: "other", status: "404", want: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := testutil.ToFloat64(m.requestTotal.WithLabelValues("test", tt.method, tt.path, tt.status))
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, 3, testutil.CollectAndCount(m.requestTotal))
}

func TestRecordersAndHandler(t *testing.T) {
	m := NewServerMetrics("test")
	m.RecordPrediction("test", "bmw")
	m.RecordPrediction("test", "")
	m.RecordCacheLookup("test", true)
	m.RecordCacheLookup("test", false)
	m.RecordCacheLookup("test", false)
	m.ObserveModelLoad(300 * time.Millisecond)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.predictionsTotal.WithLabelValues("test", "unknown")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.cacheLookups.WithLabelValues("test", "miss")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `carclassifier_model_predictions_total{label="bmw",service="test"} 1`)
	assert.Contains(t, rec.Body.String(), "carclassifier_model_load_duration_seconds_count")
}
