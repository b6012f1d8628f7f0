package api

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/pseusage/internal/cache"
	"github.com/jgoulah/pseusage/internal/logging"
	"github.com/jgoulah/pseusage/internal/metrics"
	"github.com/jgoulah/pseusage/pkg/models"
)

var updated = time.Date(2021, 12, 7, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, usage *models.EnergyUsage) *Server {
	t.Helper()
	c := cache.New(t.TempDir(), time.Hour,
		cache.WithClock(clockwork.NewFakeClockAt(updated)),
		cache.WithLogger(logging.Discard()))
	if usage != nil {
		require.NoError(t, c.Update(*usage))
	}
	return NewServer(c, metrics.New(prometheus.NewRegistry()), logging.Discard())
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler(io.Discard).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestEmptyCacheIsNotAvailable(t *testing.T) {
	s := newTestServer(t, nil)

	for _, path := range []string{"/", "/electricity/latest", "/natural_gas/latest"} {
		rec := get(t, s, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.JSONEq(t, `{"status":"NOT_AVAILABLE"}`, rec.Body.String(), path)
	}
}

func TestNoCompleteDayIsNoData(t *testing.T) {
	s := newTestServer(t, &models.EnergyUsage{
		UpdateTimestamp: updated,
		Electricity: []models.UsageRecord{
			{Date: models.NewDate(2021, 12, 6), MinutesIncluded: 300, Value: 2.1, Unit: models.KilowattHour},
		},
	})

	assert.JSONEq(t, `{"status":"OK"}`, get(t, s, "/").Body.String())
	assert.JSONEq(t, `{"status":"NO_DATA"}`, get(t, s, "/electricity/latest").Body.String())
	assert.JSONEq(t, `{"status":"NO_DATA"}`, get(t, s, "/natural_gas/latest").Body.String())
}

func TestLatestCompleteDay(t *testing.T) {
	s := newTestServer(t, &models.EnergyUsage{
		UpdateTimestamp: updated,
		Electricity: []models.UsageRecord{
			{Date: models.NewDate(2021, 12, 4), MinutesIncluded: 1440, Value: 11.0, Unit: models.KilowattHour},
			{Date: models.NewDate(2021, 12, 5), MinutesIncluded: 1440, Value: 12.5, Unit: models.KilowattHour},
			{Date: models.NewDate(2021, 12, 6), MinutesIncluded: 300, Value: 2.1, Unit: models.KilowattHour},
		},
		NaturalGas: []models.UsageRecord{
			{Date: models.NewDate(2021, 12, 5), MinutesIncluded: 1440, Value: 8.5, Unit: models.CubicMeters},
		},
	})

	rec := get(t, s, "/electricity/latest")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{
		"status": "OK",
		"data": {"usage": 12.5, "date": "2021-12-05", "unit_of_measurement": "kWh"},
		"update_timestamp": "2021-12-07T09:00:00Z"
	}`, rec.Body.String())

	rec = get(t, s, "/natural_gas/latest")
	assert.JSONEq(t, `{
		"status": "OK",
		"data": {"usage": 8.5, "date": "2021-12-05", "unit_of_measurement": "m³"},
		"update_timestamp": "2021-12-07T09:00:00Z"
	}`, rec.Body.String())
}

func TestRequestID(t *testing.T) {
	s := newTestServer(t, nil)

	rec := get(t, s, "/")
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	s.Handler(io.Discard).ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestUnknownRouteAndMethod(t *testing.T) {
	s := newTestServer(t, nil)

	assert.Equal(t, http.StatusNotFound, get(t, s, "/water/latest").Code)

	rec := httptest.NewRecorder()
	s.Handler(io.Discard).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	s := newTestServer(t, nil)
	get(t, s, "/electricity/latest")

	rec := get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(),
		`pse_usage_api_requests_total{route="/electricity/latest",status="NOT_AVAILABLE"} 1`)
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t, nil)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx, addr) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
