package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"banknotify/internal/config"
	"banknotify/internal/domain"
	"banknotify/internal/ingest"
	"banknotify/internal/metrics"
	"banknotify/internal/store"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testHTTPConfig() config.HTTPIngestConfig {
	return config.HTTPIngestConfig{
		Enabled:      true,
		HealthPath:   "/healthz",
		ReadyPath:    "/readyz",
		IngestPath:   "/ingest",
		MetricsPath:  "/metrics",
		MaxBodyBytes: 1 << 16,
	}
}

func newTestAPI(t *testing.T, st store.Store, sink ingest.Sink, ready bool) (http.Handler, *metrics.Metrics) {
	t.Helper()
	flag := &atomic.Bool{}
	flag.Store(ready)
	m := metrics.New()
	api := NewAPI(testHTTPConfig(), st, sink, m, flag, nil)
	return api.Router(), m
}

func do(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	request := httptest.NewRequest(method, path, strings.NewReader(body))
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestAPIHealthAndReadiness(t *testing.T) {
	t.Parallel()

	handler, _ := newTestAPI(t, store.NewMemoryStore(), nil, false)
	assert.Equal(t, http.StatusOK, do(t, handler, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, handler, http.MethodGet, "/readyz", "").Code)

	handler, _ = newTestAPI(t, store.NewMemoryStore(), nil, true)
	response := do(t, handler, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, response.Code)
	assert.Equal(t, "ready", response.Body.String())
}

func TestAPISettingsRoundTrip(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	handler, _ := newTestAPI(t, st, nil, true)

	assert.Equal(t, http.StatusNotFound, do(t, handler, http.MethodGet, "/settings", "").Code)

	body := `{"lang":"fr","notifications":{"balanceLower":{"enabled":true,"value":50}}}`
	require.Equal(t, http.StatusNoContent, do(t, handler, http.MethodPut, "/settings", body).Code)

	response := do(t, handler, http.MethodGet, "/settings", "")
	require.Equal(t, http.StatusOK, response.Code)
	var settings domain.Settings
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &settings))
	assert.Equal(t, store.SettingsID, settings.ID)
	assert.Equal(t, "fr", settings.Lang)
	assert.Contains(t, settings.Notifications, "balanceLower")
}

func TestAPIPutAccountAndGroupUseRouteID(t *testing.T) {
	t.Parallel()

	st := store.NewMemoryStore()
	handler, _ := newTestAPI(t, st, nil, true)

	response := do(t, handler, http.MethodPut, "/accounts/A1", `{"_id":"ignored","label":"Checking","balance":10}`)
	require.Equal(t, http.StatusNoContent, response.Code)
	response = do(t, handler, http.MethodPut, "/groups/G1", `{"label":"Family","accounts":["A1"]}`)
	require.Equal(t, http.StatusNoContent, response.Code)

	accounts, err := st.AccountsByIDs(context.Background(), []string{"A1", "ignored"})
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "Checking", accounts[0].Label)

	groups, err := st.Groups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "G1", groups[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(t, handler, http.MethodPut, "/accounts/A2", `{`).Code)
}

func TestAPIIngestRunsSinkAndCountsBatches(t *testing.T) {
	t.Parallel()

	var received []domain.Transaction
	sink := ingest.SinkFunc(func(_ context.Context, transactions []domain.Transaction) error {
		received = append(received, transactions...)
		return nil
	})
	handler, m := newTestAPI(t, store.NewMemoryStore(), sink, true)

	body := `[{"_id":"T1","account":"A1","amount":-12,"date":"2026-04-01T08:00:00Z"}]`
	assert.Equal(t, http.StatusAccepted, do(t, handler, http.MethodPost, "/ingest", body).Code)
	require.Len(t, received, 1)
	assert.Equal(t, "T1", received[0].ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestBatches.WithLabelValues("http", "ok")))

	failing := ingest.SinkFunc(func(context.Context, []domain.Transaction) error { return errors.New("down") })
	handler, m = newTestAPI(t, store.NewMemoryStore(), failing, true)
	assert.Equal(t, http.StatusServiceUnavailable, do(t, handler, http.MethodPost, "/ingest", body).Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IngestBatches.WithLabelValues("http", "error")))
}

func TestAPIIngestEndToEndThroughPipeline(t *testing.T) {
	t.Parallel()

	transmitter := &recordingTransmitter{}
	st := lowBalanceStore(t)
	cfg := config.Config{Service: config.ServiceConfig{Lang: "en"}, Notifications: balanceLowerConfig()}
	pipeline, _ := newTestPipeline(t, cfg, st, transmitter)
	handler, _ := newTestAPI(t, st, pipeline, true)

	body := `{"_id":"T1","account":"A1","label":"Groceries","amount":-20,"date":"2026-04-01T08:00:00Z"}`
	require.Equal(t, http.StatusAccepted, do(t, handler, http.MethodPost, "/ingest", body).Code)

	sent := transmitter.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, "BalanceLower", sent[0].Class)
}

func TestAPIMetricsEndpoint(t *testing.T) {
	t.Parallel()

	handler, m := newTestAPI(t, store.NewMemoryStore(), nil, true)
	m.ObserveRun()
	response := do(t, handler, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), "banknotify_")
}
