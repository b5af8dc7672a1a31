package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"banknotify/internal/config"
	"banknotify/internal/domain"
	"banknotify/internal/ingest"
	"banknotify/internal/metrics"
	"banknotify/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	maxDocumentBytes = 1 << 20
	readyPingTimeout = 2 * time.Second
)

// API serves health, metrics, ingest, and document endpoints.
type API struct {
	store    store.Store
	sink     ingest.Sink
	metrics  *metrics.Metrics
	logger   *slog.Logger
	ready    *atomic.Bool
	httpConf config.HTTPIngestConfig
}

// NewAPI creates HTTP API handlers.
// Params: HTTP ingest settings, store, pipeline sink, metrics, readiness flag, and logger.
// Returns: API ready for Router.
func NewAPI(httpConf config.HTTPIngestConfig, st store.Store, sink ingest.Sink, m *metrics.Metrics, ready *atomic.Bool, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &API{
		store:    st,
		sink:     sink,
		metrics:  m,
		logger:   logger,
		ready:    ready,
		httpConf: httpConf,
	}
}

// Router builds the chi router for all service endpoints.
// Params: none.
// Returns: root HTTP handler.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get(a.httpConf.HealthPath, a.handleHealth)
	r.Get(a.httpConf.ReadyPath, a.handleReady)
	r.Method(http.MethodGet, a.httpConf.MetricsPath, a.metrics.Handler())

	if a.httpConf.Enabled {
		r.Method(http.MethodPost, a.httpConf.IngestPath, ingest.NewHTTPHandler(a.observedSink("http"), a.httpConf.MaxBodyBytes, a.logger))
	}

	r.Get("/settings", a.handleGetSettings)
	r.Put("/settings", a.handlePutSettings)
	r.Put("/accounts/{id}", a.handlePutAccount)
	r.Put("/groups/{id}", a.handlePutGroup)
	return r
}

// observedSink wraps the pipeline sink with ingest metrics.
func (a *API) observedSink(source string) ingest.Sink {
	return observedSink(source, a.sink, a.metrics)
}

func observedSink(source string, sink ingest.Sink, m *metrics.Metrics) ingest.Sink {
	return ingest.SinkFunc(func(ctx context.Context, transactions []domain.Transaction) error {
		err := sink.Process(ctx, transactions)
		m.ObserveIngest(source, err)
		return err
	})
}

func (a *API) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if !a.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not-ready"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyPingTimeout)
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.logger.Warn("readiness store ping failed", "error", err.Error())
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store-unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *API) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := a.store.Settings(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "settings not found")
			return
		}
		a.logger.Error("load settings failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if !decodeDocument(w, r, &settings) {
		return
	}
	settings.ID = store.SettingsID
	if err := a.store.PutSettings(r.Context(), settings); err != nil {
		a.logger.Error("store settings failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to store settings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePutAccount(w http.ResponseWriter, r *http.Request) {
	var account domain.Account
	if !decodeDocument(w, r, &account) {
		return
	}
	account.ID = chi.URLParam(r, "id")
	if err := a.store.PutAccount(r.Context(), account); err != nil {
		a.logger.Error("store account failed", "account", account.ID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to store account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handlePutGroup(w http.ResponseWriter, r *http.Request) {
	var group domain.Group
	if !decodeDocument(w, r, &group) {
		return
	}
	group.ID = chi.URLParam(r, "id")
	if err := a.store.PutGroup(r.Context(), group); err != nil {
		a.logger.Error("store group failed", "group", group.ID, "error", err.Error())
		writeError(w, http.StatusInternalServerError, "failed to store group")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeDocument reads one JSON document into dst and writes 400 on failure.
func decodeDocument(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxDocumentBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
