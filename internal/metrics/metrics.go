package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics tracks notification runs and per-class outcomes.
// Satisfies dispatch.Observer.
type Metrics struct {
	registry *prometheus.Registry

	Runs            prometheus.Counter
	RunDuration     prometheus.Histogram
	RunErrors       prometheus.Counter
	ClassesEnabled  *prometheus.CounterVec
	MissingAccounts prometheus.Counter
	Sent            *prometheus.CounterVec
	Skipped         *prometheus.CounterVec
	Failed          *prometheus.CounterVec
	IngestBatches   *prometheus.CounterVec
}

// New creates metrics registered on a private registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry creates metrics registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "banknotify_runs_total",
			Help: "Total number of notification runs",
		}),
		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "banknotify_run_duration_seconds",
			Help:    "Duration of notification runs",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		RunErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "banknotify_run_errors_total",
			Help: "Total number of notification runs aborted by an error",
		}),
		ClassesEnabled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "banknotify_class_enabled_total",
			Help: "Times a notification class was enabled for a run",
		}, []string{"class"}),
		MissingAccounts: factory.NewCounter(prometheus.CounterOpts{
			Name: "banknotify_missing_accounts_total",
			Help: "Accounts referenced by transactions but absent from the store",
		}),
		Sent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "banknotify_notifications_sent_total",
			Help: "Notifications handed to the transmitter",
		}, []string{"class"}),
		Skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "banknotify_notifications_skipped_total",
			Help: "Class runs that produced no notification",
		}, []string{"class"}),
		Failed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "banknotify_notifications_failed_total",
			Help: "Class runs that failed to build or transmit",
		}, []string{"class"}),
		IngestBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "banknotify_ingest_batches_total",
			Help: "Transaction batches received per source and outcome",
		}, []string{"source", "outcome"}),
	}
}

// Handler exposes the registry in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRun()                      { m.Runs.Inc() }
func (m *Metrics) ObserveEnabled(class string)      { m.ClassesEnabled.WithLabelValues(class).Inc() }
func (m *Metrics) ObserveMissingAccounts(count int) { m.MissingAccounts.Add(float64(count)) }
func (m *Metrics) ObserveSent(class string)         { m.Sent.WithLabelValues(class).Inc() }
func (m *Metrics) ObserveSkipped(class string)      { m.Skipped.WithLabelValues(class).Inc() }
func (m *Metrics) ObserveFailed(class string)       { m.Failed.WithLabelValues(class).Inc() }

// ObserveRunDuration records one run duration and its outcome.
// Call with time.Now() at the start of the run.
func (m *Metrics) ObserveRunDuration(start time.Time, err error) {
	m.RunDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.RunErrors.Inc()
	}
}

// ObserveIngest records one received transaction batch.
func (m *Metrics) ObserveIngest(source string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.IngestBatches.WithLabelValues(source, outcome).Inc()
}
