package observability

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/regardsoss/dataprovider/internal/pkg/logger"
	"github.com/regardsoss/dataprovider/internal/platform/envutil"
)

const namespace = "dataprovider"

type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	fileStates    *prometheus.CounterVec
	productStates *prometheus.CounterVec
	sipStates     *prometheus.CounterVec

	jobRuns     *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
	stepLatency *prometheus.HistogramVec
	queueDepth  *prometheus.GaugeVec

	ingestRequests *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
}

var (
	initOnce sync.Once
	instance *Metrics
)

func Enabled() bool {
	return envutil.Bool("METRICS_ENABLED", false)
}

func Current() *Metrics {
	return instance
}

// Init builds the process-wide metrics once. It returns nil when METRICS_ENABLED is off, and every
// method is a no-op on a nil receiver.
func Init(log *logger.Logger) *Metrics {
	if !Enabled() {
		return nil
	}
	initOnce.Do(func() {
		instance = NewMetrics()
		if log != nil {
			log.Info("prometheus metrics enabled")
		}
	})
	return instance
}

// NewMetrics builds a collector set on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		apiRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "api", Name: "requests_total",
			Help: "Admin API requests by method/route/status.",
		}, []string{"method", "route", "status"}),
		apiLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "api", Name: "request_duration_seconds",
			Help:    "Admin API latency in seconds by method/route/status.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, []string{"method", "route", "status"}),
		apiInflight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "api", Name: "inflight_requests",
			Help: "In-flight admin API requests.",
		}),
		fileStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "acquisition", Name: "file_transitions_total",
			Help: "Acquisition files entering each state.",
		}, []string{"state"}),
		productStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "acquisition", Name: "product_transitions_total",
			Help: "Products entering each completeness state.",
		}, []string{"state"}),
		sipStates: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "acquisition", Name: "sip_transitions_total",
			Help: "Products entering each SIP state.",
		}, []string{"state"}),
		jobRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "runs_total",
			Help: "Finished job runs by type/status.",
		}, []string{"job_type", "status"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "run_duration_seconds",
			Help:    "Job run duration in seconds by type/status.",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900, 3600},
		}, []string{"job_type", "status"}),
		stepLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "acquisition", Name: "step_duration_seconds",
			Help:    "Acquisition step duration in seconds.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		}, []string{"step"}),
		queueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "queue_depth",
			Help: "Job runs by status at the last worker poll.",
		}, []string{"status"}),
		ingestRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "requests_total",
			Help: "Submission requests to the ingestion service by status.",
		}, []string{"status"}),
		ingestLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "ingest", Name: "request_duration_seconds",
			Help:    "Submission request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"status"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer exposes /metrics on a dedicated listener until ctx is done.
func (m *Metrics) StartServer(ctx context.Context, log *logger.Logger, addr string) {
	if m == nil {
		return
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}()
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if log != nil {
				log.Error("metrics server failed", "error", err, "addr", addr)
			}
		}
	}()
}

func orUnknown(v string) string {
	if strings.TrimSpace(v) == "" {
		return "unknown"
	}
	return v
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	method, route, status = orUnknown(method), orUnknown(route), orUnknown(status)
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route, status).Observe(dur.Seconds())
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) IncFileState(state string) {
	if m == nil {
		return
	}
	m.fileStates.WithLabelValues(orUnknown(state)).Inc()
}

func (m *Metrics) IncProductState(state string) {
	if m == nil {
		return
	}
	m.productStates.WithLabelValues(orUnknown(state)).Inc()
}

func (m *Metrics) IncSIPState(state string) {
	if m == nil {
		return
	}
	m.sipStates.WithLabelValues(orUnknown(state)).Inc()
}

func (m *Metrics) ObserveJob(jobType, status string, dur time.Duration) {
	if m == nil {
		return
	}
	jobType, status = orUnknown(jobType), orUnknown(status)
	m.jobRuns.WithLabelValues(jobType, status).Inc()
	m.jobDuration.WithLabelValues(jobType, status).Observe(dur.Seconds())
}

func (m *Metrics) ObserveStep(step string, dur time.Duration) {
	if m == nil {
		return
	}
	m.stepLatency.WithLabelValues(orUnknown(step)).Observe(dur.Seconds())
}

func (m *Metrics) SetQueueDepth(status string, n int64) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(orUnknown(status)).Set(float64(n))
}

func (m *Metrics) ObserveIngestRequest(status string, dur time.Duration) {
	if m == nil {
		return
	}
	status = orUnknown(status)
	m.ingestRequests.WithLabelValues(status).Inc()
	m.ingestLatency.WithLabelValues(status).Observe(dur.Seconds())
}
