package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	recomputesTotal   prometheus.Counter
	materializedTotal prometheus.Counter
	advanceAmortized  prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sessionledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sessionledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	recomputes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionledger_due_recomputes_total",
		Help: "Full daily-due ledger recomputations performed.",
	})
	materialized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionledger_materialized_instances_total",
		Help: "Session instances created from recurring templates.",
	})
	amortized := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessionledger_advance_amortized_total",
		Help: "Total advance balance consumed by amortization.",
	})
	registry.MustRegister(requests, duration, recomputes, materialized, amortized)
	return &Metrics{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:     requests,
		requestDuration:   duration,
		recomputesTotal:   recomputes,
		materializedTotal: materialized,
		advanceAmortized:  amortized,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveRecompute counts one ledger recomputation.
func (m *Metrics) ObserveRecompute() {
	if m == nil {
		return
	}
	m.recomputesTotal.Inc()
}

// AddMaterialized counts instances created by a materialization run.
func (m *Metrics) AddMaterialized(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.materializedTotal.Add(float64(n))
}

// AddAdvanceAmortized counts consumed advance balance.
func (m *Metrics) AddAdvanceAmortized(amount float64) {
	if m == nil || amount <= 0 {
		return
	}
	m.advanceAmortized.Add(amount)
}

// Registerer exposes the registry for custom metric registration.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
