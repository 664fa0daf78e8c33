package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the process registry: HTTP instrumentation, runtime collectors
// and the order/production counters handed to services through Domain.
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge

	domain *DomainMetrics
}

// DomainMetrics counts order and production events. A nil *DomainMetrics is a no-op.
type DomainMetrics struct {
	transitions    *prometheus.CounterVec
	batchesPlanned *prometheus.CounterVec
	deviations     *prometheus.CounterVec
	tierFallbacks  *prometheus.CounterVec
	intentFailures *prometheus.CounterVec
}

// NewMetrics builds a private registry with every bottleops collector registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		handler:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottleops_http_requests_total",
			Help: "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bottleops_http_request_duration_seconds",
			Help:    "HTTP request duration per route.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"route", "method"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bottleops_http_requests_in_flight",
			Help: "Requests currently being served.",
		}),
		domain: newDomainMetrics(),
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.inFlight,
	)
	m.domain.register(registry)
	return m
}

func newDomainMetrics() *DomainMetrics {
	return &DomainMetrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottleops_order_transitions_total",
			Help: "Committed order status transitions.",
		}, []string{"from", "to"}),
		batchesPlanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottleops_batches_planned_total",
			Help: "Production batches created by the planner, split or merge.",
		}, []string{"origin"}),
		deviations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottleops_workflow_deviations_total",
			Help: "Workflow steps started before their predecessors finished.",
		}, []string{"step"}),
		tierFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottleops_tier_fallbacks_total",
			Help: "Kit prices resolved from the flat price because no tier matched.",
		}, []string{"product"}),
		intentFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bottleops_intent_publish_failures_total",
			Help: "Intents that could not be handed to the queue.",
		}, []string{"kind"}),
	}
}

func (d *DomainMetrics) register(reg prometheus.Registerer) {
	reg.MustRegister(d.transitions, d.batchesPlanned, d.deviations, d.tierFallbacks, d.intentFailures)
}

// Domain returns the counters services report to. Nil when m is nil.
func (m *Metrics) Domain() *DomainMetrics {
	if m == nil {
		return nil
	}
	return m.domain
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count, latency and concurrency per chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inFlight.Inc()
		defer m.inFlight.Dec()

		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)

		route := routePattern(r)
		m.requests.WithLabelValues(route, r.Method, strconv.Itoa(recorder.status)).Inc()
		m.duration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// Registerer exposes the registry for collectors owned by other packages.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

// ObserveTransition counts a committed status change.
func (d *DomainMetrics) ObserveTransition(from, to string) {
	if d == nil {
		return
	}
	d.transitions.WithLabelValues(from, to).Inc()
}

// AddBatchesPlanned counts created batches by origin (plan, split, merge).
func (d *DomainMetrics) AddBatchesPlanned(origin string, n int) {
	if d == nil || n <= 0 {
		return
	}
	d.batchesPlanned.WithLabelValues(origin).Add(float64(n))
}

func (d *DomainMetrics) ObserveDeviation(step string) {
	if d == nil {
		return
	}
	d.deviations.WithLabelValues(step).Inc()
}

func (d *DomainMetrics) ObserveTierFallback(product string) {
	if d == nil {
		return
	}
	d.tierFallbacks.WithLabelValues(product).Inc()
}

func (d *DomainMetrics) ObserveIntentFailure(kind string) {
	if d == nil {
		return
	}
	d.intentFailures.WithLabelValues(kind).Inc()
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
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
