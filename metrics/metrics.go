package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClientMetrics instruments calls to the order API.
type ClientMetrics struct {
	Requests  *prometheus.CounterVec
	Retries   *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewClientMetrics(reg prometheus.Registerer) *ClientMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dessert_admin",
		Subsystem: "api",
		Name:      "requests_total",
		Help:      "Order API calls by action and outcome.",
	}, []string{"action", "outcome"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dessert_admin",
		Subsystem: "api",
		Name:      "rate_limit_retries_total",
		Help:      "Retries issued after a 429 response.",
	}, []string{"action"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dessert_admin",
		Subsystem: "api",
		Name:      "request_duration_ms",
		Help:      "Order API call latency in milliseconds, retries included.",
		Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
	}, []string{"action"})

	reg.MustRegister(requests, retries, latency)
	return &ClientMetrics{Requests: requests, Retries: retries, LatencyMS: latency}
}

func (m *ClientMetrics) ObserveCall(action, outcome string, ms float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(action, outcome).Inc()
	m.LatencyMS.WithLabelValues(action).Observe(ms)
}

func (m *ClientMetrics) ObserveRetry(action string) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(action).Inc()
}

// Router serves /metrics from the given gatherer and a /health probe.
func Router(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	return r
}
