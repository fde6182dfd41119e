package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors shared by every service. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg prometheus.Gatherer

	httpRequests *prometheus.CounterVec   // http_requests_total{method,route,status}
	httpDuration *prometheus.HistogramVec // http_request_duration_seconds{method,route}
	usecaseReqs  *prometheus.CounterVec   // usecase_requests_total{use_case,outcome}
	usecaseDur   *prometheus.HistogramVec // usecase_duration_seconds{use_case}
	stockOps     *prometheus.CounterVec   // stock_operations_total{op,outcome}
	payments     *prometheus.CounterVec   // payments_total{status}
	callbacks    *prometheus.CounterVec   // callbacks_total{target,outcome}
	externalReqs *prometheus.CounterVec   // external_requests_total{peer,endpoint,outcome}
	externalDur  *prometheus.HistogramVec // external_request_duration_seconds{peer,endpoint}
}

func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests served.",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "http_request_duration_seconds", Help: "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		usecaseReqs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "usecase_requests_total", Help: "Use case executions by outcome.",
		}, []string{"use_case", "outcome"}),
		usecaseDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "usecase_duration_seconds", Help: "Use case latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"use_case"}),
		stockOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "stock_operations_total", Help: "Ledger mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		payments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "payments_total", Help: "Payments by final status.",
		}, []string{"status"}),
		callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "callbacks_total", Help: "Payment callback deliveries.",
		}, []string{"target", "outcome"}),
		externalReqs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "external_requests_total", Help: "Outbound calls to peer services.",
		}, []string{"peer", "endpoint", "outcome"}),
		externalDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "external_request_duration_seconds", Help: "Outbound call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"peer", "endpoint"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) ObserveUseCase(useCase, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.usecaseReqs.WithLabelValues(useCase, outcome).Inc()
	m.usecaseDur.WithLabelValues(useCase).Observe(d.Seconds())
}

func (m *Metrics) StockOp(op, outcome string) {
	if m == nil {
		return
	}
	m.stockOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) Payment(status string) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(status).Inc()
}

func (m *Metrics) Callback(target, outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(target, outcome).Inc()
}

func (m *Metrics) ObserveExternal(peer, endpoint, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.externalReqs.WithLabelValues(peer, endpoint, outcome).Inc()
	m.externalDur.WithLabelValues(peer, endpoint).Observe(d.Seconds())
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
