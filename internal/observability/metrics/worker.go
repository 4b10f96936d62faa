package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

// WorkerMetrics covers trace persistence and the answer outcomes it records.
type WorkerMetrics struct {
	registry *prometheus.Registry

	persisted *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	inFlight  prometheus.Gauge
	lag       prometheus.Histogram
	outcomes  *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	labels := prometheus.Labels{"service": service}
	m := &WorkerMetrics{
		registry: prometheus.NewRegistry(),
		persisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "trace_persist_total",
			Help:        "Answer traces handled by the worker, by status.",
			ConstLabels: labels,
		}, []string{"status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "trace_persist_duration_seconds",
			Help:        "Answer trace write duration in seconds, by status.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			ConstLabels: labels,
		}, []string{"status"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "trace_persist_in_flight",
			Help:        "Trace writes in progress.",
			ConstLabels: labels,
		}),
		lag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "trace_lag_seconds",
			Help:        "Delay between question receipt and the start of its trace write.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: labels,
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "worker",
			Name:        "answer_outcomes_total",
			Help:        "Persisted answers by grounded flag and coordinator state.",
			ConstLabels: labels,
		}, []string{"grounded", "state"}),
	}
	m.registry.MustRegister(m.persisted, m.duration, m.inFlight, m.lag, m.outcomes)
	return m
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) StartTrace(trace domain.AnswerTrace) {
	m.inFlight.Inc()
	if trace.ReceivedAt.IsZero() {
		return
	}
	if lag := time.Since(trace.ReceivedAt); lag >= 0 {
		m.lag.Observe(lag.Seconds())
	}
}

func (m *WorkerMetrics) FinishTrace(trace domain.AnswerTrace, duration time.Duration, err error) {
	m.inFlight.Dec()

	status := "success"
	if err != nil {
		status = "error"
	}
	m.persisted.WithLabelValues(status).Inc()
	m.duration.WithLabelValues(status).Observe(duration.Seconds())
	if err == nil {
		m.outcomes.WithLabelValues(strconv.FormatBool(trace.Grounded), string(trace.State)).Inc()
	}
}
