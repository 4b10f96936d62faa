package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

const namespace = "evidence_router"

// RouterMetrics observes the answer pipeline: intents, retrieval attempts
// and grounding outcomes.
type RouterMetrics struct {
	service string

	intentsTotal      *prometheus.CounterVec
	attemptsTotal     *prometheus.CounterVec
	attemptDuration   *prometheus.HistogramVec
	answersTotal      *prometheus.CounterVec
	coordinatorStates *prometheus.CounterVec
	mergedEvidence    prometheus.Histogram
	answerDuration    *prometheus.HistogramVec
}

func NewRouterMetrics(service string, registerer prometheus.Registerer) *RouterMetrics {
	intentsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "intents_total",
			Help:      "Classified questions by intent category.",
		},
		[]string{"service", "intent"},
	)
	attemptsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "retrieval_attempts_total",
			Help:      "Retrieval attempts by strategy, status and error kind.",
		},
		[]string{"service", "strategy", "status", "error_kind"},
	)
	attemptDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "retrieval_attempt_duration_seconds",
			Help:      "Retrieval attempt latency by strategy.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service", "strategy"},
	)
	answersTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "answers_total",
			Help:      "Answers by grounded flag and rejection reason.",
		},
		[]string{"service", "grounded", "reason"},
	)
	coordinatorStates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "coordinator_states_total",
			Help:      "Terminal coordinator states by fan-out mode.",
		},
		[]string{"service", "state", "fan_out"},
	)
	mergedEvidence := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "router",
			Name:        "merged_evidence_items",
			Help:        "Size of the merged evidence set per answer.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13, 21},
			ConstLabels: prometheus.Labels{"service": service},
		},
	)
	answerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "router",
			Name:      "answer_duration_seconds",
			Help:      "End-to-end answer latency.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "grounded"},
	)

	registerer.MustRegister(intentsTotal, attemptsTotal, attemptDuration, answersTotal, coordinatorStates, mergedEvidence, answerDuration)

	return &RouterMetrics{
		service:           service,
		intentsTotal:      intentsTotal,
		attemptsTotal:     attemptsTotal,
		attemptDuration:   attemptDuration,
		answersTotal:      answersTotal,
		coordinatorStates: coordinatorStates,
		mergedEvidence:    mergedEvidence,
		answerDuration:    answerDuration,
	}
}

func (m *RouterMetrics) ObserveIntent(intent domain.Intent) {
	m.intentsTotal.WithLabelValues(m.service, string(intent.Category)).Inc()
}

func (m *RouterMetrics) ObserveAttempt(attempt domain.RetrievalAttempt) {
	kind := string(attempt.ErrorKind)
	if kind == "" {
		kind = "none"
	}
	m.attemptsTotal.WithLabelValues(m.service, string(attempt.Strategy), string(attempt.Status), kind).Inc()
	m.attemptDuration.WithLabelValues(m.service, string(attempt.Strategy)).Observe(float64(attempt.LatencyMS) / 1000)
}

func (m *RouterMetrics) ObserveAnswer(answer domain.Answer) {
	grounded := strconv.FormatBool(answer.Grounded)
	m.answersTotal.WithLabelValues(m.service, grounded, reasonLabel(answer.RejectedReason)).Inc()
	m.coordinatorStates.WithLabelValues(m.service, string(answer.Metadata.CoordinatorState), strconv.FormatBool(answer.Metadata.FanOut)).Inc()
	m.mergedEvidence.Observe(float64(answer.Metadata.EvidenceCount))
	m.answerDuration.WithLabelValues(m.service, grounded).Observe(float64(answer.Metadata.LatencyMS) / 1000)
}

// reasonLabel folds free-form rejection details into the fixed reason set.
func reasonLabel(reason string) string {
	for _, known := range []string{
		domain.RejectNoEvidence,
		domain.RejectNoCitations,
		domain.RejectUnknownCitation,
		domain.RejectSynthesisFailed,
		domain.RejectDeadline,
	} {
		if strings.HasPrefix(reason, known) {
			return known
		}
	}
	if reason == "" {
		return "none"
	}
	return "other"
}
