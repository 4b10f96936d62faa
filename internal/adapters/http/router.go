package httpadapter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kirillkom/evidence-router/internal/config"
	"github.com/kirillkom/evidence-router/internal/core/ports"
	"github.com/kirillkom/evidence-router/internal/observability/metrics"
)

const maxRequestBodyBytes = 64 << 10

// CircuitReporter lists outbound operations whose circuit breaker is not closed.
type CircuitReporter interface {
	OpenOperations() []string
}

type Router struct {
	cfg       config.Config
	answers   ports.AnswerService
	circuits  CircuitReporter
	metrics   *metrics.HTTPServerMetrics
	validator *requestValidator
	logger    *slog.Logger
}

func NewRouter(
	cfg config.Config,
	answers ports.AnswerService,
	circuits CircuitReporter,
	httpMetrics *metrics.HTTPServerMetrics,
	logger *slog.Logger,
) (*Router, error) {
	validator, err := newRequestValidator()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		cfg:       cfg,
		answers:   answers,
		circuits:  circuits,
		metrics:   httpMetrics,
		validator: validator,
		logger:    logger,
	}, nil
}

func (rt *Router) Handler() http.Handler {
	var answer http.Handler = http.HandlerFunc(rt.answer)
	answer = rt.validator.middleware(answer)
	answer = backpressureMiddleware(answer, rt.cfg.APIMaxInFlight, rt.cfg.APIBackpressureWait)
	answer = rateLimitMiddleware(answer, rt.cfg.APIRateLimitRPS, rt.cfg.APIRateLimitBurst)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/answer", answer)
	mux.HandleFunc("GET /healthz", rt.healthz)
	if rt.metrics != nil {
		mux.Handle("GET /metrics", rt.metrics.Handler())
	}

	var handler http.Handler = mux
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = accessLogMiddleware(rt.logger, handler)
	return requestIDMiddleware(handler)
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	open := []string{}
	if rt.circuits != nil {
		if ops := rt.circuits.OpenOperations(); len(ops) > 0 {
			status = "degraded"
			open = ops
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "open_circuits": open})
}

type answerRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id"`
}

func (rt *Router) answer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := decoder.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		writeError(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	answer, err := rt.answers.Answer(r.Context(), req.Question, req.SessionID)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		if status >= http.StatusInternalServerError {
			rt.logger.Error("answer_failed", "request_id", requestIDFromContext(r.Context()), "error", err)
		}
		writeError(w, r, status, err.Error())
		return
	}
	annotateRequestLog(r.Context(),
		"intent", string(answer.Metadata.Intent.Category),
		"coordinator_state", string(answer.Metadata.CoordinatorState),
		"grounded", answer.Grounded,
		"rejected_reason", answer.RejectedReason,
	)
	writeJSON(w, http.StatusOK, answer)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":      message,
		"request_id": requestIDFromContext(r.Context()),
	})
}
