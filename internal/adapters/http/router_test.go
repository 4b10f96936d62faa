package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/evidence-router/internal/config"
	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/observability/metrics"
)

type fakeAnswerService struct {
	err          error
	gotQuestion  string
	gotSessionID string
}

func (f *fakeAnswerService) Answer(_ context.Context, questionText, sessionID string) (*domain.Answer, error) {
	f.gotQuestion = questionText
	f.gotSessionID = sessionID
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Answer{
		Text:      "Acme is owned by Globex [graph:node:1]",
		Grounded:  true,
		Citations: []string{"graph:node:1"},
		Metadata: domain.AnswerMetadata{
			StrategiesTried:  []domain.Strategy{domain.StrategyStructured},
			CoordinatorState: domain.StateSucceeded,
		},
	}, nil
}

type fakeCircuits []string

func (f fakeCircuits) OpenOperations() []string { return f }

func newTestHandler(t *testing.T, cfg config.Config, answers *fakeAnswerService) http.Handler {
	t.Helper()
	router, err := NewRouter(cfg, answers, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	return router.Handler()
}

func postAnswer(handler http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/answer", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAnswerReturnsGroundedAnswer(t *testing.T) {
	service := &fakeAnswerService{}
	handler := newTestHandler(t, config.Config{}, service)

	res := postAnswer(handler, `{"question":"who owns acme?","session_id":"s-1"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", res.Code, res.Body.String())
	}
	if res.Header().Get(requestIDHeader) == "" {
		t.Fatalf("expected request id header")
	}
	var answer domain.Answer
	if err := json.NewDecoder(res.Body).Decode(&answer); err != nil {
		t.Fatalf("decode answer: %v", err)
	}
	if !answer.Grounded || answer.Citations[0] != "graph:node:1" {
		t.Fatalf("unexpected answer: %+v", answer)
	}
	if service.gotQuestion != "who owns acme?" || service.gotSessionID != "s-1" {
		t.Fatalf("unexpected call: %q %q", service.gotQuestion, service.gotSessionID)
	}
}

func TestAnswerRejectsRequestsOutsideSchema(t *testing.T) {
	cases := map[string]string{
		"missing question": `{"session_id":"s-1"}`,
		"blank question":   `{"question":"   "}`,
		"unknown field":    `{"question":"q","top_k":3}`,
		"malformed json":   `{"question":`,
	}
	for name, body := range cases {
		service := &fakeAnswerService{}
		res := postAnswer(newTestHandler(t, config.Config{}, service), body)
		if res.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d: %s", name, res.Code, res.Body.String())
		}
		if service.gotQuestion != "" {
			t.Fatalf("%s: service must not be called", name)
		}
	}
}

func TestAnswerMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{err: domain.WrapError(domain.ErrInvalidInput, "answer", errors.New("empty question")), want: http.StatusBadRequest},
		{err: domain.WrapError(domain.ErrTemporary, "answer", errors.New("busy")), want: http.StatusServiceUnavailable},
		{err: errors.New("boom"), want: http.StatusInternalServerError},
	}
	for _, tc := range cases {
		res := postAnswer(newTestHandler(t, config.Config{}, &fakeAnswerService{err: tc.err}), `{"question":"q"}`)
		if res.Code != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, res.Code)
		}
	}
}

func TestHealthzReportsOpenCircuits(t *testing.T) {
	router, err := NewRouter(config.Config{}, &fakeAnswerService{}, fakeCircuits{"neo4j.run"}, nil, nil)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	res := httptest.NewRecorder()
	router.Handler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	var body struct {
		Status       string   `json:"status"`
		OpenCircuits []string `json:"open_circuits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if res.Code != http.StatusOK || body.Status != "degraded" || len(body.OpenCircuits) != 1 {
		t.Fatalf("unexpected healthz: %d %+v", res.Code, body)
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	httpMetrics := metrics.NewHTTPServerMetrics("api")
	router, err := NewRouter(config.Config{}, &fakeAnswerService{}, nil, httpMetrics, nil)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}
	handler := router.Handler()
	postAnswer(handler, `{"question":"q"}`)

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(res.Body.String(), `evidence_router_http_requests_total`) {
		t.Fatalf("expected http metrics, got:\n%s", res.Body.String())
	}
}

func TestAccessLogCarriesAnswerOutcome(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logs, nil))
	router, err := NewRouter(config.Config{}, &fakeAnswerService{}, nil, nil, logger)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	res := postAnswer(router.Handler(), `{"question":"who owns acme?"}`)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if strings.Contains(line, `"msg":"http_request"`) {
			if err := json.Unmarshal([]byte(line), &entry); err != nil {
				t.Fatalf("decode access log: %v", err)
			}
		}
	}
	if entry == nil {
		t.Fatalf("expected an access log line, got %s", logs.String())
	}
	if entry["grounded"] != true || entry["coordinator_state"] != "succeeded" || entry["path"] != "/v1/answer" {
		t.Fatalf("unexpected access log entry: %v", entry)
	}
}
