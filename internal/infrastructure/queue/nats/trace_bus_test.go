package nats

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

func newTestBus(buf *bytes.Buffer) *TraceBus {
	return &TraceBus{subject: "answers.traces", logger: slog.New(slog.NewJSONHandler(buf, nil))}
}

func TestDispatchDecodesTrace(t *testing.T) {
	var logs bytes.Buffer
	bus := newTestBus(&logs)

	var got domain.AnswerTrace
	bus.dispatch(context.Background(), []byte(`{"id":"t1","question":"who owns acme?","grounded":true,"state":"succeeded"}`),
		func(_ context.Context, trace domain.AnswerTrace) error {
			got = trace
			return nil
		})
	if got.ID != "t1" || !got.Grounded || got.State != domain.StateSucceeded {
		t.Fatalf("unexpected trace: %+v", got)
	}
	if logs.Len() != 0 {
		t.Fatalf("expected no logs, got %s", logs.String())
	}
}

func TestDispatchLogsBadPayloadAndHandlerErrors(t *testing.T) {
	var logs bytes.Buffer
	bus := newTestBus(&logs)

	called := false
	bus.dispatch(context.Background(), []byte("not json"), func(context.Context, domain.AnswerTrace) error {
		called = true
		return nil
	})
	if called {
		t.Fatalf("handler must not run for undecodable payload")
	}
	if !strings.Contains(logs.String(), "answer_trace_decode_failed") {
		t.Fatalf("expected decode log, got %s", logs.String())
	}

	bus.dispatch(context.Background(), []byte(`{"id":"t2"}`), func(context.Context, domain.AnswerTrace) error {
		return errors.New("db down")
	})
	if !strings.Contains(logs.String(), "answer_trace_handler_failed") || !strings.Contains(logs.String(), "t2") {
		t.Fatalf("expected handler failure log, got %s", logs.String())
	}
}

func TestClassifyNATSError(t *testing.T) {
	cases := []struct {
		err       error
		retryable bool
	}{
		{err: fmt.Errorf("publish: %w", nats.ErrConnectionClosed), retryable: true},
		{err: nats.ErrTimeout, retryable: true},
		{err: nats.ErrMaxPayload, retryable: false},
		{err: context.Canceled, retryable: false},
	}
	for _, tc := range cases {
		if got := classifyNATSError(tc.err).Retryable; got != tc.retryable {
			t.Fatalf("%v: expected retryable=%v, got %v", tc.err, tc.retryable, got)
		}
	}
}
