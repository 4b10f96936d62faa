package ports

import (
	"context"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

// AnswerService is the inbound contract for grounded question answering.
type AnswerService interface {
	Answer(ctx context.Context, questionText, sessionID string) (*domain.Answer, error)
}

// TraceRecorder is the inbound contract for persisting answer traces.
type TraceRecorder interface {
	Record(ctx context.Context, trace domain.AnswerTrace) error
}
