package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

type TraceUseCase struct {
	store ports.TraceStore
}

func NewTraceUseCase(store ports.TraceStore) *TraceUseCase {
	return &TraceUseCase{store: store}
}

func (uc *TraceUseCase) Record(ctx context.Context, trace domain.AnswerTrace) error {
	if strings.TrimSpace(trace.ID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record trace", fmt.Errorf("trace id is required"))
	}
	if trace.State == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record trace", fmt.Errorf("trace state is required"))
	}
	if err := uc.store.SaveTrace(ctx, trace); err != nil {
		return fmt.Errorf("save trace: %w", err)
	}
	return nil
}
