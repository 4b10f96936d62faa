package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
	"github.com/kirillkom/evidence-router/internal/core/routing"
)

// PlanSelector chooses the retrieval plan for a classified intent.
type PlanSelector interface {
	Select(intent domain.Intent) routing.Plan
}

type AnswerConfig struct {
	QuestionTimeout time.Duration
	PublishTimeout  time.Duration
}

type AnswerUseCase struct {
	classifier  ports.IntentClassifier
	selector    PlanSelector
	coordinator *Coordinator
	merger      *Merger
	gate        *Gate
	publisher   ports.TracePublisher
	observer    ports.AnswerObserver
	cfg         AnswerConfig
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

func NewAnswerUseCase(
	classifier ports.IntentClassifier,
	selector PlanSelector,
	coordinator *Coordinator,
	merger *Merger,
	gate *Gate,
	publisher ports.TracePublisher,
	observer ports.AnswerObserver,
	cfg AnswerConfig,
	logger *slog.Logger,
) *AnswerUseCase {
	if cfg.QuestionTimeout <= 0 {
		cfg.QuestionTimeout = 60 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AnswerUseCase{
		classifier:  classifier,
		selector:    selector,
		coordinator: coordinator,
		merger:      merger,
		gate:        gate,
		publisher:   publisher,
		observer:    observer,
		cfg:         cfg,
		logger:      logger,
		tracer:      otel.Tracer(instrumentationName),
		now:         time.Now,
	}
}

func (uc *AnswerUseCase) Answer(ctx context.Context, questionText, sessionID string) (*domain.Answer, error) {
	question := domain.NewQuestion(questionText, sessionID, uc.now())
	if question.Text == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer", fmt.Errorf("question text is required"))
	}

	ctx, span := uc.tracer.Start(ctx, "answer.question")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, uc.cfg.QuestionTimeout)
	defer cancel()

	intent := uc.classify(ctx, question)
	if uc.observer != nil {
		uc.observer.ObserveIntent(intent)
	}
	plan := uc.selector.Select(intent)
	uc.logger.Info("retrieval_plan",
		"intent", intent.Category,
		"confidence", intent.Confidence,
		"strategies", plan.Strategies,
		"fan_out", plan.FanOut,
	)

	coordination := uc.coordinator.Run(ctx, question, plan)
	set := uc.merger.Merge(ctx, coordination.Attempts)
	grounding := uc.gate.Synthesize(ctx, question, set, coordination)

	attempts := make([]domain.AttemptSummary, 0, len(coordination.Attempts))
	for _, attempt := range coordination.Attempts {
		attempts = append(attempts, domain.SummarizeAttempt(attempt))
	}
	citations := grounding.Citations
	if citations == nil {
		citations = []string{}
	}
	answer := &domain.Answer{
		Text:           grounding.Text,
		Grounded:       grounding.Grounded,
		Citations:      citations,
		RejectedReason: grounding.RejectedReason,
		Metadata: domain.AnswerMetadata{
			StrategiesTried:  coordination.StrategiesTried,
			LatencyMS:        uc.now().Sub(question.ReceivedAt).Milliseconds(),
			Intent:           intent,
			FanOut:           coordination.FanOut,
			CoordinatorState: coordination.State,
			Attempts:         attempts,
			EvidenceCount:    set.Len(),
			SynthesisRetried: grounding.Retried,
		},
	}
	if answer.Metadata.StrategiesTried == nil {
		answer.Metadata.StrategiesTried = []domain.Strategy{}
	}

	span.SetAttributes(
		attribute.String("answer.intent", string(intent.Category)),
		attribute.String("answer.state", string(coordination.State)),
		attribute.Bool("answer.grounded", answer.Grounded),
	)
	uc.logger.Info("answer_completed",
		"grounded", answer.Grounded,
		"rejected_reason", answer.RejectedReason,
		"state", coordination.State,
		"evidence", set.Len(),
		"latency_ms", answer.Metadata.LatencyMS,
	)
	if uc.observer != nil {
		uc.observer.ObserveAnswer(*answer)
	}
	uc.publishTrace(ctx, question, answer)
	return answer, nil
}

func (uc *AnswerUseCase) classify(ctx context.Context, question domain.Question) domain.Intent {
	if uc.classifier == nil {
		return domain.AmbiguousIntent()
	}
	intent, err := uc.classifier.Classify(ctx, question.Text)
	if err != nil {
		uc.logger.Warn("classification_failure",
			"error", domain.WrapError(domain.ErrClassificationFailure, "classify", err),
		)
		return domain.AmbiguousIntent()
	}
	return domain.NewIntent(intent.Category, intent.Confidence)
}

func (uc *AnswerUseCase) publishTrace(ctx context.Context, question domain.Question, answer *domain.Answer) {
	if uc.publisher == nil {
		return
	}
	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uc.cfg.PublishTimeout)
	defer cancel()

	trace := domain.AnswerTrace{
		ID:             uuid.NewString(),
		SessionID:      question.SessionID,
		Question:       question.Text,
		Intent:         answer.Metadata.Intent,
		FanOut:         answer.Metadata.FanOut,
		State:          answer.Metadata.CoordinatorState,
		Grounded:       answer.Grounded,
		RejectedReason: answer.RejectedReason,
		Citations:      answer.Citations,
		Attempts:       answer.Metadata.Attempts,
		LatencyMS:      answer.Metadata.LatencyMS,
		ReceivedAt:     question.ReceivedAt,
	}
	if err := uc.publisher.PublishAnswerTrace(publishCtx, trace); err != nil {
		uc.logger.Warn("answer_trace_publish_failed", "trace_id", trace.ID, "error", err)
	}
}
