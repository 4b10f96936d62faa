package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
	"github.com/kirillkom/evidence-router/internal/core/routing"
)

const instrumentationName = "github.com/kirillkom/evidence-router/internal/core/usecase"

// RetrieverLookup resolves a strategy to its retriever.
type RetrieverLookup interface {
	Get(strategy domain.Strategy) (ports.Retriever, bool)
}

type CoordinatorConfig struct {
	TopK             int
	MinRelevance     float64
	RetrieverTimeout time.Duration
}

// Coordination is the outcome of running one plan.
type Coordination struct {
	Attempts        []domain.RetrievalAttempt
	StrategiesTried []domain.Strategy
	FanOut          bool
	State           domain.CoordinatorState
}

// AllFailed reports whether every attempt ended in error or timeout.
func (c Coordination) AllFailed() bool {
	if len(c.Attempts) == 0 {
		return false
	}
	for _, attempt := range c.Attempts {
		if attempt.Status != domain.AttemptError && attempt.Status != domain.AttemptTimeout {
			return false
		}
	}
	return true
}

type Coordinator struct {
	retrievers RetrieverLookup
	cfg        CoordinatorConfig
	observer   ports.AnswerObserver
	logger     *slog.Logger
	tracer     trace.Tracer
}

func NewCoordinator(
	retrievers RetrieverLookup,
	cfg CoordinatorConfig,
	observer ports.AnswerObserver,
	logger *slog.Logger,
) *Coordinator {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.RetrieverTimeout <= 0 {
		cfg.RetrieverTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		retrievers: retrievers,
		cfg:        cfg,
		observer:   observer,
		logger:     logger,
		tracer:     otel.Tracer(instrumentationName),
	}
}

// Run executes the plan and never fails: every retriever outcome is recorded
// as an attempt.
func (c *Coordinator) Run(ctx context.Context, question domain.Question, plan routing.Plan) Coordination {
	out := Coordination{FanOut: plan.FanOut}

	type step struct {
		strategy  domain.Strategy
		retriever ports.Retriever
	}
	steps := make([]step, 0, len(plan.Strategies))
	for _, strategy := range plan.Strategies {
		retriever, ok := c.retrievers.Get(strategy)
		if !ok {
			c.logger.Warn("strategy_not_registered", "strategy", strategy)
			continue
		}
		steps = append(steps, step{strategy: strategy, retriever: retriever})
	}

	if plan.FanOut {
		attempts := make([]domain.RetrievalAttempt, len(steps))
		var g errgroup.Group
		for i, s := range steps {
			g.Go(func() error {
				attempts[i] = c.attempt(ctx, s.retriever, question)
				return nil
			})
		}
		_ = g.Wait()
		out.Attempts = attempts
	} else {
		for _, s := range steps {
			attempt := c.attempt(ctx, s.retriever, question)
			if attempt.Status == domain.AttemptError && attempt.ErrorKind == domain.ErrorKindTransient && ctx.Err() == nil {
				c.logger.Info("retrieval_retry", "strategy", s.strategy, "error", attempt.ErrorDetail)
				attempt = c.attempt(ctx, s.retriever, question)
				attempt.Retried = true
			}
			out.Attempts = append(out.Attempts, attempt)
			if attempt.Status == domain.AttemptOK && attempt.MaxRelevance() >= c.cfg.MinRelevance {
				break
			}
			if ctx.Err() != nil {
				break
			}
		}
	}

	for _, attempt := range out.Attempts {
		out.StrategiesTried = append(out.StrategiesTried, attempt.Strategy)
	}
	out.State = coordinatorState(out.Attempts)
	return out
}

func coordinatorState(attempts []domain.RetrievalAttempt) domain.CoordinatorState {
	succeeded, failed := false, false
	for _, attempt := range attempts {
		switch attempt.Status {
		case domain.AttemptOK:
			if len(attempt.Evidence) > 0 {
				succeeded = true
			}
		case domain.AttemptError, domain.AttemptTimeout:
			failed = true
		}
	}
	switch {
	case !succeeded:
		return domain.StateFailed
	case failed:
		return domain.StatePartiallyFailed
	default:
		return domain.StateSucceeded
	}
}

// attempt runs one retriever under the per-retriever deadline. A retriever
// that does not return by then is abandoned; its late result is discarded.
func (c *Coordinator) attempt(ctx context.Context, retriever ports.Retriever, question domain.Question) domain.RetrievalAttempt {
	strategy := retriever.Strategy()
	ctx, span := c.tracer.Start(ctx, "retrieval.attempt",
		trace.WithAttributes(attribute.String("retrieval.strategy", string(strategy))))
	defer span.End()

	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.RetrieverTimeout)
	defer cancel()

	start := time.Now()
	done := make(chan domain.RetrievalAttempt, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- domain.RetrievalAttempt{
					Strategy:    strategy,
					Status:      domain.AttemptError,
					ErrorKind:   domain.ErrorKindFatal,
					ErrorDetail: fmt.Sprintf("retriever panic: %v", r),
				}
			}
		}()
		done <- retriever.Retrieve(attemptCtx, question, c.cfg.TopK)
	}()

	var attempt domain.RetrievalAttempt
	select {
	case attempt = <-done:
	case <-attemptCtx.Done():
		select {
		case attempt = <-done:
		default:
			attempt = domain.RetrievalAttempt{
				Strategy:    strategy,
				Status:      domain.AttemptTimeout,
				ErrorDetail: domain.WrapError(domain.ErrRetrieverTimeout, string(strategy), attemptCtx.Err()).Error(),
			}
		}
	}
	attempt = normalizeAttempt(attempt, strategy)
	attempt.LatencyMS = time.Since(start).Milliseconds()

	span.SetAttributes(
		attribute.String("retrieval.status", string(attempt.Status)),
		attribute.Int("retrieval.evidence", len(attempt.Evidence)),
	)
	if attempt.Status == domain.AttemptError || attempt.Status == domain.AttemptTimeout {
		span.SetStatus(codes.Error, attempt.ErrorDetail)
	}

	c.logger.Info("retrieval_attempt",
		"strategy", strategy,
		"status", attempt.Status,
		"evidence", len(attempt.Evidence),
		"latency_ms", attempt.LatencyMS,
		"error_kind", attempt.ErrorKind,
		"error", attempt.ErrorDetail,
	)
	if c.observer != nil {
		c.observer.ObserveAttempt(attempt)
	}
	return attempt
}

// normalizeAttempt enforces the attempt invariants regardless of how the
// retriever filled the struct.
func normalizeAttempt(attempt domain.RetrievalAttempt, strategy domain.Strategy) domain.RetrievalAttempt {
	attempt.Strategy = strategy
	switch attempt.Status {
	case domain.AttemptOK:
		if len(attempt.Evidence) == 0 {
			attempt.Status = domain.AttemptEmpty
		}
	case domain.AttemptEmpty:
		attempt.Evidence = nil
	case domain.AttemptError:
		attempt.Evidence = nil
		if attempt.ErrorKind == domain.ErrorKindNone {
			attempt.ErrorKind = domain.ErrorKindFatal
		}
	case domain.AttemptTimeout:
		attempt.Evidence = nil
		attempt.ErrorKind = domain.ErrorKindNone
	default:
		attempt.Status = domain.AttemptError
		attempt.ErrorKind = domain.ErrorKindFatal
		attempt.Evidence = nil
		if attempt.ErrorDetail == "" {
			attempt.ErrorDetail = "retriever returned no status"
		}
	}
	for i := range attempt.Evidence {
		attempt.Evidence[i].OriginStrategy = strategy
	}
	return attempt
}
