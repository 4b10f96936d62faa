package usecase

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

// ParseEvalCases decodes a YAML list of questions. Cases without an id get
// their 1-based position.
func ParseEvalCases(data []byte) ([]domain.EvalCase, error) {
	var doc struct {
		Questions []domain.EvalCase `yaml:"questions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "parse eval cases", err)
	}
	out := make([]domain.EvalCase, 0, len(doc.Questions))
	for i, c := range doc.Questions {
		c.Question = strings.TrimSpace(c.Question)
		if c.Question == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "parse eval cases", fmt.Errorf("question %d is empty", i+1))
		}
		if strings.TrimSpace(c.ID) == "" {
			c.ID = fmt.Sprintf("q%d", i+1)
		}
		out = append(out, c)
	}
	return out, nil
}

type EvalUseCase struct {
	answers     ports.AnswerService
	concurrency int
}

func NewEvalUseCase(answers ports.AnswerService, concurrency int) *EvalUseCase {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &EvalUseCase{answers: answers, concurrency: concurrency}
}

// Run answers every case and aggregates per-strategy statistics. Individual
// answer errors are recorded on the result, not returned.
func (uc *EvalUseCase) Run(ctx context.Context, cases []domain.EvalCase) (domain.EvalSummary, error) {
	results := make([]domain.EvalResult, len(cases))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.concurrency)
	for i, c := range cases {
		g.Go(func() error {
			result := domain.EvalResult{Case: c}
			answer, err := uc.answers.Answer(gctx, c.Question, "eval:"+c.ID)
			if err != nil {
				result.Error = err.Error()
			} else if answer != nil {
				result.Answer = *answer
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return domain.EvalSummary{}, err
	}
	return Summarize(results), nil
}

func Summarize(results []domain.EvalResult) domain.EvalSummary {
	summary := domain.EvalSummary{Results: results, Total: len(results)}
	stats := make(map[domain.Strategy]*domain.StrategyStats, len(domain.AllStrategies))
	latency := make(map[domain.Strategy]int64, len(domain.AllStrategies))
	for _, strategy := range domain.AllStrategies {
		stats[strategy] = &domain.StrategyStats{Strategy: strategy}
	}

	for _, result := range results {
		if result.Answer.Grounded {
			summary.Grounded++
		}
		if !result.Matches() {
			summary.Mismatches++
		}
		for _, attempt := range result.Answer.Metadata.Attempts {
			s, ok := stats[attempt.Strategy]
			if !ok {
				continue
			}
			s.Tried++
			latency[attempt.Strategy] += attempt.LatencyMS
			switch attempt.Status {
			case domain.AttemptOK:
				s.OK++
			case domain.AttemptError, domain.AttemptTimeout:
				s.Failed++
			}
			if result.Answer.Grounded {
				s.GroundedAnswers++
			}
		}
	}

	for _, strategy := range domain.AllStrategies {
		s := stats[strategy]
		if s.Tried > 0 {
			s.AvgLatencyMS = float64(latency[strategy]) / float64(s.Tried)
		}
		summary.Strategies = append(summary.Strategies, *s)
	}
	return summary
}
