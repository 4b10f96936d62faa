package usecase

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/routing"
)

func sequentialPlan(strategies ...domain.Strategy) routing.Plan {
	return routing.Plan{Strategies: strategies}
}

func newTestCoordinator(lookup RetrieverLookup, cfg CoordinatorConfig) *Coordinator {
	return NewCoordinator(lookup, cfg, nil, nil)
}

func TestCoordinatorSequentialStopsAtFirstRelevantResult(t *testing.T) {
	structured := &fakeRetriever{strategy: domain.StrategyStructured, script: []domain.RetrievalAttempt{okAttempt(evidence("customer:acme", 1))}}
	fused := &fakeRetriever{strategy: domain.StrategyFused, script: []domain.RetrievalAttempt{okAttempt(evidence("chunk:1", 0.9))}}
	c := newTestCoordinator(lookupOf(structured, fused), CoordinatorConfig{MinRelevance: 0.5})

	out := c.Run(context.Background(), testQuestion("who is acme"), sequentialPlan(domain.StrategyStructured, domain.StrategyFused))
	if len(out.Attempts) != 1 || fused.calls.Load() != 0 {
		t.Fatalf("expected to stop after structured, attempts=%d fused calls=%d", len(out.Attempts), fused.calls.Load())
	}
	if out.State != domain.StateSucceeded {
		t.Fatalf("expected succeeded, got %s", out.State)
	}
	if out.Attempts[0].Evidence[0].OriginStrategy != domain.StrategyStructured {
		t.Fatalf("expected origin stamped by coordinator, got %+v", out.Attempts[0].Evidence[0])
	}
}

func TestCoordinatorSequentialAdvancesPastLowRelevance(t *testing.T) {
	fused := &fakeRetriever{strategy: domain.StrategyFused, script: []domain.RetrievalAttempt{okAttempt(evidence("chunk:1", 0.2))}}
	semantic := &fakeRetriever{strategy: domain.StrategySemantic, script: []domain.RetrievalAttempt{okAttempt(evidence("chunk:2", 0.8))}}
	c := newTestCoordinator(lookupOf(fused, semantic), CoordinatorConfig{MinRelevance: 0.5})

	out := c.Run(context.Background(), testQuestion("explain pricing"), sequentialPlan(domain.StrategyFused, domain.StrategySemantic))
	if len(out.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(out.Attempts))
	}
	if out.Attempts[0].Status != domain.AttemptOK || len(out.Attempts[0].Evidence) != 1 {
		t.Fatalf("expected low relevance evidence to be kept, got %+v", out.Attempts[0])
	}
	if got := out.StrategiesTried; len(got) != 2 || got[0] != domain.StrategyFused || got[1] != domain.StrategySemantic {
		t.Fatalf("unexpected strategies tried: %v", got)
	}
}

func TestCoordinatorRetriesTransientErrorOnce(t *testing.T) {
	structured := &fakeRetriever{strategy: domain.StrategyStructured, script: []domain.RetrievalAttempt{
		errAttempt(domain.ErrorKindTransient, "neo4j unavailable"),
		okAttempt(evidence("customer:acme", 1)),
	}}
	c := newTestCoordinator(lookupOf(structured), CoordinatorConfig{})

	out := c.Run(context.Background(), testQuestion("who is acme"), sequentialPlan(domain.StrategyStructured))
	if structured.calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", structured.calls.Load())
	}
	if len(out.Attempts) != 1 || !out.Attempts[0].Retried || out.Attempts[0].Status != domain.AttemptOK {
		t.Fatalf("expected retried ok attempt, got %+v", out.Attempts)
	}
	if out.State != domain.StateSucceeded {
		t.Fatalf("expected succeeded, got %s", out.State)
	}
}

func TestCoordinatorFallbackBound(t *testing.T) {
	transient := []domain.RetrievalAttempt{errAttempt(domain.ErrorKindTransient, "unavailable")}
	retrievers := []*fakeRetriever{
		{strategy: domain.StrategyStructured, script: transient},
		{strategy: domain.StrategyFused, script: transient},
		{strategy: domain.StrategySemantic, script: transient},
	}
	c := newTestCoordinator(lookupOf(retrievers...), CoordinatorConfig{})

	plan := sequentialPlan(domain.StrategyStructured, domain.StrategyFused, domain.StrategySemantic)
	out := c.Run(context.Background(), testQuestion("anything"), plan)

	total := int32(0)
	for _, r := range retrievers {
		total += r.calls.Load()
	}
	if total > int32(2*len(plan.Strategies)) {
		t.Fatalf("expected at most %d calls, got %d", 2*len(plan.Strategies), total)
	}
	if total != 6 {
		t.Fatalf("expected every strategy retried once, got %d calls", total)
	}
	if out.State != domain.StateFailed {
		t.Fatalf("expected failed, got %s", out.State)
	}
}

func TestCoordinatorFatalErrorIsNotRetriedAndFallsBack(t *testing.T) {
	structured := &fakeRetriever{strategy: domain.StrategyStructured, script: []domain.RetrievalAttempt{
		errAttempt(domain.ErrorKindFatal, "unknown property c.subscriptionValue"),
	}}
	fused := &fakeRetriever{strategy: domain.StrategyFused, script: []domain.RetrievalAttempt{okAttempt(evidence("chunk:9", 0.7))}}
	c := newTestCoordinator(lookupOf(structured, fused), CoordinatorConfig{MinRelevance: 0.5})

	out := c.Run(context.Background(), testQuestion("acme value"), sequentialPlan(domain.StrategyStructured, domain.StrategyFused))
	if structured.calls.Load() != 1 {
		t.Fatalf("fatal errors must not be retried, got %d calls", structured.calls.Load())
	}
	if fused.calls.Load() != 1 {
		t.Fatalf("expected fused fallback to run")
	}
	if out.State != domain.StatePartiallyFailed {
		t.Fatalf("expected partially_failed, got %s", out.State)
	}
}

func TestCoordinatorAbandonsRetrieverIgnoringDeadline(t *testing.T) {
	slow := &fakeRetriever{
		strategy:  domain.StrategyStructured,
		delay:     time.Second,
		ignoreCtx: true,
		script:    []domain.RetrievalAttempt{okAttempt(evidence("late", 1))},
	}
	fused := &fakeRetriever{strategy: domain.StrategyFused, script: []domain.RetrievalAttempt{okAttempt(evidence("chunk:1", 0.9))}}
	deadline := 50 * time.Millisecond
	c := newTestCoordinator(lookupOf(slow, fused), CoordinatorConfig{RetrieverTimeout: deadline, MinRelevance: 0.5})

	start := time.Now()
	out := c.Run(context.Background(), testQuestion("acme"), sequentialPlan(domain.StrategyStructured, domain.StrategyFused))
	elapsed := time.Since(start)

	if elapsed > deadline+400*time.Millisecond {
		t.Fatalf("expected completion near the deadline, took %s", elapsed)
	}
	if out.Attempts[0].Status != domain.AttemptTimeout || len(out.Attempts[0].Evidence) != 0 {
		t.Fatalf("expected timeout attempt without evidence, got %+v", out.Attempts[0])
	}
	if !strings.Contains(out.Attempts[0].ErrorDetail, "timeout") {
		t.Fatalf("expected timeout detail, got %q", out.Attempts[0].ErrorDetail)
	}
	if out.State != domain.StatePartiallyFailed {
		t.Fatalf("expected partially_failed, got %s", out.State)
	}
}

func TestCoordinatorFanOutRunsConcurrently(t *testing.T) {
	delay := 150 * time.Millisecond
	retrievers := []*fakeRetriever{
		{strategy: domain.StrategyStructured, delay: delay},
		{strategy: domain.StrategyFused, delay: delay, script: []domain.RetrievalAttempt{okAttempt(evidence("chunk:1", 0.9))}},
		{strategy: domain.StrategySemantic, delay: delay, script: []domain.RetrievalAttempt{okAttempt(evidence("chunk:1", 0.8))}},
	}
	c := newTestCoordinator(lookupOf(retrievers...), CoordinatorConfig{RetrieverTimeout: time.Second})

	start := time.Now()
	out := c.Run(context.Background(), testQuestion("anything"), routing.Plan{Strategies: domain.AllStrategies, FanOut: true})
	elapsed := time.Since(start)

	if elapsed > 2*delay {
		t.Fatalf("expected concurrent execution, took %s", elapsed)
	}
	if !out.FanOut || len(out.Attempts) != 3 {
		t.Fatalf("expected 3 fan-out attempts, got %+v", out)
	}
	for i, strategy := range domain.AllStrategies {
		if out.Attempts[i].Strategy != strategy {
			t.Fatalf("expected attempts in plan order, got %s at %d", out.Attempts[i].Strategy, i)
		}
	}
	if out.Attempts[0].Status != domain.AttemptEmpty {
		t.Fatalf("expected structured empty, got %s", out.Attempts[0].Status)
	}
	if out.State != domain.StateSucceeded {
		t.Fatalf("expected succeeded, got %s", out.State)
	}
}

func TestCoordinatorFanOutTimeoutContributesNothing(t *testing.T) {
	retrievers := []*fakeRetriever{
		{strategy: domain.StrategyStructured, delay: time.Second, ignoreCtx: true, script: []domain.RetrievalAttempt{okAttempt(evidence("late", 1))}},
		{strategy: domain.StrategyFused, script: []domain.RetrievalAttempt{okAttempt(evidence("chunk:1", 0.9))}},
	}
	c := newTestCoordinator(lookupOf(retrievers...), CoordinatorConfig{RetrieverTimeout: 40 * time.Millisecond})

	out := c.Run(context.Background(), testQuestion("anything"), routing.Plan{
		Strategies: []domain.Strategy{domain.StrategyStructured, domain.StrategyFused},
		FanOut:     true,
	})
	if out.Attempts[0].Status != domain.AttemptTimeout || out.Attempts[0].Evidence != nil {
		t.Fatalf("expected timeout without evidence, got %+v", out.Attempts[0])
	}
	if out.State != domain.StatePartiallyFailed {
		t.Fatalf("expected partially_failed, got %s", out.State)
	}
}

func TestCoordinatorRecoversRetrieverPanic(t *testing.T) {
	broken := &fakeRetriever{strategy: domain.StrategySemantic, panics: true}
	c := newTestCoordinator(lookupOf(broken), CoordinatorConfig{})

	out := c.Run(context.Background(), testQuestion("anything"), sequentialPlan(domain.StrategySemantic))
	if len(out.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(out.Attempts))
	}
	attempt := out.Attempts[0]
	if attempt.Status != domain.AttemptError || attempt.ErrorKind != domain.ErrorKindFatal {
		t.Fatalf("expected fatal error attempt, got %+v", attempt)
	}
	if out.State != domain.StateFailed {
		t.Fatalf("expected failed, got %s", out.State)
	}
}

func TestCoordinatorNormalizesInconsistentAttempts(t *testing.T) {
	odd := &fakeRetriever{strategy: domain.StrategySemantic, script: []domain.RetrievalAttempt{
		{Status: domain.AttemptOK},
	}}
	c := newTestCoordinator(lookupOf(odd), CoordinatorConfig{})

	out := c.Run(context.Background(), testQuestion("anything"), sequentialPlan(domain.StrategySemantic))
	if out.Attempts[0].Status != domain.AttemptEmpty {
		t.Fatalf("expected ok without evidence to become empty, got %s", out.Attempts[0].Status)
	}
}

func TestCoordinatorSkipsUnregisteredStrategies(t *testing.T) {
	fused := &fakeRetriever{strategy: domain.StrategyFused}
	c := newTestCoordinator(lookupOf(fused), CoordinatorConfig{})

	out := c.Run(context.Background(), testQuestion("anything"), sequentialPlan(domain.StrategyStructured, domain.StrategyFused))
	if len(out.Attempts) != 1 || out.Attempts[0].Strategy != domain.StrategyFused {
		t.Fatalf("expected only fused attempt, got %+v", out.Attempts)
	}
	if out.State != domain.StateFailed {
		t.Fatalf("expected failed for empty-only run, got %s", out.State)
	}
}

func testQuestion(text string) domain.Question {
	return domain.NewQuestion(text, "session-1", time.Now())
}
