package usecase

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/routing"
)

type answerFixture struct {
	structured *fakeRetriever
	fused      *fakeRetriever
	semantic   *fakeRetriever
	generator  *fakeDraftGenerator
	publisher  *fakeTracePublisher
	observer   *recordingObserver
	cfg        AnswerConfig
	coordCfg   CoordinatorConfig
}

func newAnswerFixture() *answerFixture {
	return &answerFixture{
		structured: &fakeRetriever{strategy: domain.StrategyStructured},
		fused:      &fakeRetriever{strategy: domain.StrategyFused},
		semantic:   &fakeRetriever{strategy: domain.StrategySemantic},
		generator:  &fakeDraftGenerator{},
		publisher:  &fakeTracePublisher{},
		observer:   &recordingObserver{},
		coordCfg:   CoordinatorConfig{MinRelevance: 0.5, RetrieverTimeout: time.Second},
	}
}

func (f *answerFixture) build(t *testing.T) *AnswerUseCase {
	t.Helper()
	selector, err := routing.NewSelector(routing.DefaultRoutingTable(), domain.AllStrategies, routing.SelectorConfig{FanOutConfidence: 0.5})
	if err != nil {
		t.Fatalf("new selector: %v", err)
	}
	classifier := routing.NewSafeClassifier(routing.NewRuleClassifier(routing.DefaultRuleSet()), nil)
	return NewAnswerUseCase(
		classifier,
		selector,
		NewCoordinator(lookupOf(f.structured, f.fused, f.semantic), f.coordCfg, f.observer, nil),
		NewMerger(nil, 20, nil),
		NewGate(f.generator, nil),
		f.publisher,
		f.observer,
		f.cfg,
		nil,
	)
}

func graphEvidence(id, content string) domain.EvidenceItem {
	return domain.EvidenceItem{SourceID: id, SourceKind: domain.SourceGraphRecord, Content: content, RelevanceScore: 1}
}

func TestAnswerEntityLookupGroundedOnGraphRecord(t *testing.T) {
	f := newAnswerFixture()
	f.structured.script = []domain.RetrievalAttempt{okAttempt(graphEvidence("customer:techcorp", "(Customer) name=TechCorp, subscription_value=$5M"))}
	f.generator.drafts = []domain.Draft{{Text: "TechCorp's subscription is worth $5M.", Citations: []string{"customer:techcorp"}}}

	answer, err := f.build(t).Answer(context.Background(), "What is TechCorp's subscription value?", "s-1")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if !answer.Grounded || !reflect.DeepEqual(answer.Citations, []string{"customer:techcorp"}) {
		t.Fatalf("expected grounded answer citing the record, got %+v", answer)
	}
	meta := answer.Metadata
	if meta.Intent.Category != domain.IntentEntityLookup || meta.FanOut {
		t.Fatalf("unexpected routing metadata: %+v", meta)
	}
	if !reflect.DeepEqual(meta.StrategiesTried, []domain.Strategy{domain.StrategyStructured}) {
		t.Fatalf("expected only structured tried, got %v", meta.StrategiesTried)
	}
	if meta.CoordinatorState != domain.StateSucceeded || meta.EvidenceCount != 1 {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if f.fused.calls.Load() != 0 {
		t.Fatalf("fused must not run after a relevant structured result")
	}
}

func TestAnswerConceptualLookupDeduplicatesOverlappingChunks(t *testing.T) {
	f := newAnswerFixture()
	f.fused.script = []domain.RetrievalAttempt{okAttempt(
		domain.EvidenceItem{SourceID: "chunk:spyro:0", Content: "SpyroCloud features autoscaling", RelevanceScore: 0.45},
		domain.EvidenceItem{SourceID: "chunk:spyro:1", Content: "SpyroCloud features SSO", RelevanceScore: 0.3},
	)}
	f.semantic.script = []domain.RetrievalAttempt{okAttempt(
		domain.EvidenceItem{SourceID: "chunk:spyro:0", Content: "SpyroCloud features autoscaling", RelevanceScore: 0.7},
	)}
	f.generator.drafts = []domain.Draft{{Text: "SpyroCloud offers autoscaling and SSO.", Citations: []string{"chunk:spyro:0", "chunk:spyro:1"}}}

	answer, err := f.build(t).Answer(context.Background(), "Explain the SpyroCloud features", "s-1")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer.Metadata.Intent.Category != domain.IntentConceptualLookup {
		t.Fatalf("expected conceptual_lookup, got %+v", answer.Metadata.Intent)
	}
	if !answer.Grounded {
		t.Fatalf("expected grounded answer, got %+v", answer)
	}
	if len(f.generator.calls) != 1 {
		t.Fatalf("expected one synthesis call, got %d", len(f.generator.calls))
	}
	items := f.generator.calls[0].evidence
	if len(items) != 2 {
		t.Fatalf("expected 2 unique evidence items, got %d", len(items))
	}
	for _, item := range items {
		if item.SourceID == "chunk:spyro:0" && item.OriginStrategy != domain.StrategyFused {
			t.Fatalf("expected fused copy to win dedup, got %+v", item)
		}
	}
}

func TestAnswerAllStrategiesEmptyIsUngrounded(t *testing.T) {
	f := newAnswerFixture()

	answer, err := f.build(t).Answer(context.Background(), "What is our Q9 2099 revenue projection by galaxy?", "s-1")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if answer.Grounded || answer.RejectedReason != domain.RejectNoEvidence {
		t.Fatalf("expected no-evidence rejection, got %+v", answer)
	}
	if len(f.generator.calls) != 0 {
		t.Fatalf("synthesizer must not be called without evidence")
	}
	if answer.Metadata.CoordinatorState != domain.StateFailed {
		t.Fatalf("expected failed state, got %s", answer.Metadata.CoordinatorState)
	}
	if answer.Citations == nil {
		t.Fatalf("citations must be an empty list, not nil")
	}
}

func TestAnswerFallsBackAfterFatalTranslationError(t *testing.T) {
	f := newAnswerFixture()
	f.structured.script = []domain.RetrievalAttempt{errAttempt(domain.ErrorKindFatal, "unknown property c.subscriptionValue")}
	f.fused.script = []domain.RetrievalAttempt{okAttempt(evidence("chunk:techcorp:3", 0.8))}
	f.generator.drafts = []domain.Draft{{Text: "TechCorp pays $5M per year.", Citations: []string{"chunk:techcorp:3"}}}

	answer, err := f.build(t).Answer(context.Background(), "What is TechCorp's subscription value?", "s-1")
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if f.structured.calls.Load() != 1 || f.fused.calls.Load() != 1 {
		t.Fatalf("expected structured once then fused, got %d/%d", f.structured.calls.Load(), f.fused.calls.Load())
	}
	attempts := answer.Metadata.Attempts
	if len(attempts) != 2 || attempts[0].Status != domain.AttemptError || attempts[0].ErrorKind != domain.ErrorKindFatal {
		t.Fatalf("expected fatal structured attempt recorded, got %+v", attempts)
	}
	if !answer.Grounded || answer.Metadata.CoordinatorState != domain.StatePartiallyFailed {
		t.Fatalf("expected grounded partially_failed answer, got %+v", answer)
	}
}

func TestAnswerRejectsEmptyQuestion(t *testing.T) {
	f := newAnswerFixture()
	_, err := f.build(t).Answer(context.Background(), "   ", "s-1")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if len(f.publisher.traces) != 0 {
		t.Fatalf("no trace expected for rejected input")
	}
}

func TestAnswerPublishesTraceAndIgnoresPublishFailure(t *testing.T) {
	f := newAnswerFixture()
	f.publisher.err = errors.New("nats down")
	f.structured.script = []domain.RetrievalAttempt{okAttempt(graphEvidence("customer:techcorp", "TechCorp"))}
	f.generator.drafts = []domain.Draft{{Text: "TechCorp.", Citations: []string{"customer:techcorp"}}}

	answer, err := f.build(t).Answer(context.Background(), "Who is the owner of TechCorp account?", "s-42")
	if err != nil {
		t.Fatalf("publish failure must not fail the answer: %v", err)
	}
	if len(f.publisher.traces) != 1 {
		t.Fatalf("expected one published trace, got %d", len(f.publisher.traces))
	}
	trace := f.publisher.traces[0]
	if trace.ID == "" || trace.SessionID != "s-42" || trace.Grounded != answer.Grounded || trace.State != answer.Metadata.CoordinatorState {
		t.Fatalf("unexpected trace: %+v", trace)
	}
	if len(f.observer.answers) != 1 || len(f.observer.intents) != 1 || len(f.observer.attempts) == 0 {
		t.Fatalf("expected observer events, got %+v", f.observer)
	}
}

func TestAnswerRespectsQuestionDeadline(t *testing.T) {
	f := newAnswerFixture()
	f.structured.delay = 2 * time.Second
	f.structured.ignoreCtx = true
	f.cfg.QuestionTimeout = 100 * time.Millisecond

	start := time.Now()
	answer, err := f.build(t).Answer(context.Background(), "What is TechCorp's subscription value?", "s-1")
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("answer: %v", err)
	}
	if elapsed > 600*time.Millisecond {
		t.Fatalf("expected answer near the question deadline, took %s", elapsed)
	}
	if answer.Grounded || !strings.HasPrefix(answer.RejectedReason, domain.RejectNoEvidence) {
		t.Fatalf("expected ungrounded answer, got %+v", answer)
	}
	if answer.Metadata.Attempts[0].Status != domain.AttemptTimeout {
		t.Fatalf("expected timeout attempt, got %+v", answer.Metadata.Attempts)
	}
}
