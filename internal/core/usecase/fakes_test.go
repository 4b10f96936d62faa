package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

// fakeRetriever replays scripted attempts; the last one repeats.
type fakeRetriever struct {
	strategy domain.Strategy
	script   []domain.RetrievalAttempt
	delay    time.Duration
	// ignoreCtx makes the retriever sleep through cancellation.
	ignoreCtx bool
	panics    bool
	calls     atomic.Int32
}

func (f *fakeRetriever) Strategy() domain.Strategy {
	return f.strategy
}

func (f *fakeRetriever) Retrieve(ctx context.Context, _ domain.Question, _ int) domain.RetrievalAttempt {
	n := int(f.calls.Add(1))
	if f.panics {
		panic("boom")
	}
	if f.delay > 0 {
		if f.ignoreCtx {
			time.Sleep(f.delay)
		} else {
			select {
			case <-time.After(f.delay):
			case <-ctx.Done():
				return domain.RetrievalAttempt{Strategy: f.strategy, Status: domain.AttemptTimeout, ErrorDetail: ctx.Err().Error()}
			}
		}
	}
	if len(f.script) == 0 {
		return domain.RetrievalAttempt{Strategy: f.strategy, Status: domain.AttemptEmpty}
	}
	idx := n - 1
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	attempt := f.script[idx]
	attempt.Strategy = f.strategy
	attempt.Evidence = append([]domain.EvidenceItem(nil), attempt.Evidence...)
	return attempt
}

type fakeLookup map[domain.Strategy]ports.Retriever

func (l fakeLookup) Get(strategy domain.Strategy) (ports.Retriever, bool) {
	r, ok := l[strategy]
	return r, ok
}

func lookupOf(retrievers ...*fakeRetriever) fakeLookup {
	out := fakeLookup{}
	for _, r := range retrievers {
		out[r.strategy] = r
	}
	return out
}

func okAttempt(items ...domain.EvidenceItem) domain.RetrievalAttempt {
	return domain.RetrievalAttempt{Status: domain.AttemptOK, Evidence: items}
}

func errAttempt(kind domain.ErrorKind, detail string) domain.RetrievalAttempt {
	return domain.RetrievalAttempt{Status: domain.AttemptError, ErrorKind: kind, ErrorDetail: detail}
}

func evidence(id string, score float64) domain.EvidenceItem {
	return domain.EvidenceItem{SourceID: id, SourceKind: domain.SourceChunk, Content: "content of " + id, RelevanceScore: score}
}

type draftCall struct {
	evidence []domain.EvidenceItem
	strict   bool
}

// fakeDraftGenerator returns drafts in order; the last one repeats.
type fakeDraftGenerator struct {
	mu     sync.Mutex
	drafts []domain.Draft
	err    error
	calls  []draftCall
}

func (f *fakeDraftGenerator) GenerateDraft(_ context.Context, _ string, items []domain.EvidenceItem, strict bool) (domain.Draft, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, draftCall{evidence: items, strict: strict})
	if f.err != nil {
		return domain.Draft{}, f.err
	}
	if len(f.drafts) == 0 {
		return domain.Draft{}, nil
	}
	idx := len(f.calls) - 1
	if idx >= len(f.drafts) {
		idx = len(f.drafts) - 1
	}
	return f.drafts[idx], nil
}

type fakeAliasResolver struct {
	aliases map[string]string
	err     error
}

func (f *fakeAliasResolver) ResolveAliases(_ context.Context, ids []string) (map[string]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[string]string{}
	for _, id := range ids {
		if canonical, ok := f.aliases[id]; ok {
			out[id] = canonical
		}
	}
	return out, nil
}

type fakeTracePublisher struct {
	mu     sync.Mutex
	traces []domain.AnswerTrace
	err    error
}

func (f *fakeTracePublisher) PublishAnswerTrace(_ context.Context, trace domain.AnswerTrace) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces = append(f.traces, trace)
	return f.err
}

type fakeTraceStore struct {
	saved []domain.AnswerTrace
	err   error
}

func (f *fakeTraceStore) SaveTrace(_ context.Context, trace domain.AnswerTrace) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, trace)
	return nil
}

type recordingObserver struct {
	mu       sync.Mutex
	intents  []domain.Intent
	attempts []domain.RetrievalAttempt
	answers  []domain.Answer
}

func (o *recordingObserver) ObserveIntent(intent domain.Intent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.intents = append(o.intents, intent)
}

func (o *recordingObserver) ObserveAttempt(attempt domain.RetrievalAttempt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, attempt)
}

func (o *recordingObserver) ObserveAnswer(answer domain.Answer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.answers = append(o.answers, answer)
}
