package ports

import (
	"context"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

// IntentClassifier maps question text to an intent.
type IntentClassifier interface {
	Classify(ctx context.Context, text string) (domain.Intent, error)
}

// IntentCache stores classified intents by normalized question text.
type IntentCache interface {
	GetIntent(ctx context.Context, key string) (domain.Intent, bool, error)
	SetIntent(ctx context.Context, key string, intent domain.Intent) error
}

// Retriever is one retrieval strategy. Retrieve never returns an error:
// failures are reported in the attempt status.
type Retriever interface {
	Strategy() domain.Strategy
	Retrieve(ctx context.Context, question domain.Question, topK int) domain.RetrievalAttempt
}

// Embedder builds the query vector.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// VectorStore performs nearest-neighbour search over chunk embeddings.
type VectorStore interface {
	Search(ctx context.Context, queryVector []float32, limit int) ([]domain.RetrievedChunk, error)
}

// KeywordSearcher performs full-text search over the same chunk corpus.
type KeywordSearcher interface {
	SearchKeyword(ctx context.Context, queryText string, limit int) ([]domain.RetrievedChunk, error)
}

// QueryTranslator turns a question into a graph query.
type QueryTranslator interface {
	Translate(ctx context.Context, question string) (domain.GraphQuery, error)
}

// GraphStore executes read queries against the property graph.
type GraphStore interface {
	Run(ctx context.Context, query domain.GraphQuery, limit int) ([]domain.GraphRecord, error)
}

// DraftGenerator synthesizes a cited draft answer from evidence only.
type DraftGenerator interface {
	GenerateDraft(ctx context.Context, question string, evidence []domain.EvidenceItem, strict bool) (domain.Draft, error)
}

// SourceAliasResolver maps alias source ids to their canonical id.
type SourceAliasResolver interface {
	ResolveAliases(ctx context.Context, sourceIDs []string) (map[string]string, error)
}

// TracePublisher emits answer traces to the observability bus.
type TracePublisher interface {
	PublishAnswerTrace(ctx context.Context, trace domain.AnswerTrace) error
}

// TraceSubscriber consumes answer traces from the observability bus.
type TraceSubscriber interface {
	SubscribeAnswerTraces(ctx context.Context, handler func(context.Context, domain.AnswerTrace) error) error
}

// TraceStore persists answer traces.
type TraceStore interface {
	SaveTrace(ctx context.Context, trace domain.AnswerTrace) error
}

// AnswerObserver receives pipeline events, typically for metrics.
type AnswerObserver interface {
	ObserveIntent(intent domain.Intent)
	ObserveAttempt(attempt domain.RetrievalAttempt)
	ObserveAnswer(answer domain.Answer)
}
