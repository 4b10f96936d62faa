package retrieval

import (
	"context"
	"fmt"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

// Semantic embeds the question and runs nearest-neighbour search.
type Semantic struct {
	embedder ports.Embedder
	vectorDB ports.VectorStore
}

func NewSemantic(embedder ports.Embedder, vectorDB ports.VectorStore) *Semantic {
	return &Semantic{embedder: embedder, vectorDB: vectorDB}
}

func (r *Semantic) Strategy() domain.Strategy {
	return domain.StrategySemantic
}

func (r *Semantic) Retrieve(ctx context.Context, question domain.Question, topK int) domain.RetrievalAttempt {
	return runAttempt(ctx, domain.StrategySemantic, func(ctx context.Context) ([]domain.EvidenceItem, error) {
		if topK <= 0 {
			topK = defaultTopK
		}
		queryVector, err := r.embedder.EmbedQuery(ctx, question.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		chunks, err := r.vectorDB.Search(ctx, queryVector, topK)
		if err != nil {
			return nil, fmt.Errorf("search vector db: %w", err)
		}
		return chunksToEvidence(trimCandidates(chunks, topK)), nil
	})
}
