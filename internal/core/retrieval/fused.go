package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

type FusedConfig struct {
	Fusion       FusionStrategy
	RRFK         int
	VectorWeight float64
	// Candidates is the per-side search depth before fusion.
	Candidates int
	RerankTopN int
}

func (c FusedConfig) normalize() FusedConfig {
	out := c
	if out.Fusion != FusionRRF && out.Fusion != FusionWeighted {
		out.Fusion = FusionWeighted
	}
	if out.RRFK <= 0 {
		out.RRFK = defaultRRFK
	}
	if out.VectorWeight <= 0 || out.VectorWeight > 1 {
		out.VectorWeight = defaultVectorWeight
	}
	if out.Candidates < 0 {
		out.Candidates = 0
	}
	if out.RerankTopN < 0 {
		out.RerankTopN = 0
	}
	return out
}

// Fused runs vector and keyword search over the same corpus and merges both
// rankings into one list.
type Fused struct {
	embedder ports.Embedder
	vectorDB ports.VectorStore
	keyword  ports.KeywordSearcher
	cfg      FusedConfig
	logger   *slog.Logger
}

func NewFused(
	embedder ports.Embedder,
	vectorDB ports.VectorStore,
	keyword ports.KeywordSearcher,
	cfg FusedConfig,
	logger *slog.Logger,
) *Fused {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fused{
		embedder: embedder,
		vectorDB: vectorDB,
		keyword:  keyword,
		cfg:      cfg.normalize(),
		logger:   logger,
	}
}

func (r *Fused) Strategy() domain.Strategy {
	return domain.StrategyFused
}

func (r *Fused) Retrieve(ctx context.Context, question domain.Question, topK int) domain.RetrievalAttempt {
	return runAttempt(ctx, domain.StrategyFused, func(ctx context.Context) ([]domain.EvidenceItem, error) {
		if topK <= 0 {
			topK = defaultTopK
		}
		candidates := r.cfg.Candidates
		if candidates < topK {
			candidates = topK * 3
		}

		var (
			dense, lexical       []domain.RetrievedChunk
			denseErr, lexicalErr error
		)
		var g errgroup.Group
		g.Go(func() error {
			queryVector, err := r.embedder.EmbedQuery(ctx, question.Text)
			if err != nil {
				denseErr = fmt.Errorf("embed query: %w", err)
				return nil
			}
			dense, denseErr = r.vectorDB.Search(ctx, queryVector, candidates)
			if denseErr != nil {
				denseErr = fmt.Errorf("search vector db: %w", denseErr)
			}
			return nil
		})
		g.Go(func() error {
			lexical, lexicalErr = r.keyword.SearchKeyword(ctx, question.Text, candidates)
			if lexicalErr != nil {
				lexicalErr = fmt.Errorf("search keyword index: %w", lexicalErr)
			}
			return nil
		})
		_ = g.Wait()

		if denseErr != nil && lexicalErr != nil {
			return nil, errors.Join(denseErr, lexicalErr)
		}
		if denseErr != nil {
			r.logger.Warn("fused_side_failed", "side", "vector", "error", denseErr)
		}
		if lexicalErr != nil {
			r.logger.Warn("fused_side_failed", "side", "keyword", "error", lexicalErr)
		}

		var fused []domain.RetrievedChunk
		switch r.cfg.Fusion {
		case FusionRRF:
			fused = fuseCandidatesRRF(dense, lexical, r.cfg.RRFK)
		default:
			fused = fuseCandidatesWeighted(dense, lexical, r.cfg.VectorWeight)
		}
		if len(fused) == 0 {
			if err := errors.Join(denseErr, lexicalErr); err != nil {
				return nil, err
			}
			return nil, nil
		}
		if r.cfg.RerankTopN > 0 {
			fused = rerankFused(question.Text, fused, r.cfg.RerankTopN)
		}
		return chunksToEvidence(trimCandidates(fused, topK)), nil
	})
}
