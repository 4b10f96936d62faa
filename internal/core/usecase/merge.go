package usecase

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

const defaultMergeMaxItems = 20

// Merger pools evidence from successful attempts into one deduplicated,
// deterministically ordered set.
type Merger struct {
	aliases  ports.SourceAliasResolver
	maxItems int
	logger   *slog.Logger
}

func NewMerger(aliases ports.SourceAliasResolver, maxItems int, logger *slog.Logger) *Merger {
	if maxItems <= 0 {
		maxItems = defaultMergeMaxItems
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{aliases: aliases, maxItems: maxItems, logger: logger}
}

func (m *Merger) Merge(ctx context.Context, attempts []domain.RetrievalAttempt) domain.MergedEvidenceSet {
	pool := make([]domain.EvidenceItem, 0)
	for _, attempt := range attempts {
		if attempt.Status != domain.AttemptOK {
			continue
		}
		for _, item := range attempt.Evidence {
			item.SourceID = strings.TrimSpace(item.SourceID)
			if item.SourceID == "" {
				continue
			}
			if item.OriginStrategy == "" {
				item.OriginStrategy = attempt.Strategy
			}
			if math.IsNaN(item.RelevanceScore) {
				item.RelevanceScore = 0
			}
			pool = append(pool, item)
		}
	}
	if len(pool) == 0 {
		return domain.MergedEvidenceSet{}
	}

	m.canonicalize(ctx, pool)
	return domain.MergedEvidenceSet{Items: MergeEvidence(pool, m.maxItems)}
}

func (m *Merger) canonicalize(ctx context.Context, pool []domain.EvidenceItem) {
	if m.aliases == nil {
		return
	}
	ids := make([]string, 0, len(pool))
	seen := make(map[string]struct{}, len(pool))
	for _, item := range pool {
		if _, ok := seen[item.SourceID]; ok {
			continue
		}
		seen[item.SourceID] = struct{}{}
		ids = append(ids, item.SourceID)
	}
	canonical, err := m.aliases.ResolveAliases(ctx, ids)
	if err != nil {
		m.logger.Warn("source_alias_resolve_failed", "error", err)
		return
	}
	for i := range pool {
		if id, ok := canonical[pool[i].SourceID]; ok && strings.TrimSpace(id) != "" {
			pool[i].SourceID = id
		}
	}
}

// MergeEvidence deduplicates by SourceID and orders by relevance. The result
// does not depend on the order of the input.
func MergeEvidence(pool []domain.EvidenceItem, maxItems int) []domain.EvidenceItem {
	best := make(map[string]domain.EvidenceItem, len(pool))
	for _, item := range pool {
		current, ok := best[item.SourceID]
		if !ok || preferEvidence(item, current) {
			best[item.SourceID] = item
		}
	}

	out := make([]domain.EvidenceItem, 0, len(best))
	for _, item := range best {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RelevanceScore != b.RelevanceScore {
			return a.RelevanceScore > b.RelevanceScore
		}
		if pa, pb := a.OriginStrategy.Priority(), b.OriginStrategy.Priority(); pa != pb {
			return pa > pb
		}
		return a.SourceID < b.SourceID
	})
	if maxItems > 0 && len(out) > maxItems {
		out = out[:maxItems]
	}
	return out
}

// preferEvidence reports whether candidate should replace current for the
// same SourceID.
func preferEvidence(candidate, current domain.EvidenceItem) bool {
	if pa, pb := candidate.OriginStrategy.Priority(), current.OriginStrategy.Priority(); pa != pb {
		return pa > pb
	}
	if candidate.RelevanceScore != current.RelevanceScore {
		return candidate.RelevanceScore > current.RelevanceScore
	}
	if candidate.Content != current.Content {
		return candidate.Content < current.Content
	}
	return candidate.SourceKind < current.SourceKind
}
