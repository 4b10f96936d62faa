package retrieval

import (
	"sort"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

type FusionStrategy string

const (
	FusionWeighted FusionStrategy = "weighted"
	FusionRRF      FusionStrategy = "rrf"
)

const (
	defaultTopK         = 5
	defaultRRFK         = 60
	defaultVectorWeight = 0.6
)

type fusedCandidate struct {
	chunk domain.RetrievedChunk
	score float64
}

// fuseCandidatesRRF combines rankings by reciprocal rank and rescales the
// result into [0,1] so fused scores compare with other strategies.
func fuseCandidatesRRF(semantic, lexical []domain.RetrievedChunk, rrfK int) []domain.RetrievedChunk {
	if rrfK <= 0 {
		rrfK = defaultRRFK
	}

	acc := make(map[string]fusedCandidate, len(semantic)+len(lexical))
	addList := func(chunks []domain.RetrievedChunk) {
		for rank, chunk := range chunks {
			key := chunkSourceID(chunk)
			if key == "" {
				continue
			}
			candidate := acc[key]
			candidate.chunk = preferRicherChunk(candidate.chunk, chunk)
			candidate.score += 1.0 / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	addList(semantic)
	addList(lexical)

	maxScore := 2.0 / float64(rrfK+1)
	return collectFused(acc, func(score float64) float64 { return score / maxScore })
}

// fuseCandidatesWeighted min-max normalizes each list and mixes them with
// vectorWeight for the dense side.
func fuseCandidatesWeighted(semantic, lexical []domain.RetrievedChunk, vectorWeight float64) []domain.RetrievedChunk {
	if vectorWeight < 0 || vectorWeight > 1 {
		vectorWeight = defaultVectorWeight
	}

	acc := make(map[string]fusedCandidate, len(semantic)+len(lexical))
	addList := func(chunks []domain.RetrievedChunk, weight float64) {
		normalize := minMaxNormalizer(chunks)
		for _, chunk := range chunks {
			key := chunkSourceID(chunk)
			if key == "" {
				continue
			}
			candidate := acc[key]
			candidate.chunk = preferRicherChunk(candidate.chunk, chunk)
			candidate.score += weight * normalize(chunk.Score)
			acc[key] = candidate
		}
	}

	addList(semantic, vectorWeight)
	addList(lexical, 1-vectorWeight)

	return collectFused(acc, func(score float64) float64 { return score })
}

func collectFused(acc map[string]fusedCandidate, scale func(float64) float64) []domain.RetrievedChunk {
	out := make([]domain.RetrievedChunk, 0, len(acc))
	for key, c := range acc {
		chunk := c.chunk
		chunk.SourceID = key
		chunk.Score = scale(c.score)
		out = append(out, chunk)
	}
	sortChunks(out)
	return out
}

func minMaxNormalizer(chunks []domain.RetrievedChunk) func(float64) float64 {
	if len(chunks) == 0 {
		return func(float64) float64 { return 0 }
	}
	minScore, maxScore := chunks[0].Score, chunks[0].Score
	for _, chunk := range chunks[1:] {
		if chunk.Score < minScore {
			minScore = chunk.Score
		}
		if chunk.Score > maxScore {
			maxScore = chunk.Score
		}
	}
	rangeScore := maxScore - minScore
	return func(v float64) float64 {
		if rangeScore <= 0 {
			if v > 0 {
				return 1
			}
			return 0
		}
		return (v - minScore) / rangeScore
	}
}

func sortChunks(chunks []domain.RetrievedChunk) {
	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].Score != chunks[j].Score {
			return chunks[i].Score > chunks[j].Score
		}
		return chunks[i].SourceID < chunks[j].SourceID
	})
}

func trimCandidates(chunks []domain.RetrievedChunk, limit int) []domain.RetrievedChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}

func preferRicherChunk(current, candidate domain.RetrievedChunk) domain.RetrievedChunk {
	if current.SourceID == "" && current.DocumentID == "" && current.Text == "" {
		return candidate
	}
	if current.Text == "" && candidate.Text != "" {
		current.Text = candidate.Text
	}
	if current.Filename == "" && candidate.Filename != "" {
		current.Filename = candidate.Filename
	}
	if current.DocumentID == "" && candidate.DocumentID != "" {
		current.DocumentID = candidate.DocumentID
		current.ChunkIndex = candidate.ChunkIndex
	}
	return current
}
