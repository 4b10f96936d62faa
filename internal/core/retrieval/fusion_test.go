package retrieval

import (
	"math"
	"testing"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

func TestFuseCandidatesRRFDeduplicatesBySourceID(t *testing.T) {
	semantic := []domain.RetrievedChunk{
		{DocumentID: "doc-1", ChunkIndex: 0, Filename: "a.txt", Text: "a", Score: 0.9},
		{DocumentID: "doc-2", ChunkIndex: 0, Filename: "b.txt", Text: "b", Score: 0.8},
	}
	lexical := []domain.RetrievedChunk{
		{DocumentID: "doc-2", ChunkIndex: 0, Filename: "b.txt", Text: "b", Score: 1.0},
		{DocumentID: "doc-3", ChunkIndex: 1, Filename: "c.txt", Text: "c", Score: 0.7},
	}

	fused := fuseCandidatesRRF(semantic, lexical, 60)
	if len(fused) != 3 {
		t.Fatalf("expected 3 fused candidates, got %d", len(fused))
	}
	if fused[0].SourceID != "chunk:doc-2:0" {
		t.Fatalf("expected doc-2 first after RRF fusion, got %s", fused[0].SourceID)
	}
	for _, chunk := range fused {
		if chunk.Score < 0 || chunk.Score > 1 {
			t.Fatalf("fused score out of range: %+v", chunk)
		}
	}
}

func TestFuseCandidatesRRFTopInBothListsScoresOne(t *testing.T) {
	semantic := []domain.RetrievedChunk{{SourceID: "s1", Text: "a"}}
	lexical := []domain.RetrievedChunk{{SourceID: "s1", Text: "a"}}

	fused := fuseCandidatesRRF(semantic, lexical, 60)
	if len(fused) != 1 {
		t.Fatalf("expected 1 fused candidate, got %d", len(fused))
	}
	if math.Abs(fused[0].Score-1) > 1e-9 {
		t.Fatalf("expected normalized score 1, got %f", fused[0].Score)
	}
}

func TestFuseCandidatesRRFTieBreakStable(t *testing.T) {
	semantic := []domain.RetrievedChunk{{DocumentID: "doc-b", ChunkIndex: 0, Filename: "b.txt", Text: "b"}}
	lexical := []domain.RetrievedChunk{{DocumentID: "doc-a", ChunkIndex: 0, Filename: "a.txt", Text: "a"}}

	fused := fuseCandidatesRRF(semantic, lexical, 1000)
	if len(fused) != 2 {
		t.Fatalf("expected 2 fused candidates, got %d", len(fused))
	}
	if fused[0].DocumentID != "doc-a" {
		t.Fatalf("expected tie-break by source id, got first=%s", fused[0].DocumentID)
	}
}

func TestFuseCandidatesWeightedMixesNormalizedScores(t *testing.T) {
	semantic := []domain.RetrievedChunk{
		{SourceID: "a", Text: "a", Score: 0.9},
		{SourceID: "b", Text: "b", Score: 0.1},
	}
	lexical := []domain.RetrievedChunk{
		{SourceID: "b", Text: "b", Score: 12},
		{SourceID: "c", Text: "c", Score: 2},
	}

	fused := fuseCandidatesWeighted(semantic, lexical, 0.6)
	scores := map[string]float64{}
	for _, chunk := range fused {
		scores[chunk.SourceID] = chunk.Score
	}
	if math.Abs(scores["a"]-0.6) > 1e-9 {
		t.Fatalf("expected a=0.6, got %f", scores["a"])
	}
	if math.Abs(scores["b"]-0.4) > 1e-9 {
		t.Fatalf("expected b=0.4, got %f", scores["b"])
	}
	if scores["c"] != 0 {
		t.Fatalf("expected c=0, got %f", scores["c"])
	}
	if fused[0].SourceID != "a" {
		t.Fatalf("expected a first, got %s", fused[0].SourceID)
	}
}

func TestFuseCandidatesSkipsChunksWithoutIdentity(t *testing.T) {
	semantic := []domain.RetrievedChunk{{Text: "orphan", ChunkIndex: -1, Score: 1}}
	if fused := fuseCandidatesRRF(semantic, nil, 60); len(fused) != 0 {
		t.Fatalf("expected orphan chunk to be skipped, got %+v", fused)
	}
}

func TestTrimCandidates(t *testing.T) {
	chunks := []domain.RetrievedChunk{{SourceID: "a"}, {SourceID: "b"}, {SourceID: "c"}}
	if got := trimCandidates(chunks, 2); len(got) != 2 {
		t.Fatalf("expected 2, got %d", len(got))
	}
	if got := trimCandidates(chunks, 0); len(got) != 3 {
		t.Fatalf("expected untouched list, got %d", len(got))
	}
}
