package retrieval

import (
	"strings"
	"unicode"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

const (
	rerankFusedWeight   = 0.55
	rerankOverlapWeight = 0.30
	rerankBoostWeight   = 0.15
)

// rerankFused rescores the head of a fused list by question-term overlap,
// with a boost when the chunk names an identifier from the question or its
// filename matches a question term. Scores stay in [0,1]; the tail keeps its
// fused order below every reranked item.
func rerankFused(question string, fused []domain.RetrievedChunk, topN int) []domain.RetrievedChunk {
	if len(fused) == 0 {
		return fused
	}
	if topN <= 0 || topN > len(fused) {
		topN = len(fused)
	}

	head := make([]domain.RetrievedChunk, topN)
	copy(head, fused[:topN])
	terms := toTokenSet(question)
	identifiers := identifierTokens(terms)
	normalize := minMaxNormalizer(head)

	for i := range head {
		chunkTerms := toTokenSet(head[i].Text)
		boost := 0.0
		if containsAny(chunkTerms, identifiers) || filenameMentions(head[i].Filename, terms) {
			boost = 1
		}
		head[i].Score = rerankFusedWeight*normalize(head[i].Score) +
			rerankOverlapWeight*coverage(terms, chunkTerms) +
			rerankBoostWeight*boost
	}
	sortChunks(head)

	out := append(make([]domain.RetrievedChunk, 0, len(fused)), head...)
	for _, chunk := range fused[topN:] {
		chunk.Score = 0
		out = append(out, chunk)
	}
	return out
}

// coverage is the share of question terms present in the chunk.
func coverage(question, chunk map[string]struct{}) float64 {
	if len(question) == 0 {
		return 0
	}
	hits := 0
	for term := range question {
		if _, ok := chunk[term]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(question))
}

// identifierTokens keeps terms that mix in digits, like "q3" or "1042".
func identifierTokens(terms map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{})
	for term := range terms {
		if strings.IndexFunc(term, unicode.IsDigit) >= 0 {
			out[term] = struct{}{}
		}
	}
	return out
}

func containsAny(set, wanted map[string]struct{}) bool {
	for term := range wanted {
		if _, ok := set[term]; ok {
			return true
		}
	}
	return false
}

func filenameMentions(filename string, terms map[string]struct{}) bool {
	if filename == "" {
		return false
	}
	filename = strings.ToLower(filename)
	for term := range terms {
		if len(term) >= 3 && strings.Contains(filename, term) {
			return true
		}
	}
	return false
}

func toTokenSet(s string) map[string]struct{} {
	tokens := SplitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

// SplitAlphaNumLower lowercases s and splits it on every non-alphanumeric rune.
func SplitAlphaNumLower(s string) []string {
	tokens := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}
