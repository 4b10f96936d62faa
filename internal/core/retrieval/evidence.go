package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

func chunkSourceID(chunk domain.RetrievedChunk) string {
	if id := strings.TrimSpace(chunk.SourceID); id != "" {
		return id
	}
	if chunk.DocumentID != "" && chunk.ChunkIndex >= 0 {
		return fmt.Sprintf("chunk:%s:%d", chunk.DocumentID, chunk.ChunkIndex)
	}
	return ""
}

func chunksToEvidence(chunks []domain.RetrievedChunk) []domain.EvidenceItem {
	out := make([]domain.EvidenceItem, 0, len(chunks))
	for _, chunk := range chunks {
		id := chunkSourceID(chunk)
		if id == "" || strings.TrimSpace(chunk.Text) == "" {
			continue
		}
		out = append(out, domain.EvidenceItem{
			SourceID:       id,
			SourceKind:     domain.SourceChunk,
			Content:        chunk.Text,
			RelevanceScore: chunk.Score,
		})
	}
	return out
}

func recordsToEvidence(records []domain.GraphRecord) []domain.EvidenceItem {
	out := make([]domain.EvidenceItem, 0, len(records))
	for _, record := range records {
		id := strings.TrimSpace(record.SourceID)
		if id == "" {
			continue
		}
		out = append(out, domain.EvidenceItem{
			SourceID:       id,
			SourceKind:     domain.SourceGraphRecord,
			Content:        renderRecord(record),
			RelevanceScore: record.Score,
		})
	}
	return out
}

// renderRecord prints labels and properties in key order so the same record
// always renders to the same content.
func renderRecord(record domain.GraphRecord) string {
	var b strings.Builder
	if len(record.Labels) > 0 {
		labels := append([]string(nil), record.Labels...)
		sort.Strings(labels)
		b.WriteString("(")
		b.WriteString(strings.Join(labels, ":"))
		b.WriteString(") ")
	}
	keys := make([]string, 0, len(record.Properties))
	for key := range record.Properties {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for i, key := range keys {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", key, record.Properties[key])
	}
	return strings.TrimSpace(b.String())
}
