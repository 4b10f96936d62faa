package ollama

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

const maxPromptQuestion = 2000

// truncateQuestion caps the question at maxPromptQuestion bytes without
// splitting a rune.
func truncateQuestion(question string) string {
	if len(question) <= maxPromptQuestion {
		return question
	}
	cut := maxPromptQuestion
	for cut > 0 && !utf8.RuneStart(question[cut]) {
		cut--
	}
	return question[:cut]
}

func buildIntentPrompt(question string) string {
	return `You are a query router for a business knowledge base.
Classify the question into exactly one intent:
- entity_lookup: a fact about one named customer, product, contract or account
- relationship_traversal: how entities are connected to each other
- conceptual_lookup: explanations, descriptions, policies, features
- aggregate_metric: totals, counts, averages, revenue, growth
- ambiguous: none of the above or unclear
Return strict JSON object with keys:
intent (string), confidence (number from 0 to 1).
No markdown, no extra keys.

Question:
` + truncateQuestion(question)
}

func buildCypherPrompt(question, graphSchema string) string {
	schema := strings.TrimSpace(graphSchema)
	if schema == "" {
		schema = "(unknown: use only labels and properties you are certain exist)"
	}
	return fmt.Sprintf(`Translate the question into one read-only Cypher query.
Rules:
- MATCH/OPTIONAL MATCH/WHERE/WITH/RETURN/ORDER BY/LIMIT only; never write to the graph.
- Pass literal values as $parameters.
- Return nodes or maps that carry an id property.
Return strict JSON object with keys:
cypher (string), params (object).
No markdown, no extra keys.

Graph schema:
%s

Question:
%s
`, schema, truncateQuestion(question))
}

func buildDraftPrompt(question string, evidence []domain.EvidenceItem, strict bool) string {
	var contextBuilder strings.Builder
	for _, item := range evidence {
		contextBuilder.WriteString(fmt.Sprintf(
			"[%s] kind=%s strategy=%s score=%.3f\n%s\n\n",
			item.SourceID,
			item.SourceKind,
			item.OriginStrategy,
			item.RelevanceScore,
			item.Content,
		))
	}

	rules := `Answer the question only from the evidence below.
Cite the source_id in square brackets after every claim, for example [customer:acme].
If the evidence does not contain the answer, say "not found in retrieved data".`
	if strict {
		rules += `
Your previous answer was rejected because it cited nothing or cited ids that are not in the evidence.
Use only the exact source_ids listed below. Do not add any number, name or fact that is not written in the evidence.`
	}

	return fmt.Sprintf(`%s
Return strict JSON object with keys:
answer (string), citations (array of source_id strings used in the answer).
No markdown, no extra keys.

Question:
%s

Evidence:
%s`, rules, truncateQuestion(question), contextBuilder.String())
}
