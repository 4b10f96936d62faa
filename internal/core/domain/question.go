package domain

import (
	"strings"
	"time"
)

type Question struct {
	Text       string    `json:"text"`
	SessionID  string    `json:"session_id"`
	ReceivedAt time.Time `json:"received_at"`
}

func NewQuestion(text, sessionID string, receivedAt time.Time) Question {
	return Question{
		Text:       strings.TrimSpace(text),
		SessionID:  strings.TrimSpace(sessionID),
		ReceivedAt: receivedAt.UTC(),
	}
}

type IntentCategory string

const (
	IntentEntityLookup          IntentCategory = "entity_lookup"
	IntentRelationshipTraversal IntentCategory = "relationship_traversal"
	IntentConceptualLookup      IntentCategory = "conceptual_lookup"
	IntentAggregateMetric       IntentCategory = "aggregate_metric"
	IntentAmbiguous             IntentCategory = "ambiguous"
)

var knownIntents = map[IntentCategory]struct{}{
	IntentEntityLookup:          {},
	IntentRelationshipTraversal: {},
	IntentConceptualLookup:      {},
	IntentAggregateMetric:       {},
	IntentAmbiguous:             {},
}

func ParseIntentCategory(raw string) (IntentCategory, bool) {
	category := IntentCategory(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := knownIntents[category]
	return category, ok
}

type Intent struct {
	Category   IntentCategory `json:"category"`
	Confidence float64        `json:"confidence"`
}

// NewIntent clamps confidence into [0,1].
func NewIntent(category IntentCategory, confidence float64) Intent {
	switch {
	case confidence != confidence || confidence < 0:
		confidence = 0
	case confidence > 1:
		confidence = 1
	}
	return Intent{Category: category, Confidence: confidence}
}

func AmbiguousIntent() Intent {
	return Intent{Category: IntentAmbiguous, Confidence: 0}
}
