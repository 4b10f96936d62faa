package ollama

import (
	"context"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

// CypherTranslator asks the model for a read-only Cypher query over the
// described graph schema.
type CypherTranslator struct {
	client      *Client
	graphSchema string
}

func NewCypherTranslator(client *Client, graphSchema string) *CypherTranslator {
	return &CypherTranslator{client: client, graphSchema: graphSchema}
}

func (t *CypherTranslator) Translate(ctx context.Context, question string) (domain.GraphQuery, error) {
	respText, err := t.client.generateJSON(ctx, buildCypherPrompt(question, t.graphSchema))
	if err != nil {
		return domain.GraphQuery{}, err
	}

	var result struct {
		Cypher string         `json:"cypher"`
		Params map[string]any `json:"params"`
	}
	if err := cypherResponseSchema.decode(respText, &result); err != nil {
		return domain.GraphQuery{}, domain.WrapError(domain.ErrRetrieverFatal, "ollama.Translate", err)
	}
	return domain.GraphQuery{Statement: result.Cypher, Params: result.Params}, nil
}
