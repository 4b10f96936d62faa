package ollama

import (
	"context"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

type IntentClassifier struct {
	client *Client
}

func NewIntentClassifier(client *Client) *IntentClassifier {
	return &IntentClassifier{client: client}
}

func (c *IntentClassifier) Classify(ctx context.Context, text string) (domain.Intent, error) {
	respText, err := c.client.generateJSON(ctx, buildIntentPrompt(text))
	if err != nil {
		return domain.Intent{}, err
	}

	var result struct {
		Intent     string  `json:"intent"`
		Confidence float64 `json:"confidence"`
	}
	if err := intentResponseSchema.decode(respText, &result); err != nil {
		return domain.Intent{}, domain.WrapError(domain.ErrClassificationFailure, "ollama.Classify", err)
	}
	category, _ := domain.ParseIntentCategory(result.Intent)
	return domain.NewIntent(category, result.Confidence), nil
}
