package ollama

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

type DraftGenerator struct {
	client *Client
	logger *slog.Logger
}

func NewDraftGenerator(client *Client, logger *slog.Logger) *DraftGenerator {
	if logger == nil {
		logger = slog.Default()
	}
	return &DraftGenerator{client: client, logger: logger}
}

func (g *DraftGenerator) GenerateDraft(
	ctx context.Context,
	question string,
	evidence []domain.EvidenceItem,
	strict bool,
) (domain.Draft, error) {
	respText, err := g.client.generateJSON(ctx, buildDraftPrompt(question, evidence, strict))
	if err != nil {
		return domain.Draft{}, err
	}

	var draft domain.Draft
	if err := draftResponseSchema.decode(respText, &draft); err != nil {
		// fall back to the raw text and its inline markers
		g.logger.Warn("draft_json_invalid", "error", err)
		draft = domain.Draft{Text: strings.TrimSpace(respText)}
	}
	if len(draft.Citations) == 0 {
		draft.Citations = inlineCitations(draft.Text)
	}
	return draft, nil
}

var citationMarker = regexp.MustCompile(`\[([^\[\]\s]+)\]`)

// inlineCitations collects [source_id] markers in order of first appearance.
func inlineCitations(text string) []string {
	matches := citationMarker.FindAllStringSubmatch(text, -1)
	out := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		id := m[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
