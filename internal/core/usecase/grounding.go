package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/evidence-router/internal/core/domain"
	"github.com/kirillkom/evidence-router/internal/core/ports"
)

// Grounding is the verified synthesis outcome.
type Grounding struct {
	Text           string
	Grounded       bool
	Citations      []string
	RejectedReason string
	Retried        bool
}

// Gate drafts an answer from evidence and rejects drafts whose citations do
// not resolve to that evidence.
type Gate struct {
	generator ports.DraftGenerator
	logger    *slog.Logger
}

func NewGate(generator ports.DraftGenerator, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{generator: generator, logger: logger}
}

func (g *Gate) Synthesize(
	ctx context.Context,
	question domain.Question,
	set domain.MergedEvidenceSet,
	coordination Coordination,
) Grounding {
	if set.Len() == 0 {
		return Grounding{Text: domain.NotFoundText, RejectedReason: noEvidenceReason(coordination)}
	}

	draft, err := g.generator.GenerateDraft(ctx, question.Text, set.Items, false)
	if err != nil {
		return g.synthesisFailed(ctx, err)
	}
	citations, reason := CheckDraft(draft, set)
	if reason == "" {
		return Grounding{Text: strings.TrimSpace(draft.Text), Grounded: true, Citations: citations}
	}

	g.logger.Info("synthesis_strict_retry", "reason", reason, "citations", draft.Citations)
	draft, err = g.generator.GenerateDraft(ctx, question.Text, set.Items, true)
	if err != nil {
		out := g.synthesisFailed(ctx, err)
		out.Retried = true
		return out
	}
	citations, reason = CheckDraft(draft, set)
	if reason == "" {
		return Grounding{Text: strings.TrimSpace(draft.Text), Grounded: true, Citations: citations, Retried: true}
	}

	g.logger.Warn("answer_rejected",
		"reason", reason,
		"error", domain.WrapError(domain.ErrSynthesisUngrounded, "gate", errors.New(reason)),
	)
	return Grounding{Text: domain.NotFoundText, RejectedReason: reason, Retried: true}
}

func (g *Gate) synthesisFailed(ctx context.Context, err error) Grounding {
	reason := domain.RejectSynthesisFailed
	if ctx.Err() != nil {
		reason = domain.RejectDeadline
	}
	g.logger.Warn("synthesis_failed", "reason", reason, "error", err)
	return Grounding{Text: domain.NotFoundText, RejectedReason: reason}
}

// CheckDraft verifies that the draft cites at least one item and that every
// citation resolves to the set. It returns the normalized citations or the
// rejection reason.
func CheckDraft(draft domain.Draft, set domain.MergedEvidenceSet) ([]string, string) {
	if strings.TrimSpace(draft.Text) == "" {
		return nil, domain.RejectNoCitations
	}
	citations := make([]string, 0, len(draft.Citations))
	seen := make(map[string]struct{}, len(draft.Citations))
	for _, raw := range draft.Citations {
		id := strings.TrimSpace(strings.Trim(strings.TrimSpace(raw), "[]"))
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		citations = append(citations, id)
	}
	if len(citations) == 0 {
		return nil, domain.RejectNoCitations
	}
	for _, id := range citations {
		if !set.Contains(id) {
			return nil, domain.RejectUnknownCitation
		}
	}
	return citations, ""
}

func noEvidenceReason(coordination Coordination) string {
	if !coordination.AllFailed() {
		return domain.RejectNoEvidence
	}
	causes := make([]string, 0, len(coordination.Attempts))
	for _, attempt := range coordination.Attempts {
		causes = append(causes, fmt.Sprintf("%s: %s", attempt.Strategy, attempt.Status))
	}
	return fmt.Sprintf("%s: all strategies failed (%s)", domain.RejectNoEvidence, strings.Join(causes, ", "))
}
