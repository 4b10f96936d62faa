package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

type TraceRepository struct {
	db *sql.DB
}

func NewTraceRepository(db *sql.DB) *TraceRepository {
	return &TraceRepository{db: db}
}

// SaveTrace is idempotent per trace id so redelivered messages are harmless.
func (r *TraceRepository) SaveTrace(ctx context.Context, trace domain.AnswerTrace) error {
	citations := trace.Citations
	if citations == nil {
		citations = []string{}
	}
	citationsJSON, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("marshal citations: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin trace tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
INSERT INTO answer_traces (
	id, session_id, question, intent, intent_confidence, fan_out, state, grounded, rejected_reason, citations, latency_ms, received_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (id) DO NOTHING
`,
		trace.ID, trace.SessionID, trace.Question, string(trace.Intent.Category), trace.Intent.Confidence,
		trace.FanOut, string(trace.State), trace.Grounded, trace.RejectedReason, citationsJSON,
		trace.LatencyMS, trace.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("insert answer trace: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("answer trace rows affected: %w", err)
	}
	if inserted == 0 {
		return nil
	}

	for i, attempt := range trace.Attempts {
		_, err := tx.ExecContext(ctx, `
INSERT INTO answer_attempts (
	trace_id, position, strategy, status, latency_ms, evidence_count, error_kind, error_detail, retried
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`,
			trace.ID, i, string(attempt.Strategy), string(attempt.Status), attempt.LatencyMS,
			attempt.EvidenceCount, string(attempt.ErrorKind), attempt.ErrorDetail, attempt.Retried,
		)
		if err != nil {
			return fmt.Errorf("insert answer attempt %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit trace tx: %w", err)
	}
	return nil
}
