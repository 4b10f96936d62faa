package xlsx

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/evidence-router/internal/core/domain"
)

const (
	answersSheet    = "answers"
	strategiesSheet = "strategies"
)

var answerHeaders = []string{
	"id", "question", "grounded", "expected", "match", "intent", "confidence",
	"fan_out", "state", "strategies_tried", "citations", "rejected_reason", "latency_ms", "error",
}

var strategyHeaders = []string{"strategy", "tried", "ok", "failed", "grounded_answers", "grounded_rate", "avg_latency_ms"}

// Write renders an evaluation summary as a two-sheet workbook.
func Write(w io.Writer, summary domain.EvalSummary) error {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()

	if err := f.SetSheetName("Sheet1", answersSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := f.NewSheet(strategiesSheet); err != nil {
		return fmt.Errorf("create strategies sheet: %w", err)
	}

	if err := writeRow(f, answersSheet, 1, toAny(answerHeaders)); err != nil {
		return err
	}
	for i, result := range summary.Results {
		answer := result.Answer
		expected := ""
		if result.Case.ExpectGrounded != nil {
			expected = fmt.Sprintf("%t", *result.Case.ExpectGrounded)
		}
		strategies := make([]string, 0, len(answer.Metadata.StrategiesTried))
		for _, s := range answer.Metadata.StrategiesTried {
			strategies = append(strategies, string(s))
		}
		row := []any{
			result.Case.ID,
			result.Case.Question,
			answer.Grounded,
			expected,
			result.Matches(),
			string(answer.Metadata.Intent.Category),
			answer.Metadata.Intent.Confidence,
			answer.Metadata.FanOut,
			string(answer.Metadata.CoordinatorState),
			strings.Join(strategies, ","),
			strings.Join(answer.Citations, ","),
			answer.RejectedReason,
			answer.Metadata.LatencyMS,
			result.Error,
		}
		if err := writeRow(f, answersSheet, i+2, row); err != nil {
			return err
		}
	}

	if err := writeRow(f, strategiesSheet, 1, toAny(strategyHeaders)); err != nil {
		return err
	}
	for i, s := range summary.Strategies {
		row := []any{string(s.Strategy), s.Tried, s.OK, s.Failed, s.GroundedAnswers, s.GroundedRate(), s.AvgLatencyMS}
		if err := writeRow(f, strategiesSheet, i+2, row); err != nil {
			return err
		}
	}
	totalsRow := len(summary.Strategies) + 3
	if err := writeRow(f, strategiesSheet, totalsRow, []any{"total", summary.Total, "grounded", summary.Grounded, "mismatches", summary.Mismatches}); err != nil {
		return err
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("cell name: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
