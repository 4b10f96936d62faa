package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/kirillkom/evidence-router/internal/bootstrap"
	"github.com/kirillkom/evidence-router/internal/config"
	"github.com/kirillkom/evidence-router/internal/core/usecase"
	"github.com/kirillkom/evidence-router/internal/infrastructure/report/xlsx"
	"github.com/kirillkom/evidence-router/internal/observability/logging"
)

const serviceName = "evidence-router-eval"

func main() {
	questionsPath := flag.String("questions", "eval/questions.yaml", "YAML file with evaluation questions")
	outputPath := flag.String("out", "eval-report.xlsx", "path of the xlsx report")
	flag.Parse()

	if _, err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env file: %v\n", err)
	}
	cfg := config.Load()
	// Answers must not be published as production traces.
	cfg.TracePublishEnabled = false
	logger := logging.New(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *questionsPath, *outputPath); err != nil {
		logger.Error("eval_failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, questionsPath, outputPath string) error {
	raw, err := os.ReadFile(questionsPath)
	if err != nil {
		return fmt.Errorf("read questions: %w", err)
	}
	cases, err := usecase.ParseEvalCases(raw)
	if err != nil {
		return err
	}

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()

	summary, err := usecase.NewEvalUseCase(app.AnswerUC, cfg.EvalConcurrency).Run(ctx, cases)
	if err != nil {
		return err
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := xlsx.Write(out, summary); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close report: %w", err)
	}

	logger.Info("eval_report_written",
		"path", outputPath,
		"total", summary.Total,
		"grounded", summary.Grounded,
		"mismatches", summary.Mismatches,
	)
	return nil
}
