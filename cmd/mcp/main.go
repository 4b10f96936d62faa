package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpadapter "github.com/kirillkom/evidence-router/internal/adapters/mcp"
	"github.com/kirillkom/evidence-router/internal/bootstrap"
	"github.com/kirillkom/evidence-router/internal/config"
	"github.com/kirillkom/evidence-router/internal/observability/logging"
)

const (
	serviceName = "evidence-router-mcp"
	version     = "0.1.0"
)

func main() {
	_, envErr := config.LoadDotEnv()
	cfg := config.Load()
	// stdout carries the MCP protocol.
	logger := logging.New(os.Stderr, serviceName, cfg.LogLevel)
	slog.SetDefault(logger)
	if envErr != nil {
		logger.Warn("env_file_load_failed", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	server := mcpadapter.NewServer(app.AnswerUC, version, logger)
	if err := server.ServeStdio(); err != nil {
		logger.Error("mcp_serve_failed", "error", err)
	}
}
