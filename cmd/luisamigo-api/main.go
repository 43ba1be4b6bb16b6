package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/config"
	"github.com/luisamigo/luisamigo-api/internal/infrastructure/server"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always happens
// before the process exits.
func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "luisamigo-api: %v\n", err)
		return 1
	}

	logger, err := server.NewLogger(cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "luisamigo-api: build logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting LuisAmigo API")
	app, err := server.Build(ctx, cfg, logger, server.BuildOptions{})
	if err != nil {
		logger.Error("failed to assemble application", zap.Error(err))
		return 1
	}
	defer func() { _ = app.Close() }()

	if err := server.New(app).Run(ctx); err != nil {
		logger.Error("server exited with error", zap.Error(err))
		return 1
	}
	return 0
}
