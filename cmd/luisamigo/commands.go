package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luisamigo/luisamigo-api/internal/apperror"
	"github.com/luisamigo/luisamigo-api/internal/config"
	"github.com/luisamigo/luisamigo-api/internal/domain/models"
	"github.com/luisamigo/luisamigo-api/internal/infrastructure/server"
	"github.com/luisamigo/luisamigo-api/internal/usecase/ingest"
)

// env is filled by the root command before any subcommand runs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "luisamigo",
		Short:         "Legal question answering over a curated Q&A corpus",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := server.NewLogger(cfg.LogDevelopment)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			e.cfg, e.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if e.logger != nil {
				_ = e.logger.Sync()
			}
		},
	}
	root.AddCommand(newServeCmd(e), newIngestCmd(e), newAskCmd(e))
	return root
}

func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

func newServeCmd(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := server.Build(ctx, e.cfg, e.logger, server.BuildOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()
			return server.New(app).Run(ctx)
		},
	}
}

func newIngestCmd(e *env) *cobra.Command {
	var (
		overwrite bool
		limit     int
		file      string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load the dataset into the vector index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := server.Build(ctx, e.cfg, e.logger, server.BuildOptions{DatasetFile: file})
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			opts := ingest.DefaultOptions()
			opts.BatchSize = e.cfg.Ingestion.BatchSize
			opts.SkipExisting = e.cfg.Ingestion.SkipExisting
			opts.Overwrite = overwrite
			opts.Limit = limit

			res, runErr := app.Ingestor.Run(ctx, opts)
			if err := writeJSON(cmd, res); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "delete documents from the same source before ingesting")
	cmd.Flags().IntVar(&limit, "limit", 0, "ingest at most this many entries (0 means all)")
	cmd.Flags().StringVar(&file, "file", "", "read entries from a local JSON Lines file instead of HuggingFace")
	return cmd
}

func newAskCmd(e *env) *cobra.Command {
	var (
		materia string
		topK    int
		level   int
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the answer package as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := models.AskRequest{Question: args[0], Category: materia}
			if cmd.Flags().Changed("top-k") {
				req.TopK = &topK
			}
			if cmd.Flags().Changed("semester") {
				req.SemesterLevel = &level
			}

			ctx, stop := signalContext(cmd)
			defer stop()

			app, err := server.Build(ctx, e.cfg, e.logger, server.BuildOptions{})
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			pkg, err := app.Orchestrator.Ask(ctx, req)
			if err != nil {
				e.logger.Error("ask failed", zap.Error(err))
				return publicError(err)
			}
			return writeJSON(cmd, pkg)
		},
	}
	cmd.Flags().StringVar(&materia, "materia", "", "restrict retrieval to one subject-matter category")
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of reference documents to retrieve (1-20)")
	cmd.Flags().IntVar(&level, "semester", 0, "student semester level (1-10)")
	return cmd
}

// publicError drops provider response bodies and wrapped causes, which go
// to the log instead.
func publicError(err error) error {
	appErr := apperror.From(err)
	return fmt.Errorf("%s: %s", appErr.Category, appErr.PublicMessage())
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
