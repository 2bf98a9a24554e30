package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"assetgate/cli/internal/application"
	"assetgate/cli/internal/command"
	"assetgate/cli/internal/config"
	"assetgate/cli/internal/logging"
)

var version = "dev"

var startApplication = application.StartApplication

func main() {
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := command.BuildApp(command.Deps{
		LoadConfig: config.Load,
		RunServe: func(ctx context.Context, cfg config.Config, opts command.ServeOptions) error {
			return runServe(ctx, cfg, opts, os.Stdout, os.Stderr)
		},
		Version: version,
	})

	if err := app.RunContext(rootCtx, os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Writer: os.Stderr, Component: "assetgate"}).Error("assetgate failed", "err", err)
		os.Exit(1)
	}
}

func newRuntimeLogger(w io.Writer, cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Writer:    w,
		Component: "assetgate",
		Text:      cfg.LogFormat == "text",
	})
}

func runServe(ctx context.Context, cfg config.Config, opts command.ServeOptions, out, errOut io.Writer) error {
	logger := newRuntimeLogger(errOut, cfg)
	if cfg.File != "" {
		logger.Info("configuration loaded", "file", cfg.File)
	}
	app, err := startApplication(ctx, application.StartOptions{
		Config:  cfg,
		Logger:  logger,
		NoSpawn: opts.NoSpawn,
		Stdout:  out,
		Stderr:  errOut,
		Version: version,
	})
	if err != nil {
		return err
	}
	logger.Info("assetgate starting", "version", version, "mode", cfg.Mode, "url", app.BaseURL())
	return app.Run(ctx)
}
