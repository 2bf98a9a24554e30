package application

import (
	"io"
	"log/slog"

	"assetgate/cli/internal/assets"
	"assetgate/cli/internal/config"
)

// StartOptions defines startup options for the gateway host.
type StartOptions struct {
	Config config.Config
	Logger *slog.Logger
	// Assets overrides Config.DistDir, e.g. with a bundle compiled into
	// the binary.
	Assets assets.Source
	// NoSpawn proxies to an upstream started by other means.
	NoSpawn bool
	// Stdout and Stderr receive the dev server's output.
	Stdout  io.Writer
	Stderr  io.Writer
	Version string
	Hooks   Hooks
}
