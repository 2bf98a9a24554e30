package command

import (
	"context"
	"errors"
	"io"
	"os"

	"github.com/urfave/cli/v2"

	"assetgate/cli/internal/config"
)

type Deps struct {
	LoadConfig func(path string) (config.Config, error)
	RunServe   func(context.Context, config.Config, ServeOptions) error
	Stdout     io.Writer
	Version    string
}

// ServeOptions carries flags that are not part of the file configuration.
type ServeOptions struct {
	NoSpawn bool
}

func BuildApp(deps Deps) *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "TOML configuration file",
		EnvVars: []string{"ASSETGATE_CONFIG"},
	}
	serveFlags := []cli.Flag{
		&cli.StringFlag{Name: "listen", Usage: "listen address host:port"},
		&cli.StringFlag{Name: "upstream", Usage: "dev server base URL"},
		&cli.StringFlag{Name: "dist", Usage: "directory with the built UI"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
		&cli.BoolFlag{Name: "no-spawn", Usage: "proxy to a dev server started elsewhere"},
	}
	serveIn := func(mode string) cli.ActionFunc {
		return func(ctx *cli.Context) error {
			cfg, err := loadConfig(ctx, deps)
			if err != nil {
				return err
			}
			if mode != "" {
				cfg.Mode = mode
			}
			if err := applyServeFlags(ctx, &cfg); err != nil {
				return err
			}
			return runServe(ctx.Context, deps, cfg, ServeOptions{NoSpawn: ctx.Bool("no-spawn")})
		}
	}
	return &cli.App{
		Name:    "assetgate",
		Usage:   "single-origin gateway for a frontend dev server or built UI",
		Version: deps.Version,
		Flags:   []cli.Flag{configFlag},
		Action:  serveIn(""),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve using the configured mode",
				Flags:  serveFlags,
				Action: serveIn(""),
				Subcommands: []*cli.Command{
					{
						Name:   "dev",
						Usage:  "proxy to the dev server, starting it if a command is configured",
						Flags:  serveFlags,
						Action: serveIn(config.ModeDev),
					},
					{
						Name:   "prod",
						Usage:  "serve the built UI",
						Flags:  serveFlags,
						Action: serveIn(config.ModeProd),
					},
				},
			},
			{
				Name:  "config",
				Usage: "inspect configuration",
				Subcommands: []*cli.Command{
					{
						Name:  "show",
						Usage: "print the effective configuration as TOML",
						Action: func(ctx *cli.Context) error {
							cfg, err := loadConfig(ctx, deps)
							if err != nil {
								return err
							}
							out, err := cfg.TOML()
							if err != nil {
								return err
							}
							_, err = stdout(deps).Write(out)
							return err
						},
					},
				},
			},
		},
	}
}

func loadConfig(ctx *cli.Context, deps Deps) (config.Config, error) {
	path := ctx.String("config")
	if deps.LoadConfig != nil {
		return deps.LoadConfig(path)
	}
	return config.Load(path)
}

func applyServeFlags(ctx *cli.Context, cfg *config.Config) error {
	if v := ctx.String("listen"); v != "" {
		host, port, err := splitListen(v)
		if err != nil {
			return err
		}
		cfg.LocalHost, cfg.LocalPort = host, port
	}
	if v := ctx.String("upstream"); v != "" {
		cfg.Upstream = v
	}
	if v := ctx.String("dist"); v != "" {
		cfg.DistDir = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.LogLevel = v
	}
	return cfg.Validate()
}

func runServe(ctx context.Context, deps Deps, cfg config.Config, opts ServeOptions) error {
	if deps.RunServe == nil {
		return errors.New("serve runner is not configured")
	}
	return deps.RunServe(ctx, cfg, opts)
}

func stdout(deps Deps) io.Writer {
	if deps.Stdout != nil {
		return deps.Stdout
	}
	return os.Stdout
}
