// Package application wires the configuration, gateway, HTTP server and
// lifecycle manager into a runnable host.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"assetgate/cli/internal/appserver"
	"assetgate/cli/internal/assets"
	"assetgate/cli/internal/config"
	"assetgate/cli/internal/gateway"
	"assetgate/cli/internal/lifecycle"
	"assetgate/cli/internal/logging"
	"assetgate/cli/internal/metrics"
)

type Application struct {
	cfg      config.Config
	opts     StartOptions
	logger   *slog.Logger
	registry *lifecycle.Registry
	gateway  *gateway.Gateway
	metrics  *metrics.Metrics
	server   *http.Server
	listener net.Listener
	baseURL  string

	runFn      func(context.Context) error
	shutdownFn func(context.Context) error

	stopOnce sync.Once
	stopErr  error
}

// StartApplication builds the gateway and binds the listener. Nothing is
// served and no process is started until Run.
func StartApplication(ctx context.Context, opts StartOptions) (*Application, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	lg := opts.Logger
	if lg == nil {
		lg = logging.Discard()
	}
	devMode := cfg.Mode == config.ModeDev

	gcfg, err := GatewayConfig(cfg, opts.Assets)
	if err != nil {
		return nil, err
	}
	if !devMode && opts.Assets == nil {
		if err := assets.CheckDir(cfg.DistDir); err != nil {
			lg.Warn("asset directory not readable yet", "dir", cfg.DistDir, "err", err)
		}
	}

	reg := lifecycle.NewRegistry(context.WithoutCancel(ctx))
	m := metrics.New()
	gw, err := gateway.New(gcfg,
		gateway.WithLogger(lg),
		gateway.WithRegistry(reg),
		gateway.WithMetrics(m),
		gateway.WithDialTimeout(cfg.DialTimeout.Duration),
		gateway.WithGrace(cfg.ShutdownGrace.Duration),
		gateway.WithProcessOutput(opts.Stdout, opts.Stderr),
	)
	if err != nil {
		return nil, err
	}
	srv, err := appserver.NewServer(appserver.Deps{
		Gateway: gw,
		DevMode: devMode,
		Logger:  lg,
		Version: opts.Version,
	})
	if err != nil {
		return nil, err
	}

	app := &Application{
		cfg:      cfg,
		opts:     opts,
		logger:   lg.With("module", "application"),
		registry: reg,
		gateway:  gw,
		metrics:  m,
		server:   appserver.NewHTTPServer(cfg.Addr(), srv.Handler()),
	}
	app.runFn = app.run
	app.shutdownFn = app.stop
	app.setRunHook(opts.Hooks.Run)
	app.setShutdownHook(opts.Hooks.Shutdown)
	if opts.Hooks.Run != nil {
		app.baseURL = "http://" + cfg.Addr()
		return app, nil
	}

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}
	app.listener = ln
	app.baseURL = "http://" + ln.Addr().String()
	return app, nil
}

// GatewayConfig translates the host configuration into a gateway config.
// src, when non-nil, takes precedence over cfg.DistDir.
func GatewayConfig(cfg config.Config, src assets.Source) (gateway.Config, error) {
	b := gateway.NewConfigBuilder()
	if src == nil && cfg.DistDir != "" {
		src = assets.Dir(cfg.DistDir)
	}
	b.Assets(src)
	if cfg.Mode != config.ModeDev {
		return b.Build()
	}
	tool, err := toolFor(cfg)
	if err != nil {
		return gateway.Config{}, err
	}
	b.Base(cfg.Upstream).
		Tool(tool).
		ProjectDir(cfg.ProjectDir).
		Command(cfg.Command...).
		EnvMap(cfg.ChildEnv())
	return b.Build()
}

func toolFor(cfg config.Config) (gateway.Tool, error) {
	if cfg.Tool == "custom" {
		return gateway.HMRTool("custom", cfg.HMRPath), nil
	}
	tool, ok := gateway.ToolByName(cfg.Tool)
	if !ok {
		return gateway.Tool{}, fmt.Errorf("unknown tool %q", cfg.Tool)
	}
	if cfg.HMRPath != "" && tool.Kind() == gateway.ToolHMR {
		tool = gateway.HMRTool(tool.Name(), cfg.HMRPath)
	}
	return tool, nil
}

func (a *Application) run(ctx context.Context) error {
	devMode := a.cfg.Mode == config.ModeDev
	mgr := lifecycle.NewManager(
		lifecycle.WithLogger(a.logger),
		lifecycle.WithShutdownTimeout(a.cfg.ShutdownGrace.Duration+a.cfg.DrainTimeout.Duration),
	)

	if devMode && !a.opts.NoSpawn && len(a.cfg.Command) > 0 {
		h, err := a.gateway.Spawn(ctx)
		if err != nil {
			_ = a.listener.Close()
			return err
		}
		mgr.AddRun("dev-server", func(runCtx context.Context) error {
			select {
			case <-h.Done():
				if err := h.Wait(context.Background()); err != nil {
					return fmt.Errorf("dev server exited: %w", err)
				}
				a.logger.Info("dev server exited")
				return nil
			case <-runCtx.Done():
				return nil
			}
		})
	}

	mgr.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			_ = a.stop(context.Background())
		}()
		a.logger.Info("gateway listening", "addr", a.baseURL, "mode", a.cfg.Mode)
		err := a.server.Serve(a.listener)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	mgr.AddShutdown("gateway-stop", a.stop)
	return mgr.StartAndWait(ctx)
}

// stop cancels tunnels and the child process, then drains the HTTP server.
// Hijacked tunnel connections are not tracked by http.Server.Shutdown, so
// they are closed first.
func (a *Application) stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		graceCtx, cancel := context.WithTimeout(ctx, a.cfg.ShutdownGrace.Duration+time.Second)
		if err := a.gateway.Shutdown(graceCtx); err != nil {
			a.logger.Warn("background work still running after grace", "err", err, "pending", a.registry.Names())
		}
		cancel()

		drainCtx, cancel := context.WithTimeout(ctx, a.cfg.DrainTimeout.Duration)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("drain timed out, closing connections", "err", err)
			if cerr := a.server.Close(); cerr != nil {
				a.stopErr = cerr
			}
		}
		if a.listener != nil {
			_ = a.listener.Close()
		}
	})
	return a.stopErr
}

func (a *Application) BaseURL() string {
	if a == nil {
		return ""
	}
	return a.baseURL
}

func (a *Application) Gateway() *gateway.Gateway { return a.gateway }

func (a *Application) Metrics() *metrics.Metrics { return a.metrics }

func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.runFn == nil {
		return nil
	}
	return a.runFn(ctx)
}

func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil || a.shutdownFn == nil {
		return nil
	}
	return a.shutdownFn(ctx)
}
