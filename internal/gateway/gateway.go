// Package gateway lets a backend present one origin for its UI: in dev mode
// requests fall through to a frontend dev server, in production to a built
// asset bundle.
package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"assetgate/cli/internal/assets"
	"assetgate/cli/internal/devproxy"
	"assetgate/cli/internal/lifecycle"
	"assetgate/cli/internal/logging"
	"assetgate/cli/internal/metrics"
	"assetgate/cli/internal/supervisor"
)

// Router is what the gateway mounts onto: a handler at a fixed path for the
// hot-reload socket and a catch-all for everything else. *chi.Mux satisfies
// it.
type Router interface {
	Handle(pattern string, h http.Handler)
	NotFound(h http.HandlerFunc)
}

// ProxyState is the read-only upstream description shared by every
// dev-mode request.
type ProxyState struct {
	Base *url.URL
	Tool Tool
}

type options struct {
	logger         *slog.Logger
	registry       *lifecycle.Registry
	metrics        *metrics.Metrics
	dialTimeout    time.Duration
	closeTimeout   time.Duration
	grace          time.Duration
	stdout         io.Writer
	stderr         io.Writer
	originPatterns []string
}

type Option func(*options)

func WithLogger(lg *slog.Logger) Option {
	return func(o *options) {
		if lg != nil {
			o.logger = lg
		}
	}
}

// WithRegistry sets the registry tunnels and the child process register
// with. Without it the gateway owns a private one.
func WithRegistry(reg *lifecycle.Registry) Option {
	return func(o *options) { o.registry = reg }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *options) { o.dialTimeout = d }
}

func WithCloseTimeout(d time.Duration) Option {
	return func(o *options) { o.closeTimeout = d }
}

// WithGrace bounds how long the child may take to exit after SIGTERM.
func WithGrace(d time.Duration) Option {
	return func(o *options) { o.grace = d }
}

// WithProcessOutput redirects the child's stdout and stderr.
func WithProcessOutput(stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdout = stdout
		o.stderr = stderr
	}
}

func WithOriginPatterns(patterns ...string) Option {
	return func(o *options) { o.originPatterns = append(o.originPatterns, patterns...) }
}

type Gateway struct {
	cfg    Config
	state  ProxyState
	opts   options
	logger *slog.Logger

	mu      sync.Mutex
	devMode bool
	tunnels []*devproxy.Tunnel
	child   *supervisor.Handle
}

// New checks cfg and derives the proxy state. Nothing is started.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	o := options{logger: logging.Discard()}
	for _, opt := range opts {
		opt(&o)
	}
	if errs := cfg.validate(); len(errs) > 0 {
		return nil, errs[0]
	}
	if o.registry == nil {
		o.registry = lifecycle.NewRegistry(context.Background())
	}
	g := &Gateway{
		cfg:    cfg,
		state:  ProxyState{Base: cfg.Base(), Tool: cfg.Tool()},
		opts:   o,
		logger: o.logger.With("module", "gateway"),
	}
	return g, nil
}

func (g *Gateway) Config() Config { return g.cfg }

// Metrics returns the collectors passed with WithMetrics, or nil.
func (g *Gateway) Metrics() *metrics.Metrics { return g.opts.metrics }

func (g *Gateway) ProxyState() ProxyState {
	s := g.state
	s.Base = g.cfg.Base()
	return s
}

func (g *Gateway) Registry() *lifecycle.Registry { return g.opts.registry }

// Register installs the fallback on r. In dev mode that is the reverse
// proxy, plus the hot-reload tunnel at the tool's path when it has one. In
// production it is the asset handler. Each call builds fresh handlers, so
// independent routers behave identically.
func (g *Gateway) Register(r Router, devMode bool) error {
	if devMode {
		return g.registerDev(r)
	}
	return g.registerProd(r)
}

// Mount is Register for callers that keep composing the same router.
func Mount[R Router](g *Gateway, r R, devMode bool) (R, error) {
	if err := g.Register(r, devMode); err != nil {
		return r, err
	}
	return r, nil
}

func (g *Gateway) registerDev(r Router) error {
	if g.state.Base == nil {
		return configErrorf(MissingUpstream, "dev mode requires an upstream base URL")
	}
	m := g.opts.metrics
	proxyOpts := []devproxy.ProxyOption{
		devproxy.WithProxyLogger(g.logger.With("component", "proxy")),
		devproxy.WithDialTimeout(g.opts.dialTimeout),
	}
	if m != nil {
		proxyOpts = append(proxyOpts, devproxy.WithProxyObserver(m))
	}
	proxy := devproxy.NewReverseProxy(g.cfg.Base(), proxyOpts...)

	var tunnel *devproxy.Tunnel
	if tool := g.state.Tool; tool.Kind() == ToolHMR {
		tunnelOpts := []devproxy.TunnelOption{
			devproxy.WithTunnelLogger(g.logger.With("component", "hmr")),
			devproxy.WithTunnelDialTimeout(g.opts.dialTimeout),
			devproxy.WithCloseTimeout(g.opts.closeTimeout),
			devproxy.WithOriginPatterns(g.opts.originPatterns...),
		}
		if m != nil {
			tunnelOpts = append(tunnelOpts, devproxy.WithTunnelObserver(m))
		}
		tunnel = devproxy.NewTunnel(g.cfg.Base(), tool.HMRPath(), g.opts.registry, tunnelOpts...)
		r.Handle(tool.HMRPath(), tunnel)
	}
	r.NotFound(proxy.ServeHTTP)

	g.mu.Lock()
	g.devMode = true
	if tunnel != nil {
		g.tunnels = append(g.tunnels, tunnel)
	}
	g.mu.Unlock()
	g.logger.Info("dev gateway registered", "upstream", g.state.Base.String(), "tool", g.state.Tool.String())
	return nil
}

func (g *Gateway) registerProd(r Router) error {
	src := g.cfg.Assets()
	if src == nil {
		return configErrorf(MissingAssetSource, "production mode requires an asset source")
	}
	handlerOpts := []assets.HandlerOption{assets.WithLogger(g.logger.With("component", "assets"))}
	if g.opts.metrics != nil {
		handlerOpts = append(handlerOpts, assets.WithObserver(g.opts.metrics))
	}
	r.NotFound(assets.NewHandler(src, handlerOpts...).ServeHTTP)
	g.logger.Info("asset gateway registered", "source", src.String())
	return nil
}

// ActiveTunnels reports open hot-reload tunnels across all registrations.
func (g *Gateway) ActiveTunnels() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, t := range g.tunnels {
		n += t.Active()
	}
	return n
}

// Spawn starts the configured dev server command. It is only valid after a
// dev-mode Register and at most once. The proxy does not depend on it: an
// upstream started by other means works the same.
func (g *Gateway) Spawn(ctx context.Context) (*supervisor.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.devMode {
		return nil, ErrSpawnNotDevMode
	}
	if len(g.cfg.command) == 0 {
		return nil, ErrNoCommand
	}
	if g.child != nil {
		return nil, ErrAlreadySpawned
	}
	opts := []supervisor.Option{
		supervisor.WithLogger(g.logger.With("component", "supervisor")),
		supervisor.WithGrace(g.opts.grace),
		supervisor.WithStdout(g.opts.stdout),
		supervisor.WithStderr(g.opts.stderr),
	}
	if g.opts.metrics != nil {
		opts = append(opts, supervisor.WithObserver(g.opts.metrics))
	}
	if ex := g.state.Tool.urlExtractor(); ex != nil {
		opts = append(opts, supervisor.WithAnnouncement(ex, g.cfg.Base()))
	}
	h, err := supervisor.Spawn(ctx, g.opts.registry, supervisor.Spec{
		Command: g.cfg.Command(),
		Dir:     g.cfg.ProjectDir(),
		Env:     g.cfg.Env(),
	}, opts...)
	if err != nil {
		return nil, err
	}
	g.child = h
	return h, nil
}

// Shutdown cancels every tunnel and the child process, then waits for them
// to finish or ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.opts.registry.Cancel()
	return g.opts.registry.Wait(ctx)
}
