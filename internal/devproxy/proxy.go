// Package devproxy forwards browser traffic to a frontend dev server: plain
// HTTP through a reverse proxy and the hot-reload websocket through a tunnel.
package devproxy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"assetgate/cli/internal/logging"
)

const (
	defaultDialTimeout = 5 * time.Second
	// A cold dev server may transform a large module graph before it
	// answers the first request.
	defaultHeaderTimeout = 60 * time.Second
)

// Observer receives per-request proxy outcomes.
type Observer interface {
	ObserveProxy(status int, elapsed time.Duration)
	ObserveUpstreamUnreachable()
}

type ProxyOption func(*ReverseProxy)

func WithDialTimeout(d time.Duration) ProxyOption {
	return func(p *ReverseProxy) {
		if d > 0 {
			p.dialTimeout = d
		}
	}
}

// WithResponseHeaderTimeout bounds the wait for an upstream that accepted
// the connection but has not started its response.
func WithResponseHeaderTimeout(d time.Duration) ProxyOption {
	return func(p *ReverseProxy) {
		if d > 0 {
			p.headerTimeout = d
		}
	}
}

func WithProxyLogger(lg *slog.Logger) ProxyOption {
	return func(p *ReverseProxy) {
		if lg != nil {
			p.logger = lg
		}
	}
}

func WithProxyObserver(o Observer) ProxyOption {
	return func(p *ReverseProxy) { p.observer = o }
}

// WithTransport replaces the upstream transport, mainly for tests.
func WithTransport(rt http.RoundTripper) ProxyOption {
	return func(p *ReverseProxy) { p.transport = rt }
}

// ReverseProxy forwards every request to base. Method, path, query and body
// are kept, Host is rewritten to the upstream authority and hop-by-hop
// headers are regenerated. There is no retry: a dev server that is not up yet
// yields a 502 the browser can reload past.
type ReverseProxy struct {
	base          *url.URL
	dialTimeout   time.Duration
	headerTimeout time.Duration
	logger        *slog.Logger
	observer      Observer
	transport     http.RoundTripper
	proxy         *httputil.ReverseProxy
}

var forwardedHeaders = []string{"Forwarded", "X-Forwarded-For", "X-Forwarded-Host", "X-Forwarded-Proto"}

func NewReverseProxy(base *url.URL, opts ...ProxyOption) *ReverseProxy {
	p := &ReverseProxy{
		base:          base,
		dialTimeout:   defaultDialTimeout,
		headerTimeout: defaultHeaderTimeout,
		logger:        logging.Discard(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.transport == nil {
		p.transport = newTransport(p.dialTimeout, p.headerTimeout)
	}
	target := *base
	p.proxy = &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(&target)
			// Rewrite mode drops these; the client's values pass through untouched.
			for _, h := range forwardedHeaders {
				if v, ok := pr.In.Header[h]; ok {
					pr.Out.Header[h] = v
				}
			}
		},
		Transport:     p.transport,
		FlushInterval: -1,
		ErrorHandler:  p.handleError,
		ErrorLog:      slog.NewLogLogger(p.logger.Handler(), slog.LevelWarn),
	}
	return p
}

func newTransport(dialTimeout, headerTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:                 nil,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: headerTimeout,
		// Bodies are relayed as the upstream encoded them.
		DisableCompression: true,
	}
}

// Base returns the upstream the proxy forwards to.
func (p *ReverseProxy) Base() *url.URL {
	u := *p.base
	return &u
}

func (p *ReverseProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	p.proxy.ServeHTTP(rec, r)
	if p.observer != nil {
		p.observer.ObserveProxy(rec.status, time.Since(start))
	}
}

func (p *ReverseProxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	lg := logging.FromContext(r.Context(), p.logger)
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		lg.Debug("client went away before upstream answered", "method", r.Method, "path", r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	perr := &ProxyError{Kind: classify(err), Upstream: p.base.Host, Err: err}
	lg.Warn("upstream request failed", "method", r.Method, "path", r.URL.Path, "err", perr)
	if perr.Kind == UpstreamUnreachable && p.observer != nil {
		p.observer.ObserveUpstreamUnreachable()
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusBadGateway)
	if perr.Kind == UpstreamUnreachable {
		_, _ = io.WriteString(w, "upstream "+p.base.Host+" is not reachable yet; retry shortly\n")
		return
	}
	_, _ = io.WriteString(w, "upstream "+p.base.Host+" failed to answer\n")
}

// statusRecorder keeps the status for metrics. Unwrap lets
// http.ResponseController reach Flush and Hijack on the real writer.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader && code >= 200 {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
