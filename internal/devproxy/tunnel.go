package devproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"cloudeng.io/sync/errgroup"
	"github.com/coder/websocket"
	"github.com/google/uuid"

	"assetgate/cli/internal/lifecycle"
	"assetgate/cli/internal/logging"
)

const defaultCloseTimeout = 2 * time.Second

// Relay directions, used as metric labels.
const (
	ClientToUpstream = "client_to_upstream"
	UpstreamToClient = "upstream_to_client"
)

type TunnelState int

const (
	StateIdle TunnelState = iota
	StateUpgradeRequested
	StateUpstreamConnecting
	StateTunneling
	StateClosed
)

func (s TunnelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUpgradeRequested:
		return "upgrade_requested"
	case StateUpstreamConnecting:
		return "upstream_connecting"
	case StateTunneling:
		return "tunneling"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("TunnelState(%d)", int(s))
}

// TunnelObserver receives tunnel lifecycle events.
type TunnelObserver interface {
	TunnelOpened()
	TunnelClosed()
	TunnelHandshakeFailed()
	TunnelMessage(direction string)
}

type TunnelOption func(*Tunnel)

func WithTunnelDialTimeout(d time.Duration) TunnelOption {
	return func(t *Tunnel) {
		if d > 0 {
			t.dialTimeout = d
		}
	}
}

func WithCloseTimeout(d time.Duration) TunnelOption {
	return func(t *Tunnel) {
		if d > 0 {
			t.closeTimeout = d
		}
	}
}

func WithTunnelLogger(lg *slog.Logger) TunnelOption {
	return func(t *Tunnel) {
		if lg != nil {
			t.logger = lg
		}
	}
}

func WithTunnelObserver(o TunnelObserver) TunnelOption {
	return func(t *Tunnel) { t.observer = o }
}

// WithOriginPatterns allows browser origins other than the gateway's own
// host to open the tunnel.
func WithOriginPatterns(patterns ...string) TunnelOption {
	return func(t *Tunnel) { t.originPatterns = append(t.originPatterns, patterns...) }
}

// Tunnel pairs each inbound hot-reload websocket with a fresh upstream
// connection to the dev server and relays messages both ways until either
// side closes.
type Tunnel struct {
	base           *url.URL
	path           string
	reg            *lifecycle.Registry
	dialTimeout    time.Duration
	closeTimeout   time.Duration
	logger         *slog.Logger
	observer       TunnelObserver
	originPatterns []string
	client         *http.Client
	active         atomic.Int64
}

func NewTunnel(base *url.URL, hmrPath string, reg *lifecycle.Registry, opts ...TunnelOption) *Tunnel {
	t := &Tunnel{
		base:         base,
		path:         hmrPath,
		reg:          reg,
		dialTimeout:  defaultDialTimeout,
		closeTimeout: defaultCloseTimeout,
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(t)
	}
	dialer := &net.Dialer{Timeout: t.dialTimeout, KeepAlive: 30 * time.Second}
	t.client = &http.Client{Transport: &http.Transport{
		Proxy:               nil,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: t.dialTimeout,
	}}
	return t
}

// Path returns the path the tunnel answers on.
func (t *Tunnel) Path() string { return t.path }

// Active reports the number of tunnels currently relaying.
func (t *Tunnel) Active() int { return int(t.active.Load()) }

// UpstreamURL returns the websocket URL dialed for an inbound request with
// the given raw query.
func (t *Tunnel) UpstreamURL(rawQuery string) string {
	u := url.URL{
		Scheme:   "ws",
		Host:     t.base.Host,
		Path:     t.path,
		RawQuery: rawQuery,
	}
	if t.base.Scheme == "https" {
		u.Scheme = "wss"
	}
	return u.String()
}

func (t *Tunnel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != t.path {
		http.NotFound(w, r)
		return
	}
	if !IsWebSocketUpgrade(r) {
		http.Error(w, "expected a websocket upgrade", http.StatusBadRequest)
		return
	}
	id := uuid.NewString()
	lg := logging.FromContext(r.Context(), t.logger).With("tunnel", id)
	state := func(s TunnelState) { lg.Debug("tunnel state", "state", s.String()) }
	state(StateUpgradeRequested)

	ctx := r.Context()
	release := func() {}
	if t.reg != nil {
		ctx, release = t.reg.Register(ctx, "hmr-tunnel:"+id)
	}
	defer release()
	ctx = logging.WithContext(ctx, lg)

	protocols := requestedSubprotocols(r)
	state(StateUpstreamConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, t.dialTimeout)
	upstream, resp, err := websocket.Dial(dialCtx, t.UpstreamURL(r.URL.RawQuery), &websocket.DialOptions{
		HTTPClient:      t.client,
		HTTPHeader:      forwardedDialHeaders(r),
		Subprotocols:    protocols,
		CompressionMode: websocket.CompressionDisabled,
	})
	cancel()
	if resp != nil && resp.Body != nil && err != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		terr := &TunnelError{Kind: HandshakeFailed, Upstream: t.base.Host, Err: err}
		lg.Warn("hot reload upstream handshake failed", "err", terr)
		if t.observer != nil {
			t.observer.TunnelHandshakeFailed()
		}
		t.reject(w, r, protocols, lg)
		state(StateClosed)
		return
	}

	acceptOpts := &websocket.AcceptOptions{
		OriginPatterns:  t.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	}
	if sp := upstream.Subprotocol(); sp != "" {
		acceptOpts.Subprotocols = []string{sp}
	}
	inbound, err := websocket.Accept(w, r, acceptOpts)
	if err != nil {
		lg.Warn("hot reload client handshake failed", "err", err)
		_ = upstream.Close(websocket.StatusGoingAway, "client handshake failed")
		state(StateClosed)
		return
	}

	t.active.Add(1)
	if t.observer != nil {
		t.observer.TunnelOpened()
	}
	state(StateTunneling)
	err = t.relay(ctx, inbound, upstream)
	if t.observer != nil {
		t.observer.TunnelClosed()
	}
	t.active.Add(-1)
	lg.Debug("tunnel closed", "state", StateClosed.String(), "reason", err)
}

// reject completes the inbound handshake so the browser sees a proper close
// code instead of a failed upgrade, then closes with 1011.
func (t *Tunnel) reject(w http.ResponseWriter, r *http.Request, protocols []string, lg *slog.Logger) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:    protocols,
		OriginPatterns:  t.originPatterns,
		CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		lg.Debug("rejecting hot reload client failed", "err", err)
		return
	}
	t.closePeer(conn, websocket.StatusInternalError, "upstream unavailable")
}

func (t *Tunnel) relay(ctx context.Context, inbound, upstream *websocket.Conn) error {
	inbound.SetReadLimit(-1)
	upstream.SetReadLimit(-1)
	defer func() {
		_ = inbound.CloseNow()
		_ = upstream.CloseNow()
	}()

	// Reads are not bound to ctx since a cancelled read drops the socket
	// without a close frame. Shutdown closes both peers with 1001 instead.
	readCtx := context.WithoutCancel(ctx)
	stop := context.AfterFunc(ctx, func() {
		g := &errgroup.T{}
		for _, c := range []*websocket.Conn{inbound, upstream} {
			g.Go(func() error {
				t.closePeer(c, websocket.StatusGoingAway, "gateway shutting down")
				return nil
			})
		}
		_ = g.Wait()
	})
	defer stop()

	g := &errgroup.T{}
	g.Go(func() error { return t.pipe(readCtx, upstream, inbound, ClientToUpstream) })
	g.Go(func() error { return t.pipe(readCtx, inbound, upstream, UpstreamToClient) })
	return g.Wait()
}

// pipe copies messages from src to dst in order. When src ends, dst is
// closed with the mirrored status.
func (t *Tunnel) pipe(ctx context.Context, dst, src *websocket.Conn, direction string) error {
	for {
		typ, data, err := src.Read(ctx)
		if err != nil {
			code, reason := mirrorStatus(err)
			t.closePeer(dst, code, reason)
			return fmt.Errorf("%s: %w", direction, err)
		}
		if err := dst.Write(ctx, typ, data); err != nil {
			t.closePeer(src, websocket.StatusGoingAway, "peer went away")
			return fmt.Errorf("%s: %w", direction, err)
		}
		if t.observer != nil {
			t.observer.TunnelMessage(direction)
		}
	}
}

func mirrorStatus(err error) (websocket.StatusCode, string) {
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		// Reserved codes that must not be sent on the wire.
		case websocket.StatusNoStatusRcvd, websocket.StatusAbnormalClosure, websocket.StatusTLSHandshake:
			return websocket.StatusNormalClosure, ""
		}
		return ce.Code, ce.Reason
	}
	return websocket.StatusInternalError, "relay error"
}

func (t *Tunnel) closePeer(c *websocket.Conn, code websocket.StatusCode, reason string) {
	done := make(chan struct{})
	go func() {
		_ = c.Close(code, reason)
		close(done)
	}()
	timer := time.NewTimer(t.closeTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		_ = c.CloseNow()
	}
}

// IsWebSocketUpgrade reports whether r asks to switch to the websocket
// protocol.
func IsWebSocketUpgrade(r *http.Request) bool {
	return headerHasToken(r.Header, "Connection", "upgrade") &&
		headerHasToken(r.Header, "Upgrade", "websocket")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, v := range h.Values(name) {
		for _, part := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(part), token) {
				return true
			}
		}
	}
	return false
}

func requestedSubprotocols(r *http.Request) []string {
	var out []string
	for _, v := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func forwardedDialHeaders(r *http.Request) http.Header {
	h := http.Header{}
	for _, name := range []string{"Origin", "Cookie", "User-Agent"} {
		if v := r.Header.Values(name); len(v) > 0 {
			h[name] = v
		}
	}
	return h
}
