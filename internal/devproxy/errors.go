package devproxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

type ProxyErrorKind string

const (
	// UpstreamUnreachable means no connection could be made, typically
	// because the dev server is still starting.
	UpstreamUnreachable ProxyErrorKind = "upstream_unreachable"
	// UpstreamFailed means the connection was made but broke before a
	// response arrived.
	UpstreamFailed ProxyErrorKind = "upstream_failed"
)

type ProxyError struct {
	Kind     ProxyErrorKind
	Upstream string
	Err      error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("proxy %s: %s: %v", e.Kind, e.Upstream, e.Err)
}

func (e *ProxyError) Unwrap() error { return e.Err }

func (e *ProxyError) Is(target error) bool {
	t, ok := target.(*ProxyError)
	return ok && t.Kind == e.Kind && t.Upstream == "" && t.Err == nil
}

var (
	ErrUpstreamUnreachable = &ProxyError{Kind: UpstreamUnreachable}
	ErrUpstreamFailed      = &ProxyError{Kind: UpstreamFailed}
)

type TunnelErrorKind string

const HandshakeFailed TunnelErrorKind = "handshake_failed"

type TunnelError struct {
	Kind     TunnelErrorKind
	Upstream string
	Err      error
}

func (e *TunnelError) Error() string {
	return fmt.Sprintf("tunnel %s: %s: %v", e.Kind, e.Upstream, e.Err)
}

func (e *TunnelError) Unwrap() error { return e.Err }

func (e *TunnelError) Is(target error) bool {
	t, ok := target.(*TunnelError)
	return ok && t.Kind == e.Kind && t.Upstream == "" && t.Err == nil
}

var ErrHandshakeFailed = &TunnelError{Kind: HandshakeFailed}

func classify(err error) ProxyErrorKind {
	var opErr *net.OpError
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &opErr) && opErr.Op == "dial":
		return UpstreamUnreachable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return UpstreamUnreachable
	}
	return UpstreamFailed
}
