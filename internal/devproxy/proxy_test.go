package devproxy

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeProxyObserver struct {
	mu          sync.Mutex
	statuses    []int
	unreachable int
}

func (f *fakeProxyObserver) ObserveProxy(status int, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
}

func (f *fakeProxyObserver) ObserveUpstreamUnreachable() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable++
}

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

type seenRequest struct {
	method, path, rawQuery, host, body, forwardedFor string
}

func echoUpstream(t *testing.T) (*httptest.Server, <-chan seenRequest) {
	t.Helper()
	seen := make(chan seenRequest, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		seen <- seenRequest{
			method:       r.Method,
			path:         r.URL.Path,
			rawQuery:     r.URL.RawQuery,
			host:         r.Host,
			body:         string(body),
			forwardedFor: r.Header.Get("X-Forwarded-For"),
		}
		w.Header().Set("X-Upstream", "vite")
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("upstream:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestReverseProxy_ForwardsPathAndQuery(t *testing.T) {
	upstream, seen := echoUpstream(t)
	base := mustParse(t, upstream.URL)
	obs := &fakeProxyObserver{}
	gw := httptest.NewServer(NewReverseProxy(base, WithProxyObserver(obs)))
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/foo?x=1")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusTeapot {
		t.Fatalf("expected upstream status 418, got %d", resp.StatusCode)
	}
	if string(body) != "upstream:/foo" {
		t.Fatalf("unexpected body %q", string(body))
	}
	if resp.Header.Get("X-Upstream") != "vite" {
		t.Fatalf("upstream header not relayed: %v", resp.Header)
	}
	got := <-seen
	if got.method != http.MethodGet || got.path != "/foo" || got.rawQuery != "x=1" {
		t.Fatalf("unexpected upstream request %+v", got)
	}
	if got.host != base.Host {
		t.Fatalf("expected Host %q, got %q", base.Host, got.host)
	}
	if got.forwardedFor != "" {
		t.Fatalf("expected no X-Forwarded-For, got %q", got.forwardedFor)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if len(obs.statuses) != 1 || obs.statuses[0] != http.StatusTeapot {
		t.Fatalf("unexpected observed statuses %v", obs.statuses)
	}
}

func TestReverseProxy_ForwardsBodyAndMethod(t *testing.T) {
	upstream, seen := echoUpstream(t)
	gw := httptest.NewServer(NewReverseProxy(mustParse(t, upstream.URL)))
	defer gw.Close()

	resp, err := http.Post(gw.URL+"/api/save?draft=true", "application/json", strings.NewReader(`{"a":1}`))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	_ = resp.Body.Close()
	got := <-seen
	if got.method != http.MethodPost || got.body != `{"a":1}` || got.rawQuery != "draft=true" {
		t.Fatalf("unexpected upstream request %+v", got)
	}
}

func TestReverseProxy_StripsConnectionScopedHeaders(t *testing.T) {
	upstreamSaw := make(chan http.Header, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamSaw <- r.Header.Clone()
		w.Header().Set("Connection", "X-Hop")
		w.Header().Set("X-Hop", "upstream-only")
		w.Header().Set("Keep-Alive", "timeout=5")
		w.Header().Set("X-End", "kept")
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()
	gw := httptest.NewServer(NewReverseProxy(mustParse(t, upstream.URL)))
	defer gw.Close()

	req, err := http.NewRequest(http.MethodGet, gw.URL+"/hmr-client.js", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Connection", "X-Client-Hop")
	req.Header.Set("X-Client-Hop", "client-only")
	req.Header.Set("Keep-Alive", "timeout=5")
	req.Header.Set("X-Client-End", "kept")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	_, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	seen := <-upstreamSaw
	if seen.Get("X-Client-Hop") != "" || seen.Get("Keep-Alive") != "" {
		t.Fatalf("connection-scoped request headers reached upstream: %v", seen)
	}
	if seen.Get("X-Client-End") != "kept" {
		t.Fatalf("end-to-end request header dropped: %v", seen)
	}
	if resp.Header.Get("X-Hop") != "" || resp.Header.Get("Keep-Alive") != "" {
		t.Fatalf("connection-scoped response headers reached client: %v", resp.Header)
	}
	if resp.Header.Get("X-End") != "kept" {
		t.Fatalf("end-to-end response header dropped: %v", resp.Header)
	}
}

func TestReverseProxy_KeepsClientForwardedHeaders(t *testing.T) {
	upstream, seen := echoUpstream(t)
	gw := httptest.NewServer(NewReverseProxy(mustParse(t, upstream.URL)))
	defer gw.Close()

	req, _ := http.NewRequest(http.MethodGet, gw.URL+"/", nil)
	req.Header.Set("X-Forwarded-For", "10.0.0.9")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	_ = resp.Body.Close()
	if got := <-seen; got.forwardedFor != "10.0.0.9" {
		t.Fatalf("expected client X-Forwarded-For unchanged, got %q", got.forwardedFor)
	}
}

func TestReverseProxy_UnreachableUpstreamReturns502(t *testing.T) {
	addr := closedAddr(t)
	obs := &fakeProxyObserver{}
	gw := httptest.NewServer(NewReverseProxy(mustParse(t, "http://"+addr), WithProxyObserver(obs), WithDialTimeout(time.Second)))
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	want := "upstream " + addr + " is not reachable yet; retry shortly"
	if !strings.Contains(string(body), want) {
		t.Fatalf("expected body to contain %q, got %q", want, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("expected text/plain, got %q", ct)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.unreachable != 1 {
		t.Fatalf("expected one unreachable observation, got %d", obs.unreachable)
	}
	if len(obs.statuses) != 1 || obs.statuses[0] != http.StatusBadGateway {
		t.Fatalf("unexpected observed statuses %v", obs.statuses)
	}
}

func TestReverseProxy_SilentUpstreamReturns502(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	obs := &fakeProxyObserver{}
	gw := httptest.NewServer(NewReverseProxy(mustParse(t, upstream.URL),
		WithProxyObserver(obs), WithResponseHeaderTimeout(100*time.Millisecond)))
	defer gw.Close()

	start := time.Now()
	resp, err := http.Get(gw.URL + "/src/main.ts")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "is not reachable yet") {
		t.Fatalf("expected unreachable body, got %q", string(body))
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("silent upstream was not bounded: %s", elapsed)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.unreachable != 1 {
		t.Fatalf("expected one unreachable observation, got %d", obs.unreachable)
	}
}

func TestProxyError_Is(t *testing.T) {
	err := &ProxyError{Kind: UpstreamUnreachable, Upstream: "localhost:4001", Err: io.EOF}
	if !errorsIs(err, ErrUpstreamUnreachable) {
		t.Fatal("expected ErrUpstreamUnreachable to match")
	}
	if errorsIs(err, ErrUpstreamFailed) {
		t.Fatal("did not expect ErrUpstreamFailed to match")
	}
	if !errorsIs(err, io.EOF) {
		t.Fatal("expected wrapped error to match")
	}
}

func TestClassify(t *testing.T) {
	_, err := net.DialTimeout("tcp", closedAddr(t), time.Second)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if got := classify(err); got != UpstreamUnreachable {
		t.Fatalf("expected %s, got %s", UpstreamUnreachable, got)
	}
	if got := classify(io.ErrUnexpectedEOF); got != UpstreamFailed {
		t.Fatalf("expected %s, got %s", UpstreamFailed, got)
	}
}
