package appserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"

	"assetgate/cli/internal/assets"
	"assetgate/cli/internal/gateway"
	"assetgate/cli/internal/metrics"
)

func newGateway(t *testing.T, b *gateway.ConfigBuilder, opts ...gateway.Option) *gateway.Gateway {
	t.Helper()
	cfg, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	g, err := gateway.New(cfg, opts...)
	if err != nil {
		t.Fatalf("gateway.New failed: %v", err)
	}
	return g
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, string(body)
}

func TestServer_DevProxy_ForRootPath(t *testing.T) {
	vite := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("vite-dev-ok"))
	}))
	defer vite.Close()

	srv, err := NewServer(Deps{
		Gateway: newGateway(t, gateway.NewConfigBuilder().Base(vite.URL).Tool(gateway.Vite())),
		DevMode: true,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/")
	if resp.StatusCode != http.StatusOK || body != "vite-dev-ok" {
		t.Fatalf("unexpected dev proxy response: %d %q", resp.StatusCode, body)
	}
}

func TestServer_Healthz_NotProxied(t *testing.T) {
	hits := 0
	vite := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer vite.Close()

	srv, err := NewServer(Deps{
		Gateway: newGateway(t, gateway.NewConfigBuilder().Base(vite.URL)),
		DevMode: true,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected healthz status %d", resp.StatusCode)
	}
	var payload struct {
		OK   bool              `json:"ok"`
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	if !payload.OK || payload.Data["service"] != "assetgate" {
		t.Fatalf("unexpected healthz payload %s", body)
	}
	if hits != 0 {
		t.Fatalf("healthz should not reach the upstream, got %d hits", hits)
	}
}

func TestServer_ProdServesSPA(t *testing.T) {
	src := assets.Embedded(fstest.MapFS{
		"index.html":    {Data: []byte("<html>app</html>")},
		"static/app.js": {Data: []byte("run()")},
	}, "")
	m := metrics.New()
	srv, err := NewServer(Deps{
		Gateway: newGateway(t, gateway.NewConfigBuilder().Assets(src), gateway.WithMetrics(m)),
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/static/app.js")
	if resp.StatusCode != http.StatusOK || body != "run()" {
		t.Fatalf("unexpected asset response %d %q", resp.StatusCode, body)
	}
	resp, body = get(t, ts.URL+"/settings/profile")
	if resp.StatusCode != http.StatusOK || body != "<html>app</html>" {
		t.Fatalf("expected SPA shell, got %d %q", resp.StatusCode, body)
	}
	resp, body = get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected metrics status %d", resp.StatusCode)
	}
	if !strings.Contains(body, "assetgate_assets_responses_total") {
		t.Fatalf("expected asset counters in metrics output:\n%s", body)
	}
}

func TestServer_MetricsRouteFollowsGateway(t *testing.T) {
	src := assets.Embedded(fstest.MapFS{
		"index.html": {Data: []byte("<html>app</html>")},
	}, "")
	srv, err := NewServer(Deps{Gateway: newGateway(t, gateway.NewConfigBuilder().Assets(src))})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Without gateway collectors there is no /metrics route; the SPA answers.
	resp, body := get(t, ts.URL+"/metrics")
	if resp.StatusCode != http.StatusOK || body != "<html>app</html>" {
		t.Fatalf("expected SPA fallback for /metrics, got %d %q", resp.StatusCode, body)
	}
}

func TestServer_ProdWithoutAssetsFails(t *testing.T) {
	_, err := NewServer(Deps{Gateway: newGateway(t, gateway.NewConfigBuilder())})
	if !errors.Is(err, gateway.ErrMissingAssetSource) {
		t.Fatalf("expected ErrMissingAssetSource, got %v", err)
	}
}

func TestServer_RequiresGateway(t *testing.T) {
	if _, err := NewServer(Deps{}); err == nil {
		t.Fatal("expected error without gateway")
	}
}

func TestServer_Status(t *testing.T) {
	srv, err := NewServer(Deps{
		Gateway: newGateway(t, gateway.NewConfigBuilder().Base("http://127.0.0.1:4001").Tool(gateway.Vite())),
		DevMode: true,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+statusPath)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status code %d", resp.StatusCode)
	}
	var payload struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	d := payload.Data
	if d["mode"] != "dev" || d["tool"] != "vite" || d["hmr_path"] != "/vite-hmr" || d["upstream"] != "http://127.0.0.1:4001" {
		t.Fatalf("unexpected status payload %v", d)
	}
	if d["active_tunnels"] != float64(0) {
		t.Fatalf("expected no active tunnels, got %v", d["active_tunnels"])
	}
}

func TestNewHTTPServer(t *testing.T) {
	h := http.NotFoundHandler()
	s := NewHTTPServer("127.0.0.1:0", h)
	if s.Addr != "127.0.0.1:0" || s.ReadHeaderTimeout == 0 || s.WriteTimeout != 0 {
		t.Fatalf("unexpected server settings %+v", s)
	}
}
