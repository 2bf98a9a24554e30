package application

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"assetgate/cli/internal/config"
)

func testConfig(mode string) config.Config {
	cfg := config.Default()
	cfg.Mode = mode
	cfg.LocalHost = "127.0.0.1"
	cfg.LocalPort = 0
	cfg.ShutdownGrace = config.Duration{Duration: 2 * time.Second}
	cfg.DrainTimeout = config.Duration{Duration: 2 * time.Second}
	cfg.DialTimeout = config.Duration{Duration: time.Second}
	return cfg
}

// runApp starts Run in the background and returns a stop func that cancels
// it and returns Run's result.
func runApp(t *testing.T, app *Application) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- app.Run(ctx) }()
	var result error
	stopped := false
	stop := func() error {
		if stopped {
			return result
		}
		stopped = true
		cancel()
		select {
		case result = <-runDone:
		case <-time.After(10 * time.Second):
			t.Fatal("app run goroutine did not exit")
		}
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}

func waitHTTPReady(t *testing.T, url string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("http endpoint not ready: %s", url)
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}
