package appserver

import (
	"fmt"
	"net/http"
	"time"
)

// NewHTTPServer wraps handler with the timeouts used for the gateway
// listener. Write timeouts stay unset since proxied responses and the
// hot-reload tunnel are long lived.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

func routeError(format string, args ...any) error {
	return fmt.Errorf("appserver: "+format, args...)
}
