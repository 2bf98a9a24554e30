package assets

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"assetgate/cli/internal/logging"
)

// Observer is notified about every resolved request. It lets the host count
// outcomes without the resolver knowing about metrics.
type Observer interface {
	ObserveAsset(outcome string, status int)
}

type HandlerOption func(*handler)

func WithLogger(lg *slog.Logger) HandlerOption {
	return func(h *handler) {
		if lg != nil {
			h.logger = lg
		}
	}
}

func WithObserver(o Observer) HandlerOption {
	return func(h *handler) { h.observer = o }
}

type handler struct {
	src      Source
	logger   *slog.Logger
	observer Observer
}

// NewHandler serves src through Resolve.
func NewHandler(src Source, opts ...HandlerOption) http.Handler {
	h := &handler{src: src, logger: logging.Discard()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	asset, err := Resolve(r.URL.Path, h.src)
	if err != nil && !errors.Is(err, ErrNotFound) {
		logging.FromContext(r.Context(), h.logger).Error("asset read failed", "path", r.URL.Path, "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		if h.observer != nil {
			h.observer.ObserveAsset("error", http.StatusInternalServerError)
		}
		return
	}
	if h.observer != nil {
		h.observer.ObserveAsset(string(asset.Outcome), asset.Status)
	}

	hdr := w.Header()
	hdr.Set("Content-Type", asset.ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(asset.Body)))
	hdr.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(asset.Status)
	if r.Method == http.MethodHead {
		return
	}
	_, _ = w.Write(asset.Body)
}
