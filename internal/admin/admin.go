package admin

import (
	"encoding/json"
	"net/http"
	"regexp"

	"github.com/iTrooz/offline-cache-proxy/internal/config"
	"github.com/iTrooz/offline-cache-proxy/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

var validTag = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

type HandlerConfig struct {
	Registry *worker.Registry
	// CacheName prefixes the bucket of versions installed through the API.
	CacheName string
	Metrics   http.Handler
}

type handler struct {
	registry  *worker.Registry
	cacheName string
}

// NewHandler serves health, status, metrics and version installs
func NewHandler(cfg HandlerConfig) http.Handler {
	h := &handler{registry: cfg.Registry, cacheName: cfg.CacheName}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Post("/versions/{tag}", h.handleInstall)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}
	return r
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if _, ok := h.registry.Active(); !ok {
		http.Error(w, "no active version", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.registry.Status())
}

func (h *handler) handleInstall(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	if !validTag.MatchString(tag) {
		http.Error(w, "invalid version tag", http.StatusBadRequest)
		return
	}

	version := worker.Version{Tag: tag, Bucket: config.BucketName(h.cacheName, tag)}
	if err := h.registry.Install(r.Context(), version); err != nil {
		logrus.Errorf("Failed to install version %s: %v", tag, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, h.registry.Status())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write admin response: %v", err)
	}
}
