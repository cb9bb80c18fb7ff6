// Package web exposes Pulse's HTTP surface: the websocket handshake,
// the per-user notification API, the scheduler control surface, and the
// health and metrics endpoints. Controllers stay thin; all behavior
// lives in the dispatcher and scheduler.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/pulse/internal/auth"
	"github.com/haasonsaas/pulse/internal/dispatch"
	"github.com/haasonsaas/pulse/internal/registry"
	"github.com/haasonsaas/pulse/internal/scheduler"
)

// Config holds the handler's collaborators.
type Config struct {
	// AuthService validates bearer credentials on /api routes.
	AuthService *auth.Service
	// Dispatcher backs the notification API.
	Dispatcher *dispatch.Dispatcher
	// Hub reports online counts on /healthz.
	Hub *registry.Hub
	// Scheduler backs the control surface (optional).
	Scheduler *scheduler.Registry
	// Handshake serves /ws (optional in tests).
	Handshake http.Handler
	// Gatherer backs /metrics. Nil uses the default Prometheus gatherer.
	Gatherer prometheus.Gatherer
	// Logger for request logging.
	Logger *slog.Logger
	// ServerStartTime for uptime reporting.
	ServerStartTime time.Time
}

// Handler is the main HTTP handler.
type Handler struct {
	config *Config
	mux    *http.ServeMux
}

// NewHandler creates the HTTP handler and wires its routes.
func NewHandler(cfg *Config) *Handler {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	h := &Handler{config: cfg, mux: http.NewServeMux()}
	h.setupRoutes()
	return h
}

func (h *Handler) setupRoutes() {
	if h.config.Handshake != nil {
		h.mux.Handle("/ws", h.config.Handshake)
	}

	h.mux.HandleFunc("GET /api/notifications", h.apiListNotifications)
	h.mux.HandleFunc("GET /api/notifications/unread_count", h.apiUnreadCount)
	h.mux.HandleFunc("POST /api/notifications/read_all", h.apiMarkAllRead)
	h.mux.HandleFunc("POST /api/notifications/{id}/read", h.apiMarkRead)
	h.mux.HandleFunc("DELETE /api/notifications/read", h.apiDeleteRead)
	h.mux.HandleFunc("DELETE /api/notifications/{id}", h.apiDeleteNotification)
	h.mux.HandleFunc("POST /api/admin/notifications/test", h.apiTestNotification)

	h.mux.HandleFunc("GET /api/scheduler/jobs", h.apiSchedulerJobs)
	h.mux.HandleFunc("POST /api/scheduler/start", h.apiSchedulerStart)
	h.mux.HandleFunc("POST /api/scheduler/stop", h.apiSchedulerStop)
	h.mux.HandleFunc("POST /api/scheduler/jobs/{name}/run", h.apiSchedulerRun)

	h.mux.HandleFunc("GET /healthz", h.handleHealthz)
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(h.config.Gatherer, promhttp.HandlerOpts{}))
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Mount returns the handler with middleware applied.
func (h *Handler) Mount() http.Handler {
	var handler http.Handler = h
	handler = AuthMiddleware(h.config.AuthService, h.config.Logger)(handler)
	handler = LoggingMiddleware(h.config.Logger)(handler)
	return handler
}

// handleHealthz reports liveness plus a few operational counters.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ok",
	}
	if !h.config.ServerStartTime.IsZero() {
		resp["uptime"] = time.Since(h.config.ServerStartTime).Round(time.Second).String()
	}
	if h.config.Hub != nil {
		users, conns := h.config.Hub.OnlineCounts()
		resp["online_users"] = users
		resp["connections"] = conns
	}
	if h.config.Scheduler != nil {
		resp["scheduler_started"] = h.config.Scheduler.Started()
	}
	h.jsonResponse(w, resp)
}

// jsonResponse writes a JSON response.
func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.config.Logger.Error("json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
