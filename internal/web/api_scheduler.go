package web

import (
	"errors"
	"net/http"

	"github.com/haasonsaas/pulse/internal/scheduler"
)

// requireSupervisor returns the authenticated user when they hold a
// supervisory role, or writes the failure response.
func (h *Handler) requireSupervisor(w http.ResponseWriter, r *http.Request) bool {
	user, ok := h.requireUser(w, r)
	if !ok {
		return false
	}
	if !user.Role.IsSupervisory() {
		h.jsonError(w, "Forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func (h *Handler) apiSchedulerJobs(w http.ResponseWriter, r *http.Request) {
	if !h.requireSupervisor(w, r) {
		return
	}
	if h.config.Scheduler == nil {
		h.jsonError(w, "Scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	h.jsonResponse(w, map[string]any{
		"started": h.config.Scheduler.Started(),
		"jobs":    h.config.Scheduler.Jobs(),
	})
}

func (h *Handler) apiSchedulerStart(w http.ResponseWriter, r *http.Request) {
	if !h.requireSupervisor(w, r) {
		return
	}
	if h.config.Scheduler == nil {
		h.jsonError(w, "Scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	h.config.Scheduler.Start()
	h.jsonResponse(w, map[string]string{"status": "started"})
}

func (h *Handler) apiSchedulerStop(w http.ResponseWriter, r *http.Request) {
	if !h.requireSupervisor(w, r) {
		return
	}
	if h.config.Scheduler == nil {
		h.jsonError(w, "Scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	h.config.Scheduler.Stop()
	h.jsonResponse(w, map[string]string{"status": "stopped"})
}

func (h *Handler) apiSchedulerRun(w http.ResponseWriter, r *http.Request) {
	if !h.requireSupervisor(w, r) {
		return
	}
	if h.config.Scheduler == nil {
		h.jsonError(w, "Scheduler not configured", http.StatusServiceUnavailable)
		return
	}
	name := r.PathValue("name")
	if err := h.config.Scheduler.RunNow(r.Context(), name); err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			h.jsonError(w, "Job not found", http.StatusNotFound)
			return
		}
		h.config.Logger.Error("manual job run failed", "job", name, "error", err)
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, map[string]string{"status": "ok", "job": name})
}
