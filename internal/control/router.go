package control

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"agendawatch/internal/storage"
	"agendawatch/internal/task/engine"
	"agendawatch/internal/task/scheduler"
	logx "agendawatch/pkg/logx"
)

const (
	defaultRecent = 5
	maxRecent     = 100
)

// Scheduler is the part of the scheduler the control server drives.
type Scheduler interface {
	Trigger(name string) (string, error)
	Snapshot() scheduler.Snapshot
}

// History reads recent run records. A nil History serves jobs without runs.
type History interface {
	RecentRuns(ctx context.Context, job string, n int) ([]storage.RunRecord, error)
}

type Deps struct {
	Scheduler Scheduler
	History   History
	Log       logx.Logger

	// Token enables bearer auth on everything except /healthz.
	Token string
	// Pprof mounts the profiler under /debug/pprof/.
	Pprof bool
}

type JobView struct {
	Name    string              `json:"name"`
	Spec    string              `json:"schedule"`
	Timeout string              `json:"timeout,omitempty"`
	Next    *time.Time          `json:"next,omitempty"`
	Prev    *time.Time          `json:"prev,omitempty"`
	Running bool                `json:"running"`
	Recent  []storage.RunRecord `json:"recent"`
}

type JobsResponse struct {
	Enabled  bool      `json:"enabled"`
	Timezone string    `json:"timezone"`
	QueueLen int       `json:"queue_len"`
	InFlight int       `json:"in_flight"`
	Dropped  uint64    `json:"dropped"`
	Jobs     []JobView `json:"jobs"`
}

type DispatchResponse struct {
	ID     string `json:"id"`
	Job    string `json:"job"`
	Status string `json:"status"`
}

// NewRouter builds the control API.
func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &handlers{deps: d, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLog(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)

	r.Group(func(r chi.Router) {
		r.Use(requireBearer(d.Token))
		r.Get("/jobs", h.listJobs)
		r.Post("/jobs/{name}/dispatch", h.dispatch)
		if d.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	return r
}

type handlers struct {
	deps Deps
	log  logx.Logger
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) listJobs(w http.ResponseWriter, r *http.Request) {
	if h.deps.Scheduler == nil {
		jsonError(w, "scheduler unavailable", http.StatusServiceUnavailable)
		return
	}
	n := defaultRecent
	if raw := r.URL.Query().Get("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			jsonError(w, "invalid limit", http.StatusBadRequest)
			return
		}
		n = min(v, maxRecent)
	}

	snap := h.deps.Scheduler.Snapshot()
	resp := JobsResponse{
		Enabled:  snap.Enabled,
		Timezone: snap.Timezone,
		QueueLen: snap.QueueLen,
		InFlight: snap.InFlight,
		Dropped:  snap.Dropped,
		Jobs:     make([]JobView, 0, len(snap.Schedules)),
	}
	for _, s := range snap.Schedules {
		v := JobView{Name: s.Name, Spec: s.Spec, Running: s.Running, Recent: []storage.RunRecord{}}
		if s.Timeout > 0 {
			v.Timeout = s.Timeout.String()
		}
		if !s.Next.IsZero() {
			next := s.Next
			v.Next = &next
		}
		if !s.Prev.IsZero() {
			prev := s.Prev
			v.Prev = &prev
		}
		if h.deps.History != nil && n > 0 {
			runs, err := h.deps.History.RecentRuns(r.Context(), s.Name, n)
			if err != nil {
				h.log.Warn("recent runs failed", logx.String("job", s.Name), logx.Err(err))
				jsonError(w, "history unavailable", http.StatusInternalServerError)
				return
			}
			v.Recent = append(v.Recent, runs...)
		}
		resp.Jobs = append(resp.Jobs, v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) dispatch(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if h.deps.Scheduler == nil {
		jsonError(w, "scheduler unavailable", http.StatusServiceUnavailable)
		return
	}
	id, err := h.deps.Scheduler.Trigger(name)
	if err != nil {
		code := dispatchStatus(err)
		h.log.Info("dispatch rejected", logx.String("job", name), logx.Int("status", code), logx.Err(err))
		jsonError(w, err.Error(), code)
		return
	}
	writeJSON(w, http.StatusAccepted, DispatchResponse{ID: id, Job: name, Status: "accepted"})
}

func dispatchStatus(err error) int {
	switch {
	case errors.Is(err, scheduler.ErrUnknownSchedule):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrOverlapSkip):
		return http.StatusConflict
	case errors.Is(err, engine.ErrStopped),
		errors.Is(err, engine.ErrStopping),
		errors.Is(err, engine.ErrDisabled),
		errors.Is(err, engine.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
