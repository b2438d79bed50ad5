package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"pifan/internal/storage"
	"pifan/internal/task/engine"
	"pifan/internal/task/scheduler"
	logx "pifan/pkg/logx"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/schedules", s.handleSchedules)
		r.Get("/history", s.handleHistory)
		r.Get("/actuator", s.handleActuator)
		r.Post("/jobs/{name}/interrupt", s.handleInterrupt)
	})

	if s.cfg.Pprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.HandleFunc("/", pprof.Index)
			r.HandleFunc("/cmdline", pprof.Cmdline)
			r.HandleFunc("/profile", pprof.Profile)
			r.HandleFunc("/symbol", pprof.Symbol)
			r.HandleFunc("/trace", pprof.Trace)
			r.Handle("/{profile}", http.HandlerFunc(pprof.Index))
		})
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

type healthBody struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
	Jobs   int    `json:"jobs"`
	Pool   struct {
		Running bool `json:"running"`
		Workers int  `json:"workers"`
	} `json:"pool"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var body healthBody
	body.Status = "ok"
	body.Uptime = time.Since(s.started).Round(time.Second).String()
	status := http.StatusOK
	if s.deps.Scheduler != nil {
		snap := s.deps.Scheduler.Snapshot()
		body.Jobs = len(snap.Entries)
		body.Pool.Running = snap.Pool.Running
		body.Pool.Workers = snap.Pool.Workers
		if !snap.Pool.Running {
			body.Status = "stopped"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, body)
}

type scheduleEntry struct {
	scheduler.Entry
	// NextIn and PrevAgo are relative to the snapshot time, RunningFor to
	// the wall clock.
	NextIn     string `json:"next_in,omitempty"`
	PrevAgo    string `json:"prev_ago,omitempty"`
	RunningFor string `json:"running_for,omitempty"`
}

type schedulesBody struct {
	Name     string          `json:"name"`
	Timezone string          `json:"timezone"`
	Now      time.Time       `json:"now"`
	Entries  []scheduleEntry `json:"entries"`
	Pool     engine.Snapshot `json:"pool"`
}

func (s *Server) handleSchedules(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	snap := s.deps.Scheduler.Snapshot()
	body := schedulesBody{
		Name:     snap.Name,
		Timezone: snap.Timezone,
		Now:      snap.Now,
		Entries:  make([]scheduleEntry, 0, len(snap.Entries)),
		Pool:     snap.Pool,
	}
	body.Pool.History = nil
	for _, e := range snap.Entries {
		se := scheduleEntry{Entry: e}
		if !e.Next.IsZero() {
			se.NextIn = humanize.RelTime(e.Next, snap.Now, "ago", "from now")
		}
		if !e.Prev.IsZero() {
			se.PrevAgo = humanize.RelTime(e.Prev, snap.Now, "ago", "from now")
		}
		if !e.RunningSince.IsZero() {
			se.RunningFor = humanize.Time(e.RunningSince)
		}
		body.Entries = append(body.Entries, se)
	}
	writeJSON(w, http.StatusOK, body)
}

type historyBody struct {
	Source  string               `json:"source"`
	Records []storage.Record     `json:"records,omitempty"`
	Runs    []engine.HistoryItem `json:"runs,omitempty"`
}

// handleHistory serves persisted records when a store is configured, else
// the in-memory run history of the pool. ?source=memory forces the latter.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	if s.deps.Store != nil && r.URL.Query().Get("source") != "memory" {
		recs, err := s.deps.Store.Recent(r.Context(), limit)
		if err != nil {
			s.log.Warn("history read failed", logx.Err(err))
			writeError(w, http.StatusInternalServerError, "history unavailable")
			return
		}
		writeJSON(w, http.StatusOK, historyBody{Source: "store", Records: recs})
		return
	}

	runs := s.poolSnapshot().History
	// Newest first, like the store.
	out := make([]engine.HistoryItem, 0, min(limit, len(runs)))
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	writeJSON(w, http.StatusOK, historyBody{Source: "memory", Runs: out})
}

type actuatorBody struct {
	State       string    `json:"state"`
	Changes     uint64    `json:"changes"`
	LastChange  time.Time `json:"last_change,omitempty"`
	LastChanged string    `json:"last_changed,omitempty"`
}

func (s *Server) handleActuator(w http.ResponseWriter, r *http.Request) {
	if s.deps.Output == nil {
		writeError(w, http.StatusNotFound, "no actuator")
		return
	}
	n, last := s.deps.Output.Changes()
	body := actuatorBody{State: s.deps.Output.State().String(), Changes: n, LastChange: last}
	if !last.IsZero() {
		body.LastChanged = humanize.Time(last)
	}
	writeJSON(w, http.StatusOK, body)
}

type interruptBody struct {
	Name        string `json:"name"`
	Interrupted bool   `json:"interrupted"`
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running")
		return
	}
	name := chi.URLParam(r, "name")
	known := false
	for _, e := range s.deps.Scheduler.Snapshot().Entries {
		if e.Name == name {
			known = true
			break
		}
	}
	if !known {
		writeError(w, http.StatusNotFound, "unknown job "+strconv.Quote(name))
		return
	}
	ok := s.deps.Scheduler.Interrupt(name)
	s.log.Info("interrupt requested", logx.String("job", name), logx.Bool("signalled", ok))
	status := http.StatusAccepted
	if !ok {
		status = http.StatusConflict
	}
	writeJSON(w, status, interruptBody{Name: name, Interrupted: ok})
}
