package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/ReadPipe/internal/models"
	"github.com/BTreeMap/ReadPipe/internal/scheduler"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string              `json:"status"`
	Timestamp     time.Time           `json:"timestamp"`
	UptimeSeconds int64               `json:"uptime_seconds"`
	Timezone      string              `json:"timezone"`
	NextRuns      []scheduler.NextRun `json:"next_runs"`
}

// Server serves the process health endpoint.
type Server struct {
	sched      *scheduler.Scheduler
	started    time.Time
	now        func() time.Time
	httpServer *http.Server
}

// NewServer creates a server on addr reporting the triggers of sched.
func NewServer(addr string, sched *scheduler.Scheduler) *Server {
	s := &Server{sched: sched, started: time.Now(), now: time.Now}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

func (s *Server) ListenAndServe() error {
	slog.Info("Server: listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		slog.Warn("Server.healthHandler: method not allowed", "method", r.Method)
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("Method not allowed"))
		return
	}
	now := s.now()
	loc := s.sched.Location()
	writeJSONResponse(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		Timestamp:     now.In(loc),
		UptimeSeconds: int64(now.Sub(s.started).Seconds()),
		Timezone:      loc.String(),
		NextRuns:      s.sched.NextRuns(),
	})
}
