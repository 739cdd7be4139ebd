package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/gren-lsp/agentlock/internal/agentstate"
)

// AgentLister supplies the agent rows served on /agents.
type AgentLister interface {
	List() ([]agentstate.AgentRecord, error)
}

// Server is the read-mostly HTTP status API over the lock coordinator. It
// also reaps expired locks on a cron schedule while it runs.
type Server struct {
	coord    *Coordinator
	agents   AgentLister
	logger   *slog.Logger
	listener net.Listener
	server   *http.Server
	reaper   *cron.Cron
}

// NewServer creates a status server bound to addr ("127.0.0.1:0" picks a
// free port). gatherer backs /metrics; nil serves the default registry.
func NewServer(addr string, coord *Coordinator, agents AgentLister, gatherer prometheus.Gatherer, logger *slog.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("coordinator: binding listener: %w", err)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		coord:    coord,
		agents:   agents,
		logger:   logger,
		listener: ln,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/locks", s.handleListLocks)
	mux.HandleFunc("/check_lock", s.handleCheckLock)
	mux.HandleFunc("/agents", s.handleListAgents)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return s, nil
}

// Addr returns the address the server is listening on (e.g. "127.0.0.1:12345").
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Start begins serving HTTP requests. It blocks until the server stops and
// returns nil after a clean shutdown.
func (s *Server) Start() error {
	if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the reaper and gracefully shuts down the server. The
// listener is released even if Start was never called.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.reaper != nil {
		<-s.reaper.Stop().Done()
	}
	err := s.server.Shutdown(ctx)
	if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) && err == nil {
		err = cerr
	}
	return err
}

// StartReaper schedules CleanupExpired using a cron expression such as
// "@every 1m" or "*/5 * * * *".
func (s *Server) StartReaper(schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		s.reapExpiredLocks(ctx)
	})
	if err != nil {
		return fmt.Errorf("coordinator: invalid cleanup schedule %q: %w", schedule, err)
	}
	s.reaper = c
	c.Start()
	s.logger.Info("lock reaper started", "schedule", schedule)
	return nil
}

func (s *Server) reapExpiredLocks(ctx context.Context) {
	removed, err := s.coord.CleanupExpired(ctx)
	if err != nil {
		s.logger.Error("lock reaper failed", "error", err)
		return
	}
	if removed > 0 {
		s.logger.Info("reaped expired locks", "count", removed)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleListLocks(w http.ResponseWriter, r *http.Request) {
	locks, err := s.coord.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if locks == nil {
		locks = []FileLock{}
	}
	writeJSON(w, ListLocksResponse{Locks: locks})
}

func (s *Server) handleCheckLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req CheckLockRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.FilePath == "" {
		http.Error(w, "file_path is required", http.StatusBadRequest)
		return
	}

	holder, err := s.coord.Check(r.Context(), req.FilePath)
	if err != nil {
		s.fail(w, err)
		return
	}
	if holder == nil {
		writeJSON(w, CheckLockResponse{Locked: false})
		return
	}
	expires := holder.ExpiresAt
	writeJSON(w, CheckLockResponse{
		Locked:    true,
		HeldBy:    holder.SessionID,
		AgentName: holder.AgentName,
		ExpiresAt: &expires,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	resp, err := listAgents(s.agents)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, resp)
}

func listAgents(lister AgentLister) (ListAgentsResponse, error) {
	if lister == nil {
		return ListAgentsResponse{Agents: []AgentStatus{}}, nil
	}
	records, err := lister.List()
	if err != nil {
		return ListAgentsResponse{}, err
	}

	agents := make([]AgentStatus, 0, len(records))
	for _, rec := range records {
		agents = append(agents, AgentStatus{
			SessionID:    rec.SessionID,
			Name:         rec.Name,
			Status:       string(rec.Status),
			CurrentTask:  rec.CurrentTask,
			LastActivity: rec.LastActivity,
		})
	}
	return ListAgentsResponse{Agents: agents}, nil
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.logger.Error("status request failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// --- Helpers ---

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		// Allow empty body for requests with no fields.
		return true
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("encoding response: %v", err), http.StatusInternalServerError)
	}
}
