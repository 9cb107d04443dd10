// Package api exposes the operator control surface as an embedded
// HTTP+JSON server: prompt submission and retry/reassign, session and
// service listing, service lifecycle commands, cluster status, and
// config reload. The same server mounts the cluster wire protocol
// (heartbeat and health endpoints) and the Prometheus scrape handler,
// so one listener serves operators, peers, and monitoring alike.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cuemby/fleetctl/pkg/apierr"
	"github.com/cuemby/fleetctl/pkg/assigner"
	"github.com/cuemby/fleetctl/pkg/cluster"
	"github.com/cuemby/fleetctl/pkg/log"
	"github.com/cuemby/fleetctl/pkg/metrics"
	"github.com/cuemby/fleetctl/pkg/storage"
	"github.com/cuemby/fleetctl/pkg/supervisor"
	"github.com/cuemby/fleetctl/pkg/types"
	"github.com/rs/zerolog"
)

// Response is the envelope every control-surface endpoint returns.
type Response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	Kind  string `json:"kind,omitempty"`
}

// Server wires the composition root's components to HTTP handlers.
type Server struct {
	store       storage.Store
	assigner    *assigner.Assigner
	supervisor  *supervisor.Supervisor
	coordinator *cluster.Coordinator
	reload      func() error
	logger      zerolog.Logger

	mux  *http.ServeMux
	http *http.Server
}

// NewServer builds the control-surface server. reload is invoked by
// the config/reload endpoint and may be nil when reload is unsupported.
func NewServer(store storage.Store, asg *assigner.Assigner, sup *supervisor.Supervisor, coord *cluster.Coordinator, reload func() error) *Server {
	s := &Server{
		store:       store,
		assigner:    asg,
		supervisor:  sup,
		coordinator: coord,
		reload:      reload,
		logger:      log.WithComponent("api"),
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/v1/prompts", s.handleSubmitPrompt)
	s.mux.HandleFunc("GET /api/v1/prompts", s.handleListPrompts)
	s.mux.HandleFunc("GET /api/v1/prompts/{id}", s.handleGetPrompt)
	s.mux.HandleFunc("POST /api/v1/prompts/{id}/retry", s.handleRetryPrompt)
	s.mux.HandleFunc("POST /api/v1/prompts/retry-all", s.handleRetryAllFailed)
	s.mux.HandleFunc("POST /api/v1/prompts/{id}/reassign", s.handleReassignPrompt)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/v1/services", s.handleSupervisorStatus)
	s.mux.HandleFunc("POST /api/v1/services/{id}/start", s.handleServiceStart)
	s.mux.HandleFunc("POST /api/v1/services/{id}/stop", s.handleServiceStop)
	s.mux.HandleFunc("POST /api/v1/services/{id}/restart", s.handleServiceRestart)
	s.mux.HandleFunc("GET /api/v1/cluster/status", s.handleClusterStatus)
	s.mux.HandleFunc("POST /api/v1/config/reload", s.handleReloadConfig)

	if s.coordinator != nil {
		s.mux.Handle("POST /cluster/heartbeat", s.coordinator.HeartbeatHandler())
		s.mux.Handle("GET /health", s.coordinator.HealthHandler())
	}
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// Start listens on addr and serves until Stop is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("control surface listening")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop gracefully drains in-flight requests.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) writeOK(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(Response{OK: true, Data: data})
}

func (s *Server) writeErr(w http.ResponseWriter, err error) {
	kind := apierr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case apierr.NotFound:
		status = http.StatusNotFound
	case apierr.InvalidState:
		status = http.StatusConflict
	case apierr.Config:
		status = http.StatusBadRequest
	case apierr.Timeout:
		status = http.StatusGatewayTimeout
	case apierr.ResourceExhausted:
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{OK: false, Error: err.Error(), Kind: string(kind)})
}

func (s *Server) writeBadRequest(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(Response{OK: false, Error: msg, Kind: string(apierr.Config)})
}

func promptID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

// SubmitPromptRequest is the POST /api/v1/prompts body.
type SubmitPromptRequest struct {
	Content           string            `json:"content"`
	Source            string            `json:"source"`
	Priority          int               `json:"priority"`
	TargetSession     string            `json:"target_session,omitempty"`
	TargetProvider    string            `json:"target_provider,omitempty"`
	FallbackProviders []string          `json:"fallback_providers,omitempty"`
	MaxRetries        int               `json:"max_retries,omitempty"`
	TimeoutSeconds    int               `json:"timeout_seconds,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleSubmitPrompt(w http.ResponseWriter, r *http.Request) {
	var req SubmitPromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	if req.Content == "" {
		s.writeBadRequest(w, "content is required")
		return
	}

	fallbacks := make([]types.Provider, 0, len(req.FallbackProviders))
	for _, p := range req.FallbackProviders {
		fallbacks = append(fallbacks, types.Provider(p))
	}
	prompt, err := s.assigner.SubmitPrompt(req.Content, req.Source, req.Priority, assigner.SubmitOptions{
		TargetSession:     req.TargetSession,
		TargetProvider:    types.Provider(req.TargetProvider),
		FallbackProviders: fallbacks,
		MaxRetries:        req.MaxRetries,
		Timeout:           time.Duration(req.TimeoutSeconds) * time.Second,
		Metadata:          req.Metadata,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeOK(w, prompt)
}

func (s *Server) handleListPrompts(w http.ResponseWriter, r *http.Request) {
	var (
		prompts []*types.Prompt
		err     error
	)
	if status := r.URL.Query().Get("status"); status != "" {
		prompts, err = s.store.ListPromptsByStatus(types.PromptStatus(status))
	} else {
		prompts, err = s.store.ListPrompts()
	}
	if err != nil {
		s.writeErr(w, apierr.Wrap(apierr.Transport, "list prompts", err))
		return
	}
	s.writeOK(w, prompts)
}

func (s *Server) handleGetPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := promptID(r)
	if !ok {
		s.writeBadRequest(w, "prompt id must be an integer")
		return
	}
	prompt, err := s.store.GetPrompt(id)
	if err != nil {
		s.writeErr(w, apierr.Wrap(apierr.NotFound, "prompt", err))
		return
	}
	s.writeOK(w, prompt)
}

func (s *Server) handleRetryPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := promptID(r)
	if !ok {
		s.writeBadRequest(w, "prompt id must be an integer")
		return
	}
	retried, err := s.assigner.RetryPrompt(id)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeOK(w, map[string]bool{"retried": retried})
}

func (s *Server) handleRetryAllFailed(w http.ResponseWriter, r *http.Request) {
	n, err := s.assigner.RetryAllFailed()
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeOK(w, map[string]int{"retried": n})
}

// ReassignRequest is the POST /api/v1/prompts/{id}/reassign body.
type ReassignRequest struct {
	TargetSession string `json:"target_session"`
}

func (s *Server) handleReassignPrompt(w http.ResponseWriter, r *http.Request) {
	id, ok := promptID(r)
	if !ok {
		s.writeBadRequest(w, "prompt id must be an integer")
		return
	}
	var req ReassignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeBadRequest(w, "malformed request body")
		return
	}
	if req.TargetSession == "" {
		s.writeBadRequest(w, "target_session is required")
		return
	}
	if err := s.assigner.ReassignPrompt(id, req.TargetSession); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		s.writeErr(w, apierr.Wrap(apierr.Transport, "list sessions", err))
		return
	}
	s.writeOK(w, sessions)
}

func (s *Server) handleSupervisorStatus(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, s.supervisor.ListStatus())
}

func (s *Server) handleServiceStart(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.StartService(r.PathValue("id")); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleServiceStop(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.StopService(r.Context(), r.PathValue("id")); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) handleServiceRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.RestartService(r.Context(), r.PathValue("id")); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeOK(w, nil)
}

// ClusterStatus is the GET /api/v1/cluster/status payload.
type ClusterStatus struct {
	NodeID      string                      `json:"node_id"`
	Role        types.NodeRole              `json:"role"`
	Nodes       []*types.Node               `json:"nodes"`
	Allocations []*types.ResourceAllocation `json:"allocations"`
	Failovers   []*types.FailoverEntry      `json:"failovers"`
}

func (s *Server) handleClusterStatus(w http.ResponseWriter, r *http.Request) {
	allocs, err := s.store.ListAllocations()
	if err != nil {
		s.writeErr(w, apierr.Wrap(apierr.Transport, "list allocations", err))
		return
	}
	active := allocs[:0]
	for _, a := range allocs {
		if a.Active() {
			active = append(active, a)
		}
	}
	failovers, err := s.store.ListFailovers()
	if err != nil {
		s.writeErr(w, apierr.Wrap(apierr.Transport, "list failovers", err))
		return
	}
	s.writeOK(w, ClusterStatus{
		NodeID:      s.coordinator.NodeID(),
		Role:        s.coordinator.Role(),
		Nodes:       s.coordinator.ListNodes(),
		Allocations: active,
		Failovers:   failovers,
	})
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		s.writeErr(w, apierr.New(apierr.InvalidState, "config reload is not available"))
		return
	}
	if err := s.reload(); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeOK(w, nil)
}
