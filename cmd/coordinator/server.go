package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/dreamware/blockfs/internal/cluster"
	"github.com/dreamware/blockfs/internal/config"
	"github.com/dreamware/blockfs/internal/coordinator"
	"github.com/dreamware/blockfs/internal/logging"
	"github.com/dreamware/blockfs/internal/namespace"
)

// errBadRequest marks malformed HTTP input.
var errBadRequest = errors.New("bad request")

type server struct {
	cfg      *config.CoordinatorConfig
	registry *cluster.Registry
	engine   *coordinator.Engine
	monitor  *coordinator.HealthMonitor
	metrics  *prometheus.Registry
	logger   zerolog.Logger
}

// newServer wires the registry, engine and health monitor from cfg.
func newServer(cfg *config.CoordinatorConfig, logger zerolog.Logger) *server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := coordinator.NewMetrics(reg)

	registry := cluster.NewRegistry()
	engine := coordinator.NewEngine(namespace.NewTree(), registry, coordinator.Options{
		ReplicationFactor: cfg.ReplicationFactor,
		ActionTimeout:     cfg.ActionTimeout,
		Metrics:           metrics,
		Logger:            logger.With().Str("component", "engine").Logger(),
	})

	monitor := coordinator.NewHealthMonitor(registry, cfg.HeartbeatInterval, cfg.DeadAfter(), metrics,
		logger.With().Str("component", "health").Logger())
	monitor.SetOnDead(engine.EvictNode)
	monitor.SetOnTick(engine.Sweep)

	return &server{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		monitor:  monitor,
		metrics:  reg,
		logger:   logger,
	}
}

// router builds the coordinator's HTTP API.
//
// Routes:
//   - POST   /register     storage node registration
//   - POST   /heartbeat    manifest reconciliation
//   - POST   /write        create a file and choose targets
//   - POST   /finalize     commit a block's locations
//   - GET    /read?path=   block manifest of a file
//   - DELETE /files?path=  remove a file
//   - POST   /directories  create a directory
//   - GET    /nodes        cluster query
//   - GET    /stats        namespace and action-buffer sizes
//   - GET    /health       liveness probe
//   - GET    /metrics      Prometheus scrape endpoint (when enabled)
func (s *server) router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Post("/register", s.handleRegister)
	r.Post("/heartbeat", s.handleHeartbeat)
	r.Post("/write", s.handleWrite)
	r.Post("/finalize", s.handleFinalize)
	r.Get("/read", s.handleRead)
	r.Delete("/files", s.handleDelete)
	r.Post("/directories", s.handleAddDirectory)
	r.Get("/nodes", s.handleListNodes)
	r.Get("/stats", s.handleStats)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if s.cfg.Metrics.Enabled {
		r.Handle(s.cfg.Metrics.Path, promhttp.HandlerFor(s.metrics, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := s.registry.Register(req.NodeIP, req.TotalCapacity, req.AvailableCapacity)
	if err != nil {
		writeError(w, err)
		return
	}
	s.logger.Info().
		Str("node", id).
		Str("ip", req.NodeIP).
		Int64("capacity", req.TotalCapacity).
		Msg("Node registered")
	writeJSON(w, http.StatusOK, cluster.RegisterResponse{NodeID: id})
}

func (s *server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req cluster.HeartbeatRequest
	if !decode(w, r, &req) {
		return
	}
	if req.NodeID == "" {
		writeError(w, fmt.Errorf("%w: missing node_id", errBadRequest))
		return
	}
	resp, err := s.engine.Heartbeat(req.NodeID, req.AvailableCapacity, req.Manifest)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req cluster.WriteRequest
	if !decode(w, r, &req) {
		return
	}
	if req.FilePath == "" {
		writeError(w, fmt.Errorf("%w: missing file_path", errBadRequest))
		return
	}
	targets, err := s.engine.Write(req.FilePath, req.NumBlocks)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster.WriteResponse{Nodes: targets})
}

func (s *server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	var req cluster.FinalizeRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.Finalize(req.BlockID, req.Nodes); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRead(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, fmt.Errorf("%w: missing path", errBadRequest))
		return
	}
	blocks, err := s.engine.Read(path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster.ReadResponse{Blocks: blocks})
}

func (s *server) handleDelete(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, fmt.Errorf("%w: missing path", errBadRequest))
		return
	}
	if err := s.engine.Delete(path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleAddDirectory(w http.ResponseWriter, r *http.Request) {
	var req cluster.DirectoryRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.engine.AddDirectory(req.Path); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cluster.ClusterResponse{Nodes: s.registry.Nodes()})
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// decode reads a JSON body into v, answering 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, fmt.Errorf("%w: bad json: %v", errBadRequest, err))
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, namespace.ErrInvalidPath),
		errors.Is(err, namespace.ErrInvalidBlockID),
		errors.Is(err, coordinator.ErrInvalidRequest),
		errors.Is(err, cluster.ErrInvalidRegistration):
		return http.StatusBadRequest
	case errors.Is(err, namespace.ErrNotFound),
		errors.Is(err, cluster.ErrUnknownNode):
		return http.StatusNotFound
	case errors.Is(err, namespace.ErrTypeConflict),
		errors.Is(err, namespace.ErrNotAFile):
		return http.StatusConflict
	case errors.Is(err, coordinator.ErrInconsistentState):
		return http.StatusUnprocessableEntity
	case errors.Is(err, cluster.ErrNoCapacity):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), cluster.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
