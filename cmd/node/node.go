package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/dreamware/blockfs/internal/cluster"
	"github.com/dreamware/blockfs/internal/logging"
	"github.com/dreamware/blockfs/internal/namespace"
	"github.com/dreamware/blockfs/internal/storage"
)

// Registration retry policy. Variables so tests can shorten them.
var (
	registerAttempts = 10
	registerBackoff  = 400 * time.Millisecond
)

// maxBlockSize bounds a single PUT body.
const maxBlockSize = 64 << 20

// Node is a blockfs storage node: it serves block data over HTTP and
// follows the coordinator's heartbeat instructions.
type Node struct {
	store     storage.Store
	coord     *cluster.Client
	logger    zerolog.Logger
	advertise string

	mu sync.RWMutex
	id string
}

// NewNode creates a node that stores blocks in store and reaches peers at
// advertise.
func NewNode(store storage.Store, coord *cluster.Client, advertise string, logger zerolog.Logger) *Node {
	return &Node{
		store:     store,
		coord:     coord,
		advertise: advertise,
		logger:    logger,
	}
}

// ID returns the coordinator-assigned id, empty before registration.
func (n *Node) ID() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.id
}

// Register announces the node to the coordinator, retrying while the
// coordinator is unreachable.
func (n *Node) Register(ctx context.Context) error {
	stats := n.store.Stats()
	req := cluster.RegisterRequest{
		NodeIP:            n.advertise,
		TotalCapacity:     stats.Capacity,
		AvailableCapacity: stats.Available,
	}

	var lastErr error
	for i := 0; i < registerAttempts; i++ {
		id, err := n.coord.Register(ctx, req)
		if err == nil {
			n.mu.Lock()
			n.id = id
			n.mu.Unlock()
			n.logger.Info().Str("node_id", id).Str("addr", n.advertise).Msg("Registered with coordinator")
			return nil
		}
		lastErr = err
		n.logger.Warn().Err(err).Int("attempt", i+1).Msg("Register retry")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(registerBackoff):
		}
	}
	return fmt.Errorf("register with coordinator: %w", lastErr)
}

// Heartbeat sends one manifest report and applies the instructions that
// come back. A coordinator that no longer knows this node gets a fresh
// registration.
func (n *Node) Heartbeat(ctx context.Context) error {
	id := n.ID()
	if id == "" {
		return n.Register(ctx)
	}

	resp, err := n.coord.Heartbeat(ctx, cluster.HeartbeatRequest{
		NodeID:            id,
		Manifest:          n.store.List(),
		AvailableCapacity: n.store.Stats().Available,
	})
	if err != nil {
		var se *cluster.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			n.logger.Warn().Str("node_id", id).Msg("Coordinator does not know this node, re-registering")
			n.mu.Lock()
			n.id = ""
			n.mu.Unlock()
			return n.Register(ctx)
		}
		return err
	}

	n.apply(ctx, resp)
	return nil
}

func (n *Node) apply(ctx context.Context, resp *cluster.HeartbeatResponse) {
	for _, blockID := range resp.Delete {
		if err := n.store.Delete(blockID); err != nil {
			n.logger.Error().Err(err).Str("block_id", blockID).Msg("Delete failed")
			continue
		}
		n.logger.Debug().Str("block_id", blockID).Msg("Deleted block")
	}

	for _, inst := range resp.Replicate {
		if err := n.replicate(ctx, inst); err != nil {
			// The coordinator reissues the copy after its action_timeout
			// expires the in-progress entry.
			n.logger.Warn().Err(err).Str("block_id", inst.BlockID).Msg("Replication failed")
			continue
		}
		n.logger.Info().Str("block_id", inst.BlockID).Strs("from", inst.Nodes).Msg("Replicated block")
	}
}

func (n *Node) replicate(ctx context.Context, inst cluster.ReplicateInstruction) error {
	data, err := cluster.FetchBlock(ctx, inst.Nodes, inst.BlockID)
	if err != nil {
		return err
	}
	if err := n.store.Put(inst.BlockID, data); err != nil {
		return err
	}
	return n.coord.Finalize(ctx, inst.BlockID, []string{n.ID()})
}

// Run heartbeats every interval until ctx is canceled.
func (n *Node) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := n.Heartbeat(ctx); err != nil && ctx.Err() == nil {
			n.logger.Error().Err(err).Msg("Heartbeat failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (n *Node) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(n.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/info", n.handleInfo)

	r.Get("/blocks", n.handleGetBlock)
	r.Put("/blocks", n.handlePutBlock)
	r.Delete("/blocks", n.handleDeleteBlock)
	return r
}

// handleGetBlock serves GET /blocks?id=. Without an id it lists the
// stored block ids.
func (n *Node) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusOK, map[string][]string{"blocks": n.store.List()})
		return
	}

	data, err := n.store.Get(id)
	if errors.Is(err, storage.ErrBlockNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	if _, err := w.Write(data); err != nil {
		n.logger.Debug().Err(err).Str("block_id", id).Msg("Write response failed")
	}
}

// checkBlockID accepts only canonical block ids. An alias such as "//f0"
// would be reported in the manifest as a block the coordinator never
// tracked.
func checkBlockID(id string) error {
	path, blockNum, err := namespace.DecodeBlockID(id)
	if err != nil {
		return err
	}
	canonical, err := namespace.CleanPath(path)
	if err != nil {
		return err
	}
	if want := namespace.EncodeBlockID(canonical, blockNum); want != id {
		return fmt.Errorf("%w: %q is not canonical, use %q", namespace.ErrInvalidBlockID, id, want)
	}
	return nil
}

// handlePutBlock stores the request body as a block. The client reports
// the copy to the coordinator with a finalize call.
func (n *Node) handlePutBlock(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing block id", http.StatusBadRequest)
		return
	}
	if err := checkBlockID(id); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlockSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	switch err := n.store.Put(id, data); {
	case errors.Is(err, storage.ErrNoSpace):
		http.Error(w, err.Error(), http.StatusInsufficientStorage)
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusCreated)
	}
}

func (n *Node) handleDeleteBlock(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing block id", http.StatusBadRequest)
		return
	}
	if err := n.store.Delete(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type nodeInfo struct {
	NodeID string             `json:"node_id"`
	Addr   string             `json:"addr"`
	Store  storage.StoreStats `json:"store"`
}

func (n *Node) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, nodeInfo{
		NodeID: n.ID(),
		Addr:   n.advertise,
		Store:  n.store.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
