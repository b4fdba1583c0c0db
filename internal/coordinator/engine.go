package coordinator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"

	"github.com/dreamware/blockfs/internal/actions"
	"github.com/dreamware/blockfs/internal/cluster"
	"github.com/dreamware/blockfs/internal/namespace"
)

var (
	// ErrInconsistentState is returned when finalize names a block whose
	// file does not exist or is a directory. Under a correct client this
	// cannot happen, since Write creates the file before reserving targets.
	ErrInconsistentState = errors.New("inconsistent state")

	// ErrInvalidRequest is returned for malformed operation arguments.
	ErrInvalidRequest = errors.New("invalid request")
)

// NodeDirectory is the engine's view of the storage-node registry.
// *cluster.Registry implements it.
type NodeDirectory interface {
	Update(nodeID string, availableCapacity int64) (revived bool, err error)
	GetWriteTargets(replicationFactor int) ([]cluster.Target, error)
	ResolveIPs(nodeIDs map[string]struct{}) []string
}

// Options configures an Engine.
type Options struct {
	// Metrics receives engine instrumentation. Nil creates unregistered metrics.
	Metrics *Metrics

	// Logger for reconciliation events. The zero value discards output.
	Logger zerolog.Logger

	// ReplicationFactor is how many nodes each written block is placed on.
	ReplicationFactor int

	// ActionTimeout expires outstanding actions older than this in Sweep.
	// Zero disables expiry.
	ActionTimeout time.Duration
}

// Engine reconciles storage-node heartbeats against the namespace and runs
// the client-facing write, finalize, read and delete operations.
//
// Architecture:
//
//	heartbeat(node, capacity, manifest)
//	        │
//	        ▼
//	┌────────────────────────────────────────────┐
//	│ Engine.mu (one critical section)           │
//	│   desired ← Tree.BlocksForNode(node)       │
//	│   extra   ← manifest − desired  → deletes  │
//	│   missing ← desired − manifest  → replicas │
//	│   Buffer consulted/updated per block       │
//	│   Tree updated for issued deletes          │
//	└────────────────────────────────────────────┘
//	        │
//	        ▼
//	NodeDirectory.ResolveIPs (outside the lock)
//
// Concurrency Model:
//   - mu serializes every operation that reads then mutates the tree and
//     the action buffer, so two heartbeats for the same node, or a heartbeat
//     racing a finalize or delete, cannot double-issue a command
//   - No I/O happens while mu is held; logging and IP resolution run after
//     the critical section
//   - Lock order is Engine.mu → Tree's internal lock → Registry's lock
type Engine struct {
	tree    *namespace.Tree
	buffer  *actions.Buffer
	nodes   NodeDirectory
	metrics *Metrics
	logger  zerolog.Logger
	now     func() time.Time

	replicationFactor int
	actionTimeout     time.Duration

	mu sync.Mutex
}

// NewEngine creates an engine over tree and the node directory.
//
// Parameters:
//   - tree: Namespace to reconcile against (usually namespace.NewTree())
//   - nodes: Node directory used for placement and address lookups
//   - opts: Replication factor, action timeout, metrics and logger
//
// Example:
//
//	registry := cluster.NewRegistry()
//	engine := NewEngine(namespace.NewTree(), registry, Options{ReplicationFactor: 3})
func NewEngine(tree *namespace.Tree, nodes NodeDirectory, opts Options) *Engine {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.ReplicationFactor <= 0 {
		opts.ReplicationFactor = 1
	}
	return &Engine{
		tree:              tree,
		buffer:            actions.NewBuffer(),
		nodes:             nodes,
		metrics:           opts.Metrics,
		logger:            opts.Logger,
		now:               time.Now,
		replicationFactor: opts.ReplicationFactor,
		actionTimeout:     opts.ActionTimeout,
	}
}

// Tree returns the namespace the engine reconciles against.
func (e *Engine) Tree() *namespace.Tree {
	return e.tree
}

// Heartbeat reconciles one storage node's manifest with the blocks the
// namespace says it should hold, and returns the node's instructions.
//
// Blocks the node reports but should not hold are deleted (and immediately
// stop counting as replicas). Blocks it should hold but does not report are
// replicated back to it, unless the node already has replications in flight.
// One block from the global replication queue may also be assigned. A
// delete that was issued earlier is cleared once the node stops reporting
// the block.
//
// Mismatches are not errors. The only error is ErrUnknownNode from the node
// directory when nodeID was never registered.
func (e *Engine) Heartbeat(nodeID string, availableCapacity int64, manifest []string) (*cluster.HeartbeatResponse, error) {
	start := time.Now()
	defer func() { e.metrics.HeartbeatDuration.Observe(time.Since(start).Seconds()) }()

	revived, err := e.nodes.Update(nodeID, availableCapacity)
	if err != nil {
		return nil, err
	}
	if revived {
		e.logger.Info().Str("node", nodeID).Msg("Node heartbeating again after eviction")
	}

	e.mu.Lock()
	deletes, replicate, holders := e.reconcile(nodeID, manifest)
	e.metrics.observeBuffer(e.buffer)
	e.mu.Unlock()

	e.metrics.Heartbeats.Inc()
	e.metrics.DeletesIssued.Add(float64(len(deletes)))
	e.metrics.ReplicationsIssued.Add(float64(len(replicate)))

	resp := &cluster.HeartbeatResponse{
		Delete:    deletes,
		Replicate: make([]cluster.ReplicateInstruction, 0, len(replicate)),
	}
	for _, id := range replicate {
		resp.Replicate = append(resp.Replicate, cluster.ReplicateInstruction{
			BlockID: id,
			Nodes:   e.nodes.ResolveIPs(holders[id]),
		})
	}

	e.logger.Debug().
		Str("node", nodeID).
		Int("manifest", len(manifest)).
		Strs("delete", deletes).
		Strs("replicate", replicate).
		Msg("Heartbeat reconciled")

	return resp, nil
}

// reconcile performs the diff-and-update part of a heartbeat. Caller must
// hold e.mu. It returns the sorted delete and replicate lists and, for each
// replicated block, the holders the node can copy from.
func (e *Engine) reconcile(nodeID string, manifest []string) ([]string, []string, map[string]map[string]struct{}) {
	desired := e.tree.BlocksForNode(nodeID)
	reported := make(map[string]struct{}, len(manifest))
	for _, id := range manifest {
		reported[id] = struct{}{}
	}

	extra := difference(reported, desired)
	missing := difference(desired, reported)

	deletes := make([]string, 0)
	for _, id := range extra {
		if e.buffer.Exists(nodeID, id, actions.DeletesInProgress) {
			if entry, ok := e.buffer.Get(nodeID, id, actions.DeletesInProgress); ok {
				e.logger.Debug().Str("node", nodeID).Str("block", id).
					Time("issued", entry.Issued).Msg("Delete already in progress")
			}
			continue
		}
		e.buffer.RemoveIfExists(nodeID, id, actions.QueuedDeletions)
		e.buffer.Add(nodeID, id, actions.DeletesInProgress)
		e.tree.RemoveBlockEntry(nodeID, id)
		deletes = append(deletes, id)
	}

	replicate := make([]string, 0)
	if !e.buffer.HasAny(nodeID, actions.ReplicationsInProgress) {
		for _, id := range missing {
			if e.buffer.Exists(nodeID, id, actions.ReplicationsInProgress) {
				continue
			}
			e.buffer.RemoveIfExists(nodeID, id, actions.QueuedReplications)
			e.buffer.Add(nodeID, id, actions.ReplicationsInProgress)
			replicate = append(replicate, id)
		}
		if id, ok := e.assignQueued(nodeID, reported); ok {
			replicate = append(replicate, id)
		}
	}
	slices.Sort(replicate)

	holders := make(map[string]map[string]struct{}, len(replicate))
	for _, id := range replicate {
		h := e.tree.NodesForBlock(id)
		delete(h, nodeID)
		holders[id] = h
	}

	stillExtra := make(map[string]struct{}, len(extra))
	for _, id := range extra {
		stillExtra[id] = struct{}{}
	}
	for _, id := range e.buffer.Blocks(nodeID, actions.DeletesInProgress) {
		if _, ok := stillExtra[id]; !ok {
			e.buffer.RemoveIfExists(nodeID, id, actions.DeletesInProgress)
		}
	}

	return deletes, replicate, holders
}

// assignQueued pops one block from the replication queue and assigns it to
// nodeID. A block the node already holds goes back on the queue; a block
// with no remaining holder is dropped since there is nothing to copy from.
// Caller must hold e.mu.
func (e *Engine) assignQueued(nodeID string, reported map[string]struct{}) (string, bool) {
	id, ok := e.buffer.NextReplicationCandidate()
	if !ok {
		return "", false
	}

	_, onNode := reported[id]
	if onNode || e.tree.HoldsBlock(nodeID, id) {
		e.buffer.EnqueueReplication(id)
		return "", false
	}
	if len(e.tree.NodesForBlock(id)) == 0 {
		e.logger.Warn().Str("block", id).Msg("Dropping queued replication with no remaining holder")
		return "", false
	}

	e.buffer.Add(nodeID, id, actions.ReplicationsInProgress)
	return id, true
}

// Write creates the file at path (materializing missing directories),
// chooses up to ReplicationFactor target nodes and records a replication in
// progress for every (target, block) pair. The client then pushes the block
// data to the targets and calls Finalize.
//
// Returns:
//   - ErrInvalidRequest if numBlocks is not positive
//   - namespace.ErrTypeConflict / ErrInvalidPath for bad paths, including a
//     file name ending in a digit
//   - cluster.ErrNoCapacity if no live node exists
func (e *Engine) Write(path string, numBlocks int) ([]cluster.Target, error) {
	if numBlocks <= 0 {
		return nil, fmt.Errorf("%w: block count must be positive, got %d", ErrInvalidRequest, numBlocks)
	}
	canonical, err := namespace.CleanPath(path)
	if err != nil {
		return nil, err
	}

	targets, err := e.nodes.GetWriteTargets(e.replicationFactor)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if err := e.tree.AddFile(canonical); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	for _, t := range targets {
		for n := 0; n < numBlocks; n++ {
			e.buffer.Add(t.NodeID, namespace.EncodeBlockID(canonical, n), actions.ReplicationsInProgress)
		}
	}
	e.metrics.observeBuffer(e.buffer)
	e.mu.Unlock()

	e.logger.Info().
		Str("path", canonical).
		Int("blocks", numBlocks).
		Int("targets", len(targets)).
		Msg("Write reserved")

	return targets, nil
}

// Finalize commits blockID as held by each of nodeIDs, clearing their
// matching in-progress replication. This is the only path that introduces
// a block location the namespace did not already track.
//
// Returns namespace.ErrInvalidBlockID for an undecodable id,
// ErrInvalidRequest for an empty node list and ErrInconsistentState when the
// block's file is missing or a directory. A failed Finalize leaves the
// action buffer untouched.
func (e *Engine) Finalize(blockID string, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		return fmt.Errorf("%w: finalize %s names no nodes", ErrInvalidRequest, blockID)
	}
	path, blockNum, err := namespace.DecodeBlockID(blockID)
	if err != nil {
		return err
	}
	canonical, err := namespace.CleanPath(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInconsistentState, err)
	}
	id := namespace.EncodeBlockID(canonical, blockNum)

	e.mu.Lock()
	if err := e.tree.AddBlockHolders(canonical, blockNum, nodeIDs); err != nil {
		e.mu.Unlock()
		e.logger.Error().Err(err).Str("block", id).Strs("nodes", nodeIDs).
			Msg("Finalize for a block without a file")
		return fmt.Errorf("%w: finalize %s: %v", ErrInconsistentState, id, err)
	}
	for _, nodeID := range nodeIDs {
		e.buffer.RemoveIfExists(nodeID, id, actions.ReplicationsInProgress)
	}
	e.metrics.observeBuffer(e.buffer)
	e.mu.Unlock()

	e.metrics.Finalizes.Add(float64(len(nodeIDs)))
	e.logger.Debug().Str("block", id).Strs("nodes", nodeIDs).Msg("Block finalized")
	return nil
}

// Read returns every tracked block of the file at path with the addresses of
// its holders, ordered by block number.
func (e *Engine) Read(path string) ([]cluster.BlockReplicas, error) {
	e.mu.Lock()
	locs, err := e.tree.BlocksForFile(path)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	out := make([]cluster.BlockReplicas, 0, len(locs))
	for _, loc := range locs {
		ids := make(map[string]struct{}, len(loc.Nodes))
		for _, n := range loc.Nodes {
			ids[n] = struct{}{}
		}
		out = append(out, cluster.BlockReplicas{BlockID: loc.BlockID, Nodes: e.nodes.ResolveIPs(ids)})
	}
	return out, nil
}

// Delete removes the file at path: all of its block-location entries are
// dropped and the inode is unlinked, so the path can be written again.
// Pending replications for the file's blocks are forgotten. Storage nodes
// still holding the data see those blocks as extra on their next heartbeat
// and are told to delete them.
func (e *Engine) Delete(path string) error {
	canonical, err := namespace.CleanPath(path)
	if err != nil {
		return err
	}

	e.mu.Lock()
	removed, err := e.tree.RemoveFile(canonical)
	if err == nil {
		e.dropFileActions(canonical)
		e.metrics.observeBuffer(e.buffer)
	}
	e.mu.Unlock()
	if err != nil {
		return err
	}

	e.logger.Info().Str("path", canonical).Int("blocks", len(removed)).Msg("File deleted")
	return nil
}

// dropFileActions clears replication bookkeeping for blocks of the file at
// canonical. Caller must hold e.mu.
func (e *Engine) dropFileActions(canonical string) {
	for _, bucket := range []actions.Bucket{actions.QueuedReplications, actions.ReplicationsInProgress} {
		for _, entry := range e.buffer.Entries(bucket) {
			p, _, err := namespace.DecodeBlockID(entry.BlockID)
			if err == nil && p == canonical {
				e.buffer.RemoveIfExists(entry.NodeID, entry.BlockID, bucket)
			}
		}
	}
}

// AddDirectory creates a directory in the namespace.
func (e *Engine) AddDirectory(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.AddDirectory(path)
}

// EvictNode drops a dead node's pending actions and releases its replica of
// every block some other node also holds. Released blocks are queued for
// replication so surviving nodes can restore the replica count. Blocks the
// node alone holds keep their location, so Read still lists the last copy
// and a revived node is not told to delete it.
func (e *Engine) EvictNode(nodeID string) {
	e.mu.Lock()
	released, retained := e.tree.ReleaseNode(nodeID)
	e.buffer.DropNode(nodeID)
	for _, id := range released {
		e.buffer.EnqueueReplication(id)
	}
	e.metrics.observeBuffer(e.buffer)
	e.mu.Unlock()

	e.metrics.Evictions.Inc()
	ev := e.logger.Warn().Str("node", nodeID).Int("requeued", len(released))
	if len(retained) > 0 {
		ev = ev.Int("sole_copies", len(retained))
	}
	ev.Msg("Node evicted")
}

// Sweep expires outstanding actions issued more than ActionTimeout before
// now. An expired replication whose block still has holders elsewhere is
// put back on the replication queue; anything else is re-derived by the
// next heartbeat. Sweep does nothing when ActionTimeout is zero.
func (e *Engine) Sweep(now time.Time) {
	if e.actionTimeout <= 0 {
		return
	}
	cutoff := now.Add(-e.actionTimeout)

	expired := make(map[actions.Bucket]int)

	e.mu.Lock()
	for _, bucket := range actions.Buckets() {
		for _, entry := range e.buffer.Expire(bucket, cutoff) {
			expired[bucket]++
			if bucket != actions.ReplicationsInProgress {
				continue
			}
			holders := e.tree.NodesForBlock(entry.BlockID)
			if _, onNode := holders[entry.NodeID]; len(holders) > 0 && !onNode {
				e.buffer.EnqueueReplication(entry.BlockID)
			}
		}
	}
	e.metrics.observeBuffer(e.buffer)
	e.mu.Unlock()

	for bucket, n := range expired {
		e.metrics.ExpiredActions.WithLabelValues(bucket.String()).Add(float64(n))
		e.logger.Info().Str("bucket", bucket.String()).Int("expired", n).Msg("Expired stale actions")
	}
}

// ScheduleReplication puts blockID on the global replication queue.
func (e *Engine) ScheduleReplication(blockID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer.EnqueueReplication(blockID)
	e.metrics.observeBuffer(e.buffer)
}

// Stats is a point-in-time summary of the coordinator's state.
type Stats struct {
	Actions          map[string]int  `json:"actions"`
	Namespace        namespace.Stats `json:"namespace"`
	ReplicationQueue int             `json:"replication_queue"`
}

// Stats returns a snapshot of namespace and action-buffer sizes.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		Namespace:        e.tree.Stats(),
		Actions:          make(map[string]int),
		ReplicationQueue: e.buffer.QueueLen(),
	}
	for _, bucket := range actions.Buckets() {
		s.Actions[bucket.String()] = e.buffer.Len(bucket)
	}
	return s
}

// Pending returns a copy of the entries in one action bucket.
func (e *Engine) Pending(bucket actions.Bucket) []actions.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffer.Entries(bucket)
}

// difference returns the sorted members of a that are not in b.
func difference(a, b map[string]struct{}) []string {
	out := make([]string, 0)
	for id := range a {
		if _, ok := b[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
