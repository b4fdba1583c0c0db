package cluster

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"
)

var (
	// ErrUnknownNode is returned for operations naming an unregistered node.
	ErrUnknownNode = errors.New("unknown node")

	// ErrNoCapacity is returned when no live node can accept a write.
	ErrNoCapacity = errors.New("no live nodes available")

	// ErrInvalidRegistration is returned for malformed register requests.
	ErrInvalidRegistration = errors.New("invalid registration")
)

// Registry is the node directory: it records registered storage nodes, their
// capacity and liveness, and answers placement and address queries for the
// coordinator.
//
// Registry is safe for concurrent use. It never calls out while holding its
// lock, so the coordinator may query it from inside its own critical section.
type Registry struct {
	nodes map[string]*NodeInfo
	now   func() time.Time
	mu    sync.RWMutex
}

// NewRegistry creates an empty node directory.
func NewRegistry() *Registry {
	return &Registry{
		nodes: make(map[string]*NodeInfo),
		now:   time.Now,
	}
}

// SetClock replaces the registry's time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Register adds a storage node and returns its id. A node re-registering
// from an already known IP keeps its previous id; its capacity is refreshed
// and it is marked alive again.
//
// Returns ErrInvalidRegistration if ip is empty, a capacity is negative, or
// the available capacity exceeds the total.
func (r *Registry) Register(ip string, totalCapacity, availableCapacity int64) (string, error) {
	if ip == "" {
		return "", fmt.Errorf("%w: missing node ip", ErrInvalidRegistration)
	}
	if totalCapacity < 0 || availableCapacity < 0 || availableCapacity > totalCapacity {
		return "", fmt.Errorf("%w: capacity %d/%d", ErrInvalidRegistration, availableCapacity, totalCapacity)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	for _, n := range r.nodes {
		if n.IP == ip {
			n.TotalCapacity = totalCapacity
			n.AvailableCapacity = availableCapacity
			n.LastHeartbeat = now
			n.Status = StatusAlive
			return n.ID, nil
		}
	}

	id := uuid.NewString()
	r.nodes[id] = &NodeInfo{
		ID:                id,
		IP:                ip,
		TotalCapacity:     totalCapacity,
		AvailableCapacity: availableCapacity,
		LastHeartbeat:     now,
		Status:            StatusAlive,
	}
	return id, nil
}

// Update records a heartbeat: it refreshes the node's available capacity and
// heartbeat time and marks it alive. It reports whether the node was dead
// before this call.
func (r *Registry) Update(nodeID string, availableCapacity int64) (revived bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}
	revived = n.Status == StatusDead
	n.AvailableCapacity = availableCapacity
	n.LastHeartbeat = r.now()
	n.Status = StatusAlive
	return revived, nil
}

// GetWriteTargets picks up to replicationFactor live nodes, preferring the
// ones with the most available capacity. Ties are broken by node id so the
// choice is deterministic.
//
// Returns ErrNoCapacity when no live node exists.
func (r *Registry) GetWriteTargets(replicationFactor int) ([]Target, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	live := make([]*NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		if n.Status == StatusAlive {
			live = append(live, n)
		}
	}
	if len(live) == 0 || replicationFactor <= 0 {
		return nil, ErrNoCapacity
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].AvailableCapacity != live[j].AvailableCapacity {
			return live[i].AvailableCapacity > live[j].AvailableCapacity
		}
		return live[i].ID < live[j].ID
	})
	if len(live) > replicationFactor {
		live = live[:replicationFactor]
	}

	targets := make([]Target, 0, len(live))
	for _, n := range live {
		targets = append(targets, Target{NodeID: n.ID, IP: n.IP})
	}
	return targets, nil
}

// ResolveIPs maps node ids to their addresses. Unknown ids are skipped.
// The result is sorted.
func (r *Registry) ResolveIPs(nodeIDs map[string]struct{}) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ips := make([]string, 0, len(nodeIDs))
	for id := range nodeIDs {
		if n, ok := r.nodes[id]; ok {
			ips = append(ips, n.IP)
		}
	}
	slices.Sort(ips)
	return ips
}

// Get returns a copy of the node's record.
func (r *Registry) Get(nodeID string) (NodeInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n, ok := r.nodes[nodeID]
	if !ok {
		return NodeInfo{}, false
	}
	return *n, true
}

// Nodes returns a snapshot of every registered node, sorted by id.
func (r *Registry) Nodes() []NodeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]NodeInfo, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, *n)
	}
	slices.SortFunc(out, func(a, b NodeInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Stale returns the ids of live nodes whose last heartbeat is older than
// cutoff, sorted.
func (r *Registry) Stale(cutoff time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string
	for id, n := range r.nodes {
		if n.Status == StatusAlive && n.LastHeartbeat.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// MarkDead transitions a live node to dead if its last heartbeat is still
// older than cutoff. It reports whether a transition happened, so callers
// can act exactly once per failure. A node that heartbeated after Stale
// listed it stays alive.
func (r *Registry) MarkDead(nodeID string, cutoff time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, ok := r.nodes[nodeID]
	if !ok || n.Status == StatusDead || !n.LastHeartbeat.Before(cutoff) {
		return false
	}
	n.Status = StatusDead
	return true
}

// Counts returns the number of registered and live nodes.
func (r *Registry) Counts() (registered, alive int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, n := range r.nodes {
		if n.Status == StatusAlive {
			alive++
		}
	}
	return len(r.nodes), alive
}
