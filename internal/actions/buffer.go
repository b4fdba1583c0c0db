// Package actions tracks the replication and deletion commands the
// coordinator has issued to storage nodes but not yet seen confirmed.
//
// The Buffer does no locking of its own. Its owner must serialize access
// with the same critical section that guards the namespace tree, because a
// heartbeat's diff-then-update sequence has to be atomic with respect to
// other heartbeats and to write/finalize/delete calls.
package actions

import (
	"maps"
	"slices"
	"time"
)

// Bucket selects one of the four per-node action maps.
type Bucket int

const (
	// QueuedDeletions holds deletions decided but not yet sent to the node.
	QueuedDeletions Bucket = iota
	// DeletesInProgress holds deletions sent and awaiting confirmation.
	DeletesInProgress
	// QueuedReplications holds replications decided but not yet sent.
	QueuedReplications
	// ReplicationsInProgress holds replications sent and awaiting finalize.
	ReplicationsInProgress

	numBuckets
)

var bucketNames = [numBuckets]string{
	QueuedDeletions:        "queued_deletions",
	DeletesInProgress:      "deletes_in_progress",
	QueuedReplications:     "queued_replications",
	ReplicationsInProgress: "replications_in_progress",
}

// String returns the bucket's snake_case name, used as a metric label.
func (b Bucket) String() string {
	if b < 0 || b >= numBuckets {
		return "unknown"
	}
	return bucketNames[b]
}

// Buckets lists every bucket in declaration order.
func Buckets() []Bucket {
	return []Bucket{QueuedDeletions, DeletesInProgress, QueuedReplications, ReplicationsInProgress}
}

// Entry is one outstanding command for a (node, block) pair.
type Entry struct {
	NodeID  string    `json:"node_id"`
	BlockID string    `json:"block_id"`
	Issued  time.Time `json:"issued"`
}

// Buffer holds the four action buckets and the FIFO of blocks waiting for a
// replication target.
//
// Each bucket maps node id → block id → Entry. Adding an entry to one
// bucket never touches another; callers move an entry from queued to
// in-progress by removing it from the first and adding it to the second.
type Buffer struct {
	buckets [numBuckets]map[string]map[string]Entry
	queue   []string
	now     func() time.Time
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	b := &Buffer{now: time.Now}
	for i := range b.buckets {
		b.buckets[i] = make(map[string]map[string]Entry)
	}
	return b
}

// SetClock replaces the time source used to stamp entries.
func (b *Buffer) SetClock(now func() time.Time) {
	b.now = now
}

// Add upserts an entry for (nodeID, blockID) in bucket, stamped with the
// current time. An existing entry is overwritten with a fresh timestamp.
func (b *Buffer) Add(nodeID, blockID string, bucket Bucket) {
	m := b.buckets[bucket]
	blocks, ok := m[nodeID]
	if !ok {
		blocks = make(map[string]Entry)
		m[nodeID] = blocks
	}
	blocks[blockID] = Entry{NodeID: nodeID, BlockID: blockID, Issued: b.now()}
}

// RemoveIfExists deletes the entry for (nodeID, blockID) from bucket. It
// reports whether an entry was removed.
func (b *Buffer) RemoveIfExists(nodeID, blockID string, bucket Bucket) bool {
	m := b.buckets[bucket]
	blocks, ok := m[nodeID]
	if !ok {
		return false
	}
	if _, ok := blocks[blockID]; !ok {
		return false
	}
	delete(blocks, blockID)
	if len(blocks) == 0 {
		delete(m, nodeID)
	}
	return true
}

// Exists reports whether bucket has an entry for (nodeID, blockID).
func (b *Buffer) Exists(nodeID, blockID string, bucket Bucket) bool {
	_, ok := b.Get(nodeID, blockID, bucket)
	return ok
}

// Get returns the entry for (nodeID, blockID) in bucket.
func (b *Buffer) Get(nodeID, blockID string, bucket Bucket) (Entry, bool) {
	e, ok := b.buckets[bucket][nodeID][blockID]
	return e, ok
}

// HasAny reports whether nodeID has at least one entry in bucket.
func (b *Buffer) HasAny(nodeID string, bucket Bucket) bool {
	return len(b.buckets[bucket][nodeID]) > 0
}

// Blocks returns the block ids nodeID has in bucket, sorted.
func (b *Buffer) Blocks(nodeID string, bucket Bucket) []string {
	ids := slices.Sorted(maps.Keys(b.buckets[bucket][nodeID]))
	return ids
}

// Entries returns every entry in bucket ordered by node then block.
func (b *Buffer) Entries(bucket Bucket) []Entry {
	var out []Entry
	nodes := slices.Sorted(maps.Keys(b.buckets[bucket]))
	for _, n := range nodes {
		for _, id := range b.Blocks(n, bucket) {
			out = append(out, b.buckets[bucket][n][id])
		}
	}
	return out
}

// Len returns the number of entries in bucket across all nodes.
func (b *Buffer) Len(bucket Bucket) int {
	total := 0
	for _, blocks := range b.buckets[bucket] {
		total += len(blocks)
	}
	return total
}

// EnqueueReplication appends blockID to the replication FIFO.
func (b *Buffer) EnqueueReplication(blockID string) {
	b.queue = append(b.queue, blockID)
}

// NextReplicationCandidate pops the oldest block id from the replication
// FIFO. ok is false when the FIFO is empty.
func (b *Buffer) NextReplicationCandidate() (blockID string, ok bool) {
	if len(b.queue) == 0 {
		return "", false
	}
	blockID = b.queue[0]
	b.queue[0] = ""
	b.queue = b.queue[1:]
	return blockID, true
}

// QueueLen returns the number of blocks waiting in the replication FIFO.
func (b *Buffer) QueueLen() int {
	return len(b.queue)
}

// DropNode forgets every entry belonging to nodeID in all buckets.
func (b *Buffer) DropNode(nodeID string) {
	for i := range b.buckets {
		delete(b.buckets[i], nodeID)
	}
}

// Expire removes and returns the entries in bucket issued before cutoff.
func (b *Buffer) Expire(bucket Bucket, cutoff time.Time) []Entry {
	var expired []Entry
	for _, e := range b.Entries(bucket) {
		if e.Issued.Before(cutoff) {
			b.RemoveIfExists(e.NodeID, e.BlockID, bucket)
			expired = append(expired, e)
		}
	}
	return expired
}
