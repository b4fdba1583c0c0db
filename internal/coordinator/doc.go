// Package coordinator implements the reconciliation engine at the heart of
// the blockfs metadata coordinator. It decides, for every storage-node
// heartbeat, which blocks the node must delete and which it must copy from
// peers, and it runs the client operations that create, commit, read and
// remove files.
//
// # Overview
//
// The coordinator holds no block data. Its authoritative state is the
// namespace (see package namespace) plus a buffer of outstanding commands
// (see package actions). Storage nodes report what they actually hold; the
// engine compares that report with what the namespace says they should
// hold and issues instructions to close the gap.
//
// # Architecture
//
//	 clients                          storage nodes
//	    │ write/finalize/read/delete       │ register/heartbeat
//	    ▼                                  ▼
//	┌──────────────────────────────────────────────┐
//	│                   Engine                     │
//	│                                              │
//	│  ┌───────────────┐      ┌─────────────────┐  │
//	│  │ namespace.Tree│      │ actions.Buffer  │  │
//	│  │ desired state │      │ issued commands │  │
//	│  └───────────────┘      └─────────────────┘  │
//	└──────────────────────────────────────────────┘
//	    │ placement, addresses        ▲ EvictNode, Sweep
//	    ▼                             │
//	┌──────────────────┐     ┌─────────────────┐
//	│ cluster.Registry │◄────│  HealthMonitor  │
//	└──────────────────┘     └─────────────────┘
//
// # Heartbeat Reconciliation
//
// For node N reporting manifest M:
//
//	desired = blocks the namespace assigns to N
//	extra   = M − desired    → delete, unless already being deleted
//	missing = desired − M    → replicate, unless N has any replication
//	                           in progress
//
// Issued deletes take effect in the namespace immediately, so a block
// being deleted from N no longer counts as a replica on N. When N has no
// replication in progress it may also receive one block from the global
// replication queue; a candidate N already holds is put back at the tail.
// Deletes stop being tracked once N stops reporting the block.
//
// # Failure Handling
//
// The HealthMonitor marks nodes dead after a configurable silence and calls
// Engine.EvictNode. Eviction drops the node's outstanding actions and its
// entries for blocks that other nodes also hold, queueing those blocks for
// re-replication. A block the dead node alone holds keeps its location
// until the node comes back or the file is deleted. When an
// action timeout is configured, Engine.Sweep expires commands that were
// never confirmed so the next heartbeat can reissue them.
//
// # Concurrency
//
// All engine operations serialize on a single mutex that covers the tree
// and the action buffer together. Nothing blocks while it is held; address
// resolution and logging happen afterwards.
//
// # Metrics
//
// Metrics exposes heartbeat counts and latency, instruction counts, action
// bucket sizes, the replication queue length and node liveness through
// Prometheus.
package coordinator
