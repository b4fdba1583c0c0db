// Package cluster holds what the blockfs coordinator and its storage nodes
// share: the node directory, the JSON wire types of the coordinator API, and
// a small HTTP client for that API.
//
// # Topology
//
//	                ┌──────────────┐
//	  clients ─────►│ Coordinator  │◄──── heartbeats
//	                │  - Registry  │
//	                └──────┬───────┘
//	                       │ instructions
//	      ┌────────────────┼────────────────┐
//	┌─────▼─────┐    ┌─────▼─────┐    ┌─────▼─────┐
//	│  Node 1   │◄──►│  Node 2   │◄──►│  Node 3   │
//	│  blocks   │    │  blocks   │    │  blocks   │
//	└───────────┘    └───────────┘    └───────────┘
//
// Storage nodes register once, then heartbeat with their block manifest.
// The coordinator answers each heartbeat with delete and replicate
// instructions. Replication copies data directly between nodes; the
// coordinator only names the peers.
//
// # Registry
//
// Registry assigns node ids, tracks capacity and liveness, chooses write
// targets by available capacity, and maps node ids to addresses. A node
// re-registering from the same address keeps its id.
//
// # Wire Protocol
//
// All coordinator endpoints speak JSON. Failures carry an ErrorResponse
// body, which the helpers in this package surface as *StatusError:
//
//	var se *cluster.StatusError
//	if errors.As(err, &se) && se.Code == http.StatusNotFound {
//	    // file does not exist
//	}
//
// Block bytes move over plain HTTP on the storage nodes' /blocks endpoint.
// GetBlock, PutBlock and FetchBlock speak that side of the protocol.
package cluster
