// Package storage provides block storage for blockfs storage nodes.
//
// A node keeps each block it holds under its block id (the file path
// followed by the block number, e.g. "/logs/app.log3"). The set of stored
// ids is the manifest the node reports in every heartbeat, and the store's
// free space is the available capacity the coordinator uses for placement.
//
// # Implementations
//
// MemoryStore keeps blocks in a map guarded by a RWMutex and enforces a
// byte capacity:
//
//	store := storage.NewMemoryStore(1 << 30)
//	if err := store.Put("/a/b/c.txt0", data); errors.Is(err, storage.ErrNoSpace) {
//	    // reject the write
//	}
//	manifest := store.List()
//
// The store does not interpret block ids and never talks to the
// coordinator; the node's heartbeat loop owns that.
package storage
