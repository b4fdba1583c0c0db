// Package namespace implements the coordinator's virtual filesystem: the
// directory/file hierarchy and the mapping of each file block to the storage
// nodes believed to hold it.
//
// # Overview
//
// The namespace is purely in-memory and lives for the lifetime of the
// coordinator process. It answers two questions that the reconciliation
// engine asks on every heartbeat:
//
//   - Which blocks should node N hold? (Tree.BlocksForNode)
//   - Which nodes hold block B? (Tree.NodesForBlock)
//
// The first is served by an inverted index (node id → block ids) that the
// tree maintains incrementally as block entries are added and removed. The
// second is answered by decoding the block id and walking the hierarchy.
//
// # Inodes
//
// An Inode is either a *Directory, which owns its children keyed by name, or
// a *File, which maps block numbers to sets of node ids. The root is a
// directory addressed by the empty path. Missing ancestors are created on
// demand by AddFile and AddDirectory; an ancestor that turns out to be a file
// is reported as ErrTypeConflict.
//
// # Paths
//
// Paths are "/"-separated and empty components are ignored, so "a/b",
// "/a/b" and "//a//b/" all name the same inode. The canonical form, used in
// block ids and the inverted index, is "/a/b". Components "." and ".." are
// rejected with ErrInvalidPath.
//
// # Block Ids
//
// A block id is the canonical file path immediately followed by the decimal
// block number:
//
//	EncodeBlockID("/a/b/c.txt", 0)  → "/a/b/c.txt0"
//	DecodeBlockID("/a/b/c.txt12")   → ("/a/b/c.txt", 12)
//
// Decoding takes the longest trailing run of digits from the final
// component. Files whose names already end in a digit therefore produce
// ambiguous ids ("/f1" block 0 and "/f" block 10 are both "/f10"). This is
// a known limitation of the id format shared with the storage nodes.
//
// # Concurrency
//
// Tree guards the hierarchy and the inverted index with a single RWMutex so
// the index can never be observed out of sync with the tree. Sequences of
// calls are not atomic; callers that diff and then update (the coordinator's
// reconciliation engine) serialize those sequences with their own lock.
//
// # See Also
//
//   - internal/actions: bookkeeping of outstanding node commands
//   - internal/coordinator: heartbeat reconciliation built on this package
package namespace
