// Package namespace implements the coordinator's virtual filesystem.
// See doc.go for complete package documentation.
package namespace

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
)

// Delimiter separates path components.
const Delimiter = "/"

var (
	// ErrInvalidPath is returned for paths that cannot name an inode.
	ErrInvalidPath = errors.New("invalid path")

	// ErrTypeConflict is returned when an existing inode has the wrong kind,
	// e.g. a file where a directory is required.
	ErrTypeConflict = errors.New("inode type conflict")

	// ErrNotFound is returned when no inode exists at a path.
	ErrNotFound = errors.New("inode not found")

	// ErrNotAFile is returned when a block operation targets a directory.
	ErrNotAFile = errors.New("inode is not a file")

	// ErrInvalidBlockID is returned when a block id cannot be decoded.
	ErrInvalidBlockID = errors.New("invalid block id")
)

// BlockLocation describes one block of a file and the nodes holding it.
type BlockLocation struct {
	BlockID  string   `json:"block_id"`
	BlockNum int      `json:"block_num"`
	Nodes    []string `json:"nodes"`
}

// Stats summarizes the size of the namespace.
type Stats struct {
	Directories int `json:"directories"`
	Files       int `json:"files"`
	Locations   int `json:"locations"`
	Nodes       int `json:"nodes"`
}

// Tree is the namespace hierarchy plus an inverted index of node id to the
// block ids the coordinator believes that node holds.
//
// Architecture:
//
//	┌──────────────────────────────────────────┐
//	│                  Tree                    │
//	├──────────────────────────────────────────┤
//	│  root: Directory ("")                    │
//	│    └─ a/ ─ b/ ─ c.txt {0:{n1,n2}, 1:{n2}}│
//	│                                          │
//	│  byNode: n1 → {"/a/b/c.txt0"}            │
//	│          n2 → {"/a/b/c.txt0",            │
//	│                "/a/b/c.txt1"}            │
//	└──────────────────────────────────────────┘
//
// Concurrency Model:
//   - One RWMutex covers the inode hierarchy and the inverted index
//   - Every mutation updates both under the same write lock, so the index is
//     never observable out of sync with the tree
//   - All returned sets and slices are copies
//
// Callers that need several tree operations to be atomic together (the
// reconciliation engine) must hold their own lock around the sequence.
type Tree struct {
	// root is the directory addressed by the empty path.
	root *Directory

	// byNode maps node id → set of canonical block ids.
	byNode map[string]map[string]struct{}

	mu sync.RWMutex
}

// NewTree creates an empty namespace containing only the root directory.
func NewTree() *Tree {
	return &Tree{
		root:   newDirectory(""),
		byNode: make(map[string]map[string]struct{}),
	}
}

// AddDirectory creates a directory at path, materializing any missing
// ancestors. Adding a directory that already exists is a no-op.
//
// Returns:
//   - ErrInvalidPath if the path contains "." or ".." components
//   - ErrTypeConflict if an ancestor, or the path itself, is a file
func (t *Tree) AddDirectory(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.addInode(path, true)
	return err
}

// AddFile creates an empty file at path, materializing any missing ancestor
// directories. Adding a file that already exists is a no-op and keeps its
// block map.
//
// Returns:
//   - ErrInvalidPath if the path is empty or malformed, or the file name
//     ends in a digit
//   - ErrTypeConflict if an ancestor, or the path itself, is a directory
//     where a file is expected (or vice versa)
func (t *Tree) AddFile(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.addInode(path, false)
	return err
}

func (t *Tree) addInode(path string, isDir bool) (Inode, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, err
	}
	if len(parts) == 0 {
		if isDir {
			return t.root, nil
		}
		return nil, fmt.Errorf("%w: %q names the root directory", ErrInvalidPath, path)
	}
	// Block ids append the block number to the path, so a file name ending
	// in a digit would make "/f1" block 0 and "/f" block 10 the same id.
	if leaf := parts[len(parts)-1]; !isDir && endsInDigit(leaf) {
		return nil, fmt.Errorf("%w: file name %q ends in a digit", ErrInvalidPath, leaf)
	}

	parent := t.root
	for i, name := range parts[:len(parts)-1] {
		switch next := parent.child(name).(type) {
		case nil:
			dir := newDirectory(name)
			parent.link(dir)
			parent = dir
		case *Directory:
			parent = next
		case *File:
			return nil, fmt.Errorf("%w: %q is a file", ErrTypeConflict, joinPath(parts[:i+1]))
		}
	}

	leaf := parts[len(parts)-1]
	switch existing := parent.child(leaf).(type) {
	case nil:
	case *Directory:
		if isDir {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %q is a directory", ErrTypeConflict, joinPath(parts))
	case *File:
		if !isDir {
			return existing, nil
		}
		return nil, fmt.Errorf("%w: %q is a file", ErrTypeConflict, joinPath(parts))
	}

	var inode Inode
	if isDir {
		inode = newDirectory(leaf)
	} else {
		inode = newFile(leaf)
	}
	parent.link(inode)
	return inode, nil
}

func endsInDigit(name string) bool {
	c := name[len(name)-1]
	return c >= '0' && c <= '9'
}

// AddBlockEntry records that nodeID holds block blockNum of the file at path
// and updates the inverted index.
//
// Returns:
//   - ErrNotFound if no inode exists at path
//   - ErrNotAFile if the inode is a directory
func (t *Tree) AddBlockEntry(path string, blockNum int, nodeID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, canonical, err := t.lookupFile(path)
	if err != nil {
		return err
	}

	file.addHolder(blockNum, nodeID)
	t.indexAdd(nodeID, EncodeBlockID(canonical, blockNum))
	return nil
}

// AddBlockHolders records every node in nodeIDs as a holder of block
// blockNum of the file at path. Either all entries are added or, on error,
// none are.
//
// Returns the same errors as AddBlockEntry.
func (t *Tree) AddBlockHolders(path string, blockNum int, nodeIDs []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, canonical, err := t.lookupFile(path)
	if err != nil {
		return err
	}
	id := EncodeBlockID(canonical, blockNum)
	for _, nodeID := range nodeIDs {
		file.addHolder(blockNum, nodeID)
		t.indexAdd(nodeID, id)
	}
	return nil
}

// RemoveBlockEntry forgets that nodeID holds blockID. Only an id recorded
// in nodeID's index entry is removed; aliases such as "//f0" never match
// the canonical "/f0". Unknown nodes and ids are ignored.
func (t *Tree) RemoveBlockEntry(nodeID, blockID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byNode[nodeID][blockID]; !ok {
		return
	}
	if f, blockNum := t.fileForBlock(blockID); f != nil {
		f.removeHolder(blockNum, nodeID)
	}
	t.indexRemove(nodeID, blockID)
}

// BlocksForNode returns the set of block ids the coordinator believes
// nodeID holds. Unknown nodes yield an empty set.
func (t *Tree) BlocksForNode(nodeID string) map[string]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]struct{}, len(t.byNode[nodeID]))
	for id := range t.byNode[nodeID] {
		out[id] = struct{}{}
	}
	return out
}

// HoldsBlock reports whether the index lists blockID for nodeID.
func (t *Tree) HoldsBlock(nodeID, blockID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.byNode[nodeID][blockID]
	return ok
}

// NodesForBlock returns the set of node ids holding blockID. An unknown
// file, unknown block, or undecodable id yields an empty set rather than an
// error; absence is an expected transient state during reconciliation.
func (t *Tree) NodesForBlock(blockID string) map[string]struct{} {
	path, blockNum, err := DecodeBlockID(blockID)
	if err != nil {
		return map[string]struct{}{}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	parts, err := splitPath(path)
	if err != nil {
		return map[string]struct{}{}
	}
	f, ok := t.resolve(parts).(*File)
	if !ok {
		return map[string]struct{}{}
	}
	return f.holders(blockNum)
}

// FileExists reports whether any inode, file or directory, exists at path.
func (t *Tree) FileExists(path string) bool {
	parts, err := splitPath(path)
	if err != nil {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.resolve(parts) != nil
}

// IsDirectory reports whether a directory exists at path.
func (t *Tree) IsDirectory(path string) bool {
	parts, err := splitPath(path)
	if err != nil {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.resolve(parts).(*Directory)
	return ok
}

// BlocksForFile lists every tracked block of the file at path, ordered by
// block number. Blocks with no remaining holder are not listed.
//
// Returns:
//   - ErrNotFound if no inode exists at path
//   - ErrNotAFile if the inode is a directory
func (t *Tree) BlocksForFile(path string) ([]BlockLocation, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	file, canonical, err := t.lookupFile(path)
	if err != nil {
		return nil, err
	}
	return fileLocations(file, canonical), nil
}

// RemoveFile unlinks the file at path and drops every block-location entry
// it carried from the inverted index. The removed locations are returned so
// the caller can act on them.
func (t *Tree) RemoveFile(path string) ([]BlockLocation, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, canonical, err := t.lookupFile(path)
	if err != nil {
		return nil, err
	}

	locs := fileLocations(file, canonical)
	for _, loc := range locs {
		for _, nodeID := range loc.Nodes {
			t.indexRemove(nodeID, loc.BlockID)
		}
	}

	parts, _ := splitPath(canonical)
	parent := t.resolve(parts[:len(parts)-1]).(*Directory)
	parent.unlink(file.Name())
	return locs, nil
}

// ReleaseNode drops nodeID's block-location entries for every block that
// some other node also holds. Entries where nodeID is the only holder are
// kept, since they name the last known copy. Both id lists are sorted.
func (t *Tree) ReleaseNode(nodeID string) (released, retained []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range slices.Sorted(maps.Keys(t.byNode[nodeID])) {
		f, blockNum := t.fileForBlock(id)
		if f != nil && len(f.blocks[blockNum]) == 1 {
			retained = append(retained, id)
			continue
		}
		if f != nil {
			f.removeHolder(blockNum, nodeID)
			released = append(released, id)
		}
		t.indexRemove(nodeID, id)
	}
	return released, retained
}

// fileForBlock resolves a block id to its file inode and block number, or
// nil if the id does not name a file. Caller must hold t.mu.
func (t *Tree) fileForBlock(blockID string) (*File, int) {
	path, blockNum, err := DecodeBlockID(blockID)
	if err != nil {
		return nil, 0
	}
	parts, err := splitPath(path)
	if err != nil {
		return nil, 0
	}
	f, ok := t.resolve(parts).(*File)
	if !ok {
		return nil, 0
	}
	return f, blockNum
}

// Stats walks the tree and counts directories (excluding the root), files,
// and block locations.
func (t *Tree) Stats() Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var s Stats
	var walk func(d *Directory)
	walk = func(d *Directory) {
		for _, c := range d.children {
			switch n := c.(type) {
			case *Directory:
				s.Directories++
				walk(n)
			case *File:
				s.Files++
				for _, holders := range n.blocks {
					s.Locations += len(holders)
				}
			}
		}
	}
	walk(t.root)
	s.Nodes = len(t.byNode)
	return s
}

// lookupFile resolves path to a file inode and its canonical path.
func (t *Tree) lookupFile(path string) (*File, string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return nil, "", err
	}
	switch n := t.resolve(parts).(type) {
	case nil:
		return nil, "", fmt.Errorf("%w: %q", ErrNotFound, path)
	case *Directory:
		return nil, "", fmt.Errorf("%w: %q", ErrNotAFile, path)
	case *File:
		return n, joinPath(parts), nil
	}
	return nil, "", fmt.Errorf("%w: %q", ErrNotFound, path)
}

// resolve walks from the root following parts. A missing child or a file in
// the middle of the path yields nil. Caller must hold t.mu.
func (t *Tree) resolve(parts []string) Inode {
	var cur Inode = t.root
	for _, name := range parts {
		dir, ok := cur.(*Directory)
		if !ok {
			return nil
		}
		cur = dir.child(name)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func (t *Tree) indexAdd(nodeID, blockID string) {
	set, ok := t.byNode[nodeID]
	if !ok {
		set = make(map[string]struct{})
		t.byNode[nodeID] = set
	}
	set[blockID] = struct{}{}
}

func (t *Tree) indexRemove(nodeID, blockID string) {
	set, ok := t.byNode[nodeID]
	if !ok {
		return
	}
	delete(set, blockID)
	if len(set) == 0 {
		delete(t.byNode, nodeID)
	}
}

func fileLocations(f *File, canonical string) []BlockLocation {
	nums := f.blockNumbers()
	locs := make([]BlockLocation, 0, len(nums))
	for _, n := range nums {
		nodes := slices.Sorted(maps.Keys(f.blocks[n]))
		locs = append(locs, BlockLocation{
			BlockID:  EncodeBlockID(canonical, n),
			BlockNum: n,
			Nodes:    nodes,
		})
	}
	return locs
}

// CleanPath returns the canonical form of path: a leading delimiter and no
// empty components. The root directory's canonical form is "".
func CleanPath(path string) (string, error) {
	parts, err := splitPath(path)
	if err != nil {
		return "", err
	}
	return joinPath(parts), nil
}

// splitPath breaks a path into its non-empty components.
func splitPath(path string) ([]string, error) {
	var parts []string
	for _, p := range strings.Split(path, Delimiter) {
		switch p {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("%w: %q contains %q", ErrInvalidPath, path, p)
		}
		parts = append(parts, p)
	}
	return parts, nil
}

// joinPath renders components as an absolute path. No components renders
// as the empty root path.
func joinPath(parts []string) string {
	if len(parts) == 0 {
		return ""
	}
	return Delimiter + strings.Join(parts, Delimiter)
}
