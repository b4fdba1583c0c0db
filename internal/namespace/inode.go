package namespace

import (
	"maps"
	"slices"
)

// Inode is a single entry in the namespace hierarchy. It is either a
// *Directory or a *File; no other implementations exist.
//
// Directories own their children. Files hold only foreign references
// (node ids) to the storage nodes believed to hold each block, so the
// tree never needs back-references and can never form a cycle.
type Inode interface {
	// Name returns the final path component of the inode.
	Name() string

	isInode()
}

// Directory is an inode whose children are keyed by unique name.
type Directory struct {
	name     string
	children map[string]Inode
}

// File is an inode whose block map is keyed by block number. Each block
// maps to the set of node ids holding a replica.
type File struct {
	name   string
	blocks map[int]map[string]struct{}
}

func newDirectory(name string) *Directory {
	return &Directory{name: name, children: make(map[string]Inode)}
}

func newFile(name string) *File {
	return &File{name: name, blocks: make(map[int]map[string]struct{})}
}

// Name returns the directory name. The root directory has an empty name.
func (d *Directory) Name() string { return d.name }

// Name returns the file name.
func (f *File) Name() string { return f.name }

func (*Directory) isInode() {}
func (*File) isInode()      {}

// child returns the named child or nil.
func (d *Directory) child(name string) Inode {
	return d.children[name]
}

func (d *Directory) link(n Inode) {
	d.children[n.Name()] = n
}

func (d *Directory) unlink(name string) {
	delete(d.children, name)
}

// addHolder records nodeID as holding block blockNum. It reports whether
// the holder set changed.
func (f *File) addHolder(blockNum int, nodeID string) bool {
	holders, ok := f.blocks[blockNum]
	if !ok {
		holders = make(map[string]struct{})
		f.blocks[blockNum] = holders
	}
	if _, exists := holders[nodeID]; exists {
		return false
	}
	holders[nodeID] = struct{}{}
	return true
}

// removeHolder drops nodeID from block blockNum. Blocks left without any
// holder are removed from the file so they no longer appear in listings.
func (f *File) removeHolder(blockNum int, nodeID string) {
	holders, ok := f.blocks[blockNum]
	if !ok {
		return
	}
	delete(holders, nodeID)
	if len(holders) == 0 {
		delete(f.blocks, blockNum)
	}
}

// blockNumbers returns the file's tracked block numbers in ascending order.
func (f *File) blockNumbers() []int {
	nums := slices.Sorted(maps.Keys(f.blocks))
	return nums
}

// holders returns a copy of the holder set for a block.
func (f *File) holders(blockNum int) map[string]struct{} {
	out := make(map[string]struct{}, len(f.blocks[blockNum]))
	for id := range f.blocks[blockNum] {
		out[id] = struct{}{}
	}
	return out
}
