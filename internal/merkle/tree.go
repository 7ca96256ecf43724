package merkle

import (
	"fmt"
	"sync"

	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

// Tree is the live, append-only Merkle tree. It is safe for concurrent use;
// appends are serialised, reads take a Snapshot.
type Tree struct {
	mu sync.RWMutex

	digests []proof.Hash          // leaf digests in insertion order
	index   map[proof.Hash]uint64 // digest -> leaf index
	roots   map[proof.Hash]uint64 // root -> size that produced it

	// levels[k][i] is the hash of the perfect subtree of 2^k leaves that
	// starts at leaf i<<k. Slices only ever grow.
	levels [][]proof.Hash
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{
		index: make(map[proof.Hash]uint64),
		roots: make(map[proof.Hash]uint64),
	}
}

// Build returns a tree holding digests in order. It fails on the first
// duplicate, so a corrupt leaf list never yields a tree.
func Build(digests []proof.Hash) (*Tree, error) {
	t := New()
	for i, d := range digests {
		if _, err := t.Append(d); err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
	}
	return t, nil
}

// Append adds digest as the next leaf and returns its index. A duplicate is
// rejected before anything is mutated.
func (t *Tree) Append(digest proof.Hash) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if idx, ok := t.index[digest]; ok {
		return 0, fmt.Errorf("%w: %s at index %d", ErrDuplicateDigest, digest, idx)
	}

	idx := uint64(len(t.digests))
	t.digests = append(t.digests, digest)
	t.index[digest] = idx

	t.push(0, proof.HashLeaf(digest))
	for lvl := 0; len(t.levels[lvl])%2 == 0; lvl++ {
		row := t.levels[lvl]
		n := len(row)
		t.push(lvl+1, proof.HashChildren(row[n-2], row[n-1]))
	}

	size := idx + 1
	root := t.snapshotLocked().subtreeHash(0, size)
	if _, seen := t.roots[root]; !seen {
		t.roots[root] = size
	}
	return idx, nil
}

// AppendChecksum parses a hex checksum and appends it.
func (t *Tree) AppendChecksum(checksum string) (uint64, error) {
	d, err := ParseDigest(checksum)
	if err != nil {
		return 0, err
	}
	return t.Append(d)
}

func (t *Tree) push(lvl int, h proof.Hash) {
	if lvl == len(t.levels) {
		t.levels = append(t.levels, nil)
	}
	t.levels[lvl] = append(t.levels[lvl], h)
}

// Size returns the number of leaves.
func (t *Tree) Size() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint64(len(t.digests))
}

// Root returns the current commitment.
func (t *Tree) Root() proof.Hash {
	return t.Snapshot().Root()
}

// Exists reports whether digest has been appended.
func (t *Tree) Exists(digest proof.Hash) bool {
	_, ok := t.Lookup(digest)
	return ok
}

// Lookup returns the leaf index of digest.
func (t *Tree) Lookup(digest proof.Hash) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	idx, ok := t.index[digest]
	return idx, ok
}

// SizeForRoot returns the tree size whose commitment was root.
func (t *Tree) SizeForRoot(root proof.Hash) (uint64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	size, ok := t.roots[root]
	return size, ok
}

// Snapshot returns an immutable view of the tree as it is now.
func (t *Tree) Snapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tree) snapshotLocked() *Snapshot {
	levels := make([][]proof.Hash, len(t.levels))
	for i, row := range t.levels {
		levels[i] = row[:len(row):len(row)]
	}
	n := len(t.digests)
	return &Snapshot{
		size:    uint64(n),
		digests: t.digests[:n:n],
		levels:  levels,
	}
}
