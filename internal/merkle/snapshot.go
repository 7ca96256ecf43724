package merkle

import (
	"fmt"
	"math/bits"

	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

// Snapshot is a read-only view of the first Size() leaves of a Tree. It stays
// valid and unchanged while the tree keeps growing.
type Snapshot struct {
	size    uint64
	digests []proof.Hash
	levels  [][]proof.Hash
}

// Size returns the number of leaves in the view.
func (s *Snapshot) Size() uint64 { return s.size }

// Root returns the commitment at Size().
func (s *Snapshot) Root() proof.Hash {
	if s.size == 0 {
		return proof.EmptyRoot
	}
	return s.subtreeHash(0, s.size)
}

// RootAt returns the commitment the tree had when it held size leaves.
func (s *Snapshot) RootAt(size uint64) (proof.Hash, error) {
	if size > s.size {
		return proof.Hash{}, fmt.Errorf("%w: size %d beyond tree size %d", ErrInvalidSizeRange, size, s.size)
	}
	if size == 0 {
		return proof.EmptyRoot, nil
	}
	return s.subtreeHash(0, size), nil
}

// Digest returns the digest stored at leaf index.
func (s *Snapshot) Digest(index uint64) (proof.Hash, error) {
	if index >= s.size {
		return proof.Hash{}, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, s.size)
	}
	return s.digests[index], nil
}

// Digests returns a copy of all leaf digests in order.
func (s *Snapshot) Digests() []proof.Hash {
	out := make([]proof.Hash, len(s.digests))
	copy(out, s.digests)
	return out
}

// subtreeHash returns the hash of leaves [start, start+n). Power-of-two
// ranges reached through SplitPoint are always aligned and read straight
// from the level history; anything else is split and combined.
func (s *Snapshot) subtreeHash(start, n uint64) proof.Hash {
	if n&(n-1) == 0 {
		k := bits.TrailingZeros64(n)
		return s.levels[k][start>>k]
	}
	k := proof.SplitPoint(n)
	return proof.HashChildren(s.subtreeHash(start, k), s.subtreeHash(start+k, n-k))
}

// InclusionProof returns the audit path of leaf index against the current root.
func (s *Snapshot) InclusionProof(index uint64) (*proof.Inclusion, error) {
	return s.InclusionProofAt(index, s.size)
}

// InclusionProofAt returns the audit path of leaf index against the root of
// the tree at size leaves.
func (s *Snapshot) InclusionProofAt(index, size uint64) (*proof.Inclusion, error) {
	if size > s.size {
		return nil, fmt.Errorf("%w: size %d beyond tree size %d", ErrInvalidSizeRange, size, s.size)
	}
	if index >= size {
		return nil, fmt.Errorf("%w: %d >= %d", ErrIndexOutOfRange, index, size)
	}

	var siblings []proof.Hash
	var sides []proof.Side
	m, start, n := index, uint64(0), size
	for n > 1 {
		k := proof.SplitPoint(n)
		if m < k {
			siblings = append(siblings, s.subtreeHash(start+k, n-k))
			sides = append(sides, proof.SideRight)
			n = k
		} else {
			siblings = append(siblings, s.subtreeHash(start, k))
			sides = append(sides, proof.SideLeft)
			start += k
			m -= k
			n -= k
		}
	}
	reverse(siblings)
	reverse(sides)

	return proof.NewInclusion(index, size, s.digests[index], siblings, sides, s.subtreeHash(0, size)), nil
}

// ConsistencyProof returns the hashes linking the tree at oldSize to the tree
// at newSize.
func (s *Snapshot) ConsistencyProof(oldSize, newSize uint64) (*proof.Consistency, error) {
	if oldSize == 0 || oldSize > newSize || newSize > s.size {
		return nil, fmt.Errorf("%w: %d..%d with tree size %d", ErrInvalidSizeRange, oldSize, newSize, s.size)
	}
	hashes := s.subproof(oldSize, 0, newSize, true)
	return proof.NewConsistency(oldSize, newSize, s.subtreeHash(0, oldSize), s.subtreeHash(0, newSize), hashes), nil
}

// subproof follows RFC 6962 SUBPROOF(m, D[start:start+n], whole). whole is
// true while the old tree is still a complete subtree of the current range,
// in which case its hash is left for the verifier to supply.
func (s *Snapshot) subproof(m, start, n uint64, whole bool) []proof.Hash {
	if m == n {
		if whole {
			return nil
		}
		return []proof.Hash{s.subtreeHash(start, n)}
	}
	k := proof.SplitPoint(n)
	if m <= k {
		return append(s.subproof(m, start, k, whole), s.subtreeHash(start+k, n-k))
	}
	return append(s.subproof(m-k, start+k, n-k, false), s.subtreeHash(start, k))
}

func reverse[T any](xs []T) {
	for i, j := 0, len(xs)-1; i < j; i, j = i+1, j-1 {
		xs[i], xs[j] = xs[j], xs[i]
	}
}
