package leafstore

import (
	"fmt"
	"time"

	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

// Leaf is one journaled checksum.
type Leaf struct {
	Index     uint64    `json:"index"`
	Checksum  string    `json:"checksum"`
	LeafHash  string    `json:"leaf_hash"`
	StampedAt time.Time `json:"stamped_at"`
}

// NewLeaf builds the journal record for digest at index.
func NewLeaf(index uint64, digest proof.Hash, at time.Time) Leaf {
	return Leaf{
		Index:     index,
		Checksum:  digest.String(),
		LeafHash:  proof.HashLeaf(digest).String(),
		StampedAt: at.UTC(),
	}
}

// Digest parses the leaf's checksum.
func (l Leaf) Digest() (proof.Hash, error) {
	return proof.ParseHash(l.Checksum)
}

// check verifies that LeafHash is the domain-separated hash of Checksum.
func (l Leaf) check() error {
	d, err := l.Digest()
	if err != nil {
		return fmt.Errorf("leaf %d: checksum: %w", l.Index, err)
	}
	if proof.HashLeaf(d).String() != l.LeafHash {
		return fmt.Errorf("leaf %d has invalid leaf hash", l.Index)
	}
	return nil
}

// verifyChain checks a full journal listing, in index order.
func verifyChain(leaves []Leaf) error {
	seen := make(map[string]uint64, len(leaves))
	for i, l := range leaves {
		if l.Index != uint64(i) {
			return fmt.Errorf("journal gap: position %d holds index %d", i, l.Index)
		}
		if err := l.check(); err != nil {
			return err
		}
		if prev, dup := seen[l.Checksum]; dup {
			return fmt.Errorf("checksum %s journaled at %d and %d", l.Checksum, prev, l.Index)
		}
		seen[l.Checksum] = l.Index
	}
	return nil
}
