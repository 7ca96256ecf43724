// Package merkle implements the append-only Merkle tree behind the
// timestamping log.
//
// The tree keeps every perfect-subtree hash it has ever computed, level by
// level, so the root of any past size, the audit path of any past leaf and
// the consistency path between any two past sizes can be answered without
// rehashing leaves. Appends do O(log n) hashing.
//
// Tree is the single-writer handle. Snapshot is an immutable view of a
// committed prefix; readers work on snapshots and never block the writer for
// longer than a slice-header copy.
package merkle

import (
	"errors"
	"fmt"

	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

var (
	// ErrInvalidDigestFormat is returned when a checksum is not a 32-byte
	// SHA-256 value encoded as 64 hex characters.
	ErrInvalidDigestFormat = errors.New("invalid digest format")

	// ErrDuplicateDigest is returned when a digest is already in the tree.
	ErrDuplicateDigest = errors.New("digest already recorded")

	// ErrIndexOutOfRange is returned for a leaf index at or beyond the tree size.
	ErrIndexOutOfRange = errors.New("leaf index out of range")

	// ErrInvalidSizeRange is returned for impossible consistency bounds.
	ErrInvalidSizeRange = errors.New("invalid size range")
)

// ParseDigest decodes a hex checksum into a digest. Upper-case hex is accepted;
// the canonical form is lower-case.
func ParseDigest(checksum string) (proof.Hash, error) {
	d, err := proof.ParseHash(checksum)
	if err != nil {
		return proof.Hash{}, fmt.Errorf("%w: %v", ErrInvalidDigestFormat, err)
	}
	return d, nil
}
