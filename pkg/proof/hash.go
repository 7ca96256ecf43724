// Package proof defines the portable proof format of the timestamping log and
// the stateless validator that checks it.
//
// Everything an independent verifier needs lives here: the SHA-256 leaf and
// node hashing rules, the subtree addressing rule shared with the tree
// engine, the serialized inclusion and consistency proofs (JSON and CBOR),
// and VerifyInclusion / VerifyConsistency. None of it touches a live tree.
package proof

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/bits"
	"strings"
)

// Algorithm is the only hash algorithm the log supports.
const Algorithm = "sha256"

// HashSize is the width in bytes of every digest, leaf hash and node hash.
const HashSize = sha256.Size

// LeafPrefix is prepended to a leaf digest before hashing so that a leaf hash
// can never be confused with an internal node hash.
const LeafPrefix byte = 0x00

// Hash is a raw SHA-256 value.
type Hash [HashSize]byte

// String returns the lowercase hex encoding of h.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero value.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash decodes a 64-character hex string. Upper-case input is accepted;
// surrounding whitespace is not.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != hex.EncodedLen(HashSize) {
		return h, fmt.Errorf("hash must be %d hex characters, got %d", hex.EncodedLen(HashSize), len(s))
	}
	if _, err := hex.Decode(h[:], []byte(strings.ToLower(s))); err != nil {
		return Hash{}, fmt.Errorf("hash is not valid hex: %w", err)
	}
	return h, nil
}

// Sum returns the SHA-256 of data. It is how clients derive a checksum from
// the content they want stamped.
func Sum(data []byte) Hash {
	return sha256.Sum256(data)
}

// HashLeaf returns H(LeafPrefix || digest).
func HashLeaf(digest Hash) Hash {
	h := sha256.New()
	h.Write([]byte{LeafPrefix})
	h.Write(digest[:])
	var out Hash
	h.Sum(out[:0])
	return out
}

// HashChildren returns H(left || right).
func HashChildren(left, right Hash) Hash {
	h := sha256.New()
	h.Write(left[:])
	h.Write(right[:])
	var out Hash
	h.Sum(out[:0])
	return out
}

// EmptyRoot is the commitment of a tree with no leaves: SHA-256 of the empty string.
var EmptyRoot = Sum(nil)

// SplitPoint returns the largest power of two strictly less than n (n >= 2).
//
// A range of n leaves is always split into a perfect left subtree of
// SplitPoint(n) leaves and whatever remains on the right. The tree engine,
// the prover and the validator all decompose ranges with this one function.
func SplitPoint(n uint64) uint64 {
	if n < 2 {
		return 0
	}
	return 1 << (bits.Len64(n-1) - 1)
}

// isPowerOfTwo reports whether n is a non-zero power of two.
func isPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// InclusionSides returns, leaf to root, the side on which each sibling of
// leaf index sits in a tree of size leaves. The slice length is the audit
// path length. index must be < size.
func InclusionSides(index, size uint64) []Side {
	var sides []Side
	for size > 1 {
		k := SplitPoint(size)
		if index < k {
			sides = append(sides, SideRight)
			size = k
		} else {
			sides = append(sides, SideLeft)
			index -= k
			size -= k
		}
	}
	for i, j := 0, len(sides)-1; i < j; i, j = i+1, j-1 {
		sides[i], sides[j] = sides[j], sides[i]
	}
	return sides
}
