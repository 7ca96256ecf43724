package proof

import (
	"errors"
	"fmt"
)

// ErrMalformedProof is returned when a proof is structurally broken: missing
// fields, bad hex, wrong hash width, unknown side or impossible sizes. A proof
// that is well formed but does not recompute to the expected root is not an
// error; the verify functions report it as false.
var ErrMalformedProof = errors.New("malformed proof")

// Kind discriminates serialized proofs.
type Kind string

const (
	KindInclusion   Kind = "inclusion"
	KindConsistency Kind = "consistency"
)

// Side is the position of a sibling hash relative to the running hash.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// PathNode is one step of an inclusion audit path.
type PathNode struct {
	Hash string `json:"hash" cbor:"1,keyasint"`
	Side Side   `json:"side" cbor:"2,keyasint"`
}

// Inclusion proves that a checksum is leaf LeafIndex of the tree of size TreeSize.
type Inclusion struct {
	Kind      Kind       `json:"kind" cbor:"1,keyasint"`
	Algorithm string     `json:"algorithm" cbor:"2,keyasint"`
	LeafIndex uint64     `json:"leaf_index" cbor:"3,keyasint"`
	Checksum  string     `json:"checksum,omitempty" cbor:"4,keyasint,omitempty"`
	LeafHash  string     `json:"leaf_hash" cbor:"5,keyasint"`
	Path      []PathNode `json:"path" cbor:"6,keyasint"`
	TreeSize  uint64     `json:"tree_size" cbor:"7,keyasint"`

	// Root is the commitment the prover computed at TreeSize. Verifiers must
	// compare against a root they already trust, not this field.
	Root string `json:"root,omitempty" cbor:"8,keyasint,omitempty"`
}

// Consistency proves that the tree of NewSize leaves extends the tree of OldSize leaves.
type Consistency struct {
	Kind      Kind     `json:"kind" cbor:"1,keyasint"`
	Algorithm string   `json:"algorithm" cbor:"2,keyasint"`
	OldSize   uint64   `json:"old_size" cbor:"3,keyasint"`
	NewSize   uint64   `json:"new_size" cbor:"4,keyasint"`
	OldRoot   string   `json:"old_root,omitempty" cbor:"5,keyasint,omitempty"`
	NewRoot   string   `json:"new_root,omitempty" cbor:"6,keyasint,omitempty"`
	Path      []string `json:"path" cbor:"7,keyasint"`
}

// NewInclusion builds a serialized inclusion proof from raw hashes.
func NewInclusion(index, size uint64, digest Hash, siblings []Hash, sides []Side, root Hash) *Inclusion {
	path := make([]PathNode, len(siblings))
	for i := range siblings {
		path[i] = PathNode{Hash: siblings[i].String(), Side: sides[i]}
	}
	return &Inclusion{
		Kind:      KindInclusion,
		Algorithm: Algorithm,
		LeafIndex: index,
		Checksum:  digest.String(),
		LeafHash:  HashLeaf(digest).String(),
		Path:      path,
		TreeSize:  size,
		Root:      root.String(),
	}
}

// NewConsistency builds a serialized consistency proof from raw hashes.
func NewConsistency(oldSize, newSize uint64, oldRoot, newRoot Hash, hashes []Hash) *Consistency {
	path := make([]string, len(hashes))
	for i, h := range hashes {
		path[i] = h.String()
	}
	return &Consistency{
		Kind:      KindConsistency,
		Algorithm: Algorithm,
		OldSize:   oldSize,
		NewSize:   newSize,
		OldRoot:   oldRoot.String(),
		NewRoot:   newRoot.String(),
		Path:      path,
	}
}

// inclusionParts is the decoded, structurally checked form of an Inclusion.
type inclusionParts struct {
	leafHash Hash
	checksum *Hash
	siblings []Hash
	sides    []Side
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedProof, fmt.Sprintf(format, args...))
}

func checkHeader(kind, want Kind, algorithm string) error {
	if kind != "" && kind != want {
		return malformed("kind %q, want %q", kind, want)
	}
	if algorithm != Algorithm {
		return malformed("unsupported algorithm %q", algorithm)
	}
	return nil
}

func (p *Inclusion) parse() (*inclusionParts, error) {
	if p == nil {
		return nil, malformed("nil inclusion proof")
	}
	if err := checkHeader(p.Kind, KindInclusion, p.Algorithm); err != nil {
		return nil, err
	}
	if p.TreeSize == 0 || p.LeafIndex >= p.TreeSize {
		return nil, malformed("leaf_index %d outside tree_size %d", p.LeafIndex, p.TreeSize)
	}
	if p.LeafHash == "" {
		return nil, malformed("missing leaf_hash")
	}
	leaf, err := ParseHash(p.LeafHash)
	if err != nil {
		return nil, malformed("leaf_hash: %v", err)
	}
	parts := &inclusionParts{
		leafHash: leaf,
		siblings: make([]Hash, len(p.Path)),
		sides:    make([]Side, len(p.Path)),
	}
	if p.Checksum != "" {
		d, err := ParseHash(p.Checksum)
		if err != nil {
			return nil, malformed("checksum: %v", err)
		}
		parts.checksum = &d
	}
	for i, n := range p.Path {
		h, err := ParseHash(n.Hash)
		if err != nil {
			return nil, malformed("path[%d]: %v", i, err)
		}
		if n.Side != SideLeft && n.Side != SideRight {
			return nil, malformed("path[%d]: unknown side %q", i, n.Side)
		}
		parts.siblings[i] = h
		parts.sides[i] = n.Side
	}
	return parts, nil
}

func (p *Consistency) parse() ([]Hash, error) {
	if p == nil {
		return nil, malformed("nil consistency proof")
	}
	if err := checkHeader(p.Kind, KindConsistency, p.Algorithm); err != nil {
		return nil, err
	}
	if p.OldSize == 0 || p.OldSize > p.NewSize {
		return nil, malformed("invalid size range %d..%d", p.OldSize, p.NewSize)
	}
	hashes := make([]Hash, len(p.Path))
	for i, s := range p.Path {
		h, err := ParseHash(s)
		if err != nil {
			return nil, malformed("path[%d]: %v", i, err)
		}
		hashes[i] = h
	}
	return hashes, nil
}

// Check reports whether p is structurally sound, returning ErrMalformedProof if not.
func (p *Inclusion) Check() error {
	_, err := p.parse()
	return err
}

// Check reports whether p is structurally sound, returning ErrMalformedProof if not.
func (p *Consistency) Check() error {
	_, err := p.parse()
	return err
}
