package proof

// VerifyInclusion recomputes the root from p and compares it with root, a
// hex commitment the caller already trusts.
//
// The recorded sides must match the shape the addressing rule gives for
// (LeafIndex, TreeSize), and when the proof carries the checksum its leaf
// hash must match it. Any mismatch yields false.
func VerifyInclusion(p *Inclusion, root string) (bool, error) {
	parts, err := p.parse()
	if err != nil {
		return false, err
	}
	want, err := ParseHash(root)
	if err != nil {
		return false, malformed("root: %v", err)
	}
	if parts.checksum != nil && HashLeaf(*parts.checksum) != parts.leafHash {
		return false, nil
	}
	got, ok := rootFromPath(parts, p.LeafIndex, p.TreeSize)
	if !ok {
		return false, nil
	}
	return got == want, nil
}

// RootFromInclusion returns the root implied by p without comparing it to
// anything. It is false when the path shape does not fit (LeafIndex, TreeSize).
func RootFromInclusion(p *Inclusion) (Hash, bool, error) {
	parts, err := p.parse()
	if err != nil {
		return Hash{}, false, err
	}
	h, ok := rootFromPath(parts, p.LeafIndex, p.TreeSize)
	return h, ok, nil
}

func rootFromPath(parts *inclusionParts, index, size uint64) (Hash, bool) {
	sides := InclusionSides(index, size)
	if len(sides) != len(parts.siblings) {
		return Hash{}, false
	}
	acc := parts.leafHash
	for i, sib := range parts.siblings {
		if parts.sides[i] != sides[i] {
			return Hash{}, false
		}
		if sides[i] == SideRight {
			acc = HashChildren(acc, sib)
		} else {
			acc = HashChildren(sib, acc)
		}
	}
	return acc, true
}

// VerifyConsistency checks that p links oldRoot at p.OldSize to newRoot at
// p.NewSize. Both roots are recomputed from the single shared hash list.
func VerifyConsistency(p *Consistency, oldRoot, newRoot string) (bool, error) {
	path, err := p.parse()
	if err != nil {
		return false, err
	}
	first, err := ParseHash(oldRoot)
	if err != nil {
		return false, malformed("old_root: %v", err)
	}
	second, err := ParseHash(newRoot)
	if err != nil {
		return false, malformed("new_root: %v", err)
	}
	return consistent(p.OldSize, p.NewSize, first, second, path), nil
}

// consistent walks the path bottom-up, rebuilding the old and the new root
// side by side (RFC 9162, section 2.1.4.2).
func consistent(m, n uint64, first, second Hash, path []Hash) bool {
	if m == n {
		return len(path) == 0 && first == second
	}
	if len(path) == 0 {
		return false
	}
	if isPowerOfTwo(m) {
		path = append([]Hash{first}, path...)
	}

	fn, sn := m-1, n-1
	for fn&1 == 1 {
		fn >>= 1
		sn >>= 1
	}

	fr, sr := path[0], path[0]
	for _, c := range path[1:] {
		if sn == 0 {
			return false
		}
		if fn&1 == 1 || fn == sn {
			fr = HashChildren(c, fr)
			sr = HashChildren(c, sr)
			for fn&1 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			sr = HashChildren(sr, c)
		}
		fn >>= 1
		sn >>= 1
	}
	return fr == first && sr == second && sn == 0
}
