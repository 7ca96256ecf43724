package merkle_test

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/snowsledge/Data-Timestamp/internal/merkle"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

// digests returns n distinct test digests.
func digests(n int) []proof.Hash {
	out := make([]proof.Hash, n)
	for i := range out {
		out[i] = proof.Sum([]byte(fmt.Sprintf("leaf-%d", i)))
	}
	return out
}

// referenceRoot is a direct recursive rendering of the tree hash over a
// leaf list, used to check the incremental engine.
func referenceRoot(ds []proof.Hash) proof.Hash {
	switch len(ds) {
	case 0:
		return proof.EmptyRoot
	case 1:
		return proof.HashLeaf(ds[0])
	}
	k := proof.SplitPoint(uint64(len(ds)))
	return proof.HashChildren(referenceRoot(ds[:k]), referenceRoot(ds[k:]))
}

func mustBuild(t testing.TB, ds []proof.Hash) *merkle.Tree {
	t.Helper()
	tree, err := merkle.Build(ds)
	if err != nil {
		t.Fatal(err)
	}
	return tree
}

func TestNew_empty(t *testing.T) {
	tree := merkle.New()
	if tree.Size() != 0 {
		t.Errorf("expected size 0, got %d", tree.Size())
	}
	if tree.Root() != proof.EmptyRoot {
		t.Errorf("empty root: got %s, want %s", tree.Root(), proof.EmptyRoot)
	}
	if _, err := tree.Snapshot().InclusionProof(0); !errors.Is(err, merkle.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange on empty tree, got %v", err)
	}
}

func TestHelloWorldScenario(t *testing.T) {
	a := proof.Sum([]byte("hello"))
	b := proof.Sum([]byte("world"))
	tree := merkle.New()

	if _, err := tree.AppendChecksum(a.String()); err != nil {
		t.Fatal(err)
	}
	if tree.Size() != 1 {
		t.Fatalf("expected size 1, got %d", tree.Size())
	}
	root1 := proof.HashLeaf(a)
	if tree.Root() != root1 {
		t.Errorf("root after A: got %s, want %s", tree.Root(), root1)
	}

	if _, err := tree.AppendChecksum(b.String()); err != nil {
		t.Fatal(err)
	}
	root2 := proof.HashChildren(proof.HashLeaf(a), proof.HashLeaf(b))
	if tree.Root() != root2 {
		t.Errorf("root after B: got %s, want %s", tree.Root(), root2)
	}

	snap := tree.Snapshot()
	p, err := snap.InclusionProof(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Path) != 1 || p.Path[0].Hash != proof.HashLeaf(b).String() || p.Path[0].Side != proof.SideRight {
		t.Errorf("unexpected path for leaf 0: %+v", p.Path)
	}
	if ok, err := proof.VerifyInclusion(p, root2.String()); err != nil || !ok {
		t.Errorf("inclusion of A: ok=%v err=%v", ok, err)
	}

	c, err := snap.ConsistencyProof(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := proof.VerifyConsistency(c, root1.String(), root2.String()); err != nil || !ok {
		t.Errorf("consistency 1..2: ok=%v err=%v", ok, err)
	}
}

func TestAppend_duplicateRejectedWithoutMutation(t *testing.T) {
	ds := digests(3)
	tree := mustBuild(t, ds)
	before := tree.Root()

	_, err := tree.Append(ds[1])
	if !errors.Is(err, merkle.ErrDuplicateDigest) {
		t.Fatalf("expected ErrDuplicateDigest, got %v", err)
	}
	if tree.Size() != 3 {
		t.Errorf("size changed after duplicate: %d", tree.Size())
	}
	if tree.Root() != before {
		t.Error("root changed after duplicate")
	}
}

func TestAppendChecksum_invalidFormat(t *testing.T) {
	tree := merkle.New()
	empty := proof.Sum(nil).String()
	for _, bad := range []string{"", "hello", "2cf24dba", "g" + empty[1:], "  " + empty + "\n", empty + " "} {
		if _, err := tree.AppendChecksum(bad); !errors.Is(err, merkle.ErrInvalidDigestFormat) {
			t.Errorf("AppendChecksum(%q): expected ErrInvalidDigestFormat, got %v", bad, err)
		}
	}
	if tree.Size() != 0 {
		t.Errorf("invalid input mutated the tree: size %d", tree.Size())
	}
}

func TestAppendChecksum_caseInsensitiveDedup(t *testing.T) {
	tree := merkle.New()
	d := proof.Sum([]byte("doc"))
	if _, err := tree.AppendChecksum(d.String()); err != nil {
		t.Fatal(err)
	}
	upper := fmt.Sprintf("%X", d[:])
	if _, err := tree.AppendChecksum(upper); !errors.Is(err, merkle.ErrDuplicateDigest) {
		t.Errorf("upper-case duplicate: expected ErrDuplicateDigest, got %v", err)
	}
}

func TestLookupAndExists(t *testing.T) {
	ds := digests(5)
	tree := mustBuild(t, ds)

	idx, ok := tree.Lookup(ds[3])
	if !ok || idx != 3 {
		t.Errorf("Lookup: got (%d, %v), want (3, true)", idx, ok)
	}
	if tree.Exists(proof.Sum([]byte("absent"))) {
		t.Error("Exists returned true for an unknown digest")
	}
}

func TestRootAt_matchesReference(t *testing.T) {
	ds := digests(70)
	tree := merkle.New()
	for i, d := range ds {
		if _, err := tree.Append(d); err != nil {
			t.Fatal(err)
		}
		if got, want := tree.Root(), referenceRoot(ds[:i+1]); got != want {
			t.Fatalf("size %d: root %s, want %s", i+1, got, want)
		}
	}

	snap := tree.Snapshot()
	for n := 0; n <= len(ds); n++ {
		got, err := snap.RootAt(uint64(n))
		if err != nil {
			t.Fatal(err)
		}
		if want := referenceRoot(ds[:n]); got != want {
			t.Errorf("RootAt(%d) = %s, want %s", n, got, want)
		}
		if n > 0 {
			size, ok := tree.SizeForRoot(got)
			if !ok || size != uint64(n) {
				t.Errorf("SizeForRoot(RootAt(%d)) = (%d, %v)", n, size, ok)
			}
		}
	}
	if _, err := snap.RootAt(71); !errors.Is(err, merkle.ErrInvalidSizeRange) {
		t.Errorf("RootAt beyond size: expected ErrInvalidSizeRange, got %v", err)
	}
}

func TestInclusionProof_everyLeafEverySize(t *testing.T) {
	ds := digests(40)
	tree := mustBuild(t, ds)
	snap := tree.Snapshot()

	for size := uint64(1); size <= 40; size++ {
		root, _ := snap.RootAt(size)
		for idx := uint64(0); idx < size; idx++ {
			p, err := snap.InclusionProofAt(idx, size)
			if err != nil {
				t.Fatalf("InclusionProofAt(%d, %d): %v", idx, size, err)
			}
			if p.Checksum != ds[idx].String() {
				t.Fatalf("proof for %d carries checksum %s", idx, p.Checksum)
			}
			ok, err := proof.VerifyInclusion(p, root.String())
			if err != nil || !ok {
				t.Fatalf("leaf %d at size %d: ok=%v err=%v", idx, size, ok, err)
			}
		}
	}

	if _, err := snap.InclusionProof(40); !errors.Is(err, merkle.ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestInclusionProof_staleRootFails(t *testing.T) {
	ds := digests(6)
	tree := mustBuild(t, ds)
	snap := tree.Snapshot()

	p, err := snap.InclusionProof(2)
	if err != nil {
		t.Fatal(err)
	}
	old, _ := snap.RootAt(5)
	if ok, _ := proof.VerifyInclusion(p, old.String()); ok {
		t.Error("proof at size 6 verified against the size-5 root")
	}
}

func TestConsistencyProof_allPairs(t *testing.T) {
	ds := digests(33)
	tree := mustBuild(t, ds)
	snap := tree.Snapshot()

	for s1 := uint64(1); s1 <= 33; s1++ {
		r1, _ := snap.RootAt(s1)
		for s2 := s1; s2 <= 33; s2++ {
			r2, _ := snap.RootAt(s2)
			c, err := snap.ConsistencyProof(s1, s2)
			if err != nil {
				t.Fatalf("ConsistencyProof(%d, %d): %v", s1, s2, err)
			}
			ok, err := proof.VerifyConsistency(c, r1.String(), r2.String())
			if err != nil || !ok {
				t.Fatalf("consistency %d..%d: ok=%v err=%v (path %d)", s1, s2, ok, err, len(c.Path))
			}
			if s1 < s2 {
				if ok, _ := proof.VerifyConsistency(c, r2.String(), r2.String()); ok {
					t.Fatalf("consistency %d..%d verified with the wrong old root", s1, s2)
				}
			}
		}
	}
}

func TestConsistencyProof_invalidRanges(t *testing.T) {
	snap := mustBuild(t, digests(4)).Snapshot()
	for _, r := range [][2]uint64{{0, 3}, {3, 2}, {2, 5}} {
		if _, err := snap.ConsistencyProof(r[0], r[1]); !errors.Is(err, merkle.ErrInvalidSizeRange) {
			t.Errorf("ConsistencyProof(%d, %d): expected ErrInvalidSizeRange, got %v", r[0], r[1], err)
		}
	}
}

func TestConsistencyProof_bitFlipsNeverVerify(t *testing.T) {
	snap := mustBuild(t, digests(13)).Snapshot()

	flip := func(s string, bit int) string {
		h, _ := proof.ParseHash(s)
		h[bit/8] ^= 1 << (bit % 8)
		return h.String()
	}

	// 4 and 8 are complete subtrees, so the old root itself is not on the path.
	for _, r := range [][2]uint64{{1, 13}, {4, 13}, {5, 13}, {8, 13}, {12, 13}, {13, 13}} {
		oldSize, newSize := r[0], r[1]
		r1, _ := snap.RootAt(oldSize)
		r2, _ := snap.RootAt(newSize)
		c, err := snap.ConsistencyProof(oldSize, newSize)
		if err != nil {
			t.Fatal(err)
		}
		oldRoot, newRoot := r1.String(), r2.String()
		if ok, err := proof.VerifyConsistency(c, oldRoot, newRoot); err != nil || !ok {
			t.Fatalf("%d..%d: untampered proof: ok=%v err=%v", oldSize, newSize, ok, err)
		}

		for bit := 0; bit < proof.HashSize*8; bit++ {
			if ok, _ := proof.VerifyConsistency(c, flip(oldRoot, bit), newRoot); ok {
				t.Fatalf("%d..%d: flipping bit %d of the old root still verified", oldSize, newSize, bit)
			}
			if ok, _ := proof.VerifyConsistency(c, oldRoot, flip(newRoot, bit)); ok {
				t.Fatalf("%d..%d: flipping bit %d of the new root still verified", oldSize, newSize, bit)
			}
			for i := range c.Path {
				tampered := *c
				tampered.Path = append([]string(nil), c.Path...)
				tampered.Path[i] = flip(c.Path[i], bit)
				if ok, _ := proof.VerifyConsistency(&tampered, oldRoot, newRoot); ok {
					t.Fatalf("%d..%d: flipping bit %d of path[%d] still verified", oldSize, newSize, bit, i)
				}
			}
		}
	}
}

func TestSnapshot_isStableWhileTreeGrows(t *testing.T) {
	ds := digests(20)
	tree := mustBuild(t, ds[:10])
	snap := tree.Snapshot()
	root := snap.Root()

	for _, d := range ds[10:] {
		if _, err := tree.Append(d); err != nil {
			t.Fatal(err)
		}
	}
	if snap.Size() != 10 || snap.Root() != root {
		t.Errorf("snapshot changed: size %d", snap.Size())
	}
	if len(snap.Digests()) != 10 {
		t.Errorf("snapshot digests: got %d", len(snap.Digests()))
	}
}

func TestConcurrentAppendsAndReads(t *testing.T) {
	ds := digests(400)
	tree := mustBuild(t, ds[:1])

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 1 + w; i < len(ds); i += 4 {
				if _, err := tree.Append(ds[i]); err != nil {
					t.Errorf("append %d: %v", i, err)
					return
				}
			}
		}(w)
	}

	// Duplicates of the first digest race the writers.
	dupErrs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tree.Append(ds[0])
			dupErrs <- err
		}()
	}

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				snap := tree.Snapshot()
				if snap.Size() == 0 {
					continue
				}
				idx := uint64(i) % snap.Size()
				p, err := snap.InclusionProof(idx)
				if err != nil {
					t.Errorf("proof: %v", err)
					return
				}
				if ok, _ := proof.VerifyInclusion(p, snap.Root().String()); !ok {
					t.Errorf("proof for %d at size %d did not verify", idx, snap.Size())
					return
				}
			}
		}()
	}
	wg.Wait()
	close(dupErrs)

	if tree.Size() != uint64(len(ds)) {
		t.Fatalf("expected %d leaves, got %d", len(ds), tree.Size())
	}
	accepted := 0
	for err := range dupErrs {
		if err == nil {
			accepted++
		}
	}
	if accepted > 0 {
		t.Errorf("%d concurrent duplicates were accepted", accepted)
	}
}

func TestBuild_rejectsDuplicates(t *testing.T) {
	ds := digests(3)
	ds = append(ds, ds[0])
	if _, err := merkle.Build(ds); !errors.Is(err, merkle.ErrDuplicateDigest) {
		t.Errorf("expected ErrDuplicateDigest, got %v", err)
	}
}
