// Package stamp is the timestamping service: it owns the tree handle, keeps
// the leaf journal in step with it and answers stamp, proof, root,
// consistency, validation and export requests.
package stamp

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/snowsledge/Data-Timestamp/internal/checkpoint"
	"github.com/snowsledge/Data-Timestamp/internal/leafstore"
	"github.com/snowsledge/Data-Timestamp/internal/merkle"
	"github.com/snowsledge/Data-Timestamp/internal/snapshot"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a checksum or root is unknown to the log.
var ErrNotFound = errors.New("not found")

// Receipt is returned by Stamp.
type Receipt struct {
	Committed bool      `json:"committed"`
	Checksum  string    `json:"checksum"`
	Index     uint64    `json:"index"`
	TreeSize  uint64    `json:"tree_size"`
	Root      string    `json:"root"`
	StampedAt time.Time `json:"stamped_at"`

	// Checkpoint is a signed tree head for TreeSize/Root.
	// Non-empty only when a Signer is configured.
	Checkpoint string `json:"checkpoint,omitempty"`
}

// Head is a commitment and the size it belongs to.
type Head struct {
	Root       string `json:"root"`
	Size       uint64 `json:"size"`
	Checkpoint string `json:"checkpoint,omitempty"`
}

// Validation is the outcome of Validate.
type Validation struct {
	Valid    bool       `json:"valid"`
	Kind     proof.Kind `json:"kind"`
	TreeSize uint64     `json:"tree_size"`
}

// ExportResult describes a written snapshot file.
type ExportResult struct {
	Path string `json:"path"`
	Head
}

// HeadSigner signs tree heads. *checkpoint.Signer implements it.
type HeadSigner interface {
	Sign(size uint64, root proof.Hash) (string, error)
	PublicKeyInfo() (*checkpoint.PublicKeyInfo, error)
}

// Service contains the timestamping business logic.
type Service struct {
	// mu serialises writers so the journal and the tree advance together.
	mu sync.Mutex

	tree   *merkle.Tree
	store  leafstore.Store    // nil = no journal
	signer HeadSigner // nil = unsigned heads
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service around tree. store may be nil to run without
// a journal (snapshot files are then the only durability).
func NewService(tree *merkle.Tree, store leafstore.Store, logger *zap.Logger) *Service {
	return &Service{
		tree:   tree,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// SetSigner enables signed checkpoints on receipts and heads.
func (s *Service) SetSigner(signer HeadSigner) {
	s.signer = signer
}

// SetClock replaces the time source. Intended for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Size returns the current number of leaves.
func (s *Service) Size() uint64 {
	return s.tree.Size()
}

// Replay rebuilds a tree from a verified journal.
func Replay(ctx context.Context, store leafstore.Store) (*merkle.Tree, error) {
	if err := store.Verify(ctx); err != nil {
		return nil, fmt.Errorf("verify journal: %w", err)
	}
	leaves, err := store.Leaves(ctx)
	if err != nil {
		return nil, fmt.Errorf("load journal: %w", err)
	}
	ds := make([]proof.Hash, len(leaves))
	for i, l := range leaves {
		d, err := l.Digest()
		if err != nil {
			return nil, fmt.Errorf("journal leaf %d: %w", i, err)
		}
		ds[i] = d
	}
	return merkle.Build(ds)
}

// SeedJournal appends to store every leaf of tree it does not hold yet, so a
// tree restored from a snapshot file and its journal share one index space.
// at is recorded as the stamp time of the seeded leaves.
func SeedJournal(ctx context.Context, store leafstore.Store, tree *merkle.Tree, at time.Time) (int, error) {
	have, err := store.Len(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal length: %w", err)
	}
	snap := tree.Snapshot()
	if uint64(have) > snap.Size() {
		return 0, fmt.Errorf("journal holds %d leaves, tree only %d", have, snap.Size())
	}
	seeded := 0
	for i := uint64(have); i < snap.Size(); i++ {
		d, _ := snap.Digest(i)
		if err := store.Append(ctx, leafstore.NewLeaf(i, d, at)); err != nil {
			return seeded, fmt.Errorf("seed leaf %d: %w", i, err)
		}
		seeded++
	}
	return seeded, nil
}

// Stamp records checksum in the log.
func (s *Service) Stamp(ctx context.Context, checksum string) (*Receipt, error) {
	d, err := merkle.ParseDigest(checksum)
	if err != nil {
		s.logger.Debug("stamp rejected", zap.String("checksum", checksum), zap.Error(err))
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.tree.Lookup(d); ok {
		s.logger.Info("duplicate checksum", zap.String("checksum", d.String()), zap.Uint64("index", idx))
		return nil, fmt.Errorf("%w: %s at index %d", merkle.ErrDuplicateDigest, d, idx)
	}

	now := s.now().UTC()
	next := s.tree.Size()
	if s.store != nil {
		if err := s.store.Append(ctx, leafstore.NewLeaf(next, d, now)); err != nil {
			if errors.Is(err, leafstore.ErrDuplicate) {
				return nil, fmt.Errorf("%w: %s", merkle.ErrDuplicateDigest, d)
			}
			s.logger.Error("journal append failed", zap.Uint64("index", next), zap.Error(err))
			return nil, fmt.Errorf("journal leaf: %w", err)
		}
	}

	idx, err := s.tree.Append(d)
	if err != nil {
		// Unreachable while mu is held and the lookup above passed.
		s.logger.Error("tree append failed after journal write", zap.Uint64("index", next), zap.Error(err))
		return nil, err
	}

	snap := s.tree.Snapshot()
	receipt := &Receipt{
		Committed: true,
		Checksum:  d.String(),
		Index:     idx,
		TreeSize:  snap.Size(),
		Root:      snap.Root().String(),
		StampedAt: now,
	}
	// The leaf is committed at this point; a signing failure only costs the
	// receipt its checkpoint.
	if receipt.Checkpoint, err = s.sign(snap.Size(), snap.Root()); err != nil {
		s.logger.Error("checkpoint signing failed",
			zap.Uint64("tree_size", receipt.TreeSize),
			zap.Error(err),
		)
	}

	s.logger.Info("checksum stamped",
		zap.String("checksum", receipt.Checksum),
		zap.Uint64("index", receipt.Index),
		zap.Uint64("tree_size", receipt.TreeSize),
	)
	return receipt, nil
}

// Lookup returns the leaf index of checksum.
func (s *Service) Lookup(_ context.Context, checksum string) (uint64, error) {
	d, err := merkle.ParseDigest(checksum)
	if err != nil {
		return 0, err
	}
	idx, ok := s.tree.Lookup(d)
	if !ok {
		return 0, fmt.Errorf("checksum %s: %w", d, ErrNotFound)
	}
	return idx, nil
}

// ProofFor returns the inclusion proof of checksum against the current root.
func (s *Service) ProofFor(ctx context.Context, checksum string) (*proof.Inclusion, error) {
	idx, err := s.Lookup(ctx, checksum)
	if err != nil {
		return nil, err
	}
	// Taken after the lookup, so the snapshot always covers idx.
	return s.tree.Snapshot().InclusionProof(idx)
}

// CheckpointKey returns the key that verifies this service's checkpoints.
func (s *Service) CheckpointKey(_ context.Context) (*checkpoint.PublicKeyInfo, error) {
	if s.signer == nil {
		return nil, fmt.Errorf("checkpoints are not signed: %w", ErrNotFound)
	}
	return s.signer.PublicKeyInfo()
}

// CurrentRoot returns the current commitment and size.
func (s *Service) CurrentRoot(_ context.Context) (Head, error) {
	snap := s.tree.Snapshot()
	return s.head(snap.Size(), snap.Root())
}

// RootAt returns the commitment the log had at size.
func (s *Service) RootAt(_ context.Context, size uint64) (Head, error) {
	root, err := s.tree.Snapshot().RootAt(size)
	if err != nil {
		return Head{}, err
	}
	return s.head(size, root)
}

// ConsistencyProof proves that the log at toSize extends the log at from.
// from is either an earlier size in decimal or an earlier root in hex;
// toSize 0 means the current size.
func (s *Service) ConsistencyProof(_ context.Context, from string, toSize uint64) (*proof.Consistency, error) {
	oldSize, err := s.resolveSize(from)
	if err != nil {
		return nil, err
	}
	snap := s.tree.Snapshot()
	if toSize == 0 {
		toSize = snap.Size()
	}
	return snap.ConsistencyProof(oldSize, toSize)
}

func (s *Service) resolveSize(ref string) (uint64, error) {
	if len(ref) == 2*proof.HashSize {
		root, err := proof.ParseHash(ref)
		if err != nil {
			return 0, fmt.Errorf("%w: %v", merkle.ErrInvalidSizeRange, err)
		}
		size, ok := s.tree.SizeForRoot(root)
		if !ok {
			return 0, fmt.Errorf("root %s: %w", root, ErrNotFound)
		}
		return size, nil
	}
	size, err := strconv.ParseUint(ref, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is neither a size nor a root", merkle.ErrInvalidSizeRange, ref)
	}
	return size, nil
}

// Validate checks a serialized proof against this log's own history.
// Structurally broken input returns proof.ErrMalformedProof; a proof that
// simply does not match returns Valid=false.
func (s *Service) Validate(_ context.Context, raw []byte) (*Validation, error) {
	env, err := proof.Decode(raw)
	if err != nil {
		return nil, err
	}
	snap := s.tree.Snapshot()

	var res *Validation
	switch env.Kind() {
	case proof.KindConsistency:
		res, err = validateConsistency(snap, env.Consistency)
	default:
		res, err = validateInclusion(snap, env.Inclusion)
	}
	if err != nil {
		s.logger.Info("proof rejected as malformed", zap.Error(err))
		return nil, err
	}

	s.logger.Info("proof validated",
		zap.String("kind", string(res.Kind)),
		zap.Uint64("tree_size", res.TreeSize),
		zap.Bool("valid", res.Valid),
	)
	return res, nil
}

func validateInclusion(snap *merkle.Snapshot, p *proof.Inclusion) (*Validation, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	res := &Validation{Kind: proof.KindInclusion, TreeSize: p.TreeSize}
	if p.TreeSize > snap.Size() {
		return res, nil
	}
	root, err := snap.RootAt(p.TreeSize)
	if err != nil {
		return nil, err
	}
	if p.Root != "" && !sameHash(p.Root, root) {
		return res, nil
	}
	res.Valid, err = proof.VerifyInclusion(p, root.String())
	return res, err
}

func validateConsistency(snap *merkle.Snapshot, p *proof.Consistency) (*Validation, error) {
	if err := p.Check(); err != nil {
		return nil, err
	}
	res := &Validation{Kind: proof.KindConsistency, TreeSize: p.NewSize}
	if p.NewSize > snap.Size() {
		return res, nil
	}
	oldRoot, _ := snap.RootAt(p.OldSize)
	newRoot, _ := snap.RootAt(p.NewSize)
	if p.OldRoot != "" && !sameHash(p.OldRoot, oldRoot) {
		return res, nil
	}
	if p.NewRoot != "" && !sameHash(p.NewRoot, newRoot) {
		return res, nil
	}
	var err error
	res.Valid, err = proof.VerifyConsistency(p, oldRoot.String(), newRoot.String())
	return res, err
}

func sameHash(s string, h proof.Hash) bool {
	parsed, err := proof.ParseHash(s)
	return err == nil && parsed == h
}

// Export writes a snapshot of the current tree to dir. The tree is only
// locked for the snapshot copy; encoding and the file write run unlocked.
func (s *Service) Export(_ context.Context, dir string) (*ExportResult, error) {
	snap := s.tree.Snapshot()
	path, err := snapshot.Export(snap, dir, s.now())
	if err != nil {
		s.logger.Error("snapshot export failed", zap.String("dir", dir), zap.Error(err))
		return nil, err
	}
	head, err := s.head(snap.Size(), snap.Root())
	if err != nil {
		return nil, err
	}
	s.logger.Info("snapshot exported",
		zap.String("path", path),
		zap.Uint64("tree_size", head.Size),
		zap.String("root", head.Root),
	)
	return &ExportResult{Path: path, Head: head}, nil
}

func (s *Service) head(size uint64, root proof.Hash) (Head, error) {
	cp, err := s.sign(size, root)
	if err != nil {
		return Head{}, err
	}
	return Head{Root: root.String(), Size: size, Checkpoint: cp}, nil
}

func (s *Service) sign(size uint64, root proof.Hash) (string, error) {
	if s.signer == nil {
		return "", nil
	}
	return s.signer.Sign(size, root)
}
