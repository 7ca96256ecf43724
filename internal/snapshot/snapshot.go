// Package snapshot serialises a tree to a durable blob and restores it.
//
// A snapshot records the ordered leaf digests together with the size and
// root they produce. Restoring replays the leaves into a fresh tree and
// refuses the blob unless the replay reproduces the recorded root exactly.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/creachadair/atomicfile"
	"github.com/snowsledge/Data-Timestamp/internal/merkle"
	"github.com/snowsledge/Data-Timestamp/pkg/proof"
)

// FormatVersion is written into every snapshot.
const FormatVersion = 1

const (
	filePrefix = "tree_"
	fileSuffix = ".json"
)

// ErrCorrupt is returned when a blob does not describe a valid tree.
var ErrCorrupt = errors.New("corrupt snapshot")

// ErrNoSnapshot is returned by Latest when a directory holds no snapshot files.
var ErrNoSnapshot = errors.New("no snapshot found")

// State is the on-disk form of a tree.
type State struct {
	Version   int       `json:"version"`
	Algorithm string    `json:"algorithm"`
	Size      uint64    `json:"size"`
	Root      string    `json:"root"`
	CreatedAt time.Time `json:"created_at"`
	Leaves    []string  `json:"leaves"`
}

// Encode serialises snap. It only reads the snapshot, so the live tree keeps
// accepting appends while a large export is being encoded.
func Encode(snap *merkle.Snapshot, now time.Time) ([]byte, error) {
	ds := snap.Digests()
	leaves := make([]string, len(ds))
	for i, d := range ds {
		leaves[i] = d.String()
	}
	st := State{
		Version:   FormatVersion,
		Algorithm: proof.Algorithm,
		Size:      snap.Size(),
		Root:      snap.Root().String(),
		CreatedAt: now.UTC(),
		Leaves:    leaves,
	}
	blob, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return blob, nil
}

// Decode rebuilds a tree from blob and checks it against the recorded size and root.
func Decode(blob []byte) (*merkle.Tree, error) {
	var st State
	if err := json.Unmarshal(blob, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if st.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, st.Version)
	}
	if st.Algorithm != proof.Algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrCorrupt, st.Algorithm)
	}
	if uint64(len(st.Leaves)) != st.Size {
		return nil, fmt.Errorf("%w: %d leaves for size %d", ErrCorrupt, len(st.Leaves), st.Size)
	}

	ds := make([]proof.Hash, len(st.Leaves))
	for i, s := range st.Leaves {
		d, err := merkle.ParseDigest(s)
		if err != nil {
			return nil, fmt.Errorf("%w: leaf %d: %v", ErrCorrupt, i, err)
		}
		ds[i] = d
	}
	tree, err := merkle.Build(ds)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	want, err := proof.ParseHash(st.Root)
	if err != nil {
		return nil, fmt.Errorf("%w: root: %v", ErrCorrupt, err)
	}
	if got := tree.Root(); got != want {
		return nil, fmt.Errorf("%w: replayed root %s, recorded %s", ErrCorrupt, got, want)
	}
	return tree, nil
}

// FileName returns the export file name for a snapshot taken at now.
func FileName(now time.Time) string {
	return filePrefix + strconv.FormatInt(now.Unix(), 10) + fileSuffix
}

// Export writes snap to dir/tree_<unix>.json atomically and returns the path.
func Export(snap *merkle.Snapshot, dir string, now time.Time) (string, error) {
	blob, err := Encode(snap, now)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}
	path := filepath.Join(dir, FileName(now))
	if _, err := atomicfile.WriteAll(path, bytes.NewReader(blob), 0o640); err != nil {
		return "", fmt.Errorf("write snapshot %s: %w", path, err)
	}
	return path, nil
}

// LoadFile restores a tree from a snapshot file.
func LoadFile(path string) (*merkle.Tree, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	tree, err := Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tree, nil
}

// Latest returns the newest tree_<unix>.json file in dir.
func Latest(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoSnapshot
		}
		return "", fmt.Errorf("read snapshot dir: %w", err)
	}

	type candidate struct {
		name string
		ts   int64
	}
	var found []candidate
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ts, err := strconv.ParseInt(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		found = append(found, candidate{name: name, ts: ts})
	}
	if len(found) == 0 {
		return "", ErrNoSnapshot
	}
	sort.Slice(found, func(i, j int) bool { return found[i].ts > found[j].ts })
	return filepath.Join(dir, found[0].name), nil
}
