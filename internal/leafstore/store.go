package leafstore

import (
	"context"
	"errors"
)

var (
	// ErrDuplicate is returned when the checksum is already journaled.
	ErrDuplicate = errors.New("checksum already journaled")

	// ErrOutOfOrder is returned when a leaf's index is not the next free index.
	ErrOutOfOrder = errors.New("leaf index out of order")
)

// Store is the interface for the append-only leaf journal.
// Both MemoryStore and PostgresStore implement this interface.
type Store interface {
	// Append journals leaf. leaf.Index must equal the current length.
	Append(ctx context.Context, leaf Leaf) error

	// Leaves returns every journaled leaf in index order.
	Leaves(ctx context.Context) ([]Leaf, error)

	// Len returns the number of journaled leaves.
	Len(ctx context.Context) (int, error)

	// Verify walks the journal and checks its consistency.
	// Returns nil if the journal is intact.
	Verify(ctx context.Context) error
}
