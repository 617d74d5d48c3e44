/*
Package store implements the DAG store: an append-only, content-addressed
collection of blocks keyed by (round, author, digest), plus the commit log
and sequencing watermark the output pipeline needs for crash recovery.

Two implementations are provided: an in-memory store for tests and
simulations, and a badger-backed store for real nodes. Both are safe for
concurrent use; stored blocks are never mutated in place, so reads need no
coordination with other readers.
*/
package store

import (
	"errors"

	"github.com/dagbft/wavedag/types"
)

// ErrNotFound is returned when a requested block is not in the store.
// A missing block behind an ancestor reference is a structural problem the
// caller must surface, never silently skip.
var ErrNotFound = errors.New("store: block not found")

// CommitRecord is one entry of the durable commit log: the n-th committed
// leader. The sequencer replays this log after a crash.
type CommitRecord struct {
	Index  uint64
	Leader types.BlockRef
}

// Store is the persistence interface the consensus core runs against.
type Store interface {
	// InsertBlock persists a block. Re-inserting a block with a digest
	// already present is a no-op, not an error.
	InsertBlock(b *types.Block) error

	// GetBlock fetches a block by reference, or ErrNotFound.
	GetBlock(ref types.BlockRef) (*types.Block, error)

	// BlocksAtRound returns every stored block at the round, ordered by
	// (author, digest).
	BlocksAtRound(r types.Round) ([]*types.Block, error)

	// BlocksAtSlot returns every stored block at the slot. More than one
	// entry means the author equivocated.
	BlocksAtSlot(s types.BlockSlot) ([]*types.Block, error)

	// LastRoundByAuthor returns the highest round the author has a stored
	// block at. ok is false when the author has no blocks.
	LastRoundByAuthor(a types.AuthorityIndex) (r types.Round, ok bool, err error)

	// ScanLastBlocksByAuthor returns the author's blocks from at most
	// maxRounds distinct rounds in descending round order. When before is
	// non-nil only rounds strictly below it are visited.
	ScanLastBlocksByAuthor(a types.AuthorityIndex, maxRounds int, before *types.Round) ([]*types.Block, error)

	// HighestRound returns the highest round any stored block occupies.
	HighestRound() (types.Round, error)

	// RecordCommit appends one entry to the commit log.
	RecordCommit(rec CommitRecord) error

	// ScanCommits returns the commit log in index order.
	ScanCommits() ([]CommitRecord, error)

	// Watermark returns the last sequenced leader round. ok is false until
	// the first commit has been sequenced.
	Watermark() (types.Round, bool, error)

	// SetWatermark advances the last sequenced leader round.
	SetWatermark(r types.Round) error

	Close() error
}
