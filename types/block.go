// Package types holds the value types shared across the consensus core:
// blocks, block references, leader statuses and their canonical encoding.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Round is the position of a block in the DAG. Rounds only grow within an
// epoch.
type Round uint32

// AuthorityIndex is the dense index of a committee member.
type AuthorityIndex uint32

// StakeUnit is the voting weight of an authority.
type StakeUnit uint64

// DigestSize is the size of a block digest in bytes.
const DigestSize = sha256.Size

// BlockDigest is the content hash of a block header.
type BlockDigest [DigestSize]byte

func (d BlockDigest) String() string {
	return hex.EncodeToString(d[:4])
}

// BlockSlot names a leader position without needing the block itself.
type BlockSlot struct {
	Round  Round
	Author AuthorityIndex
}

func (s BlockSlot) String() string {
	return fmt.Sprintf("(%d,%d)", s.Round, s.Author)
}

// BlockRef uniquely identifies one block in the DAG.
type BlockRef struct {
	Round  Round
	Author AuthorityIndex
	Digest BlockDigest
}

func (r BlockRef) Slot() BlockSlot {
	return BlockSlot{Round: r.Round, Author: r.Author}
}

func (r BlockRef) String() string {
	return fmt.Sprintf("B%d(%d,%s)", r.Round, r.Author, r.Digest)
}

// wireRef is the encoded form of a BlockRef. Digests travel as byte strings
// so the codec output stays compact and stable.
type wireRef struct {
	Round  Round
	Author AuthorityIndex
	Digest []byte
}

func (r BlockRef) wire() wireRef {
	return wireRef{Round: r.Round, Author: r.Author, Digest: append([]byte(nil), r.Digest[:]...)}
}

func (w wireRef) ref() (BlockRef, error) {
	if len(w.Digest) != DigestSize {
		return BlockRef{}, fmt.Errorf("bad digest length %d", len(w.Digest))
	}
	ref := BlockRef{Round: w.Round, Author: w.Author}
	copy(ref.Digest[:], w.Digest)
	return ref, nil
}

func wireRefs(refs []BlockRef) []wireRef {
	if refs == nil {
		return nil
	}
	out := make([]wireRef, len(refs))
	for i, r := range refs {
		out[i] = r.wire()
	}
	return out
}

// header is the signed portion of a block. The digest is the sha256 of its
// canonical encoding.
type header struct {
	Round     Round
	Author    AuthorityIndex
	Timestamp int64
	Ancestors []wireRef
	Payloads  [][]byte
}

// Block is a vertex in the DAG. A block is immutable once signed; mutating a
// stored block is a protocol violation.
type Block struct {
	Round     Round
	Author    AuthorityIndex
	Timestamp int64
	Ancestors []BlockRef
	Payloads  [][]byte
	Signature []byte

	digest    BlockDigest
	hasDigest bool
}

// NewBlock assembles an unsigned block. Ancestors are stored sorted by
// (round, author, digest) so two blocks with the same parent set hash alike.
func NewBlock(round Round, author AuthorityIndex, timestamp int64, ancestors []BlockRef, payloads [][]byte) *Block {
	sorted := make([]BlockRef, len(ancestors))
	copy(sorted, ancestors)
	SortRefs(sorted)
	return &Block{
		Round:     round,
		Author:    author,
		Timestamp: timestamp,
		Ancestors: sorted,
		Payloads:  payloads,
	}
}

// SortRefs orders refs by round, then author, then digest.
func SortRefs(refs []BlockRef) {
	sort.Slice(refs, func(i, j int) bool {
		a, b := refs[i], refs[j]
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		if a.Author != b.Author {
			return a.Author < b.Author
		}
		return string(a.Digest[:]) < string(b.Digest[:])
	})
}

// HeaderBytes returns the canonical encoding of the signed portion.
func (b *Block) HeaderBytes() ([]byte, error) {
	return Encode(header{
		Round:     b.Round,
		Author:    b.Author,
		Timestamp: b.Timestamp,
		Ancestors: wireRefs(b.Ancestors),
		Payloads:  b.Payloads,
	})
}

// Digest returns the content hash of the block header. The hash is computed
// once and cached; blocks are immutable after construction.
func (b *Block) Digest() BlockDigest {
	if b.hasDigest {
		return b.digest
	}
	raw, err := b.HeaderBytes()
	if err != nil {
		// The header only holds fixed-shape value types; encoding them
		// cannot fail short of a codec bug.
		panic(fmt.Sprintf("encode block header: %v", err))
	}
	b.digest = sha256.Sum256(raw)
	b.hasDigest = true
	return b.digest
}

// Ref returns the unique reference of this block.
func (b *Block) Ref() BlockRef {
	return BlockRef{Round: b.Round, Author: b.Author, Digest: b.Digest()}
}

// Slot returns the (round, author) slot this block occupies.
func (b *Block) Slot() BlockSlot {
	return BlockSlot{Round: b.Round, Author: b.Author}
}

// LinksTo reports whether the block directly references ref as an ancestor.
func (b *Block) LinksTo(ref BlockRef) bool {
	for _, a := range b.Ancestors {
		if a == ref {
			return true
		}
	}
	return false
}

// LinksToSlot reports whether the block references any block at the slot.
func (b *Block) LinksToSlot(slot BlockSlot) bool {
	for _, a := range b.Ancestors {
		if a.Round == slot.Round && a.Author == slot.Author {
			return true
		}
	}
	return false
}

func (b *Block) String() string {
	return b.Ref().String()
}

// GenesisBlocks returns the canonical round-0 block of every authority.
// Genesis blocks carry no ancestors, no payload and no signature; every
// honest node derives the identical set.
func GenesisBlocks(size int) []*Block {
	blocks := make([]*Block, size)
	for i := range blocks {
		blocks[i] = NewBlock(0, AuthorityIndex(i), 0, nil, nil)
	}
	return blocks
}

// GenesisRefs returns the references of the canonical genesis blocks.
func GenesisRefs(size int) []BlockRef {
	blocks := GenesisBlocks(size)
	refs := make([]BlockRef, len(blocks))
	for i, b := range blocks {
		refs[i] = b.Ref()
	}
	return refs
}
