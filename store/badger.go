package store

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v2"
	"github.com/hashicorp/go-hclog"

	"github.com/dagbft/wavedag/types"
)

// Key layout, all integers big-endian so lexicographic order is range order:
//
//	b | round(4) | author(4) | digest(32)  -> block bytes
//	a | author(4) | round(4) | digest(32)  -> nil (secondary index)
//	c | index(8)                           -> commit record bytes
//	w                                      -> watermark round(4)
//	h                                      -> highest round(4)
const (
	tagBlock  byte = 'b'
	tagAuthor byte = 'a'
	tagCommit byte = 'c'
)

var (
	keyWatermark = []byte{'w'}
	keyHighest   = []byte{'h'}
)

// BadgerStore persists the DAG in an embedded badger database. Blocks are
// written once and never rewritten, matching the append-only store contract.
type BadgerStore struct {
	db     *badger.DB
	logger hclog.Logger
}

// OpenBadger opens (or creates) a store at dir. An empty dir opens an
// in-memory database, useful for tests that still want the badger code path.
func OpenBadger(dir string, logger hclog.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", dir, err)
	}
	return &BadgerStore{db: db, logger: logger.Named("store")}, nil
}

func blockKey(ref types.BlockRef) []byte {
	k := make([]byte, 0, 1+4+4+types.DigestSize)
	k = append(k, tagBlock)
	k = binary.BigEndian.AppendUint32(k, uint32(ref.Round))
	k = binary.BigEndian.AppendUint32(k, uint32(ref.Author))
	return append(k, ref.Digest[:]...)
}

func authorKey(ref types.BlockRef) []byte {
	k := make([]byte, 0, 1+4+4+types.DigestSize)
	k = append(k, tagAuthor)
	k = binary.BigEndian.AppendUint32(k, uint32(ref.Author))
	k = binary.BigEndian.AppendUint32(k, uint32(ref.Round))
	return append(k, ref.Digest[:]...)
}

func commitKey(index uint64) []byte {
	k := make([]byte, 0, 1+8)
	k = append(k, tagCommit)
	return binary.BigEndian.AppendUint64(k, index)
}

// refFromAuthorKey rebuilds a block reference from a secondary-index key.
func refFromAuthorKey(k []byte) (types.BlockRef, error) {
	if len(k) != 1+4+4+types.DigestSize {
		return types.BlockRef{}, fmt.Errorf("bad author index key length %d", len(k))
	}
	var ref types.BlockRef
	ref.Author = types.AuthorityIndex(binary.BigEndian.Uint32(k[1:5]))
	ref.Round = types.Round(binary.BigEndian.Uint32(k[5:9]))
	copy(ref.Digest[:], k[9:])
	return ref, nil
}

func (s *BadgerStore) InsertBlock(b *types.Block) error {
	ref := b.Ref()
	raw, err := types.MarshalBlock(b)
	if err != nil {
		return fmt.Errorf("encode block %s: %w", ref, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		key := blockKey(ref)
		if _, err := txn.Get(key); err == nil {
			// Same digest, same content: idempotent no-op.
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if err := txn.Set(key, raw); err != nil {
			return err
		}
		if err := txn.Set(authorKey(ref), nil); err != nil {
			return err
		}
		highest, err := readRound(txn, keyHighest)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == badger.ErrKeyNotFound || b.Round > highest {
			return txn.Set(keyHighest, roundBytes(b.Round))
		}
		return nil
	})
}

func (s *BadgerStore) GetBlock(ref types.BlockRef) (*types.Block, error) {
	var out *types.Block
	err := s.db.View(func(txn *badger.Txn) error {
		b, err := getBlock(txn, ref)
		out = b
		return err
	})
	return out, err
}

func getBlock(txn *badger.Txn, ref types.BlockRef) (*types.Block, error) {
	item, err := txn.Get(blockKey(ref))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	b, err := types.UnmarshalBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("decode block %s: %w", ref, err)
	}
	return b, nil
}

func (s *BadgerStore) BlocksAtRound(r types.Round) ([]*types.Block, error) {
	prefix := make([]byte, 0, 5)
	prefix = append(prefix, tagBlock)
	prefix = binary.BigEndian.AppendUint32(prefix, uint32(r))
	return s.scanBlocks(prefix)
}

func (s *BadgerStore) BlocksAtSlot(slot types.BlockSlot) ([]*types.Block, error) {
	prefix := make([]byte, 0, 9)
	prefix = append(prefix, tagBlock)
	prefix = binary.BigEndian.AppendUint32(prefix, uint32(slot.Round))
	prefix = binary.BigEndian.AppendUint32(prefix, uint32(slot.Author))
	return s.scanBlocks(prefix)
}

func (s *BadgerStore) scanBlocks(prefix []byte) ([]*types.Block, error) {
	var out []*types.Block
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			b, err := types.UnmarshalBlock(raw)
			if err != nil {
				return err
			}
			out = append(out, b)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) LastRoundByAuthor(a types.AuthorityIndex) (types.Round, bool, error) {
	blocks, err := s.ScanLastBlocksByAuthor(a, 1, nil)
	if err != nil || len(blocks) == 0 {
		return 0, false, err
	}
	return blocks[0].Round, true, nil
}

func (s *BadgerStore) ScanLastBlocksByAuthor(a types.AuthorityIndex, maxRounds int, before *types.Round) ([]*types.Block, error) {
	prefix := make([]byte, 0, 5)
	prefix = append(prefix, tagAuthor)
	prefix = binary.BigEndian.AppendUint32(prefix, uint32(a))

	var out []*types.Block
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode the seek key must sit at or past the last key
		// of the prefix range: prefix plus maxed-out round and digest.
		seek := append([]byte{}, prefix...)
		for i := 0; i < 4+types.DigestSize; i++ {
			seek = append(seek, 0xff)
		}
		seen := 0
		var lastRound types.Round
		haveRound := false
		for it.Seek(seek); it.Valid() && seen <= maxRounds; it.Next() {
			ref, err := refFromAuthorKey(it.Item().KeyCopy(nil))
			if err != nil {
				return err
			}
			if before != nil && ref.Round >= *before {
				continue
			}
			if !haveRound || ref.Round != lastRound {
				haveRound = true
				lastRound = ref.Round
				seen++
				if seen > maxRounds {
					break
				}
			}
			b, err := getBlock(txn, ref)
			if err != nil {
				return fmt.Errorf("author index points at missing block %s: %w", ref, err)
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Reverse iteration yields descending digests inside one round; restore
	// the canonical order of rounds descending, digests ascending.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Ref(), out[j].Ref()
		if a.Round != b.Round {
			return a.Round > b.Round
		}
		return string(a.Digest[:]) < string(b.Digest[:])
	})
	return out, nil
}

func (s *BadgerStore) HighestRound() (types.Round, error) {
	var r types.Round
	err := s.db.View(func(txn *badger.Txn) error {
		got, err := readRound(txn, keyHighest)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		r = got
		return err
	})
	return r, err
}

// wireCommit is the persisted form of a CommitRecord.
type wireCommit struct {
	Index  uint64
	Round  types.Round
	Author types.AuthorityIndex
	Digest []byte
}

func (s *BadgerStore) RecordCommit(rec CommitRecord) error {
	raw, err := types.Encode(wireCommit{
		Index:  rec.Index,
		Round:  rec.Leader.Round,
		Author: rec.Leader.Author,
		Digest: rec.Leader.Digest[:],
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(commitKey(rec.Index), raw)
	})
}

func (s *BadgerStore) ScanCommits() ([]CommitRecord, error) {
	var out []CommitRecord
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte{tagCommit}
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var w wireCommit
			if err := types.Decode(raw, &w); err != nil {
				return err
			}
			if len(w.Digest) != types.DigestSize {
				return fmt.Errorf("bad commit digest length %d", len(w.Digest))
			}
			rec := CommitRecord{Index: w.Index, Leader: types.BlockRef{Round: w.Round, Author: w.Author}}
			copy(rec.Leader.Digest[:], w.Digest)
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Watermark() (types.Round, bool, error) {
	var (
		r  types.Round
		ok bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		got, err := readRound(txn, keyWatermark)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		r, ok = got, true
		return nil
	})
	return r, ok, err
}

func (s *BadgerStore) SetWatermark(r types.Round) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyWatermark, roundBytes(r))
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func roundBytes(r types.Round) []byte {
	return binary.BigEndian.AppendUint32(nil, uint32(r))
}

func readRound(txn *badger.Txn, key []byte) (types.Round, error) {
	item, err := txn.Get(key)
	if err != nil {
		return 0, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	if len(raw) != 4 {
		return 0, fmt.Errorf("bad round value length %d", len(raw))
	}
	return types.Round(binary.BigEndian.Uint32(raw)), nil
}
