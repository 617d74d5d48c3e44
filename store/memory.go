package store

import (
	"sort"
	"sync"

	"github.com/dagbft/wavedag/types"
)

// MemStore keeps the whole DAG in process memory. It is the reference
// implementation used by tests and simulations.
type MemStore struct {
	mu      sync.RWMutex
	byRef   map[types.BlockRef]*types.Block
	byRound map[types.Round]map[types.AuthorityIndex][]*types.Block
	// rounds an author has blocks at, kept sorted ascending
	authorRounds map[types.AuthorityIndex][]types.Round
	highest      types.Round

	commits      []CommitRecord
	watermark    types.Round
	hasWatermark bool
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		byRef:        make(map[types.BlockRef]*types.Block),
		byRound:      make(map[types.Round]map[types.AuthorityIndex][]*types.Block),
		authorRounds: make(map[types.AuthorityIndex][]types.Round),
	}
}

func (m *MemStore) InsertBlock(b *types.Block) error {
	ref := b.Ref()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byRef[ref]; ok {
		return nil
	}
	m.byRef[ref] = b
	roundMap, ok := m.byRound[b.Round]
	if !ok {
		roundMap = make(map[types.AuthorityIndex][]*types.Block)
		m.byRound[b.Round] = roundMap
	}
	if len(roundMap[b.Author]) == 0 {
		rounds := m.authorRounds[b.Author]
		i := sort.Search(len(rounds), func(i int) bool { return rounds[i] >= b.Round })
		rounds = append(rounds, 0)
		copy(rounds[i+1:], rounds[i:])
		rounds[i] = b.Round
		m.authorRounds[b.Author] = rounds
	}
	roundMap[b.Author] = append(roundMap[b.Author], b)
	if b.Round > m.highest {
		m.highest = b.Round
	}
	return nil
}

func (m *MemStore) GetBlock(ref types.BlockRef) (*types.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.byRef[ref]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}

func (m *MemStore) BlocksAtRound(r types.Round) ([]*types.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Block
	for _, blocks := range m.byRound[r] {
		out = append(out, blocks...)
	}
	sortBlocks(out)
	return out, nil
}

func (m *MemStore) BlocksAtSlot(s types.BlockSlot) ([]*types.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	blocks := m.byRound[s.Round][s.Author]
	out := make([]*types.Block, len(blocks))
	copy(out, blocks)
	sortBlocks(out)
	return out, nil
}

func (m *MemStore) LastRoundByAuthor(a types.AuthorityIndex) (types.Round, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rounds := m.authorRounds[a]
	if len(rounds) == 0 {
		return 0, false, nil
	}
	return rounds[len(rounds)-1], true, nil
}

func (m *MemStore) ScanLastBlocksByAuthor(a types.AuthorityIndex, maxRounds int, before *types.Round) ([]*types.Block, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rounds := m.authorRounds[a]
	var out []*types.Block
	visited := 0
	for i := len(rounds) - 1; i >= 0 && visited < maxRounds; i-- {
		r := rounds[i]
		if before != nil && r >= *before {
			continue
		}
		blocks := m.byRound[r][a]
		sorted := make([]*types.Block, len(blocks))
		copy(sorted, blocks)
		sortBlocks(sorted)
		out = append(out, sorted...)
		visited++
	}
	return out, nil
}

func (m *MemStore) HighestRound() (types.Round, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.highest, nil
}

func (m *MemStore) RecordCommit(rec CommitRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commits = append(m.commits, rec)
	return nil
}

func (m *MemStore) ScanCommits() ([]CommitRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]CommitRecord, len(m.commits))
	copy(out, m.commits)
	return out, nil
}

func (m *MemStore) Watermark() (types.Round, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.watermark, m.hasWatermark, nil
}

func (m *MemStore) SetWatermark(r types.Round) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watermark = r
	m.hasWatermark = true
	return nil
}

func (m *MemStore) Close() error {
	return nil
}

func sortBlocks(blocks []*types.Block) {
	sort.Slice(blocks, func(i, j int) bool {
		a, b := blocks[i].Ref(), blocks[j].Ref()
		if a.Author != b.Author {
			return a.Author < b.Author
		}
		return string(a.Digest[:]) < string(b.Digest[:])
	})
}
