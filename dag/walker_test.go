package dag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/wavedag/dagtest"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
)

func setup(t *testing.T) (*dagtest.Fixture, store.Store, *Walker) {
	f := dagtest.EqualStakes(t)
	st := store.NewMemStore()
	return f, st, NewWalker(st, f.Committee)
}

func TestAncestorsFullHistory(t *testing.T) {
	f, st, w := setup(t)
	gen := f.SeedGenesis(t, st)
	r1 := f.NextRound(t, st, 1, gen, f.AllAuthors()...)
	r2 := f.NextRound(t, st, 2, r1, f.AllAuthors()...)

	set, err := w.Ancestors(r2[0], 0)
	require.NoError(t, err)
	// 4 genesis + 4 round-1 + itself.
	assert.Len(t, set, 9)
	assert.Contains(t, set, r2[0].Ref())
	assert.Contains(t, set, gen[3].Ref())
}

func TestAncestorsLowerBound(t *testing.T) {
	f, st, w := setup(t)
	gen := f.SeedGenesis(t, st)
	r1 := f.NextRound(t, st, 1, gen, f.AllAuthors()...)
	r2 := f.NextRound(t, st, 2, r1, f.AllAuthors()...)
	r3 := f.NextRound(t, st, 3, r2, f.AllAuthors()...)

	set, err := w.Ancestors(r3[0], 2)
	require.NoError(t, err)
	// Round 2 and the start block only.
	assert.Len(t, set, 5)
	for ref := range set {
		assert.GreaterOrEqual(t, ref.Round, types.Round(2))
	}
}

func TestAncestorsPartialLinks(t *testing.T) {
	f, st, w := setup(t)
	gen := f.SeedGenesis(t, st)
	r1 := f.NextRound(t, st, 1, gen, f.AllAuthors()...)
	// A block linking only two of the four round-1 parents.
	b := f.Block(t, 2, 0, dagtest.Refs(r1[:2]))
	require.NoError(t, st.InsertBlock(b))

	set, err := w.Ancestors(b, 1)
	require.NoError(t, err)
	assert.Len(t, set, 3)
	assert.NotContains(t, set, r1[3].Ref())
}

func TestReachable(t *testing.T) {
	f, st, w := setup(t)
	gen := f.SeedGenesis(t, st)
	// Author 3's round-1 block is left out of every later parent set.
	r1 := f.NextRound(t, st, 1, gen, 0, 1, 2)
	orphan := f.Block(t, 1, 3, dagtest.Refs(gen))
	require.NoError(t, st.InsertBlock(orphan))
	r2 := f.NextRound(t, st, 2, r1, f.AllAuthors()...)
	r3 := f.NextRound(t, st, 3, r2, f.AllAuthors()...)

	got, err := w.Reachable(r3[0], r1[1].Ref())
	require.NoError(t, err)
	assert.True(t, got)

	got, err = w.Reachable(r3[0], orphan.Ref())
	require.NoError(t, err)
	assert.False(t, got)

	got, err = w.Reachable(r3[0], r3[0].Ref())
	require.NoError(t, err)
	assert.True(t, got, "a block reaches itself")
}

func TestStakeCoverage(t *testing.T) {
	f, st, w := setup(t)
	gen := f.SeedGenesis(t, st)
	r1 := f.NextRound(t, st, 1, gen, 0, 1, 2)

	set, err := w.Ancestors(r1[0], 0)
	require.NoError(t, err)
	assert.Equal(t, types.StakeUnit(1000), w.StakeCoveredAtRound(0, set))
	assert.Equal(t, types.StakeUnit(250), w.StakeCoveredAtRound(1, set))

	refs := dagtest.Refs(r1)
	assert.Equal(t, types.StakeUnit(750), w.StakeOfRefsAtRound(1, refs))
	assert.Equal(t, types.StakeUnit(0), w.StakeOfRefsAtRound(2, refs))

	// Duplicate refs from one author count once.
	dup := append(refs, refs[0])
	assert.Equal(t, types.StakeUnit(750), w.StakeOfRefsAtRound(1, dup))
}

func TestDeepHistoryWalk(t *testing.T) {
	f, st, w := setup(t)
	prev := f.SeedGenesis(t, st)

	const depth = 2000
	for r := types.Round(1); r <= depth; r++ {
		prev = f.NextRound(t, st, r, prev, f.AllAuthors()...)
	}

	set, err := w.Ancestors(prev[0], 0)
	require.NoError(t, err)
	assert.Len(t, set, 4*(depth+1)-3)

	genesis := types.GenesisRefs(4)
	got, err := w.Reachable(prev[0], genesis[2])
	require.NoError(t, err)
	assert.True(t, got)
}
