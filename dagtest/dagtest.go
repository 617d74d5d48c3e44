// Package dagtest provides fixtures shared by the consensus tests: a
// committee with known signing keys and helpers to author blocks and grow
// rounds of the DAG.
package dagtest

import (
	"crypto/ed25519"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dagbft/wavedag/committee"
	"github.com/dagbft/wavedag/sign"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
)

// Fixture bundles a committee with the matching private keys so tests can
// author validly signed blocks for any authority.
type Fixture struct {
	Committee *committee.Committee
	Privs     []ed25519.PrivateKey
}

// NewFixture builds a committee of len(stakes) authorities with fresh keys.
func NewFixture(t *testing.T, stakes ...types.StakeUnit) *Fixture {
	t.Helper()
	auths := make([]committee.Authority, len(stakes))
	privs := make([]ed25519.PrivateKey, len(stakes))
	for i, stake := range stakes {
		priv, pub := sign.GenED25519Keys()
		privs[i] = priv
		auths[i] = committee.Authority{
			PubKey:   pub,
			Stake:    stake,
			Hostname: fmt.Sprintf("node%d", i),
		}
	}
	c, err := committee.New(1, auths)
	require.NoError(t, err)
	return &Fixture{Committee: c, Privs: privs}
}

// EqualStakes is the common four-authority setup with 250 stake each.
func EqualStakes(t *testing.T) *Fixture {
	t.Helper()
	return NewFixture(t, 250, 250, 250, 250)
}

// Block authors and signs one block for the given authority.
func (f *Fixture) Block(t *testing.T, round types.Round, author types.AuthorityIndex, ancestors []types.BlockRef, payloads ...[]byte) *types.Block {
	t.Helper()
	b := types.NewBlock(round, author, int64(round)*1000, ancestors, payloads)
	require.NoError(t, sign.SignBlock(f.Privs[author], b))
	return b
}

// Genesis returns the deterministic round-0 blocks for this committee.
func (f *Fixture) Genesis() []*types.Block {
	return types.GenesisBlocks(f.Committee.Size())
}

// SeedGenesis inserts the genesis blocks into st and returns them.
func (f *Fixture) SeedGenesis(t *testing.T, st store.Store) []*types.Block {
	t.Helper()
	gen := f.Genesis()
	for _, b := range gen {
		require.NoError(t, st.InsertBlock(b))
	}
	return gen
}

// NextRound authors one block per listed author at the given round, each
// linking every block of prev, and inserts them into st when st is non-nil.
func (f *Fixture) NextRound(t *testing.T, st store.Store, round types.Round, prev []*types.Block, authors ...types.AuthorityIndex) []*types.Block {
	t.Helper()
	refs := Refs(prev)
	out := make([]*types.Block, 0, len(authors))
	for _, a := range authors {
		b := f.Block(t, round, a, refs)
		if st != nil {
			require.NoError(t, st.InsertBlock(b))
		}
		out = append(out, b)
	}
	return out
}

// AllAuthors lists every authority index of the committee in order.
func (f *Fixture) AllAuthors() []types.AuthorityIndex {
	out := make([]types.AuthorityIndex, f.Committee.Size())
	for i := range out {
		out[i] = types.AuthorityIndex(i)
	}
	return out
}

// Refs extracts the refs of blocks, preserving order.
func Refs(blocks []*types.Block) []types.BlockRef {
	refs := make([]types.BlockRef, len(blocks))
	for i, b := range blocks {
		refs[i] = b.Ref()
	}
	return refs
}
