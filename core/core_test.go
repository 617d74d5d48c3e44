package core

import (
	"context"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/wavedag/committer"
	"github.com/dagbft/wavedag/dagtest"
	"github.com/dagbft/wavedag/sequencer"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
)

func leaderZero(r types.Round) (types.AuthorityIndex, bool) {
	return 0, true
}

func startCore(t *testing.T, f *dagtest.Fixture, st store.Store) (*Core, context.CancelFunc, chan error) {
	co, err := New(f.Committee, st, Options{
		Schedule: committer.ScheduleFunc(leaderZero),
		Logger:   hclog.NewNullLogger(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- co.Run(ctx) }()
	return co, cancel, done
}

func waitSubDag(t *testing.T, co *Core) sequencer.CommittedSubDag {
	t.Helper()
	select {
	case sd := <-co.SubDags():
		return sd
	case <-time.After(5 * time.Second):
		t.Fatal("no committed sub-dag within deadline")
		return sequencer.CommittedSubDag{}
	}
}

func TestPipelineCommits(t *testing.T) {
	f := dagtest.EqualStakes(t)
	st := store.NewMemStore()
	co, cancel, done := startCore(t, f, st)
	defer cancel()

	gen := f.Genesis()
	r1 := f.NextRound(t, nil, 1, gen, f.AllAuthors()...)
	r2 := f.NextRound(t, nil, 2, r1, 1, 2, 3)

	ctx := context.Background()
	for _, b := range r1 {
		require.NoError(t, co.Submit(ctx, b))
	}
	for _, b := range r2 {
		require.NoError(t, co.Submit(ctx, b))
	}

	sd := waitSubDag(t, co)
	assert.Equal(t, uint64(0), sd.Index)
	assert.Equal(t, r1[0].Ref(), sd.Leader)
	// 4 genesis + the leader.
	assert.Len(t, sd.Blocks, 5)

	cancel()
	require.NoError(t, <-done)
}

func TestPipelineReordersArrivals(t *testing.T) {
	f := dagtest.EqualStakes(t)
	st := store.NewMemStore()
	co, cancel, done := startCore(t, f, st)
	defer cancel()

	gen := f.Genesis()
	r1 := f.NextRound(t, nil, 1, gen, f.AllAuthors()...)
	r2 := f.NextRound(t, nil, 2, r1, 1, 2, 3)

	// Round 2 first: the blocks wait in the pending buffer until their
	// ancestors arrive.
	ctx := context.Background()
	for _, b := range r2 {
		require.NoError(t, co.Submit(ctx, b))
	}
	for _, b := range r1 {
		require.NoError(t, co.Submit(ctx, b))
	}

	sd := waitSubDag(t, co)
	assert.Equal(t, r1[0].Ref(), sd.Leader)

	cancel()
	require.NoError(t, <-done)
}

func TestPipelineSurvivesInvalidBlocks(t *testing.T) {
	f := dagtest.EqualStakes(t)
	st := store.NewMemStore()
	co, cancel, done := startCore(t, f, st)
	defer cancel()

	gen := f.Genesis()
	r1 := f.NextRound(t, nil, 1, gen, f.AllAuthors()...)
	r2 := f.NextRound(t, nil, 2, r1, 1, 2, 3)

	// Unsigned garbage ahead of the honest traffic.
	forged := types.NewBlock(1, 2, 9, dagtest.Refs(gen), [][]byte{[]byte("forged")})

	ctx := context.Background()
	require.NoError(t, co.Submit(ctx, forged))
	for _, b := range append(append([]*types.Block{}, r1...), r2...) {
		require.NoError(t, co.Submit(ctx, b))
	}

	sd := waitSubDag(t, co)
	assert.Equal(t, r1[0].Ref(), sd.Leader)

	cancel()
	require.NoError(t, <-done)
}

func TestAnalyzeAuthors(t *testing.T) {
	f := dagtest.EqualStakes(t)
	st := store.NewMemStore()
	co, err := New(f.Committee, st, Options{Logger: hclog.NewNullLogger()})
	require.NoError(t, err)

	gen := f.Genesis()
	r1 := f.NextRound(t, st, 1, gen, f.AllAuthors()...)
	f.NextRound(t, st, 2, r1, 0, 1)

	byAuthor, err := co.AnalyzeAuthors(2)
	require.NoError(t, err)
	require.Len(t, byAuthor, 4)
	assert.Len(t, byAuthor[0], 2)
	assert.Len(t, byAuthor[3], 2)
	assert.Equal(t, types.Round(2), byAuthor[1][0].Round)
}
