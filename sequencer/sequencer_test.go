package sequencer

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/wavedag/dag"
	"github.com/dagbft/wavedag/dagtest"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
)

func setup(t *testing.T) (*dagtest.Fixture, store.Store, *Sequencer) {
	f := dagtest.EqualStakes(t)
	st := store.NewMemStore()
	w := dag.NewWalker(st, f.Committee)
	s := New(st, w, 16, hclog.NewNullLogger())
	f.SeedGenesis(t, st)
	require.NoError(t, s.Recover())
	return f, st, s
}

// grow links num fully connected rounds on top of prev and returns all of
// them by round.
func grow(t *testing.T, f *dagtest.Fixture, st store.Store, prev []*types.Block, from types.Round, num int) [][]*types.Block {
	out := make([][]*types.Block, 0, num)
	for i := 0; i < num; i++ {
		prev = f.NextRound(t, st, from+types.Round(i), prev, f.AllAuthors()...)
		out = append(out, prev)
	}
	return out
}

func TestFlattenOrder(t *testing.T) {
	f, st, s := setup(t)
	rounds := grow(t, f, st, f.Genesis(), 1, 2)
	leader := rounds[1][2]

	require.NoError(t, s.HandleDecision(context.Background(), types.CommitStatus(leader)))
	sd := <-s.SubDags()

	assert.Equal(t, uint64(0), sd.Index)
	assert.Equal(t, leader.Ref(), sd.Leader)
	// 4 genesis + 4 round-1 + the leader itself.
	require.Len(t, sd.Blocks, 9)
	for i := 1; i < len(sd.Blocks); i++ {
		prev, cur := sd.Blocks[i-1].Ref(), sd.Blocks[i].Ref()
		ordered := prev.Round < cur.Round ||
			(prev.Round == cur.Round && prev.Author < cur.Author)
		assert.True(t, ordered, "blocks %d and %d out of order", i-1, i)
	}
	assert.Equal(t, leader.Ref(), sd.Blocks[len(sd.Blocks)-1].Ref())
}

func TestLaterCommitExcludesSequenced(t *testing.T) {
	f, st, s := setup(t)
	rounds := grow(t, f, st, f.Genesis(), 1, 4)
	ctx := context.Background()

	require.NoError(t, s.HandleDecision(ctx, types.CommitStatus(rounds[1][0])))
	first := <-s.SubDags()

	require.NoError(t, s.HandleDecision(ctx, types.CommitStatus(rounds[3][1])))
	second := <-s.SubDags()

	assert.Equal(t, uint64(1), second.Index)
	seen := make(map[types.BlockRef]struct{})
	for _, b := range first.Blocks {
		seen[b.Ref()] = struct{}{}
	}
	for _, b := range second.Blocks {
		_, dup := seen[b.Ref()]
		assert.False(t, dup, "block %s sequenced twice", b.Ref())
	}
	// The two sub-dags cover the second leader's history exactly once:
	// 16 blocks in rounds 0 through 3 plus the leader itself.
	assert.Len(t, second.Blocks, 17-len(first.Blocks))
}

func TestSkipContributesNothing(t *testing.T) {
	f, st, s := setup(t)
	grow(t, f, st, f.Genesis(), 1, 2)
	ctx := context.Background()

	require.NoError(t, s.HandleDecision(ctx, types.SkipStatus(types.BlockSlot{Round: 1, Author: 0})))
	select {
	case sd := <-s.SubDags():
		t.Fatalf("unexpected sub-dag %d from a skip", sd.Index)
	default:
	}

	recs, err := st.ScanCommits()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestUndecidedIsAnError(t *testing.T) {
	_, _, s := setup(t)
	err := s.HandleDecision(context.Background(), types.UndecidedStatus(types.BlockSlot{Round: 1}))
	assert.Error(t, err)
}

func TestRequiresRecovery(t *testing.T) {
	f := dagtest.EqualStakes(t)
	st := store.NewMemStore()
	w := dag.NewWalker(st, f.Committee)
	s := New(st, w, 16, hclog.NewNullLogger())

	err := s.HandleDecision(context.Background(), types.SkipStatus(types.BlockSlot{Round: 1}))
	assert.Error(t, err)
}

func TestRecoveryReplaysNothingTwice(t *testing.T) {
	f, st, s := setup(t)
	rounds := grow(t, f, st, f.Genesis(), 1, 4)
	ctx := context.Background()

	require.NoError(t, s.HandleDecision(ctx, types.CommitStatus(rounds[0][0])))
	require.NoError(t, s.HandleDecision(ctx, types.CommitStatus(rounds[2][1])))
	first := <-s.SubDags()
	second := <-s.SubDags()

	// A restarted sequencer over the same store rebuilds its state from the
	// commit log without emitting.
	w := dag.NewWalker(st, f.Committee)
	restarted := New(st, w, 16, hclog.NewNullLogger())
	require.NoError(t, restarted.Recover())
	select {
	case sd := <-restarted.SubDags():
		t.Fatalf("recovery emitted sub-dag %d", sd.Index)
	default:
	}

	// Replayed decisions from the committer are dropped.
	require.NoError(t, restarted.HandleDecision(ctx, types.CommitStatus(rounds[0][0])))
	require.NoError(t, restarted.HandleDecision(ctx, types.CommitStatus(rounds[2][1])))
	select {
	case sd := <-restarted.SubDags():
		t.Fatalf("replayed commit re-emitted sub-dag %d", sd.Index)
	default:
	}

	// A genuinely new commit continues the sequence.
	require.NoError(t, restarted.HandleDecision(ctx, types.CommitStatus(rounds[3][2])))
	third := <-restarted.SubDags()
	assert.Equal(t, uint64(2), third.Index)

	// Pure replay derives the exact same stream.
	replayed, err := restarted.Replay(0)
	require.NoError(t, err)
	require.Len(t, replayed, 3)
	assert.Equal(t, first.Leader, replayed[0].Leader)
	assert.Equal(t, dagtest.Refs(first.Blocks), dagtest.Refs(replayed[0].Blocks))
	assert.Equal(t, second.Leader, replayed[1].Leader)
	assert.Equal(t, dagtest.Refs(second.Blocks), dagtest.Refs(replayed[1].Blocks))
	assert.Equal(t, third.Leader, replayed[2].Leader)
	assert.Equal(t, dagtest.Refs(third.Blocks), dagtest.Refs(replayed[2].Blocks))
}

func TestDivergentReplayIsFatal(t *testing.T) {
	f, st, s := setup(t)
	rounds := grow(t, f, st, f.Genesis(), 1, 2)
	ctx := context.Background()

	require.NoError(t, s.HandleDecision(ctx, types.CommitStatus(rounds[0][0])))
	<-s.SubDags()

	w := dag.NewWalker(st, f.Committee)
	restarted := New(st, w, 16, hclog.NewNullLogger())
	require.NoError(t, restarted.Recover())

	// A re-decision naming a different leader block for a logged round must
	// halt, not be swallowed as a replay.
	other := f.Block(t, 1, 0, dagtest.Refs(f.Genesis()), []byte("fork"))
	err := restarted.HandleDecision(ctx, types.CommitStatus(other))
	assert.ErrorIs(t, err, ErrReplayDivergence)

	// So must a skip for a round the log committed.
	err = restarted.HandleDecision(ctx, types.SkipStatus(rounds[0][0].Slot()))
	assert.ErrorIs(t, err, ErrReplayDivergence)

	// The matching replay is still dropped silently.
	require.NoError(t, restarted.HandleDecision(ctx, types.CommitStatus(rounds[0][0])))
	select {
	case sd := <-restarted.SubDags():
		t.Fatalf("matching replay re-emitted sub-dag %d", sd.Index)
	default:
	}
}

func TestWatermarkAdvances(t *testing.T) {
	f, st, s := setup(t)
	rounds := grow(t, f, st, f.Genesis(), 1, 3)
	ctx := context.Background()

	_, ok, err := st.Watermark()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.HandleDecision(ctx, types.CommitStatus(rounds[0][0])))
	<-s.SubDags()
	r, ok, err := st.Watermark()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.Round(1), r)

	require.NoError(t, s.HandleDecision(ctx, types.CommitStatus(rounds[2][3])))
	<-s.SubDags()
	r, _, err = st.Watermark()
	require.NoError(t, err)
	assert.Equal(t, types.Round(3), r)
}
