/*
Package sequencer turns the committer's decision stream into the linear
block order handed to the execution layer.

Every Commit flattens the leader's causal history: all blocks not yet
sequenced by an earlier commit, ordered by (round, author, digest). Skips
contribute nothing. The sub-dag for each commit is appended to a durable
commit log and the sequencing watermark advances, so a restarted node
re-derives exactly the same output and emits nothing twice.
*/
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/dagbft/wavedag/dag"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
)

// ErrReplayDivergence means a re-derived decision after a restart does not
// match the durable commit log for the same leader round. The log is the
// ground truth already delivered downstream, so a divergent re-decision is
// fatal, never silently dropped.
var ErrReplayDivergence = errors.New("sequencer: replayed decision diverges from commit log")

// CommittedSubDag is one entry of the output stream: the committed leader
// and every newly sequenced block of its history, in final order.
type CommittedSubDag struct {
	// Index is the monotonic sequence number of this commit, starting at 0.
	Index  uint64
	Leader types.BlockRef
	Blocks []*types.Block
}

// Sequencer linearizes committed leaders. It is single-writer: exactly one
// goroutine may call HandleDecision, which also serializes the watermark.
type Sequencer struct {
	store  store.Store
	walker *dag.Walker
	logger hclog.Logger

	out chan CommittedSubDag

	sequenced map[types.BlockRef]struct{}
	nextIndex uint64
	// leader round of the last sequenced commit; decisions at or below it
	// are replays and are dropped after a cross-check against the log
	lastLeaderRound types.Round
	// committed leader per leader round, mirroring the durable commit log
	logged    map[types.Round]types.BlockRef
	recovered bool
}

// New builds a sequencer delivering sub-dags on a bounded channel of the
// given capacity. When the consumer lags, HandleDecision blocks rather than
// dropping output.
func New(s store.Store, w *dag.Walker, outCapacity int, logger hclog.Logger) *Sequencer {
	return &Sequencer{
		store:     s,
		walker:    w,
		logger:    logger.Named("sequencer"),
		out:       make(chan CommittedSubDag, outCapacity),
		sequenced: make(map[types.BlockRef]struct{}),
		logged:    make(map[types.Round]types.BlockRef),
	}
}

// SubDags is the output stream consumed by the execution layer.
func (s *Sequencer) SubDags() <-chan CommittedSubDag {
	return s.out
}

// Recover replays the durable commit log to rebuild the sequenced set and
// the next commit index. Nothing is emitted: everything in the log was
// already delivered before the restart. Must be called before the first
// HandleDecision.
func (s *Sequencer) Recover() error {
	subdags, err := s.Replay(0)
	if err != nil {
		return err
	}
	for _, sd := range subdags {
		for _, b := range sd.Blocks {
			s.sequenced[b.Ref()] = struct{}{}
		}
		s.nextIndex = sd.Index + 1
		s.lastLeaderRound = sd.Leader.Round
		s.logged[sd.Leader.Round] = sd.Leader
	}
	s.recovered = true
	if s.nextIndex > 0 {
		s.logger.Info("recovered from commit log",
			"commits", s.nextIndex, "last_leader_round", s.lastLeaderRound)
	}
	return nil
}

// Replay derives the output stream from the commit log starting at the
// given commit index. It is a pure read: replaying the same log always
// yields the same sub-dags in the same order.
func (s *Sequencer) Replay(from uint64) ([]CommittedSubDag, error) {
	log, err := s.store.ScanCommits()
	if err != nil {
		return nil, err
	}
	seen := make(map[types.BlockRef]struct{})
	var out []CommittedSubDag
	for _, rec := range log {
		leader, err := s.store.GetBlock(rec.Leader)
		if err != nil {
			return nil, fmt.Errorf("commit log entry %d points at missing leader %s: %w",
				rec.Index, rec.Leader, err)
		}
		blocks, err := s.flattenInto(leader, seen)
		if err != nil {
			return nil, err
		}
		if rec.Index >= from {
			out = append(out, CommittedSubDag{Index: rec.Index, Leader: rec.Leader, Blocks: blocks})
		}
	}
	return out, nil
}

// HandleDecision consumes one leader decision. Decisions must arrive in
// leader-round order. Commits already covered by the durable log (replays
// after a restart) are dropped.
func (s *Sequencer) HandleDecision(ctx context.Context, st types.LeaderStatus) error {
	if !s.recovered {
		return fmt.Errorf("sequencer used before recovery")
	}
	if st.Kind == types.LeaderUndecided {
		return fmt.Errorf("undecided status for %s reached the sequencer", st.Slot)
	}

	if s.nextIndex > 0 && st.Slot.Round <= s.lastLeaderRound {
		// Replay of a round the durable log already covers. It must agree
		// with what was delivered before the restart.
		logged, ok := s.logged[st.Slot.Round]
		switch {
		case st.Kind == types.LeaderCommit && !ok:
			return fmt.Errorf("%w: round %d re-decided commit %s, log has a skip",
				ErrReplayDivergence, st.Slot.Round, st.Block.Ref())
		case st.Kind == types.LeaderCommit && logged != st.Block.Ref():
			return fmt.Errorf("%w: round %d re-decided commit %s, log has %s",
				ErrReplayDivergence, st.Slot.Round, st.Block.Ref(), logged)
		case st.Kind == types.LeaderSkip && ok:
			return fmt.Errorf("%w: round %d re-decided skip, log has commit %s",
				ErrReplayDivergence, st.Slot.Round, logged)
		}
		return nil
	}

	if st.Kind == types.LeaderSkip {
		s.logger.Debug("leader skipped", "slot", st.Slot)
		return nil
	}

	blocks, err := s.flattenInto(st.Block, s.sequenced)
	if err != nil {
		return err
	}
	sd := CommittedSubDag{Index: s.nextIndex, Leader: st.Block.Ref(), Blocks: blocks}

	// Durable first, emit second: a crash between the two replays the
	// commit from the log instead of losing it.
	if err := s.store.RecordCommit(store.CommitRecord{Index: sd.Index, Leader: sd.Leader}); err != nil {
		return fmt.Errorf("record commit %d: %w", sd.Index, err)
	}
	if err := s.store.SetWatermark(st.Slot.Round); err != nil {
		return fmt.Errorf("advance watermark to %d: %w", st.Slot.Round, err)
	}
	s.nextIndex = sd.Index + 1
	s.lastLeaderRound = st.Slot.Round
	s.logged[st.Slot.Round] = sd.Leader

	select {
	case s.out <- sd:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("sequenced commit", "index", sd.Index, "leader", sd.Leader, "blocks", len(sd.Blocks))
	return nil
}

// flattenInto collects the leader's not-yet-sequenced causal history in
// final order and marks it sequenced.
func (s *Sequencer) flattenInto(leader *types.Block, sequenced map[types.BlockRef]struct{}) ([]*types.Block, error) {
	history, err := s.walker.Ancestors(leader, 0)
	if err != nil {
		return nil, err
	}
	var fresh []*types.Block
	for ref, b := range history {
		if _, done := sequenced[ref]; done {
			continue
		}
		sequenced[ref] = struct{}{}
		fresh = append(fresh, b)
	}
	// Causality refines into rounds, so (round, author, digest) is a
	// deterministic topological order.
	sort.Slice(fresh, func(i, j int) bool {
		a, b := fresh[i].Ref(), fresh[j].Ref()
		if a.Round != b.Round {
			return a.Round < b.Round
		}
		if a.Author != b.Author {
			return a.Author < b.Author
		}
		return string(a.Digest[:]) < string(b.Digest[:])
	})
	return fresh, nil
}
