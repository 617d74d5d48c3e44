/*
Package committer implements the leader-election and commit rule over the
block DAG.

Rounds are grouped into waves: a leader round followed by voting rounds, the
last of which is the decision round. For every wave the committer resolves
the leader slot to one of three states: Commit (the leader block and its
history become part of the committed chain), Skip (the slot will never
contribute), or Undecided (more of the DAG is needed). Undecided is the only
non-terminal state; re-running the committer as blocks arrive eventually
resolves it.

The committer is a pure function of the local DAG view, the committee and
the leader schedule. Given the same view, every honest validator reaches
the same decisions; nothing here reads clocks or randomness.
*/
package committer

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/dagbft/wavedag/committee"
	"github.com/dagbft/wavedag/dag"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
)

// ErrSafetyViolation means the local view implies both Commit and Skip for
// one leader slot. That is provably impossible below the fault threshold,
// so it signals a bug or an attack exceeding it; consensus output for this
// instance must halt rather than pick a side.
var ErrSafetyViolation = errors.New("committer: conflicting decisions for one leader slot")

// MinWaveLength is a leader round plus one voting round that doubles as the
// decision round.
const MinWaveLength = 2

// Committer evaluates waves against the DAG store. It must only be driven
// from one goroutine per consensus instance; decisions are emitted strictly
// in leader-round order.
type Committer struct {
	committee  *committee.Committee
	store      store.Store
	walker     *dag.Walker
	schedule   LeaderSchedule
	waveLength types.Round
	logger     hclog.Logger

	// terminal kinds by leader round, the safety guard of §record
	decided  map[types.Round]types.LeaderKind
	nextWave uint64
}

// New builds a committer. waveLength is the number of rounds per wave:
// MinWaveLength commits on a quorum of direct votes, larger values demand
// certificates at the decision round.
func New(c *committee.Committee, s store.Store, w *dag.Walker, schedule LeaderSchedule, waveLength types.Round, logger hclog.Logger) (*Committer, error) {
	if waveLength < MinWaveLength {
		return nil, fmt.Errorf("wave length %d below minimum %d", waveLength, MinWaveLength)
	}
	return &Committer{
		committee:  c,
		store:      s,
		walker:     w,
		schedule:   schedule,
		waveLength: waveLength,
		logger:     logger.Named("committer"),
		decided:    make(map[types.Round]types.LeaderKind),
		nextWave:   1,
	}, nil
}

// LeaderRound returns the leader round of wave w (waves start at 1; round 0
// is genesis and has no leader).
func (c *Committer) LeaderRound(w uint64) types.Round {
	return types.Round(w-1)*c.waveLength + 1
}

// DecisionRound returns the last round of wave w.
func (c *Committer) DecisionRound(w uint64) types.Round {
	return c.LeaderRound(w) + c.waveLength - 1
}

// WaveOf returns the wave a leader round belongs to.
func (c *Committer) WaveOf(r types.Round) uint64 {
	if r == 0 {
		return 0
	}
	return uint64((r-1)/c.waveLength) + 1
}

// TryDecide evaluates every wave the DAG has grown into and returns the
// newly decided leader statuses in leader-round order. An undecided wave
// holds back the waves behind it; they are re-derived on the next call.
// The only error conditions are storage failures and safety violations.
func (c *Committer) TryDecide() ([]types.LeaderStatus, error) {
	highest, err := c.store.HighestRound()
	if err != nil {
		return nil, err
	}

	var pending []types.LeaderStatus
	for w := c.nextWave; c.LeaderRound(w) <= highest; w++ {
		st, err := c.decideWave(w)
		if err != nil {
			return nil, err
		}
		pending = append(pending, st)
	}

	// Indirect rule: a committed leader anchors every earlier undecided
	// slot. The anchor carries quorum support, so any leader that could
	// still commit must sit in its causal history; one that does not is
	// safely skipped.
	var anchor *types.Block
	for i := len(pending) - 1; i >= 0; i-- {
		switch pending[i].Kind {
		case types.LeaderCommit:
			anchor = pending[i].Block
		case types.LeaderUndecided:
			if anchor == nil {
				continue
			}
			st, err := c.decideByAnchor(pending[i].Slot, anchor)
			if err != nil {
				return nil, err
			}
			pending[i] = st
			if st.Kind == types.LeaderCommit {
				anchor = st.Block
			}
		}
	}

	var out []types.LeaderStatus
	for _, st := range pending {
		if !st.Decided() {
			break
		}
		if err := c.record(st); err != nil {
			return nil, err
		}
		out = append(out, st)
		c.nextWave++
	}
	return out, nil
}

// decideByAnchor resolves an undecided slot below a committed anchor.
func (c *Committer) decideByAnchor(slot types.BlockSlot, anchor *types.Block) (types.LeaderStatus, error) {
	candidates, err := c.store.BlocksAtSlot(slot)
	if err != nil {
		return types.LeaderStatus{}, err
	}
	for _, b := range candidates {
		reachable, err := c.walker.Reachable(anchor, b.Ref())
		if err != nil {
			return types.LeaderStatus{}, err
		}
		if reachable {
			return types.CommitStatus(b), nil
		}
	}
	return types.SkipStatus(slot), nil
}

// decideWave applies the direct decision rule to wave w.
func (c *Committer) decideWave(w uint64) (types.LeaderStatus, error) {
	leaderRound := c.LeaderRound(w)
	author, known := c.schedule.LeaderAt(leaderRound)
	if !known {
		// Leader not electable yet (coin unrevealed); the wave cannot
		// even be named, let alone decided.
		return types.UndecidedStatus(types.BlockSlot{Round: leaderRound}), nil
	}
	slot := types.BlockSlot{Round: leaderRound, Author: author}

	votingRound := leaderRound + 1
	voters, err := c.store.BlocksAtRound(votingRound)
	if err != nil {
		return types.LeaderStatus{}, err
	}
	candidates, err := c.store.BlocksAtSlot(slot)
	if err != nil {
		return types.LeaderStatus{}, err
	}

	// Tally the voting round: an author supports a candidate leader block
	// by linking it; an author whose blocks all omit the slot blames it.
	support := make(map[types.BlockRef]map[types.AuthorityIndex]struct{})
	blamed := make(map[types.AuthorityIndex]bool)
	for _, v := range voters {
		if v.LinksToSlot(slot) {
			blamed[v.Author] = false
			for _, cand := range candidates {
				if v.LinksTo(cand.Ref()) {
					set, ok := support[cand.Ref()]
					if !ok {
						set = make(map[types.AuthorityIndex]struct{})
						support[cand.Ref()] = set
					}
					set[v.Author] = struct{}{}
				}
			}
		} else if _, seen := blamed[v.Author]; !seen {
			blamed[v.Author] = true
		}
	}
	var blameStake types.StakeUnit
	for a, isBlame := range blamed {
		if isBlame {
			blameStake += c.committee.StakeOf(a)
		}
	}

	var committed *types.Block
	for _, cand := range candidates {
		certStake, err := c.certifiedStake(cand, support[cand.Ref()], votingRound, w)
		if err != nil {
			return types.LeaderStatus{}, err
		}
		if certStake >= c.committee.QuorumThreshold() {
			committed = cand
			break
		}
	}

	if committed != nil && blameStake >= c.committee.QuorumThreshold() {
		// Both outcomes provable at once: broken protocol state.
		return types.LeaderStatus{}, fmt.Errorf("%w: slot %s", ErrSafetyViolation, slot)
	}
	if committed != nil {
		c.logger.Debug("direct commit", "slot", slot, "block", committed.Ref())
		return types.CommitStatus(committed), nil
	}
	if blameStake >= c.committee.QuorumThreshold() {
		c.logger.Debug("direct skip", "slot", slot, "blame_stake", blameStake)
		return types.SkipStatus(slot), nil
	}
	return types.UndecidedStatus(slot), nil
}

// certifiedStake prices the decision-round backing of one candidate leader
// block. With the minimum wave length the voting round is the decision
// round and direct votes decide; with longer waves a decision-round block
// only counts when its voting-round ancestry carries a quorum of votes.
func (c *Committer) certifiedStake(cand *types.Block, votes map[types.AuthorityIndex]struct{}, votingRound types.Round, w uint64) (types.StakeUnit, error) {
	var stake types.StakeUnit
	if c.waveLength == MinWaveLength {
		for a := range votes {
			stake += c.committee.StakeOf(a)
		}
		return stake, nil
	}

	deciders, err := c.store.BlocksAtRound(c.DecisionRound(w))
	if err != nil {
		return 0, err
	}
	quorum := c.committee.QuorumThreshold()
	certified := make(map[types.AuthorityIndex]struct{})
	for _, d := range deciders {
		if _, done := certified[d.Author]; done {
			continue
		}
		history, err := c.walker.Ancestors(d, votingRound)
		if err != nil {
			return 0, err
		}
		var voteStake types.StakeUnit
		counted := make(map[types.AuthorityIndex]struct{})
		for ref := range history {
			if ref.Round != votingRound {
				continue
			}
			if _, isVote := votes[ref.Author]; !isVote {
				continue
			}
			if _, dup := counted[ref.Author]; dup {
				continue
			}
			counted[ref.Author] = struct{}{}
			voteStake += c.committee.StakeOf(ref.Author)
		}
		if voteStake >= quorum {
			certified[d.Author] = struct{}{}
			stake += c.committee.StakeOf(d.Author)
		}
	}
	return stake, nil
}

// record is the terminal-state guard: a slot that was ever decided one way
// must never be decided another.
func (c *Committer) record(st types.LeaderStatus) error {
	if prev, ok := c.decided[st.Slot.Round]; ok && prev != st.Kind {
		return fmt.Errorf("%w: slot %s decided %s then %s", ErrSafetyViolation, st.Slot, prev, st.Kind)
	}
	c.decided[st.Slot.Round] = st.Kind
	c.logger.Info("leader decided", "slot", st.Slot, "status", st.Kind)
	return nil
}
