package committer

import (
	"github.com/dagbft/wavedag/committee"
	"github.com/dagbft/wavedag/types"
)

// LeaderSchedule decides which authority owns the leader slot of a round.
// Every honest validator must resolve the same author for the same round;
// the schedule is the only input to leader election.
//
// ok is false when the leader for the round cannot be named yet (the
// threshold-coin schedule before the round's coin is revealed). The
// committer leaves such waves undecided.
type LeaderSchedule interface {
	LeaderAt(r types.Round) (types.AuthorityIndex, bool)
}

// ScheduleFunc adapts a plain function to a LeaderSchedule.
type ScheduleFunc func(r types.Round) (types.AuthorityIndex, bool)

func (f ScheduleFunc) LeaderAt(r types.Round) (types.AuthorityIndex, bool) {
	return f(r)
}

// RoundRobin is the default schedule: a stake-weighted rotation that is a
// pure function of the round number and the committee's stake table.
// Authorities with more stake own proportionally more leader slots.
type RoundRobin struct {
	committee *committee.Committee
	stride    uint64
	offset    uint64
}

// NewRoundRobin builds the default schedule. offset shifts the whole
// rotation and is fixed per epoch (e.g. derived from the epoch number).
func NewRoundRobin(c *committee.Committee, offset uint64) *RoundRobin {
	stride := uint64(c.TotalStake()) / uint64(c.Size())
	if stride == 0 {
		stride = 1
	}
	return &RoundRobin{committee: c, stride: stride, offset: offset}
}

func (s *RoundRobin) LeaderAt(r types.Round) (types.AuthorityIndex, bool) {
	total := uint64(s.committee.TotalStake())
	pos := (uint64(r)*s.stride + s.offset*s.stride) % total
	return s.pick(pos), true
}

// pick maps a position in [0, total) onto the cumulative stake table.
func (s *RoundRobin) pick(pos uint64) types.AuthorityIndex {
	var cum uint64
	for i := 0; i < s.committee.Size(); i++ {
		cum += uint64(s.committee.StakeOf(types.AuthorityIndex(i)))
		if pos < cum {
			return types.AuthorityIndex(i)
		}
	}
	// pos < total by construction, so the loop always returns.
	return types.AuthorityIndex(s.committee.Size() - 1)
}
