package types

import "fmt"

// LeaderKind is the decision state of one leader slot.
type LeaderKind uint8

const (
	// LeaderUndecided means more of the DAG is needed before the slot can
	// be resolved. It is the only non-terminal state.
	LeaderUndecided LeaderKind = iota
	// LeaderCommit means the leader block is part of the committed chain.
	LeaderCommit
	// LeaderSkip means the slot will never contribute a block.
	LeaderSkip
)

func (k LeaderKind) String() string {
	switch k {
	case LeaderUndecided:
		return "undecided"
	case LeaderCommit:
		return "commit"
	case LeaderSkip:
		return "skip"
	default:
		return fmt.Sprintf("leaderkind(%d)", uint8(k))
	}
}

// LeaderStatus is the committer's verdict for one leader slot. Block is set
// only when Kind is LeaderCommit.
type LeaderStatus struct {
	Kind  LeaderKind
	Slot  BlockSlot
	Block *Block
}

// CommitStatus wraps a committed leader block.
func CommitStatus(b *Block) LeaderStatus {
	return LeaderStatus{Kind: LeaderCommit, Slot: b.Slot(), Block: b}
}

// SkipStatus marks a leader slot as permanently empty.
func SkipStatus(slot BlockSlot) LeaderStatus {
	return LeaderStatus{Kind: LeaderSkip, Slot: slot}
}

// UndecidedStatus marks a leader slot as still open.
func UndecidedStatus(slot BlockSlot) LeaderStatus {
	return LeaderStatus{Kind: LeaderUndecided, Slot: slot}
}

// Decided reports whether the status is terminal.
func (s LeaderStatus) Decided() bool {
	return s.Kind != LeaderUndecided
}

func (s LeaderStatus) String() string {
	return fmt.Sprintf("%s%s", s.Kind, s.Slot)
}
