/*
Package dag resolves causal history over the block DAG. Traversal is
iterative with an explicit work queue and a visited set keyed by block
reference; DAG depth is unbounded over an epoch, so recursion is off the
table, and the visited set keeps fan-in from exploding the walk.
*/
package dag

import (
	"fmt"

	"github.com/dagbft/wavedag/committee"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
)

// Walker resolves ancestors against a store and prices round-local support
// against a committee. It holds no state of its own; every walk reads the
// current durable view.
type Walker struct {
	store     store.Store
	committee *committee.Committee
}

// NewWalker builds a walker over the given store and committee.
func NewWalker(s store.Store, c *committee.Committee) *Walker {
	return &Walker{store: s, committee: c}
}

// Ancestors returns every block causally reachable from the start block,
// including the start block itself, bounded below by lowest (inclusive).
// A reference to a block the store does not hold is a structural error:
// blocks are only inserted once their parents are present.
func (w *Walker) Ancestors(start *types.Block, lowest types.Round) (map[types.BlockRef]*types.Block, error) {
	visited := map[types.BlockRef]*types.Block{start.Ref(): start}
	queue := []*types.Block{start}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if b.Round <= lowest {
			continue
		}
		for _, ref := range b.Ancestors {
			if ref.Round < lowest {
				continue
			}
			if _, ok := visited[ref]; ok {
				continue
			}
			parent, err := w.store.GetBlock(ref)
			if err != nil {
				return nil, fmt.Errorf("resolve ancestor %s of %s: %w", ref, b.Ref(), err)
			}
			visited[ref] = parent
			queue = append(queue, parent)
		}
	}
	return visited, nil
}

// Reachable reports whether target is in the causal history of start.
// The walk is pruned below the target's round.
func (w *Walker) Reachable(start *types.Block, target types.BlockRef) (bool, error) {
	if start.Ref() == target {
		return true, nil
	}
	visited := map[types.BlockRef]struct{}{start.Ref(): {}}
	queue := []*types.Block{start}
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if b.Round <= target.Round {
			continue
		}
		for _, ref := range b.Ancestors {
			if ref == target {
				return true, nil
			}
			if ref.Round <= target.Round {
				continue
			}
			if _, ok := visited[ref]; ok {
				continue
			}
			visited[ref] = struct{}{}
			parent, err := w.store.GetBlock(ref)
			if err != nil {
				return false, fmt.Errorf("resolve ancestor %s of %s: %w", ref, b.Ref(), err)
			}
			queue = append(queue, parent)
		}
	}
	return false, nil
}

// StakeCoveredAtRound sums the stake of the distinct authors that have a
// block at exactly the given round within the set.
func (w *Walker) StakeCoveredAtRound(r types.Round, set map[types.BlockRef]*types.Block) types.StakeUnit {
	seen := make(map[types.AuthorityIndex]struct{})
	var total types.StakeUnit
	for ref := range set {
		if ref.Round != r {
			continue
		}
		if _, ok := seen[ref.Author]; ok {
			continue
		}
		seen[ref.Author] = struct{}{}
		total += w.committee.StakeOf(ref.Author)
	}
	return total
}

// StakeOfRefsAtRound sums the stake of the distinct authors a block's direct
// ancestor list covers at exactly the given round. Used by validation to
// price a parent set without walking history.
func (w *Walker) StakeOfRefsAtRound(r types.Round, refs []types.BlockRef) types.StakeUnit {
	seen := make(map[types.AuthorityIndex]struct{})
	var total types.StakeUnit
	for _, ref := range refs {
		if ref.Round != r {
			continue
		}
		if _, ok := seen[ref.Author]; ok {
			continue
		}
		seen[ref.Author] = struct{}{}
		total += w.committee.StakeOf(ref.Author)
	}
	return total
}
