package core

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/dagbft/wavedag/committee"
	"github.com/dagbft/wavedag/sign"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
)

// ErrNotReady means the previous round has not accumulated a validity
// threshold of blocks yet; proposing must wait for more of the DAG.
var ErrNotReady = errors.New("previous round below validity threshold")

// Proposer builds this authority's own blocks. One block per round,
// referencing every known block of the previous round.
type Proposer struct {
	self      types.AuthorityIndex
	priv      ed25519.PrivateKey
	committee *committee.Committee
	store     store.Store
	logger    hclog.Logger
}

// NewProposer builds a proposer for the local authority.
func NewProposer(self types.AuthorityIndex, priv ed25519.PrivateKey, c *committee.Committee, st store.Store, logger hclog.Logger) *Proposer {
	return &Proposer{
		self:      self,
		priv:      priv,
		committee: c,
		store:     st,
		logger:    logger.Named("proposer"),
	}
}

// NextBlock assembles and signs the next block for this authority, linking
// all blocks of the previous round. Returns ErrNotReady until the previous
// round carries a validity threshold of stake.
func (p *Proposer) NextBlock(timestamp int64, payloads [][]byte) (*types.Block, error) {
	last, _, err := p.store.LastRoundByAuthor(p.self)
	if err != nil {
		return nil, err
	}
	round := last + 1

	parents, err := p.store.BlocksAtRound(round - 1)
	if err != nil {
		return nil, err
	}
	seen := make(map[types.AuthorityIndex]struct{}, len(parents))
	refs := make([]types.BlockRef, 0, len(parents))
	var covered types.StakeUnit
	for _, b := range parents {
		refs = append(refs, b.Ref())
		if _, dup := seen[b.Author]; dup {
			continue
		}
		seen[b.Author] = struct{}{}
		covered += p.committee.StakeOf(b.Author)
	}
	if covered < p.committee.ValidityThreshold() {
		return nil, fmt.Errorf("%w: %d of %d at round %d",
			ErrNotReady, covered, p.committee.ValidityThreshold(), round-1)
	}

	b := types.NewBlock(round, p.self, timestamp, refs, payloads)
	if err := sign.SignBlock(p.priv, b); err != nil {
		return nil, err
	}
	p.logger.Debug("proposed block", "ref", b.Ref(), "parents", len(refs))
	return b, nil
}
