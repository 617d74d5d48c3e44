package committer

import (
	"encoding/binary"
	"fmt"
	"sync"

	"go.dedis.ch/kyber/v3/share"

	"github.com/dagbft/wavedag/committee"
	"github.com/dagbft/wavedag/sign"
	"github.com/dagbft/wavedag/types"
)

// ThresholdCoin elects leaders from a shared coin: authorities
// threshold-sign the encoded round, and the assembled BLS signature, which
// no subset below the threshold can predict or bias, is reduced onto the
// cumulative stake table. Until a round's partials reach the threshold the
// leader is simply not known yet and LeaderAt reports ok=false.
type ThresholdCoin struct {
	committee *committee.Committee
	pubPoly   *share.PubPoly
	threshold int

	mu       sync.RWMutex
	revealed map[types.Round]types.AuthorityIndex
}

// NewThresholdCoin builds a coin-based schedule. threshold is the number of
// partial signatures needed to assemble the coin, normally the quorum size.
func NewThresholdCoin(c *committee.Committee, pubPoly *share.PubPoly, threshold int) *ThresholdCoin {
	return &ThresholdCoin{
		committee: c,
		pubPoly:   pubPoly,
		threshold: threshold,
		revealed:  make(map[types.Round]types.AuthorityIndex),
	}
}

// CoinShare produces this authority's partial signature for a round's coin.
func CoinShare(priv *share.PriShare, r types.Round) ([]byte, error) {
	msg, err := types.CoinIntentBytes(r)
	if err != nil {
		return nil, err
	}
	return sign.SignTSPartial(priv, msg), nil
}

// Reveal assembles the coin for a round from gathered partial signatures and
// fixes the round's leader. Revealing the same round twice is a no-op
// returning the already-fixed leader.
func (t *ThresholdCoin) Reveal(r types.Round, partials [][]byte) (types.AuthorityIndex, error) {
	t.mu.RLock()
	leader, ok := t.revealed[r]
	t.mu.RUnlock()
	if ok {
		return leader, nil
	}

	msg, err := types.CoinIntentBytes(r)
	if err != nil {
		return 0, err
	}
	coin, err := sign.AssembleIntactTSPartial(partials, t.pubPoly, msg, t.threshold, t.committee.Size())
	if err != nil {
		return 0, fmt.Errorf("assemble coin for round %d: %w", r, err)
	}

	pos := binary.BigEndian.Uint64(coin[:8]) % uint64(t.committee.TotalStake())
	var cum uint64
	leader = types.AuthorityIndex(t.committee.Size() - 1)
	for i := 0; i < t.committee.Size(); i++ {
		cum += uint64(t.committee.StakeOf(types.AuthorityIndex(i)))
		if pos < cum {
			leader = types.AuthorityIndex(i)
			break
		}
	}

	t.mu.Lock()
	if prev, ok := t.revealed[r]; ok {
		leader = prev
	} else {
		t.revealed[r] = leader
	}
	t.mu.Unlock()
	return leader, nil
}

func (t *ThresholdCoin) LeaderAt(r types.Round) (types.AuthorityIndex, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	leader, ok := t.revealed[r]
	return leader, ok
}
