/*
Package committee implements the authority registry for one epoch: the
mapping from authority index to public key, stake and network address, and
the stake thresholds derived from it. A Committee never changes after
construction; epoch transitions build a new one.
*/
package committee

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/dagbft/wavedag/types"
)

// Authority is one committee member.
type Authority struct {
	PubKey   ed25519.PublicKey
	Stake    types.StakeUnit
	Hostname string
}

// Committee is the immutable registry of an epoch's authorities.
type Committee struct {
	epoch       uint64
	authorities []Authority
	total       types.StakeUnit
}

// New builds a committee. A committee with no authorities or no stake cannot
// make progress, so that is a configuration error.
func New(epoch uint64, authorities []Authority) (*Committee, error) {
	if len(authorities) == 0 {
		return nil, errors.New("committee: no authorities")
	}
	var total types.StakeUnit
	for i, a := range authorities {
		if len(a.PubKey) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("committee: authority %d: bad public key size %d", i, len(a.PubKey))
		}
		total += a.Stake
	}
	if total == 0 {
		return nil, errors.New("committee: zero total stake")
	}
	own := make([]Authority, len(authorities))
	copy(own, authorities)
	return &Committee{epoch: epoch, authorities: own, total: total}, nil
}

// Epoch returns the epoch this committee serves.
func (c *Committee) Epoch() uint64 {
	return c.epoch
}

// Size returns the number of authorities.
func (c *Committee) Size() int {
	return len(c.authorities)
}

// TotalStake returns the sum of all authority stakes.
func (c *Committee) TotalStake() types.StakeUnit {
	return c.total
}

// StakeOf returns the stake of an authority, or 0 for an unknown index.
// DAG code may hold stale or adversarial indices; those simply carry no
// weight.
func (c *Committee) StakeOf(i types.AuthorityIndex) types.StakeUnit {
	if int(i) >= len(c.authorities) {
		return 0
	}
	return c.authorities[i].Stake
}

// PubKeyOf returns the public key of an authority, if the index is valid.
func (c *Committee) PubKeyOf(i types.AuthorityIndex) (ed25519.PublicKey, bool) {
	if int(i) >= len(c.authorities) {
		return nil, false
	}
	return c.authorities[i].PubKey, true
}

// HostnameOf returns the network address of an authority, if the index is
// valid.
func (c *Committee) HostnameOf(i types.AuthorityIndex) (string, bool) {
	if int(i) >= len(c.authorities) {
		return "", false
	}
	return c.authorities[i].Hostname, true
}

// QuorumThreshold is the minimum stake required to certify a commit:
// strictly more than two thirds of the total.
func (c *Committee) QuorumThreshold() types.StakeUnit {
	return 2*c.total/3 + 1
}

// ValidityThreshold is the minimum stake a block's parent set must carry:
// strictly more than one third of the total.
func (c *Committee) ValidityThreshold() types.StakeUnit {
	return c.total/3 + 1
}
