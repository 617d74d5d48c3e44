/*
Package validator checks incoming and locally proposed blocks before they
enter the DAG: structure, signature, equivocation and ancestor coverage.
A rejected block is terminal for that block only; processing of other blocks
continues.
*/
package validator

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/dagbft/wavedag/committee"
	"github.com/dagbft/wavedag/dag"
	"github.com/dagbft/wavedag/sign"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
)

// Rejection causes. Wrapped into ValidationError so callers can branch with
// errors.Is.
var (
	ErrUnknownAuthor        = errors.New("author not in committee")
	ErrBadSignature         = errors.New("signature does not verify")
	ErrEquivocation         = errors.New("author already produced a different block at this round")
	ErrRoundRegression      = errors.New("round below author's last known round")
	ErrAncestorRound        = errors.New("ancestor round not below block round")
	ErrMissingAncestor      = errors.New("ancestor not in local DAG")
	ErrInsufficientCoverage = errors.New("parent set below validity threshold")
	ErrBadGenesis           = errors.New("round-0 block does not match canonical genesis")
)

// ValidationError is the terminal verdict for one block.
type ValidationError struct {
	Slot  types.BlockSlot
	Cause error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid block at %s: %v", e.Slot, e.Cause)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// Validator checks blocks against a committee and the local DAG view.
type Validator struct {
	committee *committee.Committee
	store     store.Store
	walker    *dag.Walker
	genesis   map[types.BlockRef]struct{}
	logger    hclog.Logger
}

// New builds a validator.
func New(c *committee.Committee, s store.Store, w *dag.Walker, logger hclog.Logger) *Validator {
	genesis := make(map[types.BlockRef]struct{}, c.Size())
	for _, ref := range types.GenesisRefs(c.Size()) {
		genesis[ref] = struct{}{}
	}
	return &Validator{
		committee: c,
		store:     s,
		walker:    w,
		genesis:   genesis,
		logger:    logger.Named("validator"),
	}
}

func (v *Validator) reject(b *types.Block, cause error) error {
	err := &ValidationError{Slot: b.Slot(), Cause: cause}
	if !errors.Is(cause, ErrMissingAncestor) {
		v.logger.Warn("rejecting block", "slot", b.Slot(), "cause", cause)
	}
	return err
}

// Validate runs all checks in order: signature, round consistency and
// equivocation, ancestor rounds and presence, then parent stake coverage.
// A nil return means the block may be inserted into the DAG.
func (v *Validator) Validate(b *types.Block) error {
	if b.Round == 0 {
		// Genesis is derived locally, never accepted with new content.
		if _, ok := v.genesis[b.Ref()]; !ok {
			return v.reject(b, ErrBadGenesis)
		}
		return nil
	}

	pub, ok := v.committee.PubKeyOf(b.Author)
	if !ok {
		return v.reject(b, ErrUnknownAuthor)
	}
	verified, err := sign.VerifyBlock(pub, b)
	if err != nil {
		return v.reject(b, fmt.Errorf("%w: %v", ErrBadSignature, err))
	}
	if !verified {
		return v.reject(b, ErrBadSignature)
	}

	existing, err := v.store.BlocksAtSlot(b.Slot())
	if err != nil {
		return fmt.Errorf("read slot %s: %w", b.Slot(), err)
	}
	for _, prev := range existing {
		if prev.Digest() == b.Digest() {
			// Identical resend, nothing to check again.
			return nil
		}
	}
	if len(existing) > 0 {
		return v.reject(b, fmt.Errorf("%w: author %d round %d", ErrEquivocation, b.Author, b.Round))
	}
	last, haveLast, err := v.store.LastRoundByAuthor(b.Author)
	if err != nil {
		return fmt.Errorf("read last round of author %d: %w", b.Author, err)
	}
	if haveLast && b.Round <= last {
		return v.reject(b, fmt.Errorf("%w: round %d, last %d", ErrRoundRegression, b.Round, last))
	}

	for _, ref := range b.Ancestors {
		if ref.Round >= b.Round {
			return v.reject(b, fmt.Errorf("%w: ancestor %s", ErrAncestorRound, ref))
		}
		if _, err := v.store.GetBlock(ref); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return v.reject(b, fmt.Errorf("%w: %s", ErrMissingAncestor, ref))
			}
			return fmt.Errorf("read ancestor %s: %w", ref, err)
		}
	}

	covered := v.walker.StakeOfRefsAtRound(b.Round-1, b.Ancestors)
	if covered < v.committee.ValidityThreshold() {
		return v.reject(b, fmt.Errorf("%w: %d of %d at round %d",
			ErrInsufficientCoverage, covered, v.committee.ValidityThreshold(), b.Round-1))
	}
	return nil
}
