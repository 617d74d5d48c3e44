/*
Package core wires the pipeline together: block ingestion, validation,
storage, commit-rule evaluation and sequencing.

Ingestion is a bounded channel; a full channel blocks the submitter, which
is the backpressure policy for peers that outrun local disk. All state
transitions run on the single Run goroutine; one evaluator per consensus
instance keeps leader decisions serialized and deterministic. Blocks whose
ancestors have not arrived yet wait in a pending buffer and are retried as
the DAG fills in.
*/
package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dagbft/wavedag/committee"
	"github.com/dagbft/wavedag/committer"
	"github.com/dagbft/wavedag/dag"
	"github.com/dagbft/wavedag/sequencer"
	"github.com/dagbft/wavedag/store"
	"github.com/dagbft/wavedag/types"
	"github.com/dagbft/wavedag/validator"
)

const (
	defaultIngestCapacity = 1024
	defaultOutputCapacity = 64

	insertRetries    = 3
	insertRetryDelay = 50 * time.Millisecond
)

// Options tune a Core. Zero values select defaults.
type Options struct {
	// WaveLength is the number of rounds per commit wave.
	WaveLength types.Round
	// Schedule overrides the default stake-weighted round robin.
	Schedule committer.LeaderSchedule
	// IngestCapacity bounds the inbound block channel.
	IngestCapacity int
	// OutputCapacity bounds the committed sub-dag channel.
	OutputCapacity int
	Logger         hclog.Logger
}

// Core is one consensus instance over one epoch's committee.
type Core struct {
	committee *committee.Committee
	store     store.Store
	walker    *dag.Walker
	validator *validator.Validator
	committer *committer.Committer
	sequencer *sequencer.Sequencer
	logger    hclog.Logger

	ingest chan *types.Block
	// blocks waiting for missing ancestors, keyed by round
	pending map[types.Round][]*types.Block
}

// New builds a core over the given committee and store, seeds the genesis
// blocks and recovers sequencer state from the durable commit log.
func New(c *committee.Committee, st store.Store, opts Options) (*Core, error) {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if opts.WaveLength == 0 {
		opts.WaveLength = committer.MinWaveLength
	}
	if opts.Schedule == nil {
		opts.Schedule = committer.NewRoundRobin(c, c.Epoch())
	}
	if opts.IngestCapacity == 0 {
		opts.IngestCapacity = defaultIngestCapacity
	}
	if opts.OutputCapacity == 0 {
		opts.OutputCapacity = defaultOutputCapacity
	}

	walker := dag.NewWalker(st, c)
	cmt, err := committer.New(c, st, walker, opts.Schedule, opts.WaveLength, logger)
	if err != nil {
		return nil, err
	}
	seq := sequencer.New(st, walker, opts.OutputCapacity, logger)

	for _, g := range types.GenesisBlocks(c.Size()) {
		if err := st.InsertBlock(g); err != nil {
			return nil, fmt.Errorf("seed genesis: %w", err)
		}
	}
	if err := seq.Recover(); err != nil {
		return nil, fmt.Errorf("recover sequencer: %w", err)
	}

	return &Core{
		committee: c,
		store:     st,
		walker:    walker,
		validator: validator.New(c, st, walker, logger),
		committer: cmt,
		sequencer: seq,
		logger:    logger.Named("core"),
		ingest:    make(chan *types.Block, opts.IngestCapacity),
		pending:   make(map[types.Round][]*types.Block),
	}, nil
}

// Submit hands a block to the pipeline. Blocks when the ingest channel is
// full until the pipeline catches up or ctx is cancelled.
func (co *Core) Submit(ctx context.Context, b *types.Block) error {
	select {
	case co.ingest <- b:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubDags is the committed output stream for the execution layer.
func (co *Core) SubDags() <-chan sequencer.CommittedSubDag {
	return co.sequencer.SubDags()
}

// Run drives the pipeline until ctx is cancelled or a fatal error occurs.
// Safety violations and exhausted storage retries are fatal; everything
// in flight is re-derivable from the store after a restart.
func (co *Core) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case b := <-co.ingest:
			if err := co.process(ctx, b); err != nil {
				co.logger.Error("consensus halted", "error", err)
				return err
			}
		}
	}
}

func (co *Core) process(ctx context.Context, b *types.Block) error {
	accepted, err := co.accept(b)
	if err != nil {
		return err
	}
	if accepted {
		if err := co.drainPending(); err != nil {
			return err
		}
	}
	return co.advance(ctx)
}

// accept validates and stores one block. Returns whether the DAG grew.
func (co *Core) accept(b *types.Block) (bool, error) {
	err := co.validator.Validate(b)
	switch {
	case err == nil:
		if err := co.insertWithRetry(b); err != nil {
			return false, err
		}
		return true, nil
	case errors.Is(err, validator.ErrMissingAncestor):
		co.pending[b.Round] = append(co.pending[b.Round], b)
		co.logger.Debug("block pending on missing ancestors", "slot", b.Slot())
		return false, nil
	default:
		var verr *validator.ValidationError
		if errors.As(err, &verr) {
			// Terminal for this block only.
			return false, nil
		}
		return false, err
	}
}

// drainPending retries buffered blocks until a full pass makes no progress.
// accept re-buffers anything still missing ancestors, so each pass takes
// ownership of the previous buffer.
func (co *Core) drainPending() error {
	for {
		progressed := false
		buffered := co.pending
		co.pending = make(map[types.Round][]*types.Block)
		rounds := make([]types.Round, 0, len(buffered))
		for r := range buffered {
			rounds = append(rounds, r)
		}
		sort.Slice(rounds, func(i, j int) bool { return rounds[i] < rounds[j] })
		for _, r := range rounds {
			for _, b := range buffered[r] {
				accepted, err := co.accept(b)
				if err != nil {
					return err
				}
				if accepted {
					progressed = true
				}
			}
		}
		if !progressed {
			return nil
		}
	}
}

// advance evaluates the commit rule and sequences any new decisions.
func (co *Core) advance(ctx context.Context) error {
	statuses, err := co.committer.TryDecide()
	if err != nil {
		return err
	}
	for _, st := range statuses {
		if err := co.sequencer.HandleDecision(ctx, st); err != nil {
			return err
		}
	}
	return nil
}

func (co *Core) insertWithRetry(b *types.Block) error {
	var err error
	for attempt := 1; attempt <= insertRetries; attempt++ {
		if err = co.store.InsertBlock(b); err == nil {
			return nil
		}
		co.logger.Warn("store insert failed", "slot", b.Slot(), "attempt", attempt, "error", err)
		time.Sleep(insertRetryDelay * time.Duration(attempt))
	}
	return fmt.Errorf("store insert failed after %d attempts: %w", insertRetries, err)
}

// AnalyzeAuthors scans the recent blocks of every authority in parallel.
// Read-only and off the consensus path; used by operational tooling to
// judge DAG health.
func (co *Core) AnalyzeAuthors(maxRounds int) (map[types.AuthorityIndex][]*types.Block, error) {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	out := make(map[types.AuthorityIndex][]*types.Block, co.committee.Size())
	for i := 0; i < co.committee.Size(); i++ {
		author := types.AuthorityIndex(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			blocks, err := co.store.ScanLastBlocksByAuthor(author, maxRounds, nil)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			out[author] = blocks
		}()
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
