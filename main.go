// Command wavedag runs one consensus instance: it loads the node
// configuration, opens the DAG store and drives the core pipeline until
// interrupted. Block exchange with peers is the transport layer's job;
// this binary exposes the core's Submit/SubDags surfaces to it.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dagbft/wavedag/committer"
	"github.com/dagbft/wavedag/config"
	"github.com/dagbft/wavedag/core"
	"github.com/dagbft/wavedag/store"
)

func main() {
	conf, err := config.LoadConfig("wavedag", "config")
	if err != nil {
		panic(err)
	}
	logger := conf.Logger()

	cmt, err := conf.Committee()
	if err != nil {
		logger.Error("invalid committee configuration", "error", err)
		os.Exit(1)
	}

	st, err := store.OpenBadger(conf.DBPath, logger)
	if err != nil {
		logger.Error("cannot open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var schedule committer.LeaderSchedule
	if conf.Election == config.ElectionThresholdCoin {
		quorum := 2*cmt.Size()/3 + 1
		schedule = committer.NewThresholdCoin(cmt, conf.TsPublicKey, quorum)
	} else {
		schedule = committer.NewRoundRobin(cmt, conf.LeaderOffset)
	}

	instance, err := core.New(cmt, st, core.Options{
		WaveLength:     conf.WaveLength,
		Schedule:       schedule,
		IngestCapacity: conf.IngestCapacity,
		OutputCapacity: conf.OutputCapacity,
		Logger:         logger,
	})
	if err != nil {
		logger.Error("cannot build consensus core", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		for sd := range instance.SubDags() {
			logger.Info("committed", "index", sd.Index, "leader", sd.Leader, "blocks", len(sd.Blocks))
		}
	}()

	logger.Info("node starts wavedag", "self", conf.Self, "committee_size", cmt.Size())
	if err := instance.Run(ctx); err != nil {
		logger.Error("consensus stopped", "error", err)
		os.Exit(1)
	}
}
