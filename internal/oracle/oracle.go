package oracle

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/NimbusTA/oracle-service/internal/contract"
	"github.com/NimbusTA/oracle-service/internal/logger"
	"github.com/NimbusTA/oracle-service/internal/metrics"
	"github.com/NimbusTA/oracle-service/internal/pool"
	"github.com/NimbusTA/oracle-service/internal/relay"
	"github.com/NimbusTA/oracle-service/internal/report"
	"github.com/NimbusTA/oracle-service/internal/stall"
	"github.com/NimbusTA/oracle-service/internal/submitter"
)

// RelayReader is the slice of the relay chain client the orchestrator needs.
type RelayReader interface {
	ActiveEra() (relay.Era, error)
	FindLastEraBlock(ctx context.Context, eraID uint32, eraDurationBlocks uint64) (types.Hash, uint64, error)
	WaitFinalized(ctx context.Context, hash types.Hash, number uint64) error
	StakingParameters(stash contract.Stash, at types.Hash) (contract.StakingParameters, error)
	SS58Address(stash contract.Stash) string
}

// ParaReader is the slice of the parachain client the orchestrator needs.
type ParaReader interface {
	CurrentEraID(ctx context.Context) (uint64, error)
	StashAccounts(ctx context.Context) ([]contract.Stash, error)
	IsReportedLastEra(ctx context.Context, oracle common.Address, stash contract.Stash) (uint64, bool, error)
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Submitter drives one report to a terminal outcome.
type Submitter interface {
	Submit(ctx context.Context, rep report.Report) (submitter.Outcome, error)
	From() common.Address
}

// Detector receives progress observations from the cycle.
type Detector interface {
	ObserveEraChange()
	ObserveReport()
	Mode() stall.Mode
}

// Config carries the cycle timing knobs.
type Config struct {
	Frequency         time.Duration
	EraDurationBlocks uint64
	ConnectTimeout    time.Duration
}

// Oracle runs the era cycle: watch the relay chain's active era and, on each
// change, report the previous era's staking state for every registered stash
// to the OracleMaster. An era advances internally only once every stash of
// that era is settled, so failed stashes are retried on the next tick.
type Oracle struct {
	relay     RelayReader
	para      ParaReader
	sub       Submitter
	detector  Detector
	exporter  *metrics.Exporter
	relayPool *pool.Pool
	paraPool  *pool.Pool
	cfg       Config

	prevEra      int64 // -1 until the first fully settled era
	observedEra  int64 // -1 until the first era seen, settled or not
	lastReported map[contract.Stash]uint64
}

func New(relayReader RelayReader, paraReader ParaReader, sub Submitter, detector Detector, exporter *metrics.Exporter, relayPool, paraPool *pool.Pool, cfg Config) *Oracle {
	return &Oracle{
		relay:        relayReader,
		para:         paraReader,
		sub:          sub,
		detector:     detector,
		exporter:     exporter,
		relayPool:    relayPool,
		paraPool:     paraPool,
		cfg:          cfg,
		prevEra:      -1,
		observedEra:  -1,
		lastReported: make(map[contract.Stash]uint64),
	}
}

// restoreState seeds the per-stash watermarks from the contract so a restart
// does not re-submit eras the contract already accepted.
func (o *Oracle) restoreState(ctx context.Context) error {
	stashes, err := o.para.StashAccounts(ctx)
	if err != nil {
		return err
	}
	for _, stash := range stashes {
		lastEra, reported, err := o.para.IsReportedLastEra(ctx, o.sub.From(), stash)
		if err != nil {
			return err
		}
		if reported {
			o.lastReported[stash] = lastEra
			logger.Info("ORACLE", "Restored stash %s: last reported era %d", o.relay.SS58Address(stash), lastEra)
		}
	}
	return nil
}

// Run executes the cycle until ctx ends. Pool exhaustion pauses the loop for
// one connect timeout and resets both pools before trying again.
func (o *Oracle) Run(ctx context.Context) error {
	if err := o.restoreState(ctx); err != nil {
		logger.Warn("ORACLE", "State restore failed, starting cold: %v", err)
	}
	o.updateBalance(ctx)

	for {
		if err := o.cycle(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, pool.ErrNoHealthyEndpoint) {
				logger.Error("ORACLE", "All endpoints failed, pausing %s before reset", o.cfg.ConnectTimeout)
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(o.cfg.ConnectTimeout):
				}
				o.relayPool.Reset()
				o.paraPool.Reset()
				continue
			}
			logger.Error("ORACLE", "Cycle failed: %v", err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.Frequency):
		}
	}
}

func (o *Oracle) cycle(ctx context.Context) error {
	era, err := o.relay.ActiveEra()
	if err != nil {
		return err
	}

	if o.prevEra >= 0 {
		switch {
		case int64(era.Index) == o.prevEra:
			logger.Debug("ORACLE", "Era %d unchanged", era.Index)
			return nil
		case int64(era.Index) < o.prevEra:
			logger.Warn("ORACLE", "Active era went backwards: chain reports %d after %d", era.Index, o.prevEra)
			return nil
		}
	}

	if contractEra, err := o.para.CurrentEraID(ctx); err == nil {
		logger.Info("ORACLE", "Active era %d (contract era %d, mode %s)", era.Index, contractEra, o.detector.Mode())
	} else {
		logger.Warn("ORACLE", "Contract era unavailable: %v", err)
	}

	return o.processEra(ctx, era)
}

func (o *Oracle) processEra(ctx context.Context, era relay.Era) error {
	// Retries of an unsettled era re-enter here with the same index; only a
	// genuine era advance feeds the stall detector's era clock.
	if int64(era.Index) > o.observedEra {
		o.observedEra = int64(era.Index)
		o.exporter.SetActiveEraID(uint64(era.Index))
		o.detector.ObserveEraChange()
	}

	if era.Index == 0 {
		// Nothing precedes era 0, so there is nothing to report yet.
		o.prevEra = 0
		return nil
	}
	reportEra := uint64(era.Index - 1)

	stashes, err := o.para.StashAccounts(ctx)
	if err != nil {
		return err
	}
	if len(stashes) == 0 {
		logger.Info("ORACLE", "No stash accounts registered, waiting")
		return nil
	}

	// The report reads state at the last block of the reported era, located
	// once per era and pinned after finalization.
	hash, number, err := o.relay.FindLastEraBlock(ctx, era.Index, o.cfg.EraDurationBlocks)
	if err != nil {
		return err
	}
	if err := o.relay.WaitFinalized(ctx, hash, number); err != nil {
		return err
	}
	o.exporter.SetPreviousEraChangeBlockNumber(number)
	logger.Info("ORACLE", "Reporting era %d from block %d for %d stashes", reportEra, number, len(stashes))

	settled := true
	for _, stash := range stashes {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := o.reportStash(ctx, reportEra, stash, hash)
		if err != nil {
			if errors.Is(err, pool.ErrNoHealthyEndpoint) || ctx.Err() != nil {
				return err
			}
			logger.Error("ORACLE", "Stash %s era %d: %v", o.relay.SS58Address(stash), reportEra, err)
			settled = false
			continue
		}
		if !done {
			settled = false
		}
	}

	o.updateBalance(ctx)

	if settled {
		o.exporter.SetLastEraReported(reportEra)
		o.prevEra = int64(era.Index)
		logger.Info("ORACLE", "Era %d fully reported", reportEra)
	} else {
		logger.Warn("ORACLE", "Era %d has unsettled stashes, will retry next tick", reportEra)
	}
	return nil
}

// reportStash settles one stash for the report era. It returns done=true when
// no further attempt is needed: confirmed, already reported, or rejected by
// the contract.
func (o *Oracle) reportStash(ctx context.Context, reportEra uint64, stash contract.Stash, at types.Hash) (bool, error) {
	if last, ok := o.lastReported[stash]; ok && last >= reportEra {
		logger.Debug("ORACLE", "Stash %s already settled through era %d", o.relay.SS58Address(stash), last)
		return true, nil
	}

	lastEra, reported, err := o.para.IsReportedLastEra(ctx, o.sub.From(), stash)
	if err != nil {
		return false, err
	}
	if reported && lastEra >= reportEra {
		o.lastReported[stash] = lastEra
		return true, nil
	}

	params, err := o.relay.StakingParameters(stash, at)
	if err != nil {
		return false, err
	}
	rep, err := report.Build(reportEra, params)
	if err != nil {
		return false, err
	}

	// The submission is bounded by the submitter's own timeouts, and an
	// in-flight transaction is allowed to finish during shutdown.
	outcome, err := o.sub.Submit(context.Background(), rep)
	switch outcome {
	case submitter.OutcomeConfirmed:
		o.detector.ObserveReport()
		o.lastReported[stash] = reportEra
		logger.Info("ORACLE", "Stash %s era %d confirmed", o.relay.SS58Address(stash), reportEra)
		return true, nil
	case submitter.OutcomeDryRun:
		o.lastReported[stash] = reportEra
		return true, nil
	case submitter.OutcomeReverted:
		// The contract's no is final for this calldata.
		o.lastReported[stash] = reportEra
		logger.Warn("ORACLE", "Stash %s era %d rejected by contract: %v", o.relay.SS58Address(stash), reportEra, err)
		return true, nil
	default:
		logger.Warn("ORACLE", "Stash %s era %d unsettled (%s): %v", o.relay.SS58Address(stash), reportEra, outcome, err)
		return false, nil
	}
}

func (o *Oracle) updateBalance(ctx context.Context) {
	addr := o.sub.From()
	balance, err := o.para.Balance(ctx, addr)
	if err != nil {
		logger.Warn("ORACLE", "Balance query for %s failed: %v", addr.Hex(), err)
		return
	}
	o.exporter.SetOracleBalance(addr.Hex(), balance)
}
