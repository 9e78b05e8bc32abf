package submitter

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/NimbusTA/oracle-service/internal/logger"
	"github.com/NimbusTA/oracle-service/internal/metrics"
	"github.com/NimbusTA/oracle-service/internal/report"
)

// Outcome is the terminal state of one report submission.
type Outcome int

const (
	// OutcomeConfirmed: the transaction landed and its receipt has status 1.
	OutcomeConfirmed Outcome = iota
	// OutcomeReverted: the contract rejected the report, either in pre-flight
	// or on-chain. Retrying the same calldata cannot succeed.
	OutcomeReverted
	// OutcomeTimeout: the transaction was broadcast but no receipt appeared
	// within the confirmation window.
	OutcomeTimeout
	// OutcomeNodeError: a node-side failure before or during broadcast.
	OutcomeNodeError
	// OutcomeDryRun: debug mode, the signed transaction was never broadcast.
	OutcomeDryRun
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "CONFIRMED"
	case OutcomeReverted:
		return "REVERTED"
	case OutcomeTimeout:
		return "TIMEOUT"
	case OutcomeNodeError:
		return "NODE_ERROR"
	case OutcomeDryRun:
		return "DRY_RUN"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Chain is the slice of the parachain client the submitter needs.
type Chain interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	BaseFee(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	Receipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Submitter signs reportRelay transactions and drives each one to a terminal
// outcome. A Timeout or NodeError gets exactly one re-attempt with the same
// calldata; a revert never does.
type Submitter struct {
	chain          Chain
	key            *ecdsa.PrivateKey
	from           common.Address
	to             common.Address
	gasLimit       uint64
	tip            *big.Int
	confirmTimeout time.Duration
	pollInterval   time.Duration
	debug          bool
	exporter       *metrics.Exporter
}

func New(chain Chain, key *ecdsa.PrivateKey, to common.Address, gasLimit uint64, maxPriorityFeePerGas *big.Int, confirmTimeout time.Duration, debug bool, exporter *metrics.Exporter) *Submitter {
	if maxPriorityFeePerGas == nil {
		maxPriorityFeePerGas = new(big.Int)
	}
	return &Submitter{
		chain:          chain,
		key:            key,
		from:           crypto.PubkeyToAddress(key.PublicKey),
		to:             to,
		gasLimit:       gasLimit,
		tip:            maxPriorityFeePerGas,
		confirmTimeout: confirmTimeout,
		pollInterval:   3 * time.Second,
		debug:          debug,
		exporter:       exporter,
	}
}

// From returns the oracle's sending address.
func (s *Submitter) From() common.Address {
	return s.from
}

// Submit drives one report to a terminal outcome and records it in the
// metrics. Exactly one metric event fires per call, regardless of internal
// re-attempts.
func (s *Submitter) Submit(ctx context.Context, rep report.Report) (Outcome, error) {
	outcome, err := s.attempt(ctx, rep)
	if outcome == OutcomeTimeout || outcome == OutcomeNodeError {
		logger.Warn("TX", "Report for stash %s era %d ended with %s, re-attempting once: %v",
			rep.Stash.Hex(), rep.Era, outcome, err)
		outcome, err = s.attempt(ctx, rep)
	}

	switch outcome {
	case OutcomeConfirmed:
		s.exporter.ObserveTxSuccess()
	case OutcomeReverted:
		s.exporter.ObserveTxRevert()
		s.exporter.SetLastFailedEra(rep.Era)
	case OutcomeTimeout, OutcomeNodeError:
		s.exporter.SetLastFailedEra(rep.Era)
	}
	return outcome, err
}

func (s *Submitter) attempt(ctx context.Context, rep report.Report) (Outcome, error) {
	// Pre-flight the exact calldata before spending gas. A revert here is
	// the contract's answer, not a node fault.
	_, err := s.chain.CallContract(ctx, ethereum.CallMsg{
		From: s.from,
		To:   &s.to,
		Data: rep.Calldata,
	})
	if err != nil {
		if isRevertErr(err) {
			return OutcomeReverted, fmt.Errorf("pre-flight reverted: %w", err)
		}
		return OutcomeNodeError, fmt.Errorf("pre-flight call: %w", err)
	}

	chainID, err := s.chain.ChainID(ctx)
	if err != nil {
		return OutcomeNodeError, fmt.Errorf("chain id: %w", err)
	}
	nonce, err := s.chain.PendingNonce(ctx, s.from)
	if err != nil {
		return OutcomeNodeError, fmt.Errorf("pending nonce: %w", err)
	}
	baseFee, err := s.chain.BaseFee(ctx)
	if err != nil {
		return OutcomeNodeError, fmt.Errorf("base fee: %w", err)
	}
	if baseFee == nil {
		baseFee = new(big.Int)
	}

	// feeCap = 2*baseFee + tip leaves headroom for base fee growth while
	// the transaction sits in the pool.
	feeCap := new(big.Int).Mul(baseFee, big.NewInt(2))
	feeCap.Add(feeCap, s.tip)

	tx := ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: s.tip,
		GasFeeCap: feeCap,
		Gas:       s.gasLimit,
		To:        &s.to,
		Data:      rep.Calldata,
	})
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return OutcomeNodeError, fmt.Errorf("sign: %w", err)
	}

	if s.debug {
		logger.Info("TX", "Debug mode: built tx %s for stash %s era %d, not broadcasting",
			signed.Hash().Hex(), rep.Stash.Hex(), rep.Era)
		return OutcomeDryRun, nil
	}

	if err := s.chain.SendTransaction(ctx, signed); err != nil {
		return OutcomeNodeError, fmt.Errorf("broadcast: %w", err)
	}
	logger.Info("TX", "Broadcast %s: stash %s era %d nonce %d", signed.Hash().Hex(), rep.Stash.Hex(), rep.Era, nonce)

	return s.awaitReceipt(ctx, signed.Hash())
}

func (s *Submitter) awaitReceipt(ctx context.Context, txHash common.Hash) (Outcome, error) {
	deadline := time.Now().Add(s.confirmTimeout)
	for {
		receipt, err := s.chain.Receipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status == ethtypes.ReceiptStatusSuccessful {
				logger.Info("TX", "Confirmed %s in block %d", txHash.Hex(), receipt.BlockNumber.Uint64())
				return OutcomeConfirmed, nil
			}
			return OutcomeReverted, fmt.Errorf("tx %s reverted in block %d", txHash.Hex(), receipt.BlockNumber.Uint64())
		case errors.Is(err, ethereum.NotFound):
			// still pending
		default:
			return OutcomeNodeError, fmt.Errorf("receipt %s: %w", txHash.Hex(), err)
		}

		if time.Now().After(deadline) {
			return OutcomeTimeout, fmt.Errorf("tx %s: no receipt within %s", txHash.Hex(), s.confirmTimeout)
		}
		select {
		case <-ctx.Done():
			return OutcomeTimeout, ctx.Err()
		case <-time.After(s.pollInterval):
		}
	}
}

// isRevertErr mirrors the parachain client's revert detection for pre-flight
// responses surfaced through the Chain interface.
func isRevertErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"execution reverted", "vm exception", "revert", "out of gas"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
