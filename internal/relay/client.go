package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"github.com/NimbusTA/oracle-service/internal/contract"
	"github.com/NimbusTA/oracle-service/internal/logger"
	"github.com/NimbusTA/oracle-service/internal/metrics"
	"github.com/NimbusTA/oracle-service/internal/pool"
	"github.com/NimbusTA/oracle-service/internal/ss58"
)

// ErrBlockNotFound is returned when a block expected to be canonical is not
// (e.g. the chain reorganized under the era boundary search).
var ErrBlockNotFound = errors.New("relay: block not found")

const finalityPollInterval = time.Second

// Client reads staking state from the relay chain. All calls route through
// the endpoint pool; a transport error marks the endpoint failed and the
// call is retried once against the next endpoint before surfacing.
type Client struct {
	pool           *pool.Pool
	ss58Format     uint16
	connectTimeout time.Duration
	exporter       *metrics.Exporter

	mu   sync.Mutex
	api  *gsrpc.SubstrateAPI
	meta *types.Metadata
	url  string
}

func NewClient(p *pool.Pool, ss58Format uint16, connectTimeout time.Duration, exporter *metrics.Exporter) *Client {
	return &Client{
		pool:           p,
		ss58Format:     ss58Format,
		connectTimeout: connectTimeout,
		exporter:       exporter,
	}
}

// SS58Address renders a stash account for logs and alerts.
func (c *Client) SS58Address(stash contract.Stash) string {
	return ss58.Encode(stash, c.ss58Format)
}

func (c *Client) dial(url string) (*gsrpc.SubstrateAPI, error) {
	type result struct {
		api *gsrpc.SubstrateAPI
		err error
	}
	ch := make(chan result, 1)
	go func() {
		api, err := gsrpc.NewSubstrateAPI(url)
		ch <- result{api, err}
	}()

	select {
	case r := <-ch:
		return r.api, r.err
	case <-time.After(c.connectTimeout):
		return nil, fmt.Errorf("connect to %s timed out after %s", url, c.connectTimeout)
	}
}

// conn returns a connection to the current pool endpoint, dialing if needed.
func (c *Client) conn() (*gsrpc.SubstrateAPI, *types.Metadata, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	url, err := c.pool.Current()
	if err != nil {
		return nil, nil, "", err
	}

	if c.api != nil && c.url == url {
		return c.api, c.meta, url, nil
	}

	api, err := c.dial(url)
	if err != nil {
		return nil, nil, url, err
	}
	meta, err := api.RPC.State.GetMetadataLatest()
	if err != nil {
		return nil, nil, url, fmt.Errorf("fetch metadata: %w", err)
	}

	c.api = api
	c.meta = meta
	c.url = url
	logger.Info("RELAY", "Connected to %s", url)
	return api, meta, url, nil
}

func (c *Client) dropConn(url string) {
	c.mu.Lock()
	if c.url == url {
		c.api = nil
		c.meta = nil
		c.url = ""
	}
	c.mu.Unlock()
	c.pool.MarkFailed(url)
}

// withRetry runs fn against the current endpoint and retries exactly once
// against the next endpoint on failure. Pool exhaustion surfaces as
// pool.ErrNoHealthyEndpoint.
func (c *Client) withRetry(op string, fn func(api *gsrpc.SubstrateAPI, meta *types.Metadata) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		api, meta, url, err := c.conn()
		if err != nil {
			if errors.Is(err, pool.ErrNoHealthyEndpoint) {
				return err
			}
			c.exporter.IncRelayExceptions()
			logger.Warn("RELAY", "%s: connection to %s failed: %v", op, url, err)
			c.dropConn(url)
			lastErr = err
			continue
		}

		if err := fn(api, meta); err != nil {
			c.exporter.IncRelayExceptions()
			logger.Warn("RELAY", "%s failed via %s: %v", op, url, err)
			c.dropConn(url)
			lastErr = err
			continue
		}

		c.pool.MarkHealthy(url)
		return nil
	}
	return lastErr
}

func compactBig(u types.UCompact) *big.Int {
	v := big.Int(u)
	return new(big.Int).Set(&v)
}

func compactUint64(u types.UCompact) uint64 {
	v := big.Int(u)
	return v.Uint64()
}

func decodeActiveEra(api *gsrpc.SubstrateAPI, meta *types.Metadata, at *types.Hash) (Era, error) {
	key, err := types.CreateStorageKey(meta, "Staking", "ActiveEra")
	if err != nil {
		return Era{}, fmt.Errorf("storage key Staking.ActiveEra: %w", err)
	}

	var info activeEraInfo
	var ok bool
	if at == nil {
		ok, err = api.RPC.State.GetStorageLatest(key, &info)
	} else {
		ok, err = api.RPC.State.GetStorage(key, &info, *at)
	}
	if err != nil {
		return Era{}, fmt.Errorf("query Staking.ActiveEra: %w", err)
	}
	if !ok {
		return Era{}, errors.New("Staking.ActiveEra is empty")
	}

	era := Era{Index: uint32(info.Index)}
	if hasStart, start := info.Start.Unwrap(); hasStart {
		era.Start = uint64(start)
	}
	return era, nil
}

// ActiveEra returns the relay chain's active era at the chain head.
func (c *Client) ActiveEra() (Era, error) {
	var era Era
	err := c.withRetry("ActiveEra", func(api *gsrpc.SubstrateAPI, meta *types.Metadata) error {
		var err error
		era, err = decodeActiveEra(api, meta, nil)
		return err
	})
	return era, err
}

// FinalizedHeadNumber returns the block number of the finalized head.
func (c *Client) FinalizedHeadNumber() (uint64, error) {
	var number uint64
	err := c.withRetry("FinalizedHeadNumber", func(api *gsrpc.SubstrateAPI, _ *types.Metadata) error {
		head, err := api.RPC.Chain.GetFinalizedHead()
		if err != nil {
			return fmt.Errorf("get finalized head: %w", err)
		}
		header, err := api.RPC.Chain.GetHeader(head)
		if err != nil {
			return fmt.Errorf("get finalized header: %w", err)
		}
		number = uint64(header.Number)
		return nil
	})
	return number, err
}

// BlockHash returns the canonical hash at the given height.
func (c *Client) BlockHash(number uint64) (types.Hash, error) {
	var hash types.Hash
	err := c.withRetry("BlockHash", func(api *gsrpc.SubstrateAPI, _ *types.Metadata) error {
		h, err := api.RPC.Chain.GetBlockHash(number)
		if err != nil {
			return fmt.Errorf("get block hash %d: %w", number, err)
		}
		hash = h
		return nil
	})
	return hash, err
}

// FindLastEraBlock locates the last block of the era preceding eraID with a
// binary search over at most one era's worth of blocks, and returns its hash
// and number. The staking parameters for the report are read at that block.
func (c *Client) FindLastEraBlock(ctx context.Context, eraID uint32, eraDurationBlocks uint64) (types.Hash, uint64, error) {
	var blockHash types.Hash
	var blockNumber uint64

	err := c.withRetry("FindLastEraBlock", func(api *gsrpc.SubstrateAPI, meta *types.Metadata) error {
		head, err := api.RPC.Chain.GetFinalizedHead()
		if err != nil {
			return fmt.Errorf("get finalized head: %w", err)
		}
		header, err := api.RPC.Chain.GetHeader(head)
		if err != nil {
			return fmt.Errorf("get finalized header: %w", err)
		}
		current := int64(header.Number)

		start := int64(0)
		if current > int64(eraDurationBlocks) {
			start = current - int64(eraDurationBlocks)
		}
		end := current

		for start <= end {
			if err := ctx.Err(); err != nil {
				return err
			}
			mid := (start + end) / 2

			hash, err := api.RPC.Chain.GetBlockHash(uint64(mid))
			if err != nil {
				return fmt.Errorf("get block hash %d: %w", mid, err)
			}
			era, err := decodeActiveEra(api, meta, &hash)
			if err != nil {
				return fmt.Errorf("active era at block %d: %w", mid, err)
			}

			if era.Index < eraID {
				start = mid + 1
			} else {
				end = mid - 1
			}

			if era.Index == eraID && mid > 0 {
				blockNumber = uint64(mid - 1)
				prevHash, err := api.RPC.Chain.GetBlockHash(blockNumber)
				if err != nil {
					return fmt.Errorf("get block hash %d: %w", blockNumber, err)
				}
				blockHash = prevHash
			} else {
				blockNumber = uint64(mid)
				blockHash = hash
			}
		}
		return nil
	})
	return blockHash, blockNumber, err
}

// WaitFinalized blocks until the given block number is behind the finalized
// head, then verifies the canonical hash at that height still matches.
func (c *Client) WaitFinalized(ctx context.Context, hash types.Hash, number uint64) error {
	for {
		finalized, err := c.FinalizedHeadNumber()
		if err != nil {
			return err
		}
		if finalized >= number {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(finalityPollInterval):
		}
	}

	var canonical types.Hash
	err := c.withRetry("WaitFinalized", func(api *gsrpc.SubstrateAPI, _ *types.Metadata) error {
		h, err := api.RPC.Chain.GetBlockHash(number)
		if err != nil {
			return fmt.Errorf("get block hash %d: %w", number, err)
		}
		canonical = h
		return nil
	})
	if err != nil {
		return err
	}
	if canonical != hash {
		return fmt.Errorf("%w: block %d hash changed after finalization", ErrBlockNotFound, number)
	}
	logger.Debug("RELAY", "Block %d finalized: %#x", number, hash)
	return nil
}

// StakingParameters reads the full report tuple for one stash at the given
// block. The result is immutable for that (era, stash) pair.
func (c *Client) StakingParameters(stash contract.Stash, at types.Hash) (contract.StakingParameters, error) {
	var params contract.StakingParameters

	err := c.withRetry("StakingParameters", func(api *gsrpc.SubstrateAPI, meta *types.Metadata) error {
		freeBalance, err := stashFreeBalance(api, meta, stash, at)
		if err != nil {
			return err
		}

		status, err := stakeStatus(api, meta, stash, at)
		if err != nil {
			return err
		}

		controller, bonded, err := bondedController(api, meta, stash, at)
		if err != nil {
			return err
		}
		if !bonded {
			// Not bonded: the contract expects an explicit "no ledger" report
			// rather than an error.
			params = contract.StakingParameters{
				Stash:          stash,
				Controller:     stash,
				StakeStatus:    contract.StakeStatusNone,
				ActiveBalance:  new(big.Int),
				TotalBalance:   new(big.Int),
				Unlocking:      nil,
				ClaimedRewards: nil,
				StashBalance:   freeBalance,
				SlashingSpans:  0,
			}
			return nil
		}

		ledger, err := ledgerOf(api, meta, controller, at)
		if err != nil {
			return err
		}
		spans, err := slashingSpanCount(api, meta, controller, at)
		if err != nil {
			return err
		}

		unlocking := make([]contract.UnlockChunk, 0, len(ledger.Unlocking))
		for _, chunk := range ledger.Unlocking {
			unlocking = append(unlocking, contract.UnlockChunk{
				Balance: compactBig(chunk.Value),
				Era:     compactUint64(chunk.Era),
			})
		}

		params = contract.StakingParameters{
			Stash:         stash,
			Controller:    contract.Stash(controller),
			StakeStatus:   status,
			ActiveBalance: compactBig(ledger.Active),
			TotalBalance:  compactBig(ledger.Total),
			Unlocking:     unlocking,
			// Claimed rewards are deliberately not reported until the
			// storage proof path exists on the contract side.
			ClaimedRewards: nil,
			StashBalance:   freeBalance,
			SlashingSpans:  spans,
		}
		return nil
	})
	return params, err
}

func stashFreeBalance(api *gsrpc.SubstrateAPI, meta *types.Metadata, stash contract.Stash, at types.Hash) (*big.Int, error) {
	key, err := types.CreateStorageKey(meta, "System", "Account", stash[:])
	if err != nil {
		return nil, fmt.Errorf("storage key System.Account: %w", err)
	}
	var info types.AccountInfo
	ok, err := api.RPC.State.GetStorage(key, &info, at)
	if err != nil {
		return nil, fmt.Errorf("query System.Account: %w", err)
	}
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(info.Data.Free.Int), nil
}

func bondedController(api *gsrpc.SubstrateAPI, meta *types.Metadata, stash contract.Stash, at types.Hash) (types.AccountID, bool, error) {
	key, err := types.CreateStorageKey(meta, "Staking", "Bonded", stash[:])
	if err != nil {
		return types.AccountID{}, false, fmt.Errorf("storage key Staking.Bonded: %w", err)
	}
	var controller types.AccountID
	ok, err := api.RPC.State.GetStorage(key, &controller, at)
	if err != nil {
		return types.AccountID{}, false, fmt.Errorf("query Staking.Bonded: %w", err)
	}
	return controller, ok, nil
}

func ledgerOf(api *gsrpc.SubstrateAPI, meta *types.Metadata, controller types.AccountID, at types.Hash) (stakingLedger, error) {
	key, err := types.CreateStorageKey(meta, "Staking", "Ledger", controller[:])
	if err != nil {
		return stakingLedger{}, fmt.Errorf("storage key Staking.Ledger: %w", err)
	}
	var ledger stakingLedger
	ok, err := api.RPC.State.GetStorage(key, &ledger, at)
	if err != nil {
		return stakingLedger{}, fmt.Errorf("query Staking.Ledger: %w", err)
	}
	if !ok {
		return stakingLedger{}, errors.New("Staking.Ledger is empty for bonded controller")
	}
	return ledger, nil
}

func slashingSpanCount(api *gsrpc.SubstrateAPI, meta *types.Metadata, controller types.AccountID, at types.Hash) (uint32, error) {
	key, err := types.CreateStorageKey(meta, "Staking", "SlashingSpans", controller[:])
	if err != nil {
		return 0, fmt.Errorf("storage key Staking.SlashingSpans: %w", err)
	}
	var spans slashingSpans
	ok, err := api.RPC.State.GetStorage(key, &spans, at)
	if err != nil {
		return 0, fmt.Errorf("query Staking.SlashingSpans: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return uint32(len(spans.Prior)), nil
}

func stakeStatus(api *gsrpc.SubstrateAPI, meta *types.Metadata, stash contract.Stash, at types.Hash) (uint8, error) {
	// Point query instead of the full nominator map: existence is the answer.
	nomKey, err := types.CreateStorageKey(meta, "Staking", "Nominators", stash[:])
	if err != nil {
		return 0, fmt.Errorf("storage key Staking.Nominators: %w", err)
	}
	var noms nominations
	isNominator, err := api.RPC.State.GetStorage(nomKey, &noms, at)
	if err != nil {
		return 0, fmt.Errorf("query Staking.Nominators: %w", err)
	}
	if isNominator {
		return contract.StakeStatusNominator, nil
	}

	valKey, err := types.CreateStorageKey(meta, "Session", "Validators")
	if err != nil {
		return 0, fmt.Errorf("storage key Session.Validators: %w", err)
	}
	var validators []types.AccountID
	ok, err := api.RPC.State.GetStorage(valKey, &validators, at)
	if err != nil {
		return 0, fmt.Errorf("query Session.Validators: %w", err)
	}
	if !ok {
		return 0, errors.New("Session.Validators is empty")
	}
	for _, v := range validators {
		if contract.Stash(v) == stash {
			return contract.StakeStatusValidator, nil
		}
	}
	return contract.StakeStatusIdle, nil
}
