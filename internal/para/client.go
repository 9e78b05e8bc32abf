package para

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/NimbusTA/oracle-service/internal/contract"
	"github.com/NimbusTA/oracle-service/internal/logger"
	"github.com/NimbusTA/oracle-service/internal/metrics"
	"github.com/NimbusTA/oracle-service/internal/pool"
)

// Client talks to the parachain: OracleMaster reads, balance queries and raw
// transaction broadcast. Calls route through the endpoint pool with the same
// mark-failed-and-retry-once discipline as the relay side.
type Client struct {
	pool           *pool.Pool
	contractAddr   common.Address
	connectTimeout time.Duration
	callTimeout    time.Duration
	exporter       *metrics.Exporter

	mu  sync.Mutex
	eth *ethclient.Client
	url string
}

func NewClient(p *pool.Pool, contractAddr common.Address, connectTimeout, callTimeout time.Duration, exporter *metrics.Exporter) *Client {
	return &Client{
		pool:           p,
		contractAddr:   contractAddr,
		connectTimeout: connectTimeout,
		callTimeout:    callTimeout,
		exporter:       exporter,
	}
}

// ContractAddr returns the OracleMaster address this client is bound to.
func (c *Client) ContractAddr() common.Address {
	return c.contractAddr
}

func (c *Client) conn(ctx context.Context) (*ethclient.Client, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	url, err := c.pool.Current()
	if err != nil {
		return nil, "", err
	}
	if c.eth != nil && c.url == url {
		return c.eth, url, nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()
	raw, err := rpc.DialContext(dialCtx, url)
	if err != nil {
		return nil, url, fmt.Errorf("dial %s: %w", url, err)
	}

	if c.eth != nil {
		c.eth.Close()
	}
	c.eth = ethclient.NewClient(raw)
	c.url = url
	logger.Info("PARA", "Connected to %s", url)
	return c.eth, url, nil
}

func (c *Client) dropConn(url string) {
	c.mu.Lock()
	if c.url == url {
		if c.eth != nil {
			c.eth.Close()
		}
		c.eth = nil
		c.url = ""
	}
	c.mu.Unlock()
	c.pool.MarkFailed(url)
}

// withRetry runs fn against the current endpoint, retrying exactly once on
// the next endpoint after a transport failure.
func (c *Client) withRetry(ctx context.Context, op string, fn func(ctx context.Context, eth *ethclient.Client) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		eth, url, err := c.conn(ctx)
		if err != nil {
			if errors.Is(err, pool.ErrNoHealthyEndpoint) {
				return err
			}
			c.exporter.IncParaExceptions()
			logger.Warn("PARA", "%s: connection failed: %v", op, err)
			c.dropConn(url)
			lastErr = err
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		err = fn(callCtx, eth)
		cancel()
		if err != nil {
			// Business-level responses pass through untouched; only
			// transport failures trigger failover.
			if errors.Is(err, ethereum.NotFound) || isRevert(err) {
				c.pool.MarkHealthy(url)
				return err
			}
			c.exporter.IncParaExceptions()
			logger.Warn("PARA", "%s failed via %s: %v", op, url, err)
			c.dropConn(url)
			lastErr = err
			continue
		}

		c.pool.MarkHealthy(url)
		return nil
	}
	return lastErr
}

// callContract performs a read against the OracleMaster.
func (c *Client) callContract(ctx context.Context, data []byte) ([]byte, error) {
	var result []byte
	err := c.withRetry(ctx, "callContract", func(ctx context.Context, eth *ethclient.Client) error {
		res, err := eth.CallContract(ctx, ethereum.CallMsg{To: &c.contractAddr, Data: data}, nil)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// CurrentEraID reads getCurrentEraId from the OracleMaster.
func (c *Client) CurrentEraID(ctx context.Context) (uint64, error) {
	data, err := contract.PackGetCurrentEraID()
	if err != nil {
		return 0, err
	}
	result, err := c.callContract(ctx, data)
	if err != nil {
		return 0, err
	}
	return contract.UnpackCurrentEraID(result)
}

// StashAccounts reads the current stash set from the OracleMaster. The set
// is re-fetched every cycle; membership can change between eras.
func (c *Client) StashAccounts(ctx context.Context) ([]contract.Stash, error) {
	data, err := contract.PackGetStashAccounts()
	if err != nil {
		return nil, err
	}
	result, err := c.callContract(ctx, data)
	if err != nil {
		return nil, err
	}
	return contract.UnpackStashAccounts(result)
}

// IsReportedLastEra reads the per-stash reported watermark for this oracle
// member. The contract is the source of truth for at-most-once reporting.
func (c *Client) IsReportedLastEra(ctx context.Context, oracle common.Address, stash contract.Stash) (uint64, bool, error) {
	data, err := contract.PackIsReportedLastEra(oracle, stash)
	if err != nil {
		return 0, false, err
	}
	result, err := c.callContract(ctx, data)
	if err != nil {
		return 0, false, err
	}
	return contract.UnpackIsReportedLastEra(result)
}

// Balance returns the wei balance of the given account.
func (c *Client) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var balance *big.Int
	err := c.withRetry(ctx, "Balance", func(ctx context.Context, eth *ethclient.Client) error {
		b, err := eth.BalanceAt(ctx, addr, nil)
		if err != nil {
			return err
		}
		balance = b
		return nil
	})
	return balance, err
}

// ChainID returns the parachain's EVM chain id.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	var id *big.Int
	err := c.withRetry(ctx, "ChainID", func(ctx context.Context, eth *ethclient.Client) error {
		v, err := eth.ChainID(ctx)
		if err != nil {
			return err
		}
		id = v
		return nil
	})
	return id, err
}

// PendingNonce returns the next nonce for the oracle account.
func (c *Client) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	var nonce uint64
	err := c.withRetry(ctx, "PendingNonce", func(ctx context.Context, eth *ethclient.Client) error {
		n, err := eth.PendingNonceAt(ctx, addr)
		if err != nil {
			return err
		}
		nonce = n
		return nil
	})
	return nonce, err
}

// BaseFee returns the base fee of the latest block, or nil when the chain
// does not report one.
func (c *Client) BaseFee(ctx context.Context) (*big.Int, error) {
	var baseFee *big.Int
	err := c.withRetry(ctx, "BaseFee", func(ctx context.Context, eth *ethclient.Client) error {
		header, err := eth.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		baseFee = header.BaseFee
		return nil
	})
	return baseFee, err
}

// CallContract performs a raw eth_call, used for transaction pre-flight.
// Revert responses come back as errors for the caller to classify.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	var result []byte
	err := c.withRetry(ctx, "CallContract", func(ctx context.Context, eth *ethclient.Client) error {
		res, err := eth.CallContract(ctx, msg, nil)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	return result, err
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	return c.withRetry(ctx, "SendTransaction", func(ctx context.Context, eth *ethclient.Client) error {
		return eth.SendTransaction(ctx, tx)
	})
}

// Receipt fetches the receipt for a broadcast transaction.
// ethereum.NotFound means still pending and passes through unchanged.
func (c *Client) Receipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	var receipt *ethtypes.Receipt
	err := c.withRetry(ctx, "Receipt", func(ctx context.Context, eth *ethclient.Client) error {
		r, err := eth.TransactionReceipt(ctx, txHash)
		if err != nil {
			return err
		}
		receipt = r
		return nil
	})
	return receipt, err
}

// VerifyContract checks at startup that the configured address actually
// hosts a contract and that it answers the OracleMaster read surface.
// Failure here is fatal: the loop must not start against a wrong address.
func (c *Client) VerifyContract(ctx context.Context) error {
	var code []byte
	err := c.withRetry(ctx, "VerifyContract", func(ctx context.Context, eth *ethclient.Client) error {
		b, err := eth.CodeAt(ctx, c.contractAddr, nil)
		if err != nil {
			return err
		}
		code = b
		return nil
	})
	if err != nil {
		return err
	}
	if len(code) < 3 {
		return fmt.Errorf("no contract deployed at %s", c.contractAddr.Hex())
	}

	if _, err := c.CurrentEraID(ctx); err != nil {
		return fmt.Errorf("OracleMaster ABI check failed at %s: %w", c.contractAddr.Hex(), err)
	}
	return nil
}
