package evm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/fystack/eth-disburser/internal/rpc"
	"github.com/fystack/eth-disburser/pkg/common/utils"
	"github.com/fystack/eth-disburser/pkg/ratelimiter"
)

type Client struct {
	*rpc.BaseClient
}

func NewEthereumClient(
	url string,
	auth *rpc.AuthConfig,
	timeout time.Duration,
	rateLimiter *ratelimiter.PooledRateLimiter,
) *Client {
	return &Client{
		BaseClient: rpc.NewBaseClient(
			url,
			rpc.NetworkEVM,
			rpc.ClientTypeRPC,
			auth,
			timeout,
			rateLimiter,
		),
	}
}

// GetBlockNumber returns the current block number
func (c *Client) GetBlockNumber(ctx context.Context) (uint64, error) {
	return c.callUint64(ctx, "eth_blockNumber", nil)
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.callBigInt(ctx, "eth_chainId", nil)
}

// GasPrice returns the node's suggested legacy gas price in wei.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.callBigInt(ctx, "eth_gasPrice", nil)
}

// GetBalance returns the balance of address in wei at blockTag ("latest" when empty).
func (c *Client) GetBalance(ctx context.Context, address, blockTag string) (*big.Int, error) {
	return c.callBigInt(ctx, "eth_getBalance", []any{address, defaultTag(blockTag)})
}

// GetTransactionCount returns the nonce of address at blockTag. Use "pending" to
// include transactions still in the mempool.
func (c *Client) GetTransactionCount(ctx context.Context, address, blockTag string) (uint64, error) {
	return c.callUint64(ctx, "eth_getTransactionCount", []any{address, defaultTag(blockTag)})
}

// GetTransactionReceipt returns nil, nil while the transaction is not yet included.
func (c *Client) GetTransactionReceipt(ctx context.Context, txHash string) (*TxnReceipt, error) {
	resp, err := c.CallRPC(ctx, "eth_getTransactionReceipt", []any{txHash})
	if err != nil {
		return nil, fmt.Errorf("eth_getTransactionReceipt failed: %w", err)
	}
	if resp.IsNull() {
		return nil, nil
	}

	var receipt TxnReceipt
	if err := json.Unmarshal(resp.Result, &receipt); err != nil {
		return nil, fmt.Errorf("failed to unmarshal receipt: %w", err)
	}
	return &receipt, nil
}

// SendRawTransaction broadcasts a signed, RLP encoded transaction and returns its hash.
func (c *Client) SendRawTransaction(ctx context.Context, rawTx string) (string, error) {
	resp, err := c.CallRPC(ctx, "eth_sendRawTransaction", []any{rawTx})
	if err != nil {
		return "", fmt.Errorf("eth_sendRawTransaction failed: %w", err)
	}

	var hash string
	if err := json.Unmarshal(resp.Result, &hash); err != nil {
		return "", fmt.Errorf("failed to unmarshal transaction hash: %w", err)
	}
	return hash, nil
}

func (c *Client) GetLogs(ctx context.Context, filter LogFilter) ([]Log, error) {
	resp, err := c.CallRPC(ctx, "eth_getLogs", []any{filter})
	if err != nil {
		return nil, fmt.Errorf("eth_getLogs failed: %w", err)
	}
	if resp.IsNull() {
		return []Log{}, nil
	}

	var logs []Log
	if err := json.Unmarshal(resp.Result, &logs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal logs: %w", err)
	}
	return logs, nil
}

func (c *Client) callHex(ctx context.Context, method string, params any) (string, error) {
	resp, err := c.CallRPC(ctx, method, params)
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", method, err)
	}
	var h string
	if err := json.Unmarshal(resp.Result, &h); err != nil {
		return "", fmt.Errorf("failed to unmarshal %s result: %w", method, err)
	}
	return h, nil
}

func (c *Client) callUint64(ctx context.Context, method string, params any) (uint64, error) {
	h, err := c.callHex(ctx, method, params)
	if err != nil {
		return 0, err
	}
	n, err := utils.ParseHexUint64(h)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s result %q: %w", method, h, err)
	}
	return n, nil
}

func (c *Client) callBigInt(ctx context.Context, method string, params any) (*big.Int, error) {
	h, err := c.callHex(ctx, method, params)
	if err != nil {
		return nil, err
	}
	n, err := utils.ParseHexBigInt(h)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s result %q: %w", method, h, err)
	}
	return n, nil
}

func defaultTag(tag string) string {
	if tag == "" {
		return "latest"
	}
	return tag
}
