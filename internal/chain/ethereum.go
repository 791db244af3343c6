package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/pool"
	"github.com/fystack/eth-disburser/internal/rpc"
	"github.com/fystack/eth-disburser/internal/rpc/evm"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/common/utils"
	"github.com/fystack/eth-disburser/pkg/retry"
	"github.com/fystack/eth-disburser/pkg/unit"
)

// ErrAlreadyKnown is returned by SendRawTransaction when the node already holds the
// exact payload, typically after a retried broadcast whose first attempt went through.
var ErrAlreadyKnown = errors.New("transaction already known")

const primaryNode = "primary"

// Endpoint is a named fallback node.
type Endpoint struct {
	Name   string
	Client evm.EthereumAPI
}

// Ethereum exposes the node in domain types. Transport failures are retried with a
// constant interval, moving to the next healthy fallback node; JSON-RPC errors are final.
type Ethereum struct {
	clients  map[string]evm.EthereumAPI
	nodes    *pool.Pool
	attempts int
	interval time.Duration
}

func NewEthereum(client evm.EthereumAPI, attempts int, interval time.Duration, fallbacks ...Endpoint) *Ethereum {
	if attempts <= 0 {
		attempts = 1
	}
	clients := map[string]evm.EthereumAPI{primaryNode: client}
	names := []string{primaryNode}
	for _, f := range fallbacks {
		if _, dup := clients[f.Name]; dup || f.Client == nil {
			continue
		}
		clients[f.Name] = f.Client
		names = append(names, f.Name)
	}
	return &Ethereum{
		clients:  clients,
		nodes:    pool.New(names, pool.DefaultCooldown),
		attempts: attempts,
		interval: interval,
	}
}

func (e *Ethereum) do(ctx context.Context, method string, fn func(c evm.EthereumAPI) error) error {
	attempt := 0
	return retry.Constant(ctx, func() error {
		attempt++
		node := e.nodes.Current()
		err := fn(e.clients[node])
		if err == nil || rpc.IsRPCError(err) {
			e.nodes.MarkHealthy(node)
		}
		if err == nil {
			return nil
		}
		if rpc.IsRPCError(err) || ctx.Err() != nil {
			return retry.Permanent(err)
		}
		e.nodes.MarkFailed(node)
		logger.Warn("Node call failed", "method", method, "node", node, "attempt", attempt, "err", err)
		return err
	}, e.interval, e.attempts)
}

// GetBalance returns the balance of addr in ether.
func (e *Ethereum) GetBalance(ctx context.Context, addr domain.Address, tag domain.BlockTag) (unit.Amount, error) {
	var wei *big.Int
	err := e.do(ctx, "eth_getBalance", func(c evm.EthereumAPI) (err error) {
		wei, err = c.GetBalance(ctx, addr.String(), tag.String())
		return err
	})
	if err != nil {
		return unit.Amount{}, err
	}
	return unit.FromWei(wei).ToEther(), nil
}

func (e *Ethereum) GetTransactionCount(ctx context.Context, addr domain.Address, tag domain.BlockTag) (uint64, error) {
	var n uint64
	err := e.do(ctx, "eth_getTransactionCount", func(c evm.EthereumAPI) (err error) {
		n, err = c.GetTransactionCount(ctx, addr.String(), tag.String())
		return err
	})
	return n, err
}

// GetTransactionReceipt returns nil, nil when the transaction is not yet included.
func (e *Ethereum) GetTransactionReceipt(ctx context.Context, hash domain.Hash) (*domain.Receipt, error) {
	var raw *evm.TxnReceipt
	err := e.do(ctx, "eth_getTransactionReceipt", func(c evm.EthereumAPI) (err error) {
		raw, err = c.GetTransactionReceipt(ctx, hash.String())
		return err
	})
	if err != nil || raw == nil {
		return nil, err
	}
	return toReceipt(raw)
}

// SendRawTransaction is not retried once the node has answered: a JSON-RPC rejection
// is final, and a resubmission after a lost response surfaces as ErrAlreadyKnown.
func (e *Ethereum) SendRawTransaction(ctx context.Context, payload string) (domain.Hash, error) {
	var h string
	err := e.do(ctx, "eth_sendRawTransaction", func(c evm.EthereumAPI) (err error) {
		h, err = c.SendRawTransaction(ctx, payload)
		return err
	})
	if err != nil {
		if isAlreadyKnown(err) {
			return "", fmt.Errorf("%w: %v", ErrAlreadyKnown, err)
		}
		return "", err
	}
	return domain.ParseHash(h)
}

func (e *Ethereum) GetLogs(ctx context.Context, addr domain.Address, from, to domain.BlockTag) ([]domain.Log, error) {
	filter := evm.LogFilter{FromBlock: from.String(), ToBlock: to.String()}
	if addr != "" {
		filter.Address = addr.Lower()
	}

	var raw []evm.Log
	err := e.do(ctx, "eth_getLogs", func(c evm.EthereumAPI) (err error) {
		raw, err = c.GetLogs(ctx, filter)
		return err
	})
	if err != nil {
		return nil, err
	}

	logs := make([]domain.Log, 0, len(raw))
	for _, l := range raw {
		converted, err := toLog(l)
		if err != nil {
			return nil, err
		}
		logs = append(logs, converted)
	}
	return logs, nil
}

// GasPrice returns the node's suggested gas price in gwei.
func (e *Ethereum) GasPrice(ctx context.Context) (unit.Amount, error) {
	var wei *big.Int
	err := e.do(ctx, "eth_gasPrice", func(c evm.EthereumAPI) (err error) {
		wei, err = c.GasPrice(ctx)
		return err
	})
	if err != nil {
		return unit.Amount{}, err
	}
	return unit.FromWei(wei).ToGwei(), nil
}

func (e *Ethereum) ChainID(ctx context.Context) (int64, error) {
	var id *big.Int
	err := e.do(ctx, "eth_chainId", func(c evm.EthereumAPI) (err error) {
		id, err = c.ChainID(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	if !id.IsInt64() {
		return 0, fmt.Errorf("chain id %s out of range", id)
	}
	return id.Int64(), nil
}

func isAlreadyKnown(err error) bool {
	var rpcErr *rpc.RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	msg := strings.ToLower(rpcErr.Message)
	return strings.Contains(msg, "already known") || strings.Contains(msg, "known transaction")
}

func toReceipt(r *evm.TxnReceipt) (*domain.Receipt, error) {
	hash, err := domain.ParseHash(r.TransactionHash)
	if err != nil {
		return nil, err
	}
	receipt := &domain.Receipt{
		TransactionHash: hash,
		BlockHash:       r.BlockHash,
		Status:          domain.ReceiptStatusFailed,
	}
	if r.IsSuccessful() {
		receipt.Status = domain.ReceiptStatusSuccess
	}
	if r.BlockNumber != "" {
		if receipt.BlockNumber, err = utils.ParseHexUint64(r.BlockNumber); err != nil {
			return nil, fmt.Errorf("parse receipt block number: %w", err)
		}
	}
	if r.GasUsed != "" {
		if receipt.GasUsed, err = utils.ParseHexUint64(r.GasUsed); err != nil {
			return nil, fmt.Errorf("parse receipt gas used: %w", err)
		}
	}
	if r.EffectiveGasPrice != "" {
		price, err := utils.ParseHexBigInt(r.EffectiveGasPrice)
		if err != nil {
			return nil, fmt.Errorf("parse effective gas price: %w", err)
		}
		receipt.EffectiveGasPrice = unit.FromWei(price).ToGwei()
	}
	if from, err := domain.ParseAddress(r.From); err == nil {
		receipt.From = from
	}
	if to, err := domain.ParseAddress(r.To); err == nil {
		receipt.To = to
	}
	return receipt, nil
}

func toLog(l evm.Log) (domain.Log, error) {
	out := domain.Log{
		Topics:          l.Topics,
		Data:            l.Data,
		TransactionHash: domain.Hash(strings.ToLower(l.TransactionHash)),
	}
	if addr, err := domain.ParseAddress(l.Address); err == nil {
		out.Address = addr
	}
	var err error
	if l.BlockNumber != "" {
		if out.BlockNumber, err = utils.ParseHexUint64(l.BlockNumber); err != nil {
			return domain.Log{}, fmt.Errorf("parse log block number: %w", err)
		}
	}
	if l.LogIndex != "" {
		if out.LogIndex, err = utils.ParseHexUint64(l.LogIndex); err != nil {
			return domain.Log{}, fmt.Errorf("parse log index: %w", err)
		}
	}
	return out, nil
}
