package evm

import (
	"context"
	"math/big"

	"github.com/fystack/eth-disburser/internal/rpc"
)

type EthereumAPI interface {
	rpc.NetworkClient
	GetBlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	GetBalance(ctx context.Context, address, blockTag string) (*big.Int, error)
	GetTransactionCount(ctx context.Context, address, blockTag string) (uint64, error)
	GetTransactionReceipt(ctx context.Context, txHash string) (*TxnReceipt, error)
	SendRawTransaction(ctx context.Context, rawTx string) (string, error)
	GetLogs(ctx context.Context, filter LogFilter) ([]Log, error)
}
