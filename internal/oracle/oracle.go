package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/rpc"
	"github.com/fystack/eth-disburser/pkg/common/config"
	"github.com/fystack/eth-disburser/pkg/common/enum"
	"github.com/fystack/eth-disburser/pkg/ratelimiter"
)

var ErrOracleResponse = errors.New("gas oracle returned an unusable response")

// GasOracle reports the current low/medium/high gas prices in gwei.
type GasOracle interface {
	CurrentGasPrices(ctx context.Context) (domain.GasPrices, error)
}

// New builds the configured oracle. The node oracle reads eth_gasPrice through source.
func New(cfg config.GasOracleConfig, source GasPriceSource) (GasOracle, error) {
	switch cfg.Type {
	case enum.GasOracleEtherscan, "":
		client := rpc.NewBaseClient(
			cfg.URL,
			rpc.NetworkEVM,
			rpc.ClientTypeREST,
			nil,
			cfg.Timeout,
			ratelimiter.NewPooledRateLimiterFromRPS(cfg.Throttle.RPS, cfg.Throttle.Burst),
		)
		return NewEtherscan(client, cfg.ApiKey, DefaultRetry), nil
	case enum.GasOracleNode:
		if source == nil {
			return nil, fmt.Errorf("node gas oracle needs a gas price source")
		}
		return NewNode(source), nil
	default:
		return nil, fmt.Errorf("unsupported gas oracle type: %s", cfg.Type)
	}
}

// RetryPolicy bounds the exponential backoff applied to oracle fetches.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxRetries      uint64
}

var DefaultRetry = RetryPolicy{InitialInterval: 500 * time.Millisecond, MaxRetries: 3}
