package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/rpc"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/retry"
	"github.com/fystack/eth-disburser/pkg/unit"
)

type etherscanResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type gasOracleResult struct {
	LastBlock       string `json:"LastBlock"`
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
}

// Etherscan queries the gastracker module of the Etherscan API.
type Etherscan struct {
	client rpc.NetworkClient
	apiKey string
	retry  RetryPolicy
}

func NewEtherscan(client rpc.NetworkClient, apiKey string, policy RetryPolicy) *Etherscan {
	return &Etherscan{client: client, apiKey: apiKey, retry: policy}
}

func (e *Etherscan) CurrentGasPrices(ctx context.Context) (domain.GasPrices, error) {
	var prices domain.GasPrices
	err := retry.Exponential(ctx, func() error {
		var err error
		prices, err = e.fetch(ctx)
		return err
	}, retry.ExponentialConfig{
		InitialInterval: e.retry.InitialInterval,
		MaxRetries:      e.retry.MaxRetries,
		OnRetry: func(err error, next time.Duration) {
			logger.Warn("Gas oracle fetch failed, retrying", "err", err, "next", next)
		},
	})
	if err != nil {
		return domain.GasPrices{}, fmt.Errorf("etherscan gas oracle: %w", err)
	}
	return prices, nil
}

func (e *Etherscan) fetch(ctx context.Context) (domain.GasPrices, error) {
	params := map[string]string{
		"module": "gastracker",
		"action": "gasoracle",
	}
	if e.apiKey != "" {
		params["apikey"] = e.apiKey
	}

	data, err := e.client.Do(ctx, http.MethodGet, "", nil, params)
	if err != nil {
		return domain.GasPrices{}, err
	}

	var resp etherscanResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return domain.GasPrices{}, retry.Permanent(fmt.Errorf("%w: %v", ErrOracleResponse, err))
	}
	// NOTOK covers both rate limiting and bad keys; both are worth another try.
	if resp.Message != "OK" {
		var reason string
		_ = json.Unmarshal(resp.Result, &reason)
		return domain.GasPrices{}, fmt.Errorf("%w: %s %s", ErrOracleResponse, resp.Message, reason)
	}

	var result gasOracleResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return domain.GasPrices{}, retry.Permanent(fmt.Errorf("%w: %v", ErrOracleResponse, err))
	}

	var prices domain.GasPrices
	if prices.Low, err = parseTier("SafeGasPrice", result.SafeGasPrice); err != nil {
		return domain.GasPrices{}, err
	}
	if prices.Medium, err = parseTier("ProposeGasPrice", result.ProposeGasPrice); err != nil {
		return domain.GasPrices{}, err
	}
	if prices.High, err = parseTier("FastGasPrice", result.FastGasPrice); err != nil {
		return domain.GasPrices{}, err
	}

	logger.Debug("Fetched gas prices", "last_block", result.LastBlock,
		"low", prices.Low, "medium", prices.Medium, "high", prices.High)
	return prices, nil
}

func parseTier(name, raw string) (unit.Amount, error) {
	v, err := unit.Parse(raw, unit.Gwei)
	if err != nil {
		return unit.Amount{}, retry.Permanent(fmt.Errorf("%w: %s: %v", ErrOracleResponse, name, err))
	}
	if !v.IsPositive() {
		return unit.Amount{}, retry.Permanent(fmt.Errorf("%w: %s must be positive", ErrOracleResponse, name))
	}
	return v.Truncate(unit.Wei), nil
}
