package oracle

import (
	"context"
	"fmt"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/unit"
)

// GasPriceSource is satisfied by chain.Ethereum.
type GasPriceSource interface {
	GasPrice(ctx context.Context) (unit.Amount, error)
}

const (
	lowPercent    = 80
	mediumPercent = 100
	highPercent   = 150
)

// Node derives the three tiers from the node's eth_gasPrice suggestion.
type Node struct {
	source GasPriceSource
}

func NewNode(source GasPriceSource) *Node {
	return &Node{source: source}
}

func (n *Node) CurrentGasPrices(ctx context.Context) (domain.GasPrices, error) {
	base, err := n.source.GasPrice(ctx)
	if err != nil {
		return domain.GasPrices{}, fmt.Errorf("node gas oracle: %w", err)
	}
	if !base.IsPositive() {
		return domain.GasPrices{}, fmt.Errorf("%w: node suggested %s", ErrOracleResponse, base)
	}
	base = base.ToGwei()
	return domain.GasPrices{
		Low:    base.Percent(lowPercent).Truncate(unit.Wei),
		Medium: base.Percent(mediumPercent).Truncate(unit.Wei),
		High:   base.Percent(highPercent).Truncate(unit.Wei),
	}, nil
}
