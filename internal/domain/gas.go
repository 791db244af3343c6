package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fystack/eth-disburser/pkg/unit"
)

var ErrInvalidGasTier = errors.New("invalid gas tier")

type GasTier string

const (
	GasTierLow    GasTier = "low"
	GasTierMedium GasTier = "medium"
	GasTierHigh   GasTier = "high"
)

func ParseGasTier(s string) (GasTier, error) {
	t := GasTier(strings.ToLower(strings.TrimSpace(s)))
	switch t {
	case GasTierLow, GasTierMedium, GasTierHigh:
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGasTier, s)
}

// GasPrices holds the oracle's price tiers in gwei.
type GasPrices struct {
	Low    unit.Amount `json:"low"`
	Medium unit.Amount `json:"medium"`
	High   unit.Amount `json:"high"`
}

func (g GasPrices) Tier(t GasTier) (unit.Amount, error) {
	switch t {
	case GasTierLow:
		return g.Low, nil
	case GasTierMedium:
		return g.Medium, nil
	case GasTierHigh:
		return g.High, nil
	}
	return unit.Amount{}, fmt.Errorf("%w: %q", ErrInvalidGasTier, string(t))
}
