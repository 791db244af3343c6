package disburser

import (
	"fmt"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/common/config"
	"github.com/fystack/eth-disburser/pkg/common/constant"
	"github.com/fystack/eth-disburser/pkg/unit"
)

// Policy carries the batch parameters. Nil caps mean "no cap".
type Policy struct {
	MinAvailableBalance    unit.Amount  // ether
	FeeBuffer              unit.Amount  // ether
	MaxBalancePerRun       *unit.Amount // ether
	MaxGasPrice            *unit.Amount // gwei
	MinPerTransaction      unit.Amount  // ether
	ResendInterval         time.Duration
	ReceiptTimeout         time.Duration
	PollInterval           time.Duration
	GasTier                domain.GasTier
	ReplacementBumpPercent int64
}

func DefaultPolicy() Policy {
	return Policy{
		MinAvailableBalance: unit.EtherOf("0.1"),
		FeeBuffer:           unit.EtherOf("0.01"),
		MinPerTransaction:   unit.EtherOf(constant.MinPerTransactionEther),
		ResendInterval:      constant.DefaultResendInterval,
		ReceiptTimeout:      constant.DefaultReceiptTimeout,
		PollInterval:        constant.DefaultPollInterval,
		GasTier:             domain.GasTierMedium,
	}
}

// PolicyFromConfig converts the validated config section. Empty amounts keep their defaults.
func PolicyFromConfig(c config.PolicyConfig) (Policy, error) {
	p := DefaultPolicy()

	var err error
	parse := func(name, raw string, d unit.Denomination, dst *unit.Amount) {
		if err != nil || raw == "" {
			return
		}
		var a unit.Amount
		if a, err = unit.Parse(raw, d); err != nil {
			err = fmt.Errorf("policy.%s: %w", name, err)
			return
		}
		*dst = a.In(d)
	}
	parseOptional := func(name, raw string, d unit.Denomination) *unit.Amount {
		if raw == "" {
			return nil
		}
		var a unit.Amount
		parse(name, raw, d, &a)
		return &a
	}

	parse("min_available_balance", c.MinAvailableBalance, unit.Ether, &p.MinAvailableBalance)
	parse("fee_buffer", c.FeeBuffer, unit.Ether, &p.FeeBuffer)
	parse("min_per_transaction", c.MinPerTransaction, unit.Ether, &p.MinPerTransaction)
	p.MaxBalancePerRun = parseOptional("max_balance_per_run", c.MaxBalancePerRun, unit.Ether)
	p.MaxGasPrice = parseOptional("max_gas_price", c.MaxGasPrice, unit.Gwei)
	if err != nil {
		return Policy{}, err
	}

	if c.ResendInterval > 0 {
		p.ResendInterval = c.ResendInterval
	}
	if c.ReceiptTimeout > 0 {
		p.ReceiptTimeout = c.ReceiptTimeout
	}
	if c.PollInterval > 0 {
		p.PollInterval = c.PollInterval
	}
	if c.GasTier != "" {
		if p.GasTier, err = domain.ParseGasTier(c.GasTier); err != nil {
			return Policy{}, err
		}
	}
	p.ReplacementBumpPercent = int64(c.ReplacementBumpPercent)
	return p, nil
}

// ComputeDisbursable returns what may be split across the task's recipients:
// the balance (or the cap, when set and not above the balance) minus
// gasPrice × recipientCount + feeBuffer. The result is in ether and may be zero or negative.
func ComputeDisbursable(task *domain.TaskWallet, gasPrice, feeBuffer, balance unit.Amount, maxCap *unit.Amount) unit.Amount {
	reserve := gasPrice.ToEther().MulInt(int64(len(task.Recipients))).Add(feeBuffer)

	base := balance.ToEther()
	if maxCap != nil && !maxCap.GreaterThan(balance) {
		base = maxCap.ToEther()
	}
	return base.Sub(reserve)
}
