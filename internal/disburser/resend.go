package disburser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/txcache"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/events"
	"github.com/fystack/eth-disburser/pkg/unit"
	"github.com/samber/lo"
)

// resend re-broadcasts unresolved transfers that are older than the resend interval with
// the same nonce, recipient, value and data at a freshly fetched gas price. Younger ones
// are reported as pending and left alone. An oracle failure aborts the run.
func (s *Service) resend(ctx context.Context, task *domain.TaskWallet, policy Policy, entries []*txcache.Entry, tr *TaskReport) error {
	now := s.now()
	due, waiting := lo.FilterReject(entries, func(e *txcache.Entry, _ int) bool {
		return e.Age(now) >= policy.ResendInterval
	})

	for _, e := range waiting {
		logger.Info("Transaction still propagating", "task", task.Name, "recipient", e.Recipient, "hash", e.Hash, "age", e.Age(now).Round(time.Second))
		tr.record(s.entryRecord(task.Credential, e))
	}
	if len(due) == 0 {
		tr.Outcome = OutcomePending
		tr.Reason = fmt.Sprintf("%d transaction(s) awaiting confirmation", len(waiting))
		return nil
	}

	resent := 0
	for _, e := range due {
		current, err := s.gasPrice(ctx, policy.GasTier)
		if err != nil {
			tr.fail(err)
			return err
		}
		price := s.replacementPrice(e, current, policy.ReplacementBumpPercent)
		tx, err := e.Transaction(task.Credential, price)
		if err != nil {
			tr.addError(fmt.Errorf("%s: rebuild cached transaction: %w", e.Recipient, err))
			continue
		}
		logger.Info("Resending transaction", "task", task.Name, "recipient", tx.To, "nonce", tx.Nonce, "previous_hash", e.Hash, "gas_price", price)

		rec, err := s.send(ctx, tx, policy, events.EventResent)
		tr.record(rec)
		if errors.Is(err, ErrCacheStorage) {
			tr.fail(err)
			return err
		}
		if err != nil {
			tr.addError(fmt.Errorf("%s: %w", tx.To, err))
		}
		if tx.Broadcasted() {
			resent++
		}
	}

	tr.Outcome = OutcomeResent
	if resent == 0 {
		tr.Outcome = OutcomeFailed
	}
	return nil
}

// replacementPrice is the current price, raised to the cached price plus bump percent
// when that is higher. Nodes reject a same-nonce replacement that does not pay more.
func (s *Service) replacementPrice(e *txcache.Entry, current unit.Amount, bump int64) unit.Amount {
	if bump <= 0 {
		return current
	}
	cached, err := e.GasPrice()
	if err != nil {
		logger.Warn("Cached gas price unreadable, using current price", "hash", e.Hash, "err", err)
		return current
	}
	bumped := cached.Add(cached.Percent(bump)).Truncate(unit.Wei)
	return unit.Max(current, bumped).ToGwei()
}

func (s *Service) entryRecord(cred *domain.Credential, e *txcache.Entry) domain.TransactionRecord {
	price, err := e.GasPrice()
	if err != nil {
		price = unit.FromInt(0, unit.Gwei)
	}
	tx, err := e.Transaction(cred, price)
	if err != nil {
		return domain.TransactionRecord{To: e.Recipient, TransactionHash: e.Hash, Status: domain.TxStatusPending, Error: err.Error()}
	}
	tx.Hash = domain.Hash(e.Hash)
	tx.CreatedAt = e.CreatedAt
	rec := tx.Record(s.network)
	rec.Status = domain.TxStatusPending
	return rec
}
