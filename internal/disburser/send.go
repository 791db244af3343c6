package disburser

import (
	"context"
	"errors"
	"fmt"

	"github.com/fystack/eth-disburser/internal/chain"
	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/common/constant"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/events"
	"github.com/fystack/eth-disburser/pkg/unit"
)

// send signs, broadcasts and waits for one transfer. The cache is written right after a
// successful broadcast, before polling, so a crash while waiting cannot lose the hash.
// The returned record always reflects how far the transfer got.
func (s *Service) send(ctx context.Context, tx *domain.Transaction, policy Policy, kind events.EventType) (domain.TransactionRecord, error) {
	failed := func(err error) (domain.TransactionRecord, error) {
		rec := tx.Record(s.network)
		rec.Status = domain.TxStatusFailed
		rec.Error = err.Error()
		return rec, err
	}

	if tx.Value.LessThan(policy.MinPerTransaction) {
		return failed(fmt.Errorf("%w: %s < %s", ErrBelowMinimumAmount, tx.Value, policy.MinPerTransaction))
	}

	signed, err := s.signer.Sign(tx)
	if err != nil {
		return failed(fmt.Errorf("sign: %w", err))
	}

	hash, err := s.chain.SendRawTransaction(ctx, signed.Raw)
	switch {
	case errors.Is(err, chain.ErrAlreadyKnown):
		logger.Warn("Node already knows the transaction", "hash", signed.Hash, "nonce", tx.Nonce)
		hash = signed.Hash
	case err != nil:
		logger.Error("SEND ERROR", "transaction", tx.Record(s.network), "raw", signed.Raw, "err", err)
		s.emitTx(ctx, events.EventFailed, tx, err.Error())
		return failed(fmt.Errorf("broadcast: %w", err))
	}

	if err := tx.MarkBroadcast(hash, s.now()); err != nil {
		return failed(err)
	}
	rec := tx.Record(s.network)
	rec.Status = domain.TxStatusPending
	logger.Info("SEND SUCCESS", "transaction", rec)

	if err := s.cache.Put(tx); err != nil {
		rec.Error = err.Error()
		return rec, fmt.Errorf("%w: put %s: %w", ErrCacheStorage, hash, err)
	}
	s.emitTx(ctx, kind, tx, "")
	s.saveHistory(ctx, tx, domain.TxStatusPending)

	res, err := s.poller.AwaitReceipt(ctx, hash, policy.ReceiptTimeout, policy.PollInterval)
	if err != nil {
		return rec, fmt.Errorf("await receipt: %w", err)
	}
	if !res.Resolved {
		logger.Info("Transaction not confirmed yet", "hash", hash, "timeout", policy.ReceiptTimeout)
		s.emitTx(ctx, events.EventPending, tx, "")
		return rec, nil
	}

	if err := s.cache.MarkConfirmed(tx.From.Address(), tx.To, res.Receipt); err != nil {
		return rec, fmt.Errorf("%w: confirm %s: %w", ErrCacheStorage, hash, err)
	}
	rec.Status = domain.TxStatusConfirmed
	if !res.Receipt.Succeeded() {
		rec.Status = domain.TxStatusReverted
	}
	s.saveHistory(ctx, tx, rec.Status)
	s.emitTx(ctx, events.EventConfirmed, tx, string(rec.Status))
	logger.Info("Transaction confirmed", "hash", hash, "status", rec.Status, "block", res.Receipt.BlockNumber)

	if rec.Status == domain.TxStatusReverted {
		return rec, fmt.Errorf("%w: %s", ErrTransactionReverted, hash)
	}
	return rec, nil
}

// Send transfers amount from cred to one address at the current price of tier, using the
// pending nonce of the source. It is the single-transfer counterpart of Run.
func (s *Service) Send(ctx context.Context, cred *domain.Credential, to domain.Address, amount unit.Amount, tier domain.GasTier, policy Policy) (domain.TransactionRecord, error) {
	gasPrice, err := s.gasPrice(ctx, tier)
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	unlock, err := s.locker.Lock(ctx, constant.RunLockKeyPrefix+cred.Address().Lower())
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("lock %s: %w", cred.Address(), err)
	}
	defer unlock()

	nonce, err := s.chain.GetTransactionCount(ctx, cred.Address(), domain.BlockPending)
	if err != nil {
		return domain.TransactionRecord{}, fmt.Errorf("get nonce: %w", err)
	}
	tx := domain.NewTransaction(cred, to, amount, gasPrice, nonce, s.signer.ChainID())
	return s.send(ctx, tx, policy, events.EventSent)
}
