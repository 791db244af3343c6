package disburser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/oracle"
	"github.com/fystack/eth-disburser/internal/poller"
	"github.com/fystack/eth-disburser/internal/signer"
	"github.com/fystack/eth-disburser/internal/txcache"
	"github.com/fystack/eth-disburser/pkg/common/constant"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/events"
	"github.com/fystack/eth-disburser/pkg/store/runlock"
	"github.com/fystack/eth-disburser/pkg/unit"
)

var (
	ErrBelowMinimumAmount  = errors.New("amount is below the per-transaction minimum")
	ErrCacheStorage        = errors.New("transaction cache storage failure")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrGasOracle           = errors.New("gas oracle unavailable")
)

// Chain is satisfied by chain.Ethereum.
type Chain interface {
	GetBalance(ctx context.Context, addr domain.Address, tag domain.BlockTag) (unit.Amount, error)
	GetTransactionCount(ctx context.Context, addr domain.Address, tag domain.BlockTag) (uint64, error)
	SendRawTransaction(ctx context.Context, payload string) (domain.Hash, error)
}

// Cache is satisfied by txcache.Cache.
type Cache interface {
	Put(tx *domain.Transaction) error
	FindUnresolved(ctx context.Context, source *domain.Credential, recipients []domain.Address) ([]*txcache.Entry, error)
	MarkConfirmed(source, recipient domain.Address, receipt *domain.Receipt) error
}

type ReceiptPoller interface {
	AwaitReceipt(ctx context.Context, hash domain.Hash, timeout, interval time.Duration) (poller.Result, error)
}

// History is an optional ledger of every broadcast, satisfied by repository.DisbursementHistory.
type History interface {
	Save(ctx context.Context, tx *domain.Transaction, status domain.TxStatus) error
}

// DisbursableFunc matches ComputeDisbursable.
type DisbursableFunc func(task *domain.TaskWallet, gasPrice, feeBuffer, balance unit.Amount, maxCap *unit.Amount) unit.Amount

// Service runs disbursement batches. Task wallets are processed one after another and
// recipients strictly in list order.
type Service struct {
	network domain.Network
	chain   Chain
	signer  signer.Signer
	oracle  oracle.GasOracle
	cache   Cache
	poller  ReceiptPoller

	locker  runlock.Locker
	emitter events.Emitter
	history History

	now     func() time.Time
	compute DisbursableFunc
}

type Option func(*Service)

func WithLocker(l runlock.Locker) Option { return func(s *Service) { s.locker = l } }

func WithEmitter(e events.Emitter) Option { return func(s *Service) { s.emitter = e } }

func WithHistory(h History) Option { return func(s *Service) { s.history = h } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithDisbursableFunc(fn DisbursableFunc) Option { return func(s *Service) { s.compute = fn } }

func NewService(
	network domain.Network,
	chain Chain,
	sign signer.Signer,
	gasOracle oracle.GasOracle,
	cache Cache,
	receipts ReceiptPoller,
	opts ...Option,
) *Service {
	s := &Service{
		network: network,
		chain:   chain,
		signer:  sign,
		oracle:  gasOracle,
		cache:   cache,
		poller:  receipts,
		locker:  runlock.NewLocal(),
		now:     time.Now,
		compute: ComputeDisbursable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run performs one batch pass over tasks. Gas prices are fetched again for every task and
// before every resend. The returned report is never nil. A non-nil error means the run was
// aborted: the gas oracle failed, the transaction cache could not be written, or ctx was
// cancelled. Failures local to one task or recipient are recorded in the report and do
// not stop the batch.
func (s *Service) Run(ctx context.Context, tasks []*domain.TaskWallet, policy Policy) (*Report, error) {
	report := &Report{
		StartedAt: s.now().UTC(),
		Tasks:     make([]*TaskReport, 0, len(tasks)),
	}

	logger.Info("Starting disbursement run", "tasks", len(tasks), "tier", policy.GasTier)

	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			report.finish(s.now(), err)
			return report, err
		}
		gasPrice, err := s.gasPrice(ctx, policy.GasTier)
		if err != nil {
			logger.Error("Gas oracle unavailable, aborting run", "task", task.Name, "err", err)
			report.finish(s.now(), err)
			return report, err
		}
		tr := newTaskReport(task)
		report.Tasks = append(report.Tasks, tr)

		if err := s.runTask(ctx, task, policy, gasPrice, tr); err != nil {
			logger.Error("Aborting run", "task", task.Name, "err", err)
			report.finish(s.now(), err)
			return report, err
		}
		logger.Info("Task finished", "task", task.Name, "outcome", tr.Outcome, "reason", tr.Reason, "transactions", len(tr.Transactions))
	}

	report.finish(s.now(), nil)
	return report, nil
}

func (s *Service) gasPrice(ctx context.Context, tier domain.GasTier) (unit.Amount, error) {
	prices, err := s.oracle.CurrentGasPrices(ctx)
	if err != nil {
		return unit.Amount{}, fmt.Errorf("%w: %w", ErrGasOracle, err)
	}
	price, err := prices.Tier(tier)
	if err != nil {
		return unit.Amount{}, err
	}
	return price.ToGwei(), nil
}

// runTask returns an error only when the whole run must stop.
func (s *Service) runTask(ctx context.Context, task *domain.TaskWallet, policy Policy, gasPrice unit.Amount, tr *TaskReport) error {
	source := task.Source()
	log := logger.With("task", task.Name, "source", source)

	unlock, err := s.locker.Lock(ctx, constant.RunLockKeyPrefix+source.Lower())
	if err != nil {
		log.Warn("Source wallet is locked by another run", "err", err)
		s.skipTask(ctx, task, tr, fmt.Sprintf("lock: %v", err))
		return nil
	}
	defer unlock()

	tr.GasPrice = &gasPrice
	if policy.MaxGasPrice != nil && gasPrice.GreaterThan(*policy.MaxGasPrice) {
		s.skipTask(ctx, task, tr, fmt.Sprintf("gas price %s is above the ceiling %s", gasPrice, *policy.MaxGasPrice))
		return nil
	}

	balance, err := s.chain.GetBalance(ctx, source, domain.BlockLatest)
	if err != nil {
		s.failTask(ctx, task, tr, fmt.Errorf("get balance: %w", err))
		return nil
	}
	tr.Balance = &balance
	if balance.LessThan(policy.MinAvailableBalance) {
		s.skipTask(ctx, task, tr, fmt.Sprintf("balance %s is below the minimum %s", balance, policy.MinAvailableBalance))
		return nil
	}

	unresolved, err := s.cache.FindUnresolved(ctx, task.Credential, task.RecipientAddresses())
	if err != nil {
		return fmt.Errorf("%w: find unresolved for %s: %w", ErrCacheStorage, source, err)
	}
	if len(unresolved) > 0 {
		log.Info("Unresolved transactions found, skipping new split", "count", len(unresolved))
		return s.resend(ctx, task, policy, unresolved, tr)
	}

	disbursable := s.compute(task, gasPrice, policy.FeeBuffer, balance, policy.MaxBalancePerRun).Truncate(unit.Gwei)
	tr.Disbursable = &disbursable
	switch {
	case !disbursable.LessThan(balance):
		s.skipTask(ctx, task, tr, fmt.Sprintf("disbursable %s is not below the balance %s", disbursable, balance))
		return nil
	case !disbursable.IsPositive():
		s.skipTask(ctx, task, tr, fmt.Sprintf("nothing to disburse after reserving fees (%s)", disbursable))
		return nil
	}

	if err := domain.ValidateSplit(task, disbursable); err != nil {
		s.failTask(ctx, task, tr, err)
		return nil
	}

	base, err := s.chain.GetTransactionCount(ctx, source, domain.BlockPending)
	if err != nil {
		s.failTask(ctx, task, tr, fmt.Errorf("get nonce: %w", err))
		return nil
	}
	log.Info("Disbursing", "amount", disbursable, "recipients", len(task.Recipients), "base_nonce", base)

	sent := 0
	var missing []uint64
	for i, r := range task.Recipients {
		tx := domain.NewTransaction(task.Credential, r.Address, r.Share(disbursable), gasPrice, base+uint64(i), s.signer.ChainID())
		rec, err := s.send(ctx, tx, policy, events.EventSent)
		tr.record(rec)
		if errors.Is(err, ErrCacheStorage) {
			tr.fail(err)
			return err
		}
		if err != nil {
			log.Warn("Transfer failed", "recipient", r.Address, "nonce", tx.Nonce, "err", err)
			tr.addError(fmt.Errorf("%s: %w", r.Address, err))
		}
		if tx.Broadcasted() {
			sent++
			tr.NonceGaps = append(tr.NonceGaps, missing...)
			missing = nil
		} else {
			missing = append(missing, tx.Nonce)
		}
	}
	if len(tr.NonceGaps) > 0 {
		log.Warn("Nonce gap left behind, later transfers cannot be mined until it is filled",
			"missing_nonces", tr.NonceGaps)
	}

	tr.Outcome = OutcomeSent
	if sent == 0 {
		tr.Outcome = OutcomeFailed
	}
	return nil
}

func (s *Service) skipTask(ctx context.Context, task *domain.TaskWallet, tr *TaskReport, reason string) {
	logger.Info("Skipping task", "task", task.Name, "source", task.Source(), "reason", reason)
	tr.skip(reason)
	s.emit(ctx, events.DisbursementEvent{
		Type:   events.EventSkipped,
		Task:   task.Name,
		Source: task.Source().String(),
		Reason: reason,
	})
}

func (s *Service) failTask(ctx context.Context, task *domain.TaskWallet, tr *TaskReport, err error) {
	logger.Error("Task failed", "task", task.Name, "source", task.Source(), "err", err)
	tr.fail(err)
	s.emit(ctx, events.DisbursementEvent{
		Type:   events.EventFailed,
		Task:   task.Name,
		Source: task.Source().String(),
		Reason: err.Error(),
	})
}

func (s *Service) emit(ctx context.Context, event events.DisbursementEvent) {
	if s.emitter == nil {
		return
	}
	event.ChainID = s.network.ChainID
	event.Timestamp = s.now().Unix()
	if err := s.emitter.Emit(ctx, event); err != nil {
		logger.Warn("Failed to publish disbursement event", "type", event.Type, "hash", event.Hash, "err", err)
	}
}

func (s *Service) emitTx(ctx context.Context, t events.EventType, tx *domain.Transaction, reason string) {
	event := events.DisbursementEvent{
		Type:      t,
		Recipient: tx.To.String(),
		Hash:      tx.Hash.String(),
		Nonce:     &tx.Nonce,
		Reason:    reason,
	}
	if tx.From != nil {
		event.Source = tx.From.Address().String()
	}
	if v, err := tx.Value.BigWei(); err == nil {
		event.ValueWei = v.String()
	}
	if p, err := tx.GasPrice.BigWei(); err == nil {
		event.GasPriceWei = p.String()
	}
	s.emit(ctx, event)
}

func (s *Service) saveHistory(ctx context.Context, tx *domain.Transaction, status domain.TxStatus) {
	if s.history == nil {
		return
	}
	if err := s.history.Save(ctx, tx, status); err != nil {
		logger.Warn("Failed to record disbursement history", "hash", tx.Hash, "status", status, "err", err)
	}
}
