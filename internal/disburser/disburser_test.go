package disburser

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/fystack/eth-disburser/internal/chain"
	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/poller"
	"github.com/fystack/eth-disburser/internal/signer"
	"github.com/fystack/eth-disburser/internal/txcache"
	"github.com/fystack/eth-disburser/pkg/common/constant"
	"github.com/fystack/eth-disburser/pkg/events"
	"github.com/fystack/eth-disburser/pkg/infra"
	"github.com/fystack/eth-disburser/pkg/kvstore"
	"github.com/fystack/eth-disburser/pkg/store/runlock"
	"github.com/fystack/eth-disburser/pkg/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hardhatKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	alice = "0x1111111111111111111111111111111111111111"
	bob   = "0x2222222222222222222222222222222222222222"
	carol = "0x3333333333333333333333333333333333333333"
)

type fakeChain struct {
	mu           sync.Mutex
	balance      unit.Amount
	nonce        uint64
	balanceCalls int
	nonceCalls   int
	balanceErr   error
	failNonce    map[uint64]error
	sent         []*types.Transaction
}

func (c *fakeChain) GetBalance(_ context.Context, _ domain.Address, _ domain.BlockTag) (unit.Amount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balanceCalls++
	return c.balance, c.balanceErr
}

func (c *fakeChain) GetTransactionCount(_ context.Context, _ domain.Address, tag domain.BlockTag) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nonceCalls++
	if tag != domain.BlockPending {
		return 0, errors.New("nonce must be read from the pending state")
	}
	return c.nonce, nil
}

func (c *fakeChain) SendRawTransaction(_ context.Context, payload string) (domain.Hash, error) {
	raw, err := hexutil.Decode(payload)
	if err != nil {
		return "", err
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.failNonce[tx.Nonce()]; err != nil {
		return "", err
	}
	c.sent = append(c.sent, tx)
	return domain.Hash(tx.Hash().Hex()), nil
}

func (c *fakeChain) sentTxs() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Transaction(nil), c.sent...)
}

// fakeOracle serves queued prices first, then prices. failAfter > 0 makes every call
// after the first failAfter return err.
type fakeOracle struct {
	mu        sync.Mutex
	prices    domain.GasPrices
	queue     []domain.GasPrices
	err       error
	failAfter int
	calls     int
}

func (o *fakeOracle) CurrentGasPrices(context.Context) (domain.GasPrices, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	if o.err != nil && (o.failAfter == 0 || o.calls > o.failAfter) {
		return domain.GasPrices{}, o.err
	}
	if len(o.queue) > 0 {
		p := o.queue[0]
		o.queue = o.queue[1:]
		return p, nil
	}
	return o.prices, nil
}

func flatPrices(gwei string) domain.GasPrices {
	p := unit.GweiOf(gwei)
	return domain.GasPrices{Low: p, Medium: p, High: p}
}

// fakeReceipts resolves every hash when confirmAll is set, and nothing otherwise.
type fakeReceipts struct {
	mu         sync.Mutex
	confirmAll bool
	status     domain.ReceiptStatus
	queries    []domain.Hash
}

func (f *fakeReceipts) AwaitReceipt(_ context.Context, hash domain.Hash, _, _ time.Duration) (poller.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, hash)
	if !f.confirmAll {
		return poller.Result{}, nil
	}
	return poller.Result{
		Resolved: true,
		Receipt:  &domain.Receipt{TransactionHash: hash, BlockNumber: 100, Status: f.status},
	}, nil
}

type memoryEmitter struct {
	mu     sync.Mutex
	events []events.DisbursementEvent
}

func (e *memoryEmitter) Emit(_ context.Context, event events.DisbursementEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *memoryEmitter) Close() {}

func (e *memoryEmitter) kinds() []events.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]events.EventType, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

type memoryHistory struct {
	mu    sync.Mutex
	saved map[domain.Hash]domain.TxStatus
}

func (h *memoryHistory) Save(_ context.Context, tx *domain.Transaction, status domain.TxStatus) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.saved == nil {
		h.saved = map[domain.Hash]domain.TxStatus{}
	}
	h.saved[tx.Hash] = status
	return nil
}

type brokenCache struct {
	*txcache.Cache
}

func (brokenCache) Put(*domain.Transaction) error { return errors.New("disk full") }

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

type harness struct {
	chain    *fakeChain
	oracle   *fakeOracle
	receipts *fakeReceipts
	cache    *txcache.Cache
	emitter  *memoryEmitter
	history  *memoryHistory
	clock    *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := kvstore.NewBadgerStore(t.TempDir(), "", infra.JSON)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	receipts := &fakeReceipts{status: domain.ReceiptStatusSuccess}
	return &harness{
		chain:    &fakeChain{balance: unit.EtherOf("1.0100001"), nonce: 7},
		oracle:   &fakeOracle{prices: flatPrices("50")},
		receipts: receipts,
		cache:    txcache.New(store, infra.JSON, receipts),
		emitter:  &memoryEmitter{},
		history:  &memoryHistory{},
		clock:    &clock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
}

func (h *harness) service(opts ...Option) *Service {
	base := []Option{
		WithClock(h.clock.now),
		WithEmitter(h.emitter),
		WithHistory(h.history),
	}
	return NewService(domain.Mainnet, h.chain, signer.NewEIP155Signer(1), h.oracle, h.cache, h.receipts, append(base, opts...)...)
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.MinAvailableBalance = unit.EtherOf("0.1")
	p.FeeBuffer = unit.EtherOf("0.01")
	p.ReceiptTimeout = 0
	p.PollInterval = 0
	return p
}

func newTask(t *testing.T, shares map[string]int, order ...string) *domain.TaskWallet {
	t.Helper()
	cred, err := domain.CredentialFromHex(hardhatKey)
	require.NoError(t, err)
	recipients := make([]domain.RecipientWallet, 0, len(order))
	for _, addr := range order {
		r, err := domain.NewRecipientWallet(addr, shares[addr])
		require.NoError(t, err)
		recipients = append(recipients, r)
	}
	task, err := domain.NewTaskWallet("payroll", cred, recipients)
	require.NoError(t, err)
	return task
}

func ninetyTen(t *testing.T) *domain.TaskWallet {
	return newTask(t, map[string]int{alice: 90, bob: 10}, alice, bob)
}

func wei(t *testing.T, a unit.Amount) *big.Int {
	t.Helper()
	v, err := a.BigWei()
	require.NoError(t, err)
	return v
}

func TestRun_SplitsAndCaches(t *testing.T) {
	h := newHarness(t)
	task := ninetyTen(t)

	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{task}, testPolicy())
	require.NoError(t, err)
	assert.True(t, report.Success)
	require.Len(t, report.Tasks, 1)

	tr := report.Tasks[0]
	assert.Equal(t, OutcomeSent, tr.Outcome)
	assert.Equal(t, "1 ether", tr.Disbursable.String())
	require.Len(t, tr.Transactions, 2)
	assert.Equal(t, "0.9", tr.Transactions[alice].Value)
	assert.Equal(t, "0.1", tr.Transactions[bob].Value)
	assert.Equal(t, domain.TxStatusPending, tr.Transactions[alice].Status)
	assert.Contains(t, tr.Transactions[alice].TransactionURL, "https://etherscan.io/tx/0x")

	sent := h.chain.sentTxs()
	require.Len(t, sent, 2)
	assert.Equal(t, uint64(7), sent[0].Nonce())
	assert.Equal(t, uint64(8), sent[1].Nonce())
	assert.Equal(t, alice, sent[0].To().Hex())
	assert.Equal(t, 0, sent[0].Value().Cmp(wei(t, unit.EtherOf("0.9"))))
	assert.Equal(t, 0, sent[1].Value().Cmp(wei(t, unit.EtherOf("0.1"))))
	assert.Equal(t, 0, sent[0].GasPrice().Cmp(wei(t, unit.GweiOf("50"))))
	assert.Equal(t, 1, h.chain.nonceCalls)

	entries, err := h.cache.List(task.Source())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, sent[0].Hash().Hex(), entries[0].Hash)
	assert.Equal(t, sent[1].Hash().Hex(), entries[1].Hash)
	assert.False(t, entries[0].Confirmed())

	assert.Equal(t, []events.EventType{events.EventSent, events.EventPending, events.EventSent, events.EventPending}, h.emitter.kinds())
	assert.Len(t, h.history.saved, 2)
}

func TestRun_SecondRunWaitsThenResends(t *testing.T) {
	h := newHarness(t)
	task := ninetyTen(t)
	policy := testPolicy()
	svc := h.service()

	_, err := svc.Run(context.Background(), []*domain.TaskWallet{task}, policy)
	require.NoError(t, err)
	first := h.chain.sentTxs()
	require.Len(t, first, 2)

	// nothing confirmed, interval not elapsed
	h.clock.advance(time.Hour)
	report, err := svc.Run(context.Background(), []*domain.TaskWallet{task}, policy)
	require.NoError(t, err)
	tr := report.Tasks[0]
	assert.Equal(t, OutcomePending, tr.Outcome)
	assert.Nil(t, tr.Disbursable, "no new split while transfers are unresolved")
	assert.Len(t, h.chain.sentTxs(), 2)
	assert.Equal(t, first[0].Hash().Hex(), tr.Transactions[alice].TransactionHash)

	// interval elapsed, price moved
	h.clock.advance(5 * time.Hour)
	h.oracle.prices = flatPrices("60")
	report, err = svc.Run(context.Background(), []*domain.TaskWallet{task}, policy)
	require.NoError(t, err)
	tr = report.Tasks[0]
	assert.Equal(t, OutcomeResent, tr.Outcome)
	assert.True(t, report.Success)

	sent := h.chain.sentTxs()
	require.Len(t, sent, 4)
	for i, tx := range sent[2:] {
		assert.Equal(t, first[i].Nonce(), tx.Nonce(), "resend reuses the nonce")
		assert.Equal(t, first[i].To().Hex(), tx.To().Hex())
		assert.Equal(t, 0, first[i].Value().Cmp(tx.Value()))
		assert.Equal(t, 0, tx.GasPrice().Cmp(wei(t, unit.GweiOf("60"))))
		assert.NotEqual(t, first[i].Hash(), tx.Hash())
	}
	assert.Equal(t, 1, h.chain.nonceCalls, "resend never reads a fresh nonce")

	entry, err := h.cache.Get(task.Credential, domain.MustAddress(alice))
	require.NoError(t, err)
	assert.Equal(t, sent[2].Hash().Hex(), entry.Hash)
	assert.True(t, h.clock.now().Equal(entry.CreatedAt))
	assert.Contains(t, h.emitter.kinds(), events.EventResent)
}

func TestRun_ResendBumpsOverCachedPrice(t *testing.T) {
	h := newHarness(t)
	task := newTask(t, map[string]int{alice: 100}, alice)
	policy := testPolicy()
	policy.ReplacementBumpPercent = 10
	svc := h.service()

	_, err := svc.Run(context.Background(), []*domain.TaskWallet{task}, policy)
	require.NoError(t, err)

	h.clock.advance(constant.DefaultResendInterval)
	_, err = svc.Run(context.Background(), []*domain.TaskWallet{task}, policy)
	require.NoError(t, err)

	sent := h.chain.sentTxs()
	require.Len(t, sent, 2)
	assert.Equal(t, sent[0].Nonce(), sent[1].Nonce())
	assert.Equal(t, 0, sent[1].GasPrice().Cmp(wei(t, unit.GweiOf("55"))))
}

func TestRun_ConfirmedTransfersAllowNextSplit(t *testing.T) {
	h := newHarness(t)
	h.receipts.confirmAll = true
	task := ninetyTen(t)
	svc := h.service()

	report, err := svc.Run(context.Background(), []*domain.TaskWallet{task}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusConfirmed, report.Tasks[0].Transactions[alice].Status)

	entry, err := h.cache.Get(task.Credential, domain.MustAddress(bob))
	require.NoError(t, err)
	assert.True(t, entry.Confirmed())

	h.chain.nonce = 9
	report, err = svc.Run(context.Background(), []*domain.TaskWallet{task}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Tasks[0].Outcome)
	sent := h.chain.sentTxs()
	require.Len(t, sent, 4)
	assert.Equal(t, uint64(9), sent[2].Nonce())
	assert.Equal(t, uint64(10), sent[3].Nonce())
}

func TestRun_RevertedTransferIsReported(t *testing.T) {
	h := newHarness(t)
	h.receipts.confirmAll = true
	h.receipts.status = domain.ReceiptStatusFailed
	task := newTask(t, map[string]int{alice: 100}, alice)

	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{task}, testPolicy())
	require.NoError(t, err)
	assert.False(t, report.Success)
	tr := report.Tasks[0]
	assert.Equal(t, domain.TxStatusReverted, tr.Transactions[alice].Status)
	assert.ErrorIs(t, tr.Err(), ErrTransactionReverted)

	entry, err := h.cache.Get(task.Credential, domain.MustAddress(alice))
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusReverted, entry.Status)
}

func TestRun_GasCeilingSkipsTask(t *testing.T) {
	h := newHarness(t)
	task := ninetyTen(t)
	policy := testPolicy()
	ceiling := unit.GweiOf("40")
	policy.MaxGasPrice = &ceiling

	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{task}, policy)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, OutcomeSkipped, report.Tasks[0].Outcome)
	assert.Contains(t, report.Tasks[0].Reason, "ceiling")

	assert.Empty(t, h.chain.sentTxs())
	assert.Zero(t, h.chain.balanceCalls)
	entries, err := h.cache.List(task.Source())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, []events.EventType{events.EventSkipped}, h.emitter.kinds())
}

func TestRun_LowBalanceSkipsWithoutComputing(t *testing.T) {
	h := newHarness(t)
	h.chain.balance = unit.EtherOf("0.05")
	computed := 0
	svc := h.service(WithDisbursableFunc(func(task *domain.TaskWallet, gasPrice, feeBuffer, balance unit.Amount, maxCap *unit.Amount) unit.Amount {
		computed++
		return ComputeDisbursable(task, gasPrice, feeBuffer, balance, maxCap)
	}))

	report, err := svc.Run(context.Background(), []*domain.TaskWallet{ninetyTen(t)}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Tasks[0].Outcome)
	assert.Zero(t, computed)
	assert.Empty(t, h.chain.sentTxs())
	assert.Zero(t, h.chain.nonceCalls)
}

func TestRun_DisbursableGuards(t *testing.T) {
	tests := []struct {
		name   string
		amount func(balance unit.Amount) unit.Amount
	}{
		{name: "whole balance", amount: func(b unit.Amount) unit.Amount { return b }},
		{name: "negative", amount: func(unit.Amount) unit.Amount { return unit.EtherOf("-0.01") }},
		{name: "below one gwei", amount: func(unit.Amount) unit.Amount { return unit.FromInt(999, unit.Wei) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			svc := h.service(WithDisbursableFunc(func(_ *domain.TaskWallet, _, _, balance unit.Amount, _ *unit.Amount) unit.Amount {
				return tt.amount(balance)
			}))
			report, err := svc.Run(context.Background(), []*domain.TaskWallet{ninetyTen(t)}, testPolicy())
			require.NoError(t, err)
			assert.Equal(t, OutcomeSkipped, report.Tasks[0].Outcome)
			assert.Empty(t, h.chain.sentTxs())
		})
	}
}

func TestRun_RecipientFailuresAreContained(t *testing.T) {
	h := newHarness(t)
	h.chain.failNonce = map[uint64]error{7: errors.New("connection reset")}
	task := newTask(t, map[string]int{alice: 50, bob: 49, carol: 1}, alice, bob, carol)
	policy := testPolicy()
	policy.MinPerTransaction = unit.EtherOf("0.05")

	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{task}, policy)
	require.NoError(t, err)
	assert.False(t, report.Success)

	tr := report.Tasks[0]
	assert.Equal(t, OutcomeSent, tr.Outcome)
	require.Len(t, tr.Errors, 2)
	assert.Equal(t, domain.TxStatusFailed, tr.Transactions[alice].Status)
	assert.Equal(t, domain.TxStatusPending, tr.Transactions[bob].Status)
	assert.Equal(t, domain.TxStatusFailed, tr.Transactions[carol].Status, "1% of one ether is below 0.05")
	assert.ErrorIs(t, tr.Err(), ErrBelowMinimumAmount)

	sent := h.chain.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, uint64(8), sent[0].Nonce(), "nonces follow recipient order even around failures")
	assert.Equal(t, []uint64{7}, tr.NonceGaps, "bob's transfer sits above the unsent nonce 7")
	assert.Contains(t, h.emitter.kinds(), events.EventFailed)
}

func TestRun_TrailingFailureLeavesNoGap(t *testing.T) {
	h := newHarness(t)
	h.chain.failNonce = map[uint64]error{8: errors.New("connection reset")}
	task := ninetyTen(t)

	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{task}, testPolicy())
	require.NoError(t, err)
	tr := report.Tasks[0]
	assert.Len(t, h.chain.sentTxs(), 1)
	assert.Empty(t, tr.NonceGaps)
	require.Len(t, tr.Errors, 1)
}

func TestRun_InvalidSplitFailsTask(t *testing.T) {
	h := newHarness(t)
	other := newTask(t, map[string]int{alice: 100}, alice)
	bad := newTask(t, map[string]int{alice: 60, bob: 30}, alice, bob)

	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{bad, other}, testPolicy())
	require.NoError(t, err)
	require.Len(t, report.Tasks, 2)
	assert.Equal(t, OutcomeFailed, report.Tasks[0].Outcome)
	assert.ErrorIs(t, report.Tasks[0].Err(), domain.ErrSplitPercentage)
	assert.Equal(t, OutcomeSent, report.Tasks[1].Outcome)
	assert.False(t, report.Success)
}

func TestRun_BalanceErrorFailsTaskOnly(t *testing.T) {
	h := newHarness(t)
	h.chain.balanceErr = errors.New("timeout")

	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{ninetyTen(t)}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, report.Tasks[0].Outcome)
	assert.False(t, report.Success)
}

func TestRun_OracleFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.oracle.err = errors.New("etherscan down")

	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{ninetyTen(t)}, testPolicy())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.False(t, report.Success)
	assert.Empty(t, report.Tasks)
	assert.Zero(t, h.chain.balanceCalls)
}

func TestRun_GasPriceFetchedPerTask(t *testing.T) {
	h := newHarness(t)
	h.oracle.queue = []domain.GasPrices{flatPrices("50"), flatPrices("30")}
	policy := testPolicy()
	ceiling := unit.GweiOf("40")
	policy.MaxGasPrice = &ceiling

	first := newTask(t, map[string]int{alice: 100}, alice)
	second := newTask(t, map[string]int{carol: 100}, carol)
	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{first, second}, policy)
	require.NoError(t, err)
	require.Len(t, report.Tasks, 2)
	assert.Equal(t, 2, h.oracle.calls)

	assert.Equal(t, OutcomeSkipped, report.Tasks[0].Outcome)
	assert.Equal(t, OutcomeSent, report.Tasks[1].Outcome)
	sent := h.chain.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, 0, sent[0].GasPrice().Cmp(wei(t, unit.GweiOf("30"))))
}

func TestRun_ResendRefetchesGasPrice(t *testing.T) {
	h := newHarness(t)
	task := newTask(t, map[string]int{alice: 100}, alice)
	policy := testPolicy()
	svc := h.service()

	_, err := svc.Run(context.Background(), []*domain.TaskWallet{task}, policy)
	require.NoError(t, err)
	calls := h.oracle.calls

	h.clock.advance(7 * time.Hour)
	h.oracle.queue = []domain.GasPrices{flatPrices("50"), flatPrices("80")}
	report, err := svc.Run(context.Background(), []*domain.TaskWallet{task}, policy)
	require.NoError(t, err)
	assert.Equal(t, OutcomeResent, report.Tasks[0].Outcome)
	assert.Equal(t, calls+2, h.oracle.calls, "one fetch for the task, one for the resend")

	sent := h.chain.sentTxs()
	require.Len(t, sent, 2)
	assert.Equal(t, 0, sent[1].GasPrice().Cmp(wei(t, unit.GweiOf("80"))))
}

func TestRun_LaterOracleFailureAbortsWithPartialReport(t *testing.T) {
	h := newHarness(t)
	h.oracle.err = errors.New("etherscan down")
	h.oracle.failAfter = 1

	first := newTask(t, map[string]int{alice: 100}, alice)
	second := newTask(t, map[string]int{carol: 100}, carol)
	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{first, second}, testPolicy())
	assert.ErrorIs(t, err, ErrGasOracle)
	assert.False(t, report.Success)
	require.Len(t, report.Tasks, 1)
	assert.Equal(t, OutcomeSent, report.Tasks[0].Outcome)
	assert.Len(t, h.chain.sentTxs(), 1)
}

func TestRun_CacheFailureAborts(t *testing.T) {
	h := newHarness(t)
	svc := NewService(domain.Mainnet, h.chain, signer.NewEIP155Signer(1), h.oracle, brokenCache{h.cache}, h.receipts,
		WithClock(h.clock.now))

	first := ninetyTen(t)
	second := newTask(t, map[string]int{carol: 100}, carol)
	report, err := svc.Run(context.Background(), []*domain.TaskWallet{first, second}, testPolicy())
	assert.ErrorIs(t, err, ErrCacheStorage)
	assert.False(t, report.Success)
	require.Len(t, report.Tasks, 1, "the run stops at the first storage failure")
	assert.Len(t, h.chain.sentTxs(), 1)
}

func TestRun_LockedSourceIsSkipped(t *testing.T) {
	h := newHarness(t)
	locker := runlock.NewLocal()
	task := ninetyTen(t)
	unlock, err := locker.Lock(context.Background(), constant.RunLockKeyPrefix+task.Source().Lower())
	require.NoError(t, err)
	defer unlock()

	report, err := h.service(WithLocker(locker)).Run(context.Background(), []*domain.TaskWallet{task}, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, report.Tasks[0].Outcome)
	assert.Empty(t, h.chain.sentTxs())
}

func TestRun_AlreadyKnownCountsAsBroadcast(t *testing.T) {
	h := newHarness(t)
	h.chain.failNonce = map[uint64]error{7: chain.ErrAlreadyKnown}
	task := newTask(t, map[string]int{alice: 100}, alice)

	report, err := h.service().Run(context.Background(), []*domain.TaskWallet{task}, testPolicy())
	require.NoError(t, err)
	assert.True(t, report.Success)
	rec := report.Tasks[0].Transactions[alice]
	assert.Equal(t, domain.TxStatusPending, rec.Status)

	entry, err := h.cache.Get(task.Credential, domain.MustAddress(alice))
	require.NoError(t, err)
	assert.Equal(t, rec.TransactionHash, entry.Hash)
}

func TestSend(t *testing.T) {
	h := newHarness(t)
	h.oracle.prices = domain.GasPrices{Low: unit.GweiOf("10"), Medium: unit.GweiOf("20"), High: unit.GweiOf("30")}
	cred, err := domain.CredentialFromHex(hardhatKey)
	require.NoError(t, err)

	rec, err := h.service().Send(context.Background(), cred, domain.MustAddress(carol), unit.EtherOf("0.25"), domain.GasTierHigh, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, "30", rec.GasPrice)
	assert.Equal(t, uint64(7), rec.Nonce)

	sent := h.chain.sentTxs()
	require.Len(t, sent, 1)
	assert.Equal(t, 0, sent[0].Value().Cmp(wei(t, unit.EtherOf("0.25"))))

	_, err = h.service().Send(context.Background(), cred, domain.MustAddress(carol), unit.EtherOf("0.0001"), domain.GasTierLow, testPolicy())
	assert.ErrorIs(t, err, ErrBelowMinimumAmount)
}

func TestComputeDisbursable(t *testing.T) {
	task := ninetyTen(t)
	buffer := unit.EtherOf("0.01")

	t.Run("balance minus reserve", func(t *testing.T) {
		got := ComputeDisbursable(task, unit.GweiOf("50"), buffer, unit.EtherOf("1.0100001"), nil)
		assert.Equal(t, "1 ether", got.String())
	})

	t.Run("cap at or below balance wins exactly", func(t *testing.T) {
		capped := unit.EtherOf("0.5")
		for _, balance := range []string{"0.5", "0.6", "17.123456789"} {
			got := ComputeDisbursable(task, unit.GweiOf("50"), buffer, unit.EtherOf(balance), &capped)
			assert.Equal(t, "0.4899999 ether", got.String(), balance)
		}
	})

	t.Run("cap above balance is ignored", func(t *testing.T) {
		capped := unit.EtherOf("5")
		got := ComputeDisbursable(task, unit.GweiOf("50"), buffer, unit.EtherOf("1.0100001"), &capped)
		assert.Equal(t, "1 ether", got.String())
	})

	t.Run("may go negative", func(t *testing.T) {
		got := ComputeDisbursable(task, unit.GweiOf("50"), buffer, unit.EtherOf("0.001"), nil)
		assert.True(t, got.IsNegative())
	})

	t.Run("decreasing in gas price and fee buffer", func(t *testing.T) {
		balance := unit.EtherOf("2")
		prev := ComputeDisbursable(task, unit.GweiOf("1"), buffer, balance, nil)
		for _, g := range []string{"2", "10", "50", "500"} {
			next := ComputeDisbursable(task, unit.GweiOf(g), buffer, balance, nil)
			assert.True(t, next.LessThan(prev), g)
			prev = next
		}
		prev = ComputeDisbursable(task, unit.GweiOf("50"), unit.EtherOf("0"), balance, nil)
		for _, b := range []string{"0.001", "0.01", "0.5"} {
			next := ComputeDisbursable(task, unit.GweiOf("50"), unit.EtherOf(b), balance, nil)
			assert.True(t, next.LessThan(prev), b)
			prev = next
		}
	})
}
