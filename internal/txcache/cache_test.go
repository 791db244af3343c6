package txcache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/poller"
	"github.com/fystack/eth-disburser/pkg/infra"
	"github.com/fystack/eth-disburser/pkg/kvstore"
	"github.com/fystack/eth-disburser/pkg/unit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hardhatKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	alice = domain.MustAddress("0x1111111111111111111111111111111111111111")
	bob   = domain.MustAddress("0x2222222222222222222222222222222222222222")
	carol = domain.MustAddress("0x3333333333333333333333333333333333333333")
)

// fakeAwaiter reports a receipt for every hash in included.
type fakeAwaiter struct {
	mu       sync.Mutex
	included map[domain.Hash]*domain.Receipt
	queries  []domain.Hash
}

func (f *fakeAwaiter) AwaitReceipt(_ context.Context, hash domain.Hash, _, _ time.Duration) (poller.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, hash)
	if r, ok := f.included[hash]; ok {
		return poller.Result{Receipt: r, Resolved: true}, nil
	}
	return poller.Result{}, nil
}

func newCache(t *testing.T) (*Cache, *fakeAwaiter, infra.KVStore) {
	t.Helper()
	store, err := kvstore.NewBadgerStore(t.TempDir(), "test", infra.JSON)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	awaiter := &fakeAwaiter{included: map[domain.Hash]*domain.Receipt{}}
	c := New(store, infra.JSON, awaiter)
	c.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return c, awaiter, store
}

func credential(t *testing.T) *domain.Credential {
	t.Helper()
	cred, err := domain.CredentialFromHex(hardhatKey)
	require.NoError(t, err)
	return cred
}

func hashN(n int) domain.Hash {
	return domain.Hash(fmt.Sprintf("0x%064x", n))
}

func broadcastTx(t *testing.T, cred *domain.Credential, to domain.Address, nonce uint64, hash domain.Hash, at time.Time) *domain.Transaction {
	t.Helper()
	tx := domain.NewTransaction(cred, to, unit.EtherOf("0.9"), unit.GweiOf("50"), nonce, 4)
	require.NoError(t, tx.MarkBroadcast(hash, at))
	return tx
}

func TestCache_PutRequiresHash(t *testing.T) {
	c, _, _ := newCache(t)
	tx := domain.NewTransaction(credential(t), alice, unit.EtherOf("1"), unit.GweiOf("50"), 0, 4)

	assert.ErrorIs(t, c.Put(tx), ErrMissingHash)
	assert.ErrorIs(t, c.Put(nil), ErrMissingHash)
}

func TestCache_PutGetOverwrite(t *testing.T) {
	c, _, _ := newCache(t)
	cred := credential(t)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	_, err := c.Get(cred, alice)
	assert.ErrorIs(t, err, ErrEntryNotFound)

	require.NoError(t, c.Put(broadcastTx(t, cred, alice, 3, hashN(1), at)))
	entry, err := c.Get(cred, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), entry.Nonce)
	assert.Equal(t, "900000000000000000", entry.ValueWei)
	assert.Equal(t, "50000000000", entry.GasPriceWei)
	assert.Equal(t, hashN(1).String(), entry.Hash)
	assert.Equal(t, int64(4), entry.ChainID)
	assert.Equal(t, at, entry.CreatedAt)
	assert.False(t, entry.Confirmed())

	value, err := entry.Value()
	require.NoError(t, err)
	assert.True(t, value.Equal(unit.EtherOf("0.9")))

	require.NoError(t, c.Put(broadcastTx(t, cred, alice, 4, hashN(2), at.Add(time.Hour))))
	entry, err = c.Get(cred, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), entry.Nonce)
	assert.Equal(t, hashN(2).String(), entry.Hash)

	entries, err := c.List(cred.Address())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCache_RecipientKeyIsCaseInsensitive(t *testing.T) {
	c, _, _ := newCache(t)
	cred := credential(t)
	mixed := domain.MustAddress("0xAbCdEfabcdefabcdefabcdefabcdefabcdefABCD")
	require.NoError(t, c.Put(broadcastTx(t, cred, mixed, 0, hashN(1), time.Now())))

	entry, err := c.Get(cred, domain.MustAddress("0xabcdefabcdefabcdefabcdefabcdefabcdefabcd"))
	require.NoError(t, err)
	assert.Equal(t, mixed.Lower(), entry.Recipient)
}

func TestCache_RecordLayout(t *testing.T) {
	c, _, store := newCache(t)
	cred := credential(t)
	require.NoError(t, c.Put(broadcastTx(t, cred, bob, 1, hashN(1), time.Now())))

	var rec Record
	found, err := store.GetAny("txcache/"+cred.Address().Lower(), &rec)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, SchemaVersion, rec.Version)
	assert.Equal(t, cred.Address().Lower(), rec.Source)
	assert.Contains(t, rec.Entries, bob.Lower())
}

func TestCache_RejectsNewerVersion(t *testing.T) {
	c, _, store := newCache(t)
	cred := credential(t)
	require.NoError(t, store.SetAny("txcache/"+cred.Address().Lower(), Record{Version: SchemaVersion + 1}))

	_, err := c.Get(cred, alice)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	err = c.Put(broadcastTx(t, cred, alice, 0, hashN(1), time.Now()))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestCache_FindUnresolved(t *testing.T) {
	c, awaiter, _ := newCache(t)
	cred := credential(t)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, c.Put(broadcastTx(t, cred, alice, 0, hashN(1), at)))
	require.NoError(t, c.Put(broadcastTx(t, cred, bob, 1, hashN(2), at)))
	awaiter.included[hashN(2)] = &domain.Receipt{TransactionHash: hashN(2), Status: domain.ReceiptStatusSuccess}

	unresolved, err := c.FindUnresolved(context.Background(), cred, []domain.Address{alice, bob, carol})
	require.NoError(t, err)
	require.Len(t, unresolved, 1)
	assert.Equal(t, alice.Lower(), unresolved[0].Recipient)

	bobEntry, err := c.Get(cred, bob)
	require.NoError(t, err)
	assert.True(t, bobEntry.Confirmed())
	assert.Equal(t, domain.TxStatusConfirmed, bobEntry.Status)
	assert.Len(t, awaiter.queries, 2, "carol has no entry and is not queried")

	// Confirmed entries are not queried again.
	_, err = c.FindUnresolved(context.Background(), cred, []domain.Address{alice, bob})
	require.NoError(t, err)
	assert.Equal(t, []domain.Hash{hashN(1), hashN(2), hashN(1)}, awaiter.queries)
}

func TestCache_FindUnresolvedRecordsRevert(t *testing.T) {
	c, awaiter, _ := newCache(t)
	cred := credential(t)
	require.NoError(t, c.Put(broadcastTx(t, cred, alice, 0, hashN(1), time.Now())))
	awaiter.included[hashN(1)] = &domain.Receipt{TransactionHash: hashN(1), Status: domain.ReceiptStatusFailed}

	unresolved, err := c.FindUnresolved(context.Background(), cred, []domain.Address{alice})
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	entry, err := c.Get(cred, alice)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusReverted, entry.Status)
}

func TestCache_MarkConfirmed(t *testing.T) {
	c, _, _ := newCache(t)
	cred := credential(t)
	require.NoError(t, c.Put(broadcastTx(t, cred, alice, 0, hashN(1), time.Now())))

	// A receipt for an older hash does not confirm the newer entry.
	require.NoError(t, c.MarkConfirmed(cred.Address(), alice, &domain.Receipt{TransactionHash: hashN(9), Status: domain.ReceiptStatusSuccess}))
	entry, err := c.Get(cred, alice)
	require.NoError(t, err)
	assert.False(t, entry.Confirmed())

	require.NoError(t, c.MarkConfirmed(cred.Address(), alice, &domain.Receipt{TransactionHash: hashN(1), Status: domain.ReceiptStatusSuccess}))
	entry, err = c.Get(cred, alice)
	require.NoError(t, err)
	require.True(t, entry.Confirmed())
	assert.Equal(t, c.now(), *entry.ConfirmedAt)

	err = c.MarkConfirmed(cred.Address(), bob, nil)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestCache_Prune(t *testing.T) {
	c, _, _ := newCache(t)
	cred := credential(t)
	now := time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
	old := now.Add(-10 * 24 * time.Hour)

	require.NoError(t, c.Put(broadcastTx(t, cred, alice, 0, hashN(1), old)))
	require.NoError(t, c.Put(broadcastTx(t, cred, bob, 1, hashN(2), old)))
	require.NoError(t, c.Put(broadcastTx(t, cred, carol, 2, hashN(3), now.Add(-time.Hour))))
	require.NoError(t, c.MarkConfirmed(cred.Address(), alice, nil))
	require.NoError(t, c.MarkConfirmed(cred.Address(), carol, nil))

	removed, err := c.Prune(now, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed, "only the old confirmed entry goes")

	entries, err := c.List(cred.Address())
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, bob.Lower(), entries[0].Recipient, "unconfirmed entries are kept regardless of age")
	assert.Equal(t, carol.Lower(), entries[1].Recipient)

	sources, err := c.Sources()
	require.NoError(t, err)
	assert.Equal(t, []string{cred.Address().Lower()}, sources)
}

func TestCache_PruneDropsEmptyRecord(t *testing.T) {
	c, _, store := newCache(t)
	cred := credential(t)
	now := time.Now()
	require.NoError(t, c.Put(broadcastTx(t, cred, alice, 0, hashN(1), now.Add(-48*time.Hour))))
	require.NoError(t, c.MarkConfirmed(cred.Address(), alice, nil))

	removed, err := c.Prune(now, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Get("txcache/" + cred.Address().Lower())
	assert.ErrorIs(t, err, kvstore.ErrKeyNotFound)
}

func TestCache_ConcurrentPutsDoNotLoseUpdates(t *testing.T) {
	c, _, _ := newCache(t)
	cred := credential(t)

	txs := make([]*domain.Transaction, 10)
	for i := range txs {
		to := domain.MustAddress(fmt.Sprintf("0x%040x", i+1))
		txs[i] = broadcastTx(t, cred, to, uint64(i), hashN(i+1), time.Now())
	}

	var wg sync.WaitGroup
	for _, tx := range txs {
		wg.Add(1)
		go func(tx *domain.Transaction) {
			defer wg.Done()
			assert.NoError(t, c.Put(tx))
		}(tx)
	}
	wg.Wait()

	entries, err := c.List(cred.Address())
	require.NoError(t, err)
	assert.Len(t, entries, 10)
	for i, e := range entries {
		assert.Equal(t, uint64(i), e.Nonce)
	}
}

func TestEntry_Transaction(t *testing.T) {
	cred := credential(t)
	tx := broadcastTx(t, cred, alice, 5, hashN(1), time.Now())
	tx.Data = []byte{0xca, 0xfe}
	entry, err := newEntry(tx)
	require.NoError(t, err)
	assert.Equal(t, "0xcafe", entry.Data)

	rebuilt, err := entry.Transaction(cred, unit.GweiOf("60"))
	require.NoError(t, err)
	assert.False(t, rebuilt.Broadcasted())
	assert.Equal(t, uint64(5), rebuilt.Nonce)
	assert.True(t, rebuilt.Value.Equal(unit.EtherOf("0.9")))
	assert.True(t, rebuilt.GasPrice.Equal(unit.GweiOf("60")))
	assert.Equal(t, []byte{0xca, 0xfe}, rebuilt.Data)
	assert.True(t, rebuilt.To.Equal(alice))
}

func TestCache_CopyToOtherCodec(t *testing.T) {
	src, _, _ := newCache(t)
	cred := credential(t)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, src.Put(broadcastTx(t, cred, alice, 3, hashN(1), at)))
	require.NoError(t, src.Put(broadcastTx(t, cred, bob, 4, hashN(2), at)))

	store, err := kvstore.NewBadgerStore(t.TempDir(), "dst", infra.Gob)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	dst := New(store, infra.Gob, nil)

	n, err := src.CopyTo(dst, true)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	sources, err := dst.Sources()
	require.NoError(t, err)
	assert.Empty(t, sources, "dry run must not write")

	n, err = src.CopyTo(dst, false)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entry, err := dst.Get(cred, bob)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), entry.Nonce)
	assert.Equal(t, hashN(2).String(), entry.Hash)
	assert.True(t, entry.CreatedAt.Equal(at))

	n, err = src.CopyTo(dst, false)
	require.NoError(t, err)
	assert.Zero(t, n, "second copy changes nothing")
}

func TestCache_CopyToKeepsNewerDestinationEntry(t *testing.T) {
	src, _, _ := newCache(t)
	dst, _, _ := newCache(t)
	cred := credential(t)
	at := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, src.Put(broadcastTx(t, cred, alice, 3, hashN(1), at)))
	require.NoError(t, dst.Put(broadcastTx(t, cred, alice, 5, hashN(9), at.Add(time.Hour))))

	n, err := src.CopyTo(dst, false)
	require.NoError(t, err)
	assert.Zero(t, n)

	entry, err := dst.Get(cred, alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), entry.Nonce)
}
