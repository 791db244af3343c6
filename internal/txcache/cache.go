package txcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/internal/poller"
	"github.com/fystack/eth-disburser/pkg/common/constant"
	"github.com/fystack/eth-disburser/pkg/common/logger"
	"github.com/fystack/eth-disburser/pkg/infra"
	"github.com/fystack/eth-disburser/pkg/kvstore"
	"github.com/samber/lo"
)

var (
	ErrMissingHash        = errors.New("transaction has no hash")
	ErrUnsupportedVersion = errors.New("unsupported cache record version")
	ErrEntryNotFound      = errors.New("cache entry not found")
)

// Awaiter is satisfied by poller.Poller.
type Awaiter interface {
	AwaitReceipt(ctx context.Context, hash domain.Hash, timeout, interval time.Duration) (poller.Result, error)
}

// Cache remembers the last transaction per (source, recipient) so that a rerun never
// issues a second transfer while an earlier one may still land.
type Cache struct {
	store  infra.KVStore
	codec  infra.Codec
	poller Awaiter
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store infra.KVStore, codec infra.Codec, awaiter Awaiter) *Cache {
	if codec == nil {
		codec = infra.JSON
	}
	return &Cache{
		store:  store,
		codec:  codec,
		poller: awaiter,
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

func key(source domain.Address) string {
	return constant.TxCacheKeyPrefix + "/" + source.Lower()
}

// lock serialises read-modify-write cycles for one source wallet inside this process.
func (c *Cache) lock(source domain.Address) func() {
	c.mu.Lock()
	l, ok := c.locks[source.Lower()]
	if !ok {
		l = &sync.Mutex{}
		c.locks[source.Lower()] = l
	}
	c.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (c *Cache) decode(data []byte) (*Record, error) {
	var rec Record
	if err := c.codec.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cache record: %w", err)
	}
	if rec.Version < 1 || rec.Version > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, rec.Version)
	}
	if rec.Entries == nil {
		rec.Entries = make(map[string]*Entry)
	}
	return &rec, nil
}

func (c *Cache) load(source domain.Address) (*Record, error) {
	data, err := c.store.Get(key(source))
	if errors.Is(err, kvstore.ErrKeyNotFound) {
		return &Record{Version: SchemaVersion, Source: source.Lower(), Entries: map[string]*Entry{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return c.decode(data)
}

// modify applies fn to the source's record atomically. fn reports whether it changed anything.
func (c *Cache) modify(source domain.Address, fn func(rec *Record) (bool, error)) error {
	unlock := c.lock(source)
	defer unlock()

	return c.store.Update(key(source), func(current []byte, found bool) ([]byte, error) {
		rec := &Record{Version: SchemaVersion, Source: source.Lower(), Entries: map[string]*Entry{}}
		if found {
			var err error
			if rec, err = c.decode(current); err != nil {
				return nil, err
			}
		}
		changed, err := fn(rec)
		if err != nil {
			return nil, err
		}
		if !changed {
			if !found {
				return nil, nil
			}
			return current, nil
		}
		if len(rec.Entries) == 0 {
			return nil, nil
		}
		rec.Version = SchemaVersion
		return c.codec.Marshal(rec)
	})
}

// Put records tx as the latest transfer from its source to its recipient, replacing any previous entry.
func (c *Cache) Put(tx *domain.Transaction) error {
	if tx == nil || !tx.Broadcasted() {
		return ErrMissingHash
	}
	if tx.From == nil {
		return fmt.Errorf("put: %w", domain.ErrInvalidCredential)
	}
	entry, err := newEntry(tx)
	if err != nil {
		return err
	}
	return c.modify(tx.From.Address(), func(rec *Record) (bool, error) {
		rec.Entries[entry.Recipient] = entry
		return true, nil
	})
}

// Get returns the last transaction recorded for the pair, or ErrEntryNotFound.
func (c *Cache) Get(source *domain.Credential, recipient domain.Address) (*Entry, error) {
	unlock := c.lock(source.Address())
	defer unlock()

	rec, err := c.load(source.Address())
	if err != nil {
		return nil, err
	}
	entry, ok := rec.Entries[recipient.Lower()]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return entry, nil
}

// List returns every entry of source ordered by nonce.
func (c *Cache) List(source domain.Address) ([]*Entry, error) {
	unlock := c.lock(source)
	defer unlock()

	rec, err := c.load(source)
	if err != nil {
		return nil, err
	}
	entries := lo.Values(rec.Entries)
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Nonce != entries[j].Nonce {
			return entries[i].Nonce < entries[j].Nonce
		}
		return entries[i].Recipient < entries[j].Recipient
	})
	return entries, nil
}

// Sources lists the source wallets that have a record.
func (c *Cache) Sources() ([]string, error) {
	pairs, err := c.store.List(constant.TxCacheKeyPrefix + "/")
	if err != nil {
		return nil, err
	}
	sources := lo.Map(pairs, func(p *infra.KVPair, _ int) string {
		return strings.TrimPrefix(p.Key, constant.TxCacheKeyPrefix+"/")
	})
	sort.Strings(sources)
	return sources, nil
}

// MarkConfirmed stamps the entry for recipient with the receipt outcome.
func (c *Cache) MarkConfirmed(source domain.Address, recipient domain.Address, receipt *domain.Receipt) error {
	return c.modify(source, func(rec *Record) (bool, error) {
		entry, ok := rec.Entries[recipient.Lower()]
		if !ok {
			return false, fmt.Errorf("%w: %s -> %s", ErrEntryNotFound, source.Lower(), recipient.Lower())
		}
		if receipt != nil && !strings.EqualFold(entry.Hash, receipt.TransactionHash.String()) {
			return false, nil
		}
		c.confirm(entry, receipt)
		return true, nil
	})
}

func (c *Cache) confirm(entry *Entry, receipt *domain.Receipt) {
	at := c.now().UTC()
	entry.ConfirmedAt = &at
	entry.Status = domain.TxStatusConfirmed
	if receipt != nil && !receipt.Succeeded() {
		entry.Status = domain.TxStatusReverted
	}
}

// FindUnresolved checks each cached transaction of the given recipients with a single
// receipt query and returns those still not included, in recipient order. Included
// transactions are marked confirmed on the way.
func (c *Cache) FindUnresolved(ctx context.Context, source *domain.Credential, recipients []domain.Address) ([]*Entry, error) {
	addr := source.Address()
	unlock := c.lock(addr)
	rec, err := c.load(addr)
	unlock()
	if err != nil {
		return nil, err
	}

	var (
		unresolved []*Entry
		confirmed  = map[string]*domain.Receipt{}
	)
	for _, recipient := range lo.UniqBy(recipients, domain.Address.Lower) {
		entry, ok := rec.Entries[recipient.Lower()]
		if !ok || entry.Confirmed() {
			continue
		}
		res, err := c.poller.AwaitReceipt(ctx, domain.Hash(entry.Hash), 0, 0)
		if err != nil {
			return nil, err
		}
		if res.Resolved {
			confirmed[entry.Recipient] = res.Receipt
			continue
		}
		unresolved = append(unresolved, entry)
	}

	if len(confirmed) > 0 {
		err := c.modify(addr, func(rec *Record) (bool, error) {
			changed := false
			for recipient, receipt := range confirmed {
				entry, ok := rec.Entries[recipient]
				if !ok || entry.Confirmed() || !strings.EqualFold(entry.Hash, receipt.TransactionHash.String()) {
					continue
				}
				c.confirm(entry, receipt)
				changed = true
			}
			return changed, nil
		})
		if err != nil {
			return nil, err
		}
		logger.Debug("Marked cached transactions confirmed", "source", addr, "count", len(confirmed))
	}
	return unresolved, nil
}

// Prune drops confirmed entries created more than retention before now, across all
// sources, and returns how many were removed. Unconfirmed entries are always kept.
func (c *Cache) Prune(now time.Time, retention time.Duration) (int, error) {
	sources, err := c.Sources()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, s := range sources {
		source, err := domain.ParseAddress(s)
		if err != nil {
			logger.Warn("Skipping cache record with malformed source", "source", s, "err", err)
			continue
		}
		dropped := 0
		err = c.modify(source, func(rec *Record) (bool, error) {
			before := len(rec.Entries)
			for recipient, entry := range rec.Entries {
				if entry.Confirmed() && entry.Age(now) > retention {
					delete(rec.Entries, recipient)
				}
			}
			dropped = before - len(rec.Entries)
			return dropped > 0, nil
		})
		if err != nil {
			return removed, fmt.Errorf("prune %s: %w", s, err)
		}
		removed += dropped
	}
	return removed, nil
}
