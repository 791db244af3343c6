package txcache

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/unit"
)

// SchemaVersion is written into every record. Readers refuse records they do not understand.
const SchemaVersion = 1

// Record holds every cached transaction of one source wallet, keyed by lower-cased recipient.
type Record struct {
	Version int               `json:"version"`
	Source  string            `json:"source"`
	Entries map[string]*Entry `json:"entries"`
}

// Entry is the snapshot of the last transaction sent from a source to a recipient.
type Entry struct {
	Recipient   string          `json:"recipient"`
	Nonce       uint64          `json:"nonce"`
	ValueWei    string          `json:"value_wei"`
	GasPriceWei string          `json:"gas_price_wei"`
	Data        string          `json:"data,omitempty"`
	ChainID     int64           `json:"chain_id"`
	Hash        string          `json:"hash"`
	CreatedAt   time.Time       `json:"created_at"`
	ConfirmedAt *time.Time      `json:"confirmed_at,omitempty"`
	Status      domain.TxStatus `json:"status,omitempty"`
}

func newEntry(tx *domain.Transaction) (*Entry, error) {
	value, err := tx.Value.BigWei()
	if err != nil {
		return nil, err
	}
	gasPrice, err := tx.GasPrice.BigWei()
	if err != nil {
		return nil, err
	}
	e := &Entry{
		Recipient:   tx.To.Lower(),
		Nonce:       tx.Nonce,
		ValueWei:    value.String(),
		GasPriceWei: gasPrice.String(),
		ChainID:     tx.ChainID,
		Hash:        tx.Hash.String(),
		CreatedAt:   tx.CreatedAt.UTC(),
		Status:      domain.TxStatusPending,
	}
	if len(tx.Data) > 0 {
		e.Data = "0x" + hex.EncodeToString(tx.Data)
	}
	return e, nil
}

func (e *Entry) Confirmed() bool { return e.ConfirmedAt != nil }

// Age is measured from the original broadcast.
func (e *Entry) Age(now time.Time) time.Duration { return now.Sub(e.CreatedAt) }

// Value is the transferred amount in ether.
func (e *Entry) Value() (unit.Amount, error) {
	v, err := unit.Parse(e.ValueWei, unit.Wei)
	if err != nil {
		return unit.Amount{}, err
	}
	return v.ToEther(), nil
}

// GasPrice is the price the entry was last broadcast with, in gwei.
func (e *Entry) GasPrice() (unit.Amount, error) {
	v, err := unit.Parse(e.GasPriceWei, unit.Wei)
	if err != nil {
		return unit.Amount{}, err
	}
	return v.ToGwei(), nil
}

// Transaction rebuilds an unbroadcast copy of the cached transfer: same recipient,
// value, nonce, data and chain id. The caller picks the gas price.
func (e *Entry) Transaction(from *domain.Credential, gasPrice unit.Amount) (*domain.Transaction, error) {
	to, err := domain.ParseAddress(e.Recipient)
	if err != nil {
		return nil, err
	}
	value, err := e.Value()
	if err != nil {
		return nil, fmt.Errorf("cached value: %w", err)
	}
	tx := domain.NewTransaction(from, to, value, gasPrice, e.Nonce, e.ChainID)
	if e.Data != "" {
		data, err := hex.DecodeString(strings.TrimPrefix(e.Data, "0x"))
		if err != nil {
			return nil, fmt.Errorf("cached data: %w", err)
		}
		tx.Data = data
	}
	return tx, nil
}
