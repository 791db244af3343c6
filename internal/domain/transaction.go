package domain

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/fystack/eth-disburser/pkg/unit"
)

// GasPerTransaction is the gas limit of a plain value transfer.
const GasPerTransaction uint64 = 21000

var ErrAlreadyBroadcast = errors.New("transaction already broadcast")

type Transaction struct {
	From      *Credential
	To        Address
	Value     unit.Amount // ether
	GasPrice  unit.Amount // gwei
	Gas       uint64
	Nonce     uint64
	Data      []byte
	ChainID   int64
	Hash      Hash
	CreatedAt time.Time
}

func NewTransaction(from *Credential, to Address, value, gasPrice unit.Amount, nonce uint64, chainID int64) *Transaction {
	return &Transaction{
		From:     from,
		To:       to,
		Value:    value.ToEther(),
		GasPrice: gasPrice.ToGwei(),
		Gas:      GasPerTransaction,
		Nonce:    nonce,
		ChainID:  chainID,
	}
}

func (t *Transaction) Broadcasted() bool { return !t.Hash.IsZero() }

// MarkBroadcast assigns the hash and timestamp. It can only happen once.
func (t *Transaction) MarkBroadcast(hash Hash, at time.Time) error {
	if t.Broadcasted() {
		return fmt.Errorf("%w: %s", ErrAlreadyBroadcast, t.Hash)
	}
	t.Hash = hash
	t.CreatedAt = at.UTC()
	return nil
}

// Fee is the maximum fee the transaction can pay, in ether.
func (t *Transaction) Fee() unit.Amount {
	return t.GasPrice.MulInt(int64(t.Gas)).ToEther()
}

type TxStatus string

const (
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusReverted  TxStatus = "reverted"
	TxStatusPending   TxStatus = "pending"
	TxStatusFailed    TxStatus = "failed"
)

// TransactionRecord is the flat, printable form of a transaction used in reports and logs.
type TransactionRecord struct {
	Nonce           uint64   `json:"nonce"`
	Gas             uint64   `json:"gas"`
	GasPrice        string   `json:"gasPrice"`
	GasPriceUnit    string   `json:"gasPrice_unit"`
	From            string   `json:"from"`
	To              string   `json:"to"`
	Value           string   `json:"value"`
	ValueUnit       string   `json:"value_unit"`
	Data            string   `json:"data"`
	ChainID         int64    `json:"chainId"`
	TransactionHash string   `json:"transactionHash"`
	TransactionURL  string   `json:"transactionUrl"`
	CreatedAt       string   `json:"createdAt"`
	Status          TxStatus `json:"status,omitempty"`
	Error           string   `json:"error,omitempty"`
}

func (t *Transaction) Record(n Network) TransactionRecord {
	rec := TransactionRecord{
		Nonce:           t.Nonce,
		Gas:             t.Gas,
		GasPrice:        t.GasPrice.ToGwei().Text(),
		GasPriceUnit:    string(unit.Gwei),
		To:              t.To.String(),
		Value:           t.Value.ToEther().Text(),
		ValueUnit:       string(unit.Ether),
		Data:            "0x" + hex.EncodeToString(t.Data),
		ChainID:         t.ChainID,
		TransactionHash: t.Hash.String(),
		TransactionURL:  n.TxURL(t.Hash),
	}
	if t.From != nil {
		rec.From = t.From.Address().String()
	}
	if !t.CreatedAt.IsZero() {
		rec.CreatedAt = t.CreatedAt.Format(time.RFC3339)
	}
	return rec
}

type ReceiptStatus uint64

const (
	ReceiptStatusFailed  ReceiptStatus = 0
	ReceiptStatusSuccess ReceiptStatus = 1
)

// Receipt is the chain's confirmation record of an included transaction.
type Receipt struct {
	TransactionHash   Hash
	BlockHash         string
	BlockNumber       uint64
	From              Address
	To                Address
	GasUsed           uint64
	EffectiveGasPrice unit.Amount
	Status            ReceiptStatus
}

func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccess
}

// Log is an event log entry returned by eth_getLogs.
type Log struct {
	Address         Address  `json:"address"`
	Topics          []string `json:"topics"`
	Data            string   `json:"data"`
	BlockNumber     uint64   `json:"blockNumber"`
	TransactionHash Hash     `json:"transactionHash"`
	LogIndex        uint64   `json:"logIndex"`
}
