package signer

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/fystack/eth-disburser/internal/domain"
)

var (
	ErrChainIDMismatch = errors.New("transaction chain id does not match signer")
	ErrNoCredential    = errors.New("transaction has no credential")
)

// Signed is a broadcast-ready payload and the hash the network will know it by.
type Signed struct {
	Raw  string
	Hash domain.Hash
}

type Signer interface {
	Sign(tx *domain.Transaction) (Signed, error)
	ChainID() int64
}

// EIP155Signer produces replay-protected legacy transactions for one chain.
type EIP155Signer struct {
	chainID int64
	signer  types.Signer
}

func NewEIP155Signer(chainID int64) *EIP155Signer {
	return &EIP155Signer{
		chainID: chainID,
		signer:  types.NewEIP155Signer(big.NewInt(chainID)),
	}
}

func (s *EIP155Signer) ChainID() int64 { return s.chainID }

func (s *EIP155Signer) Sign(tx *domain.Transaction) (Signed, error) {
	if tx.From == nil {
		return Signed{}, ErrNoCredential
	}
	if tx.ChainID != s.chainID {
		return Signed{}, fmt.Errorf("%w: got %d, want %d", ErrChainIDMismatch, tx.ChainID, s.chainID)
	}

	value, err := tx.Value.BigWei()
	if err != nil {
		return Signed{}, fmt.Errorf("value: %w", err)
	}
	gasPrice, err := tx.GasPrice.BigWei()
	if err != nil {
		return Signed{}, fmt.Errorf("gas price: %w", err)
	}

	unsigned := types.NewTransaction(
		tx.Nonce,
		common.HexToAddress(tx.To.String()),
		value,
		tx.Gas,
		gasPrice,
		tx.Data,
	)
	signed, err := tx.From.SignTx(unsigned, s.signer)
	if err != nil {
		return Signed{}, fmt.Errorf("sign transaction: %w", err)
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return Signed{}, fmt.Errorf("encode transaction: %w", err)
	}
	return Signed{
		Raw:  hexutil.Encode(raw),
		Hash: domain.Hash(signed.Hash().Hex()),
	}, nil
}
