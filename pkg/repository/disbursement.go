package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/fystack/eth-disburser/internal/domain"
	"github.com/fystack/eth-disburser/pkg/model"
	"gorm.io/gorm"
)

// DisbursementHistory is the Postgres ledger of every broadcast transfer.
type DisbursementHistory struct {
	repo    Repository[model.Disbursement]
	network domain.Network
	now     func() time.Time
}

func NewDisbursementHistory(db *gorm.DB, network domain.Network, autoMigrate bool) (*DisbursementHistory, error) {
	if autoMigrate {
		if err := db.AutoMigrate(&model.Disbursement{}); err != nil {
			return nil, fmt.Errorf("migrate disbursements: %w", err)
		}
	}
	return &DisbursementHistory{
		repo:    NewRepository[model.Disbursement](db),
		network: network,
		now:     time.Now,
	}, nil
}

// Save inserts the transfer or updates the status of an already recorded hash.
func (h *DisbursementHistory) Save(ctx context.Context, tx *domain.Transaction, status domain.TxStatus) error {
	row, err := h.toModel(tx, status)
	if err != nil {
		return err
	}
	return h.repo.Upsert(ctx, row, []string{"hash"}, []string{"status", "confirmed_at", "updated_at"})
}

// BySource lists the most recent transfers of a source wallet.
func (h *DisbursementHistory) BySource(ctx context.Context, source domain.Address, limit uint) ([]*model.Disbursement, error) {
	return h.repo.Find(ctx, FindOptions{
		Where: WhereType{"source": source.Lower()},
		Order: Order{"broadcast_at": OrderTypeDesc},
		Limit: limit,
	})
}

func (h *DisbursementHistory) toModel(tx *domain.Transaction, status domain.TxStatus) (*model.Disbursement, error) {
	if !tx.Broadcasted() {
		return nil, fmt.Errorf("record disbursement: %w", domain.ErrInvalidHash)
	}
	value, err := tx.Value.BigWei()
	if err != nil {
		return nil, err
	}
	gasPrice, err := tx.GasPrice.BigWei()
	if err != nil {
		return nil, err
	}

	row := &model.Disbursement{
		Hash:        tx.Hash.String(),
		ChainID:     tx.ChainID,
		Recipient:   tx.To.Lower(),
		Nonce:       tx.Nonce,
		ValueWei:    value.String(),
		GasPriceWei: gasPrice.String(),
		Status:      string(status),
		ExplorerURL: h.network.TxURL(tx.Hash),
		BroadcastAt: tx.CreatedAt,
	}
	if tx.From != nil {
		row.Source = tx.From.Address().Lower()
	}
	if status == domain.TxStatusConfirmed || status == domain.TxStatusReverted {
		at := h.now().UTC()
		row.ConfirmedAt = &at
	}
	return row, nil
}
