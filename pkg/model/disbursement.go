package model

import (
	"time"
)

// Disbursement is one broadcast transfer in the history ledger. A resend reuses the
// nonce under a new hash, so hash is the natural key.
type Disbursement struct {
	BaseModel
	Hash        string     `gorm:"not null;type:varchar(66);uniqueIndex:idx_disbursement_hash" json:"hash"`
	ChainID     int64      `gorm:"not null"                                                   json:"chain_id"`
	Source      string     `gorm:"not null;type:varchar(42);index:idx_disbursement_source"    json:"source"`
	Recipient   string     `gorm:"not null;type:varchar(42)"                                  json:"recipient"`
	Nonce       uint64     `gorm:"not null"                                                   json:"nonce"`
	ValueWei    string     `gorm:"not null;type:numeric(78,0)"                                json:"value_wei"`
	GasPriceWei string     `gorm:"not null;type:numeric(78,0)"                                json:"gas_price_wei"`
	Status      string     `gorm:"not null;type:varchar(16)"                                  json:"status"`
	ExplorerURL string     `gorm:"type:varchar(255)"                                          json:"explorer_url"`
	BroadcastAt time.Time  `gorm:"not null"                                                   json:"broadcast_at"`
	ConfirmedAt *time.Time `                                                                  json:"confirmed_at"`
}

func (Disbursement) TableName() string {
	return "disbursements"
}
