package evm

import (
	"github.com/fystack/eth-disburser/pkg/common/utils"
)

type (
	TxnReceipt struct {
		TransactionHash   string `json:"transactionHash"`
		BlockHash         string `json:"blockHash"`
		BlockNumber       string `json:"blockNumber"`
		From              string `json:"from"`
		To                string `json:"to"`
		GasUsed           string `json:"gasUsed"`
		EffectiveGasPrice string `json:"effectiveGasPrice"`
		Status            string `json:"status"`
		Logs              []Log  `json:"logs"`
	}

	Log struct {
		Address         string   `json:"address"`
		Topics          []string `json:"topics"`
		Data            string   `json:"data"`
		BlockNumber     string   `json:"blockNumber"`
		TransactionHash string   `json:"transactionHash"`
		LogIndex        string   `json:"logIndex"`
	}

	// LogFilter is the eth_getLogs filter object. Empty fields are omitted.
	LogFilter struct {
		FromBlock string   `json:"fromBlock,omitempty"`
		ToBlock   string   `json:"toBlock,omitempty"`
		Address   string   `json:"address,omitempty"`
		Topics    []string `json:"topics,omitempty"`
		BlockHash string   `json:"blockHash,omitempty"`
	}
)

// IsSuccessful treats a missing status field as success; pre-Byzantium receipts
// and some providers omit it. Only an explicit 0x0 is a failure.
func (r *TxnReceipt) IsSuccessful() bool {
	if r == nil {
		return false
	}
	if r.Status == "" {
		return true
	}
	status, err := utils.ParseHexUint64(r.Status)
	if err != nil {
		return true
	}
	return status != 0
}
