package events

type EventType string

const (
	EventSent      EventType = "sent"
	EventResent    EventType = "resent"
	EventConfirmed EventType = "confirmed"
	EventPending   EventType = "pending"
	EventSkipped   EventType = "skipped"
	EventFailed    EventType = "failed"
)

// DisbursementEvent describes one state change of a transfer, or a task-level skip/failure
// when Recipient and Hash are empty.
type DisbursementEvent struct {
	Type        EventType `json:"type"`
	ChainID     int64     `json:"chain_id"`
	Task        string    `json:"task,omitempty"`
	Source      string    `json:"source"`
	Recipient   string    `json:"recipient,omitempty"`
	Hash        string    `json:"hash,omitempty"`
	Nonce       *uint64   `json:"nonce,omitempty"`
	ValueWei    string    `json:"value_wei,omitempty"`
	GasPriceWei string    `json:"gas_price_wei,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Timestamp   int64     `json:"timestamp"`
}
