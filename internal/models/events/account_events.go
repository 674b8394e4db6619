package events

import (
	"time"
)

const (
	AccountInitializedType = "account.initialized"
	AccountDepositedType   = "account.deposited"
	AccountWithdrawnType   = "account.withdrawn"
)

// AccountEvent is published after a ledger operation commits.
type AccountEvent struct {
	EventID    string    `json:"event_id"`
	Type       string    `json:"type"`
	Address    string    `json:"address"`
	Owner      string    `json:"owner"`
	Amount     uint64    `json:"amount"`
	Balance    uint64    `json:"balance"`
	OccurredAt time.Time `json:"occurred_at"`
}
