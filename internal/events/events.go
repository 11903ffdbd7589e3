// Package events defines the ledger's outbound event contract. Events are
// published after commit; delivery failures never fail the ledger write.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Publisher delivers serialized events to an external broker.
type Publisher interface {
	Publish(ctx context.Context, event any) error
	Close() error
}

// TransactionRecorded is emitted once per committed transaction record.
type TransactionRecorded struct {
	TransactionID       string          `json:"transaction_id"`
	Owner               string          `json:"owner"`
	AccountID           string          `json:"account_id"`
	Kind                string          `json:"kind"`
	Amount              decimal.Decimal `json:"amount"`
	TransferToAccountID string          `json:"transfer_to_account_id,omitempty"`
	Date                time.Time       `json:"date"`
	OccurredAt          time.Time       `json:"occurred_at"`
}
