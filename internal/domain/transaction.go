package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Transaction is an append-only ledger entry recording one completed transfer.
// This struct maps directly to the `transactions` table in the database.
type Transaction struct {
	ID            uuid.UUID       `json:"id"`
	Reference     string          `json:"reference"`
	FromAccountID uuid.UUID       `json:"from_account_id"`
	ToAccountID   uuid.UUID       `json:"to_account_id"`
	Amount        decimal.Decimal `json:"amount"`
	Description   *string         `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TransferRequest is the DTO for incoming transfer API requests. Amount is kept
// as a string so it is parsed exactly into a decimal.
type TransferRequest struct {
	SourceAccountID        uuid.UUID `json:"source_account_id"`
	RecipientAccountNumber string    `json:"recipient_account_number"`
	Amount                 string    `json:"amount"`
	Description            string    `json:"description"`
}

// Counterparty holds the public identity fields of the other side of a transfer.
type Counterparty struct {
	UserID        uuid.UUID `json:"user_id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	AccountNumber string    `json:"account_number"`
}

// TransactionHistoryItem is a transaction seen from one of its two accounts.
type TransactionHistoryItem struct {
	Transaction
	Direction    string       `json:"direction"` // "debit" or "credit"
	Counterparty Counterparty `json:"counterparty"`
}

const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

// TransferCompletedEvent is published to the message broker after a commit.
type TransferCompletedEvent struct {
	TransactionID   uuid.UUID       `json:"transaction_id"`
	Reference       string          `json:"reference"`
	FromAccountID   uuid.UUID       `json:"from_account_id"`
	ToAccountID     uuid.UUID       `json:"to_account_id"`
	SenderUserID    uuid.UUID       `json:"sender_user_id"`
	RecipientUserID uuid.UUID       `json:"recipient_user_id"`
	Amount          decimal.Decimal `json:"amount"`
	OccurredAt      time.Time       `json:"occurred_at"`
}
