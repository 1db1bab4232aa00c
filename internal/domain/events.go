package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Realtime event names pushed to connected clients.
const (
	EventConnected     = "connected"
	EventMoneySent     = "money-sent"
	EventMoneyReceived = "money-received"
)

// Event is a single server-to-client realtime frame.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// MoneySentPayload is delivered to the sender. Amount is negative.
type MoneySentPayload struct {
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Timestamp time.Time       `json:"timestamp"`
}

// MoneyReceivedPayload is delivered to the recipient. Amount is positive.
type MoneyReceivedPayload struct {
	From      string          `json:"from"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Timestamp time.Time       `json:"timestamp"`
}

// ConnectedPayload greets a freshly registered realtime connection.
type ConnectedPayload struct {
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`
}
