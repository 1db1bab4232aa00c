/**
 * @description
 * This package delivers best-effort notifications about committed transfers.
 * Connected parties receive a realtime push through the presence registry, and a
 * `transfer.completed` event is published to the message broker for other
 * consumers. Nothing here is retried or queued; failures are logged and dropped.
 *
 * @dependencies
 * - internal/presence: The registry of live connections.
 * - pkg/rabbitmq: The broker publisher.
 */

package notify

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/transfa/wallet-service/internal/domain"
	"github.com/transfa/wallet-service/internal/presence"
	"github.com/transfa/wallet-service/pkg/rabbitmq"
)

const (
	DefaultExchange           = "wallet.events"
	TransferCompletedRouteKey = "transfer.completed"
)

// Notifier pushes transfer events to connected parties.
type Notifier struct {
	registry  *presence.Registry
	publisher rabbitmq.Publisher
	exchange  string
}

// NewNotifier creates a notifier. A nil publisher disables broker fan-out.
func NewNotifier(registry *presence.Registry, publisher rabbitmq.Publisher, exchange string) *Notifier {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Notifier{registry: registry, publisher: publisher, exchange: exchange}
}

// NotifyTransfer sends money-sent to the sender and money-received to the
// recipient, each only if that party is connected.
func (n *Notifier) NotifyTransfer(ctx context.Context, txn domain.Transaction, sender domain.User, recipient domain.User) {
	n.push(sender.ID, txn, domain.Event{
		Type: domain.EventMoneySent,
		Payload: domain.MoneySentPayload{
			To:        recipient.FullName(),
			Amount:    txn.Amount.Neg(),
			Reference: txn.Reference,
			Timestamp: txn.CreatedAt,
		},
	})
	n.push(recipient.ID, txn, domain.Event{
		Type: domain.EventMoneyReceived,
		Payload: domain.MoneyReceivedPayload{
			From:      sender.FullName(),
			Amount:    txn.Amount,
			Reference: txn.Reference,
			Timestamp: txn.CreatedAt,
		},
	})
	n.publish(ctx, txn, sender, recipient)
}

func (n *Notifier) push(userID uuid.UUID, txn domain.Transaction, event domain.Event) {
	entry, ok := n.registry.Lookup(userID)
	if !ok {
		return
	}
	if err := entry.Conn.Send(event); err != nil {
		log.Printf("level=warn component=notifier msg=\"push failed; dropping connection\" event=%s user_id=%s transaction_id=%s err=%v", event.Type, userID, txn.ID, err)
		if n.registry.UnregisterConn(userID, entry.Conn) {
			_ = entry.Conn.Close()
		}
		return
	}
	log.Printf("level=info component=notifier msg=\"event pushed\" event=%s user_id=%s transaction_id=%s", event.Type, userID, txn.ID)
}

func (n *Notifier) publish(ctx context.Context, txn domain.Transaction, sender domain.User, recipient domain.User) {
	if n.publisher == nil {
		return
	}
	event := domain.TransferCompletedEvent{
		TransactionID:   txn.ID,
		Reference:       txn.Reference,
		FromAccountID:   txn.FromAccountID,
		ToAccountID:     txn.ToAccountID,
		SenderUserID:    sender.ID,
		RecipientUserID: recipient.ID,
		Amount:          txn.Amount,
		OccurredAt:      txn.CreatedAt,
	}
	if err := n.publisher.Publish(ctx, n.exchange, TransferCompletedRouteKey, event); err != nil {
		log.Printf("level=warn component=notifier msg=\"transfer event publish failed\" exchange=%s transaction_id=%s err=%v", n.exchange, txn.ID, err)
	}
}
