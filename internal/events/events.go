// Package events carries the order lifecycle events published to Kafka
// and the outbox record shape they are staged through. Outbox rows are
// written in the same database transaction as the state change they
// describe, so an event is published iff the transition committed.
package events

import (
	"encoding/json"
	"time"
)

// TopicOrders receives every order lifecycle event, keyed by order ID
// so events for one order stay in partition order.
const TopicOrders = "marketplace.orders"

const (
	EventOrderAwaitingPayment = "order.awaiting_payment"
	EventOrderPaid            = "order.paid"
	EventOrderFailed          = "order.failed"
)

// Event is the published payload.
type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   string         `json:"order_id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Record is one staged row in the outbox table.
type Record struct {
	ID        int64           `json:"id"`
	EventID   string          `json:"event_id"`
	Topic     string          `json:"topic"`
	Key       string          `json:"key"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at"`
}
