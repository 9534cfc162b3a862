package entity

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle state of an Order.
//
// The only legal path is pending -> awaiting_payment -> paid | failed.
// paid and failed are absorbing: reconciliation never rewrites them.
type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusAwaitingPayment OrderStatus = "awaiting_payment"
	StatusPaid            OrderStatus = "paid"
	StatusFailed          OrderStatus = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s OrderStatus) Terminal() bool {
	return s == StatusPaid || s == StatusFailed
}

// OrderLine is one requested line of a checkout: which product, how many.
// Prices are resolved server-side; the client never supplies them.
type OrderLine struct {
	ProductID string
	Quantity  int
}

// Shipping holds the free-text delivery fields captured at checkout.
// They are stored as-is; only presence is validated.
type Shipping struct {
	Address string
	City    string
	Zip     string
}

// Order is the aggregate root for one checkout. It owns its Invoice
// lines exclusively.
type Order struct {
	// ID is the internal identifier, assigned at creation.
	ID string

	// Code is the short human-facing order code: 7 numeric digits with
	// no leading zero, unique across all orders. Empty until payment
	// initiation succeeds — codes are only consumed by orders that
	// actually reached a payable state.
	Code string

	BuyerID string

	// OwnerID references the seller (product owner) of the checkout.
	OwnerID string

	Invoices []Invoice

	// TotalPrice is the sum of the invoice line totals at the moment of
	// creation. It is never recomputed afterwards.
	TotalPrice decimal.Decimal

	Status OrderStatus

	// TxRef is the caller-generated transaction reference sent to the
	// payment gateway. It is assigned once at creation so a retried
	// initiation reuses the same reference instead of risking a
	// duplicate charge.
	TxRef string

	// PaymentRef is the transfer reference returned by the gateway.
	// It is the sole correlation key for webhook reconciliation and is
	// unique per order. Empty until initiation succeeds.
	PaymentRef string

	// PaymentMeta is the gateway's authorization object, stored
	// verbatim for audit.
	PaymentMeta json.RawMessage

	// IdempotencyKey is the optional client-supplied Idempotency-Key
	// header value. A replayed creation with the same key returns the
	// original order instead of creating a second one.
	IdempotencyKey string

	Shipping Shipping

	CreatedAt time.Time
	UpdatedAt time.Time
}
