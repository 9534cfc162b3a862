// Package ports declares the interfaces the order pipeline is wired
// through. Services depend on these abstractions, not on SQLite or the
// gateway HTTP client directly, so implementations can be swapped for
// in-memory fakes in tests.
package ports

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
)

var (
	// ErrNotFound covers unresolvable buyer, product and order references.
	ErrNotFound = errors.New("not found")

	// ErrInvalidLine is returned for a line with a non-positive quantity.
	ErrInvalidLine = errors.New("invalid order line")

	// ErrCodeTaken signals that a drawn order code hit the uniqueness
	// constraint; the caller redraws and retries.
	ErrCodeTaken = errors.New("order code already taken")

	// ErrCodeExhausted is returned when redrawing kept colliding.
	ErrCodeExhausted = errors.New("order code space exhausted")

	// ErrConflict signals that an order was not in the status the
	// operation requires (e.g. initiating a non-pending order).
	ErrConflict = errors.New("order status conflict")

	// ErrPaymentInitiation covers gateway timeouts, transport errors,
	// malformed responses and explicit non-success statuses. The order
	// stays pending and initiation may be retried.
	ErrPaymentInitiation = errors.New("payment initiation failed")
)

// OrderRepository persists orders and their invoice lines. The store is
// the single source of truth for order status; no in-memory copy is
// authoritative.
type OrderRepository interface {
	// CreateOrder writes the order together with all its invoice lines
	// in a single transaction. A duplicate idempotency key surfaces the
	// previously created order via GetOrderByIdempotencyKey.
	CreateOrder(ctx context.Context, o *entity.Order) error

	GetOrder(ctx context.Context, id string) (*entity.Order, error)

	GetOrderByIdempotencyKey(ctx context.Context, key string) (*entity.Order, error)

	// MarkAwaitingPayment atomically attaches the order code, payment
	// reference and metadata and moves a pending order to
	// awaiting_payment. Returns ErrCodeTaken when the code collides
	// with an existing order and ErrConflict when the order is no
	// longer pending.
	MarkAwaitingPayment(ctx context.Context, orderID, code, paymentRef string, paymentMeta json.RawMessage) error

	// Settle applies a terminal transition for the order correlated by
	// paymentRef, guarded by the current status: the update only lands
	// while the order is awaiting_payment. It reports whether the write
	// was applied and the status now held, or ErrNotFound when no order
	// carries the reference.
	Settle(ctx context.Context, paymentRef string, to entity.OrderStatus) (applied bool, current entity.OrderStatus, err error)
}

// CatalogRepository reads the product and user records this pipeline
// consumes. It is a boundary to the out-of-scope catalog CRUD.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id string) (*entity.Product, error)
	GetUser(ctx context.Context, id string) (*entity.User, error)
}

// ChargeRequest is the payload handed to the payment gateway when a
// bank-transfer charge is created.
type ChargeRequest struct {
	Email    string
	FullName string
	Phone    string
	Amount   decimal.Decimal
	Currency string

	// TxRef is the caller-generated reference; the gateway deduplicates
	// on it, so retries must reuse the same value.
	TxRef string
}

// ChargeAuthorization is what initiation extracts from a successful
// gateway response.
type ChargeAuthorization struct {
	// TransferReference correlates the later webhook back to the order.
	TransferReference string

	// Raw is the gateway's authorization object, kept verbatim.
	Raw json.RawMessage
}

// PaymentGateway is the boundary to the external charge-creation API.
type PaymentGateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*ChargeAuthorization, error)
}

// OrderService aggregates a checkout into a persisted pending order.
type OrderService interface {
	CreateOrder(ctx context.Context, buyerID, idempotencyKey string, lines []entity.OrderLine, shipping entity.Shipping) (*entity.Order, error)
	GetOrder(ctx context.Context, id string) (*entity.Order, error)
}

// PaymentInitiator runs the second pipeline stage: charge the gateway
// and move the order to awaiting_payment.
type PaymentInitiator interface {
	Initiate(ctx context.Context, o *entity.Order) (*entity.Order, error)
}
