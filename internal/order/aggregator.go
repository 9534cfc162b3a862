// Package order implements the first pipeline stage: aggregate a cart
// of requested lines into a persisted pending Order with its invoice
// lines and authoritative total.
package order

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
	"github.com/jcmexdev/marketplace/internal/core/ports"
)

// Aggregator orchestrates line resolution and the transactional write.
// It implements ports.OrderService.
type Aggregator struct {
	orders   ports.OrderRepository
	catalog  ports.CatalogRepository
	resolver *Resolver
}

func NewAggregator(orders ports.OrderRepository, catalog ports.CatalogRepository) *Aggregator {
	return &Aggregator{
		orders:   orders,
		catalog:  catalog,
		resolver: NewResolver(catalog),
	}
}

// CreateOrder resolves every requested line, builds the order aggregate
// and persists it with status pending. Resolution is all-or-nothing: if
// any line fails, nothing is written. The total is summed in the same
// pass as resolution, never recomputed from persisted rows.
//
// When idempotencyKey is non-empty and an order was already created
// under it, that order is returned instead of creating a second one.
func (a *Aggregator) CreateOrder(ctx context.Context, buyerID, idempotencyKey string, lines []entity.OrderLine, shipping entity.Shipping) (*entity.Order, error) {
	if len(lines) == 0 {
		return nil, fmt.Errorf("order needs at least one line: %w", ports.ErrInvalidLine)
	}

	if idempotencyKey != "" {
		if existing, err := a.orders.GetOrderByIdempotencyKey(ctx, idempotencyKey); err == nil {
			slog.InfoContext(ctx, "idempotent order replay",
				"order_id", existing.ID, "idempotency_key", idempotencyKey)
			return existing, nil
		}
	}

	if _, err := a.catalog.GetUser(ctx, buyerID); err != nil {
		return nil, fmt.Errorf("buyer %s: %w", buyerID, err)
	}

	now := time.Now().UTC()
	total := decimal.Zero
	invoices := make([]entity.Invoice, 0, len(lines))
	for _, line := range lines {
		inv, err := a.resolver.Resolve(ctx, buyerID, line)
		if err != nil {
			return nil, err
		}
		total = total.Add(inv.TotalPrice)
		invoices = append(invoices, *inv)
	}

	o := &entity.Order{
		ID:      uuid.NewString(),
		BuyerID: buyerID,
		// Single-seller checkout: the order's seller is the owner of
		// the resolved products.
		OwnerID:        invoices[0].OwnerID,
		TotalPrice:     total,
		Status:         entity.StatusPending,
		TxRef:          "MKT-" + uuid.NewString(),
		IdempotencyKey: idempotencyKey,
		Shipping:       shipping,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i := range invoices {
		invoices[i].OrderID = o.ID
	}
	o.Invoices = invoices

	if err := a.orders.CreateOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	slog.InfoContext(ctx, "order created",
		"order_id", o.ID, "buyer_id", buyerID, "lines", len(invoices), "total", total.String())
	return o, nil
}

// GetOrder returns one order with its lines.
func (a *Aggregator) GetOrder(ctx context.Context, id string) (*entity.Order, error) {
	return a.orders.GetOrder(ctx, id)
}
