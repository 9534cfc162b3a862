// Package payment implements the second pipeline stage: request the
// bank-transfer charge and move the order into awaiting_payment with
// its code and payment reference attached.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
	"github.com/jcmexdev/marketplace/internal/core/ports"
	"github.com/jcmexdev/marketplace/internal/order"
)

// maxCodeAttempts bounds code redraws. The 7-digit space is large
// relative to realistic order volume, so repeated collisions indicate
// something badly wrong rather than bad luck.
const maxCodeAttempts = 5

// Coordinator implements ports.PaymentInitiator.
type Coordinator struct {
	orders   ports.OrderRepository
	catalog  ports.CatalogRepository
	gateway  ports.PaymentGateway
	currency string
	timeout  time.Duration
}

func NewCoordinator(orders ports.OrderRepository, catalog ports.CatalogRepository, gw ports.PaymentGateway, currency string, timeout time.Duration) *Coordinator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Coordinator{
		orders:   orders,
		catalog:  catalog,
		gateway:  gw,
		currency: currency,
		timeout:  timeout,
	}
}

// Initiate charges the gateway for the order's total and, on success,
// atomically attaches the transfer reference and a freshly allocated
// order code while promoting the order to awaiting_payment. On any
// gateway failure (transport, timeout, declined, malformed response)
// the order is left pending with no code and no reference, and
// initiation may be retried — the charge request is keyed on the
// order's durable tx_ref, so a retry cannot duplicate the charge.
//
// Re-initiating an order that already reached awaiting_payment is a
// no-op returning the order as-is.
func (c *Coordinator) Initiate(ctx context.Context, o *entity.Order) (*entity.Order, error) {
	if o.Status == entity.StatusAwaitingPayment {
		return o, nil
	}
	if o.Status != entity.StatusPending {
		return nil, fmt.Errorf("order %s is %s: %w", o.ID, o.Status, ports.ErrConflict)
	}

	buyer, err := c.catalog.GetUser(ctx, o.BuyerID)
	if err != nil {
		return nil, fmt.Errorf("initiate %s: buyer: %w", o.ID, err)
	}

	// Bound the network round-trip. A timeout is treated exactly like a
	// declined charge: no local state has changed yet.
	chargeCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	auth, err := c.gateway.CreateCharge(chargeCtx, ports.ChargeRequest{
		Email:    buyer.Email,
		FullName: buyer.FullName,
		Phone:    buyer.Phone,
		Amount:   o.TotalPrice,
		Currency: c.currency,
		TxRef:    o.TxRef,
	})
	if err != nil {
		if !errors.Is(err, ports.ErrPaymentInitiation) {
			err = fmt.Errorf("%v: %w", err, ports.ErrPaymentInitiation)
		}
		slog.WarnContext(ctx, "payment initiation failed",
			"order_id", o.ID, "tx_ref", o.TxRef, "error", err)
		return nil, fmt.Errorf("initiate %s: %w", o.ID, err)
	}

	// The code is allocated only now, after the gateway accepted the
	// charge, so codes are never consumed by orders that cannot be
	// paid. The store's UNIQUE constraint arbitrates collisions.
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := order.DrawCode()
		err := c.orders.MarkAwaitingPayment(ctx, o.ID, code, auth.TransferReference, auth.Raw)
		if errors.Is(err, ports.ErrCodeTaken) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("initiate %s: attach payment: %w", o.ID, err)
		}

		o.Code = code
		o.Status = entity.StatusAwaitingPayment
		o.PaymentRef = auth.TransferReference
		o.PaymentMeta = auth.Raw
		o.UpdatedAt = time.Now().UTC()

		slog.InfoContext(ctx, "order awaiting payment",
			"order_id", o.ID, "code", code, "payment_ref", o.PaymentRef)
		return o, nil
	}

	return nil, fmt.Errorf("initiate %s: %w", o.ID, ports.ErrCodeExhausted)
}
