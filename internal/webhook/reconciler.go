// Package webhook reconciles asynchronously delivered payment outcomes
// into terminal order status. Handle never panics or errors across the
// HTTP boundary: every delivery resolves to a structured Result so the
// transport layer can always acknowledge the gateway correctly.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
	"github.com/jcmexdev/marketplace/internal/core/ports"
)

// eventChargeCompleted is the only event type acted upon; everything
// else is acknowledged without touching state.
const eventChargeCompleted = "charge.completed"

// statusSuccessful is the gateway's status value for a completed
// charge; any other value settles the order as failed.
const statusSuccessful = "successful"

// Outcome classifies how a delivery was disposed of.
type Outcome string

const (
	// OutcomeApplied: the order transitioned to paid or failed.
	OutcomeApplied Outcome = "applied"

	// OutcomeAlreadySettled: duplicate delivery for a terminal order;
	// acknowledged without rewriting (terminal states are absorbing).
	OutcomeAlreadySettled Outcome = "already_settled"

	// OutcomeIgnored: recognized payload but not a charge.completed
	// event, or an order not yet correlatable. No state change.
	OutcomeIgnored Outcome = "ignored"

	// OutcomeInvalidSignature: signature header mismatch. No state
	// change regardless of payload content.
	OutcomeInvalidSignature Outcome = "invalid_signature"

	// OutcomeMalformed: body did not parse into the expected shape.
	OutcomeMalformed Outcome = "malformed"

	// OutcomeNotFound: no order carries the referenced payment
	// reference. Benign — duplicate of an unrelated integration or a
	// webhook that raced ahead of persistence.
	OutcomeNotFound Outcome = "not_found"

	// OutcomeError: the store failed; the gateway should redeliver.
	OutcomeError Outcome = "error"
)

// Result is the structured disposition of one delivery.
type Result struct {
	Outcome Outcome
	Status  entity.OrderStatus
	Message string
}

// chargeEvent is the inbound webhook body.
type chargeEvent struct {
	Event string `json:"event"`
	Data  struct {
		Status    string `json:"status"`
		Reference string `json:"reference"`
		Amount    string `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// Reconciler authenticates, correlates and applies webhook deliveries.
type Reconciler struct {
	orders ports.OrderRepository
	secret string
}

func NewReconciler(orders ports.OrderRepository, secret string) *Reconciler {
	return &Reconciler{orders: orders, secret: secret}
}

// Handle processes one raw delivery. It fails closed: a missing or
// mismatched signature short-circuits before the body is even parsed.
// Duplicate and out-of-order deliveries are safe — the terminal
// transition is a conditional write on the current status, so exactly
// one delivery wins and replays land on OutcomeAlreadySettled.
func (r *Reconciler) Handle(ctx context.Context, body []byte, signature string) Result {
	if r.secret == "" || subtle.ConstantTimeCompare([]byte(signature), []byte(r.secret)) != 1 {
		slog.WarnContext(ctx, "webhook rejected: invalid signature")
		return Result{Outcome: OutcomeInvalidSignature, Message: "invalid signature"}
	}

	var ev chargeEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		slog.WarnContext(ctx, "webhook rejected: malformed body", "error", err)
		return Result{Outcome: OutcomeMalformed, Message: "unrecognized payload"}
	}

	if ev.Event != eventChargeCompleted {
		slog.InfoContext(ctx, "webhook ignored", "event", ev.Event)
		return Result{Outcome: OutcomeIgnored, Message: "event ignored"}
	}
	if ev.Data.Reference == "" {
		return Result{Outcome: OutcomeMalformed, Message: "missing reference"}
	}

	to := entity.StatusFailed
	if ev.Data.Status == statusSuccessful {
		to = entity.StatusPaid
	}

	applied, current, err := r.orders.Settle(ctx, ev.Data.Reference, to)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		slog.InfoContext(ctx, "webhook for unknown reference", "reference", ev.Data.Reference)
		return Result{Outcome: OutcomeNotFound, Message: "order not found"}
	case err != nil:
		slog.ErrorContext(ctx, "webhook settle failed", "reference", ev.Data.Reference, "error", err)
		return Result{Outcome: OutcomeError, Message: "internal error"}
	}

	if applied {
		slog.InfoContext(ctx, "order settled",
			"reference", ev.Data.Reference, "status", string(current))
		return Result{Outcome: OutcomeApplied, Status: current}
	}
	if current.Terminal() {
		return Result{Outcome: OutcomeAlreadySettled, Status: current}
	}

	// The order exists but is not yet awaiting payment; nothing to do.
	return Result{Outcome: OutcomeIgnored, Status: current, Message: "order not awaiting payment"}
}
