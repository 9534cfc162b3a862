package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
	"github.com/jcmexdev/marketplace/internal/core/ports"
	"github.com/jcmexdev/marketplace/internal/infra/httpx/middlewares"
	"github.com/jcmexdev/marketplace/internal/pkg/metrics"
	"github.com/jcmexdev/marketplace/internal/webhook"
)

// signatureHeader carries the gateway's shared-secret webhook signature.
const signatureHeader = "verif-hash"

// reconciler is the slice of the webhook service the handler needs;
// kept as an interface so tests can substitute canned results.
type reconciler interface {
	Handle(ctx context.Context, body []byte, signature string) webhook.Result
}

// Handler exposes the order pipeline over HTTP.
type Handler struct {
	orders    ports.OrderService
	initiator ports.PaymentInitiator
	webhooks  reconciler
	metrics   *metrics.Metrics // nil-safe: counters skipped if nil
}

func NewHandler(orders ports.OrderService, initiator ports.PaymentInitiator, webhooks reconciler, m *metrics.Metrics) *Handler {
	return &Handler{
		orders:    orders,
		initiator: initiator,
		webhooks:  webhooks,
		metrics:   m,
	}
}

// CreateOrder validates the request, persists a pending order with its
// invoice lines, then initiates payment. Creation and initiation are
// two separate persisted steps: a gateway failure leaves the pending
// order behind, and the caller retries via InitiateOrder rather than
// creating (and charging) a second order.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if req.BuyerID == "" || len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "buyer_id and items are required")
		return
	}
	if req.Address == "" || req.City == "" || req.Zip == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "address, city and zip are required")
		return
	}

	lines := make([]entity.OrderLine, 0, len(req.Items))
	for _, it := range req.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_item", "product_id and a positive quantity are required")
			return
		}
		lines = append(lines, entity.OrderLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}

	// Comma-ok extraction: both values may be absent in tests.
	idempKey, _ := r.Context().Value(middlewares.ContextKeyIdempotencyKey).(string)
	requestID, _ := r.Context().Value(middlewares.ContextKeyRequestID).(string)

	slog.InfoContext(r.Context(), "creating order", "request_id", requestID, "buyer_id", req.BuyerID)

	order, err := h.orders.CreateOrder(r.Context(), req.BuyerID, idempKey, lines, entity.Shipping{
		Address: req.Address,
		City:    req.City,
		Zip:     req.Zip,
	})
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	h.count(func(m *metrics.Metrics) { m.OrdersCreated.Inc() })

	order, err = h.initiator.Initiate(r.Context(), order)
	if err != nil {
		h.count(func(m *metrics.Metrics) { m.Initiations.WithLabelValues("failed").Inc() })
		h.writeOrderError(w, err)
		return
	}
	h.count(func(m *metrics.Metrics) { m.Initiations.WithLabelValues("ok").Inc() })

	writeJSON(w, http.StatusCreated, mapOrderToResponse(order))
}

// InitiateOrder retries payment initiation for an order that is still
// pending (e.g. after a gateway outage). The stored tx_ref is reused,
// so the gateway deduplicates the charge.
func (h *Handler) InitiateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}
	if order.Status.Terminal() {
		writeError(w, http.StatusConflict, "order_settled", "order already reached a terminal state")
		return
	}

	order, err = h.initiator.Initiate(r.Context(), order)
	if err != nil {
		h.count(func(m *metrics.Metrics) { m.Initiations.WithLabelValues("failed").Inc() })
		h.writeOrderError(w, err)
		return
	}
	h.count(func(m *metrics.Metrics) { m.Initiations.WithLabelValues("ok").Inc() })

	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

// GetOrderByID retrieves a single order with its invoice lines.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order_id_required", "")
		return
	}

	order, err := h.orders.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeOrderError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

// ReceiveWebhook hands the raw body and signature header to the
// reconciler and maps its outcome to an acknowledgment. Mismatched
// signatures and unrecognized payloads are acknowledged with HTTP 200
// and an error body: a permanently misconfigured sender gains nothing
// from redelivering, so it is not made to retry. Only store failures
// return 5xx, inviting redelivery.
func (h *Handler) ReceiveWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusOK, WebhookAck{Status: "error", Message: "unreadable body"})
		return
	}

	res := h.webhooks.Handle(r.Context(), body, r.Header.Get(signatureHeader))
	h.count(func(m *metrics.Metrics) { m.Webhooks.WithLabelValues(string(res.Outcome)).Inc() })

	switch res.Outcome {
	case webhook.OutcomeError:
		writeJSON(w, http.StatusInternalServerError, WebhookAck{Status: "error", Message: res.Message})
	case webhook.OutcomeInvalidSignature, webhook.OutcomeMalformed:
		writeJSON(w, http.StatusOK, WebhookAck{Status: "error", Message: res.Message})
	default:
		writeJSON(w, http.StatusOK, WebhookAck{Status: "ok"})
	}
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeOrderError maps pipeline errors onto HTTP statuses.
func (h *Handler) writeOrderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ports.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, ports.ErrInvalidLine):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, ports.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, ports.ErrPaymentInitiation), errors.Is(err, ports.ErrCodeExhausted):
		writeError(w, http.StatusBadGateway, "payment_initiation_failed", err.Error())
	default:
		slog.Error("unhandled order error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func (h *Handler) count(fn func(*metrics.Metrics)) {
	if h.metrics != nil {
		fn(h.metrics)
	}
}

func mapOrderToResponse(o *entity.Order) OrderResponse {
	items := make([]InvoiceResponse, len(o.Invoices))
	for i, inv := range o.Invoices {
		items[i] = InvoiceResponse{
			ID:         inv.ID,
			ProductID:  inv.ProductID,
			Quantity:   inv.Quantity,
			UnitPrice:  inv.UnitPrice.String(),
			Discount:   inv.Discount.String(),
			TotalPrice: inv.TotalPrice.String(),
			Status:     string(inv.Status),
		}
	}
	return OrderResponse{
		ID:          o.ID,
		Code:        o.Code,
		BuyerID:     o.BuyerID,
		OwnerID:     o.OwnerID,
		Status:      string(o.Status),
		TotalPrice:  o.TotalPrice.String(),
		PaymentRef:  o.PaymentRef,
		PaymentMeta: o.PaymentMeta,
		Address:     o.Shipping.Address,
		City:        o.Shipping.City,
		Zip:         o.Shipping.Zip,
		Items:       items,
		CreatedAt:   o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:   o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: msg})
}
