package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
	"github.com/jcmexdev/marketplace/internal/core/ports"
	"github.com/jcmexdev/marketplace/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func seedCatalog(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.SaveUser(ctx, &entity.User{
		ID: "buyer-1", Email: "buyer@example.com", FullName: "Test Buyer",
		Phone: "08010000000", CreatedAt: now,
	}))
	require.NoError(t, s.SaveProduct(ctx, &entity.Product{
		ID: "prod-a", OwnerID: "seller-1", Name: "Product A",
		UnitPrice: decimal.NewFromInt(1000), CreatedAt: now,
	}))
}

func testOrder(txRef string) *entity.Order {
	now := time.Now().UTC()
	orderID := uuid.NewString()
	return &entity.Order{
		ID:      orderID,
		BuyerID: "buyer-1",
		OwnerID: "seller-1",
		Invoices: []entity.Invoice{
			{
				ID: uuid.NewString(), OrderID: orderID, ProductID: "prod-a",
				BuyerID: "buyer-1", OwnerID: "seller-1", Quantity: 2,
				UnitPrice: decimal.NewFromInt(1000), Discount: decimal.Zero,
				TotalPrice: decimal.NewFromInt(2000), Status: entity.InvoicePending,
				CreatedAt: now,
			},
			{
				ID: uuid.NewString(), OrderID: orderID, ProductID: "prod-a",
				BuyerID: "buyer-1", OwnerID: "seller-1", Quantity: 1,
				UnitPrice: decimal.NewFromInt(500), Discount: decimal.Zero,
				TotalPrice: decimal.NewFromInt(500), Status: entity.InvoicePending,
				CreatedAt: now.Add(time.Millisecond),
			},
		},
		TotalPrice: decimal.NewFromInt(2500),
		Status:     entity.StatusPending,
		TxRef:      txRef,
		Shipping:   entity.Shipping{Address: "1 Main St", City: "Lagos", Zip: "100001"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func TestCreateAndGetOrder(t *testing.T) {
	store := openTestStore(t)
	seedCatalog(t, store)
	ctx := context.Background()

	o := testOrder("MKT-1")
	require.NoError(t, store.CreateOrder(ctx, o))

	got, err := store.GetOrder(ctx, o.ID)
	require.NoError(t, err)

	assert.Equal(t, o.ID, got.ID)
	assert.Equal(t, entity.StatusPending, got.Status)
	assert.True(t, decimal.NewFromInt(2500).Equal(got.TotalPrice))
	assert.Empty(t, got.Code)
	assert.Empty(t, got.PaymentRef)
	assert.Equal(t, "MKT-1", got.TxRef)
	assert.Equal(t, "Lagos", got.Shipping.City)

	require.Len(t, got.Invoices, 2)
	sum := decimal.Zero
	for _, inv := range got.Invoices {
		sum = sum.Add(inv.TotalPrice)
	}
	assert.True(t, sum.Equal(got.TotalPrice))

	_, err = store.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestGetOrderByIdempotencyKey(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	o := testOrder("MKT-2")
	o.IdempotencyKey = "key-1"
	require.NoError(t, store.CreateOrder(ctx, o))

	got, err := store.GetOrderByIdempotencyKey(ctx, "key-1")
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	_, err = store.GetOrderByIdempotencyKey(ctx, "other")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestMarkAwaitingPayment(t *testing.T) {
	ctx := context.Background()
	meta := json.RawMessage(`{"transfer_reference":"FLW-REF-1"}`)

	t.Run("promotes a pending order", func(t *testing.T) {
		store := openTestStore(t)
		o := testOrder("MKT-3")
		require.NoError(t, store.CreateOrder(ctx, o))

		require.NoError(t, store.MarkAwaitingPayment(ctx, o.ID, "1234567", "FLW-REF-1", meta))

		got, err := store.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusAwaitingPayment, got.Status)
		assert.Equal(t, "1234567", got.Code)
		assert.Equal(t, "FLW-REF-1", got.PaymentRef)
		assert.JSONEq(t, string(meta), string(got.PaymentMeta))
	})

	t.Run("duplicate code is rejected", func(t *testing.T) {
		store := openTestStore(t)
		first := testOrder("MKT-4")
		second := testOrder("MKT-5")
		require.NoError(t, store.CreateOrder(ctx, first))
		require.NoError(t, store.CreateOrder(ctx, second))

		require.NoError(t, store.MarkAwaitingPayment(ctx, first.ID, "1234567", "FLW-REF-A", meta))
		err := store.MarkAwaitingPayment(ctx, second.ID, "1234567", "FLW-REF-B", meta)
		require.ErrorIs(t, err, ports.ErrCodeTaken)

		// The losing order is untouched and can retry with a new code.
		got, err := store.GetOrder(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusPending, got.Status)
		require.NoError(t, store.MarkAwaitingPayment(ctx, second.ID, "7654321", "FLW-REF-B", meta))
	})

	t.Run("non-pending order conflicts", func(t *testing.T) {
		store := openTestStore(t)
		o := testOrder("MKT-6")
		require.NoError(t, store.CreateOrder(ctx, o))
		require.NoError(t, store.MarkAwaitingPayment(ctx, o.ID, "1111111", "FLW-REF-C", meta))

		err := store.MarkAwaitingPayment(ctx, o.ID, "2222222", "FLW-REF-D", meta)
		require.ErrorIs(t, err, ports.ErrConflict)
	})

	t.Run("unknown order", func(t *testing.T) {
		store := openTestStore(t)
		err := store.MarkAwaitingPayment(ctx, "missing", "3333333", "FLW-REF-E", meta)
		require.ErrorIs(t, err, ports.ErrNotFound)
	})
}

func TestSettle(t *testing.T) {
	ctx := context.Background()
	meta := json.RawMessage(`{"transfer_reference":"FLW-REF-1"}`)

	awaiting := func(t *testing.T, store *Store, txRef, ref string) *entity.Order {
		o := testOrder(txRef)
		require.NoError(t, store.CreateOrder(ctx, o))
		require.NoError(t, store.MarkAwaitingPayment(ctx, o.ID, order7(txRef), ref, meta))
		return o
	}

	t.Run("applies paid once, replays are no-ops", func(t *testing.T) {
		store := openTestStore(t)
		o := awaiting(t, store, "MKT-7", "FLW-REF-1")

		applied, current, err := store.Settle(ctx, "FLW-REF-1", entity.StatusPaid)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, entity.StatusPaid, current)

		applied, current, err = store.Settle(ctx, "FLW-REF-1", entity.StatusPaid)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, entity.StatusPaid, current)

		// A late failed event cannot overwrite the terminal state.
		applied, current, err = store.Settle(ctx, "FLW-REF-1", entity.StatusFailed)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, entity.StatusPaid, current)

		got, err := store.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.StatusPaid, got.Status)
	})

	t.Run("applies failed", func(t *testing.T) {
		store := openTestStore(t)
		awaiting(t, store, "MKT-8", "FLW-REF-2")

		applied, current, err := store.Settle(ctx, "FLW-REF-2", entity.StatusFailed)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, entity.StatusFailed, current)
	})

	t.Run("unknown reference", func(t *testing.T) {
		store := openTestStore(t)
		_, _, err := store.Settle(ctx, "FLW-MISSING", entity.StatusPaid)
		require.ErrorIs(t, err, ports.ErrNotFound)
	})
}

func TestOutbox(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	meta := json.RawMessage(`{}`)

	o := testOrder("MKT-9")
	require.NoError(t, store.CreateOrder(ctx, o))
	require.NoError(t, store.MarkAwaitingPayment(ctx, o.ID, "9876543", "FLW-REF-9", meta))

	applied, _, err := store.Settle(ctx, "FLW-REF-9", entity.StatusPaid)
	require.NoError(t, err)
	require.True(t, applied)

	pending, err := store.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)

	var first, second events.Event
	require.NoError(t, json.Unmarshal(pending[0].Payload, &first))
	require.NoError(t, json.Unmarshal(pending[1].Payload, &second))
	assert.Equal(t, events.EventOrderAwaitingPayment, first.Type)
	assert.Equal(t, events.EventOrderPaid, second.Type)
	assert.Equal(t, o.ID, first.OrderID)
	assert.Equal(t, events.TopicOrders, pending[0].Topic)

	// A replayed webhook writes no new event.
	_, _, err = store.Settle(ctx, "FLW-REF-9", entity.StatusPaid)
	require.NoError(t, err)
	again, err := store.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, again, 2)

	require.NoError(t, store.MarkOutboxSent(ctx, pending[0].ID))
	rest, err := store.FetchPendingOutbox(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, pending[1].ID, rest[0].ID)
}

// order7 derives a distinct 7-digit code per test order so parallel
// subtests never collide on the UNIQUE constraint.
func order7(seed string) string {
	sum := 0
	for _, c := range seed {
		sum = sum*31 + int(c)
	}
	if sum < 0 {
		sum = -sum
	}
	code := 1000000 + sum%9000000
	return itoa7(code)
}

func itoa7(n int) string {
	digits := make([]byte, 7)
	for i := 6; i >= 0; i-- {
		digits[i] = byte('0' + n%10)
		n /= 10
	}
	if digits[0] == '0' {
		digits[0] = '1'
	}
	return string(digits)
}
