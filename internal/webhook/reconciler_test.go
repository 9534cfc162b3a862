package webhook

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
	"github.com/jcmexdev/marketplace/internal/core/ports"
)

const secret = "whsec-test"

// fakeRepo simulates the conditional terminal transition: the first
// Settle for a known reference applies; replays report the status the
// first delivery left behind.
type fakeRepo struct {
	statuses map[string]entity.OrderStatus // by payment ref
	settles  int
}

func (f *fakeRepo) CreateOrder(context.Context, *entity.Order) error { return nil }

func (f *fakeRepo) GetOrder(context.Context, string) (*entity.Order, error) {
	return nil, ports.ErrNotFound
}

func (f *fakeRepo) GetOrderByIdempotencyKey(context.Context, string) (*entity.Order, error) {
	return nil, ports.ErrNotFound
}

func (f *fakeRepo) MarkAwaitingPayment(context.Context, string, string, string, json.RawMessage) error {
	return nil
}

func (f *fakeRepo) Settle(_ context.Context, ref string, to entity.OrderStatus) (bool, entity.OrderStatus, error) {
	f.settles++
	current, ok := f.statuses[ref]
	if !ok {
		return false, "", ports.ErrNotFound
	}
	if current != entity.StatusAwaitingPayment {
		return false, current, nil
	}
	f.statuses[ref] = to
	return true, to, nil
}

func awaitingRepo(ref string) *fakeRepo {
	return &fakeRepo{statuses: map[string]entity.OrderStatus{ref: entity.StatusAwaitingPayment}}
}

func event(eventType, status, ref string) []byte {
	body, _ := json.Marshal(map[string]any{
		"event": eventType,
		"data": map[string]any{
			"status":    status,
			"reference": ref,
			"amount":    "2500",
			"currency":  "NGN",
		},
	})
	return body
}

func TestReconcilerHandle(t *testing.T) {
	t.Run("invalid signature never mutates", func(t *testing.T) {
		repo := awaitingRepo("FLW-REF-1")
		r := NewReconciler(repo, secret)

		res := r.Handle(context.Background(), event("charge.completed", "successful", "FLW-REF-1"), "wrong")

		assert.Equal(t, OutcomeInvalidSignature, res.Outcome)
		assert.Zero(t, repo.settles)
		assert.Equal(t, entity.StatusAwaitingPayment, repo.statuses["FLW-REF-1"])
	})

	t.Run("empty configured secret fails closed", func(t *testing.T) {
		repo := awaitingRepo("FLW-REF-1")
		r := NewReconciler(repo, "")

		res := r.Handle(context.Background(), event("charge.completed", "successful", "FLW-REF-1"), "")
		assert.Equal(t, OutcomeInvalidSignature, res.Outcome)
		assert.Zero(t, repo.settles)
	})

	t.Run("malformed body", func(t *testing.T) {
		repo := awaitingRepo("FLW-REF-1")
		r := NewReconciler(repo, secret)

		res := r.Handle(context.Background(), []byte(`{"event":`), secret)
		assert.Equal(t, OutcomeMalformed, res.Outcome)
		assert.Zero(t, repo.settles)
	})

	t.Run("other event types are ignored", func(t *testing.T) {
		repo := awaitingRepo("FLW-REF-1")
		r := NewReconciler(repo, secret)

		res := r.Handle(context.Background(), event("transfer.completed", "successful", "FLW-REF-1"), secret)
		assert.Equal(t, OutcomeIgnored, res.Outcome)
		assert.Zero(t, repo.settles)
	})

	t.Run("successful charge settles paid", func(t *testing.T) {
		repo := awaitingRepo("FLW-REF-1")
		r := NewReconciler(repo, secret)

		res := r.Handle(context.Background(), event("charge.completed", "successful", "FLW-REF-1"), secret)

		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, entity.StatusPaid, res.Status)
		assert.Equal(t, entity.StatusPaid, repo.statuses["FLW-REF-1"])
	})

	t.Run("non-successful charge settles failed", func(t *testing.T) {
		repo := awaitingRepo("FLW-REF-1")
		r := NewReconciler(repo, secret)

		res := r.Handle(context.Background(), event("charge.completed", "failed", "FLW-REF-1"), secret)

		assert.Equal(t, OutcomeApplied, res.Outcome)
		assert.Equal(t, entity.StatusFailed, res.Status)
	})

	t.Run("replay of a settled order is a no-op", func(t *testing.T) {
		repo := awaitingRepo("FLW-REF-1")
		r := NewReconciler(repo, secret)

		body := event("charge.completed", "successful", "FLW-REF-1")
		first := r.Handle(context.Background(), body, secret)
		require.Equal(t, OutcomeApplied, first.Outcome)

		second := r.Handle(context.Background(), body, secret)
		assert.Equal(t, OutcomeAlreadySettled, second.Outcome)
		assert.Equal(t, entity.StatusPaid, second.Status)
		assert.Equal(t, entity.StatusPaid, repo.statuses["FLW-REF-1"])
	})

	t.Run("failed outcome never overwrites paid", func(t *testing.T) {
		repo := awaitingRepo("FLW-REF-1")
		r := NewReconciler(repo, secret)

		_ = r.Handle(context.Background(), event("charge.completed", "successful", "FLW-REF-1"), secret)
		res := r.Handle(context.Background(), event("charge.completed", "failed", "FLW-REF-1"), secret)

		assert.Equal(t, OutcomeAlreadySettled, res.Outcome)
		assert.Equal(t, entity.StatusPaid, repo.statuses["FLW-REF-1"])
	})

	t.Run("unknown reference is benign", func(t *testing.T) {
		r := NewReconciler(&fakeRepo{statuses: map[string]entity.OrderStatus{}}, secret)

		res := r.Handle(context.Background(), event("charge.completed", "successful", "FLW-UNKNOWN"), secret)
		assert.Equal(t, OutcomeNotFound, res.Outcome)
	})

	t.Run("missing reference is malformed", func(t *testing.T) {
		repo := awaitingRepo("FLW-REF-1")
		r := NewReconciler(repo, secret)

		res := r.Handle(context.Background(), event("charge.completed", "successful", ""), secret)
		assert.Equal(t, OutcomeMalformed, res.Outcome)
		assert.Zero(t, repo.settles)
	})
}
