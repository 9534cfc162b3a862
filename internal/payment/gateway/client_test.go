package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/marketplace/internal/core/ports"
)

func chargeReq() ports.ChargeRequest {
	return ports.ChargeRequest{
		Email:    "buyer@example.com",
		FullName: "Test Buyer",
		Phone:    "08010000000",
		Amount:   decimal.NewFromInt(2500),
		Currency: "NGN",
		TxRef:    "MKT-abc",
	}
}

func TestCreateCharge(t *testing.T) {
	t.Run("success extracts the transfer reference", func(t *testing.T) {
		var got chargePayload
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/charges", r.URL.Path)
			assert.Equal(t, "bank_transfer", r.URL.Query().Get("type"))
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

			_, _ = w.Write([]byte(`{
				"status": "success",
				"message": "Charge initiated",
				"meta": {
					"authorization": {
						"transfer_reference": "FLW-REF-1",
						"transfer_account": "0067100155",
						"transfer_bank": "Mock Bank",
						"transfer_amount": 2500,
						"mode": "banktransfer"
					}
				}
			}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "sk-test", time.Second)
		auth, err := c.CreateCharge(context.Background(), chargeReq())
		require.NoError(t, err)

		assert.Equal(t, "FLW-REF-1", auth.TransferReference)
		assert.Contains(t, string(auth.Raw), "transfer_account")

		assert.Equal(t, "MKT-abc", got.TxRef)
		assert.Equal(t, "2500", got.Amount)
		assert.Equal(t, "buyer@example.com", got.Email)
		assert.False(t, got.IsPermanent, "accounts must be one-time")
	})

	t.Run("declined charge", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"error","message":"insufficient merchant balance"}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "sk-test", time.Second)
		_, err := c.CreateCharge(context.Background(), chargeReq())
		require.ErrorIs(t, err, ports.ErrPaymentInitiation)
		assert.Contains(t, err.Error(), "insufficient merchant balance")
	})

	t.Run("HTTP error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "sk-test", time.Second)
		_, err := c.CreateCharge(context.Background(), chargeReq())
		require.ErrorIs(t, err, ports.ErrPaymentInitiation)
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`not json`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "sk-test", time.Second)
		_, err := c.CreateCharge(context.Background(), chargeReq())
		require.ErrorIs(t, err, ports.ErrPaymentInitiation)
	})

	t.Run("success without a transfer reference", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"success","meta":{"authorization":{}}}`))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "sk-test", time.Second)
		_, err := c.CreateCharge(context.Background(), chargeReq())
		require.ErrorIs(t, err, ports.ErrPaymentInitiation)
	})

	t.Run("timeout maps to initiation failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "sk-test", 20*time.Millisecond)
		_, err := c.CreateCharge(context.Background(), chargeReq())
		require.ErrorIs(t, err, ports.ErrPaymentInitiation)
	})
}
