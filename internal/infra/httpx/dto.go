package httpx

import "encoding/json"

type CreateOrderRequest struct {
	BuyerID string         `json:"buyer_id"`
	Address string         `json:"address"`
	City    string         `json:"city"`
	Zip     string         `json:"zip"`
	Items   []OrderLineDTO `json:"items"`
}

type OrderLineDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type OrderResponse struct {
	ID          string            `json:"id"`
	Code        string            `json:"code,omitempty"`
	BuyerID     string            `json:"buyer_id"`
	OwnerID     string            `json:"owner_id"`
	Status      string            `json:"status"`
	TotalPrice  string            `json:"total_price"`
	PaymentRef  string            `json:"payment_ref,omitempty"`
	PaymentMeta json.RawMessage   `json:"payment_meta,omitempty"`
	Address     string            `json:"address"`
	City        string            `json:"city"`
	Zip         string            `json:"zip"`
	Items       []InvoiceResponse `json:"items"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

type InvoiceResponse struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unit_price"`
	Discount   string `json:"discount"`
	TotalPrice string `json:"total_price"`
	Status     string `json:"status"`
}

type WebhookAck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
