package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus mirrors the coarse settlement state of a line for
// per-line bookkeeping (e.g. later withdrawal eligibility). This
// pipeline only stores it; it never drives transitions.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "pending"
	InvoiceSettled InvoiceStatus = "settled"
)

// Invoice is one priced product line belonging to exactly one Order.
type Invoice struct {
	ID      string
	OrderID string

	ProductID string
	BuyerID   string
	OwnerID   string

	// Quantity is a positive integer, validated at resolution.
	Quantity int

	// UnitPrice is the catalog price captured at order time. Later
	// catalog changes never retroactively affect the line.
	UnitPrice decimal.Decimal

	// Discount, if non-zero, is subtracted before the line total.
	Discount decimal.Decimal

	// TotalPrice = UnitPrice*Quantity - Discount.
	TotalPrice decimal.Decimal

	Status InvoiceStatus

	CreatedAt time.Time
}
