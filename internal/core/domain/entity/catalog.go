package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the slice of the catalog this pipeline reads: identity,
// owner and current unit price. Catalog writes happen elsewhere.
type Product struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CreatedAt time.Time       `json:"created_at"`
}

// User is the buyer identity handed to the payment gateway.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}
