package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
	"github.com/jcmexdev/marketplace/internal/core/ports"
)

// Resolver prices one requested line against the catalog.
type Resolver struct {
	catalog ports.CatalogRepository
}

func NewResolver(catalog ports.CatalogRepository) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve validates the line and returns a priced invoice draft. The
// unit price is a point-in-time snapshot of the catalog price; later
// catalog changes never touch the invoice. No stock is reserved or
// decremented here.
func (r *Resolver) Resolve(ctx context.Context, buyerID string, line entity.OrderLine) (*entity.Invoice, error) {
	if line.Quantity <= 0 {
		return nil, fmt.Errorf("product %s: quantity must be positive: %w", line.ProductID, ports.ErrInvalidLine)
	}

	product, err := r.catalog.GetProduct(ctx, line.ProductID)
	if err != nil {
		return nil, fmt.Errorf("resolve line %s: %w", line.ProductID, err)
	}

	qty := decimal.NewFromInt(int64(line.Quantity))
	return &entity.Invoice{
		ID:         uuid.NewString(),
		ProductID:  product.ID,
		BuyerID:    buyerID,
		OwnerID:    product.OwnerID,
		Quantity:   line.Quantity,
		UnitPrice:  product.UnitPrice,
		Discount:   decimal.Zero,
		TotalPrice: product.UnitPrice.Mul(qty),
		Status:     entity.InvoicePending,
		CreatedAt:  time.Now().UTC(),
	}, nil
}
