// Package catalog wraps the catalog read side with a short-TTL Redis
// read-through cache. Prices are order-time snapshots anyway, so the
// TTL only bounds how quickly a catalog edit shows up in new orders.
package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/jcmexdev/marketplace/internal/core/domain/entity"
	"github.com/jcmexdev/marketplace/internal/core/ports"
	"github.com/jcmexdev/marketplace/internal/pkg/cache"
)

// CachedRepository decorates a ports.CatalogRepository. A nil cache
// disables caching entirely, which keeps tests and cacheless deploys
// on one code path.
type CachedRepository struct {
	inner ports.CatalogRepository
	cache cache.Cache
	ttl   time.Duration
}

func NewCachedRepository(inner ports.CatalogRepository, c cache.Cache, ttl time.Duration) *CachedRepository {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &CachedRepository{inner: inner, cache: c, ttl: ttl}
}

func (r *CachedRepository) GetProduct(ctx context.Context, id string) (*entity.Product, error) {
	var p entity.Product
	if r.lookup(ctx, "product", id, &p) {
		return &p, nil
	}

	product, err := r.inner.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, "product", id, product)
	return product, nil
}

func (r *CachedRepository) GetUser(ctx context.Context, id string) (*entity.User, error) {
	var u entity.User
	if r.lookup(ctx, "user", id, &u) {
		return &u, nil
	}

	user, err := r.inner.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(ctx, "user", id, user)
	return user, nil
}

// lookup reports whether dst was populated from the cache. Cache
// failures degrade to a store read; they are never fatal.
func (r *CachedRepository) lookup(ctx context.Context, op, id string, dst any) bool {
	if r.cache == nil {
		return false
	}
	raw, err := r.cache.Get(ctx, r.cache.GenerateKey(op, id))
	if err != nil {
		slog.DebugContext(ctx, "catalog cache get failed", "op", op, "id", id, "error", err)
		return false
	}
	if raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false
	}
	return true
}

func (r *CachedRepository) store(ctx context.Context, op, id string, v any) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, r.cache.GenerateKey(op, id), string(data), r.ttl); err != nil {
		slog.DebugContext(ctx, "catalog cache set failed", "op", op, "id", id, "error", err)
	}
}
