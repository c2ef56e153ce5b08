package redemption

import (
	"context"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
)

// CouponCache is a read-through cache of coupon definitions by code.
type CouponCache interface {
	GetCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	SetCoupon(ctx context.Context, coupon domain.Coupon) error
	InvalidateCoupon(ctx context.Context, code string) error
}

// CouponStore is the authoritative coupon registry.
type CouponStore interface {
	Registry
	SaveCoupon(ctx context.Context, c domain.Coupon) (*domain.Coupon, error)
}

// CachedRegistry serves Lookup from the cache when it can. A cache error
// falls through to the store.
type CachedRegistry struct {
	store  CouponStore
	cache  CouponCache
	logger observability.Logger
}

func NewCachedRegistry(store CouponStore, cache CouponCache, logger observability.Logger) *CachedRegistry {
	return &CachedRegistry{store: store, cache: cache, logger: logger}
}

func (r *CachedRegistry) Lookup(ctx context.Context, code string) (*domain.Coupon, error) {
	cached, err := r.cache.GetCoupon(ctx, code)
	if err != nil {
		r.logger.WithError(err).Warn("coupon cache read failed")
	}
	if cached != nil {
		return cached, nil
	}

	coupon, err := r.store.Lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetCoupon(ctx, *coupon); err != nil {
		r.logger.WithError(err).Warn("coupon cache write failed")
	}
	return coupon, nil
}

func (r *CachedRegistry) GetCoupon(ctx context.Context, id uuid.UUID) (*domain.Coupon, error) {
	return r.store.GetCoupon(ctx, id)
}

// SaveCoupon writes through to the store and drops the cached entry for
// both the old and the new code.
func (r *CachedRegistry) SaveCoupon(ctx context.Context, c domain.Coupon) (*domain.Coupon, error) {
	var previous string
	if c.ID != uuid.Nil {
		if old, err := r.store.GetCoupon(ctx, c.ID); err == nil {
			previous = old.Code
		}
	}
	saved, err := r.store.SaveCoupon(ctx, c)
	if err != nil {
		return nil, err
	}
	for _, code := range []string{previous, saved.Code} {
		if code == "" {
			continue
		}
		if err := r.cache.InvalidateCoupon(ctx, code); err != nil {
			r.logger.WithError(err).Warn("coupon cache invalidation failed")
		}
	}
	return saved, nil
}
