package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
)

// Cache keeps coupon definitions by normalized code. It is only a read
// cache: redemption limits and the active flag are re-checked by the ledger
// inside its transaction.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

type couponEntry struct {
	ID             uuid.UUID   `json:"id"`
	Code           string      `json:"code"`
	Type           string      `json:"type"`
	Value          string      `json:"value"`
	MaxRedemptions *int        `json:"max_redemptions,omitempty"`
	IsActive       bool        `json:"is_active"`
	EventIDs       []uuid.UUID `json:"event_ids"`
	CategoryIDs    []uuid.UUID `json:"category_ids"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func couponKey(code string) string {
	return "coupon:code:" + domain.NormalizeCode(code)
}

// GetCoupon returns nil, nil on a cache miss.
func (c *Cache) GetCoupon(ctx context.Context, code string) (*domain.Coupon, error) {
	val, err := c.client.Get(ctx, couponKey(code)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e couponEntry
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, err
	}
	typ, err := domain.ParseDiscountType(e.Type)
	if err != nil {
		return nil, err
	}
	value, err := domain.NewMoney(e.Value)
	if err != nil {
		return nil, err
	}
	return &domain.Coupon{
		ID:             e.ID,
		Code:           e.Code,
		Type:           typ,
		Value:          value,
		MaxRedemptions: e.MaxRedemptions,
		IsActive:       e.IsActive,
		EventIDs:       e.EventIDs,
		CategoryIDs:    e.CategoryIDs,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}, nil
}

func (c *Cache) SetCoupon(ctx context.Context, coupon domain.Coupon) error {
	data, err := json.Marshal(couponEntry{
		ID:             coupon.ID,
		Code:           coupon.Code,
		Type:           string(coupon.Type),
		Value:          coupon.Value.String(),
		MaxRedemptions: coupon.MaxRedemptions,
		IsActive:       coupon.IsActive,
		EventIDs:       coupon.EventIDs,
		CategoryIDs:    coupon.CategoryIDs,
		CreatedAt:      coupon.CreatedAt,
		UpdatedAt:      coupon.UpdatedAt,
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, couponKey(coupon.Code), data, c.ttl).Err()
}

func (c *Cache) InvalidateCoupon(ctx context.Context, code string) error {
	return c.client.Del(ctx, couponKey(code)).Err()
}
