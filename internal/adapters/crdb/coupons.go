package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
)

const couponColumns = `id, code, discount_type, value::TEXT, is_active, max_redemptions, redemption_count,
	event_ids::TEXT[], category_ids::TEXT[], created_at, updated_at`

// Lookup finds a coupon by code, ignoring case and surrounding whitespace.
func (r *Repository) Lookup(ctx context.Context, code string) (*domain.Coupon, error) {
	normalized := domain.NormalizeCode(code)
	if normalized == "" {
		return nil, errors.Wrap(domain.ErrCouponNotFound, "empty code")
	}
	row := r.pool.QueryRow(ctx, `SELECT `+couponColumns+` FROM coupons WHERE lower(code) = $1`, normalized)
	c, err := scanCoupon(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrCouponNotFound, "code %q", normalized)
	}
	return c, err
}

func (r *Repository) GetCoupon(ctx context.Context, id uuid.UUID) (*domain.Coupon, error) {
	return r.getCoupon(ctx, r.pool, id, false)
}

// SaveCoupon is the administrative write path. It never touches the
// running redemption count.
func (r *Repository) SaveCoupon(ctx context.Context, c domain.Coupon) (*domain.Coupon, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}

	var limit *int64
	if c.MaxRedemptions != nil {
		v := int64(*c.MaxRedemptions)
		limit = &v
	}

	var saved *domain.Coupon
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO coupons (id, code, discount_type, value, is_active, max_redemptions, event_ids, category_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7::TEXT[]::UUID[], $8::TEXT[]::UUID[])
			ON CONFLICT (id) DO UPDATE SET
				code = excluded.code,
				discount_type = excluded.discount_type,
				value = excluded.value,
				is_active = excluded.is_active,
				max_redemptions = excluded.max_redemptions,
				event_ids = excluded.event_ids,
				category_ids = excluded.category_ids,
				updated_at = now()
			RETURNING `+couponColumns,
			c.ID, domain.NormalizeCode(c.Code), string(c.Type), c.Value.String(), c.IsActive, limit,
			uuidStrings(c.EventIDs), uuidStrings(c.CategoryIDs))
		var err error
		saved, err = scanCoupon(row)
		return err
	})
	if errors.Is(err, domain.ErrConflict) {
		return nil, errors.Wrapf(err, "save coupon %s: code is taken or max_redemptions is below the current count", c.ID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "save coupon %s", c.ID)
	}
	return saved, nil
}

func (r *Repository) getCoupon(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*domain.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	c, err := scanCoupon(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrCouponNotFound, "id %s", id)
	}
	return c, err
}

func scanCoupon(row pgx.Row) (*domain.Coupon, error) {
	var (
		c                  domain.Coupon
		discountType       string
		value              string
		max                *int64
		count              int64
		events, categories []string
	)
	err := row.Scan(&c.ID, &c.Code, &discountType, &value, &c.IsActive, &max, &count,
		&events, &categories, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if c.Type, err = domain.ParseDiscountType(discountType); err != nil {
		return nil, err
	}
	if c.Value, err = parseMoney(value); err != nil {
		return nil, err
	}
	if max != nil {
		v := int(*max)
		c.MaxRedemptions = &v
	}
	c.RedemptionCount = int(count)
	if c.EventIDs, err = parseUUIDs(events); err != nil {
		return nil, err
	}
	if c.CategoryIDs, err = parseUUIDs(categories); err != nil {
		return nil, err
	}
	return &c, nil
}
