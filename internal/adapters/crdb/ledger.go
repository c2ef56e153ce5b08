package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
)

const redemptionColumns = `id, coupon_id, cart_id, user_id, status, created_at, updated_at`

// Reserve takes one redemption slot of the coupon for the cart. The coupon
// row is locked and its counter is bumped by a conditional update guarded by
// max_redemptions, all inside one serializable transaction, so concurrent
// callers on any number of instances can never over-grant the coupon.
//
// If the cart already holds this coupon the existing redemption is returned
// with AlreadyReserved set. Checked out carts and carts with a pending
// checkout are rejected.
func (r *Repository) Reserve(ctx context.Context, couponID, cartID, userID uuid.UUID) (domain.ReserveResult, error) {
	var res domain.ReserveResult
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		res = domain.ReserveResult{}

		if err := r.checkCartOpen(ctx, tx, cartID); err != nil {
			return err
		}
		coupon, err := r.getCoupon(ctx, tx, couponID, true)
		if err != nil {
			return err
		}

		active, err := r.activeForCart(ctx, tx, cartID)
		switch {
		case err == nil && active.CouponID == couponID:
			res = domain.ReserveResult{Redemption: *active, AlreadyReserved: true}
			return nil
		case err == nil:
			return errors.Wrapf(domain.ErrCouponAlreadyApplied, "cart %s holds redemption %s", cartID, active.ID)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}

		if !coupon.IsActive {
			return errors.Wrapf(domain.ErrCouponInactive, "coupon %s", couponID)
		}

		result, err := tx.Exec(ctx, `
			UPDATE coupons SET redemption_count = redemption_count + 1, updated_at = now()
			WHERE id = $1 AND is_active
				AND (max_redemptions IS NULL OR redemption_count < max_redemptions)
		`, couponID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return errors.Wrapf(domain.ErrRedemptionLimitReached, "coupon %s", couponID)
		}

		red := domain.NewRedemption(couponID, cartID, userID, r.now())
		_, err = tx.Exec(ctx, `
			INSERT INTO coupon_redemptions (id, coupon_id, cart_id, user_id, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, red.ID, red.CouponID, red.CartID, red.UserID, string(red.Status), red.CreatedAt, red.UpdatedAt)
		if err != nil {
			return err
		}

		res = domain.ReserveResult{Redemption: red}
		return r.emitRedemption(ctx, tx, "coupon.reserved", red, "")
	})
	return res, err
}

// Finalize moves a RESERVED redemption to APPLIED.
func (r *Repository) Finalize(ctx context.Context, redemptionID uuid.UUID) (domain.CouponRedemption, error) {
	var red domain.CouponRedemption
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		red, err = r.finalizeTx(ctx, tx, redemptionID)
		return err
	})
	return red, err
}

// ReasonExpired is the release reason recorded by the expiry sweep.
const ReasonExpired = "expired"

// Release cancels a RESERVED or APPLIED redemption and gives its slot back.
// Releasing a CANCELED redemption is a no-op. The bool result reports
// whether anything changed. A redemption whose cart has a pending checkout
// is held by that checkout and is not released here.
func (r *Repository) Release(ctx context.Context, redemptionID uuid.UUID, reason string) (domain.CouponRedemption, bool, error) {
	var (
		red     domain.CouponRedemption
		changed bool
	)
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		current, err := r.getRedemption(ctx, tx, redemptionID, true)
		if err != nil {
			return err
		}
		if current.Status.HoldsSlot() {
			if err := r.checkNoPendingCheckout(ctx, tx, current.CartID); err != nil {
				return err
			}
		}
		red, changed, err = r.releaseTx(ctx, tx, redemptionID, reason)
		return err
	})
	return red, changed, err
}

// ReleaseExpired releases the redemption only if it is still RESERVED and
// was created at or before cutoff, so a reservation finalized after it was
// listed by the sweep is left alone. A pending checkout priced with the
// redemption is failed in the same transaction.
func (r *Repository) ReleaseExpired(ctx context.Context, redemptionID uuid.UUID, cutoff time.Time) (bool, error) {
	var changed bool
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		changed = false
		red, err := r.getRedemption(ctx, tx, redemptionID, true)
		if err != nil {
			return err
		}
		if red.Status != domain.RedemptionReserved || red.CreatedAt.After(cutoff) {
			return nil
		}
		if _, changed, err = r.releaseTx(ctx, tx, redemptionID, ReasonExpired); err != nil {
			return err
		}
		return r.failCheckoutsFor(ctx, tx, redemptionID)
	})
	return changed, err
}

func (r *Repository) GetRedemption(ctx context.Context, redemptionID uuid.UUID) (domain.CouponRedemption, error) {
	red, err := r.getRedemption(ctx, r.pool, redemptionID, false)
	if err != nil {
		return domain.CouponRedemption{}, err
	}
	return *red, nil
}

// ActiveForCart returns the cart's RESERVED or APPLIED redemption.
func (r *Repository) ActiveForCart(ctx context.Context, cartID uuid.UUID) (*domain.CouponRedemption, error) {
	return r.activeForCart(ctx, r.pool, cartID)
}

// CountHeld returns how many redemptions of the coupon hold a slot.
func (r *Repository) CountHeld(ctx context.Context, couponID uuid.UUID) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM coupon_redemptions WHERE coupon_id = $1 AND status IN ('RESERVED', 'APPLIED')
	`, couponID).Scan(&n)
	return n, err
}

// ExpiredReservations lists RESERVED redemptions created at or before cutoff,
// oldest first.
func (r *Repository) ExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.CouponRedemption, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+redemptionColumns+`
		FROM coupon_redemptions WHERE status = 'RESERVED' AND created_at <= $1
		ORDER BY created_at ASC LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CouponRedemption
	for rows.Next() {
		red, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *red)
	}
	return out, rows.Err()
}

func (r *Repository) finalizeTx(ctx context.Context, tx pgx.Tx, redemptionID uuid.UUID) (domain.CouponRedemption, error) {
	red, err := r.getRedemption(ctx, tx, redemptionID, true)
	if err != nil {
		return domain.CouponRedemption{}, err
	}
	if err := red.Transition(domain.RedemptionApplied, r.now()); err != nil {
		return *red, err
	}
	if err := r.updateStatus(ctx, tx, *red); err != nil {
		return *red, err
	}
	return *red, r.emitRedemption(ctx, tx, "coupon.applied", *red, "")
}

func (r *Repository) releaseTx(ctx context.Context, tx pgx.Tx, redemptionID uuid.UUID, reason string) (domain.CouponRedemption, bool, error) {
	red, err := r.getRedemption(ctx, tx, redemptionID, true)
	if err != nil {
		return domain.CouponRedemption{}, false, err
	}
	if red.Status == domain.RedemptionCanceled {
		return *red, false, nil
	}
	if err := red.Transition(domain.RedemptionCanceled, r.now()); err != nil {
		return *red, false, err
	}
	if err := r.updateStatus(ctx, tx, *red); err != nil {
		return *red, false, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE coupons SET redemption_count = redemption_count - 1, updated_at = now()
		WHERE id = $1 AND redemption_count > 0
	`, red.CouponID)
	if err != nil {
		return *red, false, err
	}
	eventType := "coupon.released"
	if reason == ReasonExpired {
		eventType = "coupon.expired"
	}
	return *red, true, r.emitRedemption(ctx, tx, eventType, *red, reason)
}

func (r *Repository) updateStatus(ctx context.Context, tx pgx.Tx, red domain.CouponRedemption) error {
	_, err := tx.Exec(ctx, `
		UPDATE coupon_redemptions SET status = $2, updated_at = $3 WHERE id = $1
	`, red.ID, string(red.Status), red.UpdatedAt)
	return err
}

func (r *Repository) getRedemption(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (*domain.CouponRedemption, error) {
	query := `SELECT ` + redemptionColumns + ` FROM coupon_redemptions WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	red, err := scanRedemption(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "redemption %s", id)
	}
	return red, err
}

func (r *Repository) activeForCart(ctx context.Context, q querier, cartID uuid.UUID) (*domain.CouponRedemption, error) {
	red, err := scanRedemption(q.QueryRow(ctx, `
		SELECT `+redemptionColumns+` FROM coupon_redemptions
		WHERE cart_id = $1 AND status <> 'CANCELED'
	`, cartID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "active redemption for cart %s", cartID)
	}
	return red, err
}

func scanRedemption(row pgx.Row) (*domain.CouponRedemption, error) {
	var (
		red    domain.CouponRedemption
		status string
	)
	err := row.Scan(&red.ID, &red.CouponID, &red.CartID, &red.UserID, &status, &red.CreatedAt, &red.UpdatedAt)
	if err != nil {
		return nil, err
	}
	red.Status, err = domain.ParseRedemptionStatus(status)
	return &red, err
}
