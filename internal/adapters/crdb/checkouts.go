package crdb

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
)

const checkoutColumns = `id, cart_id, user_id, status, lines_json, subtotal::TEXT, discount::TEXT, total::TEXT, redemption_id, created_at, updated_at`

// CreateCheckout stores a PENDING checkout. A cart has at most one PENDING
// checkout at a time, and the checkout is refused with ErrConflict if the
// cart's lines or coupon changed after it was priced.
func (r *Repository) CreateCheckout(ctx context.Context, c domain.Checkout) error {
	lines, err := json.Marshal(c.Lines)
	if err != nil {
		return errors.Wrap(err, "encode checkout lines")
	}
	err = r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := r.checkCartOpen(ctx, tx, c.CartID); err != nil {
			return err
		}
		if err := r.checkUnchanged(ctx, tx, c); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO checkouts (id, cart_id, user_id, status, lines_json, subtotal, discount, total, redemption_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, c.ID, c.CartID, c.UserID, string(c.Status), lines, c.Subtotal.StringFixed(domain.MinorUnits),
			c.Discount.StringFixed(domain.MinorUnits), c.Total.StringFixed(domain.MinorUnits),
			c.RedemptionID, c.CreatedAt, c.UpdatedAt)
		return err
	})
	return errors.Wrapf(err, "create checkout for cart %s", c.CartID)
}

func (r *Repository) GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error) {
	c, err := scanCheckout(r.pool.QueryRow(ctx, `SELECT `+checkoutColumns+` FROM checkouts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "checkout %s", id)
	}
	return c, err
}

// CompleteCheckout marks the cart's pending checkout PAID, finalizes its
// coupon redemption, empties the cart and closes it, all in one
// transaction. The APPLIED redemption is kept and can no longer be reached
// through the cart.
func (r *Repository) CompleteCheckout(ctx context.Context, cartID uuid.UUID) (*domain.Checkout, error) {
	var out *domain.Checkout
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		c, err := r.pendingCheckout(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if c.RedemptionID != nil {
			if _, err := r.finalizeTx(ctx, tx, *c.RedemptionID); err != nil {
				return err
			}
		}
		if err := r.setCheckoutStatus(ctx, tx, c, domain.CheckoutPaid); err != nil {
			return err
		}
		if err := r.deleteItemsTx(ctx, tx, cartID); err != nil {
			return err
		}
		if err := r.closeCart(ctx, tx, cartID); err != nil {
			return err
		}
		out = c
		return r.emitCheckout(ctx, tx, "checkout.paid", *c)
	})
	return out, err
}

// FailCheckout marks the cart's pending checkout FAILED and releases its
// coupon redemption so the slot is not stranded.
func (r *Repository) FailCheckout(ctx context.Context, cartID uuid.UUID) (*domain.Checkout, error) {
	var out *domain.Checkout
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		c, err := r.pendingCheckout(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if c.RedemptionID != nil {
			if _, _, err := r.releaseTx(ctx, tx, *c.RedemptionID, "checkout.failed"); err != nil {
				return err
			}
		}
		if err := r.setCheckoutStatus(ctx, tx, c, domain.CheckoutFailed); err != nil {
			return err
		}
		out = c
		return r.emitCheckout(ctx, tx, "checkout.failed", *c)
	})
	return out, err
}

// failCheckoutsFor fails the pending checkout priced with the redemption,
// if there is one. The redemption must already be released.
func (r *Repository) failCheckoutsFor(ctx context.Context, tx pgx.Tx, redemptionID uuid.UUID) error {
	c, err := scanCheckout(tx.QueryRow(ctx, `
		SELECT `+checkoutColumns+` FROM checkouts WHERE redemption_id = $1 AND status = 'PENDING' FOR UPDATE
	`, redemptionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.setCheckoutStatus(ctx, tx, c, domain.CheckoutFailed); err != nil {
		return err
	}
	return r.emitCheckout(ctx, tx, "checkout.failed", *c)
}

func (r *Repository) checkUnchanged(ctx context.Context, tx pgx.Tx, c domain.Checkout) error {
	cart, err := r.getCartRow(ctx, tx, c.CartID)
	if err != nil {
		return err
	}
	if cart.Items, err = r.cartItems(ctx, tx, c.CartID); err != nil {
		return err
	}
	var active *uuid.UUID
	red, err := r.activeForCart(ctx, tx, c.CartID)
	switch {
	case err == nil:
		active = &red.ID
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	if !c.Matches(*cart, active) {
		return errors.Wrapf(domain.ErrConflict, "cart %s changed while the checkout was priced", c.CartID)
	}
	return nil
}

func (r *Repository) pendingCheckout(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) (*domain.Checkout, error) {
	c, err := scanCheckout(tx.QueryRow(ctx, `
		SELECT `+checkoutColumns+` FROM checkouts WHERE cart_id = $1 AND status = 'PENDING' FOR UPDATE
	`, cartID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "pending checkout for cart %s", cartID)
	}
	return c, err
}

func (r *Repository) setCheckoutStatus(ctx context.Context, tx pgx.Tx, c *domain.Checkout, status domain.CheckoutStatus) error {
	c.Status = status
	c.UpdatedAt = r.now()
	_, err := tx.Exec(ctx, `
		UPDATE checkouts SET status = $2, updated_at = $3 WHERE id = $1
	`, c.ID, string(c.Status), c.UpdatedAt)
	return err
}

func (r *Repository) emitCheckout(ctx context.Context, tx pgx.Tx, eventType string, c domain.Checkout) error {
	return r.emit(ctx, tx, "checkout", c.ID, eventType, CheckoutPayload{
		CheckoutID:   c.ID,
		CartID:       c.CartID,
		UserID:       c.UserID,
		Status:       string(c.Status),
		Total:        c.Total.StringFixed(domain.MinorUnits),
		Discount:     c.Discount.StringFixed(domain.MinorUnits),
		RedemptionID: c.RedemptionID,
	})
}

func scanCheckout(row pgx.Row) (*domain.Checkout, error) {
	var (
		c                         domain.Checkout
		status                    string
		lines                     []byte
		subtotal, discount, total string
	)
	err := row.Scan(&c.ID, &c.CartID, &c.UserID, &status, &lines, &subtotal, &discount, &total,
		&c.RedemptionID, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = domain.CheckoutStatus(status)
	if err := json.Unmarshal(lines, &c.Lines); err != nil {
		return nil, errors.Wrap(err, "decode checkout lines")
	}
	if c.Subtotal, err = parseMoney(subtotal); err != nil {
		return nil, err
	}
	if c.Discount, err = parseMoney(discount); err != nil {
		return nil, err
	}
	if c.Total, err = parseMoney(total); err != nil {
		return nil, err
	}
	return &c, nil
}
