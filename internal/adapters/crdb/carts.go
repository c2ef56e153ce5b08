package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
)

// AddItem appends the event to the cart or increments the existing line.
// The cart row is created on the first add. The unit price of an existing
// line is never changed. A checked out cart is gone, and a cart with a
// pending checkout is frozen.
func (r *Repository) AddItem(ctx context.Context, cartID, userID uuid.UUID, event domain.Event, quantity int) (domain.CartItem, error) {
	if quantity < 1 {
		return domain.CartItem{}, errors.Wrap(domain.ErrInvalidInput, "quantity must be at least 1")
	}

	var item domain.CartItem
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		if err := r.ensureCart(ctx, tx, cartID, userID); err != nil {
			return err
		}
		if err := r.checkNoPendingCheckout(ctx, tx, cartID); err != nil {
			return err
		}

		existing, err := r.itemForEvent(ctx, tx, cartID, event.ID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		held := 0
		if existing != nil {
			held = existing.Quantity
		}
		if held+quantity > event.Remaining {
			return errors.Wrapf(domain.ErrCapacityExceeded,
				"event %s: requested %d, in cart %d, remaining %d", event.ID, quantity, held, event.Remaining)
		}

		if existing != nil {
			existing.Quantity += quantity
			_, err := tx.Exec(ctx, `
				UPDATE cart_items SET quantity = $2 WHERE id = $1
			`, existing.ID, existing.Quantity)
			if err != nil {
				return err
			}
			item = *existing
		} else {
			item = domain.NewCartItem(cartID, event, quantity, r.now())
			_, err := tx.Exec(ctx, `
				INSERT INTO cart_items (id, cart_id, event_id, event_title, event_date, category_id, quantity, unit_price, added_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`, item.ID, item.CartID, item.EventID, item.EventTitle, item.EventDate, item.CategoryID, item.Quantity,
				item.UnitPrice.StringFixed(domain.MinorUnits), item.AddedAt)
			if err != nil {
				return err
			}
		}

		_, err = tx.Exec(ctx, `UPDATE carts SET updated_at = now() WHERE id = $1`, cartID)
		return err
	})
	return item, err
}

// RemoveItem deletes one line of the user's cart.
func (r *Repository) RemoveItem(ctx context.Context, cartID, userID, itemID uuid.UUID) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		cart, err := r.getCartRow(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if cart.UserID != userID {
			return errors.Wrapf(domain.ErrNotFound, "cart %s", cartID)
		}
		if err := r.checkNoPendingCheckout(ctx, tx, cartID); err != nil {
			return err
		}

		result, err := tx.Exec(ctx, `
			DELETE FROM cart_items WHERE id = $1 AND cart_id = $2
		`, itemID, cartID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			return errors.Wrapf(domain.ErrNotFound, "item %s in cart %s", itemID, cartID)
		}
		return nil
	})
}

// Clear empties the cart and cancels its active coupon redemption in the
// same transaction. It returns the redemption it canceled, if any. A cart
// with a pending checkout cannot be cleared.
func (r *Repository) Clear(ctx context.Context, cartID uuid.UUID) (*domain.CouponRedemption, error) {
	var released *domain.CouponRedemption
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		released = nil
		if _, err := r.getCartRow(ctx, tx, cartID); err != nil {
			return err
		}
		if err := r.checkNoPendingCheckout(ctx, tx, cartID); err != nil {
			return err
		}
		if err := r.deleteItemsTx(ctx, tx, cartID); err != nil {
			return err
		}

		active, err := r.activeForCart(ctx, tx, cartID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rel, changed, err := r.releaseTx(ctx, tx, active.ID, "cart.cleared")
		if err != nil {
			return err
		}
		if changed {
			released = &rel
		}
		return nil
	})
	return released, err
}

func (r *Repository) GetCart(ctx context.Context, cartID uuid.UUID) (*domain.Cart, error) {
	cart, err := r.getCartRow(ctx, r.pool, cartID)
	if err != nil {
		return nil, err
	}
	cart.Items, err = r.cartItems(ctx, r.pool, cartID)
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (r *Repository) GetSubtotal(ctx context.Context, cartID uuid.UUID) (domain.Money, error) {
	if _, err := r.getCartRow(ctx, r.pool, cartID); err != nil {
		return domain.Money{}, err
	}
	var raw string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(quantity * unit_price), 0)::DECIMAL(14,2)::TEXT FROM cart_items WHERE cart_id = $1
	`, cartID).Scan(&raw)
	if err != nil {
		return domain.Money{}, err
	}
	return parseMoney(raw)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// getCartRow only sees open carts. A checked out cart reads as not found.
func (r *Repository) getCartRow(ctx context.Context, q querier, cartID uuid.UUID) (*domain.Cart, error) {
	var cart domain.Cart
	err := q.QueryRow(ctx, `
		SELECT id, user_id, created_at, updated_at FROM carts WHERE id = $1 AND checked_out_at IS NULL
	`, cartID).Scan(&cart.ID, &cart.UserID, &cart.CreatedAt, &cart.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "cart %s", cartID)
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (r *Repository) cartItems(ctx context.Context, q querier, cartID uuid.UUID) ([]domain.CartItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, cart_id, event_id, event_title, event_date, category_id, quantity, unit_price::TEXT, added_at
		FROM cart_items WHERE cart_id = $1 ORDER BY added_at ASC, id ASC
	`, cartID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *Repository) ensureCart(ctx context.Context, tx pgx.Tx, cartID, userID uuid.UUID) error {
	var (
		owner      uuid.UUID
		checkedOut bool
	)
	err := tx.QueryRow(ctx, `
		INSERT INTO carts (id, user_id) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET updated_at = now()
		RETURNING user_id, checked_out_at IS NOT NULL
	`, cartID, userID).Scan(&owner, &checkedOut)
	if err != nil {
		return err
	}
	if checkedOut {
		return errors.Wrapf(domain.ErrNotFound, "cart %s is checked out", cartID)
	}
	if owner != userID {
		return errors.Wrapf(domain.ErrConflict, "cart %s belongs to another user", cartID)
	}
	return nil
}

func (r *Repository) itemForEvent(ctx context.Context, tx pgx.Tx, cartID, eventID uuid.UUID) (*domain.CartItem, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, cart_id, event_id, event_title, event_date, category_id, quantity, unit_price::TEXT, added_at
		FROM cart_items WHERE cart_id = $1 AND event_id = $2 FOR UPDATE
	`, cartID, eventID)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// checkNoPendingCheckout fails with ErrConflict while the cart has a PENDING
// checkout. Under SERIALIZABLE a checkout created concurrently aborts one of
// the two transactions.
func (r *Repository) checkNoPendingCheckout(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) error {
	var pending bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM checkouts WHERE cart_id = $1 AND status = 'PENDING')
	`, cartID).Scan(&pending)
	if err != nil {
		return err
	}
	if pending {
		return errors.Wrapf(domain.ErrConflict, "cart %s has a pending checkout", cartID)
	}
	return nil
}

// checkCartOpen also rejects a checked out cart. The ledger may be used for
// carts that have no row, and those pass.
func (r *Repository) checkCartOpen(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) error {
	var checkedOut bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM carts WHERE id = $1 AND checked_out_at IS NOT NULL)
	`, cartID).Scan(&checkedOut)
	if err != nil {
		return err
	}
	if checkedOut {
		return errors.Wrapf(domain.ErrNotFound, "cart %s is checked out", cartID)
	}
	return r.checkNoPendingCheckout(ctx, tx, cartID)
}

// closeCart makes the cart terminal. Reads, adds, coupon changes and clears
// all treat it as not found afterwards.
func (r *Repository) closeCart(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		UPDATE carts SET checked_out_at = $2, updated_at = $2 WHERE id = $1
	`, cartID, r.now())
	return err
}

func (r *Repository) deleteItemsTx(ctx context.Context, tx pgx.Tx, cartID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE cart_id = $1`, cartID)
	return err
}

func scanItem(row pgx.Row) (domain.CartItem, error) {
	var item domain.CartItem
	var price string
	err := row.Scan(&item.ID, &item.CartID, &item.EventID, &item.EventTitle, &item.EventDate,
		&item.CategoryID, &item.Quantity, &price, &item.AddedAt)
	if err != nil {
		return item, err
	}
	item.UnitPrice, err = parseMoney(price)
	return item, err
}
