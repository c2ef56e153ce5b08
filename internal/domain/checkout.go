package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CheckoutStatus string

const (
	CheckoutPending CheckoutStatus = "PENDING"
	CheckoutPaid    CheckoutStatus = "PAID"
	CheckoutFailed  CheckoutStatus = "FAILED"
)

// Quote is the priced view of a cart with its active coupon, if any.
type Quote struct {
	CartID          uuid.UUID
	Subtotal        Money
	Discount        Money
	Total           Money
	CouponCode      string
	RedemptionID    *uuid.UUID
	AlreadyReserved bool
}

func NewQuote(cart Cart, coupon *Coupon, redemption *CouponRedemption) Quote {
	q := Quote{
		CartID:   cart.ID,
		Subtotal: cart.Subtotal(),
		Discount: decimal.Zero,
	}
	if coupon != nil && redemption != nil {
		q.Discount = coupon.Discount(coupon.EligibleSubtotal(cart))
		q.CouponCode = coupon.Code
		id := redemption.ID
		q.RedemptionID = &id
	}
	q.Total = q.Subtotal.Sub(q.Discount)
	return q
}

// CheckoutLine is one cart line as it was when the checkout was created.
type CheckoutLine struct {
	EventID   uuid.UUID `json:"event_id"`
	Quantity  int       `json:"quantity"`
	UnitPrice Money     `json:"unit_price"`
}

type Checkout struct {
	ID           uuid.UUID
	CartID       uuid.UUID
	UserID       uuid.UUID
	Status       CheckoutStatus
	Lines        []CheckoutLine
	Subtotal     Money
	Discount     Money
	Total        Money
	RedemptionID *uuid.UUID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewCheckout freezes the cart's lines and the quote priced from them.
func NewCheckout(cart Cart, quote Quote, now time.Time) Checkout {
	lines := make([]CheckoutLine, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, CheckoutLine{EventID: item.EventID, Quantity: item.Quantity, UnitPrice: item.UnitPrice})
	}
	return Checkout{
		ID:           uuid.New(),
		CartID:       cart.ID,
		UserID:       cart.UserID,
		Status:       CheckoutPending,
		Lines:        lines,
		Subtotal:     quote.Subtotal,
		Discount:     quote.Discount,
		Total:        quote.Total,
		RedemptionID: quote.RedemptionID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Matches reports whether the cart still holds exactly the lines and the
// redemption the checkout was priced with.
func (c Checkout) Matches(cart Cart, redemptionID *uuid.UUID) bool {
	if len(cart.Items) != len(c.Lines) {
		return false
	}
	for i, item := range cart.Items {
		line := c.Lines[i]
		if item.EventID != line.EventID || item.Quantity != line.Quantity || !item.UnitPrice.Equal(line.UnitPrice) {
			return false
		}
	}
	switch {
	case c.RedemptionID == nil && redemptionID == nil:
		return true
	case c.RedemptionID == nil || redemptionID == nil:
		return false
	}
	return *c.RedemptionID == *redemptionID
}
