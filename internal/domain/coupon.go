package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountPercent DiscountType = "PERCENT"
	DiscountFixed   DiscountType = "FIXED"
)

func ParseDiscountType(s string) (DiscountType, error) {
	switch DiscountType(strings.ToUpper(strings.TrimSpace(s))) {
	case DiscountPercent:
		return DiscountPercent, nil
	case DiscountFixed:
		return DiscountFixed, nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "unknown discount type %q", s)
}

var hundred = decimal.NewFromInt(100)

type Coupon struct {
	ID    uuid.UUID
	Code  string
	Type  DiscountType
	Value Money
	// MaxRedemptions is nil for an unbounded coupon.
	MaxRedemptions  *int
	RedemptionCount int
	IsActive        bool
	EventIDs        []uuid.UUID
	CategoryIDs     []uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NormalizeCode is the canonical form codes are stored and looked up by.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

func (c Coupon) Validate() error {
	if NormalizeCode(c.Code) == "" {
		return errors.Wrap(ErrInvalidInput, "coupon code is required")
	}
	switch c.Type {
	case DiscountPercent:
		if !c.Value.IsPositive() || c.Value.GreaterThan(hundred) {
			return errors.Wrap(ErrInvalidInput, "percent value must be in (0, 100]")
		}
	case DiscountFixed:
		if !c.Value.IsPositive() {
			return errors.Wrap(ErrInvalidInput, "fixed value must be positive")
		}
	default:
		return errors.Wrapf(ErrInvalidInput, "unknown discount type %q", c.Type)
	}
	if c.MaxRedemptions != nil && *c.MaxRedemptions < 1 {
		return errors.Wrap(ErrInvalidInput, "max redemptions must be at least 1")
	}
	return nil
}

func (c Coupon) IsScoped() bool {
	return len(c.EventIDs) > 0 || len(c.CategoryIDs) > 0
}

// Matches reports whether a cart item falls in the coupon's scope. Every
// item matches an unscoped coupon.
func (c Coupon) Matches(item CartItem) bool {
	if !c.IsScoped() {
		return true
	}
	for _, id := range c.EventIDs {
		if id == item.EventID {
			return true
		}
	}
	for _, id := range c.CategoryIDs {
		if id != uuid.Nil && id == item.CategoryID {
			return true
		}
	}
	return false
}

func (c Coupon) IsEligible(cart Cart) bool {
	if !c.IsActive {
		return false
	}
	if !c.IsScoped() {
		return true
	}
	for _, item := range cart.Items {
		if c.Matches(item) {
			return true
		}
	}
	return false
}

// EligibleSubtotal is the part of the cart subtotal the coupon may discount.
func (c Coupon) EligibleSubtotal(cart Cart) Money {
	total := decimal.Zero
	for _, item := range cart.Items {
		if c.Matches(item) {
			total = total.Add(item.Subtotal())
		}
	}
	return total
}

// Discount computes the amount taken off the eligible subtotal. The result
// is never negative and never larger than the eligible subtotal.
func (c Coupon) Discount(eligible Money) Money {
	if !eligible.IsPositive() {
		return decimal.Zero
	}
	var d Money
	switch c.Type {
	case DiscountPercent:
		d = RoundMoney(eligible.Mul(c.Value).Div(hundred))
	case DiscountFixed:
		d = decimal.Min(c.Value, eligible)
	default:
		return decimal.Zero
	}
	if d.GreaterThan(eligible) {
		d = eligible
	}
	return d
}

// RemainingRedemptions returns -1 for unbounded coupons.
func (c Coupon) RemainingRedemptions() int {
	if c.MaxRedemptions == nil {
		return -1
	}
	left := *c.MaxRedemptions - c.RedemptionCount
	if left < 0 {
		return 0
	}
	return left
}
