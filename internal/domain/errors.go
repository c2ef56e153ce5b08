package domain

import "github.com/cockroachdb/errors"

var (
	ErrSerializationFailure = errors.New("serialization failure")
	ErrNotFound             = errors.New("not found")
	ErrConflict             = errors.New("conflict")
	ErrInvalidInput         = errors.New("invalid input")

	ErrCapacityExceeded = errors.New("event capacity exceeded")

	ErrCouponNotFound         = errors.Mark(errors.New("coupon not found"), ErrNotFound)
	ErrCouponInactive         = errors.New("coupon inactive")
	ErrCouponNotApplicable    = errors.New("coupon not applicable to cart")
	ErrCouponAlreadyApplied   = errors.New("another coupon is already applied to cart")
	ErrRedemptionLimitReached = errors.New("coupon redemption limit reached")

	// ErrInvalidTransition means a caller drove a redemption through an edge
	// the state machine does not have. It signals an ordering bug upstream.
	ErrInvalidTransition = errors.New("invalid redemption status transition")
)
