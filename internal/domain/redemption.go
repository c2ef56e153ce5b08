package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type RedemptionStatus string

const (
	RedemptionReserved RedemptionStatus = "RESERVED"
	RedemptionApplied  RedemptionStatus = "APPLIED"
	RedemptionCanceled RedemptionStatus = "CANCELED"
)

func ParseRedemptionStatus(s string) (RedemptionStatus, error) {
	switch st := RedemptionStatus(s); st {
	case RedemptionReserved, RedemptionApplied, RedemptionCanceled:
		return st, nil
	}
	return "", errors.Wrapf(ErrInvalidInput, "unknown redemption status %q", s)
}

// HoldsSlot reports whether a redemption in this status counts against the
// coupon's redemption limit.
func (s RedemptionStatus) HoldsSlot() bool {
	switch s {
	case RedemptionReserved, RedemptionApplied:
		return true
	case RedemptionCanceled:
		return false
	}
	return false
}

// CanTransition lists the only edges of the redemption lifecycle:
// RESERVED->APPLIED, RESERVED->CANCELED, APPLIED->CANCELED.
func (s RedemptionStatus) CanTransition(to RedemptionStatus) bool {
	switch s {
	case RedemptionReserved:
		return to == RedemptionApplied || to == RedemptionCanceled
	case RedemptionApplied:
		return to == RedemptionCanceled
	case RedemptionCanceled:
		return false
	}
	return false
}

type CouponRedemption struct {
	ID        uuid.UUID
	CouponID  uuid.UUID
	CartID    uuid.UUID
	UserID    uuid.UUID
	Status    RedemptionStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewRedemption(couponID, cartID, userID uuid.UUID, now time.Time) CouponRedemption {
	return CouponRedemption{
		ID:        uuid.New(),
		CouponID:  couponID,
		CartID:    cartID,
		UserID:    userID,
		Status:    RedemptionReserved,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the redemption to a new status or fails with
// ErrInvalidTransition.
func (r *CouponRedemption) Transition(to RedemptionStatus, now time.Time) error {
	if !r.Status.CanTransition(to) {
		return errors.Wrapf(ErrInvalidTransition, "redemption %s: %s -> %s", r.ID, r.Status, to)
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// Expired reports whether a RESERVED redemption outlived the reservation TTL.
func (r CouponRedemption) Expired(now time.Time, ttl time.Duration) bool {
	return r.Status == RedemptionReserved && !r.CreatedAt.Add(ttl).After(now)
}

// ReserveResult is what the ledger hands back from a reservation attempt.
// AlreadyReserved is set when the cart already held this coupon and the
// existing redemption was returned.
type ReserveResult struct {
	Redemption      CouponRedemption
	AlreadyReserved bool
}
