// Package redemption prices carts against coupon codes and drives the
// lifecycle of coupon redemptions through checkout.
package redemption

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("redemption")

type CartStore interface {
	GetCart(ctx context.Context, cartID uuid.UUID) (*domain.Cart, error)
	Clear(ctx context.Context, cartID uuid.UUID) (*domain.CouponRedemption, error)
}

type Registry interface {
	Lookup(ctx context.Context, code string) (*domain.Coupon, error)
	GetCoupon(ctx context.Context, id uuid.UUID) (*domain.Coupon, error)
}

type Ledger interface {
	Reserve(ctx context.Context, couponID, cartID, userID uuid.UUID) (domain.ReserveResult, error)
	Release(ctx context.Context, redemptionID uuid.UUID, reason string) (domain.CouponRedemption, bool, error)
	ActiveForCart(ctx context.Context, cartID uuid.UUID) (*domain.CouponRedemption, error)
}

type CheckoutStore interface {
	CreateCheckout(ctx context.Context, c domain.Checkout) error
	GetCheckout(ctx context.Context, id uuid.UUID) (*domain.Checkout, error)
	CompleteCheckout(ctx context.Context, cartID uuid.UUID) (*domain.Checkout, error)
	FailCheckout(ctx context.Context, cartID uuid.UUID) (*domain.Checkout, error)
}

// Auditor records redemption history. Failures are logged, never returned.
type Auditor interface {
	LogRedemption(ctx context.Context, action string, red domain.CouponRedemption) error
	LogCheckout(ctx context.Context, action string, c domain.Checkout) error
}

// SalesRecorder tells the catalog how many tickets a paid checkout sold.
type SalesRecorder interface {
	RecordSale(ctx context.Context, eventID uuid.UUID, quantity int) error
}

type Deps struct {
	Carts     CartStore
	Registry  Registry
	Ledger    Ledger
	Checkouts CheckoutStore
	Audit     Auditor
	Sales     SalesRecorder
}

type Engine struct {
	carts     CartStore
	registry  Registry
	ledger    Ledger
	checkouts CheckoutStore
	audit     Auditor
	sales     SalesRecorder
	logger    observability.Logger
	now       func() time.Time
}

func NewEngine(deps Deps, logger observability.Logger) *Engine {
	return &Engine{
		carts:     deps.Carts,
		registry:  deps.Registry,
		ledger:    deps.Ledger,
		checkouts: deps.Checkouts,
		audit:     deps.Audit,
		sales:     deps.Sales,
		logger:    logger,
		now:       time.Now,
	}
}

// ApplyCoupon validates code against the cart, reserves one redemption slot
// and returns the discounted quote. Reservation failures are returned as-is
// and never retried here.
func (e *Engine) ApplyCoupon(ctx context.Context, cartID, userID uuid.UUID, code string) (q domain.Quote, err error) {
	ctx, span := tracer.Start(ctx, "redemption.ApplyCoupon")
	span.SetAttributes(attribute.String("cart.id", cartID.String()))
	defer func() {
		observability.CouponApplyTotal.WithLabelValues(applyResult(err, q.AlreadyReserved)).Inc()
		endSpan(span, err)
	}()

	cart, err := e.ownedCart(ctx, cartID, userID)
	if err != nil {
		return domain.Quote{}, err
	}

	coupon, err := e.registry.Lookup(ctx, code)
	if err != nil {
		return domain.Quote{}, err
	}
	span.SetAttributes(attribute.String("coupon.id", coupon.ID.String()))
	if !coupon.IsActive {
		return domain.Quote{}, errors.Wrapf(domain.ErrCouponInactive, "coupon %q", coupon.Code)
	}
	if cart.IsEmpty() || !coupon.IsEligible(*cart) {
		return domain.Quote{}, errors.Wrapf(domain.ErrCouponNotApplicable, "coupon %q", coupon.Code)
	}

	res, err := e.ledger.Reserve(ctx, coupon.ID, cart.ID, userID)
	if err != nil {
		return domain.Quote{}, err
	}
	if !res.AlreadyReserved {
		e.auditRedemption(ctx, "coupon.reserved", res.Redemption)
	}

	q = domain.NewQuote(*cart, coupon, &res.Redemption)
	q.AlreadyReserved = res.AlreadyReserved
	return q, nil
}

// RemoveCoupon releases the cart's active redemption, if any, and returns
// the undiscounted quote. It fails with ErrConflict while a checkout of the
// cart is pending.
func (e *Engine) RemoveCoupon(ctx context.Context, cartID, userID uuid.UUID) (domain.Quote, error) {
	ctx, span := tracer.Start(ctx, "redemption.RemoveCoupon")
	span.SetAttributes(attribute.String("cart.id", cartID.String()))

	cart, err := e.ownedCart(ctx, cartID, userID)
	if err != nil {
		endSpan(span, err)
		return domain.Quote{}, err
	}
	if err := e.releaseActive(ctx, cartID, "coupon.removed"); err != nil {
		endSpan(span, err)
		return domain.Quote{}, err
	}
	endSpan(span, nil)
	return domain.NewQuote(*cart, nil, nil), nil
}

// Quote prices the cart with whatever coupon it currently holds.
func (e *Engine) Quote(ctx context.Context, cartID uuid.UUID) (domain.Quote, error) {
	cart, err := e.carts.GetCart(ctx, cartID)
	if err != nil {
		return domain.Quote{}, err
	}
	return e.quoteFor(ctx, *cart)
}

func (e *Engine) quoteFor(ctx context.Context, cart domain.Cart) (domain.Quote, error) {
	active, err := e.ledger.ActiveForCart(ctx, cart.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.NewQuote(cart, nil, nil), nil
	}
	if err != nil {
		return domain.Quote{}, err
	}
	coupon, err := e.registry.GetCoupon(ctx, active.CouponID)
	if err != nil {
		return domain.Quote{}, err
	}
	return domain.NewQuote(cart, coupon, active), nil
}

// ClearCart empties the user's cart. The store cancels any active
// redemption in the same transaction.
func (e *Engine) ClearCart(ctx context.Context, cartID, userID uuid.UUID) error {
	if _, err := e.ownedCart(ctx, cartID, userID); err != nil {
		return err
	}
	released, err := e.carts.Clear(ctx, cartID)
	if err != nil {
		return err
	}
	if released != nil {
		observability.RedemptionsReleased.WithLabelValues("cart.cleared").Inc()
		e.auditRedemption(ctx, "coupon.released", *released)
	}
	return nil
}

// BeginCheckout freezes the cart's current quote into a PENDING checkout
// the payment collaborator will confirm or fail.
func (e *Engine) BeginCheckout(ctx context.Context, cartID, userID uuid.UUID) (*domain.Checkout, error) {
	ctx, span := tracer.Start(ctx, "redemption.BeginCheckout")
	span.SetAttributes(attribute.String("cart.id", cartID.String()))

	c, err := e.beginCheckout(ctx, cartID, userID)
	endSpan(span, err)
	return c, err
}

func (e *Engine) beginCheckout(ctx context.Context, cartID, userID uuid.UUID) (*domain.Checkout, error) {
	cart, err := e.ownedCart(ctx, cartID, userID)
	if err != nil {
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, errors.Wrapf(domain.ErrInvalidInput, "cart %s is empty", cartID)
	}
	quote, err := e.quoteFor(ctx, *cart)
	if err != nil {
		return nil, err
	}

	c := domain.NewCheckout(*cart, quote, e.now())
	if err := e.checkouts.CreateCheckout(ctx, c); err != nil {
		return nil, err
	}
	e.auditCheckout(ctx, "checkout.created", c)
	return &c, nil
}

// ConfirmCheckout finalizes the cart's coupon redemption together with
// marking its pending checkout paid. The cart is closed afterwards and the
// sale is recorded from the checkout's own lines.
func (e *Engine) ConfirmCheckout(ctx context.Context, cartID uuid.UUID) (*domain.Checkout, error) {
	ctx, span := tracer.Start(ctx, "redemption.ConfirmCheckout")
	span.SetAttributes(attribute.String("cart.id", cartID.String()))

	c, err := e.checkouts.CompleteCheckout(ctx, cartID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			e.logger.WithError(err).WithField("cart_id", cartID.String()).Error("checkout confirmed against a redemption that is not RESERVED")
		}
		endSpan(span, err)
		return nil, err
	}
	e.auditCheckout(ctx, "checkout.paid", *c)

	if e.sales != nil {
		for _, line := range c.Lines {
			if err := e.sales.RecordSale(ctx, line.EventID, line.Quantity); err != nil {
				e.logger.WithError(err).WithField("event_id", line.EventID.String()).Warn("failed to record sale in catalog")
			}
		}
	}
	endSpan(span, nil)
	return c, nil
}

// CancelCheckout fails the cart's pending checkout and releases its
// redemption so the slot is not stranded.
func (e *Engine) CancelCheckout(ctx context.Context, cartID uuid.UUID) (*domain.Checkout, error) {
	ctx, span := tracer.Start(ctx, "redemption.CancelCheckout")
	span.SetAttributes(attribute.String("cart.id", cartID.String()))

	c, err := e.checkouts.FailCheckout(ctx, cartID)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	if c.RedemptionID != nil {
		observability.RedemptionsReleased.WithLabelValues("checkout.failed").Inc()
	}
	e.auditCheckout(ctx, "checkout.failed", *c)
	endSpan(span, nil)
	return c, nil
}

// HandlePaymentResult routes a payment outcome for a checkout. A checkout
// that is no longer PENDING is returned unchanged, so redelivered results
// are harmless.
func (e *Engine) HandlePaymentResult(ctx context.Context, checkoutID uuid.UUID, succeeded bool) (*domain.Checkout, error) {
	c, err := e.checkouts.GetCheckout(ctx, checkoutID)
	if err != nil {
		return nil, err
	}
	if c.Status != domain.CheckoutPending {
		return c, nil
	}
	if succeeded {
		return e.ConfirmCheckout(ctx, c.CartID)
	}
	return e.CancelCheckout(ctx, c.CartID)
}

func (e *Engine) ownedCart(ctx context.Context, cartID, userID uuid.UUID) (*domain.Cart, error) {
	cart, err := e.carts.GetCart(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.UserID != userID {
		return nil, errors.Wrapf(domain.ErrNotFound, "cart %s", cartID)
	}
	return cart, nil
}

func (e *Engine) releaseActive(ctx context.Context, cartID uuid.UUID, reason string) error {
	active, err := e.ledger.ActiveForCart(ctx, cartID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	red, changed, err := e.ledger.Release(ctx, active.ID, reason)
	if err != nil {
		return err
	}
	if changed {
		observability.RedemptionsReleased.WithLabelValues(reason).Inc()
		e.auditRedemption(ctx, "coupon.released", red)
	}
	return nil
}

func (e *Engine) auditRedemption(ctx context.Context, action string, red domain.CouponRedemption) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogRedemption(ctx, action, red); err != nil {
		e.logger.WithError(err).WithField("redemption_id", red.ID.String()).Warn("audit write failed")
	}
}

func (e *Engine) auditCheckout(ctx context.Context, action string, c domain.Checkout) {
	if e.audit == nil {
		return
	}
	if err := e.audit.LogCheckout(ctx, action, c); err != nil {
		e.logger.WithError(err).WithField("checkout_id", c.ID.String()).Warn("audit write failed")
	}
}

func applyResult(err error, alreadyReserved bool) string {
	switch {
	case err == nil && alreadyReserved:
		return "already_reserved"
	case err == nil:
		return "reserved"
	case errors.Is(err, domain.ErrCouponNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrCouponInactive):
		return "inactive"
	case errors.Is(err, domain.ErrCouponNotApplicable):
		return "not_applicable"
	case errors.Is(err, domain.ErrRedemptionLimitReached):
		return "limit_reached"
	case errors.Is(err, domain.ErrCouponAlreadyApplied):
		return "already_applied"
	}
	return "error"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
