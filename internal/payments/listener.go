// Package payments consumes payment outcomes and settles the matching
// checkout.
package payments

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
)

// Result is the body published by the payment collaborator.
type Result struct {
	CheckoutID uuid.UUID `json:"checkout_id"`
	Status     string    `json:"status"`
}

const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
)

// ParseResult decodes a payment result and reports whether it succeeded.
func ParseResult(body []byte) (Result, bool, error) {
	var r Result
	if err := json.Unmarshal(body, &r); err != nil {
		return Result{}, false, errors.Wrap(domain.ErrInvalidInput, err.Error())
	}
	if r.CheckoutID == uuid.Nil {
		return Result{}, false, errors.Wrap(domain.ErrInvalidInput, "checkout_id is required")
	}
	switch strings.ToUpper(r.Status) {
	case StatusSucceeded, "PAID":
		return r, true, nil
	case StatusFailed, "CANCELED":
		return r, false, nil
	}
	return Result{}, false, errors.Wrapf(domain.ErrInvalidInput, "unknown payment status %q", r.Status)
}

type Handler interface {
	HandlePaymentResult(ctx context.Context, checkoutID uuid.UUID, succeeded bool) (*domain.Checkout, error)
}

// Acknowledger is the subset of amqp.Delivery the listener settles.
type Acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

type Listener struct {
	handler Handler
	logger  observability.Logger
}

func NewListener(handler Handler, logger observability.Logger) *Listener {
	return &Listener{handler: handler, logger: logger}
}

// Run handles deliveries until the channel closes or ctx is done.
func (l *Listener) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("payment results channel closed")
			}
			l.Handle(ctx, d.Body, &d)
		}
	}
}

// Handle settles one delivery. Malformed messages and unknown checkouts
// are dropped; transient failures are requeued.
func (l *Listener) Handle(ctx context.Context, body []byte, ack Acknowledger) {
	res, succeeded, err := ParseResult(body)
	if err != nil {
		l.logger.WithError(err).Warn("dropping malformed payment result")
		l.settle(ack.Nack(false, false))
		return
	}

	log := l.logger.WithField("checkout_id", res.CheckoutID.String())
	c, err := l.handler.HandlePaymentResult(ctx, res.CheckoutID, succeeded)
	switch {
	case err == nil:
		log.WithField("status", string(c.Status)).Info("payment result applied")
		l.settle(ack.Ack(false))
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrInvalidTransition):
		log.WithError(err).Error("payment result cannot be applied")
		l.settle(ack.Nack(false, false))
	default:
		log.WithError(err).Warn("payment result failed, requeueing")
		l.settle(ack.Nack(false, true))
	}
}

func (l *Listener) settle(err error) {
	if err != nil {
		l.logger.WithError(err).Error("failed to settle delivery")
	}
}
