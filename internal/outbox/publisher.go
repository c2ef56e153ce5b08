// Package outbox relays committed domain events from the outbox table to
// the message broker.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/ticket-cart-coupons/internal/adapters/crdb"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
)

type Store interface {
	DispatchOutbox(ctx context.Context, limit int, send func(ctx context.Context, rec crdb.OutboxRecord) error) (int, error)
}

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	store    Store
	broker   Broker
	logger   observability.Logger
	interval time.Duration
	batch    int
}

func NewPublisher(store Store, broker Broker, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	return &Publisher{store: store, broker: broker, logger: logger, interval: interval, batch: batch}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil {
				p.logger.WithError(err).Error("outbox flush failed")
			}
		}
	}
}

// Flush publishes pending records until a batch comes back short or a
// publish fails. Delivery is at least once; consumers dedupe on MessageId.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		var failed bool
		n, err := p.store.DispatchOutbox(ctx, p.batch, func(ctx context.Context, rec crdb.OutboxRecord) error {
			err := p.broker.Publish(ctx, rec.EventType, amqp.Publishing{
				MessageId:   rec.DedupeKey,
				ContentType: "application/json",
				Type:        rec.EventType,
				Timestamp:   rec.CreatedAt,
				Body:        rec.Payload,
			})
			if err != nil {
				failed = true
				p.logger.WithError(err).WithField("event_type", rec.EventType).Warn("outbox publish failed")
				return err
			}
			observability.OutboxLag.Set(time.Since(rec.CreatedAt).Seconds())
			return nil
		})
		total += n
		if err != nil || failed || n < p.batch {
			return total, err
		}
	}
}
