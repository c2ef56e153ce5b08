// Package expiry releases coupon reservations whose checkout never
// completed within the reservation TTL.
package expiry

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Ledger is the slice of the redemption ledger the sweep needs.
type Ledger interface {
	ExpiredReservations(ctx context.Context, cutoff time.Time, limit int) ([]domain.CouponRedemption, error)
	ReleaseExpired(ctx context.Context, redemptionID uuid.UUID, cutoff time.Time) (bool, error)
}

type Auditor interface {
	LogRedemption(ctx context.Context, action string, red domain.CouponRedemption) error
}

type Options struct {
	TTL      time.Duration
	Interval time.Duration
	Batch    int
	// Concurrency bounds parallel releases within one batch.
	Concurrency int
}

type Worker struct {
	ledger Ledger
	audit  Auditor
	logger observability.Logger
	opts   Options
	now    func() time.Time
}

func NewWorker(ledger Ledger, audit Auditor, logger observability.Logger, opts Options) *Worker {
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Worker{ledger: ledger, audit: audit, logger: logger, opts: opts, now: time.Now}
}

// Run sweeps every interval until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			released, err := w.Sweep(ctx)
			if err != nil {
				w.logger.WithError(err).Error("expiry sweep failed")
				continue
			}
			if released > 0 {
				w.logger.WithField("released", released).Info("released expired coupon reservations")
			}
		}
	}
}

// Sweep releases expired reservations batch by batch until none are left
// and returns how many it released. Reservations finalized or canceled
// after being listed are skipped.
func (w *Worker) Sweep(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.opts.TTL)
	total := 0
	for {
		expired, err := w.ledger.ExpiredReservations(ctx, cutoff, w.opts.Batch)
		if err != nil {
			return total, err
		}
		if len(expired) == 0 {
			return total, nil
		}

		n, err := w.releaseBatch(ctx, expired, cutoff)
		total += n
		if err != nil {
			return total, err
		}
		if len(expired) < w.opts.Batch || n == 0 {
			return total, nil
		}
	}
}

func (w *Worker) releaseBatch(ctx context.Context, batch []domain.CouponRedemption, cutoff time.Time) (int, error) {
	changed := make([]bool, len(batch))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.Concurrency)
	for i, red := range batch {
		g.Go(func() error {
			ok, err := w.ledger.ReleaseExpired(gctx, red.ID, cutoff)
			if err != nil {
				w.logger.WithError(err).WithField("redemption_id", red.ID.String()).Warn("failed to release expired reservation")
				return err
			}
			changed[i] = ok
			return nil
		})
	}
	err := g.Wait()

	n := 0
	for i, ok := range changed {
		if !ok {
			continue
		}
		n++
		observability.RedemptionsReleased.WithLabelValues("expired").Inc()
		red := batch[i]
		red.Status = domain.RedemptionCanceled
		if w.audit != nil {
			if err := w.audit.LogRedemption(ctx, "coupon.expired", red); err != nil {
				w.logger.WithError(err).WithField("redemption_id", red.ID.String()).Warn("audit write failed")
			}
		}
	}
	return n, err
}
