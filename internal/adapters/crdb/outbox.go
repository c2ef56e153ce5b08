package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
)

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED, FAILED
	DedupeKey     string
}

type RedemptionPayload struct {
	RedemptionID uuid.UUID `json:"redemption_id"`
	CouponID     uuid.UUID `json:"coupon_id"`
	CartID       uuid.UUID `json:"cart_id"`
	UserID       uuid.UUID `json:"user_id"`
	Status       string    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
}

type CheckoutPayload struct {
	CheckoutID   uuid.UUID  `json:"checkout_id"`
	CartID       uuid.UUID  `json:"cart_id"`
	UserID       uuid.UUID  `json:"user_id"`
	Status       string     `json:"status"`
	Total        string     `json:"total"`
	Discount     string     `json:"discount"`
	RedemptionID *uuid.UUID `json:"redemption_id,omitempty"`
}

func (r *Repository) InsertOutbox(ctx context.Context, tx pgx.Tx, record OutboxRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, 'NEW', $6)
	`, record.ID, record.AggregateType, record.AggregateID, record.EventType, record.Payload, record.DedupeKey)
	return err
}

// GetUnpublishedOutbox claims up to limit NEW records. It must run inside tx
// so the row locks hold until the records are marked.
func (r *Repository) GetUnpublishedOutbox(ctx context.Context, tx pgx.Tx, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json, created_at, published_at, status, dedupe_key
		FROM outbox WHERE status = 'NEW' ORDER BY created_at ASC LIMIT $1 FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rec OutboxRecord
		err := rows.Scan(&rec.ID, &rec.AggregateType, &rec.AggregateID, &rec.EventType, &rec.Payload, &rec.CreatedAt, &rec.PublishedAt, &rec.Status, &rec.DedupeKey)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, id uuid.UUID, publishedAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1
	`, id, publishedAt)
	return err
}

func (r *Repository) emit(ctx context.Context, tx pgx.Tx, aggregateType string, aggregateID uuid.UUID, eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.InsertOutbox(ctx, tx, OutboxRecord{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       data,
		DedupeKey:     uuid.NewString(),
	})
}

func (r *Repository) emitRedemption(ctx context.Context, tx pgx.Tx, eventType string, red domain.CouponRedemption, reason string) error {
	return r.emit(ctx, tx, "coupon_redemption", red.ID, eventType, RedemptionPayload{
		RedemptionID: red.ID,
		CouponID:     red.CouponID,
		CartID:       red.CartID,
		UserID:       red.UserID,
		Status:       string(red.Status),
		Reason:       reason,
	})
}

// DispatchOutbox claims up to limit NEW records in creation order and hands
// each to send. Records are marked published as they are sent; the first
// send failure ends the batch and the remainder stays NEW for the next run.
func (r *Repository) DispatchOutbox(ctx context.Context, limit int, send func(ctx context.Context, rec OutboxRecord) error) (int, error) {
	var sent int
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		sent = 0
		records, err := r.GetUnpublishedOutbox(ctx, tx, limit)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := send(ctx, rec); err != nil {
				return nil
			}
			if err := r.MarkPublished(ctx, tx, rec.ID, r.now()); err != nil {
				return err
			}
			sent++
		}
		return nil
	})
	return sent, err
}
