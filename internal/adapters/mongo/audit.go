package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger keeps the redemption history. Records are append-only and
// outlive the carts they refer to.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

type AuditLog struct {
	ID        string    `bson:"_id"`
	Action    string    `bson:"action"`
	UserID    string    `bson:"user_id"`
	Timestamp time.Time `bson:"timestamp"`
	Data      bson.M    `bson:"data"`
}

func (a *AuditLogger) LogEvent(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	log := AuditLog{
		ID:        uuid.NewString(),
		Action:    action,
		UserID:    userID.String(),
		Timestamp: time.Now(),
		Data:      bson.M(data),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.WithError(err).WithField("action", action).Error("failed to insert audit log")
		return err
	}
	return nil
}

func (a *AuditLogger) LogRedemption(ctx context.Context, action string, red domain.CouponRedemption) error {
	data := map[string]interface{}{
		"redemption_id": red.ID.String(),
		"coupon_id":     red.CouponID.String(),
		"cart_id":       red.CartID.String(),
		"status":        string(red.Status),
		"created_at":    red.CreatedAt.Format(time.RFC3339),
	}
	return a.LogEvent(ctx, action, red.UserID, data)
}

func (a *AuditLogger) LogCheckout(ctx context.Context, action string, c domain.Checkout) error {
	data := map[string]interface{}{
		"checkout_id": c.ID.String(),
		"cart_id":     c.CartID.String(),
		"status":      string(c.Status),
		"subtotal":    c.Subtotal.StringFixed(domain.MinorUnits),
		"discount":    c.Discount.StringFixed(domain.MinorUnits),
		"total":       c.Total.StringFixed(domain.MinorUnits),
	}
	if c.RedemptionID != nil {
		data["redemption_id"] = c.RedemptionID.String()
	}
	return a.LogEvent(ctx, action, c.UserID, data)
}
