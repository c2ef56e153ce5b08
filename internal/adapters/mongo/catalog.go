package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CatalogRepository reads events from the catalog owned by the browsing
// service. The cart only needs the price and remaining capacity at add time.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID          string    `bson:"_id"`
	Title       string    `bson:"title"`
	Description string    `bson:"description"`
	Venue       string    `bson:"venue"`
	Date        time.Time `bson:"date"`
	CategoryID  string    `bson:"category_id"`
	Capacity    int       `bson:"capacity"`
	Sold        int       `bson:"sold"`
	Price       string    `bson:"price"`
	CreatedAt   time.Time `bson:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at"`
}

func (d EventDoc) toDomain() (domain.Event, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "event id %q", d.ID)
	}
	var category uuid.UUID
	if d.CategoryID != "" {
		if category, err = uuid.Parse(d.CategoryID); err != nil {
			return domain.Event{}, errors.Wrapf(err, "category id %q", d.CategoryID)
		}
	}
	price, err := domain.NewMoney(d.Price)
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "event %s price", d.ID)
	}
	remaining := d.Capacity - d.Sold
	if remaining < 0 {
		remaining = 0
	}
	return domain.Event{
		ID:         id,
		Title:      d.Title,
		Date:       d.Date,
		CategoryID: category,
		Capacity:   d.Capacity,
		Remaining:  remaining,
		UnitPrice:  price,
	}, nil
}

func (c *CatalogRepository) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	var doc EventDoc
	err := c.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Event{}, errors.Wrapf(domain.ErrNotFound, "event %s", id)
	}
	if err != nil {
		c.logger.WithError(err).Error("failed to get event")
		return domain.Event{}, err
	}
	return doc.toDomain()
}

func (c *CatalogRepository) CreateEvent(ctx context.Context, event EventDoc) error {
	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	_, err := c.coll.InsertOne(ctx, event)
	if err != nil {
		c.logger.WithError(err).Error("failed to create event")
		return err
	}
	return nil
}

// RecordSale bumps the sold counter after a paid checkout, never past
// capacity.
func (c *CatalogRepository) RecordSale(ctx context.Context, id uuid.UUID, quantity int) error {
	res, err := c.coll.UpdateOne(
		ctx,
		bson.M{"_id": id.String(), "$expr": bson.M{"$lte": bson.A{bson.M{"$add": bson.A{"$sold", quantity}}, "$capacity"}}},
		bson.M{"$inc": bson.M{"sold": quantity}, "$set": bson.M{"updated_at": time.Now()}},
	)
	if err != nil {
		c.logger.WithError(err).Error("failed to record sale")
		return err
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(domain.ErrCapacityExceeded, "event %s", id)
	}
	return nil
}
