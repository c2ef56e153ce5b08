package mongo_test

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	mongoadapter "github.com/robertarktes/ticket-cart-coupons/internal/adapters/mongo"
	"github.com/robertarktes/ticket-cart-coupons/internal/domain"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func setupMongo(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "27017")
	require.NoError(t, err)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+host+":"+port.Port()))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })
	return client.Database("coupons_test")
}

func TestMongoAdapters(t *testing.T) {
	db := setupMongo(t)
	logger := observability.NewDiscardLogger()
	catalog := mongoadapter.NewCatalogRepository(db, logger)
	audit := mongoadapter.NewAuditLogger(db, logger)
	ctx := context.Background()

	t.Run("GetEventSnapshotsPriceAndRemaining", func(t *testing.T) {
		id, category := uuid.New(), uuid.New()
		require.NoError(t, catalog.CreateEvent(ctx, mongoadapter.EventDoc{
			ID:         id.String(),
			Title:      "Harbour Lights",
			Date:       time.Now().Add(24 * time.Hour),
			CategoryID: category.String(),
			Capacity:   5,
			Sold:       2,
			Price:      "19.99",
		}))

		event, err := catalog.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, category, event.CategoryID)
		assert.Equal(t, 3, event.Remaining)
		assert.Equal(t, "19.99", event.UnitPrice.StringFixed(2))
	})

	t.Run("GetEventUnknownIsNotFound", func(t *testing.T) {
		_, err := catalog.GetEvent(ctx, uuid.New())
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})

	t.Run("RecordSaleNeverExceedsCapacity", func(t *testing.T) {
		id := uuid.New()
		require.NoError(t, catalog.CreateEvent(ctx, mongoadapter.EventDoc{ID: id.String(), Title: "Small Room", Capacity: 3, Price: "10"}))

		require.NoError(t, catalog.RecordSale(ctx, id, 2))
		err := catalog.RecordSale(ctx, id, 2)
		assert.True(t, errors.Is(err, domain.ErrCapacityExceeded))

		event, err := catalog.GetEvent(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, event.Remaining)
	})

	t.Run("AuditKeepsRedemptionHistory", func(t *testing.T) {
		red := domain.NewRedemption(uuid.New(), uuid.New(), uuid.New(), time.Now())
		require.NoError(t, audit.LogRedemption(ctx, "coupon.reserved", red))
		require.NoError(t, red.Transition(domain.RedemptionCanceled, time.Now()))
		require.NoError(t, audit.LogRedemption(ctx, "coupon.released", red))

		n, err := db.Collection("audit_logs").CountDocuments(ctx, bson.M{"data.redemption_id": red.ID.String()})
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})
}
