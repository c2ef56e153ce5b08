package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticket-cart-coupons/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/ticket-cart-coupons/internal/adapters/mongo"
	"github.com/robertarktes/ticket-cart-coupons/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/ticket-cart-coupons/internal/adapters/redis"
	httphandler "github.com/robertarktes/ticket-cart-coupons/internal/http"
	"github.com/robertarktes/ticket-cart-coupons/internal/idempotency"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
	"github.com/robertarktes/ticket-cart-coupons/internal/outbox"
	"github.com/robertarktes/ticket-cart-coupons/internal/payments"
	"github.com/robertarktes/ticket-cart-coupons/internal/rateLimit"
	"github.com/robertarktes/ticket-cart-coupons/internal/redemption"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func startContainer(t *testing.T, ctx context.Context, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return host + ":" + mapped.Port()
}

type client struct {
	t    *testing.T
	base string
}

func (c client) call(method, path string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	c.t.Helper()
	data, err := json.Marshal(body)
	require.NoError(c.t, err)
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(data))
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestIntegration_CouponCheckoutFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test")
	}
	ctx := context.Background()

	crdbAddr := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	}, "26257")
	mongoAddr := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}, "27017")
	redisAddr := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")
	rabbitAddr := startContainer(t, ctx, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForHTTP("/api/health/checks/alarms").WithPort("15672").WithBasicAuth("guest", "guest"),
	}, "5672")

	logger := observability.NewDiscardLogger()

	pool, err := pgxpool.New(ctx, "postgresql://root@"+crdbAddr+"/defaultdb?sslmode=disable")
	require.NoError(t, err)
	defer pool.Close()
	repo := crdb.NewRepository(pool)
	require.NoError(t, repo.Migrate(ctx))

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+mongoAddr))
	require.NoError(t, err)
	defer mongoClient.Disconnect(ctx)
	mongoDB := mongoClient.Database("coupons_it")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	audit := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: redisAddr})
	defer redisClient.Close()
	cache := redisadapter.NewCache(redisClient, time.Minute)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)

	rabbitConn, err := amqp.Dial("amqp://guest:guest@" + rabbitAddr + "/")
	require.NoError(t, err)
	defer rabbitConn.Close()
	publisher, err := rabbit.NewPublisher(rabbitConn)
	require.NoError(t, err)
	consumer, err := rabbit.NewConsumer(rabbitConn, rabbit.PaymentResultsQueue, 4)
	require.NoError(t, err)

	registry := redemption.NewCachedRegistry(repo, cache, logger)
	engine := redemption.NewEngine(redemption.Deps{
		Carts:     repo,
		Registry:  registry,
		Ledger:    repo,
		Checkouts: repo,
		Audit:     audit,
		Sales:     catalog,
	}, logger)

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Engine:      engine,
		Carts:       repo,
		Catalog:     catalog,
		Checkouts:   repo,
		Coupons:     registry,
		Idempotency: idemp,
	})
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rateLimit.NewRateLimiter(cache), 10))
	defer srv.Close()
	api := client{t: t, base: srv.URL}

	listenCtx, stopListener := context.WithCancel(ctx)
	defer stopListener()
	deliveries, err := consumer.Consume(listenCtx)
	require.NoError(t, err)
	go payments.NewListener(engine, logger).Run(listenCtx, deliveries)

	// Seed the catalog and a single-use coupon.
	eventID := uuid.New()
	require.NoError(t, catalog.CreateEvent(ctx, mongoadapter.EventDoc{
		ID:       eventID.String(),
		Title:    "Test Event",
		Date:     time.Now().Add(72 * time.Hour),
		Capacity: 100,
		Price:    "40.00",
	}))
	status, coupon := api.call(http.MethodPut, "/v1/admin/coupons", map[string]interface{}{
		"code": "LAUNCH20", "type": "PERCENT", "value": "20", "max_redemptions": 1,
	}, nil)
	require.Equal(t, http.StatusOK, status, coupon)

	userID := uuid.New()
	cartA, cartB := uuid.New(), uuid.New()
	for _, cart := range []uuid.UUID{cartA, cartB} {
		status, body := api.call(http.MethodPost, "/v1/carts/"+cart.String()+"/items", map[string]interface{}{
			"user_id": userID, "event_id": eventID, "quantity": 2,
		}, nil)
		require.Equal(t, http.StatusCreated, status, body)
	}

	status, quote := api.call(http.MethodPost, "/v1/carts/"+cartA.String()+"/coupon", map[string]interface{}{
		"user_id": userID, "code": "launch20",
	}, nil)
	require.Equal(t, http.StatusCreated, status, quote)
	assert.Equal(t, "80.00", quote["subtotal"])
	assert.Equal(t, "16.00", quote["discount"])
	assert.Equal(t, "64.00", quote["total"])

	status, body := api.call(http.MethodPost, "/v1/carts/"+cartB.String()+"/coupon", map[string]interface{}{
		"user_id": userID, "code": "LAUNCH20",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "redemption_limit_reached", body["error"])

	key := map[string]string{httphandler.IdempotencyHeader: uuid.NewString()}
	status, checkout := api.call(http.MethodPost, "/v1/checkouts", map[string]interface{}{
		"cart_id": cartA, "user_id": userID,
	}, key)
	require.Equal(t, http.StatusAccepted, status, checkout)
	assert.Equal(t, "64.00", checkout["total"])
	checkoutID := checkout["checkout_id"].(string)

	status, replay := api.call(http.MethodPost, "/v1/checkouts", map[string]interface{}{
		"cart_id": cartA, "user_id": userID,
	}, key)
	require.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, checkoutID, replay["checkout_id"])

	// The payment collaborator reports success over RabbitMQ.
	ch, err := rabbitConn.Channel()
	require.NoError(t, err)
	defer ch.Close()
	result, _ := json.Marshal(map[string]string{"checkout_id": checkoutID, "status": "SUCCEEDED"})
	require.NoError(t, ch.PublishWithContext(ctx, "", rabbit.PaymentResultsQueue, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        result,
	}))

	require.Eventually(t, func() bool {
		status, c := api.call(http.MethodGet, "/v1/checkouts/"+checkoutID, nil, nil)
		return status == http.StatusOK && c["status"] == "PAID"
	}, 30*time.Second, 200*time.Millisecond)

	// The paid cart is closed, so clearing it cannot free the spent slot.
	status, _ = api.call(http.MethodGet, "/v1/carts/"+cartA.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = api.call(http.MethodDelete, "/v1/carts/"+cartA.String()+"?user_id="+userID.String(), nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, body = api.call(http.MethodPost, "/v1/carts/"+cartB.String()+"/coupon", map[string]interface{}{
		"user_id": userID, "code": "LAUNCH20",
	}, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "redemption_limit_reached", body["error"])

	event, err := catalog.GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 98, event.Remaining)

	// Committed events reach the exchange through the outbox.
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, "#", rabbit.EventsExchange, false, nil))
	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	require.NoError(t, err)

	sent, err := outbox.NewPublisher(repo, publisher, logger, time.Second, 50).Flush(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, sent, 3)

	seen := map[string]bool{}
	timeout := time.After(10 * time.Second)
	for len(seen) < 3 {
		select {
		case m := <-msgs:
			seen[m.RoutingKey] = true
		case <-timeout:
			t.Fatalf("outbox events not delivered, saw %v", seen)
		}
	}
	assert.True(t, seen["coupon.reserved"])
	assert.True(t, seen["coupon.applied"])
	assert.True(t, seen["checkout.paid"])
}
