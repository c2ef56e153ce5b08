package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/ticket-cart-coupons/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/ticket-cart-coupons/internal/adapters/mongo"
	"github.com/robertarktes/ticket-cart-coupons/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/ticket-cart-coupons/internal/adapters/redis"
	"github.com/robertarktes/ticket-cart-coupons/internal/config"
	httphandler "github.com/robertarktes/ticket-cart-coupons/internal/http"
	"github.com/robertarktes/ticket-cart-coupons/internal/idempotency"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
	"github.com/robertarktes/ticket-cart-coupons/internal/payments"
	"github.com/robertarktes/ticket-cart-coupons/internal/rateLimit"
	"github.com/robertarktes/ticket-cart-coupons/internal/redemption"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "coupons-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	crdbRepo := crdb.NewRepository(pool)
	if err := crdbRepo.Migrate(context.Background()); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)
	mongoCatalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	auditLogger := mongoadapter.NewAuditLogger(mongoDB, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	defer redisClient.Close()
	redisCache := redisadapter.NewCache(redisClient, cfg.CouponCacheTTL)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	rl := rateLimit.NewRateLimiter(redisCache)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	consumer, err := rabbit.NewConsumer(rabbitConn, rabbit.PaymentResultsQueue, 16)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	registry := redemption.NewCachedRegistry(crdbRepo, redisCache, logger)
	engine := redemption.NewEngine(redemption.Deps{
		Carts:     crdbRepo,
		Registry:  registry,
		Ledger:    crdbRepo,
		Checkouts: crdbRepo,
		Audit:     auditLogger,
		Sales:     mongoCatalog,
	}, logger)

	handlers := httphandler.NewHandlers(httphandler.Deps{
		Engine:      engine,
		Carts:       crdbRepo,
		Catalog:     mongoCatalog,
		Checkouts:   crdbRepo,
		Coupons:     registry,
		Idempotency: idemp,
		Ready: map[string]httphandler.ReadyCheck{
			"crdb":  crdbRepo.Ping,
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
			"mongo": func(ctx context.Context) error { return mongoClient.Ping(ctx, nil) },
		},
	})

	r := httphandler.SetupRouter(handlers, logger, rl, cfg.ApplyRateLimit)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		deliveries, err := consumer.Consume(gctx)
		if err != nil {
			return errors.Wrap(err, "consume payment results")
		}
		return payments.NewListener(engine, logger).Run(gctx, deliveries)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
