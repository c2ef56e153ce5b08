package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/ticket-cart-coupons/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/ticket-cart-coupons/internal/adapters/mongo"
	"github.com/robertarktes/ticket-cart-coupons/internal/config"
	"github.com/robertarktes/ticket-cart-coupons/internal/expiry"
	"github.com/robertarktes/ticket-cart-coupons/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "coupons-expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)

	worker := expiry.NewWorker(repo, audit, logger, expiry.Options{
		TTL:      cfg.RedemptionTTL,
		Interval: cfg.SweepInterval,
		Batch:    cfg.SweepBatch,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.WithField("ttl", cfg.RedemptionTTL.String()).Info("expiry worker started")
	if err := worker.Run(ctx); err != nil {
		logger.WithError(err).Error("expiry worker stopped with error")
	}
	logger.Info("Shutdown expiry worker")
}
