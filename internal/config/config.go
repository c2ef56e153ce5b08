package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string

	// RedemptionTTL bounds how long a RESERVED coupon redemption may wait for
	// checkout before the sweep releases it.
	RedemptionTTL  time.Duration
	SweepInterval  time.Duration
	SweepBatch     int
	CouponCacheTTL time.Duration
	IdempotencyTTL time.Duration
	ApplyRateLimit int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:       getString("HTTP_ADDR", ":8080"),
		CRDBDSN:        os.Getenv("CRDB_DSN"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        getString("MONGO_DB", "coupons"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RabbitURL:      os.Getenv("RABBIT_URL"),
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		RedemptionTTL:  getDuration("REDEMPTION_TTL", 30*time.Minute),
		SweepInterval:  getDuration("SWEEP_INTERVAL", time.Minute),
		SweepBatch:     getInt("SWEEP_BATCH", 100),
		CouponCacheTTL: getDuration("COUPON_CACHE_TTL", 30*time.Second),
		IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		ApplyRateLimit: getInt("APPLY_RATE_LIMIT", 10),
	}, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return def
	}
	return d
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
